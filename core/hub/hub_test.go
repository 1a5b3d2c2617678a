package hub

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"musicsquare/core/player"
	"musicsquare/model"

	"github.com/gorilla/websocket"
)

func recv(t *testing.T, c *Client) *WSMessage {
	t.Helper()
	select {
	case data, ok := <-c.Send:
		if !ok {
			t.Fatal("send channel closed")
		}
		var msg WSMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			t.Fatalf("decode: %v", err)
		}
		return &msg
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for message")
	}
	return nil
}

func TestHubRegister(t *testing.T) {
	h := NewHub()

	t.Run("offline user", func(t *testing.T) {
		if err := h.SendToUser(1, &WSMessage{Type: MsgTypePlay}); err != ErrNotConnected {
			t.Errorf("expected ErrNotConnected, got %v", err)
		}
	})

	first := h.NewClient(1, nil)
	h.Register(first)
	if !h.Connected(1) || h.Count() != 1 {
		t.Fatal("client should be registered")
	}

	t.Run("replaces old connection", func(t *testing.T) {
		second := h.NewClient(1, nil)
		h.Register(second)
		if _, ok := <-first.Send; ok {
			t.Error("old client send channel should be closed")
		}
		if h.Count() != 1 {
			t.Errorf("expected one client, got %d", h.Count())
		}
		// 旧连接的读循环退出时不能把新连接注销
		h.Unregister(first)
		if !h.Connected(1) {
			t.Error("new client should stay registered")
		}
		h.SendToUser(1, &WSMessage{Type: MsgTypePause})
		if msg := recv(t, second); msg.Type != MsgTypePause {
			t.Errorf("unexpected message %s", msg.Type)
		}
		if first.ID == second.ID {
			t.Error("connection ids should differ")
		}
	})

	t.Run("kick", func(t *testing.T) {
		h.Kick(1)
		if h.Connected(1) {
			t.Error("user should be disconnected")
		}
	})
}

func TestRemote(t *testing.T) {
	h := NewHub()
	c := h.NewClient(7, nil)
	h.Register(c)
	r := NewRemote(h, 7)

	tr := model.NewTrack(model.SourceQQ, "abc", "歌", "人", "", "", 200)
	if err := r.Load(tr, "https://edge/a.mp3"); err != nil {
		t.Fatal(err)
	}
	msg := recv(t, c)
	var load LoadData
	json.Unmarshal(msg.Data, &load)
	if msg.Type != MsgTypeLoad || load.URL != "https://edge/a.mp3" || load.Track.ID != "qq-abc" {
		t.Errorf("unexpected load message %+v", load)
	}

	r.Seek(12.5)
	msg = recv(t, c)
	var seek SeekData
	json.Unmarshal(msg.Data, &seek)
	if msg.Type != MsgTypeSeek || seek.Time != 12.5 {
		t.Errorf("unexpected seek %+v", seek)
	}

	r.Notify(player.Notice{Level: player.NoticeWarning, Message: "hi"})
	if msg := recv(t, c); msg.Type != MsgTypeNotice || !strings.Contains(string(msg.Data), "hi") {
		t.Errorf("unexpected notice %s", msg.Data)
	}

	r.LyricsChanged(nil)
	if msg := recv(t, c); msg.Type != MsgTypeLyrics || string(msg.Data) != "[]" {
		t.Errorf("unexpected lyrics %s", msg.Data)
	}

	h.Kick(7)
	if err := r.Play(); err != ErrNotConnected {
		t.Errorf("expected ErrNotConnected after kick, got %v", err)
	}
}

type urlResolver struct{}

func (urlResolver) Resolve(_ context.Context, t *model.Track) *model.Track {
	t.ApplyResolution(model.Resolution{URL: "http://audio/" + t.SongID, Lyrics: "[00:01.00]la"})
	return t
}

func (urlResolver) FetchLyrics(context.Context, string) string { return "" }

type memHistory struct{ tracks []*model.Track }

func (m *memHistory) Append(context.Context, *model.Track) error { return nil }
func (m *memHistory) Fetch(context.Context) ([]*model.Track, error) {
	return m.tracks, nil
}

func TestManagerOverWebsocket(t *testing.T) {
	h := NewHub()
	seeded := &memHistory{tracks: []*model.Track{model.NewTrack(model.SourceNetease, "old", "t", "a", "", "", 0)}}
	m := NewManager(Deps{
		Hub:      h,
		Resolver: urlResolver{},
		History:  func(int64) player.HistoryStore { return seeded },
	})
	defer m.Close()

	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		c := h.NewClient(99, conn)
		h.Register(c)
		m.Acquire(r.Context(), 99)
		go c.WritePump()
		c.ReadPump(context.Background(), m.HandleMessage)
	}))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	send := func(typ MessageType, data any) {
		msg, _ := NewMessage(typ, data)
		if err := conn.WriteJSON(msg); err != nil {
			t.Fatal(err)
		}
	}
	// waitFor 跳过其他推送直到收到指定类型
	waitFor := func(typ MessageType) *WSMessage {
		t.Helper()
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		for {
			var msg WSMessage
			if err := conn.ReadJSON(&msg); err != nil {
				t.Fatalf("waiting for %s: %v", typ, err)
			}
			if msg.Type == typ {
				return &msg
			}
		}
	}

	send(MsgTypePing, nil)
	waitFor(MsgTypePong)

	send(MsgTypeSetQueue, queueData{
		Tracks: []model.TrackView{
			{ID: "netease-1", Title: "一"},
			{ID: "netease-2", Title: "二"},
		},
		StartIndex: 1,
	})
	msg := waitFor(MsgTypeLoad)
	var load LoadData
	json.Unmarshal(msg.Data, &load)
	if load.URL != "http://audio/2" || load.Track.ID != "netease-2" {
		t.Fatalf("unexpected load %+v", load)
	}
	waitFor(MsgTypePlay)

	var snap player.Snapshot
	waitState := func(pred func(player.Snapshot) bool) {
		t.Helper()
		for {
			msg := waitFor(MsgTypeState)
			snap = player.Snapshot{}
			json.Unmarshal(msg.Data, &snap)
			if pred(snap) {
				return
			}
		}
	}

	send(MsgTypeEvent, player.Event{Type: player.EventPlaying})
	waitState(func(s player.Snapshot) bool { return s.State == "playing" })
	if snap.Current == nil || snap.Current.ID != "netease-2" {
		t.Errorf("unexpected snapshot %+v", snap)
	}
	if snap.HistoryDepth != 1 {
		t.Errorf("history should be seeded, depth %d", snap.HistoryDepth)
	}

	send(MsgTypeNext, nil)
	msg = waitFor(MsgTypeLoad)
	json.Unmarshal(msg.Data, &load)
	if load.Track.ID != "netease-1" {
		t.Errorf("expected wrap to first track, got %s", load.Track.ID)
	}

	send(MsgTypeMode, modeData{Mode: "single"})
	waitState(func(s player.Snapshot) bool { return s.Mode == "repeat-one" })

	if !m.Drop(99) {
		t.Error("drop should report an existing session")
	}
	if m.Count() != 0 {
		t.Error("session should be removed")
	}
}

type stubToplists struct{}

func (stubToplists) ToplistTracks(_ context.Context, source model.Source, id string) []*model.Track {
	return []*model.Track{model.NewTrack(source, id+"-1", "榜", "a", "", "", 0)}
}

func TestManagerToplist(t *testing.T) {
	h := NewHub()
	m := NewManager(Deps{Hub: h, Resolver: urlResolver{}, Toplists: stubToplists{}})
	defer m.Close()

	c := h.NewClient(3, nil)
	h.Register(c)

	msg, _ := NewMessage(MsgTypeToplist, toplistData{Source: "kuwo", ID: "93"})
	m.HandleMessage(context.Background(), c, msg)

	for {
		got := recv(t, c)
		if got.Type != MsgTypeChart {
			continue
		}
		var chart ChartData
		json.Unmarshal(got.Data, &chart)
		if chart.Source != model.SourceKuwo || len(chart.Tracks) != 1 || chart.Tracks[0].ID != "kuwo-93-1" {
			t.Errorf("unexpected chart %+v", chart)
		}
		break
	}

	// 从榜单点播时复用榜单里的同一个 Track
	e, _ := m.Get(3)
	if got := m.lookupTracks(e, []model.TrackView{{ID: "kuwo-93-1"}}); got[0] != e.Chart.Tracks()[0] {
		t.Error("queue should reuse chart track pointers")
	}

	t.Run("unknown source", func(t *testing.T) {
		msg, _ := NewMessage(MsgTypeToplist, toplistData{Source: "spotify", ID: "1"})
		m.HandleMessage(context.Background(), c, msg)
		for {
			if got := recv(t, c); got.Type == MsgTypeError {
				return
			}
		}
	})
}
