package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"musicsquare/model"
)

// fakeRequester 按 URL 子串返回预设响应
type fakeRequester struct {
	mu       sync.Mutex
	routes   map[string]string
	requests []Request
}

func (f *fakeRequester) Do(_ context.Context, r Request) ([]byte, error) {
	f.mu.Lock()
	f.requests = append(f.requests, r)
	f.mu.Unlock()
	for frag, body := range f.routes {
		if strings.Contains(r.URL, frag) {
			return []byte(body), nil
		}
	}
	return nil, fmt.Errorf("no route for %s", r.URL)
}

type prefixRewriter struct{}

func (prefixRewriter) ProxyURL(raw string, _ model.Source) string {
	return "PROXY:" + raw
}

func TestNeteaseAdapter(t *testing.T) {
	var detailCalls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/search":
			if r.URL.Query().Get("offset") != "20" || r.URL.Query().Get("limit") != "20" {
				t.Errorf("unexpected paging %s", r.URL.RawQuery)
			}
			io.WriteString(w, `{"code":200,"result":{"songs":[
				{"id":186016,"name":"晴天","artists":[{"name":"周杰伦"}],"album":{"name":"叶惠美","picUrl":"https://p1.music.126.net/a.jpg"},"duration":269000},
				{"id":2,"name":"","artists":[],"album":{}}
			]}}`)
		case "/playlist/detail":
			ids := make([]string, 0, 120)
			for i := 1; i <= 120; i++ {
				ids = append(ids, fmt.Sprintf(`{"id":%d}`, i))
			}
			fmt.Fprintf(w, `{"code":200,"playlist":{"name":"测试歌单","trackIds":[%s]}}`, strings.Join(ids, ","))
		case "/song/detail":
			detailCalls++
			ids := strings.Split(r.URL.Query().Get("ids"), ",")
			if len(ids) > neteaseDetailChunk {
				t.Errorf("chunk of %d ids exceeds %d", len(ids), neteaseDetailChunk)
			}
			songs := make([]string, 0, len(ids))
			// reverse order to prove the adapter restores trackIds order
			for i := len(ids) - 1; i >= 0; i-- {
				songs = append(songs, fmt.Sprintf(`{"id":%s,"name":"s%s","ar":[{"name":"a"},{"name":"b"}],"al":{"name":"al","picUrl":"c"},"dt":1000}`, ids[i], ids[i]))
			}
			fmt.Fprintf(w, `{"code":200,"songs":[%s]}`, strings.Join(songs, ","))
		case "/toplist":
			io.WriteString(w, `{"code":200,"list":[{"id":19723756,"name":"飙升榜","coverImgUrl":"c","updateFrequency":"每天更新"}]}`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	a := NewNeteaseAdapter(srv.URL, NewDirectRequester(srv.Client()))
	ctx := context.Background()

	t.Run("search maps fields and defaults", func(t *testing.T) {
		tracks, err := a.Search(ctx, "晴天", 2, 20)
		if err != nil {
			t.Fatal(err)
		}
		if len(tracks) != 2 {
			t.Fatalf("got %d tracks", len(tracks))
		}
		first := tracks[0]
		if first.ID() != "netease-186016" || first.Artist != "周杰伦" || first.Duration != 269 {
			t.Errorf("unexpected first track %+v", first.View())
		}
		second := tracks[1]
		if second.Title != unknownTitle || second.Artist != unknownArtist || second.Album != unknownAlbum {
			t.Errorf("defaults not applied: %+v", second.View())
		}
	})

	t.Run("playlist chunks and keeps order", func(t *testing.T) {
		detailCalls = 0
		chart, err := a.Playlist(ctx, "1")
		if err != nil {
			t.Fatal(err)
		}
		if chart.Name != "测试歌单" || len(chart.Tracks) != 120 {
			t.Fatalf("got %q with %d tracks", chart.Name, len(chart.Tracks))
		}
		if detailCalls != 3 {
			t.Errorf("detail calls = %d, want 3", detailCalls)
		}
		for i, tr := range chart.Tracks {
			if tr.SongID != fmt.Sprint(i+1) {
				t.Fatalf("track %d has id %s", i, tr.SongID)
			}
		}
		if chart.Tracks[0].Artist != "a, b" {
			t.Errorf("artist = %q", chart.Tracks[0].Artist)
		}
	})

	t.Run("toplist detail capped at 100", func(t *testing.T) {
		tracks, err := a.Toplist(ctx, "19723756")
		if err != nil {
			t.Fatal(err)
		}
		if len(tracks) != neteaseToplistLimit {
			t.Errorf("got %d tracks", len(tracks))
		}
	})

	t.Run("toplists", func(t *testing.T) {
		lists, err := a.Toplists(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if len(lists) != 1 || lists[0].ID != "19723756" || lists[0].Source != model.SourceNetease {
			t.Errorf("lists = %+v", lists)
		}
	})
}

func TestNeteaseUnrecognized(t *testing.T) {
	req := &fakeRequester{routes: map[string]string{"/search": `{"code":400,"msg":"bad"}`}}
	a := NewNeteaseAdapter("http://netease", req)
	if _, err := a.Search(context.Background(), "x", 1, 10); !errors.Is(err, ErrUnrecognizedShape) {
		t.Errorf("expected ErrUnrecognizedShape, got %v", err)
	}
}

func TestQQAdapter(t *testing.T) {
	req := &fakeRequester{routes: map[string]string{
		"search_for_qq_cp": `{"code":0,"data":{"song":{"list":[
			{"songmid":"003OUlho2HcRHC","songname":"起风了","singer":[{"name":"买辣椒也用券"}],"albumname":"起风了","albummid":"002xyz","interval":325}
		]}}}`,
		"fcg_ucc_getcdinfo_byids_cp": `{"cdlist":[{"dissname":"我的歌单","songlist":[{"songmid":"m1","songname":"a","singer":[{"name":"x"}],"albummid":""}]}]}`,
	}}
	a := NewQQAdapter(req)
	ctx := context.Background()

	t.Run("search", func(t *testing.T) {
		tracks, err := a.Search(ctx, "起风了", 1, 20)
		if err != nil {
			t.Fatal(err)
		}
		if len(tracks) != 1 {
			t.Fatalf("got %d tracks", len(tracks))
		}
		tr := tracks[0]
		if tr.ID() != "qq-003OUlho2HcRHC" || tr.Duration != 325 {
			t.Errorf("unexpected %+v", tr.View())
		}
		if tr.Cover() != "https://y.gtimg.cn/music/photo_new/T002R300x300M000002xyz.jpg" {
			t.Errorf("cover = %q", tr.Cover())
		}
		if req.requests[0].Header["Referer"] != "https://y.qq.com/" {
			t.Error("qq requests must carry the y.qq.com referer")
		}
	})

	t.Run("playlist", func(t *testing.T) {
		chart, err := a.Playlist(ctx, "3817475436")
		if err != nil {
			t.Fatal(err)
		}
		if chart.Name != "我的歌单" || len(chart.Tracks) != 1 || chart.Tracks[0].Cover() != "" {
			t.Errorf("chart = %+v", chart)
		}
	})
}

func TestQQToplists(t *testing.T) {
	req := &fakeRequester{routes: map[string]string{
		"musicu.fcg": `{"toplist":{"data":{"group":[{"toplist":[
			{"topId":4,"title":"流行指数榜","headPicUrl":"h","updateType":1},
			{"topId":26,"title":"热歌榜","frontPicUrl":"f","updateType":2}
		]}]}}}`,
	}}
	lists, err := NewQQAdapter(req).Toplists(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(lists) != 2 {
		t.Fatalf("got %d lists", len(lists))
	}
	if lists[0].UpdateFrequency != "每日更新" || lists[1].UpdateFrequency != "每周更新" || lists[1].Pic != "f" {
		t.Errorf("lists = %+v", lists)
	}

	var body map[string]any
	raw, _ := json.Marshal(req.requests[0].Body)
	_ = json.Unmarshal(raw, &body)
	if _, ok := body["comm"]; !ok {
		t.Error("musicu request must carry comm")
	}
}

func TestKuwoAdapter(t *testing.T) {
	literal := `jsondata={'abslist':[{'MUSICRID':'MUSIC_228908','SONGNAME':'晴天','ARTIST':'周杰伦&杨瑞代','ALBUM':'叶惠美','DURATION':'269','web_albumpic_short':'120/s3s91/1.jpg'}],'TOTAL':'1'}`
	req := &fakeRequester{routes: map[string]string{
		"searchMusicBykeyWord": literal,
		"pl.svc":               `{"title":"酷我歌单","musiclist":[{"id":"1","name":"a","artist":"b","album":"c","pic":"http://img1.kwcdn.kuwo.cn/star/albumcover/120/1_120.jpg"}]}`,
		"q.k":                  `{"child":[{"source":"1","sourceid":"93","name":"飙升榜","pic":"p"},{"source":"2","sourceid":"x"}]}`,
	}}
	a := NewKuwoAdapter(req, prefixRewriter{})
	ctx := context.Background()

	t.Run("search parses js literal", func(t *testing.T) {
		tracks, err := a.Search(ctx, "晴天", 1, 20)
		if err != nil {
			t.Fatal(err)
		}
		if len(tracks) != 1 {
			t.Fatalf("got %d tracks", len(tracks))
		}
		tr := tracks[0]
		if tr.ID() != "kuwo-228908" || tr.Artist != "周杰伦, 杨瑞代" || tr.Duration != 269 {
			t.Errorf("unexpected %+v", tr.View())
		}
		if tr.Cover() != "PROXY:"+kuwoCoverBase+"120/s3s91/1.jpg" {
			t.Errorf("cover = %q", tr.Cover())
		}
	})

	t.Run("playlist upgrades cover size", func(t *testing.T) {
		chart, err := a.Playlist(ctx, "3026741014")
		if err != nil {
			t.Fatal(err)
		}
		if chart.Name != "酷我歌单" || !strings.HasSuffix(chart.Tracks[0].Cover(), "1_500.jpg") {
			t.Errorf("chart = %+v", chart.Tracks[0].View())
		}
	})

	t.Run("toplists filter source 1", func(t *testing.T) {
		lists, err := a.Toplists(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if len(lists) != 1 || lists[0].ID != "93" || lists[0].UpdateFrequency != "定期更新" {
			t.Errorf("lists = %+v", lists)
		}
	})
}

func TestDecodeKuwoPayload(t *testing.T) {
	t.Run("plain json", func(t *testing.T) {
		res, err := decodeKuwoPayload([]byte(`{"abslist":[]}`))
		if err != nil || !res.Get("abslist").IsArray() {
			t.Errorf("res=%v err=%v", res, err)
		}
	})
	t.Run("garbage", func(t *testing.T) {
		if _, err := decodeKuwoPayload([]byte(`<html>blocked</html>`)); !errors.Is(err, ErrUnrecognizedShape) {
			t.Errorf("expected ErrUnrecognizedShape, got %v", err)
		}
	})
	t.Run("runaway literal is interrupted", func(t *testing.T) {
		if _, err := decodeKuwoPayload([]byte(`{a: (function(){ for(;;){} })()}`)); err == nil {
			t.Error("expected interrupt error")
		}
	})
}

func TestRelayRequester(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/tunehub/request" || r.Method != http.MethodPost {
			http.NotFound(w, r)
			return
		}
		var p relayPayload
		_ = json.NewDecoder(r.Body).Decode(&p)
		switch {
		case strings.Contains(p.URL, "text"):
			io.WriteString(w, `{"success":true,"data":"jsondata={'a':1}"}`)
		case strings.Contains(p.URL, "fail"):
			w.WriteHeader(http.StatusInternalServerError)
			io.WriteString(w, `{"error":"Request proxy failed: boom"}`)
		default:
			fmt.Fprintf(w, `{"success":true,"data":{"method":%q}}`, p.Method)
		}
	}))
	defer srv.Close()

	r := NewRelayRequester(srv.URL+"/api", srv.Client())
	ctx := context.Background()

	t.Run("structured data", func(t *testing.T) {
		body, err := r.Do(ctx, Request{URL: "http://up/json"})
		if err != nil || string(body) != `{"method":"GET"}` {
			t.Errorf("body=%s err=%v", body, err)
		}
	})
	t.Run("text data unwrapped", func(t *testing.T) {
		body, err := r.Do(ctx, Request{URL: "http://up/text"})
		if err != nil || string(body) != `jsondata={'a':1}` {
			t.Errorf("body=%s err=%v", body, err)
		}
	})
	t.Run("relay failure", func(t *testing.T) {
		if _, err := r.Do(ctx, Request{URL: "http://up/fail"}); err == nil {
			t.Error("expected error")
		}
	})
}

func TestRegistry(t *testing.T) {
	req := &fakeRequester{routes: map[string]string{"fcg_ucc_getcdinfo_byids_cp": `{"cdlist":[]}`}}
	reg := NewRegistry(NewQQAdapter(req), NewKuwoAdapter(req, nil))

	if got := reg.Sources(); len(got) != 2 || got[0] != model.SourceQQ || got[1] != model.SourceKuwo {
		t.Errorf("Sources() = %v", got)
	}
	if _, err := reg.Get(model.SourceNetease); !errors.Is(err, ErrUnknownSource) {
		t.Errorf("expected ErrUnknownSource, got %v", err)
	}

	chart := reg.ImportPlaylist(context.Background(), model.PlaylistRef{Source: model.SourceQQ, ID: "1"})
	if chart.Name != model.UnknownChartName || len(chart.Tracks) != 0 {
		t.Errorf("failed import should yield the unknown chart, got %+v", chart)
	}
}
