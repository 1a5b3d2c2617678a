package repository

import (
	"context"
	"strconv"
	"testing"

	"musicsquare/model"
)

func TestMemoryHistoryRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryHistoryRepository()

	t.Run("trims to max", func(t *testing.T) {
		h := NewUserHistory(repo, 1)
		for i := 0; i < model.MaxHistory+10; i++ {
			tr := model.NewTrack(model.SourceQQ, strconv.Itoa(i), "t", "a", "", "", 0)
			if err := h.Append(ctx, tr); err != nil {
				t.Fatal(err)
			}
		}
		tracks, err := h.Fetch(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if len(tracks) != model.MaxHistory {
			t.Fatalf("expected %d tracks, got %d", model.MaxHistory, len(tracks))
		}
		if tracks[0].SongID != "10" || tracks[len(tracks)-1].SongID != strconv.Itoa(model.MaxHistory+9) {
			t.Errorf("unexpected order: first %s last %s", tracks[0].SongID, tracks[len(tracks)-1].SongID)
		}
		if tracks[0].UID == "" {
			t.Error("restored track should carry the row id")
		}
	})

	t.Run("users are isolated", func(t *testing.T) {
		other := NewUserHistory(repo, 2)
		tracks, _ := other.Fetch(ctx)
		if len(tracks) != 0 {
			t.Errorf("expected empty history, got %d", len(tracks))
		}
	})

	t.Run("remote lyrics not stored", func(t *testing.T) {
		h := NewUserHistory(repo, 3)
		tr := model.NewTrack(model.SourceNetease, "9", "t", "a", "", "", 0)
		tr.SetLyrics("https://lrc.example/9.lrc")
		tr.SetURL("http://audio/9")
		h.Append(ctx, tr)
		tracks, _ := h.Fetch(ctx)
		if len(tracks) != 1 || tracks[0].Lyrics() != "" || tracks[0].URL() != "" {
			t.Errorf("unexpected restored track %+v", tracks)
		}
	})

	t.Run("clear", func(t *testing.T) {
		repo.Clear(ctx, 1)
		rows, _ := repo.Recent(ctx, 1, 0)
		if len(rows) != 0 {
			t.Errorf("expected cleared history")
		}
	})
}

func TestReverse(t *testing.T) {
	s := []int{1, 2, 3, 4}
	reverse(s)
	if s[0] != 4 || s[3] != 1 {
		t.Errorf("got %v", s)
	}
}
