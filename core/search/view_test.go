package search

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"musicsquare/model"
)

func TestGuard(t *testing.T) {
	var g Guard
	first := g.Next()
	if !g.IsCurrent(first) {
		t.Fatal("fresh token should be current")
	}
	second := g.Next()
	if g.IsCurrent(first) || !g.IsCurrent(second) {
		t.Error("older token should be stale after Next")
	}
	if g.Current() != second {
		t.Errorf("Current = %d, want %d", g.Current(), second)
	}
}

// pagedAdapter 按页返回不同结果
type pagedAdapter struct {
	stubAdapter
	pages map[int][]*model.Track
}

func (p *pagedAdapter) Search(ctx context.Context, kw string, page, limit int) ([]*model.Track, error) {
	_, _ = p.stubAdapter.Search(ctx, kw, page, limit)
	return p.pages[page], nil
}

func TestViewPagination(t *testing.T) {
	first := make([]string, 45)
	for i := range first {
		first[i] = fmt.Sprint(i)
	}
	a := &pagedAdapter{
		stubAdapter: stubAdapter{source: model.SourceNetease},
		pages: map[int][]*model.Track{
			1: makeTracks(model.SourceNetease, first...),
			// 第 4 页和已加载结果有重叠
			4: makeTracks(model.SourceNetease, "44", "100", "101"),
		},
	}
	view := NewView(NewAggregator(newCatalog(a), time.Second))

	got, ok := view.NewQuery(context.Background(), "k", []model.Source{model.SourceNetease})
	if !ok || len(got) != 45 {
		t.Fatalf("NewQuery = %d results, ok=%v", len(got), ok)
	}
	if view.Page() != 3 {
		t.Errorf("page = %d, want ceil(45/20)=3", view.Page())
	}
	if a.lastReq.limit != FreshLimit {
		t.Errorf("fresh search limit = %d, want %d", a.lastReq.limit, FreshLimit)
	}

	more, ok := view.LoadMore(context.Background())
	if !ok {
		t.Fatal("LoadMore rejected")
	}
	if a.lastReq.page != 4 || a.lastReq.limit != PageLimit {
		t.Errorf("LoadMore requested page %d limit %d", a.lastReq.page, a.lastReq.limit)
	}
	if fmt.Sprint(ids(more)) != fmt.Sprint([]string{"netease-100", "netease-101"}) {
		t.Errorf("appended %v", ids(more))
	}
	if len(view.Results()) != 47 || view.Page() != 4 {
		t.Errorf("results=%d page=%d", len(view.Results()), view.Page())
	}
}

func TestViewLoadMoreWithoutQuery(t *testing.T) {
	view := NewView(NewAggregator(newCatalog(), time.Second))
	if _, ok := view.LoadMore(context.Background()); ok {
		t.Error("LoadMore without a query should be rejected")
	}
}

// gatedAdapter 关键词为 "slow" 时阻塞直到 gate 关闭，忽略 ctx
type gatedAdapter struct {
	stubAdapter
	gate    chan struct{}
	started chan struct{}
	once    sync.Once
}

func (g *gatedAdapter) Search(_ context.Context, kw string, _, _ int) ([]*model.Track, error) {
	if kw == "slow" {
		g.once.Do(func() { close(g.started) })
		<-g.gate
		return makeTracks(g.source, "old"), nil
	}
	return makeTracks(g.source, "new"), nil
}

func TestViewSupersededQuery(t *testing.T) {
	a := &gatedAdapter{
		stubAdapter: stubAdapter{source: model.SourceQQ},
		gate:        make(chan struct{}),
		started:     make(chan struct{}),
	}
	view := NewView(NewAggregator(newCatalog(a), time.Second))

	type outcome struct {
		tracks []*model.Track
		ok     bool
	}
	slow := make(chan outcome, 1)
	go func() {
		tracks, ok := view.NewQuery(context.Background(), "slow", []model.Source{model.SourceQQ})
		slow <- outcome{tracks, ok}
	}()
	<-a.started

	got, ok := view.NewQuery(context.Background(), "fast", []model.Source{model.SourceQQ})
	if !ok || fmt.Sprint(ids(got)) != "[qq-new]" {
		t.Fatalf("second query = %v ok=%v", ids(got), ok)
	}
	close(a.gate)

	res := <-slow
	if res.ok {
		t.Errorf("superseded query should be discarded, got %v", ids(res.tracks))
	}
	if fmt.Sprint(ids(view.Results())) != "[qq-new]" {
		t.Errorf("view results overwritten: %v", ids(view.Results()))
	}
}

func TestViewInvalidate(t *testing.T) {
	a := &gatedAdapter{
		stubAdapter: stubAdapter{source: model.SourceKuwo},
		gate:        make(chan struct{}),
		started:     make(chan struct{}),
	}
	view := NewView(NewAggregator(newCatalog(a), time.Second))

	done := make(chan bool, 1)
	go func() {
		_, ok := view.NewQuery(context.Background(), "slow", []model.Source{model.SourceKuwo})
		done <- ok
	}()
	<-a.started
	view.Invalidate()
	close(a.gate)

	if <-done {
		t.Error("invalidated query should be discarded")
	}
}

// chartStub 榜单来源，可以在返回前阻塞
type chartStub struct {
	gate    chan struct{}
	started chan struct{}
}

func (c *chartStub) ToplistTracks(_ context.Context, source model.Source, id string) []*model.Track {
	if c.gate != nil {
		close(c.started)
		<-c.gate
	}
	return makeTracks(source, id)
}

func TestChartView(t *testing.T) {
	t.Run("load", func(t *testing.T) {
		cv := NewChartView(&chartStub{}, model.SourceNetease)
		got, ok := cv.Load(context.Background(), "3778678")
		if !ok || fmt.Sprint(ids(got)) != "[netease-3778678]" {
			t.Errorf("Load = %v ok=%v", ids(got), ok)
		}
	})

	t.Run("source switch discards in-flight load", func(t *testing.T) {
		src := &chartStub{gate: make(chan struct{}), started: make(chan struct{})}
		cv := NewChartView(src, model.SourceNetease)

		done := make(chan bool, 1)
		go func() {
			_, ok := cv.Load(context.Background(), "1")
			done <- ok
		}()
		<-src.started
		cv.SetSource(model.SourceQQ)
		close(src.gate)

		if <-done {
			t.Error("load for the previous source should be discarded")
		}
		if cv.Source() != model.SourceQQ {
			t.Errorf("source = %s", cv.Source())
		}
	})
}
