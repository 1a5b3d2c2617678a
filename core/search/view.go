package search

import (
	"context"
	"sync"
	"sync/atomic"

	"musicsquare/model"
)

// Guard 单调递增的序号，用来丢弃过期的异步结果
type Guard struct {
	seq atomic.Uint64
}

// Next 开始一次新操作，之前发出的序号全部过期
func (g *Guard) Next() uint64 {
	return g.seq.Add(1)
}

// Current 当前序号
func (g *Guard) Current() uint64 {
	return g.seq.Load()
}

// IsCurrent 序号是否仍是最新的
func (g *Guard) IsCurrent(token uint64) bool {
	return g.seq.Load() == token
}

// View 一个客户端的搜索上下文：当前关键词、平台集合、已加载结果和分页位置
type View struct {
	agg   *Aggregator
	guard Guard

	mu          sync.Mutex
	cancel      context.CancelFunc
	query       Query
	results     []*model.Track
	seen        map[string]struct{}
	page        int
	loadingMore bool
}

// NewView 创建搜索上下文
func NewView(agg *Aggregator) *View {
	return &View{agg: agg, seen: map[string]struct{}{}}
}

// NewQuery 发起新搜索并取消上一次仍在进行的搜索。
// 返回 false 表示结果已被更新的搜索取代，调用方应丢弃
func (v *View) NewQuery(ctx context.Context, keyword string, sources []model.Source) ([]*model.Track, bool) {
	v.mu.Lock()
	if v.cancel != nil {
		v.cancel()
	}
	token := v.guard.Next()
	qctx, cancel := context.WithCancel(ctx)
	v.cancel = cancel
	q := Query{Keyword: keyword, Sources: append([]model.Source(nil), sources...), Page: 1, Limit: FreshLimit}
	v.mu.Unlock()

	results := v.agg.Search(qctx, q)
	cancel()

	v.mu.Lock()
	defer v.mu.Unlock()
	if !v.guard.IsCurrent(token) {
		return nil, false
	}
	v.cancel = nil
	v.query = q
	v.seen = make(map[string]struct{}, len(results))
	v.results = Dedup(results, v.seen)
	// 首次拉取 100 条，按每页 20 条折算成已加载的页数
	v.page = (len(v.results) + PageLimit - 1) / PageLimit
	v.loadingMore = false
	return append([]*model.Track(nil), v.results...), true
}

// LoadMore 追加下一页，只返回新增的歌曲。
// 没有进行中的搜索、正在加载或结果已过期时返回 false
func (v *View) LoadMore(ctx context.Context) ([]*model.Track, bool) {
	v.mu.Lock()
	if v.query.Keyword == "" || v.loadingMore {
		v.mu.Unlock()
		return nil, false
	}
	token := v.guard.Current()
	q := v.query
	q.Page = v.page + 1
	q.Limit = PageLimit
	v.loadingMore = true
	v.mu.Unlock()

	results := v.agg.Search(ctx, q)

	v.mu.Lock()
	defer v.mu.Unlock()
	if !v.guard.IsCurrent(token) {
		return nil, false
	}
	v.loadingMore = false
	if ctx.Err() != nil {
		return nil, false
	}
	fresh := Dedup(results, v.seen)
	v.results = append(v.results, fresh...)
	v.page = q.Page
	return fresh, true
}

// Results 当前已加载的全部结果
func (v *View) Results() []*model.Track {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]*model.Track(nil), v.results...)
}

// Page 已加载的页数
func (v *View) Page() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.page
}

// Invalidate 切换视图或平台时调用，进行中的搜索结果将被丢弃
func (v *View) Invalidate() {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.cancel != nil {
		v.cancel()
		v.cancel = nil
	}
	v.guard.Next()
	v.loadingMore = false
}

// ToplistSource 榜单详情来源
type ToplistSource interface {
	ToplistTracks(ctx context.Context, source model.Source, id string) []*model.Track
}

// ChartView 榜单浏览上下文。切换平台或重新加载时，之前的加载结果作废
type ChartView struct {
	toplists ToplistSource
	guard    Guard

	mu     sync.Mutex
	source model.Source
	id     string
	tracks []*model.Track
}

// NewChartView 创建榜单上下文
func NewChartView(src ToplistSource, source model.Source) *ChartView {
	return &ChartView{toplists: src, source: source}
}

// SetSource 切换平台，进行中的加载作废
func (c *ChartView) SetSource(source model.Source) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.source == source {
		return
	}
	c.guard.Next()
	c.source = source
	c.id = ""
	c.tracks = nil
}

// Source 当前平台
func (c *ChartView) Source() model.Source {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.source
}

// Load 加载当前平台的榜单 id。返回 false 表示期间平台或榜单已切换
func (c *ChartView) Load(ctx context.Context, id string) ([]*model.Track, bool) {
	c.mu.Lock()
	token := c.guard.Next()
	source := c.source
	c.mu.Unlock()

	tracks := c.toplists.ToplistTracks(ctx, source, id)

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.guard.IsCurrent(token) || c.source != source {
		return nil, false
	}
	c.id = id
	c.tracks = tracks
	return append([]*model.Track(nil), tracks...), true
}

// Tracks 最近一次成功加载的榜单歌曲
func (c *ChartView) Tracks() []*model.Track {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*model.Track(nil), c.tracks...)
}
