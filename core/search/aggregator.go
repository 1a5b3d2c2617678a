package search

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"musicsquare/cache"
	"musicsquare/core/catalog"
	"musicsquare/logger"
	"musicsquare/model"

	"golang.org/x/sync/errgroup"
)

const (
	// DefaultSourceTimeout 单个平台的超时
	DefaultSourceTimeout = 15 * time.Second
	// CacheSize 搜索缓存条数
	CacheSize = 100
	// FreshLimit 新搜索一次拉取的条数
	FreshLimit = 100
	// PageLimit 翻页时每页条数
	PageLimit = 20
)

// Catalog 按平台取适配器
type Catalog interface {
	Get(source model.Source) (catalog.Adapter, error)
}

// Query 一次聚合搜索
type Query struct {
	Keyword string
	Sources []model.Source // 顺序即优先级
	Page    int            // 从 1 开始
	Limit   int
}

// Key 缓存键：平台签名|关键词|页码|条数
func (q Query) Key() string {
	names := make([]string, len(q.Sources))
	for i, s := range q.Sources {
		names[i] = string(s)
	}
	return fmt.Sprintf("%s|%s|%d|%d", strings.Join(names, ","), q.Keyword, q.Page, q.Limit)
}

func (q Query) normalized() Query {
	q.Keyword = strings.TrimSpace(q.Keyword)
	if q.Page < 1 {
		q.Page = 1
	}
	if q.Limit <= 0 {
		q.Limit = PageLimit
	}
	seen := make(map[model.Source]struct{}, len(q.Sources))
	sources := make([]model.Source, 0, len(q.Sources))
	for _, s := range q.Sources {
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		sources = append(sources, s)
	}
	q.Sources = sources
	return q
}

// Aggregator 并发查询多个平台并合并结果
type Aggregator struct {
	catalog Catalog
	cache   *cache.FIFO[string, []*model.Track]
	timeout time.Duration
}

// NewAggregator timeout<=0 时使用 DefaultSourceTimeout
func NewAggregator(c Catalog, timeout time.Duration) *Aggregator {
	if timeout <= 0 {
		timeout = DefaultSourceTimeout
	}
	return &Aggregator{
		catalog: c,
		cache:   cache.NewFIFO[string, []*model.Track](CacheSize),
		timeout: timeout,
	}
}

// sourceResult 单个平台的结果，ok=false 表示超时或出错
type sourceResult struct {
	tracks []*model.Track
	ok     bool
}

// Search 聚合搜索。失败的平台贡献空结果；ctx 被取消时返回空结果，不视为错误
func (a *Aggregator) Search(ctx context.Context, q Query) []*model.Track {
	q = q.normalized()
	if q.Keyword == "" || len(q.Sources) == 0 {
		return []*model.Track{}
	}

	key := q.Key()
	if cached, ok := a.cache.Get(key); ok {
		logger.Debug("[Aggregator] cache hit", logger.String("key", key))
		return append([]*model.Track(nil), cached...)
	}

	results := make([]sourceResult, len(q.Sources))
	var g errgroup.Group
	for i, source := range q.Sources {
		i, source := i, source
		g.Go(func() error {
			results[i] = a.searchOne(ctx, source, q)
			return nil
		})
	}
	_ = g.Wait()

	if ctx.Err() != nil {
		logger.Debug("[Aggregator] search cancelled", logger.String("keyword", q.Keyword))
		return []*model.Track{}
	}

	lists := make([][]*model.Track, len(results))
	anyOK := false
	for i, r := range results {
		lists[i] = r.tracks
		anyOK = anyOK || r.ok
	}

	var merged []*model.Track
	if len(lists) == 1 {
		merged = lists[0]
	} else {
		merged = Interleave(lists)
	}
	merged = Dedup(merged, nil)

	// 全部平台都失败得到的空结果不缓存；平台正常返回的空结果照常缓存
	if anyOK {
		a.cache.Add(key, append([]*model.Track(nil), merged...))
	}
	return merged
}

// searchOne 带独立超时调用一个平台。超时只是不再等待，底层请求不会被取消；
// 整体取消通过 ctx 传递给适配器
func (a *Aggregator) searchOne(ctx context.Context, source model.Source, q Query) sourceResult {
	adapter, err := a.catalog.Get(source)
	if err != nil {
		logger.Warn("[Aggregator] source not available", logger.String("source", string(source)))
		return sourceResult{}
	}

	done := make(chan sourceResult, 1)
	start := time.Now()
	go func() {
		tracks, err := adapter.Search(ctx, q.Keyword, q.Page, q.Limit)
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				logger.Warn("[Aggregator] source search failed",
					logger.String("source", string(source)),
					logger.String("keyword", q.Keyword),
					logger.ErrorField(err))
			}
			done <- sourceResult{}
			return
		}
		done <- sourceResult{tracks: tracks, ok: true}
	}()

	timer := time.NewTimer(a.timeout)
	defer timer.Stop()

	select {
	case r := <-done:
		return r
	case <-timer.C:
		logger.Warn("[Aggregator] source timed out",
			logger.String("source", string(source)),
			logger.Duration("elapsed", time.Since(start)))
		return sourceResult{}
	case <-ctx.Done():
		return sourceResult{}
	}
}

// Interleave 轮流从每个列表取同一下标的元素，第一个元素总是来自第一个列表
func Interleave(lists [][]*model.Track) []*model.Track {
	maxLen, total := 0, 0
	for _, l := range lists {
		total += len(l)
		if len(l) > maxLen {
			maxLen = len(l)
		}
	}
	merged := make([]*model.Track, 0, total)
	for i := 0; i < maxLen; i++ {
		for _, l := range lists {
			if i < len(l) {
				merged = append(merged, l[i])
			}
		}
	}
	return merged
}

// Dedup 按 ID 去重并保持顺序。seen 非空时作为已出现集合，并被就地更新
func Dedup(tracks []*model.Track, seen map[string]struct{}) []*model.Track {
	if seen == nil {
		seen = make(map[string]struct{}, len(tracks))
	}
	out := make([]*model.Track, 0, len(tracks))
	for _, t := range tracks {
		if t == nil {
			continue
		}
		id := t.ID()
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, t)
	}
	return out
}

// SearchSource 单平台第一页，供播放会话兜底重搜
func (a *Aggregator) SearchSource(ctx context.Context, keyword string, source model.Source, limit int) []*model.Track {
	return a.Search(ctx, Query{Keyword: keyword, Sources: []model.Source{source}, Page: 1, Limit: limit})
}
