package resolver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"musicsquare/cache"
	"musicsquare/logger"
	"musicsquare/model"

	"golang.org/x/sync/singleflight"
)

// URLCacheSize 已解析地址的缓存条数
const URLCacheSize = 200

// maxLyricsBytes 歌词文本上限
const maxLyricsBytes = 1 << 20

// ErrUnresolved 整条档位链都没有拿到可识别的响应
var ErrUnresolved = errors.New("no playable url")

// QualityChain 从 preferred 开始按全局顺序向下的档位列表；未知档位返回完整列表
func QualityChain(preferred model.Quality) []model.Quality {
	for i, q := range model.Qualities {
		if q == preferred {
			return append([]model.Quality(nil), model.Qualities[i:]...)
		}
	}
	return append([]model.Quality(nil), model.Qualities...)
}

// URLRewriter 需要经过 edge 的地址改写
type URLRewriter interface {
	ProxyURL(raw string, source model.Source) string
}

// Resolver 把歌曲引用解析成可播放地址
type Resolver struct {
	backend   Backend
	rewriter  URLRewriter
	preferred model.Quality
	cache     *cache.FIFO[string, model.Resolution]
	group     singleflight.Group
	lyrics    *http.Client
}

// New rewriter 可为 nil
func New(backend Backend, rewriter URLRewriter, preferred model.Quality) *Resolver {
	return &Resolver{
		backend:   backend,
		rewriter:  rewriter,
		preferred: preferred,
		cache:     cache.NewFIFO[string, model.Resolution](URLCacheSize),
		lyrics:    &http.Client{Timeout: 10 * time.Second},
	}
}

// Preferred 当前偏好档位
func (r *Resolver) Preferred() model.Quality {
	return r.preferred
}

// Resolve 就地补全 url/cover/lrc 并返回同一个 track。失败时 url 保持为空，不返回错误，
// 由调用方根据 URL() 判断
func (r *Resolver) Resolve(ctx context.Context, t *model.Track) *model.Track {
	if t == nil || t.SongID == "" {
		return t
	}
	key := t.ID()
	if cached, ok := r.cache.Get(key); ok {
		t.ApplyResolution(cached)
		return t
	}

	// 同一首歌的预取和加载共用一次档位链，链本身不随某个调用方取消
	ch := r.group.DoChan(key, func() (any, error) {
		return r.walk(context.WithoutCancel(ctx), t)
	})

	select {
	case <-ctx.Done():
		return t
	case res := <-ch:
		if res.Err != nil {
			logger.Warn("[Resolver] resolve failed",
				logger.String("track", key),
				logger.String("title", t.Title),
				logger.ErrorField(res.Err))
			return t
		}
		t.ApplyResolution(res.Val.(model.Resolution))
		return t
	}
}

// walk 依次尝试每个档位，第一个可识别的响应结束整条链
func (r *Resolver) walk(ctx context.Context, t *model.Track) (model.Resolution, error) {
	key := t.ID()
	chain := QualityChain(r.preferred)
	for _, tier := range chain {
		body, err := r.backend.Parse(ctx, string(t.Source), t.SongID, tier)
		if err != nil {
			logger.Debug("[Resolver] tier failed",
				logger.String("track", key),
				logger.String("quality", string(tier)),
				logger.ErrorField(err))
			continue
		}
		env := ParseEnvelope(body)
		if env.Kind == Unrecognized {
			logger.Debug("[Resolver] tier returned unrecognized envelope",
				logger.String("track", key),
				logger.String("quality", string(tier)))
			continue
		}

		res := env.Resolution(tier)
		if res.Cover != "" && t.Source == model.SourceKuwo && r.rewriter != nil {
			res.Cover = r.rewriter.ProxyURL(res.Cover, model.SourceKuwo)
		}
		if res.URL == "" {
			return model.Resolution{}, fmt.Errorf("%w: %s envelope at %s has empty url", ErrUnresolved, env.Kind, tier)
		}
		r.cache.Add(key, res)
		logger.Info("[Resolver] resolved",
			logger.String("track", key),
			logger.String("quality", res.ActualQuality),
			logger.String("shape", env.Kind.String()))
		return res, nil
	}
	return model.Resolution{}, fmt.Errorf("%w: tried %d tiers", ErrUnresolved, len(chain))
}

// Cached 缓存中的解析结果
func (r *Resolver) Cached(t *model.Track) (model.Resolution, bool) {
	return r.cache.Get(t.ID())
}

// FetchLyrics lrc 为 http(s) 地址时经 edge 代理抓取文本，否则原样返回。失败返回空串
func (r *Resolver) FetchLyrics(ctx context.Context, lrc string) string {
	if !model.IsRemoteLyrics(lrc) {
		return lrc
	}
	target := lrc
	if r.rewriter != nil {
		target = r.rewriter.ProxyURL(lrc, "")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return ""
	}
	resp, err := r.lyrics.Do(req)
	if err != nil {
		logger.Warn("[Resolver] lyrics fetch failed", logger.String("url", lrc), logger.ErrorField(err))
		return ""
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		logger.Warn("[Resolver] lyrics fetch failed", logger.String("url", lrc), logger.Int("status", resp.StatusCode))
		return ""
	}
	text, err := io.ReadAll(io.LimitReader(resp.Body, maxLyricsBytes))
	if err != nil {
		return ""
	}
	return string(text)
}
