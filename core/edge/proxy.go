package edge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"musicsquare/cache"
	"musicsquare/logger"
)

// ErrMissingTarget 请求没有带 url 参数
var ErrMissingTarget = errors.New("missing target url")

// Cache edge 响应缓存
type Cache interface {
	Get(ctx context.Context, key string) (*cache.EdgeEntry, error)
	Put(ctx context.Context, key string, entry *cache.EdgeEntry, ttl time.Duration) error
}

// hopHeaders 不转发也不缓存的头
var hopHeaders = []string{
	"Connection", "Keep-Alive", "Proxy-Authenticate", "Proxy-Authorization",
	"Te", "Trailer", "Transfer-Encoding", "Upgrade", "Set-Cookie",
}

// Proxy GET /proxy?url=，给浏览器拿不到的音频、封面和歌词加上跨域头并缓存
type Proxy struct {
	client  *http.Client
	cache   Cache
	ttl     time.Duration
	maxBody int64
}

// NewProxy store 为 nil 时不缓存；maxBody<=0 时不限制可缓存的响应体大小
func NewProxy(client *http.Client, store Cache, ttl time.Duration, maxBody int64) *Proxy {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Proxy{client: client, cache: store, ttl: ttl, maxBody: maxBody}
}

// targetURL 取出并校验目标地址
func targetURL(r *http.Request) (*url.URL, error) {
	raw := r.URL.Query().Get("url")
	if raw == "" {
		return nil, ErrMissingTarget
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("invalid target url %q", raw)
	}
	return u, nil
}

func copyHeader(dst, src http.Header) {
	for k, vv := range src {
		for _, v := range vv {
			dst.Add(k, v)
		}
	}
	for _, h := range hopHeaders {
		dst.Del(h)
	}
}

func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	target, err := targetURL(r)
	if err != nil {
		if errors.Is(err, ErrMissingTarget) {
			writeError(w, "缺少目标URL", http.StatusBadRequest)
			return
		}
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	// 缓存键是完整的请求地址
	key := r.URL.RequestURI()
	if p.cache != nil {
		entry, err := p.cache.Get(r.Context(), key)
		if err == nil {
			p.serveEntry(w, entry)
			return
		}
		if !errors.Is(err, cache.ErrMiss) {
			logger.Warn("[Edge] cache read failed, treating as miss", logger.String("key", key), logger.ErrorField(err))
		}
	}

	req, err := http.NewRequestWithContext(r.Context(), http.MethodGet, target.String(), nil)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	ua := r.Header.Get("User-Agent")
	if ua == "" {
		ua = randomUserAgent()
	}
	req.Header.Set("User-Agent", ua)
	req.Header.Set("Referer", Origin(target.String()))

	resp, err := p.client.Do(req)
	if err != nil {
		if r.Context().Err() == nil {
			logger.Warn("[Edge] upstream fetch failed", logger.String("url", target.String()), logger.ErrorField(err))
		}
		writeError(w, "Proxy failed: "+err.Error(), http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()

	h := w.Header()
	copyHeader(h, resp.Header)
	h.Set("Access-Control-Allow-Origin", "*")

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		w.WriteHeader(resp.StatusCode)
		io.Copy(w, resp.Body)
		return
	}

	h.Set("Access-Control-Allow-Methods", "GET, OPTIONS")
	h.Set("Cache-Control", fmt.Sprintf("public, max-age=%d", int(p.ttl.Seconds())))
	h.Set("X-Cache", "MISS")
	w.WriteHeader(resp.StatusCode)

	capture := p.cache != nil && (p.maxBody <= 0 || resp.ContentLength <= p.maxBody)
	if !capture {
		io.Copy(w, resp.Body)
		return
	}

	buf := &cappedBuffer{max: p.maxBody}
	if _, err := io.Copy(w, io.TeeReader(resp.Body, buf)); err != nil {
		// 客户端中途断开或上游出错，响应不完整，不缓存
		return
	}
	if buf.overflow {
		return
	}

	stored := make(http.Header, len(resp.Header))
	copyHeader(stored, resp.Header)
	stored.Set("Cache-Control", h.Get("Cache-Control"))
	entry := &cache.EdgeEntry{
		Status:   resp.StatusCode,
		Header:   stored,
		Body:     buf.Bytes(),
		StoredAt: time.Now(),
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), 10*time.Second)
	defer cancel()
	if err := p.cache.Put(ctx, key, entry, p.ttl); err != nil {
		logger.Warn("[Edge] cache write failed", logger.String("key", key), logger.ErrorField(err))
	}
}

func (p *Proxy) serveEntry(w http.ResponseWriter, entry *cache.EdgeEntry) {
	h := w.Header()
	copyHeader(h, entry.Header)
	h.Set("Access-Control-Allow-Origin", "*")
	h.Set("X-Cache", "HIT")
	h.Set("Content-Length", fmt.Sprint(len(entry.Body)))
	w.WriteHeader(entry.Status)
	w.Write(entry.Body)
}

// cappedBuffer 超过 max 后停止收集，但不影响 TeeReader 继续转发
type cappedBuffer struct {
	bytes.Buffer
	max      int64
	overflow bool
}

func (c *cappedBuffer) Write(p []byte) (int, error) {
	if c.overflow {
		return len(p), nil
	}
	if c.max > 0 && int64(c.Len()+len(p)) > c.max {
		c.overflow = true
		c.Reset()
		return len(p), nil
	}
	return c.Buffer.Write(p)
}

// writeJSON 写出 JSON 响应并带上跨域头
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError {"error": msg}
func writeError(w http.ResponseWriter, msg string, status int) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// Origin scheme://host，host 为空时返回空串
func Origin(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return ""
	}
	return strings.ToLower(u.Scheme) + "://" + u.Host
}
