package resolver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"musicsquare/model"
)

func TestQualityChain(t *testing.T) {
	tests := []struct {
		preferred model.Quality
		want      string
	}{
		{model.QualityHiRes, "[flac24bit flac 320k 128k]"},
		{model.QualityFlac, "[flac 320k 128k]"},
		{model.Quality128k, "[128k]"},
		{"lossless", "[flac24bit flac 320k 128k]"},
		{"", "[flac24bit flac 320k 128k]"},
	}
	for _, tt := range tests {
		t.Run(string(tt.preferred), func(t *testing.T) {
			if got := fmt.Sprint(QualityChain(tt.preferred)); got != tt.want {
				t.Errorf("QualityChain(%q) = %s, want %s", tt.preferred, got, tt.want)
			}
		})
	}

	chain := QualityChain(model.QualityFlac)
	chain[0] = "mutated"
	if model.Qualities[1] != model.QualityFlac {
		t.Error("QualityChain must not alias the global order")
	}
}

func TestParseEnvelope(t *testing.T) {
	tests := []struct {
		name string
		body string
		kind Kind
		url  string
	}{
		{"nested data", `{"code":0,"data":{"data":[{"url":"n"}]}}`, NestedData, "n"},
		{"single object", `{"code":0,"data":{"url":"s"}}`, SingleObject, "s"},
		{"single object without code", `{"data":{"url":"X"}}`, SingleObject, "X"},
		{"array", `{"code":0,"data":[{"url":"a"},{"url":"b"}]}`, Array, "a"},
		{"songs", `{"code":0,"data":{"songs":[{"url":"g"}]}}`, Songs, "g"},
		{"nested wins over url", `{"code":0,"data":{"url":"s","data":[{"url":"n"}]}}`, NestedData, "n"},
		{"non-zero code", `{"code":-1,"data":{"url":"s"}}`, Unrecognized, ""},
		{"empty array", `{"code":0,"data":[]}`, Unrecognized, ""},
		{"empty songs", `{"code":0,"data":{"songs":[]}}`, Unrecognized, ""},
		{"no data", `{"code":0,"msg":"ok"}`, Unrecognized, ""},
		{"not json", `<html>`, Unrecognized, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := ParseEnvelope([]byte(tt.body))
			if env.Kind != tt.kind {
				t.Fatalf("kind = %s, want %s", env.Kind, tt.kind)
			}
			if got := env.Payload.Get("url").String(); got != tt.url {
				t.Errorf("payload url = %q, want %q", got, tt.url)
			}
		})
	}
}

func TestEnvelopeResolution(t *testing.T) {
	t.Run("lyrics original unwrap", func(t *testing.T) {
		env := ParseEnvelope([]byte(`{"code":0,"data":{"url":"u","lyrics":{"original":"[00:01]hi","translated":"x"}}}`))
		res := env.Resolution(model.Quality320k)
		if res.Lyrics != "[00:01]hi" {
			t.Errorf("lyrics = %q", res.Lyrics)
		}
		if res.ActualQuality != "320k" {
			t.Errorf("actualQuality should fall back to the tier, got %q", res.ActualQuality)
		}
	})

	t.Run("lyric fallback field", func(t *testing.T) {
		env := ParseEnvelope([]byte(`{"data":{"url":"u","lyric":"plain","actualQuality":"flac"}}`))
		res := env.Resolution(model.Quality128k)
		if res.Lyrics != "plain" || res.ActualQuality != "flac" {
			t.Errorf("got %+v", res)
		}
	})
}

// backendServer 模拟解析服务，按档位返回预设响应
type backendServer struct {
	mu        sync.Mutex
	attempts  []string
	responses map[string]string // quality -> body，缺失时返回 500
	apiKeys   []string
}

func (b *backendServer) handler(w http.ResponseWriter, r *http.Request) {
	var req ParseRequest
	_ = json.NewDecoder(r.Body).Decode(&req)
	b.mu.Lock()
	b.attempts = append(b.attempts, req.Quality)
	b.apiKeys = append(b.apiKeys, r.Header.Get("X-API-Key"))
	body, ok := b.responses[req.Quality]
	b.mu.Unlock()
	if !ok {
		http.Error(w, "boom", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprint(w, body)
}

func (b *backendServer) tried() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.attempts...)
}

type prefixRewriter struct{}

func (prefixRewriter) ProxyURL(raw string, _ model.Source) string {
	return "https://edge.test/api/proxy?url=" + url.QueryEscape(raw)
}

func newTestResolver(t *testing.T, b *backendServer, preferred model.Quality) *Resolver {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(b.handler))
	t.Cleanup(srv.Close)
	return New(NewTuneHubBackend(srv.URL, "secret", time.Second), prefixRewriter{}, preferred)
}

func TestResolveFallsBackThroughTiers(t *testing.T) {
	b := &backendServer{responses: map[string]string{"320k": `{"data":{"url":"X"}}`}}
	r := newTestResolver(t, b, model.QualityFlac)

	track := model.NewTrack(model.SourceNetease, "186016", "晴天", "周杰伦", "叶惠美", "", 269)
	got := r.Resolve(context.Background(), track)

	if got != track {
		t.Fatal("Resolve must return the same track")
	}
	if track.URL() != "X" {
		t.Errorf("url = %q, want X", track.URL())
	}
	if track.ActualQuality() != "320k" {
		t.Errorf("actualQuality = %q, want 320k", track.ActualQuality())
	}
	if fmt.Sprint(b.tried()) != "[flac 320k]" {
		t.Errorf("tiers tried = %v", b.tried())
	}
	if b.apiKeys[0] != "secret" {
		t.Errorf("X-API-Key = %q", b.apiKeys[0])
	}
}

func TestResolveExhaustedChain(t *testing.T) {
	b := &backendServer{responses: map[string]string{
		"flac24bit": `{"code":0,"data":[]}`,
		"128k":      `{"code":500,"msg":"no"}`,
	}}
	r := newTestResolver(t, b, model.QualityHiRes)

	track := model.NewTrack(model.SourceQQ, "mid", "t", "a", "al", "cover", 0)
	r.Resolve(context.Background(), track)

	if track.URL() != "" {
		t.Errorf("url = %q, want empty", track.URL())
	}
	if track.Cover() != "cover" {
		t.Error("failed resolution should leave the track unmodified")
	}
	if fmt.Sprint(b.tried()) != "[flac24bit flac 320k 128k]" {
		t.Errorf("each tier should be tried exactly once, got %v", b.tried())
	}
	if _, ok := r.Cached(track); ok {
		t.Error("failures must not be cached")
	}
}

func TestResolveCache(t *testing.T) {
	b := &backendServer{responses: map[string]string{"320k": `{"code":0,"data":{"url":"u1","cover":"c1"}}`}}
	r := newTestResolver(t, b, model.Quality320k)

	first := model.NewTrack(model.SourceNetease, "1", "t", "a", "al", "", 0)
	r.Resolve(context.Background(), first)

	// 搜索结果里的另一个实例，lrc 已有
	second := model.NewTrack(model.SourceNetease, "1", "t", "a", "al", "", 0)
	second.SetLyrics("[00:00]keep")
	r.Resolve(context.Background(), second)

	if len(b.tried()) != 1 {
		t.Errorf("cache hit should not reach the backend, tried %v", b.tried())
	}
	if second.URL() != "u1" || second.Cover() != "c1" || second.Lyrics() != "[00:00]keep" {
		t.Errorf("cached apply = url %q cover %q lrc %q", second.URL(), second.Cover(), second.Lyrics())
	}
}

func TestResolveKuwoCoverProxied(t *testing.T) {
	b := &backendServer{responses: map[string]string{"128k": `{"code":0,"data":{"url":"u","cover":"https://img1.kuwo.cn/a.jpg"}}`}}
	r := newTestResolver(t, b, model.Quality128k)

	track := model.NewTrack(model.SourceKuwo, "42", "t", "a", "al", "", 0)
	r.Resolve(context.Background(), track)

	if !strings.HasPrefix(track.Cover(), "https://edge.test/api/proxy?url=") {
		t.Errorf("kuwo cover not proxied: %q", track.Cover())
	}
}

// countingBackend 统计调用次数，放行前阻塞
type countingBackend struct {
	calls   atomic.Int32
	release chan struct{}
}

func (c *countingBackend) Parse(_ context.Context, _, _ string, _ model.Quality) ([]byte, error) {
	c.calls.Add(1)
	<-c.release
	return []byte(`{"code":0,"data":{"url":"shared"}}`), nil
}

func TestResolveSharesInFlightWalk(t *testing.T) {
	backend := &countingBackend{release: make(chan struct{})}
	r := New(backend, nil, model.Quality320k)

	var wg sync.WaitGroup
	tracks := make([]*model.Track, 4)
	for i := range tracks {
		tracks[i] = model.NewTrack(model.SourceQQ, "same", "t", "a", "al", "", 0)
		wg.Add(1)
		go func(tr *model.Track) {
			defer wg.Done()
			r.Resolve(context.Background(), tr)
		}(tracks[i])
	}
	time.Sleep(50 * time.Millisecond)
	close(backend.release)
	wg.Wait()

	if n := backend.calls.Load(); n != 1 {
		t.Errorf("backend called %d times, want 1", n)
	}
	for _, tr := range tracks {
		if tr.URL() != "shared" {
			t.Errorf("track url = %q", tr.URL())
		}
	}
}

func TestResolveCallerCancellation(t *testing.T) {
	backend := &countingBackend{release: make(chan struct{})}
	defer close(backend.release)
	r := New(backend, nil, model.Quality320k)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	track := model.NewTrack(model.SourceQQ, "x", "t", "a", "al", "", 0)
	r.Resolve(ctx, track)
	if track.URL() != "" {
		t.Error("cancelled caller should get the track back unresolved")
	}
}

func TestFetchLyrics(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing.lrc" {
			http.NotFound(w, r)
			return
		}
		fmt.Fprint(w, "[00:01.00]line")
	}))
	defer srv.Close()

	r := New(&countingBackend{}, nil, model.Quality320k)

	t.Run("plain text unchanged", func(t *testing.T) {
		if got := r.FetchLyrics(context.Background(), "[00:00]x"); got != "[00:00]x" {
			t.Errorf("got %q", got)
		}
	})
	t.Run("remote", func(t *testing.T) {
		if got := r.FetchLyrics(context.Background(), srv.URL+"/a.lrc"); got != "[00:01.00]line" {
			t.Errorf("got %q", got)
		}
	})
	t.Run("remote failure", func(t *testing.T) {
		if got := r.FetchLyrics(context.Background(), srv.URL+"/missing.lrc"); got != "" {
			t.Errorf("got %q", got)
		}
	})
}
