package resolver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"musicsquare/model"
)

// maxEnvelopeBytes 解析服务响应的大小上限
const maxEnvelopeBytes = 4 << 20

// Backend 解析服务，返回原始响应体
type Backend interface {
	Parse(ctx context.Context, platform, ids string, quality model.Quality) ([]byte, error)
}

// ParseRequest /parse 的请求体
type ParseRequest struct {
	Platform string `json:"platform"`
	IDs      string `json:"ids"`
	Quality  string `json:"quality"`
}

// HTTPBackend 通过 HTTP 调用 /parse。
// endpoint 可以是 TuneHub 本身（需要 apiKey），也可以是 edge 的 /tunehub/parse 转发
type HTTPBackend struct {
	endpoint   string
	apiKey     string
	httpClient *http.Client
}

// NewHTTPBackend endpoint 为完整的 parse 地址
func NewHTTPBackend(endpoint, apiKey string, timeout time.Duration) *HTTPBackend {
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &HTTPBackend{
		endpoint:   endpoint,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// NewTuneHubBackend 直连 TuneHub，base 例如 https://tunehub.sayqz.com/api/v1
func NewTuneHubBackend(base, apiKey string, timeout time.Duration) *HTTPBackend {
	return NewHTTPBackend(strings.TrimRight(base, "/")+"/parse", apiKey, timeout)
}

// SetHTTPClient 替换底层 client
func (b *HTTPBackend) SetHTTPClient(c *http.Client) {
	b.httpClient = c
}

// Parse 发送一次解析请求。非 2xx 视为失败
func (b *HTTPBackend) Parse(ctx context.Context, platform, ids string, quality model.Quality) ([]byte, error) {
	payload, err := json.Marshal(ParseRequest{Platform: platform, IDs: ids, Quality: string(quality)})
	if err != nil {
		return nil, fmt.Errorf("编码请求失败: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("创建请求失败: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if b.apiKey != "" {
		req.Header.Set("X-API-Key", b.apiKey)
	}

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("请求失败: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxEnvelopeBytes))
	if err != nil {
		return nil, fmt.Errorf("读取响应失败: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("parse returned status %d", resp.StatusCode)
	}
	return body, nil
}
