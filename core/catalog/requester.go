package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"
)

// DefaultUserAgent 上游默认 UA
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"

const maxUpstreamBody = 16 << 20

// Request 一次上游请求
type Request struct {
	Method string
	URL    string
	Header map[string]string
	Body   any // string 原样发送，其余编码为 JSON
}

// Requester 执行上游请求并返回响应体
type Requester interface {
	Do(ctx context.Context, req Request) ([]byte, error)
}

// DirectRequester 直接访问上游
type DirectRequester struct {
	client *http.Client
}

// NewDirectRequester client 为 nil 时使用 http.DefaultClient
func NewDirectRequester(client *http.Client) *DirectRequester {
	if client == nil {
		client = http.DefaultClient
	}
	return &DirectRequester{client: client}
}

func encodeBody(body any) (io.Reader, string, error) {
	switch b := body.(type) {
	case nil:
		return nil, "", nil
	case string:
		return strings.NewReader(b), "", nil
	case []byte:
		return bytes.NewReader(b), "", nil
	default:
		data, err := json.Marshal(b)
		if err != nil {
			return nil, "", fmt.Errorf("failed to encode request body: %w", err)
		}
		return bytes.NewReader(data), "application/json", nil
	}
}

func (d *DirectRequester) Do(ctx context.Context, r Request) ([]byte, error) {
	method := r.Method
	if method == "" {
		method = http.MethodGet
	}
	var body io.Reader
	contentType := ""
	if method == http.MethodPost {
		var err error
		body, contentType, err = encodeBody(r.Body)
		if err != nil {
			return nil, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, r.URL, body)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("User-Agent", DefaultUserAgent)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	for k, v := range r.Header {
		req.Header.Set(k, v)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request %s failed: %w", r.URL, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxUpstreamBody))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("upstream %s returned %d", r.URL, resp.StatusCode)
	}
	return data, nil
}

// RelayRequester 经由另一个 edge 的 /tunehub/request 转发请求
type RelayRequester struct {
	endpoint string
	direct   *DirectRequester
}

// NewRelayRequester base 为 edge 的 /api 地址
func NewRelayRequester(base string, client *http.Client) *RelayRequester {
	return &RelayRequester{
		endpoint: strings.TrimRight(base, "/") + "/tunehub/request",
		direct:   NewDirectRequester(client),
	}
}

type relayPayload struct {
	URL     string            `json:"url"`
	Method  string            `json:"method"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    any               `json:"body,omitempty"`
}

// Do 发送 {url, method, headers, body}，解开 {success, data} 外壳。
// data 是字符串时返回字符串内容本身，否则返回原始 JSON
func (r *RelayRequester) Do(ctx context.Context, req Request) ([]byte, error) {
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	raw, err := r.direct.Do(ctx, Request{
		Method: http.MethodPost,
		URL:    r.endpoint,
		Body: relayPayload{
			URL:     req.URL,
			Method:  method,
			Headers: req.Header,
			Body:    req.Body,
		},
	})
	if err != nil {
		return nil, err
	}

	if !gjson.GetBytes(raw, "success").Bool() {
		return nil, fmt.Errorf("relay failed: %s", gjson.GetBytes(raw, "error").String())
	}
	data := gjson.GetBytes(raw, "data")
	if !data.Exists() {
		return nil, ErrUnrecognizedShape
	}
	if data.Type == gjson.String {
		return []byte(data.Str), nil
	}
	return []byte(data.Raw), nil
}
