package edge

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"musicsquare/logger"

	"golang.org/x/time/rate"
)

// maxRelayBody 转发响应的大小上限
const maxRelayBody = 16 << 20

// RelayRequest POST /tunehub/request 的请求体
type RelayRequest struct {
	URL     string            `json:"url"`
	Method  string            `json:"method"`
	Headers map[string]string `json:"headers"`
	Body    json.RawMessage   `json:"body"`
	Params  map[string]any    `json:"params"`
}

// RelayResponse 上游响应。Data 为合法 JSON 时原样嵌入，否则是字符串
type RelayResponse struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
}

// Relay 代替客户端向目标地址发起任意请求
type Relay struct {
	client  *http.Client
	limiter *rate.Limiter
}

// NewRelay perSecond<=0 时不限速
func NewRelay(client *http.Client, perSecond float64, burst int) *Relay {
	limit := rate.Inf
	if perSecond > 0 {
		limit = rate.Limit(perSecond)
	}
	if burst <= 0 {
		burst = 1
	}
	return &Relay{client: client, limiter: rate.NewLimiter(limit, burst)}
}

// BuildURL 把 params 合并进目标地址的查询串，同名参数被覆盖
func BuildURL(target string, params map[string]any) (string, error) {
	if len(params) == 0 {
		return target, nil
	}
	u, err := url.Parse(target)
	if err != nil {
		return "", err
	}
	q := u.Query()
	for k, v := range params {
		q.Set(k, fmt.Sprint(v))
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// relayBody 字符串原样发送，其余按 JSON 发送
func relayBody(raw json.RawMessage) io.Reader {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil
	}
	var s string
	if err := json.Unmarshal(trimmed, &s); err == nil {
		return strings.NewReader(s)
	}
	return bytes.NewReader(trimmed)
}

func (rl *Relay) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !rl.limiter.Allow() {
		writeError(w, "请求过于频繁，请稍后再试", http.StatusTooManyRequests)
		return
	}

	var req RelayRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxRelayBody)).Decode(&req); err != nil {
		writeError(w, "无效的请求", http.StatusBadRequest)
		return
	}
	if req.URL == "" {
		writeError(w, "缺少目标URL", http.StatusBadRequest)
		return
	}

	data, err := rl.forward(r, req)
	if err != nil {
		logger.Warn("[Edge] relay failed", logger.String("url", req.URL), logger.ErrorField(err))
		writeError(w, "Request proxy failed: "+err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, RelayResponse{Success: true, Data: data})
}

func (rl *Relay) forward(r *http.Request, req RelayRequest) (json.RawMessage, error) {
	full, err := BuildURL(req.URL, req.Params)
	if err != nil {
		return nil, err
	}
	method := strings.ToUpper(req.Method)
	if method == "" {
		method = http.MethodGet
	}

	var body io.Reader
	if method == http.MethodPost {
		body = relayBody(req.Body)
	}
	upstream, err := http.NewRequestWithContext(r.Context(), method, full, body)
	if err != nil {
		return nil, err
	}
	upstream.Header.Set("User-Agent", DefaultUserAgent)
	for k, v := range req.Headers {
		upstream.Header.Set(k, v)
	}

	resp, err := rl.client.Do(upstream)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	text, err := io.ReadAll(io.LimitReader(resp.Body, maxRelayBody))
	if err != nil {
		return nil, err
	}
	if json.Valid(text) {
		return json.RawMessage(text), nil
	}
	quoted, err := json.Marshal(string(text))
	if err != nil {
		return nil, err
	}
	return quoted, nil
}
