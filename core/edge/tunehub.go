package edge

import (
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"musicsquare/core/resolver"
	"musicsquare/logger"
	"musicsquare/model"

	"github.com/tidwall/gjson"
)

// TuneHub 把带密钥的 TuneHub 接口转发给不持有密钥的客户端
type TuneHub struct {
	base    string
	apiKey  string
	backend *resolver.HTTPBackend
	client  *http.Client
}

// NewTuneHub base 例如 https://tunehub.sayqz.com/api/v1
func NewTuneHub(base, apiKey string, timeout time.Duration) *TuneHub {
	base = strings.TrimRight(base, "/")
	return &TuneHub{
		base:    base,
		apiKey:  apiKey,
		backend: resolver.NewTuneHubBackend(base, apiKey, timeout),
		client:  &http.Client{Timeout: timeout},
	}
}

// ParseHandler POST /tunehub/parse，quality 缺省为 320k
func (t *TuneHub) ParseHandler(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil || !gjson.ValidBytes(body) {
		writeError(w, "无效的请求", http.StatusBadRequest)
		return
	}
	platform := gjson.GetBytes(body, "platform").String()
	ids := gjson.GetBytes(body, "ids").String()
	if platform == "" || ids == "" {
		writeError(w, "Missing platform or ids", http.StatusBadRequest)
		return
	}
	quality := model.Quality(gjson.GetBytes(body, "quality").String())
	if quality == "" {
		quality = model.Quality320k
	}

	data, err := t.backend.Parse(r.Context(), platform, ids, quality)
	if err != nil {
		logger.Warn("[Edge] tunehub parse failed",
			logger.String("platform", platform),
			logger.String("ids", ids),
			logger.ErrorField(err))
		writeError(w, "TuneHub parse failed: "+err.Error(), http.StatusInternalServerError)
		return
	}
	writeRaw(w, http.StatusOK, data)
}

// MethodsHandler GET /tunehub/methods/*，映射到 TuneHub 的 /methods/*
func (t *TuneHub) MethodsHandler(w http.ResponseWriter, r *http.Request) {
	rest := r.URL.Path
	if i := strings.Index(rest, "/tunehub/methods"); i >= 0 {
		rest = rest[i+len("/tunehub/methods"):]
	}
	target := t.base + "/methods" + rest
	if r.URL.RawQuery != "" {
		target += "?" + r.URL.RawQuery
	}

	req, err := http.NewRequestWithContext(r.Context(), http.MethodGet, target, nil)
	if err != nil {
		writeError(w, "TuneHub methods failed: "+err.Error(), http.StatusInternalServerError)
		return
	}
	if t.apiKey != "" {
		req.Header.Set("X-API-Key", t.apiKey)
	}
	resp, err := t.client.Do(req)
	if err != nil {
		writeError(w, "TuneHub methods failed: "+err.Error(), http.StatusInternalServerError)
		return
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxRelayBody))
	if err != nil || !gjson.ValidBytes(data) {
		writeError(w, fmt.Sprintf("TuneHub methods failed: status %d", resp.StatusCode), http.StatusInternalServerError)
		return
	}
	writeRaw(w, resp.StatusCode, data)
}

func writeRaw(w http.ResponseWriter, status int, data []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(status)
	w.Write(data)
}
