package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"musicsquare/core/catalog"
	"musicsquare/core/search"
	"musicsquare/logger"
	"musicsquare/model"

	"github.com/gorilla/mux"
	"github.com/samber/lo"
)

// writeJSON 写 JSON 响应
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warn("[Server] encode response failed", logger.ErrorField(err))
	}
}

// writeError {"error": msg}
func writeError(w http.ResponseWriter, msg string, status int) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func trackViews(tracks []*model.Track) []model.TrackView {
	return lo.Map(tracks, func(t *model.Track, _ int) model.TrackView { return t.View() })
}

// parseSourceList "netease,qq" -> 平台列表，忽略未知平台；为空时查全部
func parseSourceList(raw string) []model.Source {
	var sources []model.Source
	for _, name := range strings.Split(raw, ",") {
		if s, ok := model.ParseSource(strings.TrimSpace(name)); ok {
			sources = append(sources, s)
		}
	}
	if len(sources) == 0 {
		sources = append(sources, model.AllSources...)
	}
	return sources
}

func queryInt(r *http.Request, key string, def int) int {
	if v, err := strconv.Atoi(r.URL.Query().Get(key)); err == nil && v > 0 {
		return v
	}
	return def
}

// SearchHandler GET /api/search?keyword=&sources=&page=&limit=
func (s *Server) SearchHandler(w http.ResponseWriter, r *http.Request) {
	keyword := strings.TrimSpace(r.URL.Query().Get("keyword"))
	if keyword == "" {
		writeError(w, "缺少搜索关键词", http.StatusBadRequest)
		return
	}
	q := search.Query{
		Keyword: keyword,
		Sources: parseSourceList(r.URL.Query().Get("sources")),
		Page:    queryInt(r, "page", 1),
		Limit:   queryInt(r, "limit", search.PageLimit),
	}
	if q.Limit > search.FreshLimit {
		q.Limit = search.FreshLimit
	}

	tracks := s.aggregator.Search(r.Context(), q)
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"keyword": keyword,
		"page":    q.Page,
		"tracks":  trackViews(tracks),
	})
}

func sourceVar(w http.ResponseWriter, r *http.Request) (model.Source, bool) {
	source, ok := model.ParseSource(mux.Vars(r)["source"])
	if !ok {
		writeError(w, "未知的平台", http.StatusBadRequest)
	}
	return source, ok
}

// ToplistsHandler GET /api/toplists/{source}
func (s *Server) ToplistsHandler(w http.ResponseWriter, r *http.Request) {
	source, ok := sourceVar(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"source":   source,
		"toplists": s.comp.Registry.Toplists(r.Context(), source),
	})
}

// ToplistTracksHandler GET /api/toplists/{source}/{id}
func (s *Server) ToplistTracksHandler(w http.ResponseWriter, r *http.Request) {
	source, ok := sourceVar(w, r)
	if !ok {
		return
	}
	tracks := s.comp.Registry.ToplistTracks(r.Context(), source, mux.Vars(r)["id"])
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"tracks":  trackViews(tracks),
	})
}

// ImportPlaylistHandler GET /api/playlists/import?url=&platform=
// 纯数字 id 需要 platform 指明平台
func (s *Server) ImportPlaylistHandler(w http.ResponseWriter, r *http.Request) {
	ref, ok := catalog.ParsePlaylistURL(r.URL.Query().Get("url"))
	if !ok {
		writeError(w, "无法识别的歌单链接", http.StatusBadRequest)
		return
	}
	if ref.Source == "" {
		source, ok := model.ParseSource(r.URL.Query().Get("platform"))
		if !ok {
			writeError(w, "请指定歌单所属平台", http.StatusBadRequest)
			return
		}
		ref.Source = source
	}

	chart := s.comp.Registry.ImportPlaylist(r.Context(), ref)
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"source":  ref.Source,
		"id":      ref.ID,
		"name":    chart.Name,
		"tracks":  trackViews(chart.Tracks),
	})
}

// ResolveHandler POST /api/resolve，body 为歌曲 JSON
func (s *Server) ResolveHandler(w http.ResponseWriter, r *http.Request) {
	var v model.TrackView
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&v); err != nil {
		writeError(w, "无效的请求", http.StatusBadRequest)
		return
	}
	t := model.FromView(v)
	if _, ok := model.ParseSource(string(t.Source)); !ok || t.SongID == "" {
		writeError(w, "缺少平台或歌曲ID", http.StatusBadRequest)
		return
	}

	// 客户端带来的地址不可信，只返回解析服务给出的
	t.SetURL("")
	s.comp.Resolver.Resolve(r.Context(), t)
	if t.URL() == "" {
		writeError(w, "无法获取音频地址", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"track":   t.View(),
	})
}

// HealthHandler GET /healthz
func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"sessions":    s.sessions.Count(),
		"connections": s.hub.Count(),
	})
}
