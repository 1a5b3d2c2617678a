package hub

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"musicsquare/core/player"
	"musicsquare/core/search"
	"musicsquare/logger"
	"musicsquare/model"
)

// seedTimeout 首次连接加载历史的超时
const seedTimeout = 5 * time.Second

// Deps 会话管理器依赖
type Deps struct {
	Hub        *Hub
	Resolver   player.Resolver
	Aggregator *search.Aggregator
	// Toplists 为空时不支持榜单浏览
	Toplists search.ToplistSource
	Rewriter player.URLRewriter
	// History 为空时会话不持久化历史
	History func(userID int64) player.HistoryStore
	// Scheduler 测试用，为空时使用真实定时器
	Scheduler player.Scheduler
}

// Entry 一个用户的会话与搜索上下文
type Entry struct {
	UserID  int64
	Session *player.Session
	View    *search.View
	Chart   *search.ChartView
	Remote  *Remote
}

// Manager 每个用户一个播放会话，登出前一直保留
type Manager struct {
	deps Deps

	mu      sync.Mutex
	entries map[int64]*Entry
}

// NewManager 创建会话管理器
func NewManager(deps Deps) *Manager {
	return &Manager{deps: deps, entries: make(map[int64]*Entry)}
}

// Acquire 取得用户的会话，不存在时创建并加载历史
func (m *Manager) Acquire(ctx context.Context, userID int64) *Entry {
	m.mu.Lock()
	if e, ok := m.entries[userID]; ok {
		m.mu.Unlock()
		return e
	}

	remote := NewRemote(m.deps.Hub, userID)
	deps := player.Deps{
		Device:    remote,
		Notifier:  remote,
		Resolver:  m.deps.Resolver,
		Rewriter:  m.deps.Rewriter,
		Scheduler: m.deps.Scheduler,
	}
	if m.deps.Aggregator != nil {
		deps.Searcher = m.deps.Aggregator
	}
	if m.deps.History != nil {
		deps.History = m.deps.History(userID)
	}
	e := &Entry{
		UserID:  userID,
		Session: player.NewSession(deps),
		Remote:  remote,
	}
	if m.deps.Aggregator != nil {
		e.View = search.NewView(m.deps.Aggregator)
	}
	if m.deps.Toplists != nil {
		e.Chart = search.NewChartView(m.deps.Toplists, model.SourceNetease)
	}
	m.entries[userID] = e
	m.mu.Unlock()

	seedCtx, cancel := context.WithTimeout(ctx, seedTimeout)
	defer cancel()
	if err := e.Session.SeedHistory(seedCtx); err != nil {
		logger.Warn("[Manager] seed history failed", logger.Int64("user", userID), logger.ErrorField(err))
	}
	logger.Info("[Manager] session created", logger.Int64("user", userID))
	return e
}

// Get 不创建
func (m *Manager) Get(userID int64) (*Entry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[userID]
	return e, ok
}

// Drop 登出时销毁会话并断开连接
func (m *Manager) Drop(userID int64) bool {
	m.mu.Lock()
	e, ok := m.entries[userID]
	delete(m.entries, userID)
	m.mu.Unlock()
	if !ok {
		return false
	}
	if e.View != nil {
		e.View.Invalidate()
	}
	e.Session.Close()
	m.deps.Hub.Kick(userID)
	logger.Info("[Manager] session dropped", logger.Int64("user", userID))
	return true
}

// Count 会话数
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// Close 关闭所有会话
func (m *Manager) Close() {
	m.mu.Lock()
	entries := m.entries
	m.entries = make(map[int64]*Entry)
	m.mu.Unlock()
	for _, e := range entries {
		e.Session.Close()
	}
	m.deps.Hub.Close()
}

// ========== 客户端消息 ==========

type modeData struct {
	Mode string `json:"mode"`
}

type queueData struct {
	Tracks     []model.TrackView `json:"tracks"`
	StartIndex int               `json:"startIndex"`
	TargetID   string            `json:"targetId"`
}

type toplistData struct {
	Source string `json:"source"`
	ID     string `json:"id"`
}

type searchData struct {
	Keyword string   `json:"keyword"`
	Sources []string `json:"sources"`
}

// HandleMessage 处理客户端消息。设备事件同步处理以保持顺序，
// 会触发网络请求的操作放到单独的 goroutine
func (m *Manager) HandleMessage(ctx context.Context, c *Client, msg *WSMessage) {
	e := m.Acquire(ctx, c.UserID)
	s := e.Session

	switch msg.Type {
	case MsgTypeEvent:
		var ev player.Event
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			e.Remote.Error("无效的事件")
			return
		}
		s.HandleEvent(ev)

	case MsgTypeSeek:
		var d SeekData
		if err := json.Unmarshal(msg.Data, &d); err != nil {
			return
		}
		s.Seek(d.Time)

	case MsgTypeMode:
		var d modeData
		if len(msg.Data) > 0 {
			_ = json.Unmarshal(msg.Data, &d)
		}
		if d.Mode == "" {
			s.CycleMode()
			return
		}
		mode, ok := player.ParseMode(d.Mode)
		if !ok {
			e.Remote.Error("未知的播放模式")
			return
		}
		s.SetMode(mode)

	case MsgTypeToggle:
		go s.TogglePlay(ctx)

	case MsgTypeNext:
		go s.Advance(ctx, false)

	case MsgTypePrev:
		go s.PlayPrevious(ctx)

	case MsgTypeSetQueue:
		var d queueData
		if err := json.Unmarshal(msg.Data, &d); err != nil {
			e.Remote.Error("无效的播放列表")
			return
		}
		tracks := m.lookupTracks(e, d.Tracks)
		go s.SetQueue(ctx, tracks, d.StartIndex, d.TargetID)

	case MsgTypeEnqueueNext:
		var d queueData
		if err := json.Unmarshal(msg.Data, &d); err != nil {
			e.Remote.Error("无效的歌曲")
			return
		}
		s.EnqueueNext(m.lookupTracks(e, d.Tracks)...)

	case MsgTypeSearch:
		var d searchData
		if err := json.Unmarshal(msg.Data, &d); err != nil || e.View == nil {
			return
		}
		sources := parseSources(d.Sources)
		go func() {
			results, ok := e.View.NewQuery(ctx, d.Keyword, sources)
			if ok {
				e.Remote.SearchResults(d.Keyword, results, e.View.Page(), false)
			}
		}()

	case MsgTypeSearchMore:
		if e.View == nil {
			return
		}
		go func() {
			fresh, ok := e.View.LoadMore(ctx)
			if ok {
				e.Remote.SearchResults("", fresh, e.View.Page(), true)
			}
		}()

	case MsgTypeToplist:
		var d toplistData
		if err := json.Unmarshal(msg.Data, &d); err != nil || e.Chart == nil {
			return
		}
		source, ok := model.ParseSource(d.Source)
		if !ok {
			e.Remote.Error("未知的平台")
			return
		}
		e.Chart.SetSource(source)
		go func() {
			tracks, ok := e.Chart.Load(ctx, d.ID)
			if ok {
				e.Remote.Chart(source, d.ID, tracks)
			}
		}()

	default:
		logger.Debug("[Manager] unknown message type", logger.String("type", string(msg.Type)))
	}
}

// lookupTracks 优先复用搜索结果里的同一首歌，这样解析结果和不可播放标记是共享的
func (m *Manager) lookupTracks(e *Entry, views []model.TrackView) []*model.Track {
	known := map[string]*model.Track{}
	if e.View != nil {
		for _, t := range e.View.Results() {
			known[t.ID()] = t
		}
	}
	if e.Chart != nil {
		for _, t := range e.Chart.Tracks() {
			known[t.ID()] = t
		}
	}
	if cur := e.Session.Current(); cur != nil {
		known[cur.ID()] = cur
	}

	tracks := make([]*model.Track, 0, len(views))
	for _, v := range views {
		t := model.FromView(v)
		if t.SongID == "" {
			continue
		}
		if k, ok := known[t.ID()]; ok && t.UID == "" {
			tracks = append(tracks, k)
			continue
		}
		tracks = append(tracks, t)
	}
	return tracks
}

// parseSources 忽略未知平台，为空时查全部
func parseSources(names []string) []model.Source {
	var out []model.Source
	for _, n := range names {
		if s, ok := model.ParseSource(n); ok {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		out = append(out, model.AllSources...)
	}
	return out
}
