package player

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"

	"musicsquare/logger"
	"musicsquare/model"
)

const (
	// MaxHistory 历史栈上限
	MaxHistory = model.MaxHistory
	// PrefetchDelay 开始播放后多久预取下一首
	PrefetchDelay = 5 * time.Second
	// ErrorSkipDelay 播放出错后延迟多久跳到下一首，避免连续失败时空转
	ErrorSkipDelay = 500 * time.Millisecond
	// NoticeThrottle 连续跳过时两次提示的最小间隔
	NoticeThrottle = 2500 * time.Millisecond
)

const (
	msgSkipping        = "歌曲无法播放，自动跳过..."
	msgNoURL           = "无法获取音频地址"
	msgNothingPlayable = "没有可播放的歌曲"
)

// Deps 会话依赖。History/Searcher/Rewriter/Scheduler 可为空
type Deps struct {
	Device    Device
	Notifier  Notifier
	Resolver  Resolver
	History   HistoryStore
	Searcher  Searcher
	Rewriter  URLRewriter
	Scheduler Scheduler
}

// Session 一个用户的播放会话。所有状态只能通过方法修改
type Session struct {
	device   Device
	notifier Notifier
	resolver Resolver
	history  HistoryStore
	searcher Searcher
	rewriter URLRewriter
	sched    Scheduler

	ctx    context.Context
	cancel context.CancelFunc

	mu           sync.Mutex
	state        State
	mode         Mode
	queue        []*model.Track
	nextQueue    []*model.Track
	historyStack []*model.Track
	currentIndex int
	current      *model.Track
	shuffleOrder []int
	shufflePos   int
	loadSeq      uint64

	// deviceMu 保证设备上的 load 顺序与 loadSeq 一致
	deviceMu sync.Mutex

	lyrics     []LyricLine
	lyricIndex int
	position   float64

	prefetchStop func() bool
	skipping     bool
	skipCount    int
	lastNotice   time.Time

	now     func() time.Time
	shuffle func(n int, swap func(i, j int))
}

// NewSession 创建会话
func NewSession(deps Deps) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	sched := deps.Scheduler
	if sched == nil {
		sched = realScheduler{}
	}
	return &Session{
		device:       deps.Device,
		notifier:     deps.Notifier,
		resolver:     deps.Resolver,
		history:      deps.History,
		searcher:     deps.Searcher,
		rewriter:     deps.Rewriter,
		sched:        sched,
		ctx:          ctx,
		cancel:       cancel,
		currentIndex: -1,
		lyricIndex:   -1,
		now:          time.Now,
		shuffle:      rand.Shuffle,
	}
}

// Close 结束会话，取消进行中的解析和定时任务
func (s *Session) Close() {
	s.mu.Lock()
	s.stopPrefetchLocked()
	s.loadSeq++
	s.mu.Unlock()
	s.cancel()
}

// SetDevice 设备重连后替换
func (s *Session) SetDevice(d Device) {
	s.mu.Lock()
	s.device = d
	s.mu.Unlock()
}

// SeedHistory 启动时从持久化加载历史，只保留最近 100 首
func (s *Session) SeedHistory(ctx context.Context) error {
	if s.history == nil {
		return nil
	}
	tracks, err := s.history.Fetch(ctx)
	if err != nil {
		return err
	}
	if len(tracks) > MaxHistory {
		tracks = tracks[len(tracks)-MaxHistory:]
	}
	s.mu.Lock()
	s.historyStack = append([]*model.Track(nil), tracks...)
	s.mu.Unlock()
	return nil
}

// ========== 加载 ==========

// loadResult 一次加载的结果
type loadResult int

const (
	loadOK loadResult = iota
	loadFailed
	// loadSuperseded 期间已有更新的加载，调用方应放弃后续动作
	loadSuperseded
)

// LoadTrack 加载并播放一首歌。fromHistory 为 true 时不把当前歌曲压入历史。
// 返回 false 表示没有拿到地址、设备拒绝，或者期间已有更新的加载
func (s *Session) LoadTrack(ctx context.Context, t *model.Track, fromHistory bool) bool {
	res, _ := s.load(ctx, t, fromHistory)
	return res == loadOK
}

func (s *Session) load(ctx context.Context, t *model.Track, fromHistory bool) (loadResult, uint64) {
	if t == nil {
		return loadFailed, 0
	}

	s.mu.Lock()
	s.loadSeq++
	seq := s.loadSeq
	if prev := s.current; !fromHistory && prev != nil && prev.ID() != t.ID() {
		s.pushHistoryLocked(prev)
	}
	s.state = StateLoading
	s.stopPrefetchLocked()
	s.mu.Unlock()
	s.publishState()

	if t.NeedsResolution() && s.resolver != nil {
		s.resolver.Resolve(ctx, t)
		if t.URL() == "" {
			s.fallback(ctx, t)
		}
	}

	s.deviceMu.Lock()
	defer s.deviceMu.Unlock()

	s.mu.Lock()
	if seq != s.loadSeq {
		s.mu.Unlock()
		return loadSuperseded, seq
	}
	if t.URL() == "" {
		s.current = nil
		s.state = StateIdle
		device := s.device
		s.mu.Unlock()
		logger.Warn("[Session] no url for track", logger.String("track", t.ID()), logger.String("title", t.Title))
		if device != nil {
			device.Pause()
		}
		s.notify(NoticeError, msgNoURL)
		s.publishState()
		return loadFailed, seq
	}

	s.current = t
	if idx := indexOfTrack(s.queue, t); idx >= 0 {
		s.currentIndex = idx
	}
	s.position = 0
	s.lyricIndex = -1
	lrc := t.Lyrics()
	if model.IsRemoteLyrics(lrc) {
		s.lyrics = nil
	} else {
		s.lyrics = ParseLyrics(lrc)
	}
	lyrics := s.lyrics
	device := s.device
	s.mu.Unlock()

	audioURL := t.URL()
	if t.Source == model.SourceKuwo && s.rewriter != nil {
		audioURL = s.rewriter.ProxyURL(audioURL, model.SourceKuwo)
	}
	if device == nil {
		s.setIdle(seq)
		return loadFailed, seq
	}
	if err := device.Load(t, audioURL); err != nil {
		logger.Warn("[Session] device load failed", logger.String("track", t.ID()), logger.ErrorField(err))
		s.setIdle(seq)
		return loadFailed, seq
	}
	if err := device.Play(); err != nil {
		logger.Warn("[Session] device play failed", logger.String("track", t.ID()), logger.ErrorField(err))
		s.setIdle(seq)
		return loadFailed, seq
	}

	if s.notifier != nil {
		s.notifier.LyricsChanged(lyrics)
	}
	if model.IsRemoteLyrics(lrc) && s.resolver != nil {
		go s.loadRemoteLyrics(seq, t, lrc)
	}
	s.publishState()
	return loadOK, seq
}

// superseded 在 seq 之后是否已有新的加载，或会话已关闭
func (s *Session) superseded(seq uint64) bool {
	if s.ctx.Err() != nil {
		return true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return seq != s.loadSeq
}

func (s *Session) setIdle(seq uint64) {
	s.mu.Lock()
	if seq == s.loadSeq {
		s.state = StateIdle
	}
	s.mu.Unlock()
	s.publishState()
}

// fallback 解析失败后按去掉括号后缀的标题在同一平台重搜一次
func (s *Session) fallback(ctx context.Context, t *model.Track) {
	if s.searcher == nil || ctx.Err() != nil {
		return
	}
	keyword := baseTitle(t.Title)
	if keyword == "" {
		return
	}
	match := bestMatch(t, s.searcher.SearchSource(ctx, keyword, t.Source, fallbackLimit))
	if match == nil {
		return
	}
	s.resolver.Resolve(ctx, match)
	if match.URL() != "" {
		logger.Info("[Session] fallback match resolved",
			logger.String("track", t.ID()),
			logger.String("match", match.ID()))
		t.CopyResolved(match)
	}
}

func (s *Session) loadRemoteLyrics(seq uint64, t *model.Track, lrc string) {
	text := s.resolver.FetchLyrics(s.ctx, lrc)
	if text == "" {
		return
	}
	s.mu.Lock()
	if seq != s.loadSeq || s.current != t {
		s.mu.Unlock()
		return
	}
	t.SetLyrics(text)
	s.lyrics = ParseLyrics(text)
	s.lyricIndex = -1
	lyrics := s.lyrics
	s.mu.Unlock()
	if s.notifier != nil {
		s.notifier.LyricsChanged(lyrics)
	}
}

func (s *Session) pushHistoryLocked(t *model.Track) {
	s.historyStack = append(s.historyStack, t)
	if over := len(s.historyStack) - MaxHistory; over > 0 {
		s.historyStack = append([]*model.Track(nil), s.historyStack[over:]...)
	}
	if s.history != nil {
		store, ctx := s.history, s.ctx
		go func() {
			if err := store.Append(ctx, t); err != nil {
				logger.Warn("[Session] history append failed", logger.String("track", t.ID()), logger.ErrorField(err))
			}
		}()
	}
}

// ========== 切歌 ==========

// Advance 下一首。插播队列优先；auto 且单曲循环时从头重播当前歌曲；
// 否则沿队列（或随机顺序）前进并跳过不可播放的歌曲，最多一整轮
func (s *Session) Advance(ctx context.Context, auto bool) error {
	s.mu.Lock()
	startSeq := s.loadSeq
	s.mu.Unlock()

	for {
		if s.superseded(startSeq) {
			return nil
		}
		s.mu.Lock()
		if len(s.nextQueue) == 0 {
			break
		}
		t := s.nextQueue[0]
		s.nextQueue = s.nextQueue[1:]
		s.mu.Unlock()
		res, seq := s.load(ctx, t, false)
		switch res {
		case loadOK, loadSuperseded:
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		startSeq = seq
	}

	// 此处持有锁
	if len(s.queue) == 0 {
		s.mu.Unlock()
		return nil
	}
	if s.mode == ModeRepeatOne && auto && s.current != nil && !s.current.Unplayable() {
		device := s.device
		s.position = 0
		s.mu.Unlock()
		if device != nil {
			device.Seek(0)
			device.Play()
		}
		return nil
	}

	maxAttempts := len(s.queue)
	tryIndex := s.currentIndex
	s.mu.Unlock()

	for attempts := 0; attempts < maxAttempts; attempts++ {
		if s.superseded(startSeq) {
			return nil
		}
		s.mu.Lock()
		if len(s.queue) == 0 {
			s.mu.Unlock()
			return nil
		}
		tryIndex = s.nextIndexLocked(tryIndex)
		t := s.queue[tryIndex]
		s.mu.Unlock()

		if t.Unplayable() {
			continue
		}
		res, seq := s.load(ctx, t, false)
		switch res {
		case loadOK, loadSuperseded:
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		startSeq = seq
	}

	s.mu.Lock()
	if startSeq != s.loadSeq {
		s.mu.Unlock()
		return nil
	}
	s.state = StateIdle
	s.mu.Unlock()
	s.notify(NoticeWarning, msgNothingPlayable)
	s.publishState()
	return ErrNothingPlayable
}

// nextIndexLocked 从 from 出发的下一个队列下标
func (s *Session) nextIndexLocked(from int) int {
	if s.mode != ModeShuffle {
		next := from + 1
		if next >= len(s.queue) || next < 0 {
			next = 0
		}
		return next
	}
	if len(s.shuffleOrder) != len(s.queue) {
		s.regenerateShuffleLocked()
	}
	s.shufflePos++
	if s.shufflePos >= len(s.shuffleOrder) {
		s.regenerateShuffleLocked()
		// 新顺序的第一个是刚播过的歌，从第二个开始
		if len(s.shuffleOrder) > 1 {
			s.shufflePos = 1
		}
	}
	return s.shuffleOrder[s.shufflePos]
}

// regenerateShuffleLocked 重新洗牌，当前歌曲排在最前
func (s *Session) regenerateShuffleLocked() {
	n := len(s.queue)
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	s.shuffle(n, func(i, j int) { order[i], order[j] = order[j], order[i] })

	if s.currentIndex >= 0 && s.currentIndex < n {
		for pos, idx := range order {
			if idx == s.currentIndex {
				copy(order[1:pos+1], order[:pos])
				order[0] = s.currentIndex
				break
			}
		}
	}
	s.shuffleOrder = order
	s.shufflePos = 0
}

// PlayPrevious 上一首：优先弹出历史栈，否则在队列中后退一位
func (s *Session) PlayPrevious(ctx context.Context) bool {
	s.mu.Lock()
	if n := len(s.historyStack); n > 0 {
		t := s.historyStack[n-1]
		s.historyStack = s.historyStack[:n-1]
		if s.mode == ModeShuffle && len(s.shuffleOrder) > 0 {
			if idx := indexOfTrack(s.queue, t); idx >= 0 {
				for pos, v := range s.shuffleOrder {
					if v == idx {
						s.shufflePos = pos
						break
					}
				}
			}
		}
		s.mu.Unlock()
		return s.LoadTrack(ctx, t, true)
	}
	if len(s.queue) == 0 {
		s.mu.Unlock()
		return false
	}
	prev := s.currentIndex - 1
	if prev < 0 || prev >= len(s.queue) {
		prev = len(s.queue) - 1
	}
	t := s.queue[prev]
	s.mu.Unlock()
	return s.LoadTrack(ctx, t, false)
}

// SetQueue 整体替换队列并播放起始歌曲。targetID 非空时优先按 id/uid 定位
func (s *Session) SetQueue(ctx context.Context, tracks []*model.Track, startIndex int, targetID string) bool {
	s.mu.Lock()
	s.queue = append([]*model.Track(nil), tracks...)
	if targetID != "" {
		for i, t := range s.queue {
			if t.ID() == targetID || (t.UID != "" && t.UID == targetID) {
				startIndex = i
				break
			}
		}
	}
	if len(s.queue) == 0 {
		s.currentIndex = -1
		s.shuffleOrder = nil
		s.mu.Unlock()
		return false
	}
	if startIndex < 0 || startIndex >= len(s.queue) {
		startIndex = 0
	}
	s.currentIndex = startIndex
	if s.mode == ModeShuffle {
		s.regenerateShuffleLocked()
	} else {
		s.shuffleOrder = nil
		s.shufflePos = -1
	}
	t := s.queue[startIndex]
	s.mu.Unlock()
	return s.LoadTrack(ctx, t, false)
}

// EnqueueNext 加入插播队列，不受 SetQueue 影响
func (s *Session) EnqueueNext(tracks ...*model.Track) {
	s.mu.Lock()
	for _, t := range tracks {
		if t != nil {
			s.nextQueue = append(s.nextQueue, t)
		}
	}
	s.mu.Unlock()
	s.publishState()
}

// ========== 设备事件 ==========

// HandleEvent 处理设备上报的事件
func (s *Session) HandleEvent(ev Event) {
	switch ev.Type {
	case EventPlaying:
		s.mu.Lock()
		s.state = StatePlaying
		s.skipping = false
		s.skipCount = 0
		s.stopPrefetchLocked()
		s.prefetchStop = s.sched.After(PrefetchDelay, s.prefetch)
		s.mu.Unlock()
		s.publishState()

	case EventPause:
		s.mu.Lock()
		if s.current != nil && s.state != StateLoading {
			s.state = StatePaused
		}
		s.stopPrefetchLocked()
		s.mu.Unlock()
		s.publishState()

	case EventEnded:
		s.sched.After(0, func() {
			if err := s.Advance(s.ctx, true); err != nil && err != ErrNothingPlayable {
				logger.Debug("[Session] auto advance stopped", logger.ErrorField(err))
			}
		})

	case EventError:
		s.onDeviceError()

	case EventTimeUpdate:
		s.mu.Lock()
		s.position = ev.Time
		idx := LineIndex(s.lyrics, ev.Time)
		changed := len(s.lyrics) > 0 && idx != s.lyricIndex
		if changed {
			s.lyricIndex = idx
		}
		s.mu.Unlock()
		if changed && s.notifier != nil {
			s.notifier.LyricLineChanged(idx)
		}
	}
}

// onDeviceError 标记当前歌曲不可播放并延迟跳过。连续出错只提示一次
func (s *Session) onDeviceError() {
	s.mu.Lock()
	current := s.current
	if current != nil {
		current.MarkUnplayable()
	}
	s.state = StateRecovering
	s.stopPrefetchLocked()

	showNotice := false
	now := s.now()
	if !s.skipping {
		if now.Sub(s.lastNotice) > NoticeThrottle {
			s.skipping = true
			s.skipCount = 1
			s.lastNotice = now
			showNotice = true
		}
	} else {
		s.skipCount++
	}
	s.mu.Unlock()

	if current != nil {
		logger.Warn("[Session] device error, skipping", logger.String("track", current.ID()))
	}
	if showNotice {
		s.notify(NoticeWarning, msgSkipping)
	}
	s.publishState()

	s.sched.After(ErrorSkipDelay, func() {
		if err := s.Advance(s.ctx, true); err != nil && err != ErrNothingPlayable {
			logger.Debug("[Session] auto advance stopped", logger.ErrorField(err))
		}
	})
}

// prefetch 预解析下一首，不改变任何位置
func (s *Session) prefetch() {
	s.mu.Lock()
	if s.state != StatePlaying {
		s.mu.Unlock()
		return
	}
	next := s.peekNextLocked()
	s.mu.Unlock()

	if next == nil || next.URL() != "" || next.Unplayable() || s.resolver == nil {
		return
	}
	s.resolver.Resolve(s.ctx, next)
}

func (s *Session) peekNextLocked() *model.Track {
	if len(s.nextQueue) > 0 {
		return s.nextQueue[0]
	}
	if len(s.queue) == 0 || s.mode == ModeRepeatOne {
		return nil
	}
	if s.mode == ModeShuffle {
		if len(s.shuffleOrder) == len(s.queue) && s.shufflePos+1 < len(s.shuffleOrder) {
			return s.queue[s.shuffleOrder[s.shufflePos+1]]
		}
		return nil
	}
	next := s.currentIndex + 1
	if next >= len(s.queue) || next < 0 {
		next = 0
	}
	return s.queue[next]
}

func (s *Session) stopPrefetchLocked() {
	if s.prefetchStop != nil {
		s.prefetchStop()
		s.prefetchStop = nil
	}
}

// ========== 控制 ==========

// Pause 暂停
func (s *Session) Pause() {
	s.mu.Lock()
	device := s.device
	s.mu.Unlock()
	if device != nil {
		device.Pause()
	}
}

// Resume 继续播放
func (s *Session) Resume() {
	s.mu.Lock()
	device := s.device
	s.mu.Unlock()
	if device != nil {
		device.Play()
	}
}

// TogglePlay 没有当前歌曲时从队列第一首开始
func (s *Session) TogglePlay(ctx context.Context) {
	s.mu.Lock()
	current, state := s.current, s.state
	queue := s.queue
	s.mu.Unlock()

	if current == nil {
		if len(queue) > 0 {
			s.SetQueue(ctx, queue, 0, "")
		}
		return
	}
	if state == StatePlaying {
		s.Pause()
	} else {
		s.Resume()
	}
}

// Seek 跳转，非有限值忽略
func (s *Session) Seek(seconds float64) {
	if math.IsNaN(seconds) || math.IsInf(seconds, 0) || seconds < 0 {
		return
	}
	s.mu.Lock()
	device := s.device
	s.mu.Unlock()
	if device != nil {
		device.Seek(seconds)
	}
}

// SetMode 切换模式，进入随机模式时重新洗牌
func (s *Session) SetMode(m Mode) {
	s.mu.Lock()
	if m == ModeShuffle && s.mode != ModeShuffle {
		s.mode = m
		s.regenerateShuffleLocked()
	} else {
		s.mode = m
	}
	s.mu.Unlock()
	s.publishState()
}

// CycleMode 顺序 -> 随机 -> 单曲循环 -> 顺序
func (s *Session) CycleMode() Mode {
	s.mu.Lock()
	next := (s.mode + 1) % 3
	s.mu.Unlock()
	s.SetMode(next)
	return next
}

// Current 当前歌曲
func (s *Session) Current() *model.Track {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// State 当前状态
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Mode 当前模式
func (s *Session) Mode() Mode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

// Snapshot 供界面渲染的快照
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Session) snapshotLocked() Snapshot {
	snap := Snapshot{
		State:        s.state.String(),
		Mode:         s.mode.String(),
		CurrentIndex: s.currentIndex,
		QueueLength:  len(s.queue),
		NextQueue:    make([]model.TrackView, 0, len(s.nextQueue)),
		HistoryDepth: len(s.historyStack),
		Position:     s.position,
		LyricIndex:   s.lyricIndex,
	}
	if s.current != nil {
		v := s.current.View()
		snap.Current = &v
	}
	for _, t := range s.nextQueue {
		snap.NextQueue = append(snap.NextQueue, t.View())
	}
	return snap
}

func (s *Session) publishState() {
	if s.notifier == nil {
		return
	}
	s.notifier.StateChanged(s.Snapshot())
}

func (s *Session) notify(level NoticeLevel, msg string) {
	if s.notifier != nil {
		s.notifier.Notify(Notice{Level: level, Message: msg})
	}
}

// indexOfTrack 按 id 或 uid 查找
func indexOfTrack(list []*model.Track, t *model.Track) int {
	id := t.ID()
	for i, c := range list {
		if c == t || c.ID() == id || (t.UID != "" && c.UID == t.UID) {
			return i
		}
	}
	return -1
}
