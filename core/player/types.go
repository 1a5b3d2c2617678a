package player

import (
	"context"
	"errors"
	"time"

	"musicsquare/model"
)

// ErrNothingPlayable 自动跳过走完一整轮队列仍然没有可播放的歌曲
var ErrNothingPlayable = errors.New("nothing playable")

// State 播放会话状态
type State int

const (
	StateIdle State = iota
	StateLoading
	StatePlaying
	StatePaused
	StateRecovering
)

func (s State) String() string {
	switch s {
	case StateLoading:
		return "loading"
	case StatePlaying:
		return "playing"
	case StatePaused:
		return "paused"
	case StateRecovering:
		return "error-recovering"
	default:
		return "idle"
	}
}

// Mode 播放模式
type Mode int

const (
	ModeSequential Mode = iota
	ModeShuffle
	ModeRepeatOne
)

func (m Mode) String() string {
	switch m {
	case ModeShuffle:
		return "shuffle"
	case ModeRepeatOne:
		return "repeat-one"
	default:
		return "sequential"
	}
}

// ParseMode 解析模式名，兼容前端的 list/single
func ParseMode(s string) (Mode, bool) {
	switch s {
	case "sequential", "list":
		return ModeSequential, true
	case "shuffle":
		return ModeShuffle, true
	case "repeat-one", "single":
		return ModeRepeatOne, true
	}
	return ModeSequential, false
}

// EventType 播放设备上报的事件
type EventType string

const (
	EventPlaying    EventType = "playing"
	EventPause      EventType = "pause"
	EventEnded      EventType = "ended"
	EventError      EventType = "error"
	EventTimeUpdate EventType = "timeupdate"
)

// Event 设备事件，Time 为当前播放位置（秒），只有 timeupdate 使用
type Event struct {
	Type EventType `json:"type"`
	Time float64   `json:"time,omitempty"`
}

// Device 音频输出设备。调用只表示指令已发出，播放结果通过事件回报
type Device interface {
	Load(track *model.Track, url string) error
	Play() error
	Pause() error
	Seek(seconds float64) error
}

// HistoryStore 播放历史的持久化
type HistoryStore interface {
	Append(ctx context.Context, track *model.Track) error
	Fetch(ctx context.Context) ([]*model.Track, error)
}

// NoticeLevel 提示级别
type NoticeLevel string

const (
	NoticeInfo    NoticeLevel = "info"
	NoticeWarning NoticeLevel = "warning"
	NoticeError   NoticeLevel = "error"
)

// Notice 给用户看的提示
type Notice struct {
	Level   NoticeLevel `json:"level"`
	Message string      `json:"message"`
}

// Notifier 会话向界面推送的内容
type Notifier interface {
	Notify(n Notice)
	StateChanged(s Snapshot)
	LyricsChanged(lines []LyricLine)
	LyricLineChanged(index int)
}

// Resolver 解析播放地址
type Resolver interface {
	Resolve(ctx context.Context, t *model.Track) *model.Track
	FetchLyrics(ctx context.Context, lrc string) string
}

// Searcher 解析失败后按标题重新搜索
type Searcher interface {
	SearchSource(ctx context.Context, keyword string, source model.Source, limit int) []*model.Track
}

// URLRewriter 播放地址的 edge 改写
type URLRewriter interface {
	ProxyURL(raw string, source model.Source) string
}

// Scheduler 延迟执行。返回的 stop 与 time.Timer.Stop 语义一致
type Scheduler interface {
	After(d time.Duration, fn func()) (stop func() bool)
}

type realScheduler struct{}

func (realScheduler) After(d time.Duration, fn func()) func() bool {
	return time.AfterFunc(d, fn).Stop
}

// Snapshot 会话的只读视图
type Snapshot struct {
	State        string            `json:"state"`
	Mode         string            `json:"mode"`
	Current      *model.TrackView  `json:"current,omitempty"`
	CurrentIndex int               `json:"currentIndex"`
	QueueLength  int               `json:"queueLength"`
	NextQueue    []model.TrackView `json:"nextQueue"`
	HistoryDepth int               `json:"historyDepth"`
	Position     float64           `json:"position"`
	LyricIndex   int               `json:"lyricIndex"`
}
