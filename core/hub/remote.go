package hub

import (
	"musicsquare/core/player"
	"musicsquare/logger"
	"musicsquare/model"
)

// LoadData load 指令
type LoadData struct {
	Track model.TrackView `json:"track"`
	URL   string          `json:"url"`
}

// SeekData seek 指令与客户端拖动
type SeekData struct {
	Time float64 `json:"time"`
}

// LyricLineData 当前歌词行
type LyricLineData struct {
	Index int `json:"index"`
}

// SearchResultsData 搜索结果
type SearchResultsData struct {
	Keyword string            `json:"keyword"`
	Tracks  []model.TrackView `json:"tracks"`
	Page    int               `json:"page"`
	Append  bool              `json:"append"`
}

// ChartData 榜单歌曲
type ChartData struct {
	Source model.Source      `json:"source"`
	ID     string            `json:"id"`
	Tracks []model.TrackView `json:"tracks"`
}

// Remote 浏览器里的 audio 元素。既是会话的播放设备，也是界面推送通道
type Remote struct {
	hub    *Hub
	userID int64
}

// NewRemote 绑定到用户，连接断开重连后自动跟随新连接
func NewRemote(h *Hub, userID int64) *Remote {
	return &Remote{hub: h, userID: userID}
}

func (r *Remote) send(t MessageType, data any) error {
	msg, err := NewMessage(t, data)
	if err != nil {
		return err
	}
	return r.hub.SendToUser(r.userID, msg)
}

// Load 实现 player.Device
func (r *Remote) Load(t *model.Track, url string) error {
	return r.send(MsgTypeLoad, LoadData{Track: t.View(), URL: url})
}

// Play 实现 player.Device
func (r *Remote) Play() error {
	return r.send(MsgTypePlay, nil)
}

// Pause 实现 player.Device
func (r *Remote) Pause() error {
	return r.send(MsgTypePause, nil)
}

// Seek 实现 player.Device
func (r *Remote) Seek(seconds float64) error {
	return r.send(MsgTypeSeek, SeekData{Time: seconds})
}

// Notify 实现 player.Notifier
func (r *Remote) Notify(n player.Notice) {
	r.push(MsgTypeNotice, n)
}

// StateChanged 实现 player.Notifier
func (r *Remote) StateChanged(s player.Snapshot) {
	r.push(MsgTypeState, s)
}

// LyricsChanged 实现 player.Notifier
func (r *Remote) LyricsChanged(lines []player.LyricLine) {
	if lines == nil {
		lines = []player.LyricLine{}
	}
	r.push(MsgTypeLyrics, lines)
}

// LyricLineChanged 实现 player.Notifier
func (r *Remote) LyricLineChanged(index int) {
	r.push(MsgTypeLyricLine, LyricLineData{Index: index})
}

// SearchResults 推送搜索结果
func (r *Remote) SearchResults(keyword string, tracks []*model.Track, page int, appendMode bool) {
	views := make([]model.TrackView, 0, len(tracks))
	for _, t := range tracks {
		views = append(views, t.View())
	}
	r.push(MsgTypeSearchResults, SearchResultsData{Keyword: keyword, Tracks: views, Page: page, Append: appendMode})
}

// Chart 推送榜单歌曲
func (r *Remote) Chart(source model.Source, id string, tracks []*model.Track) {
	views := make([]model.TrackView, 0, len(tracks))
	for _, t := range tracks {
		views = append(views, t.View())
	}
	r.push(MsgTypeChart, ChartData{Source: source, ID: id, Tracks: views})
}

// Error 推送错误
func (r *Remote) Error(message string) {
	r.push(MsgTypeError, map[string]string{"error": message})
}

// push 界面推送，用户离线时静默丢弃
func (r *Remote) push(t MessageType, data any) {
	if err := r.send(t, data); err != nil && err != ErrNotConnected {
		logger.Warn("[Hub] push failed", logger.Int64("user", r.userID), logger.String("type", string(t)), logger.ErrorField(err))
	}
}
