package model

import (
	"encoding/json"
	"strings"
	"sync"
)

// Source 音乐平台标识
type Source string

const (
	SourceNetease Source = "netease"
	SourceQQ      Source = "qq"
	SourceKuwo    Source = "kuwo"
)

// AllSources 按优先级排列的全部平台
var AllSources = []Source{SourceNetease, SourceQQ, SourceKuwo}

// ParseSource 解析平台字符串，大小写不敏感
func ParseSource(s string) (Source, bool) {
	switch Source(strings.ToLower(strings.TrimSpace(s))) {
	case SourceNetease:
		return SourceNetease, true
	case SourceQQ:
		return SourceQQ, true
	case SourceKuwo:
		return SourceKuwo, true
	}
	return "", false
}

// Quality 音质档位
type Quality string

const (
	QualityHiRes Quality = "flac24bit"
	QualityFlac  Quality = "flac"
	Quality320k  Quality = "320k"
	Quality128k  Quality = "128k"
)

// Qualities 从高到低的全局档位顺序
var Qualities = []Quality{QualityHiRes, QualityFlac, Quality320k, Quality128k}

// Resolution 解析服务返回的可播放信息
type Resolution struct {
	URL           string `json:"url"`
	Cover         string `json:"cover,omitempty"`
	Lyrics        string `json:"lrc,omitempty"`
	ActualQuality string `json:"actualQuality,omitempty"`
}

// Track 跨平台统一的歌曲。
// 身份字段在创建后不再变化；url/lrc/cover/unplayable 等可变字段只能通过方法修改，
// 因为同一个 *Track 会被搜索结果、队列、历史和预取协程共享。
type Track struct {
	Source   Source `json:"-"`
	SongID   string `json:"-"`
	Title    string `json:"-"`
	Artist   string `json:"-"`
	Album    string `json:"-"`
	Duration int    `json:"-"` // 秒，未知为 0
	UID      string `json:"-"` // 持久化行的主键，与 ID 无关

	mu            sync.RWMutex
	cover         string
	url           string
	lrc           string
	actualQuality string
	unplayable    bool
}

// NewTrack 创建歌曲，cover 可为空
func NewTrack(source Source, songID, title, artist, album, cover string, duration int) *Track {
	return &Track{
		Source:   source,
		SongID:   songID,
		Title:    title,
		Artist:   artist,
		Album:    album,
		Duration: duration,
		cover:    cover,
	}
}

// ID 全局唯一标识 source-songId
func (t *Track) ID() string {
	return string(t.Source) + "-" + t.SongID
}

func (t *Track) Cover() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.cover
}

func (t *Track) URL() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.url
}

func (t *Track) Lyrics() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.lrc
}

func (t *Track) ActualQuality() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.actualQuality
}

// Unplayable 是否已被标记为无法播放
func (t *Track) Unplayable() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.unplayable
}

// MarkUnplayable 标记为无法播放，该标记不会自动清除
func (t *Track) MarkUnplayable() {
	t.mu.Lock()
	t.unplayable = true
	t.mu.Unlock()
}

// NeedsResolution url 缺失、歌词缺失或歌词仍是一个待抓取的 URL
func (t *Track) NeedsResolution() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.url == "" || t.lrc == "" || IsRemoteLyrics(t.lrc)
}

// ApplyResolution 把解析结果写回歌曲。cover/lrc 为空时保留原值
func (t *Track) ApplyResolution(res Resolution) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.url = res.URL
	if res.Cover != "" {
		t.cover = res.Cover
	}
	if res.Lyrics != "" {
		t.lrc = res.Lyrics
	}
	if res.ActualQuality != "" {
		t.actualQuality = res.ActualQuality
	}
}

// SetURL 覆盖播放地址（例如经过 edge 代理改写后）
func (t *Track) SetURL(url string) {
	t.mu.Lock()
	t.url = url
	t.mu.Unlock()
}

// SetLyrics 写入抓取到的歌词文本
func (t *Track) SetLyrics(lrc string) {
	t.mu.Lock()
	t.lrc = lrc
	t.mu.Unlock()
}

// CopyResolved 从另一首歌（通常是兜底搜索命中的结果）复制 url/lrc/cover
func (t *Track) CopyResolved(other *Track) {
	if other == nil || other == t {
		return
	}
	other.mu.RLock()
	res := Resolution{URL: other.url, Cover: other.cover, Lyrics: other.lrc, ActualQuality: other.actualQuality}
	other.mu.RUnlock()
	t.ApplyResolution(res)
}

// IsRemoteLyrics lrc 字段是否是需要再抓取的 http(s) 地址
func IsRemoteLyrics(lrc string) bool {
	return strings.HasPrefix(lrc, "http://") || strings.HasPrefix(lrc, "https://")
}

// TrackView 歌曲的 JSON 形态
type TrackView struct {
	ID            string `json:"id"`
	Source        Source `json:"source"`
	SongID        string `json:"songId"`
	Title         string `json:"title"`
	Artist        string `json:"artist"`
	Album         string `json:"album"`
	Cover         string `json:"cover,omitempty"`
	Duration      int    `json:"duration"`
	URL           string `json:"url,omitempty"`
	Lrc           string `json:"lrc,omitempty"`
	ActualQuality string `json:"actualQuality,omitempty"`
	Unplayable    bool   `json:"unplayable,omitempty"`
	UID           string `json:"uid,omitempty"`
}

// View 取一份一致的快照
func (t *Track) View() TrackView {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return TrackView{
		ID:            t.ID(),
		Source:        t.Source,
		SongID:        t.SongID,
		Title:         t.Title,
		Artist:        t.Artist,
		Album:         t.Album,
		Cover:         t.cover,
		Duration:      t.Duration,
		URL:           t.url,
		Lrc:           t.lrc,
		ActualQuality: t.actualQuality,
		Unplayable:    t.unplayable,
		UID:           t.UID,
	}
}

// HistoryView 写入历史时使用：去掉会过期的 url 和 URL 形式的歌词
func (t *Track) HistoryView() TrackView {
	v := t.View()
	v.URL = ""
	v.Unplayable = false
	if IsRemoteLyrics(v.Lrc) {
		v.Lrc = ""
	}
	return v
}

func (t *Track) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.View())
}

func (t *Track) UnmarshalJSON(data []byte) error {
	var v TrackView
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	src := FromView(v)
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Source, t.SongID = src.Source, src.SongID
	t.Title, t.Artist, t.Album = src.Title, src.Artist, src.Album
	t.Duration, t.UID = src.Duration, src.UID
	t.cover, t.url, t.lrc = src.cover, src.url, src.lrc
	t.actualQuality, t.unplayable = src.actualQuality, src.unplayable
	return nil
}

// FromView 由 JSON 形态还原歌曲。songId 缺失时从 id 中截取
func FromView(v TrackView) *Track {
	source := v.Source
	songID := v.SongID
	if songID == "" && v.ID != "" {
		if prefix, rest, ok := strings.Cut(v.ID, "-"); ok {
			songID = rest
			if source == "" {
				source = Source(prefix)
			}
		} else {
			songID = v.ID
		}
	}
	return &Track{
		Source:        source,
		SongID:        songID,
		Title:         v.Title,
		Artist:        v.Artist,
		Album:         v.Album,
		Duration:      v.Duration,
		UID:           v.UID,
		cover:         v.Cover,
		url:           v.URL,
		lrc:           v.Lrc,
		actualQuality: v.ActualQuality,
		unplayable:    v.Unplayable,
	}
}
