package model

import (
	"strconv"
	"time"
)

// PlayHistory 播放历史行，每个用户最多保留 MaxHistory 条
type PlayHistory struct {
	ID            int64     `gorm:"primaryKey;autoIncrement" json:"uid"`
	UserID        int64     `gorm:"index:idx_user_played,priority:1;not null" json:"userId"`
	TrackID       string    `gorm:"size:128;not null" json:"id"`
	Source        string    `gorm:"size:16;not null" json:"source"`
	SongID        string    `gorm:"size:96;not null" json:"songId"`
	Title         string    `gorm:"size:255" json:"title"`
	Artist        string    `gorm:"size:255" json:"artist"`
	Album         string    `gorm:"size:255" json:"album"`
	Cover         string    `gorm:"size:1024" json:"cover"`
	Duration      int       `json:"duration"`
	Lrc           string    `gorm:"type:mediumtext" json:"lrc"`
	ActualQuality string    `gorm:"size:16" json:"actualQuality"`
	PlayedAt      time.Time `gorm:"index:idx_user_played,priority:2;not null" json:"playedAt"`
}

// TableName 指定表名
func (PlayHistory) TableName() string {
	return "play_history"
}

// MaxHistory 历史栈与持久化历史的共同上限
const MaxHistory = 100

// NewPlayHistory 由歌曲生成历史行，url 与 URL 形式的歌词不入库
func NewPlayHistory(userID int64, t *Track, playedAt time.Time) *PlayHistory {
	v := t.HistoryView()
	return &PlayHistory{
		UserID:        userID,
		TrackID:       v.ID,
		Source:        string(v.Source),
		SongID:        v.SongID,
		Title:         v.Title,
		Artist:        v.Artist,
		Album:         v.Album,
		Cover:         v.Cover,
		Duration:      v.Duration,
		Lrc:           v.Lrc,
		ActualQuality: v.ActualQuality,
		PlayedAt:      playedAt,
	}
}

// Track 还原为歌曲，UID 取行主键
func (h *PlayHistory) Track() *Track {
	t := NewTrack(Source(h.Source), h.SongID, h.Title, h.Artist, h.Album, h.Cover, h.Duration)
	t.UID = strconv.FormatInt(h.ID, 10)
	if h.Lrc != "" {
		t.SetLyrics(h.Lrc)
	}
	return t
}
