package model

// Chart 歌单/榜单的一次性结果，用于填充界面或导入为持久化歌单
type Chart struct {
	Name   string   `json:"name"`
	Tracks []*Track `json:"tracks"`
}

// UnknownChartName 解析失败时的歌单名
const UnknownChartName = "未知歌单"

// EmptyChart 解析失败时返回的空歌单
func EmptyChart() *Chart {
	return &Chart{Name: UnknownChartName, Tracks: []*Track{}}
}

// Toplist 平台榜单条目
type Toplist struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	Pic             string `json:"pic"`
	UpdateFrequency string `json:"updateFrequency"`
	Source          Source `json:"source"`
}

// PlaylistRef 从分享链接中解析出的歌单引用。Source 为空表示只给了纯数字 id
type PlaylistRef struct {
	Source Source `json:"source,omitempty"`
	ID     string `json:"id"`
}
