package catalog

import (
	"regexp"
	"strings"

	"musicsquare/model"
)

var (
	neteasePlaylistID = regexp.MustCompile(`[?&]id=(\d+)`)
	qqPlaylistID      = regexp.MustCompile(`[?&]id=([\d\w]+)`)
	kuwoPlaylistID    = regexp.MustCompile(`playlist_detail/(\d+)`)
	rawPlaylistID     = regexp.MustCompile(`^\d+$`)
)

// ParsePlaylistURL 从分享链接中识别平台与歌单 id。
// 纯数字时返回 Source 为空的引用，由调用方决定平台
func ParsePlaylistURL(raw string) (model.PlaylistRef, bool) {
	u := strings.TrimSpace(raw)
	if u == "" {
		return model.PlaylistRef{}, false
	}

	if strings.Contains(u, "163.com") {
		if m := neteasePlaylistID.FindStringSubmatch(u); m != nil {
			return model.PlaylistRef{Source: model.SourceNetease, ID: m[1]}, true
		}
	}
	if strings.Contains(u, "qq.com") || strings.Contains(u, "tencent") {
		if m := qqPlaylistID.FindStringSubmatch(u); m != nil {
			return model.PlaylistRef{Source: model.SourceQQ, ID: m[1]}, true
		}
	}
	if strings.Contains(u, "kuwo.cn") {
		if m := kuwoPlaylistID.FindStringSubmatch(u); m != nil {
			return model.PlaylistRef{Source: model.SourceKuwo, ID: m[1]}, true
		}
	}
	if rawPlaylistID.MatchString(u) {
		return model.PlaylistRef{ID: u}, true
	}
	return model.PlaylistRef{}, false
}
