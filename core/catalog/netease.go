package catalog

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"musicsquare/logger"
	"musicsquare/model"

	"github.com/samber/lo"
	"github.com/tidwall/gjson"
)

// neteaseDetailChunk song/detail 每次请求的 id 数，避免 URL 过长
const neteaseDetailChunk = 50

// neteaseToplistLimit 榜单详情只取前 100 首
const neteaseToplistLimit = 100

// NeteaseAdapter 网易云，依赖一个 NeteaseCloudMusicApi 实例
type NeteaseAdapter struct {
	baseURL string
	req     Requester
}

// NewNeteaseAdapter baseURL 例如 http://localhost:3000
func NewNeteaseAdapter(baseURL string, req Requester) *NeteaseAdapter {
	return &NeteaseAdapter{baseURL: strings.TrimRight(baseURL, "/"), req: req}
}

func (n *NeteaseAdapter) Source() model.Source {
	return model.SourceNetease
}

func (n *NeteaseAdapter) get(ctx context.Context, path string, query url.Values) (gjson.Result, error) {
	body, err := n.req.Do(ctx, Request{URL: n.baseURL + path + "?" + query.Encode()})
	if err != nil {
		return gjson.Result{}, err
	}
	if !gjson.ValidBytes(body) {
		return gjson.Result{}, fmt.Errorf("%w: netease %s returned non-JSON", ErrUnrecognizedShape, path)
	}
	res := gjson.ParseBytes(body)
	if code := res.Get("code").Int(); code != 200 {
		return gjson.Result{}, fmt.Errorf("%w: netease %s code %d", ErrUnrecognizedShape, path, code)
	}
	return res, nil
}

// Search /search?keywords=&offset=&limit=
func (n *NeteaseAdapter) Search(ctx context.Context, keyword string, page, limit int) ([]*model.Track, error) {
	q := url.Values{}
	q.Set("keywords", keyword)
	q.Set("offset", strconv.Itoa((page-1)*limit))
	q.Set("limit", strconv.Itoa(limit))

	res, err := n.get(ctx, "/search", q)
	if err != nil {
		return nil, err
	}
	return parseNeteaseSearch(res)
}

func parseNeteaseSearch(res gjson.Result) ([]*model.Track, error) {
	songs := res.Get("result.songs")
	if !songs.Exists() {
		if res.Get("result").Exists() {
			// 没有匹配结果时 result 里只有 songCount
			return []*model.Track{}, nil
		}
		return nil, fmt.Errorf("%w: netease search without result", ErrUnrecognizedShape)
	}
	return lo.Map(songs.Array(), func(item gjson.Result, _ int) *model.Track {
		return model.NewTrack(model.SourceNetease,
			item.Get("id").String(),
			orDefault(item.Get("name").String(), unknownTitle),
			joinNames(item.Get("artists")),
			orDefault(item.Get("album.name").String(), unknownAlbum),
			item.Get("album.picUrl").String(),
			int(item.Get("duration").Int()/1000),
		)
	}), nil
}

// neteaseDetailTrack song/detail 中 songs[] 的字段是 ar/al/dt
func neteaseDetailTrack(item gjson.Result) *model.Track {
	return model.NewTrack(model.SourceNetease,
		item.Get("id").String(),
		orDefault(item.Get("name").String(), unknownTitle),
		joinNames(item.Get("ar")),
		orDefault(item.Get("al.name").String(), unknownAlbum),
		item.Get("al.picUrl").String(),
		int(item.Get("dt").Int()/1000),
	)
}

// songDetails 分块拉取歌曲详情，并按 ids 的顺序返回。拉取失败的分块被跳过
func (n *NeteaseAdapter) songDetails(ctx context.Context, ids []string) []*model.Track {
	detail := make(map[string]*model.Track, len(ids))
	for _, chunk := range lo.Chunk(ids, neteaseDetailChunk) {
		q := url.Values{}
		q.Set("ids", strings.Join(chunk, ","))
		res, err := n.get(ctx, "/song/detail", q)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			logger.Warn("[Netease] song detail chunk failed", logger.Int("size", len(chunk)), logger.ErrorField(err))
			continue
		}
		for _, item := range res.Get("songs").Array() {
			t := neteaseDetailTrack(item)
			detail[t.SongID] = t
		}
	}

	return lo.FilterMap(ids, func(id string, _ int) (*model.Track, bool) {
		t, ok := detail[id]
		return t, ok
	})
}

func (n *NeteaseAdapter) playlistDetail(ctx context.Context, id string) (name string, ids []string, err error) {
	q := url.Values{}
	q.Set("id", id)
	res, err := n.get(ctx, "/playlist/detail", q)
	if err != nil {
		return "", nil, err
	}
	playlist := res.Get("playlist")
	if !playlist.Exists() {
		return "", nil, fmt.Errorf("%w: netease playlist %s missing", ErrUnrecognizedShape, id)
	}
	ids = lo.Map(playlist.Get("trackIds").Array(), func(t gjson.Result, _ int) string {
		return t.Get("id").String()
	})
	return playlist.Get("name").String(), ids, nil
}

// Playlist 完整导入歌单，不限制歌曲数量
func (n *NeteaseAdapter) Playlist(ctx context.Context, id string) (*model.Chart, error) {
	name, ids, err := n.playlistDetail(ctx, id)
	if err != nil {
		return nil, err
	}
	tracks := []*model.Track{}
	if len(ids) > 0 {
		tracks = n.songDetails(ctx, ids)
	}
	return &model.Chart{Name: orDefault(name, model.UnknownChartName), Tracks: tracks}, nil
}

// Toplists /toplist
func (n *NeteaseAdapter) Toplists(ctx context.Context) ([]model.Toplist, error) {
	res, err := n.get(ctx, "/toplist", url.Values{})
	if err != nil {
		return nil, err
	}
	list := res.Get("list")
	if !list.IsArray() {
		return nil, fmt.Errorf("%w: netease toplist without list", ErrUnrecognizedShape)
	}
	return lo.Map(list.Array(), func(item gjson.Result, _ int) model.Toplist {
		return model.Toplist{
			ID:              item.Get("id").String(),
			Name:            orDefault(item.Get("name").String(), unknownToplist),
			Pic:             item.Get("coverImgUrl").String(),
			UpdateFrequency: item.Get("updateFrequency").String(),
			Source:          model.SourceNetease,
		}
	}), nil
}

// Toplist 榜单本身就是歌单，取前 100 首
func (n *NeteaseAdapter) Toplist(ctx context.Context, id string) ([]*model.Track, error) {
	_, ids, err := n.playlistDetail(ctx, id)
	if err != nil {
		return nil, err
	}
	if len(ids) > neteaseToplistLimit {
		ids = ids[:neteaseToplistLimit]
	}
	if len(ids) == 0 {
		return []*model.Track{}, nil
	}
	return n.songDetails(ctx, ids), nil
}
