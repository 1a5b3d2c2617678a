package catalog

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"musicsquare/model"

	"github.com/samber/lo"
	"github.com/tidwall/gjson"
)

const (
	qqSearchURL   = "https://shc.y.qq.com/soso/fcgi-bin/search_for_qq_cp"
	qqPlaylistURL = "https://c.y.qq.com/qzone/fcg-bin/fcg_ucc_getcdinfo_byids_cp.fcg"
	qqMusicuURL   = "https://u.y.qq.com/cgi-bin/musicu.fcg"
)

var qqHeaders = map[string]string{
	"Referer": "https://y.qq.com/",
}

// qqComm musicu.fcg 的公共参数
var qqComm = map[string]any{
	"cv": 4747474, "ct": 24, "format": "json",
	"inCharset": "utf-8", "outCharset": "utf-8", "uin": 0,
}

// QQAdapter QQ 音乐
type QQAdapter struct {
	req Requester
}

// NewQQAdapter 创建适配器
func NewQQAdapter(req Requester) *QQAdapter {
	return &QQAdapter{req: req}
}

func (q *QQAdapter) Source() model.Source {
	return model.SourceQQ
}

func (q *QQAdapter) fetch(ctx context.Context, r Request) (gjson.Result, error) {
	if r.Header == nil {
		r.Header = qqHeaders
	}
	body, err := q.req.Do(ctx, r)
	if err != nil {
		return gjson.Result{}, err
	}
	if !gjson.ValidBytes(body) {
		return gjson.Result{}, fmt.Errorf("%w: qq returned non-JSON", ErrUnrecognizedShape)
	}
	return gjson.ParseBytes(body), nil
}

func (q *QQAdapter) musicu(ctx context.Context, req map[string]any) (gjson.Result, error) {
	body := map[string]any{"comm": qqComm}
	for k, v := range req {
		body[k] = v
	}
	return q.fetch(ctx, Request{
		Method: http.MethodPost,
		URL:    qqMusicuURL,
		Header: map[string]string{"Referer": "https://y.qq.com/", "Content-Type": "application/json"},
		Body:   body,
	})
}

// Search search_for_qq_cp，结果在 data.song.list
func (q *QQAdapter) Search(ctx context.Context, keyword string, page, limit int) ([]*model.Track, error) {
	v := url.Values{}
	v.Set("w", keyword)
	v.Set("p", strconv.Itoa(page))
	v.Set("n", strconv.Itoa(limit))
	v.Set("format", "json")

	res, err := q.fetch(ctx, Request{URL: qqSearchURL + "?" + v.Encode()})
	if err != nil {
		return nil, err
	}
	return parseQQSearch(res)
}

func parseQQSearch(res gjson.Result) ([]*model.Track, error) {
	list := res.Get("data.song.list")
	if !list.IsArray() {
		return nil, fmt.Errorf("%w: qq search without data.song.list", ErrUnrecognizedShape)
	}
	return lo.Map(list.Array(), func(item gjson.Result, _ int) *model.Track {
		return model.NewTrack(model.SourceQQ,
			item.Get("songmid").String(),
			orDefault(item.Get("songname").String(), unknownTitle),
			joinNames(item.Get("singer")),
			orDefault(item.Get("albumname").String(), unknownAlbum),
			qqAlbumCover(item.Get("albummid").String()),
			int(item.Get("interval").Int()),
		)
	}), nil
}

// Playlist fcg_ucc_getcdinfo_byids_cp，song_num=10000 保证完整导入
func (q *QQAdapter) Playlist(ctx context.Context, id string) (*model.Chart, error) {
	v := url.Values{}
	v.Set("type", "1")
	v.Set("json", "1")
	v.Set("utf8", "1")
	v.Set("onlysong", "0")
	v.Set("disstid", id)
	v.Set("format", "json")
	v.Set("song_begin", "0")
	v.Set("song_num", "10000")

	res, err := q.fetch(ctx, Request{URL: qqPlaylistURL + "?" + v.Encode()})
	if err != nil {
		return nil, err
	}
	cd := res.Get("cdlist.0")
	if !cd.Exists() {
		return nil, fmt.Errorf("%w: qq playlist %s without cdlist", ErrUnrecognizedShape, id)
	}
	tracks := lo.Map(cd.Get("songlist").Array(), func(item gjson.Result, _ int) *model.Track {
		return model.NewTrack(model.SourceQQ,
			item.Get("songmid").String(),
			orDefault(item.Get("songname").String(), unknownTitle),
			joinNames(item.Get("singer")),
			orDefault(item.Get("albumname").String(), unknownAlbum),
			qqAlbumCover(item.Get("albummid").String()),
			int(item.Get("interval").Int()),
		)
	})
	return &model.Chart{Name: orDefault(cd.Get("dissname").String(), model.UnknownChartName), Tracks: tracks}, nil
}

// Toplists musicToplist.ToplistInfoServer/GetAll
func (q *QQAdapter) Toplists(ctx context.Context) ([]model.Toplist, error) {
	res, err := q.musicu(ctx, map[string]any{
		"toplist": map[string]any{"module": "musicToplist.ToplistInfoServer", "method": "GetAll", "param": map[string]any{}},
	})
	if err != nil {
		return nil, err
	}
	groups := res.Get("toplist.data.group")
	if !groups.IsArray() {
		return nil, fmt.Errorf("%w: qq toplist without group", ErrUnrecognizedShape)
	}

	lists := []model.Toplist{}
	for _, group := range groups.Array() {
		for _, item := range group.Get("toplist").Array() {
			pic := item.Get("headPicUrl").String()
			if pic == "" {
				pic = item.Get("frontPicUrl").String()
			}
			freq := "每周更新"
			if item.Get("updateType").Int() == 1 {
				freq = "每日更新"
			}
			lists = append(lists, model.Toplist{
				ID:              item.Get("topId").String(),
				Name:            orDefault(item.Get("title").String(), unknownToplist),
				Pic:             pic,
				UpdateFrequency: freq,
				Source:          model.SourceQQ,
			})
		}
	}
	return lists, nil
}

// Toplist musicToplist.ToplistInfoServer/GetDetail，取前 100 首
func (q *QQAdapter) Toplist(ctx context.Context, id string) ([]*model.Track, error) {
	topID, err := strconv.Atoi(id)
	if err != nil {
		return nil, fmt.Errorf("invalid qq toplist id %q: %w", id, err)
	}
	res, err := q.musicu(ctx, map[string]any{
		"req": map[string]any{
			"module": "musicToplist.ToplistInfoServer",
			"method": "GetDetail",
			"param":  map[string]any{"topid": topID, "num": 100, "period": ""},
		},
	})
	if err != nil {
		return nil, err
	}
	list := res.Get("req.data.songInfoList")
	if !list.IsArray() {
		return nil, fmt.Errorf("%w: qq toplist %s without songInfoList", ErrUnrecognizedShape, id)
	}
	return lo.Map(list.Array(), func(item gjson.Result, _ int) *model.Track {
		return model.NewTrack(model.SourceQQ,
			item.Get("mid").String(),
			orDefault(item.Get("name").String(), unknownTitle),
			joinNames(item.Get("singer")),
			orDefault(item.Get("album.name").String(), unknownAlbum),
			qqAlbumCover(item.Get("album.mid").String()),
			int(item.Get("interval").Int()),
		)
	}), nil
}
