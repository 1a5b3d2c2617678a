package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"musicsquare/model"

	"github.com/dop251/goja"
	"github.com/samber/lo"
	"github.com/tidwall/gjson"
)

const (
	kuwoSearchURL   = "http://www.kuwo.cn/search/searchMusicBykeyWord"
	kuwoPlaylistURL = "http://nplserver.kuwo.cn/pl.svc"
	kuwoToplistsURL = "http://qukudata.kuwo.cn/q.k?op=query&cont=tree&node=2&pn=0&rn=1000&fmt=json&level=2"
	kuwoToplistURL  = "http://kbangserver.kuwo.cn/ksong.s"
	kuwoCoverBase   = "https://img1.kuwo.cn/star/albumcover/"
)

// kuwoEvalTimeout 执行上游 JS 字面量的时间上限
const kuwoEvalTimeout = 2 * time.Second

// KuwoAdapter 酷我。封面一律经 edge 代理
type KuwoAdapter struct {
	req      Requester
	rewriter URLRewriter
}

// NewKuwoAdapter rewriter 可为 nil，此时封面保持原样
func NewKuwoAdapter(req Requester, rewriter URLRewriter) *KuwoAdapter {
	return &KuwoAdapter{req: req, rewriter: rewriter}
}

func (k *KuwoAdapter) Source() model.Source {
	return model.SourceKuwo
}

func (k *KuwoAdapter) proxied(raw string) string {
	if raw == "" || k.rewriter == nil {
		return raw
	}
	return k.rewriter.ProxyURL(raw, model.SourceKuwo)
}

func (k *KuwoAdapter) fetch(ctx context.Context, target string) (gjson.Result, error) {
	body, err := k.req.Do(ctx, Request{URL: target})
	if err != nil {
		return gjson.Result{}, err
	}
	return decodeKuwoPayload(body)
}

// decodeKuwoPayload 酷我的搜索接口可能返回 "jsondata=" 前缀加单引号的 JS 对象字面量，
// 合法 JSON 直接解析，否则交给 goja 求值后再转成 JSON
func decodeKuwoPayload(body []byte) (gjson.Result, error) {
	text := strings.TrimSpace(string(body))
	text = strings.TrimPrefix(text, "jsondata=")
	if text == "" {
		return gjson.Result{}, fmt.Errorf("%w: empty kuwo payload", ErrUnrecognizedShape)
	}
	if gjson.Valid(text) {
		return gjson.Parse(text), nil
	}
	if !strings.HasPrefix(text, "{") && !strings.HasPrefix(text, "[") {
		return gjson.Result{}, fmt.Errorf("%w: kuwo payload is not an object literal", ErrUnrecognizedShape)
	}

	vm := goja.New()
	timer := time.AfterFunc(kuwoEvalTimeout, func() {
		vm.Interrupt("kuwo literal evaluation timed out")
	})
	defer timer.Stop()

	value, err := vm.RunString("(" + text + ")")
	if err != nil {
		return gjson.Result{}, fmt.Errorf("%w: kuwo literal: %v", ErrUnrecognizedShape, err)
	}
	data, err := json.Marshal(value.Export())
	if err != nil {
		return gjson.Result{}, fmt.Errorf("%w: kuwo literal export: %v", ErrUnrecognizedShape, err)
	}
	return gjson.ParseBytes(data), nil
}

// Search searchMusicBykeyWord，strategy=2012 优先返回正版而不是翻唱
func (k *KuwoAdapter) Search(ctx context.Context, keyword string, page, limit int) ([]*model.Track, error) {
	v := url.Values{}
	v.Set("vipver", "1")
	v.Set("client", "kt")
	v.Set("ft", "music")
	v.Set("cluster", "0")
	v.Set("strategy", "2012")
	v.Set("encoding", "utf8")
	v.Set("rformat", "json")
	v.Set("mobi", "1")
	v.Set("issubtitle", "1")
	v.Set("show_copyright_off", "1")
	v.Set("pn", strconv.Itoa(page-1))
	v.Set("rn", strconv.Itoa(limit))
	v.Set("all", keyword)

	res, err := k.fetch(ctx, kuwoSearchURL+"?"+v.Encode())
	if err != nil {
		return nil, err
	}
	return k.parseSearch(res)
}

func (k *KuwoAdapter) parseSearch(res gjson.Result) ([]*model.Track, error) {
	list := res.Get("abslist")
	if !list.Exists() {
		return nil, fmt.Errorf("%w: kuwo search without abslist", ErrUnrecognizedShape)
	}
	return lo.FilterMap(list.Array(), func(item gjson.Result, _ int) (*model.Track, bool) {
		songID := strings.TrimPrefix(item.Get("MUSICRID").String(), "MUSIC_")
		if songID == "" {
			return nil, false
		}
		cover := ""
		if short := item.Get("web_albumpic_short").String(); short != "" {
			cover = k.proxied(kuwoCoverBase + short)
		}
		artist := strings.ReplaceAll(item.Get("ARTIST").String(), "&", ", ")
		duration, _ := strconv.Atoi(item.Get("DURATION").String())
		return model.NewTrack(model.SourceKuwo,
			songID,
			orDefault(item.Get("SONGNAME").String(), unknownTitle),
			orDefault(artist, unknownArtist),
			orDefault(item.Get("ALBUM").String(), unknownAlbum),
			cover,
			duration,
		), true
	}), nil
}

// musiclistTracks pl.svc 与 ksong.s 共用的 musiclist 结构
func (k *KuwoAdapter) musiclistTracks(list gjson.Result) []*model.Track {
	return lo.Map(list.Array(), func(item gjson.Result, _ int) *model.Track {
		cover := ""
		if pic := item.Get("pic").String(); pic != "" {
			cover = k.proxied(strings.Replace(pic, "_120.", "_500.", 1))
		}
		duration, _ := strconv.Atoi(item.Get("duration").String())
		return model.NewTrack(model.SourceKuwo,
			item.Get("id").String(),
			orDefault(item.Get("name").String(), unknownTitle),
			orDefault(item.Get("artist").String(), unknownArtist),
			orDefault(item.Get("album").String(), unknownAlbum),
			cover,
			duration,
		)
	})
}

// Playlist pl.svc getlistinfo，最多 2000 首
func (k *KuwoAdapter) Playlist(ctx context.Context, id string) (*model.Chart, error) {
	v := url.Values{}
	v.Set("op", "getlistinfo")
	v.Set("pid", id)
	v.Set("pn", "0")
	v.Set("rn", "2000")
	v.Set("encode", "utf8")
	v.Set("keyset", "pl2012")
	v.Set("vipver", "MUSIC_9.0.5.0_W1")
	v.Set("newver", "1")

	res, err := k.fetch(ctx, kuwoPlaylistURL+"?"+v.Encode())
	if err != nil {
		return nil, err
	}
	list := res.Get("musiclist")
	if !list.IsArray() {
		return nil, fmt.Errorf("%w: kuwo playlist %s without musiclist", ErrUnrecognizedShape, id)
	}
	return &model.Chart{
		Name:   orDefault(res.Get("title").String(), model.UnknownChartName),
		Tracks: k.musiclistTracks(list),
	}, nil
}

// Toplists q.k 榜单树，只保留 source=="1" 的榜单节点
func (k *KuwoAdapter) Toplists(ctx context.Context) ([]model.Toplist, error) {
	res, err := k.fetch(ctx, kuwoToplistsURL)
	if err != nil {
		return nil, err
	}
	child := res.Get("child")
	if !child.IsArray() {
		return nil, fmt.Errorf("%w: kuwo toplists without child", ErrUnrecognizedShape)
	}
	return lo.FilterMap(child.Array(), func(item gjson.Result, _ int) (model.Toplist, bool) {
		if item.Get("source").String() != "1" {
			return model.Toplist{}, false
		}
		return model.Toplist{
			ID:              item.Get("sourceid").String(),
			Name:            orDefault(item.Get("name").String(), unknownToplist),
			Pic:             k.proxied(item.Get("pic").String()),
			UpdateFrequency: orDefault(item.Get("info").String(), "定期更新"),
			Source:          model.SourceKuwo,
		}, true
	}), nil
}

// Toplist ksong.s 榜单详情，取前 100 首
func (k *KuwoAdapter) Toplist(ctx context.Context, id string) ([]*model.Track, error) {
	v := url.Values{}
	v.Set("from", "pc")
	v.Set("fmt", "json")
	v.Set("pn", "0")
	v.Set("rn", "100")
	v.Set("type", "bang")
	v.Set("data", "content")
	v.Set("id", id)
	v.Set("show_copyright_off", "0")
	v.Set("pcmp4", "1")
	v.Set("isbang", "1")

	res, err := k.fetch(ctx, kuwoToplistURL+"?"+v.Encode())
	if err != nil {
		return nil, err
	}
	list := res.Get("musiclist")
	if !list.IsArray() {
		return nil, fmt.Errorf("%w: kuwo toplist %s without musiclist", ErrUnrecognizedShape, id)
	}
	return k.musiclistTracks(list), nil
}
