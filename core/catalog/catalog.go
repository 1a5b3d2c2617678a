package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"musicsquare/logger"
	"musicsquare/model"

	"github.com/samber/lo"
	"github.com/tidwall/gjson"
)

var (
	// ErrUnrecognizedShape 上游响应结构无法识别
	ErrUnrecognizedShape = errors.New("unrecognized response shape")
	// ErrUnknownSource 未注册的平台
	ErrUnknownSource = errors.New("unknown source")
)

const (
	unknownTitle   = "未知歌曲"
	unknownArtist  = "未知歌手"
	unknownAlbum   = "-"
	unknownToplist = "未知榜单"
)

// Adapter 单个平台的目录接口
type Adapter interface {
	Source() model.Source
	// Search page 从 1 开始
	Search(ctx context.Context, keyword string, page, limit int) ([]*model.Track, error)
	Playlist(ctx context.Context, id string) (*model.Chart, error)
	Toplists(ctx context.Context) ([]model.Toplist, error)
	Toplist(ctx context.Context, id string) ([]*model.Track, error)
}

// URLRewriter 把需要代理的媒体地址改写为 edge 地址
type URLRewriter interface {
	ProxyURL(raw string, source model.Source) string
}

// Registry 平台适配器注册表
type Registry struct {
	mu       sync.RWMutex
	adapters map[model.Source]Adapter
}

// NewRegistry 创建注册表
func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[model.Source]Adapter)}
	for _, a := range adapters {
		r.Register(a)
	}
	return r
}

// Register 注册适配器，同一平台重复注册时覆盖
func (r *Registry) Register(a Adapter) {
	r.mu.Lock()
	r.adapters[a.Source()] = a
	r.mu.Unlock()
}

// Get 获取指定平台的适配器
func (r *Registry) Get(source model.Source) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[source]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSource, source)
	}
	return a, nil
}

// Sources 已注册的平台，按 model.AllSources 的优先级排序
func (r *Registry) Sources() []model.Source {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return lo.Filter(model.AllSources, func(s model.Source, _ int) bool {
		_, ok := r.adapters[s]
		return ok
	})
}

// ImportPlaylist 拉取歌单。任何失败都返回空的“未知歌单”，不向上传播
func (r *Registry) ImportPlaylist(ctx context.Context, ref model.PlaylistRef) *model.Chart {
	a, err := r.Get(ref.Source)
	if err != nil {
		logger.Warn("[Catalog] playlist import with unknown source", logger.String("source", string(ref.Source)))
		return model.EmptyChart()
	}
	chart, err := a.Playlist(ctx, ref.ID)
	if err != nil {
		logger.Warn("[Catalog] playlist fetch failed",
			logger.String("source", string(ref.Source)),
			logger.String("id", ref.ID),
			logger.ErrorField(err))
		return model.EmptyChart()
	}
	return chart
}

// Toplists 获取平台榜单列表，失败时返回空列表
func (r *Registry) Toplists(ctx context.Context, source model.Source) []model.Toplist {
	a, err := r.Get(source)
	if err != nil {
		return []model.Toplist{}
	}
	lists, err := a.Toplists(ctx)
	if err != nil {
		logger.Warn("[Catalog] toplists fetch failed", logger.String("source", string(source)), logger.ErrorField(err))
		return []model.Toplist{}
	}
	return lists
}

// ToplistTracks 获取榜单歌曲，失败时返回空列表
func (r *Registry) ToplistTracks(ctx context.Context, source model.Source, id string) []*model.Track {
	a, err := r.Get(source)
	if err != nil {
		return []*model.Track{}
	}
	tracks, err := a.Toplist(ctx, id)
	if err != nil {
		logger.Warn("[Catalog] toplist detail failed",
			logger.String("source", string(source)),
			logger.String("id", id),
			logger.ErrorField(err))
		return []*model.Track{}
	}
	return tracks
}

// ========== 通用解析辅助 ==========

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

// joinNames 把 [{name}] 数组拼成 "a, b"
func joinNames(arr gjson.Result) string {
	names := lo.FilterMap(arr.Array(), func(item gjson.Result, _ int) (string, bool) {
		n := item.Get("name").String()
		return n, n != ""
	})
	if len(names) == 0 {
		return unknownArtist
	}
	return strings.Join(names, ", ")
}

// qqAlbumCover QQ 专辑封面由 albummid 拼出
func qqAlbumCover(albumMid string) string {
	if albumMid == "" {
		return ""
	}
	return "https://y.gtimg.cn/music/photo_new/T002R300x300M000" + albumMid + ".jpg"
}
