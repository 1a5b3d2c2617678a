package edge

import (
	"net/url"
	"strings"

	"musicsquare/model"
)

// Rewriter 决定一个第三方媒体地址是否需要经过 edge 代理。
// 网易云和 QQ 的 CDN 证书有效，一律升级到 https；酷我的证书有问题，一律降级到 http 交给代理。
type Rewriter struct {
	prefix string
}

// NewRewriter base 为 edge 的对外地址（包含 /api 前缀），例如 https://edge.example.com/api
func NewRewriter(base string) *Rewriter {
	return &Rewriter{prefix: strings.TrimRight(base, "/") + "/proxy?url="}
}

// Prefix 代理地址前缀
func (r *Rewriter) Prefix() string {
	return r.prefix
}

// ProxyURL 按平台规则改写地址，source 可为空
func (r *Rewriter) ProxyURL(raw string, source model.Source) string {
	if raw == "" {
		return raw
	}
	if strings.HasPrefix(raw, r.prefix) || strings.Contains(raw, "localhost") || strings.Contains(raw, "127.0.0.1") {
		return raw
	}

	u := raw
	if strings.HasPrefix(u, "http://") && (strings.Contains(u, "music.126.net") || strings.Contains(u, "qq.com")) {
		u = "https://" + strings.TrimPrefix(u, "http://")
	}
	if strings.Contains(u, "kuwo.cn") && strings.HasPrefix(u, "https://") {
		u = "http://" + strings.TrimPrefix(u, "https://")
	}

	// 网易云 https CDN 可以直连
	if strings.Contains(u, "music.126.net") && strings.HasPrefix(u, "https://") {
		return u
	}

	needProxy := strings.Contains(u, "126.net") ||
		strings.Contains(u, "qq.com") ||
		strings.Contains(u, "kuwo.cn")
	if needProxy || strings.Contains(u, "source=kuwo") || source == model.SourceKuwo {
		return r.prefix + url.QueryEscape(u)
	}
	return u
}
