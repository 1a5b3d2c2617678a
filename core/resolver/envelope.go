package resolver

import (
	"github.com/tidwall/gjson"

	"musicsquare/model"
)

// Kind 解析服务响应的形态
type Kind int

const (
	// Unrecognized 无法识别或 code 非 0
	Unrecognized Kind = iota
	// NestedData {data:{data:[{url}]}}
	NestedData
	// SingleObject {data:{url}}
	SingleObject
	// Array {data:[{url}]}
	Array
	// Songs {data:{songs:[{url}]}}
	Songs
)

func (k Kind) String() string {
	switch k {
	case NestedData:
		return "nested-data"
	case SingleObject:
		return "single-object"
	case Array:
		return "array"
	case Songs:
		return "songs"
	default:
		return "unrecognized"
	}
}

// Envelope 归一化后的响应，Payload 是第一首歌的对象
type Envelope struct {
	Kind    Kind
	Payload gjson.Result
}

// ParseEnvelope 按固定顺序识别响应形态。code 存在且不为 0 时视为 Unrecognized
func ParseEnvelope(body []byte) Envelope {
	if !gjson.ValidBytes(body) {
		return Envelope{Kind: Unrecognized}
	}
	root := gjson.ParseBytes(body)
	if code := root.Get("code"); code.Exists() && code.Int() != 0 {
		return Envelope{Kind: Unrecognized}
	}
	data := root.Get("data")
	if !data.Exists() {
		return Envelope{Kind: Unrecognized}
	}

	if nested := data.Get("data"); nested.IsArray() {
		if first := nested.Get("0"); first.IsObject() {
			return Envelope{Kind: NestedData, Payload: first}
		}
	}
	if data.IsObject() && data.Get("url").String() != "" {
		return Envelope{Kind: SingleObject, Payload: data}
	}
	if data.IsArray() {
		if first := data.Get("0"); first.IsObject() {
			return Envelope{Kind: Array, Payload: first}
		}
	}
	if songs := data.Get("songs"); songs.IsArray() {
		if first := songs.Get("0"); first.IsObject() {
			return Envelope{Kind: Songs, Payload: first}
		}
	}
	return Envelope{Kind: Unrecognized}
}

// Resolution 把 payload 转成可播放信息，tier 为本次请求的档位
func (e Envelope) Resolution(tier model.Quality) model.Resolution {
	p := e.Payload
	lrc := p.Get("lyrics")
	if !lrc.Exists() || (lrc.Type != gjson.JSON && lrc.String() == "") {
		lrc = p.Get("lyric")
	}
	// 部分平台的歌词是 {original, translated}
	if lrc.IsObject() {
		lrc = lrc.Get("original")
	}

	quality := p.Get("actualQuality").String()
	if quality == "" {
		quality = string(tier)
	}
	return model.Resolution{
		URL:           p.Get("url").String(),
		Cover:         p.Get("cover").String(),
		Lyrics:        lrc.String(),
		ActualQuality: quality,
	}
}
