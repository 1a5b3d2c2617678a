package edge

import (
	"net/url"
	"strings"
	"testing"

	"musicsquare/model"
)

func TestRewriterProxyURL(t *testing.T) {
	r := NewRewriter("https://edge.example.com/api/")
	prefix := "https://edge.example.com/api/proxy?url="

	cases := []struct {
		name   string
		in     string
		source model.Source
		want   string
	}{
		{"empty", "", "", ""},
		{"netease http upgraded and direct", "http://m701.music.126.net/a.mp3", "", "https://m701.music.126.net/a.mp3"},
		{"netease https direct", "https://p1.music.126.net/c.jpg", model.SourceNetease, "https://p1.music.126.net/c.jpg"},
		{"qq upgraded and proxied", "http://ws.stream.qqmusic.qq.com/a.m4a", "", prefix + url.QueryEscape("https://ws.stream.qqmusic.qq.com/a.m4a")},
		{"kuwo downgraded and proxied", "https://sycdn.kuwo.cn/a.mp3", "", prefix + url.QueryEscape("http://sycdn.kuwo.cn/a.mp3")},
		{"kuwo source forces proxy", "https://cdn.example.com/x.jpg", model.SourceKuwo, prefix + url.QueryEscape("https://cdn.example.com/x.jpg")},
		{"kuwo api marker", "https://api.example.com/url?source=kuwo&id=1", "", prefix + url.QueryEscape("https://api.example.com/url?source=kuwo&id=1")},
		{"unrelated host untouched", "https://cdn.example.com/a.mp3", model.SourceQQ, "https://cdn.example.com/a.mp3"},
		{"localhost untouched", "http://localhost:3000/a.mp3", model.SourceKuwo, "http://localhost:3000/a.mp3"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := r.ProxyURL(tc.in, tc.source); got != tc.want {
				t.Errorf("ProxyURL(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}

	t.Run("never double wraps", func(t *testing.T) {
		once := r.ProxyURL("http://sycdn.kuwo.cn/a.mp3", "")
		if twice := r.ProxyURL(once, model.SourceKuwo); twice != once {
			t.Errorf("double wrap: %q", twice)
		}
		if strings.Count(once, "/proxy?url=") != 1 {
			t.Errorf("unexpected proxy url %q", once)
		}
	})
}
