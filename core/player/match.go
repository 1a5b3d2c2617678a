package player

import (
	"strings"
	"unicode"

	"musicsquare/model"
)

// fallbackLimit 兜底搜索只看前几条
const fallbackLimit = 5

// normalizeLoose 小写、去标点，常见分隔符折叠成空格
func normalizeLoose(s string) string {
	trimmed := strings.TrimSpace(strings.ToLower(s))
	if trimmed == "" {
		return ""
	}
	var b strings.Builder
	b.Grow(len(trimmed))
	for _, r := range trimmed {
		switch {
		case unicode.IsLetter(r), unicode.IsNumber(r):
			b.WriteRune(r)
		case unicode.IsSpace(r):
			b.WriteByte(' ')
		case r == '/', r == '\\', r == '_', r == '-', r == '|', r == '.', r == '&', r == '+', r == ',':
			b.WriteByte(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// baseTitle 去掉 "歌名 (Live)" 这类括号后缀
func baseTitle(title string) string {
	if i := strings.Index(title, " ("); i >= 0 {
		title = title[:i]
	}
	return strings.TrimSpace(title)
}

// containsEither a 包含 b 或 b 包含 a
func containsEither(a, b string) bool {
	return strings.Contains(a, b) || strings.Contains(b, a)
}

// bestMatch 标题互相包含且歌手相同或互相包含的第一条结果
func bestMatch(t *model.Track, candidates []*model.Track) *model.Track {
	title := normalizeLoose(baseTitle(t.Title))
	if title == "" {
		return nil
	}
	artist := normalizeLoose(t.Artist)
	for _, c := range candidates {
		if c == nil || c.ID() == t.ID() {
			continue
		}
		ct := normalizeLoose(c.Title)
		if ct == "" || !containsEither(ct, title) {
			continue
		}
		if containsEither(normalizeLoose(c.Artist), artist) {
			return c
		}
	}
	return nil
}
