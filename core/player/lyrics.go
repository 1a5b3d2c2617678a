package player

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// LyricLine 一行歌词
type LyricLine struct {
	Time float64 `json:"time"` // 秒
	Text string  `json:"text"`
}

var lrcTag = regexp.MustCompile(`\[(\d{1,3}):(\d{1,2})(?:\.(\d{1,4}))?\]`)

// untaggedLineLimit 没有时间标签的纯文本歌词，只在总行数较少时把首行当作 0 秒歌词
const untaggedLineLimit = 50

// ParseLyrics 解析 LRC。一行可以有多个时间标签；完全没有标签时每行按 1ms 递增排列
func ParseLyrics(text string) []LyricLine {
	if text == "" {
		return nil
	}
	rawLines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	timed := lrcTag.MatchString(text)

	var lines []LyricLine
	for _, raw := range rawLines {
		content := strings.TrimSpace(lrcTag.ReplaceAllString(raw, ""))
		if content == "" {
			continue
		}
		tags := lrcTag.FindAllStringSubmatch(raw, -1)
		for _, m := range tags {
			minutes, _ := strconv.Atoi(m[1])
			sec, _ := strconv.Atoi(m[2])
			frac := m[3] + "000"
			ms, _ := strconv.Atoi(frac[:3])
			lines = append(lines, LyricLine{
				Time: float64(minutes*60+sec) + float64(ms)/1000,
				Text: content,
			})
		}
		if timed && len(tags) == 0 && len(lines) == 0 && len(rawLines) < untaggedLineLimit {
			lines = append(lines, LyricLine{Time: 0, Text: content})
		}
	}

	if len(lines) > 0 {
		sort.SliceStable(lines, func(i, j int) bool { return lines[i].Time < lines[j].Time })
		return lines
	}
	if strings.TrimSpace(text) == "" {
		return nil
	}
	for i, raw := range rawLines {
		if t := strings.TrimSpace(raw); t != "" {
			lines = append(lines, LyricLine{Time: float64(i) * 0.001, Text: t})
		}
	}
	return lines
}

// LineIndex 位置 t 对应的歌词行，早于第一行时为 -1
func LineIndex(lines []LyricLine, t float64) int {
	return sort.Search(len(lines), func(i int) bool { return lines[i].Time > t }) - 1
}
