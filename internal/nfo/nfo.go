package nfo

import (
	"encoding/xml"
	"strings"

	"github.com/John-Robertt/AVSort/internal/domain"
)

const (
	// DefaultCountry / DefaultMPAA 不对外暴露配置；保持最小但够用。
	DefaultCountry = "JP"
	DefaultMPAA    = "R18+"
)

// Artwork 是写入 NFO 的本地图片文件名（与 executor 落盘的文件名一致）。
type Artwork struct {
	Poster   string
	Backdrop string
}

type movie struct {
	XMLName xml.Name `xml:"movie"`

	Title         string `xml:"title"`
	OriginalTitle string `xml:"originaltitle,omitempty"`
	SortTitle     string `xml:"sorttitle"`
	Num           string `xml:"num"`

	Studio string `xml:"studio,omitempty"`
	Plot   string `xml:"plot,omitempty"`

	Release   string `xml:"release,omitempty"`
	Premiered string `xml:"premiered,omitempty"`
	Year      int    `xml:"year,omitempty"`
	Runtime   int    `xml:"runtime,omitempty"`

	MPAA    string `xml:"mpaa,omitempty"`
	Country string `xml:"country,omitempty"`

	Poster string `xml:"poster,omitempty"`
	Thumb  string `xml:"thumb,omitempty"`
	Fanart string `xml:"fanart,omitempty"`

	Rating     int `xml:"rating"`
	UserRating int `xml:"userrating"`
	Votes      int `xml:"votes"`

	Actors []actor  `xml:"actor,omitempty"`
	Tags   []string `xml:"tag,omitempty"`
	Genres []string `xml:"genre,omitempty"`
}

type actor struct {
	Name  string `xml:"name"`
	Role  string `xml:"role,omitempty"`
	Thumb string `xml:"thumb,omitempty"`
}

// Encode 把聚合后的 Record 转成 Kodi/Jellyfin/Emby 可读取的 NFO（XML）。
//
// 规则：
// - 字段缺失允许为空；但输出结构尽量稳定（去空白、去重、保持输入顺序）
// - title 为空时回退到 CODE（避免生成空 title）
// - label 不单独建节点：作为 tag 输出（媒体库按 tag 过滤更通用）
func Encode(rec domain.Record, art Artwork) ([]byte, error) {
	code := strings.TrimSpace(string(rec.ID))
	title := strings.TrimSpace(rec.Title)
	if title == "" {
		title = code
	} else if code != "" && !strings.HasPrefix(title, code) {
		// 约定：title 以 CODE 开头（更利于媒体库识别与展示）。
		title = code + " " + title
	}

	m := movie{
		Title:         title,
		OriginalTitle: strings.TrimSpace(rec.OriginalTitle),
		SortTitle:     code,
		Num:           code,

		Studio: strings.TrimSpace(rec.Studio),
		Plot:   strings.TrimSpace(rec.Plot),

		Release:   strings.TrimSpace(rec.Release),
		Premiered: strings.TrimSpace(rec.Release),
		Year:      rec.Year(),
		Runtime:   rec.RuntimeM,

		MPAA:    DefaultMPAA,
		Country: DefaultCountry,

		Poster: strings.TrimSpace(art.Poster),
		Thumb:  strings.TrimSpace(art.Poster),
		Fanart: strings.TrimSpace(art.Backdrop),

		Rating:     0,
		UserRating: 0,
		Votes:      0,

		Tags:   normList(append([]string{rec.Label}, rec.Genres...)),
		Genres: normList(rec.Genres),
	}

	for _, a := range rec.Actresses {
		name := strings.TrimSpace(a.Name)
		if name == "" {
			continue
		}
		m.Actors = append(m.Actors, actor{
			Name:  name,
			Role:  name,
			Thumb: strings.TrimSpace(a.ThumbURL),
		})
	}

	b, err := xml.MarshalIndent(m, "", "  ")
	if err != nil {
		return nil, err
	}
	// 约定：输出带 standalone="yes" 的 XML 头，便于与常见刮削器产物兼容。
	const header = `<?xml version="1.0" encoding="UTF-8" standalone="yes" ?>` + "\n"
	return append([]byte(header), b...), nil
}

func normList(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	m := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if _, ok := m[s]; ok {
			continue
		}
		m[s] = struct{}{}
		out = append(out, s)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
