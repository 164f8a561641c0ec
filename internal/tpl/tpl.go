// Package tpl 把模板字符串按元数据记录展开为文件系统安全的路径段。
//
// 约束：
// - 纯函数：无 I/O、无随机性，相同输入 => 逐字节相同输出
// - 元数据缺失永不报错：空字段替换为空串，由清理规则收拾残局
package tpl

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/John-Robertt/AVSort/internal/domain"
)

// Options 是渲染参数的不可变值对象：每次调用显式构造，不共享可变默认值。
type Options struct {
	// MaxSegmentLen 是单个路径段的最大字符数（rune 计数）；<=0 时取 DefaultMaxSegmentLen。
	MaxSegmentLen int

	// ActorsSep 连接多位出演者；ActorsFallback 在没有出演者时整体替换 <ACTORS>。
	ActorsSep      string
	ActorsFallback string
}

const (
	DefaultMaxSegmentLen = 200
	DefaultActorsSep     = ", "
)

func (o Options) maxLen() int {
	if o.MaxSegmentLen > 0 {
		return o.MaxSegmentLen
	}
	return DefaultMaxSegmentLen
}

func (o Options) actorsSep() string {
	if o.ActorsSep != "" {
		return o.ActorsSep
	}
	return DefaultActorsSep
}

var placeholderRE = regexp.MustCompile(`<[A-Z]+>`)

// Render 展开单个模板为一个路径段。
//
// 占位符表：<ID> <TITLE> <ORIGINALTITLE> <STUDIO> <LABEL> <YEAR>
// <RELEASEDATE> <RUNTIME> <ACTORS>。未知占位符替换为空串——模板手误
// 不应让整次整理失败，这是刻意的容错选择。
//
// 段清理后若为空，回退为 record.ID：最终目录/文件名不允许为空段。
func Render(template string, rec domain.Record, opts Options) string {
	out := renderRaw(template, rec, opts)
	if out == "" {
		out = Sanitize(string(rec.ID))
	}
	return out
}

// RenderLevels 逐个展开嵌套层模板（外层在前）。
// 渲染为空的层直接跳过（而不是回退 ID）：空层收缩比凭空造目录更符合直觉。
func RenderLevels(templates []string, rec domain.Record, opts Options) []string {
	if len(templates) == 0 {
		return nil
	}
	out := make([]string, 0, len(templates))
	for _, t := range templates {
		seg := renderRaw(t, rec, opts)
		if seg == "" {
			continue
		}
		out = append(out, seg)
	}
	return out
}

// renderRaw 与 Render 相同但不做空段回退（供 RenderLevels 跳过空层）。
func renderRaw(template string, rec domain.Record, opts Options) string {
	values := map[string]string{
		"<ID>":            string(rec.ID),
		"<TITLE>":         rec.Title,
		"<ORIGINALTITLE>": firstNonEmpty(rec.OriginalTitle, rec.Title),
		"<STUDIO>":        rec.Studio,
		"<LABEL>":         rec.Label,
		"<YEAR>":          yearString(rec),
		"<RELEASEDATE>":   rec.Release,
		"<RUNTIME>":       runtimeString(rec),
		"<ACTORS>":        actorsString(rec, opts),
	}
	out := placeholderRE.ReplaceAllStringFunc(template, func(ph string) string {
		return values[ph] // 未知占位符 -> 空串
	})
	out = Sanitize(out)
	out = truncateSegment(out, opts.maxLen())
	return Sanitize(out) // 截断可能重新暴露行尾空白/标点
}

var (
	emptyBracketsRE = regexp.MustCompile(`\[\s*\]|\(\s*\)`)
	multiSpaceRE    = regexp.MustCompile(`\s+`)
)

// Sanitize 把任意字符串清理为最严格目标文件系统上合法的单个路径段：
// - ':' 换成 '-'（字幕作品标题里常见，删除会损失可读性）
// - 其余非法字符（\ / * ? " < > |）直接删除
// - 去掉替换后残留的空括号对，折叠连续空白
// - 去掉首尾空白与结尾的 '.'（部分文件系统不允许）
func Sanitize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch r {
		case ':':
			b.WriteRune('-')
		case '\\', '/', '*', '?', '"', '<', '>', '|':
			// drop
		default:
			b.WriteRune(r)
		}
	}
	out := emptyBracketsRE.ReplaceAllString(b.String(), "")
	out = multiSpaceRE.ReplaceAllString(out, " ")
	out = strings.TrimSpace(out)
	out = strings.TrimRight(out, ". ")
	return out
}

var cjkRE = regexp.MustCompile(`[\x{3040}-\x{309f}\x{30a0}-\x{30ff}\x{4e00}-\x{9faf}]`)

// truncateSegment 按 rune 截断（绝不从多字节字符中间切开）。
// 西文在最后一个空格处回退以保住整词；CJK 文本没有词边界，直接按字符截。
func truncateSegment(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	short := string(runes[:max])

	if cjkRE.MatchString(short) {
		return short
	}

	if i := strings.LastIndex(short, " "); i > 0 {
		return strings.TrimRight(short[:i], ".,!?;:")
	}
	return short
}

func yearString(rec domain.Record) string {
	if y := rec.Year(); y > 0 {
		return strconv.Itoa(y)
	}
	return ""
}

func runtimeString(rec domain.Record) string {
	if rec.RuntimeM > 0 {
		return strconv.Itoa(rec.RuntimeM)
	}
	return ""
}

func actorsString(rec domain.Record, opts Options) string {
	if len(rec.Actresses) == 0 {
		return opts.ActorsFallback
	}
	names := make([]string, 0, len(rec.Actresses))
	for _, a := range rec.Actresses {
		name := strings.TrimSpace(a.Name)
		if name == "" {
			continue
		}
		names = append(names, name)
	}
	if len(names) == 0 {
		return opts.ActorsFallback
	}
	return strings.Join(names, opts.actorsSep())
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
