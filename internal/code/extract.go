package code

import (
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/John-Robertt/AVSort/internal/domain"
)

// 识别顺序是硬约束：特例站点的番号必须先于通用形态消费掉对应片段，
// 否则通用正则会把 FC2-PPV-1234567 误拆成 PPV-12345 之类的噪音候选。
var (
	bracketRE = regexp.MustCompile(`\[[^\]]*\]|\([^)]*\)`)
	fc2RE     = regexp.MustCompile(`(?i)FC2[-_]?(?:PPV)?[-_]?([0-9]{5,7})`)
	heyzoRE   = regexp.MustCompile(`(?i)HEYZO[-_]?([0-9]{4})`)
	caribRE   = regexp.MustCompile(`([0-9]{6})[-_]([0-9]{3})`)
	studioNRE = regexp.MustCompile(`(?i)\b([a-z][0-9]+)[-_]([0-9]{2,5})`)
	genericRE = regexp.MustCompile(`(?i)([a-z]{2,10})[\s._-]*([0-9]{2,5})`)
)

type UnmatchedError struct {
	// Kind: "no_match" 或 "ambiguous"
	Kind string
	// Candidates 仅在 ambiguous 时返回（已排序，保证稳定）。
	Candidates []domain.Code
}

func (e *UnmatchedError) Error() string {
	switch e.Kind {
	case "no_match":
		return "无法从文件名或父目录解析出 CODE"
	case "ambiguous":
		parts := make([]string, 0, len(e.Candidates))
		for _, c := range e.Candidates {
			parts = append(parts, string(c))
		}
		return "解析到多个不同 CODE（ambiguous）：" + strings.Join(parts, ", ")
	default:
		return "unmatched"
	}
}

// Extract 从 VideoFile 的文件名与父目录名中提取唯一 CODE。
// 若提取失败，返回 *UnmatchedError（no_match / ambiguous）。
func Extract(v domain.VideoFile) (domain.Code, error) {
	m := map[domain.Code]struct{}{}

	addCandidates(m, v.Base)

	parent := filepath.Base(filepath.Dir(v.AbsPath))
	addCandidates(m, parent)

	if len(m) == 0 {
		return "", &UnmatchedError{Kind: "no_match"}
	}
	if len(m) > 1 {
		cands := make([]domain.Code, 0, len(m))
		for c := range m {
			cands = append(cands, c)
		}
		sort.Slice(cands, func(i, j int) bool { return string(cands[i]) < string(cands[j]) })
		return "", &UnmatchedError{Kind: "ambiguous", Candidates: cands}
	}
	for c := range m {
		return c, nil
	}
	return "", &UnmatchedError{Kind: "no_match"}
}

func addCandidates(dst map[domain.Code]struct{}, s string) {
	s = strings.TrimSpace(s)
	if s == "" {
		return
	}

	// 字幕组/年份等括号片段是常见噪音源，先整段剔除。
	s = bracketRE.ReplaceAllString(s, " ")

	s = consume(s, fc2RE, func(m []string) string { return "FC2-PPV-" + m[1] }, dst)
	s = consume(s, heyzoRE, func(m []string) string { return "HEYZO-" + m[1] }, dst)
	s = consume(s, caribRE, func(m []string) string { return m[1] + "-" + m[2] }, dst)
	s = consume(s, studioNRE, func(m []string) string {
		return strings.ToUpper(m[1]) + "-" + m[2]
	}, dst)
	consume(s, genericRE, func(m []string) string {
		return strings.ToUpper(m[1]) + "-" + m[2]
	}, dst)
}

// consume 把 re 的每处命中转为候选 CODE，并从输入中抹去命中片段，
// 避免后续更宽松的模式重复识别同一片段。
func consume(s string, re *regexp.Regexp, build func([]string) string, dst map[domain.Code]struct{}) string {
	matches := re.FindAllStringSubmatchIndex(s, -1)
	if len(matches) == 0 {
		return s
	}

	out := []byte(s)
	for _, idx := range matches {
		groups := make([]string, 0, len(idx)/2)
		for g := 0; g+1 < len(idx); g += 2 {
			if idx[g] < 0 {
				groups = append(groups, "")
				continue
			}
			groups = append(groups, s[idx[g]:idx[g+1]])
		}
		if c, ok := domain.ParseCode(domain.NormalizeCode(build(groups))); ok {
			dst[c] = struct{}{}
		}
		for i := idx[0]; i < idx[1]; i++ {
			out[i] = ' '
		}
	}
	return string(out)
}
