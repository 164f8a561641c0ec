package domain

import (
	"regexp"
	"strings"
)

// Code 是作品的唯一主键（规范化后形如 IPX-486 / FC2-PPV-1234567）。
//
// 约束：要么得到唯一 Code，要么失败；宁可 unmatched，也不允许写错。
type Code string

var codeRE = regexp.MustCompile(`^[A-Z][A-Z0-9]{1,9}(-PPV)?-[0-9]{1,7}$|^[0-9]{6}-[0-9]{3}$`)

// ParseCode 校验并解析规范化后的 CODE 字符串。
// 输入必须已经是大写 + '-' 分隔的形态（见 NormalizeCode）。
func ParseCode(s string) (Code, bool) {
	s = strings.TrimSpace(s)
	if !codeRE.MatchString(s) {
		return "", false
	}
	return Code(s), true
}

var joinedRE = regexp.MustCompile(`^([A-Z][A-Z0-9]*?)([0-9]+)$`)

// NormalizeCode 把来源各异的 CODE 写法统一为规范形态：
// - 全部大写、去空白
// - 字母段与数字段之间补 '-'（ipx486 -> IPX-486）
// - 末段数字去前导零（SSNI-00123 -> SSNI-123；全零保留一个 0）
//
// 已含 '-' 的输入保留分段（FC2-PPV-1234567 原样；六位番号 123456-789 不去零）。
func NormalizeCode(raw string) string {
	s := strings.ToUpper(strings.TrimSpace(raw))
	if s == "" {
		return ""
	}

	if i := strings.LastIndex(s, "-"); i >= 0 {
		head, num := s[:i], s[i+1:]
		if !isDigits(num) {
			return s
		}
		// 六位-三位（素人系列）按原样保留，去零会破坏番号本身。
		if len(head) == 6 && isDigits(head) {
			return s
		}
		trimmed := strings.TrimLeft(num, "0")
		if trimmed == "" {
			trimmed = "0"
		}
		return head + "-" + trimmed
	}

	if m := joinedRE.FindStringSubmatch(s); m != nil {
		num := strings.TrimLeft(m[2], "0")
		if num == "" {
			num = "0"
		}
		return m[1] + "-" + num
	}
	return s
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}
