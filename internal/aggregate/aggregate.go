// Package aggregate 把多个来源的 SourceRecord 按优先级合并为单一结果。
//
// 约束：
// - 纯函数：无网络/文件 I/O，相同输入 => 相同输出
// - 数据稀疏不是错误；只有结构性非法输入才返回 *ConfigError
package aggregate

import (
	"fmt"
	"strings"

	"github.com/John-Robertt/AVSort/internal/domain"
)

// ConfigError 表示聚合输入在结构上非法（空列表/重复来源/优先级引用未知来源）。
// 对单次操作而言是致命错误，永不重试。
type ConfigError struct {
	Msg string
}

func (e *ConfigError) Error() string { return "聚合配置非法：" + e.Msg }

// Aggregate 把 records 合并为一个规范记录。
//
// 规则：
// - 标量字段：按该字段的有效优先级序取第一个非空值；全空则保持为空
// - 列表字段：按有效优先级序对所有来源做首见去重的有序并集
// - ID：取最高优先级来源的非空值，再做 NormalizeCode（来源之间大小写/补零不一致）
//
// 有效优先级序 = 字段覆盖（若有） + sourcePriority 中未出现的来源 + 记录顺序中剩余的来源。
// 末段兜底保证“只要有来源给了值就不会丢”，与覆盖列表的显式优先不冲突。
func Aggregate(records []domain.SourceRecord, sourcePriority []string, fieldPriority domain.FieldPriority) (domain.Record, error) {
	if len(records) == 0 {
		return domain.Record{}, &ConfigError{Msg: "records 不能为空"}
	}

	bySource := make(map[string]*domain.SourceRecord, len(records))
	recordOrder := make([]string, 0, len(records))
	for i := range records {
		id := normSource(records[i].Source)
		if id == "" {
			return domain.Record{}, &ConfigError{Msg: "source_id 不能为空"}
		}
		if _, ok := bySource[id]; ok {
			return domain.Record{}, &ConfigError{Msg: fmt.Sprintf("重复的 source_id：%q", id)}
		}
		bySource[id] = &records[i]
		recordOrder = append(recordOrder, id)
	}

	defaultOrder := effectiveOrder(nil, sourcePriority, recordOrder)

	for field, list := range fieldPriority {
		if !domain.KnownField(field) {
			return domain.Record{}, &ConfigError{Msg: fmt.Sprintf("未知字段：%q", field)}
		}
		for _, s := range list {
			id := normSource(s)
			if !contains(sourcePriority, id) && bySource[id] == nil {
				return domain.Record{}, &ConfigError{Msg: fmt.Sprintf("字段 %q 的优先级引用了未定义来源：%q", field, id)}
			}
		}
	}

	order := func(field string) []string {
		return effectiveOrder(fieldPriority[field], sourcePriority, recordOrder)
	}

	pick := func(field string, get func(domain.Record) string) string {
		for _, id := range order(field) {
			r, ok := bySource[id]
			if !ok {
				continue
			}
			if v := strings.TrimSpace(get(r.Record)); v != "" {
				return v
			}
		}
		return ""
	}

	out := domain.Record{
		Title:         pick(domain.FieldTitle, func(r domain.Record) string { return r.Title }),
		OriginalTitle: pick(domain.FieldOriginalTitle, func(r domain.Record) string { return r.OriginalTitle }),
		Release:       pick(domain.FieldRelease, func(r domain.Record) string { return r.Release }),
		Studio:        pick(domain.FieldStudio, func(r domain.Record) string { return r.Studio }),
		Label:         pick(domain.FieldLabel, func(r domain.Record) string { return r.Label }),
		Plot:          pick(domain.FieldPlot, func(r domain.Record) string { return r.Plot }),
	}

	for _, id := range order(domain.FieldRuntime) {
		if r, ok := bySource[id]; ok && r.RuntimeM > 0 {
			out.RuntimeM = r.RuntimeM
			break
		}
	}

	// ID 没有字段级覆盖：直接用默认来源顺序。
	for _, id := range defaultOrder {
		if r, ok := bySource[id]; ok && strings.TrimSpace(string(r.ID)) != "" {
			out.ID = domain.Code(domain.NormalizeCode(string(r.ID)))
			break
		}
	}

	out.Actresses = mergeActresses(order(domain.FieldActresses), bySource)
	out.Genres = mergeStrings(order(domain.FieldGenres), bySource,
		func(r domain.Record) []string { return r.Genres }, normKey)
	out.ImageURLs = mergeStrings(order(domain.FieldImages), bySource,
		func(r domain.Record) []string { return r.ImageURLs },
		func(s string) string { return strings.TrimSpace(s) })

	return out, nil
}

// mergeActresses 按优先级序做有序并集；以规范化姓名为键去重，首见表示法胜出。
// 近似重名（不同罗马字写法等）不做模糊合并：保持字面行为，宁可重复也不误并。
func mergeActresses(order []string, bySource map[string]*domain.SourceRecord) []domain.Actress {
	seen := make(map[string]struct{}, 8)
	var out []domain.Actress
	for _, id := range order {
		r, ok := bySource[id]
		if !ok {
			continue
		}
		for _, a := range r.Actresses {
			key := normKey(a.Name)
			if key == "" {
				continue
			}
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, a)
		}
	}
	return out
}

func mergeStrings(order []string, bySource map[string]*domain.SourceRecord, get func(domain.Record) []string, keyFn func(string) string) []string {
	seen := make(map[string]struct{}, 16)
	var out []string
	for _, id := range order {
		r, ok := bySource[id]
		if !ok {
			continue
		}
		for _, s := range get(r.Record) {
			key := keyFn(s)
			if key == "" {
				continue
			}
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, strings.TrimSpace(s))
		}
	}
	return out
}

// effectiveOrder 拼接 override + 默认优先级 + 记录顺序，保持首见去重。
func effectiveOrder(override, sourcePriority, recordOrder []string) []string {
	out := make([]string, 0, len(override)+len(sourcePriority)+len(recordOrder))
	seen := make(map[string]struct{}, cap(out))
	add := func(list []string) {
		for _, s := range list {
			id := normSource(s)
			if id == "" {
				continue
			}
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	add(override)
	add(sourcePriority)
	add(recordOrder)
	return out
}

func contains(list []string, id string) bool {
	for _, s := range list {
		if normSource(s) == id {
			return true
		}
	}
	return false
}

func normSource(s string) string { return strings.ToLower(strings.TrimSpace(s)) }

// normKey 做大小写不敏感 + 空白折叠的比较键（用于姓名/类型去重）。
func normKey(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}
