package domain

// Actress 描述一位出演者。
//
// 约束：
// - Name 是去重主键（大小写不敏感 + 空白折叠后比较）
// - Alias/ThumbURL 允许为空
type Actress struct {
	Name     string
	Alias    string
	ThumbURL string
}

// Record 是元数据的统一字段形状（SourceRecord 与聚合结果共用）。
//
// 约束：
// - 任何字段都允许为空；“该来源没有此字段”不是错误
// - 列表字段保持输入顺序（聚合时按优先级序做首见去重）
type Record struct {
	ID            Code
	Title         string
	OriginalTitle string
	Release       string // ISO date, e.g. "2025-11-27"
	Studio        string
	Label         string
	RuntimeM      int
	Plot          string

	Actresses []Actress
	Genres    []string
	ImageURLs []string
}

// SourceRecord 是单个来源（scraper 协作方）的抓取结果。
// 生命周期：抓取成功后创建；只读；聚合完成即丢弃。
type SourceRecord struct {
	Source string // 来源 id（小写、稳定）
	Record
}

// Year 从 Release（ISO 日期）推导 4 位年份；缺失返回 0。
func (r Record) Year() int {
	if len(r.Release) < 4 {
		return 0
	}
	y := 0
	for _, c := range r.Release[:4] {
		if c < '0' || c > '9' {
			return 0
		}
		y = y*10 + int(c-'0')
	}
	return y
}

// FieldPriority 是字段级的来源优先级覆盖（字段名 -> 来源 id 列表）。
// 未覆盖的字段回退到调用方给出的默认来源顺序。配置值，不是运行时实体。
type FieldPriority map[string][]string

// 可覆盖的字段名集合（与 Record 字段一一对应；列表字段同样可覆盖访问顺序）。
const (
	FieldTitle         = "title"
	FieldOriginalTitle = "original_title"
	FieldRelease       = "release_date"
	FieldStudio        = "studio"
	FieldLabel         = "label"
	FieldRuntime       = "runtime"
	FieldPlot          = "plot"
	FieldActresses     = "actresses"
	FieldGenres        = "genres"
	FieldImages        = "image_urls"
)

// KnownField 判断 name 是否为可配置优先级的字段。
func KnownField(name string) bool {
	switch name {
	case FieldTitle, FieldOriginalTitle, FieldRelease, FieldStudio,
		FieldLabel, FieldRuntime, FieldPlot, FieldActresses, FieldGenres, FieldImages:
		return true
	default:
		return false
	}
}
