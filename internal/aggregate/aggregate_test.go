package aggregate

import (
	"errors"
	"reflect"
	"testing"

	"github.com/John-Robertt/AVSort/internal/domain"
)

func rec(source string, mut func(*domain.SourceRecord)) domain.SourceRecord {
	r := domain.SourceRecord{Source: source}
	if mut != nil {
		mut(&r)
	}
	return r
}

func TestAggregate_ScalarPriorityWins(t *testing.T) {
	records := []domain.SourceRecord{
		rec("b", func(r *domain.SourceRecord) { r.Title = "来自 B 的标题" }),
		rec("a", func(r *domain.SourceRecord) { r.Title = "来自 A 的标题" }),
	}

	out, err := Aggregate(records, []string{"a", "b"}, nil)
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if out.Title != "来自 A 的标题" {
		t.Fatalf("a 优先且非空，title 应取 a：%q", out.Title)
	}
}

func TestAggregate_ScalarFallback(t *testing.T) {
	records := []domain.SourceRecord{
		rec("a", nil), // a 没有 title
		rec("b", func(r *domain.SourceRecord) { r.Title = "B"; r.Studio = "S1" }),
	}

	out, err := Aggregate(records, []string{"a", "b"}, nil)
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if out.Title != "B" || out.Studio != "S1" {
		t.Fatalf("a 为空时应回退到 b：%+v", out)
	}
}

func TestAggregate_FieldOverride(t *testing.T) {
	records := []domain.SourceRecord{
		rec("a", func(r *domain.SourceRecord) { r.Title = "A"; r.Plot = "A 的简介" }),
		rec("b", func(r *domain.SourceRecord) { r.Title = "B"; r.Plot = "B 的简介" }),
	}
	fp := domain.FieldPriority{domain.FieldPlot: {"b", "a"}}

	out, err := Aggregate(records, []string{"a", "b"}, fp)
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if out.Title != "A" {
		t.Fatalf("title 无覆盖，仍按默认序：%q", out.Title)
	}
	if out.Plot != "B 的简介" {
		t.Fatalf("plot 覆盖序应取 b：%q", out.Plot)
	}
}

func TestAggregate_UnlistedSourceStillContributes(t *testing.T) {
	// c 不在 sourcePriority 中，但它是唯一有 release 的来源：值不能丢。
	records := []domain.SourceRecord{
		rec("a", nil),
		rec("c", func(r *domain.SourceRecord) { r.Release = "2020-07-09" }),
	}

	out, err := Aggregate(records, []string{"a"}, nil)
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if out.Release != "2020-07-09" {
		t.Fatalf("未列出的来源应参与兜底：%+v", out)
	}
}

func TestAggregate_GenreUnionIdempotent(t *testing.T) {
	records := []domain.SourceRecord{
		rec("a", func(r *domain.SourceRecord) { r.Genres = []string{"Drama", "Romance"} }),
		rec("b", func(r *domain.SourceRecord) { r.Genres = []string{"drama", "Romance"} }),
	}

	out, err := Aggregate(records, []string{"a", "b"}, nil)
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	// 首见表示法胜出：保留 a 的大写形态，且不重复。
	if !reflect.DeepEqual(out.Genres, []string{"Drama", "Romance"}) {
		t.Fatalf("genres 并集应首见去重：%v", out.Genres)
	}
}

func TestAggregate_ActressUnionFirstSeenWins(t *testing.T) {
	records := []domain.SourceRecord{
		rec("a", func(r *domain.SourceRecord) {
			r.Actresses = []domain.Actress{{Name: "Yua Mikami", ThumbURL: "https://a/yua.jpg"}}
		}),
		rec("b", func(r *domain.SourceRecord) {
			r.Actresses = []domain.Actress{
				{Name: "yua  mikami", ThumbURL: "https://b/yua.jpg"},
				{Name: "Tsubasa Amami"},
			}
		}),
	}

	out, err := Aggregate(records, []string{"a", "b"}, nil)
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if len(out.Actresses) != 2 {
		t.Fatalf("姓名大小写/空白差异应判为同一人：%v", out.Actresses)
	}
	if out.Actresses[0].ThumbURL != "https://a/yua.jpg" {
		t.Fatalf("首见条目应保留 a 的表示法：%+v", out.Actresses[0])
	}
	if out.Actresses[1].Name != "Tsubasa Amami" {
		t.Fatalf("并集应保序：%+v", out.Actresses)
	}
}

func TestAggregate_IDNormalized(t *testing.T) {
	records := []domain.SourceRecord{
		rec("a", nil),
		rec("b", func(r *domain.SourceRecord) { r.ID = "ipx00486" }),
	}

	out, err := Aggregate(records, []string{"a", "b"}, nil)
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if out.ID != "IPX-486" {
		t.Fatalf("ID 应规范化（大写/补 '-'/去前导零）：%q", out.ID)
	}
}

func TestAggregate_ConfigErrors(t *testing.T) {
	one := []domain.SourceRecord{rec("a", nil)}

	cases := []struct {
		name    string
		records []domain.SourceRecord
		prio    []string
		fp      domain.FieldPriority
	}{
		{"空记录列表", nil, []string{"a"}, nil},
		{"重复来源", []domain.SourceRecord{rec("a", nil), rec("A ", nil)}, []string{"a"}, nil},
		{"未知字段", one, []string{"a"}, domain.FieldPriority{"bogus": {"a"}}},
		{"未定义来源", one, []string{"a"}, domain.FieldPriority{domain.FieldTitle: {"nope"}}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Aggregate(tc.records, tc.prio, tc.fp)
			var ce *ConfigError
			if !errors.As(err, &ce) {
				t.Fatalf("期望 *ConfigError，实际 %v", err)
			}
		})
	}
}

func TestAggregate_SparseDataIsNotAnError(t *testing.T) {
	out, err := Aggregate([]domain.SourceRecord{rec("a", nil)}, []string{"a"}, nil)
	if err != nil {
		t.Fatalf("数据稀疏不应报错：%v", err)
	}
	if out.Title != "" || out.Release != "" || len(out.Genres) != 0 {
		t.Fatalf("期望全空输出：%+v", out)
	}
}
