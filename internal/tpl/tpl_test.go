package tpl

import (
	"strings"
	"testing"

	"github.com/John-Robertt/AVSort/internal/domain"
)

func sample() domain.Record {
	return domain.Record{
		ID:       "IPX-486",
		Title:    "恋の一夜: 特別編",
		Studio:   "IdeaPocket",
		Label:    "Tissue",
		Release:  "2020-07-09",
		RuntimeM: 120,
		Actresses: []domain.Actress{
			{Name: "Yua Mikami"},
			{Name: "Tsubasa Amami"},
		},
	}
}

func TestRender_BasicSubstitution(t *testing.T) {
	got := Render("<ID> [<STUDIO>] (<YEAR>)", sample(), Options{})
	want := "IPX-486 [IdeaPocket] (2020)"
	if got != want {
		t.Fatalf("期望 %q，实际 %q", want, got)
	}
}

func TestRender_Deterministic(t *testing.T) {
	rec := sample()
	a := Render("<ACTORS> - <TITLE> (<YEAR>)", rec, Options{})
	b := Render("<ACTORS> - <TITLE> (<YEAR>)", rec, Options{})
	if a != b {
		t.Fatalf("两次渲染应逐字节一致：%q vs %q", a, b)
	}
}

func TestRender_MissingFieldsCollapse(t *testing.T) {
	rec := domain.Record{ID: "IPX-486"}
	got := Render("<TITLE> (<YEAR>) [<ID>]", rec, Options{})
	// 空 <TITLE>/<YEAR> 留下的空括号对被清理掉。
	if got != "[IPX-486]" {
		t.Fatalf("空字段应收缩：%q", got)
	}
}

func TestRender_UnknownPlaceholderIsEmpty(t *testing.T) {
	got := Render("<ID> <BOGUS>", sample(), Options{})
	if got != "IPX-486" {
		t.Fatalf("未知占位符应替换为空串：%q", got)
	}
}

func TestRender_SanitizeIllegalChars(t *testing.T) {
	rec := sample()
	rec.Title = `恋の一夜: 特別編 \ / * ? " < > |`
	got := Render("<TITLE>", rec, Options{})

	if strings.ContainsAny(got, `\/:*?"<>|`) {
		t.Fatalf("输出仍含非法字符：%q", got)
	}
	if !strings.Contains(got, "恋の一夜- 特別編") {
		t.Fatalf("':' 应换成 '-'：%q", got)
	}
}

func TestRender_TrailingDotsStripped(t *testing.T) {
	rec := sample()
	rec.Title = "Title ends with dots..."
	got := Render("<TITLE>", rec, Options{})
	if strings.HasSuffix(got, ".") || strings.HasSuffix(got, " ") {
		t.Fatalf("结尾不允许 '.'/空白：%q", got)
	}
}

func TestRender_EmptyResultFallsBackToID(t *testing.T) {
	rec := domain.Record{ID: "IPX-486"}
	got := Render("<TITLE>", rec, Options{})
	if got != "IPX-486" {
		t.Fatalf("空段必须回退到 ID：%q", got)
	}
}

func TestRender_TruncateWesternAtWordBoundary(t *testing.T) {
	rec := sample()
	rec.Title = strings.Repeat("word ", 40) + "tail"
	got := Render("<TITLE>", rec, Options{MaxSegmentLen: 50})
	if len([]rune(got)) > 50 {
		t.Fatalf("截断后超长：%d", len([]rune(got)))
	}
	if strings.HasSuffix(got, " wor") || strings.Contains(got, "wor d") {
		t.Fatalf("应在词边界截断：%q", got)
	}
}

func TestRender_TruncateNeverSplitsRune(t *testing.T) {
	rec := sample()
	rec.Title = strings.Repeat("恋", 300)
	got := Render("<TITLE>", rec, Options{MaxSegmentLen: 100})
	for _, r := range got {
		if r == '�' {
			t.Fatalf("输出含损坏的多字节字符：%q", got)
		}
	}
	if len([]rune(got)) != 100 {
		t.Fatalf("CJK 文本应精确按字符截断：%d", len([]rune(got)))
	}
}

func TestRender_ActorsJoinAndFallback(t *testing.T) {
	got := Render("<ACTORS>", sample(), Options{})
	if got != "Yua Mikami, Tsubasa Amami" {
		t.Fatalf("出演者连接不对：%q", got)
	}

	empty := domain.Record{ID: "IPX-486"}
	got = Render("<ACTORS>", empty, Options{ActorsFallback: "@Unknown"})
	if got != "@Unknown" {
		t.Fatalf("无出演者应使用 fallback：%q", got)
	}
}

func TestRenderLevels_SkipsEmpty(t *testing.T) {
	rec := sample()
	rec.Release = "" // <YEAR> 渲染为空 -> 该层收缩
	levels := RenderLevels([]string{"<ACTORS>", "<YEAR>"}, rec, Options{})
	if len(levels) != 1 || levels[0] != "Yua Mikami, Tsubasa Amami" {
		t.Fatalf("空层应跳过：%v", levels)
	}
}
