package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "avsort.json")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("写入配置失败：%v", err)
	}
	return path
}

func TestLoadEffective_DefaultsWhenConfigAbsent(t *testing.T) {
	root := t.TempDir()

	eff, err := LoadEffective(root, CLIArgs{Path: root})
	if err != nil {
		t.Fatalf("CLI 提供 path 时配置文件可选：%v", err)
	}
	if eff.Path != root {
		t.Fatalf("path 不对：%q", eff.Path)
	}
	if eff.Apply || eff.Copy {
		t.Fatalf("apply/copy 默认应为 false：%+v", eff)
	}
	if eff.Concurrency != DefaultConcurrency || eff.MinSizeMB != DefaultMinSizeMB {
		t.Fatalf("数值默认不对：%+v", eff)
	}
	if eff.Collision != "skip" {
		t.Fatalf("collision 默认应为 skip：%q", eff.Collision)
	}
	if eff.FolderFormat != "<ID>" || eff.FileFormat != "<ID>" {
		t.Fatalf("模板默认不对：%+v", eff)
	}
	if len(eff.Sources) != 1 || eff.Sources[0].ID != DefaultSourceID {
		t.Fatalf("未配置 sources 时应有内置来源：%+v", eff.Sources)
	}
	if eff.PosterFilename != "poster.jpg" || eff.BackdropFilename != "fanart.jpg" {
		t.Fatalf("artwork 文件名默认不对：%+v", eff)
	}
	if eff.Dest != "" {
		t.Fatalf("dest 默认应为空（就地整理）：%q", eff.Dest)
	}
}

func TestLoadEffective_NoArgsRequiresConfigWithPath(t *testing.T) {
	cwd := t.TempDir()

	_, err := LoadEffective(cwd, CLIArgs{})
	if Code(err) != ErrCodeNotFound {
		t.Fatalf("期望 config_not_found，实际：%v", err)
	}

	writeConfig(t, cwd, `{"apply": true}`)
	_, err = LoadEffective(cwd, CLIArgs{})
	if Code(err) != ErrCodeMissingPath {
		t.Fatalf("期望 config_missing_path，实际：%v", err)
	}
}

func TestLoadEffective_FileValuesAndRelativePaths(t *testing.T) {
	cwd := t.TempDir()
	if err := os.MkdirAll(filepath.Join(cwd, "media"), 0o755); err != nil {
		t.Fatalf("创建目录失败：%v", err)
	}
	writeConfig(t, cwd, `{
		"path": "media",
		"dest": "sorted",
		"apply": true,
		"copy": true,
		"concurrency": 8,
		"min_size_mb": 0,
		"exclude_dirs": ["tmp"],
		"sources": [
			{"id": "alpha", "url": "https://alpha.test/api/{code}"},
			{"id": "beta", "url": "https://beta.test/{code}.json"}
		],
		"field_priority": {"title": ["beta"]},
		"folder_format": "<ID> <TITLE>",
		"file_format": "<ID>",
		"output_folder": ["<ACTORS>", "<YEAR>"],
		"max_segment_length": 80,
		"collision": "suffix",
		"verify_checksum": true,
		"actors_separator": " & ",
		"actors_fallback": "@Unknown"
	}`)

	eff, err := LoadEffective(cwd, CLIArgs{})
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if eff.Path != filepath.Join(cwd, "media") || eff.Dest != filepath.Join(cwd, "sorted") {
		t.Fatalf("相对路径应以 cwd 为基准：path=%q dest=%q", eff.Path, eff.Dest)
	}
	if !eff.Apply || !eff.Copy || !eff.VerifyChecksum {
		t.Fatalf("布尔值不对：%+v", eff)
	}
	if eff.Concurrency != 8 || eff.MinSizeMB != 0 || eff.MaxSegmentLen != 80 {
		t.Fatalf("数值不对：%+v", eff)
	}
	if eff.Collision != "suffix" {
		t.Fatalf("collision 不对：%q", eff.Collision)
	}
	want := []string{"alpha", "beta"}
	got := eff.SourceIDs()
	if len(got) != 2 || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("来源顺序不对：%v", got)
	}
	if len(eff.FieldPriority["title"]) != 1 || eff.FieldPriority["title"][0] != "beta" {
		t.Fatalf("field_priority 不对：%v", eff.FieldPriority)
	}
	if eff.ActorsSeparator != " & " || eff.ActorsFallback != "@Unknown" {
		t.Fatalf("actors 配置不对：%+v", eff)
	}
	if len(eff.OutputFolders) != 2 || eff.OutputFolders[0] != "<ACTORS>" {
		t.Fatalf("output_folder 不对：%v", eff.OutputFolders)
	}
}

func TestLoadEffective_CLIOverridesFile(t *testing.T) {
	cwd := t.TempDir()
	writeConfig(t, cwd, `{"path": ".", "apply": true, "copy": true, "dest": "from-config"}`)

	eff, err := LoadEffective(cwd, CLIArgs{
		Apply: false, ApplySet: true,
		Copy: false, CopySet: true,
		Dest: "from-cli", DestSet: true,
	})
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if eff.Apply || eff.Copy {
		t.Fatalf("CLI 显式 false 必须压过 config true：%+v", eff)
	}
	if eff.Dest != filepath.Join(cwd, "from-cli") {
		t.Fatalf("CLI dest 应压过 config：%q", eff.Dest)
	}
}

func TestLoadEffective_ConcurrencyClamped(t *testing.T) {
	cwd := t.TempDir()
	writeConfig(t, cwd, `{"path": ".", "concurrency": 100}`)

	eff, err := LoadEffective(cwd, CLIArgs{})
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if eff.Concurrency != 32 {
		t.Fatalf("并发应截断到 32：%d", eff.Concurrency)
	}
}

func TestLoadEffective_InvalidValues(t *testing.T) {
	cases := []struct {
		name string
		json string
	}{
		{"坏 JSON", `{`},
		{"未知冲突策略", `{"path": ".", "collision": "merge"}`},
		{"未知 field_priority 字段", `{"path": ".", "field_priority": {"bogus": ["r18dev"]}}`},
		{"field_priority 引用未配置来源", `{"path": ".", "field_priority": {"title": ["ghost"]}}`},
		{"重复来源", `{"path": ".", "sources": [{"id":"a","url":"https://a.test/x"},{"id":"A","url":"https://b.test/x"}]}`},
		{"来源 url 非法", `{"path": ".", "sources": [{"id":"a","url":"ftp://a.test/x"}]}`},
		{"image_proxy 缺代理", `{"path": ".", "image_proxy": true}`},
		{"max_segment_length 非正", `{"path": ".", "max_segment_length": 0}`},
		{"poster 文件名含路径", `{"path": ".", "poster_filename": "a/b.jpg"}`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cwd := t.TempDir()
			writeConfig(t, cwd, tc.json)
			_, err := LoadEffective(cwd, CLIArgs{})
			if Code(err) != ErrCodeInvalid {
				t.Fatalf("期望 config_invalid，实际：%v", err)
			}
		})
	}
}
