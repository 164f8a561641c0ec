package code

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/John-Robertt/AVSort/internal/domain"
)

func TestExtract_CommonShapes(t *testing.T) {
	cases := []struct {
		name string
		base string
		want domain.Code
	}{
		{"标准形态", "IPX-486", "IPX-486"},
		{"小写无分隔", "ipx486", "IPX-486"},
		{"数字段前导零", "SSNI-00123", "SSNI-123"},
		{"下划线分隔", "CAWD_895", "CAWD-895"},
		{"带噪音前后缀", "[SubGroup] SSNI-123 タイトル", "SSNI-123"},
		{"FC2 带 PPV", "FC2-PPV-1234567", "FC2-PPV-1234567"},
		{"FC2 无 PPV", "fc2_1234567", "FC2-PPV-1234567"},
		{"HEYZO", "HEYZO_2468", "HEYZO-2468"},
		{"素人六位三位", "123456-789", "123456-789"},
		{"字母带数字厂牌", "T28-589", "T28-589"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			v := domain.VideoFile{
				AbsPath: filepath.Join("/in", tc.base+".mp4"),
				Base:    tc.base,
			}
			got, err := Extract(v)
			if err != nil {
				t.Fatalf("不期望错误：%v", err)
			}
			if got != tc.want {
				t.Fatalf("期望 %q，实际 %q", tc.want, got)
			}
		})
	}
}

func TestExtract_ParentDirFallback(t *testing.T) {
	v := domain.VideoFile{
		AbsPath: filepath.Join("/in", "IPX-486", "movie.mp4"),
		Base:    "movie",
	}
	got, err := Extract(v)
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if got != "IPX-486" {
		t.Fatalf("期望从父目录解析出 IPX-486，实际 %q", got)
	}
}

func TestExtract_NoMatch(t *testing.T) {
	v := domain.VideoFile{
		AbsPath: filepath.Join("/in", "movie.mp4"),
		Base:    "movie",
	}
	_, err := Extract(v)
	var ue *UnmatchedError
	if !errors.As(err, &ue) || ue.Kind != "no_match" {
		t.Fatalf("期望 no_match，实际 %v", err)
	}
}

func TestExtract_Ambiguous(t *testing.T) {
	v := domain.VideoFile{
		AbsPath: filepath.Join("/in", "DEF-456", "ABC-123.mp4"),
		Base:    "ABC-123",
	}
	_, err := Extract(v)
	var ue *UnmatchedError
	if !errors.As(err, &ue) || ue.Kind != "ambiguous" {
		t.Fatalf("期望 ambiguous，实际 %v", err)
	}
	if len(ue.Candidates) != 2 || ue.Candidates[0] != "ABC-123" || ue.Candidates[1] != "DEF-456" {
		t.Fatalf("候选应排序：%v", ue.Candidates)
	}
}
