package scan

import (
	"os"
	"path/filepath"
	"testing"
)

func write(t *testing.T, path string, size int) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("创建目录失败：%v", err)
	}
	if err := os.WriteFile(path, make([]byte, size), 0o644); err != nil {
		t.Fatalf("写入文件失败：%v", err)
	}
}

func TestScanVideos_ExcludeAndStableOrder(t *testing.T) {
	root := t.TempDir()

	write(t, filepath.Join(root, "b", "IPX-486.mp4"), 1)
	write(t, filepath.Join(root, "a", "CAWD-895.mkv"), 1)
	write(t, filepath.Join(root, "cache", "SSNI-123.mp4"), 1)
	write(t, filepath.Join(root, "skipme", "SSNI-123.mp4"), 1)
	write(t, filepath.Join(root, "a", "notes.txt"), 1)

	files, err := ScanVideos(root, []string{"skipme"}, 0)
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if len(files) != 2 {
		t.Fatalf("期望 2 个视频，实际 %d", len(files))
	}
	if files[0].RelPath != filepath.Join("a", "CAWD-895.mkv") || files[1].RelPath != filepath.Join("b", "IPX-486.mp4") {
		t.Fatalf("输出顺序应按 RelPath 稳定排序：%v %v", files[0].RelPath, files[1].RelPath)
	}
}

func TestScanVideos_MinSizeFilter(t *testing.T) {
	root := t.TempDir()
	write(t, filepath.Join(root, "IPX-486.mp4"), 10)
	write(t, filepath.Join(root, "trailer.mp4"), 2)

	files, err := ScanVideos(root, nil, 5)
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if len(files) != 1 || files[0].Base != "IPX-486" {
		t.Fatalf("期望只保留大文件：%+v", files)
	}
}

func TestScanVideos_SubtitleAssociation(t *testing.T) {
	root := t.TempDir()
	write(t, filepath.Join(root, "IPX-486.mp4"), 1)
	write(t, filepath.Join(root, "IPX-486.srt"), 1)
	write(t, filepath.Join(root, "IPX-486.zh.srt"), 1)
	write(t, filepath.Join(root, "IPX-4860.srt"), 1) // 前缀相近但不属于该视频
	write(t, filepath.Join(root, "OTHER-1.srt"), 1)

	files, err := ScanVideos(root, nil, 0)
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if len(files) != 1 {
		t.Fatalf("期望 1 个视频，实际 %d", len(files))
	}
	subs := files[0].Subs
	if len(subs) != 2 {
		t.Fatalf("期望关联 2 个字幕，实际 %v", subs)
	}
	if filepath.Base(subs[0]) != "IPX-486.srt" || filepath.Base(subs[1]) != "IPX-486.zh.srt" {
		t.Fatalf("字幕关联或顺序不对：%v", subs)
	}
}
