package fsx

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestWriteFileAtomicNoOverwrite_RefusesExisting(t *testing.T) {
	dir := t.TempDir()
	if err := WriteFileAtomicNoOverwrite(dir, "a.nfo", []byte("one")); err != nil {
		t.Fatalf("首次写入不应失败：%v", err)
	}
	err := WriteFileAtomicNoOverwrite(dir, "a.nfo", []byte("two"))
	if !errors.Is(err, os.ErrExist) {
		t.Fatalf("期望 os.ErrExist，实际 %v", err)
	}
	b, _ := os.ReadFile(filepath.Join(dir, "a.nfo"))
	if string(b) != "one" {
		t.Fatalf("既有内容不得被覆盖：%q", b)
	}
}

func TestWriteFileAtomicNoOverwrite_DirConflict(t *testing.T) {
	dir := t.TempDir()
	if err := os.Mkdir(filepath.Join(dir, "a.nfo"), 0o755); err != nil {
		t.Fatalf("创建目录失败：%v", err)
	}
	err := WriteFileAtomicNoOverwrite(dir, "a.nfo", []byte("x"))
	if !IsPathTypeConflict(err) {
		t.Fatalf("期望 PathTypeConflictError，实际 %v", err)
	}
}

func TestCopyFileVerified_ContentAndNoTempLeftover(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.mp4")
	dst := filepath.Join(dir, "dst.mp4")
	payload := []byte("0123456789abcdef")
	if err := os.WriteFile(src, payload, 0o644); err != nil {
		t.Fatalf("写入源失败：%v", err)
	}

	if err := CopyFileVerified(src, dst, true); err != nil {
		t.Fatalf("不期望错误：%v", err)
	}

	b, err := os.ReadFile(dst)
	if err != nil || string(b) != string(payload) {
		t.Fatalf("目标内容不一致：%q %v", b, err)
	}
	if _, err := os.Stat(src); err != nil {
		t.Fatalf("copy 不应动源文件：%v", err)
	}

	entries, _ := os.ReadDir(dir)
	for _, e := range entries {
		if e.Name() != "src.mp4" && e.Name() != "dst.mp4" {
			t.Fatalf("不应残留临时文件：%q", e.Name())
		}
	}
}

func TestMoveFile_RenameFastPath(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.mp4")
	dst := filepath.Join(dir, "dst.mp4")
	if err := os.WriteFile(src, []byte("x"), 0o644); err != nil {
		t.Fatalf("写入源失败：%v", err)
	}

	if err := MoveFile(src, dst, false); err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if _, err := os.Stat(src); !os.IsNotExist(err) {
		t.Fatalf("move 后源应消失：%v", err)
	}
	if _, err := os.Stat(dst); err != nil {
		t.Fatalf("move 后目标应存在：%v", err)
	}
}

func TestMoveFile_EXDEVFallsBackToCopyDelete(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.mp4")
	dst := filepath.Join(dir, "dst.mp4")
	payload := []byte("cross-device payload")
	if err := os.WriteFile(src, payload, 0o644); err != nil {
		t.Fatalf("写入源失败：%v", err)
	}

	// 第一次 rename 模拟 EXDEV；后续（临时文件落位）放行。
	calls := 0
	orig := renameFunc
	renameFunc = func(oldpath, newpath string) error {
		calls++
		if calls == 1 {
			return &os.LinkError{Op: "rename", Old: oldpath, New: newpath, Err: exdevErr()}
		}
		return orig(oldpath, newpath)
	}
	defer func() { renameFunc = orig }()

	if err := MoveFile(src, dst, true); err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if _, err := os.Stat(src); !os.IsNotExist(err) {
		t.Fatalf("校验通过后源应被删除：%v", err)
	}
	b, _ := os.ReadFile(dst)
	if string(b) != string(payload) {
		t.Fatalf("目标内容不一致：%q", b)
	}
}
