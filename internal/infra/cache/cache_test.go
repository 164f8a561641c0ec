package cache

import (
	"errors"
	"os"
	"testing"

	"github.com/John-Robertt/AVSort/internal/domain"
)

func TestStore_ReadWriteSourceCache(t *testing.T) {
	root := t.TempDir()
	code, _ := domain.ParseCode("CAWD-895")

	s := New(root, false)
	if err := s.WriteSource("r18dev", code, []byte(`{"id":"CAWD-895"}`)); err != nil {
		t.Fatalf("不期望错误：%v", err)
	}

	b, ok, err := s.ReadSource("r18dev", code)
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if !ok {
		t.Fatalf("期望命中缓存，但 ok=false")
	}
	if string(b) != `{"id":"CAWD-895"}` {
		t.Fatalf("内容不一致：%q", string(b))
	}

	path, err := s.SourcePath("r18dev", code)
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("期望文件存在，但 Stat 失败：%v", err)
	}
}

func TestStore_MissIsNotError(t *testing.T) {
	root := t.TempDir()
	code, _ := domain.ParseCode("CAWD-895")

	s := New(root, true)
	b, ok, err := s.ReadSource("r18dev", code)
	if err != nil || ok || b != nil {
		t.Fatalf("未命中应为 (nil,false,nil)：b=%v ok=%v err=%v", b, ok, err)
	}
}

func TestStore_ReadOnlyRejectWrite(t *testing.T) {
	root := t.TempDir()
	code, _ := domain.ParseCode("CAWD-895")

	s := New(root, true)
	err := s.WriteSource("r18dev", code, []byte(`{"ok":true}`))
	if !errors.Is(err, ErrReadOnly) {
		t.Fatalf("期望 ErrReadOnly，实际：%v", err)
	}

	path, err := s.SourcePath("r18dev", code)
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("期望文件不存在，但 Stat err=%v", err)
	}
}

func TestStore_RejectsUnsafeSourceName(t *testing.T) {
	root := t.TempDir()
	code, _ := domain.ParseCode("CAWD-895")

	s := New(root, false)
	if err := s.WriteSource("../evil", code, []byte("x")); err == nil {
		t.Fatalf("路径穿越式来源名应报错")
	}
	if _, err := s.SourcePath("", code); err == nil {
		t.Fatalf("空来源名应报错")
	}
}
