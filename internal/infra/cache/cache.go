package cache

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/John-Robertt/AVSort/internal/domain"
	"github.com/John-Robertt/AVSort/internal/infra/fsx"
)

// Store 提供 <path>/cache/ 下的来源载荷缓存读写。
//
// 约束：
// - dry-run：只允许读（ReadOnly=true）
// - apply：允许写（ReadOnly=false）
// - 缓存内容是来源端点的原始 JSON；命中即跳过网络
type Store struct {
	Root     string // <path>（扫描根目录）
	ReadOnly bool
}

var ErrReadOnly = errors.New("cache: read-only")

func New(root string, readOnly bool) Store {
	return Store{
		Root:     filepath.Clean(strings.TrimSpace(root)),
		ReadOnly: readOnly,
	}
}

// SourcePath 返回某来源某番号的缓存文件绝对路径。
func (s Store) SourcePath(source string, code domain.Code) (string, error) {
	src, err := cleanSource(source)
	if err != nil {
		return "", err
	}
	if code == "" {
		return "", fmt.Errorf("code 不能为空")
	}
	return filepath.Join(s.Root, "cache", "sources", src, string(code)+".json"), nil
}

// ReadSource 读取缓存载荷；不存在不是错误（ok=false）。
func (s Store) ReadSource(source string, code domain.Code) ([]byte, bool, error) {
	path, err := s.SourcePath(source, code)
	if err != nil {
		return nil, false, err
	}
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return b, true, nil
}

// WriteSource 原子写入缓存载荷（替换语义：新抓取覆盖旧缓存）。
func (s Store) WriteSource(source string, code domain.Code, payload []byte) error {
	if s.ReadOnly {
		return ErrReadOnly
	}
	src, err := cleanSource(source)
	if err != nil {
		return err
	}
	if code == "" {
		return fmt.Errorf("code 不能为空")
	}
	dir := filepath.Join(s.Root, "cache", "sources", src)
	return fsx.WriteFileAtomicReplace(dir, string(code)+".json", payload)
}

var sourceNameRE = regexp.MustCompile(`^[a-z0-9_]+$`)

func cleanSource(s string) (string, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return "", fmt.Errorf("source 不能为空")
	}
	// 最小约束：来源 id 会成为路径段，避免路径穿越。
	if !sourceNameRE.MatchString(s) {
		return "", fmt.Errorf("非法 source：%q", s)
	}
	return s, nil
}
