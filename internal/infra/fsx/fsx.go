package fsx

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"

	"github.com/cespare/xxhash/v2"
)

// 通过可替换的函数指针，让测试能稳定模拟 EXDEV 等错误。
var renameFunc = os.Rename

// PathTypeConflictError 表示目标路径类型冲突（例如期望文件但实际是目录）。
// 上层可把它映射为 error_code=target_conflict。
type PathTypeConflictError struct {
	Path string
	Want string
	Got  string
}

func (e *PathTypeConflictError) Error() string {
	return fmt.Sprintf("目标路径类型冲突：%q（期望 %s，实际 %s）", e.Path, e.Want, e.Got)
}

func IsPathTypeConflict(err error) bool {
	var e *PathTypeConflictError
	return errors.As(err, &e)
}

// VerifyError 表示落盘校验失败（大小或校验和不一致）。
// 出现该错误时目标端的半成品已被清理。
type VerifyError struct {
	Src string
	Dst string
	Msg string
}

func (e *VerifyError) Error() string {
	return fmt.Sprintf("落盘校验失败：%q -> %q：%s", e.Src, e.Dst, e.Msg)
}

// Rename 封装 os.Rename。跨盘（EXDEV）时直接透传错误；
// 需要跨盘语义的调用方应使用 MoveFile。
func Rename(src, dst string) error {
	return renameFunc(src, dst)
}

// MoveFile 把 src 迁移到 dst：优先 rename；跨盘（EXDEV）退化为
// “复制 + 校验 + 删除源”。任何失败都不会留下半写的 dst。
//
// 源文件只在目标确认完整之后才删除——视频文件是不可再生数据，
// 校验之前绝不动源。
func MoveFile(src, dst string, checksum bool) error {
	if err := renameFunc(src, dst); err == nil {
		return nil
	} else if !isEXDEV(err) {
		return err
	}

	if err := CopyFileVerified(src, dst, checksum); err != nil {
		return err
	}
	return os.Remove(src)
}

// CopyFileVerified 把 src 复制为 dst（同目录临时文件 + rename，原子落位）。
//
// - 复制完成后按大小核对；checksum=true 时再用 xxhash 核对内容
// - 任一环节失败即删除临时文件：dst 要么完整存在，要么不存在
func CopyFileVerified(src, dst string, checksum bool) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	fi, err := in.Stat()
	if err != nil {
		return err
	}

	dir := filepath.Dir(dst)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(dst)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	cleanup := func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}

	h := xxhash.New()
	n, err := io.Copy(io.MultiWriter(tmp, h), in)
	if err != nil {
		cleanup()
		return err
	}
	if n != fi.Size() {
		cleanup()
		return &VerifyError{Src: src, Dst: dst, Msg: fmt.Sprintf("大小不一致：复制 %d 字节，期望 %d", n, fi.Size())}
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return err
	}

	if checksum {
		sum, err := hashFile(tmpName)
		if err != nil {
			_ = os.Remove(tmpName)
			return err
		}
		if sum != h.Sum64() {
			_ = os.Remove(tmpName)
			return &VerifyError{Src: src, Dst: dst, Msg: "xxhash 校验和不一致"}
		}
	}

	if err := renameFunc(tmpName, dst); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	_ = syncDirBestEffort(dir)
	return nil
}

// hashFile 重新从磁盘读取并计算 xxhash（校验的是真正落盘的内容）。
func hashFile(path string) (uint64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	h := xxhash.New()
	if _, err := io.Copy(h, f); err != nil {
		return 0, err
	}
	return h.Sum64(), nil
}

// WriteFileAtomic 在 dir 下原子写入 name（临时文件 + rename）。
//
// 语义：若目标已存在则覆盖（即 replace）。
//
// 说明：
// - sidecar（nfo/cover/backdrop）按产品契约“不允许覆盖”，请使用 WriteFileAtomicNoOverwrite。
// - cache/report 等内部状态可以覆盖，使用该函数即可。
func WriteFileAtomic(dir, name string, data []byte) error {
	return WriteFileAtomicReplace(dir, name, data)
}

// WriteFileAtomicNoOverwrite 在 dir 下原子写入 name（临时文件 + rename）。
//
// - 临时文件必须与目标文件在同目录，以保证 rename 的原子性
// - fsync 是可选但推荐：我们对临时文件做 Sync；目录 Sync 采用 best-effort（避免平台差异导致误报失败）
//
// 注意：WriteFileAtomicNoOverwrite 用于 sidecar 等“不允许覆盖”的文件写入。
// 若需要覆盖（例如 report/cache），请使用 WriteFileAtomicReplace。
func WriteFileAtomicNoOverwrite(dir, name string, data []byte) error {
	dst := filepath.Join(filepath.Clean(dir), name)
	if fi, err := os.Lstat(dst); err == nil {
		if fi.IsDir() {
			return &PathTypeConflictError{Path: dst, Want: "file", Got: "dir"}
		}
		if !fi.Mode().IsRegular() {
			return &PathTypeConflictError{Path: dst, Want: "regular file", Got: fi.Mode().Type().String()}
		}
		return os.ErrExist
	} else if !os.IsNotExist(err) {
		return err
	}
	return writeFileAtomic(dir, name, data, 0o644, false)
}

// WriteFileAtomicReplace 写入并覆盖同名文件（尽量保持原子性；Windows 上为 best-effort）。
func WriteFileAtomicReplace(dir, name string, data []byte) error {
	return writeFileAtomic(dir, name, data, 0o644, true)
}

func writeFileAtomic(dir, name string, data []byte, perm os.FileMode, replace bool) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	dst := filepath.Join(dir, name)

	// 创建同目录临时文件（前缀带 '.'，避免污染媒体库视图）。
	tmp, err := os.CreateTemp(dir, "."+name+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}()

	if err := writeAll(tmp, data); err != nil {
		return err
	}
	if err := tmp.Chmod(perm); err != nil {
		// Windows 下 chmod 可能不完全支持，但失败通常不影响正确性；为了简单，仍当作错误返回。
		return err
	}
	if err := tmp.Sync(); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	// rename 原子替换到最终文件名。
	if err := Rename(tmpName, dst); err != nil {
		return err
	}

	// 目录 fsync：best-effort（不同平台/文件系统的语义差异很大）。
	_ = syncDirBestEffort(dir)

	// rename 成功后，不应删除最终文件。
	return nil
}

func writeAll(w io.Writer, b []byte) error {
	for len(b) > 0 {
		n, err := w.Write(b)
		if err != nil {
			return err
		}
		b = b[n:]
	}
	return nil
}

func syncDirBestEffort(dir string) error {
	// Windows 上目录 Sync 的语义与支持情况不稳定，这里直接跳过。
	if runtime.GOOS == "windows" {
		return nil
	}
	f, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.Sync()
}

// EnsureDir 幂等地创建目录；目标存在但不是目录时返回 PathTypeConflictError。
func EnsureDir(dir string) error {
	fi, err := os.Stat(dir)
	if err == nil {
		if fi.IsDir() {
			return nil
		}
		return &PathTypeConflictError{Path: dir, Want: "dir", Got: "file"}
	}
	if !os.IsNotExist(err) {
		return err
	}
	return os.MkdirAll(dir, 0o755)
}
