package scan

import (
	"io/fs"
	"path/filepath"
	"sort"
	"strings"

	"github.com/John-Robertt/AVSort/internal/domain"
)

// ScanVideos 扫描 root 下的视频文件，并应用目录排除规则。
//
// 规则（硬约束）：
// - 永久排除：<root>/cache/（刮削缓存目录，不属于媒体内容）
// - excludeDirs：来自配置文件，均视为相对 root 的路径（若是绝对路径，则按绝对路径处理）
// - minSize 为字节阈值；小于该值的视频（预告片/样片）直接忽略，0 表示不过滤
//
// 注意：扫描阶段只做 stat（DirEntry.Info），不读文件内容。
// 每个视频会在同目录内关联同名前缀的字幕文件（IPX-486.srt / IPX-486.zh.srt）。
func ScanVideos(root string, excludeDirs []string, minSize int64) ([]domain.VideoFile, error) {
	root = filepath.Clean(root)
	excluded := buildExcluded(root, excludeDirs)

	files := make([]domain.VideoFile, 0, 128)
	subsByDir := make(map[string][]string, 16)

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}

		// 统一的排除判断：目录用 SkipDir，文件则直接跳过。
		if isExcluded(path, excluded) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		if d.IsDir() {
			return nil
		}

		name := d.Name()
		ext := strings.ToLower(filepath.Ext(name))

		if isSubtitleExt(ext) {
			dir := filepath.Dir(path)
			subsByDir[dir] = append(subsByDir[dir], path)
			return nil
		}

		if !isVideoExt(ext) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		if minSize > 0 && info.Size() < minSize {
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}

		files = append(files, domain.VideoFile{
			AbsPath: path,
			RelPath: rel,
			Base:    strings.TrimSuffix(name, filepath.Ext(name)),
			Ext:     ext,
			Size:    info.Size(),
			ModUnix: info.ModTime().Unix(),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	// 强制稳定输出，避免不同平台/文件系统行为差异带来的不确定性。
	sort.Slice(files, func(i, j int) bool { return files[i].RelPath < files[j].RelPath })

	for d := range subsByDir {
		sort.Strings(subsByDir[d])
	}
	for i := range files {
		files[i].Subs = matchSubs(files[i], subsByDir[filepath.Dir(files[i].AbsPath)])
	}
	return files, nil
}

// matchSubs 关联同目录下以视频 Base 开头的字幕：
// 允许 Base 与扩展名之间存在语言段（".zh"、".en" 等）。
func matchSubs(v domain.VideoFile, candidates []string) []string {
	if len(candidates) == 0 {
		return nil
	}
	var out []string
	for _, p := range candidates {
		name := filepath.Base(p)
		stem := strings.TrimSuffix(name, filepath.Ext(name))
		if stem == v.Base || strings.HasPrefix(stem, v.Base+".") {
			out = append(out, p)
		}
	}
	return out
}

func isVideoExt(ext string) bool {
	switch ext {
	case ".mp4", ".mkv", ".avi", ".wmv", ".mov", ".flv", ".m4v", ".rmvb", ".asf", ".ts":
		return true
	default:
		return false
	}
}

func isSubtitleExt(ext string) bool {
	switch ext {
	case ".srt", ".ass", ".ssa", ".sub", ".vtt":
		return true
	default:
		return false
	}
}

func buildExcluded(root string, excludeDirs []string) []string {
	cacheDir := filepath.Join(root, "cache")

	excluded := make([]string, 0, 1+len(excludeDirs))
	excluded = append(excluded, filepath.Clean(cacheDir))

	for _, x := range excludeDirs {
		x = strings.TrimSpace(x)
		if x == "" {
			continue
		}
		if filepath.IsAbs(x) {
			excluded = append(excluded, filepath.Clean(x))
			continue
		}
		// x 是相对路径：相对 root。
		excluded = append(excluded, filepath.Clean(filepath.Join(root, x)))
	}

	// 排除列表排序后，isExcluded 的行为更可预测（且便于测试）。
	sort.Strings(excluded)
	return excluded
}

func isExcluded(path string, excluded []string) bool {
	path = filepath.Clean(path)
	for _, base := range excluded {
		if isUnder(path, base) {
			return true
		}
	}
	return false
}

func isUnder(path, base string) bool {
	if path == base {
		return true
	}
	sep := string(filepath.Separator)
	return strings.HasPrefix(path, base+sep)
}
