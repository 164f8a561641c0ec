// Package planner 把聚合后的元数据映射为一份确定性的 SortPlan。
//
// 约束：
// - 只做只读的存在性检查（stat/ReadDir），不发生任何写入
// - 相同输入 + 相同磁盘现状 => 相同计划
// - 冲突检查与执行之间存在 TOCTOU 窗口：批量调用方必须按目标目录串行化
package planner

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"github.com/John-Robertt/AVSort/internal/domain"
	"github.com/John-Robertt/AVSort/internal/tpl"
)

// 冲突处置策略（配置值）。
const (
	PolicySkip      = "skip"
	PolicyOverwrite = "overwrite"
	PolicySuffix    = "suffix"
)

// Templates 是路径模板配置：不可变值对象，每次调用显式构造。
type Templates struct {
	Folder string   // 影片目录名模板
	File   string   // 视频文件名模板（扩展名自动沿用源文件）
	Levels []string // 嵌套输出层模板（外层在前；空列表 = 平铺布局）
}

// Mode 是单次规划的执行参数。
type Mode struct {
	Copy      bool
	DryRun    bool
	Collision string // PolicySkip（默认）/ PolicyOverwrite / PolicySuffix
}

// Plan 计算单个视频文件的完整落位计划。
//
// destRoot 为空表示就地整理：影片目录作为源文件父目录的兄弟创建。
// 目标文件名已存在且不是源文件本身时，按 Mode.Collision 裁决；
// 默认 skip——绝不默默覆盖既有内容。
func Plan(rec domain.Record, v domain.VideoFile, destRoot string, t Templates, opts tpl.Options, mode Mode, log zerolog.Logger) (domain.SortPlan, error) {
	if strings.TrimSpace(string(rec.ID)) == "" {
		return domain.SortPlan{}, fmt.Errorf("record.ID 为空，无法生成非空路径段")
	}

	root := strings.TrimSpace(destRoot)
	if root == "" {
		root = filepath.Dir(v.AbsPath)
	}
	root = filepath.Clean(root)

	levels := tpl.RenderLevels(t.Levels, rec, opts)
	folder := tpl.Render(t.Folder, rec, opts)
	fileBase := tpl.Render(t.File, rec, opts)

	destDir := root
	for _, lv := range levels {
		destDir = filepath.Join(destDir, lv)
	}
	destDir = filepath.Join(destDir, folder)

	plan := domain.SortPlan{
		Code:        rec.ID,
		DestRoot:    root,
		DestLevels:  levels,
		DestDir:     destDir,
		DestFile:    fileBase + v.Ext,
		SidecarName: fileBase + ".nfo",
		Operation:   domain.OpMove,
		DryRun:      mode.DryRun,
		Collision:   domain.CollisionNone,
	}
	if mode.Copy {
		plan.Operation = domain.OpCopy
	}

	dstAbs := filepath.Join(destDir, plan.DestFile)
	switch state, err := probeTarget(v.AbsPath, dstAbs); {
	case err != nil:
		return domain.SortPlan{}, err
	case state == targetIsSource:
		plan.Operation = domain.OpInPlace
	case state == targetOccupied:
		switch mode.Collision {
		case PolicyOverwrite:
			plan.Collision = domain.CollisionReplace
			log.Warn().Str("dst", dstAbs).Msg("目标已存在，按配置覆盖")
		case PolicySuffix:
			alt, err := suffixedName(destDir, fileBase, v.Ext)
			if err != nil {
				return domain.SortPlan{}, err
			}
			plan.DestFile = alt
			plan.SidecarName = strings.TrimSuffix(alt, v.Ext) + ".nfo"
			plan.Collision = domain.CollisionSuffix
			dstAbs = filepath.Join(destDir, alt)
			log.Info().Str("dst", dstAbs).Msg("目标已存在，改用后缀备选名")
		default: // skip：安全优先
			plan.Collision = domain.CollisionSkip
			log.Warn().Str("dst", dstAbs).Msg("目标已存在，跳过（默认不覆盖）")
		}
	}

	plan.Video = domain.MovePlan{SrcAbs: v.AbsPath, DstAbs: dstAbs}
	plan.Subs = planSubs(v, destDir, strings.TrimSuffix(plan.DestFile, v.Ext))
	return plan, nil
}

type targetState int

const (
	targetFree targetState = iota
	targetIsSource
	targetOccupied
)

// probeTarget 判定目标文件名现状：空闲 / 正是源文件 / 被别的内容占用。
func probeTarget(srcAbs, dstAbs string) (targetState, error) {
	dfi, err := os.Stat(dstAbs)
	if err != nil {
		if os.IsNotExist(err) {
			return targetFree, nil
		}
		return targetFree, err
	}

	sfi, err := os.Stat(srcAbs)
	if err == nil && os.SameFile(sfi, dfi) {
		return targetIsSource, nil
	}
	return targetOccupied, nil
}

// suffixedName 在目标目录内分配确定性的 __2/__3… 备选名。
func suffixedName(destDir, base, ext string) (string, error) {
	used := map[string]struct{}{}
	entries, err := os.ReadDir(destDir)
	if err != nil && !os.IsNotExist(err) {
		return "", err
	}
	for _, e := range entries {
		used[e.Name()] = struct{}{}
	}

	for n := 2; ; n++ {
		cand := fmt.Sprintf("%s__%d%s", base, n, ext)
		if _, ok := used[cand]; !ok {
			return cand, nil
		}
	}
}

// planSubs 为伴随字幕生成迁移计划：保留 Base 之后的语言段与扩展名。
func planSubs(v domain.VideoFile, destDir, destBase string) []domain.MovePlan {
	if len(v.Subs) == 0 {
		return nil
	}
	out := make([]domain.MovePlan, 0, len(v.Subs))
	for _, sub := range v.Subs {
		tail := strings.TrimPrefix(filepath.Base(sub), v.Base)
		out = append(out, domain.MovePlan{
			SrcAbs: sub,
			DstAbs: filepath.Join(destDir, destBase+tail),
		})
	}
	return out
}
