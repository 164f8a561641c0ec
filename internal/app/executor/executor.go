// Package executor 执行一份 SortPlan 的文件系统变更。
//
// 步骤顺序是硬约束：目录 -> 视频落位 -> 字幕 -> sidecar -> artwork。
// 视频先行保证失败时不会留下孤儿 sidecar；视频落位成功后，
// 后续步骤的失败只降级为“部分成功”，绝不回滚视频——
// 自动“搬回去”有再次损坏数据的风险，不值得。
package executor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/John-Robertt/AVSort/internal/domain"
	"github.com/John-Robertt/AVSort/internal/infra/fsx"
)

// 步骤名（写入 report，保持稳定）。
const (
	StepMkdir     = "mkdir"
	StepRelocate  = "relocate"
	StepSubtitles = "subtitles"
	StepSidecar   = "sidecar"
	StepArtwork   = "artwork"
)

const (
	StepOK      = "ok"
	StepExists  = "exists" // 目标已满足（sidecar/artwork 不覆盖语义）
	StepFailed  = "failed"
	StepSkipped = "skipped"
)

// SidecarWriter 是 sidecar 文档生成协作方：产出要写入目标目录的字节流。
type SidecarWriter func() ([]byte, error)

// Artwork 描述一件要落盘的图片：Fetch 由调用方绑定（下载/裁切均可），
// executor 只负责“取字节、原子写入、单件失败不拖垮整体”。
type Artwork struct {
	Filename string
	Fetch    func(ctx context.Context) ([]byte, error)
}

// Options 控制执行细节。
type Options struct {
	Checksum bool // move/copy 后做 xxhash 内容校验
}

// Result 是单次执行的分步结果。
type Result struct {
	Steps []domain.StepResult

	Relocated bool // 视频（与字幕）是否已落位
	Partial   bool // 视频已落位但后续步骤有失败
	Failed    bool // 视频未落位（含前置 mkdir 失败）
}

// ErrorCode 把结果映射为 report 的 error_code（成功时为空串）。
func (r Result) ErrorCode() string {
	switch {
	case r.Failed:
		for _, s := range r.Steps {
			if s.Status != StepFailed {
				continue
			}
			if s.Step == StepMkdir {
				return domain.ErrCodeIOFailed
			}
			return domain.ErrCodeMoveFailed
		}
		return domain.ErrCodeIOFailed
	case r.Partial:
		return domain.ErrCodePartialWrite
	default:
		return ""
	}
}

// Execute 按计划落位。plan.Collision==skip 或 plan.DryRun 时不做任何写入。
func Execute(ctx context.Context, plan domain.SortPlan, sidecar SidecarWriter, artworks []Artwork, opts Options, log zerolog.Logger) Result {
	var res Result

	if plan.Collision == domain.CollisionSkip {
		res.Steps = append(res.Steps, domain.StepResult{Step: StepRelocate, Status: StepSkipped, Path: plan.Video.DstAbs})
		return res
	}
	if plan.DryRun {
		return res
	}

	step := func(name, status, path, msg string) {
		res.Steps = append(res.Steps, domain.StepResult{Step: name, Status: status, Path: path, Error: msg})
	}

	if err := fsx.EnsureDir(plan.DestDir); err != nil {
		step(StepMkdir, StepFailed, plan.DestDir, err.Error())
		res.Failed = true
		return res
	}
	step(StepMkdir, StepOK, plan.DestDir, "")

	if err := relocate(plan, opts); err != nil {
		step(StepRelocate, StepFailed, plan.Video.DstAbs, err.Error())
		res.Failed = true
		log.Error().Err(err).Str("src", plan.Video.SrcAbs).Str("dst", plan.Video.DstAbs).Msg("视频落位失败")
		return res
	}
	step(StepRelocate, StepOK, plan.Video.DstAbs, "")
	res.Relocated = true

	// 视频已落位：此后任何失败只记账，不中断、不回滚。
	for _, mv := range plan.Subs {
		if err := relocateOne(mv, plan.Operation, opts); err != nil {
			step(StepSubtitles, StepFailed, mv.DstAbs, err.Error())
			res.Partial = true
			continue
		}
		step(StepSubtitles, StepOK, mv.DstAbs, "")
	}

	if sidecar != nil {
		if err := writeSidecar(plan, sidecar); err != nil {
			if errors.Is(err, os.ErrExist) {
				step(StepSidecar, StepExists, plan.SidecarName, "")
			} else {
				step(StepSidecar, StepFailed, plan.SidecarName, err.Error())
				res.Partial = true
				log.Warn().Err(err).Str("dir", plan.DestDir).Msg("sidecar 写入失败（视频已落位，不回滚）")
			}
		} else {
			step(StepSidecar, StepOK, plan.SidecarName, "")
		}
	}

	for _, aw := range artworks {
		if err := writeArtwork(ctx, plan, aw); err != nil {
			if errors.Is(err, os.ErrExist) {
				step(StepArtwork, StepExists, aw.Filename, "")
				continue
			}
			step(StepArtwork, StepFailed, aw.Filename, err.Error())
			res.Partial = true
			log.Warn().Err(err).Str("file", aw.Filename).Msg("artwork 写入失败（单件容忍）")
			continue
		}
		step(StepArtwork, StepOK, aw.Filename, "")
	}

	return res
}

func relocate(plan domain.SortPlan, opts Options) error {
	if plan.Operation == domain.OpInPlace {
		return nil
	}
	if plan.Collision == domain.CollisionReplace {
		// 覆盖是显式配置的决定；先挪走旧文件，失败则整步失败。
		if err := os.Remove(plan.Video.DstAbs); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("清理既有目标失败：%w", err)
		}
	}
	return relocateOne(plan.Video, plan.Operation, opts)
}

func relocateOne(mv domain.MovePlan, op string, opts Options) error {
	switch op {
	case domain.OpCopy:
		return fsx.CopyFileVerified(mv.SrcAbs, mv.DstAbs, opts.Checksum)
	case domain.OpInPlace:
		return nil
	default:
		return fsx.MoveFile(mv.SrcAbs, mv.DstAbs, opts.Checksum)
	}
}

func writeSidecar(plan domain.SortPlan, sidecar SidecarWriter) error {
	b, err := sidecar()
	if err != nil {
		return err
	}
	return fsx.WriteFileAtomicNoOverwrite(plan.DestDir, plan.SidecarName, b)
}

func writeArtwork(ctx context.Context, plan domain.SortPlan, aw Artwork) error {
	// 已存在即满足：先探测可以省掉一次下载。
	if _, err := os.Lstat(filepath.Join(plan.DestDir, aw.Filename)); err == nil {
		return os.ErrExist
	}
	b, err := aw.Fetch(ctx)
	if err != nil {
		return err
	}
	return fsx.WriteFileAtomicNoOverwrite(plan.DestDir, aw.Filename, b)
}
