package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/John-Robertt/AVSort/internal/app/run"
	"github.com/John-Robertt/AVSort/internal/config"
	"github.com/John-Robertt/AVSort/internal/domain"
	"github.com/John-Robertt/AVSort/internal/infra/fsx"
	"github.com/John-Robertt/AVSort/internal/provider"
	"github.com/John-Robertt/AVSort/internal/provider/jsonapi"
)

func main() {
	args := os.Args[1:]
	if len(args) == 0 || isHelp(args[0]) {
		printUsage()
		return
	}

	switch args[0] {
	case "run":
		if code := runCmd(args[1:]); code != 0 {
			os.Exit(code)
		}
	default:
		fmt.Fprintf(os.Stderr, "未知命令：%q\n\n", args[0])
		printUsage()
		os.Exit(2)
	}
}

func runCmd(args []string) int {
	for _, a := range args {
		if isHelp(a) {
			printRunUsage()
			return 0
		}
	}

	ra, err := parseRunArgs(args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "参数错误：%v\n\n", err)
		printRunUsage()
		return 2
	}

	cwd, err := os.Getwd()
	if err != nil {
		fmt.Fprintf(os.Stderr, "读取当前目录失败：%v\n", err)
		return 1
	}
	cwdAbs, _ := filepath.Abs(cwd)

	eff, err := config.LoadEffective(cwd, config.CLIArgs{
		Path:     ra.Path,
		Dest:     ra.Dest,
		DestSet:  ra.DestSet,
		Apply:    ra.Apply,
		ApplySet: ra.ApplySet,
		Copy:     ra.Copy,
		CopySet:  ra.CopySet,
	})
	if err != nil {
		rr := reportForConfigError(cwdAbs, ra, err)
		emitReport(rr)
		return 1
	}

	clients := make([]provider.Provider, 0, len(eff.Sources))
	for _, s := range eff.Sources {
		clients = append(clients, jsonapi.Client{ID: s.ID, Endpoint: s.URL})
	}
	reg, e := provider.NewRegistry(clients...)
	if e != nil {
		fmt.Fprintf(os.Stderr, "初始化来源 registry 失败：%v\n", e)
		return 1
	}

	progressW, interactive := pickProgressWriter()
	var obs run.Observer
	if interactive {
		obs = newProgressUI(progressW)
	}

	log := newLogger(ra.Verbose)
	rr := run.ExecuteWithObserver(context.Background(), eff, reg, obs, log)

	// apply：必须写入 <path>/cache/report.json；dry-run 禁止落盘。
	if eff.Apply {
		if err := writeReportFile(eff.Path, rr); err != nil {
			fmt.Fprintf(os.Stderr, "写入 report.json 失败：%v\n", err)
			emitReport(rr)
			return 1
		}
	}

	emitReport(rr)
	if interactive {
		emitLocations(progressW, eff)
	}
	if rr.Summary.Failed == 0 && rr.Summary.Unmatched == 0 {
		return 0
	}
	return 1
}

type runArgs struct {
	Path     string
	Dest     string
	DestSet  bool
	Apply    bool
	ApplySet bool
	Copy     bool
	CopySet  bool
	Verbose  bool
}

func parseRunArgs(args []string) (runArgs, error) {
	ra := runArgs{}

	boolFlag := func(name, v string) (bool, error) {
		switch v {
		case "true":
			return true, nil
		case "false":
			return false, nil
		default:
			return false, fmt.Errorf("%s 只能是 true 或 false，实际是 %q", name, v)
		}
	}

	for i := 0; i < len(args); i++ {
		a := args[i]
		switch {
		case a == "--dest":
			if i+1 >= len(args) {
				return runArgs{}, fmt.Errorf("--dest 需要一个值")
			}
			i++
			ra.Dest = args[i]
			ra.DestSet = true
		case strings.HasPrefix(a, "--dest="):
			ra.Dest = strings.TrimPrefix(a, "--dest=")
			ra.DestSet = true
		case a == "--apply":
			ra.Apply = true
			ra.ApplySet = true
		case strings.HasPrefix(a, "--apply="):
			v, err := boolFlag("--apply", strings.TrimPrefix(a, "--apply="))
			if err != nil {
				return runArgs{}, err
			}
			ra.Apply = v
			ra.ApplySet = true
		case a == "--copy":
			ra.Copy = true
			ra.CopySet = true
		case strings.HasPrefix(a, "--copy="):
			v, err := boolFlag("--copy", strings.TrimPrefix(a, "--copy="))
			if err != nil {
				return runArgs{}, err
			}
			ra.Copy = v
			ra.CopySet = true
		case a == "--verbose" || a == "-v":
			ra.Verbose = true
		case strings.HasPrefix(a, "-"):
			return runArgs{}, fmt.Errorf("未知参数 %q", a)
		default:
			if ra.Path != "" {
				return runArgs{}, fmt.Errorf("重复的 path：%q 与 %q", ra.Path, a)
			}
			ra.Path = a
		}
	}

	if ra.DestSet && strings.TrimSpace(ra.Dest) == "" {
		return runArgs{}, fmt.Errorf("--dest 不能为空")
	}

	return ra, nil
}

func isHelp(s string) bool {
	return s == "-h" || s == "--help" || s == "help"
}

func printUsage() {
	fmt.Fprint(os.Stdout, `用法：
  avsort run [path] [--dest DIR] [--copy[=true|false]] [--apply[=true|false]]

命令：
  run    运行流程（默认 dry-run）

使用 "avsort run --help" 查看详细说明。
`)
}

func printRunUsage() {
	fmt.Fprint(os.Stdout, `用法：
  avsort run [path] [--dest DIR] [--copy[=true|false]] [--apply[=true|false]]

参数：
  --dest      目标根目录（未指定则就地整理：影片目录挂在源文件父目录下）
  --copy      复制而非移动；支持 --copy=false 覆盖配置中的 copy=true
  --apply     执行落盘与移动（默认 dry-run）；支持 --apply=false 覆盖配置中的 apply=true
  --verbose   输出调试日志（stderr）
  -h, --help  显示帮助
`)
}

// newLogger 的输出只走 stderr：stdout 保留给 RunReport JSON。
func newLogger(verbose bool) zerolog.Logger {
	level := zerolog.WarnLevel
	if verbose {
		level = zerolog.DebugLevel
	}
	var w io.Writer = os.Stderr
	if isTTY(os.Stderr) {
		w = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}
	}
	return zerolog.New(w).With().Timestamp().Logger().Level(level)
}

func emitReport(rr domain.RunReport) {
	if isTTY(os.Stdout) {
		fmt.Fprintf(os.Stdout, "完成：processed=%d partial=%d skipped=%d collided=%d failed=%d unmatched=%d\n",
			rr.Summary.Processed, rr.Summary.Partial, rr.Summary.Skipped,
			rr.Summary.Collided, rr.Summary.Failed, rr.Summary.Unmatched,
		)
		if rr.Summary.Failed > 0 || rr.Summary.Unmatched > 0 {
			for _, it := range rr.Items {
				if it.Status != domain.StatusFailed && it.Status != domain.StatusUnmatched {
					continue
				}
				key := it.Code
				if key == "" && len(it.Files) > 0 {
					// unmatched/config 等合成条目：用首个输入文件路径做定位锚点。
					key = it.Files[0].Src
				}
				if key == "" {
					key = "<unknown>"
				}
				fmt.Fprintf(os.Stderr, "%s %s: %s\n", key, it.ErrorCode, it.ErrorMsg)
			}
		}
		return
	}

	// stdout 非 TTY：stdout 必须且仅输出一个 RunReport JSON（日志/摘要走 stderr）。
	enc := json.NewEncoder(os.Stdout)
	_ = enc.Encode(rr)
	fmt.Fprintf(os.Stderr, "完成：processed=%d partial=%d skipped=%d collided=%d failed=%d unmatched=%d\n",
		rr.Summary.Processed, rr.Summary.Partial, rr.Summary.Skipped,
		rr.Summary.Collided, rr.Summary.Failed, rr.Summary.Unmatched,
	)
}

func reportForConfigError(cwdAbs string, ra runArgs, err error) domain.RunReport {
	now := time.Now().UTC()
	rr := domain.RunReport{
		Path:       cwdAbs,
		DryRun:     !(ra.ApplySet && ra.Apply),
		StartedAt:  now,
		FinishedAt: now,
		Items: []domain.ItemResult{{
			Code:        "",
			SourcesUsed: []string{},
			Status:      domain.StatusFailed,
			ErrorCode:   config.Code(err),
			ErrorMsg:    err.Error(),
			Candidates:  []string{},
			Files:       []domain.FileResult{},
		}},
	}
	rr.Finalize()
	return rr
}

func writeReportFile(root string, rr domain.RunReport) error {
	b, err := json.MarshalIndent(rr, "", "  ")
	if err != nil {
		return err
	}
	b = append(b, '\n')
	return fsx.WriteFileAtomicReplace(filepath.Join(root, "cache"), "report.json", b)
}

func isTTY(f *os.File) bool {
	fi, err := f.Stat()
	if err != nil {
		return false
	}
	return fi.Mode()&os.ModeCharDevice != 0
}

func pickProgressWriter() (io.Writer, bool) {
	// 进度输出只在交互终端启用；默认走 stderr（不污染 stdout JSON）。
	if isTTY(os.Stderr) {
		return os.Stderr, true
	}
	// 某些环境（例如仅重定向 stderr）下，stdout 仍是 TTY：退化输出到 stdout。
	if isTTY(os.Stdout) {
		return os.Stdout, true
	}
	return nil, false
}

func emitLocations(w io.Writer, eff config.EffectiveConfig) {
	// 这两行用于降低“完成后不知道产物在哪”的摩擦，且不影响 stdout JSON 契约。
	if w == nil {
		return
	}
	if eff.Apply {
		fmt.Fprintf(w, "report: %s\n", filepath.Join(eff.Path, "cache", "report.json"))
	}
	if eff.Dest != "" {
		fmt.Fprintf(w, "dest: %s\n", eff.Dest)
	} else {
		fmt.Fprintf(w, "dest: 就地（%s）\n", eff.Path)
	}
}
