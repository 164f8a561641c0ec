// Package run 把 scan -> 分组 -> 抓取 -> 聚合 -> 规划 -> 执行串成一次完整运行。
//
// 错误尽量"降级"为 item 级失败：单个 CODE 失败不影响其他 CODE。
// 冲突探测与执行之间的 TOCTOU 窗口用目标目录级互斥锁关闭：
// 同一目标目录的规划+执行在锁内完成，不同目录仍然并发。
package run

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/John-Robertt/AVSort/internal/aggregate"
	"github.com/John-Robertt/AVSort/internal/app"
	"github.com/John-Robertt/AVSort/internal/app/executor"
	"github.com/John-Robertt/AVSort/internal/app/planner"
	"github.com/John-Robertt/AVSort/internal/config"
	"github.com/John-Robertt/AVSort/internal/domain"
	"github.com/John-Robertt/AVSort/internal/infra/cache"
	"github.com/John-Robertt/AVSort/internal/infra/httpx"
	"github.com/John-Robertt/AVSort/internal/infra/imgx"
	"github.com/John-Robertt/AVSort/internal/nfo"
	"github.com/John-Robertt/AVSort/internal/provider"
	"github.com/John-Robertt/AVSort/internal/scan"
	"github.com/John-Robertt/AVSort/internal/tpl"
)

// Execute 执行一次 run（dry-run/apply），并返回对外稳定的 RunReport。
func Execute(ctx context.Context, eff config.EffectiveConfig, reg provider.Registry, log zerolog.Logger) domain.RunReport {
	return ExecuteWithObserver(ctx, eff, reg, nil, log)
}

// ExecuteWithObserver 与 Execute 相同，但允许传入 Observer 以输出进度/阶段信息（由上层决定是否启用）。
func ExecuteWithObserver(ctx context.Context, eff config.EffectiveConfig, reg provider.Registry, obs Observer, log zerolog.Logger) domain.RunReport {
	started := time.Now().UTC()

	if obs != nil {
		obs.OnStart(eff)
	}

	rr := domain.RunReport{
		Path:      eff.Path,
		DryRun:    !eff.Apply,
		StartedAt: started,
		Items:     make([]domain.ItemResult, 0, 128),
	}

	metaClient, err := httpx.NewMetaClient(eff.ProxyURL)
	if err != nil {
		rr.Items = append(rr.Items, syntheticFailed(domain.ErrCodeConfigInvalid, fmt.Sprintf("proxy.url 无效：%v", err)))
		rr.FinishedAt = time.Now().UTC()
		rr.Finalize()
		return rr
	}

	var imageClient *http.Client
	if eff.Apply {
		ic, e := httpx.NewImageClient(eff.ProxyURL, eff.ImageProxy)
		if e != nil {
			rr.Items = append(rr.Items, syntheticFailed(domain.ErrCodeConfigInvalid, e.Error()))
			rr.FinishedAt = time.Now().UTC()
			rr.Finalize()
			return rr
		}
		imageClient = ic
	}

	store := cache.New(eff.Path, !eff.Apply)

	scanStarted := time.Now()
	files, err := scan.ScanVideos(eff.Path, eff.ExcludeDirs, int64(eff.MinSizeMB)*1<<20)
	if err != nil {
		rr.Items = append(rr.Items, syntheticFailed(domain.ErrCodeIOFailed, fmt.Sprintf("扫描失败：%v", err)))
		rr.FinishedAt = time.Now().UTC()
		rr.Finalize()
		return rr
	}
	scanDur := time.Since(scanStarted)

	groupStarted := time.Now()
	items, unmatched, err := app.GroupByCode(files)
	if err != nil {
		rr.Items = append(rr.Items, syntheticFailed(domain.ErrCodeIOFailed, fmt.Sprintf("分组失败：%v", err)))
		rr.FinishedAt = time.Now().UTC()
		rr.Finalize()
		return rr
	}
	groupDur := time.Since(groupStarted)

	if obs != nil {
		obs.OnPhaseDone("scan", map[string]any{
			"files":     len(files),
			"unmatched": len(unmatched),
		}, scanDur)
		obs.OnPhaseDone("group", map[string]any{
			"codes": len(items),
		}, groupDur)
	}

	// unmatched：每个输入文件单独形成一条 item（更可解释，便于用户逐个修复）。
	for _, u := range unmatched {
		rr.Items = append(rr.Items, unmatchedItem(u))
	}

	workers := eff.Concurrency
	if workers < 1 {
		workers = 1
	}
	if obs != nil {
		obs.OnPhaseDone("exec", map[string]any{
			"workers":     workers,
			"total_items": len(items),
		}, 0)
	}

	exec := &itemExecutor{
		eff:         eff,
		reg:         reg,
		metaClient:  metaClient,
		imageClient: imageClient,
		store:       store,
		log:         log,
	}

	type execResult struct {
		code domain.Code
		res  domain.ItemResult
		dur  time.Duration
	}

	jobs := make(chan domain.WorkItem)
	results := make(chan execResult, len(items))

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for it := range jobs {
				oneStarted := time.Now()
				var r domain.ItemResult
				// 协作式取消：item 之间检查，不打断进行中的 item。
				if ctx.Err() != nil {
					r = cancelledItem(it, files)
				} else {
					r = exec.one(ctx, it, files)
				}
				results <- execResult{code: it.Code, res: r, dur: time.Since(oneStarted)}
			}
		}()
	}

	go func() {
		for _, it := range items {
			jobs <- it
		}
		close(jobs)
		wg.Wait()
		close(results)
	}()

	done := 0
	for it := range results {
		done++
		rr.Items = append(rr.Items, it.res)
		if obs != nil {
			obs.OnItemDone(done, len(items), it.code, it.res, it.dur)
		}
	}

	rr.FinishedAt = time.Now().UTC()
	rr.Finalize()
	return rr
}

// itemExecutor 聚合单个 CODE 的处理依赖（worker 间共享，只读 + 并发安全成员）。
type itemExecutor struct {
	eff         config.EffectiveConfig
	reg         provider.Registry
	metaClient  *http.Client
	imageClient *http.Client
	store       cache.Store
	log         zerolog.Logger

	// dirLocks 按目标目录串行化"规划+执行"（关闭冲突探测的 TOCTOU 窗口）。
	dirLocks sync.Map
}

func (x *itemExecutor) lockDir(dir string) *sync.Mutex {
	mu, _ := x.dirLocks.LoadOrStore(dir, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

func (x *itemExecutor) one(ctx context.Context, it domain.WorkItem, files []domain.VideoFile) domain.ItemResult {
	item := domain.ItemResult{
		Code:        string(it.Code),
		SourcesUsed: []string{},
		Status:      domain.StatusProcessed, // 失败时覆盖
		Candidates:  []string{},
		Files:       make([]domain.FileResult, 0, len(it.FileIdx)),
	}

	rec, used, attempts, err := x.fetchAndAggregate(ctx, it.Code)
	if err != nil {
		fillSourceError(&item, attempts, err)
		for _, idx := range it.FileIdx {
			item.Files = append(item.Files, domain.FileResult{Src: files[idx].RelPath, Status: domain.FileStatusFailed})
		}
		return item
	}
	item.SourcesUsed = used

	templates := planner.Templates{
		Folder: x.eff.FolderFormat,
		File:   x.eff.FileFormat,
		Levels: x.eff.OutputFolders,
	}
	opts := tpl.Options{
		MaxSegmentLen:  x.eff.MaxSegmentLen,
		ActorsSep:      x.eff.ActorsSeparator,
		ActorsFallback: x.eff.ActorsFallback,
	}
	mode := planner.Mode{
		Copy:      x.eff.Copy,
		DryRun:    !x.eff.Apply,
		Collision: x.eff.Collision,
	}

	var relocated, collided, partial, failed int
	for _, idx := range it.FileIdx {
		v := files[idx]
		fr := domain.FileResult{Src: v.RelPath, Status: domain.FileStatusPlanned}

		// 第一次 Plan 只为拿到目标目录；锁内再规划一次作为权威结果。
		probe, perr := planner.Plan(rec, v, x.eff.Dest, templates, opts, mode, x.log)
		if perr != nil {
			fr.Status = domain.FileStatusFailed
			item.Status = domain.StatusFailed
			item.ErrorCode = domain.ErrCodeIOFailed
			item.ErrorMsg = fmt.Sprintf("规划失败：%v", perr)
			item.Files = append(item.Files, fr)
			failed++
			continue
		}

		mu := x.lockDir(probe.DestDir)
		mu.Lock()
		plan, perr := planner.Plan(rec, v, x.eff.Dest, templates, opts, mode, x.log)
		if perr != nil {
			mu.Unlock()
			fr.Status = domain.FileStatusFailed
			item.Status = domain.StatusFailed
			item.ErrorCode = domain.ErrCodeIOFailed
			item.ErrorMsg = fmt.Sprintf("规划失败：%v", perr)
			item.Files = append(item.Files, fr)
			failed++
			continue
		}
		fr.Dst = relTo(x.eff.Path, plan.Video.DstAbs)

		if !x.eff.Apply {
			mu.Unlock()
			if plan.Collision == domain.CollisionSkip {
				fr.Status = domain.FileStatusSkipped
				collided++
			}
			item.Files = append(item.Files, fr)
			continue
		}

		res := executor.Execute(ctx, plan, x.sidecarWriter(rec), x.artworks(rec, plan.DestDir), executor.Options{Checksum: x.eff.VerifyChecksum}, x.log)
		mu.Unlock()

		item.Steps = append(item.Steps, res.Steps...)
		switch {
		case res.Failed:
			fr.Status = domain.FileStatusFailed
			item.ErrorCode = res.ErrorCode()
			item.ErrorMsg = stepError(res.Steps)
			failed++
		case plan.Collision == domain.CollisionSkip:
			fr.Status = domain.FileStatusSkipped
			collided++
		case plan.Operation == domain.OpInPlace:
			fr.Status = domain.FileStatusInPlace
			relocated++
		case plan.Operation == domain.OpCopy:
			fr.Status = domain.FileStatusCopied
			relocated++
		default:
			fr.Status = domain.FileStatusMoved
			relocated++
		}
		if res.Partial {
			partial++
			item.ErrorCode = domain.ErrCodePartialWrite
			item.ErrorMsg = stepError(res.Steps)
		}
		item.Files = append(item.Files, fr)
	}

	// item 状态裁决：failed > partial > collided > processed。
	switch {
	case failed > 0:
		item.Status = domain.StatusFailed
	case partial > 0:
		item.Status = domain.StatusPartial
	case collided > 0 && relocated == 0:
		item.Status = domain.StatusCollided
		item.ErrorCode = domain.ErrCodeCollision
		item.ErrorMsg = "目标已存在且策略为 skip；未做任何变更"
	}
	return item
}

// fetchAndAggregate 按配置来源抓取（cache 优先）并聚合为单条权威记录。
func (x *itemExecutor) fetchAndAggregate(ctx context.Context, code domain.Code) (domain.Record, []string, []provider.Attempt, error) {
	sources := x.eff.SourceIDs()

	// cache 命中的来源不再走网络；坏缓存忽略，回退抓取。
	cached := make(map[string]domain.SourceRecord, len(sources))
	misses := make([]string, 0, len(sources))
	for _, name := range sources {
		b, ok, err := x.store.ReadSource(name, code)
		if err != nil || !ok {
			misses = append(misses, name)
			continue
		}
		p, ok := x.reg.Get(name)
		if !ok {
			misses = append(misses, name)
			continue
		}
		rec, perr := p.Parse(code, b, "cache")
		if perr != nil {
			misses = append(misses, name)
			continue
		}
		rec.Source = name
		cached[name] = rec
	}

	var attempts []provider.Attempt
	fetched := make(map[string]domain.SourceRecord, len(misses))
	if len(misses) > 0 {
		results, att, err := provider.FetchAll(ctx, x.reg, misses, code, x.metaClient)
		if err != nil {
			return domain.Record{}, nil, nil, err
		}
		attempts = att
		for _, f := range results {
			fetched[f.Record.Source] = f.Record
			if !x.store.ReadOnly {
				if werr := x.store.WriteSource(f.Record.Source, code, f.Payload); werr != nil {
					x.log.Warn().Err(werr).Str("source", f.Record.Source).Str("code", string(code)).Msg("写入来源缓存失败")
				}
			}
		}
	}

	records := make([]domain.SourceRecord, 0, len(sources))
	used := make([]string, 0, len(sources))
	for _, name := range sources {
		if rec, ok := cached[name]; ok {
			records = append(records, rec)
			used = append(used, name)
			continue
		}
		if rec, ok := fetched[name]; ok {
			records = append(records, rec)
			used = append(used, name)
		}
	}
	if len(records) == 0 {
		return domain.Record{}, nil, attempts, fmt.Errorf("所有来源均失败")
	}

	rec, err := aggregate.Aggregate(records, sources, x.eff.FieldPriority)
	if err != nil {
		return domain.Record{}, nil, attempts, err
	}
	if rec.ID == "" {
		rec.ID = code
	}
	return rec, used, attempts, nil
}

func (x *itemExecutor) sidecarWriter(rec domain.Record) executor.SidecarWriter {
	art := nfo.Artwork{Poster: x.eff.PosterFilename, Backdrop: x.eff.BackdropFilename}
	return func() ([]byte, error) { return nfo.Encode(rec, art) }
}

// artworks 绑定 backdrop 下载与 poster 裁切；poster 固定从 backdrop 右半边得到。
func (x *itemExecutor) artworks(rec domain.Record, destDir string) []executor.Artwork {
	if x.imageClient == nil || len(rec.ImageURLs) == 0 {
		return nil
	}
	backdropURL := rec.ImageURLs[0]

	var backdropBytes []byte
	return []executor.Artwork{
		{
			Filename: x.eff.BackdropFilename,
			Fetch: func(ctx context.Context) ([]byte, error) {
				b, err := download(ctx, x.imageClient, backdropURL)
				if err != nil {
					return nil, err
				}
				backdropBytes = b
				return b, nil
			},
		},
		{
			Filename: x.eff.PosterFilename,
			Fetch: func(ctx context.Context) ([]byte, error) {
				src := backdropBytes
				if len(src) == 0 {
					// backdrop 已在磁盘上（本次未下载）：从目标目录读取。
					b, err := os.ReadFile(filepath.Join(destDir, x.eff.BackdropFilename))
					if err != nil {
						return nil, fmt.Errorf("读取 backdrop 失败，无法生成 poster：%w", err)
					}
					src = b
				}
				return imgx.PosterFromBackdropRightHalfJPEG(src)
			},
		},
	}
}

func unmatchedItem(u domain.Unmatched) domain.ItemResult {
	item := domain.ItemResult{
		Code:        "",
		SourcesUsed: []string{},
		Status:      domain.StatusUnmatched,
		ErrorCode:   domain.ErrCodeUnmatchedCode,
		Candidates:  []string{},
		Files: []domain.FileResult{{
			Src:    u.File.RelPath,
			Status: domain.FileStatusFailed,
		}},
	}

	switch u.Kind {
	case "ambiguous":
		item.Candidates = make([]string, 0, len(u.Candidates))
		for _, c := range u.Candidates {
			item.Candidates = append(item.Candidates, string(c))
		}
		item.ErrorMsg = fmt.Sprintf("解析到多个不同 CODE（ambiguous）：%v；请重命名文件/目录使其只包含一个 CODE", item.Candidates)
	default:
		item.ErrorMsg = "无法从文件名或父目录解析出 CODE；请确保文件名包含类似 CAWD-895 的片段"
	}
	return item
}

func cancelledItem(it domain.WorkItem, files []domain.VideoFile) domain.ItemResult {
	out := domain.ItemResult{
		Code:        string(it.Code),
		SourcesUsed: []string{},
		Status:      domain.StatusSkipped,
		ErrorMsg:    "运行被取消，该条目未处理",
		Candidates:  []string{},
		Files:       make([]domain.FileResult, 0, len(it.FileIdx)),
	}
	for _, idx := range it.FileIdx {
		out.Files = append(out.Files, domain.FileResult{Src: files[idx].RelPath, Status: domain.FileStatusSkipped})
	}
	return out
}

func syntheticFailed(code, msg string) domain.ItemResult {
	return domain.ItemResult{
		Code:        "",
		SourcesUsed: []string{},
		Status:      domain.StatusFailed,
		ErrorCode:   code,
		ErrorMsg:    msg,
		Candidates:  []string{},
		Files:       []domain.FileResult{},
	}
}

func fillSourceError(item *domain.ItemResult, attempts []provider.Attempt, err error) {
	item.Status = domain.StatusFailed

	var ce *aggregate.ConfigError
	if errors.As(err, &ce) {
		item.ErrorCode = domain.ErrCodeConfigInvalid
		item.ErrorMsg = err.Error()
		return
	}

	// 全来源失败：用第一条失败 attempt 解释（fetch/parse 归类）。
	for _, a := range attempts {
		var pe *provider.Error
		if !errors.As(a.Err, &pe) {
			continue
		}
		switch pe.Stage {
		case "parse":
			item.ErrorCode = domain.ErrCodeParseFailed
			item.ErrorMsg = humanizeParseError(pe.Source, pe.Err)
		default:
			item.ErrorCode = domain.ErrCodeFetchFailed
			item.ErrorMsg = humanizeFetchError(pe.Source, pe.Err)
		}
		return
	}

	item.ErrorCode = domain.ErrCodeFetchFailed
	item.ErrorMsg = err.Error()
}

func humanizeFetchError(source string, err error) string {
	if err == nil {
		return source + " 抓取失败"
	}

	// HTTP 非 2xx：尽量给出可操作提示（限流/不存在是最常见问题）。
	var hs *provider.HTTPStatusError
	if errors.As(err, &hs) {
		switch hs.StatusCode {
		case 403, 429:
			return fmt.Sprintf("%s 返回 HTTP %d（可能触发限流）。建议降低并发或配置 proxy.url。", source, hs.StatusCode)
		case 404:
			return fmt.Sprintf("%s 返回 HTTP 404（可能该 CODE 不存在/已下架）。", source)
		default:
			return fmt.Sprintf("%s 返回 HTTP %d。", source, hs.StatusCode)
		}
	}

	low := strings.ToLower(err.Error())
	if errors.Is(err, context.DeadlineExceeded) || strings.Contains(low, "timeout") {
		return fmt.Sprintf("%s 抓取超时。建议检查网络/代理，或降低并发后重试。", source)
	}
	if strings.Contains(low, "tls") || strings.Contains(low, "handshake") || strings.Contains(low, "ssl") {
		return fmt.Sprintf("%s 连接失败（TLS/SSL）。建议配置 proxy.url 或稍后重试。", source)
	}

	return fmt.Sprintf("%s 抓取失败：%v", source, err)
}

func humanizeParseError(source string, err error) string {
	if err == nil {
		return source + " 解析失败"
	}
	// 解析失败通常意味着端点形状漂移或返回了非预期内容（例如错误页/空文档）。
	return fmt.Sprintf("%s 解析失败（端点形状可能变化或返回了非详情内容）：%v", source, err)
}

func stepError(steps []domain.StepResult) string {
	for _, s := range steps {
		if s.Status == executor.StepFailed {
			return fmt.Sprintf("%s 失败：%s", s.Step, s.Error)
		}
	}
	return ""
}

func relTo(root, abs string) string {
	if rel, err := filepath.Rel(root, abs); err == nil && !strings.HasPrefix(rel, "..") {
		return rel
	}
	return abs
}

func download(ctx context.Context, c *http.Client, u string) ([]byte, error) {
	if c == nil {
		return nil, errors.New("image client 为空")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}
