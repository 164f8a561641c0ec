package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	kjson "github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/John-Robertt/AVSort/internal/domain"
)

const (
	// ErrCodeNotFound 表示无参运行但 cwd 下没有 avsort.json。
	ErrCodeNotFound = "config_not_found"
	// ErrCodeInvalid 表示配置文件无法读取/解析，或字段不合法。
	ErrCodeInvalid = "config_invalid"
	// ErrCodeMissingPath 表示无参运行但配置文件缺少 path 字段。
	ErrCodeMissingPath = "config_missing_path"
)

const (
	DefaultConcurrency = 4
	DefaultMinSizeMB   = 100
	DefaultCollision   = "skip"

	DefaultFolderFormat = "<ID>"
	DefaultFileFormat   = "<ID>"

	DefaultActorsSeparator = ", "
	DefaultActorsFallback  = "Unknown"

	DefaultPosterFilename   = "poster.jpg"
	DefaultBackdropFilename = "fanart.jpg"

	// DefaultSourceID / DefaultSourceURL 是未配置 sources 时的内置来源。
	DefaultSourceID  = "r18dev"
	DefaultSourceURL = "https://r18.dev/videos/vod/movies/detail/-/dvd_id={code}/json"
)

// CLIArgs 只包含 CLI 暴露的入口（path/dest/apply/copy），并保留"是否显式指定"的信息。
// 这能保证覆盖优先级可实现：例如 --apply=false 必须能覆盖 config.apply=true。
type CLIArgs struct {
	Path string

	Dest    string
	DestSet bool

	Apply    bool
	ApplySet bool

	Copy    bool
	CopySet bool
}

// Source 是一个元数据来源：id + JSON 端点模板（{code} 占位）。
type Source struct {
	ID  string `koanf:"id"`
	URL string `koanf:"url"`
}

// FileConfig 对应 avsort.json 的解析结构（koanf 映射）。
type FileConfig struct {
	Path string `koanf:"path"`
	Dest string `koanf:"dest"`

	Apply *bool `koanf:"apply"`
	Copy  *bool `koanf:"copy"`

	Concurrency int  `koanf:"concurrency"`
	MinSizeMB   *int `koanf:"min_size_mb"`

	Proxy       *ProxyConfig `koanf:"proxy"`
	ImageProxy  bool         `koanf:"image_proxy"`
	ExcludeDirs []string     `koanf:"exclude_dirs"`

	Sources       []Source            `koanf:"sources"`
	FieldPriority map[string][]string `koanf:"field_priority"`

	FolderFormat  string   `koanf:"folder_format"`
	FileFormat    string   `koanf:"file_format"`
	OutputFolders []string `koanf:"output_folder"`

	MaxSegmentLen  *int   `koanf:"max_segment_length"`
	Collision      string `koanf:"collision"`
	VerifyChecksum bool   `koanf:"verify_checksum"`

	ActorsSeparator string `koanf:"actors_separator"`
	ActorsFallback  string `koanf:"actors_fallback"`

	PosterFilename   string `koanf:"poster_filename"`
	BackdropFilename string `koanf:"backdrop_filename"`
}

type ProxyConfig struct {
	URL string `koanf:"url"`
}

// EffectiveConfig 是合并并做最小规范化后的最终配置（实现层直接消费，不再做二次默认/优先级判断）。
type EffectiveConfig struct {
	Path string
	Dest string // 空 = 就地整理（影片目录挂在源文件父目录下）

	Apply bool
	Copy  bool

	Concurrency int
	MinSizeMB   int

	ProxyURL    string
	ImageProxy  bool
	ExcludeDirs []string

	Sources       []Source
	FieldPriority domain.FieldPriority

	FolderFormat  string
	FileFormat    string
	OutputFolders []string

	MaxSegmentLen  int
	Collision      string // skip / overwrite / suffix
	VerifyChecksum bool

	ActorsSeparator string
	ActorsFallback  string

	PosterFilename   string
	BackdropFilename string
}

// SourceIDs 返回配置顺序的来源 id 列表（聚合的默认优先级序）。
func (e EffectiveConfig) SourceIDs() []string {
	out := make([]string, 0, len(e.Sources))
	for _, s := range e.Sources {
		out = append(out, s.ID)
	}
	return out
}

// Error 是配置阶段的结构化错误（带 error_code）。
type Error struct {
	Code string
	Path string
	Err  error
}

func (e *Error) Error() string {
	switch e.Code {
	case ErrCodeNotFound:
		return fmt.Sprintf("%s：未找到配置文件 %q", e.Code, e.Path)
	case ErrCodeMissingPath:
		return fmt.Sprintf("%s：配置文件 %q 缺少必填字段 path", e.Code, e.Path)
	case ErrCodeInvalid:
		if e.Err != nil {
			return fmt.Sprintf("%s：配置文件 %q 无效：%v", e.Code, e.Path, e.Err)
		}
		return fmt.Sprintf("%s：配置文件 %q 无效", e.Code, e.Path)
	default:
		if e.Err != nil {
			return fmt.Sprintf("%s：%v", e.Code, e.Err)
		}
		return e.Code
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Code 从 error 中提取 error_code；若不是 *Error 则返回空串。
func Code(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// LoadEffective 按文档约定发现并读取配置文件，然后与 CLI 参数合并为最终配置。
//
// 发现规则（固定）：
// 1) CLI 提供 path：尝试读取 <path>/avsort.json（可选）
// 2) CLI 未提供 path：必须读取 <cwd>/avsort.json（必选），且其中必须包含 path
//
// 覆盖优先级（固定）：
// - path/dest：CLI > config
// - apply/copy：CLI 显式值 > config > 默认 false
// - 其他字段：仅由 config 控制（CLI 不暴露）
func LoadEffective(cwd string, cli CLIArgs) (EffectiveConfig, error) {
	cwdAbs, err := filepath.Abs(cwd)
	if err != nil {
		return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Path: cwd, Err: err}
	}

	if strings.TrimSpace(cli.Path) != "" {
		// CLI 给了 path：配置文件可选，位置固定在 <path>/avsort.json。
		absPath := absCleanFrom(cwdAbs, cli.Path)
		cfgPath := filepath.Join(absPath, "avsort.json")

		fc, _, err := readFileConfig(cfgPath)
		if err != nil {
			return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Path: cfgPath, Err: err}
		}
		return merge(cwdAbs, absPath, cli, fc, cfgPath)
	}

	// CLI 没给 path：必须读取 <cwd>/avsort.json，且其中必须包含 path。
	cfgPath := filepath.Join(cwdAbs, "avsort.json")
	fc, exists, err := readFileConfig(cfgPath)
	if err != nil {
		return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Path: cfgPath, Err: err}
	}
	if !exists {
		return EffectiveConfig{}, &Error{Code: ErrCodeNotFound, Path: cfgPath, Err: os.ErrNotExist}
	}
	if strings.TrimSpace(fc.Path) == "" {
		return EffectiveConfig{}, &Error{Code: ErrCodeMissingPath, Path: cfgPath}
	}

	absPath := absCleanFrom(cwdAbs, fc.Path)
	return merge(cwdAbs, absPath, cli, fc, cfgPath)
}

func merge(cwdAbs, absPath string, cli CLIArgs, fc FileConfig, cfgPath string) (EffectiveConfig, error) {
	invalid := func(err error) (EffectiveConfig, error) {
		return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Path: cfgPath, Err: err}
	}

	// dest：CLI > config；空 = 就地整理。
	dest := strings.TrimSpace(fc.Dest)
	if cli.DestSet {
		dest = strings.TrimSpace(cli.Dest)
	}
	if dest != "" {
		dest = absCleanFrom(cwdAbs, dest)
	}

	// apply/copy：CLI > config > 默认 false
	apply := false
	if cli.ApplySet {
		apply = cli.Apply
	} else if fc.Apply != nil {
		apply = *fc.Apply
	}
	cp := false
	if cli.CopySet {
		cp = cli.Copy
	} else if fc.Copy != nil {
		cp = *fc.Copy
	}

	concurrency := fc.Concurrency
	if concurrency == 0 {
		concurrency = DefaultConcurrency
	}
	// 文档约定：范围建议 [1, 32]；超出截断。
	if concurrency < 1 {
		concurrency = 1
	}
	if concurrency > 32 {
		concurrency = 32
	}

	minSize := DefaultMinSizeMB
	if fc.MinSizeMB != nil {
		minSize = *fc.MinSizeMB
	}
	if minSize < 0 {
		minSize = 0
	}

	proxyURL := ""
	if fc.Proxy != nil {
		proxyURL = strings.TrimSpace(fc.Proxy.URL)
	}
	if proxyURL != "" {
		if _, err := url.Parse(proxyURL); err != nil {
			return invalid(fmt.Errorf("proxy.url 无效：%w", err))
		}
	}
	if fc.ImageProxy && proxyURL == "" {
		return invalid(fmt.Errorf("image_proxy=true 但 proxy.url 为空"))
	}

	sources := fc.Sources
	if len(sources) == 0 {
		sources = []Source{{ID: DefaultSourceID, URL: DefaultSourceURL}}
	}
	ids, err := validateSources(sources)
	if err != nil {
		return invalid(err)
	}

	fieldPriority := domain.FieldPriority{}
	for field, order := range fc.FieldPriority {
		if !domain.KnownField(field) {
			return invalid(fmt.Errorf("field_priority 包含未知字段：%q", field))
		}
		for _, id := range order {
			if _, ok := ids[strings.ToLower(strings.TrimSpace(id))]; !ok {
				return invalid(fmt.Errorf("field_priority[%s] 引用了未配置的来源：%q", field, id))
			}
		}
		fieldPriority[field] = append([]string(nil), order...)
	}

	collision := strings.ToLower(strings.TrimSpace(fc.Collision))
	if collision == "" {
		collision = DefaultCollision
	}
	switch collision {
	case "skip", "overwrite", "suffix":
	default:
		return invalid(fmt.Errorf("collision 只能是 skip/overwrite/suffix，实际是 %q", fc.Collision))
	}

	maxSeg := 0
	if fc.MaxSegmentLen != nil {
		maxSeg = *fc.MaxSegmentLen
		if maxSeg < 1 {
			return invalid(fmt.Errorf("max_segment_length 必须 >= 1，实际是 %d", maxSeg))
		}
	}

	folderFormat := strings.TrimSpace(fc.FolderFormat)
	if folderFormat == "" {
		folderFormat = DefaultFolderFormat
	}
	fileFormat := strings.TrimSpace(fc.FileFormat)
	if fileFormat == "" {
		fileFormat = DefaultFileFormat
	}

	actorsSep := fc.ActorsSeparator
	if actorsSep == "" {
		actorsSep = DefaultActorsSeparator
	}
	actorsFallback := strings.TrimSpace(fc.ActorsFallback)
	if actorsFallback == "" {
		actorsFallback = DefaultActorsFallback
	}

	poster := strings.TrimSpace(fc.PosterFilename)
	if poster == "" {
		poster = DefaultPosterFilename
	}
	backdrop := strings.TrimSpace(fc.BackdropFilename)
	if backdrop == "" {
		backdrop = DefaultBackdropFilename
	}
	if err := validateArtworkName(poster); err != nil {
		return invalid(fmt.Errorf("poster_filename 无效：%w", err))
	}
	if err := validateArtworkName(backdrop); err != nil {
		return invalid(fmt.Errorf("backdrop_filename 无效：%w", err))
	}

	return EffectiveConfig{
		Path: absPath,
		Dest: dest,

		Apply: apply,
		Copy:  cp,

		Concurrency: concurrency,
		MinSizeMB:   minSize,

		ProxyURL:    proxyURL,
		ImageProxy:  fc.ImageProxy,
		ExcludeDirs: append([]string(nil), fc.ExcludeDirs...),

		Sources:       sources,
		FieldPriority: fieldPriority,

		FolderFormat:  folderFormat,
		FileFormat:    fileFormat,
		OutputFolders: append([]string(nil), fc.OutputFolders...),

		MaxSegmentLen:  maxSeg,
		Collision:      collision,
		VerifyChecksum: fc.VerifyChecksum,

		ActorsSeparator: actorsSep,
		ActorsFallback:  actorsFallback,

		PosterFilename:   poster,
		BackdropFilename: backdrop,
	}, nil
}

var sourceIDRE = regexp.MustCompile(`^[a-z0-9_]+$`)

func validateSources(sources []Source) (map[string]struct{}, error) {
	ids := make(map[string]struct{}, len(sources))
	for i := range sources {
		id := strings.ToLower(strings.TrimSpace(sources[i].ID))
		if !sourceIDRE.MatchString(id) {
			return nil, fmt.Errorf("来源 id 无效：%q（只允许 [a-z0-9_]）", sources[i].ID)
		}
		if _, ok := ids[id]; ok {
			return nil, fmt.Errorf("重复的来源 id：%q", id)
		}
		ids[id] = struct{}{}
		sources[i].ID = id

		u, err := url.Parse(strings.TrimSpace(sources[i].URL))
		if err != nil || u.Scheme == "" || u.Host == "" {
			return nil, fmt.Errorf("来源 %q 的 url 无效：%q", id, sources[i].URL)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return nil, fmt.Errorf("来源 %q 的 url 必须是 http/https：%q", id, sources[i].URL)
		}
	}
	return ids, nil
}

func validateArtworkName(name string) error {
	if strings.ContainsAny(name, `/\`) || name != filepath.Base(name) {
		return fmt.Errorf("必须是纯文件名，实际是 %q", name)
	}
	return nil
}

// absCleanFrom 以 base 为基准，把 p 变为 clean + absolute。
// - p 若已是绝对路径：直接 Clean
// - p 若是相对路径：Join(base, p) 后 Clean
func absCleanFrom(base, p string) string {
	p = filepath.Clean(strings.TrimSpace(p))
	if p == "" {
		return ""
	}
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Clean(filepath.Join(base, p))
}

// readFileConfig 通过 koanf 读取并解析 JSON 配置文件。
// 返回值 exists 表示该文件是否存在（不存在不算错误）。
func readFileConfig(path string) (fc FileConfig, exists bool, err error) {
	if _, serr := os.Stat(path); serr != nil {
		if os.IsNotExist(serr) {
			return FileConfig{}, false, nil
		}
		return FileConfig{}, false, serr
	}

	k := koanf.New(".")
	if err := k.Load(file.Provider(path), kjson.Parser()); err != nil {
		return FileConfig{}, true, err
	}
	if err := k.Unmarshal("", &fc); err != nil {
		return FileConfig{}, true, err
	}
	return fc, true, nil
}
