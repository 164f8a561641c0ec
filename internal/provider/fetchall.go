package provider

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/John-Robertt/AVSort/internal/domain"
)

// Attempt 记录一次来源尝试（用于解释"为什么某个来源没有贡献字段"）。
// 注意：这是内部执行轨迹，不直接写入 report（由上层决定如何呈现）。
type Attempt struct {
	Source string // 来源 id（小写）
	Stage  string // "fetch" / "parse" / "ok"
	Err    error  // nil when Stage=="ok"
}

// Fetched 是单个来源的成功产物：SourceRecord + 可缓存的原始载荷。
type Fetched struct {
	Record  domain.SourceRecord
	PageURL string
	Payload []byte
}

// FetchAll 按配置顺序抓取并解析全部来源的元数据。
//
// 语义（与聚合契约一致）：
// - 单个来源失败 == 该来源缺席，不中断其余来源
// - 返回的 records 保持 sources 的顺序（聚合按此做默认优先级）
// - attempts 完整记录每个来源的成败与失败阶段
// - 只有结构性误用（sources 为空 / code 为空）才返回 error
func FetchAll(ctx context.Context, reg Registry, sources []string, code domain.Code, c *http.Client) (records []Fetched, attempts []Attempt, err error) {
	if len(sources) == 0 {
		return nil, nil, fmt.Errorf("sources 不能为空")
	}
	if code == "" {
		return nil, nil, fmt.Errorf("code 不能为空")
	}

	records = make([]Fetched, 0, len(sources))
	attempts = make([]Attempt, 0, len(sources))

	for _, name := range sources {
		name = strings.ToLower(strings.TrimSpace(name))

		if ctx.Err() != nil {
			attempts = append(attempts, Attempt{Source: name, Stage: "fetch", Err: ctx.Err()})
			continue
		}

		p, ok := reg.Get(name)
		if !ok {
			attempts = append(attempts, Attempt{Source: name, Stage: "fetch", Err: fmt.Errorf("来源未注册：%q", name)})
			continue
		}

		payload, pageURL, ferr := p.Fetch(ctx, code, c)
		if ferr != nil {
			attempts = append(attempts, Attempt{Source: name, Stage: "fetch", Err: &Error{Source: name, Stage: "fetch", Err: ferr}})
			continue
		}

		rec, perr := p.Parse(code, payload, pageURL)
		if perr != nil {
			attempts = append(attempts, Attempt{Source: name, Stage: "parse", Err: &Error{Source: name, Stage: "parse", Err: perr}})
			continue
		}

		rec.Source = name
		attempts = append(attempts, Attempt{Source: name, Stage: "ok"})
		records = append(records, Fetched{Record: rec, PageURL: pageURL, Payload: payload})
	}
	return records, attempts, nil
}

// Error 是来源阶段的可追溯错误。
// 上层可以据此把失败归类为 fetch_failed / parse_failed，并写入 report。
type Error struct {
	Source string // 来源 id（小写）
	Stage  string // "fetch" 或 "parse"
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("source=%s stage=%s: %v", e.Source, e.Stage, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }
