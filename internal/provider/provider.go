package provider

import (
	"context"
	"net/http"

	"github.com/John-Robertt/AVSort/internal/domain"
)

// Provider 把"来源变化"限制在 provider 包内部；核心流程只依赖统一接口与稳定的 SourceRecord。
//
// 约束：
// - Fetch 不做缓存、不做重试、不做限速（这些由核心 http/cache 层统一实现）
// - Parse 必须是纯函数：相同输入 => 相同输出
// - pageURL 是本次抓取的端点（用于 report 追溯与调试）
type Provider interface {
	Name() string
	Fetch(ctx context.Context, code domain.Code, c *http.Client) (payload []byte, pageURL string, err error)
	Parse(code domain.Code, payload []byte, pageURL string) (domain.SourceRecord, error)
}
