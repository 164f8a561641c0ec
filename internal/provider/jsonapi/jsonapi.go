// Package jsonapi 实现基于 JSON 端点的元数据来源。
//
// 每个来源是一个 URL 模板（{code} 占位），端点返回单部影片的 JSON 文档。
// HTML 刮削不在本仓库范围内：需要刮削的来源应由外部服务转换为该 JSON 形状。
package jsonapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/John-Robertt/AVSort/internal/domain"
	providerx "github.com/John-Robertt/AVSort/internal/provider"
)

// Client 实现 provider.Provider：GET 端点 -> 解码 JSON -> SourceRecord。
//
// 约束：
// - Fetch/Parse 不做缓存/重试/限速（由上层统一控制）
// - Parse 必须是纯函数（依赖输入 payload + pageURL）
type Client struct {
	ID       string // 来源 id（小写、稳定）
	Endpoint string // URL 模板；{code} 会被替换为 path-escape 后的 CODE
}

func (c Client) Name() string { return c.ID }

// Fetch 请求来源端点；{code} 缺失时把 CODE 追加到末尾。
func (c Client) Fetch(ctx context.Context, code domain.Code, hc *http.Client) ([]byte, string, error) {
	if hc == nil {
		return nil, "", errors.New("http client 不能为空")
	}
	if code == "" {
		return nil, "", errors.New("code 不能为空")
	}
	if strings.TrimSpace(c.Endpoint) == "" {
		return nil, "", fmt.Errorf("来源 %q 缺少端点配置", c.ID)
	}

	pageURL := expandEndpoint(c.Endpoint, code)
	b, err := fetchURL(ctx, hc, pageURL)
	return b, pageURL, err
}

// Parse 把端点 JSON 解码为 SourceRecord。
func (c Client) Parse(code domain.Code, payload []byte, pageURL string) (domain.SourceRecord, error) {
	if code == "" {
		return domain.SourceRecord{}, errors.New("code 不能为空")
	}
	if len(payload) == 0 {
		return domain.SourceRecord{}, errors.New("payload 为空")
	}

	var doc document
	if err := json.Unmarshal(payload, &doc); err != nil {
		return domain.SourceRecord{}, fmt.Errorf("JSON 解码失败：%w", err)
	}

	// 先校验"是不是这部影片"：id 存在且匹配（避免把错误页/占位响应当成成功解析）。
	id := strings.TrimSpace(doc.ID)
	if id == "" {
		return domain.SourceRecord{}, errors.New("响应缺少 id 字段（疑似返回了非详情内容）")
	}
	if normID(id) != normID(string(code)) {
		return domain.SourceRecord{}, fmt.Errorf("id 不匹配：请求 %q，响应 %q", code, id)
	}

	rec := domain.Record{
		ID:            code,
		Title:         strings.TrimSpace(doc.Title),
		OriginalTitle: strings.TrimSpace(doc.OriginalTitle),
		Release:       strings.TrimSpace(doc.ReleaseDate),
		Studio:        strings.TrimSpace(doc.Studio),
		Label:         strings.TrimSpace(doc.Label),
		RuntimeM:      doc.RuntimeMinutes,
		Plot:          strings.TrimSpace(doc.Plot),
	}
	for _, a := range doc.Actresses {
		name := strings.TrimSpace(a.Name)
		if name == "" {
			continue
		}
		rec.Actresses = append(rec.Actresses, domain.Actress{
			Name:     name,
			Alias:    strings.TrimSpace(a.Alias),
			ThumbURL: strings.TrimSpace(a.ThumbURL),
		})
	}
	for _, g := range doc.Genres {
		if g = strings.TrimSpace(g); g != "" {
			rec.Genres = append(rec.Genres, g)
		}
	}
	for _, u := range doc.ImageURLs {
		if u = strings.TrimSpace(u); u != "" {
			rec.ImageURLs = append(rec.ImageURLs, u)
		}
	}

	return domain.SourceRecord{Source: c.ID, Record: rec}, nil
}

// document 是端点 JSON 的 wire 形状（与 cache 的落盘格式一致）。
type document struct {
	ID             string `json:"id"`
	Title          string `json:"title"`
	OriginalTitle  string `json:"original_title"`
	ReleaseDate    string `json:"release_date"`
	Studio         string `json:"studio"`
	Label          string `json:"label"`
	RuntimeMinutes int    `json:"runtime"`
	Plot           string `json:"plot"`

	Actresses []struct {
		Name     string `json:"name"`
		Alias    string `json:"alias"`
		ThumbURL string `json:"thumb_url"`
	} `json:"actresses"`

	Genres    []string `json:"genres"`
	ImageURLs []string `json:"image_urls"`
}

func expandEndpoint(tmpl string, code domain.Code) string {
	escaped := url.PathEscape(string(code))
	if strings.Contains(tmpl, "{code}") {
		return strings.ReplaceAll(tmpl, "{code}", escaped)
	}
	return strings.TrimRight(tmpl, "/") + "/" + escaped
}

func fetchURL(ctx context.Context, c *http.Client, u string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		loc := strings.TrimSpace(resp.Header.Get("Location"))
		return nil, &providerx.HTTPStatusError{URL: u, StatusCode: resp.StatusCode, Location: loc}
	}
	if len(b) == 0 {
		return nil, errors.New("empty response body")
	}
	return b, nil
}

// normID 让 id 比较容忍大小写与分隔差异（端点可能返回 "ipx00486" 这类原始形态）。
func normID(s string) string {
	return domain.NormalizeCode(s)
}
