package websearch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Result 一条搜索结果
type Result struct {
	Title string `json:"title"` // 结果标题
	Text  string `json:"text"`  // 摘要文本
	URL   string `json:"url"`   // 来源链接
}

// Provider 网络搜索提供方接口
// 搜索失败由调用方降级处理，不影响主流程
type Provider interface {
	// Search 根据查询词检索网络结果
	Search(ctx context.Context, query string) ([]Result, error)

	// Name 返回提供方名称
	Name() string
}

// Config 搜索客户端配置
type Config struct {
	Endpoint   string        // API端点
	MaxResults int           // 最大返回结果数
	Timeout    time.Duration // 请求超时时间
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		Endpoint:   "https://api.duckduckgo.com/",
		MaxResults: 5,
		Timeout:    10 * time.Second,
	}
}

// DuckDuckGoProvider 基于DuckDuckGo即时应答API的搜索客户端
type DuckDuckGoProvider struct {
	endpoint   string
	maxResults int
	httpClient *http.Client
}

// NewDuckDuckGoProvider 创建DuckDuckGo搜索客户端
func NewDuckDuckGoProvider(config Config) *DuckDuckGoProvider {
	if config.Endpoint == "" {
		config.Endpoint = DefaultConfig().Endpoint
	}
	if config.MaxResults <= 0 {
		config.MaxResults = DefaultConfig().MaxResults
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultConfig().Timeout
	}

	return &DuckDuckGoProvider{
		endpoint:   config.Endpoint,
		maxResults: config.MaxResults,
		httpClient: &http.Client{Timeout: config.Timeout},
	}
}

// Name 返回提供方名称
func (p *DuckDuckGoProvider) Name() string {
	return "duckduckgo"
}

// ddgResponse DuckDuckGo即时应答API响应结构
type ddgResponse struct {
	AbstractText  string     `json:"AbstractText"`
	AbstractURL   string     `json:"AbstractURL"`
	Heading       string     `json:"Heading"`
	RelatedTopics []ddgTopic `json:"RelatedTopics"`
}

type ddgTopic struct {
	Text     string     `json:"Text"`
	FirstURL string     `json:"FirstURL"`
	Topics   []ddgTopic `json:"Topics"` // 分组主题嵌套一层
}

// Search 根据查询词检索网络结果
func (p *DuckDuckGoProvider) Search(ctx context.Context, query string) ([]Result, error) {
	if strings.TrimSpace(query) == "" {
		return []Result{}, nil
	}

	params := url.Values{}
	params.Set("q", query)
	params.Set("format", "json")
	params.Set("no_html", "1")
	params.Set("skip_disambig", "1")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		p.endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create search request: %v", err)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("search API returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read search response: %v", err)
	}

	var ddg ddgResponse
	if err := json.Unmarshal(body, &ddg); err != nil {
		return nil, fmt.Errorf("failed to parse search response: %v", err)
	}

	results := make([]Result, 0, p.maxResults)
	if ddg.AbstractText != "" {
		results = append(results, Result{
			Title: ddg.Heading,
			Text:  ddg.AbstractText,
			URL:   ddg.AbstractURL,
		})
	}

	results = appendTopics(results, ddg.RelatedTopics, p.maxResults)
	if len(results) > p.maxResults {
		results = results[:p.maxResults]
	}
	return results, nil
}

// appendTopics 展开相关主题（含一层嵌套分组）
func appendTopics(results []Result, topics []ddgTopic, limit int) []Result {
	for _, topic := range topics {
		if len(results) >= limit {
			break
		}
		if topic.Text != "" {
			results = append(results, Result{
				Text: topic.Text,
				URL:  topic.FirstURL,
			})
			continue
		}
		if len(topic.Topics) > 0 {
			results = appendTopics(results, topic.Topics, limit)
		}
	}
	return results
}
