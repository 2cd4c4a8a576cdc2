package embedding

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
)

// OpenAIClient OpenAI嵌入向量客户端
type OpenAIClient struct {
	client *openai.Client // OpenAI API客户端
	model  string         // 使用的嵌入模型
	config *Config        // 客户端配置
}

// NewOpenAIClient 创建一个新的OpenAI嵌入客户端
func NewOpenAIClient(opts ...Option) (Client, error) {
	cfg := NewConfig(opts...)

	// 检查必要配置
	if cfg.APIKey == "" {
		return nil, NewEmbeddingError(ErrCodeInvalidAPIKey, ErrMsgInvalidAPIKey)
	}

	// 设置默认模型
	model := cfg.Model
	if model == "" || model == defaultOllamaModel {
		model = "text-embedding-3-small"
	}

	// 创建OpenAI客户端配置
	clientConfig := openai.DefaultConfig(cfg.APIKey)

	// 如果指定了自定义端点，则使用它
	if cfg.BaseURL != "" && cfg.BaseURL != defaultOllamaBaseURL {
		clientConfig.BaseURL = cfg.BaseURL
	}

	client := openai.NewClientWithConfig(clientConfig)

	return &OpenAIClient{
		client: client,
		model:  model,
		config: cfg,
	}, nil
}

// Name 返回模型名称
func (c *OpenAIClient) Name() string {
	return c.model
}

// Embed 对单个文本生成嵌入向量
func (c *OpenAIClient) Embed(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, ErrEmptyText
	}

	vectors, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vectors) == 0 {
		return nil, NewEmbeddingError(ErrCodeServerError, "no embedding vectors returned")
	}
	return vectors[0], nil
}

// EmbedBatch 对多个文本生成嵌入向量
func (c *OpenAIClient) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	if c.config.BatchSize > 0 && len(texts) > c.config.BatchSize {
		return nil, ErrBatchTooLarge
	}

	// 过滤空文本
	var nonEmptyTexts []string
	for _, text := range texts {
		if text != "" {
			nonEmptyTexts = append(nonEmptyTexts, text)
		}
	}
	if len(nonEmptyTexts) == 0 {
		return [][]float32{}, nil
	}

	maxRetries := c.config.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}

	// 带重试的批量嵌入请求
	var lastErr error
	for retries := 0; retries <= maxRetries; retries++ {
		if retries > 0 {
			// 指数退避策略
			select {
			case <-ctx.Done():
				return nil, NewEmbeddingError(ErrCodeTimeout, ctx.Err().Error())
			case <-time.After(time.Duration(1<<retries) * time.Second):
			}
		}

		timeoutCtx, cancel := context.WithTimeout(ctx, c.config.Timeout)
		req := openai.EmbeddingRequest{
			Input: nonEmptyTexts,
			Model: openai.EmbeddingModel(c.model),
		}
		resp, err := c.client.CreateEmbeddings(timeoutCtx, req)
		cancel()

		if err == nil && len(resp.Data) > 0 {
			embeddings := make([][]float32, len(resp.Data))
			for i, data := range resp.Data {
				embeddings[i] = data.Embedding
			}
			return embeddings, nil
		}

		if err != nil {
			// 速率限制错误等待后重试，其他错误直接返回
			if isRateLimitError(err) {
				lastErr = ErrRateLimited
				continue
			}
			return nil, fmt.Errorf("embedding API error: %v", err)
		}
		lastErr = NewEmbeddingError(ErrCodeServerError, "empty embedding response")
	}

	return nil, lastErr
}

// isRateLimitError 检查是否为速率限制错误
func isRateLimitError(err error) bool {
	return err != nil && (containsFold(err.Error(), "rate_limit") ||
		containsFold(err.Error(), "rate limit") ||
		containsFold(err.Error(), "too many requests"))
}

// containsFold 检查字符串是否包含子串（不区分大小写）
func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}

// 在包初始化时注册OpenAI客户端
func init() {
	RegisterClient("openai", NewOpenAIClient)
}
