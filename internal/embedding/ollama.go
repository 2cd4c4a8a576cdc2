package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	// 默认Ollama服务地址
	defaultOllamaBaseURL = "http://localhost:11434"

	// 默认嵌入模型
	defaultOllamaModel = "nomic-embed-text"
)

// ollamaEmbedRequest Ollama嵌入API请求结构
type ollamaEmbedRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

// ollamaEmbedResponse Ollama嵌入API响应结构
type ollamaEmbedResponse struct {
	Embedding []float64 `json:"embedding"`
}

// OllamaClient 实现Ollama本地嵌入API客户端
type OllamaClient struct {
	baseURL    string       // 服务基础URL
	model      string       // 模型名称
	httpClient *http.Client // HTTP客户端
	maxRetries int          // 最大重试次数
	dimensions int          // 期望的向量维度，0表示不校验
}

// NewOllamaClient 创建新的Ollama嵌入客户端
func NewOllamaClient(opts ...Option) (Client, error) {
	cfg := NewConfig(opts...)

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultOllamaBaseURL
	}
	baseURL = strings.TrimSuffix(baseURL, "/")

	model := cfg.Model
	if model == "" {
		model = defaultOllamaModel
	}

	httpClient := &http.Client{
		Timeout: cfg.Timeout,
	}

	return &OllamaClient{
		baseURL:    baseURL,
		model:      model,
		httpClient: httpClient,
		maxRetries: cfg.MaxRetries,
		dimensions: cfg.Dimensions,
	}, nil
}

// Name 返回模型名称
func (c *OllamaClient) Name() string {
	return c.model
}

// Embed 生成单条文本的向量表示
func (c *OllamaClient) Embed(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, ErrEmptyText
	}

	reqData := ollamaEmbedRequest{
		Model:  c.model,
		Prompt: text,
	}

	var resp ollamaEmbedResponse
	if err := c.sendRequest(ctx, "/api/embeddings", reqData, &resp); err != nil {
		return nil, err
	}

	if len(resp.Embedding) == 0 {
		return nil, NewEmbeddingError(ErrCodeServerError, "no embedding vector returned")
	}
	if c.dimensions > 0 && len(resp.Embedding) != c.dimensions {
		return nil, NewEmbeddingError(ErrCodeServerError,
			fmt.Sprintf("unexpected embedding dimension: expected %d, got %d", c.dimensions, len(resp.Embedding)))
	}

	// Ollama返回float64，转换为float32
	vector := make([]float32, len(resp.Embedding))
	for i, v := range resp.Embedding {
		vector[i] = float32(v)
	}
	return vector, nil
}

// EmbedBatch 批量生成文本的向量表示
// Ollama嵌入接口每次只接受一条文本，按顺序逐条请求
func (c *OllamaClient) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		if text == "" {
			continue
		}
		vector, err := c.Embed(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("failed to embed text %d: %w", i, err)
		}
		vectors[i] = vector
	}
	return vectors, nil
}

// sendRequest 发送API请求并解析响应
func (c *OllamaClient) sendRequest(ctx context.Context, path string, reqData interface{}, respObj interface{}) error {
	jsonData, err := json.Marshal(reqData)
	if err != nil {
		return NewEmbeddingError(ErrCodeInvalidRequest, fmt.Sprintf("failed to marshal request: %v", err))
	}

	var resp *http.Response
	var lastErr error

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			// 指数退避重试
			select {
			case <-ctx.Done():
				return NewEmbeddingError(ErrCodeTimeout, ctx.Err().Error())
			case <-time.After(time.Duration(1<<attempt) * 100 * time.Millisecond):
			}
		}

		req, reqErr := http.NewRequestWithContext(
			ctx,
			http.MethodPost,
			c.baseURL+path,
			bytes.NewReader(jsonData),
		)
		if reqErr != nil {
			return NewEmbeddingError(ErrCodeInvalidRequest, fmt.Sprintf("failed to create request: %v", reqErr))
		}
		req.Header.Set("Content-Type", "application/json")

		resp, lastErr = c.httpClient.Do(req)
		if lastErr == nil && resp.StatusCode < 500 {
			// 成功或客户端错误，不需要重试
			break
		}
		if lastErr == nil {
			resp.Body.Close()
		}
	}

	if lastErr != nil {
		return NewEmbeddingError(ErrCodeNetworkError, fmt.Sprintf("request failed: %v", lastErr))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return NewEmbeddingError(ErrCodeServerError, fmt.Sprintf("failed to read response: %v", err))
	}

	if resp.StatusCode != http.StatusOK {
		var errResp struct {
			Error string `json:"error"`
		}
		if jsonErr := json.Unmarshal(body, &errResp); jsonErr == nil && errResp.Error != "" {
			return NewEmbeddingError(ErrCodeServerError, errResp.Error)
		}
		return NewEmbeddingError(ErrCodeServerError,
			fmt.Sprintf("API error (status %d): %s", resp.StatusCode, string(body)))
	}

	if err := json.Unmarshal(body, respObj); err != nil {
		return NewEmbeddingError(ErrCodeServerError,
			fmt.Sprintf("failed to parse response: %v", err))
	}
	return nil
}

// 注册Ollama客户端
func init() {
	RegisterClient("ollama", NewOllamaClient)
}
