package llm

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

// 默认Ollama服务地址
const defaultOllamaBaseURL = "http://localhost:11434"

// ollamaGenerateRequest Ollama生成API请求结构
type ollamaGenerateRequest struct {
	Model   string                 `json:"model"`
	Prompt  string                 `json:"prompt"`
	Stream  bool                   `json:"stream"`
	Images  []string               `json:"images,omitempty"` // base64编码的图片
	Options map[string]interface{} `json:"options,omitempty"`
}

// ollamaGenerateResponse Ollama生成API响应结构
type ollamaGenerateResponse struct {
	Model           string `json:"model"`
	Response        string `json:"response"`
	Done            bool   `json:"done"`
	EvalCount       int    `json:"eval_count"`
	PromptEvalCount int    `json:"prompt_eval_count"`
}

// OllamaClient 实现Ollama本地生成API客户端
// 支持通过images字段传入多模态输入
type OllamaClient struct {
	baseURL    string
	model      string
	httpClient *http.Client
	maxRetries int
	config     *Config
}

// NewOllamaClient 创建新的Ollama生成客户端
func NewOllamaClient(opts ...Option) (Client, error) {
	cfg := NewConfig(opts...)

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultOllamaBaseURL
	}
	baseURL = strings.TrimSuffix(baseURL, "/")

	model := cfg.Model
	if model == "" {
		model = ModelDeepSeekR1
	}

	return &OllamaClient{
		baseURL:    baseURL,
		model:      model,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		maxRetries: cfg.MaxRetries,
		config:     cfg,
	}, nil
}

// Name 返回模型名称
func (c *OllamaClient) Name() string {
	return c.model
}

// Generate 根据提示词生成回答
func (c *OllamaClient) Generate(ctx context.Context, prompt string, options ...GenerateOption) (*Response, error) {
	if prompt == "" {
		return nil, NewGenerationError(ErrCodeEmptyPrompt, ErrMsgEmptyPrompt)
	}

	genOpts := &GenerateOptions{}
	for _, opt := range options {
		opt(genOpts)
	}

	reqData := ollamaGenerateRequest{
		Model:  c.model,
		Prompt: prompt,
		Stream: false,
		Images: genOpts.Images,
	}

	// 请求级选项覆盖客户端默认值
	modelOpts := map[string]interface{}{
		"num_predict": c.config.MaxTokens,
		"temperature": c.config.Temperature,
		"top_p":       c.config.TopP,
	}
	if genOpts.MaxTokens != nil {
		modelOpts["num_predict"] = *genOpts.MaxTokens
	}
	if genOpts.Temperature != nil {
		modelOpts["temperature"] = *genOpts.Temperature
	}
	if genOpts.TopP != nil {
		modelOpts["top_p"] = *genOpts.TopP
	}
	reqData.Options = modelOpts

	var resp ollamaGenerateResponse
	if err := c.sendRequest(ctx, "/api/generate", reqData, &resp); err != nil {
		return nil, err
	}

	if resp.Response == "" {
		return nil, NewGenerationError(ErrCodeServerError, "empty response from model")
	}

	return &Response{
		Text:       resp.Response,
		TokenCount: resp.EvalCount + resp.PromptEvalCount,
		ModelName:  resp.Model,
		FinishTime: time.Now(),
	}, nil
}

// sendRequest 发送API请求并解析响应
func (c *OllamaClient) sendRequest(ctx context.Context, path string, reqData interface{}, respObj interface{}) error {
	jsonData, err := json.Marshal(reqData)
	if err != nil {
		return NewGenerationError(ErrCodeInvalidRequest, fmt.Sprintf("failed to marshal request: %v", err))
	}

	var resp *http.Response
	var lastErr error

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			// 指数退避重试
			select {
			case <-ctx.Done():
				return NewGenerationError(ErrCodeTimeout, ctx.Err().Error())
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
			return NewGenerationError(ErrCodeInvalidRequest, fmt.Sprintf("failed to create request: %v", reqErr))
		}
		req.Header.Set("Content-Type", "application/json")

		resp, lastErr = c.httpClient.Do(req)
		if lastErr == nil && resp.StatusCode < 500 {
			break
		}
		if lastErr == nil {
			resp.Body.Close()
		}
	}

	if lastErr != nil {
		return NewGenerationError(ErrCodeNetworkError, fmt.Sprintf("request failed: %v", lastErr))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return NewGenerationError(ErrCodeServerError, fmt.Sprintf("failed to read response: %v", err))
	}

	if resp.StatusCode != http.StatusOK {
		var errResp struct {
			Error string `json:"error"`
		}
		if jsonErr := json.Unmarshal(body, &errResp); jsonErr == nil && errResp.Error != "" {
			return NewGenerationError(ErrCodeServerError, errResp.Error)
		}
		return NewGenerationError(ErrCodeServerError,
			fmt.Sprintf("API error (status %d): %s", resp.StatusCode, string(body)))
	}

	if err := json.Unmarshal(body, respObj); err != nil {
		return NewGenerationError(ErrCodeServerError,
			fmt.Sprintf("failed to parse response: %v", err))
	}
	return nil
}

// 注册Ollama客户端
func init() {
	RegisterClient("ollama", NewOllamaClient)
}
