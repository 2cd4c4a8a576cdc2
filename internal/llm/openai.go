package llm

import (
	"context"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
)

// OpenAIClient OpenAI生成客户端
// 图片输入通过chat接口的多模态消息传递
type OpenAIClient struct {
	client *openai.Client
	model  string
	config *Config
}

// NewOpenAIClient 创建一个新的OpenAI生成客户端
func NewOpenAIClient(opts ...Option) (Client, error) {
	cfg := NewConfig(opts...)

	if cfg.APIKey == "" {
		return nil, NewGenerationError(ErrCodeInvalidAPIKey, ErrMsgInvalidAPIKey)
	}

	model := cfg.Model
	if model == "" || model == ModelDeepSeekR1 {
		model = ModelGPT4o
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" && cfg.BaseURL != defaultOllamaBaseURL {
		clientConfig.BaseURL = cfg.BaseURL
	}

	return &OpenAIClient{
		client: openai.NewClientWithConfig(clientConfig),
		model:  model,
		config: cfg,
	}, nil
}

// Name 返回模型名称
func (c *OpenAIClient) Name() string {
	return c.model
}

// Generate 根据提示词生成回答
func (c *OpenAIClient) Generate(ctx context.Context, prompt string, options ...GenerateOption) (*Response, error) {
	if prompt == "" {
		return nil, NewGenerationError(ErrCodeEmptyPrompt, ErrMsgEmptyPrompt)
	}

	genOpts := &GenerateOptions{}
	for _, opt := range options {
		opt(genOpts)
	}

	maxTokens := c.config.MaxTokens
	if genOpts.MaxTokens != nil {
		maxTokens = *genOpts.MaxTokens
	}
	temperature := c.config.Temperature
	if genOpts.Temperature != nil {
		temperature = *genOpts.Temperature
	}

	message := openai.ChatCompletionMessage{
		Role: openai.ChatMessageRoleUser,
	}
	if len(genOpts.Images) > 0 {
		// 多模态消息：文本加图片
		parts := []openai.ChatMessagePart{
			{Type: openai.ChatMessagePartTypeText, Text: prompt},
		}
		for _, img := range genOpts.Images {
			parts = append(parts, openai.ChatMessagePart{
				Type: openai.ChatMessagePartTypeImageURL,
				ImageURL: &openai.ChatMessageImageURL{
					URL: "data:image/png;base64," + img,
				},
			})
		}
		message.MultiContent = parts
	} else {
		message.Content = prompt
	}

	req := openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    []openai.ChatCompletionMessage{message},
		MaxTokens:   maxTokens,
		Temperature: temperature,
	}

	maxRetries := c.config.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}

	var lastErr error
	for retries := 0; retries <= maxRetries; retries++ {
		if retries > 0 {
			select {
			case <-ctx.Done():
				return nil, NewGenerationError(ErrCodeTimeout, ctx.Err().Error())
			case <-time.After(time.Duration(1<<retries) * time.Second):
			}
		}

		timeoutCtx, cancel := context.WithTimeout(ctx, c.config.Timeout)
		resp, err := c.client.CreateChatCompletion(timeoutCtx, req)
		cancel()

		if err == nil && len(resp.Choices) > 0 {
			return &Response{
				Text:       resp.Choices[0].Message.Content,
				TokenCount: resp.Usage.TotalTokens,
				ModelName:  resp.Model,
				FinishTime: time.Now(),
			}, nil
		}

		if err != nil {
			if isRetryableError(err) {
				lastErr = err
				continue
			}
			return nil, WrapError(err, ErrCodeServerError)
		}
		lastErr = NewGenerationError(ErrCodeServerError, "empty completion response")
	}

	return nil, WrapError(lastErr, ErrCodeRateLimited)
}

// isRetryableError 检查是否为可重试的错误
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "rate limit") ||
		strings.Contains(msg, "rate_limit") ||
		strings.Contains(msg, "too many requests") ||
		strings.Contains(msg, "overloaded")
}

// 在包初始化时注册OpenAI客户端
func init() {
	RegisterClient("openai", NewOpenAIClient)
}
