package llm

import "fmt"

// GenerationError 生成模型调用错误类型
// 生成失败对当前查询是致命的，调用方不应返回部分答案
type GenerationError struct {
	Code    int    // 错误码
	Message string // 错误消息
}

// Error 实现error接口
func (e GenerationError) Error() string {
	return fmt.Sprintf("generation error (code=%d): %s", e.Code, e.Message)
}

// 错误码常量
const (
	ErrCodeInvalidAPIKey  = 1001 // 无效的API密钥
	ErrCodeInvalidRequest = 1002 // 无效的请求
	ErrCodeNetworkError   = 1003 // 网络连接错误
	ErrCodeRateLimited    = 1004 // 请求频率超限
	ErrCodeServerError    = 1005 // 服务器错误
	ErrCodeTimeout        = 1006 // 请求超时
	ErrCodeEmptyPrompt    = 1007 // 提示词为空
	ErrCodeContentFilter  = 1008 // 内容安全过滤
	ErrCodeModelOverload  = 1009 // 模型过载
	ErrCodeContextTooLong = 1010 // 上下文过长
)

// 错误消息常量
const (
	ErrMsgInvalidAPIKey  = "invalid API key"
	ErrMsgInvalidRequest = "invalid request parameters"
	ErrMsgRateLimited    = "too many requests, rate limit exceeded"
	ErrMsgServerError    = "server error occurred"
	ErrMsgTimeout        = "request timed out"
	ErrMsgEmptyPrompt    = "prompt cannot be empty"
	ErrMsgNetworkError   = "network connection error"
	ErrMsgContentFilter  = "content filtered due to safety concerns"
	ErrMsgModelOverload  = "model is currently overloaded"
	ErrMsgContextTooLong = "context length exceeds model's maximum"
)

// NewGenerationError 创建新的生成错误
func NewGenerationError(code int, message string) GenerationError {
	return GenerationError{
		Code:    code,
		Message: message,
	}
}

// WrapError 包装普通错误为生成错误
func WrapError(err error, code int) GenerationError {
	if err == nil {
		return GenerationError{Code: code, Message: "unknown error"}
	}

	// 如果已经是GenerationError类型，则直接返回
	if genErr, ok := err.(GenerationError); ok {
		return genErr
	}

	return GenerationError{
		Code:    code,
		Message: err.Error(),
	}
}
