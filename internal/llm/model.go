package llm

import "time"

// MessageRole 消息角色类型
type MessageRole string

const (
	// RoleSystem 系统角色
	RoleSystem MessageRole = "system"
	// RoleUser 用户角色
	RoleUser MessageRole = "user"
	// RoleAssistant 助手角色
	RoleAssistant MessageRole = "assistant"
)

// Message 对话消息结构
type Message struct {
	Role    MessageRole `json:"role"`    // 角色
	Content string      `json:"content"` // 内容
}

// Response 统一的响应结构
type Response struct {
	Text       string    // 生成的文本
	TokenCount int       // 使用的token数
	ModelName  string    // 使用的模型名称
	FinishTime time.Time // 完成时间
}

// 常用模型名称
const (
	ModelDeepSeekR1 = "deepseek-r1:32b" // DeepSeek-R1推理模型
	ModelLlama3     = "llama3.1"        // Llama 3.1通用模型
	ModelLlava      = "llava"           // LLaVA多模态模型（支持图像输入）
	ModelGPT4o      = "gpt-4o"          // OpenAI GPT-4o（支持图像输入）
)
