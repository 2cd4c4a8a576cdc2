package llm

import "strings"

// DefaultPromptTemplate 默认提示词模板
// 字段顺序固定：上下文、对话历史、问题、图片说明
// 变量按原样插值，不做转义
const DefaultPromptTemplate = `Given the following context: {{.Context}}
And conversation history: {{.History}}
Answer the question: {{.Question}}
{{.ImageInstruction}}Provide a concise, accurate response and list sources if applicable.`

// imageInstruction 附带图片时插入的指令行
const imageInstruction = "If an image is provided, analyze its content to inform the answer.\n"

// PromptPayload 组装好的模型输入
type PromptPayload struct {
	Text   string   // 最终提示词文本
	Images []string // base64编码的图片列表，可为空
}

// HasImages 是否附带图片输入
func (p PromptPayload) HasImages() bool {
	return len(p.Images) > 0
}

// Composer 提示词组装器
// 将检索上下文、对话历史和当前问题合并为单个模型输入
type Composer struct {
	template string
}

// NewComposer 创建使用默认模板的组装器
func NewComposer() *Composer {
	return &Composer{template: DefaultPromptTemplate}
}

// NewComposerWithTemplate 创建使用自定义模板的组装器
func NewComposerWithTemplate(template string) *Composer {
	if template == "" {
		template = DefaultPromptTemplate
	}
	return &Composer{template: template}
}

// Compose 组装提示词
// 上下文和历史可为空字符串，对应字段插值为空
func (c *Composer) Compose(contextText, history, question string, images ...string) PromptPayload {
	instruction := ""
	if len(images) > 0 {
		instruction = imageInstruction
	}

	prompt := c.template
	prompt = strings.ReplaceAll(prompt, "{{.Context}}", contextText)
	prompt = strings.ReplaceAll(prompt, "{{.History}}", history)
	prompt = strings.ReplaceAll(prompt, "{{.Question}}", question)
	prompt = strings.ReplaceAll(prompt, "{{.ImageInstruction}}", instruction)

	return PromptPayload{
		Text:   prompt,
		Images: images,
	}
}
