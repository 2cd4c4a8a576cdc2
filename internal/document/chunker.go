package document

import (
	"strings"
)

// DefaultMaxChars 默认的单个分块最大字符数
const DefaultMaxChars = 800

// paragraphSeparator 段落之间的分隔符，分块时按此拼接
const paragraphSeparator = "\n\n"

// Chunker 文本分块器
// 按段落边界将长文本切分为不超过MaxChars的分块
type Chunker struct {
	MaxChars int // 单个分块的最大字符数
}

// NewChunker 创建文本分块器
func NewChunker(maxChars int) *Chunker {
	if maxChars <= 0 {
		maxChars = DefaultMaxChars
	}
	return &Chunker{MaxChars: maxChars}
}

// Chunk 将文本分割为分块序列
// 按空行切分段落，去除空白段落，然后贪心地把相邻段落合并进同一分块；
// 若再加入下一段（连同分隔符占2个字符）会超出MaxChars且当前分块非空，
// 则先输出当前分块。单个超长段落不会被从中间截断，整段作为一个分块输出。
// 空输入返回空序列
func (c *Chunker) Chunk(text string) []string {
	paragraphs := SplitParagraphs(text)
	if len(paragraphs) == 0 {
		return nil
	}

	var chunks []string
	var current []string
	size := 0

	for _, p := range paragraphs {
		if size+len(p)+2 > c.MaxChars && len(current) > 0 {
			chunks = append(chunks, strings.Join(current, paragraphSeparator))
			current = []string{p}
			size = len(p)
		} else {
			current = append(current, p)
			size += len(p) + 2
		}
	}

	if len(current) > 0 {
		chunks = append(chunks, strings.Join(current, paragraphSeparator))
	}

	return chunks
}

// Contents 将文本分块并返回带索引的内容段落
// 分块结果为空而输入非空时，整个文本作为单个段落返回
func (c *Chunker) Contents(text string) []Content {
	chunks := c.Chunk(text)
	if len(chunks) == 0 && text != "" {
		chunks = []string{text}
	}

	contents := make([]Content, len(chunks))
	for i, chunk := range chunks {
		contents[i] = Content{Text: chunk, Index: i}
	}
	return contents
}

// SplitParagraphs 按空行切分文本中的段落
// 统一换行符，去除段落首尾空白，丢弃空段落
func SplitParagraphs(text string) []string {
	text = strings.ReplaceAll(text, "\r\n", "\n")

	var result []string
	for _, p := range strings.Split(text, "\n\n") {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}
