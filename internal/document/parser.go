package document

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"
)

// Parser 文档解析器接口
// 负责将不同格式的文档解析为纯文本
type Parser interface {
	// Parse 解析文档，返回文本内容
	Parse(filePath string) (string, error)

	// ParseReader 从Reader解析文档，返回文本内容
	// filename用于确定文档类型
	ParseReader(r io.Reader, filename string) (string, error)
}

// ContentType 表示上传内容的类型
type ContentType string

const (
	// PDF 文档类型
	PDF ContentType = "pdf"
	// Markdown 文档类型
	Markdown ContentType = "markdown"
	// PlainText 纯文本类型
	PlainText ContentType = "plaintext"
	// Image 图片类型（走OCR流程）
	Image ContentType = "image"
	// Unknown 未知类型
	Unknown ContentType = "unknown"
)

// DecodeError 内容解码错误
// 上传内容无法按声明的类型解析时返回
type DecodeError struct {
	Name   string // 上传文件名
	Kind   string // 声明的内容类型
	Reason string // 失败原因
}

// Error 实现error接口
func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode error for %s (kind=%s): %s", e.Name, e.Kind, e.Reason)
}

// NewDecodeError 创建解码错误
func NewDecodeError(name, kind, reason string) *DecodeError {
	return &DecodeError{Name: name, Kind: kind, Reason: reason}
}

// ParserFactory 解析器工厂函数，根据文件类型创建对应的解析器
// 图片类型不走文本解析器，调用方应先用DetectContentType判断
func ParserFactory(filePath string) (Parser, error) {
	switch DetectContentType(filePath) {
	case PDF:
		return NewPDFParser(), nil
	case Markdown:
		return NewMarkdownParser(), nil
	case PlainText:
		return NewPlainTextParser(), nil
	default:
		return nil, fmt.Errorf("unsupported document type: %s", filepath.Ext(filePath))
	}
}

// DetectContentType 根据文件扩展名检测内容类型
func DetectContentType(filePath string) ContentType {
	ext := strings.ToLower(filepath.Ext(filePath))

	switch ext {
	case ".pdf":
		return PDF
	case ".md", ".markdown":
		return Markdown
	case ".txt":
		return PlainText
	case ".png", ".jpg", ".jpeg":
		return Image
	default:
		return Unknown
	}
}

// Content 表示文档的内容段落
type Content struct {
	Text  string // 段落文本内容
	Index int    // 段落索引
}

// normalizeWhitespace 规范化文本中的空白字符
// 保留段落分隔（连续空行压缩为一个），行内多余空格压缩为一个
func normalizeWhitespace(text string) string {
	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")

	var out []string
	blank := false
	for _, line := range lines {
		line = strings.Join(strings.Fields(line), " ")
		if line == "" {
			if !blank && len(out) > 0 {
				out = append(out, "")
			}
			blank = true
			continue
		}
		blank = false
		out = append(out, line)
	}

	return strings.TrimSpace(strings.Join(out, "\n"))
}
