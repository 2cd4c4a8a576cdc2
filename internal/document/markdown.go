package document

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/gomarkdown/markdown"
	"github.com/gomarkdown/markdown/html"
	"github.com/gomarkdown/markdown/parser"
)

// MarkdownParser Markdown文档解析器
type MarkdownParser struct{}

// NewMarkdownParser 创建新的Markdown解析器
func NewMarkdownParser() Parser {
	return &MarkdownParser{}
}

// Parse 解析Markdown文件并提取文本内容
func (p *MarkdownParser) Parse(filePath string) (string, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return "", fmt.Errorf("failed to open markdown file: %v", err)
	}
	defer file.Close()

	return p.ParseReader(file, filePath)
}

// ParseReader 从Reader解析Markdown内容
// 先渲染为HTML再剥离标签，保留段落结构
func (p *MarkdownParser) ParseReader(r io.Reader, filename string) (string, error) {
	content, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("failed to read markdown content: %v", err)
	}

	extensions := parser.CommonExtensions | parser.AutoHeadingIDs
	mdParser := parser.NewWithExtensions(extensions)
	doc := mdParser.Parse(content)

	renderer := html.NewRenderer(html.RendererOptions{Flags: html.CommonFlags})
	htmlContent := markdown.Render(doc, renderer)

	return stripHTMLTags(string(htmlContent)), nil
}

// blockTagBreaks 块级标签到段落分隔的映射
var blockTagBreaks = []struct {
	Old string
	New string
}{
	{"<br>", "\n"},
	{"<br/>", "\n"},
	{"<br />", "\n"},
	{"</p>", "\n\n"},
	{"<li>", "- "},
	{"</li>", "\n"},
	{"</ul>", "\n"},
	{"</ol>", "\n"},
	{"</h1>", "\n\n"},
	{"</h2>", "\n\n"},
	{"</h3>", "\n\n"},
	{"</h4>", "\n\n"},
	{"</h5>", "\n\n"},
	{"</h6>", "\n\n"},
	{"</pre>", "\n\n"},
	{"</blockquote>", "\n\n"},
}

// stripHTMLTags 从渲染后的HTML中提取纯文本
// 块级标签的闭合转换为段落分隔，其余标签直接移除
func stripHTMLTags(htmlText string) string {
	result := htmlText
	for _, r := range blockTagBreaks {
		result = strings.ReplaceAll(result, r.Old, r.New)
	}

	// 移除剩余的HTML标签
	var sb strings.Builder
	inTag := false
	for _, ch := range result {
		switch {
		case ch == '<':
			inTag = true
		case ch == '>':
			inTag = false
		case !inTag:
			sb.WriteRune(ch)
		}
	}

	return normalizeWhitespace(sb.String())
}
