package document

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jung-kurt/gofpdf"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetectContentType(t *testing.T) {
	assert.Equal(t, PDF, DetectContentType("paper.pdf"))
	assert.Equal(t, PDF, DetectContentType("PAPER.PDF"))
	assert.Equal(t, Markdown, DetectContentType("notes.md"))
	assert.Equal(t, Markdown, DetectContentType("readme.markdown"))
	assert.Equal(t, PlainText, DetectContentType("abstract.txt"))
	assert.Equal(t, Image, DetectContentType("figure.png"))
	assert.Equal(t, Image, DetectContentType("chart.jpg"))
	assert.Equal(t, Image, DetectContentType("photo.jpeg"))
	assert.Equal(t, Unknown, DetectContentType("archive.zip"))
}

func TestParserFactory(t *testing.T) {
	parser, err := ParserFactory("paper.pdf")
	require.NoError(t, err)
	assert.IsType(t, &PDFParser{}, parser)

	parser, err = ParserFactory("notes.md")
	require.NoError(t, err)
	assert.IsType(t, &MarkdownParser{}, parser)

	parser, err = ParserFactory("abstract.txt")
	require.NoError(t, err)
	assert.IsType(t, &PlainTextParser{}, parser)

	// 图片不走文本解析器
	_, err = ParserFactory("figure.png")
	assert.Error(t, err)

	_, err = ParserFactory("archive.zip")
	assert.Error(t, err)
}

func TestPlainTextParser(t *testing.T) {
	parser := NewPlainTextParser()

	content := "Attention mechanisms weigh token interactions.\n\n注意力机制衡量词元间的交互。"
	text, err := parser.ParseReader(strings.NewReader(content), "abstract.txt")
	require.NoError(t, err)
	assert.Equal(t, content, text)
}

func TestPlainTextParserFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "abstract.txt")
	require.NoError(t, os.WriteFile(path, []byte("Transformers rely on attention."), 0644))

	parser := NewPlainTextParser()
	text, err := parser.Parse(path)
	require.NoError(t, err)
	assert.Equal(t, "Transformers rely on attention.", text)
}

func TestMarkdownParser(t *testing.T) {
	parser := NewMarkdownParser()

	md := "# Attention Survey\n\nTransformers rely **entirely** on attention.\n\n- self-attention\n- cross-attention\n"
	text, err := parser.ParseReader(strings.NewReader(md), "notes.md")
	require.NoError(t, err)

	assert.Contains(t, text, "Attention Survey")
	assert.Contains(t, text, "Transformers rely entirely on attention.")
	assert.Contains(t, text, "- self-attention")
	assert.NotContains(t, text, "#")
	assert.NotContains(t, text, "<")
	assert.NotContains(t, text, "**")
}

func TestMarkdownParserParagraphStructure(t *testing.T) {
	parser := NewMarkdownParser()

	md := "First paragraph.\n\nSecond paragraph.\n"
	text, err := parser.ParseReader(strings.NewReader(md), "notes.md")
	require.NoError(t, err)

	paragraphs := SplitParagraphs(text)
	require.Len(t, paragraphs, 2)
	assert.Equal(t, "First paragraph.", paragraphs[0])
	assert.Equal(t, "Second paragraph.", paragraphs[1])
}

// writeTestPDF 用gofpdf生成一个单页PDF测试文件
func writeTestPDF(t *testing.T, dir, text string) string {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.AddPage()
	pdf.SetFont("Arial", "", 12)
	pdf.Cell(40, 10, text)

	path := filepath.Join(dir, "paper.pdf")
	require.NoError(t, pdf.OutputFileAndClose(path))
	return path
}

func TestPDFParser(t *testing.T) {
	path := writeTestPDF(t, t.TempDir(), "Transformers rely on attention")

	parser := NewPDFParser()
	text, err := parser.Parse(path)
	require.NoError(t, err)
	assert.NotEmpty(t, text)
	assert.Contains(t, text, "Transformers rely on attention")
}

func TestPDFParserFromReader(t *testing.T) {
	path := writeTestPDF(t, t.TempDir(), "Attention is all you need")

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	parser := NewPDFParser()
	text, err := parser.ParseReader(bytes.NewReader(data), "paper.pdf")
	require.NoError(t, err)
	assert.Contains(t, text, "Attention is all you need")
}

func TestDecodeImage(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	img.Set(1, 1, color.White)

	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))

	decoded, err := DecodeImage(buf.Bytes(), "figure.png")
	require.NoError(t, err)
	assert.Equal(t, 4, decoded.Bounds().Dx())
}

func TestDecodeImageInvalid(t *testing.T) {
	_, err := DecodeImage([]byte("not an image"), "figure.png")
	require.Error(t, err)

	var decodeErr *DecodeError
	require.ErrorAs(t, err, &decodeErr)
	assert.Equal(t, "figure.png", decodeErr.Name)
	assert.Equal(t, string(Image), decodeErr.Kind)
}

func TestEncodeImageBase64(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 2, 2))

	encoded, err := EncodeImageBase64(img)
	require.NoError(t, err)
	assert.NotEmpty(t, encoded)
}
