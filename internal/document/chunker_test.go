package document

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunkerSingleParagraph(t *testing.T) {
	c := NewChunker(800)

	chunks := c.Chunk("Attention mechanisms weigh token interactions.")
	require.Len(t, chunks, 1)
	assert.Equal(t, "Attention mechanisms weigh token interactions.", chunks[0])
}

func TestChunkerMergesSmallParagraphs(t *testing.T) {
	c := NewChunker(800)

	text := "First paragraph.\n\nSecond paragraph.\n\nThird paragraph."
	chunks := c.Chunk(text)
	require.Len(t, chunks, 1)
	assert.Equal(t, "First paragraph.\n\nSecond paragraph.\n\nThird paragraph.", chunks[0])
}

func TestChunkerSplitsAtLimit(t *testing.T) {
	c := NewChunker(30)

	text := "Paragraph number one.\n\nParagraph number two.\n\nParagraph number three."
	chunks := c.Chunk(text)
	require.Len(t, chunks, 3)
	assert.Equal(t, "Paragraph number one.", chunks[0])
	assert.Equal(t, "Paragraph number two.", chunks[1])
	assert.Equal(t, "Paragraph number three.", chunks[2])
}

func TestChunkerKeepsOversizedParagraphWhole(t *testing.T) {
	c := NewChunker(50)

	long := strings.Repeat("attention ", 20)
	text := "Short intro.\n\n" + long + "\n\nShort outro."
	chunks := c.Chunk(text)

	require.Len(t, chunks, 3)
	assert.Equal(t, "Short intro.", chunks[0])
	assert.Equal(t, strings.TrimSpace(long), chunks[1])
	assert.Equal(t, "Short outro.", chunks[2])
}

func TestChunkerEmptyInput(t *testing.T) {
	c := NewChunker(800)

	assert.Nil(t, c.Chunk(""))
	assert.Nil(t, c.Chunk("   \n\n  \n\n"))
}

func TestChunkerDefaultMaxChars(t *testing.T) {
	c := NewChunker(0)
	assert.Equal(t, DefaultMaxChars, c.MaxChars)

	c = NewChunker(-5)
	assert.Equal(t, DefaultMaxChars, c.MaxChars)
}

func TestContentsIndexing(t *testing.T) {
	c := NewChunker(30)

	text := "Paragraph number one.\n\nParagraph number two."
	contents := c.Contents(text)

	require.Len(t, contents, 2)
	assert.Equal(t, 0, contents[0].Index)
	assert.Equal(t, "Paragraph number one.", contents[0].Text)
	assert.Equal(t, 1, contents[1].Index)
	assert.Equal(t, "Paragraph number two.", contents[1].Text)
}

func TestContentsWhitespaceFallback(t *testing.T) {
	c := NewChunker(800)

	// 全空白文本没有段落，整体作为单个段落返回
	contents := c.Contents("   ")
	require.Len(t, contents, 1)
	assert.Equal(t, "   ", contents[0].Text)
}

func TestSplitParagraphs(t *testing.T) {
	text := "First line.\r\n\r\nSecond line.\n\n\n\n  Third line.  "
	paragraphs := SplitParagraphs(text)

	require.Len(t, paragraphs, 3)
	assert.Equal(t, "First line.", paragraphs[0])
	assert.Equal(t, "Second line.", paragraphs[1])
	assert.Equal(t, "Third line.", paragraphs[2])
}
