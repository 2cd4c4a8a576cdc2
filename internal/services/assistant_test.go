package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/fyerfyer/research-assistant/internal/cache"
	"github.com/fyerfyer/research-assistant/internal/document"
	"github.com/fyerfyer/research-assistant/internal/llm"
	"github.com/fyerfyer/research-assistant/internal/models"
	"github.com/fyerfyer/research-assistant/internal/repository"
	"github.com/fyerfyer/research-assistant/internal/vectordb"
	"github.com/fyerfyer/research-assistant/pkg/storage"
)

// fakeEmbedder 返回固定向量的嵌入客户端
type fakeEmbedder struct {
	err error
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []float32{1, 0, 0, 0}, nil
}

func (f *fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	vectors := make([][]float32, len(texts))
	for i := range texts {
		vectors[i] = []float32{1, 0, 0, 0}
	}
	return vectors, nil
}

func (f *fakeEmbedder) Name() string { return "fake-embedder" }

// fakeGenerator 记录提示词并返回固定回答的大模型客户端
type fakeGenerator struct {
	mu      sync.Mutex
	prompts []string
	answer  string
	err     error
}

func (f *fakeGenerator) Generate(ctx context.Context, prompt string, options ...llm.GenerateOption) (*llm.Response, error) {
	f.mu.Lock()
	f.prompts = append(f.prompts, prompt)
	f.mu.Unlock()

	if f.err != nil {
		return nil, f.err
	}
	return &llm.Response{Text: f.answer, ModelName: "fake-llm"}, nil
}

func (f *fakeGenerator) Name() string { return "fake-llm" }

func (f *fakeGenerator) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.prompts)
}

func (f *fakeGenerator) lastPrompt() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.prompts) == 0 {
		return ""
	}
	return f.prompts[len(f.prompts)-1]
}

// testEnv 服务层测试环境
type testEnv struct {
	sessions  *SessionManager
	ingestion *IngestionService
	assistant *AssistantService
	generator *fakeGenerator
	repo      repository.SessionRepository
}

// setupServiceTest 搭建完整的服务层测试环境
// 使用内存向量索引、内存缓存和内存SQLite
func setupServiceTest(t *testing.T) *testEnv {
	dbName := fmt.Sprintf("file:svcdb_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dbName), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.ResearchSession{}, &models.ResearchTurn{}, &models.Document{}))

	sessionRepo := repository.NewSessionRepositoryWithDB(db)
	docRepo := repository.NewDocumentRepositoryWithDB(db)

	sessions := NewSessionManager(sessionRepo, vectordb.Config{
		Type:         "memory",
		Dimension:    4,
		DistanceType: vectordb.Cosine,
	})

	store, err := storage.NewLocalStorage(storage.LocalConfig{Path: t.TempDir()})
	require.NoError(t, err)

	embedder := &fakeEmbedder{}
	ingestion := NewIngestionService(store, sessions, document.NewChunker(800), embedder, docRepo)

	answerCache, err := cache.NewMemoryCache(cache.DefaultConfig())
	require.NoError(t, err)

	generator := &fakeGenerator{answer: "The paper proposes a transformer model."}
	assistant := NewAssistantService(sessions, embedder, generator, answerCache, sessionRepo)

	return &testEnv{
		sessions:  sessions,
		ingestion: ingestion,
		assistant: assistant,
		generator: generator,
		repo:      sessionRepo,
	}
}

// TestIngestAndQuery 测试完整的摄取加问答流程
func TestIngestAndQuery(t *testing.T) {
	env := setupServiceTest(t)
	ctx := context.Background()

	session, err := env.sessions.CreateSession(ctx, "attention survey")
	require.NoError(t, err)

	content := "Attention mechanisms weigh token interactions.\n\nTransformers rely entirely on attention."
	doc, err := env.ingestion.IngestDocument(ctx, session.ID, strings.NewReader(content), "paper.txt")
	require.NoError(t, err)
	assert.Equal(t, models.DocStatusUploaded, doc.Status)

	saved, err := env.ingestion.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DocStatusCompleted, saved.Status)
	assert.Equal(t, 1, saved.SegmentCount)

	answer, err := env.assistant.Query(ctx, session.ID, "What do transformers rely on?", "")
	require.NoError(t, err)
	assert.Equal(t, "The paper proposes a transformer model.", answer.Text)
	assert.False(t, answer.Cached)

	require.Len(t, answer.Sources, 1)
	assert.Equal(t, "paper.txt", answer.Sources[0].FileName)

	// 提示词应包含检索到的上下文
	prompt := env.generator.lastPrompt()
	assert.Contains(t, prompt, "Attention mechanisms weigh token interactions.")
	assert.Contains(t, prompt, "Answer the question: What do transformers rely on?")

	// 轮次已持久化
	turns, total, err := env.assistant.History(ctx, session.ID, 0, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	assert.Equal(t, "What do transformers rely on?", turns[0].Question)
}

// TestQueryCarriesHistory 测试第二轮问答时提示词携带对话历史
func TestQueryCarriesHistory(t *testing.T) {
	env := setupServiceTest(t)
	ctx := context.Background()

	session, err := env.sessions.CreateSession(ctx, "")
	require.NoError(t, err)

	_, err = env.assistant.Query(ctx, session.ID, "first question", "")
	require.NoError(t, err)

	_, err = env.assistant.Query(ctx, session.ID, "second question", "")
	require.NoError(t, err)

	prompt := env.generator.lastPrompt()
	assert.Contains(t, prompt, "Human: first question")
	assert.Contains(t, prompt, "AI: The paper proposes a transformer model.")
}

// TestQueryGenerationFailure 测试生成失败时记忆和历史均不更新
func TestQueryGenerationFailure(t *testing.T) {
	env := setupServiceTest(t)
	ctx := context.Background()

	session, err := env.sessions.CreateSession(ctx, "")
	require.NoError(t, err)

	env.generator.err = llm.NewGenerationError(llm.ErrCodeServerError, "model unavailable")

	_, err = env.assistant.Query(ctx, session.ID, "broken question", "")
	require.Error(t, err)

	rc, err := env.sessions.GetContext(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, rc.Memory.Len())

	_, total, err := env.assistant.History(ctx, session.ID, 0, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(0), total)
}

// TestQueryCacheHit 测试重复问题命中缓存，模型只调用一次
func TestQueryCacheHit(t *testing.T) {
	env := setupServiceTest(t)
	ctx := context.Background()

	session, err := env.sessions.CreateSession(ctx, "")
	require.NoError(t, err)

	first, err := env.assistant.Query(ctx, session.ID, "repeated question", "")
	require.NoError(t, err)
	assert.False(t, first.Cached)

	second, err := env.assistant.Query(ctx, session.ID, "repeated question", "")
	require.NoError(t, err)
	assert.True(t, second.Cached)
	assert.Equal(t, first.Text, second.Text)

	assert.Equal(t, 1, env.generator.calls())
}

// TestQueryWithImageSkipsCache 测试带图片的问题不走缓存
func TestQueryWithImageSkipsCache(t *testing.T) {
	env := setupServiceTest(t)
	ctx := context.Background()

	session, err := env.sessions.CreateSession(ctx, "")
	require.NoError(t, err)

	_, err = env.assistant.Query(ctx, session.ID, "what is in the chart", "aW1hZ2U=")
	require.NoError(t, err)
	_, err = env.assistant.Query(ctx, session.ID, "what is in the chart", "aW1hZ2U=")
	require.NoError(t, err)

	assert.Equal(t, 2, env.generator.calls())

	// 图片指令行出现在提示词中
	assert.Contains(t, env.generator.lastPrompt(), "If an image is provided")
}

// TestIngestResetsSessionState 测试新上传清空旧索引和对话记忆
func TestIngestResetsSessionState(t *testing.T) {
	env := setupServiceTest(t)
	ctx := context.Background()

	session, err := env.sessions.CreateSession(ctx, "")
	require.NoError(t, err)

	_, err = env.ingestion.IngestDocument(ctx, session.ID, strings.NewReader("old corpus"), "old.txt")
	require.NoError(t, err)

	_, err = env.assistant.Query(ctx, session.ID, "about the old corpus", "")
	require.NoError(t, err)

	rc, err := env.sessions.GetContext(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, rc.Memory.Len())

	_, err = env.ingestion.IngestDocument(ctx, session.ID, strings.NewReader("new corpus"), "new.txt")
	require.NoError(t, err)

	assert.Equal(t, 0, rc.Memory.Len())

	count, err := rc.Index.Count()
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	answer, err := env.assistant.Query(ctx, session.ID, "about the new corpus", "")
	require.NoError(t, err)
	require.Len(t, answer.Sources, 1)
	assert.Equal(t, "new.txt", answer.Sources[0].FileName)
}

// TestQueryEmptyIndex 测试空索引时以空上下文作答
func TestQueryEmptyIndex(t *testing.T) {
	env := setupServiceTest(t)
	ctx := context.Background()

	session, err := env.sessions.CreateSession(ctx, "")
	require.NoError(t, err)

	answer, err := env.assistant.Query(ctx, session.ID, "anything", "")
	require.NoError(t, err)
	assert.Empty(t, answer.Sources)

	assert.Contains(t, env.generator.lastPrompt(), "Given the following context: \n")
}

// TestQueryUnknownSession 测试不存在的会话返回错误
func TestQueryUnknownSession(t *testing.T) {
	env := setupServiceTest(t)

	_, err := env.assistant.Query(context.Background(), "missing-session", "question", "")
	assert.ErrorIs(t, err, models.ErrSessionNotFound)
}

// TestDeleteDocument 测试删除文档会清理索引片段
func TestDeleteDocument(t *testing.T) {
	env := setupServiceTest(t)
	ctx := context.Background()

	session, err := env.sessions.CreateSession(ctx, "")
	require.NoError(t, err)

	doc, err := env.ingestion.IngestDocument(ctx, session.ID, strings.NewReader("some corpus"), "doc.txt")
	require.NoError(t, err)

	require.NoError(t, env.ingestion.DeleteDocument(ctx, doc.ID))

	rc, err := env.sessions.GetContext(ctx, session.ID)
	require.NoError(t, err)
	count, err := rc.Index.Count()
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	_, err = env.ingestion.GetDocument(ctx, doc.ID)
	assert.ErrorIs(t, err, models.ErrDocumentNotFound)
}

// fakeOCR 返回固定文本的OCR引擎
type fakeOCR struct {
	text string
	err  error
}

func (f *fakeOCR) ExtractText(ctx context.Context, image []byte) (string, error) {
	return f.text, f.err
}

func (f *fakeOCR) Name() string { return "fake-ocr" }

// testPNG 生成一张可解码的PNG图片
func testPNG(t *testing.T) *bytes.Reader {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, 2, 2))
	img.Set(0, 0, color.White)

	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return bytes.NewReader(buf.Bytes())
}

// TestIngestImageUsesOCR 测试图片上传走OCR流程
func TestIngestImageUsesOCR(t *testing.T) {
	env := setupServiceTest(t)
	ctx := context.Background()

	env.ingestion.ocrEngine = &fakeOCR{text: "figure shows accuracy curves"}

	session, err := env.sessions.CreateSession(ctx, "")
	require.NoError(t, err)

	doc, err := env.ingestion.IngestDocument(ctx, session.ID, testPNG(t), "chart.png")
	require.NoError(t, err)

	saved, err := env.ingestion.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DocStatusCompleted, saved.Status)

	rc, err := env.sessions.GetContext(ctx, session.ID)
	require.NoError(t, err)
	seg, err := rc.Index.Get(doc.ID + "_0")
	require.NoError(t, err)
	assert.Equal(t, "ocr", seg.Kind)
	assert.Equal(t, "Image description from OCR: figure shows accuracy curves", seg.Text)
}

// TestIngestImageWithoutOCREngine 测试未配置OCR时图片上传失败
func TestIngestImageWithoutOCREngine(t *testing.T) {
	env := setupServiceTest(t)
	ctx := context.Background()

	session, err := env.sessions.CreateSession(ctx, "")
	require.NoError(t, err)

	doc, err := env.ingestion.IngestDocument(ctx, session.ID, strings.NewReader("fake image bytes"), "chart.png")
	require.Error(t, err)

	saved, err := env.ingestion.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DocStatusFailed, saved.Status)
}

// TestIngestCorruptPDFDegrades 测试损坏的PDF降级为空文本并完成摄取
func TestIngestCorruptPDFDegrades(t *testing.T) {
	env := setupServiceTest(t)
	ctx := context.Background()

	session, err := env.sessions.CreateSession(ctx, "")
	require.NoError(t, err)

	doc, err := env.ingestion.IngestDocument(ctx, session.ID, strings.NewReader("not a real pdf"), "broken.pdf")
	require.NoError(t, err)

	saved, err := env.ingestion.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DocStatusCompleted, saved.Status)
	assert.Equal(t, 1, saved.SegmentCount)

	rc, err := env.sessions.GetContext(ctx, session.ID)
	require.NoError(t, err)
	seg, err := rc.Index.Get(doc.ID + "_0")
	require.NoError(t, err)
	assert.Equal(t, "text", seg.Kind)
	assert.Equal(t, "", seg.Text)
}

// TestIngestOCRFailureDegrades 测试OCR识别失败时图片降级为空文本
func TestIngestOCRFailureDegrades(t *testing.T) {
	env := setupServiceTest(t)
	ctx := context.Background()

	env.ingestion.ocrEngine = &fakeOCR{err: errors.New("ocr backend down")}

	session, err := env.sessions.CreateSession(ctx, "")
	require.NoError(t, err)

	doc, err := env.ingestion.IngestDocument(ctx, session.ID, testPNG(t), "scan.png")
	require.NoError(t, err)

	saved, err := env.ingestion.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DocStatusCompleted, saved.Status)

	rc, err := env.sessions.GetContext(ctx, session.ID)
	require.NoError(t, err)
	seg, err := rc.Index.Get(doc.ID + "_0")
	require.NoError(t, err)
	assert.Equal(t, "ocr", seg.Kind)
	assert.Equal(t, "", seg.Text)
}

// TestInvalidImageKeepsSessionState 测试无法解码的图片上传不破坏会话已有状态
func TestInvalidImageKeepsSessionState(t *testing.T) {
	env := setupServiceTest(t)
	ctx := context.Background()

	env.ingestion.ocrEngine = &fakeOCR{text: "unused"}

	session, err := env.sessions.CreateSession(ctx, "")
	require.NoError(t, err)

	_, err = env.ingestion.IngestDocument(ctx, session.ID, strings.NewReader("established corpus"), "base.txt")
	require.NoError(t, err)

	_, err = env.assistant.Query(ctx, session.ID, "about the corpus", "")
	require.NoError(t, err)

	doc, err := env.ingestion.IngestDocument(ctx, session.ID, strings.NewReader("definitely not image data"), "broken.png")
	require.Error(t, err)

	saved, err := env.ingestion.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DocStatusFailed, saved.Status)

	// 旧索引和对话记忆原样保留
	rc, err := env.sessions.GetContext(ctx, session.ID)
	require.NoError(t, err)
	count, err := rc.Index.Count()
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	assert.Equal(t, 1, rc.Memory.Len())
}

// TestEmbeddingFailureDegrades 测试嵌入失败时问答降级为无上下文
func TestEmbeddingFailureDegrades(t *testing.T) {
	env := setupServiceTest(t)
	ctx := context.Background()

	session, err := env.sessions.CreateSession(ctx, "")
	require.NoError(t, err)

	// 替换问答服务的嵌入客户端为失败实现
	env.assistant.embedder = &fakeEmbedder{err: errors.New("embedding service down")}

	answer, err := env.assistant.Query(ctx, session.ID, "degraded question", "")
	require.NoError(t, err)
	assert.Empty(t, answer.Sources)
	assert.Equal(t, "The paper proposes a transformer model.", answer.Text)
}
