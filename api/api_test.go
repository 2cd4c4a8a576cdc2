package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/fyerfyer/research-assistant/api/handler"
	"github.com/fyerfyer/research-assistant/api/model"
	"github.com/fyerfyer/research-assistant/internal/cache"
	"github.com/fyerfyer/research-assistant/internal/document"
	"github.com/fyerfyer/research-assistant/internal/llm"
	"github.com/fyerfyer/research-assistant/internal/models"
	"github.com/fyerfyer/research-assistant/internal/repository"
	"github.com/fyerfyer/research-assistant/internal/services"
	"github.com/fyerfyer/research-assistant/internal/vectordb"
	"github.com/fyerfyer/research-assistant/pkg/storage"
)

// fakeEmbedder 返回固定向量的嵌入客户端
type fakeEmbedder struct{}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return []float32{1, 0, 0, 0}, nil
}

func (f *fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	for i := range texts {
		vectors[i] = []float32{1, 0, 0, 0}
	}
	return vectors, nil
}

func (f *fakeEmbedder) Name() string { return "fake-embedder" }

// fakeGenerator 返回固定回答的大模型客户端
type fakeGenerator struct {
	answer string
	err    error
}

func (f *fakeGenerator) Generate(ctx context.Context, prompt string, options ...llm.GenerateOption) (*llm.Response, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &llm.Response{Text: f.answer, ModelName: "fake-llm"}, nil
}

func (f *fakeGenerator) Name() string { return "fake-llm" }

// setupTestRouter 搭建完整的API测试环境
func setupTestRouter(t *testing.T) (*gin.Engine, *fakeGenerator) {
	gin.SetMode(gin.TestMode)

	dbName := fmt.Sprintf("file:apidb_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dbName), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.ResearchSession{}, &models.ResearchTurn{}, &models.Document{}))

	sessionRepo := repository.NewSessionRepositoryWithDB(db)
	docRepo := repository.NewDocumentRepositoryWithDB(db)

	sessions := services.NewSessionManager(sessionRepo, vectordb.Config{
		Type:         "memory",
		Dimension:    4,
		DistanceType: vectordb.Cosine,
	})

	store, err := storage.NewLocalStorage(storage.LocalConfig{Path: t.TempDir()})
	require.NoError(t, err)

	embedder := &fakeEmbedder{}
	ingestion := services.NewIngestionService(store, sessions, document.NewChunker(800), embedder, docRepo)

	answerCache, err := cache.NewMemoryCache(cache.DefaultConfig())
	require.NoError(t, err)

	generator := &fakeGenerator{answer: "Transformers rely on attention."}
	assistant := services.NewAssistantService(sessions, embedder, generator, answerCache, sessionRepo)

	router := SetupRouter(
		handler.NewSessionHandler(sessions, assistant),
		handler.NewDocumentHandler(ingestion),
		handler.NewQAHandler(assistant),
	)
	return router, generator
}

// doRequest 执行HTTP请求并返回响应记录器
func doRequest(router *gin.Engine, method, path string, body []byte, contentType string) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

// parseResponse 解析通用响应结构并返回data部分
func parseResponse(t *testing.T, w *httptest.ResponseRecorder, data interface{}) *model.Response {
	var resp model.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	if data != nil && resp.Data != nil {
		raw, err := json.Marshal(resp.Data)
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(raw, data))
	}
	return &resp
}

// createTestSession 通过API创建会话并返回会话ID
func createTestSession(t *testing.T, router *gin.Engine, title string) string {
	body, _ := json.Marshal(model.CreateSessionRequest{Title: title})
	w := doRequest(router, http.MethodPost, "/api/sessions", body, "application/json")
	require.Equal(t, http.StatusOK, w.Code)

	var session model.SessionResponse
	parseResponse(t, w, &session)
	require.NotEmpty(t, session.ID)
	return session.ID
}

// uploadTestDocument 通过API上传文本文档并返回文档ID
func uploadTestDocument(t *testing.T, router *gin.Engine, sessionID, filename, content string) string {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = part.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	w := doRequest(router, http.MethodPost, "/api/sessions/"+sessionID+"/documents", buf.Bytes(), writer.FormDataContentType())
	require.Equal(t, http.StatusOK, w.Code)

	var resp model.DocumentUploadResponse
	parseResponse(t, w, &resp)
	require.NotEmpty(t, resp.DocumentID)
	return resp.DocumentID
}

func TestHealthEndpoint(t *testing.T) {
	router, _ := setupTestRouter(t)

	w := doRequest(router, http.MethodGet, "/api/health", nil, "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "ok")
}

func TestCreateAndListSessions(t *testing.T) {
	router, _ := setupTestRouter(t)

	id := createTestSession(t, router, "attention survey")
	assert.NotEmpty(t, id)

	// 空请求体也应创建成功，使用默认标题
	w := doRequest(router, http.MethodPost, "/api/sessions", nil, "application/json")
	require.Equal(t, http.StatusOK, w.Code)
	var created model.SessionResponse
	parseResponse(t, w, &created)
	assert.Equal(t, "Untitled research", created.Title)

	w = doRequest(router, http.MethodGet, "/api/sessions?page=1&page_size=10", nil, "")
	require.Equal(t, http.StatusOK, w.Code)

	var list model.SessionListResponse
	parseResponse(t, w, &list)
	assert.Equal(t, int64(2), list.Total)
	assert.Len(t, list.Sessions, 2)
}

func TestDeleteSession(t *testing.T) {
	router, _ := setupTestRouter(t)
	id := createTestSession(t, router, "to delete")

	w := doRequest(router, http.MethodDelete, "/api/sessions/"+id, nil, "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp model.DeleteResponse
	parseResponse(t, w, &resp)
	assert.True(t, resp.Success)

	// 再次删除应返回404
	w = doRequest(router, http.MethodDelete, "/api/sessions/"+id, nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestUploadDocumentAndStatus(t *testing.T) {
	router, _ := setupTestRouter(t)
	sessionID := createTestSession(t, router, "doc test")

	docID := uploadTestDocument(t, router, sessionID, "paper.txt",
		"Attention mechanisms weigh token interactions.\n\nTransformers rely entirely on attention.")

	w := doRequest(router, http.MethodGet, "/api/sessions/"+sessionID+"/documents/"+docID+"/status", nil, "")
	require.Equal(t, http.StatusOK, w.Code)

	var status model.DocumentStatusResponse
	parseResponse(t, w, &status)
	assert.Equal(t, docID, status.DocumentID)
	assert.Equal(t, string(models.DocStatusCompleted), status.Status)
	assert.Equal(t, 1, status.Segments)

	w = doRequest(router, http.MethodGet, "/api/sessions/"+sessionID+"/documents", nil, "")
	require.Equal(t, http.StatusOK, w.Code)

	var list model.DocumentListResponse
	parseResponse(t, w, &list)
	assert.Equal(t, int64(1), list.Total)
	require.Len(t, list.Documents, 1)
	assert.Equal(t, "paper.txt", list.Documents[0].FileName)
}

func TestUploadDocumentInvalidType(t *testing.T) {
	router, _ := setupTestRouter(t)
	sessionID := createTestSession(t, router, "doc test")

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("file", "malware.exe")
	require.NoError(t, err)
	_, err = part.Write([]byte("binary"))
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	w := doRequest(router, http.MethodPost, "/api/sessions/"+sessionID+"/documents", buf.Bytes(), writer.FormDataContentType())
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestUploadDocumentUnknownSession(t *testing.T) {
	router, _ := setupTestRouter(t)

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("file", "paper.txt")
	require.NoError(t, err)
	_, err = part.Write([]byte("some text"))
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	w := doRequest(router, http.MethodPost, "/api/sessions/no-such-session/documents", buf.Bytes(), writer.FormDataContentType())
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestDeleteDocument(t *testing.T) {
	router, _ := setupTestRouter(t)
	sessionID := createTestSession(t, router, "doc test")
	docID := uploadTestDocument(t, router, sessionID, "paper.txt", "Transformers rely on attention.")

	w := doRequest(router, http.MethodDelete, "/api/sessions/"+sessionID+"/documents/"+docID, nil, "")
	require.Equal(t, http.StatusOK, w.Code)

	w = doRequest(router, http.MethodGet, "/api/sessions/"+sessionID+"/documents/"+docID+"/status", nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAskQuestion(t *testing.T) {
	router, _ := setupTestRouter(t)
	sessionID := createTestSession(t, router, "qa test")
	uploadTestDocument(t, router, sessionID, "paper.txt", "Transformers rely entirely on attention mechanisms.")

	body, _ := json.Marshal(model.QARequest{Question: "What do transformers rely on?"})
	w := doRequest(router, http.MethodPost, "/api/sessions/"+sessionID+"/qa", body, "application/json")
	require.Equal(t, http.StatusOK, w.Code)

	var resp model.QAResponse
	parseResponse(t, w, &resp)
	assert.Equal(t, "What do transformers rely on?", resp.Question)
	assert.Equal(t, "Transformers rely on attention.", resp.Answer)
	assert.False(t, resp.Cached)
	require.Len(t, resp.Sources, 1)
	assert.Equal(t, "paper.txt", resp.Sources[0].FileName)

	// 相同问题第二次命中缓存
	w = doRequest(router, http.MethodPost, "/api/sessions/"+sessionID+"/qa", body, "application/json")
	require.Equal(t, http.StatusOK, w.Code)
	parseResponse(t, w, &resp)
	assert.True(t, resp.Cached)
}

func TestAskQuestionEmpty(t *testing.T) {
	router, _ := setupTestRouter(t)
	sessionID := createTestSession(t, router, "qa test")

	body, _ := json.Marshal(map[string]string{"question": ""})
	w := doRequest(router, http.MethodPost, "/api/sessions/"+sessionID+"/qa", body, "application/json")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// 全空白的问题同样无效
	body, _ = json.Marshal(map[string]string{"question": "   "})
	w = doRequest(router, http.MethodPost, "/api/sessions/"+sessionID+"/qa", body, "application/json")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAskQuestionGenerationFailure(t *testing.T) {
	router, generator := setupTestRouter(t)
	sessionID := createTestSession(t, router, "qa test")
	uploadTestDocument(t, router, sessionID, "paper.txt", "Transformers rely on attention.")

	generator.err = llm.NewGenerationError(llm.ErrCodeServerError, "model unavailable")

	body, _ := json.Marshal(model.QARequest{Question: "What happened?"})
	w := doRequest(router, http.MethodPost, "/api/sessions/"+sessionID+"/qa", body, "application/json")
	assert.Equal(t, http.StatusBadGateway, w.Code)

	// 生成失败不记入历史
	w = doRequest(router, http.MethodGet, "/api/sessions/"+sessionID+"/history", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	var history model.HistoryResponse
	parseResponse(t, w, &history)
	assert.Equal(t, int64(0), history.Total)
}

func TestGetHistory(t *testing.T) {
	router, _ := setupTestRouter(t)
	sessionID := createTestSession(t, router, "history test")
	uploadTestDocument(t, router, sessionID, "paper.txt", "Transformers rely on attention.")

	body, _ := json.Marshal(model.QARequest{Question: "What do transformers rely on?"})
	w := doRequest(router, http.MethodPost, "/api/sessions/"+sessionID+"/qa", body, "application/json")
	require.Equal(t, http.StatusOK, w.Code)

	w = doRequest(router, http.MethodGet, "/api/sessions/"+sessionID+"/history", nil, "")
	require.Equal(t, http.StatusOK, w.Code)

	var history model.HistoryResponse
	parseResponse(t, w, &history)
	assert.Equal(t, sessionID, history.SessionID)
	assert.Equal(t, int64(1), history.Total)
	require.Len(t, history.Turns, 1)
	assert.Equal(t, "What do transformers rely on?", history.Turns[0].Question)
	assert.Equal(t, "Transformers rely on attention.", history.Turns[0].Answer)
	require.Len(t, history.Turns[0].Sources, 1)
	assert.Equal(t, "paper.txt", history.Turns[0].Sources[0].FileName)
}

func TestHistoryUnknownSession(t *testing.T) {
	router, _ := setupTestRouter(t)

	w := doRequest(router, http.MethodGet, "/api/sessions/no-such-session/history", nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}
