package embedding

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newOllamaTestServer 创建模拟Ollama嵌入接口的测试服务
func newOllamaTestServer(t *testing.T, dimension int) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/embeddings", r.URL.Path)

		var req ollamaEmbedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.NotEmpty(t, req.Prompt)

		// 根据文本内容生成确定性向量
		embedding := make([]float64, dimension)
		for i := range embedding {
			embedding[i] = float64(len(req.Prompt)%7) + float64(i)*0.1
		}
		json.NewEncoder(w).Encode(ollamaEmbedResponse{Embedding: embedding})
	}))
}

// TestOllamaClientEmbed 测试Ollama单条文本嵌入
func TestOllamaClientEmbed(t *testing.T) {
	server := newOllamaTestServer(t, 8)
	defer server.Close()

	client, err := NewClient("ollama",
		WithBaseURL(server.URL),
		WithModel("nomic-embed-text"),
		WithDimensions(8),
		WithTimeout(5*time.Second),
	)
	require.NoError(t, err)
	assert.Equal(t, "nomic-embed-text", client.Name())

	vector, err := client.Embed(context.Background(), "这是一个测试文本")
	require.NoError(t, err)
	assert.Len(t, vector, 8)
}

// TestOllamaClientEmbedEmpty 测试空文本输入
func TestOllamaClientEmbedEmpty(t *testing.T) {
	client, err := NewClient("ollama", WithBaseURL("http://localhost:11434"))
	require.NoError(t, err)

	_, err = client.Embed(context.Background(), "")
	assert.ErrorIs(t, err, ErrEmptyText)
}

// TestOllamaClientEmbedBatch 测试批量嵌入
func TestOllamaClientEmbedBatch(t *testing.T) {
	server := newOllamaTestServer(t, 4)
	defer server.Close()

	client, err := NewClient("ollama",
		WithBaseURL(server.URL),
		WithDimensions(4),
	)
	require.NoError(t, err)

	texts := []string{"第一段", "第二段", "第三段"}
	vectors, err := client.EmbedBatch(context.Background(), texts)
	require.NoError(t, err)
	require.Len(t, vectors, len(texts))
	for _, v := range vectors {
		assert.Len(t, v, 4)
	}
}

// TestOllamaClientDimensionMismatch 测试维度校验
func TestOllamaClientDimensionMismatch(t *testing.T) {
	server := newOllamaTestServer(t, 4)
	defer server.Close()

	client, err := NewClient("ollama",
		WithBaseURL(server.URL),
		WithDimensions(768),
	)
	require.NoError(t, err)

	_, err = client.Embed(context.Background(), "维度不匹配的文本")
	require.Error(t, err)

	var embErr EmbeddingError
	require.ErrorAs(t, err, &embErr)
	assert.Equal(t, ErrCodeServerError, embErr.Code)
}

// TestOllamaClientServerError 测试服务端错误的重试与上报
func TestOllamaClientServerError(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(w).Encode(map[string]string{"error": "model not loaded"})
	}))
	defer server.Close()

	client, err := NewClient("ollama",
		WithBaseURL(server.URL),
		WithMaxRetries(2),
	)
	require.NoError(t, err)

	_, err = client.Embed(context.Background(), "测试文本")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model not loaded")
	// 初次请求加两次重试
	assert.Equal(t, int32(3), calls.Load())
}

// TestNewClientUnregistered 测试未注册的客户端类型
func TestNewClientUnregistered(t *testing.T) {
	_, err := NewClient("nonexistent")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not registered")
}

// TestBatchProcessor 测试批处理器保持输入顺序
func TestBatchProcessor(t *testing.T) {
	server := newOllamaTestServer(t, 4)
	defer server.Close()

	client, err := NewClient("ollama", WithBaseURL(server.URL), WithDimensions(4))
	require.NoError(t, err)

	processor := NewBatchProcessor(client, 2, 2)

	texts := []string{"一", "", "三", "四", "五"}
	vectors, err := processor.Process(context.Background(), texts)
	require.NoError(t, err)
	require.Len(t, vectors, len(texts))

	// 空文本位置应为nil，其余位置有向量
	assert.Nil(t, vectors[1])
	for _, i := range []int{0, 2, 3, 4} {
		assert.Len(t, vectors[i], 4)
	}
}
