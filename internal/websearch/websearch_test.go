package websearch

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestDuckDuckGoSearch 测试搜索结果解析
func TestDuckDuckGoSearch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "json", r.URL.Query().Get("format"))
		assert.Equal(t, "golang", r.URL.Query().Get("q"))

		json.NewEncoder(w).Encode(ddgResponse{
			AbstractText: "Go is a programming language.",
			AbstractURL:  "https://example.com/go",
			Heading:      "Go",
			RelatedTopics: []ddgTopic{
				{Text: "Go tooling", FirstURL: "https://example.com/tools"},
				{Topics: []ddgTopic{
					{Text: "Nested topic", FirstURL: "https://example.com/nested"},
				}},
			},
		})
	}))
	defer server.Close()

	provider := NewDuckDuckGoProvider(Config{Endpoint: server.URL, MaxResults: 5})
	assert.Equal(t, "duckduckgo", provider.Name())

	results, err := provider.Search(context.Background(), "golang")
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, "Go is a programming language.", results[0].Text)
	assert.Equal(t, "Go tooling", results[1].Text)
	assert.Equal(t, "Nested topic", results[2].Text)
}

// TestDuckDuckGoSearchLimit 测试结果数量上限
func TestDuckDuckGoSearchLimit(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(ddgResponse{
			RelatedTopics: []ddgTopic{
				{Text: "一", FirstURL: "u1"},
				{Text: "二", FirstURL: "u2"},
				{Text: "三", FirstURL: "u3"},
			},
		})
	}))
	defer server.Close()

	provider := NewDuckDuckGoProvider(Config{Endpoint: server.URL, MaxResults: 2})

	results, err := provider.Search(context.Background(), "query")
	require.NoError(t, err)
	assert.Len(t, results, 2)
}

// TestDuckDuckGoSearchEmptyQuery 测试空查询词直接返回空结果
func TestDuckDuckGoSearchEmptyQuery(t *testing.T) {
	provider := NewDuckDuckGoProvider(DefaultConfig())

	results, err := provider.Search(context.Background(), "   ")
	require.NoError(t, err)
	assert.Empty(t, results)
}

// TestDuckDuckGoSearchServerError 测试服务端错误上报
func TestDuckDuckGoSearchServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	provider := NewDuckDuckGoProvider(Config{Endpoint: server.URL})

	_, err := provider.Search(context.Background(), "query")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 503")
}
