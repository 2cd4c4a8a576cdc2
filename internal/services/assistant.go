package services

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"

	"github.com/fyerfyer/research-assistant/internal/cache"
	"github.com/fyerfyer/research-assistant/internal/embedding"
	"github.com/fyerfyer/research-assistant/internal/llm"
	"github.com/fyerfyer/research-assistant/internal/models"
	"github.com/fyerfyer/research-assistant/internal/repository"
	"github.com/fyerfyer/research-assistant/internal/vectordb"
	"github.com/fyerfyer/research-assistant/internal/websearch"
)

// Answer 一次问答的结果
type Answer struct {
	Text    string          `json:"text"`    // 回答文本
	Sources []models.Source `json:"sources"` // 引用的来源，按出现顺序去重
	Cached  bool            `json:"cached"`  // 是否命中缓存
}

// AssistantService 研究助手问答服务
// 负责协调向量检索、对话记忆、提示词组装与大模型生成
type AssistantService struct {
	sessions    *SessionManager              // 会话管理器
	embedder    embedding.Client             // 嵌入模型客户端
	generator   llm.Client                   // 大模型客户端
	composer    *llm.Composer                // 提示词组装器
	cache       cache.Cache                  // 回答缓存
	webSearch   websearch.Provider           // 网络搜索提供方，可选
	repo        repository.SessionRepository // 会话仓储，用于持久化轮次
	cacheTTL    time.Duration                // 缓存有效期
	searchLimit int                          // 检索结果数量
	minScore    float32                      // 最低相似度分数
	logger      *logrus.Logger               // 日志记录器
}

// AssistantOption 问答服务配置选项
type AssistantOption func(*AssistantService)

// NewAssistantService 创建研究助手问答服务
func NewAssistantService(
	sessions *SessionManager,
	embedder embedding.Client,
	generator llm.Client,
	answerCache cache.Cache,
	repo repository.SessionRepository,
	opts ...AssistantOption,
) *AssistantService {
	srv := &AssistantService{
		sessions:    sessions,
		embedder:    embedder,
		generator:   generator,
		composer:    llm.NewComposer(),
		cache:       answerCache,
		repo:        repo,
		cacheTTL:    time.Hour,
		searchLimit: 3,
		minScore:    0.0,
		logger:      logrus.New(),
	}

	for _, opt := range opts {
		opt(srv)
	}

	return srv
}

// WithCacheTTL 设置缓存有效期
func WithCacheTTL(ttl time.Duration) AssistantOption {
	return func(s *AssistantService) {
		s.cacheTTL = ttl
	}
}

// WithSearchLimit 设置检索结果数量
func WithSearchLimit(limit int) AssistantOption {
	return func(s *AssistantService) {
		if limit > 0 {
			s.searchLimit = limit
		}
	}
}

// WithMinScore 设置最低相似度分数
func WithMinScore(score float32) AssistantOption {
	return func(s *AssistantService) {
		s.minScore = score
	}
}

// WithComposer 设置提示词组装器
func WithComposer(composer *llm.Composer) AssistantOption {
	return func(s *AssistantService) {
		if composer != nil {
			s.composer = composer
		}
	}
}

// WithWebSearch 设置网络搜索提供方
func WithWebSearch(provider websearch.Provider) AssistantOption {
	return func(s *AssistantService) {
		s.webSearch = provider
	}
}

// WithAssistantLogger 设置日志记录器
func WithAssistantLogger(logger *logrus.Logger) AssistantOption {
	return func(s *AssistantService) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// cachedAnswer 缓存中保存的回答结构
type cachedAnswer struct {
	Text    string          `json:"text"`
	Sources []models.Source `json:"sources"`
}

// Query 回答会话中的一个问题
// 检索失败降级为空上下文继续作答；生成失败是硬错误，对话记忆不更新
func (s *AssistantService) Query(ctx context.Context, sessionID, question, imageBase64 string) (*Answer, error) {
	if question == "" {
		return nil, errors.New("question cannot be empty")
	}

	rc, err := s.sessions.GetContext(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	rc.Lock()
	defer rc.Unlock()

	hasImage := imageBase64 != ""

	// 带图片的问题不走缓存，图片内容不参与缓存键
	if !hasImage {
		if answer, ok := s.lookupCache(sessionID, question); ok {
			rc.Memory.Append(question, answer.Text)
			s.recordTurn(ctx, sessionID, question, answer.Text, answer.Sources, hasImage)
			return answer, nil
		}
	}

	contextText, sources := s.retrieve(ctx, rc, question)
	history := rc.Memory.History()

	var images []string
	if hasImage {
		images = append(images, imageBase64)
	}

	payload := s.composer.Compose(contextText, history, question, images...)

	var genOpts []llm.GenerateOption
	if payload.HasImages() {
		genOpts = append(genOpts, llm.WithGenerateImages(payload.Images...))
	}

	resp, err := s.generator.Generate(ctx, payload.Text, genOpts...)
	if err != nil {
		// 生成失败不记入对话记忆
		return nil, err
	}

	rc.Memory.Append(question, resp.Text)

	answer := &Answer{
		Text:    resp.Text,
		Sources: sources,
	}

	s.recordTurn(ctx, sessionID, question, resp.Text, sources, hasImage)

	if !hasImage {
		s.storeCache(sessionID, question, answer)
	}

	s.logger.WithFields(logrus.Fields{
		"session_id": sessionID,
		"sources":    len(sources),
		"has_image":  hasImage,
		"model":      resp.ModelName,
	}).Info("Question answered")

	return answer, nil
}

// History 获取会话的历史轮次，按时间升序
func (s *AssistantService) History(ctx context.Context, sessionID string, offset, limit int) ([]*models.ResearchTurn, int64, error) {
	return s.repo.WithContext(ctx).GetTurns(sessionID, offset, limit)
}

// retrieve 检索与问题相关的上下文
// 任何一步失败都降级为空结果，问答主流程不中断
func (s *AssistantService) retrieve(ctx context.Context, rc *ResearchContext, question string) (string, []models.Source) {
	vector, err := s.embedder.Embed(ctx, question)
	if err != nil {
		s.logger.WithError(err).WithField("session_id", rc.ID).Warn("Failed to embed question, answering without context")
		return s.supplementWeb(ctx, question, "", nil)
	}

	filter := vectordb.SearchFilter{
		MinScore:   s.minScore,
		MaxResults: s.searchLimit,
	}
	results, err := rc.Index.Search(vector, filter)
	if err != nil {
		s.logger.WithError(err).WithField("session_id", rc.ID).Warn("Vector search failed, answering without context")
		return s.supplementWeb(ctx, question, "", nil)
	}

	var blocks []string
	var sources []models.Source
	seen := make(map[string]bool)

	for _, result := range results {
		blocks = append(blocks, result.Segment.Text)
		if !seen[result.Segment.Source] {
			seen[result.Segment.Source] = true
			sources = append(sources, models.Source{
				FileName: result.Segment.Source,
				Kind:     result.Segment.Kind,
				Text:     result.Segment.Text,
				Score:    result.Score,
			})
		}
	}

	return s.supplementWeb(ctx, question, joinBlocks(blocks), sources)
}

// supplementWeb 在本地检索结果之外补充网络搜索结果
// 仅当配置了提供方且本地没有命中时触发，失败静默降级
func (s *AssistantService) supplementWeb(ctx context.Context, question, contextText string, sources []models.Source) (string, []models.Source) {
	if s.webSearch == nil || contextText != "" {
		return contextText, sources
	}

	results, err := s.webSearch.Search(ctx, question)
	if err != nil {
		s.logger.WithError(err).Warn("Web search failed, answering without context")
		return contextText, sources
	}

	var blocks []string
	for _, r := range results {
		blocks = append(blocks, r.Text)
		sources = append(sources, models.Source{
			FileName: r.URL,
			Kind:     "web",
			Text:     r.Text,
		})
	}

	return joinBlocks(blocks), sources
}

// recordTurn 持久化一轮问答，失败只记录日志
func (s *AssistantService) recordTurn(ctx context.Context, sessionID, question, answer string, sources []models.Source, hasImage bool) {
	turn := &models.ResearchTurn{
		SessionID: sessionID,
		Question:  question,
		Answer:    answer,
		HasImage:  hasImage,
	}

	if len(sources) > 0 {
		if data, err := json.Marshal(sources); err == nil {
			turn.Sources = datatypes.JSON(data)
		}
	}

	if err := s.repo.WithContext(ctx).CreateTurn(turn); err != nil {
		s.logger.WithError(err).WithField("session_id", sessionID).Warn("Failed to record research turn")
	}
}

// lookupCache 尝试从缓存中取回回答
func (s *AssistantService) lookupCache(sessionID, question string) (*Answer, bool) {
	key := cache.AnswerCacheKey(sessionID, question)
	value, found, err := s.cache.Get(key)
	if err != nil || !found {
		return nil, false
	}

	var cached cachedAnswer
	if err := json.Unmarshal([]byte(value), &cached); err != nil {
		s.logger.WithError(err).Warn("Failed to unmarshal cached answer")
		return nil, false
	}

	return &Answer{Text: cached.Text, Sources: cached.Sources, Cached: true}, true
}

// storeCache 将回答写入缓存，失败只记录日志
func (s *AssistantService) storeCache(sessionID, question string, answer *Answer) {
	data, err := json.Marshal(cachedAnswer{Text: answer.Text, Sources: answer.Sources})
	if err != nil {
		return
	}

	key := cache.AnswerCacheKey(sessionID, question)
	if err := s.cache.Set(key, string(data), s.cacheTTL); err != nil {
		s.logger.WithError(err).Warn("Failed to cache answer")
	}
}

// joinBlocks 将上下文片段拼接为提示词中的context部分
func joinBlocks(blocks []string) string {
	if len(blocks) == 0 {
		return ""
	}

	out := blocks[0]
	for _, b := range blocks[1:] {
		out += "\n\n" + b
	}
	return out
}
