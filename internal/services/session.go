package services

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/fyerfyer/research-assistant/internal/memory"
	"github.com/fyerfyer/research-assistant/internal/models"
	"github.com/fyerfyer/research-assistant/internal/repository"
	"github.com/fyerfyer/research-assistant/internal/vectordb"
)

// ResearchContext 会话的运行时状态
// 每个会话持有独立的向量索引和对话记忆
type ResearchContext struct {
	ID         string                     // 会话ID
	Index      vectordb.Repository        // 会话专属向量索引
	Memory     *memory.ConversationMemory // 对话记忆
	memoryPath string                     // 记忆持久化路径，为空时不持久化
	mu         sync.Mutex                 // 串行化同一会话内的摄取和问答
	lastAccess time.Time                  // 最近访问时间
}

// PersistMemory 将对话记忆写入磁盘
func (rc *ResearchContext) PersistMemory() error {
	return rc.Memory.Persist(rc.memoryPath)
}

// Lock 获取会话锁
func (rc *ResearchContext) Lock() {
	rc.mu.Lock()
}

// Unlock 释放会话锁
func (rc *ResearchContext) Unlock() {
	rc.mu.Unlock()
}

// SessionManager 会话管理器
// 负责会话的创建、查找、删除及运行时状态的生命周期
type SessionManager struct {
	mu        sync.RWMutex
	contexts  map[string]*ResearchContext // 活跃会话的运行时状态
	repo      repository.SessionRepository
	vectorCfg vectordb.Config // 向量索引配置模板
	maxTurns  int             // 对话记忆保留的最大轮次
	logger    *logrus.Logger
}

// SessionOption 会话管理器配置选项
type SessionOption func(*SessionManager)

// WithMaxTurns 设置对话记忆保留的最大轮次，0表示不限制
func WithMaxTurns(n int) SessionOption {
	return func(m *SessionManager) {
		if n >= 0 {
			m.maxTurns = n
		}
	}
}

// WithSessionLogger 设置日志记录器
func WithSessionLogger(logger *logrus.Logger) SessionOption {
	return func(m *SessionManager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// NewSessionManager 创建会话管理器
func NewSessionManager(repo repository.SessionRepository, vectorCfg vectordb.Config, opts ...SessionOption) *SessionManager {
	m := &SessionManager{
		contexts:  make(map[string]*ResearchContext),
		repo:      repo,
		vectorCfg: vectorCfg,
		maxTurns:  0,
		logger:    logrus.New(),
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// CreateSession 创建新会话并初始化运行时状态
func (m *SessionManager) CreateSession(ctx context.Context, title string) (*models.ResearchSession, error) {
	if title == "" {
		title = "Untitled research"
	}

	session := &models.ResearchSession{Title: title}
	if err := m.repo.WithContext(ctx).CreateSession(session); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	if _, err := m.buildContext(session.ID); err != nil {
		// 回滚数据库记录，避免出现无法使用的会话
		if delErr := m.repo.WithContext(ctx).DeleteSession(session.ID); delErr != nil {
			m.logger.WithError(delErr).WithField("session_id", session.ID).Warn("Failed to roll back session record")
		}
		return nil, err
	}

	m.logger.WithFields(logrus.Fields{
		"session_id": session.ID,
		"title":      session.Title,
	}).Info("Session created")

	return session, nil
}

// GetSession 获取会话记录
func (m *SessionManager) GetSession(ctx context.Context, sessionID string) (*models.ResearchSession, error) {
	return m.repo.WithContext(ctx).GetSession(sessionID)
}

// ListSessions 列出会话
func (m *SessionManager) ListSessions(ctx context.Context, offset, limit int) ([]*models.ResearchSession, int64, error) {
	return m.repo.WithContext(ctx).ListSessions(offset, limit, nil)
}

// GetContext 获取会话的运行时状态
// 服务重启后运行时状态会按需重建，已持久化的索引从磁盘加载
func (m *SessionManager) GetContext(ctx context.Context, sessionID string) (*ResearchContext, error) {
	m.mu.RLock()
	rc, ok := m.contexts[sessionID]
	m.mu.RUnlock()

	if ok {
		m.touch(rc)
		return rc, nil
	}

	// 确认会话在数据库中存在
	if _, err := m.repo.WithContext(ctx).GetSession(sessionID); err != nil {
		return nil, err
	}

	return m.buildContext(sessionID)
}

// buildContext 构建会话运行时状态
func (m *SessionManager) buildContext(sessionID string) (*ResearchContext, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	// 并发重建时避免覆盖已有状态
	if rc, ok := m.contexts[sessionID]; ok {
		return rc, nil
	}

	cfg := m.vectorCfg
	memoryPath := ""
	if cfg.Path != "" {
		memoryPath = filepath.Join(cfg.Path, sessionID+".memory")
		cfg.Path = filepath.Join(cfg.Path, sessionID+".index")
	}

	index, err := vectordb.NewRepository(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create vector index for session %s: %w", sessionID, err)
	}

	rc := &ResearchContext{
		ID:         sessionID,
		Index:      index,
		Memory:     memory.NewConversationMemory(m.maxTurns),
		memoryPath: memoryPath,
		lastAccess: time.Now(),
	}

	if err := rc.Memory.Load(memoryPath); err != nil {
		m.logger.WithError(err).WithField("session_id", sessionID).Warn("Failed to load conversation memory")
	}

	m.contexts[sessionID] = rc

	return rc, nil
}

// DeleteSession 删除会话及其全部运行时状态
func (m *SessionManager) DeleteSession(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	rc, ok := m.contexts[sessionID]
	delete(m.contexts, sessionID)
	m.mu.Unlock()

	if ok {
		if err := rc.Index.Close(); err != nil {
			m.logger.WithError(err).WithField("session_id", sessionID).Warn("Failed to close session index")
		}
	}

	// 清理磁盘上的索引和记忆文件
	if m.vectorCfg.Path != "" {
		for _, name := range []string{sessionID + ".index", sessionID + ".memory"} {
			if err := os.Remove(filepath.Join(m.vectorCfg.Path, name)); err != nil && !os.IsNotExist(err) {
				m.logger.WithError(err).WithField("session_id", sessionID).Warn("Failed to remove session file")
			}
		}
	}

	if err := m.repo.WithContext(ctx).DeleteSession(sessionID); err != nil {
		return err
	}

	m.logger.WithField("session_id", sessionID).Info("Session deleted")
	return nil
}

// EvictIdleContexts 释放空闲超过阈值的运行时状态
// 只释放内存中的索引和记忆，数据库记录保留
func (m *SessionManager) EvictIdleContexts(idleFor time.Duration) int {
	deadline := time.Now().Add(-idleFor)

	m.mu.Lock()
	defer m.mu.Unlock()

	evicted := 0
	for id, rc := range m.contexts {
		if rc.lastAccess.Before(deadline) {
			if err := rc.Index.Persist(); err != nil {
				m.logger.WithError(err).WithField("session_id", id).Warn("Failed to persist index before eviction")
			}
			if err := rc.PersistMemory(); err != nil {
				m.logger.WithError(err).WithField("session_id", id).Warn("Failed to persist memory before eviction")
			}
			if err := rc.Index.Close(); err != nil {
				m.logger.WithError(err).WithField("session_id", id).Warn("Failed to close index during eviction")
			}
			delete(m.contexts, id)
			evicted++
		}
	}

	if evicted > 0 {
		m.logger.WithField("count", evicted).Info("Evicted idle session contexts")
	}

	return evicted
}

// ActiveSessions 返回当前驻留内存的会话数量
func (m *SessionManager) ActiveSessions() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.contexts)
}

// touch 更新会话最近访问时间
func (m *SessionManager) touch(rc *ResearchContext) {
	m.mu.Lock()
	rc.lastAccess = time.Now()
	m.mu.Unlock()
}
