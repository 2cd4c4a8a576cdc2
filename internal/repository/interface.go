package repository

import (
	"context"

	"github.com/fyerfyer/research-assistant/internal/models"
)

// DocumentRepository 文档仓储接口
// 负责文档元数据的存储和检索
type DocumentRepository interface {
	// Create 创建文档记录
	Create(doc *models.Document) error

	// Update 更新文档记录
	Update(doc *models.Document) error

	// GetByID 根据ID获取文档
	GetByID(id string) (*models.Document, error)

	// ListBySession 列出会话下的文档，支持分页
	ListBySession(sessionID string, offset, limit int) ([]*models.Document, int64, error)

	// Delete 删除文档
	Delete(id string) error

	// UpdateStatus 更新文档状态
	UpdateStatus(id string, status models.DocumentStatus, errorMsg string) error

	// UpdateStage 更新文档处理阶段
	UpdateStage(id string, stage models.ProcessStage) error

	// DeleteBySession 删除会话下的全部文档记录
	DeleteBySession(sessionID string) error

	// WithContext 创建带有上下文的仓储
	WithContext(ctx context.Context) DocumentRepository
}

// SessionRepository 会话仓储接口
// 负责研究会话和问答轮次的存储和检索
type SessionRepository interface {
	// CreateSession 创建会话
	CreateSession(session *models.ResearchSession) error

	// GetSession 获取会话
	GetSession(id string) (*models.ResearchSession, error)

	// ListSessions 列出会话，支持分页和筛选
	ListSessions(offset, limit int, filters map[string]interface{}) ([]*models.ResearchSession, int64, error)

	// UpdateSession 更新会话
	UpdateSession(session *models.ResearchSession) error

	// DeleteSession 删除会话及其全部轮次
	DeleteSession(id string) error

	// CreateTurn 记录一轮问答
	CreateTurn(turn *models.ResearchTurn) error

	// GetTurns 获取会话的问答轮次，按时间升序
	GetTurns(sessionID string, offset, limit int) ([]*models.ResearchTurn, int64, error)

	// CountTurns 统计会话轮次数量
	CountTurns(sessionID string) (int64, error)

	// WithContext 创建带有上下文的仓储
	WithContext(ctx context.Context) SessionRepository
}
