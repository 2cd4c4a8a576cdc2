package repository

import (
	"context"
	"errors"
	"time"

	"github.com/fyerfyer/research-assistant/internal/database"
	"github.com/fyerfyer/research-assistant/internal/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// sessionRepo 会话仓储实现
type sessionRepo struct {
	db *gorm.DB
}

// NewSessionRepository 创建会话仓储实例
func NewSessionRepository() SessionRepository {
	return &sessionRepo{
		db: database.MustDB(),
	}
}

// NewSessionRepositoryWithDB 使用指定的数据库连接创建会话仓储实例
func NewSessionRepositoryWithDB(db *gorm.DB) SessionRepository {
	if db == nil {
		db = database.MustDB()
	}
	return &sessionRepo{
		db: db,
	}
}

// WithContext 创建带有上下文的仓储
func (r *sessionRepo) WithContext(ctx context.Context) SessionRepository {
	return &sessionRepo{
		db: r.db.WithContext(ctx),
	}
}

// CreateSession 创建会话
func (r *sessionRepo) CreateSession(session *models.ResearchSession) error {
	if session.ID == "" {
		session.ID = uuid.New().String()
	}

	now := time.Now()
	if session.CreatedAt.IsZero() {
		session.CreatedAt = now
	}
	session.UpdatedAt = now

	return r.db.Create(session).Error
}

// GetSession 获取会话
func (r *sessionRepo) GetSession(id string) (*models.ResearchSession, error) {
	var session models.ResearchSession
	err := r.db.Where("id = ?", id).First(&session).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.ErrSessionNotFound
		}
		return nil, err
	}
	return &session, nil
}

// ListSessions 列出会话，支持分页和筛选
func (r *sessionRepo) ListSessions(offset, limit int, filters map[string]interface{}) ([]*models.ResearchSession, int64, error) {
	var sessions []*models.ResearchSession
	var total int64

	query := r.db.Model(&models.ResearchSession{})

	// 应用筛选条件
	if filters != nil {
		if userID, ok := filters["user_id"].(string); ok && userID != "" {
			query = query.Where("user_id = ?", userID)
		}
		if tags, ok := filters["tags"].(string); ok && tags != "" {
			query = query.Where("tags LIKE ?", "%"+tags+"%")
		}
		if title, ok := filters["title"].(string); ok && title != "" {
			query = query.Where("title LIKE ?", "%"+title+"%")
		}
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	err := query.Order("updated_at DESC").
		Offset(offset).
		Limit(limit).
		Find(&sessions).Error
	if err != nil {
		return nil, 0, err
	}

	return sessions, total, nil
}

// UpdateSession 更新会话
func (r *sessionRepo) UpdateSession(session *models.ResearchSession) error {
	if session.ID == "" {
		return errors.New("session ID cannot be empty")
	}

	session.UpdatedAt = time.Now()
	return r.db.Save(session).Error
}

// DeleteSession 删除会话及其全部轮次
func (r *sessionRepo) DeleteSession(id string) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		// 删除会话的所有轮次
		if err := tx.Where("session_id = ?", id).Delete(&models.ResearchTurn{}).Error; err != nil {
			return err
		}
		// 删除会话记录
		return tx.Where("id = ?", id).Delete(&models.ResearchSession{}).Error
	})
}

// CreateTurn 记录一轮问答
func (r *sessionRepo) CreateTurn(turn *models.ResearchTurn) error {
	if turn.SessionID == "" {
		return errors.New("session ID cannot be empty")
	}

	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = time.Now()
	}

	if err := r.db.Create(turn).Error; err != nil {
		return err
	}

	// 刷新会话的最后更新时间
	return r.db.Model(&models.ResearchSession{}).
		Where("id = ?", turn.SessionID).
		Update("updated_at", time.Now()).Error
}

// GetTurns 获取会话的问答轮次，按时间升序
func (r *sessionRepo) GetTurns(sessionID string, offset, limit int) ([]*models.ResearchTurn, int64, error) {
	var turns []*models.ResearchTurn
	var total int64

	// 先检查会话是否存在
	var exists int64
	err := r.db.Model(&models.ResearchSession{}).
		Where("id = ?", sessionID).
		Count(&exists).Error
	if err != nil {
		return nil, 0, err
	}
	if exists == 0 {
		return nil, 0, models.ErrSessionNotFound
	}

	err = r.db.Model(&models.ResearchTurn{}).
		Where("session_id = ?", sessionID).
		Count(&total).Error
	if err != nil {
		return nil, 0, err
	}

	err = r.db.Where("session_id = ?", sessionID).
		Order("created_at ASC").
		Offset(offset).
		Limit(limit).
		Find(&turns).Error
	if err != nil {
		return nil, 0, err
	}

	return turns, total, nil
}

// CountTurns 统计会话轮次数量
func (r *sessionRepo) CountTurns(sessionID string) (int64, error) {
	var count int64
	err := r.db.Model(&models.ResearchTurn{}).
		Where("session_id = ?", sessionID).
		Count(&count).Error
	return count, err
}
