package repository

import (
	"context"
	"errors"
	"time"

	"github.com/fyerfyer/research-assistant/internal/database"
	"github.com/fyerfyer/research-assistant/internal/models"
	"gorm.io/gorm"
)

// documentRepo 文档仓储实现
type documentRepo struct {
	db *gorm.DB
}

// NewDocumentRepository 创建文档仓储实例
func NewDocumentRepository() DocumentRepository {
	return &documentRepo{
		db: database.MustDB(),
	}
}

// NewDocumentRepositoryWithDB 使用指定的数据库连接创建文档仓储实例
func NewDocumentRepositoryWithDB(db *gorm.DB) DocumentRepository {
	if db == nil {
		db = database.MustDB()
	}
	return &documentRepo{
		db: db,
	}
}

// WithContext 创建带有上下文的仓储
func (r *documentRepo) WithContext(ctx context.Context) DocumentRepository {
	return &documentRepo{
		db: r.db.WithContext(ctx),
	}
}

// Create 创建文档记录
func (r *documentRepo) Create(doc *models.Document) error {
	if doc.ID == "" {
		return errors.New("document ID cannot be empty")
	}
	if doc.Status == "" {
		doc.Status = models.DocStatusUploaded
	}
	return r.db.Create(doc).Error
}

// Update 更新文档记录
func (r *documentRepo) Update(doc *models.Document) error {
	if doc.ID == "" {
		return errors.New("document ID cannot be empty")
	}
	doc.UpdatedAt = time.Now()
	return r.db.Save(doc).Error
}

// GetByID 根据ID获取文档
func (r *documentRepo) GetByID(id string) (*models.Document, error) {
	var doc models.Document
	err := r.db.Where("id = ?", id).First(&doc).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.ErrDocumentNotFound
		}
		return nil, err
	}
	return &doc, nil
}

// ListBySession 列出会话下的文档，支持分页
func (r *documentRepo) ListBySession(sessionID string, offset, limit int) ([]*models.Document, int64, error) {
	var docs []*models.Document
	var total int64

	query := r.db.Model(&models.Document{}).Where("session_id = ?", sessionID)

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	err := query.Order("uploaded_at DESC").
		Offset(offset).
		Limit(limit).
		Find(&docs).Error
	if err != nil {
		return nil, 0, err
	}

	return docs, total, nil
}

// Delete 删除文档
func (r *documentRepo) Delete(id string) error {
	result := r.db.Where("id = ?", id).Delete(&models.Document{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return models.ErrDocumentNotFound
	}
	return nil
}

// UpdateStatus 更新文档状态
func (r *documentRepo) UpdateStatus(id string, status models.DocumentStatus, errorMsg string) error {
	updates := map[string]interface{}{
		"status":     status,
		"updated_at": time.Now(),
	}
	if errorMsg != "" {
		updates["error"] = errorMsg
	}
	if status == models.DocStatusCompleted {
		now := time.Now()
		updates["processed_at"] = &now
		updates["current_stage"] = models.StageCompleted
	}

	result := r.db.Model(&models.Document{}).
		Where("id = ?", id).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return models.ErrDocumentNotFound
	}
	return nil
}

// UpdateStage 更新文档处理阶段
func (r *documentRepo) UpdateStage(id string, stage models.ProcessStage) error {
	result := r.db.Model(&models.Document{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"current_stage": stage,
			"updated_at":    time.Now(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return models.ErrDocumentNotFound
	}
	return nil
}

// DeleteBySession 删除会话下的全部文档记录
func (r *documentRepo) DeleteBySession(sessionID string) error {
	return r.db.Where("session_id = ?", sessionID).Delete(&models.Document{}).Error
}
