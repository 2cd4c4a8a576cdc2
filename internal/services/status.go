package services

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/fyerfyer/research-assistant/internal/models"
	"github.com/fyerfyer/research-assistant/internal/repository"
)

// DocumentStatusManager 文档状态管理器
// 负责文档摄取生命周期的状态转换
type DocumentStatusManager struct {
	repo   repository.DocumentRepository // 文档仓储接口
	logger *logrus.Logger                // 日志记录器
	mu     sync.Mutex                    // 保证状态转换的原子性
}

// NewDocumentStatusManager 创建文档状态管理器
func NewDocumentStatusManager(repo repository.DocumentRepository, logger *logrus.Logger) *DocumentStatusManager {
	if logger == nil {
		logger = logrus.New()
	}

	return &DocumentStatusManager{
		repo:   repo,
		logger: logger,
	}
}

// MarkProcessing 将文档标记为处理中
func (m *DocumentStatusManager) MarkProcessing(ctx context.Context, docID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	doc, err := m.repo.WithContext(ctx).GetByID(docID)
	if err != nil {
		return fmt.Errorf("failed to get document: %w", err)
	}

	// 只有新上传或先前失败的文档可以进入处理状态
	if doc.Status != models.DocStatusUploaded && doc.Status != models.DocStatusFailed {
		return fmt.Errorf("invalid state transition: document %s is in %s state", docID, doc.Status)
	}

	m.logger.WithField("doc_id", docID).Info("Marking document as processing")
	return m.repo.WithContext(ctx).UpdateStatus(docID, models.DocStatusProcessing, "")
}

// SetStage 更新文档的处理阶段
// 阶段更新失败只记录日志，不中断摄取流程
func (m *DocumentStatusManager) SetStage(ctx context.Context, docID string, stage models.ProcessStage) {
	if err := m.repo.WithContext(ctx).UpdateStage(docID, stage); err != nil {
		m.logger.WithError(err).WithFields(logrus.Fields{
			"doc_id": docID,
			"stage":  stage,
		}).Warn("Failed to update document stage")
	}
}

// MarkCompleted 将文档标记为处理完成并记录片段数量
func (m *DocumentStatusManager) MarkCompleted(ctx context.Context, docID string, segmentCount int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	doc, err := m.repo.WithContext(ctx).GetByID(docID)
	if err != nil {
		return fmt.Errorf("failed to get document: %w", err)
	}

	doc.SegmentCount = segmentCount
	if err := m.repo.WithContext(ctx).Update(doc); err != nil {
		return fmt.Errorf("failed to update segment count: %w", err)
	}

	m.logger.WithFields(logrus.Fields{
		"doc_id":        docID,
		"segment_count": segmentCount,
	}).Info("Marking document as completed")

	return m.repo.WithContext(ctx).UpdateStatus(docID, models.DocStatusCompleted, "")
}

// MarkFailed 将文档标记为处理失败
// 状态写入失败只记录日志，调用方已经在失败路径上
func (m *DocumentStatusManager) MarkFailed(ctx context.Context, docID string, errorMsg string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.logger.WithFields(logrus.Fields{
		"doc_id": docID,
		"error":  errorMsg,
	}).Error("Marking document as failed")

	if err := m.repo.WithContext(ctx).UpdateStatus(docID, models.DocStatusFailed, errorMsg); err != nil {
		m.logger.WithError(err).WithField("doc_id", docID).Error("Failed to update document status")
	}
}

// GetStatus 获取文档当前状态
func (m *DocumentStatusManager) GetStatus(ctx context.Context, docID string) (models.DocumentStatus, error) {
	doc, err := m.repo.WithContext(ctx).GetByID(docID)
	if err != nil {
		return "", err
	}
	return doc.Status, nil
}
