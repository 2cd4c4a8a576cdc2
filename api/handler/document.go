package handler

import (
	"errors"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/fyerfyer/research-assistant/api/middleware"
	"github.com/fyerfyer/research-assistant/api/model"
	"github.com/fyerfyer/research-assistant/internal/models"
	"github.com/fyerfyer/research-assistant/internal/services"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// DocumentHandler 处理文档相关的API请求
type DocumentHandler struct {
	ingestion *services.IngestionService // 文档摄取服务
	logger    *logrus.Logger             // 日志记录器
}

// NewDocumentHandler 创建新的文档处理器
func NewDocumentHandler(ingestion *services.IngestionService) *DocumentHandler {
	return &DocumentHandler{
		ingestion: ingestion,
		logger:    middleware.GetLogger(),
	}
}

// UploadDocument 上传文档到会话
// 上传会重置会话的索引和对话记忆，新文档成为会话的研究语料
// POST /api/sessions/:id/documents
func (h *DocumentHandler) UploadDocument(c *gin.Context) {
	var uri model.SessionIDRequest
	if err := c.ShouldBindUri(&uri); err != nil {
		c.JSON(http.StatusBadRequest, model.NewErrorResponse(http.StatusBadRequest, "无效的会话ID"))
		return
	}

	var req model.DocumentUploadRequest
	if err := c.ShouldBind(&req); err != nil {
		h.logger.WithFields(logrus.Fields{
			"error":      err.Error(),
			"session_id": uri.ID,
		}).Warn("Invalid document upload request")

		c.JSON(http.StatusBadRequest, model.NewErrorResponse(http.StatusBadRequest, "未提供文件"))
		return
	}

	filename := req.File.Filename
	if !isValidFileType(filepath.Ext(filename)) {
		c.JSON(http.StatusBadRequest, model.NewErrorResponse(
			http.StatusBadRequest,
			"不支持的文件类型，仅支持 .pdf, .md, .markdown, .txt, .png, .jpg, .jpeg",
		))
		return
	}

	file, err := req.File.Open()
	if err != nil {
		h.logger.WithFields(logrus.Fields{
			"error":    err.Error(),
			"filename": filename,
		}).Error("Failed to open uploaded file")

		c.JSON(http.StatusInternalServerError, model.NewErrorResponse(http.StatusInternalServerError, "无法打开上传的文件"))
		return
	}
	defer file.Close()

	doc, err := h.ingestion.IngestDocument(c.Request.Context(), uri.ID, file, filename)
	if err != nil {
		if errors.Is(err, models.ErrSessionNotFound) {
			c.JSON(http.StatusNotFound, model.NewErrorResponse(http.StatusNotFound, "会话不存在"))
			return
		}
		h.logger.WithFields(logrus.Fields{
			"error":      err.Error(),
			"session_id": uri.ID,
			"filename":   filename,
		}).Error("Failed to ingest document")

		c.JSON(http.StatusInternalServerError, model.NewErrorResponse(http.StatusInternalServerError, "文档处理失败"))
		return
	}

	h.logger.WithFields(logrus.Fields{
		"document_id": doc.ID,
		"session_id":  uri.ID,
		"filename":    doc.FileName,
		"status":      doc.Status,
	}).Info("Document uploaded successfully")

	resp := model.DocumentUploadResponse{
		DocumentID: doc.ID,
		FileName:   doc.FileName,
		Status:     string(doc.Status),
		TaskID:     doc.TaskID,
	}
	c.JSON(http.StatusOK, model.NewSuccessResponse(resp))
}

// GetDocumentStatus 获取文档处理状态
// GET /api/sessions/:id/documents/:doc_id/status
func (h *DocumentHandler) GetDocumentStatus(c *gin.Context) {
	var req model.DocumentIDRequest
	if err := c.ShouldBindUri(&req); err != nil {
		c.JSON(http.StatusBadRequest, model.NewErrorResponse(http.StatusBadRequest, "无效的文档ID"))
		return
	}

	doc, err := h.ingestion.GetDocument(c.Request.Context(), req.DocID)
	if err != nil || doc.SessionID != req.ID {
		c.JSON(http.StatusNotFound, model.NewErrorResponse(http.StatusNotFound, "文档不存在"))
		return
	}

	resp := model.DocumentStatusResponse{
		DocumentID: doc.ID,
		Status:     string(doc.Status),
		Stage:      string(doc.CurrentStage),
		FileName:   doc.FileName,
		Error:      doc.Error,
		Segments:   doc.SegmentCount,
		CreatedAt:  doc.UploadedAt.Format("2006-01-02 15:04:05"),
		UpdatedAt:  doc.UpdatedAt.Format("2006-01-02 15:04:05"),
	}
	c.JSON(http.StatusOK, model.NewSuccessResponse(resp))
}

// ListDocuments 获取会话的文档列表
// GET /api/sessions/:id/documents
func (h *DocumentHandler) ListDocuments(c *gin.Context) {
	var uri model.SessionIDRequest
	if err := c.ShouldBindUri(&uri); err != nil {
		c.JSON(http.StatusBadRequest, model.NewErrorResponse(http.StatusBadRequest, "无效的会话ID"))
		return
	}

	var req model.PaginationRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, model.NewErrorResponse(http.StatusBadRequest, "无效的查询参数"))
		return
	}

	page := req.GetPage()
	pageSize := req.GetPageSize()
	docs, total, err := h.ingestion.ListDocuments(c.Request.Context(), uri.ID, (page-1)*pageSize, pageSize)
	if err != nil {
		h.logger.WithFields(logrus.Fields{
			"error":      err.Error(),
			"session_id": uri.ID,
		}).Error("Failed to list documents")

		c.JSON(http.StatusInternalServerError, model.NewErrorResponse(http.StatusInternalServerError, "获取文档列表失败"))
		return
	}

	items := make([]model.DocumentInfo, 0, len(docs))
	for _, doc := range docs {
		items = append(items, model.ConvertToDocumentInfo(doc))
	}

	resp := model.DocumentListResponse{
		Total:     total,
		Page:      page,
		PageSize:  pageSize,
		Documents: items,
	}
	c.JSON(http.StatusOK, model.NewSuccessResponse(resp))
}

// DeleteDocument 删除文档及其索引数据
// DELETE /api/sessions/:id/documents/:doc_id
func (h *DocumentHandler) DeleteDocument(c *gin.Context) {
	var req model.DocumentIDRequest
	if err := c.ShouldBindUri(&req); err != nil {
		c.JSON(http.StatusBadRequest, model.NewErrorResponse(http.StatusBadRequest, "无效的文档ID"))
		return
	}

	doc, err := h.ingestion.GetDocument(c.Request.Context(), req.DocID)
	if err != nil || doc.SessionID != req.ID {
		c.JSON(http.StatusNotFound, model.NewErrorResponse(http.StatusNotFound, "文档不存在"))
		return
	}

	if err := h.ingestion.DeleteDocument(c.Request.Context(), req.DocID); err != nil {
		h.logger.WithFields(logrus.Fields{
			"error":       err.Error(),
			"document_id": req.DocID,
		}).Error("Failed to delete document")

		c.JSON(http.StatusInternalServerError, model.NewErrorResponse(http.StatusInternalServerError, "删除文档失败"))
		return
	}

	h.logger.WithField("document_id", req.DocID).Info("Document deleted successfully")

	c.JSON(http.StatusOK, model.NewSuccessResponse(model.DeleteResponse{
		Success: true,
		ID:      req.DocID,
	}))
}

// isValidFileType 检查文件类型是否有效
func isValidFileType(ext string) bool {
	validTypes := map[string]bool{
		".pdf":      true,
		".md":       true,
		".markdown": true,
		".txt":      true,
		".png":      true,
		".jpg":      true,
		".jpeg":     true,
	}
	return validTypes[strings.ToLower(ext)]
}
