package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/fyerfyer/research-assistant/api/middleware"
	"github.com/fyerfyer/research-assistant/api/model"
	"github.com/fyerfyer/research-assistant/internal/models"
	"github.com/fyerfyer/research-assistant/internal/services"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// SessionHandler 处理会话相关的API请求
type SessionHandler struct {
	sessions  *services.SessionManager  // 会话管理器
	assistant *services.AssistantService // 问答服务，用于历史查询
	logger    *logrus.Logger            // 日志记录器
}

// NewSessionHandler 创建新的会话处理器
func NewSessionHandler(sessions *services.SessionManager, assistant *services.AssistantService) *SessionHandler {
	return &SessionHandler{
		sessions:  sessions,
		assistant: assistant,
		logger:    middleware.GetLogger(),
	}
}

// CreateSession 创建新会话
// POST /api/sessions
func (h *SessionHandler) CreateSession(c *gin.Context) {
	// 请求体可为空，标题可选
	var req model.CreateSessionRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, model.NewErrorResponse(http.StatusBadRequest, "无效的请求参数"))
			return
		}
	}

	session, err := h.sessions.CreateSession(c.Request.Context(), req.Title)
	if err != nil {
		h.logger.WithField("error", err.Error()).Error("Failed to create session")
		c.JSON(http.StatusInternalServerError, model.NewErrorResponse(http.StatusInternalServerError, "创建会话失败"))
		return
	}

	h.logger.WithFields(logrus.Fields{
		"session_id": session.ID,
		"title":      session.Title,
	}).Info("Session created successfully")

	c.JSON(http.StatusOK, model.NewSuccessResponse(model.ConvertToSessionResponse(session)))
}

// ListSessions 获取会话列表
// GET /api/sessions
func (h *SessionHandler) ListSessions(c *gin.Context) {
	var req model.PaginationRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, model.NewErrorResponse(http.StatusBadRequest, "无效的查询参数"))
		return
	}

	page := req.GetPage()
	pageSize := req.GetPageSize()
	sessions, total, err := h.sessions.ListSessions(c.Request.Context(), (page-1)*pageSize, pageSize)
	if err != nil {
		h.logger.WithField("error", err.Error()).Error("Failed to list sessions")
		c.JSON(http.StatusInternalServerError, model.NewErrorResponse(http.StatusInternalServerError, "获取会话列表失败"))
		return
	}

	items := make([]model.SessionResponse, 0, len(sessions))
	for _, s := range sessions {
		items = append(items, model.ConvertToSessionResponse(s))
	}

	resp := model.SessionListResponse{
		Total:    total,
		Page:     page,
		PageSize: pageSize,
		Sessions: items,
	}
	c.JSON(http.StatusOK, model.NewSuccessResponse(resp))
}

// DeleteSession 删除会话及其全部数据
// DELETE /api/sessions/:id
func (h *SessionHandler) DeleteSession(c *gin.Context) {
	var req model.SessionIDRequest
	if err := c.ShouldBindUri(&req); err != nil {
		c.JSON(http.StatusBadRequest, model.NewErrorResponse(http.StatusBadRequest, "无效的会话ID"))
		return
	}

	if err := h.sessions.DeleteSession(c.Request.Context(), req.ID); err != nil {
		if errors.Is(err, models.ErrSessionNotFound) {
			c.JSON(http.StatusNotFound, model.NewErrorResponse(http.StatusNotFound, "会话不存在"))
			return
		}
		h.logger.WithFields(logrus.Fields{
			"error":      err.Error(),
			"session_id": req.ID,
		}).Error("Failed to delete session")
		c.JSON(http.StatusInternalServerError, model.NewErrorResponse(http.StatusInternalServerError, "删除会话失败"))
		return
	}

	h.logger.WithField("session_id", req.ID).Info("Session deleted successfully")

	c.JSON(http.StatusOK, model.NewSuccessResponse(model.DeleteResponse{
		Success: true,
		ID:      req.ID,
	}))
}

// GetHistory 获取会话的对话历史
// GET /api/sessions/:id/history
func (h *SessionHandler) GetHistory(c *gin.Context) {
	var uri model.SessionIDRequest
	if err := c.ShouldBindUri(&uri); err != nil {
		c.JSON(http.StatusBadRequest, model.NewErrorResponse(http.StatusBadRequest, "无效的会话ID"))
		return
	}

	var req model.HistoryRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, model.NewErrorResponse(http.StatusBadRequest, "无效的查询参数"))
		return
	}

	page := req.GetPage()
	pageSize := req.GetPageSize()
	turns, total, err := h.assistant.History(c.Request.Context(), uri.ID, (page-1)*pageSize, pageSize)
	if err != nil {
		if errors.Is(err, models.ErrSessionNotFound) {
			c.JSON(http.StatusNotFound, model.NewErrorResponse(http.StatusNotFound, "会话不存在"))
			return
		}
		h.logger.WithFields(logrus.Fields{
			"error":      err.Error(),
			"session_id": uri.ID,
		}).Error("Failed to get conversation history")
		c.JSON(http.StatusInternalServerError, model.NewErrorResponse(http.StatusInternalServerError, "获取对话历史失败"))
		return
	}

	items := make([]model.TurnInfo, 0, len(turns))
	for _, turn := range turns {
		info := model.TurnInfo{
			ID:        turn.ID,
			Question:  turn.Question,
			Answer:    turn.Answer,
			HasImage:  turn.HasImage,
			CreatedAt: turn.CreatedAt,
			Sources:   []model.SourceInfo{},
		}
		if len(turn.Sources) > 0 {
			var sources []models.Source
			if err := json.Unmarshal(turn.Sources, &sources); err == nil {
				info.Sources = model.ConvertToSourceInfo(sources)
			}
		}
		items = append(items, info)
	}

	resp := model.HistoryResponse{
		SessionID: uri.ID,
		Total:     total,
		Page:      page,
		PageSize:  pageSize,
		Turns:     items,
	}
	c.JSON(http.StatusOK, model.NewSuccessResponse(resp))
}
