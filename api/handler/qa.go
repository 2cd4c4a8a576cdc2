package handler

import (
	"errors"
	"net/http"

	"github.com/fyerfyer/research-assistant/api/middleware"
	"github.com/fyerfyer/research-assistant/api/model"
	"github.com/fyerfyer/research-assistant/internal/llm"
	"github.com/fyerfyer/research-assistant/internal/models"
	"github.com/fyerfyer/research-assistant/internal/services"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// QAHandler 处理问答相关的API请求
type QAHandler struct {
	assistant *services.AssistantService // 问答服务
	logger    *logrus.Logger             // 日志记录器
}

// NewQAHandler 创建新的问答处理器
func NewQAHandler(assistant *services.AssistantService) *QAHandler {
	return &QAHandler{
		assistant: assistant,
		logger:    middleware.GetLogger(),
	}
}

// Ask 向会话提问，可附带base64编码的图片
// POST /api/sessions/:id/qa
func (h *QAHandler) Ask(c *gin.Context) {
	var uri model.SessionIDRequest
	if err := c.ShouldBindUri(&uri); err != nil {
		c.JSON(http.StatusBadRequest, model.NewErrorResponse(http.StatusBadRequest, "无效的会话ID"))
		return
	}

	var req model.QARequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.WithFields(logrus.Fields{
			"error":      err.Error(),
			"session_id": uri.ID,
		}).Warn("Invalid QA request")

		c.JSON(http.StatusBadRequest, model.NewErrorResponse(http.StatusBadRequest, "问题不能为空"))
		return
	}

	answer, err := h.assistant.Query(c.Request.Context(), uri.ID, req.Question, req.Image)
	if err != nil {
		if errors.Is(err, models.ErrSessionNotFound) {
			c.JSON(http.StatusNotFound, model.NewErrorResponse(http.StatusNotFound, "会话不存在"))
			return
		}

		var genErr llm.GenerationError
		if errors.As(err, &genErr) {
			h.logger.WithFields(logrus.Fields{
				"error":      genErr.Error(),
				"session_id": uri.ID,
				"code":       genErr.Code,
			}).Error("Model generation failed")

			c.JSON(http.StatusBadGateway, model.NewErrorResponse(http.StatusBadGateway, "生成回答失败，请稍后重试"))
			return
		}

		h.logger.WithFields(logrus.Fields{
			"error":      err.Error(),
			"session_id": uri.ID,
		}).Error("Failed to answer question")

		c.JSON(http.StatusInternalServerError, model.NewErrorResponse(http.StatusInternalServerError, "处理问题失败"))
		return
	}

	resp := model.QAResponse{
		Question: req.Question,
		Answer:   answer.Text,
		Sources:  model.ConvertToSourceInfo(answer.Sources),
		Cached:   answer.Cached,
	}
	c.JSON(http.StatusOK, model.NewSuccessResponse(resp))
}
