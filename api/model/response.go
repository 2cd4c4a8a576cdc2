package model

import (
	"time"

	"github.com/fyerfyer/research-assistant/internal/models"
)

// Response 通用响应结构
type Response struct {
	Code    int         `json:"code"`               // 响应状态码，0表示成功
	Message string      `json:"message"`            // 响应消息
	Data    interface{} `json:"data,omitempty"`     // 响应数据，可能为空
	TraceID string      `json:"trace_id,omitempty"` // 调用链追踪ID
}

// NewSuccessResponse 创建成功响应
func NewSuccessResponse(data interface{}) *Response {
	return &Response{
		Code:    0,
		Message: "success",
		Data:    data,
	}
}

// NewErrorResponse 创建错误响应
func NewErrorResponse(code int, message string) *Response {
	return &Response{
		Code:    code,
		Message: message,
	}
}

// SessionResponse 会话信息响应
type SessionResponse struct {
	ID        string    `json:"id"`         // 会话ID
	Title     string    `json:"title"`      // 会话标题
	CreatedAt time.Time `json:"created_at"` // 创建时间
	UpdatedAt time.Time `json:"updated_at"` // 更新时间
}

// SessionListResponse 会话列表响应
type SessionListResponse struct {
	Total    int64             `json:"total"`     // 总数量
	Page     int               `json:"page"`      // 当前页码
	PageSize int               `json:"page_size"` // 每页大小
	Sessions []SessionResponse `json:"sessions"`  // 会话列表
}

// ConvertToSessionResponse 将会话模型转换为响应结构
func ConvertToSessionResponse(s *models.ResearchSession) SessionResponse {
	return SessionResponse{
		ID:        s.ID,
		Title:     s.Title,
		CreatedAt: s.CreatedAt,
		UpdatedAt: s.UpdatedAt,
	}
}

// DocumentUploadResponse 文档上传响应
type DocumentUploadResponse struct {
	DocumentID string `json:"document_id"`       // 文档ID
	FileName   string `json:"filename"`          // 文件名
	Status     string `json:"status"`            // 文档状态：uploaded、processing、completed、failed
	TaskID     string `json:"task_id,omitempty"` // 异步任务ID（异步模式下返回）
}

// DocumentStatusResponse 文档状态查询响应
type DocumentStatusResponse struct {
	DocumentID string `json:"document_id"`        // 文档ID
	Status     string `json:"status"`             // 处理状态
	Stage      string `json:"stage,omitempty"`    // 当前处理阶段
	FileName   string `json:"filename"`           // 文件名
	Error      string `json:"error,omitempty"`    // 错误信息（如果有）
	Segments   int    `json:"segments,omitempty"` // 片段数量（处理完成后）
	CreatedAt  string `json:"created_at"`         // 创建时间
	UpdatedAt  string `json:"updated_at"`         // 更新时间
}

// DocumentInfo 文档信息
type DocumentInfo struct {
	DocumentID string    `json:"document_id"` // 文档ID
	FileName   string    `json:"filename"`    // 文件名
	FileType   string    `json:"file_type"`   // 文件类型
	Status     string    `json:"status"`      // 状态
	UploadedAt time.Time `json:"uploaded_at"` // 上传时间
	Segments   int       `json:"segments"`    // 片段数量
}

// DocumentListResponse 文档列表响应
type DocumentListResponse struct {
	Total     int64          `json:"total"`     // 总数量
	Page      int            `json:"page"`      // 当前页码
	PageSize  int            `json:"page_size"` // 每页大小
	Documents []DocumentInfo `json:"documents"` // 文档列表
}

// ConvertToDocumentInfo 将文档模型转换为列表项
func ConvertToDocumentInfo(doc *models.Document) DocumentInfo {
	return DocumentInfo{
		DocumentID: doc.ID,
		FileName:   doc.FileName,
		FileType:   doc.FileType,
		Status:     string(doc.Status),
		UploadedAt: doc.UploadedAt,
		Segments:   doc.SegmentCount,
	}
}

// DeleteResponse 删除操作响应
type DeleteResponse struct {
	Success bool   `json:"success"` // 是否成功
	ID      string `json:"id"`      // 被删除资源的ID
}

// SourceInfo 回答来源信息
type SourceInfo struct {
	FileName string  `json:"filename"`        // 来源文件名
	Kind     string  `json:"kind,omitempty"`  // 内容类型，如 "text"、"ocr"、"web"
	Text     string  `json:"text,omitempty"`  // 引用的文本
	Score    float32 `json:"score,omitempty"` // 匹配分数
}

// QAResponse 问答响应
type QAResponse struct {
	Question string       `json:"question"` // 用户问题
	Answer   string       `json:"answer"`   // 生成的回答
	Sources  []SourceInfo `json:"sources"`  // 来源信息
	Cached   bool         `json:"cached"`   // 回答是否来自缓存
}

// ConvertToSourceInfo 将检索来源转换为响应结构
func ConvertToSourceInfo(sources []models.Source) []SourceInfo {
	if len(sources) == 0 {
		return []SourceInfo{}
	}

	infos := make([]SourceInfo, len(sources))
	for i, src := range sources {
		infos[i] = SourceInfo{
			FileName: src.FileName,
			Kind:     src.Kind,
			Text:     src.Text,
			Score:    src.Score,
		}
	}
	return infos
}

// TurnInfo 单轮对话信息
type TurnInfo struct {
	ID        uint         `json:"id"`         // 对话轮次ID
	Question  string       `json:"question"`   // 用户问题
	Answer    string       `json:"answer"`     // 模型回答
	HasImage  bool         `json:"has_image"`  // 是否附带图片输入
	Sources   []SourceInfo `json:"sources"`    // 引用的来源
	CreatedAt time.Time    `json:"created_at"` // 创建时间
}

// HistoryResponse 历史查询响应
type HistoryResponse struct {
	SessionID string     `json:"session_id"` // 会话ID
	Total     int64      `json:"total"`      // 总轮次数
	Page      int        `json:"page"`       // 当前页码
	PageSize  int        `json:"page_size"`  // 每页大小
	Turns     []TurnInfo `json:"turns"`      // 对话轮次列表
}
