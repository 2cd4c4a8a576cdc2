package model

import "mime/multipart"

// PaginationRequest 分页请求参数
type PaginationRequest struct {
	Page     int `form:"page" json:"page" binding:"omitempty,min=1"`           // 当前页码，从1开始
	PageSize int `form:"page_size" json:"page_size" binding:"omitempty,min=1"` // 每页记录数
}

// GetPage 获取页码，默认为1
func (p *PaginationRequest) GetPage() int {
	if p.Page <= 0 {
		return 1
	}
	return p.Page
}

// GetPageSize 获取每页记录数，默认为10，最大为100
func (p *PaginationRequest) GetPageSize() int {
	if p.PageSize <= 0 {
		return 10
	}
	if p.PageSize > 100 {
		return 100
	}
	return p.PageSize
}

// CreateSessionRequest 创建会话请求
type CreateSessionRequest struct {
	Title string `json:"title" binding:"omitempty,max=255"` // 会话标题，可选
}

// SessionIDRequest 会话路径参数
type SessionIDRequest struct {
	ID string `uri:"id" binding:"required"` // 会话ID
}

// DocumentUploadRequest 文档上传请求
type DocumentUploadRequest struct {
	File *multipart.FileHeader `form:"file" binding:"required"` // 上传的文件
}

// DocumentIDRequest 文档路径参数
type DocumentIDRequest struct {
	ID    string `uri:"id" binding:"required"`     // 会话ID
	DocID string `uri:"doc_id" binding:"required"` // 文档ID
}

// QARequest 问答请求
// Image为base64编码的图片内容，可选
type QARequest struct {
	Question string `json:"question" binding:"required,notblank"` // 问题内容
	Image    string `json:"image" binding:"omitempty"`   // base64编码的图片，可选
}

// HistoryRequest 历史查询请求
type HistoryRequest struct {
	PaginationRequest
}
