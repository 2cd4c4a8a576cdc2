package taskqueue

import (
	"encoding/json"
	"time"
)

// TaskType 任务类型
type TaskType string

const (
	// TaskDocumentIngest 文档摄取任务（解析、分块、向量化、建立索引）
	TaskDocumentIngest TaskType = "document_ingest"
	// TaskIndexPersist 向量索引持久化任务
	TaskIndexPersist TaskType = "index_persist"
	// TaskSessionCleanup 过期会话清理任务
	TaskSessionCleanup TaskType = "session_cleanup"
)

// TaskStatus 任务状态
type TaskStatus string

const (
	// StatusPending 等待处理
	StatusPending TaskStatus = "pending"
	// StatusProcessing 处理中
	StatusProcessing TaskStatus = "processing"
	// StatusCompleted 已完成
	StatusCompleted TaskStatus = "completed"
	// StatusFailed 处理失败
	StatusFailed TaskStatus = "failed"
)

// Task 任务基础结构
type Task struct {
	ID          string          `json:"id"`           // 任务唯一标识符
	Type        TaskType        `json:"type"`         // 任务类型
	SessionID   string          `json:"session_id"`   // 关联的会话ID
	Status      TaskStatus      `json:"status"`       // 任务状态
	Payload     json.RawMessage `json:"payload"`      // 任务载荷数据，不同任务类型对应不同结构
	Result      json.RawMessage `json:"result"`       // 任务结果数据，不同任务类型对应不同结构
	Error       string          `json:"error"`        // 错误信息（如果处理失败）
	CreatedAt   time.Time       `json:"created_at"`   // 创建时间
	UpdatedAt   time.Time       `json:"updated_at"`   // 更新时间
	StartedAt   *time.Time      `json:"started_at"`   // 开始处理时间
	CompletedAt *time.Time      `json:"completed_at"` // 完成时间
	Attempts    int             `json:"attempts"`     // 尝试次数
	MaxRetries  int             `json:"max_retries"`  // 最大重试次数
}

// IngestPayload 文档摄取任务载荷
type IngestPayload struct {
	DocumentID string `json:"document_id"` // 文档ID
	SessionID  string `json:"session_id"`  // 会话ID
	FileID     string `json:"file_id"`     // 存储层文件标识
	FileName   string `json:"file_name"`   // 原始文件名
	Kind       string `json:"kind"`        // 文件类型: pdf, text, markdown, image
	MaxChars   int    `json:"max_chars"`   // 分块最大字符数
}

// IngestResult 文档摄取任务结果
type IngestResult struct {
	DocumentID   string `json:"document_id"`   // 文档ID
	SegmentCount int    `json:"segment_count"` // 索引的分块数量
	Dimension    int    `json:"dimension"`     // 向量维度
	OCRUsed      bool   `json:"ocr_used"`      // 是否经过OCR提取
	Chars        int    `json:"chars"`         // 提取的文本字符数
	Error        string `json:"error"`         // 错误信息（如果有）
}

// PersistPayload 索引持久化任务载荷
type PersistPayload struct {
	SessionID string `json:"session_id"` // 会话ID
	IndexPath string `json:"index_path"` // 索引文件路径
}

// PersistResult 索引持久化任务结果
type PersistResult struct {
	SessionID    string `json:"session_id"`    // 会话ID
	SegmentCount int    `json:"segment_count"` // 持久化的分块数量
	IndexPath    string `json:"index_path"`    // 索引文件路径
	Error        string `json:"error"`         // 错误信息（如果有）
}

// CleanupPayload 会话清理任务载荷
type CleanupPayload struct {
	IdleFor string `json:"idle_for"` // 空闲时长阈值，time.Duration格式字符串
}

// CleanupResult 会话清理任务结果
type CleanupResult struct {
	RemovedSessions int    `json:"removed_sessions"` // 清理的会话数量
	Error           string `json:"error"`            // 错误信息（如果有）
}
