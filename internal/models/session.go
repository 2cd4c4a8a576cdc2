package models

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// ResearchSession 研究会话模型
// 一个会话对应一套独立的向量索引和对话记忆
type ResearchSession struct {
	ID        string         `gorm:"primaryKey"`        // 会话ID，主键
	Title     string         `gorm:"not null"`          // 会话标题
	CreatedAt time.Time      `gorm:"not null"`          // 创建时间
	UpdatedAt time.Time      `gorm:"not null"`          // 更新时间
	UserID    string         `gorm:"index"`             // 用户标识，可选
	Tags      string         `gorm:"type:varchar(255)"` // 标签，逗号分隔
	Metadata  datatypes.JSON `gorm:"type:json"`         // 元数据，JSON格式
}

// BeforeCreate GORM的钩子函数，创建记录前自动设置时间
func (rs *ResearchSession) BeforeCreate(tx *gorm.DB) (err error) {
	now := time.Now()
	if rs.CreatedAt.IsZero() {
		rs.CreatedAt = now
	}
	rs.UpdatedAt = now
	return nil
}

// BeforeUpdate GORM的钩子函数，更新记录前自动设置更新时间
func (rs *ResearchSession) BeforeUpdate(tx *gorm.DB) (err error) {
	rs.UpdatedAt = time.Now()
	return nil
}

// TableName 明确指定表名
func (ResearchSession) TableName() string {
	return "research_sessions"
}

// ResearchTurn 一轮问答记录
// 持久化会话中的问题、回答及引用来源
type ResearchTurn struct {
	ID        uint           `gorm:"primaryKey;autoIncrement"` // 主键ID
	SessionID string         `gorm:"not null;index"`           // 所属会话ID
	Question  string         `gorm:"type:text;not null"`       // 用户问题
	Answer    string         `gorm:"type:text;not null"`       // 模型回答
	HasImage  bool           `gorm:"not null;default:false"`   // 是否附带图片输入
	CreatedAt time.Time      `gorm:"not null"`                 // 创建时间
	Sources   datatypes.JSON `gorm:"type:json"`                // 引用的来源文件列表
	Metadata  datatypes.JSON `gorm:"type:json"`                // 元数据
}

// BeforeCreate GORM的钩子函数，创建记录前自动设置时间
func (rt *ResearchTurn) BeforeCreate(tx *gorm.DB) (err error) {
	if rt.CreatedAt.IsZero() {
		rt.CreatedAt = time.Now()
	}
	return nil
}

// TableName 明确指定表名
func (ResearchTurn) TableName() string {
	return "research_turns"
}

// Source 表示回答引用的信息源
type Source struct {
	FileName string  `json:"file_name"`       // 来源文件名
	Kind     string  `json:"kind,omitempty"`  // 内容类型，如 "text", "ocr"
	Text     string  `json:"text,omitempty"`  // 引用的文本
	Score    float32 `json:"score,omitempty"` // 匹配分数
}
