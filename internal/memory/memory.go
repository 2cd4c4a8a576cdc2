package memory

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Turn 一轮问答
type Turn struct {
	Question  string    `json:"question"`   // 用户问题
	Answer    string    `json:"answer"`     // 模型回答
	CreatedAt time.Time `json:"created_at"` // 记录时间
}

// ConversationMemory 会话记忆
// 按时间顺序累积问答轮次，渲染为提示词中的历史文本
type ConversationMemory struct {
	mu       sync.RWMutex
	turns    []Turn
	maxTurns int // 超过后丢弃最早的轮次，0表示不限制
}

// NewConversationMemory 创建会话记忆
// maxTurns为0时保留全部轮次
func NewConversationMemory(maxTurns int) *ConversationMemory {
	return &ConversationMemory{
		turns:    make([]Turn, 0),
		maxTurns: maxTurns,
	}
}

// Append 追加一轮问答
func (m *ConversationMemory) Append(question, answer string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.turns = append(m.turns, Turn{
		Question:  question,
		Answer:    answer,
		CreatedAt: time.Now(),
	})

	if m.maxTurns > 0 && len(m.turns) > m.maxTurns {
		m.turns = m.turns[len(m.turns)-m.maxTurns:]
	}
}

// Turns 返回全部轮次的副本，按时间顺序
func (m *ConversationMemory) Turns() []Turn {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Turn(nil), m.turns...)
}

// Len 返回当前轮次数
func (m *ConversationMemory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.turns)
}

// History 渲染全部轮次为历史文本
// 格式为 "Human: 问题\nAI: 回答"，轮次之间用单个换行分隔
func (m *ConversationMemory) History() string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if len(m.turns) == 0 {
		return ""
	}

	var sb strings.Builder
	for i, turn := range m.turns {
		if i > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString("Human: ")
		sb.WriteString(turn.Question)
		sb.WriteString("\nAI: ")
		sb.WriteString(turn.Answer)
	}
	return sb.String()
}

// Reset 清空全部轮次
func (m *ConversationMemory) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.turns = m.turns[:0]
}

// Persist 将全部轮次写入JSON文件
// path为空时不做任何事
func (m *ConversationMemory) Persist(path string) error {
	if path == "" {
		return nil
	}

	m.mu.RLock()
	data, err := json.Marshal(m.turns)
	m.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("failed to marshal memory: %v", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create memory directory: %v", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write memory file: %v", err)
	}
	return nil
}

// Load 从JSON文件加载轮次，替换当前内容
// path为空或文件不存在时保持原状，不视为错误
func (m *ConversationMemory) Load(path string) error {
	if path == "" {
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read memory file: %v", err)
	}

	var turns []Turn
	if err := json.Unmarshal(data, &turns); err != nil {
		return fmt.Errorf("failed to parse memory file: %v", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.turns = turns
	if m.maxTurns > 0 && len(m.turns) > m.maxTurns {
		m.turns = m.turns[len(m.turns)-m.maxTurns:]
	}
	return nil
}
