package vectordb

import (
	"errors"
	"time"
)

// 常用错误定义
var (
	ErrSegmentNotFound  = errors.New("segment not found")
	ErrEmptyVector      = errors.New("empty vector")
	ErrInvalidID        = errors.New("invalid segment ID")
	ErrInvalidDimension = errors.New("vector dimension mismatch")
)

// Segment 文档片段模型
// 包含向量表示及其来源元数据
type Segment struct {
	ID        string                 `json:"id"`         // 唯一标识符
	Source    string                 `json:"source"`     // 来源文件名
	Kind      string                 `json:"kind"`       // 内容类型，如 "text", "ocr", "web"
	Position  int                    `json:"position"`   // 在原文档中的段落位置
	Text      string                 `json:"text"`       // 原始文本内容
	Vector    []float32              `json:"vector"`     // 向量表示
	CreatedAt time.Time              `json:"created_at"` // 创建时间
	Metadata  map[string]interface{} `json:"metadata"`   // 附加元数据
}

// DistanceType 向量距离计算方法
type DistanceType string

const (
	// Cosine 余弦相似度
	Cosine DistanceType = "cosine"
	// DotProduct 点积
	DotProduct DistanceType = "dot"
	// Euclidean 欧几里得距离
	Euclidean DistanceType = "l2"
)

// SearchResult 搜索结果
type SearchResult struct {
	Segment  Segment // 片段对象
	Score    float32 // 相似度得分
	Distance float32 // 计算的距离
}

// SearchFilter 搜索过滤条件
type SearchFilter struct {
	Sources    []string               // 按来源文件过滤
	Metadata   map[string]interface{} // 按元数据过滤
	MinScore   float32                // 最小相似度分数
	MaxResults int                    // 最大返回结果数
}

// DefaultSearchFilter 返回默认的搜索过滤器
func DefaultSearchFilter() SearchFilter {
	return SearchFilter{
		MinScore:   0.0,
		MaxResults: 3,
	}
}

// Repository 向量数据库仓库接口
// 定义向量数据的基本操作
type Repository interface {
	// Add 添加单个片段
	Add(seg Segment) error

	// AddBatch 批量添加片段，任一向量非法时整批拒绝
	AddBatch(segs []Segment) error

	// Get 获取单个片段
	Get(id string) (Segment, error)

	// Delete 删除单个片段
	Delete(id string) error

	// DeleteBySource 删除指定来源文件的所有片段
	DeleteBySource(source string) error

	// Search 相似度搜索，索引为空时返回空结果而不报错
	Search(vector []float32, filter SearchFilter) ([]SearchResult, error)

	// Count 获取片段总数
	Count() (int, error)

	// Dimension 返回向量维数
	Dimension() int

	// Reset 清空索引中的全部片段
	Reset() error

	// Persist 将索引写入配置的持久化路径
	Persist() error

	// Close 关闭数据库连接
	Close() error
}

// Config 向量数据库配置
type Config struct {
	Type              string       // 数据库类型，如 "memory", "faiss"
	Path              string       // 持久化文件路径
	Dimension         int          // 向量维度
	DistanceType      DistanceType // 距离计算类型
	CreateIfNotExists bool         // 如果不存在是否创建
	InMemory          bool         // 是否仅在内存中运行
}

// Factory 向量数据库工厂函数类型
type Factory func(config Config) (Repository, error)

// RepositoryRegistry 注册可用的向量数据库实现
var RepositoryRegistry = map[string]Factory{}

// RegisterRepository 注册向量数据库工厂函数
func RegisterRepository(name string, factory Factory) {
	RepositoryRegistry[name] = factory
}

// NewRepository 根据配置创建向量数据库实例
func NewRepository(config Config) (Repository, error) {
	factory, ok := RepositoryRegistry[config.Type]
	if !ok {
		// 默认使用内存实现
		factory = NewMemoryRepository
	}
	return factory(config)
}
