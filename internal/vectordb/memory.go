package vectordb

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// MemoryRepository 基于内存的向量仓库实现
// 片段按插入顺序保存，评分相同时先插入的排在前面
type MemoryRepository struct {
	mu          sync.RWMutex
	segments    []Segment
	idToIndex   map[string]int
	sourceToIDs map[string][]string
	dimension   int
	distType    DistanceType
	path        string
}

// NewMemoryRepository 创建内存向量仓库
func NewMemoryRepository(config Config) (Repository, error) {
	if config.Dimension <= 0 {
		return nil, fmt.Errorf("vector dimension must be positive")
	}

	distType := config.DistanceType
	if distType == "" {
		distType = Cosine
	}

	repo := &MemoryRepository{
		segments:    make([]Segment, 0),
		idToIndex:   make(map[string]int),
		sourceToIDs: make(map[string][]string),
		dimension:   config.Dimension,
		distType:    distType,
		path:        config.Path,
	}

	// 尝试从持久化文件恢复
	if config.Path != "" && !config.InMemory && fileExists(config.Path) {
		if err := repo.load(config.Path); err != nil {
			return nil, fmt.Errorf("failed to load persisted index: %v", err)
		}
	}

	return repo, nil
}

// Add 添加单个片段到仓库
func (r *MemoryRepository) Add(seg Segment) error {
	return r.AddBatch([]Segment{seg})
}

// AddBatch 批量添加片段
// 先验证整批向量，任一非法时不写入任何片段
func (r *MemoryRepository) AddBatch(segs []Segment) error {
	if len(segs) == 0 {
		return nil
	}

	for i := range segs {
		if segs[i].ID == "" {
			return ErrInvalidID
		}
		if err := ValidateVector(segs[i].Vector, r.dimension); err != nil {
			return fmt.Errorf("invalid vector for segment %s: %v", segs[i].ID, err)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, seg := range segs {
		if seg.CreatedAt.IsZero() {
			seg.CreatedAt = time.Now()
		}
		if seg.Metadata == nil {
			seg.Metadata = make(map[string]interface{})
		}

		if idx, exists := r.idToIndex[seg.ID]; exists {
			r.segments[idx] = seg
			continue
		}

		r.idToIndex[seg.ID] = len(r.segments)
		r.segments = append(r.segments, seg)
		r.sourceToIDs[seg.Source] = append(r.sourceToIDs[seg.Source], seg.ID)
	}
	return nil
}

// Get 获取单个片段
func (r *MemoryRepository) Get(id string) (Segment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	idx, exists := r.idToIndex[id]
	if !exists {
		return Segment{}, ErrSegmentNotFound
	}
	return r.segments[idx], nil
}

// Delete 删除单个片段
func (r *MemoryRepository) Delete(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	idx, exists := r.idToIndex[id]
	if !exists {
		return ErrSegmentNotFound
	}

	seg := r.segments[idx]
	r.removeLocked([]int{idx})
	r.removeSourceID(seg.Source, id)
	return nil
}

// DeleteBySource 删除指定来源文件的所有片段
func (r *MemoryRepository) DeleteBySource(source string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids, exists := r.sourceToIDs[source]
	if !exists {
		return nil
	}

	indices := make([]int, 0, len(ids))
	for _, id := range ids {
		if idx, ok := r.idToIndex[id]; ok {
			indices = append(indices, idx)
		}
	}
	r.removeLocked(indices)
	delete(r.sourceToIDs, source)
	return nil
}

// removeLocked 按下标删除片段并重建索引映射，调用方需持有写锁
func (r *MemoryRepository) removeLocked(indices []int) {
	if len(indices) == 0 {
		return
	}
	drop := make(map[int]bool, len(indices))
	for _, idx := range indices {
		drop[idx] = true
	}

	kept := make([]Segment, 0, len(r.segments)-len(drop))
	for i, seg := range r.segments {
		if drop[i] {
			delete(r.idToIndex, seg.ID)
			continue
		}
		kept = append(kept, seg)
	}
	r.segments = kept
	for i, seg := range r.segments {
		r.idToIndex[seg.ID] = i
	}
}

// removeSourceID 从来源映射中移除片段ID，调用方需持有写锁
func (r *MemoryRepository) removeSourceID(source, id string) {
	ids, ok := r.sourceToIDs[source]
	if !ok {
		return
	}
	updated := make([]string, 0, len(ids)-1)
	for _, existing := range ids {
		if existing != id {
			updated = append(updated, existing)
		}
	}
	if len(updated) == 0 {
		delete(r.sourceToIDs, source)
	} else {
		r.sourceToIDs[source] = updated
	}
}

// Search 相似度搜索
// 仓库为空或结果不足k个时返回现有结果，不报错
func (r *MemoryRepository) Search(vector []float32, filter SearchFilter) ([]SearchResult, error) {
	if err := ValidateVector(vector, r.dimension); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.segments) == 0 {
		return []SearchResult{}, nil
	}

	k := filter.MaxResults
	if k <= 0 {
		k = DefaultSearchFilter().MaxResults
	}

	// 按插入顺序遍历，保证同分结果顺序确定
	var results []SearchResult
	for _, seg := range r.segments {
		if !matchSources(seg.Source, filter.Sources) {
			continue
		}
		if !matchMetadata(seg.Metadata, filter.Metadata) {
			continue
		}

		dist, err := ComputeDistance(vector, seg.Vector, r.distType)
		if err != nil {
			return nil, err
		}
		score := DistanceToScore(dist, r.distType)
		if score < filter.MinScore {
			continue
		}

		results = append(results, SearchResult{
			Segment:  seg,
			Score:    score,
			Distance: dist,
		})
	}

	SortSearchResults(results)
	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

// Count 获取片段总数
func (r *MemoryRepository) Count() (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.segments), nil
}

// Dimension 返回向量维数
func (r *MemoryRepository) Dimension() int {
	return r.dimension
}

// Reset 清空仓库中的全部片段
func (r *MemoryRepository) Reset() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.segments = r.segments[:0]
	r.idToIndex = make(map[string]int)
	r.sourceToIDs = make(map[string][]string)
	return nil
}

// persistedState 持久化文件格式
type persistedState struct {
	Dimension    int          `json:"dimension"`
	DistanceType DistanceType `json:"distance_type"`
	Segments     []Segment    `json:"segments"`
}

// Persist 将仓库内容写入持久化文件
// 未配置路径时为空操作
func (r *MemoryRepository) Persist() error {
	if r.path == "" {
		return nil
	}

	r.mu.RLock()
	state := persistedState{
		Dimension:    r.dimension,
		DistanceType: r.distType,
		Segments:     append([]Segment(nil), r.segments...),
	}
	r.mu.RUnlock()

	if err := os.MkdirAll(filepath.Dir(r.path), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %v", err)
	}
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal index state: %v", err)
	}
	if err := os.WriteFile(r.path, data, 0644); err != nil {
		return fmt.Errorf("failed to write index file: %v", err)
	}
	return nil
}

// load 从持久化文件恢复仓库内容
func (r *MemoryRepository) load(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read index file: %v", err)
	}

	var state persistedState
	if err := json.Unmarshal(data, &state); err != nil {
		return fmt.Errorf("failed to unmarshal index state: %v", err)
	}
	if state.Dimension != r.dimension {
		return fmt.Errorf("persisted dimension %d does not match configured %d", state.Dimension, r.dimension)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.segments = state.Segments
	r.idToIndex = make(map[string]int, len(state.Segments))
	r.sourceToIDs = make(map[string][]string)
	for i, seg := range state.Segments {
		r.idToIndex[seg.ID] = i
		r.sourceToIDs[seg.Source] = append(r.sourceToIDs[seg.Source], seg.ID)
	}
	return nil
}

// Close 关闭仓库，持久化当前内容
func (r *MemoryRepository) Close() error {
	return r.Persist()
}

// fileExists 检查文件是否存在
func fileExists(path string) bool {
	_, err := os.Stat(path)
	return !os.IsNotExist(err)
}

func init() {
	RegisterRepository("memory", NewMemoryRepository)
}
