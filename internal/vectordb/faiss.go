package vectordb

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/DataIntelligenceCrew/go-faiss"
)

// FaissRepository 实现基于Faiss的向量仓库
type FaissRepository struct {
	mu           sync.RWMutex
	index        faiss.Index
	segments     map[string]Segment
	sourceToIDs  map[string][]string
	idToPosition map[string]int
	insertSeq    map[string]int // 插入序号，用于同分结果的稳定排序
	nextSeq      int
	indexPath    string
	metaPath     string
	dimension    int
	distType     DistanceType
	saveOnClose  bool
}

// NewFaissRepository 创建新的Faiss向量仓库
func NewFaissRepository(config Config) (Repository, error) {
	if config.Dimension <= 0 {
		return nil, fmt.Errorf("vector dimension must be positive")
	}

	if config.Path != "" && !config.InMemory {
		if err := os.MkdirAll(filepath.Dir(config.Path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %v", err)
		}
	}

	distType := config.DistanceType
	if distType == "" {
		distType = Cosine
	}

	indexPath := config.Path
	metaPath := ""
	if indexPath != "" {
		metaPath = indexPath + ".meta.json"
	}

	repo := &FaissRepository{
		segments:     make(map[string]Segment),
		sourceToIDs:  make(map[string][]string),
		idToPosition: make(map[string]int),
		insertSeq:    make(map[string]int),
		indexPath:    indexPath,
		metaPath:     metaPath,
		dimension:    config.Dimension,
		distType:     distType,
		saveOnClose:  true,
	}

	var index faiss.Index
	var err error

	// 尝试从文件加载索引
	if indexPath != "" && !config.InMemory && fileExists(indexPath) {
		index, err = faiss.ReadIndex(indexPath, 0)
		if err != nil {
			if config.CreateIfNotExists {
				index, err = createFaissIndex(config.Dimension, distType)
				if err != nil {
					return nil, fmt.Errorf("failed to create Faiss index: %v", err)
				}
			} else {
				return nil, fmt.Errorf("failed to read index file: %v", err)
			}
		} else {
			if err := repo.loadMetadata(metaPath); err != nil {
				return nil, fmt.Errorf("failed to load segment metadata: %v", err)
			}
		}
	} else {
		index, err = createFaissIndex(config.Dimension, distType)
		if err != nil {
			return nil, fmt.Errorf("failed to create Faiss index: %v", err)
		}
	}

	repo.index = index
	return repo, nil
}

// createFaissIndex 创建Faiss索引
func createFaissIndex(dimension int, distType DistanceType) (faiss.Index, error) {
	var metric int
	switch distType {
	case Cosine, DotProduct:
		metric = faiss.MetricInnerProduct
	case Euclidean:
		metric = faiss.MetricL2
	default:
		metric = faiss.MetricL2
	}
	return faiss.NewIndexFlat(dimension, metric)
}

// Add 添加单个片段到仓库
func (r *FaissRepository) Add(seg Segment) error {
	return r.AddBatch([]Segment{seg})
}

// AddBatch 批量添加片段到仓库
// 先验证整批向量，任一非法时不写入任何片段
func (r *FaissRepository) AddBatch(segs []Segment) error {
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
		if r.distType == Cosine {
			segs[i].Vector = normalizeVector(segs[i].Vector)
		}
		if segs[i].CreatedAt.IsZero() {
			segs[i].CreatedAt = time.Now()
		}
		if segs[i].Metadata == nil {
			segs[i].Metadata = make(map[string]interface{})
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	startPos := int(r.index.Ntotal())
	for _, seg := range segs {
		if err := r.index.Add(seg.Vector); err != nil {
			return fmt.Errorf("failed to add vector to index: %v", err)
		}
	}

	for i, seg := range segs {
		r.segments[seg.ID] = seg
		r.idToPosition[seg.ID] = startPos + i
		r.insertSeq[seg.ID] = r.nextSeq
		r.nextSeq++
		r.sourceToIDs[seg.Source] = append(r.sourceToIDs[seg.Source], seg.ID)
	}
	return nil
}

// Get 获取单个片段
func (r *FaissRepository) Get(id string) (Segment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seg, exists := r.segments[id]
	if !exists {
		return Segment{}, ErrSegmentNotFound
	}
	return seg, nil
}

// Delete 删除单个片段
// 仅移除元数据，向量位置留在Faiss索引中但不再可达
func (r *FaissRepository) Delete(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	seg, exists := r.segments[id]
	if !exists {
		return ErrSegmentNotFound
	}

	delete(r.segments, id)
	delete(r.idToPosition, id)
	delete(r.insertSeq, id)
	if ids, ok := r.sourceToIDs[seg.Source]; ok {
		updated := make([]string, 0, len(ids)-1)
		for _, existing := range ids {
			if existing != id {
				updated = append(updated, existing)
			}
		}
		if len(updated) == 0 {
			delete(r.sourceToIDs, seg.Source)
		} else {
			r.sourceToIDs[seg.Source] = updated
		}
	}
	return nil
}

// DeleteBySource 删除指定来源文件的所有片段
func (r *FaissRepository) DeleteBySource(source string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids, exists := r.sourceToIDs[source]
	if !exists {
		return nil
	}
	for _, id := range ids {
		delete(r.segments, id)
		delete(r.idToPosition, id)
		delete(r.insertSeq, id)
	}
	delete(r.sourceToIDs, source)
	return nil
}

// Search 相似度搜索
func (r *FaissRepository) Search(vector []float32, filter SearchFilter) ([]SearchResult, error) {
	if err := ValidateVector(vector, r.dimension); err != nil {
		return nil, err
	}
	if r.distType == Cosine {
		vector = normalizeVector(vector)
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

	// 超量查询以补偿已删除和被过滤的位置
	queryLimit := k * 2
	total := int(r.index.Ntotal())
	if queryLimit > total {
		queryLimit = total
	}
	if queryLimit == 0 {
		return []SearchResult{}, nil
	}

	distances, indices, err := r.index.Search(vector, int64(queryLimit))
	if err != nil {
		return nil, fmt.Errorf("failed to search index: %v", err)
	}

	posToID := make(map[int]string, len(r.idToPosition))
	for id, pos := range r.idToPosition {
		posToID[pos] = id
	}

	var results []SearchResult
	for i := 0; i < len(indices); i++ {
		idx := indices[i]
		if idx < 0 {
			continue
		}
		id, found := posToID[int(idx)]
		if !found {
			continue
		}
		seg := r.segments[id]
		if !matchSources(seg.Source, filter.Sources) {
			continue
		}
		if !matchMetadata(seg.Metadata, filter.Metadata) {
			continue
		}

		dist := distances[i]
		score := faissScore(dist, r.distType)
		if score < filter.MinScore {
			continue
		}

		results = append(results, SearchResult{
			Segment:  seg,
			Score:    score,
			Distance: dist,
		})
	}

	// Faiss在同分时不保证顺序，按插入序号补一次稳定排序
	r.sortByScoreThenSeq(results)
	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

// faissScore 将Faiss返回的距离转换为评分
// 内积索引返回的是相似度本身，不是距离
func faissScore(dist float32, distType DistanceType) float32 {
	switch distType {
	case Cosine:
		return dist
	case DotProduct:
		return (dist + 1) / 2
	default:
		return DistanceToScore(dist, distType)
	}
}

// sortByScoreThenSeq 按评分降序排序，同分按插入序号升序
func (r *FaissRepository) sortByScoreThenSeq(results []SearchResult) {
	for i := 1; i < len(results); i++ {
		current := results[i]
		curSeq := r.insertSeq[current.Segment.ID]
		j := i - 1
		for j >= 0 {
			prev := results[j]
			if prev.Score > current.Score {
				break
			}
			if prev.Score == current.Score && r.insertSeq[prev.Segment.ID] <= curSeq {
				break
			}
			results[j+1] = results[j]
			j--
		}
		results[j+1] = current
	}
}

// Count 获取片段总数
func (r *FaissRepository) Count() (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.segments), nil
}

// Dimension 返回向量维数
func (r *FaissRepository) Dimension() int {
	return r.dimension
}

// Reset 重建空索引并清空全部元数据
func (r *FaissRepository) Reset() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	index, err := createFaissIndex(r.dimension, r.distType)
	if err != nil {
		return fmt.Errorf("failed to recreate Faiss index: %v", err)
	}
	r.index = index
	r.segments = make(map[string]Segment)
	r.sourceToIDs = make(map[string][]string)
	r.idToPosition = make(map[string]int)
	r.insertSeq = make(map[string]int)
	r.nextSeq = 0
	return nil
}

// Persist 保存索引和片段元数据到文件
func (r *FaissRepository) Persist() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.saveIndex()
}

// Close 关闭仓库
func (r *FaissRepository) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.saveOnClose && r.indexPath != "" {
		if err := r.saveIndex(); err != nil {
			return fmt.Errorf("failed to save index on close: %v", err)
		}
	}
	return nil
}

// faissMetadata 元数据持久化格式
type faissMetadata struct {
	Segments     map[string]Segment  `json:"segments"`
	SourceToIDs  map[string][]string `json:"source_to_ids"`
	IDToPosition map[string]int      `json:"id_to_position"`
	InsertSeq    map[string]int      `json:"insert_seq"`
	NextSeq      int                 `json:"next_seq"`
}

// saveIndex 保存索引和片段数据到文件，调用方需持有锁
func (r *FaissRepository) saveIndex() error {
	if r.indexPath == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(r.indexPath), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %v", err)
	}
	if err := faiss.WriteIndex(r.index, r.indexPath); err != nil {
		return fmt.Errorf("failed to write index to file: %v", err)
	}
	return r.saveMetadata()
}

// saveMetadata 保存片段元数据到文件
func (r *FaissRepository) saveMetadata() error {
	if r.metaPath == "" {
		return nil
	}
	metadata := faissMetadata{
		Segments:     r.segments,
		SourceToIDs:  r.sourceToIDs,
		IDToPosition: r.idToPosition,
		InsertSeq:    r.insertSeq,
		NextSeq:      r.nextSeq,
	}
	data, err := json.MarshalIndent(metadata, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %v", err)
	}
	if err := os.WriteFile(r.metaPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write metadata file: %v", err)
	}
	return nil
}

// loadMetadata 从文件加载片段元数据
func (r *FaissRepository) loadMetadata(path string) error {
	if path == "" || !fileExists(path) {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read metadata file: %v", err)
	}
	var metadata faissMetadata
	if err := json.Unmarshal(data, &metadata); err != nil {
		return fmt.Errorf("failed to unmarshal metadata: %v", err)
	}
	r.segments = metadata.Segments
	r.sourceToIDs = metadata.SourceToIDs
	r.idToPosition = metadata.IDToPosition
	r.insertSeq = metadata.InsertSeq
	r.nextSeq = metadata.NextSeq
	if r.insertSeq == nil {
		r.insertSeq = make(map[string]int)
	}
	return nil
}

func init() {
	RegisterRepository("faiss", NewFaissRepository)
}
