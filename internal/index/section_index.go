package index

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"candidate-scorer-go/internal/types"
)

// ErrDimensionMismatch 章节内向量维度不一致
var ErrDimensionMismatch = errors.New("向量维度不一致")

// SearchHit 表示一次相似度检索的结果项
type SearchHit struct {
	CandidateID string
	// 余弦相似度，向量在写入时已做L2归一化，检索时即内积
	Score float64
}

// entry 章节存储中的一条向量记录
type entry struct {
	candidateID string
	vector      []float64 // L2归一化后的向量
}

// sectionStore 单个章节的向量存储
// 同一章节内所有向量共享一个固定维度，维度由第一条写入决定。
type sectionStore struct {
	dim     int
	entries []entry
}

// Generation 不可变的索引快照
// 发布后不再修改，读者要么看到完整的一代，要么看到上一代，
// 不会观察到两代混合的状态。
type Generation struct {
	id         string
	sections   map[types.SectionName]*sectionStore
	candidates map[string]struct{}
}

// newGeneration 创建一个空的代
func newGeneration() *Generation {
	return &Generation{
		id:         uuid.New().String(),
		sections:   make(map[types.SectionName]*sectionStore),
		candidates: make(map[string]struct{}),
	}
}

// ID 返回代标识
func (g *Generation) ID() string {
	return g.id
}

// CandidateCount 返回本代中候选人数量
func (g *Generation) CandidateCount() int {
	return len(g.candidates)
}

// SectionSize 返回某章节已索引的向量条数
func (g *Generation) SectionSize(section types.SectionName) int {
	store, ok := g.sections[section]
	if !ok {
		return 0
	}
	return len(store.entries)
}

// Query 在指定章节中检索与查询向量最相似的候选人
// 按余弦相似度降序排列，相同分数按候选人ID升序，保证结果确定性。
// 章节不存在或为空时返回空结果。
func (g *Generation) Query(section types.SectionName, queryVector []float64, k int) []SearchHit {
	store, ok := g.sections[section]
	if !ok || len(store.entries) == 0 || k <= 0 {
		return nil
	}

	query := normalizeL2(queryVector)
	hits := make([]SearchHit, 0, len(store.entries))
	for _, e := range store.entries {
		if len(e.vector) != len(query) {
			continue
		}
		hits = append(hits, SearchHit{
			CandidateID: e.candidateID,
			Score:       dot(query, e.vector),
		})
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].CandidateID < hits[j].CandidateID
	})

	if k < len(hits) {
		hits = hits[:k]
	}
	return hits
}

// clone 深拷贝一代的内容作为新一代的起点（追加模式）
// 向量本身不可变，条目切片与映射需要复制。
func (g *Generation) clone() *Generation {
	next := newGeneration()
	for section, store := range g.sections {
		copied := &sectionStore{
			dim:     store.dim,
			entries: make([]entry, len(store.entries)),
		}
		copy(copied.entries, store.entries)
		next.sections[section] = copied
	}
	for cid := range g.candidates {
		next.candidates[cid] = struct{}{}
	}
	return next
}

// add 向本代写入一条候选人章节向量
// 同一(候选人,章节)重复写入时覆盖旧向量。
func (g *Generation) add(candidateID string, section types.SectionName, vector []float64) error {
	store, ok := g.sections[section]
	if !ok {
		store = &sectionStore{dim: len(vector)}
		g.sections[section] = store
	}
	if len(vector) != store.dim {
		return fmt.Errorf("%w: 章节 %s 期望维度 %d，实际 %d", ErrDimensionMismatch, section, store.dim, len(vector))
	}

	normalized := normalizeL2(vector)
	for i := range store.entries {
		if store.entries[i].candidateID == candidateID {
			store.entries[i].vector = normalized
			g.candidates[candidateID] = struct{}{}
			return nil
		}
	}
	store.entries = append(store.entries, entry{candidateID: candidateID, vector: normalized})
	g.candidates[candidateID] = struct{}{}
	return nil
}

// SectionIndex 按章节组织的代际向量索引
// 单写者持有进行中的staging代，多个读者并发读取最近发布的一代；
// 发布是一次原子指针交换。
type SectionIndex struct {
	mu        sync.Mutex // 保护staging与写路径
	published atomic.Pointer[Generation]
	staging   *Generation
}

// NewSectionIndex 创建索引，初始发布一个空代
func NewSectionIndex() *SectionIndex {
	idx := &SectionIndex{}
	idx.published.Store(newGeneration())
	return idx
}

// Begin 开始一个新的进行中的代
// reset=true 从空代开始；reset=false 以当前已发布代的内容为起点。
func (idx *SectionIndex) Begin(reset bool) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if reset {
		idx.staging = newGeneration()
		return
	}
	idx.staging = idx.published.Load().clone()
}

// Add 向进行中的代追加一条向量
// 必须先调用 Begin；同章节内维度不一致时返回 ErrDimensionMismatch。
func (idx *SectionIndex) Add(candidateID string, section types.SectionName, vector []float64) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if idx.staging == nil {
		return fmt.Errorf("索引写入前必须先调用 Begin")
	}
	if len(vector) == 0 {
		return fmt.Errorf("%w: 向量不能为空", ErrDimensionMismatch)
	}
	return idx.staging.add(candidateID, section, vector)
}

// Publish 原子地将进行中的代发布为当前可读代，返回新代ID
// 发布之前读者只能看到上一代。
func (idx *SectionIndex) Publish() (string, error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if idx.staging == nil {
		return "", fmt.Errorf("没有进行中的代可以发布")
	}
	generation := idx.staging
	idx.staging = nil
	idx.published.Store(generation)
	return generation.id, nil
}

// Abort 丢弃进行中的代，保持当前发布代不变
func (idx *SectionIndex) Abort() {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.staging = nil
}

// Snapshot 返回当前已发布的代，读路径无锁
func (idx *SectionIndex) Snapshot() *Generation {
	return idx.published.Load()
}

// normalizeL2 返回L2归一化后的副本，零向量原样返回
func normalizeL2(v []float64) []float64 {
	var sum float64
	for _, x := range v {
		sum += x * x
	}
	out := make([]float64, len(v))
	if sum == 0 {
		copy(out, v)
		return out
	}
	norm := math.Sqrt(sum)
	for i, x := range v {
		out[i] = x / norm
	}
	return out
}

// dot 内积
func dot(a, b []float64) float64 {
	var sum float64
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}
