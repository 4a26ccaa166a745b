package scorer

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"candidate-scorer-go/internal/config"
	"candidate-scorer-go/internal/index"
	"candidate-scorer-go/internal/types"
)

// fakeEmbedder 确定性的测试嵌入器
// 精确匹配vectors表中的文本，未命中时退回到基于哈希的稳定向量。
type fakeEmbedder struct {
	mu           sync.Mutex
	vectors      map[string][]float64
	calls        int
	failAll      bool
	failContains string
	dims         int
}

func newFakeEmbedder(vectors map[string][]float64) *fakeEmbedder {
	return &fakeEmbedder{vectors: vectors, dims: 4}
}

func (f *fakeEmbedder) EmbedStrings(ctx context.Context, texts []string) ([][]float64, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()

	out := make([][]float64, len(texts))
	for i, text := range texts {
		if f.failAll || (f.failContains != "" && strings.Contains(text, f.failContains)) {
			return nil, fmt.Errorf("模拟的后端故障")
		}
		if v, ok := f.vectors[text]; ok {
			out[i] = v
			continue
		}
		out[i] = hashVector(text, f.dims)
	}
	return out, nil
}

func (f *fakeEmbedder) GetDimensions() int {
	if len(f.vectors) > 0 {
		for _, v := range f.vectors {
			return len(v)
		}
	}
	return f.dims
}

func (f *fakeEmbedder) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// hashVector 把文本的词哈希到固定维度，保证相同文本得到相同向量
func hashVector(text string, dims int) []float64 {
	vec := make([]float64, dims)
	for _, word := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New32a()
		h.Write([]byte(word))
		vec[int(h.Sum32())%dims] += 1.0
	}
	// 全零向量会让余弦相似度退化
	vec[0] += 0.01
	return vec
}

func testScorerConfig() config.ScorerConfig {
	return config.ScorerConfig{
		DefaultTopK:        10,
		OversampleFactor:   4,
		MaxRetries:         2,
		RetryBackoffMS:     1,
		Concurrency:        2,
		FailureThreshold:   0.5,
		Normalization:      config.NormalizationPool,
		DefaultAggregation: "sum_norm",
	}
}

// buildIndex 直接向索引写入向量并发布
func buildIndex(t *testing.T, vectors []types.SectionVector) *index.SectionIndex {
	t.Helper()
	idx := index.NewSectionIndex()
	idx.Begin(true)
	for _, sv := range vectors {
		require.NoError(t, idx.Add(sv.CandidateID, sv.Section, sv.Vector))
	}
	_, err := idx.Publish()
	require.NoError(t, err)
	return idx
}

func TestEngineRejectsEmptyJobText(t *testing.T) {
	embedder := newFakeEmbedder(nil)
	idx := buildIndex(t, []types.SectionVector{
		{CandidateID: "cand-a", Section: types.SectionSkills, Vector: []float64{1, 0}},
	})
	engine := NewEngine(embedder, idx, testScorerConfig())

	_, err := engine.Score(context.Background(), Request{JobText: "   "})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidInput))
	// 在访问索引或后端前即被拒绝
	assert.Zero(t, embedder.callCount())
}

func TestEngineRejectsNegativeWeights(t *testing.T) {
	embedder := newFakeEmbedder(nil)
	idx := buildIndex(t, []types.SectionVector{
		{CandidateID: "cand-a", Section: types.SectionSkills, Vector: []float64{1, 0}},
	})
	engine := NewEngine(embedder, idx, testScorerConfig())

	_, err := engine.Score(context.Background(), Request{
		JobText:        "golang engineer",
		SectionWeights: map[types.SectionName]float64{types.SectionSkills: -0.5},
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidInput))

	_, err = engine.Score(context.Background(), Request{
		JobText:        "golang engineer",
		SectionWeights: map[types.SectionName]float64{types.SectionSkills: 0},
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidInput))
}

func TestEngineEmptyIndexReturnsEmptyResults(t *testing.T) {
	embedder := newFakeEmbedder(nil)
	engine := NewEngine(embedder, index.NewSectionIndex(), testScorerConfig())

	results, err := engine.Score(context.Background(), Request{JobText: "golang engineer"})
	require.NoError(t, err)
	assert.Empty(t, results)
	// 空索引无需调用后端
	assert.Zero(t, embedder.callCount())
}

func TestEngineBackendFailureSurfacesAfterRetries(t *testing.T) {
	embedder := newFakeEmbedder(nil)
	embedder.failAll = true
	idx := buildIndex(t, []types.SectionVector{
		{CandidateID: "cand-a", Section: types.SectionSkills, Vector: []float64{1, 0}},
	})
	engine := NewEngine(embedder, idx, testScorerConfig())

	_, err := engine.Score(context.Background(), Request{JobText: "golang engineer"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrBackendUnavailable))
	// 首次调用 + MaxRetries 次重试
	assert.Equal(t, 3, embedder.callCount())
}

func TestEngineScenarioSkillsHeavyJob(t *testing.T) {
	// 三个候选人：A{skills,experience}、B{skills}、C{experience}
	// JD强匹配skills内容时，A和B必须排在C之前
	jobText := "golang kubernetes engineer"
	embedder := newFakeEmbedder(map[string][]float64{
		jobText: {1, 0},
	})
	idx := buildIndex(t, []types.SectionVector{
		{CandidateID: "cand-a", Section: types.SectionSkills, Vector: []float64{0.95, 0.05}},
		{CandidateID: "cand-a", Section: types.SectionExperience, Vector: []float64{0.8, 0.1}},
		{CandidateID: "cand-b", Section: types.SectionSkills, Vector: []float64{0.9, 0.2}},
		{CandidateID: "cand-c", Section: types.SectionExperience, Vector: []float64{0.1, 0.9}},
	})
	engine := NewEngine(embedder, idx, testScorerConfig())

	results, err := engine.Score(context.Background(), Request{
		JobText: jobText,
		TopK:    10,
		SectionWeights: map[types.SectionName]float64{
			types.SectionSkills:     0.6,
			types.SectionExperience: 0.4,
		},
		Aggregation: AggSumNorm,
	})
	require.NoError(t, err)
	require.Len(t, results, 3)

	rank := make(map[string]int)
	for i, r := range results {
		rank[r.CandidateID] = i
	}
	assert.Equal(t, "cand-a", results[0].CandidateID)
	assert.Less(t, rank["cand-a"], rank["cand-c"])
	assert.Less(t, rank["cand-b"], rank["cand-c"])

	for _, r := range results {
		assert.GreaterOrEqual(t, r.Score, 0.0)
		assert.LessOrEqual(t, r.Score, 1.0)
	}
}

func TestEngineMissingSectionContributesZero(t *testing.T) {
	jobText := "backend engineer"
	embedder := newFakeEmbedder(map[string][]float64{jobText: {1, 0}})
	idx := buildIndex(t, []types.SectionVector{
		{CandidateID: "cand-a", Section: types.SectionSkills, Vector: []float64{1, 0}},
		{CandidateID: "cand-a", Section: types.SectionExperience, Vector: []float64{1, 0}},
		{CandidateID: "cand-b", Section: types.SectionSkills, Vector: []float64{0.8, 0.6}},
		// cand-d 只有education，不在任何加权章节中
		{CandidateID: "cand-d", Section: types.SectionEducation, Vector: []float64{1, 0}},
	})
	engine := NewEngine(embedder, idx, testScorerConfig())

	results, err := engine.Score(context.Background(), Request{
		JobText: jobText,
		SectionWeights: map[types.SectionName]float64{
			types.SectionSkills:     0.6,
			types.SectionExperience: 0.4,
		},
		Aggregation: AggSumNorm,
	})
	require.NoError(t, err)

	// cand-d 在所有加权章节都缺失，必须被整体排除
	require.Len(t, results, 2)
	for _, r := range results {
		assert.NotEqual(t, "cand-d", r.CandidateID)
	}

	// cand-b 缺失experience章节，但仍出现在结果中且该章节贡献为0
	var candB *types.ScoringResult
	for i := range results {
		if results[i].CandidateID == "cand-b" {
			candB = &results[i]
		}
	}
	require.NotNil(t, candB)
	assert.Zero(t, candB.Breakdown[types.SectionExperience])
}

func TestEngineDeterministicScoring(t *testing.T) {
	jobText := "data engineer"
	embedder := newFakeEmbedder(map[string][]float64{jobText: {0.7, 0.3}})
	idx := buildIndex(t, []types.SectionVector{
		{CandidateID: "cand-a", Section: types.SectionSkills, Vector: []float64{1, 0}},
		{CandidateID: "cand-b", Section: types.SectionSkills, Vector: []float64{0.5, 0.5}},
		{CandidateID: "cand-c", Section: types.SectionSkills, Vector: []float64{0, 1}},
	})
	engine := NewEngine(embedder, idx, testScorerConfig())

	req := Request{JobText: jobText, Aggregation: AggSumNorm}
	first, err := engine.Score(context.Background(), req)
	require.NoError(t, err)
	second, err := engine.Score(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestEngineTopKTruncation(t *testing.T) {
	jobText := "engineer"
	embedder := newFakeEmbedder(map[string][]float64{jobText: {1, 0}})
	idx := buildIndex(t, []types.SectionVector{
		{CandidateID: "cand-a", Section: types.SectionSkills, Vector: []float64{1, 0}},
		{CandidateID: "cand-b", Section: types.SectionSkills, Vector: []float64{0.9, 0.1}},
		{CandidateID: "cand-c", Section: types.SectionSkills, Vector: []float64{0.8, 0.2}},
	})
	engine := NewEngine(embedder, idx, testScorerConfig())

	results, err := engine.Score(context.Background(), Request{
		JobText:     jobText,
		TopK:        2,
		Aggregation: AggSumNorm,
		SectionWeights: map[types.SectionName]float64{
			types.SectionSkills: 1.0,
		},
	})
	require.NoError(t, err)
	assert.Len(t, results, 2)
	assert.Equal(t, "cand-a", results[0].CandidateID)
}

func TestEngineNormalizationScope(t *testing.T) {
	jobText := "engineer"
	vectors := []types.SectionVector{
		{CandidateID: "cand-a", Section: types.SectionSkills, Vector: []float64{1, 0}},
		{CandidateID: "cand-b", Section: types.SectionSkills, Vector: []float64{0.9, 0.4}},
		{CandidateID: "cand-c", Section: types.SectionSkills, Vector: []float64{0, 1}},
	}
	weights := map[types.SectionName]float64{types.SectionSkills: 1.0}

	// pool范围：topK×oversample=2，检索池只有前两名，第二名归一化为0
	poolCfg := testScorerConfig()
	poolCfg.OversampleFactor = 1
	embedder := newFakeEmbedder(map[string][]float64{jobText: {1, 0}})
	engine := NewEngine(embedder, buildIndex(t, vectors), poolCfg)
	results, err := engine.Score(context.Background(), Request{
		JobText: jobText, TopK: 2, SectionWeights: weights, Aggregation: AggSumNorm,
	})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Zero(t, results[1].Score)

	// corpus范围：归一化覆盖全部三个候选，第二名得分大于0
	corpusCfg := poolCfg
	corpusCfg.Normalization = config.NormalizationCorpus
	engine = NewEngine(embedder, buildIndex(t, vectors), corpusCfg)
	results, err = engine.Score(context.Background(), Request{
		JobText: jobText, TopK: 2, SectionWeights: weights, Aggregation: AggSumNorm,
	})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Greater(t, results[1].Score, 0.0)
}

func TestEngineMaxAggregation(t *testing.T) {
	jobText := "engineer"
	embedder := newFakeEmbedder(map[string][]float64{jobText: {1, 0}})
	idx := buildIndex(t, []types.SectionVector{
		{CandidateID: "cand-a", Section: types.SectionSkills, Vector: []float64{1, 0}},
		{CandidateID: "cand-a", Section: types.SectionExperience, Vector: []float64{0, 1}},
		{CandidateID: "cand-b", Section: types.SectionSkills, Vector: []float64{0, 1}},
		{CandidateID: "cand-b", Section: types.SectionExperience, Vector: []float64{1, 0}},
	})
	engine := NewEngine(embedder, idx, testScorerConfig())

	results, err := engine.Score(context.Background(), Request{
		JobText: jobText,
		SectionWeights: map[types.SectionName]float64{
			types.SectionSkills:     0.6,
			types.SectionExperience: 0.4,
		},
		Aggregation: AggMax,
	})
	require.NoError(t, err)
	require.Len(t, results, 2)

	// cand-a 在权重最高的skills章节上最优，max聚合下应得满分
	assert.Equal(t, "cand-a", results[0].CandidateID)
	assert.InDelta(t, 1.0, results[0].Score, 1e-9)
	// cand-b 最优的是experience章节：0.4×1.0/0.6
	assert.InDelta(t, 0.4/0.6, results[1].Score, 1e-9)
}

func TestMinMaxNormalize(t *testing.T) {
	hits := []index.SearchHit{
		{CandidateID: "a", Score: 0.9},
		{CandidateID: "b", Score: 0.5},
		{CandidateID: "c", Score: 0.1},
	}
	norm := minMaxNormalize(hits)
	assert.InDelta(t, 1.0, norm["a"], 1e-9)
	assert.InDelta(t, 0.5, norm["b"], 1e-9)
	assert.InDelta(t, 0.0, norm["c"], 1e-9)

	// 池内得分一致时全部记为1.0
	uniform := minMaxNormalize([]index.SearchHit{
		{CandidateID: "a", Score: 0.7},
		{CandidateID: "b", Score: 0.7},
	})
	assert.Equal(t, 1.0, uniform["a"])
	assert.Equal(t, 1.0, uniform["b"])

	assert.Empty(t, minMaxNormalize(nil))
}
