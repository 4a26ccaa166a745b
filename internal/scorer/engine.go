package scorer

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"candidate-scorer-go/internal/config"
	"candidate-scorer-go/internal/index"
	"candidate-scorer-go/internal/logger"
	"candidate-scorer-go/internal/types"
)

// Request 一次打分请求，聚合模式已在边界处解析为封闭枚举
type Request struct {
	// 岗位描述文本
	JobText string
	// 返回的候选人数量上限
	TopK int
	// 章节权重，必须非负；只有正权重的章节参与检索与聚合
	SectionWeights map[types.SectionName]float64
	// 综合得分聚合模式
	Aggregation AggregationMode
}

// Engine 打分引擎
// 负责JD嵌入、各章节相似度检索、跨候选人归一化与加权聚合。
// 打分是只读操作，多个请求可以完全并行。
type Engine struct {
	embedder TextEmbedder
	idx      *index.SectionIndex
	cfg      config.ScorerConfig
}

// NewEngine 创建打分引擎
func NewEngine(embedder TextEmbedder, idx *index.SectionIndex, cfg config.ScorerConfig) *Engine {
	return &Engine{
		embedder: embedder,
		idx:      idx,
		cfg:      cfg,
	}
}

// Score 对当前已发布的索引代执行打分
//
// 流程：
//  1. 校验请求，空JD在访问索引前即被拒绝
//  2. 对JD做一次嵌入（所有加权章节复用同一查询向量），失败时有界重试
//  3. 每个加权章节检索 topK×oversample 个候选（过采样补偿章节间候选不重叠）
//  4. 对每个章节的检索池做min-max归一化，未检索到的候选贡献为0
//  5. 按聚合模式合成综合得分，完全未被任何章节检索到的候选被排除
//  6. 综合得分降序、候选ID升序排序，取前topK
func (e *Engine) Score(ctx context.Context, req Request) ([]types.ScoringResult, error) {
	weightedSections, err := e.validate(&req)
	if err != nil {
		return nil, err
	}

	generation := e.idx.Snapshot()
	if generation.CandidateCount() == 0 {
		// 空索引返回空结果而不是错误
		return []types.ScoringResult{}, nil
	}

	queryVector, err := e.embedJobText(ctx, req.JobText)
	if err != nil {
		return nil, err
	}

	// 每章节检索并归一化
	rawScores := make(map[types.SectionName]map[string]float64, len(weightedSections))
	union := make(map[string]struct{})
	for _, section := range weightedSections {
		k := req.TopK * e.cfg.OversampleFactor
		if e.cfg.Normalization == config.NormalizationCorpus {
			// 全量检索，使归一化覆盖整个语料
			k = generation.SectionSize(section)
		}
		hits := generation.Query(section, queryVector, k)
		rawScores[section] = minMaxNormalize(hits)
		for _, hit := range hits {
			union[hit.CandidateID] = struct{}{}
		}
	}

	aggregate := aggregators[req.Aggregation]
	results := make([]types.ScoringResult, 0, len(union))
	for candidateID := range union {
		breakdown := make(map[types.SectionName]float64, len(weightedSections))
		for _, section := range weightedSections {
			breakdown[section] = rawScores[section][candidateID]
		}
		results = append(results, types.ScoringResult{
			CandidateID: candidateID,
			Score:       aggregate(breakdown, req.SectionWeights),
			Breakdown:   breakdown,
		})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].CandidateID < results[j].CandidateID
	})
	if req.TopK < len(results) {
		results = results[:req.TopK]
	}

	logger.Debug().
		Str("generation", generation.ID()).
		Int("candidates", generation.CandidateCount()).
		Int("returned", len(results)).
		Str("aggregation", req.Aggregation.String()).
		Msg("打分完成")
	return results, nil
}

// validate 校验请求并补默认值，返回按名称排序的加权章节列表
func (e *Engine) validate(req *Request) ([]types.SectionName, error) {
	if strings.TrimSpace(req.JobText) == "" {
		return nil, NewInputError("score", "岗位描述不能为空")
	}
	if req.TopK <= 0 {
		req.TopK = e.cfg.DefaultTopK
	}
	if len(req.SectionWeights) == 0 {
		req.SectionWeights = e.defaultWeights()
	}
	if _, ok := aggregators[req.Aggregation]; !ok {
		return nil, NewInputError("score", fmt.Sprintf("未知的聚合模式: %v", req.Aggregation))
	}

	var weighted []types.SectionName
	for section, w := range req.SectionWeights {
		if w < 0 {
			return nil, NewInputError("score", fmt.Sprintf("章节 %s 的权重不能为负数: %v", section, w))
		}
		if w > 0 {
			weighted = append(weighted, section)
		}
	}
	if len(weighted) == 0 {
		return nil, NewInputError("score", "至少一个章节的权重必须为正")
	}
	// 章节遍历顺序固定，保证结果可复现
	sort.Slice(weighted, func(i, j int) bool { return weighted[i] < weighted[j] })
	return weighted, nil
}

// defaultWeights 返回配置的默认权重，未配置时使用内置默认值
func (e *Engine) defaultWeights() map[types.SectionName]float64 {
	if len(e.cfg.DefaultWeights) == 0 {
		weights := make(map[types.SectionName]float64, len(types.DefaultSectionWeights))
		for section, w := range types.DefaultSectionWeights {
			weights[section] = w
		}
		return weights
	}
	weights := make(map[types.SectionName]float64, len(e.cfg.DefaultWeights))
	for name, w := range e.cfg.DefaultWeights {
		weights[types.SectionName(name)] = w
	}
	return weights
}

// embedJobText 对JD做嵌入，失败时按指数退避重试
// 重试耗尽后以BackendError对外暴露。
func (e *Engine) embedJobText(ctx context.Context, jobText string) ([]float64, error) {
	backoff := time.Duration(e.cfg.RetryBackoffMS) * time.Millisecond
	var lastErr error

	for attempt := 0; attempt <= e.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, NewBackendError("embed_job", ctx.Err().Error())
			case <-time.After(backoff << uint(attempt-1)):
			}
			logger.Warn().Int("attempt", attempt).Err(lastErr).Msg("重试JD嵌入")
		}

		vectors, err := e.embedder.EmbedStrings(ctx, []string{jobText})
		if err == nil && len(vectors) == 1 && len(vectors[0]) > 0 {
			return vectors[0], nil
		}
		if err == nil {
			err = fmt.Errorf("后端返回了 %d 个向量，期望 1 个", len(vectors))
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
	}
	return nil, NewBackendError("embed_job", lastErr.Error())
}

// minMaxNormalize 把检索池内的原始相似度归一化到 [0,1]
// 池内得分相同（含单元素池）时全部记为1.0，它们在该章节上同为最优。
func minMaxNormalize(hits []index.SearchHit) map[string]float64 {
	if len(hits) == 0 {
		return map[string]float64{}
	}

	minScore, maxScore := hits[0].Score, hits[0].Score
	for _, hit := range hits[1:] {
		if hit.Score < minScore {
			minScore = hit.Score
		}
		if hit.Score > maxScore {
			maxScore = hit.Score
		}
	}

	normalized := make(map[string]float64, len(hits))
	span := maxScore - minScore
	for _, hit := range hits {
		if span == 0 {
			normalized[hit.CandidateID] = 1.0
			continue
		}
		normalized[hit.CandidateID] = (hit.Score - minScore) / span
	}
	return normalized
}
