package scorer

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"candidate-scorer-go/internal/config"
	"candidate-scorer-go/internal/index"
	"candidate-scorer-go/internal/ingest"
	"candidate-scorer-go/internal/logger"
	"candidate-scorer-go/internal/types"
)

// LoadSummary 一次档案入库的结果摘要
type LoadSummary struct {
	// 当前发布代中的候选人数量
	IndexedProfiles int
	// 被跳过的非法文件数，属于警告而非错误
	Skipped int
	// 新发布的代标识
	Generation string
}

// HealthStatus 服务健康状态
type HealthStatus struct {
	Status         string
	Generation     string
	CandidateCount int
}

// Service 候选人打分服务门面
// 对外暴露 health / load_profiles / score 三个操作。
// 入库与打分遵循单写者多读者约束：入库持有loadMu独占进行中的代，
// 并发的打分请求始终读取最近发布的一代。
type Service struct {
	cfg      config.ScorerConfig
	ingestor *ingest.ProfileIngestor
	embedder TextEmbedder
	idx      *index.SectionIndex
	engine   *Engine

	loadMu sync.Mutex // 序列化入库；打分不取该锁，始终读已发布代

	aggMu      sync.RWMutex
	defaultAgg AggregationMode
}

// NewService 创建打分服务
func NewService(embedder TextEmbedder, cfg config.ScorerConfig) (*Service, error) {
	if embedder == nil {
		return nil, fmt.Errorf("embedder不能为空")
	}

	defaultAgg, err := ParseAggregationMode(cfg.DefaultAggregation)
	if err != nil {
		return nil, err
	}

	idx := index.NewSectionIndex()
	return &Service{
		cfg:        cfg,
		ingestor:   ingest.NewProfileIngestor(),
		embedder:   embedder,
		idx:        idx,
		engine:     NewEngine(embedder, idx, cfg),
		defaultAgg: defaultAgg,
	}, nil
}

// Health 返回服务状态与当前发布代的信息
func (s *Service) Health() HealthStatus {
	generation := s.idx.Snapshot()
	return HealthStatus{
		Status:         "ok",
		Generation:     generation.ID(),
		CandidateCount: generation.CandidateCount(),
	}
}

// embedTask 一条待嵌入的(候选人,章节)文本
type embedTask struct {
	candidateID string
	section     types.SectionName
	text        string
}

// LoadProfiles 摄取目录下的候选人档案，嵌入所有章节并发布新的索引代
//
// reset=true 丢弃上一代重建；reset=false 在已发布代的内容上追加。
// 单个章节嵌入失败只把该章节标记为缺失；失败比例超过阈值时整批中止，
// 上一代保持发布状态（不做部分替换）。
func (s *Service) LoadProfiles(ctx context.Context, dir string, reset bool, aggName string) (*LoadSummary, error) {
	s.loadMu.Lock()
	defer s.loadMu.Unlock()

	if aggName != "" {
		mode, err := ParseAggregationMode(aggName)
		if err != nil {
			return nil, err
		}
		s.aggMu.Lock()
		s.defaultAgg = mode
		s.aggMu.Unlock()
	}

	ingested, err := s.ingestor.IngestDirectory(ctx, dir)
	if err != nil {
		return nil, NewInputError("load_profiles", err.Error())
	}
	if len(ingested.Loaded) == 0 {
		return nil, NewDataError("load_profiles", fmt.Sprintf("目录 %s 中没有可用的候选人档案 (跳过 %d 个文件)", dir, len(ingested.Skipped)))
	}

	tasks := buildEmbedTasks(ingested.Loaded)
	if len(tasks) == 0 {
		return nil, NewDataError("load_profiles", "候选人档案中没有任何可嵌入的章节文本")
	}

	vectors, failed := s.embedSections(ctx, tasks)
	if ctx.Err() != nil {
		return nil, NewBackendError("load_profiles", ctx.Err().Error())
	}

	failureRate := float64(failed) / float64(len(tasks))
	if failureRate > s.cfg.FailureThreshold {
		// 上一代保持发布状态，不做部分替换
		return nil, NewBackendError("load_profiles",
			fmt.Sprintf("嵌入失败比例 %.2f 超过阈值 %.2f，中止入库", failureRate, s.cfg.FailureThreshold))
	}

	s.idx.Begin(reset)
	for i, task := range tasks {
		if vectors[i] == nil {
			continue // 嵌入失败的章节按缺失处理
		}
		if err := s.idx.Add(task.candidateID, task.section, vectors[i]); err != nil {
			s.idx.Abort()
			return nil, NewDataError("load_profiles", err.Error())
		}
	}

	generationID, err := s.idx.Publish()
	if err != nil {
		return nil, NewDataError("load_profiles", err.Error())
	}

	generation := s.idx.Snapshot()
	if generation.CandidateCount() == 0 {
		return nil, NewDataError("load_profiles", "入库后没有任何候选人被索引")
	}

	logger.Info().
		Str("generation", generationID).
		Int("candidates", generation.CandidateCount()).
		Int("sections_embedded", len(tasks)-int(failed)).
		Int64("sections_failed", failed).
		Int("files_skipped", len(ingested.Skipped)).
		Bool("reset", reset).
		Msg("档案入库完成，新一代索引已发布")

	return &LoadSummary{
		IndexedProfiles: generation.CandidateCount(),
		Skipped:         len(ingested.Skipped),
		Generation:      generationID,
	}, nil
}

// Score 对当前发布代执行打分
// aggName为空时使用最近一次load_profiles设置的默认聚合模式。
func (s *Service) Score(ctx context.Context, jobText string, topK int, weights map[types.SectionName]float64, aggName string) ([]types.ScoringResult, error) {
	mode := s.defaultAggregation()
	if aggName != "" {
		parsed, err := ParseAggregationMode(aggName)
		if err != nil {
			return nil, err
		}
		mode = parsed
	}

	return s.engine.Score(ctx, Request{
		JobText:        jobText,
		TopK:           topK,
		SectionWeights: weights,
		Aggregation:    mode,
	})
}

// IndexedProfiles 返回当前发布代中的候选人数量
func (s *Service) IndexedProfiles() int {
	return s.idx.Snapshot().CandidateCount()
}

func (s *Service) defaultAggregation() AggregationMode {
	s.aggMu.RLock()
	defer s.aggMu.RUnlock()
	return s.defaultAgg
}

// buildEmbedTasks 把候选人记录展开为(候选人,章节)嵌入任务
// 顺序固定：候选人按摄取顺序，章节按名称排序。
func buildEmbedTasks(records []*types.CandidateRecord) []embedTask {
	var tasks []embedTask
	for _, record := range records {
		sections := make([]types.SectionName, 0, len(record.Sections))
		for section := range record.Sections {
			sections = append(sections, section)
		}
		sort.Slice(sections, func(i, j int) bool { return sections[i] < sections[j] })
		for _, section := range sections {
			if text := record.Sections[section]; text != "" {
				tasks = append(tasks, embedTask{
					candidateID: record.ID,
					section:     section,
					text:        text,
				})
			}
		}
	}
	return tasks
}

// embedSections 并发嵌入所有章节文本，返回与tasks对齐的向量切片
// 并发数受配置限制以保护embedding后端；单个任务失败记入failed并留空向量。
func (s *Service) embedSections(ctx context.Context, tasks []embedTask) ([][]float64, int64) {
	vectors := make([][]float64, len(tasks))
	var failed int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Concurrency)
	for i := range tasks {
		i := i
		g.Go(func() error {
			result, err := s.embedder.EmbedStrings(gctx, []string{tasks[i].text})
			if err != nil || len(result) != 1 || len(result[0]) == 0 {
				atomic.AddInt64(&failed, 1)
				logger.Warn().
					Err(err).
					Str("candidate", tasks[i].candidateID).
					Str("section", string(tasks[i].section)).
					Msg("章节嵌入失败，该章节按缺失处理")
				return nil // 单个失败不终止整批
			}
			vectors[i] = result[0]
			return nil
		})
	}
	// 任务自身不返回错误，Wait仅用于等待全部完成
	_ = g.Wait()

	return vectors, failed
}
