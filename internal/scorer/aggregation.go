package scorer

import (
	"fmt"

	"candidate-scorer-go/internal/types"
)

// AggregationMode 综合得分的聚合模式，封闭枚举
type AggregationMode int

const (
	// AggSumNorm 加权和除以权重和
	AggSumNorm AggregationMode = iota
	// AggMax 加权最大值除以最大权重
	AggMax
)

// String 返回聚合模式的外部名称
func (m AggregationMode) String() string {
	switch m {
	case AggSumNorm:
		return "sum_norm"
	case AggMax:
		return "max"
	default:
		return fmt.Sprintf("aggregation(%d)", int(m))
	}
}

// ParseAggregationMode 解析外部传入的聚合模式名称
func ParseAggregationMode(s string) (AggregationMode, error) {
	switch s {
	case "", "sum_norm":
		return AggSumNorm, nil
	case "max":
		return AggMax, nil
	default:
		return AggSumNorm, NewInputError("parse_aggregation", fmt.Sprintf("未知的聚合模式: %q (支持 sum_norm, max)", s))
	}
}

// aggregatorFunc 聚合函数：输入各章节归一化得分与权重，输出综合得分
type aggregatorFunc func(sectionScores map[types.SectionName]float64, weights map[types.SectionName]float64) float64

// aggregators 聚合模式的完整函数表，新增模式必须在此注册
var aggregators = map[AggregationMode]aggregatorFunc{
	AggSumNorm: aggregateSumNorm,
	AggMax:     aggregateMax,
}

// aggregateSumNorm Σ(weight_s × score_s) / Σ(weight_s)，截断到 [0,1]
func aggregateSumNorm(sectionScores map[types.SectionName]float64, weights map[types.SectionName]float64) float64 {
	var weightSum, total float64
	for section, w := range weights {
		if w <= 0 {
			continue
		}
		weightSum += w
		total += w * sectionScores[section]
	}
	if weightSum == 0 {
		return 0
	}
	return clamp01(total / weightSum)
}

// aggregateMax max_s(weight_s × score_s) / max_s(weight_s)
func aggregateMax(sectionScores map[types.SectionName]float64, weights map[types.SectionName]float64) float64 {
	var maxWeighted, maxWeight float64
	for section, w := range weights {
		if w <= 0 {
			continue
		}
		if w > maxWeight {
			maxWeight = w
		}
		if weighted := w * sectionScores[section]; weighted > maxWeighted {
			maxWeighted = weighted
		}
	}
	if maxWeight == 0 {
		return 0
	}
	return clamp01(maxWeighted / maxWeight)
}

// clamp01 将得分截断到 [0,1]
func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
