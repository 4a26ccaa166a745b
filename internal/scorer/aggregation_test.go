package scorer

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"candidate-scorer-go/internal/types"
)

func TestParseAggregationMode(t *testing.T) {
	mode, err := ParseAggregationMode("sum_norm")
	require.NoError(t, err)
	assert.Equal(t, AggSumNorm, mode)

	mode, err = ParseAggregationMode("max")
	require.NoError(t, err)
	assert.Equal(t, AggMax, mode)

	// 空字符串取默认模式
	mode, err = ParseAggregationMode("")
	require.NoError(t, err)
	assert.Equal(t, AggSumNorm, mode)

	_, err = ParseAggregationMode("mean")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidInput))
}

func TestAggregateSumNorm(t *testing.T) {
	scores := map[types.SectionName]float64{
		types.SectionSkills:     1.0,
		types.SectionExperience: 0.5,
	}
	weights := map[types.SectionName]float64{
		types.SectionSkills:     0.6,
		types.SectionExperience: 0.4,
	}

	// (0.6*1.0 + 0.4*0.5) / 1.0 = 0.8
	assert.InDelta(t, 0.8, aggregateSumNorm(scores, weights), 1e-9)

	// 权重为0的章节不参与
	weights[types.SectionEducation] = 0
	scores[types.SectionEducation] = 1.0
	assert.InDelta(t, 0.8, aggregateSumNorm(scores, weights), 1e-9)

	// 缺失章节贡献0
	weights[types.SectionLanguages] = 1.0
	assert.InDelta(t, 0.4, aggregateSumNorm(scores, weights), 1e-9)

	assert.Zero(t, aggregateSumNorm(scores, map[types.SectionName]float64{}))
}

func TestAggregateMax(t *testing.T) {
	scores := map[types.SectionName]float64{
		types.SectionSkills:     0.5,
		types.SectionExperience: 1.0,
	}
	weights := map[types.SectionName]float64{
		types.SectionSkills:     0.6,
		types.SectionExperience: 0.4,
	}

	// max(0.6*0.5, 0.4*1.0) / 0.6 = 0.4/0.6
	assert.InDelta(t, 0.4/0.6, aggregateMax(scores, weights), 1e-9)

	assert.Zero(t, aggregateMax(scores, map[types.SectionName]float64{}))
}

func TestAggregatorsTableIsExhaustive(t *testing.T) {
	// 每个聚合模式都必须在函数表中注册
	for _, mode := range []AggregationMode{AggSumNorm, AggMax} {
		_, ok := aggregators[mode]
		assert.True(t, ok, "聚合模式 %s 未注册", mode)
	}
}

func TestClamp01(t *testing.T) {
	assert.Equal(t, 0.0, clamp01(-0.1))
	assert.Equal(t, 1.0, clamp01(1.1))
	assert.Equal(t, 0.5, clamp01(0.5))
}
