package scorer

import (
	"context"
)

//
// 向量嵌入相关接口
//

// TextEmbedder 文本向量化接口
// 引擎只通过这个窄接口依赖外部embedding能力；实现必须可并发调用，
// 同一调用上下文内返回固定维度的向量。
type TextEmbedder interface {
	// EmbedStrings 将文本转换为向量表示
	EmbedStrings(ctx context.Context, texts []string) ([][]float64, error)

	// GetDimensions 返回嵌入向量的维度
	GetDimensions() int
}
