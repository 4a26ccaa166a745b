package scorer

import (
	"errors"
	"fmt"
)

// 定义基础错误类型
var (
	// ErrInvalidInput 请求参数无效（空JD、负权重等），在访问索引前被拒绝
	ErrInvalidInput = errors.New("请求参数无效")
	// ErrDataInvalid 数据错误（章节内向量维度不一致、入库后无可用候选人）
	ErrDataInvalid = errors.New("数据无效")
	// ErrBackendUnavailable Embedding后端不可用或超时，重试耗尽后才对外暴露
	ErrBackendUnavailable = errors.New("embedding后端不可用")
)

// ScoreError 包含详细错误信息的自定义错误
type ScoreError struct {
	Op      string
	BaseErr error
	Detail  string
}

func (e *ScoreError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s (操作:%s): %s", e.BaseErr, e.Op, e.Detail)
	}
	return fmt.Sprintf("%s (操作:%s)", e.BaseErr, e.Op)
}

func (e *ScoreError) Unwrap() error {
	return e.BaseErr
}

// Is 实现 errors.Is 接口以支持错误比较
func (e *ScoreError) Is(target error) bool {
	return errors.Is(e.BaseErr, target)
}

// 错误构造函数
func NewInputError(op, detail string) error {
	return &ScoreError{
		Op:      op,
		BaseErr: ErrInvalidInput,
		Detail:  detail,
	}
}

func NewDataError(op, detail string) error {
	return &ScoreError{
		Op:      op,
		BaseErr: ErrDataInvalid,
		Detail:  detail,
	}
}

func NewBackendError(op, detail string) error {
	return &ScoreError{
		Op:      op,
		BaseErr: ErrBackendUnavailable,
		Detail:  detail,
	}
}
