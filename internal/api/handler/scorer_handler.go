package handler

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
	"github.com/go-playground/validator/v10"

	"candidate-scorer-go/internal/logger"
	"candidate-scorer-go/internal/scorer"
	"candidate-scorer-go/internal/types"
)

// ScorerHandler 负责处理候选人打分相关的HTTP请求
type ScorerHandler struct {
	service  *scorer.Service
	validate *validator.Validate
}

// NewScorerHandler 创建一个新的 ScorerHandler 实例
func NewScorerHandler(service *scorer.Service) *ScorerHandler {
	return &ScorerHandler{
		service:  service,
		validate: validator.New(),
	}
}

// LoadProfilesRequest 档案入库请求
type LoadProfilesRequest struct {
	JSONFolder string `json:"json_folder" validate:"required"`
	ExpAgg     string `json:"exp_agg" validate:"omitempty,oneof=sum_norm max"`
	Reset      *bool  `json:"reset"` // 缺省为true
}

// LoadProfilesResponse 档案入库响应
type LoadProfilesResponse struct {
	IndexedProfiles int    `json:"indexed_profiles"`
	Skipped         int    `json:"skipped"`
	Generation      string `json:"generation"`
}

// ScoreRequest 打分请求
type ScoreRequest struct {
	JobText        string             `json:"job_text" validate:"required"`
	TopKSearch     int                `json:"top_k_search" validate:"omitempty,gte=1,lte=5000"`
	SectionWeights map[string]float64 `json:"section_weights" validate:"omitempty,dive,gte=0"`
	ExpAgg         string             `json:"exp_agg" validate:"omitempty,oneof=sum_norm max"`
}

// ScoreResponse 打分响应
type ScoreResponse struct {
	Results         []types.ScoringResult `json:"results"`
	IndexedProfiles int                   `json:"indexed_profiles"`
}

// HandleHealth 处理健康检查请求
// GET /api/v1/scorer/health
func (h *ScorerHandler) HandleHealth(ctx context.Context, c *app.RequestContext) {
	status := h.service.Health()
	c.JSON(consts.StatusOK, map[string]interface{}{
		"status":          status.Status,
		"generation":      status.Generation,
		"candidate_count": status.CandidateCount,
	})
}

// HandleLoadProfiles 处理档案入库请求
// POST /api/v1/scorer/load_profiles
func (h *ScorerHandler) HandleLoadProfiles(ctx context.Context, c *app.RequestContext) {
	// 1. 解析并校验请求
	var req LoadProfilesRequest
	if !h.bindJSON(c, &req) {
		return
	}

	reset := true
	if req.Reset != nil {
		reset = *req.Reset
	}

	// 2. 执行入库并发布新一代索引
	summary, err := h.service.LoadProfiles(ctx, req.JSONFolder, reset, req.ExpAgg)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(consts.StatusOK, LoadProfilesResponse{
		IndexedProfiles: summary.IndexedProfiles,
		Skipped:         summary.Skipped,
		Generation:      summary.Generation,
	})
}

// HandleScore 处理打分请求
// POST /api/v1/scorer/score
func (h *ScorerHandler) HandleScore(ctx context.Context, c *app.RequestContext) {
	// 1. 解析并校验请求
	var req ScoreRequest
	if !h.bindJSON(c, &req) {
		return
	}

	var weights map[types.SectionName]float64
	if len(req.SectionWeights) > 0 {
		weights = make(map[types.SectionName]float64, len(req.SectionWeights))
		for name, w := range req.SectionWeights {
			weights[types.SectionName(name)] = w
		}
	}

	// 2. 对当前发布代打分
	results, err := h.service.Score(ctx, req.JobText, req.TopKSearch, weights, req.ExpAgg)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(consts.StatusOK, ScoreResponse{
		Results:         results,
		IndexedProfiles: h.service.IndexedProfiles(),
	})
}

// bindJSON 读取请求体、反序列化并用validator校验
func (h *ScorerHandler) bindJSON(c *app.RequestContext, req interface{}) bool {
	body, err := c.Body()
	if err != nil {
		c.JSON(consts.StatusBadRequest, map[string]string{"error": "读取请求体失败"})
		return false
	}
	if err := json.Unmarshal(body, req); err != nil {
		c.JSON(consts.StatusBadRequest, map[string]string{"error": "请求体JSON格式无效"})
		return false
	}
	if err := h.validate.Struct(req); err != nil {
		c.JSON(consts.StatusBadRequest, map[string]string{"error": err.Error()})
		return false
	}
	return true
}

// writeError 按错误类型映射HTTP状态码
// 输入/数据错误 -> 400，后端不可用 -> 502，其他 -> 500。
func (h *ScorerHandler) writeError(c *app.RequestContext, err error) {
	status := consts.StatusInternalServerError
	switch {
	case errors.Is(err, scorer.ErrInvalidInput), errors.Is(err, scorer.ErrDataInvalid):
		status = consts.StatusBadRequest
	case errors.Is(err, scorer.ErrBackendUnavailable):
		status = consts.StatusBadGateway
	}

	logger.Error().Err(err).Int("status", status).Msg("请求处理失败")
	c.JSON(status, map[string]string{"error": err.Error()})
}
