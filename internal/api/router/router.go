package router

import (
	"github.com/cloudwego/hertz/pkg/app/server"

	"candidate-scorer-go/internal/api/handler"
)

// RegisterRoutes 注册 API 路由
func RegisterRoutes(h *server.Hertz, scorerHandler *handler.ScorerHandler) {
	api := h.Group("/api/v1/scorer")

	api.GET("/health", scorerHandler.HandleHealth)
	api.POST("/load_profiles", scorerHandler.HandleLoadProfiles)
	api.POST("/score", scorerHandler.HandleScore)
}
