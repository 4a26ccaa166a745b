package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/cloudwego/hertz/pkg/app/server"
	glog "github.com/cloudwego/hertz/pkg/common/hlog"
	hertzadapter "github.com/hertz-contrib/logger/zerolog"
	"github.com/spf13/pflag"

	"candidate-scorer-go/internal/api/handler"
	"candidate-scorer-go/internal/api/router"
	"candidate-scorer-go/internal/config"
	"candidate-scorer-go/internal/logger"
	"candidate-scorer-go/internal/parser"
	"candidate-scorer-go/internal/scorer"
)

// @title Candidate Scorer API
// @version 1.0
// @description 根据岗位描述对候选人档案做语义相似度打分的服务
// @BasePath /api/v1/scorer
func main() {
	var configPath string
	pflag.StringVarP(&configPath, "config", "c", "", "Path to config file")
	pflag.Parse()

	// 1. 加载配置文件
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("加载配置文件失败")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("配置校验失败")
	}

	// 2. 初始化日志系统，并让Hertz的日志经由zerolog输出
	logger.Init(logger.Config{
		Level:        cfg.Logger.Level,
		Format:       cfg.Logger.Format,
		TimeFormat:   cfg.Logger.TimeFormat,
		ReportCaller: cfg.Logger.ReportCaller,
	})
	glog.SetLogger(hertzadapter.From(logger.Logger))

	// 3. 初始化Embedding后端
	embedder, err := parser.NewAliyunEmbedder(cfg.Embedding.APIKey, cfg.Embedding)
	if err != nil {
		logger.Fatal().Err(err).Msg("初始化Embedder失败")
	}
	logger.Info().
		Str("model", cfg.Embedding.Model).
		Int("dimensions", embedder.GetDimensions()).
		Msg("Embedder初始化成功")

	// 4. 初始化打分服务
	service, err := scorer.NewService(embedder, cfg.Scorer)
	if err != nil {
		logger.Fatal().Err(err).Msg("初始化打分服务失败")
	}

	// 5. 创建HTTP服务器并注册路由
	h := server.Default(
		server.WithHostPorts(cfg.Server.Address),
	)
	router.RegisterRoutes(h, handler.NewScorerHandler(service))

	// 6. 监听退出信号，优雅关闭
	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		logger.Info().Msg("收到退出信号，正在关闭服务器")
		if err := h.Shutdown(context.Background()); err != nil {
			logger.Error().Err(err).Msg("服务器关闭失败")
		}
	}()

	logger.Info().Str("address", cfg.Server.Address).Msg("候选人打分服务启动")
	h.Spin()
}
