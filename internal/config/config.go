package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config 应用程序配置
type Config struct {
	// 服务器配置
	Server ServerConfig `yaml:"server"`

	// Embedding后端配置
	Embedding EmbeddingConfig `yaml:"embedding"`

	// 打分引擎配置
	Scorer ScorerConfig `yaml:"scorer"`

	// 日志配置
	Logger LoggerConfig `yaml:"logger"`
}

// ServerConfig 定义服务器配置
type ServerConfig struct {
	Address string `yaml:"address"` // 例如 ":8088" or "0.0.0.0:8088"
}

// EmbeddingConfig Embedding服务配置（OpenAI兼容端点）
type EmbeddingConfig struct {
	APIKey         string `yaml:"api_key,omitempty"` // 可由环境变量 ALIYUN_API_KEY 覆盖
	Model          string `yaml:"model"`
	Dimensions     int    `yaml:"dimensions"`
	BaseURL        string `yaml:"base_url"`
	TimeoutSeconds int    `yaml:"timeout_seconds"` // HTTP客户端超时(秒)
	QPM            int    `yaml:"qpm"`             // 每分钟请求数限制，0表示不限流
}

// ScorerConfig 打分引擎配置
type ScorerConfig struct {
	DefaultTopK        int     `yaml:"default_top_k"`        // 每章节默认检索数量
	OversampleFactor   int     `yaml:"oversample_factor"`    // 检索过采样倍数
	MaxRetries         int     `yaml:"max_retries"`          // JD嵌入失败的最大重试次数
	RetryBackoffMS     int     `yaml:"retry_backoff_ms"`     // 重试退避基准(毫秒)，按次数指数增长
	Concurrency        int     `yaml:"concurrency"`          // 入库嵌入的并发上限
	FailureThreshold   float64 `yaml:"failure_threshold"`    // 嵌入失败比例阈值，超过则整批入库中止
	Normalization      string  `yaml:"normalization"`        // 相似度归一化范围: "pool" 或 "corpus"
	DefaultAggregation string  `yaml:"default_aggregation"`  // 默认聚合模式: "sum_norm" 或 "max"
	DefaultWeights     map[string]float64 `yaml:"default_weights"` // 默认章节权重
}

// LoggerConfig 日志配置
type LoggerConfig struct {
	Level        string `yaml:"level"`         // debug, info, warn, error
	Format       string `yaml:"format"`        // json, pretty
	TimeFormat   string `yaml:"time_format"`   // 时间格式
	ReportCaller bool   `yaml:"report_caller"` // 是否报告调用位置
}

// 归一化范围取值
const (
	NormalizationPool   = "pool"   // 只在检索到的候选池内做min-max归一化
	NormalizationCorpus = "corpus" // 对当前代的全部候选做min-max归一化
)

// LoadConfig 从文件加载配置
// configPath为空时使用默认配置，环境变量中的密钥始终优先。
func LoadConfig(configPath string) (*Config, error) {
	config := DefaultConfig()

	if configPath != "" {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("读取配置文件失败: %w", err)
		}
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("解析配置文件失败: %w", err)
		}
	}

	// 从环境变量覆盖配置（如果存在）
	if envKey := os.Getenv("ALIYUN_API_KEY"); envKey != "" {
		config.Embedding.APIKey = envKey
	}
	if envURL := os.Getenv("EMBEDDING_BASE_URL"); envURL != "" {
		config.Embedding.BaseURL = envURL
	}
	if envModel := os.Getenv("EMBEDDING_MODEL"); envModel != "" {
		config.Embedding.Model = envModel
	}

	applyDefaults(config)
	return config, nil
}

// DefaultConfig 创建一个带默认值的配置
func DefaultConfig() *Config {
	config := &Config{}
	applyDefaults(config)
	return config
}

// applyDefaults 为未设置的字段补默认值
func applyDefaults(config *Config) {
	if config.Server.Address == "" {
		config.Server.Address = ":8088"
	}

	if config.Embedding.Model == "" {
		config.Embedding.Model = "text-embedding-v3"
	}
	if config.Embedding.Dimensions == 0 {
		config.Embedding.Dimensions = 1024
	}
	if config.Embedding.BaseURL == "" {
		config.Embedding.BaseURL = "https://dashscope.aliyuncs.com/compatible-mode/v1/embeddings"
	}
	if config.Embedding.TimeoutSeconds == 0 {
		config.Embedding.TimeoutSeconds = 30
	}

	if config.Scorer.DefaultTopK == 0 {
		config.Scorer.DefaultTopK = 200
	}
	if config.Scorer.OversampleFactor == 0 {
		config.Scorer.OversampleFactor = 4
	}
	if config.Scorer.MaxRetries == 0 {
		config.Scorer.MaxRetries = 3
	}
	if config.Scorer.RetryBackoffMS == 0 {
		config.Scorer.RetryBackoffMS = 200
	}
	if config.Scorer.Concurrency == 0 {
		config.Scorer.Concurrency = 8
	}
	if config.Scorer.FailureThreshold == 0 {
		config.Scorer.FailureThreshold = 0.5
	}
	if config.Scorer.Normalization == "" {
		config.Scorer.Normalization = NormalizationPool
	}
	if config.Scorer.DefaultAggregation == "" {
		config.Scorer.DefaultAggregation = "sum_norm"
	}

	if config.Logger.Level == "" {
		config.Logger.Level = "info"
	}
	if config.Logger.Format == "" {
		config.Logger.Format = "pretty"
	}
	if config.Logger.TimeFormat == "" {
		config.Logger.TimeFormat = "2006-01-02 15:04:05"
	}
}

// Validate 校验配置取值
func (c *Config) Validate() error {
	if c.Scorer.Normalization != NormalizationPool && c.Scorer.Normalization != NormalizationCorpus {
		return fmt.Errorf("scorer.normalization 取值无效: %s (应为 pool 或 corpus)", c.Scorer.Normalization)
	}
	if c.Scorer.FailureThreshold < 0 || c.Scorer.FailureThreshold > 1 {
		return fmt.Errorf("scorer.failure_threshold 必须在 [0,1] 内: %v", c.Scorer.FailureThreshold)
	}
	if c.Scorer.OversampleFactor < 1 {
		return fmt.Errorf("scorer.oversample_factor 必须 >= 1: %d", c.Scorer.OversampleFactor)
	}
	for name, w := range c.Scorer.DefaultWeights {
		if w < 0 {
			return fmt.Errorf("scorer.default_weights.%s 不能为负数: %v", name, w)
		}
	}
	return nil
}

// GetDuration utility to parse duration strings from config
func GetDuration(durationStr string, defaultDuration time.Duration) time.Duration {
	if durationStr == "" {
		return defaultDuration
	}
	d, err := time.ParseDuration(durationStr)
	if err != nil {
		return defaultDuration
	}
	return d
}
