package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/arafatrahmannoor/Health-Measure-and-Prediction/pkg/logger"
)

// DefaultThreshold 是判定为异常的概率阈值，与训练阶段保持一致。
const DefaultThreshold = 0.45

// Config 描述了服务与训练程序在启动阶段需要加载的核心配置。
type Config struct {
	Server   ServerConfig   `json:"server" yaml:"server"`
	Storage  StorageConfig  `json:"storage" yaml:"storage"`
	Queue    QueueConfig    `json:"queue" yaml:"queue"`
	Cache    CacheConfig    `json:"cache" yaml:"cache"`
	Model    ModelConfig    `json:"model" yaml:"model"`
	Logging  logger.Config  `json:"logging" yaml:"logging"`
	Metrics  MetricsConfig  `json:"metrics" yaml:"metrics"`
	Alerting AlertingConfig `json:"alerting" yaml:"alerting"`
	Training TrainingConfig `json:"training" yaml:"training"`
	Runtime  RuntimeConfig  `json:"runtime" yaml:"runtime"`
}

// ServerConfig 控制 API 服务的监听地址等参数。
type ServerConfig struct {
	Address                  string          `json:"address" yaml:"address"`
	ReadHeaderTimeoutSeconds int             `json:"read_header_timeout_seconds" yaml:"read_header_timeout_seconds"`
	ShutdownTimeoutSeconds   int             `json:"shutdown_timeout_seconds" yaml:"shutdown_timeout_seconds"`
	AllowedOrigins           []string        `json:"allowed_origins" yaml:"allowed_origins"`
	RateLimit                RateLimitConfig `json:"rate_limit" yaml:"rate_limit"`
}

// RateLimitConfig 限制预测接口的请求速率，RequestsPerSecond 为 0 时不限流。
type RateLimitConfig struct {
	RequestsPerSecond float64 `json:"requests_per_second" yaml:"requests_per_second"`
	Burst             int     `json:"burst" yaml:"burst"`
}

// StorageConfig 描述档案与预测记录的持久化后端。
type StorageConfig struct {
	Driver                 string `json:"driver" yaml:"driver"`
	DSN                    string `json:"dsn" yaml:"dsn"`
	MaxOpenConns           int    `json:"max_open_conns" yaml:"max_open_conns"`
	MaxIdleConns           int    `json:"max_idle_conns" yaml:"max_idle_conns"`
	ConnMaxLifetimeSeconds int    `json:"conn_max_lifetime_seconds" yaml:"conn_max_lifetime_seconds"`
	ConnMaxIdleTimeSeconds int    `json:"conn_max_idle_time_seconds" yaml:"conn_max_idle_time_seconds"`
}

// ConnMaxLifetime 返回连接最大存活时间。
func (c StorageConfig) ConnMaxLifetime() time.Duration {
	return time.Duration(c.ConnMaxLifetimeSeconds) * time.Second
}

// ConnMaxIdleTime 返回连接最大空闲时间。
func (c StorageConfig) ConnMaxIdleTime() time.Duration {
	return time.Duration(c.ConnMaxIdleTimeSeconds) * time.Second
}

// QueueConfig 描述预测记录投递所用的消息队列。
type QueueConfig struct {
	Driver  string `json:"driver" yaml:"driver"`
	Workers int    `json:"workers" yaml:"workers"`
	Buffer  int    `json:"buffer" yaml:"buffer"`
	// PublishTimeoutMS 限制一次预测记录入队的耗时，单位毫秒。
	PublishTimeoutMS int                 `json:"publish_timeout_ms" yaml:"publish_timeout_ms"`
	Redis            RedisQueueConfig    `json:"redis" yaml:"redis"`
	RabbitMQ         RabbitMQQueueConfig `json:"rabbitmq" yaml:"rabbitmq"`
}

// RedisQueueConfig 描述 Redis list 队列。
type RedisQueueConfig struct {
	Address          string `json:"address" yaml:"address"`
	Password         string `json:"password" yaml:"password"`
	DB               int    `json:"db" yaml:"db"`
	Queue            string `json:"queue" yaml:"queue"`
	BlockWaitSeconds int    `json:"block_wait_seconds" yaml:"block_wait_seconds"`
	MaxAttempts      int    `json:"max_attempts" yaml:"max_attempts"`
	RetryBackoffMS   int    `json:"retry_backoff_ms" yaml:"retry_backoff_ms"`
}

// PublishTimeout 返回入队超时。
func (c QueueConfig) PublishTimeout() time.Duration {
	return time.Duration(c.PublishTimeoutMS) * time.Millisecond
}

// RabbitMQQueueConfig 描述 RabbitMQ 队列。
type RabbitMQQueueConfig struct {
	URL        string `json:"url" yaml:"url"`
	Queue      string `json:"queue" yaml:"queue"`
	Prefetch   int    `json:"prefetch" yaml:"prefetch"`
	Durable    bool   `json:"durable" yaml:"durable"`
	AutoDelete bool   `json:"auto_delete" yaml:"auto_delete"`
}

// CacheConfig 控制预测结果缓存，Driver 为空表示关闭。
type CacheConfig struct {
	Driver     string `json:"driver" yaml:"driver"`
	Address    string `json:"address" yaml:"address"`
	Password   string `json:"password" yaml:"password"`
	DB         int    `json:"db" yaml:"db"`
	Prefix     string `json:"prefix" yaml:"prefix"`
	TTLSeconds int    `json:"ttl_seconds" yaml:"ttl_seconds"`
}

// TTL 返回缓存过期时间。
func (c CacheConfig) TTL() time.Duration {
	return time.Duration(c.TTLSeconds) * time.Second
}

// ModelConfig 描述模型文件位置与推理阈值。
type ModelConfig struct {
	Path      string  `json:"path" yaml:"path"`
	Threshold float64 `json:"threshold" yaml:"threshold"`
	Watch     bool    `json:"watch" yaml:"watch"`
}

// MetricsConfig 控制 Prometheus 指标暴露。
type MetricsConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Path    string `json:"path" yaml:"path"`
}

// AlertingConfig 控制异常体征告警的派发渠道。
type AlertingConfig struct {
	LogEnabled     bool   `json:"log_enabled" yaml:"log_enabled"`
	WebhookURL     string `json:"webhook_url" yaml:"webhook_url"`
	TimeoutSeconds int    `json:"timeout_seconds" yaml:"timeout_seconds"`
}

// Timeout 返回 webhook 请求超时时间。
func (c AlertingConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// TrainingConfig 为离线训练程序提供默认参数，命令行参数优先。
type TrainingConfig struct {
	DataPath       string  `json:"data_path" yaml:"data_path"`
	OutputPath     string  `json:"output_path" yaml:"output_path"`
	Seed           int64   `json:"seed" yaml:"seed"`
	TestSize       float64 `json:"test_size" yaml:"test_size"`
	Threshold      float64 `json:"threshold" yaml:"threshold"`
	RFTrees        int     `json:"rf_trees" yaml:"rf_trees"`
	GBTrees        int     `json:"gb_trees" yaml:"gb_trees"`
	GBLearningRate float64 `json:"gb_learning_rate" yaml:"gb_learning_rate"`
	GBMaxDepth     int     `json:"gb_max_depth" yaml:"gb_max_depth"`
	SMOTENeighbors int     `json:"smote_neighbors" yaml:"smote_neighbors"`
}

// RuntimeConfig 用于放置运行时的通用参数。
type RuntimeConfig struct {
	DataDir string `json:"data_dir" yaml:"data_dir"`
}

// Load 负责解析指定路径的 JSON 或 YAML 配置文件。文件不存在时返回默认配置。
func Load(path string) (*Config, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("配置文件路径为空")
	}

	var cfg Config
	content, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	default:
		if err := decode(path, content, &cfg); err != nil {
			return nil, fmt.Errorf("解析配置失败: %w", err)
		}
	}

	cfg.applyDefaults(filepath.Dir(path))
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default 返回不依赖任何配置文件的默认配置。
func Default() *Config {
	var cfg Config
	cfg.applyDefaults(".")
	return &cfg
}

func decode(path string, content []byte, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return yaml.Unmarshal(content, cfg)
	default:
		return json.Unmarshal(content, cfg)
	}
}

// Validate 检查枚举类配置项是否合法。
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case "memory", "sqlite", "mysql":
	default:
		return fmt.Errorf("未知的存储驱动: %s", c.Storage.Driver)
	}
	switch c.Queue.Driver {
	case "memory", "redis", "rabbitmq":
	default:
		return fmt.Errorf("未知的队列驱动: %s", c.Queue.Driver)
	}
	switch c.Cache.Driver {
	case "", "none", "redis":
	default:
		return fmt.Errorf("未知的缓存驱动: %s", c.Cache.Driver)
	}
	if c.Model.Threshold <= 0 || c.Model.Threshold >= 1 {
		return fmt.Errorf("模型阈值必须位于 (0, 1) 区间: %v", c.Model.Threshold)
	}
	if c.Training.TestSize <= 0 || c.Training.TestSize >= 1 {
		return fmt.Errorf("测试集比例必须位于 (0, 1) 区间: %v", c.Training.TestSize)
	}
	return nil
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
// 用户填写的相对路径以配置文件所在目录为基准，默认路径以工作目录为基准。
func (c *Config) applyDefaults(baseDir string) {
	if c.Server.Address == "" {
		c.Server.Address = ":8000"
	}
	if c.Server.ReadHeaderTimeoutSeconds <= 0 {
		c.Server.ReadHeaderTimeoutSeconds = 5
	}
	if c.Server.ShutdownTimeoutSeconds <= 0 {
		c.Server.ShutdownTimeoutSeconds = 5
	}
	if len(c.Server.AllowedOrigins) == 0 {
		c.Server.AllowedOrigins = []string{"*"}
	}
	if c.Server.RateLimit.RequestsPerSecond > 0 && c.Server.RateLimit.Burst <= 0 {
		c.Server.RateLimit.Burst = int(c.Server.RateLimit.RequestsPerSecond) + 1
	}

	c.Runtime.DataDir = resolve(baseDir, c.Runtime.DataDir, "data")

	if c.Storage.Driver == "" {
		c.Storage.Driver = "sqlite"
	}
	if c.Storage.Driver == "sqlite" {
		if c.Storage.DSN == "" {
			c.Storage.DSN = filepath.Join(c.Runtime.DataDir, "vitals.db")
		} else if c.Storage.DSN != ":memory:" && !strings.HasPrefix(c.Storage.DSN, "file:") {
			c.Storage.DSN = resolve(baseDir, c.Storage.DSN, "")
		}
	}

	if c.Queue.Driver == "" {
		c.Queue.Driver = "memory"
	}
	if c.Queue.Workers <= 0 {
		c.Queue.Workers = 2
	}
	if c.Queue.Buffer <= 0 {
		c.Queue.Buffer = 1024
	}
	if c.Queue.Redis.Queue == "" {
		c.Queue.Redis.Queue = "vitals:predictions"
	}
	if c.Queue.Redis.BlockWaitSeconds <= 0 {
		c.Queue.Redis.BlockWaitSeconds = 5
	}
	if c.Queue.Redis.MaxAttempts <= 0 {
		c.Queue.Redis.MaxAttempts = 5
	}
	if c.Queue.Redis.RetryBackoffMS <= 0 {
		c.Queue.Redis.RetryBackoffMS = 1000
	}
	if c.Queue.PublishTimeoutMS <= 0 {
		c.Queue.PublishTimeoutMS = 2000
	}
	if c.Queue.RabbitMQ.Queue == "" {
		c.Queue.RabbitMQ.Queue = "vitals.predictions"
	}

	if c.Cache.Prefix == "" {
		c.Cache.Prefix = "vitals:prediction:"
	}
	if c.Cache.TTLSeconds <= 0 {
		c.Cache.TTLSeconds = 600
	}

	if c.Model.Path == "" {
		c.Model.Path = "proposed_model.json.zst"
	} else {
		c.Model.Path = resolve(baseDir, c.Model.Path, "")
	}
	if c.Model.Threshold == 0 {
		c.Model.Threshold = DefaultThreshold
	}

	if c.Logging.Audit.Path != "" {
		c.Logging.Audit.Path = resolve(baseDir, c.Logging.Audit.Path, "")
	}

	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
	if c.Alerting.TimeoutSeconds <= 0 {
		c.Alerting.TimeoutSeconds = 5
	}

	t := &c.Training
	if t.DataPath == "" {
		t.DataPath = filepath.Join("data", "Full Final.csv")
	} else {
		t.DataPath = resolve(baseDir, t.DataPath, "")
	}
	if t.OutputPath == "" {
		t.OutputPath = c.Model.Path
	} else {
		t.OutputPath = resolve(baseDir, t.OutputPath, "")
	}
	if t.Seed == 0 {
		t.Seed = 42
	}
	if t.TestSize == 0 {
		t.TestSize = 0.2
	}
	if t.Threshold == 0 {
		t.Threshold = c.Model.Threshold
	}
	if t.RFTrees <= 0 {
		t.RFTrees = 400
	}
	if t.GBTrees <= 0 {
		t.GBTrees = 300
	}
	if t.GBLearningRate <= 0 {
		t.GBLearningRate = 0.05
	}
	if t.GBMaxDepth <= 0 {
		t.GBMaxDepth = 5
	}
	if t.SMOTENeighbors <= 0 {
		t.SMOTENeighbors = 5
	}
}

func resolve(baseDir, value, fallback string) string {
	if value == "" {
		if fallback == "" {
			return ""
		}
		return filepath.Join(baseDir, fallback)
	}
	if filepath.IsAbs(value) {
		return value
	}
	return filepath.Join(baseDir, value)
}
