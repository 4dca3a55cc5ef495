package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/goccy/go-yaml"
)

// Config 应用配置
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Pipeline    PipelineConfig    `yaml:"pipeline"`
	Queue       QueueConfig       `yaml:"queue"`
	Storage     StorageConfig     `yaml:"storage"`
	Media       MediaConfig       `yaml:"media"`
	Separator   SeparatorConfig   `yaml:"separator"`
	Transcriber TranscriberConfig `yaml:"transcriber"`
	Retention   RetentionConfig   `yaml:"retention"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	Port          int    `yaml:"port"`
	Mode          string `yaml:"mode"` // gin 模式: debug / release / test
	MaxUploadSize int64  `yaml:"max_upload_size"`
	UploadDir     string `yaml:"upload_dir"`
}

// PipelineConfig 任务处理配置
type PipelineConfig struct {
	WorkerPoolSize int           `yaml:"worker_pool_size"` // 从队列取任务的 goroutine 数，每个任务独立运行
	JobTimeout     time.Duration `yaml:"job_timeout"`      // 0 表示不限制
}

// QueueConfig 队列配置
type QueueConfig struct {
	Type       string         `yaml:"type"` // memory / rabbitmq
	BufferSize int            `yaml:"buffer_size"`
	RabbitMQ   RabbitMQConfig `yaml:"rabbitmq"`
}

// RabbitMQConfig RabbitMQ 配置
type RabbitMQConfig struct {
	URL       string `yaml:"url"`
	QueueName string `yaml:"queue_name"`
	Prefetch  int    `yaml:"prefetch"` // 0 表示不限制未确认的消息数
}

// StorageConfig 任务存储配置
type StorageConfig struct {
	Type     string         `yaml:"type"` // memory / redis / postgres / hybrid
	Redis    RedisConfig    `yaml:"redis"`
	Postgres PostgresConfig `yaml:"postgres"`
}

// RedisConfig Redis 配置
type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"`
}

// PostgresConfig PostgreSQL 配置
type PostgresConfig struct {
	DSN string `yaml:"dsn"`
}

// MediaConfig 音频标准化配置
type MediaConfig struct {
	FFmpegPath  string `yaml:"ffmpeg_path"`
	FFprobePath string `yaml:"ffprobe_path"`
	SampleRate  int    `yaml:"sample_rate"`
}

// SeparatorConfig 人声分离配置
type SeparatorConfig struct {
	Type   string `yaml:"type"` // demucs / none
	Python string `yaml:"python"`
	Model  string `yaml:"model"`
}

// TranscriberConfig 转录配置
type TranscriberConfig struct {
	Type            string `yaml:"type"` // openai / whisper / mock
	APIKey          string `yaml:"api_key"`
	BaseURL         string `yaml:"base_url"`
	Model           string `yaml:"model"`
	Language        string `yaml:"language"`
	WorkerCount     int    `yaml:"worker_count"`     // 每个音频文件的并发分段数
	SegmentDuration int    `yaml:"segment_duration"` // 秒
	MaxRetries      int    `yaml:"max_retries"`
	WhisperBin      string `yaml:"whisper_bin"`
}

// RetentionConfig 过期任务清理，TTL 为 0 时不清理
type RetentionConfig struct {
	TTL      time.Duration `yaml:"ttl"`
	Interval time.Duration `yaml:"interval"`
}

// Default 默认配置
func Default() *Config {
	cfg := &Config{}
	// 默认值都在 Validate 里填充
	_ = cfg.Validate()
	return cfg
}

// LoadConfig 加载配置文件，文件不存在时使用默认配置
func LoadConfig(configPath string) (*Config, error) {
	var config Config

	data, err := os.ReadFile(configPath)
	switch {
	case errors.Is(err, os.ErrNotExist):
		// 没有配置文件也能启动
	case err != nil:
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	default:
		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("解析配置文件失败: %w", err)
		}
	}

	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		config.Transcriber.APIKey = key
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("配置验证失败: %w", err)
	}

	return &config, nil
}

// Validate 验证配置并填充默认值
func (c *Config) Validate() error {
	if c.Server.Port <= 0 {
		c.Server.Port = 8080
	}
	if c.Server.Mode == "" {
		c.Server.Mode = "debug"
	}
	if c.Server.MaxUploadSize <= 0 {
		c.Server.MaxUploadSize = 500 << 20
	}
	if c.Server.UploadDir == "" {
		c.Server.UploadDir = "uploads"
	}

	if c.Pipeline.WorkerPoolSize <= 0 {
		c.Pipeline.WorkerPoolSize = 2
	}
	if c.Pipeline.JobTimeout < 0 {
		c.Pipeline.JobTimeout = 0
	}
	if c.Queue.RabbitMQ.Prefetch < 0 {
		c.Queue.RabbitMQ.Prefetch = 0
	}

	if c.Queue.Type == "" {
		c.Queue.Type = "memory"
	}
	if c.Queue.BufferSize <= 0 {
		c.Queue.BufferSize = 100
	}
	if c.Queue.RabbitMQ.QueueName == "" {
		c.Queue.RabbitMQ.QueueName = "vocalflow_jobs"
	}

	if c.Storage.Type == "" {
		c.Storage.Type = "memory"
	}
	if c.Storage.Redis.Addr == "" {
		c.Storage.Redis.Addr = "localhost:6379"
	}

	if c.Media.FFmpegPath == "" {
		c.Media.FFmpegPath = "ffmpeg"
	}
	if c.Media.FFprobePath == "" {
		c.Media.FFprobePath = "ffprobe"
	}
	if c.Media.SampleRate <= 0 {
		c.Media.SampleRate = 16000
	}

	if c.Separator.Type == "" {
		c.Separator.Type = "demucs"
	}
	if c.Separator.Python == "" {
		c.Separator.Python = "python3"
	}
	if c.Separator.Model == "" {
		c.Separator.Model = "htdemucs"
	}

	if c.Transcriber.Type == "" {
		c.Transcriber.Type = "openai"
	}
	if c.Transcriber.Model == "" {
		c.Transcriber.Model = "whisper-1"
	}
	if c.Transcriber.WorkerCount <= 0 {
		c.Transcriber.WorkerCount = 3
	}
	if c.Transcriber.SegmentDuration <= 0 {
		c.Transcriber.SegmentDuration = 600
	}
	if c.Transcriber.MaxRetries <= 0 {
		c.Transcriber.MaxRetries = 3
	}
	if c.Transcriber.WhisperBin == "" {
		c.Transcriber.WhisperBin = "whisper"
	}

	if c.Retention.Interval <= 0 {
		c.Retention.Interval = time.Hour
	}

	switch c.Queue.Type {
	case "memory", "rabbitmq":
	default:
		return fmt.Errorf("不支持的队列类型: %s", c.Queue.Type)
	}
	if c.Queue.Type == "rabbitmq" && c.Queue.RabbitMQ.URL == "" {
		return fmt.Errorf("使用 rabbitmq 队列时必须设置 queue.rabbitmq.url")
	}

	switch c.Storage.Type {
	case "memory", "redis", "postgres", "hybrid":
	default:
		return fmt.Errorf("不支持的存储类型: %s", c.Storage.Type)
	}
	if (c.Storage.Type == "postgres" || c.Storage.Type == "hybrid") && c.Storage.Postgres.DSN == "" {
		return fmt.Errorf("使用 %s 存储时必须设置 storage.postgres.dsn", c.Storage.Type)
	}

	switch c.Separator.Type {
	case "demucs", "none":
	default:
		return fmt.Errorf("不支持的人声分离类型: %s", c.Separator.Type)
	}

	switch c.Transcriber.Type {
	case "openai", "whisper", "mock":
	default:
		return fmt.Errorf("不支持的转录类型: %s", c.Transcriber.Type)
	}

	return nil
}

// HasAPIKey 是否配置了可用的 OpenAI API Key
func (c *Config) HasAPIKey() bool {
	return c.Transcriber.APIKey != "" && c.Transcriber.APIKey != "your-openai-api-key-here"
}

// Address HTTP 监听地址
func (c *Config) Address() string {
	return fmt.Sprintf(":%d", c.Server.Port)
}
