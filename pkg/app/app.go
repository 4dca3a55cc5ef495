package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/z-wentao/vocalflow/pkg/config"
	"github.com/z-wentao/vocalflow/pkg/media"
	"github.com/z-wentao/vocalflow/pkg/pipeline"
	"github.com/z-wentao/vocalflow/pkg/queue"
	"github.com/z-wentao/vocalflow/pkg/separator"
	"github.com/z-wentao/vocalflow/pkg/server"
	"github.com/z-wentao/vocalflow/pkg/storage"
	"github.com/z-wentao/vocalflow/pkg/transcriber"
	"github.com/z-wentao/vocalflow/pkg/worker"
)

// App 应用上下文，所有组件在这里创建并注入
type App struct {
	Config   *config.Config
	Store    storage.Store
	Queue    queue.Queue
	Pipeline *pipeline.Pipeline
	Pool     *worker.Pool
	Sweeper  *storage.Sweeper

	unlock func() error
}

// New 按配置初始化所有组件
func New(cfg *config.Config) (*App, error) {
	// 1. 工作目录加锁
	unlock, err := server.LockDir(cfg.Server.UploadDir)
	if err != nil {
		return nil, err
	}

	app := &App{Config: cfg, unlock: unlock}

	// 2. 存储
	app.Store, err = NewStore(cfg)
	if err != nil {
		app.Close()
		return nil, err
	}

	// 3. 队列
	app.Queue, err = NewQueue(cfg)
	if err != nil {
		app.Close()
		return nil, err
	}

	// 4. 处理流程和 Worker
	app.Pipeline = NewPipeline(cfg, app.Store)
	app.Pool = worker.NewPool(app.Queue, app.Pipeline, worker.Options{
		Dispatchers: cfg.Pipeline.WorkerPoolSize,
		JobTimeout:  cfg.Pipeline.JobTimeout,
	})

	// 5. 过期清理（默认关闭）
	app.Sweeper = storage.NewSweeper(app.Store, cfg.Retention.TTL, cfg.Retention.Interval, app.Pipeline.RemoveArtifacts)

	return app, nil
}

// NewStore 根据配置选择存储
func NewStore(cfg *config.Config) (storage.Store, error) {
	sc := cfg.Storage

	switch sc.Type {
	case "memory":
		log.Println("✓ 使用内存存储")
		return storage.NewJobStore(), nil

	case "redis":
		store, err := storage.NewRedisJobStore(sc.Redis.Addr, sc.Redis.Password, sc.Redis.DB, sc.Redis.TTL)
		if err != nil {
			return nil, err
		}
		return store, nil

	case "postgres":
		store, err := storage.NewPostgresJobStore(sc.Postgres.DSN)
		if err != nil {
			return nil, err
		}
		return store, nil

	case "hybrid":
		redis, err := storage.NewRedisJobStore(sc.Redis.Addr, sc.Redis.Password, sc.Redis.DB, sc.Redis.TTL)
		if err != nil {
			return nil, err
		}
		db, err := storage.NewPostgresJobStore(sc.Postgres.DSN)
		if err != nil {
			redis.Close()
			return nil, err
		}
		return storage.NewHybridJobStore(redis, db), nil

	default:
		return nil, fmt.Errorf("不支持的存储类型: %s", sc.Type)
	}
}

// NewQueue 根据配置选择队列
func NewQueue(cfg *config.Config) (queue.Queue, error) {
	switch cfg.Queue.Type {
	case "memory":
		log.Println("✓ 使用内存队列")
		return queue.NewMemoryQueue(cfg.Queue.BufferSize), nil
	case "rabbitmq":
		q, err := queue.NewRabbitMQQueue(cfg.Queue.RabbitMQ.URL, cfg.Queue.RabbitMQ.QueueName, cfg.Queue.RabbitMQ.Prefetch)
		if err != nil {
			return nil, err
		}
		return q, nil
	default:
		return nil, fmt.Errorf("不支持的队列类型: %s", cfg.Queue.Type)
	}
}

// NewNormalizer 优先使用 ffmpeg，失败时用纯 Go 解码 wav / mp3
func NewNormalizer(cfg *config.Config) *media.Normalizer {
	return media.NewNormalizer(
		cfg.Media.SampleRate,
		media.NewFFmpegConverter(cfg.Media.FFmpegPath, cfg.Media.FFprobePath),
		media.NativeConverter{},
	)
}

// NewSeparator 根据配置选择人声分离引擎
func NewSeparator(cfg *config.Config) separator.Engine {
	if cfg.Separator.Type == "none" {
		log.Println("⚠️  人声分离已关闭，song 模式直接使用标准化音频")
		return separator.NoopEngine{}
	}
	log.Printf("✓ 使用 Demucs 人声分离 (model=%s)", cfg.Separator.Model)
	return separator.NewDemucsEngine(cfg.Separator.Python, cfg.Separator.Model)
}

// NewTranscriber 根据配置选择转录引擎
func NewTranscriber(cfg *config.Config) transcriber.Engine {
	tc := cfg.Transcriber

	switch tc.Type {
	case "whisper":
		model := tc.Model
		if model == "whisper-1" {
			// whisper-1 是 API 的模型名，本地 CLI 默认用 base
			model = "base"
		}
		log.Printf("✓ 使用本地 Whisper 转录 (model=%s)", model)
		return transcriber.NewWhisperCLIEngine(tc.WhisperBin, model, tc.Language)

	case "mock":
		log.Println("⚠️  使用 Mock 转录引擎，只返回占位片段")
		return transcriber.MockEngine{}

	default:
		if !cfg.HasAPIKey() {
			log.Println("⚠️  未配置 OpenAI API Key，使用 Mock 转录引擎")
			return transcriber.MockEngine{}
		}
		log.Printf("✓ 使用 OpenAI 转录 (model=%s, 并发分片=%d)", tc.Model, tc.WorkerCount)
		return transcriber.NewOpenAIEngine(transcriber.OpenAIOptions{
			APIKey:          tc.APIKey,
			BaseURL:         tc.BaseURL,
			Model:           tc.Model,
			Language:        tc.Language,
			Concurrency:     tc.WorkerCount,
			MaxRetries:      tc.MaxRetries,
			SegmentDuration: tc.SegmentDuration,
			FFmpegPath:      cfg.Media.FFmpegPath,
			FFprobePath:     cfg.Media.FFprobePath,
		})
	}
}

// NewPipeline 组装处理流程
func NewPipeline(cfg *config.Config, store storage.Store) *pipeline.Pipeline {
	return pipeline.New(store, NewNormalizer(cfg), NewSeparator(cfg), NewTranscriber(cfg), cfg.Server.UploadDir)
}

// Serve 启动 Worker 和 HTTP 服务，ctx 取消后优雅关闭
func (a *App) Serve(ctx context.Context) error {
	cfg := a.Config

	a.Pool.Start()

	sweepCtx, stopSweep := context.WithCancel(ctx)
	defer stopSweep()
	go a.Sweeper.Run(sweepCtx)

	srv := server.New(a.Store, a.Queue, server.Options{
		UploadDir:     cfg.Server.UploadDir,
		MaxUploadSize: cfg.Server.MaxUploadSize,
	})
	httpServer := &http.Server{
		Addr:    cfg.Address(),
		Handler: srv.Router(),
	}

	log.Printf("🚀 VocalFlow 服务器启动在 http://localhost:%d", cfg.Server.Port)
	log.Printf("📝 配置信息:")
	log.Printf("   - 取任务 Worker: %d（任务并发不限）", cfg.Pipeline.WorkerPoolSize)
	if cfg.Pipeline.JobTimeout > 0 {
		log.Printf("   - 单任务超时: %s", cfg.Pipeline.JobTimeout)
	}
	log.Printf("   - 队列类型: %s", cfg.Queue.Type)
	log.Printf("   - 存储类型: %s", cfg.Storage.Type)
	log.Printf("   - 上传目录: %s", cfg.Server.UploadDir)

	errCh := make(chan error, 1)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errCh:
	}

	log.Println("🛑 正在关闭服务器...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("⚠️ HTTP 服务关闭失败: %v", err)
	}

	a.Pool.Stop()
	a.Pool.Wait()
	return serveErr
}

// Close 释放队列、存储和目录锁
func (a *App) Close() error {
	var errs []error
	if a.Queue != nil {
		errs = append(errs, a.Queue.Close())
	}
	if a.Store != nil {
		errs = append(errs, a.Store.Close())
	}
	if a.unlock != nil {
		errs = append(errs, a.unlock())
	}
	log.Println("✓ 服务器已关闭")
	return errors.Join(errs...)
}
