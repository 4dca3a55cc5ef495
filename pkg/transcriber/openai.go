package transcriber

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/sashabaranov/go-openai"
	"github.com/z-wentao/vocalflow/pkg/models"
)

// OpenAIOptions OpenAI 转录引擎配置
type OpenAIOptions struct {
	APIKey          string
	BaseURL         string // 为空时使用官方地址
	Model           string
	Language        string // 为空时自动检测
	Concurrency     int    // 分片并发数
	MaxRetries      int
	SegmentDuration int // 分片时长（秒）
	FFmpegPath      string
	FFprobePath     string
}

// OpenAIEngine 通过 OpenAI Whisper API 转录
// 长音频先切片，再用固定数量的 goroutine 并发处理，最后按片段顺序合并
type OpenAIEngine struct {
	client      *openai.Client
	model       string
	language    string
	splitter    *AudioSplitter
	concurrency int
	maxRetries  int
	backoff     time.Duration
}

// NewOpenAIEngine 创建 OpenAI 转录引擎
func NewOpenAIEngine(opts OpenAIOptions) *OpenAIEngine {
	cfg := openai.DefaultConfig(opts.APIKey)
	if opts.BaseURL != "" {
		cfg.BaseURL = opts.BaseURL
	}
	if opts.Model == "" {
		opts.Model = openai.Whisper1
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 3
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 3
	}

	return &OpenAIEngine{
		client:      openai.NewClientWithConfig(cfg),
		model:       opts.Model,
		language:    opts.Language,
		splitter:    NewAudioSplitter(opts.SegmentDuration, opts.FFmpegPath, opts.FFprobePath),
		concurrency: opts.Concurrency,
		maxRetries:  opts.MaxRetries,
		backoff:     time.Second,
	}
}

// chunkResult 内部用于 Channel 传递
type chunkResult struct {
	index    int
	segments []models.Segment
	err      error
}

// Transcribe 转录整个音频文件
func (e *OpenAIEngine) Transcribe(ctx context.Context, audioPath string) ([]models.Segment, error) {
	chunks, err := e.splitter.Split(ctx, audioPath)
	if err != nil {
		// 切不了就整文件上传
		log.Printf("⚠️ 音频分片失败，整文件转录: %v", err)
		chunks = []Chunk{{Index: 0, FilePath: audioPath}}
	}
	defer e.splitter.Cleanup(chunks)

	taskChan := make(chan Chunk, len(chunks))
	resultChan := make(chan chunkResult, len(chunks))

	var wg sync.WaitGroup
	for i := 0; i < min(e.concurrency, len(chunks)); i++ {
		wg.Add(1)
		go e.chunkProcessor(ctx, taskChan, resultChan, &wg)
	}

	for _, chunk := range chunks {
		taskChan <- chunk
	}
	close(taskChan)

	go func() {
		wg.Wait()
		close(resultChan)
	}()

	results := make([][]models.Segment, len(chunks))
	var firstErr error
	for result := range resultChan {
		if result.err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("片段 %d 转录失败: %w", result.index, result.err)
			}
			continue
		}
		results[result.index] = result.segments
	}

	if firstErr != nil {
		return nil, firstErr
	}

	var merged []models.Segment
	for _, segs := range results {
		merged = append(merged, segs...)
	}
	return merged, nil
}

// chunkProcessor Goroutine Pool 中的工作单元
func (e *OpenAIEngine) chunkProcessor(ctx context.Context, taskChan <-chan Chunk, resultChan chan<- chunkResult, wg *sync.WaitGroup) {
	defer wg.Done()

	for chunk := range taskChan {
		if err := ctx.Err(); err != nil {
			resultChan <- chunkResult{index: chunk.Index, err: err}
			continue
		}

		segments, err := e.transcribeWithRetry(ctx, chunk.FilePath)
		if err != nil {
			resultChan <- chunkResult{index: chunk.Index, err: err}
			continue
		}

		// 加上片段在原音频中的偏移
		for i := range segments {
			segments[i].Start += chunk.Start
			segments[i].End += chunk.Start
		}
		resultChan <- chunkResult{index: chunk.Index, segments: segments}
	}
}

// transcribeWithRetry 指数退避重试: 1s, 2s, 4s...
func (e *OpenAIEngine) transcribeWithRetry(ctx context.Context, path string) ([]models.Segment, error) {
	var lastErr error

	for i := 0; i < e.maxRetries; i++ {
		segments, err := e.transcribeFile(ctx, path)
		if err == nil {
			return segments, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		if i < e.maxRetries-1 {
			select {
			case <-time.After(e.backoff * time.Duration(1<<uint(i))):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}

	return nil, fmt.Errorf("重试 %d 次后仍然失败: %w", e.maxRetries, lastErr)
}

// transcribeFile 使用 verbose_json 获取时间戳
func (e *OpenAIEngine) transcribeFile(ctx context.Context, path string) ([]models.Segment, error) {
	resp, err := e.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    e.model,
		FilePath: path,
		Language: e.language,
		Format:   openai.AudioResponseFormatVerboseJSON,
	})
	if err != nil {
		return nil, err
	}

	segments := make([]models.Segment, 0, len(resp.Segments))
	for _, s := range resp.Segments {
		segments = append(segments, models.Segment{Start: s.Start, End: s.End, Text: s.Text})
	}

	// 没有分段信息时把整段文本当成一个片段
	if len(segments) == 0 && resp.Text != "" {
		segments = append(segments, models.Segment{Start: 0, End: resp.Duration, Text: resp.Text})
	}
	return Sanitize(segments), nil
}
