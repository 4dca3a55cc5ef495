package transcriber

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/z-wentao/vocalflow/pkg/media"
)

// Chunk 切分后的音频片段
type Chunk struct {
	Index    int
	FilePath string
	Start    float64 // 在原音频中的起始时间（秒）
	End      float64
}

// AudioSplitter 音频分片器，OpenAI 接口有单文件大小限制，长音频需要切分
type AudioSplitter struct {
	segmentDuration int // 每个片段的时长（秒），默认 600 秒
	ffmpegPath      string
	ffprobePath     string
}

// NewAudioSplitter 创建分片器
func NewAudioSplitter(segmentDuration int, ffmpegPath, ffprobePath string) *AudioSplitter {
	if segmentDuration <= 0 {
		segmentDuration = 600
	}
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	return &AudioSplitter{
		segmentDuration: segmentDuration,
		ffmpegPath:      ffmpegPath,
		ffprobePath:     ffprobePath,
	}
}

// Split 将音频文件切分成多个片段，短音频直接返回原文件
func (as *AudioSplitter) Split(ctx context.Context, audioPath string) ([]Chunk, error) {
	duration, err := media.ProbeDuration(ctx, as.ffprobePath, audioPath)
	if err != nil {
		return nil, fmt.Errorf("获取音频时长失败: %w", err)
	}

	if duration <= float64(as.segmentDuration) {
		return []Chunk{{Index: 0, FilePath: audioPath, Start: 0, End: duration}}, nil
	}

	chunkCount := int(duration)/as.segmentDuration + 1
	log.Printf("✂️  音频时长 %.2f 秒，切分为 %d 个片段 (每片 %d 秒)", duration, chunkCount, as.segmentDuration)

	chunksDir := filepath.Join(filepath.Dir(audioPath), "chunks_"+strings.TrimSuffix(filepath.Base(audioPath), filepath.Ext(audioPath)))
	if err := os.MkdirAll(chunksDir, 0755); err != nil {
		return nil, fmt.Errorf("创建片段目录失败: %w", err)
	}

	ext := strings.ToLower(filepath.Ext(audioPath))
	chunks := make([]Chunk, 0, chunkCount)
	for i := 0; i < chunkCount; i++ {
		start := float64(i * as.segmentDuration)
		if start >= duration {
			break
		}
		end := min(start+float64(as.segmentDuration), duration)

		chunkPath := filepath.Join(chunksDir, fmt.Sprintf("chunk_%03d%s", i, ext))
		if err := as.extract(ctx, audioPath, chunkPath, start, float64(as.segmentDuration)); err != nil {
			os.RemoveAll(chunksDir)
			return nil, fmt.Errorf("切分片段 %d 失败: %w", i, err)
		}

		chunks = append(chunks, Chunk{Index: i, FilePath: chunkPath, Start: start, End: end})
	}

	return chunks, nil
}

// extract ffmpeg -ss START -t DURATION -i input -acodec copy -y output
func (as *AudioSplitter) extract(ctx context.Context, inputPath, outputPath string, start, duration float64) error {
	cmd := exec.CommandContext(ctx, as.ffmpegPath,
		"-ss", fmt.Sprintf("%.2f", start),
		"-t", fmt.Sprintf("%.2f", duration),
		"-i", inputPath,
		"-vn",
		"-acodec", "copy",
		"-y",
		outputPath,
	)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("ffmpeg 执行失败: %w (stderr: %s)", err, strings.TrimSpace(stderr.String()))
	}
	return nil
}

// Cleanup 只删除 Split 创建的临时目录，不会删除原始文件
func (as *AudioSplitter) Cleanup(chunks []Chunk) {
	if len(chunks) == 0 {
		return
	}

	dir := filepath.Dir(chunks[0].FilePath)
	if strings.HasPrefix(filepath.Base(dir), "chunks_") {
		if err := os.RemoveAll(dir); err != nil {
			log.Printf("⚠️ 清理临时片段目录失败: %v", err)
		}
	}
}
