package media

import (
	"context"
	"errors"
	"log"
	"os"
	"path/filepath"
)

// DefaultSampleRate Whisper / Demucs 使用的标准采样率
const DefaultSampleRate = 16000

// ErrUnsupportedFormat 本地解码器不支持的格式
var ErrUnsupportedFormat = errors.New("unsupported audio format")

// Converter 把任意音频转成单声道、固定采样率的 16-bit WAV，返回时长（秒）
type Converter interface {
	Name() string
	Convert(ctx context.Context, inputPath, outputPath string, sampleRate int) (float64, error)
}

// Result 标准化结果
// Converted 为 false 时 Path 是原始文件、Duration 为 0，由调用方之后从转录结果推算时长
type Result struct {
	Path      string
	Duration  float64
	Converted bool
	Converter string
}

// Normalizer 依次尝试各个 Converter，全部失败时退回原文件
type Normalizer struct {
	converters []Converter
	sampleRate int
}

// NewNormalizer 创建标准化器
func NewNormalizer(sampleRate int, converters ...Converter) *Normalizer {
	if sampleRate <= 0 {
		sampleRate = DefaultSampleRate
	}
	return &Normalizer{
		converters: converters,
		sampleRate: sampleRate,
	}
}

// SampleRate 目标采样率
func (n *Normalizer) SampleRate() int {
	return n.sampleRate
}

// Normalize 不会修改或删除原始文件，也不会返回错误
func (n *Normalizer) Normalize(ctx context.Context, inputPath, outputPath string) Result {
	if SamePath(inputPath, outputPath) {
		log.Printf("⚠️ 输出路径和原始文件相同，跳过标准化: %s", inputPath)
		return Result{Path: inputPath}
	}

	for _, c := range n.converters {
		duration, err := c.Convert(ctx, inputPath, outputPath, n.sampleRate)
		if err == nil {
			return Result{
				Path:      outputPath,
				Duration:  duration,
				Converted: true,
				Converter: c.Name(),
			}
		}

		log.Printf("⚠️ %s 转换失败: %v", c.Name(), err)
		// 清理可能写了一半的输出
		os.Remove(outputPath)
	}

	log.Printf("⚠️ 音频标准化失败，使用原始文件: %s", inputPath)
	return Result{Path: inputPath}
}

// SamePath 两个路径是否指向同一个文件
func SamePath(a, b string) bool {
	if filepath.Clean(a) == filepath.Clean(b) {
		return true
	}
	absA, errA := filepath.Abs(a)
	absB, errB := filepath.Abs(b)
	if errA == nil && errB == nil && absA == absB {
		return true
	}

	infoA, errA := os.Stat(a)
	infoB, errB := os.Stat(b)
	return errA == nil && errB == nil && os.SameFile(infoA, infoB)
}
