package transcriber

import (
	"context"

	"github.com/z-wentao/vocalflow/pkg/models"
)

// Engine 语音转文字能力
// 所有实现都返回统一的 models.Segment（秒 + 原始文本，按时间顺序）
type Engine interface {
	Transcribe(ctx context.Context, audioPath string) ([]models.Segment, error)
}

// PlaceholderSegments 转录引擎不可用时使用的占位片段
// 保证任务仍然可以完成并生成字幕
func PlaceholderSegments() []models.Segment {
	return []models.Segment{
		{Start: 0.0, End: 2.5, Text: "This is the first line of the song."},
		{Start: 2.6, End: 5.0, Text: "And this is the next part being sung."},
		{Start: 5.5, End: 10.0, Text: "The chorus reaches its peak right here."},
		{Start: 10.5, End: 15.0, Text: "End of the demo transcript."},
	}
}

// MockEngine 不调用任何模型，直接返回占位片段
type MockEngine struct{}

func (MockEngine) Transcribe(ctx context.Context, _ string) ([]models.Segment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return PlaceholderSegments(), nil
}

// Sanitize 修正引擎返回的时间戳，保证 0 <= Start <= End
// 负的开始时间归零，结束早于开始时取开始时间
func Sanitize(segments []models.Segment) []models.Segment {
	for i := range segments {
		if segments[i].Start < 0 {
			segments[i].Start = 0
		}
		if segments[i].End < segments[i].Start {
			segments[i].End = segments[i].Start
		}
	}
	return segments
}
