package media

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// FFmpegConverter 使用 ffmpeg 转码，ffprobe 获取时长
type FFmpegConverter struct {
	FFmpegPath  string
	FFprobePath string
}

// NewFFmpegConverter 路径为空时从 PATH 查找
func NewFFmpegConverter(ffmpegPath, ffprobePath string) *FFmpegConverter {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	return &FFmpegConverter{FFmpegPath: ffmpegPath, FFprobePath: ffprobePath}
}

func (c *FFmpegConverter) Name() string { return "ffmpeg" }

// Convert ffmpeg -y -i input -ac 1 -ar 16000 -f wav output
func (c *FFmpegConverter) Convert(ctx context.Context, inputPath, outputPath string, sampleRate int) (float64, error) {
	cmd := exec.CommandContext(ctx, c.FFmpegPath,
		"-y", "-i", inputPath,
		"-vn",
		"-ac", "1",
		"-ar", strconv.Itoa(sampleRate),
		"-sample_fmt", "s16",
		"-f", "wav",
		outputPath,
	)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return 0, fmt.Errorf("ffmpeg 执行失败: %w (stderr: %s)", err, tail(stderr.String(), 500))
	}

	duration, err := ProbeDuration(ctx, c.FFprobePath, outputPath)
	if err != nil {
		// ffprobe 不可用时直接读 WAV 头
		return Probe(outputPath)
	}
	return duration, nil
}

// ProbeDuration 获取音频/视频文件时长（秒）
// ffprobe -v error -show_entries format=duration -of default=noprint_wrappers=1:nokey=1 input
func ProbeDuration(ctx context.Context, ffprobePath, path string) (float64, error) {
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}

	cmd := exec.CommandContext(ctx, ffprobePath,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return 0, fmt.Errorf("ffprobe 执行失败: %w (stderr: %s)", err, tail(stderr.String(), 500))
	}

	durationStr := strings.TrimSpace(stdout.String())
	if durationStr == "" {
		return 0, fmt.Errorf("ffprobe 未返回时长信息 (stderr: %s)", stderr.String())
	}

	duration, err := strconv.ParseFloat(durationStr, 64)
	if err != nil {
		return 0, fmt.Errorf("解析时长失败: %w (output: %s)", err, durationStr)
	}
	return duration, nil
}

// tail 只保留输出结尾，ffmpeg 的 stderr 可能非常长
func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}
