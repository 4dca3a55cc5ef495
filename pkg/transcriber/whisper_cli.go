package transcriber

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/z-wentao/vocalflow/pkg/models"
)

// WhisperCLIEngine 调用本地 openai-whisper 命令行
// whisper <audio> --model base --output_format json --output_dir <tmp>
type WhisperCLIEngine struct {
	Bin      string
	Model    string
	Language string
}

// NewWhisperCLIEngine 创建本地 whisper 引擎
func NewWhisperCLIEngine(bin, model, language string) *WhisperCLIEngine {
	if bin == "" {
		bin = "whisper"
	}
	if model == "" {
		model = "base"
	}
	return &WhisperCLIEngine{Bin: bin, Model: model, Language: language}
}

type whisperOutput struct {
	Text     string `json:"text"`
	Language string `json:"language"`
	Segments []struct {
		Start float64 `json:"start"`
		End   float64 `json:"end"`
		Text  string  `json:"text"`
	} `json:"segments"`
}

func (e *WhisperCLIEngine) Transcribe(ctx context.Context, audioPath string) ([]models.Segment, error) {
	outDir, err := os.MkdirTemp("", "vocalflow-whisper-")
	if err != nil {
		return nil, fmt.Errorf("创建临时目录失败: %w", err)
	}
	defer os.RemoveAll(outDir)

	args := []string{audioPath, "--model", e.Model, "--output_format", "json", "--output_dir", outDir}
	if e.Language != "" {
		args = append(args, "--language", e.Language)
	}

	cmd := exec.CommandContext(ctx, e.Bin, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("whisper 执行失败: %w (stderr: %s)", err, strings.TrimSpace(stderr.String()))
	}

	base := strings.TrimSuffix(filepath.Base(audioPath), filepath.Ext(audioPath))
	data, err := os.ReadFile(filepath.Join(outDir, base+".json"))
	if err != nil {
		return nil, fmt.Errorf("读取 whisper 输出失败: %w", err)
	}

	var parsed whisperOutput
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("解析 whisper 输出失败: %w", err)
	}

	segments := make([]models.Segment, 0, len(parsed.Segments))
	for _, s := range parsed.Segments {
		segments = append(segments, models.Segment{Start: s.Start, End: s.End, Text: s.Text})
	}
	return Sanitize(segments), nil
}
