package separator

import (
	"bytes"
	"context"
	"errors"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// DemucsEngine 调用 demucs CLI 分离人声
// python -m demucs -n htdemucs --two-stems vocals <audio> -o <workDir>
type DemucsEngine struct {
	Python string
	Model  string
}

// NewDemucsEngine 参数为空时使用 python3 / htdemucs
func NewDemucsEngine(python, model string) *DemucsEngine {
	if python == "" {
		python = "python3"
	}
	if model == "" {
		model = "htdemucs"
	}
	return &DemucsEngine{Python: python, Model: model}
}

// OutputPath demucs 默认输出结构: {workDir}/{model}/{文件名去掉扩展名}/vocals.wav
func (e *DemucsEngine) OutputPath(audioPath, workDir string) string {
	base := strings.TrimSuffix(filepath.Base(audioPath), filepath.Ext(audioPath))
	return filepath.Join(workDir, e.Model, base, "vocals.wav")
}

// Separate 同步执行，调用前任务状态已经是 separating
func (e *DemucsEngine) Separate(ctx context.Context, audioPath, workDir string) (string, error) {
	cmd := exec.CommandContext(ctx, e.Python,
		"-m", "demucs",
		"-n", e.Model,
		"--two-stems", "vocals",
		audioPath,
		"-o", workDir,
	)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		exitCode := -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		}
		log.Printf("❌ Demucs 执行失败 (exit code %d):\n%s", exitCode, stderr.String())
		return "", &ProcessError{
			ExitCode: exitCode,
			Stderr:   lastLines(stderr.String(), 5),
			Err:      err,
		}
	}

	separated := e.OutputPath(audioPath, workDir)
	if _, err := os.Stat(separated); err != nil {
		log.Printf("⚠️ 未找到人声文件 %s，使用原音频", separated)
		return audioPath, nil
	}

	log.Printf("✓ 人声分离完成: %s", separated)
	return separated, nil
}

// lastLines 只保留最后几行，完整输出已经写进日志
func lastLines(s string, n int) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}
