package separator

import (
	"context"
	"errors"
	"fmt"
)

// ErrSeparationFailed 人声分离进程返回非 0，属于致命错误
var ErrSeparationFailed = errors.New("vocal separation failed")

// Engine 人声分离能力
// 返回可播放的音频路径；产物缺失时返回输入路径而不是报错
type Engine interface {
	Separate(ctx context.Context, audioPath, workDir string) (string, error)
}

// ProcessError 外部进程失败，带上 stderr 方便排查
type ProcessError struct {
	ExitCode int
	Stderr   string
	Err      error
}

func (e *ProcessError) Error() string {
	if e.Stderr == "" {
		return fmt.Sprintf("%s (exit code %d): %v", ErrSeparationFailed, e.ExitCode, e.Err)
	}
	return fmt.Sprintf("%s (exit code %d): %s", ErrSeparationFailed, e.ExitCode, e.Stderr)
}

func (e *ProcessError) Is(target error) bool {
	return target == ErrSeparationFailed
}

func (e *ProcessError) Unwrap() error {
	return e.Err
}

// NoopEngine 不做分离，直接返回输入
type NoopEngine struct{}

func (NoopEngine) Separate(_ context.Context, audioPath, _ string) (string, error) {
	return audioPath, nil
}
