package server

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// LockDir 创建工作目录并加锁，避免两个进程共用同一个上传目录
// 返回的函数用于释放锁
func LockDir(dir string) (func() error, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("创建目录 %s 失败: %w", dir, err)
	}

	lock := flock.New(filepath.Join(dir, ".vocalflow.lock"))
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("获取目录锁失败: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("目录 %s 已被另一个 vocalflow 进程使用", dir)
	}

	return lock.Unlock, nil
}
