package storage

import (
	"context"
	"log"
	"time"

	"github.com/z-wentao/vocalflow/pkg/models"
)

// Sweeper 定期清理过期的终态任务
// ttl <= 0 时不启动，任务永久保留
type Sweeper struct {
	store    Store
	ttl      time.Duration
	interval time.Duration
	cleanup  func(job *models.Job)
	now      func() time.Time
}

// NewSweeper cleanup 会在删除记录后调用，用来删除磁盘上的产物
func NewSweeper(store Store, ttl, interval time.Duration, cleanup func(job *models.Job)) *Sweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Sweeper{
		store:    store,
		ttl:      ttl,
		interval: interval,
		cleanup:  cleanup,
		now:      time.Now,
	}
}

// Run 阻塞直到 ctx 取消
func (s *Sweeper) Run(ctx context.Context) {
	if s.ttl <= 0 {
		return
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := s.Sweep(); err != nil {
				log.Printf("⚠️ 清理过期任务失败: %v", err)
			} else if n > 0 {
				log.Printf("🧹 已清理 %d 个过期任务", n)
			}
		}
	}
}

// Sweep 执行一次清理，返回删除的任务数
// 进行中的任务不会被删除
func (s *Sweeper) Sweep() (int, error) {
	jobs, err := s.store.List()
	if err != nil {
		return 0, err
	}

	cutoff := s.now().Add(-s.ttl)
	removed := 0
	for _, job := range jobs {
		if !job.Status.IsTerminal() || job.CompletedAt.IsZero() || job.CompletedAt.After(cutoff) {
			continue
		}

		if err := s.store.Delete(job.JobID); err != nil {
			log.Printf("⚠️ 删除任务 %s 失败: %v", job.JobID, err)
			continue
		}
		if s.cleanup != nil {
			s.cleanup(job)
		}
		removed++
	}

	return removed, nil
}
