package storage

import (
	"fmt"
	"sort"
	"sync"

	"github.com/z-wentao/vocalflow/pkg/models"
)

// JobStore 任务存储（内存实现）
// 使用 RWMutex 保证并发安全；Update 在副本上修改再整体替换，读者不会看到写了一半的记录
type JobStore struct {
	jobs map[string]*models.Job
	mu   sync.RWMutex
}

// NewJobStore 创建任务存储
func NewJobStore() *JobStore {
	return &JobStore{
		jobs: make(map[string]*models.Job),
	}
}

// Save 保存任务
func (js *JobStore) Save(job *models.Job) error {
	js.mu.Lock()
	defer js.mu.Unlock()

	js.jobs[job.JobID] = job.Clone()
	return nil
}

// Get 获取任务
func (js *JobStore) Get(jobID string) (*models.Job, error) {
	js.mu.RLock()
	defer js.mu.RUnlock()

	job, exists := js.jobs[jobID]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}

	return job.Clone(), nil
}

// Update 更新任务
func (js *JobStore) Update(jobID string, updateFn func(*models.Job) error) error {
	js.mu.Lock()
	defer js.mu.Unlock()

	job, exists := js.jobs[jobID]
	if !exists {
		return fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}

	next := job.Clone()
	if err := updateFn(next); err != nil {
		return err
	}

	js.jobs[jobID] = next
	return nil
}

// List 列出所有任务
func (js *JobStore) List() ([]*models.Job, error) {
	js.mu.RLock()
	defer js.mu.RUnlock()

	jobs := make([]*models.Job, 0, len(js.jobs))
	for _, job := range js.jobs {
		jobs = append(jobs, job.Clone())
	}

	sort.Slice(jobs, func(i, k int) bool {
		return jobs[i].CreatedAt.After(jobs[k].CreatedAt)
	})
	return jobs, nil
}

// Delete 删除任务
func (js *JobStore) Delete(jobID string) error {
	js.mu.Lock()
	defer js.mu.Unlock()

	if _, exists := js.jobs[jobID]; !exists {
		return fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}

	delete(js.jobs, jobID)
	return nil
}

// Close 关闭存储（内存存储无需关闭）
func (js *JobStore) Close() error {
	return nil
}
