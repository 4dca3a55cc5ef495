package storage

import (
	"errors"
	"log"
	"time"

	"github.com/z-wentao/vocalflow/pkg/models"
)

// HybridJobStore 混合存储：Redis（热数据） + PostgreSQL（冷数据）
// 进行中的状态只写 Redis，终态异步批量落库
type HybridJobStore struct {
	redis     Store
	db        Store
	syncQueue chan *models.Job
	stopCh    chan struct{}
	doneCh    chan struct{}
}

// NewHybridJobStore 创建混合存储
func NewHybridJobStore(redis, db Store) *HybridJobStore {
	store := &HybridJobStore{
		redis:     redis,
		db:        db,
		syncQueue: make(chan *models.Job, 100),
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}

	go store.syncWorker()

	log.Println("✓ 混合存储初始化成功（Redis + PostgreSQL）")
	return store
}

// Save 立即写 Redis，终态异步写数据库
func (s *HybridJobStore) Save(job *models.Job) error {
	if err := s.redis.Save(job); err != nil {
		log.Printf("⚠️ Redis 写入失败: %v，直接写数据库", err)
		return s.db.Save(job)
	}

	if job.Status.IsTerminal() {
		s.asyncSyncToDB(job.Clone())
	}
	return nil
}

// Get 优先 Redis，未命中查数据库并回写 Redis
func (s *HybridJobStore) Get(jobID string) (*models.Job, error) {
	job, err := s.redis.Get(jobID)
	if err == nil {
		return job, nil
	}

	job, err = s.db.Get(jobID)
	if err != nil {
		return nil, err
	}

	log.Printf("📚 Redis 缓存未命中，已从数据库加载: %s", jobID)
	go func(j *models.Job) {
		if err := s.redis.Save(j); err != nil {
			log.Printf("⚠️ 回写 Redis 失败: %v", err)
		}
	}(job.Clone())

	return job, nil
}

// Update 只更新 Redis，进入终态时同步数据库
func (s *HybridJobStore) Update(jobID string, updateFn func(*models.Job) error) error {
	var fnErr error
	var updated *models.Job
	wrapped := func(j *models.Job) error {
		if fnErr = updateFn(j); fnErr != nil {
			return fnErr
		}
		updated = j.Clone()
		return nil
	}

	err := s.redis.Update(jobID, wrapped)
	if fnErr != nil {
		return fnErr
	}
	if err != nil {
		log.Printf("⚠️ Redis 更新失败: %v，尝试更新数据库", err)
		return s.db.Update(jobID, updateFn)
	}

	if updated != nil && updated.Status.IsTerminal() {
		s.asyncSyncToDB(updated)
	}
	return nil
}

// List 优先 Redis，失败降级到数据库
func (s *HybridJobStore) List() ([]*models.Job, error) {
	jobs, err := s.redis.List()
	if err != nil {
		log.Printf("⚠️ Redis 列表查询失败: %v，降级到数据库", err)
		return s.db.List()
	}
	return jobs, nil
}

// Delete 同时删除 Redis 和数据库中的数据
func (s *HybridJobStore) Delete(jobID string) error {
	redisErr := s.redis.Delete(jobID)
	dbErr := s.db.Delete(jobID)

	// 两边都没有才算不存在
	if errors.Is(redisErr, ErrJobNotFound) && errors.Is(dbErr, ErrJobNotFound) {
		return dbErr
	}
	if dbErr != nil && !errors.Is(dbErr, ErrJobNotFound) {
		return dbErr
	}
	return nil
}

// Close 停止同步 Worker，写完剩余数据后关闭两个存储
func (s *HybridJobStore) Close() error {
	close(s.stopCh)

	select {
	case <-s.doneCh:
	case <-time.After(5 * time.Second):
		log.Printf("⚠️ 同步队列清空超时，剩余 %d 个任务", len(s.syncQueue))
	}

	redisErr := s.redis.Close()
	dbErr := s.db.Close()

	log.Println("✓ 混合存储已关闭")
	return errors.Join(redisErr, dbErr)
}

func (s *HybridJobStore) asyncSyncToDB(job *models.Job) {
	select {
	case s.syncQueue <- job:
	default:
		log.Printf("⚠️ 同步队列已满，同步写入数据库")
		if err := s.db.Save(job); err != nil {
			log.Printf("❌ 同步写入数据库失败: %v", err)
		}
	}
}

// syncWorker 批量写入（50 条或 5 秒）
func (s *HybridJobStore) syncWorker() {
	defer close(s.doneCh)

	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	batch := make([]*models.Job, 0, 50)

	for {
		select {
		case job := <-s.syncQueue:
			batch = append(batch, job)
			if len(batch) >= 50 {
				s.batchSave(batch)
				batch = batch[:0]
			}

		case <-ticker.C:
			if len(batch) > 0 {
				s.batchSave(batch)
				batch = batch[:0]
			}

		case <-s.stopCh:
			// 把队列里剩下的也取出来
			for {
				select {
				case job := <-s.syncQueue:
					batch = append(batch, job)
				default:
					s.batchSave(batch)
					return
				}
			}
		}
	}
}

func (s *HybridJobStore) batchSave(jobs []*models.Job) {
	if len(jobs) == 0 {
		return
	}

	successCount := 0
	for _, job := range jobs {
		if err := s.db.Save(job); err != nil {
			log.Printf("❌ 同步任务失败: %s, 错误: %v", job.JobID, err)
			continue
		}
		successCount++
	}

	log.Printf("✓ 成功同步 %d/%d 个任务到数据库", successCount, len(jobs))
}
