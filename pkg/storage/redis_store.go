package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/z-wentao/vocalflow/pkg/models"
)

const (
	redisKeyPrefix = "vocalflow:job:"
	redisIndexKey  = "vocalflow:jobs:index"
)

// RedisJobStore Redis 任务存储
// ttl 为 0 时不过期，和内存存储的生命周期一致
type RedisJobStore struct {
	client *redis.Client
	ttl    time.Duration
	ctx    context.Context
}

// NewRedisJobStore 创建 Redis 任务存储
func NewRedisJobStore(addr, password string, db int, ttl time.Duration) (*RedisJobStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	// 测试连接
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("连接 Redis 失败: %w", err)
	}

	return newRedisJobStore(client, ttl), nil
}

func newRedisJobStore(client *redis.Client, ttl time.Duration) *RedisJobStore {
	return &RedisJobStore{
		client: client,
		ttl:    ttl,
		ctx:    context.Background(),
	}
}

// getKey 格式: "vocalflow:job:{jobID}"
func (rs *RedisJobStore) getKey(jobID string) string {
	return redisKeyPrefix + jobID
}

// Save 保存任务到 Redis
func (rs *RedisJobStore) Save(job *models.Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("序列化任务失败: %w", err)
	}

	// 任务数据和索引在一个事务里写入
	_, err = rs.client.TxPipelined(rs.ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(rs.ctx, rs.getKey(job.JobID), data, rs.ttl)
		// Sorted Set 索引，score 为创建时间戳
		pipe.ZAdd(rs.ctx, redisIndexKey, redis.Z{
			Score:  float64(job.CreatedAt.UnixNano()),
			Member: job.JobID,
		})
		return nil
	})
	if err != nil {
		return fmt.Errorf("保存到 Redis 失败: %w", err)
	}

	return nil
}

// Get 从 Redis 获取任务
func (rs *RedisJobStore) Get(jobID string) (*models.Job, error) {
	data, err := rs.client.Get(rs.ctx, rs.getKey(jobID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	if err != nil {
		return nil, fmt.Errorf("从 Redis 获取失败: %w", err)
	}

	var job models.Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("反序列化任务失败: %w", err)
	}

	return &job, nil
}

// Update 更新任务
// 单进程内只有对应 job 的 pipeline 在写，所以读-改-写不需要 WATCH
func (rs *RedisJobStore) Update(jobID string, updateFn func(*models.Job) error) error {
	job, err := rs.Get(jobID)
	if err != nil {
		return err
	}

	if err := updateFn(job); err != nil {
		return err
	}

	return rs.Save(job)
}

// List 列出所有任务（按创建时间倒序）
func (rs *RedisJobStore) List() ([]*models.Job, error) {
	jobIDs, err := rs.client.ZRevRange(rs.ctx, redisIndexKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("获取任务索引失败: %w", err)
	}

	jobs := make([]*models.Job, 0, len(jobIDs))
	for _, jobID := range jobIDs {
		job, err := rs.Get(jobID)
		if errors.Is(err, ErrJobNotFound) {
			// 数据已过期，顺便清理索引
			rs.client.ZRem(rs.ctx, redisIndexKey, jobID)
			continue
		}
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}

	return jobs, nil
}

// Delete 删除任务
func (rs *RedisJobStore) Delete(jobID string) error {
	deleted, err := rs.client.Del(rs.ctx, rs.getKey(jobID)).Result()
	if err != nil {
		return fmt.Errorf("删除任务失败: %w", err)
	}

	rs.client.ZRem(rs.ctx, redisIndexKey, jobID)

	if deleted == 0 {
		return fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	return nil
}

// Close 关闭 Redis 连接
func (rs *RedisJobStore) Close() error {
	return rs.client.Close()
}
