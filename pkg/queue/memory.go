package queue

import (
	"context"
	"sync"
)

// MemoryQueue 基于 Channel 的内存队列实现
type MemoryQueue struct {
	queue  chan *Task
	mu     sync.RWMutex
	closed bool
}

// NewMemoryQueue 创建内存队列
func NewMemoryQueue(bufferSize int) *MemoryQueue {
	if bufferSize <= 0 {
		bufferSize = 100
	}
	return &MemoryQueue{
		queue: make(chan *Task, bufferSize),
	}
}

// Enqueue 将任务加入队列，缓冲区满时立即返回 ErrQueueFull
func (mq *MemoryQueue) Enqueue(task *Task) error {
	mq.mu.RLock()
	defer mq.mu.RUnlock()

	if mq.closed {
		return ErrQueueClosed
	}

	select {
	case mq.queue <- task:
		return nil
	default:
		return ErrQueueFull
	}
}

// Dequeue 从队列取出任务（阻塞等待）
func (mq *MemoryQueue) Dequeue(ctx context.Context) (*Task, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case task, ok := <-mq.queue:
		if !ok {
			return nil, ErrQueueClosed
		}
		return task, nil
	}
}

// Ack 内存队列无需确认
func (mq *MemoryQueue) Ack(*Task) error { return nil }

// Nack requeue 时重新放回队列
func (mq *MemoryQueue) Nack(task *Task, requeue bool) error {
	if !requeue {
		return nil
	}
	return mq.Enqueue(task)
}

// Close 关闭队列，已入队的任务仍可被取出
func (mq *MemoryQueue) Close() error {
	mq.mu.Lock()
	defer mq.mu.Unlock()

	if mq.closed {
		return nil
	}
	mq.closed = true
	close(mq.queue)
	return nil
}
