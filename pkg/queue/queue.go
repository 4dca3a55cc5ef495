package queue

import (
	"context"
	"errors"
)

var (
	// ErrQueueFull 内存队列缓冲区已满
	ErrQueueFull = errors.New("queue full")
	// ErrQueueClosed 队列已关闭
	ErrQueueClosed = errors.New("queue closed")
)

// Task 队列中的任务，只携带 job id，任务状态都在 Store 里
type Task struct {
	JobID string `json:"job_id"`

	// RabbitMQ delivery（用于 Ack/Nack），不序列化
	delivery any
}

// Queue 任务队列接口
type Queue interface {
	// Enqueue 将任务加入队列
	Enqueue(task *Task) error

	// Dequeue 从队列取出任务，阻塞直到有任务、队列关闭或 ctx 取消
	Dequeue(ctx context.Context) (*Task, error)

	// Ack 确认消息（任务处理完成）
	Ack(task *Task) error

	// Nack 拒绝消息
	// requeue: 是否重新入队
	Nack(task *Task, requeue bool) error

	// Close 关闭队列
	Close() error
}
