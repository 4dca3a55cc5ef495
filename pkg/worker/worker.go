package worker

import (
	"context"
	"errors"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/z-wentao/vocalflow/pkg/queue"
)

// Processor 处理单个任务，返回的错误只用于日志，任务状态由 Processor 自己写入
type Processor interface {
	Run(ctx context.Context, jobID string) error
}

// ProcessorFunc 函数适配器
type ProcessorFunc func(ctx context.Context, jobID string) error

func (f ProcessorFunc) Run(ctx context.Context, jobID string) error { return f(ctx, jobID) }

// Options Worker 池配置
type Options struct {
	// Dispatchers 从队列取任务的 goroutine 数，不限制同时处理的任务数
	Dispatchers int
	// JobTimeout 单个任务最长处理时间，0 表示不限制
	JobTimeout time.Duration
}

// Pool 从队列取任务，每个任务在独立的 goroutine 中处理
// 一个任务卡在外部进程或网络调用时，不影响其他任务和 HTTP 请求
type Pool struct {
	queue       queue.Queue
	processor   Processor
	dispatchers int
	jobTimeout  time.Duration
	inFlight    atomic.Int64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewPool 创建 Worker 池
func NewPool(q queue.Queue, p Processor, opts Options) *Pool {
	if opts.Dispatchers <= 0 {
		opts.Dispatchers = 1
	}
	ctx, cancel := context.WithCancel(context.Background())

	return &Pool{
		queue:       q,
		processor:   p,
		dispatchers: opts.Dispatchers,
		jobTimeout:  opts.JobTimeout,
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Size 取任务的 goroutine 数量
func (p *Pool) Size() int {
	return p.dispatchers
}

// InFlight 正在处理的任务数
func (p *Pool) InFlight() int {
	return int(p.inFlight.Load())
}

// Start 启动所有 dispatcher
func (p *Pool) Start() {
	for i := 0; i < p.dispatchers; i++ {
		p.wg.Add(1)
		go p.run(i)
	}
	log.Printf("✓ 已启动 %d 个 Worker", p.dispatchers)
}

// Stop 通知 Worker 退出，正在处理的任务会收到 ctx 取消
func (p *Pool) Stop() {
	log.Println("正在停止 Worker...")
	p.cancel()
}

// Wait 等待 dispatcher 和所有正在处理的任务退出
func (p *Pool) Wait() {
	p.wg.Wait()
}

func (p *Pool) run(id int) {
	defer p.wg.Done()

	for {
		task, err := p.queue.Dequeue(p.ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, queue.ErrQueueClosed) {
				log.Printf("Worker %d 已停止", id)
				return
			}
			log.Printf("Worker %d 从队列获取任务失败: %v", id, err)
			select {
			case <-p.ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}

		p.wg.Add(1)
		go p.process(task)
	}
}

func (p *Pool) process(task *queue.Task) {
	defer p.wg.Done()
	p.inFlight.Add(1)
	defer p.inFlight.Add(-1)

	ctx := p.ctx
	if p.jobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(p.ctx, p.jobTimeout)
		defer cancel()
	}

	if err := p.processor.Run(ctx, task.JobID); err != nil {
		log.Printf("处理任务 %s 出错: %v", task.JobID, err)
	}

	// 关闭过程中被打断的任务放回队列，重新投递时已是终态，会被直接确认
	if p.ctx.Err() != nil {
		if err := p.queue.Nack(task, true); err != nil {
			log.Printf("⚠️ Nack 任务 %s 失败: %v", task.JobID, err)
		}
		return
	}

	// 任务失败也已经写入 error 状态，不需要重新投递
	if err := p.queue.Ack(task); err != nil {
		log.Printf("⚠️ Ack 任务 %s 失败: %v", task.JobID, err)
	}
}
