package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// RabbitMQQueue RabbitMQ 队列实现
// 1. 发布和消费使用独立连接
// 2. QoS prefetchCount 限制未确认的消息数，0 表示不限制（每个任务独立运行）
// 3. 手动 Ack/Nack
type RabbitMQQueue struct {
	url       string
	queueName string
	prefetch  int
	closed    chan struct{}
	closeOnce sync.Once

	publishConn    *amqp.Connection
	publishChannel *amqp.Channel
	publishMutex   sync.Mutex

	consumeConn    *amqp.Connection
	consumeChannel *amqp.Channel
	deliveries     <-chan amqp.Delivery

	// RabbitMQ Channel 不是并发安全的，Ack/Nack 需要加锁
	ackMutex sync.Mutex
}

// NewRabbitMQQueue 创建 RabbitMQ 队列
func NewRabbitMQQueue(url, queueName string, prefetch int) (*RabbitMQQueue, error) {
	if prefetch < 0 {
		prefetch = 0
	}

	rq := &RabbitMQQueue{
		url:       url,
		queueName: queueName,
		prefetch:  prefetch,
		closed:    make(chan struct{}),
	}

	if err := rq.setupPublisher(); err != nil {
		return nil, fmt.Errorf("初始化发布者失败: %w", err)
	}

	if err := rq.setupConsumer(); err != nil {
		rq.closePublisher()
		return nil, fmt.Errorf("初始化消费者失败: %w", err)
	}

	log.Printf("✓ RabbitMQ 队列初始化成功 (队列: %s, prefetch=%d)", queueName, prefetch)
	return rq, nil
}

func (rq *RabbitMQQueue) dialChannel() (*amqp.Connection, *amqp.Channel, error) {
	conn, err := amqp.Dial(rq.url)
	if err != nil {
		return nil, nil, fmt.Errorf("连接失败: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("创建 RabbitMQ Channel 失败: %w", err)
	}

	// 声明持久化队列（幂等操作）
	if _, err := ch.QueueDeclare(rq.queueName, true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, nil, fmt.Errorf("声明队列失败: %w", err)
	}

	return conn, ch, nil
}

func (rq *RabbitMQQueue) setupPublisher() error {
	conn, ch, err := rq.dialChannel()
	if err != nil {
		return err
	}

	rq.publishConn = conn
	rq.publishChannel = ch
	return nil
}

func (rq *RabbitMQQueue) setupConsumer() error {
	conn, ch, err := rq.dialChannel()
	if err != nil {
		return err
	}

	if err := ch.Qos(rq.prefetch, 0, false); err != nil {
		ch.Close()
		conn.Close()
		return fmt.Errorf("设置 QoS 失败: %w", err)
	}

	deliveries, err := ch.Consume(
		rq.queueName,
		"vocalflow-worker",
		false, // autoAck: 手动确认
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return fmt.Errorf("启动消费失败: %w", err)
	}

	rq.consumeConn = conn
	rq.consumeChannel = ch
	rq.deliveries = deliveries
	return nil
}

// Enqueue 发布任务
func (rq *RabbitMQQueue) Enqueue(task *Task) error {
	select {
	case <-rq.closed:
		return ErrQueueClosed
	default:
	}

	body, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("序列化任务失败: %w", err)
	}

	rq.publishMutex.Lock()
	defer rq.publishMutex.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err = rq.publishChannel.PublishWithContext(ctx, "", rq.queueName, false, false, amqp.Publishing{
		DeliveryMode: amqp.Persistent,
		ContentType:  "application/json",
		Body:         body,
		Timestamp:    time.Now(),
	})
	if err != nil {
		return fmt.Errorf("发布消息失败: %w", err)
	}

	return nil
}

// Dequeue 所有 worker 共享同一个 deliveries channel，每条消息只会被一个 worker 读到
func (rq *RabbitMQQueue) Dequeue(ctx context.Context) (*Task, error) {
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-rq.closed:
			return nil, ErrQueueClosed
		case delivery, ok := <-rq.deliveries:
			if !ok {
				return nil, ErrQueueClosed
			}

			var task Task
			if err := json.Unmarshal(delivery.Body, &task); err != nil || task.JobID == "" {
				log.Printf("⚠️ 丢弃无法解析的消息: %s", string(delivery.Body))
				rq.nack(delivery.DeliveryTag, false)
				continue
			}

			task.delivery = delivery.DeliveryTag
			return &task, nil
		}
	}
}

// Ack 确认消息
func (rq *RabbitMQQueue) Ack(task *Task) error {
	tag, ok := task.delivery.(uint64)
	if !ok {
		return nil
	}

	rq.ackMutex.Lock()
	defer rq.ackMutex.Unlock()
	return rq.consumeChannel.Ack(tag, false)
}

// Nack 拒绝消息
func (rq *RabbitMQQueue) Nack(task *Task, requeue bool) error {
	tag, ok := task.delivery.(uint64)
	if !ok {
		return nil
	}
	return rq.nack(tag, requeue)
}

func (rq *RabbitMQQueue) nack(tag uint64, requeue bool) error {
	rq.ackMutex.Lock()
	defer rq.ackMutex.Unlock()
	return rq.consumeChannel.Nack(tag, false, requeue)
}

// Close 关闭队列
func (rq *RabbitMQQueue) Close() error {
	rq.closeOnce.Do(func() {
		close(rq.closed)

		if rq.consumeChannel != nil {
			rq.consumeChannel.Close()
		}
		if rq.consumeConn != nil {
			rq.consumeConn.Close()
		}
		rq.closePublisher()

		log.Println("✓ RabbitMQ 队列已关闭")
	})
	return nil
}

func (rq *RabbitMQQueue) closePublisher() {
	if rq.publishChannel != nil {
		rq.publishChannel.Close()
	}
	if rq.publishConn != nil {
		rq.publishConn.Close()
	}
}
