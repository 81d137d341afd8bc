// Package kafka 提供了与 Kafka 消息队列交互的功能。
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"content-system-go/internal/config"
	"content-system-go/pkg/log"
	"content-system-go/pkg/tasks"

	"github.com/go-redis/redis/v8"
	"github.com/segmentio/kafka-go"
)

// maxAttempts 是单个任务失败后提交 offset 之前的最大尝试次数。
const maxAttempts = 3

// TaskProcessor defines the interface for any service that can process a task.
// This decouples the Kafka consumer from the concrete fetcher implementation.
type TaskProcessor interface {
	Process(ctx context.Context, task tasks.FileDownloadTask) error
	// Abandon 在任务达到最大重试次数后调用。
	Abandon(ctx context.Context, task tasks.FileDownloadTask)
}

// Producer 把文件下载任务发送到 Kafka。
type Producer struct {
	writer *kafka.Writer
}

// NewProducer 初始化 Kafka 生产者。
func NewProducer(cfg config.KafkaConfig) *Producer {
	writer := &kafka.Writer{
		Addr:     kafka.TCP(cfg.Brokers),
		Topic:    cfg.Topic,
		Balancer: &kafka.LeastBytes{},
	}
	log.Info("Kafka 生产者初始化成功")
	return &Producer{writer: writer}
}

// Dispatch 发送一个文件下载任务到 Kafka。
func (p *Producer) Dispatch(ctx context.Context, task tasks.FileDownloadTask) error {
	taskBytes, err := json.Marshal(task)
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(task.Repository),
		Value: taskBytes,
	})
}

// Close 关闭生产者。
func (p *Producer) Close() error {
	return p.writer.Close()
}

// AttemptCounter 记录任务失败次数。
type AttemptCounter interface {
	Incr(ctx context.Context, key string) (int64, error)
	Reset(ctx context.Context, key string)
}

// NewAttemptCounter 在 rdb 可用时使用 Redis 计数，否则使用进程内计数。
func NewAttemptCounter(rdb *redis.Client) AttemptCounter {
	if rdb != nil {
		return &redisCounter{rdb: rdb}
	}
	return &memoryCounter{counts: make(map[string]int64)}
}

type redisCounter struct {
	rdb *redis.Client
}

func (c *redisCounter) Incr(ctx context.Context, key string) (int64, error) {
	attemptsKey := fmt.Sprintf("kafka:attempts:%s", key)
	attempts, err := c.rdb.Incr(ctx, attemptsKey).Result()
	if err == nil {
		_ = c.rdb.Expire(ctx, attemptsKey, 24*time.Hour).Err()
	}
	return attempts, err
}

func (c *redisCounter) Reset(ctx context.Context, key string) {
	_ = c.rdb.Del(ctx, fmt.Sprintf("kafka:attempts:%s", key)).Err()
}

type memoryCounter struct {
	mu     sync.Mutex
	counts map[string]int64
}

func (c *memoryCounter) Incr(_ context.Context, key string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counts[key]++
	return c.counts[key], nil
}

func (c *memoryCounter) Reset(_ context.Context, key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.counts, key)
}

// StartConsumer 启动一个 Kafka 消费者来处理文件下载任务，ctx 取消时退出。
func StartConsumer(ctx context.Context, cfg config.KafkaConfig, processor TaskProcessor, counter AttemptCounter) {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  []string{cfg.Brokers},
		Topic:    cfg.Topic,
		GroupID:  cfg.GroupID,
		MinBytes: 1,
		MaxBytes: 10e6, // 10MB
	})
	defer func() {
		if err := r.Close(); err != nil {
			log.Errorf("关闭 Kafka 消费者失败: %v", err)
		}
	}()

	log.Infof("Kafka 消费者已启动，正在监听主题 '%s'", cfg.Topic)

	for {
		m, err := r.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				log.Info("Kafka 消费者已停止")
				return
			}
			log.Error("从 Kafka 读取消息失败", err)
			return
		}
		handleMessage(ctx, r, m, processor, counter)
	}
}

// committer 是 kafka.Reader 中用于提交 offset 的部分。
type committer interface {
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
}

func handleMessage(ctx context.Context, r committer, m kafka.Message, processor TaskProcessor, counter AttemptCounter) {
	var task tasks.FileDownloadTask
	if err := json.Unmarshal(m.Value, &task); err != nil {
		log.Errorf("无法解析 Kafka 消息: %v, value: %s", err, string(m.Value))
		// 消息格式错误，直接提交，避免阻塞队列
		commit(ctx, r, m)
		return
	}

	if err := processor.Process(ctx, task); err != nil {
		log.Errorf("下载任务失败: %s, Error: %v", task.Key(), err)
		attempts, incErr := counter.Incr(ctx, task.Key())
		if incErr != nil {
			// 计数异常时保守处理：不提交 offset，让 Kafka 重试
			return
		}
		if attempts >= maxAttempts {
			log.Errorf("下载任务多次失败(>=%d)，提交 offset 终止重试: %s", maxAttempts, task.Key())
			processor.Abandon(ctx, task)
			commit(ctx, r, m)
		}
		return
	}

	counter.Reset(ctx, task.Key())
	commit(ctx, r, m)
}

func commit(ctx context.Context, r committer, m kafka.Message) {
	if err := r.CommitMessages(ctx, m); err != nil {
		log.Errorf("提交 Kafka 消息 offset 失败: %v", err)
	}
}
