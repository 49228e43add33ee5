// Package kafka 提供了与 Kafka 消息队列交互的功能。
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"talanoor-go/internal/config"
	"talanoor-go/pkg/database"
	"talanoor-go/pkg/log"
	"talanoor-go/pkg/tasks"

	"github.com/go-redis/redis/v8"
	"github.com/segmentio/kafka-go"
)

// maxAttempts 是单条任务的最大处理次数，超过后提交 offset 放弃重试。
const maxAttempts = 3

// TaskProcessor defines the interface for any service that can process a task.
// This decouples the Kafka consumer from the concrete indexing implementation.
type TaskProcessor interface {
	Process(ctx context.Context, task tasks.MessageIndexTask) error
}

var producer *kafka.Writer

// InitProducer 初始化 Kafka 生产者。
func InitProducer(cfg config.KafkaConfig) {
	producer = &kafka.Writer{
		Addr:         kafka.TCP(strings.Split(cfg.Brokers, ",")...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{}, // 同一对话的消息进入同一分区，保持顺序
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 50 * time.Millisecond,
	}
	log.Info("Kafka 生产者初始化成功")
}

// Close 关闭生产者并刷新未发送的消息。
func Close() error {
	if producer == nil {
		return nil
	}
	return producer.Close()
}

// ProduceMessageTask 发送一个消息索引任务到 Kafka，以对话 ID 作为分区键。
func ProduceMessageTask(ctx context.Context, task tasks.MessageIndexTask) error {
	if producer == nil {
		return errors.New("kafka producer not initialized")
	}
	taskBytes, err := json.Marshal(task)
	if err != nil {
		return err
	}
	return producer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(task.ChatID),
		Value: taskBytes,
	})
}

// Publisher 把包级别的生产者包装成可注入的依赖。
type Publisher struct{}

// PublishMessageTask 实现 service.IndexPublisher。
func (Publisher) PublishMessageTask(ctx context.Context, task tasks.MessageIndexTask) error {
	return ProduceMessageTask(ctx, task)
}

// StartConsumer 启动一个 Kafka 消费者来处理消息索引任务，ctx 取消时退出。
func StartConsumer(ctx context.Context, cfg config.KafkaConfig, processor TaskProcessor) {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  strings.Split(cfg.Brokers, ","),
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
	consume(ctx, r, database.RDB, processor)
}

// 读取失败后的退避区间，连续失败时逐次翻倍。
var (
	fetchBackoffMin = 500 * time.Millisecond
	fetchBackoffMax = 30 * time.Second
)

// messageReader 是 consume 用到的 *kafka.Reader 方法子集。
type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
}

// consume 循环拉取并处理消息，直到 ctx 被取消。
// 读取失败只记录日志并退避，broker 短暂不可用不会让消费者退出。
func consume(ctx context.Context, r messageReader, rdb *redis.Client, processor TaskProcessor) {
	backoff := fetchBackoffMin
	for {
		m, err := r.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				log.Info("Kafka 消费者收到停止信号")
				return
			}
			log.Errorf("从 Kafka 读取消息失败，%s 后重试: %v", backoff, err)
			select {
			case <-ctx.Done():
				log.Info("Kafka 消费者收到停止信号")
				return
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > fetchBackoffMax {
				backoff = fetchBackoffMax
			}
			continue
		}
		backoff = fetchBackoffMin

		var task tasks.MessageIndexTask
		if err := json.Unmarshal(m.Value, &task); err != nil {
			log.Errorf("无法解析 Kafka 消息: %v, value: %s", err, string(m.Value))
			// 消息格式错误，直接提交，避免阻塞队列
			commit(ctx, r, m)
			continue
		}

		attemptsKey := fmt.Sprintf("kafka:attempts:message:%d", task.MessageID)
		if err := processor.Process(ctx, task); err != nil {
			log.Errorf("处理消息索引任务失败: message=%d, chat=%s, error: %v", task.MessageID, task.ChatID, err)
			// 使用 Redis 计数失败次数，达到阈值后提交 offset 终止重试
			attempts, incErr := rdb.Incr(ctx, attemptsKey).Result()
			if incErr != nil {
				// Redis 异常时保守处理：不提交 offset，让 Kafka 重试
				continue
			}
			_ = rdb.Expire(ctx, attemptsKey, 24*time.Hour).Err()
			if attempts >= maxAttempts {
				log.Errorf("消息索引任务多次失败(>=%d)，提交 offset 终止重试: message=%d", maxAttempts, task.MessageID)
				commit(ctx, r, m)
			}
			continue
		}

		_ = rdb.Del(ctx, attemptsKey).Err()
		commit(ctx, r, m)
	}
}

func commit(ctx context.Context, r messageReader, m kafka.Message) {
	if err := r.CommitMessages(ctx, m); err != nil {
		log.Errorf("提交 Kafka 消息 offset 失败: %v", err)
	}
}
