package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/segmentio/kafka-go"
	"insight-vault-go/internal/config"
	"insight-vault-go/pkg/database"
	"insight-vault-go/pkg/log"
)

// kafkaPublisher 按事件名将消息写入对应的 Kafka Topic。
type kafkaPublisher struct {
	writers map[Name]*kafka.Writer
}

// NewKafkaPublisher 创建 Kafka 事件发布器，每个事件一个独立的 Writer。
func NewKafkaPublisher(cfg config.KafkaConfig) Publisher {
	newWriter := func(topic string) *kafka.Writer {
		return &kafka.Writer{
			Addr:     kafka.TCP(cfg.Brokers),
			Topic:    topic,
			Balancer: &kafka.LeastBytes{},
		}
	}
	p := &kafkaPublisher{
		writers: map[Name]*kafka.Writer{
			AudioUploaded:   newWriter(cfg.Topics.AudioUploaded),
			PDFUploaded:     newWriter(cfg.Topics.PDFUploaded),
			TextExtracted:   newWriter(cfg.Topics.TextExtracted),
			ResearchCreated: newWriter(cfg.Topics.ResearchCreated),
		},
	}
	log.Info("Kafka 事件发布器初始化成功")
	return p
}

// Publish 将事件负载序列化后写入对应 Topic。
func (p *kafkaPublisher) Publish(ctx context.Context, event Name, payload DocumentEvent) error {
	writer, ok := p.writers[event]
	if !ok {
		return fmt.Errorf("未知的事件名: %s", event)
	}

	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	err = writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(fmt.Sprintf("%d", payload.DocumentID)),
		Value: payloadBytes,
	})
	if err != nil {
		return fmt.Errorf("发布事件 %s 失败: %w", event, err)
	}
	log.Infof("[Events] 事件已发布: %s, DocumentID: %d", event, payload.DocumentID)
	return nil
}

// HandlerFunc 处理一条事件，由任务运行器实现。
// 返回 nil 表示事件已被消化（包括文档被标记为终态失败的情况）；
// 返回错误表示基础设施层面的问题，重投递可能有帮助。
type HandlerFunc func(ctx context.Context, ev DocumentEvent) error

// StartConsumer 为单个 Topic 启动一个消费循环。
// 并发上限由调用方传入的 ants 协程池决定：池满时 Submit 阻塞，
// 从而把该任务类型的并发实例数压在声明的上限之下。
func StartConsumer(cfg config.KafkaConfig, topic string, pool *ants.Pool, handle HandlerFunc) {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  []string{cfg.Brokers},
		Topic:    topic,
		GroupID:  cfg.GroupID,
		MinBytes: 10e3, // 10KB
		MaxBytes: 10e6, // 10MB
	})

	log.Infof("Kafka 消费者已启动，正在监听主题 '%s'", topic)

	for {
		m, err := r.FetchMessage(context.Background())
		if err != nil {
			log.Error("从 Kafka 读取消息失败", err)
			break
		}

		var ev DocumentEvent
		if err := json.Unmarshal(m.Value, &ev); err != nil {
			log.Errorf("无法解析 Kafka 消息: %v, value: %s", err, string(m.Value))
			// 消息格式错误，直接提交，避免阻塞队列
			if err := r.CommitMessages(context.Background(), m); err != nil {
				log.Errorf("提交错误消息失败: %v", err)
			}
			continue
		}

		msg := m
		submitErr := pool.Submit(func() {
			consume(r, topic, msg, ev, handle)
		})
		if submitErr != nil {
			log.Errorf("提交任务到协程池失败: %v", submitErr)
		}
	}

	if err := r.Close(); err != nil {
		log.Fatalf("关闭 Kafka 消费者失败: %v", err)
	}
}

// consume 执行一条事件并决定是否提交 offset。
// 失败时使用 Redis 计数：未达上限不提交 offset 让 Kafka 重投递，
// 幂等的步骤日志保证重投递只会从断点继续，不会重复执行。
func consume(r *kafka.Reader, topic string, m kafka.Message, ev DocumentEvent, handle HandlerFunc) {
	ctx := context.Background()
	log.Infof("[Events] 收到事件: topic=%s, offset=%d, DocumentID=%d", topic, m.Offset, ev.DocumentID)

	if err := handle(ctx, ev); err != nil {
		log.Errorf("[Events] 处理事件失败: topic=%s, DocumentID=%d, Error: %v", topic, ev.DocumentID, err)
		attemptsKey := fmt.Sprintf("events:attempts:%s:%d", topic, ev.DocumentID)
		attempts, incErr := database.RDB.Incr(ctx, attemptsKey).Result()
		if incErr != nil {
			// Redis 异常时保守处理：不提交 offset，让 Kafka 重试
			return
		}
		_ = database.RDB.Expire(ctx, attemptsKey, 24*time.Hour).Err()
		if attempts >= 3 {
			log.Errorf("[Events] 事件多次投递失败(>=3)，提交 offset 终止重试: topic=%s, DocumentID=%d", topic, ev.DocumentID)
			if err := r.CommitMessages(ctx, m); err != nil {
				log.Errorf("提交 Kafka 消息 offset 失败: %v", err)
			}
		}
		return
	}

	// 处理成功，清理失败计数并提交 offset
	_ = database.RDB.Del(ctx, fmt.Sprintf("events:attempts:%s:%d", topic, ev.DocumentID)).Err()
	if err := r.CommitMessages(ctx, m); err != nil {
		log.Errorf("提交 Kafka 消息 offset 失败: %v", err)
	}
}
