package kafka

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/aihub/whatsbot-go/internal/logger"
	"go.uber.org/zap"
)

// Producer Kafka生产者，用于记录对话交换事件
type Producer struct {
	producer sarama.SyncProducer
	topic    string
}

// ExchangeEvent 一次完整问答交换的事件记录
type ExchangeEvent struct {
	ConversantID  string    `json:"conversant_id"`
	UserMessage   string    `json:"user_message"`
	Reply         string    `json:"reply"`
	ContextChunks int       `json:"context_chunks"`
	Degraded      bool      `json:"degraded"`
	Fallback      bool      `json:"fallback"`
	Attempts      int       `json:"attempts"`
	Timestamp     time.Time `json:"timestamp"`
}

var globalProducer *Producer

// InitProducer 初始化Kafka生产者
func InitProducer(brokers []string, topic string) error {
	config := sarama.NewConfig()
	config.Producer.Return.Successes = true
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 5
	config.Producer.Timeout = 10 * time.Second

	producer, err := sarama.NewSyncProducer(brokers, config)
	if err != nil {
		return fmt.Errorf("创建Kafka生产者失败: %w", err)
	}

	globalProducer = &Producer{
		producer: producer,
		topic:    topic,
	}

	logger.Info("Kafka生产者初始化成功", zap.Strings("brokers", brokers), zap.String("topic", topic))
	return nil
}

// GetProducer 获取全局生产者实例
func GetProducer() *Producer {
	return globalProducer
}

// SendExchangeEvent 发送交换事件到Kafka
func (p *Producer) SendExchangeEvent(event *ExchangeEvent) error {
	if p == nil || p.producer == nil {
		return nil // 未启用时静默返回
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("序列化交换事件失败: %w", err)
	}

	msg := &sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(event.ConversantID),
		Value: sarama.ByteEncoder(data),
	}

	partition, offset, err := p.producer.SendMessage(msg)
	if err != nil {
		return fmt.Errorf("发送交换事件失败: %w", err)
	}

	logger.Debug("交换事件已发送",
		zap.String("conversant_id", event.ConversantID),
		zap.Int32("partition", partition),
		zap.Int64("offset", offset))
	return nil
}

// Close 关闭生产者
func (p *Producer) Close() error {
	if p == nil || p.producer == nil {
		return nil
	}
	return p.producer.Close()
}
