package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"
)

// NewSaramaConfig — настройки producer'а уведомлений: подтверждение всеми репликами
// и идемпотентная запись, чтобы ретраи sarama не дублировали сообщения в партиции.
func NewSaramaConfig() *sarama.Config {
	cfg := sarama.NewConfig()
	cfg.ClientID = "oms-reservations"
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 5
	cfg.Producer.Return.Successes = true
	cfg.Producer.Compression = sarama.CompressionSnappy
	cfg.Producer.Idempotent = true
	cfg.Net.MaxOpenRequests = 1
	return cfg
}

// NewMessage собирает сообщение; заголовки сортируются по имени, чтобы запись была детерминированной.
func NewMessage(topic, key string, value []byte, headers map[string]string, at time.Time) *sarama.ProducerMessage {
	names := make([]string, 0, len(headers))
	for name := range headers {
		names = append(names, name)
	}
	sort.Strings(names)

	msg := &sarama.ProducerMessage{
		Topic:     topic,
		Key:       sarama.StringEncoder(key),
		Value:     sarama.ByteEncoder(value),
		Timestamp: at.UTC(),
	}
	for _, name := range names {
		msg.Headers = append(msg.Headers, sarama.RecordHeader{Key: []byte(name), Value: []byte(headers[name])})
	}
	return msg
}

// Producer — синхронный Kafka producer: Send возвращается после подтверждения брокера.
type Producer struct {
	producer sarama.SyncProducer
	logger   *log.Entry
	now      func() time.Time
}

// NewProducer подключается к брокерам.
func NewProducer(brokers []string, logger *log.Entry) (*Producer, error) {
	producer, err := sarama.NewSyncProducer(brokers, NewSaramaConfig())
	if err != nil {
		return nil, fmt.Errorf("create kafka producer for %v: %w", brokers, err)
	}
	return NewProducerFrom(producer, logger), nil
}

// NewProducerFrom оборачивает готовый SyncProducer, например mocks.SyncProducer в тестах.
func NewProducerFrom(producer sarama.SyncProducer, logger *log.Entry) *Producer {
	if logger == nil {
		logger = log.WithField("component", "kafka-producer")
	}
	return &Producer{producer: producer, logger: logger, now: time.Now}
}

// Send отправляет сообщение в topic.
func (p *Producer) Send(ctx context.Context, topic, key string, value []byte, headers map[string]string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	logger := p.logger.WithFields(log.Fields{"topic": topic, "key": key})
	partition, offset, err := p.producer.SendMessage(NewMessage(topic, key, value, headers, p.now()))
	if err != nil {
		logger.WithError(err).Error("failed to send message to kafka")
		return fmt.Errorf("send to %s: %w", topic, err)
	}

	logger.WithFields(log.Fields{"partition": partition, "offset": offset}).Debug("message sent to kafka")
	return nil
}

// SendJSON кодирует value в JSON и отправляет его.
func (p *Producer) SendJSON(ctx context.Context, topic, key string, value any, headers map[string]string) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode message for %s: %w", topic, err)
	}
	return p.Send(ctx, topic, key, data, headers)
}

func (p *Producer) Close() error {
	if err := p.producer.Close(); err != nil {
		return fmt.Errorf("close kafka producer: %w", err)
	}
	return nil
}
