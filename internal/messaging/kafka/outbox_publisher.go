package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/sony/gobreaker/v2"

	"github.com/vladislavdragonenkov/oms-reservations/internal/domain"
)

const (
	defaultBreakerFailures = 5
	defaultBreakerTimeout  = 10 * time.Second
)

// OutboxTopicPublisher публикует outbox-сообщения в Kafka topic через circuit breaker.
// Пока breaker открыт, Publish сразу возвращает ошибку и брокер не дёргается.
type OutboxTopicPublisher struct {
	producer *Producer
	topic    string
	raw      bool
	breaker  *gobreaker.CircuitBreaker[struct{}]
	logger   *log.Entry
	now      func() time.Time
}

// PublisherOption настраивает OutboxTopicPublisher.
type PublisherOption func(*publisherConfig)

type publisherConfig struct {
	failures uint32
	timeout  time.Duration
	logger   *log.Entry
}

// WithBreaker задаёт число подряд неудачных отправок до размыкания и время до пробной отправки.
func WithBreaker(consecutiveFailures uint32, openTimeout time.Duration) PublisherOption {
	return func(c *publisherConfig) {
		if consecutiveFailures > 0 {
			c.failures = consecutiveFailures
		}
		if openTimeout > 0 {
			c.timeout = openTimeout
		}
	}
}

// WithPublisherLogger задаёт logger.
func WithPublisherLogger(logger *log.Entry) PublisherOption {
	return func(c *publisherConfig) { c.logger = logger }
}

// NewNotificationPublisher публикует уведомления в конверте Envelope.
// Сообщения с несогласованным вариантом уведомления не отправляются.
func NewNotificationPublisher(producer *Producer, topic string, opts ...PublisherOption) *OutboxTopicPublisher {
	if topic == "" {
		topic = TopicNotifications
	}
	return newPublisher(producer, topic, false, opts)
}

// NewDLQPublisher отправляет payload как есть в DLQ.
func NewDLQPublisher(producer *Producer, opts ...PublisherOption) *OutboxTopicPublisher {
	return newPublisher(producer, TopicDeadLetterQueue, true, opts)
}

func newPublisher(producer *Producer, topic string, raw bool, opts []PublisherOption) *OutboxTopicPublisher {
	cfg := publisherConfig{failures: defaultBreakerFailures, timeout: defaultBreakerTimeout}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.logger == nil {
		cfg.logger = log.WithField("component", "kafka-publisher")
	}
	logger := cfg.logger.WithField("topic", topic)

	failures := cfg.failures
	breaker := gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        "kafka:" + topic,
		MaxRequests: 1,
		Timeout:     cfg.timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.WithFields(log.Fields{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("kafka circuit breaker state changed")
		},
	})

	return &OutboxTopicPublisher{
		producer: producer,
		topic:    topic,
		raw:      raw,
		breaker:  breaker,
		logger:   logger,
		now:      time.Now,
	}
}

// Publish отправляет сообщение, ключ партиционирования — AggregateID.
func (p *OutboxTopicPublisher) Publish(ctx context.Context, msg domain.OutboxMessage) error {
	if p == nil || p.producer == nil {
		return fmt.Errorf("kafka outbox publisher is not initialized")
	}

	key := msg.AggregateID
	if key == "" {
		key = msg.ID
	}
	headers := map[string]string{
		HeaderEventType:     msg.EventType,
		HeaderAggregateType: msg.AggregateType,
	}

	var value any
	if p.raw {
		value = json.RawMessage(msg.Payload)
	} else {
		env := NewEnvelope(msg, p.now())
		if _, err := env.Notification(); err != nil {
			return fmt.Errorf("outbox message %s: %w", msg.ID, err)
		}
		value = env
	}

	_, err := p.breaker.Execute(func() (struct{}, error) {
		return struct{}{}, p.producer.SendJSON(ctx, p.topic, key, value, headers)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %s: %v", domain.ErrOutboxPublish, p.topic, err)
	}
	return err
}

// State — текущее состояние breaker'а.
func (p *OutboxTopicPublisher) State() gobreaker.State {
	return p.breaker.State()
}

// Healthy возвращает ошибку, пока breaker разомкнут.
func (p *OutboxTopicPublisher) Healthy() error {
	if state := p.State(); state == gobreaker.StateOpen {
		return fmt.Errorf("%w: %s: circuit breaker is %s", domain.ErrOutboxPublish, p.topic, state)
	}
	return nil
}

var _ domain.OutboxPublisher = (*OutboxTopicPublisher)(nil)
