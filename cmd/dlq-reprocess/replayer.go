package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/oms-reservations/internal/messaging/kafka"
)

type offsetClient interface {
	GetOffset(topic string, partition int32, time int64) (int64, error)
	Partitions(topic string) ([]int32, error)
	Close() error
}

type partitionConsumer interface {
	Messages() <-chan *sarama.ConsumerMessage
	Errors() <-chan *sarama.ConsumerError
	Close() error
}

type partitionConsumerSource interface {
	ConsumePartition(topic string, partition int32, offset int64) (partitionConsumer, error)
	Close() error
}

type replayProducer interface {
	SendMessage(msg *sarama.ProducerMessage) (partition int32, offset int64, err error)
	Close() error
}

// saramaConsumer сужает sarama.Consumer до partitionConsumerSource.
type saramaConsumer struct {
	sarama.Consumer
}

func (c saramaConsumer) ConsumePartition(topic string, partition int32, offset int64) (partitionConsumer, error) {
	return c.Consumer.ConsumePartition(topic, partition, offset)
}

type replayStats struct {
	processed int
	replayed  int
	skipped   int
}

func (s *replayStats) add(other replayStats) {
	s.processed += other.processed
	s.replayed += other.replayed
	s.skipped += other.skipped
}

// replayer читает DLQ по партициям, не дальше offset'а, который был последним на старте.
type replayer struct {
	cfg      config
	offsets  offsetClient
	consumer partitionConsumerSource
	producer replayProducer
	logger   *log.Entry
	now      func() time.Time
}

func newReplayer(cfg config, offsets offsetClient, consumer partitionConsumerSource, producer replayProducer) (*replayer, error) {
	if offsets == nil || consumer == nil {
		return nil, errors.New("kafka client and consumer are required")
	}
	if cfg.execute && producer == nil {
		return nil, errors.New("producer is required in execute mode")
	}
	return &replayer{
		cfg:      cfg,
		offsets:  offsets,
		consumer: consumer,
		producer: producer,
		logger:   log.WithField("component", "dlq-reprocess"),
		now:      time.Now,
	}, nil
}

// run обходит партиции по возрастанию номера, пока не исчерпан общий лимит.
func (r *replayer) run(ctx context.Context) (replayStats, error) {
	var total replayStats

	partitions, err := r.offsets.Partitions(r.cfg.sourceTopic)
	if err != nil {
		return total, fmt.Errorf("get partitions for topic %s: %w", r.cfg.sourceTopic, err)
	}
	if len(partitions) == 0 {
		r.logger.WithField("topic", r.cfg.sourceTopic).Warn("source topic has no partitions")
		return total, nil
	}
	sort.Slice(partitions, func(i, j int) bool { return partitions[i] < partitions[j] })

	for _, partition := range partitions {
		remaining := r.cfg.limit - total.processed
		if remaining <= 0 {
			break
		}
		stats, err := r.replayPartition(ctx, partition, remaining)
		total.add(stats)
		if err != nil {
			return total, err
		}
	}

	mode := "dry-run"
	if r.cfg.execute {
		mode = "execute"
	}
	r.logger.WithFields(log.Fields{
		"mode":      mode,
		"processed": total.processed,
		"replayed":  total.replayed,
		"skipped":   total.skipped,
	}).Info("dlq replay finished")
	return total, nil
}

// window возвращает диапазон [start, end) для чтения партиции.
func (r *replayer) window(partition int32, limit int) (int64, int64, error) {
	oldest, err := r.offsets.GetOffset(r.cfg.sourceTopic, partition, sarama.OffsetOldest)
	if err != nil {
		return 0, 0, fmt.Errorf("get oldest offset for partition %d: %w", partition, err)
	}
	newest, err := r.offsets.GetOffset(r.cfg.sourceTopic, partition, sarama.OffsetNewest)
	if err != nil {
		return 0, 0, fmt.Errorf("get newest offset for partition %d: %w", partition, err)
	}
	if r.cfg.fromNewest {
		return max(newest-int64(limit), oldest), newest, nil
	}
	return oldest, newest, nil
}

func (r *replayer) replayPartition(ctx context.Context, partition int32, limit int) (replayStats, error) {
	var stats replayStats
	if limit <= 0 {
		return stats, nil
	}

	start, end, err := r.window(partition, limit)
	if err != nil || start >= end {
		return stats, err
	}

	pc, err := r.consumer.ConsumePartition(r.cfg.sourceTopic, partition, start)
	if err != nil {
		return stats, fmt.Errorf("consume partition %d: %w", partition, err)
	}
	defer func() { _ = pc.Close() }()

	idle := time.NewTimer(r.cfg.idleTimeout)
	defer idle.Stop()

	for stats.processed < limit {
		select {
		case <-ctx.Done():
			return stats, ctx.Err()
		case <-idle.C:
			return stats, nil
		case cerr := <-pc.Errors():
			if cerr != nil {
				return stats, fmt.Errorf("partition %d consumer error: %w", partition, cerr)
			}
		case msg, ok := <-pc.Messages():
			if !ok || msg == nil || msg.Offset >= end {
				return stats, nil
			}
			resetTimer(idle, r.cfg.idleTimeout)

			if err := r.handle(msg, &stats); err != nil {
				return stats, err
			}
			if msg.Offset+1 >= end {
				return stats, nil
			}
		}
	}
	return stats, nil
}

// handle переигрывает одну запись. Повреждённые и отфильтрованные записи пропускаются.
func (r *replayer) handle(msg *sarama.ConsumerMessage, stats *replayStats) error {
	stats.processed++
	logger := r.logger.WithFields(log.Fields{"partition": msg.Partition, "offset": msg.Offset})

	replay, ok, err := buildReplayMessage(msg, r.cfg, r.now().UTC())
	switch {
	case err != nil:
		stats.skipped++
		logger.WithError(err).Warn("skip unsupported dlq message")
		return nil
	case !ok:
		stats.skipped++
		return nil
	case !r.cfg.execute:
		stats.replayed++
		logger.WithFields(log.Fields{
			"target_topic": replay.topic,
			"key":          replay.key,
			"event_type":   replay.headers[kafka.HeaderEventType],
		}).Info("dlq replay candidate")
		return nil
	}

	if err := sendReplay(r.producer, replay, r.now()); err != nil {
		return fmt.Errorf("publish replay message: %w", err)
	}
	stats.replayed++
	return nil
}

func resetTimer(t *time.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(d)
}

type replayMessage struct {
	topic   string
	key     string
	value   []byte
	headers map[string]string
}

func sendReplay(producer replayProducer, msg replayMessage, now time.Time) error {
	if producer == nil {
		return errors.New("producer is nil")
	}
	_, _, err := producer.SendMessage(kafka.NewMessage(msg.topic, msg.key, msg.value, msg.headers, now))
	return err
}

// buildReplayMessage превращает запись DLQ обратно в конверт уведомления.
// ok=false — запись отфильтрована по типу события. Ошибка — запись нельзя переиграть:
// она повреждена или уведомление внутри не проходит проверку.
func buildReplayMessage(msg *sarama.ConsumerMessage, cfg config, now time.Time) (replayMessage, bool, error) {
	deadLetter, err := kafka.ParseDeadLetter(msg.Value)
	if err != nil {
		return replayMessage{}, false, err
	}
	if len(cfg.eventTypes) > 0 && !cfg.eventTypes[strings.ToLower(deadLetter.EventType)] {
		return replayMessage{}, false, nil
	}

	envelope := kafka.NewEnvelope(deadLetter.OutboxMessage(), now)
	if _, err := envelope.Notification(); err != nil {
		return replayMessage{}, false, fmt.Errorf("outbox %s: %w", deadLetter.OutboxID, err)
	}
	encoded, err := json.Marshal(envelope)
	if err != nil {
		return replayMessage{}, false, fmt.Errorf("encode replay envelope: %w", err)
	}

	key := deadLetter.AggregateID
	if key == "" {
		key = deadLetter.OutboxID
	}
	return replayMessage{
		topic: cfg.targetTopic,
		key:   key,
		value: encoded,
		headers: map[string]string{
			kafka.HeaderEventType:     deadLetter.EventType,
			kafka.HeaderAggregateType: deadLetter.AggregateType,
			kafka.HeaderOriginalTopic: msg.Topic,
			kafka.HeaderReplayedAt:    now.Format(time.RFC3339Nano),
		},
	}, true, nil
}
