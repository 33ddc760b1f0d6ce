// Command dlq-reprocess перечитывает DLQ и возвращает уведомления в топик уведомлений.
// По умолчанию работает в режиме dry-run и только логирует кандидатов.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/IBM/sarama"
	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/oms-reservations/internal/messaging/kafka"
)

const (
	defaultReplayLimit = 100
	defaultIdleTimeout = 2 * time.Second
)

type config struct {
	brokers     []string
	sourceTopic string
	targetTopic string
	limit       int
	execute     bool
	fromNewest  bool
	idleTimeout time.Duration
	// eventTypes ограничивает replay типами событий; пусто — все.
	eventTypes map[string]bool
}

func main() {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	_ = godotenv.Load()

	cfg, err := readConfig(os.Args[1:], os.LookupEnv)
	if err != nil {
		fail("%v", err)
	}
	if err := run(context.Background(), cfg); err != nil {
		fail("dlq replay failed: %v", err)
	}
}

func readConfig(args []string, lookup func(string) (string, bool)) (config, error) {
	cfg := config{}
	var brokers, eventTypes string

	fs := flag.NewFlagSet("dlq-reprocess", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&brokers, "brokers", "", "comma-separated Kafka brokers (default: $KAFKA_BROKERS)")
	fs.StringVar(&cfg.sourceTopic, "source-topic", kafka.TopicDeadLetterQueue, "DLQ topic to read")
	fs.StringVar(&cfg.targetTopic, "target-topic", kafka.TopicNotifications, "topic to replay into")
	fs.StringVar(&eventTypes, "event-types", "", "replay only these event types, e.g. order.create,product.update")
	fs.IntVar(&cfg.limit, "limit", defaultReplayLimit, "max records to scan")
	fs.BoolVar(&cfg.execute, "execute", false, "publish replayed notifications instead of a dry run")
	fs.BoolVar(&cfg.fromNewest, "from-newest", false, "scan the newest records of each partition")
	fs.DurationVar(&cfg.idleTimeout, "idle-timeout", defaultIdleTimeout, "stop reading a partition after this much silence")
	if err := fs.Parse(args); err != nil {
		return config{}, err
	}

	if strings.TrimSpace(brokers) == "" {
		brokers, _ = lookup("KAFKA_BROKERS")
	}
	cfg.brokers = splitList(brokers)
	for _, eventType := range splitList(eventTypes) {
		if cfg.eventTypes == nil {
			cfg.eventTypes = make(map[string]bool)
		}
		cfg.eventTypes[strings.ToLower(eventType)] = true
	}

	switch {
	case len(cfg.brokers) == 0:
		return config{}, errors.New("kafka brokers are required (-brokers or KAFKA_BROKERS)")
	case strings.TrimSpace(cfg.sourceTopic) == "":
		return config{}, errors.New("source-topic is required")
	case strings.TrimSpace(cfg.targetTopic) == "":
		return config{}, errors.New("target-topic is required")
	case cfg.limit <= 0:
		return config{}, errors.New("limit must be > 0")
	case cfg.idleTimeout <= 0:
		return config{}, errors.New("idle-timeout must be > 0")
	}
	return cfg, nil
}

// splitList разбирает список через запятую, пропуская пустые элементы.
func splitList(raw string) []string {
	var items []string
	for _, chunk := range strings.Split(raw, ",") {
		if item := strings.TrimSpace(chunk); item != "" {
			items = append(items, item)
		}
	}
	return items
}

// dialKafka подключается к брокерам; producer создаётся только в режиме execute.
var dialKafka = func(cfg config) (offsetClient, partitionConsumerSource, replayProducer, error) {
	consumerConfig := sarama.NewConfig()
	consumerConfig.Consumer.Return.Errors = true

	client, err := sarama.NewClient(cfg.brokers, consumerConfig)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("create kafka client: %w", err)
	}
	consumer, err := sarama.NewConsumerFromClient(client)
	if err != nil {
		_ = client.Close()
		return nil, nil, nil, fmt.Errorf("create kafka consumer: %w", err)
	}
	if !cfg.execute {
		return client, saramaConsumer{consumer}, nil, nil
	}

	producer, err := sarama.NewSyncProducer(cfg.brokers, kafka.NewSaramaConfig())
	if err != nil {
		_ = consumer.Close()
		_ = client.Close()
		return nil, nil, nil, fmt.Errorf("create kafka producer: %w", err)
	}
	return client, saramaConsumer{consumer}, producer, nil
}

func run(ctx context.Context, cfg config) error {
	log.WithFields(log.Fields{
		"source_topic": cfg.sourceTopic,
		"target_topic": cfg.targetTopic,
		"limit":        cfg.limit,
		"execute":      cfg.execute,
		"from_newest":  cfg.fromNewest,
	}).Info("starting dlq replay")

	client, consumer, producer, err := dialKafka(cfg)
	if err != nil {
		return err
	}
	defer func() {
		for _, c := range []io.Closer{producer, consumer, client} {
			if c != nil {
				_ = c.Close()
			}
		}
	}()

	r, err := newReplayer(cfg, client, consumer, producer)
	if err != nil {
		return err
	}
	_, err = r.run(ctx)
	return err
}

func fail(format string, args ...any) {
	_, _ = fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
