package app

import (
	"fmt"
	"time"
)

// Драйверы хранилища каталога, outbox, истории и ключей идемпотентности.
const (
	StorageDriverMemory   = "memory"
	StorageDriverPostgres = "postgres"
)

// Хранилища заказов.
const (
	OrderStoreMemory   = "memory"
	OrderStorePostgres = "postgres"
	OrderStoreMongo    = "mongo"
)

// Config описывает настройки запуска сервиса.
type Config struct {
	HTTPAddr    string
	GRPCAddr    string
	MetricsAddr string

	StorageDriver string
	// OrderStore по умолчанию совпадает со StorageDriver.
	OrderStore          string
	PostgresDSN         string
	PostgresAutoMigrate bool
	MongoURI            string
	MongoDatabase       string
	SeedCatalog         bool

	RedisAddr     string
	OrderCacheTTL time.Duration

	KafkaBrokers       string
	NotificationsTopic string

	StoreTimeout   time.Duration
	RequestTimeout time.Duration

	OutboxPollInterval time.Duration
	OutboxBatchSize    int
	OutboxMaxAttempts  int
	OutboxRetryDelay   time.Duration

	IdempotencyTTL              time.Duration
	IdempotencyCleanupInterval  time.Duration
	IdempotencyCleanupBatchSize int

	ShutdownTimeout time.Duration
}

// DefaultConfig возвращает настройки для локального запуска без внешних зависимостей.
func DefaultConfig() Config {
	return Config{
		HTTPAddr:    ":8080",
		GRPCAddr:    ":50051",
		MetricsAddr: ":9090",

		StorageDriver:       StorageDriverMemory,
		PostgresAutoMigrate: true,
		MongoDatabase:       "oms",
		SeedCatalog:         true,

		OrderCacheTTL: 5 * time.Minute,

		NotificationsTopic: "oms.catalog.notifications",

		StoreTimeout:   5 * time.Second,
		RequestTimeout: 15 * time.Second,

		OutboxPollInterval: time.Second,
		OutboxBatchSize:    100,
		OutboxMaxAttempts:  3,
		OutboxRetryDelay:   100 * time.Millisecond,

		IdempotencyTTL:              24 * time.Hour,
		IdempotencyCleanupInterval:  time.Minute,
		IdempotencyCleanupBatchSize: 500,

		ShutdownTimeout: 5 * time.Second,
	}
}

func (c Config) orderStore() string {
	if c.OrderStore == "" {
		return c.StorageDriver
	}
	return c.OrderStore
}

// Validate проверяет сочетание драйверов до открытия соединений.
func (c Config) Validate() error {
	switch c.StorageDriver {
	case StorageDriverMemory:
	case StorageDriverPostgres:
		if c.PostgresDSN == "" {
			return fmt.Errorf("storage driver %q requires OMS_POSTGRES_DSN", c.StorageDriver)
		}
	default:
		return fmt.Errorf("unsupported storage driver %q", c.StorageDriver)
	}

	switch c.orderStore() {
	case OrderStoreMemory:
	case OrderStorePostgres:
		if c.PostgresDSN == "" {
			return fmt.Errorf("order store %q requires OMS_POSTGRES_DSN", OrderStorePostgres)
		}
	case OrderStoreMongo:
		if c.MongoURI == "" {
			return fmt.Errorf("order store %q requires OMS_MONGO_URI", OrderStoreMongo)
		}
	default:
		return fmt.Errorf("unsupported order store %q", c.OrderStore)
	}
	return nil
}
