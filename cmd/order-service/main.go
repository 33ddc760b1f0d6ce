package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/oms-reservations/internal/app"
	"github.com/vladislavdragonenkov/oms-reservations/internal/version"
)

const (
	envHTTPAddr                    = "OMS_HTTP_ADDR"
	envGRPCAddr                    = "OMS_GRPC_ADDR"
	envMetricsAddr                 = "OMS_METRICS_ADDR"
	envStorageDriver               = "OMS_STORAGE_DRIVER"
	envOrderStore                  = "OMS_ORDER_STORE"
	envPostgresDSN                 = "OMS_POSTGRES_DSN"
	envPostgresAutoMigrate         = "OMS_POSTGRES_AUTO_MIGRATE"
	envMongoURI                    = "OMS_MONGO_URI"
	envMongoDatabase               = "OMS_MONGO_DATABASE"
	envSeedCatalog                 = "OMS_SEED_CATALOG"
	envRedisAddr                   = "OMS_REDIS_ADDR"
	envOrderCacheTTL               = "OMS_ORDER_CACHE_TTL"
	envKafkaBrokers                = "KAFKA_BROKERS"
	envNotificationsTopic          = "OMS_NOTIFICATIONS_TOPIC"
	envStoreTimeout                = "OMS_STORE_TIMEOUT"
	envRequestTimeout              = "OMS_REQUEST_TIMEOUT"
	envOutboxPollInterval          = "OMS_OUTBOX_POLL_INTERVAL"
	envOutboxBatchSize             = "OMS_OUTBOX_BATCH_SIZE"
	envOutboxMaxAttempts           = "OMS_OUTBOX_MAX_ATTEMPTS"
	envOutboxRetryDelay            = "OMS_OUTBOX_RETRY_DELAY"
	envIdempotencyTTL              = "OMS_IDEMPOTENCY_TTL"
	envIdempotencyCleanupInterval  = "OMS_IDEMPOTENCY_CLEANUP_INTERVAL"
	envIdempotencyCleanupBatchSize = "OMS_IDEMPOTENCY_CLEANUP_BATCH_SIZE"
	envShutdownTimeout             = "OMS_SHUTDOWN_TIMEOUT"
	envLogLevel                    = "OMS_LOG_LEVEL"
)

type envLookup func(key string) (string, bool)

var (
	positiveInt      = func(v int) bool { return v > 0 }
	positiveDuration = func(v time.Duration) bool { return v > 0 }
	nonNegative      = func(v time.Duration) bool { return v >= 0 }
)

// setupLogger настраивает формат и уровень логирования для сервиса.
func setupLogger(lookup envLookup) {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	log.SetLevel(log.InfoLevel)

	raw, ok := lookup(envLogLevel)
	if !ok || strings.TrimSpace(raw) == "" {
		return
	}
	level, err := log.ParseLevel(strings.TrimSpace(raw))
	if err != nil {
		log.WithError(err).Warnf("invalid %s, keeping info", envLogLevel)
		return
	}
	log.SetLevel(level)
}

// readConfigFromEnv накладывает переменные окружения на DefaultConfig.
// Некорректное значение не останавливает запуск: остаётся значение по умолчанию и возвращается предупреждение.
func readConfigFromEnv(lookup envLookup) (app.Config, []string) {
	cfg := app.DefaultConfig()
	var warnings []string

	str := func(key string, dst *string, normalize func(string) string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = normalize(strings.TrimSpace(v))
		}
	}
	boolean := func(key string, dst *bool) {
		v, ok := lookup(key)
		if !ok || strings.TrimSpace(v) == "" {
			return
		}
		parsed, err := parseBool(v)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("%s: %v", key, err))
			return
		}
		*dst = parsed
	}
	integer := func(key string, dst *int) {
		v, ok := lookup(key)
		if !ok || strings.TrimSpace(v) == "" {
			return
		}
		parsed, err := parseInt(v, positiveInt, "must be > 0")
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("%s: %v", key, err))
			return
		}
		*dst = parsed
	}
	duration := func(key string, dst *time.Duration, valid func(time.Duration) bool, rule string) {
		v, ok := lookup(key)
		if !ok || strings.TrimSpace(v) == "" {
			return
		}
		parsed, err := parseDuration(v, valid, rule)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("%s: %v", key, err))
			return
		}
		*dst = parsed
	}
	asIs := func(s string) string { return s }

	str(envHTTPAddr, &cfg.HTTPAddr, asIs)
	str(envGRPCAddr, &cfg.GRPCAddr, asIs)
	str(envMetricsAddr, &cfg.MetricsAddr, asIs)
	str(envStorageDriver, &cfg.StorageDriver, strings.ToLower)
	str(envOrderStore, &cfg.OrderStore, strings.ToLower)
	str(envPostgresDSN, &cfg.PostgresDSN, asIs)
	boolean(envPostgresAutoMigrate, &cfg.PostgresAutoMigrate)
	str(envMongoURI, &cfg.MongoURI, asIs)
	str(envMongoDatabase, &cfg.MongoDatabase, asIs)
	boolean(envSeedCatalog, &cfg.SeedCatalog)
	str(envRedisAddr, &cfg.RedisAddr, asIs)
	duration(envOrderCacheTTL, &cfg.OrderCacheTTL, positiveDuration, "must be > 0")
	str(envKafkaBrokers, &cfg.KafkaBrokers, asIs)
	str(envNotificationsTopic, &cfg.NotificationsTopic, asIs)
	duration(envStoreTimeout, &cfg.StoreTimeout, positiveDuration, "must be > 0")
	duration(envRequestTimeout, &cfg.RequestTimeout, positiveDuration, "must be > 0")
	duration(envOutboxPollInterval, &cfg.OutboxPollInterval, positiveDuration, "must be > 0")
	integer(envOutboxBatchSize, &cfg.OutboxBatchSize)
	integer(envOutboxMaxAttempts, &cfg.OutboxMaxAttempts)
	duration(envOutboxRetryDelay, &cfg.OutboxRetryDelay, nonNegative, "must be >= 0")
	duration(envIdempotencyTTL, &cfg.IdempotencyTTL, positiveDuration, "must be > 0")
	duration(envIdempotencyCleanupInterval, &cfg.IdempotencyCleanupInterval, positiveDuration, "must be > 0")
	integer(envIdempotencyCleanupBatchSize, &cfg.IdempotencyCleanupBatchSize)
	duration(envShutdownTimeout, &cfg.ShutdownTimeout, positiveDuration, "must be > 0")

	return cfg, warnings
}

func parseBool(raw string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "true", "yes", "on":
		return true, nil
	case "0", "false", "no", "off":
		return false, nil
	default:
		return false, fmt.Errorf("invalid bool value %q", raw)
	}
}

func parseInt(raw string, valid func(int) bool, rule string) (int, error) {
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid int value %q: %w", raw, err)
	}
	if !valid(value) {
		return 0, fmt.Errorf("value %d %s", value, rule)
	}
	return value, nil
}

func parseDuration(raw string, valid func(time.Duration) bool, rule string) (time.Duration, error) {
	value, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid duration value %q: %w", raw, err)
	}
	if !valid(value) {
		return 0, fmt.Errorf("value %s %s", value, rule)
	}
	return value, nil
}

func main() {
	// .env необязателен: в контейнере конфигурация приходит из окружения.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.WithError(err).Warn("failed to load .env")
	}

	setupLogger(os.LookupEnv)
	cfg, warnings := readConfigFromEnv(os.LookupEnv)
	for _, warning := range warnings {
		log.Warnf("config: %s, using default", warning)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.WithFields(log.Fields{
		"http_addr":      cfg.HTTPAddr,
		"grpc_addr":      cfg.GRPCAddr,
		"metrics_addr":   cfg.MetricsAddr,
		"storage_driver": cfg.StorageDriver,
		"version":        version.Current().String(),
	}).Info("запускаем order-service")

	if err := app.Run(ctx, cfg); err != nil && !errors.Is(err, context.Canceled) {
		log.WithError(err).Fatal("приложение завершилось с ошибкой")
	}

	log.Info("order-service остановлен")
}
