package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/vladislavdragonenkov/oms-reservations/internal/domain"
	healthcheck "github.com/vladislavdragonenkov/oms-reservations/internal/health"
	"github.com/vladislavdragonenkov/oms-reservations/internal/storage/memory"
	"github.com/vladislavdragonenkov/oms-reservations/internal/storage/mongodb"
	"github.com/vladislavdragonenkov/oms-reservations/internal/storage/postgres"
	"github.com/vladislavdragonenkov/oms-reservations/internal/storage/rediscache"
)

// runtimeDependencies — хранилища и клиенты, открытые для одного запуска.
type runtimeDependencies struct {
	orders          domain.OrderRepository
	catalog         domain.CatalogRepository
	outboxRepo      domain.OutboxRepository
	timelineRepo    domain.TimelineRepository
	idempotencyRepo domain.IdempotencyRepository
	cache           domain.OrderCache

	required map[string]healthcheck.Checker
	optional map[string]healthcheck.Checker

	closers []func(ctx context.Context) error
}

// close освобождает клиенты в обратном порядке открытия.
func (d *runtimeDependencies) close(ctx context.Context) error {
	var errs []error
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	d.closers = nil
	return errors.Join(errs...)
}

func (d *runtimeDependencies) registerCheckers(h *healthcheck.Handler) {
	for name, checker := range d.required {
		h.RegisterChecker(name, checker)
	}
	for name, checker := range d.optional {
		h.RegisterOptional(name, checker)
	}
}

// initRuntimeDependencies открывает хранилища согласно конфигурации.
// При ошибке уже открытые клиенты закрываются.
func initRuntimeDependencies(ctx context.Context, cfg Config, logger *log.Entry) (deps *runtimeDependencies, err error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	deps = &runtimeDependencies{
		required: make(map[string]healthcheck.Checker),
		optional: make(map[string]healthcheck.Checker),
	}
	defer func() {
		if err != nil {
			_ = deps.close(context.WithoutCancel(ctx))
			deps = nil
		}
	}()

	var store *postgres.Store
	if cfg.StorageDriver == StorageDriverPostgres || cfg.orderStore() == OrderStorePostgres {
		store, err = openPostgres(ctx, cfg, logger)
		if err != nil {
			return deps, err
		}
		deps.closers = append(deps.closers, func(context.Context) error { return store.Close() })
		deps.required["postgres"] = healthcheck.NewFuncChecker("postgres", store.Ping)
	}

	switch cfg.StorageDriver {
	case StorageDriverPostgres:
		deps.catalog = postgres.NewCatalogRepository(store)
		deps.outboxRepo = postgres.NewOutboxRepository(store)
		deps.timelineRepo = postgres.NewTimelineRepository(store)
		deps.idempotencyRepo = postgres.NewIdempotencyRepository(store)
	default:
		var seed []domain.Product
		if cfg.SeedCatalog {
			seed = domain.SeedProducts()
		}
		deps.catalog = memory.NewCatalogRepository(seed...)
		deps.outboxRepo = memory.NewOutboxRepository()
		deps.timelineRepo = memory.NewTimelineRepository()
		deps.idempotencyRepo = memory.NewIdempotencyRepository()
	}

	switch cfg.orderStore() {
	case OrderStorePostgres:
		deps.orders = postgres.NewOrderRepository(store)
	case OrderStoreMongo:
		db, err := openMongo(ctx, cfg, logger)
		if err != nil {
			return deps, err
		}
		deps.closers = append(deps.closers, func(ctx context.Context) error { return mongodb.Disconnect(ctx, db) })
		deps.required["mongo"] = healthcheck.NewFuncChecker("mongo", func(ctx context.Context) error {
			return mongodb.Ping(ctx, db)
		})

		repo := mongodb.NewOrderRepository(db)
		if err := repo.EnsureIndexes(ctx); err != nil {
			return deps, fmt.Errorf("ensure mongo indexes: %w", err)
		}
		deps.orders = repo
	default:
		deps.orders = memory.NewOrderRepository()
	}

	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		cache := rediscache.New(client, rediscache.WithTTL(cfg.OrderCacheTTL))
		// Недоступный Redis не мешает старту: FindOrder откатится на хранилище.
		if err := cache.Ping(ctx); err != nil {
			logger.WithError(err).WithField("addr", cfg.RedisAddr).Warn("redis is unavailable, order cache starts degraded")
		}
		deps.cache = cache
		deps.closers = append(deps.closers, func(context.Context) error { return client.Close() })
		deps.optional["redis"] = healthcheck.NewFuncChecker("redis", cache.Ping)
	}

	logger.WithFields(log.Fields{
		"storage_driver": cfg.StorageDriver,
		"order_store":    cfg.orderStore(),
		"order_cache":    cfg.RedisAddr != "",
	}).Info("storage initialized")
	return deps, nil
}

func openPostgres(ctx context.Context, cfg Config, logger *log.Entry) (*postgres.Store, error) {
	store, err := postgres.Open(ctx, cfg.PostgresDSN)
	if err != nil {
		return nil, err
	}
	if cfg.PostgresAutoMigrate {
		if err := store.EnsureSchema(ctx); err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("apply postgres migrations: %w", err)
		}
		logger.Info("postgres migrations applied")
	}
	return store, nil
}

func openMongo(ctx context.Context, cfg Config, logger *log.Entry) (*mongo.Database, error) {
	db, err := mongodb.Connect(ctx, cfg.MongoURI, cfg.MongoDatabase)
	if err != nil {
		return nil, err
	}
	logger.WithField("database", cfg.MongoDatabase).Info("mongo connected")
	return db, nil
}
