// Package app собирает сервис резервирования: хранилища, HTTP API, gRPC health,
// outbox и очистку ключей идемпотентности.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	promgrpc "github.com/grpc-ecosystem/go-grpc-prometheus"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/vladislavdragonenkov/oms-reservations/internal/domain"
	healthcheck "github.com/vladislavdragonenkov/oms-reservations/internal/health"
	"github.com/vladislavdragonenkov/oms-reservations/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/oms-reservations/internal/metrics"
	"github.com/vladislavdragonenkov/oms-reservations/internal/service/httpapi"
	"github.com/vladislavdragonenkov/oms-reservations/internal/service/idempotency"
	"github.com/vladislavdragonenkov/oms-reservations/internal/service/lifecycle"
	"github.com/vladislavdragonenkov/oms-reservations/internal/service/outbox"
	"github.com/vladislavdragonenkov/oms-reservations/internal/version"
)

// Run запускает сервис и блокируется до отмены ctx или падения одного из серверов.
// При отмене ctx возвращает ctx.Err().
func Run(ctx context.Context, cfg Config) error {
	logger := log.WithField("component", "app")

	deps, err := initRuntimeDependencies(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := deps.close(closeCtx); err != nil {
			logger.WithError(err).Warn("failed to close storage clients")
		}
	}()

	producer, _ := initKafkaProducer(cfg.KafkaBrokers, logger)
	defer closeKafka(producer, logger)

	opts := []lifecycle.Option{
		lifecycle.WithOutbox(deps.outboxRepo),
		lifecycle.WithTimeline(deps.timelineRepo),
		lifecycle.WithMetrics(metrics.NewReservationMetrics()),
		lifecycle.WithLogger(logger.WithField("layer", "lifecycle")),
		lifecycle.WithStoreTimeout(cfg.StoreTimeout),
	}
	if deps.cache != nil {
		opts = append(opts, lifecycle.WithCache(deps.cache))
	}
	manager := lifecycle.NewManager(deps.orders, deps.catalog, opts...)

	idempotencyMetrics := metrics.NewIdempotencyMetrics(prometheus.DefaultRegisterer)
	api := httpapi.NewHandler(manager,
		httpapi.WithIdempotency(idempotency.NewGuard(deps.idempotencyRepo,
			idempotency.WithTTL(cfg.IdempotencyTTL),
			idempotency.WithGuardLogger(logger.WithField("layer", "idempotency")),
			idempotency.WithGuardMetrics(idempotencyMetrics),
		)),
		httpapi.WithMetrics(metrics.NewHTTPMetrics(prometheus.DefaultRegisterer)),
		httpapi.WithLogger(logger.WithField("layer", "http")),
		httpapi.WithRequestTimeout(cfg.RequestTimeout),
	)

	healthHandler := healthcheck.NewHandler(version.GetVersion())
	deps.registerCheckers(healthHandler)

	outboxWorker, notifications := newOutboxWorker(cfg, deps.outboxRepo, producer, logger)
	if notifications != nil {
		healthHandler.RegisterOptional("kafka", healthcheck.NewFuncChecker("kafka", func(context.Context) error {
			return notifications.Healthy()
		}))
	}
	cleanupWorker := idempotency.NewCleanupWorker(deps.idempotencyRepo,
		idempotency.WithLogger(logger.WithField("worker", "idempotency-cleanup")),
		idempotency.WithInterval(cfg.IdempotencyCleanupInterval),
		idempotency.WithBatchSize(cfg.IdempotencyCleanupBatchSize),
		idempotency.WithCleanupMetrics(idempotencyMetrics),
	)

	apiSrv := &http.Server{Addr: cfg.HTTPAddr, Handler: api.Routes(), ReadHeaderTimeout: 5 * time.Second}
	metricsSrv := newMetricsServer(cfg.MetricsAddr, healthHandler)
	grpcServer, grpcHealth := newGRPCServer(logger)

	grpcLis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return fmt.Errorf("listen grpc %s: %w", cfg.GRPCAddr, err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Infof("HTTP API слушает %s", cfg.HTTPAddr)
		return serveHTTP(apiSrv)
	})
	g.Go(func() error {
		logger.Infof("метрики доступны по адресу %s/metrics, health: /healthz /readyz /livez", cfg.MetricsAddr)
		return serveHTTP(metricsSrv)
	})
	g.Go(func() error {
		logger.Infof("gRPC health слушает %s", cfg.GRPCAddr)
		if err := grpcServer.Serve(grpcLis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return fmt.Errorf("grpc server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		outboxWorker.Run(gctx)
		return nil
	})
	g.Go(func() error {
		cleanupWorker.Run(gctx)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("получен сигнал остановки, останавливаем серверы")
		grpcHealth.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
		shutdownHTTP(apiSrv, cfg.ShutdownTimeout, logger)
		shutdownHTTP(metricsSrv, cfg.ShutdownTimeout, logger)
		stopGRPC(grpcServer, cfg.ShutdownTimeout, logger)
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// newOutboxWorker без producer публикует уведомления в лог.
func newOutboxWorker(cfg Config, repo domain.OutboxRepository, producer *kafka.Producer, logger *log.Entry) (*outbox.Worker, *kafka.OutboxTopicPublisher) {
	workerLogger := logger.WithField("worker", "outbox")
	opts := []outbox.Option{
		outbox.WithLogger(workerLogger),
		outbox.WithPollInterval(cfg.OutboxPollInterval),
		outbox.WithBatchSize(cfg.OutboxBatchSize),
		outbox.WithMaxAttempts(cfg.OutboxMaxAttempts),
		outbox.WithRetryBaseDelay(cfg.OutboxRetryDelay),
		outbox.WithMetrics(metrics.NewOutboxMetrics(prometheus.DefaultRegisterer)),
	}
	if producer == nil {
		return outbox.NewWorker(repo, logPublisher{logger: workerLogger}, opts...), nil
	}

	publisherLogger := kafka.WithPublisherLogger(logger.WithField("layer", "kafka"))
	opts = append(opts, outbox.WithDLQPublisher(kafka.NewDLQPublisher(producer, publisherLogger)))
	notifications := kafka.NewNotificationPublisher(producer, cfg.NotificationsTopic, publisherLogger)
	return outbox.NewWorker(repo, notifications, opts...), notifications
}

// newGRPCServer поднимает gRPC-сервер с health и reflection; метрики сервера — через go-grpc-prometheus.
func newGRPCServer(logger *log.Entry) (*grpc.Server, *health.Server) {
	grpcMetrics := promgrpc.NewServerMetrics()
	if err := prometheus.Register(grpcMetrics); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(*promgrpc.ServerMetrics); ok {
				grpcMetrics = existing
			}
		} else {
			logger.WithError(err).Warn("failed to register grpc metrics")
		}
	}

	server := grpc.NewServer(
		grpc.ChainUnaryInterceptor(grpcMetrics.UnaryServerInterceptor()),
		grpc.ChainStreamInterceptor(grpcMetrics.StreamServerInterceptor()),
	)

	healthServer := health.NewServer()
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(server, healthServer)
	reflection.Register(server)
	grpcMetrics.InitializeMetrics(server)

	return server, healthServer
}

func newMetricsServer(addr string, healthHandler *healthcheck.Handler) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	healthHandler.Mount(mux)
	return &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
}

func serveHTTP(srv *http.Server) error {
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server %s: %w", srv.Addr, err)
	}
	return nil
}

// shutdownHTTP аккуратно останавливает HTTP-сервер.
func shutdownHTTP(srv *http.Server, timeout time.Duration, logger *log.Entry) {
	if srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).WithField("addr", srv.Addr).Warn("http shutdown with error")
	}
}

func stopGRPC(server *grpc.Server, timeout time.Duration, logger *log.Entry) {
	stopped := make(chan struct{})
	go func() {
		server.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(timeout):
		logger.Warn("graceful stop превысил таймаут, принудительно останавливаем")
		server.Stop()
	}
}
