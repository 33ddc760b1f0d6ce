package idempotency

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/oms-reservations/internal/domain"
	"github.com/vladislavdragonenkov/oms-reservations/internal/metrics"
	"github.com/vladislavdragonenkov/oms-reservations/internal/storage/memory"
)

func quietLogger() *log.Entry {
	logger := log.New()
	logger.SetLevel(log.PanicLevel)
	return logger.WithField("component", "test")
}

// batchRepo отдаёт заранее заданные результаты DeleteExpired.
type batchRepo struct {
	domain.IdempotencyRepository

	mu      sync.Mutex
	results []int
	errs    []error
	limits  []int
}

func (r *batchRepo) DeleteExpired(_ context.Context, _ time.Time, limit int) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.limits = append(r.limits, limit)
	var err error
	if len(r.errs) > 0 {
		err, r.errs = r.errs[0], r.errs[1:]
	}
	deleted := 0
	if len(r.results) > 0 {
		deleted, r.results = r.results[0], r.results[1:]
	}
	return deleted, err
}

func (r *batchRepo) calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.limits)
}

func TestCleanupWorker_DeletesInBatchesUntilShortBatch(t *testing.T) {
	repo := &batchRepo{results: []int{2, 2, 1}}
	worker := NewCleanupWorker(repo, WithBatchSize(2))

	deleted, err := worker.DeleteExpired(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Equal(t, 5, deleted)
	assert.Equal(t, []int{2, 2, 2}, repo.limits)
}

func TestCleanupWorker_KeepsPartialCountOnError(t *testing.T) {
	repo := &batchRepo{results: []int{10, 0}, errs: []error{nil, errors.New("db down")}}
	worker := NewCleanupWorker(repo, WithBatchSize(10))

	deleted, err := worker.DeleteExpired(context.Background(), time.Now())
	require.Error(t, err)
	assert.Equal(t, 10, deleted)
}

func TestCleanupWorker_StopsOnCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	repo := &batchRepo{}
	deleted, err := NewCleanupWorker(repo).DeleteExpired(ctx, time.Now())
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, deleted)
	assert.Zero(t, repo.calls())
}

func TestCleanupWorker_RunRecordsMetricsAndStops(t *testing.T) {
	repo := &batchRepo{results: []int{3}}
	m := metrics.NewIdempotencyMetrics(prometheus.NewRegistry())
	worker := NewCleanupWorker(repo,
		WithInterval(5*time.Millisecond),
		WithBatchSize(10),
		WithCleanupMetrics(m),
		WithLogger(quietLogger()),
	)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		worker.Run(ctx)
	}()

	require.Eventually(t, func() bool { return repo.calls() >= 2 }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop on context cancel")
	}
}

func TestCleanupWorker_NilRepoIsDisabled(t *testing.T) {
	worker := NewCleanupWorker(nil, WithLogger(quietLogger()))
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	worker.Run(ctx)
	assert.NoError(t, ctx.Err(), "Run must return immediately without a repository")
}

func TestCleanupWorker_FreesExpiredKeysForReuse(t *testing.T) {
	repo := memory.NewIdempotencyRepository()
	guard := NewGuard(repo, WithTTL(time.Minute), WithGuardLogger(quietLogger()))
	ctx := context.Background()

	created := func(context.Context) Response { return Response{Status: 201, Body: []byte(`{"id":"a"}`)} }
	_, _, err := guard.Do(ctx, "order-key", "hash-a", created)
	require.NoError(t, err)

	deleted, err := NewCleanupWorker(repo, WithBatchSize(1)).DeleteExpired(ctx, time.Now().Add(2*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)

	_, replayed, err := guard.Do(ctx, "order-key", "hash-b", created)
	require.NoError(t, err)
	assert.False(t, replayed)
}
