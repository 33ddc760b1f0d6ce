package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/oms-reservations/internal/domain"
)

func TestTimelineRepository_KeepsChronologicalOrder(t *testing.T) {
	repo := NewTimelineRepository()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	repo.now = func() time.Time { return base.Add(time.Hour) }
	ctx := context.Background()

	for _, event := range []domain.TimelineEvent{
		{OrderID: "o-1", Type: domain.TimelineOrderUpdated, Reason: "b", Occurred: base.Add(time.Minute)},
		{OrderID: "o-1", Type: domain.TimelineOrderCreated, Reason: "a", Occurred: base},
		{OrderID: "o-1", Type: domain.TimelineOrderUpdated, Reason: "c", Occurred: base.Add(time.Minute)},
		{OrderID: "o-1", Type: domain.TimelineOrderRemoved, Reason: "d"},
	} {
		require.NoError(t, repo.Append(ctx, event))
	}

	events, err := repo.List(ctx, "o-1")
	require.NoError(t, err)
	var reasons []string
	for _, event := range events {
		reasons = append(reasons, event.Reason)
	}
	assert.Equal(t, []string{"a", "b", "c", "d"}, reasons)
	assert.Equal(t, base.Add(time.Hour), events[3].Occurred)

	events[0].Reason = "mutated"
	again, err := repo.List(ctx, "o-1")
	require.NoError(t, err)
	assert.Equal(t, "a", again[0].Reason, "List returns a copy")
}

func TestTimelineRepository_RejectsInvalidEvents(t *testing.T) {
	repo := NewTimelineRepository()
	ctx := context.Background()

	assert.ErrorIs(t, repo.Append(ctx, domain.TimelineEvent{Type: domain.TimelineOrderCreated}), domain.ErrInvalidTimelineEvent)
	assert.ErrorIs(t, repo.Append(ctx, domain.TimelineEvent{OrderID: "o-1", Type: "OrderPaid"}), domain.ErrInvalidTimelineEvent)

	canceled, cancel := context.WithCancel(ctx)
	cancel()
	assert.ErrorIs(t, repo.Append(canceled, domain.TimelineEvent{OrderID: "o-1", Type: domain.TimelineOrderCreated}), context.Canceled)

	events, err := repo.List(ctx, "o-1")
	require.NoError(t, err)
	assert.Empty(t, events)
}
