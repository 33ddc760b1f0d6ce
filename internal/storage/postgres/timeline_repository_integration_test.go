package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/oms-reservations/internal/domain"
)

func TestTimelineRepository_PostgresOrdersByOccurredThenInsertion(t *testing.T) {
	repo := NewTimelineRepository(freshTestStore(t))
	ctx := context.Background()
	base := time.Now().UTC().Add(-time.Hour).Truncate(time.Microsecond)

	appends := []domain.TimelineEvent{
		{OrderID: "o-1", Type: domain.TimelineOrderUpdated, Reason: "second", Occurred: base.Add(time.Minute)},
		{OrderID: "o-1", Type: domain.TimelineOrderCreated, Reason: "first", Occurred: base},
		{OrderID: "o-1", Type: domain.TimelineOrderRemoved, Reason: "third", Occurred: base.Add(time.Minute)},
		{OrderID: "o-2", Type: domain.TimelineOrderCreated, Reason: "other order"},
	}
	for _, event := range appends {
		require.NoError(t, repo.Append(ctx, event))
	}

	events, err := repo.List(ctx, "o-1")
	require.NoError(t, err)
	reasons := make([]string, 0, len(events))
	for _, event := range events {
		reasons = append(reasons, event.Reason)
		assert.Equal(t, "o-1", event.OrderID)
	}
	assert.Equal(t, []string{"first", "second", "third"}, reasons)
	assert.True(t, events[0].Occurred.Equal(base))

	other, err := repo.List(ctx, "o-2")
	require.NoError(t, err)
	require.Len(t, other, 1)
	assert.False(t, other[0].Occurred.IsZero(), "missing occurred is stamped on write")
}

func TestTimelineRepository_PostgresRejectsAndEmpty(t *testing.T) {
	repo := NewTimelineRepository(freshTestStore(t))
	ctx := context.Background()

	err := repo.Append(ctx, domain.TimelineEvent{OrderID: "o-1", Type: "OrderShipped"})
	require.ErrorIs(t, err, domain.ErrInvalidTimelineEvent)

	events, err := repo.List(ctx, "missing-order")
	require.NoError(t, err)
	assert.Empty(t, events)
	assert.NotNil(t, events)
}
