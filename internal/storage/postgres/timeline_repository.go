package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/oms-reservations/internal/domain"
)

type timelineRepository struct {
	store *Store
	now   func() time.Time
}

// NewTimelineRepository создаёт PostgreSQL-реализацию TimelineRepository.
// При равном occurred порядок задаёт BIGSERIAL id, то есть порядок вставки.
func NewTimelineRepository(store *Store) domain.TimelineRepository {
	return &timelineRepository{store: store, now: time.Now}
}

func (r *timelineRepository) Append(ctx context.Context, event domain.TimelineEvent) error {
	event, err := event.Normalize(r.now())
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	_, err = r.store.DB().ExecContext(ctx,
		`INSERT INTO timeline_events (order_id, type, reason, occurred) VALUES ($1, $2, $3, $4)`,
		event.OrderID, event.Type, event.Reason, event.Occurred)
	if err != nil {
		return fmt.Errorf("append %s for order %s: %w", event.Type, event.OrderID, err)
	}
	return nil
}

func (r *timelineRepository) List(ctx context.Context, orderID string) ([]domain.TimelineEvent, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	rows, err := r.store.DB().QueryContext(ctx, `
		SELECT type, reason, occurred
		FROM timeline_events
		WHERE order_id = $1
		ORDER BY occurred, id
	`, orderID)
	if err != nil {
		return nil, fmt.Errorf("list timeline of order %s: %w", orderID, err)
	}
	defer rows.Close()

	events := []domain.TimelineEvent{}
	for rows.Next() {
		event := domain.TimelineEvent{OrderID: orderID}
		if err := rows.Scan(&event.Type, &event.Reason, &event.Occurred); err != nil {
			return nil, fmt.Errorf("scan timeline event: %w", err)
		}
		event.Occurred = event.Occurred.UTC()
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate timeline events: %w", err)
	}
	return events, nil
}

var _ domain.TimelineRepository = (*timelineRepository)(nil)
