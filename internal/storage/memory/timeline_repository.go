package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/oms-reservations/internal/domain"
)

// TimelineRepository — история заказов в памяти. События заказа хранятся
// отсортированными по Occurred; равные по времени идут в порядке добавления.
type TimelineRepository struct {
	mu      sync.RWMutex
	byOrder map[string][]domain.TimelineEvent
	now     func() time.Time
}

// NewTimelineRepository создаёт in-memory реализацию TimelineRepository.
func NewTimelineRepository() *TimelineRepository {
	return &TimelineRepository{byOrder: make(map[string][]domain.TimelineEvent), now: time.Now}
}

func (r *TimelineRepository) Append(ctx context.Context, event domain.TimelineEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	event, err := event.Normalize(r.now())
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	events := r.byOrder[event.OrderID]
	at := sort.Search(len(events), func(i int) bool { return events[i].Occurred.After(event.Occurred) })
	events = append(events, domain.TimelineEvent{})
	copy(events[at+1:], events[at:])
	events[at] = event
	r.byOrder[event.OrderID] = events
	return nil
}

func (r *TimelineRepository) List(ctx context.Context, orderID string) ([]domain.TimelineEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	return append([]domain.TimelineEvent{}, r.byOrder[orderID]...), nil
}

var _ domain.TimelineRepository = (*TimelineRepository)(nil)
