package memory

import (
	"slices"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

type timelineRepository struct {
	mu     sync.RWMutex
	events map[string][]domain.TimelineEvent
	now    func() time.Time
}

func NewTimelineRepository() domain.TimelineRepository {
	return &timelineRepository{events: make(map[string][]domain.TimelineEvent), now: time.Now}
}

// Append вставляет событие по времени; при равном Occurred оно встаёт после уже записанных.
func (r *timelineRepository) Append(event domain.TimelineEvent) error {
	if event.Occurred.IsZero() {
		event.Occurred = r.now()
	}
	event.Occurred = event.Occurred.UTC()

	r.mu.Lock()
	defer r.mu.Unlock()

	events := r.events[event.OrderID]
	at := len(events)
	for at > 0 && events[at-1].Occurred.After(event.Occurred) {
		at--
	}
	r.events[event.OrderID] = slices.Insert(events, at, event)
	return nil
}

func (r *timelineRepository) List(orderID string) ([]domain.TimelineEvent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return append([]domain.TimelineEvent{}, r.events[orderID]...), nil
}

var _ domain.TimelineRepository = (*timelineRepository)(nil)
