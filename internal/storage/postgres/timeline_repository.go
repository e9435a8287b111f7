package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

const (
	appendTimelineSQL = `INSERT INTO timeline_events (order_id, type, reason, occurred) VALUES ($1, $2, $3, $4)`
	// id как второй ключ сохраняет порядок вставки при равном occurred.
	listTimelineSQL = `SELECT order_id, type, reason, occurred FROM timeline_events
		WHERE order_id = $1
		ORDER BY occurred, id`
)

type timelineRepository struct {
	db  *sql.DB
	now func() time.Time
}

func NewTimelineRepository(store *Store) domain.TimelineRepository {
	return &timelineRepository{db: store.DB(), now: time.Now}
}

// Append пишет событие; для несуществующего заказа возвращает domain.ErrOrderNotFound.
func (r *timelineRepository) Append(event domain.TimelineEvent) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	occurred := event.Occurred
	if occurred.IsZero() {
		occurred = r.now()
	}
	_, err := r.db.ExecContext(ctx, appendTimelineSQL, event.OrderID, event.Type, event.Reason, occurred.UTC())
	switch {
	case isForeignKeyViolation(err):
		return domain.ErrOrderNotFound
	case err != nil:
		return fmt.Errorf("append %s to timeline of %s: %w", event.Type, event.OrderID, err)
	}
	return nil
}

func (r *timelineRepository) List(orderID string) ([]domain.TimelineEvent, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, listTimelineSQL, orderID)
	if err != nil {
		return nil, fmt.Errorf("timeline of %s: %w", orderID, err)
	}
	defer rows.Close()

	events := []domain.TimelineEvent{}
	for rows.Next() {
		var event domain.TimelineEvent
		if err := rows.Scan(&event.OrderID, &event.Type, &event.Reason, &event.Occurred); err != nil {
			return nil, fmt.Errorf("scan timeline event: %w", err)
		}
		event.Occurred = event.Occurred.UTC()
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("timeline of %s: %w", orderID, err)
	}
	return events, nil
}

var _ domain.TimelineRepository = (*timelineRepository)(nil)
