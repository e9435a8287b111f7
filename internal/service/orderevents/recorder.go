package orderevents

import (
	"encoding/json"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/metrics"
)

// Recorder пишет событие заказа в таймлайн и ставит его в outbox.
// Ошибки хранилищ логируются: состояние заказа к этому моменту уже сохранено.
type Recorder struct {
	timeline domain.TimelineRepository
	outbox   domain.OutboxRepository
	metrics  *metrics.StorefrontMetrics
	logger   *log.Entry
}

// NewRecorder создаёт Recorder. Любая из зависимостей может быть nil.
func NewRecorder(timeline domain.TimelineRepository, outbox domain.OutboxRepository, m *metrics.StorefrontMetrics, logger *log.Entry) *Recorder {
	if logger == nil {
		logger = log.WithField("component", "order-events")
	}
	return &Recorder{timeline: timeline, outbox: outbox, metrics: m, logger: logger}
}

// Record добавляет запись таймлайна timelineType и outbox-событие eventType (если не пустое).
func (r *Recorder) Record(order domain.Order, timelineType, eventType, reason string, occurred time.Time) {
	if r == nil {
		return
	}
	fields := log.Fields{"order_id": order.ID, "event_type": eventType}

	if r.timeline != nil && timelineType != "" {
		err := r.timeline.Append(domain.TimelineEvent{
			OrderID:  order.ID,
			Type:     timelineType,
			Reason:   reason,
			Occurred: occurred,
		})
		if err != nil {
			r.logger.WithError(err).WithFields(fields).Warn("failed to append timeline event")
		} else {
			r.metrics.RecordTimelineEvent()
		}
	}

	if r.outbox == nil || eventType == "" {
		return
	}
	payload, err := json.Marshal(domain.NewOrderEventPayload(order, occurred))
	if err != nil {
		r.logger.WithError(err).WithFields(fields).Error("failed to encode order event")
		return
	}
	if _, err := r.outbox.Enqueue(domain.OutboxMessage{
		AggregateType: domain.OutboxAggregateOrder,
		AggregateID:   order.ID,
		EventType:     eventType,
		Payload:       payload,
	}); err != nil {
		r.logger.WithError(err).WithFields(fields).Error("failed to enqueue order event")
		return
	}
	r.metrics.RecordOutboxEvent(eventType)
}
