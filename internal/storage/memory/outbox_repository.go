package memory

import (
	"cmp"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

type outboxState uint8

const (
	outboxPending outboxState = iota
	outboxSent
	outboxFailed
)

const defaultOutboxBatch = 100

type outboxEntry struct {
	msg      domain.OutboxMessage
	state    outboxState
	seq      uint64
	queuedAt time.Time
}

// OutboxRepository держит outbox в памяти. Тип экспортирован ради Pending в тестах.
type OutboxRepository struct {
	mu      sync.RWMutex
	nextSeq uint64
	entries map[string]*outboxEntry
	now     func() time.Time
}

func NewOutboxRepository() *OutboxRepository {
	return &OutboxRepository{entries: make(map[string]*outboxEntry), now: time.Now}
}

func (r *OutboxRepository) Enqueue(msg domain.OutboxMessage) (domain.OutboxMessage, error) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	msg.Payload = slices.Clone(msg.Payload)
	msg.Attempts = 0

	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextSeq++
	r.entries[msg.ID] = &outboxEntry{msg: msg, seq: r.nextSeq, queuedAt: r.now().UTC()}
	return msg, nil
}

// PullPending отдаёт до limit ожидающих сообщений в порядке Enqueue.
func (r *OutboxRepository) PullPending(limit int) ([]domain.OutboxMessage, error) {
	if limit <= 0 {
		limit = defaultOutboxBatch
	}
	queue := r.Pending()
	return queue[:min(limit, len(queue))], nil
}

func (r *OutboxRepository) Stats() (domain.OutboxStats, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var stats domain.OutboxStats
	for _, e := range r.entries {
		switch e.state {
		case outboxPending:
			stats.PendingCount++
			if stats.OldestPendingAt.IsZero() || e.queuedAt.Before(stats.OldestPendingAt) {
				stats.OldestPendingAt = e.queuedAt
			}
		case outboxFailed:
			stats.FailedCount++
		}
	}
	return stats, nil
}

func (r *OutboxRepository) MarkSent(id string) error {
	return r.update(id, func(e *outboxEntry) { e.state = outboxSent })
}

// MarkFailed считает попытку; после domain.OutboxMaxAttempts сообщение становится failed.
func (r *OutboxRepository) MarkFailed(id string) error {
	return r.update(id, func(e *outboxEntry) {
		if e.msg.Attempts >= domain.OutboxMaxAttempts {
			e.state = outboxFailed
		}
	})
}

// Pending возвращает копию очереди ожидающих сообщений.
func (r *OutboxRepository) Pending() []domain.OutboxMessage {
	r.mu.RLock()
	queue := make([]*outboxEntry, 0, len(r.entries))
	for _, e := range r.entries {
		if e.state == outboxPending {
			queue = append(queue, e)
		}
	}
	r.mu.RUnlock()

	slices.SortFunc(queue, func(a, b *outboxEntry) int { return cmp.Compare(a.seq, b.seq) })
	out := make([]domain.OutboxMessage, len(queue))
	for i, e := range queue {
		out[i] = e.msg
		out[i].Payload = slices.Clone(e.msg.Payload)
	}
	return out
}

// update увеличивает счётчик попыток и применяет fn под блокировкой.
func (r *OutboxRepository) update(id string, fn func(*outboxEntry)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[id]
	if !ok {
		return fmt.Errorf("%w: message %s not found", domain.ErrOutboxPublish, id)
	}
	e.msg.Attempts++
	fn(e)
	return nil
}

var _ domain.OutboxRepository = (*OutboxRepository)(nil)
