// Package outbox переносит события заказов из transactional outbox в брокер.
package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

const (
	defaultPollInterval   = time.Second
	defaultBatchSize      = 100
	defaultMaxAttempts    = 3
	defaultRetryBaseDelay = 50 * time.Millisecond
	defaultConcurrency    = 4
	maxRetryDelay         = 5 * time.Second
)

// Результаты публикации для метрик.
const (
	resultSent       = "sent"
	resultRetryError = "retry_error"
	resultRequeued   = "requeued"
	resultFailed     = "failed"
	resultDLQFailed  = "dlq_failed"
	resultDeferred   = "deferred"
)

// Metrics — то, что воркер сообщает о своей работе.
type Metrics interface {
	RecordOutboxPublish(result string)
	SetOutboxBacklog(pending int, oldestAge time.Duration)
}

type nopMetrics struct{}

func (nopMetrics) RecordOutboxPublish(string) {}

func (nopMetrics) SetOutboxBacklog(int, time.Duration) {}

type settings struct {
	logger         *log.Entry
	metrics        Metrics
	dlq            domain.OutboxPublisher
	pollInterval   time.Duration
	batchSize      int
	maxAttempts    int
	retryBaseDelay time.Duration
	concurrency    int
	now            func() time.Time
}

// Option настраивает Worker.
type Option func(*settings)

// WithLogger задаёт logger.
func WithLogger(logger *log.Entry) Option {
	return func(s *settings) { s.logger = logger }
}

// WithMetrics подключает метрики публикации и backlog.
func WithMetrics(metrics Metrics) Option {
	return func(s *settings) { s.metrics = metrics }
}

// WithDLQPublisher задаёт, куда уходит сообщение после domain.OutboxMaxAttempts неудач.
func WithDLQPublisher(publisher domain.OutboxPublisher) Option {
	return func(s *settings) { s.dlq = publisher }
}

// WithPollInterval задаёт частоту опроса outbox.
func WithPollInterval(interval time.Duration) Option {
	return func(s *settings) { s.pollInterval = interval }
}

// WithBatchSize задаёт размер батча.
func WithBatchSize(batchSize int) Option {
	return func(s *settings) { s.batchSize = batchSize }
}

// WithMaxAttempts задаёт число попыток публикации за один цикл опроса.
// Общий лимит по сообщению задаёт domain.OutboxMaxAttempts.
func WithMaxAttempts(maxAttempts int) Option {
	return func(s *settings) { s.maxAttempts = maxAttempts }
}

// WithRetryBaseDelay задаёт первую паузу exponential backoff; 0 отключает паузы.
func WithRetryBaseDelay(delay time.Duration) Option {
	return func(s *settings) { s.retryBaseDelay = delay }
}

// WithConcurrency ограничивает число заказов, события которых публикуются параллельно.
func WithConcurrency(n int) Option {
	return func(s *settings) { s.concurrency = n }
}

// Worker публикует pending-сообщения outbox. События одного заказа уходят строго
// по порядку постановки; разные заказы обрабатываются параллельно.
type Worker struct {
	repo      domain.OutboxRepository
	publisher domain.OutboxPublisher
	settings
}

// NewWorker создаёт outbox worker.
func NewWorker(repo domain.OutboxRepository, publisher domain.OutboxPublisher, opts ...Option) *Worker {
	s := settings{
		pollInterval:   defaultPollInterval,
		batchSize:      defaultBatchSize,
		maxAttempts:    defaultMaxAttempts,
		retryBaseDelay: defaultRetryBaseDelay,
		concurrency:    defaultConcurrency,
		now:            time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&s)
		}
	}

	if s.logger == nil {
		s.logger = log.WithField("component", "outbox-worker")
	}
	if s.metrics == nil {
		s.metrics = nopMetrics{}
	}
	if s.pollInterval <= 0 {
		s.pollInterval = defaultPollInterval
	}
	if s.batchSize <= 0 {
		s.batchSize = defaultBatchSize
	}
	if s.maxAttempts <= 0 {
		s.maxAttempts = defaultMaxAttempts
	}
	s.retryBaseDelay = max(s.retryBaseDelay, 0)
	if s.concurrency <= 0 {
		s.concurrency = 1
	}

	return &Worker{repo: repo, publisher: publisher, settings: s}
}

// Run опрашивает outbox до отмены ctx.
func (w *Worker) Run(ctx context.Context) {
	if w.repo == nil || w.publisher == nil {
		w.logger.Warn("outbox worker is disabled: repo or publisher is nil")
		return
	}

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		w.ProcessOnce(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// ProcessOnce забирает один батч и публикует его.
func (w *Worker) ProcessOnce(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	defer w.refreshBacklog()

	batch, err := w.repo.PullPending(w.batchSize)
	if err != nil {
		w.logger.WithError(err).Warn("failed to pull pending outbox messages")
		return
	}
	if len(batch) == 0 {
		return
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(w.concurrency)
	for _, stream := range groupByAggregate(batch) {
		group.Go(func() error {
			w.publishStream(groupCtx, stream)
			return nil
		})
	}
	_ = group.Wait()
}

// publishStream публикует события одного заказа по порядку. После первой неудачи
// оставшиеся события откладываются до следующего цикла, чтобы не обогнать упавшее.
func (w *Worker) publishStream(ctx context.Context, stream []domain.OutboxMessage) {
	for i, msg := range stream {
		if ctx.Err() != nil {
			return
		}

		if err := w.publishWithRetry(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return
			}
			w.recordFailure(msg, err)
			for range stream[i+1:] {
				w.metrics.RecordOutboxPublish(resultDeferred)
			}
			return
		}

		if err := w.repo.MarkSent(msg.ID); err != nil {
			w.logger.WithError(err).WithField("outbox_id", msg.ID).Warn("failed to mark outbox as sent")
		}
	}
}

func (w *Worker) publishWithRetry(ctx context.Context, msg domain.OutboxMessage) error {
	var lastErr error
	for attempt := 1; attempt <= w.maxAttempts; attempt++ {
		if lastErr = w.publisher.Publish(msg); lastErr == nil {
			w.metrics.RecordOutboxPublish(resultSent)
			return nil
		}
		w.metrics.RecordOutboxPublish(resultRetryError)

		if attempt == w.maxAttempts {
			break
		}
		if delay := w.backoff(attempt); delay > 0 {
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}
	}
	return fmt.Errorf("publish failed after %d attempts: %w", w.maxAttempts, lastErr)
}

// recordFailure засчитывает неудачу; на последней допустимой попытке копия уходит в DLQ.
func (w *Worker) recordFailure(msg domain.OutboxMessage, publishErr error) {
	entry := w.logger.WithError(publishErr).WithFields(log.Fields{
		"outbox_id":  msg.ID,
		"order_id":   msg.AggregateID,
		"event_type": msg.EventType,
		"attempts":   msg.Attempts + 1,
	})

	if msg.LastAttempt() {
		entry.Error("outbox publish failed, attempts exhausted")
		w.metrics.RecordOutboxPublish(resultFailed)
		if err := w.sendToDLQ(msg, publishErr); err != nil {
			w.logger.WithError(err).WithField("outbox_id", msg.ID).Warn("failed to publish to DLQ")
			w.metrics.RecordOutboxPublish(resultDLQFailed)
		}
	} else {
		entry.Warn("outbox publish failed, message stays pending")
		w.metrics.RecordOutboxPublish(resultRequeued)
	}

	if err := w.repo.MarkFailed(msg.ID); err != nil {
		w.logger.WithError(err).WithField("outbox_id", msg.ID).Warn("failed to mark outbox as failed")
	}
}

func (w *Worker) sendToDLQ(msg domain.OutboxMessage, publishErr error) error {
	if w.dlq == nil {
		return nil
	}

	body, err := json.Marshal(domain.NewOutboxDeadLetter(msg, publishErr, w.now()))
	if err != nil {
		return fmt.Errorf("marshal dead letter: %w", err)
	}

	letter := msg
	letter.Payload = body
	if err := w.dlq.Publish(letter); err != nil {
		return fmt.Errorf("publish to dlq: %w", err)
	}
	return nil
}

func (w *Worker) refreshBacklog() {
	stats, err := w.repo.Stats()
	if err != nil {
		w.logger.WithError(err).Warn("failed to collect outbox backlog stats")
		return
	}

	var age time.Duration
	if stats.PendingCount > 0 && !stats.OldestPendingAt.IsZero() {
		age = w.now().Sub(stats.OldestPendingAt)
	}
	w.metrics.SetOutboxBacklog(stats.PendingCount, age)
}

// backoff удваивает паузу с каждой попыткой, но не выше maxRetryDelay.
func (w *Worker) backoff(attempt int) time.Duration {
	delay := w.retryBaseDelay
	for i := 1; i < attempt && delay < maxRetryDelay; i++ {
		delay *= 2
	}
	return min(delay, maxRetryDelay)
}

// groupByAggregate раскладывает батч по заказам, сохраняя порядок внутри каждого.
func groupByAggregate(batch []domain.OutboxMessage) [][]domain.OutboxMessage {
	index := make(map[string]int, len(batch))
	var streams [][]domain.OutboxMessage
	for _, msg := range batch {
		key := msg.AggregateType + "/" + msg.AggregateID
		i, ok := index[key]
		if !ok {
			i = len(streams)
			index[key] = i
			streams = append(streams, nil)
		}
		streams[i] = append(streams[i], msg)
	}
	return streams
}
