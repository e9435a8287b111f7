package idempotency

import (
	"context"
	"errors"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

const (
	defaultCleanupInterval  = 10 * time.Minute
	defaultCleanupBatchSize = 500

	// CleanupLockName — имя блокировки, под которой чистит только одна реплика.
	CleanupLockName = "idempotency-cleanup"
)

// Результаты цикла очистки.
const (
	resultOK        = "ok"
	resultSkipped   = "skipped"
	resultLockError = "lock_error"
	resultError     = "error"
)

// Locker выдаёт блокировку на время одного цикла очистки.
// ok=false означает, что цикл уже выполняет другая реплика.
type Locker interface {
	TryLock(ctx context.Context, name string, ttl time.Duration) (release func(), ok bool, err error)
}

// Metrics принимает итоги циклов очистки.
type Metrics interface {
	RecordIdempotencyCleanup(result string, deleted int)
}

type nopMetrics struct{}

func (nopMetrics) RecordIdempotencyCleanup(string, int) {}

type cleanupSettings struct {
	logger    *log.Entry
	locker    Locker
	metrics   Metrics
	interval  time.Duration
	batchSize int
}

// CleanupOption настраивает CleanupWorker.
type CleanupOption func(*cleanupSettings)

func WithLogger(logger *log.Entry) CleanupOption {
	return func(s *cleanupSettings) { s.logger = logger }
}

// WithLocker включает блокировку между репликами.
func WithLocker(locker Locker) CleanupOption {
	return func(s *cleanupSettings) { s.locker = locker }
}

func WithMetrics(metrics Metrics) CleanupOption {
	return func(s *cleanupSettings) { s.metrics = metrics }
}

// WithInterval задаёт период очистки; он же служит TTL блокировки.
func WithInterval(interval time.Duration) CleanupOption {
	return func(s *cleanupSettings) { s.interval = interval }
}

// WithBatchSize ограничивает число ключей, удаляемых одним запросом.
func WithBatchSize(batchSize int) CleanupOption {
	return func(s *cleanupSettings) { s.batchSize = batchSize }
}

// CleanupWorker периодически удаляет просроченные ключи идемпотентности checkout.
type CleanupWorker struct {
	repo domain.IdempotencyRepository
	cleanupSettings
}

// NewCleanupWorker создаёт воркер очистки.
func NewCleanupWorker(repo domain.IdempotencyRepository, options ...CleanupOption) *CleanupWorker {
	settings := cleanupSettings{
		interval:  defaultCleanupInterval,
		batchSize: defaultCleanupBatchSize,
	}
	for _, option := range options {
		if option != nil {
			option(&settings)
		}
	}
	if settings.logger == nil {
		settings.logger = log.WithField("component", "idempotency-cleanup-worker")
	}
	if settings.metrics == nil {
		settings.metrics = nopMetrics{}
	}
	if settings.interval <= 0 {
		settings.interval = defaultCleanupInterval
	}
	if settings.batchSize <= 0 {
		settings.batchSize = defaultCleanupBatchSize
	}

	return &CleanupWorker{repo: repo, cleanupSettings: settings}
}

// Run чистит сразу при старте, затем раз в interval до отмены ctx.
func (w *CleanupWorker) Run(ctx context.Context) {
	if w.repo == nil {
		w.logger.Warn("idempotency cleanup worker disabled: no repository")
		return
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		w.runOnce(ctx, time.Now().UTC())
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (w *CleanupWorker) runOnce(ctx context.Context, before time.Time) {
	if w.locker != nil {
		release, ok, err := w.locker.TryLock(ctx, CleanupLockName, w.interval)
		switch {
		case err != nil:
			w.metrics.RecordIdempotencyCleanup(resultLockError, 0)
			w.logger.WithError(err).Warn("idempotency cleanup lock failed")
			return
		case !ok:
			w.metrics.RecordIdempotencyCleanup(resultSkipped, 0)
			w.logger.Debug("idempotency cleanup held by another replica")
			return
		}
		defer release()
	}

	deleted, err := w.DeleteExpired(ctx, before)
	switch {
	case errors.Is(err, context.Canceled):
		return
	case err != nil:
		w.metrics.RecordIdempotencyCleanup(resultError, deleted)
		w.logger.WithError(err).WithField("deleted", deleted).Warn("idempotency cleanup failed")
		return
	}

	w.metrics.RecordIdempotencyCleanup(resultOK, deleted)
	if deleted > 0 {
		w.logger.WithField("deleted", deleted).Info("expired idempotency keys removed")
	}
}

// DeleteExpired удаляет все записи с ttl <= before порциями batchSize
// и возвращает число удалённых, даже если очередная порция завершилась ошибкой.
func (w *CleanupWorker) DeleteExpired(ctx context.Context, before time.Time) (int, error) {
	if before.IsZero() {
		before = time.Now().UTC()
	}

	total := 0
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		deleted, err := w.repo.DeleteExpired(before, w.batchSize)
		total += deleted
		if err != nil {
			return total, err
		}
		if deleted < w.batchSize {
			return total, nil
		}
	}
}
