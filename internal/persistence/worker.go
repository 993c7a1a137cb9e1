package persistence

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/Angleito/nyxusd-sub000/internal/observability"
)

// AuditWorker drains the audit channel and batch-writes burn records to
// Postgres off the request path. Sends into the channel are blocking, so a
// worker that falls behind applies backpressure instead of dropping records.
type AuditWorker struct {
	writer       *BurnAuditWriter
	input        <-chan BurnRow
	batchSize    int
	flushTimeout time.Duration
	metrics      *observability.Metrics
	log          zerolog.Logger
}

func NewAuditWorker(
	writer *BurnAuditWriter,
	input <-chan BurnRow,
	batchSize int,
	flushTimeout time.Duration,
	metrics *observability.Metrics,
	log zerolog.Logger,
) *AuditWorker {
	return &AuditWorker{
		writer:       writer,
		input:        input,
		batchSize:    batchSize,
		flushTimeout: flushTimeout,
		metrics:      metrics,
		log:          log,
	}
}

// Run loops until the context is cancelled or the input channel closes,
// flushing when the batch fills or the flush timeout fires. The final batch
// is flushed on shutdown.
func (w *AuditWorker) Run(ctx context.Context) error {
	batch := make([]BurnRow, 0, w.batchSize)

	timer := time.NewTimer(w.flushTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			if len(batch) > 0 {
				if err := w.flush(context.Background(), batch); err != nil {
					w.log.Error().Err(err).Int("rows", len(batch)).Msg("final audit flush failed")
				}
			}
			return ctx.Err()

		case row, ok := <-w.input:
			if !ok {
				if len(batch) > 0 {
					if err := w.flush(context.Background(), batch); err != nil {
						w.log.Error().Err(err).Int("rows", len(batch)).Msg("final audit flush failed")
					}
				}
				return nil
			}

			batch = append(batch, row)
			if len(batch) >= w.batchSize {
				w.flushWithRetry(ctx, batch)
				batch = batch[:0]
				timer.Reset(w.flushTimeout)
			}

		case <-timer.C:
			if len(batch) > 0 {
				w.flushWithRetry(ctx, batch)
				batch = batch[:0]
			}
			timer.Reset(w.flushTimeout)
		}
	}
}

// flushWithRetry retries with exponential backoff until the write succeeds or
// the context is cancelled. Audit rows are never dropped; on shutdown one
// final attempt runs with a background context.
func (w *AuditWorker) flushWithRetry(ctx context.Context, batch []BurnRow) {
	backoff := 100 * time.Millisecond
	const maxBackoff = 30 * time.Second

	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			w.log.Warn().
				Int("attempt", attempt).
				Dur("backoff", backoff).
				Int("rows", len(batch)).
				Msg("audit flush retry")
			select {
			case <-ctx.Done():
				if err := w.flush(context.Background(), batch); err != nil {
					w.log.Error().Err(err).Int("rows", len(batch)).Msg("shutdown audit flush failed")
				}
				return
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		}

		if err := w.flush(ctx, batch); err == nil {
			if attempt > 0 {
				w.log.Info().Int("attempts", attempt+1).Msg("audit flush recovered")
			}
			return
		}
	}
}

func (w *AuditWorker) flush(ctx context.Context, batch []BurnRow) error {
	start := time.Now()
	err := w.writer.WriteBatch(ctx, batch)
	if w.metrics != nil {
		if err != nil {
			w.metrics.StoreErrors.WithLabelValues("audit_batch").Inc()
		} else {
			w.metrics.StoreWrites.WithLabelValues("audit_batch").Inc()
			w.metrics.StoreWriteDuration.Observe(time.Since(start).Seconds())
		}
	}
	return err
}
