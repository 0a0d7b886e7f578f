package outbox

import (
	"context"
	"time"

	"github.com/relialab/docpipe/internal/metrics"
	"github.com/relialab/docpipe/internal/pkg/logger"
)

// Publisher pushes a staged message to the broker. Implementations must
// block until the broker confirmed (or refused) the publish.
type Publisher interface {
	Publish(ctx context.Context, m Message) error
}

// Worker polls the outbox table on a fixed delay and drains drainable rows.
// A single worker never overlaps its own ticks; across workers the SKIP
// LOCKED claim keeps each row with exactly one publisher.
type Worker struct {
	store   *Store
	pub     Publisher
	service string

	PollInterval time.Duration
	BatchSize    int
}

func NewWorker(store *Store, pub Publisher, service string, pollInterval time.Duration, batchSize int) *Worker {
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}
	if batchSize <= 0 {
		batchSize = 50
	}
	return &Worker{
		store:        store,
		pub:          pub,
		service:      service,
		PollInterval: pollInterval,
		BatchSize:    batchSize,
	}
}

// Run blocks until ctx is canceled. Callers start it in a goroutine.
func (w *Worker) Run(ctx context.Context) {
	log := logger.Logger.With().
		Str("component", "outbox_worker").
		Str("service", w.service).
		Logger()

	var lastErr string
	var lastAt time.Time

	timer := time.NewTimer(w.PollInterval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("stopped")
			return
		case <-timer.C:
			if err := w.tick(ctx); err != nil {
				// rate-limit repeated identical failures in the log
				if err.Error() != lastErr || time.Since(lastAt) > 10*time.Second {
					log.Warn().Err(err).Msg("outbox drain tick failed")
					lastErr = err.Error()
					lastAt = time.Now()
				}
			} else {
				lastErr = ""
			}
			timer.Reset(w.PollInterval)
		}
	}
}

func (w *Worker) tick(ctx context.Context) error {
	sent, err := w.store.DrainBatch(ctx, w.BatchSize, w.publishOne)
	if err != nil {
		return err
	}
	if sent > 0 {
		logger.Logger.Debug().
			Str("component", "outbox_worker").
			Str("service", w.service).
			Int("sent", sent).
			Msg("drained outbox batch")
	}
	return nil
}

func (w *Worker) publishOne(ctx context.Context, m Message) error {
	pubCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := w.pub.Publish(pubCtx, m); err != nil {
		metrics.RecordPublishFailed(w.service, string(m.EventType))
		logger.Logger.Warn().
			Str("component", "outbox_worker").
			Str("service", w.service).
			Str("event_id", m.EventID).
			Str("routing_key", m.RoutingKey).
			Err(err).
			Msg("outbox publish failed; scheduled retry")
		return err
	}

	metrics.RecordPublished(w.service, string(m.EventType))
	logger.Logger.Info().
		Str("component", "outbox_worker").
		Str("service", w.service).
		Str("event_id", m.EventID).
		Str("routing_key", m.RoutingKey).
		Str("correlation_id", m.CorrelationID).
		Msg("published")
	return nil
}
