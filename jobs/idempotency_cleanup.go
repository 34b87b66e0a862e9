package jobs

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/meridian-his/meridian-his/internal/observability"
	"github.com/meridian-his/meridian-his/internal/shared"
)

// IdempotencyCleaner prunes idempotency keys older than the retention
// horizon.
type IdempotencyCleaner struct {
	store     *shared.IdempotencyStore
	metrics   *observability.Metrics
	logger    *slog.Logger
	retention time.Duration
}

// NewIdempotencyCleaner builds IdempotencyCleaner with a default retention.
func NewIdempotencyCleaner(store *shared.IdempotencyStore, metrics *observability.Metrics, logger *slog.Logger, retention time.Duration) *IdempotencyCleaner {
	return &IdempotencyCleaner{store: store, metrics: metrics, logger: logger, retention: retention}
}

// HandlerFunc adapts the cleaner to an Asynq handler.
func (c *IdempotencyCleaner) HandlerFunc() asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var payload IdempotencyCleanupPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
		retention := payload.Retention
		if retention <= 0 {
			retention = c.retention
		}
		removed, err := c.store.Cleanup(ctx, retention)
		if err != nil {
			c.metrics.JobRan(TaskIdempotencyCleanup, "error")
			return err
		}
		c.metrics.JobRan(TaskIdempotencyCleanup, "ok")
		c.logger.Info("idempotency cleanup finished", slog.Int64("removed", removed))
		return nil
	}
}
