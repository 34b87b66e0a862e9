package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-his/meridian-his/internal/observability"
)

// ExpiringBatch is one batch inside the expiry window that still holds
// stock.
type ExpiringBatch struct {
	BatchID    int64     `json:"batch_id"`
	BatchCode  string    `json:"batch_code"`
	MedicineID int64     `json:"medicine_id"`
	Quantity   int64     `json:"quantity"`
	ExpiryDate time.Time `json:"expiry_date"`
}

// ExpiryScanner reports batches whose expiry date falls inside the
// lookahead window so pharmacists can rotate or write off stock.
type ExpiryScanner struct {
	pool    *pgxpool.Pool
	metrics *observability.Metrics
	logger  *slog.Logger
	window  time.Duration
}

// NewExpiryScanner builds ExpiryScanner with a default window.
func NewExpiryScanner(pool *pgxpool.Pool, metrics *observability.Metrics, logger *slog.Logger, window time.Duration) *ExpiryScanner {
	return &ExpiryScanner{pool: pool, metrics: metrics, logger: logger, window: window}
}

// Run executes one scan with the given window; a non-positive window
// falls back to the configured default.
func (s *ExpiryScanner) Run(ctx context.Context, window time.Duration) ([]ExpiringBatch, error) {
	if window <= 0 {
		window = s.window
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, code, medicine_id, quantity, expiry_date
		FROM medicine_batches
		WHERE quantity > 0
		  AND expiry_date IS NOT NULL
		  AND expiry_date <= $1
		ORDER BY expiry_date, id`,
		time.Now().UTC().Add(window))
	if err != nil {
		return nil, fmt.Errorf("expiry scan query: %w", err)
	}
	defer rows.Close()

	var expiring []ExpiringBatch
	for rows.Next() {
		var b ExpiringBatch
		if err := rows.Scan(&b.BatchID, &b.BatchCode, &b.MedicineID, &b.Quantity, &b.ExpiryDate); err != nil {
			return nil, fmt.Errorf("scan expiring batch: %w", err)
		}
		expiring = append(expiring, b)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, b := range expiring {
		s.logger.Warn("batch nearing expiry",
			slog.Int64("batch_id", b.BatchID),
			slog.String("batch_code", b.BatchCode),
			slog.Int64("quantity", b.Quantity),
			slog.Time("expiry_date", b.ExpiryDate),
		)
	}
	return expiring, nil
}

// HandlerFunc adapts the scanner to an Asynq handler.
func (s *ExpiryScanner) HandlerFunc() asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var payload ExpiryScanPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
		expiring, err := s.Run(ctx, payload.Window)
		if err != nil {
			s.metrics.JobRan(TaskExpiryScan, "error")
			return err
		}
		s.metrics.JobRan(TaskExpiryScan, "ok")
		s.logger.Info("expiry scan finished", slog.Int("expiring_batches", len(expiring)))
		return nil
	}
}
