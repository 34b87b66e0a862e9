package pharmacy

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/meridian-his/meridian-his/internal/platform/cache"
	"github.com/meridian-his/meridian-his/internal/shared"
)

// RepositoryPort abstracts repository usage for the service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetBatch(ctx context.Context, batchID int64) (Batch, error)
	ListLevels(ctx context.Context) ([]StockLevel, error)
	GetLedger(ctx context.Context, batchID int64, filter LedgerFilter) ([]LogEntry, error)
}

// AuditPort abstracts audit logging.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service coordinates stock ledger operations.
type Service struct {
	repo        RepositoryPort
	audit       AuditPort
	idempotency *shared.IdempotencyStore
	cache       *cache.JSONCache
	group       singleflight.Group
}

// NewService builds Service.
func NewService(repo RepositoryPort, audit AuditPort, idem *shared.IdempotencyStore, jsonCache *cache.JSONCache) *Service {
	return &Service{repo: repo, audit: audit, idempotency: idem, cache: jsonCache}
}

// StockIn books received stock onto a batch, creating the batch row
// when the code is new. Quantity must be positive.
func (s *Service) StockIn(ctx context.Context, input StockInInput) (Batch, error) {
	if strings.TrimSpace(input.BatchCode) == "" {
		return Batch{}, fmt.Errorf("%w: batch code required", shared.ErrInvalidArgument)
	}
	if input.Quantity <= 0 {
		return Batch{}, ErrInvalidQuantity
	}
	if input.ActorID == 0 {
		return Batch{}, ErrActorRequired
	}

	insertedKey := false
	if s.idempotency != nil && input.RequestID != "" {
		key := fmt.Sprintf("stockin:%s", input.RequestID)
		if err := s.idempotency.CheckAndInsert(ctx, key, "pharmacy"); err != nil {
			return Batch{}, err
		}
		insertedKey = true
	}

	var result Batch
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		batch, err := tx.GetBatchByCodeForUpdate(ctx, input.BatchCode)
		switch {
		case errors.Is(err, ErrBatchNotFound):
			if input.MedicineID == 0 {
				return fmt.Errorf("%w: medicine id required for a new batch", shared.ErrInvalidArgument)
			}
			received := input.ReceivedAt
			if received.IsZero() {
				received = time.Now().UTC()
			}
			id, err := tx.CreateBatch(ctx, Batch{
				Code:       input.BatchCode,
				MedicineID: input.MedicineID,
				Quantity:   0,
				ExpiryDate: input.ExpiryDate,
				ReceivedAt: received,
			})
			if err != nil {
				return err
			}
			batch = Batch{ID: id, Code: input.BatchCode, MedicineID: input.MedicineID}
		case err != nil:
			return err
		case input.MedicineID != 0 && batch.MedicineID != input.MedicineID:
			return ErrDuplicateBatchCode
		}
		result, err = StockIn(ctx, tx, batch.ID, input.Quantity, input.ActorID, input.Reason)
		return err
	})
	if err != nil {
		if insertedKey {
			_ = s.idempotency.Delete(ctx, fmt.Sprintf("stockin:%s", input.RequestID))
		}
		return Batch{}, err
	}

	s.invalidateOverview(ctx)
	s.recordAudit(ctx, input.ActorID, "pharmacy:stock_in", result.ID, map[string]any{
		"batch_code": result.Code,
		"quantity":   input.Quantity,
		"reason":     input.Reason,
	})
	return result, nil
}

// Dispense removes stock from one batch, clamping the quantity to what
// is available; the returned value is what was actually dispensed.
func (s *Service) Dispense(ctx context.Context, input DispenseInput) (int64, error) {
	var actual int64
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		actual, err = Dispense(ctx, tx, input.BatchID, input.Requested, input.ActorID, input.Reason)
		return err
	})
	if err != nil {
		return 0, err
	}
	s.invalidateOverview(ctx)
	s.recordAudit(ctx, input.ActorID, "pharmacy:dispense", input.BatchID, map[string]any{
		"requested": input.Requested,
		"actual":    actual,
		"reason":    input.Reason,
	})
	return actual, nil
}

// Adjust sets a batch to an absolute quantity, logging the delta.
func (s *Service) Adjust(ctx context.Context, input AdjustInput) (Batch, error) {
	var result Batch
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		result, err = Adjust(ctx, tx, input.BatchID, input.NewQuantity, input.ActorID, input.Reason)
		return err
	})
	if err != nil {
		return Batch{}, err
	}
	s.invalidateOverview(ctx)
	s.recordAudit(ctx, input.ActorID, "pharmacy:adjust", input.BatchID, map[string]any{
		"new_quantity": input.NewQuantity,
		"reason":       input.Reason,
	})
	return result, nil
}

// DeleteBatch drains the remaining quantity into a final log entry and
// removes the batch record. The log survives.
func (s *Service) DeleteBatch(ctx context.Context, input DeleteInput) (int64, error) {
	var removed int64
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		removed, err = Drain(ctx, tx, input.BatchID, input.ActorID, input.Reason)
		return err
	})
	if err != nil {
		return 0, err
	}
	s.invalidateOverview(ctx)
	s.recordAudit(ctx, input.ActorID, "pharmacy:delete_batch", input.BatchID, map[string]any{
		"drained": removed,
		"reason":  input.Reason,
	})
	return removed, nil
}

// GetBatch returns one batch.
func (s *Service) GetBatch(ctx context.Context, batchID int64) (Batch, error) {
	if batchID <= 0 {
		return Batch{}, fmt.Errorf("%w: invalid batch id", shared.ErrInvalidArgument)
	}
	return s.repo.GetBatch(ctx, batchID)
}

// Ledger lists the stock card for one batch.
func (s *Service) Ledger(ctx context.Context, batchID int64, filter LedgerFilter) ([]LogEntry, error) {
	if batchID <= 0 {
		return nil, fmt.Errorf("%w: invalid batch id", shared.ErrInvalidArgument)
	}
	return s.repo.GetLedger(ctx, batchID, filter)
}

// Overview returns stock levels across all batches, served from cache
// when possible. Concurrent cache misses collapse into one load.
func (s *Service) Overview(ctx context.Context) ([]StockLevel, error) {
	key, err := s.cache.BuildKey(ctx, "pharmacy", "overview")
	if err != nil {
		return nil, err
	}
	v, err, _ := s.group.Do(key, func() (any, error) {
		var levels []StockLevel
		err := s.cache.FetchJSON(ctx, key, &levels, func(ctx context.Context) (any, error) {
			return s.repo.ListLevels(ctx)
		})
		return levels, err
	})
	if err != nil {
		return nil, err
	}
	return v.([]StockLevel), nil
}

// InvalidateOverview drops the cached stock overview. Settlement in the
// billing module deducts stock outside this service and calls this
// afterwards.
func (s *Service) InvalidateOverview(ctx context.Context) {
	s.invalidateOverview(ctx)
}

func (s *Service) invalidateOverview(ctx context.Context) {
	if s.cache != nil {
		_ = s.cache.Bump(ctx)
	}
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action string, batchID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "medicine_batch",
		EntityID: fmt.Sprintf("%d", batchID),
		Meta:     meta,
	})
}
