package pharmacy

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// TxRepository exposes the transactional ledger operations. The billing
// module embeds this interface in its own transaction surface so one
// database transaction covers stock and bill together.
type TxRepository interface {
	GetBatchForUpdate(ctx context.Context, batchID int64) (Batch, error)
	GetBatchByCodeForUpdate(ctx context.Context, code string) (Batch, error)
	CreateBatch(ctx context.Context, b Batch) (int64, error)
	SetBatchQuantity(ctx context.Context, batchID, quantity int64) error
	InsertLogEntry(ctx context.Context, e LogEntry) (int64, error)
	RemoveBatch(ctx context.Context, batchID int64) error
}

// StockIn increments the batch quantity and appends a positive log
// entry. The batch row is locked for the remainder of the transaction.
func StockIn(ctx context.Context, tx TxRepository, batchID, quantity, actorID int64, reason string) (Batch, error) {
	if quantity <= 0 {
		return Batch{}, ErrInvalidQuantity
	}
	if actorID == 0 {
		return Batch{}, ErrActorRequired
	}
	batch, err := tx.GetBatchForUpdate(ctx, batchID)
	if err != nil {
		return Batch{}, err
	}
	batch.Quantity += quantity
	if err := tx.SetBatchQuantity(ctx, batch.ID, batch.Quantity); err != nil {
		return Batch{}, err
	}
	if _, err := tx.InsertLogEntry(ctx, newLogEntry(batch.ID, actorID, quantity, reason)); err != nil {
		return Batch{}, err
	}
	return batch, nil
}

// Dispense removes up to requested units from the batch, clamping to
// the available quantity rather than failing. It returns the quantity
// actually dispensed so callers can react to partial fulfilment. The
// batch row is locked here; callers touching several batches must lock
// them in ascending batch id order.
func Dispense(ctx context.Context, tx TxRepository, batchID, requested, actorID int64, reason string) (int64, error) {
	if requested <= 0 {
		return 0, ErrInvalidQuantity
	}
	if actorID == 0 {
		return 0, ErrActorRequired
	}
	batch, err := tx.GetBatchForUpdate(ctx, batchID)
	if err != nil {
		return 0, err
	}
	actual := requested
	if actual > batch.Quantity {
		actual = batch.Quantity
	}
	if actual == 0 {
		return 0, nil
	}
	if err := tx.SetBatchQuantity(ctx, batch.ID, batch.Quantity-actual); err != nil {
		return 0, err
	}
	if _, err := tx.InsertLogEntry(ctx, newLogEntry(batch.ID, actorID, -actual, reason)); err != nil {
		return 0, err
	}
	return actual, nil
}

// Adjust sets the batch to an absolute quantity, clamped at zero, and
// logs the delta as a single entry. A no-op adjustment writes nothing.
func Adjust(ctx context.Context, tx TxRepository, batchID, newQuantity, actorID int64, reason string) (Batch, error) {
	if actorID == 0 {
		return Batch{}, ErrActorRequired
	}
	if newQuantity < 0 {
		newQuantity = 0
	}
	batch, err := tx.GetBatchForUpdate(ctx, batchID)
	if err != nil {
		return Batch{}, err
	}
	delta := newQuantity - batch.Quantity
	if delta == 0 {
		return batch, nil
	}
	if err := tx.SetBatchQuantity(ctx, batch.ID, newQuantity); err != nil {
		return Batch{}, err
	}
	if _, err := tx.InsertLogEntry(ctx, newLogEntry(batch.ID, actorID, delta, reason)); err != nil {
		return Batch{}, err
	}
	batch.Quantity = newQuantity
	return batch, nil
}

// Drain logs a final negative entry for the full remaining quantity and
// removes the batch record. The log entry is retained even though the
// batch is gone; entries reference batches by id only.
func Drain(ctx context.Context, tx TxRepository, batchID, actorID int64, reason string) (int64, error) {
	if actorID == 0 {
		return 0, ErrActorRequired
	}
	batch, err := tx.GetBatchForUpdate(ctx, batchID)
	if err != nil {
		return 0, err
	}
	if batch.Quantity > 0 {
		if _, err := tx.InsertLogEntry(ctx, newLogEntry(batch.ID, actorID, -batch.Quantity, reason)); err != nil {
			return 0, err
		}
	}
	if err := tx.RemoveBatch(ctx, batch.ID); err != nil {
		return 0, err
	}
	return batch.Quantity, nil
}

func newLogEntry(batchID, actorID, change int64, reason string) LogEntry {
	return LogEntry{
		BatchID:    batchID,
		ActorID:    actorID,
		Change:     change,
		Reason:     reason,
		Ref:        uuid.NewString(),
		RecordedAt: time.Now().UTC(),
	}
}

// DispenseReason composes the audit reason used when a bill settlement
// deducts stock.
func DispenseReason(billID int64) string {
	return fmt.Sprintf("dispense for bill %d", billID)
}
