package pharmacy

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/meridian-his/meridian-his/internal/platform/cache"
	"github.com/meridian-his/meridian-his/internal/shared"
)

// memoryRepo implements RepositoryPort and TxRepository over maps. WithTx
// snapshots state up front and restores it when the callback fails, so
// tests observe the same all-or-nothing behaviour as the real
// transaction.
type memoryRepo struct {
	batches     map[int64]Batch
	byCode      map[string]int64
	log         []LogEntry
	nextBatchID int64
	nextLogID   int64
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{batches: make(map[int64]Batch), byCode: make(map[string]int64)}
}

// seedBatch plants a batch together with the opening log entry, so the
// reconciliation invariant holds from the first assertion.
func (r *memoryRepo) seedBatch(code string, medicineID, quantity int64) int64 {
	r.nextBatchID++
	id := r.nextBatchID
	r.batches[id] = Batch{ID: id, Code: code, MedicineID: medicineID, Quantity: quantity}
	r.byCode[code] = id
	if quantity != 0 {
		r.nextLogID++
		r.log = append(r.log, LogEntry{ID: r.nextLogID, BatchID: id, ActorID: 1, Change: quantity, Reason: "delivery"})
	}
	return id
}

func (r *memoryRepo) snapshot() *memoryRepo {
	cp := newMemoryRepo()
	for id, b := range r.batches {
		cp.batches[id] = b
	}
	for code, id := range r.byCode {
		cp.byCode[code] = id
	}
	cp.log = append(cp.log, r.log...)
	cp.nextBatchID = r.nextBatchID
	cp.nextLogID = r.nextLogID
	return cp
}

func (r *memoryRepo) restore(cp *memoryRepo) {
	r.batches = cp.batches
	r.byCode = cp.byCode
	r.log = cp.log
	r.nextBatchID = cp.nextBatchID
	r.nextLogID = cp.nextLogID
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	cp := r.snapshot()
	if err := fn(ctx, r); err != nil {
		r.restore(cp)
		return err
	}
	return nil
}

func (r *memoryRepo) GetBatch(ctx context.Context, batchID int64) (Batch, error) {
	b, ok := r.batches[batchID]
	if !ok {
		return Batch{}, ErrBatchNotFound
	}
	return b, nil
}

func (r *memoryRepo) ListLevels(ctx context.Context) ([]StockLevel, error) {
	levels := []StockLevel{}
	for _, b := range r.batches {
		levels = append(levels, StockLevel{
			BatchID:    b.ID,
			BatchCode:  b.Code,
			MedicineID: b.MedicineID,
			Quantity:   b.Quantity,
			ExpiryDate: b.ExpiryDate,
		})
	}
	return levels, nil
}

func (r *memoryRepo) GetLedger(ctx context.Context, batchID int64, filter LedgerFilter) ([]LogEntry, error) {
	entries := []LogEntry{}
	for _, e := range r.log {
		if e.BatchID == batchID {
			entries = append(entries, e)
		}
	}
	return entries, nil
}

func (r *memoryRepo) GetBatchForUpdate(ctx context.Context, batchID int64) (Batch, error) {
	return r.GetBatch(ctx, batchID)
}

func (r *memoryRepo) GetBatchByCodeForUpdate(ctx context.Context, code string) (Batch, error) {
	id, ok := r.byCode[code]
	if !ok {
		return Batch{}, ErrBatchNotFound
	}
	return r.batches[id], nil
}

func (r *memoryRepo) CreateBatch(ctx context.Context, b Batch) (int64, error) {
	r.nextBatchID++
	b.ID = r.nextBatchID
	b.CreatedAt = time.Now()
	b.UpdatedAt = b.CreatedAt
	r.batches[b.ID] = b
	r.byCode[b.Code] = b.ID
	return b.ID, nil
}

func (r *memoryRepo) SetBatchQuantity(ctx context.Context, batchID, quantity int64) error {
	b, ok := r.batches[batchID]
	if !ok {
		return ErrBatchNotFound
	}
	b.Quantity = quantity
	r.batches[batchID] = b
	return nil
}

func (r *memoryRepo) InsertLogEntry(ctx context.Context, e LogEntry) (int64, error) {
	r.nextLogID++
	e.ID = r.nextLogID
	r.log = append(r.log, e)
	return e.ID, nil
}

func (r *memoryRepo) RemoveBatch(ctx context.Context, batchID int64) error {
	b, ok := r.batches[batchID]
	if !ok {
		return ErrBatchNotFound
	}
	delete(r.byCode, b.Code)
	delete(r.batches, batchID)
	return nil
}

// requireLedgerConsistent asserts the reconciliation invariant: log
// entries for a live batch sum to its current quantity.
func (r *memoryRepo) requireLedgerConsistent(t *testing.T, batchID int64) {
	t.Helper()
	b, ok := r.batches[batchID]
	require.True(t, ok, "batch %d missing", batchID)
	var sum int64
	for _, e := range r.log {
		if e.BatchID == batchID {
			sum += e.Change
		}
	}
	require.Equal(t, b.Quantity, sum, "stock log must sum to current quantity")
}

func newTestService(repo *memoryRepo) *Service {
	return NewService(repo, nil, nil, cache.NewJSONCache(nil, "test:version", time.Minute))
}

func TestStockInCreatesBatchOnFirstDelivery(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	expiry := time.Date(2027, 3, 1, 0, 0, 0, 0, time.UTC)
	batch, err := svc.StockIn(ctx, StockInInput{
		BatchCode:  "AMX-2026-09",
		MedicineID: 3,
		Quantity:   120,
		ExpiryDate: expiry,
		ActorID:    7,
		Reason:     "supplier delivery",
	})
	require.NoError(t, err)
	require.NotZero(t, batch.ID)
	require.Equal(t, int64(120), batch.Quantity)
	repo.requireLedgerConsistent(t, batch.ID)

	// Second delivery against the same code increments in place.
	batch, err = svc.StockIn(ctx, StockInInput{
		BatchCode: "AMX-2026-09",
		Quantity:  30,
		ActorID:   7,
		Reason:    "supplier delivery",
	})
	require.NoError(t, err)
	require.Equal(t, int64(150), batch.Quantity)
	require.Len(t, repo.batches, 1)
	repo.requireLedgerConsistent(t, batch.ID)
}

func TestStockInRejectsCodeReuseAcrossMedicines(t *testing.T) {
	repo := newMemoryRepo()
	repo.seedBatch("AMX-2026-09", 3, 10)
	svc := newTestService(repo)

	_, err := svc.StockIn(context.Background(), StockInInput{
		BatchCode:  "AMX-2026-09",
		MedicineID: 4,
		Quantity:   5,
		ActorID:    7,
		Reason:     "supplier delivery",
	})
	require.ErrorIs(t, err, ErrDuplicateBatchCode)
}

func TestStockInValidation(t *testing.T) {
	svc := newTestService(newMemoryRepo())
	ctx := context.Background()

	_, err := svc.StockIn(ctx, StockInInput{BatchCode: "B", MedicineID: 1, Quantity: 0, ActorID: 7, Reason: "r"})
	require.ErrorIs(t, err, ErrInvalidQuantity)

	_, err = svc.StockIn(ctx, StockInInput{BatchCode: "", MedicineID: 1, Quantity: 1, ActorID: 7, Reason: "r"})
	require.ErrorIs(t, err, shared.ErrInvalidArgument)

	_, err = svc.StockIn(ctx, StockInInput{BatchCode: "B", MedicineID: 1, Quantity: 1, ActorID: 0, Reason: "r"})
	require.ErrorIs(t, err, ErrActorRequired)

	// New code without a medicine id cannot seed a batch.
	_, err = svc.StockIn(ctx, StockInInput{BatchCode: "B", Quantity: 1, ActorID: 7, Reason: "r"})
	require.ErrorIs(t, err, shared.ErrInvalidArgument)
}

func TestServiceDispenseClamps(t *testing.T) {
	repo := newMemoryRepo()
	id := repo.seedBatch("BATCH-A", 1, 10)
	svc := newTestService(repo)

	actual, err := svc.Dispense(context.Background(), DispenseInput{
		BatchID: id, Requested: 15, ActorID: 7, Reason: "ward",
	})
	require.NoError(t, err)
	require.Equal(t, int64(10), actual)
	require.Equal(t, int64(0), repo.batches[id].Quantity)
	repo.requireLedgerConsistent(t, id)
}

func TestDeleteBatchKeepsLedgerHistory(t *testing.T) {
	repo := newMemoryRepo()
	id := repo.seedBatch("BATCH-A", 1, 4)
	svc := newTestService(repo)
	ctx := context.Background()

	removed, err := svc.DeleteBatch(ctx, DeleteInput{BatchID: id, ActorID: 7, Reason: "recall"})
	require.NoError(t, err)
	require.Equal(t, int64(4), removed)

	entries, err := svc.Ledger(ctx, id, LedgerFilter{})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, int64(4), entries[0].Change)
	require.Equal(t, int64(-4), entries[1].Change)

	_, err = svc.GetBatch(ctx, id)
	require.ErrorIs(t, err, ErrBatchNotFound)
}

func TestOverviewServedThroughCache(t *testing.T) {
	repo := newMemoryRepo()
	repo.seedBatch("BATCH-A", 1, 10)
	svc := newTestService(repo)
	ctx := context.Background()

	levels, err := svc.Overview(ctx)
	require.NoError(t, err)
	require.Len(t, levels, 1)
	require.Equal(t, int64(10), levels[0].Quantity)
}
