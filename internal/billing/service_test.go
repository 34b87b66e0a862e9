package billing

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/meridian-his/meridian-his/internal/pharmacy"
)

// memoryRepo implements RepositoryPort and TxRepository over maps,
// batches included, so settlement exercises the same stock deduction
// path as production. WithTx snapshots state up front and restores it
// when the callback fails, matching the all-or-nothing behaviour of the
// real transaction.
type memoryRepo struct {
	bills    map[int64]Bill
	items    map[int64]LineItem
	payments map[int64]Payment
	batches  map[int64]pharmacy.Batch
	stockLog []pharmacy.LogEntry

	nextBillID    int64
	nextItemID    int64
	nextPaymentID int64
	nextBatchID   int64
	nextLogID     int64
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		bills:    make(map[int64]Bill),
		items:    make(map[int64]LineItem),
		payments: make(map[int64]Payment),
		batches:  make(map[int64]pharmacy.Batch),
	}
}

func (r *memoryRepo) seedBatch(medicineID, quantity int64) int64 {
	r.nextBatchID++
	id := r.nextBatchID
	r.batches[id] = pharmacy.Batch{ID: id, MedicineID: medicineID, Quantity: quantity}
	r.nextLogID++
	r.stockLog = append(r.stockLog, pharmacy.LogEntry{
		ID: r.nextLogID, BatchID: id, ActorID: 1, Change: quantity, Reason: "delivery",
	})
	return id
}

func (r *memoryRepo) snapshot() *memoryRepo {
	cp := newMemoryRepo()
	for id, b := range r.bills {
		cp.bills[id] = b
	}
	for id, li := range r.items {
		cp.items[id] = li
	}
	for id, p := range r.payments {
		cp.payments[id] = p
	}
	for id, b := range r.batches {
		cp.batches[id] = b
	}
	cp.stockLog = append(cp.stockLog, r.stockLog...)
	cp.nextBillID = r.nextBillID
	cp.nextItemID = r.nextItemID
	cp.nextPaymentID = r.nextPaymentID
	cp.nextBatchID = r.nextBatchID
	cp.nextLogID = r.nextLogID
	return cp
}

func (r *memoryRepo) restore(cp *memoryRepo) {
	r.bills = cp.bills
	r.items = cp.items
	r.payments = cp.payments
	r.batches = cp.batches
	r.stockLog = cp.stockLog
	r.nextBillID = cp.nextBillID
	r.nextItemID = cp.nextItemID
	r.nextPaymentID = cp.nextPaymentID
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

func (r *memoryRepo) GetBill(ctx context.Context, billID int64) (Bill, error) {
	b, ok := r.bills[billID]
	if !ok {
		return Bill{}, ErrBillNotFound
	}
	return b, nil
}

func (r *memoryRepo) ListBills(ctx context.Context, filters ListFilters) ([]Bill, error) {
	var bills []Bill
	for _, b := range r.bills {
		if filters.Kind != "" && b.Kind != filters.Kind {
			continue
		}
		if filters.OwnerID != 0 && b.OwnerID != filters.OwnerID {
			continue
		}
		if filters.Status != "" && b.Status != filters.Status {
			continue
		}
		bills = append(bills, b)
	}
	return bills, nil
}

func (r *memoryRepo) GetBillForUpdate(ctx context.Context, billID int64) (Bill, error) {
	return r.GetBill(ctx, billID)
}

func (r *memoryRepo) CreateBill(ctx context.Context, b Bill) (int64, error) {
	r.nextBillID++
	b.ID = r.nextBillID
	b.CreatedAt = time.Now()
	b.UpdatedAt = b.CreatedAt
	r.bills[b.ID] = b
	return b.ID, nil
}

func (r *memoryRepo) SaveBill(ctx context.Context, b Bill) error {
	if _, ok := r.bills[b.ID]; !ok {
		return ErrBillNotFound
	}
	b.UpdatedAt = time.Now()
	r.bills[b.ID] = b
	return nil
}

func (r *memoryRepo) ListLineItems(ctx context.Context, billID int64) ([]LineItem, error) {
	var items []LineItem
	for id := int64(1); id <= r.nextItemID; id++ {
		if li, ok := r.items[id]; ok && li.BillID == billID {
			items = append(items, li)
		}
	}
	return items, nil
}

func (r *memoryRepo) GetLineItemForUpdate(ctx context.Context, itemID int64) (LineItem, error) {
	li, ok := r.items[itemID]
	if !ok {
		return LineItem{}, ErrLineItemNotFound
	}
	return li, nil
}

func (r *memoryRepo) InsertLineItem(ctx context.Context, li LineItem) (int64, error) {
	r.nextItemID++
	li.ID = r.nextItemID
	r.items[li.ID] = li
	return li.ID, nil
}

func (r *memoryRepo) SaveLineItem(ctx context.Context, li LineItem) error {
	if _, ok := r.items[li.ID]; !ok {
		return ErrLineItemNotFound
	}
	r.items[li.ID] = li
	return nil
}

func (r *memoryRepo) DeleteLineItem(ctx context.Context, itemID int64) error {
	if _, ok := r.items[itemID]; !ok {
		return ErrLineItemNotFound
	}
	delete(r.items, itemID)
	return nil
}

func (r *memoryRepo) SumPendingForBatch(ctx context.Context, batchID int64) (int64, error) {
	var sum int64
	for _, li := range r.items {
		if li.BatchID == batchID && !li.Dispensed {
			sum += li.Quantity
		}
	}
	return sum, nil
}

func (r *memoryRepo) ListPayments(ctx context.Context, billID int64) ([]Payment, error) {
	var payments []Payment
	for id := int64(1); id <= r.nextPaymentID; id++ {
		if p, ok := r.payments[id]; ok && p.BillID == billID {
			payments = append(payments, p)
		}
	}
	return payments, nil
}

func (r *memoryRepo) InsertPayment(ctx context.Context, p Payment) (int64, error) {
	r.nextPaymentID++
	p.ID = r.nextPaymentID
	p.PaidAt = time.Now()
	r.payments[p.ID] = p
	return p.ID, nil
}

func (r *memoryRepo) GetBatchForUpdate(ctx context.Context, batchID int64) (pharmacy.Batch, error) {
	b, ok := r.batches[batchID]
	if !ok {
		return pharmacy.Batch{}, pharmacy.ErrBatchNotFound
	}
	return b, nil
}

func (r *memoryRepo) GetBatchByCodeForUpdate(ctx context.Context, code string) (pharmacy.Batch, error) {
	for _, b := range r.batches {
		if b.Code == code {
			return b, nil
		}
	}
	return pharmacy.Batch{}, pharmacy.ErrBatchNotFound
}

func (r *memoryRepo) CreateBatch(ctx context.Context, b pharmacy.Batch) (int64, error) {
	r.nextBatchID++
	b.ID = r.nextBatchID
	r.batches[b.ID] = b
	return b.ID, nil
}

func (r *memoryRepo) SetBatchQuantity(ctx context.Context, batchID, quantity int64) error {
	b, ok := r.batches[batchID]
	if !ok {
		return pharmacy.ErrBatchNotFound
	}
	b.Quantity = quantity
	r.batches[batchID] = b
	return nil
}

func (r *memoryRepo) InsertLogEntry(ctx context.Context, e pharmacy.LogEntry) (int64, error) {
	r.nextLogID++
	e.ID = r.nextLogID
	r.stockLog = append(r.stockLog, e)
	return e.ID, nil
}

func (r *memoryRepo) RemoveBatch(ctx context.Context, batchID int64) error {
	if _, ok := r.batches[batchID]; !ok {
		return pharmacy.ErrBatchNotFound
	}
	delete(r.batches, batchID)
	return nil
}

// requireLedgerConsistent asserts the append-only stock log still sums
// to the batch's current quantity.
func requireLedgerConsistent(t *testing.T, repo *memoryRepo, batchID int64) {
	t.Helper()
	var sum int64
	for _, e := range repo.stockLog {
		if e.BatchID == batchID {
			sum += e.Change
		}
	}
	batch, ok := repo.batches[batchID]
	require.True(t, ok)
	require.Equal(t, batch.Quantity, sum)
}

func newTestService(repo *memoryRepo) *Service {
	return NewService(repo, nil, nil, nil)
}

func openTestBill(t *testing.T, svc *Service, fixedCharge string) Bill {
	t.Helper()
	bill, err := svc.OpenBill(context.Background(), OpenBillInput{
		Kind:        KindAdmission,
		OwnerID:     42,
		FixedCharge: d(fixedCharge),
		ActorID:     1,
	})
	require.NoError(t, err)
	return bill
}

func TestOpenBillStartsUnpaid(t *testing.T) {
	svc := newTestService(newMemoryRepo())

	bill := openTestBill(t, svc, "1000.005")

	require.Equal(t, StatusUnpaid, bill.Status)
	require.True(t, bill.FixedCharge.Equal(d("1000.01")))
	require.True(t, bill.Balance.Equal(d("1000.01")))
}

func TestOpenBillValidation(t *testing.T) {
	svc := newTestService(newMemoryRepo())
	ctx := context.Background()

	_, err := svc.OpenBill(ctx, OpenBillInput{Kind: "WALK_IN", OwnerID: 1, ActorID: 1})
	require.Error(t, err)

	_, err = svc.OpenBill(ctx, OpenBillInput{Kind: KindOutpatient, OwnerID: 1, ActorID: 1, FixedCharge: d("-1")})
	require.ErrorIs(t, err, ErrInvalidAmount)

	_, err = svc.OpenBill(ctx, OpenBillInput{Kind: KindOutpatient, OwnerID: 1})
	require.Error(t, err)
}

func TestAddDispenseToBillPricesLine(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)
	batchID := repo.seedBatch(7, 10)
	bill := openTestBill(t, svc, "1000")

	item, err := svc.AddDispenseToBill(context.Background(), AddItemInput{
		BillID: bill.ID, MedicineID: 7, BatchID: batchID,
		Quantity: 5, UnitPrice: d("100"), ActorID: 1,
	})
	require.NoError(t, err)
	require.True(t, item.TotalPrice.Equal(d("500.00")))
	require.False(t, item.Dispensed)

	// Stock is untouched until settlement.
	require.Equal(t, int64(10), repo.batches[batchID].Quantity)

	got, err := repo.GetBill(context.Background(), bill.ID)
	require.NoError(t, err)
	require.True(t, got.Total.Equal(d("1500.00")))
	require.Equal(t, StatusUnpaid, got.Status)
}

func TestAddDispenseToBillRejectsInsufficientStock(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)
	batchID := repo.seedBatch(7, 3)
	bill := openTestBill(t, svc, "1000")

	_, err := svc.AddDispenseToBill(context.Background(), AddItemInput{
		BillID: bill.ID, MedicineID: 7, BatchID: batchID,
		Quantity: 5, UnitPrice: d("100"), ActorID: 1,
	})
	require.ErrorIs(t, err, ErrInsufficientStock)

	// Nothing written: no line items, bill total unchanged.
	require.Empty(t, repo.items)
	got, _ := repo.GetBill(context.Background(), bill.ID)
	require.True(t, got.Total.Equal(d("1000.00")))
}

func TestAddDispenseToBillCountsPendingReservations(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)
	batchID := repo.seedBatch(7, 10)
	first := openTestBill(t, svc, "0")
	second := openTestBill(t, svc, "0")
	ctx := context.Background()

	_, err := svc.AddDispenseToBill(ctx, AddItemInput{
		BillID: first.ID, MedicineID: 7, BatchID: batchID,
		Quantity: 6, UnitPrice: d("10"), ActorID: 1,
	})
	require.NoError(t, err)

	// 6 of 10 are already committed to the first bill.
	_, err = svc.AddDispenseToBill(ctx, AddItemInput{
		BillID: second.ID, MedicineID: 7, BatchID: batchID,
		Quantity: 5, UnitPrice: d("10"), ActorID: 1,
	})
	require.ErrorIs(t, err, ErrInsufficientStock)

	_, err = svc.AddDispenseToBill(ctx, AddItemInput{
		BillID: second.ID, MedicineID: 7, BatchID: batchID,
		Quantity: 4, UnitPrice: d("10"), ActorID: 1,
	})
	require.NoError(t, err)
}

func TestAddDispenseToBillRacingReservationsOversellNothing(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)
	batchID := repo.seedBatch(7, 10)
	first := openTestBill(t, svc, "0")
	second := openTestBill(t, svc, "0")
	ctx := context.Background()

	// Two bills racing for the same batch: once the winner's reservation
	// is committed, the loser's pending sum must see it. The repository
	// runs read committed so that the sum taken after the batch lock
	// includes rows committed while waiting on it.
	_, err := svc.AddDispenseToBill(ctx, AddItemInput{
		BillID: first.ID, MedicineID: 7, BatchID: batchID,
		Quantity: 6, UnitPrice: d("10"), ActorID: 1,
	})
	require.NoError(t, err)

	_, err = svc.AddDispenseToBill(ctx, AddItemInput{
		BillID: second.ID, MedicineID: 7, BatchID: batchID,
		Quantity: 6, UnitPrice: d("10"), ActorID: 1,
	})
	require.ErrorIs(t, err, ErrInsufficientStock)

	// Only the winner's reservation exists.
	pending, err := repo.SumPendingForBatch(ctx, batchID)
	require.NoError(t, err)
	require.Equal(t, int64(6), pending)
}

func TestAddDispenseToBillRejectsMedicineMismatch(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)
	batchID := repo.seedBatch(7, 10)
	bill := openTestBill(t, svc, "0")

	_, err := svc.AddDispenseToBill(context.Background(), AddItemInput{
		BillID: bill.ID, MedicineID: 8, BatchID: batchID,
		Quantity: 1, UnitPrice: d("10"), ActorID: 1,
	})
	require.ErrorIs(t, err, ErrBatchMedicineMismatch)
}

func TestSettleFullPayment(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)
	batchID := repo.seedBatch(7, 10)
	bill := openTestBill(t, svc, "1000")
	ctx := context.Background()

	_, err := svc.AddDispenseToBill(ctx, AddItemInput{
		BillID: bill.ID, MedicineID: 7, BatchID: batchID,
		Quantity: 5, UnitPrice: d("100"), ActorID: 1,
	})
	require.NoError(t, err)

	result, err := svc.Settle(ctx, SettleInput{BillID: bill.ID, Amount: d("1500"), ActorID: 1, Method: "cash"})
	require.NoError(t, err)
	require.Empty(t, result.Notices)
	require.Equal(t, StatusPaid, result.Bill.Status)
	require.True(t, result.Bill.Balance.Equal(d("0.00")))

	// Stock deducted at settlement, ledger still sums to quantity.
	require.Equal(t, int64(5), repo.batches[batchID].Quantity)
	requireLedgerConsistent(t, repo, batchID)

	items, _ := repo.ListLineItems(ctx, bill.ID)
	require.Len(t, items, 1)
	require.True(t, items[0].Dispensed)
}

func TestSettlePartialThenOverpaymentRejected(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)
	batchID := repo.seedBatch(7, 10)
	bill := openTestBill(t, svc, "1000")
	ctx := context.Background()

	_, err := svc.AddDispenseToBill(ctx, AddItemInput{
		BillID: bill.ID, MedicineID: 7, BatchID: batchID,
		Quantity: 5, UnitPrice: d("100"), ActorID: 1,
	})
	require.NoError(t, err)

	partial, err := svc.Settle(ctx, SettleInput{BillID: bill.ID, Amount: d("500"), ActorID: 1})
	require.NoError(t, err)
	require.Equal(t, StatusPartiallyPaid, partial.Bill.Status)
	require.True(t, partial.Bill.Balance.Equal(d("1000.00")))

	_, err = svc.Settle(ctx, SettleInput{BillID: bill.ID, Amount: d("1500.01"), ActorID: 1})
	require.ErrorIs(t, err, ErrPaymentExceedsBalance)

	// Rejection leaves the bill exactly as the partial payment left it.
	got, _ := repo.GetBill(ctx, bill.ID)
	require.Equal(t, StatusPartiallyPaid, got.Status)
	require.True(t, got.Balance.Equal(d("1000.00")))
	payments, _ := repo.ListPayments(ctx, bill.ID)
	require.Len(t, payments, 1)
}

func TestSettleOverpaymentRollsBackStockDeduction(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)
	batchID := repo.seedBatch(7, 10)
	bill := openTestBill(t, svc, "1000")
	ctx := context.Background()

	_, err := svc.AddDispenseToBill(ctx, AddItemInput{
		BillID: bill.ID, MedicineID: 7, BatchID: batchID,
		Quantity: 5, UnitPrice: d("100"), ActorID: 1,
	})
	require.NoError(t, err)

	_, err = svc.Settle(ctx, SettleInput{BillID: bill.ID, Amount: d("9999"), ActorID: 1})
	require.ErrorIs(t, err, ErrPaymentExceedsBalance)

	// The dispense inside the failed settle is rolled back too.
	require.Equal(t, int64(10), repo.batches[batchID].Quantity)
	requireLedgerConsistent(t, repo, batchID)
	items, _ := repo.ListLineItems(ctx, bill.ID)
	require.Len(t, items, 1)
	require.False(t, items[0].Dispensed)
}

func TestSettleClampsToRemainingStock(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)
	batchID := repo.seedBatch(7, 10)
	bill := openTestBill(t, svc, "1000")
	ctx := context.Background()

	item, err := svc.AddDispenseToBill(ctx, AddItemInput{
		BillID: bill.ID, MedicineID: 7, BatchID: batchID,
		Quantity: 5, UnitPrice: d("100"), ActorID: 1,
	})
	require.NoError(t, err)

	// Stock shrinks behind the bill's back.
	require.NoError(t, repo.SetBatchQuantity(ctx, batchID, 3))
	repo.nextLogID++
	repo.stockLog = append(repo.stockLog, pharmacy.LogEntry{
		ID: repo.nextLogID, BatchID: batchID, ActorID: 1, Change: -7, Reason: "spoilage",
	})

	result, err := svc.Settle(ctx, SettleInput{BillID: bill.ID, Amount: d("0"), ActorID: 1})
	require.NoError(t, err)
	require.Len(t, result.Notices, 1)
	require.Equal(t, item.ID, result.Notices[0].LineItemID)
	require.Equal(t, int64(5), result.Notices[0].Requested)
	require.Equal(t, int64(3), result.Notices[0].Actual)

	// The line was rewritten down and the bill reconciled over it.
	require.True(t, result.Bill.Total.Equal(d("1300.00")))
	require.Equal(t, int64(0), repo.batches[batchID].Quantity)
	requireLedgerConsistent(t, repo, batchID)

	items, _ := repo.ListLineItems(ctx, bill.ID)
	require.Equal(t, int64(3), items[0].Quantity)
	require.True(t, items[0].TotalPrice.Equal(d("300.00")))
	require.True(t, items[0].Dispensed)
}

func TestSettleTreatsDeletedBatchAsEmpty(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)
	batchID := repo.seedBatch(7, 10)
	bill := openTestBill(t, svc, "1000")
	ctx := context.Background()

	_, err := svc.AddDispenseToBill(ctx, AddItemInput{
		BillID: bill.ID, MedicineID: 7, BatchID: batchID,
		Quantity: 5, UnitPrice: d("100"), ActorID: 1,
	})
	require.NoError(t, err)
	require.NoError(t, repo.RemoveBatch(ctx, batchID))

	result, err := svc.Settle(ctx, SettleInput{BillID: bill.ID, Amount: d("0"), ActorID: 1})
	require.NoError(t, err)
	require.Len(t, result.Notices, 1)
	require.Equal(t, int64(0), result.Notices[0].Actual)
	require.True(t, result.Bill.Total.Equal(d("1000.00")))
}

func TestSettleDispensesInAscendingBatchOrder(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	first := repo.seedBatch(7, 10)
	second := repo.seedBatch(8, 10)
	require.Greater(t, second, first)

	// Add the higher batch id first so insertion order differs from id
	// order.
	bill := openTestBill(t, svc, "0")
	_, err := svc.AddDispenseToBill(ctx, AddItemInput{
		BillID: bill.ID, MedicineID: 8, BatchID: second,
		Quantity: 2, UnitPrice: d("1"), ActorID: 1,
	})
	require.NoError(t, err)
	_, err = svc.AddDispenseToBill(ctx, AddItemInput{
		BillID: bill.ID, MedicineID: 7, BatchID: first,
		Quantity: 3, UnitPrice: d("1"), ActorID: 1,
	})
	require.NoError(t, err)

	_, err = svc.Settle(ctx, SettleInput{BillID: bill.ID, Amount: d("5"), ActorID: 1})
	require.NoError(t, err)

	// Log order reflects lock order: lower batch id dispensed first.
	var dispenses []int64
	for _, e := range repo.stockLog {
		if e.Change < 0 {
			dispenses = append(dispenses, e.BatchID)
		}
	}
	require.Equal(t, []int64{first, second}, dispenses)
}

func TestUpdateLineItemQuantity(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)
	batchID := repo.seedBatch(7, 10)
	bill := openTestBill(t, svc, "1000")
	ctx := context.Background()

	item, err := svc.AddDispenseToBill(ctx, AddItemInput{
		BillID: bill.ID, MedicineID: 7, BatchID: batchID,
		Quantity: 5, UnitPrice: d("100"), ActorID: 1,
	})
	require.NoError(t, err)

	updated, err := svc.UpdateLineItemQuantity(ctx, bill.ID, item.ID, 8, 1)
	require.NoError(t, err)
	require.True(t, updated.TotalPrice.Equal(d("800.00")))

	got, _ := repo.GetBill(ctx, bill.ID)
	require.True(t, got.Total.Equal(d("1800.00")))

	_, err = svc.UpdateLineItemQuantity(ctx, bill.ID, item.ID, 11, 1)
	require.ErrorIs(t, err, ErrInsufficientStock)
}

func TestSettledLineItemIsImmutable(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)
	batchID := repo.seedBatch(7, 10)
	bill := openTestBill(t, svc, "0")
	ctx := context.Background()

	item, err := svc.AddDispenseToBill(ctx, AddItemInput{
		BillID: bill.ID, MedicineID: 7, BatchID: batchID,
		Quantity: 5, UnitPrice: d("100"), ActorID: 1,
	})
	require.NoError(t, err)

	_, err = svc.Settle(ctx, SettleInput{BillID: bill.ID, Amount: d("500"), ActorID: 1})
	require.NoError(t, err)

	_, err = svc.UpdateLineItemQuantity(ctx, bill.ID, item.ID, 2, 1)
	require.ErrorIs(t, err, ErrLineItemSettled)

	_, err = svc.RemoveLineItem(ctx, bill.ID, item.ID, 1)
	require.ErrorIs(t, err, ErrLineItemSettled)
}

func TestRemoveLineItemReconciles(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)
	batchID := repo.seedBatch(7, 10)
	bill := openTestBill(t, svc, "1000")
	ctx := context.Background()

	item, err := svc.AddDispenseToBill(ctx, AddItemInput{
		BillID: bill.ID, MedicineID: 7, BatchID: batchID,
		Quantity: 5, UnitPrice: d("100"), ActorID: 1,
	})
	require.NoError(t, err)

	removed, err := svc.RemoveLineItem(ctx, bill.ID, item.ID, 1)
	require.NoError(t, err)

	// The caller gets the reconciled bill back, line total gone.
	require.True(t, removed.Total.Equal(d("1000.00")))
	require.Equal(t, StatusUnpaid, removed.Status)

	got, _ := repo.GetBill(ctx, bill.ID)
	require.True(t, got.Total.Equal(d("1000.00")))
	require.Empty(t, repo.items)
}

func TestSetFixedChargeReopensPaidBill(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)
	bill := openTestBill(t, svc, "1000")
	ctx := context.Background()

	paid, err := svc.Settle(ctx, SettleInput{BillID: bill.ID, Amount: d("1000"), ActorID: 1})
	require.NoError(t, err)
	require.Equal(t, StatusPaid, paid.Bill.Status)

	reopened, err := svc.SetFixedCharge(ctx, bill.ID, d("1200"), 1)
	require.NoError(t, err)
	require.Equal(t, StatusPartiallyPaid, reopened.Status)
	require.True(t, reopened.Balance.Equal(d("200.00")))
}

func TestSettleUnknownBill(t *testing.T) {
	svc := newTestService(newMemoryRepo())
	_, err := svc.Settle(context.Background(), SettleInput{BillID: 99, Amount: d("1"), ActorID: 1})
	require.ErrorIs(t, err, ErrBillNotFound)
}

func TestSettleRejectsNegativeAmount(t *testing.T) {
	svc := newTestService(newMemoryRepo())
	_, err := svc.Settle(context.Background(), SettleInput{BillID: 1, Amount: d("-5"), ActorID: 1})
	require.ErrorIs(t, err, ErrInvalidAmount)
}
