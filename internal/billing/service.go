package billing

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/meridian-his/meridian-his/internal/observability"
	"github.com/meridian-his/meridian-his/internal/pharmacy"
	"github.com/meridian-his/meridian-his/internal/shared"
)

// RepositoryPort abstracts repository usage for the service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetBill(ctx context.Context, billID int64) (Bill, error)
	ListBills(ctx context.Context, filters ListFilters) ([]Bill, error)
	ListLineItems(ctx context.Context, billID int64) ([]LineItem, error)
	ListPayments(ctx context.Context, billID int64) ([]Payment, error)
}

// AuditPort abstracts audit logging.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// StockPort lets settlement drop pharmacy's cached stock overview after
// deducting stock.
type StockPort interface {
	InvalidateOverview(ctx context.Context)
}

// Service coordinates bill lifecycle and settlement.
type Service struct {
	repo    RepositoryPort
	audit   AuditPort
	stock   StockPort
	metrics *observability.Metrics
}

// NewService builds Service.
func NewService(repo RepositoryPort, audit AuditPort, stock StockPort, metrics *observability.Metrics) *Service {
	return &Service{repo: repo, audit: audit, stock: stock, metrics: metrics}
}

// OpenBill creates a bill with a fixed charge and no line items.
func (s *Service) OpenBill(ctx context.Context, input OpenBillInput) (Bill, error) {
	if input.Kind != KindAdmission && input.Kind != KindOutpatient {
		return Bill{}, fmt.Errorf("%w: unknown bill kind %q", shared.ErrInvalidArgument, input.Kind)
	}
	if input.OwnerID == 0 {
		return Bill{}, fmt.Errorf("%w: owner id required", shared.ErrInvalidArgument)
	}
	if input.ActorID == 0 {
		return Bill{}, fmt.Errorf("%w: actor id required", shared.ErrInvalidArgument)
	}
	if input.FixedCharge.Sign() < 0 {
		return Bill{}, ErrInvalidAmount
	}

	bill := Reconcile(Bill{
		Kind:        input.Kind,
		OwnerID:     input.OwnerID,
		FixedCharge: input.FixedCharge.Round(2),
	}, nil, nil)

	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		id, err := tx.CreateBill(ctx, bill)
		if err != nil {
			return err
		}
		bill.ID = id
		return nil
	})
	if err != nil {
		return Bill{}, err
	}
	s.recordAudit(ctx, input.ActorID, "billing:open", bill.ID, map[string]any{
		"kind":         bill.Kind,
		"owner_id":     bill.OwnerID,
		"fixed_charge": bill.FixedCharge,
	})
	return bill, nil
}

// GetBill returns a bill with its line items and payments.
func (s *Service) GetBill(ctx context.Context, billID int64) (BillWithDetails, error) {
	bill, err := s.repo.GetBill(ctx, billID)
	if err != nil {
		return BillWithDetails{}, err
	}
	lines, err := s.repo.ListLineItems(ctx, billID)
	if err != nil {
		return BillWithDetails{}, err
	}
	payments, err := s.repo.ListPayments(ctx, billID)
	if err != nil {
		return BillWithDetails{}, err
	}
	return BillWithDetails{Bill: bill, Lines: lines, Payments: payments}, nil
}

// ListBills lists bills matching the filters.
func (s *Service) ListBills(ctx context.Context, filters ListFilters) ([]Bill, error) {
	return s.repo.ListBills(ctx, filters)
}

// AddDispenseToBill charges medicine from a batch to a bill. Stock is
// not deducted yet, but availability is checked against the batch
// quantity minus everything other undispensed line items have already
// committed; a request that cannot be covered in full is rejected
// outright.
func (s *Service) AddDispenseToBill(ctx context.Context, input AddItemInput) (LineItem, error) {
	if input.Quantity <= 0 {
		return LineItem{}, ErrInvalidQuantity
	}
	if input.ActorID == 0 {
		return LineItem{}, fmt.Errorf("%w: actor id required", shared.ErrInvalidArgument)
	}
	if input.UnitPrice.Sign() < 0 {
		return LineItem{}, ErrInvalidAmount
	}

	var item LineItem
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		bill, err := tx.GetBillForUpdate(ctx, input.BillID)
		if err != nil {
			return err
		}
		batch, err := tx.GetBatchForUpdate(ctx, input.BatchID)
		if err != nil {
			return err
		}
		if batch.MedicineID != input.MedicineID {
			return ErrBatchMedicineMismatch
		}
		pending, err := tx.SumPendingForBatch(ctx, batch.ID)
		if err != nil {
			return err
		}
		if input.Quantity > batch.Quantity-pending {
			return ErrInsufficientStock
		}

		item = LineItem{
			BillID:     bill.ID,
			MedicineID: input.MedicineID,
			BatchID:    input.BatchID,
			Quantity:   input.Quantity,
			UnitPrice:  input.UnitPrice.Round(2),
			TotalPrice: linePrice(input.UnitPrice, input.Quantity),
		}
		id, err := tx.InsertLineItem(ctx, item)
		if err != nil {
			return err
		}
		item.ID = id
		_, err = s.reconcileLocked(ctx, tx, bill)
		return err
	})
	if err != nil {
		return LineItem{}, err
	}
	s.recordAudit(ctx, input.ActorID, "billing:add_item", input.BillID, map[string]any{
		"line_item_id": item.ID,
		"batch_id":     input.BatchID,
		"quantity":     input.Quantity,
	})
	return item, nil
}

// UpdateLineItemQuantity changes the quantity of a pending line item.
// Settled items are immutable.
func (s *Service) UpdateLineItemQuantity(ctx context.Context, billID, itemID, quantity, actorID int64) (LineItem, error) {
	if quantity <= 0 {
		return LineItem{}, ErrInvalidQuantity
	}
	if actorID == 0 {
		return LineItem{}, fmt.Errorf("%w: actor id required", shared.ErrInvalidArgument)
	}

	var item LineItem
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		bill, err := tx.GetBillForUpdate(ctx, billID)
		if err != nil {
			return err
		}
		item, err = tx.GetLineItemForUpdate(ctx, itemID)
		if err != nil {
			return err
		}
		if item.BillID != bill.ID {
			return ErrLineItemNotFound
		}
		if item.Dispensed {
			return ErrLineItemSettled
		}
		batch, err := tx.GetBatchForUpdate(ctx, item.BatchID)
		if err != nil {
			return err
		}
		pending, err := tx.SumPendingForBatch(ctx, item.BatchID)
		if err != nil {
			return err
		}
		// The item's own current quantity is part of the pending sum.
		if quantity > batch.Quantity-(pending-item.Quantity) {
			return ErrInsufficientStock
		}

		item.Quantity = quantity
		item.TotalPrice = linePrice(item.UnitPrice, quantity)
		if err := tx.SaveLineItem(ctx, item); err != nil {
			return err
		}
		_, err = s.reconcileLocked(ctx, tx, bill)
		return err
	})
	if err != nil {
		return LineItem{}, err
	}
	s.recordAudit(ctx, actorID, "billing:update_item", billID, map[string]any{
		"line_item_id": itemID,
		"quantity":     quantity,
	})
	return item, nil
}

// RemoveLineItem deletes a pending line item and returns the
// reconciled bill. Settled items are immutable.
func (s *Service) RemoveLineItem(ctx context.Context, billID, itemID, actorID int64) (Bill, error) {
	if actorID == 0 {
		return Bill{}, fmt.Errorf("%w: actor id required", shared.ErrInvalidArgument)
	}
	var result Bill
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		bill, err := tx.GetBillForUpdate(ctx, billID)
		if err != nil {
			return err
		}
		item, err := tx.GetLineItemForUpdate(ctx, itemID)
		if err != nil {
			return err
		}
		if item.BillID != bill.ID {
			return ErrLineItemNotFound
		}
		if item.Dispensed {
			return ErrLineItemSettled
		}
		if err := tx.DeleteLineItem(ctx, itemID); err != nil {
			return err
		}
		result, err = s.reconcileLocked(ctx, tx, bill)
		return err
	})
	if err != nil {
		return Bill{}, err
	}
	s.recordAudit(ctx, actorID, "billing:remove_item", billID, map[string]any{
		"line_item_id": itemID,
	})
	return result, nil
}

// SetFixedCharge replaces a bill's fixed charge and reconciles. Raising
// the charge on a fully paid bill reopens it: the balance goes positive
// and the status drops back to partially paid.
func (s *Service) SetFixedCharge(ctx context.Context, billID int64, charge decimal.Decimal, actorID int64) (Bill, error) {
	if charge.Sign() < 0 {
		return Bill{}, ErrInvalidAmount
	}
	if actorID == 0 {
		return Bill{}, fmt.Errorf("%w: actor id required", shared.ErrInvalidArgument)
	}

	var result Bill
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		bill, err := tx.GetBillForUpdate(ctx, billID)
		if err != nil {
			return err
		}
		bill.FixedCharge = charge.Round(2)
		lines, err := tx.ListLineItems(ctx, bill.ID)
		if err != nil {
			return err
		}
		payments, err := tx.ListPayments(ctx, bill.ID)
		if err != nil {
			return err
		}
		result = Reconcile(bill, lines, payments)
		return tx.SaveBill(ctx, result)
	})
	if err != nil {
		return Bill{}, err
	}
	s.metrics.BillReconciled()
	s.recordAudit(ctx, actorID, "billing:set_fixed_charge", billID, map[string]any{
		"fixed_charge": charge,
	})
	return result, nil
}

// Settle takes a payment against a bill. Any line items whose stock has
// not yet been deducted are dispensed first, inside the same
// transaction; if stock ran short since the item was added, the item is
// rewritten down to what was actually dispensed and a shortfall notice
// is returned. The payment is then checked against the reconciled
// balance; a payment above the balance rolls the whole transaction
// back, stock deductions included.
func (s *Service) Settle(ctx context.Context, input SettleInput) (SettleResult, error) {
	if input.Amount.Sign() < 0 {
		return SettleResult{}, ErrInvalidAmount
	}
	if input.ActorID == 0 {
		return SettleResult{}, fmt.Errorf("%w: actor id required", shared.ErrInvalidArgument)
	}

	var result SettleResult
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		bill, err := tx.GetBillForUpdate(ctx, input.BillID)
		if err != nil {
			return err
		}
		lines, err := tx.ListLineItems(ctx, bill.ID)
		if err != nil {
			return err
		}

		notices, err := s.dispensePending(ctx, tx, bill.ID, lines, input.ActorID)
		if err != nil {
			return err
		}
		result.Notices = notices

		payments, err := tx.ListPayments(ctx, bill.ID)
		if err != nil {
			return err
		}
		bill = Reconcile(bill, lines, payments)
		if input.Amount.GreaterThan(bill.Balance) {
			return ErrPaymentExceedsBalance
		}

		if input.Amount.Sign() > 0 {
			payment := Payment{
				BillID:  bill.ID,
				Amount:  input.Amount.Round(2),
				ActorID: input.ActorID,
				Method:  input.Method,
				Note:    input.Note,
			}
			if _, err := tx.InsertPayment(ctx, payment); err != nil {
				return err
			}
			payments = append(payments, payment)
			bill = Reconcile(bill, lines, payments)
		}

		result.Bill = bill
		return tx.SaveBill(ctx, bill)
	})
	if err != nil {
		return SettleResult{}, err
	}
	s.metrics.BillReconciled()
	if s.stock != nil {
		s.stock.InvalidateOverview(ctx)
	}
	s.recordAudit(ctx, input.ActorID, "billing:settle", input.BillID, map[string]any{
		"amount":  input.Amount,
		"status":  result.Bill.Status,
		"notices": len(result.Notices),
	})
	return result, nil
}

// dispensePending deducts stock for every line item not yet dispensed,
// locking batches in ascending id order so concurrent settlements
// cannot deadlock. Line items are rewritten in place when the dispense
// is clamped. The lines slice is mutated so the caller can reconcile
// over the rewritten quantities.
func (s *Service) dispensePending(ctx context.Context, tx TxRepository, billID int64, lines []LineItem, actorID int64) ([]ShortfallNotice, error) {
	idx := make([]int, 0, len(lines))
	for i := range lines {
		if !lines[i].Dispensed {
			idx = append(idx, i)
		}
	}
	sort.Slice(idx, func(a, b int) bool { return lines[idx[a]].BatchID < lines[idx[b]].BatchID })

	var notices []ShortfallNotice
	for _, i := range idx {
		li := &lines[i]
		actual, err := pharmacy.Dispense(ctx, tx, li.BatchID, li.Quantity, actorID, pharmacy.DispenseReason(billID))
		if errors.Is(err, pharmacy.ErrBatchNotFound) {
			// Batch deleted since the item was added; nothing left to
			// dispense.
			actual = 0
		} else if err != nil {
			return nil, err
		}
		if actual < li.Quantity {
			notices = append(notices, ShortfallNotice{
				LineItemID: li.ID,
				BatchID:    li.BatchID,
				Requested:  li.Quantity,
				Actual:     actual,
			})
			s.metrics.DispenseClamped()
			li.Quantity = actual
			li.TotalPrice = linePrice(li.UnitPrice, actual)
		}
		li.Dispensed = true
		if err := tx.SaveLineItem(ctx, *li); err != nil {
			return nil, err
		}
	}
	return notices, nil
}

// reconcileLocked recomputes and saves a locked bill's derived fields,
// returning the reconciled bill.
func (s *Service) reconcileLocked(ctx context.Context, tx TxRepository, bill Bill) (Bill, error) {
	lines, err := tx.ListLineItems(ctx, bill.ID)
	if err != nil {
		return Bill{}, err
	}
	payments, err := tx.ListPayments(ctx, bill.ID)
	if err != nil {
		return Bill{}, err
	}
	reconciled := Reconcile(bill, lines, payments)
	if err := tx.SaveBill(ctx, reconciled); err != nil {
		return Bill{}, err
	}
	s.metrics.BillReconciled()
	return reconciled, nil
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action string, billID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "bill",
		EntityID: fmt.Sprintf("%d", billID),
		Meta:     meta,
	})
}
