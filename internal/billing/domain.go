// Package billing keeps a patient's bill consistent with dispensed
// stock: line items are priced against medicine batches, stock is
// deducted at settlement inside the same database transaction, and the
// bill's total, balance and status are always derived, never assigned.
package billing

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// BillKind distinguishes the two bill variants.
type BillKind string

const (
	// KindAdmission bills an inpatient admission; the fixed charge is
	// the room rate times nights.
	KindAdmission BillKind = "ADMISSION"
	// KindOutpatient bills a clinic visit; the fixed charge is the
	// consultation fee.
	KindOutpatient BillKind = "OUTPATIENT"
)

// BillStatus is derived from (total, amountPaid) and nothing else.
type BillStatus string

const (
	StatusUnpaid        BillStatus = "UNPAID"
	StatusPartiallyPaid BillStatus = "PARTIALLY_PAID"
	StatusPaid          BillStatus = "PAID"
)

// Bill model. Total, Balance and Status are derived fields persisted
// for querying; Reconcile is the only writer.
type Bill struct {
	ID          int64           `json:"id"`
	Kind        BillKind        `json:"kind"`
	OwnerID     int64           `json:"owner_id"`
	FixedCharge decimal.Decimal `json:"fixed_charge"`
	Total       decimal.Decimal `json:"total"`
	AmountPaid  decimal.Decimal `json:"amount_paid"`
	Balance     decimal.Decimal `json:"balance"`
	Status      BillStatus      `json:"status"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// LineItem charges dispensed medicine to a bill. The batch reference is
// a plain id; deleting a batch leaves historical line items intact.
// Dispensed marks whether the stock deduction has happened yet (it is
// deferred until settlement).
type LineItem struct {
	ID         int64           `json:"id"`
	BillID     int64           `json:"bill_id"`
	MedicineID int64           `json:"medicine_id"`
	BatchID    int64           `json:"batch_id"`
	Quantity   int64           `json:"quantity"`
	UnitPrice  decimal.Decimal `json:"unit_price"`
	TotalPrice decimal.Decimal `json:"total_price"`
	Dispensed  bool            `json:"dispensed"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// Payment records one settlement instalment.
type Payment struct {
	ID      int64           `json:"id"`
	BillID  int64           `json:"bill_id"`
	Amount  decimal.Decimal `json:"amount"`
	ActorID int64           `json:"actor_id"`
	Method  string          `json:"method"`
	Note    string          `json:"note"`
	PaidAt  time.Time       `json:"paid_at"`
}

// BillWithDetails bundles a bill with its lines and payment history.
type BillWithDetails struct {
	Bill     Bill       `json:"bill"`
	Lines    []LineItem `json:"lines"`
	Payments []Payment  `json:"payments"`
}

// ShortfallNotice reports a settle-time quantity reduction: stock ran
// short between add-to-bill and settlement, and the line item was
// rewritten down to what could actually be dispensed. It is advisory,
// not an error.
type ShortfallNotice struct {
	LineItemID int64 `json:"line_item_id"`
	BatchID    int64 `json:"batch_id"`
	Requested  int64 `json:"requested"`
	Actual     int64 `json:"actual"`
}

// SettleResult carries the reconciled bill plus any shortfall notices.
type SettleResult struct {
	Bill    Bill              `json:"bill"`
	Notices []ShortfallNotice `json:"notices"`
}

// OpenBillInput creates a bill.
type OpenBillInput struct {
	Kind        BillKind
	OwnerID     int64
	FixedCharge decimal.Decimal
	ActorID     int64
}

// AddItemInput adds a dispense charge to a bill.
type AddItemInput struct {
	BillID     int64
	MedicineID int64
	BatchID    int64
	Quantity   int64
	UnitPrice  decimal.Decimal
	ActorID    int64
}

// SettleInput settles a bill with a payment.
type SettleInput struct {
	BillID  int64
	Amount  decimal.Decimal
	ActorID int64
	Method  string
	Note    string
}

// ListFilters narrows bill listings.
type ListFilters struct {
	Kind    BillKind
	OwnerID int64
	Status  BillStatus
	Limit   int
}

var (
	// ErrBillNotFound indicates an unknown bill id.
	ErrBillNotFound = errors.New("billing: bill not found")
	// ErrLineItemNotFound indicates an unknown line item id.
	ErrLineItemNotFound = errors.New("billing: line item not found")
	// ErrInsufficientStock rejects an add-time request exceeding what
	// the batch can still cover. Nothing is written.
	ErrInsufficientStock = errors.New("billing: insufficient stock for requested quantity")
	// ErrPaymentExceedsBalance rejects a payment above the outstanding
	// balance, leaving the bill untouched.
	ErrPaymentExceedsBalance = errors.New("billing: payment exceeds outstanding balance")
	// ErrInvalidAmount indicates a negative or malformed money amount.
	ErrInvalidAmount = errors.New("billing: invalid amount")
	// ErrInvalidQuantity indicates a non-positive quantity.
	ErrInvalidQuantity = errors.New("billing: quantity must be positive")
	// ErrLineItemSettled rejects edits to a line item whose stock has
	// already been deducted.
	ErrLineItemSettled = errors.New("billing: line item already settled")
	// ErrBatchMedicineMismatch rejects a line item whose batch belongs
	// to a different medicine.
	ErrBatchMedicineMismatch = errors.New("billing: batch does not belong to medicine")
)
