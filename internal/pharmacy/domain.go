// Package pharmacy is the stock ledger: the single source of truth for
// how much of each medicine batch exists, backed by an append-only log
// of every change. For any live batch the log entries sum to the
// current quantity; drift between the two indicates a lost update.
package pharmacy

import (
	"errors"
	"time"
)

// Batch models a physical lot of a catalog medicine. Quantity is only
// ever mutated through ledger operations, never by direct assignment.
type Batch struct {
	ID         int64     `json:"id"`
	Code       string    `json:"code"`
	MedicineID int64     `json:"medicine_id"`
	Quantity   int64     `json:"quantity"`
	ExpiryDate time.Time `json:"expiry_date"`
	ReceivedAt time.Time `json:"received_at"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// LogEntry is an append-only audit record of one stock change. Positive
// change is stock-in, negative is dispense or downward adjustment. The
// batch reference is a plain id: entries outlive their batch when the
// batch is deleted.
type LogEntry struct {
	ID         int64     `json:"id"`
	BatchID    int64     `json:"batch_id"`
	ActorID    int64     `json:"actor_id"`
	Change     int64     `json:"change"`
	Reason     string    `json:"reason"`
	Ref        string    `json:"ref"`
	RecordedAt time.Time `json:"recorded_at"`
}

// StockLevel summarises one batch for the stock overview.
type StockLevel struct {
	BatchID      int64     `json:"batch_id"`
	BatchCode    string    `json:"batch_code"`
	MedicineID   int64     `json:"medicine_id"`
	MedicineName string    `json:"medicine_name"`
	Quantity     int64     `json:"quantity"`
	ReorderLevel int64     `json:"reorder_level"`
	LowStock     bool      `json:"low_stock"`
	ExpiryDate   time.Time `json:"expiry_date"`
}

// LedgerFilter narrows stock card listings.
type LedgerFilter struct {
	From  time.Time
	To    time.Time
	Limit int
}

// StockInInput describes a stock-in request. When no batch with Code
// exists yet, MedicineID, ExpiryDate and ReceivedAt seed the new batch.
type StockInInput struct {
	BatchCode  string
	MedicineID int64
	Quantity   int64
	ExpiryDate time.Time
	ReceivedAt time.Time
	ActorID    int64
	Reason     string
	RequestID  string
}

// DispenseInput describes a dispense request against one batch.
type DispenseInput struct {
	BatchID   int64
	Requested int64
	ActorID   int64
	Reason    string
}

// AdjustInput sets a batch to an absolute quantity (corrections, damage,
// loss). The delta is what gets logged.
type AdjustInput struct {
	BatchID     int64
	NewQuantity int64
	ActorID     int64
	Reason      string
}

// DeleteInput removes a batch after draining its remaining stock into a
// final log entry.
type DeleteInput struct {
	BatchID int64
	ActorID int64
	Reason  string
}

// ErrBatchNotFound indicates an unknown batch id or code.
var ErrBatchNotFound = errors.New("pharmacy: batch not found")

// ErrInvalidQuantity indicates a non-positive quantity argument.
var ErrInvalidQuantity = errors.New("pharmacy: quantity must be positive")

// ErrActorRequired indicates a ledger mutation without an acting staff id.
var ErrActorRequired = errors.New("pharmacy: actor id required")

// ErrDuplicateBatchCode indicates a stock-in that would create a second
// batch with an existing code but a different medicine.
var ErrDuplicateBatchCode = errors.New("pharmacy: batch code already used by another medicine")
