package billing

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-his/meridian-his/internal/pharmacy"
)

// TxRepository is the transactional surface for bill mutations. It
// embeds the pharmacy transaction surface so that stock deductions and
// bill writes can share a single unit of work.
type TxRepository interface {
	pharmacy.TxRepository

	GetBillForUpdate(ctx context.Context, billID int64) (Bill, error)
	CreateBill(ctx context.Context, b Bill) (int64, error)
	SaveBill(ctx context.Context, b Bill) error

	ListLineItems(ctx context.Context, billID int64) ([]LineItem, error)
	GetLineItemForUpdate(ctx context.Context, itemID int64) (LineItem, error)
	InsertLineItem(ctx context.Context, li LineItem) (int64, error)
	SaveLineItem(ctx context.Context, li LineItem) error
	DeleteLineItem(ctx context.Context, itemID int64) error
	SumPendingForBatch(ctx context.Context, batchID int64) (int64, error)

	ListPayments(ctx context.Context, billID int64) ([]Payment, error)
	InsertPayment(ctx context.Context, p Payment) (int64, error)
}

// Repository is the pgx-backed billing store.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository builds Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// WithTx runs fn inside a read committed transaction. Every invariant
// in this package is enforced under FOR UPDATE row locks, and the
// availability check must see reservations committed by other
// transactions while it waited on the batch lock. A snapshot taken at
// transaction start would hide those rows and let two adds oversell
// the same batch.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(ctx, &txRepository{tx: tx, TxRepository: pharmacy.NewTxRepository(tx)}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

const billColumns = `id, kind, owner_id, fixed_charge, total, amount_paid, balance, status, created_at, updated_at`

// GetBill fetches a bill without locking it.
func (r *Repository) GetBill(ctx context.Context, billID int64) (Bill, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+billColumns+` FROM bills WHERE id = $1`, billID)
	return scanBill(row)
}

// ListBills lists bills, newest first.
func (r *Repository) ListBills(ctx context.Context, filters ListFilters) ([]Bill, error) {
	query := `SELECT ` + billColumns + ` FROM bills`
	var (
		conds []string
		args  []any
	)
	if filters.Kind != "" {
		args = append(args, filters.Kind)
		conds = append(conds, `kind = $`+strconv.Itoa(len(args)))
	}
	if filters.OwnerID != 0 {
		args = append(args, filters.OwnerID)
		conds = append(conds, `owner_id = $`+strconv.Itoa(len(args)))
	}
	if filters.Status != "" {
		args = append(args, filters.Status)
		conds = append(conds, `status = $`+strconv.Itoa(len(args)))
	}
	if len(conds) > 0 {
		query += ` WHERE ` + strings.Join(conds, ` AND `)
	}
	limit := filters.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	args = append(args, limit)
	query += ` ORDER BY id DESC LIMIT $` + strconv.Itoa(len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list bills: %w", err)
	}
	defer rows.Close()

	var bills []Bill
	for rows.Next() {
		b, err := scanBill(rows)
		if err != nil {
			return nil, err
		}
		bills = append(bills, b)
	}
	return bills, rows.Err()
}

// ListLineItems lists a bill's line items outside a transaction.
func (r *Repository) ListLineItems(ctx context.Context, billID int64) ([]LineItem, error) {
	return listLineItems(ctx, r.pool, billID)
}

// ListPayments lists a bill's payments outside a transaction.
func (r *Repository) ListPayments(ctx context.Context, billID int64) ([]Payment, error) {
	return listPayments(ctx, r.pool, billID)
}

type txRepository struct {
	tx pgx.Tx
	pharmacy.TxRepository
}

func (r *txRepository) GetBillForUpdate(ctx context.Context, billID int64) (Bill, error) {
	row := r.tx.QueryRow(ctx, `SELECT `+billColumns+` FROM bills WHERE id = $1 FOR UPDATE`, billID)
	return scanBill(row)
}

func (r *txRepository) CreateBill(ctx context.Context, b Bill) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `
		INSERT INTO bills (kind, owner_id, fixed_charge, total, amount_paid, balance, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`,
		b.Kind, b.OwnerID, b.FixedCharge, b.Total, b.AmountPaid, b.Balance, b.Status,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("create bill: %w", err)
	}
	return id, nil
}

func (r *txRepository) SaveBill(ctx context.Context, b Bill) error {
	tag, err := r.tx.Exec(ctx, `
		UPDATE bills
		SET fixed_charge = $2, total = $3, amount_paid = $4, balance = $5, status = $6, updated_at = now()
		WHERE id = $1`,
		b.ID, b.FixedCharge, b.Total, b.AmountPaid, b.Balance, b.Status,
	)
	if err != nil {
		return fmt.Errorf("save bill: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrBillNotFound
	}
	return nil
}

func (r *txRepository) ListLineItems(ctx context.Context, billID int64) ([]LineItem, error) {
	return listLineItems(ctx, r.tx, billID)
}

func (r *txRepository) GetLineItemForUpdate(ctx context.Context, itemID int64) (LineItem, error) {
	row := r.tx.QueryRow(ctx, `SELECT `+lineItemColumns+` FROM bill_line_items WHERE id = $1 FOR UPDATE`, itemID)
	return scanLineItem(row)
}

func (r *txRepository) InsertLineItem(ctx context.Context, li LineItem) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `
		INSERT INTO bill_line_items (bill_id, medicine_id, batch_id, quantity, unit_price, total_price, dispensed)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`,
		li.BillID, li.MedicineID, li.BatchID, li.Quantity, li.UnitPrice, li.TotalPrice, li.Dispensed,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert line item: %w", err)
	}
	return id, nil
}

func (r *txRepository) SaveLineItem(ctx context.Context, li LineItem) error {
	tag, err := r.tx.Exec(ctx, `
		UPDATE bill_line_items
		SET quantity = $2, unit_price = $3, total_price = $4, dispensed = $5, updated_at = now()
		WHERE id = $1`,
		li.ID, li.Quantity, li.UnitPrice, li.TotalPrice, li.Dispensed,
	)
	if err != nil {
		return fmt.Errorf("save line item: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrLineItemNotFound
	}
	return nil
}

func (r *txRepository) DeleteLineItem(ctx context.Context, itemID int64) error {
	tag, err := r.tx.Exec(ctx, `DELETE FROM bill_line_items WHERE id = $1`, itemID)
	if err != nil {
		return fmt.Errorf("delete line item: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrLineItemNotFound
	}
	return nil
}

// SumPendingForBatch totals the quantities of not yet dispensed line
// items against a batch, across all bills. Settlement will deduct these
// from stock, so add-time availability checks subtract them first.
func (r *txRepository) SumPendingForBatch(ctx context.Context, batchID int64) (int64, error) {
	var sum int64
	err := r.tx.QueryRow(ctx, `
		SELECT COALESCE(SUM(quantity), 0)
		FROM bill_line_items
		WHERE batch_id = $1 AND NOT dispensed`, batchID,
	).Scan(&sum)
	if err != nil {
		return 0, fmt.Errorf("sum pending for batch: %w", err)
	}
	return sum, nil
}

func (r *txRepository) ListPayments(ctx context.Context, billID int64) ([]Payment, error) {
	return listPayments(ctx, r.tx, billID)
}

func (r *txRepository) InsertPayment(ctx context.Context, p Payment) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `
		INSERT INTO bill_payments (bill_id, amount, actor_id, method, note)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`,
		p.BillID, p.Amount, p.ActorID, p.Method, p.Note,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert payment: %w", err)
	}
	return id, nil
}

const lineItemColumns = `id, bill_id, medicine_id, batch_id, quantity, unit_price, total_price, dispensed, created_at, updated_at`

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func listLineItems(ctx context.Context, q querier, billID int64) ([]LineItem, error) {
	rows, err := q.Query(ctx, `SELECT `+lineItemColumns+` FROM bill_line_items WHERE bill_id = $1 ORDER BY id`, billID)
	if err != nil {
		return nil, fmt.Errorf("list line items: %w", err)
	}
	defer rows.Close()

	var items []LineItem
	for rows.Next() {
		li, err := scanLineItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, li)
	}
	return items, rows.Err()
}

func listPayments(ctx context.Context, q querier, billID int64) ([]Payment, error) {
	rows, err := q.Query(ctx, `
		SELECT id, bill_id, amount, actor_id, method, note, paid_at
		FROM bill_payments WHERE bill_id = $1 ORDER BY id`, billID)
	if err != nil {
		return nil, fmt.Errorf("list payments: %w", err)
	}
	defer rows.Close()

	var payments []Payment
	for rows.Next() {
		var p Payment
		if err := rows.Scan(&p.ID, &p.BillID, &p.Amount, &p.ActorID, &p.Method, &p.Note, &p.PaidAt); err != nil {
			return nil, fmt.Errorf("scan payment: %w", err)
		}
		payments = append(payments, p)
	}
	return payments, rows.Err()
}

func scanBill(row pgx.Row) (Bill, error) {
	var b Bill
	err := row.Scan(&b.ID, &b.Kind, &b.OwnerID, &b.FixedCharge, &b.Total, &b.AmountPaid, &b.Balance, &b.Status, &b.CreatedAt, &b.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Bill{}, ErrBillNotFound
	}
	if err != nil {
		return Bill{}, fmt.Errorf("scan bill: %w", err)
	}
	return b, nil
}

func scanLineItem(row pgx.Row) (LineItem, error) {
	var li LineItem
	err := row.Scan(&li.ID, &li.BillID, &li.MedicineID, &li.BatchID, &li.Quantity, &li.UnitPrice, &li.TotalPrice, &li.Dispensed, &li.CreatedAt, &li.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return LineItem{}, ErrLineItemNotFound
	}
	if err != nil {
		return LineItem{}, fmt.Errorf("scan line item: %w", err)
	}
	return li, nil
}
