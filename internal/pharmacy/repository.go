package pharmacy

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository persists the stock ledger in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// WithTx executes the callback inside a read committed transaction.
// Every read that feeds a write happens after a FOR UPDATE lock, so
// statement-level snapshots suffice and a lock waiter does not fail
// with a serialization error when the locked row was updated underneath
// it.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("pharmacy repository not initialised")
	}
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return err
	}
	wrapper := NewTxRepository(tx)
	if err := fn(ctx, wrapper); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	return tx.Commit(ctx)
}

// GetBatch returns one batch without locking it.
func (r *Repository) GetBatch(ctx context.Context, batchID int64) (Batch, error) {
	return scanBatch(r.pool.QueryRow(ctx, `SELECT id, code, medicine_id, quantity, expiry_date, received_at, created_at, updated_at
FROM medicine_batches WHERE id=$1`, batchID))
}

// ListLevels returns the stock overview across all batches.
func (r *Repository) ListLevels(ctx context.Context) ([]StockLevel, error) {
	rows, err := r.pool.Query(ctx, `SELECT b.id, b.code, b.medicine_id, m.name, b.quantity, m.reorder_level, b.expiry_date
FROM medicine_batches b
JOIN medicines m ON m.id = b.medicine_id
ORDER BY m.name ASC, b.expiry_date ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	levels := []StockLevel{}
	for rows.Next() {
		var (
			lv     StockLevel
			expiry *time.Time
		)
		if err := rows.Scan(&lv.BatchID, &lv.BatchCode, &lv.MedicineID, &lv.MedicineName, &lv.Quantity, &lv.ReorderLevel, &expiry); err != nil {
			return nil, err
		}
		if expiry != nil {
			lv.ExpiryDate = *expiry
		}
		lv.LowStock = lv.Quantity <= lv.ReorderLevel
		levels = append(levels, lv)
	}
	return levels, rows.Err()
}

// GetLedger lists stock log entries for one batch, oldest first.
func (r *Repository) GetLedger(ctx context.Context, batchID int64, filter LedgerFilter) ([]LogEntry, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 200
	}
	rows, err := r.pool.Query(ctx, `SELECT id, batch_id, actor_id, change, reason, ref, recorded_at
FROM stock_log
WHERE batch_id=$1 AND recorded_at BETWEEN COALESCE($2, '-infinity') AND COALESCE($3, 'infinity')
ORDER BY recorded_at ASC, id ASC
LIMIT $4`, batchID, nullTime(filter.From), nullTime(filter.To), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	entries := []LogEntry{}
	for rows.Next() {
		var e LogEntry
		if err := rows.Scan(&e.ID, &e.BatchID, &e.ActorID, &e.Change, &e.Reason, &e.Ref, &e.RecordedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

type txRepository struct {
	tx pgx.Tx
}

// NewTxRepository wraps an open transaction with ledger operations.
// Exported so the billing module can run stock mutations inside its own
// unit of work.
func NewTxRepository(tx pgx.Tx) TxRepository {
	return &txRepository{tx: tx}
}

const batchForUpdate = `SELECT id, code, medicine_id, quantity, expiry_date, received_at, created_at, updated_at
FROM medicine_batches `

func (r *txRepository) GetBatchForUpdate(ctx context.Context, batchID int64) (Batch, error) {
	return scanBatch(r.tx.QueryRow(ctx, batchForUpdate+`WHERE id=$1 FOR UPDATE`, batchID))
}

func (r *txRepository) GetBatchByCodeForUpdate(ctx context.Context, code string) (Batch, error) {
	return scanBatch(r.tx.QueryRow(ctx, batchForUpdate+`WHERE code=$1 FOR UPDATE`, code))
}

func (r *txRepository) CreateBatch(ctx context.Context, b Batch) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO medicine_batches (code, medicine_id, quantity, expiry_date, received_at, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,NOW(),NOW()) RETURNING id`,
		b.Code, b.MedicineID, b.Quantity, nullTime(b.ExpiryDate), nullTime(b.ReceivedAt)).Scan(&id)
	return id, err
}

func (r *txRepository) SetBatchQuantity(ctx context.Context, batchID, quantity int64) error {
	tag, err := r.tx.Exec(ctx, `UPDATE medicine_batches SET quantity=$1, updated_at=NOW() WHERE id=$2`, quantity, batchID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrBatchNotFound
	}
	return nil
}

func (r *txRepository) InsertLogEntry(ctx context.Context, e LogEntry) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO stock_log (batch_id, actor_id, change, reason, ref, recorded_at)
VALUES ($1,$2,$3,$4,$5,$6) RETURNING id`,
		e.BatchID, e.ActorID, e.Change, e.Reason, e.Ref, e.RecordedAt).Scan(&id)
	return id, err
}

func (r *txRepository) RemoveBatch(ctx context.Context, batchID int64) error {
	tag, err := r.tx.Exec(ctx, `DELETE FROM medicine_batches WHERE id=$1`, batchID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrBatchNotFound
	}
	return nil
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}

// scanBatch reads one batch row. expiry_date and received_at are
// nullable; NULL maps onto the zero time.
func scanBatch(row pgx.Row) (Batch, error) {
	var (
		b        Batch
		expiry   *time.Time
		received *time.Time
	)
	err := row.Scan(&b.ID, &b.Code, &b.MedicineID, &b.Quantity, &expiry, &received, &b.CreatedAt, &b.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Batch{}, ErrBatchNotFound
	}
	if err != nil {
		return Batch{}, err
	}
	if expiry != nil {
		b.ExpiryDate = *expiry
	}
	if received != nil {
		b.ReceivedAt = *received
	}
	return b, nil
}
