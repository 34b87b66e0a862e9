package catalog

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-his/meridian-his/internal/shared"
)

// Repository defines data access for medicines.
type Repository interface {
	List(ctx context.Context, filters ListFilters) ([]Medicine, int, error)
	Get(ctx context.Context, id int64) (Medicine, error)
	Create(ctx context.Context, m Medicine) (Medicine, error)
	Update(ctx context.Context, id int64, m Medicine) error
}

type repository struct {
	db *pgxpool.Pool
}

// NewRepository constructs the PostgreSQL repository.
func NewRepository(db *pgxpool.Pool) Repository {
	return &repository{db: db}
}

const medicineColumns = `id, code, name, generic_name, unit, unit_price, reorder_level, is_active, created_at, updated_at`

func (r *repository) List(ctx context.Context, filters ListFilters) ([]Medicine, int, error) {
	where := ` WHERE 1=1`
	args := []any{}
	argCount := 0

	if filters.Search != "" {
		argCount++
		where += ` AND (name ILIKE $` + strconv.Itoa(argCount) + ` OR generic_name ILIKE $` + strconv.Itoa(argCount) + ` OR code ILIKE $` + strconv.Itoa(argCount) + `)`
		args = append(args, "%"+filters.Search+"%")
	}
	if filters.IsActive != nil {
		argCount++
		where += ` AND is_active = $` + strconv.Itoa(argCount)
		args = append(args, *filters.IsActive)
	}

	var total int
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM medicines`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + medicineColumns + ` FROM medicines` + where + ` ORDER BY name ASC`
	if filters.Limit > 0 {
		argCount++
		query += ` LIMIT $` + strconv.Itoa(argCount)
		args = append(args, filters.Limit)

		offset := (filters.Page - 1) * filters.Limit
		if offset < 0 {
			offset = 0
		}
		argCount++
		query += ` OFFSET $` + strconv.Itoa(argCount)
		args = append(args, offset)
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var medicines []Medicine
	for rows.Next() {
		var m Medicine
		if err := rows.Scan(&m.ID, &m.Code, &m.Name, &m.GenericName, &m.Unit, &m.UnitPrice, &m.ReorderLevel, &m.IsActive, &m.CreatedAt, &m.UpdatedAt); err != nil {
			return nil, 0, err
		}
		medicines = append(medicines, m)
	}
	return medicines, total, rows.Err()
}

func (r *repository) Get(ctx context.Context, id int64) (Medicine, error) {
	var m Medicine
	err := r.db.QueryRow(ctx, `SELECT `+medicineColumns+` FROM medicines WHERE id = $1`, id).
		Scan(&m.ID, &m.Code, &m.Name, &m.GenericName, &m.Unit, &m.UnitPrice, &m.ReorderLevel, &m.IsActive, &m.CreatedAt, &m.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Medicine{}, shared.ErrNotFound
	}
	return m, err
}

func (r *repository) Create(ctx context.Context, m Medicine) (Medicine, error) {
	now := time.Now()
	err := r.db.QueryRow(ctx, `INSERT INTO medicines (code, name, generic_name, unit, unit_price, reorder_level, is_active, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9) RETURNING id`,
		m.Code, m.Name, m.GenericName, m.Unit, m.UnitPrice, m.ReorderLevel, m.IsActive, now, now).Scan(&m.ID)
	if err != nil {
		return Medicine{}, err
	}
	m.CreatedAt = now
	m.UpdatedAt = now
	return m, nil
}

func (r *repository) Update(ctx context.Context, id int64, m Medicine) error {
	tag, err := r.db.Exec(ctx, `UPDATE medicines SET code=$1, name=$2, generic_name=$3, unit=$4, unit_price=$5, reorder_level=$6, is_active=$7, updated_at=$8 WHERE id=$9`,
		m.Code, m.Name, m.GenericName, m.Unit, m.UnitPrice, m.ReorderLevel, m.IsActive, time.Now(), id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}
