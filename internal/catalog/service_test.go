package catalog

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/meridian-his/meridian-his/internal/shared"
)

type memoryRepo struct {
	medicines map[int64]Medicine
	nextID    int64
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{medicines: make(map[int64]Medicine)}
}

func (r *memoryRepo) List(ctx context.Context, filters ListFilters) ([]Medicine, int, error) {
	var out []Medicine
	for _, m := range r.medicines {
		out = append(out, m)
	}
	return out, len(out), nil
}

func (r *memoryRepo) Get(ctx context.Context, id int64) (Medicine, error) {
	m, ok := r.medicines[id]
	if !ok {
		return Medicine{}, shared.ErrNotFound
	}
	return m, nil
}

func (r *memoryRepo) Create(ctx context.Context, m Medicine) (Medicine, error) {
	r.nextID++
	m.ID = r.nextID
	r.medicines[m.ID] = m
	return m, nil
}

func (r *memoryRepo) Update(ctx context.Context, id int64, m Medicine) error {
	if _, ok := r.medicines[id]; !ok {
		return shared.ErrNotFound
	}
	m.ID = id
	r.medicines[id] = m
	return nil
}

func TestCreateMedicineRoundsPrice(t *testing.T) {
	svc := NewService(newMemoryRepo())

	m, err := svc.Create(context.Background(), Medicine{
		Code:      "AMX-500",
		Name:      "Amoxicillin 500mg",
		Unit:      "capsule",
		UnitPrice: decimal.RequireFromString("12.345"),
		IsActive:  true,
	})
	require.NoError(t, err)
	require.True(t, decimal.RequireFromString("12.35").Equal(m.UnitPrice), "price must be rounded to 2dp, got %s", m.UnitPrice)
}

func TestCreateMedicineValidation(t *testing.T) {
	svc := NewService(newMemoryRepo())
	ctx := context.Background()

	_, err := svc.Create(ctx, Medicine{Name: "No Code", Unit: "tablet"})
	require.ErrorIs(t, err, shared.ErrInvalidArgument)

	_, err = svc.Create(ctx, Medicine{Code: "X", Name: "Neg Price", Unit: "tablet", UnitPrice: decimal.RequireFromString("-1")})
	require.ErrorIs(t, err, shared.ErrInvalidArgument)

	_, err = svc.Create(ctx, Medicine{Code: "X", Name: "Neg Reorder", Unit: "tablet", ReorderLevel: -5})
	require.ErrorIs(t, err, shared.ErrInvalidArgument)
}

func TestGetMedicineNotFound(t *testing.T) {
	svc := NewService(newMemoryRepo())

	_, err := svc.Get(context.Background(), 404)
	require.ErrorIs(t, err, shared.ErrNotFound)

	_, err = svc.Get(context.Background(), 0)
	require.ErrorIs(t, err, shared.ErrInvalidArgument)
}
