package catalog

import (
	"context"
	"fmt"

	"github.com/meridian-his/meridian-his/internal/shared"
)

// Service handles medicine catalog business logic.
type Service struct {
	repo Repository
}

// NewService builds Service instance.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// List returns medicines matching the filters with a total count.
func (s *Service) List(ctx context.Context, filters ListFilters) ([]Medicine, int, error) {
	return s.repo.List(ctx, filters)
}

// Get returns one medicine by id.
func (s *Service) Get(ctx context.Context, id int64) (Medicine, error) {
	if id <= 0 {
		return Medicine{}, fmt.Errorf("%w: invalid medicine id", shared.ErrInvalidArgument)
	}
	return s.repo.Get(ctx, id)
}

// Create registers a new medicine.
func (s *Service) Create(ctx context.Context, m Medicine) (Medicine, error) {
	if err := s.validate(m); err != nil {
		return Medicine{}, err
	}
	m.UnitPrice = m.UnitPrice.Round(2)
	return s.repo.Create(ctx, m)
}

// Update replaces a medicine's editable fields.
func (s *Service) Update(ctx context.Context, id int64, m Medicine) error {
	if id <= 0 {
		return fmt.Errorf("%w: invalid medicine id", shared.ErrInvalidArgument)
	}
	if err := s.validate(m); err != nil {
		return err
	}
	m.UnitPrice = m.UnitPrice.Round(2)
	return s.repo.Update(ctx, id, m)
}
