package catalog

import (
	"fmt"
	"strings"

	"github.com/meridian-his/meridian-his/internal/shared"
)

func (s *Service) validate(m Medicine) error {
	if strings.TrimSpace(m.Code) == "" {
		return fmt.Errorf("%w: medicine code is required", shared.ErrInvalidArgument)
	}
	if strings.TrimSpace(m.Name) == "" {
		return fmt.Errorf("%w: medicine name is required", shared.ErrInvalidArgument)
	}
	if m.UnitPrice.IsNegative() {
		return fmt.Errorf("%w: unit price must not be negative", shared.ErrInvalidArgument)
	}
	if m.ReorderLevel < 0 {
		return fmt.Errorf("%w: reorder level must not be negative", shared.ErrInvalidArgument)
	}
	return nil
}
