// Package catalog holds the medicine master data that batches and bill
// line items reference.
package catalog

import (
	"time"

	"github.com/shopspring/decimal"
)

// Medicine represents a catalog entry.
type Medicine struct {
	ID           int64           `json:"id"`
	Code         string          `json:"code"`
	Name         string          `json:"name"`
	GenericName  string          `json:"generic_name"`
	Unit         string          `json:"unit"`
	UnitPrice    decimal.Decimal `json:"unit_price"`
	ReorderLevel int64           `json:"reorder_level"`
	IsActive     bool            `json:"is_active"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// ListFilters narrows medicine listings.
type ListFilters struct {
	Search   string
	IsActive *bool
	Page     int
	Limit    int
}
