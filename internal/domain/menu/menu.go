package menu

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// ErrNotFound is returned when a requested menu item does not exist.
var ErrNotFound = errors.New("menu item not found")

// Item represents one entry in a canteen's catalog. Catalog prices are live
// values: group orders denormalize name and price at write time so later
// catalog edits or deletions do not change what a member agreed to pay.
type Item struct {
	ID        string          `json:"id"`
	CanteenID string          `json:"canteen_id"`
	Name      string          `json:"name"`
	Price     decimal.Decimal `json:"price"`
	Category  string          `json:"category"`
	Available bool            `json:"available"`
}

// Canteen represents a single vendor. A group order is bound to exactly one
// canteen for its lifetime.
type Canteen struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Repository defines read operations for the menu catalog.
type Repository interface {
	ListByCanteen(ctx context.Context, canteenID string) ([]Item, error)
	GetByIDs(ctx context.Context, ids []string) ([]Item, error)
}
