package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/canteenhq/grouporder/internal/domain/menu"
)

var _ menu.Repository = (*MenuRepository)(nil)

// MenuRepository implements menu.Repository backed by PostgreSQL.
type MenuRepository struct {
	pool *pgxpool.Pool
}

// NewMenuRepository returns a MenuRepository that uses the given pool.
func NewMenuRepository(pool *pgxpool.Pool) *MenuRepository {
	return &MenuRepository{pool: pool}
}

// ListByCanteen returns all available items for one canteen.
func (r *MenuRepository) ListByCanteen(ctx context.Context, canteenID string) ([]menu.Item, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, canteen_id, name, price, category, available
		FROM menu_items
		WHERE canteen_id = $1 AND available
		ORDER BY category, name`,
		canteenID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing menu for canteen %q: %w", canteenID, err)
	}
	defer rows.Close()

	return scanItems(rows)
}

// GetByIDs fetches the given catalog items in a single batch. Missing ids are
// simply absent from the result; the caller decides whether that is an error.
func (r *MenuRepository) GetByIDs(ctx context.Context, ids []string) ([]menu.Item, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, canteen_id, name, price, category, available
		FROM menu_items
		WHERE id = ANY($1)`,
		ids,
	)
	if err != nil {
		return nil, fmt.Errorf("getting menu items: %w", err)
	}
	defer rows.Close()

	return scanItems(rows)
}

type rowScanner interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func scanItems(rows rowScanner) ([]menu.Item, error) {
	var items []menu.Item
	for rows.Next() {
		var it menu.Item
		if err := rows.Scan(&it.ID, &it.CanteenID, &it.Name, &it.Price, &it.Category, &it.Available); err != nil {
			return nil, fmt.Errorf("scanning menu item: %w", err)
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating menu items: %w", err)
	}
	return items, nil
}
