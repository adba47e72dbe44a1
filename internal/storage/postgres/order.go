package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/canteenhq/grouporder/internal/domain/grouporder"
)

var _ grouporder.Repository = (*OrderRepository)(nil)

// OrderRepository implements grouporder.Repository backed by PostgreSQL.
// Line items and custom split amounts are stored as JSONB snapshots; members
// and transactions live in their own tables and are assembled on read.
type OrderRepository struct {
	pool *pgxpool.Pool
}

// NewOrderRepository returns an OrderRepository that uses the given pool.
func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

// Create persists a new group order and its creator membership atomically.
func (r *OrderRepository) Create(ctx context.Context, o *grouporder.GroupOrder) error {
	itemsJSON, amountsJSON, err := marshalSnapshots(o)
	if err != nil {
		return err
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin create order: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `
		INSERT INTO group_orders (id, link, creator, canteen_id, status, split_type, items, amounts, pickup_time, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		o.ID, o.Link, o.Creator, o.CanteenID, o.Status, o.Split.Type,
		itemsJSON, amountsJSON, o.PickupTime, o.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("creating order %q: %w", o.ID, err)
	}

	for _, m := range o.Members {
		if _, err := tx.Exec(ctx, `
			INSERT INTO group_members (order_id, member_id, name)
			VALUES ($1, $2, $3)
			ON CONFLICT DO NOTHING`,
			o.ID, m.ID, m.Name,
		); err != nil {
			return fmt.Errorf("adding member %q to order %q: %w", m.ID, o.ID, err)
		}
	}

	return tx.Commit(ctx)
}

// GetByID fetches the full snapshot by order id.
func (r *OrderRepository) GetByID(ctx context.Context, id string) (*grouporder.GroupOrder, error) {
	return r.get(ctx, "id", id)
}

// GetByLink fetches the full snapshot by share link. Returns
// grouporder.ErrNotFound for an invalid or expired link.
func (r *OrderRepository) GetByLink(ctx context.Context, link string) (*grouporder.GroupOrder, error) {
	return r.get(ctx, "link", link)
}

func (r *OrderRepository) get(ctx context.Context, column, value string) (*grouporder.GroupOrder, error) {
	var (
		o           grouporder.GroupOrder
		itemsJSON   []byte
		amountsJSON []byte
	)
	err := r.pool.QueryRow(ctx, fmt.Sprintf(`
		SELECT id, link, creator, canteen_id, status, split_type, items, amounts, pickup_time, created_at
		FROM group_orders
		WHERE %s = $1`, column),
		value,
	).Scan(&o.ID, &o.Link, &o.Creator, &o.CanteenID, &o.Status, &o.Split.Type,
		&itemsJSON, &amountsJSON, &o.PickupTime, &o.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, grouporder.ErrNotFound
		}
		return nil, fmt.Errorf("finding order by %s %q: %w", column, value, err)
	}

	if err := json.Unmarshal(itemsJSON, &o.Items); err != nil {
		return nil, fmt.Errorf("unmarshaling items for order %q: %w", o.ID, err)
	}
	if len(amountsJSON) > 0 {
		var amounts map[string]decimal.Decimal
		if err := json.Unmarshal(amountsJSON, &amounts); err != nil {
			return nil, fmt.Errorf("unmarshaling amounts for order %q: %w", o.ID, err)
		}
		if len(amounts) > 0 {
			o.Split.Amounts = amounts
		}
	}

	if err := r.loadMembers(ctx, &o); err != nil {
		return nil, err
	}
	if err := r.loadTransactions(ctx, &o); err != nil {
		return nil, err
	}
	return &o, nil
}

func (r *OrderRepository) loadMembers(ctx context.Context, o *grouporder.GroupOrder) error {
	rows, err := r.pool.Query(ctx, `
		SELECT member_id, name
		FROM group_members
		WHERE order_id = $1
		ORDER BY joined_at`,
		o.ID,
	)
	if err != nil {
		return fmt.Errorf("loading members for order %q: %w", o.ID, err)
	}
	defer rows.Close()

	for rows.Next() {
		var m grouporder.Member
		if err := rows.Scan(&m.ID, &m.Name); err != nil {
			return fmt.Errorf("scanning member: %w", err)
		}
		o.Members = append(o.Members, m)
	}
	return rows.Err()
}

func (r *OrderRepository) loadTransactions(ctx context.Context, o *grouporder.GroupOrder) error {
	rows, err := r.pool.Query(ctx, `
		SELECT id, order_id, member_id, amount, gateway_order_id, status, created_at
		FROM transactions
		WHERE order_id = $1
		ORDER BY created_at`,
		o.ID,
	)
	if err != nil {
		return fmt.Errorf("loading transactions for order %q: %w", o.ID, err)
	}
	defer rows.Close()

	for rows.Next() {
		var tx grouporder.Transaction
		if err := rows.Scan(&tx.ID, &tx.OrderID, &tx.Member, &tx.Amount, &tx.GatewayOrderID, &tx.Status, &tx.CreatedAt); err != nil {
			return fmt.Errorf("scanning transaction: %w", err)
		}
		o.Split.Transactions = append(o.Split.Transactions, tx)
	}
	return rows.Err()
}

// Save replaces the stored order snapshot as a whole.
func (r *OrderRepository) Save(ctx context.Context, o *grouporder.GroupOrder) error {
	itemsJSON, amountsJSON, err := marshalSnapshots(o)
	if err != nil {
		return err
	}

	tag, err := r.pool.Exec(ctx, `
		UPDATE group_orders
		SET status = $2, split_type = $3, items = $4, amounts = $5, pickup_time = $6, updated_at = now()
		WHERE id = $1`,
		o.ID, o.Status, o.Split.Type, itemsJSON, amountsJSON, o.PickupTime,
	)
	if err != nil {
		return fmt.Errorf("saving order %q: %w", o.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return grouporder.ErrNotFound
	}
	return nil
}

// AddMember records a membership. Duplicate joins are a no-op.
func (r *OrderRepository) AddMember(ctx context.Context, orderID string, m grouporder.Member) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO group_members (order_id, member_id, name)
		VALUES ($1, $2, $3)
		ON CONFLICT DO NOTHING`,
		orderID, m.ID, m.Name,
	)
	if err != nil {
		return fmt.Errorf("adding member %q to order %q: %w", m.ID, orderID, err)
	}
	return nil
}

func marshalSnapshots(o *grouporder.GroupOrder) (items, amounts []byte, err error) {
	lineItems := o.Items
	if lineItems == nil {
		lineItems = []grouporder.LineItem{}
	}
	items, err = json.Marshal(lineItems)
	if err != nil {
		return nil, nil, fmt.Errorf("marshaling items for order %q: %w", o.ID, err)
	}

	splitAmounts := o.Split.Amounts
	if splitAmounts == nil {
		splitAmounts = map[string]decimal.Decimal{}
	}
	amounts, err = json.Marshal(splitAmounts)
	if err != nil {
		return nil, nil, fmt.Errorf("marshaling amounts for order %q: %w", o.ID, err)
	}
	return items, amounts, nil
}
