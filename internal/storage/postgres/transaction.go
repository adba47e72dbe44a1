package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/canteenhq/grouporder/internal/domain/grouporder"
	"github.com/canteenhq/grouporder/internal/domain/payment"
)

var _ payment.Repository = (*TransactionRepository)(nil)

// TransactionRepository implements payment.Repository backed by PostgreSQL.
// The transactions table is append-only apart from status resolution.
type TransactionRepository struct {
	pool *pgxpool.Pool
}

// NewTransactionRepository returns a TransactionRepository that uses the
// given pool.
func NewTransactionRepository(pool *pgxpool.Pool) *TransactionRepository {
	return &TransactionRepository{pool: pool}
}

// CreateTransaction records a new payment attempt.
func (r *TransactionRepository) CreateTransaction(ctx context.Context, tx *grouporder.Transaction) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO transactions (id, order_id, member_id, amount, gateway_order_id, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		tx.ID, tx.OrderID, tx.Member, tx.Amount, tx.GatewayOrderID, tx.Status, tx.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("creating transaction %q: %w", tx.ID, err)
	}
	return nil
}

// GetTransaction fetches one payment attempt by id.
func (r *TransactionRepository) GetTransaction(ctx context.Context, id string) (*grouporder.Transaction, error) {
	var tx grouporder.Transaction
	err := r.pool.QueryRow(ctx, `
		SELECT id, order_id, member_id, amount, gateway_order_id, status, created_at
		FROM transactions
		WHERE id = $1`,
		id,
	).Scan(&tx.ID, &tx.OrderID, &tx.Member, &tx.Amount, &tx.GatewayOrderID, &tx.Status, &tx.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, payment.ErrTransactionNotFound
		}
		return nil, fmt.Errorf("finding transaction %q: %w", id, err)
	}
	return &tx, nil
}

// SetTransactionStatus resolves a payment attempt to success or failed.
func (r *TransactionRepository) SetTransactionStatus(ctx context.Context, id string, status grouporder.TransactionStatus) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE transactions
		SET status = $2
		WHERE id = $1`,
		id, status,
	)
	if err != nil {
		return fmt.Errorf("updating transaction %q: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return payment.ErrTransactionNotFound
	}
	return nil
}
