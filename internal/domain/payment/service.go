package payment

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/canteenhq/grouporder/internal/domain/grouporder"
)

// UpdateOrderRequest is the "update order and collect payment" input: it
// persists pending item and split changes first, then mints pending
// transactions for every member who still owes money.
type UpdateOrderRequest struct {
	OrderID    string
	MemberID   string
	Items      []grouporder.ItemInput
	SplitType  grouporder.SplitType
	Amounts    map[string]decimal.Decimal
	PickupTime *time.Time
}

// VerifyRequest carries the gateway receipt fields a client submits after the
// checkout success handler fires.
type VerifyRequest struct {
	TransactionID    string
	GatewayPaymentID string
	GatewayOrderID   string
	GatewaySignature string
}

// Service drives payment initiation and verification against group orders.
type Service struct {
	orders       *grouporder.Service
	orderRepo    grouporder.Repository
	transactions Repository
	gateway      Gateway
	now          func() time.Time
}

// NewService creates a payment Service with the required collaborators.
func NewService(
	orders *grouporder.Service,
	orderRepo grouporder.Repository,
	transactions Repository,
	gateway Gateway,
) *Service {
	return &Service{
		orders:       orders,
		orderRepo:    orderRepo,
		transactions: transactions,
		gateway:      gateway,
		now:          time.Now,
	}
}

// PaySelf creates a pending transaction for the member's owed share under the
// order's current split. Preconditions are checked before the gateway is
// touched: the order must have items, a valid custom split when applicable,
// and a non-zero owed amount.
func (s *Service) PaySelf(ctx context.Context, orderID, memberID string) (*grouporder.Transaction, *grouporder.GroupOrder, error) {
	o, err := s.orderRepo.GetByID(ctx, orderID)
	if err != nil {
		return nil, nil, err
	}
	if !o.HasMember(memberID) {
		return nil, nil, grouporder.ErrNotMember
	}
	if o.Status.Terminal() {
		return nil, nil, grouporder.ErrOrderClosed
	}

	owed, err := s.owedAmount(o, memberID)
	if err != nil {
		return nil, nil, err
	}
	if o.SuccessfulPayment(memberID) {
		return nil, nil, ErrAlreadyPaid
	}

	tx, err := s.mintTransaction(ctx, o, memberID, owed)
	if err != nil {
		return nil, nil, err
	}
	o.Split.Transactions = append(o.Split.Transactions, *tx)
	return tx, o, nil
}

// UpdateOrder persists the member's item and split changes, locks the order
// with its pickup time, and creates a pending transaction for every member
// who owes money and has not paid yet. Each transaction is independent even
// under equal or custom splits.
func (s *Service) UpdateOrder(ctx context.Context, req UpdateOrderRequest) (*grouporder.GroupOrder, []grouporder.Transaction, error) {
	if len(req.Items) == 0 {
		return nil, nil, grouporder.ErrEmptyItems
	}

	o, err := s.orders.ReplaceItems(ctx, req.OrderID, req.MemberID, req.Items)
	if err != nil {
		return nil, nil, err
	}
	o, err = s.orders.SetSplit(ctx, req.OrderID, req.MemberID, req.SplitType, req.Amounts)
	if err != nil {
		return nil, nil, err
	}

	o.Status = grouporder.StatusLocked
	o.PickupTime = req.PickupTime
	if err := s.orderRepo.Save(ctx, o); err != nil {
		return nil, nil, errors.Wrap(err, "lock group order")
	}

	var pending []grouporder.Transaction
	for _, m := range o.Members {
		owed, err := grouporder.AmountOwed(o, m.ID)
		if err != nil {
			return nil, nil, err
		}
		if !owed.IsPositive() || o.SuccessfulPayment(m.ID) {
			continue
		}
		tx, err := s.mintTransaction(ctx, o, m.ID, owed)
		if err != nil {
			return nil, nil, err
		}
		pending = append(pending, *tx)
	}
	o.Split.Transactions = append(o.Split.Transactions, pending...)

	return o, pending, nil
}

// Verify checks a gateway receipt for a pending transaction. A valid receipt
// marks the transaction successful and, if every owed member has now paid,
// flips the order to paid. An invalid receipt marks the transaction failed
// and never leaves the order looking paid.
func (s *Service) Verify(ctx context.Context, req VerifyRequest) (*grouporder.Transaction, *grouporder.GroupOrder, error) {
	tx, err := s.transactions.GetTransaction(ctx, req.TransactionID)
	if err != nil {
		return nil, nil, err
	}

	receipt := Receipt{
		GatewayOrderID:   req.GatewayOrderID,
		GatewayPaymentID: req.GatewayPaymentID,
		Signature:        req.GatewaySignature,
	}
	if tx.GatewayOrderID != req.GatewayOrderID || !s.gateway.VerifyReceipt(receipt) {
		if err := s.transactions.SetTransactionStatus(ctx, tx.ID, grouporder.TxFailed); err != nil {
			return nil, nil, errors.Wrap(err, "mark transaction failed")
		}
		tx.Status = grouporder.TxFailed
		return tx, nil, ErrVerificationFailed
	}

	if err := s.transactions.SetTransactionStatus(ctx, tx.ID, grouporder.TxSuccess); err != nil {
		return nil, nil, errors.Wrap(err, "mark transaction success")
	}
	tx.Status = grouporder.TxSuccess

	o, err := s.settle(ctx, tx.OrderID)
	if err != nil {
		return nil, nil, err
	}
	return tx, o, nil
}

// owedAmount computes the member's owed share, gating on the same validation
// errors the client checks locally: empty items, custom split mismatch, zero
// amount. The server check is the authoritative one.
func (s *Service) owedAmount(o *grouporder.GroupOrder, memberID string) (decimal.Decimal, error) {
	if len(o.Items) == 0 {
		return decimal.Zero, grouporder.ErrEmptyItems
	}
	if err := grouporder.ValidateCustomSplit(o); err != nil {
		return decimal.Zero, err
	}
	owed, err := grouporder.AmountOwed(o, memberID)
	if err != nil {
		return decimal.Zero, err
	}
	if !owed.IsPositive() {
		return decimal.Zero, ErrNothingToPay
	}
	return owed, nil
}

// mintTransaction registers a gateway order and records the pending attempt.
func (s *Service) mintTransaction(ctx context.Context, o *grouporder.GroupOrder, memberID string, amount decimal.Decimal) (*grouporder.Transaction, error) {
	gatewayOrderID, err := s.gateway.CreateOrder(ctx, amount, o.ID)
	if err != nil {
		return nil, errors.Wrap(err, "create gateway order")
	}

	tx := &grouporder.Transaction{
		ID:             uuid.New().String(),
		OrderID:        o.ID,
		Member:         memberID,
		Amount:         amount,
		GatewayOrderID: gatewayOrderID,
		Status:         grouporder.TxPending,
		CreatedAt:      s.now(),
	}
	if err := s.transactions.CreateTransaction(ctx, tx); err != nil {
		return nil, errors.Wrap(err, "create transaction")
	}
	return tx, nil
}

// settle reloads the order and marks it paid once every member with a
// positive owed amount has a successful transaction.
func (s *Service) settle(ctx context.Context, orderID string) (*grouporder.GroupOrder, error) {
	o, err := s.orderRepo.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.Status.Terminal() || o.Status == grouporder.StatusPaid {
		return o, nil
	}

	for _, m := range o.Members {
		owed, err := grouporder.AmountOwed(o, m.ID)
		if err != nil {
			return nil, err
		}
		if owed.IsPositive() && !o.SuccessfulPayment(m.ID) {
			return o, nil
		}
	}

	o.Status = grouporder.StatusPaid
	if err := s.orderRepo.Save(ctx, o); err != nil {
		return nil, errors.Wrap(err, "mark order paid")
	}
	return o, nil
}
