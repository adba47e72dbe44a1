package groupclient

import (
	"context"
	"sync"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// PayerState is the per-member payment attempt state.
type PayerState string

const (
	PayerIdle            PayerState = "idle"
	PayerAwaitingGateway PayerState = "awaiting_gateway_confirmation"
	PayerVerifying       PayerState = "verifying"
	PayerSucceeded       PayerState = "succeeded"
	PayerFailed          PayerState = "failed"
	PayerCancelled       PayerState = "cancelled"
)

// ErrCheckoutDismissed is returned by a CheckoutGateway when the user closes
// the hosted checkout without paying.
var ErrCheckoutDismissed = errors.New("checkout dismissed")

// ErrPaymentCancelled reports user-initiated abandonment. It is deliberately
// distinct from a payment failure: the UI shows lower-severity messaging and
// no retry prompt.
var ErrPaymentCancelled = errors.New("payment cancelled")

// CheckoutRequest describes one payment for the hosted checkout UI.
type CheckoutRequest struct {
	GatewayOrderID string
	Amount         decimal.Decimal
	MemberName     string
}

// GatewayReceipt carries the opaque proof fields from the checkout success
// handler. They are only trusted after server-side verification.
type GatewayReceipt struct {
	GatewayOrderID   string
	GatewayPaymentID string
	Signature        string
}

// CheckoutGateway opens the payment gateway's hosted checkout and blocks
// until the user completes or dismisses it. Dismissal returns
// ErrCheckoutDismissed.
type CheckoutGateway interface {
	Open(ctx context.Context, req CheckoutRequest) (GatewayReceipt, error)
}

// Payer drives the payment flow for one member:
//
//	Idle → AwaitingGatewayConfirmation → Verifying → Succeeded | Failed
//	                                  └→ Cancelled (user dismissed checkout)
//
// Preconditions (items present, split valid, non-zero owed amount) are
// checked before any network call. Even when a single update-order call
// creates pending transactions for several members, the payer only drives
// its own member's transaction through checkout and verification.
type Payer struct {
	client  *Client
	gateway CheckoutGateway
	member  Member
	onState func(PayerState)

	mu    sync.Mutex
	state PayerState
}

// PayerOption configures a Payer.
type PayerOption func(*Payer)

// WithOnPayerState registers a callback for state transitions.
func WithOnPayerState(fn func(PayerState)) PayerOption {
	return func(p *Payer) { p.onState = fn }
}

// NewPayer creates a Payer for the given member.
func NewPayer(client *Client, gateway CheckoutGateway, member Member, opts ...PayerOption) *Payer {
	p := &Payer{
		client:  client,
		gateway: gateway,
		member:  member,
		state:   PayerIdle,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// State returns the current payment attempt state.
func (p *Payer) State() PayerState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *Payer) setState(st PayerState) {
	p.mu.Lock()
	p.state = st
	p.mu.Unlock()
	if p.onState != nil {
		p.onState(st)
	}
}

// gate checks the local preconditions for initiating a payment against the
// given snapshot. It runs before any network call, so a bad split or an
// empty order never reaches the gateway.
func (p *Payer) gate(o *Order) (decimal.Decimal, error) {
	if len(o.Items) == 0 {
		return decimal.Zero, &ValidationError{Message: "order has no items"}
	}
	if err := ValidateCustomSplit(o); err != nil {
		return decimal.Zero, err
	}
	owed, err := AmountOwed(o, p.member.ID)
	if err != nil {
		return decimal.Zero, err
	}
	if !owed.IsPositive() {
		return decimal.Zero, &ValidationError{Message: "nothing to pay"}
	}
	return owed, nil
}

// PayForSelf initiates and completes a payment for the member's owed share
// under the snapshot's current split. It returns the updated order on
// success.
func (p *Payer) PayForSelf(ctx context.Context, o *Order) (*Order, error) {
	if _, err := p.gate(o); err != nil {
		return nil, err
	}

	res, err := p.client.PaySelf(ctx, o.ID)
	if err != nil {
		return nil, err
	}
	return p.driveTransaction(ctx, res.Transaction)
}

// UpdateOrderAndPay persists pending item and split changes, then drives the
// member's own pending transaction (if any) through checkout and
// verification. Members who owe nothing get the updated order back with the
// payer still idle.
func (p *Payer) UpdateOrderAndPay(ctx context.Context, o *Order, req UpdateOrderPayload) (*Order, error) {
	if len(req.Items) == 0 {
		return nil, &ValidationError{Message: "order has no items"}
	}
	prospective := o.clone()
	prospective.Split.Type = req.SplitType
	prospective.Split.Amounts = req.Amounts
	if err := ValidateCustomSplit(prospective); err != nil {
		return nil, err
	}

	res, err := p.client.UpdateOrder(ctx, req)
	if err != nil {
		return nil, err
	}

	var own *Transaction
	for i := range res.Transactions {
		if res.Transactions[i].Member == p.member.ID {
			own = &res.Transactions[i]
			break
		}
	}
	if own == nil {
		return res.Order, nil
	}
	return p.driveTransaction(ctx, own)
}

// driveTransaction walks one pending transaction through the gateway and
// server verification. A verification failure never leaves local state
// assuming anything was paid.
func (p *Payer) driveTransaction(ctx context.Context, tx *Transaction) (*Order, error) {
	p.setState(PayerAwaitingGateway)

	receipt, err := p.gateway.Open(ctx, CheckoutRequest{
		GatewayOrderID: tx.GatewayOrderID,
		Amount:         tx.Amount,
		MemberName:     p.member.Name,
	})
	if err != nil {
		if errors.Is(err, ErrCheckoutDismissed) {
			p.setState(PayerCancelled)
			return nil, ErrPaymentCancelled
		}
		p.setState(PayerFailed)
		return nil, errors.Wrap(err, "gateway checkout")
	}

	p.setState(PayerVerifying)

	res, err := p.client.Verify(ctx, VerifyPayload{
		TransactionID:    tx.ID,
		GatewayPaymentID: receipt.GatewayPaymentID,
		GatewayOrderID:   receipt.GatewayOrderID,
		GatewaySignature: receipt.Signature,
	})
	if err != nil {
		p.setState(PayerFailed)
		return nil, err
	}

	p.setState(PayerSucceeded)
	return res.Order, nil
}
