package payment

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/canteenhq/grouporder/internal/domain/grouporder"
)

// Sentinel errors for payment initiation and verification.
var (
	ErrNothingToPay        = errors.New("nothing to pay: owed amount is zero")
	ErrAlreadyPaid         = errors.New("member already has a successful payment")
	ErrTransactionNotFound = errors.New("transaction not found")
	ErrVerificationFailed  = errors.New("payment verification failed")
)

// Receipt holds the opaque proof fields the gateway's checkout hands back
// after a member completes payment.
type Receipt struct {
	GatewayOrderID   string
	GatewayPaymentID string
	Signature        string
}

// Gateway is the external payment collaborator: it creates gateway-side
// orders for hosted checkout and verifies completion receipts.
type Gateway interface {
	// CreateOrder registers an order of the given amount with the gateway and
	// returns the gateway's opaque order id. The receipt string ties the
	// gateway order back to our transaction for audit.
	CreateOrder(ctx context.Context, amount decimal.Decimal, receipt string) (string, error)
	// VerifyReceipt reports whether the receipt's signature is valid for its
	// order and payment ids.
	VerifyReceipt(r Receipt) bool
}

// Repository defines persistence for the append-only transaction log.
type Repository interface {
	CreateTransaction(ctx context.Context, tx *grouporder.Transaction) error
	GetTransaction(ctx context.Context, id string) (*grouporder.Transaction, error)
	SetTransactionStatus(ctx context.Context, id string, status grouporder.TransactionStatus) error
}

// HMACGateway implements Gateway with HMAC-SHA256 receipt signatures over
// "gatewayOrderID|gatewayPaymentID", the scheme hosted checkout providers use
// for server-side verification. Signature comparison is constant-time.
type HMACGateway struct {
	secret []byte
}

// NewHMACGateway creates an HMACGateway with the given shared secret.
func NewHMACGateway(secret []byte) *HMACGateway {
	return &HMACGateway{secret: secret}
}

// CreateOrder mints a gateway order id. Amount and receipt are accepted for
// interface parity; a hosted provider would register them remotely.
func (g *HMACGateway) CreateOrder(_ context.Context, _ decimal.Decimal, _ string) (string, error) {
	return "gw_order_" + uuid.New().String(), nil
}

// VerifyReceipt recomputes the expected signature and compares it to the
// receipt's in constant time.
func (g *HMACGateway) VerifyReceipt(r Receipt) bool {
	expected := g.Sign(r.GatewayOrderID, r.GatewayPaymentID)
	return hmac.Equal([]byte(expected), []byte(r.Signature))
}

// Sign computes the hex HMAC-SHA256 signature for an order/payment id pair.
// Exposed so tests and checkout stubs can produce valid receipts.
func (g *HMACGateway) Sign(gatewayOrderID, gatewayPaymentID string) string {
	mac := hmac.New(sha256.New, g.secret)
	fmt.Fprintf(mac, "%s|%s", gatewayOrderID, gatewayPaymentID)
	return hex.EncodeToString(mac.Sum(nil))
}
