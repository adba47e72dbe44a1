package grouporder

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Status is the lifecycle tag of a group order. Transitions are authoritative
// server-side; clients only reflect the value they are pushed.
type Status string

const (
	StatusOpen      Status = "open"
	StatusLocked    Status = "locked"
	StatusPaid      Status = "paid"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether the order can no longer be mutated.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// SplitType is the policy for dividing the order total between members.
type SplitType string

const (
	// SplitEqual divides the total evenly, independent of who added what.
	SplitEqual SplitType = "equal"
	// SplitCustom uses manually assigned per-member amounts.
	SplitCustom SplitType = "custom"
	// SplitSelf makes each member pay for their own line items.
	SplitSelf SplitType = "self"
)

// TransactionStatus is the state of one payment attempt.
type TransactionStatus string

const (
	TxPending TransactionStatus = "pending"
	TxSuccess TransactionStatus = "success"
	TxFailed  TransactionStatus = "failed"
)

// Member is a participant in a group order.
type Member struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// LineItem is one member's quantity of one menu item. Every line belongs to
// exactly one member; only that member may mutate or remove it.
type LineItem struct {
	ItemRef         string          `json:"item"`
	NameAtPurchase  string          `json:"name_at_purchase,omitempty"`
	PriceAtPurchase decimal.Decimal `json:"price_at_purchase"`
	Quantity        int             `json:"quantity"`
	Owner           string          `json:"user"`
}

// Subtotal returns PriceAtPurchase multiplied by quantity.
func (li LineItem) Subtotal() decimal.Decimal {
	return li.PriceAtPurchase.Mul(decimal.NewFromInt(int64(li.Quantity)))
}

// Transaction is one payment attempt by one member. The transaction log is
// append-only: attempts are never deleted, only resolved to success or failed.
type Transaction struct {
	ID             string            `json:"id"`
	OrderID        string            `json:"order_id"`
	Member         string            `json:"member"`
	Amount         decimal.Decimal   `json:"amount"`
	GatewayOrderID string            `json:"gateway_order_id"`
	Status         TransactionStatus `json:"status"`
	CreatedAt      time.Time         `json:"created_at"`
}

// Split describes how the order total is divided and tracks payment attempts.
type Split struct {
	Type         SplitType                  `json:"split_type"`
	Amounts      map[string]decimal.Decimal `json:"amounts,omitempty"`
	Transactions []Transaction              `json:"transactions,omitempty"`
}

// GroupOrder is the aggregate root: a single-canteen order shared by multiple
// members who each add their own items.
type GroupOrder struct {
	ID         string     `json:"id"`
	Link       string     `json:"link"`
	Creator    string     `json:"creator"`
	CanteenID  string     `json:"canteen"`
	Members    []Member   `json:"members"`
	Items      []LineItem `json:"items"`
	Status     Status     `json:"status"`
	Split      Split      `json:"payment_details"`
	PickupTime *time.Time `json:"pickup_time,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// HasMember reports whether the member with the given id has joined.
func (o *GroupOrder) HasMember(memberID string) bool {
	for _, m := range o.Members {
		if m.ID == memberID {
			return true
		}
	}
	return false
}

// MemberItems returns the line items owned by the given member.
func (o *GroupOrder) MemberItems(memberID string) []LineItem {
	var items []LineItem
	for _, li := range o.Items {
		if li.Owner == memberID {
			items = append(items, li)
		}
	}
	return items
}

// SuccessfulPayment reports whether the member already has a successful
// transaction on this order.
func (o *GroupOrder) SuccessfulPayment(memberID string) bool {
	for _, tx := range o.Split.Transactions {
		if tx.Member == memberID && tx.Status == TxSuccess {
			return true
		}
	}
	return false
}

// Repository defines persistence operations for group orders. Save replaces
// the stored snapshot as a whole, matching the full-state-replace model.
type Repository interface {
	Create(ctx context.Context, o *GroupOrder) error
	GetByID(ctx context.Context, id string) (*GroupOrder, error)
	GetByLink(ctx context.Context, link string) (*GroupOrder, error)
	Save(ctx context.Context, o *GroupOrder) error
	AddMember(ctx context.Context, orderID string, m Member) error
}

// Sentinel errors for group order validation.
var (
	ErrNotFound    = fmt.Errorf("group order not found")
	ErrOrderClosed = fmt.Errorf("group order is no longer open")
	ErrEmptyItems  = fmt.Errorf("items required")
	ErrNotMember   = fmt.Errorf("not a member of this group order")
)

// InvalidQuantityError indicates a line item has a non-positive quantity.
type InvalidQuantityError struct {
	ItemRef string
}

func (e *InvalidQuantityError) Error() string {
	return fmt.Sprintf("quantity must be greater than 0 for item %s", e.ItemRef)
}

// NotOwnerError indicates a member tried to mutate a line item owned by
// someone else.
type NotOwnerError struct {
	Member  string
	Owner   string
	ItemRef string
}

func (e *NotOwnerError) Error() string {
	return fmt.Sprintf("member %s cannot modify item %s owned by %s", e.Member, e.ItemRef, e.Owner)
}

// MenuItemNotFoundError indicates a referenced catalog item does not exist or
// is unavailable at the order's canteen.
type MenuItemNotFoundError struct {
	ItemRef string
}

func (e *MenuItemNotFoundError) Error() string {
	return fmt.Sprintf("menu item %s not found", e.ItemRef)
}
