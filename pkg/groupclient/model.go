// Package groupclient is the client-side coordinator for group orders. It
// keeps a local order snapshot consistent with the server through push
// updates and reconciling re-fetches, gates payment initiation on split
// validation, and drives the per-member payment flow.
//
// The client never owns authoritative state: the snapshot is a cache, the
// server is the serialization point for cross-member conflicts.
package groupclient

import (
	"time"

	"github.com/shopspring/decimal"
)

// Status is the lifecycle tag of a group order as pushed by the server.
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
	SplitEqual  SplitType = "equal"
	SplitCustom SplitType = "custom"
	SplitSelf   SplitType = "self"
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

// LineItem is one member's quantity of one menu item. Pricing uses
// PriceAtPurchase once captured server-side, so later catalog edits do not
// change what a member owes.
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

// Transaction is one payment attempt by one member.
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

// Order is the full group order snapshot as served and pushed by the API.
type Order struct {
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
func (o *Order) HasMember(memberID string) bool {
	for _, m := range o.Members {
		if m.ID == memberID {
			return true
		}
	}
	return false
}

// MemberItems returns the line items owned by the given member.
func (o *Order) MemberItems(memberID string) []LineItem {
	var items []LineItem
	for _, li := range o.Items {
		if li.Owner == memberID {
			items = append(items, li)
		}
	}
	return items
}

// clone returns a deep copy so callers can hand snapshots to the UI without
// racing later mutations.
func (o *Order) clone() *Order {
	if o == nil {
		return nil
	}
	c := *o
	c.Members = append([]Member(nil), o.Members...)
	c.Items = append([]LineItem(nil), o.Items...)
	c.Split.Transactions = append([]Transaction(nil), o.Split.Transactions...)
	if o.Split.Amounts != nil {
		c.Split.Amounts = make(map[string]decimal.Decimal, len(o.Split.Amounts))
		for k, v := range o.Split.Amounts {
			c.Split.Amounts[k] = v
		}
	}
	if o.PickupTime != nil {
		t := *o.PickupTime
		c.PickupTime = &t
	}
	return &c
}
