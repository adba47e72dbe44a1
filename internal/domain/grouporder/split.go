package grouporder

import (
	"fmt"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// splitEpsilon is the tolerance when comparing assigned custom amounts to the
// order total. Assignments within one paisa of the total are accepted.
var splitEpsilon = decimal.RequireFromString("0.01")

// ErrNoMembers is returned when a per-member share is requested for an order
// with no members.
var ErrNoMembers = errors.New("group order has no members")

// SplitMismatchError indicates custom split amounts do not sum to the order
// total. Delta is the exact signed difference (assigned sum minus total) so
// the caller can tell the user how far off they are.
type SplitMismatchError struct {
	Delta decimal.Decimal
}

func (e *SplitMismatchError) Error() string {
	return fmt.Sprintf("custom split amounts differ from order total by %s", e.Delta.StringFixed(2))
}

// Total returns the sum of price-at-purchase times quantity across all items.
func Total(o *GroupOrder) decimal.Decimal {
	total := decimal.Zero
	for _, li := range o.Items {
		total = total.Add(li.Subtotal())
	}
	return total
}

// MemberTotal returns the order total restricted to items owned by memberID.
func MemberTotal(o *GroupOrder, memberID string) decimal.Decimal {
	total := decimal.Zero
	for _, li := range o.Items {
		if li.Owner == memberID {
			total = total.Add(li.Subtotal())
		}
	}
	return total
}

// EqualShare returns the per-member amount under an equal split, rounded to
// two decimal places. An order with no members has no defined share.
func EqualShare(o *GroupOrder) (decimal.Decimal, error) {
	if len(o.Members) == 0 {
		return decimal.Zero, ErrNoMembers
	}
	n := decimal.NewFromInt(int64(len(o.Members)))
	return Total(o).Div(n).Round(2), nil
}

// ValidateCustomSplit checks that the assigned amounts sum to the order total
// within splitEpsilon. It returns a *SplitMismatchError carrying the exact
// signed delta otherwise. Orders with a non-custom split type always pass.
func ValidateCustomSplit(o *GroupOrder) error {
	if o.Split.Type != SplitCustom {
		return nil
	}
	assigned := decimal.Zero
	for _, amount := range o.Split.Amounts {
		assigned = assigned.Add(amount)
	}
	delta := assigned.Sub(Total(o))
	if delta.Abs().GreaterThanOrEqual(splitEpsilon) {
		return &SplitMismatchError{Delta: delta}
	}
	return nil
}

// AmountOwed returns what the given member owes under the order's split type:
// their own items for self, an even share for equal, or the assigned amount
// for custom (zero when unassigned).
func AmountOwed(o *GroupOrder, memberID string) (decimal.Decimal, error) {
	switch o.Split.Type {
	case SplitSelf:
		return MemberTotal(o, memberID), nil
	case SplitEqual:
		return EqualShare(o)
	case SplitCustom:
		if amount, ok := o.Split.Amounts[memberID]; ok {
			return amount, nil
		}
		return decimal.Zero, nil
	default:
		return decimal.Zero, errors.Errorf("unknown split type %q", o.Split.Type)
	}
}
