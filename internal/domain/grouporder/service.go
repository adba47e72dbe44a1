package grouporder

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/canteenhq/grouporder/internal/domain/menu"
)

// ItemInput is a requested line item change: which catalog item, how many,
// and which member the line belongs to.
type ItemInput struct {
	ItemRef  string
	Quantity int
	Owner    string
}

// Service holds the authoritative group order business logic. The server is
// the serialization point for cross-member conflicts: every mutation loads the
// stored snapshot, applies the change, and saves the whole snapshot back.
type Service struct {
	orders Repository
	menu   menu.Repository
	now    func() time.Time
}

// NewService creates a group order Service with the required dependencies.
func NewService(orders Repository, menuRepo menu.Repository) *Service {
	return &Service{
		orders: orders,
		menu:   menuRepo,
		now:    time.Now,
	}
}

// Create starts a new group order bound to a single canteen, with the creator
// as its first member. The share link doubles as the realtime room key.
func (s *Service) Create(ctx context.Context, creator Member, canteenID string) (*GroupOrder, error) {
	o := &GroupOrder{
		ID:        uuid.New().String(),
		Link:      uuid.New().String(),
		Creator:   creator.ID,
		CanteenID: canteenID,
		Members:   []Member{creator},
		Status:    StatusOpen,
		Split:     Split{Type: SplitSelf},
		CreatedAt: s.now(),
	}
	if err := s.orders.Create(ctx, o); err != nil {
		return nil, errors.Wrap(err, "create group order")
	}
	return o, nil
}

// GetByLink fetches the full current snapshot for a share link.
func (s *Service) GetByLink(ctx context.Context, link string) (*GroupOrder, error) {
	o, err := s.orders.GetByLink(ctx, link)
	if err != nil {
		return nil, err
	}
	return o, nil
}

// Join adds the member to the order if not already present. Joining twice is
// a no-op, not an error.
func (s *Service) Join(ctx context.Context, link string, m Member) (*GroupOrder, error) {
	o, err := s.orders.GetByLink(ctx, link)
	if err != nil {
		return nil, err
	}
	if o.Status.Terminal() {
		return nil, ErrOrderClosed
	}
	if o.HasMember(m.ID) {
		return o, nil
	}

	if err := s.orders.AddMember(ctx, o.ID, m); err != nil {
		return nil, errors.Wrap(err, "add member")
	}
	o.Members = append(o.Members, m)
	return o, nil
}

// ReplaceItems replaces the given member's line items with the submitted set.
// Lines owned by other members are left untouched; submitting a line with a
// foreign owner is rejected before anything is written. Prices and names are
// captured from the live catalog for new lines, while lines that already had
// a captured price keep it.
func (s *Service) ReplaceItems(ctx context.Context, orderID, memberID string, items []ItemInput) (*GroupOrder, error) {
	o, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.Status != StatusOpen {
		return nil, ErrOrderClosed
	}
	if !o.HasMember(memberID) {
		return nil, ErrNotMember
	}

	for _, in := range items {
		if in.Owner != memberID {
			return nil, &NotOwnerError{Member: memberID, Owner: in.Owner, ItemRef: in.ItemRef}
		}
		if in.Quantity <= 0 {
			return nil, &InvalidQuantityError{ItemRef: in.ItemRef}
		}
	}

	lines, err := s.captureLines(ctx, o, memberID, items)
	if err != nil {
		return nil, err
	}

	// Keep everyone else's lines, replace this member's as a whole.
	kept := make([]LineItem, 0, len(o.Items)+len(lines))
	for _, li := range o.Items {
		if li.Owner != memberID {
			kept = append(kept, li)
		}
	}
	o.Items = append(kept, lines...)

	if err := s.orders.Save(ctx, o); err != nil {
		return nil, errors.Wrap(err, "save group order")
	}
	return o, nil
}

// captureLines builds line items for the submitted inputs, reusing previously
// captured purchase prices and denormalizing fresh catalog data for new lines.
func (s *Service) captureLines(ctx context.Context, o *GroupOrder, memberID string, items []ItemInput) ([]LineItem, error) {
	captured := make(map[string]LineItem)
	for _, li := range o.Items {
		if li.Owner == memberID {
			captured[li.ItemRef] = li
		}
	}

	var missing []string
	for _, in := range items {
		if _, ok := captured[in.ItemRef]; !ok {
			missing = append(missing, in.ItemRef)
		}
	}

	catalog := make(map[string]menu.Item)
	if len(missing) > 0 {
		fetched, err := s.menu.GetByIDs(ctx, missing)
		if err != nil {
			return nil, errors.Wrap(err, "get menu items")
		}
		for _, it := range fetched {
			if it.CanteenID == o.CanteenID && it.Available {
				catalog[it.ID] = it
			}
		}
	}

	lines := make([]LineItem, 0, len(items))
	for _, in := range items {
		if prev, ok := captured[in.ItemRef]; ok {
			prev.Quantity = in.Quantity
			lines = append(lines, prev)
			continue
		}
		it, ok := catalog[in.ItemRef]
		if !ok {
			return nil, &MenuItemNotFoundError{ItemRef: in.ItemRef}
		}
		lines = append(lines, LineItem{
			ItemRef:         it.ID,
			NameAtPurchase:  it.Name,
			PriceAtPurchase: it.Price,
			Quantity:        in.Quantity,
			Owner:           memberID,
		})
	}
	return lines, nil
}

// SetSplit changes the split policy. Custom splits are validated against the
// current order total here, server-side: the client-side gate alone is not
// trustworthy.
func (s *Service) SetSplit(ctx context.Context, orderID, memberID string, splitType SplitType, amounts map[string]decimal.Decimal) (*GroupOrder, error) {
	o, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.Status != StatusOpen {
		return nil, ErrOrderClosed
	}
	if !o.HasMember(memberID) {
		return nil, ErrNotMember
	}

	o.Split.Type = splitType
	o.Split.Amounts = amounts
	if splitType != SplitCustom {
		o.Split.Amounts = nil
	}
	if err := ValidateCustomSplit(o); err != nil {
		return nil, err
	}

	if err := s.orders.Save(ctx, o); err != nil {
		return nil, errors.Wrap(err, "save group order")
	}
	return o, nil
}
