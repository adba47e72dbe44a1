package groupclient

import (
	"context"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// defaultDebounce is the trailing delay before local item edits are
// persisted. Rapid quantity changes collapse into a single write.
const defaultDebounce = 500 * time.Millisecond

const persistTimeout = 10 * time.Second

// ErrNoOrder is returned when an operation needs a loaded snapshot.
var ErrNoOrder = errors.New("no group order loaded")

// ErrNotOwner rejects a local edit to another member's line item. The check
// happens before any network call.
var ErrNotOwner = errors.New("cannot modify another member's line item")

// Store holds the latest known order snapshot and applies updates from two
// sources: local optimistic edits and authoritative server pushes. Server
// pushes replace the snapshot as a whole; no field-level merging is
// attempted. All mutations funnel through one mutex, so the UI never
// observes a torn view.
type Store struct {
	client   *Client
	member   Member
	lg       *zap.Logger
	onChange func(*Order)
	debounce time.Duration

	mu     sync.Mutex
	order  *Order
	timer  *time.Timer
	dirty  bool
	closed bool
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithDebounce overrides the persistence debounce delay.
func WithDebounce(d time.Duration) StoreOption {
	return func(s *Store) { s.debounce = d }
}

// WithLogger sets the store's logger.
func WithLogger(lg *zap.Logger) StoreOption {
	return func(s *Store) { s.lg = lg }
}

// WithOnChange registers a callback invoked with a fresh snapshot copy after
// every state change, local or pushed. This is the UI notification hook.
func WithOnChange(fn func(*Order)) StoreOption {
	return func(s *Store) { s.onChange = fn }
}

// NewStore creates a Store acting on behalf of the given member.
func NewStore(client *Client, member Member, opts ...StoreOption) *Store {
	s := &Store{
		client:   client,
		member:   member,
		lg:       zap.NewNop(),
		debounce: defaultDebounce,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// LoadSnapshot fetches the full current state for a share link and makes it
// the local snapshot.
func (s *Store) LoadSnapshot(ctx context.Context, link string) (*Order, error) {
	o, err := s.client.GetOrder(ctx, link)
	if err != nil {
		return nil, err
	}
	s.ApplyServerUpdate(o)
	return o.clone(), nil
}

// Join adds the store's member to the order behind the link. Idempotent.
func (s *Store) Join(ctx context.Context, link string) (*Order, error) {
	o, err := s.client.Join(ctx, link)
	if err != nil {
		return nil, err
	}
	s.ApplyServerUpdate(o)
	return o.clone(), nil
}

// ApplyServerUpdate unconditionally replaces the local snapshot with the
// pushed one. Last write wins at whole-order granularity: any optimistic
// local edit not yet persisted is overwritten, and the pending debounce (if
// any) will re-persist the member's lines from the new snapshot.
func (s *Store) ApplyServerUpdate(o *Order) {
	s.mu.Lock()
	s.order = o.clone()
	snapshot := s.order.clone()
	s.mu.Unlock()

	s.notify(snapshot)
}

// Current returns a copy of the latest known snapshot, or nil.
func (s *Store) Current() *Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.order.clone()
}

// Total returns the derived total of the current snapshot.
func (s *Store) Total() decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.order == nil {
		return decimal.Zero
	}
	return Total(s.order)
}

// ProposeItemChange applies a local edit to one of the member's own lines and
// schedules persistence. delta adjusts the quantity; a line dropping to zero
// or below is removed, an unknown line with a positive delta is added. Edits
// to lines owned by someone else are rejected here, before any network call.
func (s *Store) ProposeItemChange(item LineItem, delta int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.order == nil {
		return ErrNoOrder
	}
	if s.closed {
		return errors.New("store is closed")
	}
	if s.order.Status != StatusOpen {
		return &ValidationError{Message: "group order is no longer open"}
	}
	if item.Owner != s.member.ID {
		return ErrNotOwner
	}

	idx := -1
	for i, li := range s.order.Items {
		if li.ItemRef == item.ItemRef && li.Owner == s.member.ID {
			idx = i
			break
		}
	}

	switch {
	case idx < 0 && delta > 0:
		item.Quantity = delta
		s.order.Items = append(s.order.Items, item)
	case idx < 0:
		return &ValidationError{Message: "no such line item"}
	default:
		q := s.order.Items[idx].Quantity + delta
		if q <= 0 {
			s.order.Items = append(s.order.Items[:idx], s.order.Items[idx+1:]...)
		} else {
			s.order.Items[idx].Quantity = q
		}
	}

	s.dirty = true
	s.schedulePersist()

	snapshot := s.order.clone()
	go s.notify(snapshot)
	return nil
}

// schedulePersist arms (or re-arms) the trailing debounce. Caller holds mu.
func (s *Store) schedulePersist() {
	if s.timer != nil {
		s.timer.Reset(s.debounce)
		return
	}
	s.timer = time.AfterFunc(s.debounce, func() {
		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		defer cancel()
		if err := s.Flush(ctx); err != nil {
			s.lg.Warn("debounced persist failed", zap.Error(err))
		}
	})
}

// Flush persists any pending local edits immediately and reconciles against
// the server's canonical state with a full re-fetch. It is a no-op when
// nothing is pending.
func (s *Store) Flush(ctx context.Context) error {
	s.mu.Lock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	if !s.dirty || s.order == nil {
		s.mu.Unlock()
		return nil
	}
	s.dirty = false
	orderID := s.order.ID
	link := s.order.Link
	items := make([]ItemPayload, 0, len(s.order.Items))
	for _, li := range s.order.MemberItems(s.member.ID) {
		items = append(items, ItemPayload{Item: li.ItemRef, Quantity: li.Quantity, User: li.Owner})
	}
	s.mu.Unlock()

	if _, err := s.client.SaveItems(ctx, orderID, items); err != nil {
		// Mark dirty again so a later flush retries the write.
		s.mu.Lock()
		s.dirty = true
		s.mu.Unlock()
		return errors.Wrap(err, "persist items")
	}

	// Reconcile: concurrent members may have edited while our write was in
	// flight, so the canonical snapshot comes from a fresh read.
	o, err := s.client.GetOrder(ctx, link)
	if err != nil {
		return errors.Wrap(err, "reconcile after persist")
	}
	s.ApplyServerUpdate(o)
	return nil
}

// Close flushes pending edits and stops the debounce timer. The store rejects
// further local edits afterwards.
func (s *Store) Close(ctx context.Context) error {
	err := s.Flush(ctx)

	s.mu.Lock()
	s.closed = true
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.mu.Unlock()
	return err
}

func (s *Store) notify(o *Order) {
	if s.onChange != nil && o != nil {
		s.onChange(o)
	}
}
