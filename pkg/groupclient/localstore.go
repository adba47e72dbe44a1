package groupclient

import (
	"encoding/json"
	"sync"

	"github.com/go-faster/errors"
)

// ErrEntryNotFound is returned by LocalStore.Get for a missing entry.
var ErrEntryNotFound = errors.New("local store entry not found")

// LocalStore is per-user local state surviving reloads: draft carts, the
// active group link, UI preferences. Entries are bucketed by a user key so a
// device can hold state for a guest and an authenticated member at the same
// time. Values are stored as JSON so the backing medium can be swapped for a
// file or browser storage without touching callers.
type LocalStore struct {
	mu      sync.RWMutex
	buckets map[string]map[string]json.RawMessage
}

// GuestKey is the bucket for a not-yet-authenticated session.
const GuestKey = "guest"

// NewLocalStore creates an empty LocalStore.
func NewLocalStore() *LocalStore {
	return &LocalStore{buckets: make(map[string]map[string]json.RawMessage)}
}

// Put stores v under (userKey, name).
func (ls *LocalStore) Put(userKey, name string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return errors.Wrap(err, "encode entry")
	}

	ls.mu.Lock()
	defer ls.mu.Unlock()
	b, ok := ls.buckets[userKey]
	if !ok {
		b = make(map[string]json.RawMessage)
		ls.buckets[userKey] = b
	}
	b[name] = data
	return nil
}

// Get loads the entry under (userKey, name) into dst.
func (ls *LocalStore) Get(userKey, name string, dst any) error {
	ls.mu.RLock()
	data, ok := ls.buckets[userKey][name]
	ls.mu.RUnlock()
	if !ok {
		return ErrEntryNotFound
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return errors.Wrap(err, "decode entry")
	}
	return nil
}

// Delete removes the entry under (userKey, name). Missing entries are a no-op.
func (ls *LocalStore) Delete(userKey, name string) {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	delete(ls.buckets[userKey], name)
}

// Migrate moves everything from the guest bucket into the user's bucket when
// an anonymous session authenticates. Entries already present under the user
// key win; the guest bucket is removed afterwards either way.
func (ls *LocalStore) Migrate(guestKey, userKey string) {
	ls.mu.Lock()
	defer ls.mu.Unlock()

	guest := ls.buckets[guestKey]
	if len(guest) > 0 {
		user, ok := ls.buckets[userKey]
		if !ok {
			user = make(map[string]json.RawMessage, len(guest))
			ls.buckets[userKey] = user
		}
		for name, data := range guest {
			if _, exists := user[name]; !exists {
				user[name] = data
			}
		}
	}
	delete(ls.buckets, guestKey)
}
