package groupclient

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type draftCart struct {
	Link  string `json:"link"`
	Items int    `json:"items"`
}

func TestLocalStore_PutGetDelete(t *testing.T) {
	ls := NewLocalStore()

	require.NoError(t, ls.Put(GuestKey, "cart", draftCart{Link: "lnk-1", Items: 3}))

	var got draftCart
	require.NoError(t, ls.Get(GuestKey, "cart", &got))
	assert.Equal(t, draftCart{Link: "lnk-1", Items: 3}, got)

	ls.Delete(GuestKey, "cart")
	assert.ErrorIs(t, ls.Get(GuestKey, "cart", &got), ErrEntryNotFound)
}

func TestLocalStore_MigrateMovesGuestState(t *testing.T) {
	ls := NewLocalStore()
	require.NoError(t, ls.Put(GuestKey, "cart", draftCart{Link: "lnk-1", Items: 2}))
	require.NoError(t, ls.Put(GuestKey, "theme", "dark"))

	ls.Migrate(GuestKey, "alice")

	var cart draftCart
	require.NoError(t, ls.Get("alice", "cart", &cart))
	assert.Equal(t, 2, cart.Items)

	var theme string
	require.NoError(t, ls.Get("alice", "theme", &theme))
	assert.Equal(t, "dark", theme)

	// The guest bucket is gone.
	assert.ErrorIs(t, ls.Get(GuestKey, "cart", &cart), ErrEntryNotFound)
}

func TestLocalStore_MigrateKeepsExistingUserEntries(t *testing.T) {
	ls := NewLocalStore()
	require.NoError(t, ls.Put(GuestKey, "cart", draftCart{Link: "guest-link", Items: 1}))
	require.NoError(t, ls.Put("alice", "cart", draftCart{Link: "alice-link", Items: 5}))

	ls.Migrate(GuestKey, "alice")

	var cart draftCart
	require.NoError(t, ls.Get("alice", "cart", &cart))
	assert.Equal(t, "alice-link", cart.Link)
}

func TestLocalStore_MigrateEmptyGuestIsNoop(t *testing.T) {
	ls := NewLocalStore()
	require.NoError(t, ls.Put("alice", "theme", "light"))

	ls.Migrate(GuestKey, "alice")

	var theme string
	require.NoError(t, ls.Get("alice", "theme", &theme))
	assert.Equal(t, "light", theme)
}
