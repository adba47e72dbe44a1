package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/canteenhq/grouporder/internal/domain/grouporder"
)

func newTestServer(t *testing.T, hub *Hub) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		link := strings.TrimPrefix(r.URL.Path, "/ws/")
		hub.Serve(w, r, link)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func dial(t *testing.T, srv *httptest.Server, link string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/" + link
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestHub_PublishReachesRoomSubscribers(t *testing.T) {
	hub := NewHub(zaptest.NewLogger(t))
	srv := newTestServer(t, hub)

	conn := dial(t, srv, "link-1")
	other := dial(t, srv, "link-2")

	// Let both subscriptions register before publishing.
	time.Sleep(50 * time.Millisecond)

	hub.Publish("link-1", &grouporder.GroupOrder{ID: "ord-1", Link: "link-1"})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, payload, err := conn.ReadMessage()
	require.NoError(t, err)

	var ev Event
	require.NoError(t, json.Unmarshal(payload, &ev))
	assert.Equal(t, EventOrderUpdated, ev.Type)
	require.NotNil(t, ev.Order)
	assert.Equal(t, "ord-1", ev.Order.ID)

	// The other room must not see the event.
	require.NoError(t, other.SetReadDeadline(time.Now().Add(200*time.Millisecond)))
	_, _, err = other.ReadMessage()
	require.Error(t, err)
}

func TestHub_PublishToEmptyRoom(t *testing.T) {
	hub := NewHub(zaptest.NewLogger(t))

	// Must not panic or block.
	hub.Publish("nobody-here", &grouporder.GroupOrder{ID: "ord-1"})
}

func TestHub_CloseDisconnectsSubscribers(t *testing.T) {
	hub := NewHub(zaptest.NewLogger(t))
	srv := newTestServer(t, hub)

	conn := dial(t, srv, "link-1")
	time.Sleep(50 * time.Millisecond)

	hub.Close(context.Background())

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
}
