// Package realtime fans group order snapshots out to subscribed members over
// WebSocket. Each order's share link names a room; every persisted mutation
// publishes the full updated snapshot to that room as an ORDER_UPDATED event.
package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/canteenhq/grouporder/internal/domain/grouporder"
)

// EventOrderUpdated is pushed whenever any member's mutation is persisted.
// The payload is always the whole order, never a partial patch.
const EventOrderUpdated = "ORDER_UPDATED"

// Event is the wire format for room pushes.
type Event struct {
	Type  string                 `json:"type"`
	Order *grouporder.GroupOrder `json:"order"`
}

const (
	writeWait      = 10 * time.Second
	pingInterval   = 30 * time.Second
	pongWait       = 60 * time.Second
	sendBufferSize = 16
)

// Hub tracks room subscriptions and broadcasts events.
type Hub struct {
	lg          *zap.Logger
	upgrader    websocket.Upgrader
	subscribers metric.Int64UpDownCounter

	mu     sync.RWMutex
	rooms  map[string]map[*subscriber]struct{}
	closed bool
}

type subscriber struct {
	conn *websocket.Conn
	send chan []byte
}

// NewHub creates a Hub. Origin checking is left to the CORS layer in front of
// the upgrade endpoint.
func NewHub(lg *zap.Logger) *Hub {
	subscribers, _ := otel.Meter("grouporder.realtime").
		Int64UpDownCounter("ws.subscribers")
	return &Hub{
		lg:          lg,
		subscribers: subscribers,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		rooms: make(map[string]map[*subscriber]struct{}),
	}
}

// Serve upgrades the request to a WebSocket connection and subscribes it to
// the room for the given order link. It blocks until the peer disconnects or
// the hub shuts down.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, link string) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.lg.Debug("websocket upgrade failed", zap.Error(err))
		return
	}

	sub := &subscriber{
		conn: conn,
		send: make(chan []byte, sendBufferSize),
	}
	if !h.register(link, sub) {
		_ = conn.Close()
		return
	}

	go sub.writePump()
	sub.readPump()

	h.unregister(link, sub)
}

// Publish sends the full order snapshot to every subscriber in the order's
// room. Subscribers whose send buffer is full are dropped: a slow consumer
// will reconnect and re-fetch rather than stall the room.
func (h *Hub) Publish(link string, o *grouporder.GroupOrder) {
	payload, err := json.Marshal(Event{Type: EventOrderUpdated, Order: o})
	if err != nil {
		h.lg.Error("marshal order event", zap.Error(err))
		return
	}

	h.mu.RLock()
	room := h.rooms[link]
	subs := make([]*subscriber, 0, len(room))
	for sub := range room {
		subs = append(subs, sub)
	}
	h.mu.RUnlock()

	for _, sub := range subs {
		select {
		case sub.send <- payload:
		default:
			h.lg.Warn("dropping slow subscriber", zap.String("link", link))
			h.unregister(link, sub)
		}
	}
}

// Close disconnects all subscribers and rejects new ones.
func (h *Hub) Close(ctx context.Context) {
	h.mu.Lock()
	h.closed = true
	rooms := h.rooms
	h.rooms = make(map[string]map[*subscriber]struct{})
	h.mu.Unlock()

	for _, room := range rooms {
		for sub := range room {
			close(sub.send)
		}
	}
}

func (h *Hub) register(link string, sub *subscriber) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return false
	}
	room, ok := h.rooms[link]
	if !ok {
		room = make(map[*subscriber]struct{})
		h.rooms[link] = room
	}
	room[sub] = struct{}{}
	h.subscribers.Add(context.Background(), 1)
	return true
}

func (h *Hub) unregister(link string, sub *subscriber) {
	h.mu.Lock()
	room, ok := h.rooms[link]
	if ok {
		if _, present := room[sub]; present {
			delete(room, sub)
			close(sub.send)
			h.subscribers.Add(context.Background(), -1)
		}
		if len(room) == 0 {
			delete(h.rooms, link)
		}
	}
	h.mu.Unlock()
}

// readPump discards inbound frames; the channel is push-only. It exists to
// process control frames and to notice when the peer goes away.
func (s *subscriber) readPump() {
	s.conn.SetReadLimit(1024)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// writePump serializes all writes to the connection: broadcast payloads and
// keepalive pings come from exactly one goroutine.
func (s *subscriber) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		_ = s.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = s.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
