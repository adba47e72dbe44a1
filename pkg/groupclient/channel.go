package groupclient

import (
	"context"
	"encoding/json"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-faster/errors"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// reconnectDelay is the constant retry interval after a channel failure. The
// channel never gives up on its own: local edits keep working while it is
// down and the post-persist re-fetch bounds the staleness window.
const reconnectDelay = 5 * time.Second

// ChannelState is surfaced to the UI so a lost connection shows as
// "retrying" instead of silently going stale.
type ChannelState string

const (
	StateConnecting ChannelState = "connecting"
	StateConnected  ChannelState = "connected"
	StateRetrying   ChannelState = "retrying"
	StateClosed     ChannelState = "closed"
)

// Channel maintains a live push subscription for one group order and feeds
// ORDER_UPDATED snapshots into the store in arrival order.
type Channel struct {
	wsURL   string
	token   string
	link    string
	store   *Store
	lg      *zap.Logger
	onState func(ChannelState)
	dialer  *websocket.Dialer
}

// ChannelOption configures a Channel.
type ChannelOption func(*Channel)

// WithChannelLogger sets the channel's logger.
func WithChannelLogger(lg *zap.Logger) ChannelOption {
	return func(c *Channel) { c.lg = lg }
}

// WithOnState registers a callback for connection state changes.
func WithOnState(fn func(ChannelState)) ChannelOption {
	return func(c *Channel) { c.onState = fn }
}

// WithDialer replaces the websocket dialer.
func WithDialer(d *websocket.Dialer) ChannelOption {
	return func(c *Channel) { c.dialer = d }
}

// NewChannel creates a Channel for the order behind link. wsURL is the
// websocket endpoint base, e.g. "wss://food.example.edu/ws/groupOrder".
func NewChannel(wsURL, token, link string, store *Store, opts ...ChannelOption) *Channel {
	c := &Channel{
		wsURL:  wsURL,
		token:  token,
		link:   link,
		store:  store,
		lg:     zap.NewNop(),
		dialer: websocket.DefaultDialer,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// wireEvent matches the server's room push format.
type wireEvent struct {
	Type  string `json:"type"`
	Order *Order `json:"order"`
}

// Run connects and keeps the subscription alive until ctx is cancelled,
// reconnecting with a constant delay after every failure. It blocks; run it
// in its own goroutine and cancel ctx on teardown.
func (c *Channel) Run(ctx context.Context) error {
	defer c.setState(StateClosed)

	policy := backoff.WithContext(backoff.NewConstantBackOff(reconnectDelay), ctx)
	return backoff.Retry(func() error {
		c.setState(StateConnecting)

		conn, _, err := c.dialer.DialContext(ctx, c.endpoint(), nil)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.lg.Debug("channel dial failed", zap.Error(err))
			c.setState(StateRetrying)
			return errors.Wrap(err, "dial")
		}

		c.setState(StateConnected)
		err = c.pump(ctx, conn)
		_ = conn.Close()

		if ctx.Err() != nil {
			return nil
		}
		c.lg.Debug("channel dropped", zap.Error(err))
		c.setState(StateRetrying)
		return err
	}, policy)
}

// pump reads pushes until the connection breaks. Events are applied in
// arrival order; the last received snapshot wins.
func (c *Channel) pump(ctx context.Context, conn *websocket.Conn) error {
	go func() {
		// Unblock ReadMessage when the caller tears the channel down.
		<-ctx.Done()
		_ = conn.Close()
	}()

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			return errors.Wrap(err, "read")
		}

		var ev wireEvent
		if err := json.Unmarshal(payload, &ev); err != nil {
			c.lg.Warn("discarding malformed push", zap.Error(err))
			continue
		}
		if ev.Type != "ORDER_UPDATED" || ev.Order == nil {
			continue
		}
		c.store.ApplyServerUpdate(ev.Order)
	}
}

func (c *Channel) endpoint() string {
	u := c.wsURL + "/" + c.link
	if c.token != "" {
		u += "?token=" + url.QueryEscape(c.token)
	}
	return u
}

func (c *Channel) setState(st ChannelState) {
	if c.onState != nil {
		c.onState(st)
	}
}
