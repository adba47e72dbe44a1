package groupclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Sentinel errors for the API error taxonomy. Unauthorized forces
// re-authentication rather than a silent retry; NotFound is terminal for the
// given link and never retried automatically.
var (
	ErrUnauthorized    = errors.New("session missing or expired")
	ErrNotFound        = errors.New("group order not found")
	ErrPaymentRejected = errors.New("payment verification rejected")
)

// ValidationError is a request the server (or the local gate) refused on its
// content: zero items, split mismatch, foreign line edit. Not retryable.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// RequestError is a transient transport or server failure. Reads may be
// retried; mutations are surfaced to the user instead, to avoid duplicating
// persisted side effects.
type RequestError struct {
	Status int
	Err    error
}

func (e *RequestError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("request failed with status %d: %v", e.Status, e.Err)
	}
	return fmt.Sprintf("request failed: %v", e.Err)
}

func (e *RequestError) Unwrap() error { return e.Err }

// Client talks to the group order API.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// NewClient creates a Client for the API at baseURL (e.g.
// "https://food.example.edu/api") authenticating with the given session token.
func NewClient(baseURL, token string, opts ...Option) *Client {
	c := &Client{
		baseURL: baseURL,
		token:   token,
		http: &http.Client{
			Timeout:   15 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ItemPayload is one line in the items persistence payload.
type ItemPayload struct {
	Item     string `json:"item"`
	Quantity int    `json:"quantity"`
	User     string `json:"user"`
}

// UpdateOrderPayload is the "persist changes and collect payment" request.
type UpdateOrderPayload struct {
	GroupOrderID string                     `json:"groupOrderId"`
	Items        []ItemPayload              `json:"items"`
	SplitType    SplitType                  `json:"splitType"`
	Amounts      map[string]decimal.Decimal `json:"amounts,omitempty"`
	PickupTime   *time.Time                 `json:"pickupTime,omitempty"`
	Canteen      string                     `json:"canteen"`
}

// VerifyPayload carries the gateway receipt fields for verification.
type VerifyPayload struct {
	TransactionID    string `json:"transactionId"`
	GatewayPaymentID string `json:"gatewayPaymentId"`
	GatewayOrderID   string `json:"gatewayOrderId"`
	GatewaySignature string `json:"gatewaySignature"`
}

// GetOrder fetches the full current snapshot for a share link.
func (c *Client) GetOrder(ctx context.Context, link string) (*Order, error) {
	var o Order
	if err := c.do(ctx, http.MethodGet, "/groupOrder/"+link, nil, &o); err != nil {
		return nil, err
	}
	return &o, nil
}

// Join adds the session's member to the order behind the link. Joining twice
// is a no-op server-side.
func (c *Client) Join(ctx context.Context, link string) (*Order, error) {
	var o Order
	if err := c.do(ctx, http.MethodPost, "/groupOrder/join", map[string]string{"link": link}, &o); err != nil {
		return nil, err
	}
	return &o, nil
}

// SaveItems persists the caller's line items and returns the updated order.
func (c *Client) SaveItems(ctx context.Context, orderID string, items []ItemPayload) (*Order, error) {
	req := struct {
		GroupOrderID string        `json:"groupOrderId"`
		Items        []ItemPayload `json:"items"`
	}{GroupOrderID: orderID, Items: items}

	var o Order
	if err := c.do(ctx, http.MethodPost, "/groupOrder/items", req, &o); err != nil {
		return nil, err
	}
	return &o, nil
}

// PaySelfResult is the pay-self response.
type PaySelfResult struct {
	Transaction *Transaction `json:"transaction"`
	Order       *Order       `json:"order"`
}

// PaySelf initiates a payment for the caller's owed share.
func (c *Client) PaySelf(ctx context.Context, orderID string) (*PaySelfResult, error) {
	req := struct {
		GroupOrderID string `json:"groupOrderId"`
	}{GroupOrderID: orderID}

	var res PaySelfResult
	if err := c.do(ctx, http.MethodPost, "/groupOrder/pay-self", req, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// UpdateOrderResult is the add-items-payment response.
type UpdateOrderResult struct {
	Order        *Order        `json:"order"`
	Transactions []Transaction `json:"transactions"`
}

// UpdateOrder persists pending item and split changes and collects pending
// transactions for every member who owes.
func (c *Client) UpdateOrder(ctx context.Context, req UpdateOrderPayload) (*UpdateOrderResult, error) {
	var res UpdateOrderResult
	if err := c.do(ctx, http.MethodPost, "/groupOrder/add-items-payment", req, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// VerifyResult is the payment verification response.
type VerifyResult struct {
	Transaction *Transaction `json:"transaction"`
	Order       *Order       `json:"order,omitempty"`
}

// Verify submits a gateway receipt for server-side verification.
func (c *Client) Verify(ctx context.Context, req VerifyPayload) (*VerifyResult, error) {
	var res VerifyResult
	if err := c.do(ctx, http.MethodPost, "/payments/verify", req, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

type errorBody struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (c *Client) do(ctx context.Context, method, path string, body, dst any) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return errors.Wrap(err, "encode request")
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, &buf)
	if err != nil {
		return errors.Wrap(err, "create request")
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return &RequestError{Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		return c.apiError(resp)
	}
	if dst != nil {
		if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
			return &RequestError{Status: resp.StatusCode, Err: errors.Wrap(err, "decode response")}
		}
	}
	return nil
}

// apiError maps a non-2xx response to the error taxonomy.
func (c *Client) apiError(resp *http.Response) error {
	var body errorBody
	_ = json.NewDecoder(resp.Body).Decode(&body)
	if body.Message == "" {
		body.Message = http.StatusText(resp.StatusCode)
	}

	switch resp.StatusCode {
	case http.StatusUnauthorized:
		return ErrUnauthorized
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusPaymentRequired:
		return errors.Wrap(ErrPaymentRejected, body.Message)
	case http.StatusBadRequest, http.StatusForbidden,
		http.StatusConflict, http.StatusUnprocessableEntity:
		return &ValidationError{Message: body.Message}
	default:
		return &RequestError{Status: resp.StatusCode, Err: errors.New(body.Message)}
	}
}
