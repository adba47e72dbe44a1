package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/canteenhq/grouporder/internal/domain/grouporder"
	"github.com/canteenhq/grouporder/internal/domain/menu"
	"github.com/canteenhq/grouporder/internal/domain/payment"
)

// --- Mock implementations ---

type mockOrderRepo struct {
	byID   map[string]*grouporder.GroupOrder
	byLink map[string]*grouporder.GroupOrder
}

func newMockOrderRepo(orders ...*grouporder.GroupOrder) *mockOrderRepo {
	r := &mockOrderRepo{
		byID:   make(map[string]*grouporder.GroupOrder),
		byLink: make(map[string]*grouporder.GroupOrder),
	}
	for _, o := range orders {
		r.byID[o.ID] = o
		r.byLink[o.Link] = o
	}
	return r
}

func (r *mockOrderRepo) Create(_ context.Context, o *grouporder.GroupOrder) error {
	r.byID[o.ID] = o
	r.byLink[o.Link] = o
	return nil
}

func (r *mockOrderRepo) GetByID(_ context.Context, id string) (*grouporder.GroupOrder, error) {
	o, ok := r.byID[id]
	if !ok {
		return nil, grouporder.ErrNotFound
	}
	return o, nil
}

func (r *mockOrderRepo) GetByLink(_ context.Context, link string) (*grouporder.GroupOrder, error) {
	o, ok := r.byLink[link]
	if !ok {
		return nil, grouporder.ErrNotFound
	}
	return o, nil
}

func (r *mockOrderRepo) Save(_ context.Context, o *grouporder.GroupOrder) error {
	r.byID[o.ID] = o
	r.byLink[o.Link] = o
	return nil
}

func (r *mockOrderRepo) AddMember(_ context.Context, _ string, _ grouporder.Member) error {
	return nil
}

type mockMenuRepo struct {
	items map[string]menu.Item
}

func (r *mockMenuRepo) ListByCanteen(_ context.Context, canteenID string) ([]menu.Item, error) {
	var out []menu.Item
	for _, it := range r.items {
		if it.CanteenID == canteenID {
			out = append(out, it)
		}
	}
	return out, nil
}

func (r *mockMenuRepo) GetByIDs(_ context.Context, ids []string) ([]menu.Item, error) {
	var out []menu.Item
	for _, id := range ids {
		if it, ok := r.items[id]; ok {
			out = append(out, it)
		}
	}
	return out, nil
}

type mockTxRepo struct {
	byID map[string]*grouporder.Transaction
}

func (r *mockTxRepo) CreateTransaction(_ context.Context, tx *grouporder.Transaction) error {
	cp := *tx
	r.byID[tx.ID] = &cp
	return nil
}

func (r *mockTxRepo) GetTransaction(_ context.Context, id string) (*grouporder.Transaction, error) {
	tx, ok := r.byID[id]
	if !ok {
		return nil, payment.ErrTransactionNotFound
	}
	cp := *tx
	return &cp, nil
}

func (r *mockTxRepo) SetTransactionStatus(_ context.Context, id string, status grouporder.TransactionStatus) error {
	tx, ok := r.byID[id]
	if !ok {
		return payment.ErrTransactionNotFound
	}
	tx.Status = status
	return nil
}

type mockPublisher struct {
	published []string
}

func (p *mockPublisher) Publish(link string, _ *grouporder.GroupOrder) {
	p.published = append(p.published, link)
}

// --- Fixture ---

type fixture struct {
	handler  http.Handler
	sessions *SessionManager
	orders   *mockOrderRepo
	txs      *mockTxRepo
	hub      *mockPublisher
	gateway  *payment.HMACGateway
}

func newFixture(t *testing.T, orders ...*grouporder.GroupOrder) *fixture {
	t.Helper()

	orderRepo := newMockOrderRepo(orders...)
	menuRepo := &mockMenuRepo{items: map[string]menu.Item{
		"dosa": {ID: "dosa", CanteenID: "north-canteen", Name: "Masala Dosa", Price: decimal.RequireFromString("50"), Available: true},
	}}
	txRepo := &mockTxRepo{byID: make(map[string]*grouporder.Transaction)}
	hub := &mockPublisher{}
	gateway := payment.NewHMACGateway([]byte("test-secret"))
	sessions := NewSessionManager([]byte("session-secret"), time.Hour)

	orderService := grouporder.NewService(orderRepo, menuRepo)
	paymentService := payment.NewService(orderService, orderRepo, txRepo, gateway)

	h := NewHandler(orderService, paymentService, menuRepo, hub, sessions)
	return &fixture{
		handler:  h.Routes(),
		sessions: sessions,
		orders:   orderRepo,
		txs:      txRepo,
		hub:      hub,
		gateway:  gateway,
	}
}

func (f *fixture) token(t *testing.T, m grouporder.Member) string {
	t.Helper()
	_, token, err := f.sessions.Issue(m)
	require.NoError(t, err)
	return token
}

func (f *fixture) request(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	f.handler.ServeHTTP(w, req)
	return w
}

func openOrder() *grouporder.GroupOrder {
	return &grouporder.GroupOrder{
		ID:        "ord-1",
		Link:      "lnk-1",
		Creator:   "alice",
		CanteenID: "north-canteen",
		Members: []grouporder.Member{
			{ID: "alice", Name: "Alice"},
			{ID: "bob", Name: "Bob"},
		},
		Items: []grouporder.LineItem{
			{ItemRef: "dosa", PriceAtPurchase: decimal.RequireFromString("50"), Quantity: 2, Owner: "alice"},
		},
		Status: grouporder.StatusOpen,
		Split:  grouporder.Split{Type: grouporder.SplitSelf},
	}
}

// --- Session ---

func TestCreateSession(t *testing.T) {
	f := newFixture(t)

	w := f.request(t, http.MethodPost, "/session", "", CreateSessionRequest{Name: "Alice"})
	require.Equal(t, http.StatusCreated, w.Code)

	var resp CreateSessionResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.NotEmpty(t, resp.Member.ID)
	assert.Equal(t, "Alice", resp.Member.Name)
	assert.NotEmpty(t, resp.Token)

	m, err := f.sessions.Validate(resp.Token)
	require.NoError(t, err)
	assert.Equal(t, resp.Member.ID, m.ID)
}

func TestCreateSession_NameRequired(t *testing.T) {
	f := newFixture(t)

	w := f.request(t, http.MethodPost, "/session", "", CreateSessionRequest{Name: "  "})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestRequireSession(t *testing.T) {
	f := newFixture(t, openOrder())

	w := f.request(t, http.MethodGet, "/groupOrder/lnk-1", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = f.request(t, http.MethodGet, "/groupOrder/lnk-1", "not-a-token", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	token := f.token(t, grouporder.Member{ID: "alice", Name: "Alice"})
	w = f.request(t, http.MethodGet, "/groupOrder/lnk-1", token, nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRequireSession_Expired(t *testing.T) {
	f := newFixture(t, openOrder())
	f.sessions.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	token := f.token(t, grouporder.Member{ID: "alice"})
	f.sessions.now = time.Now

	w := f.request(t, http.MethodGet, "/groupOrder/lnk-1", token, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

// --- Orders ---

func TestCreateOrder(t *testing.T) {
	f := newFixture(t)
	token := f.token(t, grouporder.Member{ID: "alice", Name: "Alice"})

	w := f.request(t, http.MethodPost, "/groupOrder", token, CreateOrderRequest{Canteen: "north-canteen"})
	require.Equal(t, http.StatusCreated, w.Code)

	var o grouporder.GroupOrder
	require.NoError(t, json.NewDecoder(w.Body).Decode(&o))
	assert.NotEmpty(t, o.ID)
	assert.NotEmpty(t, o.Link)
	assert.Equal(t, "alice", o.Creator)
	assert.Equal(t, grouporder.StatusOpen, o.Status)
}

func TestCreateOrder_CanteenRequired(t *testing.T) {
	f := newFixture(t)
	token := f.token(t, grouporder.Member{ID: "alice"})

	w := f.request(t, http.MethodPost, "/groupOrder", token, CreateOrderRequest{})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestGetOrder_NotFound(t *testing.T) {
	f := newFixture(t)
	token := f.token(t, grouporder.Member{ID: "alice"})

	w := f.request(t, http.MethodGet, "/groupOrder/nope", token, nil)
	require.Equal(t, http.StatusNotFound, w.Code)

	var resp errorResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, http.StatusNotFound, resp.Code)
}

func TestJoin_PublishesUpdate(t *testing.T) {
	f := newFixture(t, openOrder())
	token := f.token(t, grouporder.Member{ID: "carol", Name: "Carol"})

	w := f.request(t, http.MethodPost, "/groupOrder/join", token, JoinRequest{Link: "lnk-1"})
	require.Equal(t, http.StatusOK, w.Code)

	var o grouporder.GroupOrder
	require.NoError(t, json.NewDecoder(w.Body).Decode(&o))
	assert.True(t, o.HasMember("carol"))
	assert.Equal(t, []string{"lnk-1"}, f.hub.published)
}

func TestSaveItems_ForeignOwnerRejected(t *testing.T) {
	f := newFixture(t, openOrder())
	token := f.token(t, grouporder.Member{ID: "bob", Name: "Bob"})

	w := f.request(t, http.MethodPost, "/groupOrder/items", token, SaveItemsRequest{
		GroupOrderID: "ord-1",
		Items:        []ItemDTO{{Item: "dosa", Quantity: 1, User: "alice"}},
	})
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Empty(t, f.hub.published)
}

func TestSaveItems_NonMemberForbidden(t *testing.T) {
	f := newFixture(t, openOrder())
	token := f.token(t, grouporder.Member{ID: "mallory", Name: "Mallory"})

	w := f.request(t, http.MethodPost, "/groupOrder/items", token, SaveItemsRequest{
		GroupOrderID: "ord-1",
		Items:        []ItemDTO{{Item: "dosa", Quantity: 1, User: "mallory"}},
	})
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestSaveItems_PublishesUpdate(t *testing.T) {
	f := newFixture(t, openOrder())
	token := f.token(t, grouporder.Member{ID: "bob", Name: "Bob"})

	w := f.request(t, http.MethodPost, "/groupOrder/items", token, SaveItemsRequest{
		GroupOrderID: "ord-1",
		Items:        []ItemDTO{{Item: "dosa", Quantity: 3, User: "bob"}},
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"lnk-1"}, f.hub.published)
}

// --- Payments ---

func TestPaySelf_ReturnsPendingTransaction(t *testing.T) {
	f := newFixture(t, openOrder())
	token := f.token(t, grouporder.Member{ID: "alice", Name: "Alice"})

	w := f.request(t, http.MethodPost, "/groupOrder/pay-self", token, PaySelfRequest{GroupOrderID: "ord-1"})
	require.Equal(t, http.StatusCreated, w.Code)

	var resp PaySelfResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	require.NotNil(t, resp.Transaction)
	assert.Equal(t, grouporder.TxPending, resp.Transaction.Status)
	assert.Equal(t, "100", resp.Transaction.Amount.String())
	assert.Equal(t, []string{"lnk-1"}, f.hub.published)
}

func TestPaySelf_NothingOwed(t *testing.T) {
	f := newFixture(t, openOrder())
	token := f.token(t, grouporder.Member{ID: "bob", Name: "Bob"})

	w := f.request(t, http.MethodPost, "/groupOrder/pay-self", token, PaySelfRequest{GroupOrderID: "ord-1"})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestVerifyPayment_ValidReceipt(t *testing.T) {
	f := newFixture(t, openOrder())
	aliceToken := f.token(t, grouporder.Member{ID: "alice", Name: "Alice"})

	w := f.request(t, http.MethodPost, "/groupOrder/pay-self", aliceToken, PaySelfRequest{GroupOrderID: "ord-1"})
	require.Equal(t, http.StatusCreated, w.Code)
	var pending PaySelfResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&pending))

	w = f.request(t, http.MethodPost, "/payments/verify", aliceToken, VerifyPaymentRequest{
		TransactionID:    pending.Transaction.ID,
		GatewayPaymentID: "pay-1",
		GatewayOrderID:   pending.Transaction.GatewayOrderID,
		GatewaySignature: f.gateway.Sign(pending.Transaction.GatewayOrderID, "pay-1"),
	})
	require.Equal(t, http.StatusOK, w.Code)

	var resp VerifyPaymentResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, grouporder.TxSuccess, resp.Transaction.Status)
}

func TestVerifyPayment_BadSignature(t *testing.T) {
	f := newFixture(t, openOrder())
	token := f.token(t, grouporder.Member{ID: "alice", Name: "Alice"})

	w := f.request(t, http.MethodPost, "/groupOrder/pay-self", token, PaySelfRequest{GroupOrderID: "ord-1"})
	require.Equal(t, http.StatusCreated, w.Code)
	var pending PaySelfResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&pending))

	w = f.request(t, http.MethodPost, "/payments/verify", token, VerifyPaymentRequest{
		TransactionID:    pending.Transaction.ID,
		GatewayPaymentID: "pay-1",
		GatewayOrderID:   pending.Transaction.GatewayOrderID,
		GatewaySignature: "forged",
	})
	assert.Equal(t, http.StatusPaymentRequired, w.Code)
}

func TestVerifyPayment_UnknownTransaction(t *testing.T) {
	f := newFixture(t, openOrder())
	token := f.token(t, grouporder.Member{ID: "alice", Name: "Alice"})

	w := f.request(t, http.MethodPost, "/payments/verify", token, VerifyPaymentRequest{
		TransactionID: "nope",
	})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAddItemsPayment_LocksOrderAndMintsTransactions(t *testing.T) {
	f := newFixture(t, openOrder())
	token := f.token(t, grouporder.Member{ID: "alice", Name: "Alice"})
	pickup := time.Now().Add(time.Hour).UTC().Truncate(time.Second)

	w := f.request(t, http.MethodPost, "/groupOrder/add-items-payment", token, AddItemsPaymentRequest{
		GroupOrderID: "ord-1",
		Items:        []ItemDTO{{Item: "dosa", Quantity: 2, User: "alice"}},
		SplitType:    grouporder.SplitEqual,
		PickupTime:   &pickup,
	})
	require.Equal(t, http.StatusCreated, w.Code)

	var resp AddItemsPaymentResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, grouporder.StatusLocked, resp.Order.Status)
	require.Len(t, resp.Transactions, 2)
	for _, tx := range resp.Transactions {
		assert.Equal(t, grouporder.TxPending, tx.Status)
		assert.Equal(t, "50", tx.Amount.String())
	}
	assert.Equal(t, []string{"lnk-1"}, f.hub.published)
}

func TestAddItemsPayment_CustomMismatch(t *testing.T) {
	f := newFixture(t, openOrder())
	token := f.token(t, grouporder.Member{ID: "alice", Name: "Alice"})

	w := f.request(t, http.MethodPost, "/groupOrder/add-items-payment", token, AddItemsPaymentRequest{
		GroupOrderID: "ord-1",
		Items:        []ItemDTO{{Item: "dosa", Quantity: 2, User: "alice"}},
		SplitType:    grouporder.SplitCustom,
		Amounts: map[string]decimal.Decimal{
			"alice": decimal.RequireFromString("40"),
			"bob":   decimal.RequireFromString("40"),
		},
	})
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)

	var resp errorResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Contains(t, resp.Message, "-20.00")
}

// --- Menu ---

func TestListMenu(t *testing.T) {
	f := newFixture(t)

	w := f.request(t, http.MethodGet, "/menu?canteen=north-canteen", "", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var items []menu.Item
	require.NoError(t, json.NewDecoder(w.Body).Decode(&items))
	require.Len(t, items, 1)
	assert.Equal(t, "Masala Dosa", items[0].Name)
}

func TestListMenu_CanteenRequired(t *testing.T) {
	f := newFixture(t)

	w := f.request(t, http.MethodGet, "/menu", "", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}
