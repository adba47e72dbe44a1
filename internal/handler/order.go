package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/canteenhq/grouporder/internal/domain/grouporder"
)

// CreateOrderRequest starts a group order at one canteen.
type CreateOrderRequest struct {
	Canteen string `json:"canteen"`
}

// CreateOrder handles POST /groupOrder.
func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	m, _ := MemberFromContext(r.Context())

	var req CreateOrderRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Canteen == "" {
		writeError(w, http.StatusUnprocessableEntity, "canteen required")
		return
	}

	o, err := h.orders.Create(r.Context(), m, req.Canteen)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, o)
}

// GetOrder handles GET /groupOrder/{link}: the full current snapshot.
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	link := chi.URLParam(r, "link")

	o, err := h.orders.GetByLink(r.Context(), link)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

// JoinRequest adds the session's member to a shared order.
type JoinRequest struct {
	Link string `json:"link"`
}

// Join handles POST /groupOrder/join. Joining twice is a no-op.
func (h *Handler) Join(w http.ResponseWriter, r *http.Request) {
	m, _ := MemberFromContext(r.Context())

	var req JoinRequest
	if !decode(w, r, &req) {
		return
	}

	o, err := h.orders.Join(r.Context(), req.Link, m)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	h.hub.Publish(o.Link, o)
	writeJSON(w, http.StatusOK, o)
}

// ItemDTO is one requested line in the items payload.
type ItemDTO struct {
	Item     string `json:"item"`
	Quantity int    `json:"quantity"`
	User     string `json:"user"`
}

// SaveItemsRequest replaces the caller's line items on an order.
type SaveItemsRequest struct {
	GroupOrderID string    `json:"groupOrderId"`
	Items        []ItemDTO `json:"items"`
}

// SaveItems handles POST /groupOrder/items. The caller may only submit lines
// it owns; lines owned by other members stay untouched.
func (h *Handler) SaveItems(w http.ResponseWriter, r *http.Request) {
	m, _ := MemberFromContext(r.Context())

	var req SaveItemsRequest
	if !decode(w, r, &req) {
		return
	}

	o, err := h.orders.ReplaceItems(r.Context(), req.GroupOrderID, m.ID, toItemInputs(req.Items))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	h.hub.Publish(o.Link, o)
	writeJSON(w, http.StatusOK, o)
}

// ListMenu handles GET /menu?canteen={id}.
func (h *Handler) ListMenu(w http.ResponseWriter, r *http.Request) {
	canteen := r.URL.Query().Get("canteen")
	if canteen == "" {
		writeError(w, http.StatusUnprocessableEntity, "canteen query parameter required")
		return
	}

	items, err := h.menu.ListByCanteen(r.Context(), canteen)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

func toItemInputs(items []ItemDTO) []grouporder.ItemInput {
	inputs := make([]grouporder.ItemInput, len(items))
	for i, it := range items {
		inputs[i] = grouporder.ItemInput{
			ItemRef:  it.Item,
			Quantity: it.Quantity,
			Owner:    it.User,
		}
	}
	return inputs
}
