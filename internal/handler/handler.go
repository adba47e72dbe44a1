// Package handler exposes the group order service over HTTP/JSON.
package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/canteenhq/grouporder/internal/domain/grouporder"
	"github.com/canteenhq/grouporder/internal/domain/menu"
	"github.com/canteenhq/grouporder/internal/domain/payment"
)

// Publisher pushes a persisted order snapshot to the order's realtime room.
type Publisher interface {
	Publish(link string, o *grouporder.GroupOrder)
}

// Handler wires the HTTP routes to the domain services.
type Handler struct {
	orders   *grouporder.Service
	payments *payment.Service
	menu     menu.Repository
	hub      Publisher
	sessions *SessionManager
}

// NewHandler constructs a Handler with the required dependencies.
func NewHandler(
	orders *grouporder.Service,
	payments *payment.Service,
	menuRepo menu.Repository,
	hub Publisher,
	sessions *SessionManager,
) *Handler {
	return &Handler{
		orders:   orders,
		payments: payments,
		menu:     menuRepo,
		hub:      hub,
		sessions: sessions,
	}
}

// Routes returns the API router. Everything except session creation and menu
// browsing requires a valid session.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/session", h.CreateSession)
	r.Get("/menu", h.ListMenu)

	r.Group(func(r chi.Router) {
		r.Use(h.sessions.Require)

		r.Post("/groupOrder", h.CreateOrder)
		r.Get("/groupOrder/{link}", h.GetOrder)
		r.Post("/groupOrder/join", h.Join)
		r.Post("/groupOrder/items", h.SaveItems)
		r.Post("/groupOrder/pay-self", h.PaySelf)
		r.Post("/groupOrder/add-items-payment", h.AddItemsPayment)
		r.Post("/payments/verify", h.VerifyPayment)
	})

	return r
}

// errorResponse is the JSON body for all error replies.
type errorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Code: status, Message: message})
}

// writeDomainError maps domain errors onto the API's error taxonomy.
// Validation problems carry their exact message (including the split mismatch
// delta) so the client can show the user what is off.
func writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, grouporder.ErrNotFound):
		writeError(w, http.StatusNotFound, "group order not found")
	case errors.Is(err, payment.ErrTransactionNotFound):
		writeError(w, http.StatusNotFound, "transaction not found")
	case errors.Is(err, grouporder.ErrNotMember):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, grouporder.ErrOrderClosed),
		errors.Is(err, payment.ErrAlreadyPaid):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, grouporder.ErrEmptyItems),
		errors.Is(err, grouporder.ErrNoMembers),
		errors.Is(err, payment.ErrNothingToPay),
		isValidationError(err):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, payment.ErrVerificationFailed):
		writeError(w, http.StatusPaymentRequired, err.Error())
	default:
		zctx.From(r.Context()).Error("request failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func isValidationError(err error) bool {
	var (
		iqErr       *grouporder.InvalidQuantityError
		ownerErr    *grouporder.NotOwnerError
		menuErr     *grouporder.MenuItemNotFoundError
		mismatchErr *grouporder.SplitMismatchError
	)
	return errors.As(err, &iqErr) ||
		errors.As(err, &ownerErr) ||
		errors.As(err, &menuErr) ||
		errors.As(err, &mismatchErr)
}

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}
