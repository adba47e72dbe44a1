package handler

import (
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/canteenhq/grouporder/internal/domain/grouporder"
	"github.com/canteenhq/grouporder/internal/domain/payment"
)

// PaySelfRequest initiates a payment for the caller's own owed share. The
// amount is advisory: the server recomputes the owed share and that value is
// what the transaction carries.
type PaySelfRequest struct {
	GroupOrderID string          `json:"groupOrderId"`
	Amount       decimal.Decimal `json:"amount"`
}

// PaySelfResponse returns the pending transaction and the updated order.
type PaySelfResponse struct {
	Transaction *grouporder.Transaction `json:"transaction"`
	Order       *grouporder.GroupOrder  `json:"order"`
}

// PaySelf handles POST /groupOrder/pay-self.
func (h *Handler) PaySelf(w http.ResponseWriter, r *http.Request) {
	m, _ := MemberFromContext(r.Context())

	var req PaySelfRequest
	if !decode(w, r, &req) {
		return
	}

	tx, o, err := h.payments.PaySelf(r.Context(), req.GroupOrderID, m.ID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	h.hub.Publish(o.Link, o)
	writeJSON(w, http.StatusCreated, PaySelfResponse{Transaction: tx, Order: o})
}

// AddItemsPaymentRequest persists the caller's pending item and split changes
// and initiates payment collection for every member who owes.
type AddItemsPaymentRequest struct {
	GroupOrderID string                     `json:"groupOrderId"`
	Items        []ItemDTO                  `json:"items"`
	SplitType    grouporder.SplitType       `json:"splitType"`
	Amounts      map[string]decimal.Decimal `json:"amounts,omitempty"`
	PickupTime   *time.Time                 `json:"pickupTime,omitempty"`
	Canteen      string                     `json:"canteen"`
}

// AddItemsPaymentResponse returns the updated order plus the pending
// transactions this call created.
type AddItemsPaymentResponse struct {
	Order        *grouporder.GroupOrder   `json:"order"`
	Transactions []grouporder.Transaction `json:"transactions"`
}

// AddItemsPayment handles POST /groupOrder/add-items-payment.
func (h *Handler) AddItemsPayment(w http.ResponseWriter, r *http.Request) {
	m, _ := MemberFromContext(r.Context())

	var req AddItemsPaymentRequest
	if !decode(w, r, &req) {
		return
	}

	o, pending, err := h.payments.UpdateOrder(r.Context(), payment.UpdateOrderRequest{
		OrderID:    req.GroupOrderID,
		MemberID:   m.ID,
		Items:      toItemInputs(req.Items),
		SplitType:  req.SplitType,
		Amounts:    req.Amounts,
		PickupTime: req.PickupTime,
	})
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	h.hub.Publish(o.Link, o)
	writeJSON(w, http.StatusCreated, AddItemsPaymentResponse{Order: o, Transactions: pending})
}

// VerifyPaymentRequest carries the gateway receipt fields from the checkout
// success handler.
type VerifyPaymentRequest struct {
	TransactionID    string `json:"transactionId"`
	GatewayPaymentID string `json:"gatewayPaymentId"`
	GatewayOrderID   string `json:"gatewayOrderId"`
	GatewaySignature string `json:"gatewaySignature"`
}

// VerifyPaymentResponse reports the verified transaction and updated order.
type VerifyPaymentResponse struct {
	Transaction *grouporder.Transaction `json:"transaction"`
	Order       *grouporder.GroupOrder  `json:"order,omitempty"`
}

// VerifyPayment handles POST /payments/verify.
func (h *Handler) VerifyPayment(w http.ResponseWriter, r *http.Request) {
	var req VerifyPaymentRequest
	if !decode(w, r, &req) {
		return
	}

	tx, o, err := h.payments.Verify(r.Context(), payment.VerifyRequest{
		TransactionID:    req.TransactionID,
		GatewayPaymentID: req.GatewayPaymentID,
		GatewayOrderID:   req.GatewayOrderID,
		GatewaySignature: req.GatewaySignature,
	})
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	h.hub.Publish(o.Link, o)
	writeJSON(w, http.StatusOK, VerifyPaymentResponse{Transaction: tx, Order: o})
}
