package httpx

import (
	"context"
	"crypto/subtle"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ariefcatur/marketplace-fulfillment/internal/delivery"
	"github.com/ariefcatur/marketplace-fulfillment/internal/domain"
)

const (
	HeaderWebhookSecret = "X-Webhook-Secret"
	HeaderEventID       = "X-Event-ID"
)

// WebhookApplier applies one carrier report at most once per key.
type WebhookApplier interface {
	Apply(ctx context.Context, key string, p delivery.Webhook) error
}

type DeliveryHandler struct {
	Bridge   *delivery.Bridge
	Webhooks WebhookApplier
	// WebhookSecret, when set, must match the X-Webhook-Secret header.
	WebhookSecret string
}

type BookingResp struct {
	ID            string               `json:"id"`
	OrderID       string               `json:"order_id"`
	ConsignmentID string               `json:"consignment_id,omitempty"`
	Status        domain.BookingStatus `json:"status"`
	RetryCount    int                  `json:"retry_count"`
	LastError     string               `json:"last_error,omitempty"`
	CreatedAt     time.Time            `json:"created_at"`
	UpdatedAt     time.Time            `json:"updated_at"`
}

func toBookingResp(b domain.DeliveryBooking) BookingResp {
	return BookingResp{
		ID:            b.ID,
		OrderID:       b.OrderID,
		ConsignmentID: b.ConsignmentID,
		Status:        b.Status,
		RetryCount:    b.RetryCount,
		LastError:     b.LastError,
		CreatedAt:     b.CreatedAt,
		UpdatedAt:     b.UpdatedAt,
	}
}

func (h *DeliveryHandler) Register(r chi.Router) {
	r.Post("/orders/{id}/delivery", h.book)
	r.Post("/orders/{id}/delivery/sync", h.sync)
	r.Delete("/orders/{id}/delivery", h.deleteBooking)
	r.Post("/webhooks/carrier", h.webhook)
}

func (h *DeliveryHandler) book(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	b, err := h.Bridge.BookDelivery(r.Context(), chi.URLParam(r, "id"), actor)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toBookingResp(b))
}

func (h *DeliveryHandler) sync(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	b, err := h.Bridge.SyncDeliveryStatus(r.Context(), chi.URLParam(r, "id"), actor)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toBookingResp(b))
}

func (h *DeliveryHandler) deleteBooking(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	if err := h.Bridge.DeleteBooking(r.Context(), chi.URLParam(r, "id"), actor); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// webhook answers 2xx for everything it will never be able to apply and 5xx
// only when a retry by the carrier can succeed.
func (h *DeliveryHandler) webhook(w http.ResponseWriter, r *http.Request) {
	if h.WebhookSecret != "" {
		got := r.Header.Get(HeaderWebhookSecret)
		if subtle.ConstantTimeCompare([]byte(got), []byte(h.WebhookSecret)) != 1 {
			writeJSON(w, http.StatusUnauthorized, errorBody{Error: "unauthorized", Message: "invalid webhook secret"})
			return
		}
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		badRequest(w, r, "unreadable body")
		return
	}
	p, err := delivery.DecodeWebhook(body)
	if err != nil {
		badRequest(w, r, err.Error())
		return
	}
	key := delivery.DedupKey(r.Header.Get(HeaderEventID), p)
	if err := h.Webhooks.Apply(r.Context(), key, p); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "accepted"})
}
