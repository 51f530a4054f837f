package httpx

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/ariefcatur/marketplace-fulfillment/internal/domain"
	"github.com/ariefcatur/marketplace-fulfillment/internal/logging"
)

const maxBodyBytes = 1 << 20

// Actor headers are set by the gateway after authentication.
const (
	HeaderUserID  = "X-User-ID"
	HeaderRole    = "X-User-Role"
	HeaderStoreID = "X-Store-ID"
)

type errorBody struct {
	Error     string         `json:"error"`
	Message   string         `json:"message"`
	RequestID string         `json:"request_id,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func statusFor(kind domain.Kind) int {
	switch kind {
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindInsufficientStock, domain.KindInvalidTransition, domain.KindDeliveryAlreadyBooked,
		domain.KindOrderNotEditable, domain.KindNoBranchAvailable:
		return http.StatusConflict
	case domain.KindDeliveryNotBooked, domain.KindNoBranchAssigned:
		return http.StatusUnprocessableEntity
	case domain.KindInvalidInput:
		return http.StatusBadRequest
	case domain.KindForbidden:
		return http.StatusForbidden
	case domain.KindRetryLimitExceeded:
		return http.StatusTooManyRequests
	}
	return http.StatusInternalServerError
}

// writeError renders business errors with their kind; anything else is
// logged and hidden behind a 500.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	body := errorBody{RequestID: middleware.GetReqID(r.Context())}
	var de *domain.Error
	if !errors.As(err, &de) || de.Kind == "" {
		logging.FromContext(r.Context()).Error("request failed", zap.Error(err))
		body.Error, body.Message = "internal", "internal server error"
		writeJSON(w, http.StatusInternalServerError, body)
		return
	}

	body.Error, body.Message = string(de.Kind), de.Error()
	switch de.Kind {
	case domain.KindInsufficientStock:
		body.Details = map[string]any{
			"variant_id": de.VariantID,
			"branch_id":  de.BranchID,
			"requested":  de.Requested,
			"available":  de.Available,
		}
	case domain.KindInvalidTransition:
		body.Details = map[string]any{"from": de.From, "to": de.To}
	}
	writeJSON(w, statusFor(de.Kind), body)
}

func badRequest(w http.ResponseWriter, r *http.Request, msg string) {
	writeError(w, r, domain.InvalidInput("http", msg))
}

func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid json: %w", err)
	}
	return nil
}

// actorFrom reads the caller from the gateway headers. Requests without a
// user id are anonymous.
func actorFrom(r *http.Request) (domain.Actor, bool, error) {
	userID := strings.TrimSpace(r.Header.Get(HeaderUserID))
	if userID == "" {
		return domain.Actor{}, false, nil
	}
	role, ok := domain.ParseRole(r.Header.Get(HeaderRole))
	if !ok {
		return domain.Actor{}, false, domain.Forbidden("http", "unknown role")
	}
	return domain.Actor{
		UserID:  userID,
		Role:    role,
		StoreID: strings.TrimSpace(r.Header.Get(HeaderStoreID)),
	}, true, nil
}

// requireActor writes 403 and returns false when the caller is anonymous.
func requireActor(w http.ResponseWriter, r *http.Request) (domain.Actor, bool) {
	actor, ok, err := actorFrom(r)
	if err != nil {
		writeError(w, r, err)
		return domain.Actor{}, false
	}
	if !ok {
		writeError(w, r, domain.Forbidden("http", "authentication required"))
		return domain.Actor{}, false
	}
	return actor, true
}
