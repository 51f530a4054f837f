package httpx

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/ariefcatur/marketplace-fulfillment/internal/domain"
	"github.com/ariefcatur/marketplace-fulfillment/internal/logging"
	"github.com/ariefcatur/marketplace-fulfillment/internal/orders"
	"github.com/ariefcatur/marketplace-fulfillment/internal/redisx"
)

// StatusCache is the read-through cache behind GET /orders/{id}/status.
type StatusCache interface {
	Get(ctx context.Context, orderID string) (redisx.OrderStatus, bool, error)
	Set(ctx context.Context, s redisx.OrderStatus) error
}

type OrdersHandler struct {
	Orders *orders.Service
	// Status is optional; without it every status read goes to the store.
	Status StatusCache
}

type checkoutReq struct {
	StoreID       string                `json:"store_id"`
	DeliveryZone  domain.DeliveryZone   `json:"delivery_zone"`
	Items         []orders.CheckoutItem `json:"items"`
	Contact       domain.Contact        `json:"contact"`
	PaymentMethod domain.PaymentMethod  `json:"payment_method"`
	Note          string                `json:"note"`
}

type manualOrderReq struct {
	BranchID       string                `json:"branch_id"`
	DeliveryZone   domain.DeliveryZone   `json:"delivery_zone"`
	Items          []orders.CheckoutItem `json:"items"`
	Contact        domain.Contact        `json:"contact"`
	PaymentMethod  domain.PaymentMethod  `json:"payment_method"`
	Note           string                `json:"note"`
	DeliveryCharge *decimal.Decimal      `json:"delivery_charge"`
}

type editOrderReq struct {
	Items          []orders.CheckoutItem `json:"items"`
	Contact        *domain.Contact       `json:"contact"`
	DeliveryZone   *domain.DeliveryZone  `json:"delivery_zone"`
	DeliveryCharge *decimal.Decimal      `json:"delivery_charge"`
}

type transitionReq struct {
	Status domain.Status `json:"status"`
}

type cancelReq struct {
	Reason string `json:"reason"`
}

type OrderItemResp struct {
	ID          string          `json:"id"`
	BranchID    string          `json:"branch_id"`
	ProductID   string          `json:"product_id"`
	VariantID   string          `json:"variant_id,omitempty"`
	ProductName string          `json:"product_name"`
	VariantName string          `json:"variant_name,omitempty"`
	ImageURL    string          `json:"image_url,omitempty"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	Discount    decimal.Decimal `json:"discount"`
	LineTotal   decimal.Decimal `json:"line_total"`
}

type OrderResp struct {
	ID               string               `json:"id"`
	OrderNumber      string               `json:"order_number"`
	Status           domain.Status        `json:"status"`
	StoreID          string               `json:"store_id"`
	AssignedBranchID string               `json:"assigned_branch_id,omitempty"`
	CustomerUserID   string               `json:"customer_user_id,omitempty"`
	Contact          domain.Contact       `json:"contact"`
	DeliveryZone     domain.DeliveryZone  `json:"delivery_zone"`
	Subtotal         decimal.Decimal      `json:"subtotal"`
	TotalDiscount    decimal.Decimal      `json:"total_discount"`
	DeliveryCharge   decimal.Decimal      `json:"delivery_charge"`
	TotalAmount      decimal.Decimal      `json:"total_amount"`
	PaymentMethod    domain.PaymentMethod `json:"payment_method"`
	Note             string               `json:"note,omitempty"`
	Manual           bool                 `json:"manual"`
	CancelledAt      *time.Time           `json:"cancelled_at,omitempty"`
	CancelReason     string               `json:"cancel_reason,omitempty"`
	CreatedAt        time.Time            `json:"created_at"`
	UpdatedAt        time.Time            `json:"updated_at"`
	Items            []OrderItemResp      `json:"items"`
}

func toOrderResp(o domain.Order) OrderResp {
	out := OrderResp{
		ID:               o.ID,
		OrderNumber:      o.OrderNumber,
		Status:           o.Status,
		StoreID:          o.StoreID,
		AssignedBranchID: o.AssignedBranchID,
		CustomerUserID:   o.CustomerUserID,
		Contact:          o.Contact,
		DeliveryZone:     o.DeliveryZone,
		Subtotal:         o.Subtotal,
		TotalDiscount:    o.TotalDiscount,
		DeliveryCharge:   o.DeliveryCharge,
		TotalAmount:      o.TotalAmount,
		PaymentMethod:    o.PaymentMethod,
		Note:             o.Note,
		Manual:           o.Manual,
		CancelledAt:      o.CancelledAt,
		CancelReason:     o.CancelReason,
		CreatedAt:        o.CreatedAt,
		UpdatedAt:        o.UpdatedAt,
		Items:            make([]OrderItemResp, 0, len(o.Items)),
	}
	for _, it := range o.Items {
		out.Items = append(out.Items, OrderItemResp{
			ID:          it.ID,
			BranchID:    it.BranchID,
			ProductID:   it.ProductID,
			VariantID:   it.VariantID,
			ProductName: it.ProductName,
			VariantName: it.VariantName,
			ImageURL:    it.ImageURL,
			Quantity:    it.Quantity,
			UnitPrice:   it.UnitPrice,
			Discount:    it.Discount,
			LineTotal:   it.LineTotal,
		})
	}
	return out
}

func toOrderResps(os []domain.Order) []OrderResp {
	out := make([]OrderResp, 0, len(os))
	for _, o := range os {
		out = append(out, toOrderResp(o))
	}
	return out
}

func (h *OrdersHandler) Register(r chi.Router) {
	r.Post("/orders", h.checkout)
	r.Post("/stores/{storeID}/orders", h.createManual)
	r.Get("/orders/{id}", h.getOrder)
	r.Get("/orders/{id}/status", h.getStatus)
	r.Patch("/orders/{id}", h.editOrder)
	r.Post("/orders/{id}/status", h.transition)
	r.Post("/orders/{id}/cancel", h.cancel)
}

// checkout accepts guests; an authenticated caller's cart lines are cleared.
func (h *OrdersHandler) checkout(w http.ResponseWriter, r *http.Request) {
	actor, _, err := actorFrom(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req checkoutReq
	if err := decode(r, &req); err != nil {
		badRequest(w, r, err.Error())
		return
	}
	created, err := h.Orders.CreateOrder(r.Context(), orders.CheckoutRequest{
		UserID:        actor.UserID,
		StoreID:       req.StoreID,
		DeliveryZone:  req.DeliveryZone,
		Items:         req.Items,
		Contact:       req.Contact,
		PaymentMethod: req.PaymentMethod,
		Note:          req.Note,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toOrderResps(created))
}

func (h *OrdersHandler) createManual(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	var req manualOrderReq
	if err := decode(r, &req); err != nil {
		badRequest(w, r, err.Error())
		return
	}
	created, err := h.Orders.CreateManualOrder(r.Context(), actor, orders.ManualOrderRequest{
		StoreID:        chi.URLParam(r, "storeID"),
		BranchID:       req.BranchID,
		DeliveryZone:   req.DeliveryZone,
		Items:          req.Items,
		Contact:        req.Contact,
		PaymentMethod:  req.PaymentMethod,
		Note:           req.Note,
		DeliveryCharge: req.DeliveryCharge,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toOrderResps(created))
}

// canView lets customers see their own orders and staff the orders of
// stores they manage.
func canView(actor domain.Actor, o domain.Order) bool {
	if actor.ManagesStore(o.StoreID) {
		return true
	}
	return actor.Role == domain.RoleCustomer && o.CustomerUserID != "" && o.CustomerUserID == actor.UserID
}

func (h *OrdersHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	o, err := h.Orders.GetOrder(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if !canView(actor, o) {
		// Same answer as a missing order, so ids cannot be probed.
		writeError(w, r, domain.NotFound("http", "order", o.ID))
		return
	}
	writeJSON(w, http.StatusOK, toOrderResp(o))
}

// getStatus serves from the cache and falls back to the store on a miss or
// cache failure, refilling the cache afterwards.
func (h *OrdersHandler) getStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")
	log := logging.FromContext(ctx)

	if h.Status != nil {
		s, hit, err := h.Status.Get(ctx, id)
		if err != nil {
			log.Warn("status cache read failed", zap.String("order_id", id), zap.Error(err))
		}
		if hit {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}

	o, err := h.Orders.GetOrder(ctx, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	s := redisx.OrderStatus{OrderID: o.ID, OrderNumber: o.OrderNumber, Status: string(o.Status), UpdatedAt: o.UpdatedAt}
	if h.Status != nil {
		if err := h.Status.Set(ctx, s); err != nil {
			log.Warn("status cache write failed", zap.String("order_id", id), zap.Error(err))
		}
	}
	writeJSON(w, http.StatusOK, s)
}

func (h *OrdersHandler) editOrder(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	var req editOrderReq
	if err := decode(r, &req); err != nil {
		badRequest(w, r, err.Error())
		return
	}
	o, err := h.Orders.EditOrder(r.Context(), chi.URLParam(r, "id"), actor, orders.EditRequest{
		Items:          req.Items,
		Contact:        req.Contact,
		DeliveryZone:   req.DeliveryZone,
		DeliveryCharge: req.DeliveryCharge,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResp(o))
}

func (h *OrdersHandler) transition(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	var req transitionReq
	if err := decode(r, &req); err != nil {
		badRequest(w, r, err.Error())
		return
	}
	to := domain.Status(strings.ToUpper(strings.TrimSpace(string(req.Status))))
	o, err := h.Orders.TransitionStatus(r.Context(), chi.URLParam(r, "id"), actor, to)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResp(o))
}

func (h *OrdersHandler) cancel(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	var req cancelReq
	if r.ContentLength != 0 {
		if err := decode(r, &req); err != nil {
			badRequest(w, r, err.Error())
			return
		}
	}
	o, err := h.Orders.CancelOrder(r.Context(), chi.URLParam(r, "id"), actor, req.Reason)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResp(o))
}
