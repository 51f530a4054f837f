package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/ariefcatur/marketplace-fulfillment/internal/carrier"
	"github.com/ariefcatur/marketplace-fulfillment/internal/delivery"
	"github.com/ariefcatur/marketplace-fulfillment/internal/domain"
	"github.com/ariefcatur/marketplace-fulfillment/internal/memstore"
	"github.com/ariefcatur/marketplace-fulfillment/internal/orders"
	"github.com/ariefcatur/marketplace-fulfillment/internal/redisx"
)

var (
	fixedNow = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	customer = &domain.Actor{UserID: "cust-1", Role: domain.RoleCustomer}
	vendor   = &domain.Actor{UserID: "vendor-1", Role: domain.RoleVendor, StoreID: "S"}
	stranger = &domain.Actor{UserID: "vendor-2", Role: domain.RoleVendor, StoreID: "T"}
)

type stubCarrier struct{}

func (stubCarrier) CreateConsignment(_ context.Context, req carrier.ConsignmentRequest) (carrier.Consignment, error) {
	return carrier.Consignment{ConsignmentID: "CN-" + req.MerchantOrderID, MerchantOrderID: req.MerchantOrderID, OrderStatus: "pending"}, nil
}

func (stubCarrier) ConsignmentStatus(context.Context, string) (string, error) {
	return "in_transit", nil
}

type mapCache struct {
	mu   sync.Mutex
	data map[string]redisx.OrderStatus
	hits int
}

func (c *mapCache) Get(_ context.Context, id string) (redisx.OrderStatus, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.data[id]
	if ok {
		c.hits++
	}
	return s, ok, nil
}

func (c *mapCache) Set(_ context.Context, s redisx.OrderStatus) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[s.OrderID] = s
	return nil
}

type testServer struct {
	db    *memstore.Store
	cache *mapCache
	mux   *chi.Mux
}

func newTestServer(t *testing.T, webhookSecret string) *testServer {
	t.Helper()
	db := memstore.New()
	db.SetClock(func() time.Time { return fixedNow })
	db.AddStore(domain.Store{ID: "S", Name: "Shop"})
	db.AddBranch(domain.Branch{ID: "X", StoreID: "S", Name: "Gulshan", CarrierStoreID: "pk-77", Active: true, CreatedAt: fixedNow})
	db.AddProduct(domain.Product{ID: "p1", StoreID: "S", Name: "Tee", BasePrice: decimal.NewFromInt(90), Active: true})
	db.AddVariant(domain.Variant{ID: "v1", ProductID: "p1", Name: "Tee / M", Price: decimal.NewFromInt(100), Active: true})
	db.AddVariant(domain.Variant{ID: "v2", ProductID: "p1", Name: "Tee / L", Price: decimal.NewFromInt(100), Active: true})
	db.SetInventory(domain.InventoryRecord{VariantID: "v1", BranchID: "X", Quantity: 10})

	svc, err := orders.NewService(orders.Deps{Store: db, Clock: func() time.Time { return fixedNow }})
	require.NoError(t, err)
	br, err := delivery.NewBridge(delivery.Deps{
		Store:   db,
		Orders:  svc,
		Carrier: stubCarrier{},
		Clock:   func() time.Time { return fixedNow },
		Backoff: func() backoff.BackOff { return &backoff.ZeroBackOff{} },
	})
	require.NoError(t, err)

	cache := &mapCache{data: map[string]redisx.OrderStatus{}}
	mux := NewRouter(nil)
	(&OrdersHandler{Orders: svc, Status: cache}).Register(mux)
	(&DeliveryHandler{Bridge: br, Webhooks: delivery.NewConsumer(br, nil, nil), WebhookSecret: webhookSecret}).Register(mux)
	(&InventoryHandler{Store: db}).Register(mux)
	return &testServer{db: db, cache: cache, mux: mux}
}

func (s *testServer) do(t *testing.T, method, path string, body any, actor *domain.Actor, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		require.NoError(t, json.NewEncoder(&buf).Encode(b))
	}
	req := httptest.NewRequest(method, path, &buf)
	if actor != nil {
		req.Header.Set(HeaderUserID, actor.UserID)
		req.Header.Set(HeaderRole, string(actor.Role))
		req.Header.Set(HeaderStoreID, actor.StoreID)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	s.mux.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func checkoutBody(qty int) map[string]any {
	return map[string]any{
		"store_id":       "S",
		"delivery_zone":  domain.ZoneInsideCity,
		"items":          []map[string]any{{"product_id": "p1", "variant_id": "v1", "quantity": qty}},
		"contact":        map[string]string{"name": "Rina", "phone": "01700000000", "address": "12 Lake Road", "city": "Dhaka"},
		"payment_method": domain.PaymentCOD,
	}
}

func (s *testServer) checkout(t *testing.T, qty int) OrderResp {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/orders", checkoutBody(qty), customer)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decodeBody[[]OrderResp](t, rec)
	require.Len(t, created, 1)
	return created[0]
}

func TestCheckoutAndRead(t *testing.T) {
	s := newTestServer(t, "")
	o := s.checkout(t, 2)
	require.Equal(t, domain.StatusPending, o.Status)
	require.Equal(t, "cust-1", o.CustomerUserID)
	require.Equal(t, "X", o.AssignedBranchID)
	require.Len(t, o.Items, 1)
	require.True(t, o.Subtotal.Equal(decimal.NewFromInt(200)))

	rec := s.do(t, http.MethodGet, "/orders/"+o.ID, nil, customer)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, o.OrderNumber, decodeBody[OrderResp](t, rec).OrderNumber)

	require.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/orders/"+o.ID, nil, vendor).Code)
	require.Equal(t, http.StatusNotFound, s.do(t, http.MethodGet, "/orders/"+o.ID, nil, stranger).Code)
	other := &domain.Actor{UserID: "cust-2", Role: domain.RoleCustomer}
	require.Equal(t, http.StatusNotFound, s.do(t, http.MethodGet, "/orders/"+o.ID, nil, other).Code)
	require.Equal(t, http.StatusForbidden, s.do(t, http.MethodGet, "/orders/"+o.ID, nil, nil).Code)
}

func TestStatusReadsThroughCache(t *testing.T) {
	s := newTestServer(t, "")
	o := s.checkout(t, 1)

	rec := s.do(t, http.MethodGet, "/orders/"+o.ID+"/status", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "PENDING", decodeBody[redisx.OrderStatus](t, rec).Status)
	require.Zero(t, s.cache.hits)

	rec = s.do(t, http.MethodGet, "/orders/"+o.ID+"/status", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, 1, s.cache.hits)

	require.Equal(t, http.StatusNotFound, s.do(t, http.MethodGet, "/orders/missing/status", nil, nil).Code)
}

func TestErrorsMapToStatusCodes(t *testing.T) {
	s := newTestServer(t, "")
	o := s.checkout(t, 1)

	rec := s.do(t, http.MethodPost, "/orders/"+o.ID+"/status", map[string]string{"status": "shipped"}, vendor)
	require.Equal(t, http.StatusConflict, rec.Code)
	body := decodeBody[errorBody](t, rec)
	require.Equal(t, string(domain.KindInvalidTransition), body.Error)
	require.Equal(t, "PENDING", body.Details["from"])
	require.Equal(t, "SHIPPED", body.Details["to"])

	rec = s.do(t, http.MethodPost, "/orders/"+o.ID+"/status", map[string]string{"status": "CONFIRMED"}, customer)
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(t, http.MethodPost, "/orders", checkoutBody(50), customer)
	require.Equal(t, http.StatusConflict, rec.Code)

	rec = s.do(t, http.MethodPost, "/orders", "{not json", customer)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, string(domain.KindInvalidInput), decodeBody[errorBody](t, rec).Error)

	bad := &domain.Actor{UserID: "u", Role: "PIRATE"}
	require.Equal(t, http.StatusForbidden, s.do(t, http.MethodPost, "/orders", checkoutBody(1), bad).Code)
	require.Equal(t, http.StatusNotFound, s.do(t, http.MethodPost, "/orders/nope/cancel", nil, vendor).Code)
}

func TestEditConfirmAndCancel(t *testing.T) {
	s := newTestServer(t, "")
	o := s.checkout(t, 2)

	rec := s.do(t, http.MethodPatch, "/orders/"+o.ID, map[string]any{"delivery_charge": "10"}, vendor)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.True(t, decodeBody[OrderResp](t, rec).TotalAmount.Equal(decimal.NewFromInt(210)))

	rec = s.do(t, http.MethodPost, "/orders/"+o.ID+"/status", map[string]string{"status": "CONFIRMED"}, vendor)
	require.Equal(t, http.StatusOK, rec.Code)
	inv, _ := s.db.Inventory("v1", "X")
	require.Equal(t, 8, inv.Quantity)

	rec = s.do(t, http.MethodPatch, "/orders/"+o.ID, map[string]any{"delivery_charge": "0"}, vendor)
	require.Equal(t, http.StatusConflict, rec.Code)

	rec = s.do(t, http.MethodPost, "/orders/"+o.ID+"/cancel", map[string]string{"reason": "out of town"}, vendor)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decodeBody[OrderResp](t, rec)
	require.Equal(t, domain.StatusCancelled, got.Status)
	require.Equal(t, "out of town", got.CancelReason)
	inv, _ = s.db.Inventory("v1", "X")
	require.Equal(t, 10, inv.Quantity)
}

func TestManualOrder(t *testing.T) {
	s := newTestServer(t, "")
	body := checkoutBody(3)
	delete(body, "store_id")
	body["branch_id"] = "X"

	rec := s.do(t, http.MethodPost, "/stores/S/orders", body, vendor)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decodeBody[[]OrderResp](t, rec)
	require.Len(t, created, 1)
	require.True(t, created[0].Manual)
	require.Equal(t, domain.StatusConfirmed, created[0].Status)

	require.Equal(t, http.StatusForbidden, s.do(t, http.MethodPost, "/stores/S/orders", body, stranger).Code)
	require.Equal(t, http.StatusForbidden, s.do(t, http.MethodPost, "/stores/S/orders", body, nil).Code)
}

func TestDeliveryAndWebhook(t *testing.T) {
	s := newTestServer(t, "s3cret")
	o := s.checkout(t, 1)
	require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/orders/"+o.ID+"/status", map[string]string{"status": "CONFIRMED"}, vendor).Code)

	rec := s.do(t, http.MethodPost, "/orders/"+o.ID+"/delivery", nil, vendor)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	bk := decodeBody[BookingResp](t, rec)
	require.Equal(t, "CN-"+o.OrderNumber, bk.ConsignmentID)

	rec = s.do(t, http.MethodPost, "/orders/"+o.ID+"/delivery", nil, vendor)
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Equal(t, http.StatusConflict, s.do(t, http.MethodDelete, "/orders/"+o.ID+"/delivery", nil, vendor).Code)

	hook := map[string]string{"consignment_id": bk.ConsignmentID, "order_status": "Picked Up"}
	require.Equal(t, http.StatusUnauthorized, s.do(t, http.MethodPost, "/webhooks/carrier", hook, nil).Code)
	require.Equal(t, http.StatusUnauthorized, s.do(t, http.MethodPost, "/webhooks/carrier", hook, nil, HeaderWebhookSecret, "guess").Code)

	rec = s.do(t, http.MethodPost, "/webhooks/carrier", hook, nil, HeaderWebhookSecret, "s3cret")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	got, _ := s.db.Order(o.ID)
	require.Equal(t, domain.StatusShipped, got.Status)

	unknown := map[string]string{"consignment_id": "CN-nope", "order_status": "delivered"}
	require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/webhooks/carrier", unknown, nil, HeaderWebhookSecret, "s3cret").Code)
	require.Equal(t, http.StatusBadRequest, s.do(t, http.MethodPost, "/webhooks/carrier", "[", nil, HeaderWebhookSecret, "s3cret").Code)

	rec = s.do(t, http.MethodPost, "/orders/"+o.ID+"/delivery/sync", nil, vendor)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Equal(t, domain.BookingInTransit, decodeBody[BookingResp](t, rec).Status)
	got, _ = s.db.Order(o.ID)
	require.Equal(t, domain.StatusOutForDelivery, got.Status)
}

func TestInventoryEndpoints(t *testing.T) {
	s := newTestServer(t, "")

	rec := s.do(t, http.MethodGet, "/inventory/v1/branches/X?qty=3", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	av := decodeBody[AvailabilityResp](t, rec)
	require.True(t, av.Available)
	require.Equal(t, 10, av.AvailableQty)

	require.Equal(t, http.StatusBadRequest, s.do(t, http.MethodGet, "/inventory/v1/branches/X?qty=-1", nil, nil).Code)
	require.Equal(t, http.StatusNotFound, s.do(t, http.MethodGet, "/inventory/v9/branches/X", nil, nil).Code)

	link := map[string]int{"quantity": 2, "low_stock_alert": 5}
	require.Equal(t, http.StatusForbidden, s.do(t, http.MethodPut, "/inventory/v2/branches/X", link, stranger).Code)
	require.Equal(t, http.StatusNotFound, s.do(t, http.MethodPut, "/inventory/v9/branches/X", link, vendor).Code)
	rec = s.do(t, http.MethodPut, "/inventory/v2/branches/X", link, vendor)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Equal(t, 2, decodeBody[InventoryResp](t, rec).Quantity)

	rec = s.do(t, http.MethodGet, "/stores/S/inventory/low-stock", nil, vendor)
	require.Equal(t, http.StatusOK, rec.Code)
	low := decodeBody[[]InventoryResp](t, rec)
	require.Len(t, low, 1)
	require.Equal(t, "v2", low[0].VariantID)

	require.Equal(t, http.StatusForbidden, s.do(t, http.MethodGet, "/stores/S/inventory/low-stock", nil, stranger).Code)
}

func TestStatusFor(t *testing.T) {
	cases := map[domain.Kind]int{
		domain.KindNotFound:              http.StatusNotFound,
		domain.KindInsufficientStock:     http.StatusConflict,
		domain.KindDeliveryAlreadyBooked: http.StatusConflict,
		domain.KindDeliveryNotBooked:     http.StatusUnprocessableEntity,
		domain.KindInvalidInput:          http.StatusBadRequest,
		domain.KindForbidden:             http.StatusForbidden,
		domain.KindRetryLimitExceeded:    http.StatusTooManyRequests,
		"":                               http.StatusInternalServerError,
	}
	for kind, want := range cases {
		require.Equal(t, want, statusFor(kind), string(kind))
	}
}

func TestHealthz(t *testing.T) {
	s := newTestServer(t, "")
	rec := s.do(t, http.MethodGet, "/healthz", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "ok", rec.Body.String())
}
