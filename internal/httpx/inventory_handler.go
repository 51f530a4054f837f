package httpx

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ariefcatur/marketplace-fulfillment/internal/domain"
	"github.com/ariefcatur/marketplace-fulfillment/internal/inventory"
	"github.com/ariefcatur/marketplace-fulfillment/internal/store"
)

type InventoryHandler struct {
	Store store.Manager
}

type linkReq struct {
	Quantity      int `json:"quantity"`
	LowStockAlert int `json:"low_stock_alert"`
}

type AvailabilityResp struct {
	VariantID    string `json:"variant_id"`
	BranchID     string `json:"branch_id"`
	Requested    int    `json:"requested"`
	Available    bool   `json:"available"`
	AvailableQty int    `json:"available_qty"`
}

type InventoryResp struct {
	VariantID     string    `json:"variant_id"`
	BranchID      string    `json:"branch_id"`
	Quantity      int       `json:"quantity"`
	ReservedQty   int       `json:"reserved_qty"`
	Available     int       `json:"available"`
	LowStockAlert int       `json:"low_stock_alert"`
	UpdatedAt     time.Time `json:"updated_at"`
}

func toInventoryResp(rec domain.InventoryRecord) InventoryResp {
	return InventoryResp{
		VariantID:     rec.VariantID,
		BranchID:      rec.BranchID,
		Quantity:      rec.Quantity,
		ReservedQty:   rec.ReservedQty,
		Available:     rec.Available(),
		LowStockAlert: rec.LowStockAlert,
		UpdatedAt:     rec.UpdatedAt,
	}
}

func (h *InventoryHandler) Register(r chi.Router) {
	r.Get("/inventory/{variantID}/branches/{branchID}", h.availability)
	r.Put("/inventory/{variantID}/branches/{branchID}", h.link)
	r.Get("/stores/{storeID}/inventory/low-stock", h.lowStock)
}

func inventoryKey(r *http.Request) inventory.Key {
	return inventory.Key{VariantID: chi.URLParam(r, "variantID"), BranchID: chi.URLParam(r, "branchID")}
}

func (h *InventoryHandler) availability(w http.ResponseWriter, r *http.Request) {
	qty := 1
	if raw := r.URL.Query().Get("qty"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			badRequest(w, r, "qty must be a positive integer")
			return
		}
		qty = n
	}
	key := inventoryKey(r)
	var av inventory.Availability
	err := h.Store.InTx(r.Context(), func(ctx context.Context, tx store.Tx) error {
		var err error
		av, err = inventory.NewLedger(tx.Inventory()).CheckAvailability(ctx, key, qty)
		return err
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, AvailabilityResp{
		VariantID:    key.VariantID,
		BranchID:     key.BranchID,
		Requested:    qty,
		Available:    av.Available,
		AvailableQty: av.AvailableQty,
	})
}

// link stocks a variant at a branch of a store the caller manages.
func (h *InventoryHandler) link(w http.ResponseWriter, r *http.Request) {
	const op = "inventory.link"
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	var req linkReq
	if err := decode(r, &req); err != nil {
		badRequest(w, r, err.Error())
		return
	}
	key := inventoryKey(r)
	var rec domain.InventoryRecord
	err := h.Store.InTx(r.Context(), func(ctx context.Context, tx store.Tx) error {
		br, err := tx.Catalog().Branch(ctx, key.BranchID)
		if err != nil {
			return err
		}
		if !actor.ManagesStore(br.StoreID) {
			return domain.Forbidden(op, fmt.Sprintf("actor does not manage store %s", br.StoreID))
		}
		vs, err := tx.Catalog().Variants(ctx, []string{key.VariantID})
		if err != nil {
			return err
		}
		v, ok := vs[key.VariantID]
		if !ok {
			return domain.NotFound(op, "variant", key.VariantID)
		}
		ps, err := tx.Catalog().Products(ctx, []string{v.ProductID})
		if err != nil {
			return err
		}
		if p, ok := ps[v.ProductID]; !ok || p.StoreID != br.StoreID {
			return domain.InvalidInput(op, "variant is not sold by the branch's store")
		}
		if err := inventory.NewLedger(tx.Inventory()).Link(ctx, key, req.Quantity, req.LowStockAlert); err != nil {
			return err
		}
		rec, err = tx.Inventory().Get(ctx, key)
		return err
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toInventoryResp(rec))
}

func (h *InventoryHandler) lowStock(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	storeID := chi.URLParam(r, "storeID")
	if !actor.ManagesStore(storeID) {
		writeError(w, r, domain.Forbidden("inventory.low_stock", fmt.Sprintf("actor does not manage store %s", storeID)))
		return
	}
	var recs []domain.InventoryRecord
	err := h.Store.InTx(r.Context(), func(ctx context.Context, tx store.Tx) error {
		var err error
		recs, err = inventory.NewLedger(tx.Inventory()).LowStock(ctx, storeID)
		return err
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	out := make([]InventoryResp, 0, len(recs))
	for _, rec := range recs {
		out = append(out, toInventoryResp(rec))
	}
	writeJSON(w, http.StatusOK, out)
}
