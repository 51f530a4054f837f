// Package inventory implements the stock ledger kept per (variant, branch).
//
// Every operation runs inside the caller's transaction. Mutations read the
// record through Store.Lock, which must hold a row lock (or an equivalent
// serialisation) until the transaction ends, so a check-then-write sequence
// cannot interleave with another transaction touching the same record.
package inventory

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/ariefcatur/marketplace-fulfillment/internal/domain"
)

// ErrRecordNotFound is returned by Store implementations when no record exists.
var ErrRecordNotFound = errors.New("inventory record not found")

type Key struct {
	VariantID string
	BranchID  string
}

func (k Key) String() string { return k.VariantID + "@" + k.BranchID }

// Line is one entry of a bulk operation.
type Line struct {
	VariantID string
	BranchID  string
	Quantity  int
}

func (l Line) Key() Key { return Key{VariantID: l.VariantID, BranchID: l.BranchID} }

type Store interface {
	Get(ctx context.Context, key Key) (domain.InventoryRecord, error)
	// Lock reads the record and keeps it locked for the rest of the transaction.
	Lock(ctx context.Context, key Key) (domain.InventoryRecord, error)
	// SaveCounts persists quantity and reservedQty of a previously locked record.
	SaveCounts(ctx context.Context, rec domain.InventoryRecord) error
	// Create inserts a record; it is a no-op when the record already exists.
	Create(ctx context.Context, rec domain.InventoryRecord) error
	// EligibleBranches returns active branches of storeID whose available stock of
	// variantID is at least qty, ordered by branch creation.
	EligibleBranches(ctx context.Context, storeID, variantID string, qty int) ([]string, error)
	LowStock(ctx context.Context, storeID string) ([]domain.InventoryRecord, error)
}

type Availability struct {
	Available    bool
	AvailableQty int
}

type Ledger struct {
	store Store
}

func NewLedger(store Store) *Ledger {
	return &Ledger{store: store}
}

func (l *Ledger) CheckAvailability(ctx context.Context, key Key, qty int) (Availability, error) {
	rec, err := l.store.Get(ctx, key)
	if err != nil {
		return Availability{}, mapStoreErr("inventory.check", key, err)
	}
	return Availability{Available: rec.Available() >= qty, AvailableQty: rec.Available()}, nil
}

func (l *Ledger) EligibleBranches(ctx context.Context, storeID, variantID string, qty int) ([]string, error) {
	ids, err := l.store.EligibleBranches(ctx, storeID, variantID, qty)
	if err != nil {
		return nil, fmt.Errorf("inventory eligible branches: %w", err)
	}
	return ids, nil
}

func (l *Ledger) Reserve(ctx context.Context, key Key, qty int) error {
	return l.ReserveAll(ctx, []Line{{VariantID: key.VariantID, BranchID: key.BranchID, Quantity: qty}})
}

func (l *Ledger) Release(ctx context.Context, key Key, qty int) error {
	return l.ReleaseAll(ctx, []Line{{VariantID: key.VariantID, BranchID: key.BranchID, Quantity: qty}})
}

func (l *Ledger) Deduct(ctx context.Context, key Key, qty int) error {
	return l.DeductAll(ctx, []Line{{VariantID: key.VariantID, BranchID: key.BranchID, Quantity: qty}})
}

func (l *Ledger) ConfirmReservation(ctx context.Context, key Key, qty int) error {
	return l.ConfirmAll(ctx, []Line{{VariantID: key.VariantID, BranchID: key.BranchID, Quantity: qty}})
}

func (l *Ledger) Restore(ctx context.Context, key Key, qty int) error {
	return l.RestoreAll(ctx, []Line{{VariantID: key.VariantID, BranchID: key.BranchID, Quantity: qty}})
}

// ReserveAll holds stock for every line or for none of them.
func (l *Ledger) ReserveAll(ctx context.Context, lines []Line) error {
	return l.apply(ctx, "inventory.reserve", lines, func(rec *domain.InventoryRecord, qty int) error {
		if rec.Available() < qty {
			return domain.InsufficientStock("inventory.reserve", rec.VariantID, rec.BranchID, qty, rec.Available())
		}
		rec.ReservedQty += qty
		return nil
	})
}

// ReleaseAll drops reservations, never pushing reservedQty below zero.
func (l *Ledger) ReleaseAll(ctx context.Context, lines []Line) error {
	return l.apply(ctx, "inventory.release", lines, func(rec *domain.InventoryRecord, qty int) error {
		rec.ReservedQty -= qty
		if rec.ReservedQty < 0 {
			rec.ReservedQty = 0
		}
		return nil
	})
}

// DeductAll removes on-hand stock without a prior reservation. Stock held by
// other reservations is not available for deduction.
func (l *Ledger) DeductAll(ctx context.Context, lines []Line) error {
	return l.apply(ctx, "inventory.deduct", lines, func(rec *domain.InventoryRecord, qty int) error {
		if rec.Available() < qty {
			return domain.InsufficientStock("inventory.deduct", rec.VariantID, rec.BranchID, qty, rec.Available())
		}
		rec.Quantity -= qty
		return nil
	})
}

// ConfirmAll turns reservations into sales: quantity and reservedQty drop together.
func (l *Ledger) ConfirmAll(ctx context.Context, lines []Line) error {
	return l.apply(ctx, "inventory.confirm", lines, func(rec *domain.InventoryRecord, qty int) error {
		if rec.ReservedQty < qty || rec.Quantity < qty {
			return domain.InsufficientStock("inventory.confirm", rec.VariantID, rec.BranchID, qty, rec.ReservedQty)
		}
		rec.Quantity -= qty
		rec.ReservedQty -= qty
		return nil
	})
}

func (l *Ledger) RestoreAll(ctx context.Context, lines []Line) error {
	return l.apply(ctx, "inventory.restore", lines, func(rec *domain.InventoryRecord, qty int) error {
		rec.Quantity += qty
		return nil
	})
}

// Link creates the record for a variant stocked at a branch. Existing counts are kept.
func (l *Ledger) Link(ctx context.Context, key Key, quantity, lowStockAlert int) error {
	if key.VariantID == "" || key.BranchID == "" {
		return domain.InvalidInput("inventory.link", "variant and branch are required")
	}
	if quantity < 0 || lowStockAlert < 0 {
		return domain.InvalidInput("inventory.link", "quantity and low stock alert must not be negative")
	}
	err := l.store.Create(ctx, domain.InventoryRecord{
		VariantID:     key.VariantID,
		BranchID:      key.BranchID,
		Quantity:      quantity,
		LowStockAlert: lowStockAlert,
	})
	if err != nil {
		return fmt.Errorf("inventory link %s: %w", key, err)
	}
	return nil
}

func (l *Ledger) LowStock(ctx context.Context, storeID string) ([]domain.InventoryRecord, error) {
	recs, err := l.store.LowStock(ctx, storeID)
	if err != nil {
		return nil, fmt.Errorf("inventory low stock: %w", err)
	}
	return recs, nil
}

// apply aggregates lines per record, locks records in key order, validates
// every record and only then writes. A failing line leaves every record untouched.
func (l *Ledger) apply(ctx context.Context, op string, lines []Line, mutate func(*domain.InventoryRecord, int) error) error {
	totals := make(map[Key]int, len(lines))
	for _, ln := range lines {
		if ln.VariantID == "" || ln.BranchID == "" {
			return domain.InvalidInput(op, "variant and branch are required")
		}
		if ln.Quantity <= 0 {
			return domain.InvalidInput(op, fmt.Sprintf("quantity for %s must be positive", ln.Key()))
		}
		totals[ln.Key()] += ln.Quantity
	}

	keys := make([]Key, 0, len(totals))
	for k := range totals {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].VariantID != keys[j].VariantID {
			return keys[i].VariantID < keys[j].VariantID
		}
		return keys[i].BranchID < keys[j].BranchID
	})

	updated := make([]domain.InventoryRecord, 0, len(keys))
	for _, k := range keys {
		rec, err := l.store.Lock(ctx, k)
		if err != nil {
			return mapStoreErr(op, k, err)
		}
		if err := mutate(&rec, totals[k]); err != nil {
			return err
		}
		if rec.ReservedQty < 0 || rec.ReservedQty > rec.Quantity {
			return domain.InsufficientStock(op, rec.VariantID, rec.BranchID, totals[k], rec.Available())
		}
		updated = append(updated, rec)
	}

	for _, rec := range updated {
		if err := l.store.SaveCounts(ctx, rec); err != nil {
			return fmt.Errorf("%s %s@%s: %w", op, rec.VariantID, rec.BranchID, err)
		}
	}
	return nil
}

func mapStoreErr(op string, key Key, err error) error {
	if errors.Is(err, ErrRecordNotFound) {
		return &domain.Error{
			Op:        op,
			Kind:      domain.KindNotFound,
			Message:   fmt.Sprintf("no inventory for variant %s at branch %s", key.VariantID, key.BranchID),
			VariantID: key.VariantID,
			BranchID:  key.BranchID,
			Err:       err,
		}
	}
	return fmt.Errorf("%s %s: %w", op, key, err)
}
