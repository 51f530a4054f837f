package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/ariefcatur/marketplace-fulfillment/internal/domain"
	"github.com/ariefcatur/marketplace-fulfillment/internal/inventory"
)

type inventoryRepo struct{ q pgx.Tx }

const inventoryColumns = `variant_id, branch_id, quantity, reserved_qty, low_stock_alert, updated_at`

func scanInventory(row pgx.Row) (domain.InventoryRecord, error) {
	var rec domain.InventoryRecord
	err := row.Scan(&rec.VariantID, &rec.BranchID, &rec.Quantity, &rec.ReservedQty, &rec.LowStockAlert, &rec.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return rec, inventory.ErrRecordNotFound
	}
	return rec, err
}

func (r inventoryRepo) Get(ctx context.Context, key inventory.Key) (domain.InventoryRecord, error) {
	return scanInventory(r.q.QueryRow(ctx, `
		SELECT `+inventoryColumns+` FROM inventory
		WHERE variant_id = $1 AND branch_id = $2`, key.VariantID, key.BranchID))
}

func (r inventoryRepo) Lock(ctx context.Context, key inventory.Key) (domain.InventoryRecord, error) {
	return scanInventory(r.q.QueryRow(ctx, `
		SELECT `+inventoryColumns+` FROM inventory
		WHERE variant_id = $1 AND branch_id = $2
		FOR UPDATE`, key.VariantID, key.BranchID))
}

func (r inventoryRepo) SaveCounts(ctx context.Context, rec domain.InventoryRecord) error {
	ct, err := r.q.Exec(ctx, `
		UPDATE inventory SET quantity = $3, reserved_qty = $4, updated_at = now()
		WHERE variant_id = $1 AND branch_id = $2`,
		rec.VariantID, rec.BranchID, rec.Quantity, rec.ReservedQty)
	if err != nil {
		return err
	}
	if ct.RowsAffected() != 1 {
		return inventory.ErrRecordNotFound
	}
	return nil
}

func (r inventoryRepo) Create(ctx context.Context, rec domain.InventoryRecord) error {
	_, err := r.q.Exec(ctx, `
		INSERT INTO inventory (variant_id, branch_id, quantity, reserved_qty, low_stock_alert, updated_at)
		VALUES ($1, $2, $3, $4, $5, now())
		ON CONFLICT (variant_id, branch_id) DO NOTHING`,
		rec.VariantID, rec.BranchID, rec.Quantity, rec.ReservedQty, rec.LowStockAlert)
	return err
}

func (r inventoryRepo) EligibleBranches(ctx context.Context, storeID, variantID string, qty int) ([]string, error) {
	rows, err := r.q.Query(ctx, `
		SELECT b.id
		FROM branches b
		JOIN inventory i ON i.branch_id = b.id AND i.variant_id = $2
		WHERE b.store_id = $1 AND b.is_active AND i.quantity - i.reserved_qty >= $3
		ORDER BY b.created_at, b.id`, storeID, variantID, qty)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

func (r inventoryRepo) LowStock(ctx context.Context, storeID string) ([]domain.InventoryRecord, error) {
	rows, err := r.q.Query(ctx, `
		SELECT i.variant_id, i.branch_id, i.quantity, i.reserved_qty, i.low_stock_alert, i.updated_at
		FROM inventory i
		JOIN branches b ON b.id = i.branch_id
		WHERE b.store_id = $1 AND i.quantity - i.reserved_qty <= i.low_stock_alert
		ORDER BY i.variant_id, i.branch_id`, storeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.InventoryRecord
	for rows.Next() {
		rec, err := scanInventory(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

type counterRepo struct{ q pgx.Tx }

// Increment upserts the day's counter; the row lock it takes serialises
// concurrent checkouts on the same day until commit.
func (r counterRepo) Increment(ctx context.Context, day string) (int, error) {
	var n int
	err := r.q.QueryRow(ctx, `
		INSERT INTO order_sequence_counters (day, value) VALUES ($1, 1)
		ON CONFLICT (day) DO UPDATE SET value = order_sequence_counters.value + 1
		RETURNING value`, day).Scan(&n)
	return n, err
}

type activityRepo struct{ q pgx.Tx }

func (r activityRepo) Append(ctx context.Context, a domain.Activity) error {
	_, err := r.q.Exec(ctx, `
		INSERT INTO order_activities (id, order_id, actor_user_id, action, description, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		a.ID, a.OrderID, nullable(a.ActorUserID), a.Action, a.Description, a.CreatedAt)
	return err
}

type cartRepo struct{ q pgx.Tx }

func (r cartRepo) RemoveLines(ctx context.Context, userID string, lines []domain.CartLine) error {
	if userID == "" || len(lines) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, l := range lines {
		batch.Queue(`DELETE FROM cart_items WHERE user_id = $1 AND product_id = $2 AND variant_id = $3`,
			userID, l.ProductID, l.VariantID)
	}
	return r.q.SendBatch(ctx, batch).Close()
}
