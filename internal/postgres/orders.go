package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/ariefcatur/marketplace-fulfillment/internal/domain"
)

type orderRepo struct{ q pgx.Tx }

const orderColumns = `id, order_number, status, store_id, assigned_branch_id, customer_user_id,
	contact_name, contact_phone, contact_email, contact_address, contact_city, contact_area,
	delivery_zone, subtotal, total_discount, delivery_charge, total_amount, payment_method, note,
	is_manual, cancelled_at, cancelled_by, cancel_reason, created_at, updated_at`

func scanOrder(row pgx.Row) (domain.Order, error) {
	var (
		o                domain.Order
		branch, customer *string
	)
	err := row.Scan(&o.ID, &o.OrderNumber, &o.Status, &o.StoreID, &branch, &customer,
		&o.Contact.Name, &o.Contact.Phone, &o.Contact.Email, &o.Contact.Address, &o.Contact.City, &o.Contact.Area,
		&o.DeliveryZone, &o.Subtotal, &o.TotalDiscount, &o.DeliveryCharge, &o.TotalAmount, &o.PaymentMethod, &o.Note,
		&o.Manual, &o.CancelledAt, &o.CancelledBy, &o.CancelReason, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return o, err
	}
	o.AssignedBranchID = deref(branch)
	o.CustomerUserID = deref(customer)
	return o, nil
}

func (r orderRepo) Insert(ctx context.Context, o domain.Order) error {
	_, err := r.q.Exec(ctx, `
		INSERT INTO orders (`+orderColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13,
		        $14, $15, $16, $17, $18, $19, $20, $21, $22, $23, $24, $25)`,
		o.ID, o.OrderNumber, o.Status, o.StoreID, nullable(o.AssignedBranchID), nullable(o.CustomerUserID),
		o.Contact.Name, o.Contact.Phone, o.Contact.Email, o.Contact.Address, o.Contact.City, o.Contact.Area,
		o.DeliveryZone, o.Subtotal, o.TotalDiscount, o.DeliveryCharge, o.TotalAmount, o.PaymentMethod, o.Note,
		o.Manual, o.CancelledAt, o.CancelledBy, o.CancelReason, o.CreatedAt, o.UpdatedAt)
	if err != nil {
		return err
	}
	return r.insertItems(ctx, o.ID, o.Items)
}

func (r orderRepo) Get(ctx context.Context, id string) (domain.Order, error) {
	return r.load(ctx, "orders.get", `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id)
}

func (r orderRepo) GetForUpdate(ctx context.Context, id string) (domain.Order, error) {
	return r.load(ctx, "orders.get_for_update", `SELECT `+orderColumns+` FROM orders WHERE id = $1 FOR UPDATE`, id)
}

func (r orderRepo) GetByNumber(ctx context.Context, number string) (domain.Order, error) {
	return r.load(ctx, "orders.get_by_number", `SELECT `+orderColumns+` FROM orders WHERE order_number = $1`, number)
}

func (r orderRepo) load(ctx context.Context, op, query, arg string) (domain.Order, error) {
	o, err := scanOrder(r.q.QueryRow(ctx, query, arg))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Order{}, domain.NotFound("postgres."+op, "order", arg)
	}
	if err != nil {
		return domain.Order{}, err
	}
	if o.Items, err = r.items(ctx, o.ID); err != nil {
		return domain.Order{}, err
	}
	return o, nil
}

func (r orderRepo) Update(ctx context.Context, o domain.Order) error {
	ct, err := r.q.Exec(ctx, `
		UPDATE orders SET
			status = $2, assigned_branch_id = $3,
			contact_name = $4, contact_phone = $5, contact_email = $6,
			contact_address = $7, contact_city = $8, contact_area = $9,
			delivery_zone = $10, subtotal = $11, total_discount = $12,
			delivery_charge = $13, total_amount = $14, note = $15,
			cancelled_at = $16, cancelled_by = $17, cancel_reason = $18, updated_at = $19
		WHERE id = $1`,
		o.ID, o.Status, nullable(o.AssignedBranchID),
		o.Contact.Name, o.Contact.Phone, o.Contact.Email,
		o.Contact.Address, o.Contact.City, o.Contact.Area,
		o.DeliveryZone, o.Subtotal, o.TotalDiscount,
		o.DeliveryCharge, o.TotalAmount, o.Note,
		o.CancelledAt, o.CancelledBy, o.CancelReason, o.UpdatedAt)
	if err != nil {
		return err
	}
	if ct.RowsAffected() != 1 {
		return domain.NotFound("postgres.orders.update", "order", o.ID)
	}
	return nil
}

func (r orderRepo) ReplaceItems(ctx context.Context, orderID string, items []domain.OrderItem) error {
	if _, err := r.q.Exec(ctx, `DELETE FROM order_items WHERE order_id = $1`, orderID); err != nil {
		return err
	}
	return r.insertItems(ctx, orderID, items)
}

func (r orderRepo) insertItems(ctx context.Context, orderID string, items []domain.OrderItem) error {
	if len(items) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for i, it := range items {
		batch.Queue(`
			INSERT INTO order_items (id, order_id, branch_id, product_id, variant_id, quantity,
				unit_price, discount, line_total, product_name, variant_name, image_url, position)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
			it.ID, orderID, nullable(it.BranchID), it.ProductID, nullable(it.VariantID), it.Quantity,
			it.UnitPrice, it.Discount, it.LineTotal, it.ProductName, it.VariantName, it.ImageURL, i)
	}
	return r.q.SendBatch(ctx, batch).Close()
}

func (r orderRepo) items(ctx context.Context, orderID string) ([]domain.OrderItem, error) {
	rows, err := r.q.Query(ctx, `
		SELECT id, order_id, branch_id, product_id, variant_id, quantity,
		       unit_price, discount, line_total, product_name, variant_name, image_url
		FROM order_items WHERE order_id = $1 ORDER BY position`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.OrderItem
	for rows.Next() {
		var (
			it              domain.OrderItem
			branch, variant *string
		)
		if err := rows.Scan(&it.ID, &it.OrderID, &branch, &it.ProductID, &variant, &it.Quantity,
			&it.UnitPrice, &it.Discount, &it.LineTotal, &it.ProductName, &it.VariantName, &it.ImageURL); err != nil {
			return nil, err
		}
		it.BranchID = deref(branch)
		it.VariantID = deref(variant)
		out = append(out, it)
	}
	return out, rows.Err()
}
