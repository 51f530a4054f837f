package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/ariefcatur/marketplace-fulfillment/internal/domain"
)

const activeBookingIndex = "delivery_bookings_active_order_uidx"

type bookingRepo struct{ q pgx.Tx }

const bookingColumns = `id, order_id, consignment_id, status, retry_count, last_error, created_at, updated_at, deleted_at`

func (r bookingRepo) one(ctx context.Context, op, what, arg, query string) (domain.DeliveryBooking, error) {
	var (
		b           domain.DeliveryBooking
		consignment *string
	)
	err := r.q.QueryRow(ctx, query, arg).Scan(&b.ID, &b.OrderID, &consignment, &b.Status,
		&b.RetryCount, &b.LastError, &b.CreatedAt, &b.UpdatedAt, &b.DeletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return b, domain.NotFound("postgres."+op, what, arg)
	}
	b.ConsignmentID = deref(consignment)
	return b, err
}

func (r bookingRepo) Active(ctx context.Context, orderID string) (domain.DeliveryBooking, error) {
	return r.one(ctx, "bookings.active", "delivery booking for order", orderID, `
		SELECT `+bookingColumns+` FROM delivery_bookings
		WHERE order_id = $1 AND deleted_at IS NULL
		FOR UPDATE`)
}

func (r bookingRepo) ByConsignment(ctx context.Context, consignmentID string) (domain.DeliveryBooking, error) {
	return r.one(ctx, "bookings.by_consignment", "consignment", consignmentID, `
		SELECT `+bookingColumns+` FROM delivery_bookings
		WHERE consignment_id = $1 AND deleted_at IS NULL
		FOR UPDATE`)
}

func (r bookingRepo) Insert(ctx context.Context, b domain.DeliveryBooking) error {
	_, err := r.q.Exec(ctx, `
		INSERT INTO delivery_bookings (`+bookingColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		b.ID, b.OrderID, nullable(b.ConsignmentID), b.Status, b.RetryCount, b.LastError,
		b.CreatedAt, b.UpdatedAt, b.DeletedAt)
	if isUniqueViolation(err, activeBookingIndex) {
		return domain.New("postgres.bookings.insert", domain.KindDeliveryAlreadyBooked, "order "+b.OrderID+" already has a delivery booking")
	}
	return err
}

func (r bookingRepo) Update(ctx context.Context, b domain.DeliveryBooking) error {
	ct, err := r.q.Exec(ctx, `
		UPDATE delivery_bookings
		SET consignment_id = $2, status = $3, retry_count = $4, last_error = $5, updated_at = $6
		WHERE id = $1`,
		b.ID, nullable(b.ConsignmentID), b.Status, b.RetryCount, b.LastError, b.UpdatedAt)
	if err != nil {
		return err
	}
	if ct.RowsAffected() != 1 {
		return domain.NotFound("postgres.bookings.update", "delivery booking", b.ID)
	}
	return nil
}

func (r bookingRepo) SoftDelete(ctx context.Context, id string, at time.Time) error {
	ct, err := r.q.Exec(ctx, `
		UPDATE delivery_bookings SET deleted_at = $2, updated_at = $2
		WHERE id = $1 AND deleted_at IS NULL`, id, at)
	if err != nil {
		return err
	}
	if ct.RowsAffected() != 1 {
		return domain.NotFound("postgres.bookings.delete", "delivery booking", id)
	}
	return nil
}
