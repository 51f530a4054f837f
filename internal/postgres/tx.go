package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ariefcatur/marketplace-fulfillment/internal/activity"
	"github.com/ariefcatur/marketplace-fulfillment/internal/inventory"
	"github.com/ariefcatur/marketplace-fulfillment/internal/sequence"
	"github.com/ariefcatur/marketplace-fulfillment/internal/store"
)

// TxManager runs units of work in READ COMMITTED transactions. Rows that are
// checked and then written are read with SELECT ... FOR UPDATE.
type TxManager struct {
	DB *pgxpool.Pool
}

var _ store.Manager = (*TxManager)(nil)

func NewTxManager(db *pgxpool.Pool) *TxManager { return &TxManager{DB: db} }

func (m *TxManager) InTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	ptx, err := m.DB.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("postgres begin: %w", err)
	}
	defer func() { _ = ptx.Rollback(ctx) }()

	if err := fn(ctx, &tx{q: ptx}); err != nil {
		return err
	}
	if err := ptx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres commit: %w", err)
	}
	return nil
}

type tx struct {
	q pgx.Tx
}

func (t *tx) Inventory() inventory.Store { return inventoryRepo{t.q} }
func (t *tx) Counters() sequence.Store { return counterRepo{t.q} }
func (t *tx) Activities() activity.Store { return activityRepo{t.q} }
func (t *tx) Orders() store.OrderRepository { return orderRepo{t.q} }
func (t *tx) Bookings() store.BookingRepository { return bookingRepo{t.q} }
func (t *tx) Catalog() store.CatalogReader { return catalogRepo{t.q} }
func (t *tx) Carts() store.CartRepository { return cartRepo{t.q} }

func isUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != "23505" {
		return false
	}
	return constraint == "" || pgErr.ConstraintName == constraint
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
