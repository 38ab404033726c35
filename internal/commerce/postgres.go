package commerce

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const ddlCommerce = `
CREATE TABLE IF NOT EXISTS orders (
    id          TEXT         PRIMARY KEY,
    status      TEXT         NOT NULL,
    tracking    TEXT         NOT NULL DEFAULT '',
    created_at  TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS invoices (
    id          TEXT              PRIMARY KEY,
    amount      DOUBLE PRECISION  NOT NULL,
    status      TEXT              NOT NULL,
    created_at  TIMESTAMPTZ       NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS refunds (
    id            TEXT              PRIMARY KEY,
    invoice_id    TEXT              NOT NULL REFERENCES invoices (id) ON DELETE CASCADE,
    amount        DOUBLE PRECISION  NOT NULL,
    status        TEXT              NOT NULL,
    reason        TEXT              NOT NULL DEFAULT '',
    processed_at  TIMESTAMPTZ,
    created_at    TIMESTAMPTZ       NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_refunds_invoice_created
    ON refunds (invoice_id, created_at);
`

// PostgresStore is a PostgreSQL-backed commerce store. All methods are
// safe for concurrent use.
type PostgresStore struct {
	pool *pgxpool.Pool
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore connects to dsn, verifies the connection and creates
// the schema if needed.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("commerce store: parse dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("commerce store: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("commerce store: ping: %w", err)
	}

	if _, err := pool.Exec(ctx, ddlCommerce); err != nil {
		pool.Close()
		return nil, fmt.Errorf("commerce store: migrate: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

// Close releases the connection pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// Order looks up an order by ID.
func (s *PostgresStore) Order(ctx context.Context, id string) (*Order, error) {
	const q = `SELECT id, status, tracking, created_at FROM orders WHERE id = $1`

	var o Order
	err := s.pool.QueryRow(ctx, q, id).Scan(&o.ID, &o.Status, &o.Tracking, &o.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("commerce store: get order: %w", err)
	}
	return &o, nil
}

// Invoice looks up an invoice by ID.
func (s *PostgresStore) Invoice(ctx context.Context, id string) (*Invoice, error) {
	const q = `SELECT id, amount, status, created_at FROM invoices WHERE id = $1`

	var inv Invoice
	err := s.pool.QueryRow(ctx, q, id).Scan(&inv.ID, &inv.Amount, &inv.Status, &inv.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("commerce store: get invoice: %w", err)
	}
	return &inv, nil
}

// LatestRefund returns the newest refund recorded against invoiceID.
func (s *PostgresStore) LatestRefund(ctx context.Context, invoiceID string) (*Refund, error) {
	const q = `
		SELECT id, invoice_id, amount, status, reason, processed_at, created_at
		FROM   refunds
		WHERE  invoice_id = $1
		ORDER  BY created_at DESC, id DESC
		LIMIT  1`

	var (
		r      Refund
		status string
	)
	err := s.pool.QueryRow(ctx, q, invoiceID).Scan(
		&r.ID, &r.InvoiceID, &r.Amount, &status, &r.Reason, &r.ProcessedAt, &r.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("commerce store: latest refund: %w", err)
	}
	r.Status = RefundStatus(status)
	return &r, nil
}

// UpdateRefundStatus sets status on every refund of invoiceID.
func (s *PostgresStore) UpdateRefundStatus(ctx context.Context, invoiceID string, status RefundStatus, processedAt time.Time) (int64, error) {
	const q = `UPDATE refunds SET status = $1, processed_at = $2 WHERE invoice_id = $3`

	var processed *time.Time
	if status == RefundCompleted {
		processed = &processedAt
	}

	tag, err := s.pool.Exec(ctx, q, string(status), processed, invoiceID)
	if err != nil {
		return 0, fmt.Errorf("commerce store: update refunds: %w", err)
	}
	return tag.RowsAffected(), nil
}

// PutOrder inserts or updates an order.
func (s *PostgresStore) PutOrder(ctx context.Context, o Order) error {
	const q = `
		INSERT INTO orders (id, status, tracking, created_at) VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET status = EXCLUDED.status, tracking = EXCLUDED.tracking`

	if _, err := s.pool.Exec(ctx, q, o.ID, o.Status, o.Tracking, o.CreatedAt); err != nil {
		return fmt.Errorf("commerce store: put order: %w", err)
	}
	return nil
}

// PutInvoice inserts or updates an invoice.
func (s *PostgresStore) PutInvoice(ctx context.Context, inv Invoice) error {
	const q = `
		INSERT INTO invoices (id, amount, status, created_at) VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET amount = EXCLUDED.amount, status = EXCLUDED.status`

	if _, err := s.pool.Exec(ctx, q, inv.ID, inv.Amount, inv.Status, inv.CreatedAt); err != nil {
		return fmt.Errorf("commerce store: put invoice: %w", err)
	}
	return nil
}

// PutRefund inserts or updates a refund.
func (s *PostgresStore) PutRefund(ctx context.Context, r Refund) error {
	const q = `
		INSERT INTO refunds (id, invoice_id, amount, status, reason, processed_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
		    invoice_id = EXCLUDED.invoice_id,
		    amount = EXCLUDED.amount,
		    status = EXCLUDED.status,
		    reason = EXCLUDED.reason,
		    processed_at = EXCLUDED.processed_at`

	_, err := s.pool.Exec(ctx, q, r.ID, r.InvoiceID, r.Amount, string(r.Status), r.Reason, r.ProcessedAt, r.CreatedAt)
	if err != nil {
		return fmt.Errorf("commerce store: put refund: %w", err)
	}
	return nil
}
