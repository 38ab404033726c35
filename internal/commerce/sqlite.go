package commerce

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore is a SQLite-backed commerce store.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore opens (creating if needed) the database at dbPath.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS orders (
		id TEXT PRIMARY KEY,
		status TEXT NOT NULL,
		tracking TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS invoices (
		id TEXT PRIMARY KEY,
		amount REAL NOT NULL,
		status TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS refunds (
		id TEXT PRIMARY KEY,
		invoice_id TEXT NOT NULL,
		amount REAL NOT NULL,
		status TEXT NOT NULL,
		reason TEXT NOT NULL DEFAULT '',
		processed_at TIMESTAMP,
		created_at TIMESTAMP NOT NULL,
		FOREIGN KEY (invoice_id) REFERENCES invoices(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_refunds_invoice ON refunds(invoice_id, created_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Order looks up an order by ID.
func (s *SQLiteStore) Order(ctx context.Context, id string) (*Order, error) {
	var o Order
	err := s.db.QueryRowContext(ctx, `
		SELECT id, status, tracking, created_at FROM orders WHERE id = ?
	`, id).Scan(&o.ID, &o.Status, &o.Tracking, &o.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query order: %w", err)
	}
	return &o, nil
}

// Invoice looks up an invoice by ID.
func (s *SQLiteStore) Invoice(ctx context.Context, id string) (*Invoice, error) {
	var inv Invoice
	err := s.db.QueryRowContext(ctx, `
		SELECT id, amount, status, created_at FROM invoices WHERE id = ?
	`, id).Scan(&inv.ID, &inv.Amount, &inv.Status, &inv.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query invoice: %w", err)
	}
	return &inv, nil
}

// LatestRefund returns the newest refund recorded against invoiceID.
func (s *SQLiteStore) LatestRefund(ctx context.Context, invoiceID string) (*Refund, error) {
	var (
		r         Refund
		status    string
		processed sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, invoice_id, amount, status, reason, processed_at, created_at
		FROM refunds
		WHERE invoice_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT 1
	`, invoiceID).Scan(&r.ID, &r.InvoiceID, &r.Amount, &status, &r.Reason, &processed, &r.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query refund: %w", err)
	}
	r.Status = RefundStatus(status)
	if processed.Valid {
		t := processed.Time
		r.ProcessedAt = &t
	}
	return &r, nil
}

// UpdateRefundStatus sets status on every refund of invoiceID.
func (s *SQLiteStore) UpdateRefundStatus(ctx context.Context, invoiceID string, status RefundStatus, processedAt time.Time) (int64, error) {
	var processed sql.NullTime
	if status == RefundCompleted {
		processed = sql.NullTime{Time: processedAt, Valid: true}
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE refunds SET status = ?, processed_at = ? WHERE invoice_id = ?
	`, string(status), processed, invoiceID)
	if err != nil {
		return 0, fmt.Errorf("update refunds: %w", err)
	}
	return res.RowsAffected()
}

// PutOrder inserts or replaces an order.
func (s *SQLiteStore) PutOrder(ctx context.Context, o Order) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO orders (id, status, tracking, created_at) VALUES (?, ?, ?, ?)
	`, o.ID, o.Status, o.Tracking, o.CreatedAt)
	if err != nil {
		return fmt.Errorf("put order: %w", err)
	}
	return nil
}

// PutInvoice inserts or updates an invoice. Existing refunds are kept.
func (s *SQLiteStore) PutInvoice(ctx context.Context, inv Invoice) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO invoices (id, amount, status, created_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET amount = excluded.amount, status = excluded.status
	`, inv.ID, inv.Amount, inv.Status, inv.CreatedAt)
	if err != nil {
		return fmt.Errorf("put invoice: %w", err)
	}
	return nil
}

// PutRefund inserts or replaces a refund.
func (s *SQLiteStore) PutRefund(ctx context.Context, r Refund) error {
	var processed sql.NullTime
	if r.ProcessedAt != nil {
		processed = sql.NullTime{Time: *r.ProcessedAt, Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO refunds (id, invoice_id, amount, status, reason, processed_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, r.ID, r.InvoiceID, r.Amount, string(r.Status), r.Reason, processed, r.CreatedAt)
	if err != nil {
		return fmt.Errorf("put refund: %w", err)
	}
	return nil
}
