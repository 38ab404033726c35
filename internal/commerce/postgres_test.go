package commerce

import (
	"context"
	"os"
	"testing"
)

// testDSN returns the test database DSN from the environment, or skips the
// test if SUPPORT_AGENT_TEST_POSTGRES_DSN is not set.
func testDSN(t *testing.T) string {
	t.Helper()
	dsn := os.Getenv("SUPPORT_AGENT_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("SUPPORT_AGENT_TEST_POSTGRES_DSN not set, skipping PostgreSQL integration tests")
	}
	return dsn
}

func TestPostgresStore(t *testing.T) {
	dsn := testDSN(t)
	ctx := context.Background()

	s, err := NewPostgresStore(ctx, dsn)
	if err != nil {
		t.Fatalf("NewPostgresStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	if _, err := s.pool.Exec(ctx, `TRUNCATE refunds, invoices, orders`); err != nil {
		t.Fatalf("truncate: %v", err)
	}

	exerciseStore(t, s)
}

func TestNewPostgresStore_BadDSN(t *testing.T) {
	if _, err := NewPostgresStore(context.Background(), "not a dsn ::"); err == nil {
		t.Fatal("expected error for malformed DSN")
	}
}
