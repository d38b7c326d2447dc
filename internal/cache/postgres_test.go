package cache_test

import (
	"context"
	"os"
	"testing"

	"github.com/lionelramela/deafcare/internal/cache"
)

// testDSN returns the test database DSN from the environment, or skips the
// test if DEAFCARE_TEST_POSTGRES_DSN is not set.
func testDSN(t *testing.T) string {
	t.Helper()
	dsn := os.Getenv("DEAFCARE_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("DEAFCARE_TEST_POSTGRES_DSN not set, skipping PostgreSQL integration tests")
	}
	return dsn
}

func TestPostgresStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	s, err := cache.NewPostgresStore(ctx, testDSN(t))
	if err != nil {
		t.Fatalf("NewPostgresStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	slot := "test_" + t.Name()
	if err := s.Save(ctx, slot, sampleSnapshot()); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := s.Load(ctx, slot)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	assertSnapshotEqual(t, got, sampleSnapshot())

	if err := s.Ping(ctx); err != nil {
		t.Errorf("Ping: %v", err)
	}
}
