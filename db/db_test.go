package db

import (
	"context"
	"database/sql"
	"os"
	"testing"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	dsn := os.Getenv("TEST_PG_DSN")
	if dsn == "" {
		t.Skip("TEST_PG_DSN not set; skipping postgres test")
	}
	dbx, err := sql.Open("pgx", dsn)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { dbx.Close() })
	if err := Migrate(context.Background(), dbx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return dbx
}

func TestMigrateIdempotent(t *testing.T) {
	dbx := openTestDB(t)
	// Second run must be a no-op.
	if err := Migrate(context.Background(), dbx); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
}

func TestCacheStoreRoundTrip(t *testing.T) {
	dbx := openTestDB(t)
	ctx := context.Background()
	store := &CacheStore{DB: dbx}

	exp := time.Now().Add(time.Hour).UTC().Truncate(time.Second)
	if err := store.Put(ctx, "twitch:somechannel", `{"id":"123"}`, exp); err != nil {
		t.Fatalf("put: %v", err)
	}
	value, expiresAt, err := store.Get(ctx, "twitch:somechannel")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if value != `{"id":"123"}` {
		t.Fatalf("unexpected value %q", value)
	}
	if !expiresAt.UTC().Truncate(time.Second).Equal(exp) {
		t.Fatalf("expiry mismatch: got %v want %v", expiresAt, exp)
	}

	// Overwrite wins.
	if err := store.Put(ctx, "twitch:somechannel", `{"id":"456"}`, exp); err != nil {
		t.Fatalf("put overwrite: %v", err)
	}
	value, _, err = store.Get(ctx, "twitch:somechannel")
	if err != nil || value != `{"id":"456"}` {
		t.Fatalf("overwrite not visible: %q %v", value, err)
	}

	if err := store.Delete(ctx, "twitch:somechannel", "twitch:alias"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	value, _, err = store.Get(ctx, "twitch:somechannel")
	if err != nil {
		t.Fatalf("get after delete: %v", err)
	}
	if value != "" {
		t.Fatalf("expected miss after delete, got %q", value)
	}
}

func TestPruneExpired(t *testing.T) {
	dbx := openTestDB(t)
	ctx := context.Background()
	store := &CacheStore{DB: dbx}

	if err := store.Put(ctx, "prune:old", "x", time.Now().Add(-time.Minute)); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := store.Put(ctx, "prune:new", "y", time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("put: %v", err)
	}
	if _, err := PruneExpired(ctx, dbx); err != nil {
		t.Fatalf("prune: %v", err)
	}
	value, _, err := store.Get(ctx, "prune:old")
	if err != nil || value != "" {
		t.Fatalf("expected pruned row gone, got %q %v", value, err)
	}
	value, _, err = store.Get(ctx, "prune:new")
	if err != nil || value == "" {
		t.Fatalf("expected live row to survive, got %q %v", value, err)
	}
}

func TestOAuthTokenRoundTrip(t *testing.T) {
	dbx := openTestDB(t)
	ctx := context.Background()

	expiry := time.Now().Add(30 * time.Minute).UTC().Truncate(time.Second)
	if err := UpsertOAuthToken(ctx, dbx, "kick", "acc-1", "ref-1", expiry, "chat:read"); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	access, refresh, exp, scope, err := GetOAuthToken(ctx, dbx, "kick")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if access != "acc-1" || refresh != "ref-1" || scope != "chat:read" {
		t.Fatalf("unexpected row: %q %q %q", access, refresh, scope)
	}
	if !exp.UTC().Truncate(time.Second).Equal(expiry) {
		t.Fatalf("expiry mismatch: got %v want %v", exp, expiry)
	}

	// Unknown provider yields zero values, not an error.
	access, refresh, _, _, err = GetOAuthToken(ctx, dbx, "nope")
	if err != nil || access != "" || refresh != "" {
		t.Fatalf("expected zero row, got %q %q %v", access, refresh, err)
	}
}
