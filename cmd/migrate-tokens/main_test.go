package main

import (
	"context"
	"database/sql"
	"testing"

	"github.com/sdingwan/combined-chat/crypto"
	"github.com/sdingwan/combined-chat/testutil"
)

const testKey = "dGVzdC1lbmNyeXB0aW9uLWtleS0zMi1ieXRlcwo="

func setupMigrationDB(t *testing.T) *sql.DB {
	t.Helper()
	db := testutil.SetupTestDB(t)
	t.Cleanup(func() {
		_, _ = db.Exec(`DELETE FROM oauth_tokens WHERE provider LIKE 'test-%'`)
	})
	return db
}

func insertPlaintextToken(t *testing.T, db *sql.DB, provider, access, refresh string) {
	t.Helper()
	_, err := db.Exec(
		`INSERT INTO oauth_tokens (provider, access_token, refresh_token, expires_at, scope, encryption_version)
		 VALUES ($1, $2, $3, NOW() + INTERVAL '1 hour', 'test:scope', 0)
		 ON CONFLICT (provider) DO UPDATE SET
		   access_token = EXCLUDED.access_token,
		   refresh_token = EXCLUDED.refresh_token,
		   encryption_version = 0`,
		provider, access, refresh)
	if err != nil {
		t.Fatalf("failed to insert test token: %v", err)
	}
}

func TestMigrateTokens_DryRun(t *testing.T) {
	db := setupMigrationDB(t)
	ctx := context.Background()

	encryptor, err := crypto.NewAESEncryptor(testKey)
	if err != nil {
		t.Fatalf("failed to create encryptor: %v", err)
	}

	provider := "test-provider-dryrun"
	insertPlaintextToken(t, db, provider, "test-access-token", "test-refresh-token")

	if err := migrateTokens(ctx, db, encryptor, true, ""); err != nil {
		t.Fatalf("migrateTokens(dry-run) failed: %v", err)
	}

	var storedAccess string
	var encVersion int
	err = db.QueryRowContext(ctx,
		`SELECT access_token, encryption_version FROM oauth_tokens WHERE provider = $1`,
		provider).Scan(&storedAccess, &encVersion)
	if err != nil {
		t.Fatalf("failed to query token: %v", err)
	}

	if encVersion != 0 {
		t.Errorf("dry-run should not change encryption_version, got %d", encVersion)
	}
	if storedAccess != "test-access-token" {
		t.Errorf("dry-run should not change access_token, got %q", storedAccess)
	}
}

func TestMigrateTokens_RealMigration(t *testing.T) {
	db := setupMigrationDB(t)
	ctx := context.Background()

	encryptor, err := crypto.NewAESEncryptor(testKey)
	if err != nil {
		t.Fatalf("failed to create encryptor: %v", err)
	}

	tokens := []struct {
		provider     string
		accessToken  string
		refreshToken string
	}{
		{"test-provider-1", "access-token-1", "refresh-token-1"},
		{"test-provider-2", "access-token-2", "refresh-token-2"},
	}
	for _, token := range tokens {
		insertPlaintextToken(t, db, token.provider, token.accessToken, token.refreshToken)
	}

	if err := migrateTokens(ctx, db, encryptor, false, ""); err != nil {
		t.Fatalf("migrateTokens() failed: %v", err)
	}

	for _, token := range tokens {
		var storedAccess, storedRefresh string
		var encVersion int
		var encKeyID sql.NullString

		err = db.QueryRowContext(ctx,
			`SELECT access_token, refresh_token, encryption_version, encryption_key_id
			 FROM oauth_tokens WHERE provider = $1`,
			token.provider).Scan(&storedAccess, &storedRefresh, &encVersion, &encKeyID)
		if err != nil {
			t.Fatalf("failed to query migrated token: %v", err)
		}

		if encVersion != 1 {
			t.Errorf("expected encryption_version=1, got %d", encVersion)
		}
		if !encKeyID.Valid || encKeyID.String != "default" {
			t.Errorf("expected encryption_key_id='default', got %v", encKeyID)
		}
		if storedAccess == token.accessToken {
			t.Errorf("access_token should be encrypted, still plaintext")
		}
		if storedRefresh == token.refreshToken {
			t.Errorf("refresh_token should be encrypted, still plaintext")
		}

		decryptedAccess, err := crypto.DecryptString(encryptor, storedAccess)
		if err != nil {
			t.Fatalf("failed to decrypt access_token: %v", err)
		}
		if decryptedAccess != token.accessToken {
			t.Errorf("decrypted access_token = %q, want %q", decryptedAccess, token.accessToken)
		}

		decryptedRefresh, err := crypto.DecryptString(encryptor, storedRefresh)
		if err != nil {
			t.Fatalf("failed to decrypt refresh_token: %v", err)
		}
		if decryptedRefresh != token.refreshToken {
			t.Errorf("decrypted refresh_token = %q, want %q", decryptedRefresh, token.refreshToken)
		}
	}
}

func TestMigrateTokens_ProviderFilter(t *testing.T) {
	db := setupMigrationDB(t)
	ctx := context.Background()

	encryptor, err := crypto.NewAESEncryptor(testKey)
	if err != nil {
		t.Fatalf("failed to create encryptor: %v", err)
	}

	insertPlaintextToken(t, db, "test-provider-filter-1", "access-x", "refresh-x")
	insertPlaintextToken(t, db, "test-provider-filter-2", "access-y", "refresh-y")

	if err := migrateTokens(ctx, db, encryptor, false, "test-provider-filter-1"); err != nil {
		t.Fatalf("migrateTokens() with provider filter failed: %v", err)
	}

	var encVersion1 int
	err = db.QueryRowContext(ctx,
		`SELECT encryption_version FROM oauth_tokens WHERE provider = 'test-provider-filter-1'`).Scan(&encVersion1)
	if err != nil {
		t.Fatalf("failed to query filtered provider: %v", err)
	}
	if encVersion1 != 1 {
		t.Errorf("filtered provider should be encrypted (version=1), got version=%d", encVersion1)
	}

	var encVersion2 int
	err = db.QueryRowContext(ctx,
		`SELECT encryption_version FROM oauth_tokens WHERE provider = 'test-provider-filter-2'`).Scan(&encVersion2)
	if err != nil {
		t.Fatalf("failed to query other provider: %v", err)
	}
	if encVersion2 != 0 {
		t.Errorf("other provider should still be plaintext (version=0), got version=%d", encVersion2)
	}
}

func TestMigrateTokens_NoTokens(t *testing.T) {
	db := setupMigrationDB(t)

	encryptor, err := crypto.NewAESEncryptor(testKey)
	if err != nil {
		t.Fatalf("failed to create encryptor: %v", err)
	}

	if err := migrateTokens(context.Background(), db, encryptor, false, ""); err != nil {
		t.Fatalf("migrateTokens() on empty table should succeed, got error: %v", err)
	}
}

func TestMigrateTokens_Idempotent(t *testing.T) {
	db := setupMigrationDB(t)
	ctx := context.Background()

	encryptor, err := crypto.NewAESEncryptor(testKey)
	if err != nil {
		t.Fatalf("failed to create encryptor: %v", err)
	}

	provider := "test-provider-idempotent"
	insertPlaintextToken(t, db, provider, "access-token", "refresh-token")

	if err := migrateTokens(ctx, db, encryptor, false, ""); err != nil {
		t.Fatalf("first migration failed: %v", err)
	}
	if err := migrateTokens(ctx, db, encryptor, false, ""); err != nil {
		t.Fatalf("second migration failed: %v", err)
	}

	var encVersion int
	err = db.QueryRowContext(ctx,
		`SELECT encryption_version FROM oauth_tokens WHERE provider = $1`,
		provider).Scan(&encVersion)
	if err != nil {
		t.Fatalf("failed to query token: %v", err)
	}
	if encVersion != 1 {
		t.Errorf("expected encryption_version=1, got %d", encVersion)
	}
}

func TestMigrateToken_EmptyTokens(t *testing.T) {
	db := setupMigrationDB(t)
	ctx := context.Background()

	encryptor, err := crypto.NewAESEncryptor(testKey)
	if err != nil {
		t.Fatalf("failed to create encryptor: %v", err)
	}

	provider := "test-provider-empty"
	insertPlaintextToken(t, db, provider, "", "")

	if err := migrateTokens(ctx, db, encryptor, false, ""); err != nil {
		t.Fatalf("migration failed: %v", err)
	}

	var encVersion int
	var storedAccess, storedRefresh string
	err = db.QueryRowContext(ctx,
		`SELECT access_token, refresh_token, encryption_version FROM oauth_tokens WHERE provider = $1`,
		provider).Scan(&storedAccess, &storedRefresh, &encVersion)
	if err != nil {
		t.Fatalf("failed to query token: %v", err)
	}

	if encVersion != 1 {
		t.Errorf("expected encryption_version=1, got %d", encVersion)
	}
	if storedAccess != "" {
		t.Errorf("expected empty access_token, got %q", storedAccess)
	}
	if storedRefresh != "" {
		t.Errorf("expected empty refresh_token, got %q", storedRefresh)
	}
}
