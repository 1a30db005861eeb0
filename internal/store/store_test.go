package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/google/uuid"

	"github.com/pipetrace/agent/internal/db"
)

func setupTestRepo(t *testing.T) *SQLiteRepository {
	t.Helper()
	database, err := db.New(filepath.Join(t.TempDir(), "test.db"), nil)
	if err != nil {
		t.Fatalf("db.New() error = %v", err)
	}
	t.Cleanup(func() { database.Close() })
	return NewRepository(database.Conn())
}

func TestConfig_GetMissing(t *testing.T) {
	repo := setupTestRepo(t)

	got, err := repo.GetConfig(context.Background(), "nope")
	if err != nil {
		t.Fatalf("GetConfig() error = %v", err)
	}
	if got != "" {
		t.Errorf("GetConfig() = %q, want empty", got)
	}
}

func TestConfig_SetOverwrites(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()

	if err := repo.SetConfig(ctx, "k", "one"); err != nil {
		t.Fatalf("SetConfig() error = %v", err)
	}
	if err := repo.SetConfig(ctx, "k", "two"); err != nil {
		t.Fatalf("SetConfig() error = %v", err)
	}
	got, _ := repo.GetConfig(ctx, "k")
	if got != "two" {
		t.Errorf("GetConfig() = %q, want two", got)
	}
}

func TestEnsureDeviceID_Stable(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()

	first, err := EnsureDeviceID(ctx, repo)
	if err != nil {
		t.Fatalf("EnsureDeviceID() error = %v", err)
	}
	if _, err := uuid.Parse(first); err != nil {
		t.Errorf("device id %q is not a uuid: %v", first, err)
	}

	second, err := EnsureDeviceID(ctx, repo)
	if err != nil {
		t.Fatalf("EnsureDeviceID() error = %v", err)
	}
	if first != second {
		t.Errorf("device id changed: %q -> %q", first, second)
	}
}

func TestEnsureAuthToken(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()

	token, err := EnsureAuthToken(ctx, repo)
	if err != nil {
		t.Fatalf("EnsureAuthToken() error = %v", err)
	}
	if len(token) != 64 {
		t.Errorf("token length = %d, want 64", len(token))
	}
	again, _ := EnsureAuthToken(ctx, repo)
	if again != token {
		t.Error("token should persist across calls")
	}
}
