// Package store persists the agent's identity in the local SQLite database.
package store

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

const (
	KeyDeviceID  = "device_id"
	KeyAuthToken = "auth_token"
)

// Repository is a small key/value view over the config table.
type Repository interface {
	GetConfig(ctx context.Context, key string) (string, error)
	SetConfig(ctx context.Context, key, value string) error
}

type SQLiteRepository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// GetConfig returns "" with a nil error when the key is absent.
func (r *SQLiteRepository) GetConfig(ctx context.Context, key string) (string, error) {
	var value string
	err := r.db.QueryRowContext(ctx, "SELECT value FROM config WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return value, err
}

func (r *SQLiteRepository) SetConfig(ctx context.Context, key, value string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO config (key, value, updated_at) VALUES (?, ?, datetime('now'))
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, key, value)
	return err
}

// EnsureDeviceID returns the persisted device id, generating one on first run.
// The id is sent to the job service with every request.
func EnsureDeviceID(ctx context.Context, repo Repository) (string, error) {
	return ensure(ctx, repo, KeyDeviceID, func() (string, error) {
		return uuid.NewString(), nil
	})
}

// EnsureAuthToken returns the persisted operator API bearer token,
// generating a random 32-byte hex token on first run.
func EnsureAuthToken(ctx context.Context, repo Repository) (string, error) {
	return ensure(ctx, repo, KeyAuthToken, func() (string, error) {
		tokenBytes := make([]byte, 32)
		if _, err := rand.Read(tokenBytes); err != nil {
			return "", err
		}
		return hex.EncodeToString(tokenBytes), nil
	})
}

func ensure(ctx context.Context, repo Repository, key string, generate func() (string, error)) (string, error) {
	existing, err := repo.GetConfig(ctx, key)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", key, err)
	}
	if existing != "" {
		return existing, nil
	}

	value, err := generate()
	if err != nil {
		return "", fmt.Errorf("generate %s: %w", key, err)
	}
	if err := repo.SetConfig(ctx, key, value); err != nil {
		return "", fmt.Errorf("store %s: %w", key, err)
	}
	return value, nil
}
