package repo

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"planline/internal/domain"
)

// ErrKeyExpired is returned for a key looked up after its expiry.
var ErrKeyExpired = errors.New("api key expired")

// HashAPIKey returns a stable SHA-256 hex digest for the provided key.
func HashAPIKey(key string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(key)))
	return hex.EncodeToString(sum[:])
}

const apiKeyColumns = `id, actor_id, COALESCE(name,''), key_hash, created_at, COALESCE(expires_at,''), COALESCE(last_used_at,'')`

func scanAPIKey(s scanner) (domain.APIKey, error) {
	var key domain.APIKey
	err := s.Scan(&key.ID, &key.ActorID, &key.Name, &key.KeyHash, &key.CreatedAt, &key.ExpiresAt, &key.LastUsedAt)
	return key, err
}

// InsertAPIKey stores a key whose KeyHash is already hashed.
func (r Repo) InsertAPIKey(ctx context.Context, tx *sql.Tx, key domain.APIKey) error {
	switch {
	case key.ID == "":
		return errors.New("id required")
	case key.ActorID == "":
		return errors.New("actor_id required")
	case key.KeyHash == "":
		return errors.New("key_hash required")
	}
	if key.CreatedAt == "" {
		key.CreatedAt = time.Now().UTC().Format(time.RFC3339)
	}
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO api_keys(id, actor_id, name, key_hash, created_at, expires_at) VALUES (?,?,?,?,?,?)`,
		key.ID, key.ActorID, nullable(key.Name), key.KeyHash, key.CreatedAt, nullable(key.ExpiresAt))
	return err
}

// GetAPIKeyByHash returns the key with the given hash. An expired key is
// returned together with ErrKeyExpired.
func (r Repo) GetAPIKeyByHash(ctx context.Context, hash string) (domain.APIKey, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+apiKeyColumns+` FROM api_keys WHERE key_hash=? LIMIT 1`, hash)
	key, err := scanAPIKey(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.APIKey{}, ErrNotFound
	}
	if err != nil {
		return domain.APIKey{}, err
	}
	if key.ExpiresAt != "" {
		exp, perr := time.Parse(time.RFC3339, key.ExpiresAt)
		if perr == nil && !time.Now().Before(exp) {
			return key, ErrKeyExpired
		}
	}
	return key, nil
}

// TouchAPIKey records a successful authentication with the key.
func (r Repo) TouchAPIKey(ctx context.Context, id string, at time.Time) error {
	_, err := r.DB.ExecContext(ctx, `UPDATE api_keys SET last_used_at=? WHERE id=?`, at.UTC().Format(time.RFC3339), id)
	return err
}

// ListAPIKeys returns API keys, newest first, optionally for one actor.
func (r Repo) ListAPIKeys(ctx context.Context, actorID string) ([]domain.APIKey, error) {
	query := `SELECT ` + apiKeyColumns + ` FROM api_keys`
	var args []any
	if actorID != "" {
		query += ` WHERE actor_id=?`
		args = append(args, actorID)
	}
	query += ` ORDER BY created_at DESC, id`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var keys []domain.APIKey
	for rows.Next() {
		key, err := scanAPIKey(rows)
		if err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

// DeleteAPIKey revokes a key by id.
func (r Repo) DeleteAPIKey(ctx context.Context, id string) error {
	if strings.TrimSpace(id) == "" {
		return errors.New("id required")
	}
	res, err := r.DB.ExecContext(ctx, `DELETE FROM api_keys WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
