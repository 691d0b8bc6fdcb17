package sqlite

import (
	"context"
	"crypto/rand"
	"fmt"
)

const (
	keySaltName = "token_key_salt"
	keySaltSize = 16
)

// KeySalt returns the store's sealing salt. Concurrent first calls from
// different processes agree on a single value.
func (s *Storage) KeySalt(ctx context.Context) ([]byte, error) {
	candidate := make([]byte, keySaltSize)
	if _, err := rand.Read(candidate); err != nil {
		return nil, fmt.Errorf("generate key salt: %w", err)
	}

	var salt []byte
	err := s.retry.WithRetry(ctx, func() error {
		if _, err := s.db.ExecContext(ctx,
			`INSERT OR IGNORE INTO client_meta (key, value) VALUES (?, ?)`, keySaltName, candidate,
		); err != nil {
			return err
		}
		return s.db.QueryRowContext(ctx, `SELECT value FROM client_meta WHERE key = ?`, keySaltName).Scan(&salt)
	})
	if err != nil {
		return nil, err
	}
	return salt, nil
}
