package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/example/classroom-booking/internal/persistence"
)

const selectSession = `
	SELECT account_id, display_name, access_token, refresh_token, revision, updated_at
	FROM client_session
	WHERE id = 1`

// LoadSession returns the stored session. ErrNotFound means no session was
// ever saved; a cleared session is returned with empty tokens.
func (s *Storage) LoadSession(ctx context.Context) (persistence.SessionState, error) {
	state, err := scanSession(s.db.QueryRowContext(ctx, selectSession))
	if err != nil {
		return persistence.SessionState{}, s.mapper.MapError(err)
	}
	return state, nil
}

// SaveSession replaces the stored session and returns it with its new
// revision.
func (s *Storage) SaveSession(ctx context.Context, state persistence.SessionState) (persistence.SessionState, error) {
	state.AccountID = strings.TrimSpace(state.AccountID)
	if state.AccessToken == "" && state.RefreshToken == "" {
		return persistence.SessionState{}, fmt.Errorf("%w: session without tokens", persistence.ErrConstraintViolation)
	}
	return s.writeSession(ctx, state)
}

// ClearSession empties the stored session but keeps the row so that the
// revision keeps increasing.
func (s *Storage) ClearSession(ctx context.Context) (persistence.SessionState, error) {
	return s.writeSession(ctx, persistence.SessionState{})
}

func (s *Storage) writeSession(ctx context.Context, state persistence.SessionState) (persistence.SessionState, error) {
	var saved persistence.SessionState
	err := s.retry.WithRetry(ctx, func() error {
		return withTransaction(ctx, s.db, func(tx *sql.Tx) error {
			var current int64
			err := tx.QueryRowContext(ctx, `SELECT revision FROM client_session WHERE id = 1`).Scan(&current)
			if err != nil && !errors.Is(err, sql.ErrNoRows) {
				return err
			}

			saved = state
			saved.Revision = current + 1
			saved.UpdatedAt = s.now().UTC()
			_, err = tx.ExecContext(ctx, `
				INSERT INTO client_session (id, account_id, display_name, access_token, refresh_token, revision, updated_at)
				VALUES (1, ?, ?, ?, ?, ?, ?)
				ON CONFLICT(id) DO UPDATE SET
					account_id = excluded.account_id,
					display_name = excluded.display_name,
					access_token = excluded.access_token,
					refresh_token = excluded.refresh_token,
					revision = excluded.revision,
					updated_at = excluded.updated_at`,
				saved.AccountID, saved.DisplayName, saved.AccessToken, saved.RefreshToken,
				saved.Revision, formatTime(saved.UpdatedAt),
			)
			return err
		})
	})
	if err != nil {
		s.logger.ErrorContext(ctx, "session write failed", "error", err)
		return persistence.SessionState{}, err
	}
	return saved, nil
}

func scanSession(row *sql.Row) (persistence.SessionState, error) {
	var (
		state     persistence.SessionState
		updatedAt string
	)
	if err := row.Scan(&state.AccountID, &state.DisplayName, &state.AccessToken, &state.RefreshToken, &state.Revision, &updatedAt); err != nil {
		return persistence.SessionState{}, err
	}
	parsed, err := parseTime(updatedAt)
	if err != nil {
		return persistence.SessionState{}, fmt.Errorf("failed to parse updated_at: %w", err)
	}
	state.UpdatedAt = parsed
	return state, nil
}
