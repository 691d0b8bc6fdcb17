package sqlite

import (
	"context"
	"fmt"
	"strings"

	"github.com/example/classroom-booking/internal/persistence"
)

// LoadHistory returns the snapshot stored for account.
func (s *Storage) LoadHistory(ctx context.Context, account string) (persistence.HistorySnapshot, error) {
	account = strings.TrimSpace(account)
	if account == "" {
		return persistence.HistorySnapshot{}, persistence.ErrNotFound
	}

	var (
		snapshot  = persistence.HistorySnapshot{Account: account}
		fetchedAt string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT payload, item_count, fetched_at FROM reservation_history WHERE account = ?`, account,
	).Scan(&snapshot.Payload, &snapshot.ItemCount, &fetchedAt)
	if err != nil {
		return persistence.HistorySnapshot{}, s.mapper.MapError(err)
	}
	if snapshot.FetchedAt, err = parseTime(fetchedAt); err != nil {
		return persistence.HistorySnapshot{}, fmt.Errorf("failed to parse fetched_at: %w", err)
	}
	return snapshot, nil
}

// SaveHistory upserts the snapshot for its account.
func (s *Storage) SaveHistory(ctx context.Context, snapshot persistence.HistorySnapshot) error {
	snapshot.Account = strings.TrimSpace(snapshot.Account)
	if snapshot.Account == "" || snapshot.Payload == nil {
		return fmt.Errorf("%w: history snapshot needs an account and a payload", persistence.ErrConstraintViolation)
	}
	return s.retry.WithRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO reservation_history (account, payload, item_count, fetched_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(account) DO UPDATE SET
				payload = excluded.payload,
				item_count = excluded.item_count,
				fetched_at = excluded.fetched_at`,
			snapshot.Account, snapshot.Payload, snapshot.ItemCount, formatTime(snapshot.FetchedAt),
		)
		return err
	})
}

// DeleteHistory removes the snapshot for account. Deleting a missing
// snapshot is not an error.
func (s *Storage) DeleteHistory(ctx context.Context, account string) error {
	return s.retry.WithRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `DELETE FROM reservation_history WHERE account = ?`, strings.TrimSpace(account))
		return err
	})
}
