package persistence

import "context"

// SessionRepository stores the client session singleton. Every save and
// clear bumps Revision so other processes sharing the store can notice.
type SessionRepository interface {
	LoadSession(ctx context.Context) (SessionState, error)
	SaveSession(ctx context.Context, state SessionState) (SessionState, error)
	ClearSession(ctx context.Context) (SessionState, error)
}

// HistoryRepository stores one history snapshot per account.
type HistoryRepository interface {
	LoadHistory(ctx context.Context, account string) (HistorySnapshot, error)
	SaveHistory(ctx context.Context, snapshot HistorySnapshot) error
	DeleteHistory(ctx context.Context, account string) error
}

// MetaRepository exposes per-store values that are created once.
type MetaRepository interface {
	// KeySalt returns the salt used to derive the token sealing key, creating
	// it on first use.
	KeySalt(ctx context.Context) ([]byte, error)
}
