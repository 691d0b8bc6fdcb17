package persistence

import "time"

// SessionState is the single signed-in identity of this client. Tokens are
// stored in whatever form the caller hands over; callers seal them first.
type SessionState struct {
	AccountID    string
	DisplayName  string
	AccessToken  string
	RefreshToken string
	Revision     int64
	UpdatedAt    time.Time
}

// Empty reports whether the state carries no identity.
func (s SessionState) Empty() bool {
	return s.AccessToken == "" && s.RefreshToken == "" && s.AccountID == ""
}

// HistorySnapshot is the last own-reservation list fetched for an account.
// Payload is opaque to this layer.
type HistorySnapshot struct {
	Account   string
	Payload   []byte
	ItemCount int
	FetchedAt time.Time
}
