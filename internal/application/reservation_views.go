package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"
)

// ReservationLister lists reservations visible to the current session.
type ReservationLister interface {
	ListReservations(ctx context.Context, query ReservationQuery) ([]Reservation, error)
}

// HistorySnapshot is the last own-history list that reached durable storage.
type HistorySnapshot struct {
	Items     []Reservation
	FetchedAt time.Time
}

// HistoryStore keeps the own-history list across restarts.
type HistoryStore interface {
	LoadHistory(ctx context.Context, account string) (HistorySnapshot, error)
	SaveHistory(ctx context.Context, account string, snapshot HistorySnapshot) error
}

type sessionSource interface {
	CurrentSession(ctx context.Context) (Session, error)
}

// ReservationList is what the history and pending panels render.
type ReservationList struct {
	Items     []Reservation
	FetchedAt time.Time
	// Stale is set when the list is a fallback snapshot served because the
	// server could not be reached.
	Stale       bool
	StaleReason string
	// Provisional is set when the list carries local patches not yet confirmed
	// by a fetch.
	Provisional bool
}

const (
	viewMine    = "mine"
	viewPending = "pending"

	defaultReservationLimit = 200
)

// ReservationViews serves the own-history and pending-requests panels from a
// short TTL cache with single-flight fetches.
type ReservationViews struct {
	sessions sessionSource
	lister   ReservationLister
	history  HistoryStore
	cache    *reservationCache
	now      func() time.Time
	logger   *slog.Logger

	fetches singleflight.Group
}

// NewReservationViews constructs ReservationViews. history may be nil.
func NewReservationViews(sessions sessionSource, lister ReservationLister, history HistoryStore, ttl time.Duration, now func() time.Time) *ReservationViews {
	return NewReservationViewsWithLogger(sessions, lister, history, ttl, now, nil)
}

// NewReservationViewsWithLogger constructs ReservationViews with a specified logger.
func NewReservationViewsWithLogger(sessions sessionSource, lister ReservationLister, history HistoryStore, ttl time.Duration, now func() time.Time, logger *slog.Logger) *ReservationViews {
	if now == nil {
		now = time.Now
	}
	return &ReservationViews{
		sessions: sessions,
		lister:   lister,
		history:  history,
		cache:    newReservationCache(ttl, 0, now),
		now:      now,
		logger:   defaultLogger(logger),
	}
}

func (v *ReservationViews) loggerWith(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	return serviceLogger(ctx, v.logger, "ReservationViews", operation, attrs...)
}

// MyReservations returns the signed-in user's reservations. force bypasses the TTL.
func (v *ReservationViews) MyReservations(ctx context.Context, force bool) (ReservationList, error) {
	if v == nil {
		return ReservationList{}, fmt.Errorf("ReservationViews is nil")
	}
	session, err := v.sessions.CurrentSession(ctx)
	if err != nil {
		return ReservationList{}, err
	}
	if session.Anonymous() {
		return ReservationList{}, ErrNotAuthenticated
	}
	query := ReservationQuery{Limit: defaultReservationLimit}
	return v.load(ctx, viewMine, session.AccountID, query, force)
}

// PendingRequests returns every pending reservation. Admin only.
func (v *ReservationViews) PendingRequests(ctx context.Context, force bool) (ReservationList, error) {
	if v == nil {
		return ReservationList{}, fmt.Errorf("ReservationViews is nil")
	}
	session, err := v.sessions.CurrentSession(ctx)
	if err != nil {
		return ReservationList{}, err
	}
	if session.Anonymous() {
		return ReservationList{}, ErrNotAuthenticated
	}
	if !session.IsAdmin {
		return ReservationList{}, ErrUnauthorized
	}
	query := ReservationQuery{ViewAll: true, Status: StatusPending, Limit: defaultReservationLimit}
	return v.load(ctx, viewPending, session.AccountID, query, force)
}

type viewFetch struct {
	items     []Reservation
	fetchedAt time.Time
	stored    bool
}

func (v *ReservationViews) load(ctx context.Context, view, account string, query ReservationQuery, force bool) (list ReservationList, err error) {
	key := view + "|" + account
	logger := v.loggerWith(ctx, "load", "view", view, "force", force)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "reservation view failed", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.DebugContext(ctx, "reservation view served", "items", len(list.Items), "stale", list.Stale, "provisional", list.Provisional)
	}()

	if !force {
		if snapshot, fresh, ok := v.cache.Get(key); ok && fresh {
			list = ReservationList{Items: snapshot.items, FetchedAt: snapshot.fetchedAt, Provisional: snapshot.provisional}
			return
		}
	}

	fetched, err := shareFlight(ctx, &v.fetches, key, func(ctx context.Context) (viewFetch, error) {
		basedOn := v.cache.Version(key)
		items, err := v.lister.ListReservations(ctx, query)
		if err != nil {
			return viewFetch{}, err
		}
		fetchedAt := v.now()
		stored := v.cache.Store(key, items, fetchedAt, basedOn)
		if view == viewMine && v.history != nil {
			if err := v.history.SaveHistory(ctx, account, HistorySnapshot{Items: items, FetchedAt: fetchedAt}); err != nil {
				logger.WarnContext(ctx, "failed to persist history snapshot", "error", err)
			}
		}
		return viewFetch{items: items, fetchedAt: fetchedAt, stored: stored}, nil
	})
	if err != nil {
		if !force && errors.Is(err, ErrConnectivity) {
			if fallback, ok := v.fallback(ctx, view, key, account); ok {
				fallback.Stale = true
				fallback.StaleReason = err.Error()
				list, err = fallback, nil
				return
			}
		}
		return
	}

	list = ReservationList{
		Items:       cloneReservations(fetched.items),
		FetchedAt:   fetched.fetchedAt,
		Provisional: !fetched.stored,
	}
	return
}

func (v *ReservationViews) fallback(ctx context.Context, view, key, account string) (ReservationList, bool) {
	if snapshot, _, ok := v.cache.Get(key); ok {
		return ReservationList{Items: snapshot.items, FetchedAt: snapshot.fetchedAt, Provisional: snapshot.provisional}, true
	}
	if view != viewMine || v.history == nil {
		return ReservationList{}, false
	}
	snapshot, err := v.history.LoadHistory(ctx, account)
	if err != nil {
		return ReservationList{}, false
	}
	return ReservationList{Items: snapshot.Items, FetchedAt: snapshot.FetchedAt}, true
}

// ApplyReview patches both views after an admin decision: the reservation
// leaves every pending queue and takes the new status in every own history
// that lists it.
func (v *ReservationViews) ApplyReview(id string, status Status) {
	v.Remove(id)
	v.PatchStatus(id, status)
}

// PatchStatus updates the status of id in every cached own history.
func (v *ReservationViews) PatchStatus(id string, status Status) int {
	return v.cache.Patch(viewMatcher(viewMine), func(items []Reservation) ([]Reservation, bool) {
		changed := false
		for i := range items {
			if items[i].ID == id && items[i].Status != status {
				items[i].Status = status
				changed = true
			}
		}
		return items, changed
	})
}

// Remove drops id from every cached pending queue.
func (v *ReservationViews) Remove(id string) int {
	return v.cache.Patch(viewMatcher(viewPending), func(items []Reservation) ([]Reservation, bool) {
		kept := items[:0]
		for _, item := range items {
			if item.ID != id {
				kept = append(kept, item)
			}
		}
		return kept, len(kept) != len(items)
	})
}

// Lookup returns a cached copy of reservation id from any view.
func (v *ReservationViews) Lookup(id string) (Reservation, bool) {
	return v.cache.Find(id)
}

// CachedMine returns the last known own history of account, fresh or not,
// without touching the network.
func (v *ReservationViews) CachedMine(account string) []Reservation {
	snapshot, _, ok := v.cache.Get(viewMine + "|" + account)
	if !ok {
		return nil
	}
	return snapshot.items
}

// InvalidateMine expires every own-history entry.
func (v *ReservationViews) InvalidateMine() {
	v.cache.Invalidate(viewMatcher(viewMine))
}

// InvalidatePending expires every pending-queue entry.
func (v *ReservationViews) InvalidatePending() {
	v.cache.Invalidate(viewMatcher(viewPending))
}

// Reset drops every cached list, typically because the session changed.
func (v *ReservationViews) Reset() {
	v.cache.Reset()
}

func viewMatcher(view string) func(string) bool {
	prefix := view + "|"
	return func(key string) bool {
		return strings.HasPrefix(key, prefix)
	}
}
