package application

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/example/classroom-booking/internal/scheduler"
)

type memorySessionStore struct {
	mu      sync.Mutex
	record  SessionRecord
	stored  bool
	saveErr error
}

func (s *memorySessionStore) LoadSession(ctx context.Context) (SessionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.stored {
		return SessionRecord{}, ErrNotFound
	}
	return s.record, nil
}

func (s *memorySessionStore) SaveSession(ctx context.Context, record SessionRecord) (SessionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return SessionRecord{}, s.saveErr
	}
	record.Revision = s.record.Revision + 1
	s.record = record
	s.stored = true
	return record, nil
}

func (s *memorySessionStore) ClearSession(ctx context.Context) (SessionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record = SessionRecord{Revision: s.record.Revision + 1}
	s.stored = true
	return s.record, nil
}

func (s *memorySessionStore) current() SessionRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.record
}

type authBackendStub struct {
	mu           sync.Mutex
	loginResult  LoginResult
	loginErr     error
	loginCalls   []LoginParams
	refreshed    string
	refreshErr   error
	refreshCalls []string
}

func (a *authBackendStub) Login(ctx context.Context, params LoginParams) (LoginResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.loginCalls = append(a.loginCalls, params)
	if a.loginErr != nil {
		return LoginResult{}, a.loginErr
	}
	return a.loginResult, nil
}

func (a *authBackendStub) RefreshAccessToken(ctx context.Context, refreshToken string) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.refreshCalls = append(a.refreshCalls, refreshToken)
	if a.refreshErr != nil {
		return "", a.refreshErr
	}
	return a.refreshed, nil
}

type sentRequest struct {
	req   Request
	token string
}

// transportStub answers each Send with the next scripted outcome and records
// what was sent. The last outcome repeats once the script is exhausted.
type transportStub struct {
	mu       sync.Mutex
	outcomes []transportOutcome
	sent     []sentRequest
}

type transportOutcome struct {
	resp Response
	err  error
}

func (t *transportStub) Send(ctx context.Context, req Request, accessToken string) (Response, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sent = append(t.sent, sentRequest{req: req, token: accessToken})
	if len(t.outcomes) == 0 {
		return Response{StatusCode: 200}, nil
	}
	outcome := t.outcomes[0]
	if len(t.outcomes) > 1 {
		t.outcomes = t.outcomes[1:]
	}
	return outcome.resp, outcome.err
}

func (t *transportStub) calls() []sentRequest {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]sentRequest, len(t.sent))
	copy(out, t.sent)
	return out
}

type staticSessions struct {
	session Session
	err     error
}

func (s staticSessions) CurrentSession(ctx context.Context) (Session, error) {
	return s.session, s.err
}

var (
	memberSession = Session{AccountID: "member@example.edu", DisplayName: "Member", AccessToken: "member-token", RefreshToken: "member-refresh"}
	adminSession  = Session{AccountID: "admin@example.edu", DisplayName: "Admin", IsAdmin: true, AccessToken: "admin-token", RefreshToken: "admin-refresh"}
)

type occupancyCall struct {
	room     string
	from, to scheduler.Date
}

type occupancySourceStub struct {
	mu    sync.Mutex
	slots map[string][]OccupiedSlot
	err   error
	calls []occupancyCall
	// gates, when set for a room, block the fetch until a value is sent.
	gates map[string]chan struct{}
}

func (s *occupancySourceStub) OccupiedSlots(ctx context.Context, room string, from, to scheduler.Date) ([]OccupiedSlot, error) {
	s.mu.Lock()
	s.calls = append(s.calls, occupancyCall{room: room, from: from, to: to})
	gate := s.gates[room]
	s.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	out := make([]OccupiedSlot, len(s.slots[room]))
	copy(out, s.slots[room])
	return out, nil
}

func (s *occupancySourceStub) setSlots(room string, slots []OccupiedSlot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.slots == nil {
		s.slots = make(map[string][]OccupiedSlot)
	}
	s.slots[room] = slots
}

func (s *occupancySourceStub) setErr(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

func (s *occupancySourceStub) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

type listerStub struct {
	mu      sync.Mutex
	items   map[bool][]Reservation
	err     error
	calls   []ReservationQuery
	started chan struct{}
	release chan struct{}
}

func (l *listerStub) ListReservations(ctx context.Context, query ReservationQuery) ([]Reservation, error) {
	l.mu.Lock()
	l.calls = append(l.calls, query)
	started, release := l.started, l.release
	l.mu.Unlock()

	if started != nil {
		started <- struct{}{}
	}
	if release != nil {
		select {
		case <-release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return nil, l.err
	}
	return cloneReservations(l.items[query.ViewAll]), nil
}

func (l *listerStub) callCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.calls)
}

func (l *listerStub) setErr(err error) {
	l.mu.Lock()
	l.err = err
	l.mu.Unlock()
}

type historyStub struct {
	mu        sync.Mutex
	snapshots map[string]HistorySnapshot
}

func (h *historyStub) LoadHistory(ctx context.Context, account string) (HistorySnapshot, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	snapshot, ok := h.snapshots[account]
	if !ok {
		return HistorySnapshot{}, ErrNotFound
	}
	return snapshot, nil
}

func (h *historyStub) SaveHistory(ctx context.Context, account string, snapshot HistorySnapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.snapshots == nil {
		h.snapshots = make(map[string]HistorySnapshot)
	}
	h.snapshots[account] = snapshot
	return nil
}

type reservationBackendStub struct {
	mu           sync.Mutex
	created      Reservation
	createErr    error
	createCalls  []Draft
	cancelErr    error
	cancelCalls  []string
	updateErr    error
	updateCalls  []string
	onCreate     func(Draft)
	reviewResult Reservation
}

func (b *reservationBackendStub) CreateReservation(ctx context.Context, draft Draft) (Reservation, error) {
	b.mu.Lock()
	b.createCalls = append(b.createCalls, draft)
	onCreate := b.onCreate
	b.mu.Unlock()
	if b.createErr != nil {
		return Reservation{}, b.createErr
	}
	if onCreate != nil {
		onCreate(draft)
	}
	return b.created, nil
}

func (b *reservationBackendStub) CancelReservation(ctx context.Context, id string) (Reservation, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cancelCalls = append(b.cancelCalls, id)
	if b.cancelErr != nil {
		return Reservation{}, b.cancelErr
	}
	return Reservation{ID: id, Status: StatusCancelled}, nil
}

func (b *reservationBackendStub) UpdateReservationStatus(ctx context.Context, id string, status Status) (Reservation, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.updateCalls = append(b.updateCalls, id+":"+string(status))
	if b.updateErr != nil {
		return Reservation{}, b.updateErr
	}
	result := b.reviewResult
	result.ID = id
	result.Status = status
	return result, nil
}

var errNetworkDown = errors.New("dial tcp 127.0.0.1:8000: connect: connection refused")

func mustDate(value string) scheduler.Date {
	d, err := scheduler.ParseDate(value)
	if err != nil {
		panic(err)
	}
	return d
}

func fixedNow(t time.Time) func() time.Time {
	return func() time.Time { return t }
}
