package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// SessionStore persists the single client session. LoadSession returns
// ErrNotFound when nothing was ever stored; a cleared session is returned as a
// record with empty tokens so its revision stays observable.
type SessionStore interface {
	LoadSession(ctx context.Context) (SessionRecord, error)
	SaveSession(ctx context.Context, record SessionRecord) (SessionRecord, error)
	ClearSession(ctx context.Context) (SessionRecord, error)
}

// AuthBackend performs the unauthenticated token operations.
type AuthBackend interface {
	Login(ctx context.Context, params LoginParams) (LoginResult, error)
	RefreshAccessToken(ctx context.Context, refreshToken string) (string, error)
}

// Transport sends one request. An error is returned only when no response was
// received at all; HTTP error statuses come back as a Response.
type Transport interface {
	Send(ctx context.Context, req Request, accessToken string) (Response, error)
}

// LoginParams captures the credentials submitted by the login form.
type LoginParams struct {
	Account       string
	Password      string
	BotCheckToken string
}

// LoginResult is the backend's answer to a successful login.
type LoginResult struct {
	AccessToken  string
	RefreshToken string
	AccountID    string
	DisplayName  string
}

// SessionManager owns the client identity and the authenticated request
// primitive every other component goes through.
type SessionManager struct {
	store     SessionStore
	auth      AuthBackend
	transport Transport
	now       func() time.Time
	logger    *slog.Logger

	refreshes singleflight.Group

	mu           sync.Mutex
	seenRevision int64
	nextID       int
	subscribers  map[int]func(Session)
}

// NewSessionManager constructs a SessionManager with the provided dependencies.
func NewSessionManager(store SessionStore, auth AuthBackend, transport Transport, now func() time.Time) *SessionManager {
	return NewSessionManagerWithLogger(store, auth, transport, now, nil)
}

// NewSessionManagerWithLogger constructs a SessionManager with a specified logger.
func NewSessionManagerWithLogger(store SessionStore, auth AuthBackend, transport Transport, now func() time.Time, logger *slog.Logger) *SessionManager {
	if now == nil {
		now = time.Now
	}
	return &SessionManager{
		store:       store,
		auth:        auth,
		transport:   transport,
		now:         now,
		logger:      defaultLogger(logger),
		subscribers: make(map[int]func(Session)),
	}
}

func (m *SessionManager) loggerWith(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	return serviceLogger(ctx, m.logger, "SessionManager", operation, attrs...)
}

// CurrentSession returns the persisted session, or an anonymous one when
// nobody is signed in. IsAdmin is derived from the access token claims.
func (m *SessionManager) CurrentSession(ctx context.Context) (Session, error) {
	if m == nil {
		return Session{}, fmt.Errorf("SessionManager is nil")
	}
	if m.store == nil {
		return Session{}, fmt.Errorf("session store not configured")
	}
	record, err := m.store.LoadSession(ctx)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Session{}, nil
		}
		return Session{}, err
	}
	return sessionFromRecord(record), nil
}

// Login exchanges credentials for tokens and persists the resulting session.
func (m *SessionManager) Login(ctx context.Context, params LoginParams) (session Session, err error) {
	if m == nil {
		err = fmt.Errorf("SessionManager is nil")
		return
	}
	if m.auth == nil || m.store == nil {
		err = fmt.Errorf("session manager not configured")
		return
	}

	account := strings.TrimSpace(params.Account)
	logger := m.loggerWith(ctx, "Login", "account", account)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "login failed", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.With("is_admin", session.IsAdmin).InfoContext(ctx, "login succeeded")
	}()

	vErr := &ValidationError{}
	if account == "" {
		vErr.add("account", "account is required")
	}
	if params.Password == "" {
		vErr.add("password", "password is required")
	}
	if vErr.HasErrors() {
		err = vErr
		return
	}
	params.Account = account

	var result LoginResult
	result, err = m.auth.Login(ctx, params)
	if err != nil {
		return
	}
	if result.AccountID == "" {
		result.AccountID = account
	}

	var saved SessionRecord
	saved, err = m.store.SaveSession(ctx, SessionRecord{
		AccountID:    result.AccountID,
		DisplayName:  result.DisplayName,
		AccessToken:  result.AccessToken,
		RefreshToken: result.RefreshToken,
		UpdatedAt:    m.now(),
	})
	if err != nil {
		return
	}
	session = sessionFromRecord(saved)
	m.publish(saved.Revision, session)
	return
}

// Logout clears all persisted identity state.
func (m *SessionManager) Logout(ctx context.Context) error {
	if m == nil {
		return fmt.Errorf("SessionManager is nil")
	}
	logger := m.loggerWith(ctx, "Logout")
	if err := m.clear(ctx); err != nil {
		logger.ErrorContext(ctx, "logout failed", "error", err, "error_kind", ErrorKind(err))
		return err
	}
	logger.InfoContext(ctx, "session cleared")
	return nil
}

// AuthenticatedRequest sends req with the current bearer token. A 401 triggers
// exactly one refresh followed by exactly one retry; if either step fails the
// session is cleared and ErrAuthenticationExpired is returned.
func (m *SessionManager) AuthenticatedRequest(ctx context.Context, req Request) (resp Response, err error) {
	if m == nil {
		err = fmt.Errorf("SessionManager is nil")
		return
	}
	if m.transport == nil {
		err = fmt.Errorf("transport not configured")
		return
	}

	var session Session
	session, err = m.CurrentSession(ctx)
	if err != nil {
		return
	}
	if session.AccessToken == "" {
		err = ErrNotAuthenticated
		return
	}

	resp, err = m.send(ctx, req, session.AccessToken)
	if err != nil || resp.StatusCode != http.StatusUnauthorized {
		return
	}

	logger := m.loggerWith(ctx, "AuthenticatedRequest", "method", req.Method, "path", req.Path)
	logger.DebugContext(ctx, "access token rejected, refreshing")

	var access string
	access, err = m.refresh(ctx, session.AccessToken, session.RefreshToken)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = ctxErr
			resp = Response{}
			return
		}
		if isContextErr(err) {
			// Nobody rejected the refresh token.
			resp = Response{}
			return
		}
		logger.WarnContext(ctx, "token refresh failed", "error", err, "error_kind", ErrorKind(err))
		resp, err = Response{}, m.expire(ctx)
		return
	}

	resp, err = m.send(ctx, req, access)
	if err != nil {
		return
	}
	if resp.StatusCode == http.StatusUnauthorized {
		logger.WarnContext(ctx, "refreshed access token rejected")
		resp, err = Response{}, m.expire(ctx)
	}
	return
}

// Subscribe registers fn to be called with the new session whenever the
// persisted session changes. The returned function removes the subscription.
func (m *SessionManager) Subscribe(fn func(Session)) func() {
	if m == nil || fn == nil {
		return func() {}
	}
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.subscribers[id] = fn
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		delete(m.subscribers, id)
		m.mu.Unlock()
	}
}

// Sync compares the stored revision with the last one observed and notifies
// subscribers when another process changed the session.
func (m *SessionManager) Sync(ctx context.Context) error {
	if m == nil {
		return fmt.Errorf("SessionManager is nil")
	}
	record, err := m.store.LoadSession(ctx)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return err
	}
	m.publish(record.Revision, sessionFromRecord(record))
	return nil
}

// Watch calls Sync every interval until ctx is done.
func (m *SessionManager) Watch(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := m.Sync(ctx); err != nil && ctx.Err() == nil {
				m.loggerWith(ctx, "Watch").WarnContext(ctx, "session sync failed", "error", err)
			}
		}
	}
}

func (m *SessionManager) send(ctx context.Context, req Request, accessToken string) (Response, error) {
	resp, err := m.transport.Send(ctx, req, accessToken)
	if err == nil {
		return resp, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return Response{}, ctxErr
	}
	if errors.Is(err, ErrConnectivity) {
		return Response{}, err
	}
	return Response{}, fmt.Errorf("%w: %w", ErrConnectivity, err)
}

// refresh performs at most one concurrent refresh per refresh token and
// persists the new access token. A caller whose rejected token was already
// replaced reuses the stored one.
func (m *SessionManager) refresh(ctx context.Context, rejected, refreshToken string) (string, error) {
	if refreshToken == "" {
		return "", fmt.Errorf("refresh token missing")
	}
	if m.auth == nil {
		return "", fmt.Errorf("auth backend not configured")
	}
	if record, err := m.store.LoadSession(ctx); err == nil &&
		record.RefreshToken == refreshToken && record.AccessToken != "" && record.AccessToken != rejected {
		return record.AccessToken, nil
	}
	return shareFlight(ctx, &m.refreshes, refreshToken, func(ctx context.Context) (string, error) {
		access, err := m.auth.RefreshAccessToken(ctx, refreshToken)
		if err != nil {
			return "", err
		}
		record, err := m.store.LoadSession(ctx)
		if err != nil {
			return "", err
		}
		if record.RefreshToken != refreshToken {
			// Another login replaced the session while the refresh was in flight.
			return "", ErrAuthenticationExpired
		}
		record.AccessToken = access
		record.UpdatedAt = m.now()
		saved, err := m.store.SaveSession(ctx, record)
		if err != nil {
			return "", err
		}
		m.publish(saved.Revision, sessionFromRecord(saved))
		return access, nil
	})
}

func (m *SessionManager) expire(ctx context.Context) error {
	if err := m.clear(ctx); err != nil {
		return errors.Join(ErrAuthenticationExpired, err)
	}
	return ErrAuthenticationExpired
}

func (m *SessionManager) clear(ctx context.Context) error {
	if m.store == nil {
		return fmt.Errorf("session store not configured")
	}
	record, err := m.store.ClearSession(ctx)
	if err != nil {
		return err
	}
	m.publish(record.Revision, Session{})
	return nil
}

func (m *SessionManager) publish(revision int64, session Session) {
	m.mu.Lock()
	if revision == m.seenRevision {
		m.mu.Unlock()
		return
	}
	m.seenRevision = revision
	subscribers := make([]func(Session), 0, len(m.subscribers))
	for _, fn := range m.subscribers {
		subscribers = append(subscribers, fn)
	}
	m.mu.Unlock()

	for _, fn := range subscribers {
		fn(session)
	}
}

func sessionFromRecord(record SessionRecord) Session {
	if record.AccessToken == "" && record.RefreshToken == "" {
		return Session{}
	}
	return Session{
		AccountID:    record.AccountID,
		DisplayName:  record.DisplayName,
		IsAdmin:      isStaffToken(record.AccessToken),
		AccessToken:  record.AccessToken,
		RefreshToken: record.RefreshToken,
	}
}
