package application

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// BlacklistBackend exposes the blacklist administration endpoints.
type BlacklistBackend interface {
	ListUsers(ctx context.Context) (UserDirectory, error)
	Ban(ctx context.Context, userID, reason string) error
	Unban(ctx context.Context, userID string) error
	IsBlacklisted(ctx context.Context) (bool, error)
}

// BlacklistService backs the user blacklist panel.
type BlacklistService struct {
	sessions sessionSource
	backend  BlacklistBackend
	logger   *slog.Logger
}

// NewBlacklistService constructs a BlacklistService with the provided dependencies.
func NewBlacklistService(sessions sessionSource, backend BlacklistBackend) *BlacklistService {
	return NewBlacklistServiceWithLogger(sessions, backend, nil)
}

// NewBlacklistServiceWithLogger constructs a BlacklistService with a specified logger.
func NewBlacklistServiceWithLogger(sessions sessionSource, backend BlacklistBackend, logger *slog.Logger) *BlacklistService {
	return &BlacklistService{sessions: sessions, backend: backend, logger: defaultLogger(logger)}
}

func (s *BlacklistService) loggerWith(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	return serviceLogger(ctx, s.logger, "BlacklistService", operation, attrs...)
}

// ListUsers returns every account split by blacklist membership. Admin only.
func (s *BlacklistService) ListUsers(ctx context.Context) (dir UserDirectory, err error) {
	if s == nil || s.backend == nil {
		err = fmt.Errorf("blacklist backend not configured")
		return
	}
	logger := s.loggerWith(ctx, "ListUsers")
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to list users", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.DebugContext(ctx, "users listed", "normal", len(dir.Normal), "blacklisted", len(dir.Blacklisted))
	}()

	if err = requireAdmin(ctx, s.sessions); err != nil {
		return
	}
	dir, err = s.backend.ListUsers(ctx)
	return
}

// Ban adds userID to the blacklist. Admin only.
func (s *BlacklistService) Ban(ctx context.Context, userID, reason string) (err error) {
	if s == nil || s.backend == nil {
		return fmt.Errorf("blacklist backend not configured")
	}
	userID = strings.TrimSpace(userID)
	reason = strings.TrimSpace(reason)
	logger := s.loggerWith(ctx, "Ban", "user_id", userID)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to ban user", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.InfoContext(ctx, "user banned")
	}()

	if err = requireAdmin(ctx, s.sessions); err != nil {
		return
	}
	if userID == "" {
		vErr := &ValidationError{}
		vErr.add("user_id", "user id is required")
		err = vErr
		return
	}
	err = s.backend.Ban(ctx, userID, reason)
	return
}

// Unban removes userID from the blacklist. Admin only.
func (s *BlacklistService) Unban(ctx context.Context, userID string) (err error) {
	if s == nil || s.backend == nil {
		return fmt.Errorf("blacklist backend not configured")
	}
	userID = strings.TrimSpace(userID)
	logger := s.loggerWith(ctx, "Unban", "user_id", userID)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to unban user", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.InfoContext(ctx, "user unbanned")
	}()

	if err = requireAdmin(ctx, s.sessions); err != nil {
		return
	}
	if userID == "" {
		vErr := &ValidationError{}
		vErr.add("user_id", "user id is required")
		err = vErr
		return
	}
	err = s.backend.Unban(ctx, userID)
	return
}

// CheckSelf reports whether the signed-in user is blacklisted.
func (s *BlacklistService) CheckSelf(ctx context.Context) (bool, error) {
	if s == nil || s.backend == nil {
		return false, fmt.Errorf("blacklist backend not configured")
	}
	session, err := s.sessions.CurrentSession(ctx)
	if err != nil {
		return false, err
	}
	if session.Anonymous() {
		return false, ErrNotAuthenticated
	}
	return s.backend.IsBlacklisted(ctx)
}
