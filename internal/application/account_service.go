package application

import (
	"context"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
)

const minPasswordLength = 6

// AccountBackend exposes the unauthenticated account endpoints.
type AccountBackend interface {
	Register(ctx context.Context, params RegisterParams) error
	SendVerificationCode(ctx context.Context, account string) error
	SendPasswordResetCode(ctx context.Context, account string) error
	ResetPassword(ctx context.Context, params PasswordResetParams) error
}

// RegisterParams captures the registration form.
type RegisterParams struct {
	Name            string
	Account         string
	Password        string
	ConfirmPassword string
	Code            string
}

// PasswordResetParams captures the password reset form.
type PasswordResetParams struct {
	Account         string
	Code            string
	Password        string
	ConfirmPassword string
}

// AccountService validates and forwards the account forms.
type AccountService struct {
	backend AccountBackend
	logger  *slog.Logger
}

// NewAccountService constructs an AccountService with the provided backend.
func NewAccountService(backend AccountBackend) *AccountService {
	return NewAccountServiceWithLogger(backend, nil)
}

// NewAccountServiceWithLogger constructs an AccountService with a specified logger.
func NewAccountServiceWithLogger(backend AccountBackend, logger *slog.Logger) *AccountService {
	return &AccountService{backend: backend, logger: defaultLogger(logger)}
}

func (s *AccountService) loggerWith(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	return serviceLogger(ctx, s.logger, "AccountService", operation, attrs...)
}

// Register creates an account using a previously emailed code.
func (s *AccountService) Register(ctx context.Context, params RegisterParams) (err error) {
	if s == nil || s.backend == nil {
		return fmt.Errorf("account backend not configured")
	}
	params.Name = strings.TrimSpace(params.Name)
	params.Account = normalizeAccount(params.Account)
	params.Code = strings.TrimSpace(params.Code)

	logger := s.loggerWith(ctx, "Register", "account", params.Account)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "registration failed", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.InfoContext(ctx, "account registered")
	}()

	vErr := &ValidationError{}
	if params.Name == "" {
		vErr.add("name", "name is required")
	}
	validateAccount(vErr, params.Account)
	validateNewPassword(vErr, params.Password, params.ConfirmPassword)
	if params.Code == "" {
		vErr.add("code", "verification code is required")
	}
	if vErr.HasErrors() {
		err = vErr
		return
	}

	err = s.backend.Register(ctx, params)
	return
}

// SendVerificationCode asks the server to email a registration code.
func (s *AccountService) SendVerificationCode(ctx context.Context, account string) error {
	return s.sendCode(ctx, "SendVerificationCode", account, func(ctx context.Context, account string) error {
		return s.backend.SendVerificationCode(ctx, account)
	})
}

// SendPasswordResetCode asks the server to email a password reset code.
func (s *AccountService) SendPasswordResetCode(ctx context.Context, account string) error {
	return s.sendCode(ctx, "SendPasswordResetCode", account, func(ctx context.Context, account string) error {
		return s.backend.SendPasswordResetCode(ctx, account)
	})
}

// ApplyPasswordReset consumes a reset code and sets the new password.
func (s *AccountService) ApplyPasswordReset(ctx context.Context, params PasswordResetParams) (err error) {
	if s == nil || s.backend == nil {
		return fmt.Errorf("account backend not configured")
	}
	params.Account = normalizeAccount(params.Account)
	params.Code = strings.TrimSpace(params.Code)

	logger := s.loggerWith(ctx, "ApplyPasswordReset", "account", params.Account)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "password reset failed", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.InfoContext(ctx, "password reset applied")
	}()

	vErr := &ValidationError{}
	validateAccount(vErr, params.Account)
	if params.Code == "" {
		vErr.add("code", "verification code is required")
	}
	validateNewPassword(vErr, params.Password, params.ConfirmPassword)
	if vErr.HasErrors() {
		err = vErr
		return
	}

	err = s.backend.ResetPassword(ctx, params)
	return
}

func (s *AccountService) sendCode(ctx context.Context, operation, account string, send func(context.Context, string) error) (err error) {
	if s == nil || s.backend == nil {
		return fmt.Errorf("account backend not configured")
	}
	account = normalizeAccount(account)
	logger := s.loggerWith(ctx, operation, "account", account)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "code request failed", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.InfoContext(ctx, "code requested")
	}()

	vErr := &ValidationError{}
	validateAccount(vErr, account)
	if vErr.HasErrors() {
		err = vErr
		return
	}
	err = send(ctx, account)
	return
}

func normalizeAccount(account string) string {
	return strings.ToLower(strings.TrimSpace(account))
}

func validateAccount(vErr *ValidationError, account string) {
	if account == "" {
		vErr.add("account", "account is required")
		return
	}
	if addr, err := mail.ParseAddress(account); err != nil || addr.Address != account {
		vErr.add("account", "account must be an email address")
	}
}

func validateNewPassword(vErr *ValidationError, password, confirm string) {
	switch {
	case password == "":
		vErr.add("password", "password is required")
	case len(password) < minPasswordLength:
		vErr.add("password", fmt.Sprintf("password must be at least %d characters", minPasswordLength))
	case password != confirm:
		vErr.add("confirm_password", "passwords do not match")
	}
}
