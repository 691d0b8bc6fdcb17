package http

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/example/classroom-booking/internal/application"
)

var (
	_ application.AuthBackend    = (*AuthClient)(nil)
	_ application.AccountBackend = (*AuthClient)(nil)
)

// Sender is the unauthenticated half of Transport.
type Sender interface {
	Send(ctx context.Context, req application.Request, accessToken string) (application.Response, error)
}

// AuthClient calls the endpoints that work without a bearer token.
type AuthClient struct {
	sender Sender
	logger *slog.Logger
}

// NewAuthClient constructs an AuthClient.
func NewAuthClient(sender Sender, logger *slog.Logger) *AuthClient {
	return &AuthClient{sender: sender, logger: defaultLogger(logger)}
}

// Login exchanges credentials for an access and refresh token pair.
func (c *AuthClient) Login(ctx context.Context, params application.LoginParams) (application.LoginResult, error) {
	var out loginResponse
	err := c.call(ctx, application.Request{
		Method: http.MethodPost,
		Path:   "/api/auth/login/",
		Body: loginRequest{
			Account:        params.Account,
			Password:       params.Password,
			RecaptchaToken: params.BotCheckToken,
		},
	}, &out)
	if err != nil {
		return application.LoginResult{}, err
	}
	if out.Access == "" || out.Refresh == "" {
		return application.LoginResult{}, fmt.Errorf("login response without tokens")
	}
	account := out.User.Account
	if account == "" {
		account = params.Account
	}
	return application.LoginResult{
		AccessToken:  out.Access,
		RefreshToken: out.Refresh,
		AccountID:    account,
		DisplayName:  out.User.Name,
	}, nil
}

// RefreshAccessToken trades a refresh token for a new access token.
func (c *AuthClient) RefreshAccessToken(ctx context.Context, refreshToken string) (string, error) {
	var out refreshResponse
	if err := c.call(ctx, application.Request{
		Method: http.MethodPost,
		Path:   "/api/auth/refresh/",
		Body:   refreshRequest{Refresh: refreshToken},
	}, &out); err != nil {
		return "", err
	}
	if out.Access == "" {
		return "", fmt.Errorf("refresh response without access token")
	}
	return out.Access, nil
}

// Register creates an account. The backend checks the emailed code.
func (c *AuthClient) Register(ctx context.Context, params application.RegisterParams) error {
	return c.call(ctx, application.Request{
		Method: http.MethodPost,
		Path:   "/api/auth/register/",
		Body: registerRequest{
			Name:     params.Name,
			Account:  params.Account,
			Password: params.Password,
			Code:     params.Code,
		},
	}, nil)
}

// SendVerificationCode mails a registration code to account.
func (c *AuthClient) SendVerificationCode(ctx context.Context, account string) error {
	return c.call(ctx, application.Request{
		Method: http.MethodPost,
		Path:   "/api/auth/send_verification_email/",
		Body:   accountRequest{Account: account},
	}, nil)
}

// SendPasswordResetCode mails a password reset code to account.
func (c *AuthClient) SendPasswordResetCode(ctx context.Context, account string) error {
	return c.call(ctx, application.Request{
		Method: http.MethodPost,
		Path:   "/api/auth/send_change_pwd/",
		Body:   accountRequest{Account: account},
	}, nil)
}

// ResetPassword sets a new password using an emailed code.
func (c *AuthClient) ResetPassword(ctx context.Context, params application.PasswordResetParams) error {
	return c.call(ctx, application.Request{
		Method: http.MethodPost,
		Path:   "/api/auth/verify_change_pwd/",
		Body: passwordResetRequest{
			Account:  params.Account,
			Password: params.Password,
			Code:     params.Code,
		},
	}, nil)
}

func (c *AuthClient) call(ctx context.Context, req application.Request, out any) error {
	if c == nil || c.sender == nil {
		return fmt.Errorf("auth client not configured")
	}
	resp, err := c.sender.Send(ctx, req, "")
	if err != nil {
		return err
	}
	if !resp.OK() {
		err := rejection(resp)
		clientLogger(ctx, c.logger, "AuthClient", strings.Trim(req.Path, "/"),
			"status", resp.StatusCode, "request_id", resp.RequestID,
		).InfoContext(ctx, "request rejected", "error", err)
		return err
	}
	if err := resp.Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", req.Path, err)
	}
	return nil
}
