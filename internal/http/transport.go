package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/example/classroom-booking/internal/application"
)

const (
	requestIDHeader = "X-Request-ID"
	maxResponseSize = 4 << 20
)

var _ application.Transport = (*Transport)(nil)

// Transport sends JSON requests to the backend rooted at a base URL.
type Transport struct {
	baseURL *url.URL
	client  *http.Client
	logger  *slog.Logger
	newID   func() string
}

// NewTransport returns a Transport for baseURL. A nil client uses a client
// with a 15 second timeout.
func NewTransport(baseURL string, client *http.Client, logger *slog.Logger) (*Transport, error) {
	parsed, err := url.Parse(strings.TrimRight(strings.TrimSpace(baseURL), "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("invalid base URL %q: scheme must be http or https", baseURL)
	}
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &Transport{
		baseURL: parsed,
		client:  client,
		logger:  defaultLogger(logger),
		newID:   func() string { return uuid.NewString() },
	}, nil
}

// Send performs req, attaching accessToken as a bearer token when non-empty.
// An error means no response was received; every HTTP status, 5xx
// included, comes back as a Response. Transport failures wrap
// application.ErrConnectivity.
func (t *Transport) Send(ctx context.Context, req application.Request, accessToken string) (resp application.Response, err error) {
	requestID := t.newID()
	logger := clientLogger(ctx, t.logger, "Transport", "Send",
		"request_id", requestID,
		"method", req.Method,
		"path", req.Path,
	)
	start := time.Now()
	defer func() {
		if err != nil {
			logger.WarnContext(ctx, "request failed", "duration", time.Since(start), "error", err)
			return
		}
		logger.DebugContext(ctx, "request completed", "status", resp.StatusCode, "duration", time.Since(start))
	}()

	httpReq, err := t.newRequest(ctx, req)
	if err != nil {
		return application.Response{}, err
	}
	httpReq.Header.Set(requestIDHeader, requestID)
	if accessToken != "" {
		httpReq.Header.Set("Authorization", "Bearer "+accessToken)
	}

	httpResp, err := t.client.Do(httpReq)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return application.Response{}, ctxErr
		}
		return application.Response{}, fmt.Errorf("%w: %s %s: %v", application.ErrConnectivity, req.Method, req.Path, err)
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseSize))
	if err != nil {
		return application.Response{}, fmt.Errorf("%w: read %s %s: %v", application.ErrConnectivity, req.Method, req.Path, err)
	}
	return application.Response{
		StatusCode: httpResp.StatusCode,
		Body:       body,
		RequestID:  requestID,
	}, nil
}

func (t *Transport) newRequest(ctx context.Context, req application.Request) (*http.Request, error) {
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	target := *t.baseURL
	target.Path = t.baseURL.Path + "/" + strings.TrimLeft(req.Path, "/")
	if len(req.Query) > 0 {
		target.RawQuery = req.Query.Encode()
	}

	var body io.Reader
	if req.Body != nil {
		encoded, err := json.Marshal(req.Body)
		if err != nil {
			return nil, fmt.Errorf("encode %s %s body: %w", method, req.Path, err)
		}
		body = bytes.NewReader(encoded)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, target.String(), body)
	if err != nil {
		return nil, fmt.Errorf("build %s %s: %w", method, req.Path, err)
	}
	httpReq.Header.Set("Accept", "application/json")
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	return httpReq, nil
}
