package http

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/example/classroom-booking/internal/application"
)

// Keys the backend uses for a request-level message, in the order they are
// preferred.
var messageKeys = []string{"detail", "error", "message", "non_field_errors"}

const maxPlainMessage = 200

// rejection converts a non-2xx response into an error. 4xx and 5xx answers
// become *application.RejectedError carrying the server text verbatim; 403
// and 404 additionally wrap ErrUnauthorized and ErrNotFound.
func rejection(resp application.Response) error {
	rejected := decodeRejection(resp)
	switch resp.StatusCode {
	case http.StatusForbidden:
		return fmt.Errorf("%w: %w", application.ErrUnauthorized, rejected)
	case http.StatusNotFound:
		return fmt.Errorf("%w: %w", application.ErrNotFound, rejected)
	}
	return rejected
}

func decodeRejection(resp application.Response) *application.RejectedError {
	rejected := &application.RejectedError{Status: resp.StatusCode}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(resp.Body, &fields); err == nil {
		for key, raw := range fields {
			if text := fieldText(raw); text != "" {
				if rejected.FieldErrors == nil {
					rejected.FieldErrors = make(map[string]string)
				}
				rejected.FieldErrors[key] = text
			}
		}
		rejected.Message = pickMessage(rejected.FieldErrors)
	} else if text := strings.TrimSpace(string(resp.Body)); text != "" && !strings.HasPrefix(text, "<") {
		rejected.Message = truncate(text, maxPlainMessage)
	}

	if rejected.Message == "" {
		rejected.Message = fallbackMessage(resp.StatusCode)
	}
	return rejected
}

// fieldText accepts the two shapes the backend uses for messages: a string
// or a list of strings.
func fieldText(raw json.RawMessage) string {
	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return strings.TrimSpace(text)
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		return strings.TrimSpace(strings.Join(list, " "))
	}
	return ""
}

func pickMessage(fields map[string]string) string {
	for _, key := range messageKeys {
		if msg := fields[key]; msg != "" {
			return msg
		}
	}
	if len(fields) == 0 {
		return ""
	}
	keys := make([]string, 0, len(fields))
	for key := range fields {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return fields[keys[0]]
}

func fallbackMessage(status int) string {
	if text := http.StatusText(status); text != "" {
		return fmt.Sprintf("%s (%d)", text, status)
	}
	return fmt.Sprintf("unexpected status %d", status)
}

func truncate(text string, limit int) string {
	if len(text) <= limit {
		return text
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	return text[:cut] + "…"
}
