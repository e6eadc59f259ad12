package httputil

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// StatusError is returned for non-2xx responses
type StatusError struct {
	StatusCode int
	Status     string // reason phrase, e.g. "Not Found"
	Message    string // message reported by the server, falls back to Status
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("API Error: %s", e.Message)
}

// IsStatus reports whether err is a StatusError with the given code
func IsStatus(err error, code int) bool {
	var se *StatusError
	if !errors.As(err, &se) {
		return false
	}
	return se.StatusCode == code
}

func newStatusError(resp *http.Response, body []byte) *StatusError {
	status := http.StatusText(resp.StatusCode)
	if status == "" {
		status = strings.TrimSpace(strings.TrimPrefix(resp.Status, fmt.Sprint(resp.StatusCode)))
	}

	return &StatusError{
		StatusCode: resp.StatusCode,
		Status:     status,
		Message:    serverMessage(body, status),
	}
}

// serverMessage extracts {"detail": ...} (FastAPI), {"error": ...} or {"message": ...}
func serverMessage(body []byte, fallback string) string {
	var payload map[string]interface{}
	if err := json.Unmarshal(body, &payload); err != nil {
		return fallback
	}

	for _, key := range []string{"detail", "error", "message"} {
		if s, ok := payload[key].(string); ok && s != "" {
			return s
		}
	}
	return fallback
}
