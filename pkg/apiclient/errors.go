package apiclient

import (
	"errors"
	"fmt"
	"net/http"

	json "github.com/goccy/go-json"
)

var (
	// ErrRateLimitExceeded is returned before any network I/O when the
	// category's window is exhausted.
	ErrRateLimitExceeded = errors.New("rate limit exceeded")
	// ErrRequestTimeout is returned when the per-request timeout expires.
	ErrRequestTimeout = errors.New("request timed out")
)

// HTTPError is a non-2xx response. Code is the machine-readable error code
// some services (OSRM) return alongside the message.
type HTTPError struct {
	Method string
	URL    string
	Status int
	Code   string
	Detail string
}

func (e *HTTPError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s %s: %d %s: %s", e.Method, e.URL, e.Status, http.StatusText(e.Status), e.Detail)
	}
	return fmt.Sprintf("%s %s: %d %s", e.Method, e.URL, e.Status, http.StatusText(e.Status))
}

// NetworkError wraps transport failures (DNS, refused connection, reset).
type NetworkError struct {
	Err error
}

func (e *NetworkError) Error() string { return "network error: " + e.Err.Error() }
func (e *NetworkError) Unwrap() error { return e.Err }

// StatusOf returns the HTTP status carried by err, or 0.
func StatusOf(err error) int {
	var he *HTTPError
	if errors.As(err, &he) {
		return he.Status
	}
	return 0
}

func IsUnauthorized(err error) bool { return StatusOf(err) == http.StatusUnauthorized }
func IsForbidden(err error) bool    { return StatusOf(err) == http.StatusForbidden }
func IsNotFound(err error) bool     { return StatusOf(err) == http.StatusNotFound }

// IsTransient reports failures worth a manual retry: 5xx, timeouts and
// network errors.
func IsTransient(err error) bool {
	if StatusOf(err) >= 500 || errors.Is(err, ErrRequestTimeout) {
		return true
	}
	var ne *NetworkError
	return errors.As(err, &ne)
}

// parseDetail extracts FastAPI's {"detail": ...} message, falling back to
// the {"code", "message"} shape used by OSRM.
func parseDetail(body []byte) (detail, code string) {
	var payload struct {
		Detail  json.RawMessage `json:"detail"`
		Code    string          `json:"code"`
		Message string          `json:"message"`
	}
	if len(body) == 0 || json.Unmarshal(body, &payload) != nil {
		return "", ""
	}
	if len(payload.Detail) == 0 {
		return payload.Message, payload.Code
	}
	var s string
	if err := json.Unmarshal(payload.Detail, &s); err == nil {
		return s, payload.Code
	}
	return string(payload.Detail), payload.Code
}
