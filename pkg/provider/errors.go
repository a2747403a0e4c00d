package provider

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

var (
	// ErrRateLimited matches a StatusError carrying HTTP 429.
	ErrRateLimited = errors.New("rate limited")
	// ErrTransport wraps network failures, timeouts and cancellations.
	ErrTransport = errors.New("transport failure")
	// ErrMalformedResponse is returned when a 2xx body lacks the expected text.
	ErrMalformedResponse = errors.New("malformed response")
	// ErrUnsupportedProvider is returned by New for unknown variant names.
	ErrUnsupportedProvider = errors.New("unsupported provider")
)

// StatusError is a non-2xx response from a backend. Detail holds the parsed
// JSON error body when the body was valid JSON.
type StatusError struct {
	Provider   string
	StatusCode int
	Detail     any
	Body       []byte
	RetryAfter time.Duration
}

func (e *StatusError) Error() string {
	if len(e.Body) > 0 {
		return fmt.Sprintf("%s: upstream status %d: %s", e.Provider, e.StatusCode, truncate(string(e.Body), 200))
	}
	return fmt.Sprintf("%s: upstream status %d", e.Provider, e.StatusCode)
}

// Is reports whether the status means the caller should back off.
func (e *StatusError) Is(target error) bool {
	return target == ErrRateLimited && e.StatusCode == http.StatusTooManyRequests
}

// IsRateLimited reports whether err is a rate-limit signal.
func IsRateLimited(err error) bool {
	return errors.Is(err, ErrRateLimited)
}

// StatusCode extracts the HTTP status from err, or 0.
func StatusCode(err error) int {
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode
	}
	return 0
}

func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
