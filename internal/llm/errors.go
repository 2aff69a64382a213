package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// ErrTransient marks failures worth retrying with the same input:
// rate limiting, overload and timeouts.
var ErrTransient = errors.New("transient model failure")

// ErrNotConfigured is returned by providers without credentials.
var ErrNotConfigured = errors.New("language model not configured")

// StatusOverloaded is the non-standard status some providers use for overload.
const StatusOverloaded = 529

// APIError is a non-2xx reply from the model API.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error (status %d): %s", e.StatusCode, e.Message)
}

// Is lets errors.Is(err, ErrTransient) match retryable statuses.
func (e *APIError) Is(target error) bool {
	return target == ErrTransient && transientStatus(e.StatusCode)
}

func transientStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests, http.StatusBadGateway, http.StatusServiceUnavailable,
		http.StatusGatewayTimeout, StatusOverloaded:
		return true
	}
	return false
}

// IsTransient reports whether err is a retryable upstream failure.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrTransient) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
