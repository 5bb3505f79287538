package integration

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"unicode/utf8"
)

// ErrTimeout indicates the call did not complete within its deadline.
type ErrTimeout struct {
	Err error
}

func (e ErrTimeout) Error() string {
	return fmt.Errorf("timeout: %w", e.Err).Error()
}

func (e ErrTimeout) Unwrap() error {
	return e.Err
}

// ErrUnavailable indicates a connection failure or a 5xx response.
type ErrUnavailable struct {
	Err error
}

func (e ErrUnavailable) Error() string {
	return fmt.Errorf("unavailable: %w", e.Err).Error()
}

func (e ErrUnavailable) Unwrap() error {
	return e.Err
}

// ErrRateLimited indicates the remote side answered HTTP 429.
type ErrRateLimited struct {
	Err error
}

func (e ErrRateLimited) Error() string {
	return fmt.Errorf("rate_limited: %w", e.Err).Error()
}

func (e ErrRateLimited) Unwrap() error {
	return e.Err
}

// ErrRejected indicates the remote side refused the request (4xx other than 429)
// or the adapter refused the product before calling out.
type ErrRejected struct {
	StatusCode int
	Err        error
}

func (e ErrRejected) Error() string {
	return fmt.Errorf("rejected: %w", e.Err).Error()
}

func (e ErrRejected) Unwrap() error {
	return e.Err
}

// ErrorTypeLabel returns a short metric label for an adapter error.
func ErrorTypeLabel(err error) string {
	if err == nil {
		return "unknown"
	}
	var timeout ErrTimeout
	if errors.As(err, &timeout) {
		return "timeout"
	}
	var unavailable ErrUnavailable
	if errors.As(err, &unavailable) {
		return "unavailable"
	}
	var rateLimited ErrRateLimited
	if errors.As(err, &rateLimited) {
		return "rate_limited"
	}
	var rejected ErrRejected
	if errors.As(err, &rejected) {
		if rejected.StatusCode == http.StatusUnauthorized || rejected.StatusCode == http.StatusForbidden {
			return "unauthorized"
		}
		return "rejected"
	}
	return "other"
}

const maxBodySnippet = 200

// Classify converts a transport error or a non-2xx status into one of the typed errors.
// It returns nil when err is nil and statusCode is 2xx/3xx.
func Classify(op string, err error, statusCode int, body []byte) error {
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return ErrTimeout{Err: fmt.Errorf("%s: %w", op, err)}
		}
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return ErrTimeout{Err: fmt.Errorf("%s: %w", op, err)}
		}
		return ErrUnavailable{Err: fmt.Errorf("%s: %w", op, err)}
	}

	if statusCode < http.StatusBadRequest {
		return nil
	}

	wrapped := fmt.Errorf("%s: HTTP %d", op, statusCode)
	if snippet := bodySnippet(body); snippet != "" {
		wrapped = fmt.Errorf("%s: HTTP %d: %s", op, statusCode, snippet)
	}

	switch {
	case statusCode == http.StatusTooManyRequests:
		return ErrRateLimited{Err: wrapped}
	case statusCode >= http.StatusInternalServerError:
		return ErrUnavailable{Err: wrapped}
	default:
		return ErrRejected{StatusCode: statusCode, Err: wrapped}
	}
}

// Rejectf builds an ErrRejected for a product the adapter refuses locally.
func Rejectf(format string, args ...interface{}) error {
	return ErrRejected{Err: fmt.Errorf(format, args...)}
}

func bodySnippet(body []byte) string {
	s := strings.Join(strings.Fields(string(body)), " ")
	if utf8.RuneCountInString(s) <= maxBodySnippet {
		return s
	}
	return string([]rune(s)[:maxBodySnippet]) + "..."
}
