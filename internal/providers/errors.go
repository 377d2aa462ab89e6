package providers

import (
	"context"
	"errors"
	"fmt"
	"net"
)

var (
	// ErrEndpointUnreachable is a transport-level failure reaching the model host.
	ErrEndpointUnreachable = errors.New("endpoint unreachable")

	// ErrEndpointTimeout is returned when a request exceeds its deadline.
	ErrEndpointTimeout = errors.New("endpoint timeout")

	// ErrEndpointError matches every *EndpointError.
	ErrEndpointError = errors.New("endpoint error")
)

// maxErrorBody caps how much of a failed response body is kept.
const maxErrorBody = 512

// EndpointError is a non-success status from the model host.
type EndpointError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *EndpointError) Error() string {
	return fmt.Sprintf("%s error (status %d): %s", e.Provider, e.StatusCode, e.Body)
}

// Is matches ErrEndpointError.
func (e *EndpointError) Is(target error) bool {
	return target == ErrEndpointError
}

func newEndpointError(provider string, status int, body []byte) *EndpointError {
	if len(body) > maxErrorBody {
		body = body[:maxErrorBody]
	}
	return &EndpointError{Provider: provider, StatusCode: status, Body: string(body)}
}

// IsTransport reports whether err is an endpoint failure worth retrying:
// unreachable host, timeout, or a non-success status.
func IsTransport(err error) bool {
	return errors.Is(err, ErrEndpointUnreachable) ||
		errors.Is(err, ErrEndpointTimeout) ||
		errors.Is(err, ErrEndpointError)
}

// classifyTransport wraps a request failure with the matching sentinel.
// Caller cancellation passes through unchanged.
func classifyTransport(provider string, err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w: %w", provider, ErrEndpointTimeout, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%s: %w: %w", provider, ErrEndpointTimeout, err)
	}
	return fmt.Errorf("%s: %w: %w", provider, ErrEndpointUnreachable, err)
}
