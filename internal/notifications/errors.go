package notifications

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrDispatcherClosed is returned by Enqueue after Close has been called.
	ErrDispatcherClosed = errors.New("notifications: dispatcher closed")
	// ErrInvalidJob reports a job without a recipient, subject or body.
	ErrInvalidJob = errors.New("notifications: invalid job")
)

// RateLimitedError reports that no admission slot or queue space was available.
type RateLimitedError struct {
	RetryAfter time.Duration
	Err        error
}

func (e *RateLimitedError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("notifications: rate limited, retry after %s: %v", e.RetryAfter, e.Err)
	}
	return fmt.Sprintf("notifications: rate limited, retry after %s", e.RetryAfter)
}

func (e *RateLimitedError) Unwrap() error { return e.Err }

// TransportError wraps a failure to connect, authenticate or transmit to the relay.
// Transport errors are never retried by the dispatcher.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("notifications: transport: %v", e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }
