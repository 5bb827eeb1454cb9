package scrobble

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

var (
	// ErrMissingCredential means the sink has no usable token or session; no
	// request was sent.
	ErrMissingCredential = errors.New("missing credential")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrRateLimited       = errors.New("rate limited")
)

// Listen is a single play handed to the sinks.
type Listen struct {
	Artist     string
	Track      string
	ListenedAt time.Time
}

// Sink is implemented by every scrobble backend.
type Sink interface {
	// ID returns a unique identifier for this sink instance.
	ID() string
	// Name returns a human-readable name for the sink.
	Name() string
	// Submit sends one listen. It must not retry.
	Submit(ctx context.Context, l Listen) error
}

// HTTPError reports a response the remote service rejected.
type HTTPError struct {
	Service    string
	StatusCode int
	Status     string
	Message    string
	// Err is ErrUnauthorized or ErrRateLimited when the status maps to one.
	Err error
}

func (e *HTTPError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s error: %s: %s", e.Service, e.Status, e.Message)
	}
	return fmt.Sprintf("%s error: %s", e.Service, e.Status)
}

func (e *HTTPError) Unwrap() error { return e.Err }

// CheckResponse converts a non-2xx response into an *HTTPError.
func CheckResponse(service string, resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	herr := &HTTPError{Service: service, StatusCode: resp.StatusCode, Status: resp.Status}
	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		herr.Err = ErrUnauthorized
	case http.StatusTooManyRequests:
		herr.Err = ErrRateLimited
	}
	return herr
}
