package session

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

var (
	// ErrNoDocument is returned before the first successful navigation.
	ErrNoDocument = errors.New("session: no document loaded")
	// ErrElementNotFound is returned by Click when nothing matches.
	ErrElementNotFound = errors.New("session: element not found")
	// ErrNotActionable is returned by Click when the element has no link target.
	ErrNotActionable = errors.New("session: element has no link target")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("session: closed")
	// ErrLoginFailed is returned when no session cookies could be obtained.
	ErrLoginFailed = errors.New("session: login failed")
	// ErrSignedOut is returned when a page load lands on the sign-in form.
	ErrSignedOut = errors.New("session: redirected to sign-in")
)

// Kind says why a page load failed. Its value doubles as the metrics label.
type Kind string

const (
	KindTimeout     Kind = "timeout"
	KindConnection  Kind = "connection"
	KindForbidden   Kind = "forbidden"
	KindNotFound    Kind = "not_found"
	KindRateLimited Kind = "rate_limited"
	KindStatus      Kind = "http_status"
)

// FetchError is a failed page load. Status is zero for transport failures.
type FetchError struct {
	Kind   Kind
	Status int
	Err    error
}

func (e *FetchError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s (status %d): %v", e.Kind, e.Status, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// Is matches another FetchError of the same kind, so callers can test with
// errors.Is(err, &FetchError{Kind: KindRateLimited}).
func (e *FetchError) Is(target error) bool {
	t, ok := target.(*FetchError)
	return ok && t.Kind == e.Kind
}

// ErrorTypeLabel maps an error to the label used in logs and metrics.
func ErrorTypeLabel(err error) string {
	if err == nil {
		return "unknown"
	}
	var fetchErr *FetchError
	if errors.As(err, &fetchErr) {
		return string(fetchErr.Kind)
	}
	if errors.Is(err, ErrSignedOut) {
		return "signed_out"
	}
	for _, docErr := range []error{ErrNoDocument, ErrElementNotFound, ErrNotActionable} {
		if errors.Is(err, docErr) {
			return "document"
		}
	}
	return "other"
}

// classifyError turns a transport error or a non-2xx status into a
// FetchError. Errors it cannot place are returned unchanged.
func classifyError(err error, statusCode int) error {
	var netErr net.Error
	var opErr *net.OpError
	switch {
	case err == nil && statusCode == 0:
		return nil
	case errors.Is(err, context.DeadlineExceeded), errors.As(err, &netErr) && netErr.Timeout():
		return &FetchError{Kind: KindTimeout, Err: err}
	case errors.As(err, &opErr):
		return &FetchError{Kind: KindConnection, Err: err}
	case statusCode == 0:
		return err
	}

	if err == nil {
		err = errors.New(http.StatusText(statusCode))
	}
	kind := KindStatus
	switch statusCode {
	case http.StatusForbidden:
		kind = KindForbidden
	case http.StatusNotFound:
		kind = KindNotFound
	case http.StatusTooManyRequests:
		kind = KindRateLimited
	}
	return &FetchError{Kind: kind, Status: statusCode, Err: err}
}
