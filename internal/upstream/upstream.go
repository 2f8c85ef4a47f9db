// Package upstream defines the boundary to the remote project-management API:
// a fetcher that returns the complete current state of one resource type, and
// an error taxonomy that separates retry-next-tick failures from
// operator-attention failures.
package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"boardcache/internal/resource"
)

// ErrorKind classifies a fetch failure.
type ErrorKind int

const (
	// Transient failures (rate limiting, timeouts, 5xx) resolve themselves;
	// the next scheduled refresh retries them.
	Transient ErrorKind = iota
	// Permanent failures (bad token, bad database ID) need operator
	// intervention. The scheduler still retries on cadence, but these are
	// surfaced distinctly so repeated occurrences can be alerted on.
	Permanent
)

// String returns the lowercase name of the kind.
func (k ErrorKind) String() string {
	if k == Permanent {
		return "permanent"
	}
	return "transient"
}

// Error is a classified fetch failure.
type Error struct {
	Kind     ErrorKind
	Resource resource.Type
	Err      error
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("%s fetch failed (%s): %v", e.Resource, e.Kind, e.Err)
}

// Unwrap returns the underlying error for error chain support.
func (e *Error) Unwrap() error { return e.Err }

// NewTransient wraps err as a transient fetch failure.
func NewTransient(res resource.Type, err error) *Error {
	return &Error{Kind: Transient, Resource: res, Err: err}
}

// NewPermanent wraps err as a permanent fetch failure.
func NewPermanent(res resource.Type, err error) *Error {
	return &Error{Kind: Permanent, Resource: res, Err: err}
}

// KindOf extracts the classification from err. Unclassified errors (network
// failures bubbling up from the HTTP client, context cancellation) count as
// transient: the safe default is to retry on the next tick.
func KindOf(err error) ErrorKind {
	var ue *Error
	if errors.As(err, &ue) {
		return ue.Kind
	}
	return Transient
}

// Fetcher retrieves the full current state of one resource type from the
// remote source. Implementations must fully paginate: a partial result is
// never returned as success.
type Fetcher interface {
	// FetchAll returns every record of the given resource type as opaque
	// JSON documents, in upstream order. On failure the returned error is
	// (or wraps) *Error.
	FetchAll(ctx context.Context, res resource.Type) ([]json.RawMessage, error)
}
