package utils

import (
	"fmt"
	"strings"
)

// ErrorWithSuggestion wraps an error with a user-friendly suggestion.
type ErrorWithSuggestion struct {
	Err        error
	Suggestion string
}

// Error implements the error interface.
func (e *ErrorWithSuggestion) Error() string {
	return fmt.Sprintf("%s\n\nSuggestion: %s", e.Err.Error(), e.Suggestion)
}

// GetSuggestion returns the suggestion text.
func (e *ErrorWithSuggestion) GetSuggestion() string {
	return e.Suggestion
}

// Unwrap returns the underlying error for error chain support.
func (e *ErrorWithSuggestion) Unwrap() error {
	return e.Err
}

// WrapWithSuggestion wraps an existing error with a suggestion.
func WrapWithSuggestion(err error, suggestion string) error {
	return &ErrorWithSuggestion{
		Err:        err,
		Suggestion: suggestion,
	}
}

// ErrUnknownResource returns an error for an unrecognized resource type.
func ErrUnknownResource(name string, valid []string) error {
	return &ErrorWithSuggestion{
		Err:        fmt.Errorf("unknown resource type: %s", name),
		Suggestion: fmt.Sprintf("Valid resource types are: %s", strings.Join(valid, ", ")),
	}
}

// ErrSnapshotNotPopulated returns an error for a resource that has never
// been fetched from upstream.
func ErrSnapshotNotPopulated(name string) error {
	return &ErrorWithSuggestion{
		Err:        fmt.Errorf("no snapshot available for '%s' yet", name),
		Suggestion: fmt.Sprintf("Run 'boardcache refresh %s' to fetch it, or start the server with refresh_on_start enabled", name),
	}
}

// ErrCredentialsNotFound returns an error for a missing upstream token.
func ErrCredentialsNotFound() error {
	return &ErrorWithSuggestion{
		Err:        fmt.Errorf("no upstream API token found"),
		Suggestion: "Run 'boardcache setup' to store a token in the system keyring, or set BOARDCACHE_NOTION_TOKEN",
	}
}

// ErrAuthenticationFailed returns an error for a rejected upstream token.
func ErrAuthenticationFailed() error {
	return &ErrorWithSuggestion{
		Err:        fmt.Errorf("upstream rejected the API token"),
		Suggestion: "The token may be expired or lack access to the configured databases. Run 'boardcache setup' to replace it",
	}
}

// ErrDatabaseNotConfigured returns an error for a resource with no
// upstream database ID in the config.
func ErrDatabaseNotConfigured(name string) error {
	return &ErrorWithSuggestion{
		Err:        fmt.Errorf("no upstream database configured for resource '%s'", name),
		Suggestion: fmt.Sprintf("Add 'upstream.databases.%s' to your config file", name),
	}
}

// ErrInvalidDuration returns an error for an unparseable duration value.
func ErrInvalidDuration(key, value string) error {
	return &ErrorWithSuggestion{
		Err:        fmt.Errorf("invalid duration for %s: %q", key, value),
		Suggestion: "Use Go duration syntax, e.g. '30m', '1h', '90s'",
	}
}

// ErrServerUnreachable returns an error for a cache server that did not
// answer on the configured address.
func ErrServerUnreachable(addr string) error {
	return &ErrorWithSuggestion{
		Err:        fmt.Errorf("cache server at %s is not responding", addr),
		Suggestion: "Start it with 'boardcache serve', or point --addr at the right instance",
	}
}
