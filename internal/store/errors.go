package store

import (
	"errors"
	"fmt"
	"net"
	"strings"
)

// ErrNotFound matches every NotFoundError.
var ErrNotFound = errors.New("store: not found")

// NotFoundError reports a missing page, app or component.
type NotFoundError struct {
	Kind string // "page", "app" or "component"
	Name string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.Name)
}

func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// ValidationError represents a record that cannot be written as given.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("validation failed: %s", e.Reason)
}

// StoreError wraps a driver failure with the operation that hit it.
type StoreError struct {
	Op        string // e.g. "get page", "publish"
	Err       error
	Retryable bool
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s failed: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// IsRetryable returns true if the operation may succeed when repeated.
func (e *StoreError) IsRetryable() bool {
	return e.Retryable
}

func newStoreError(op string, err error) *StoreError {
	return &StoreError{Op: op, Err: err, Retryable: isRetryableError(err)}
}

// isRetryableError checks if an error is transient.
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}

	var nf *NotFoundError
	var ve *ValidationError
	if errors.As(err, &nf) || errors.As(err, &ve) {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}

	errStr := strings.ToLower(err.Error())
	transientPatterns := []string{
		"connection refused",
		"connection reset",
		"database is locked",
		"sqlite_busy",
		"too many connections",
		"deadlock detected",
		"could not serialize access",
		"timeout",
		"try again",
	}
	for _, pattern := range transientPatterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}
	return false
}

// UserFriendlyMessage returns a message suitable for showing in the editor.
func UserFriendlyMessage(err error) string {
	if err == nil {
		return ""
	}

	var nf *NotFoundError
	if errors.As(err, &nf) {
		return fmt.Sprintf("The %s %q no longer exists.", nf.Kind, nf.Name)
	}

	var ve *ValidationError
	if errors.As(err, &ve) {
		return fmt.Sprintf("Invalid data: %s", ve.Reason)
	}

	var se *StoreError
	if errors.As(err, &se) && se.Retryable {
		return "The database is busy. Please try again."
	}

	return "Failed to save changes. Please try again."
}
