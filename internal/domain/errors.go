package domain

import (
	"context"
	"errors"
)

var (
	ErrUnsupportedFormat = errors.New("unsupported format")
	ErrNotFound          = errors.New("not found")
	ErrReadError         = errors.New("read error")
	ErrInvalidConfig     = errors.New("invalid config")
	ErrTransientExternal = errors.New("transient external failure")
	ErrPermanentExternal = errors.New("permanent external failure")
	ErrDimensionMismatch = errors.New("dimension mismatch")
	ErrInvalidTopK       = errors.New("top_k must be a positive integer")
)

// classified attaches an error class to an underlying error while keeping
// both reachable through errors.Is and errors.As.
type classified struct {
	class error
	err   error
}

func (e *classified) Error() string {
	return e.class.Error() + ": " + e.err.Error()
}

func (e *classified) Unwrap() []error {
	return []error{e.class, e.err}
}

// Transient marks err as a retryable external failure.
func Transient(err error) error {
	if err == nil || errors.Is(err, ErrTransientExternal) {
		return err
	}
	return &classified{class: ErrTransientExternal, err: err}
}

// Permanent marks err as a non-retryable external failure.
func Permanent(err error) error {
	if err == nil || errors.Is(err, ErrPermanentExternal) {
		return err
	}
	return &classified{class: ErrPermanentExternal, err: err}
}

// IsRetryable reports whether an external call that failed with err may be
// attempted again. Unclassified errors, timeouts included, count as
// transient. A bare cancellation does not.
func IsRetryable(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, ErrPermanentExternal):
		return false
	case errors.Is(err, ErrTransientExternal):
		return true
	case errors.Is(err, context.Canceled):
		return false
	default:
		return true
	}
}

// ErrorClass names the taxonomy class of err for reporting.
func ErrorClass(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrUnsupportedFormat):
		return "UnsupportedFormat"
	case errors.Is(err, ErrNotFound):
		return "NotFound"
	case errors.Is(err, ErrReadError):
		return "ReadError"
	case errors.Is(err, ErrInvalidConfig):
		return "InvalidConfig"
	case errors.Is(err, ErrDimensionMismatch):
		return "DimensionMismatch"
	case errors.Is(err, ErrPermanentExternal):
		return "PermanentExternalFailure"
	case errors.Is(err, ErrTransientExternal):
		return "TransientExternalFailure"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "Canceled"
	default:
		return "Internal"
	}
}
