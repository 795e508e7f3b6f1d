package errors

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidQuery      = errors.New("invalid query")
	ErrInvalidConfig     = errors.New("invalid configuration")
	ErrUnknownAttribute  = errors.New("unknown attribute")
	ErrEmptyIndex        = errors.New("index is empty")
	ErrDimensionMismatch = errors.New("dimension mismatch")
	ErrUnavailable       = errors.New("dependency unavailable")
	ErrTimeout           = errors.New("operation timed out")
	ErrInternal          = errors.New("internal error")
)

// SearchError attaches the attribute a failure belongs to.
type SearchError struct {
	Err       error
	Attribute string
	Message   string
}

func (e *SearchError) Error() string {
	if e.Attribute == "" {
		return fmt.Sprintf("%s: %s", e.Err.Error(), e.Message)
	}
	return fmt.Sprintf("%s [%s]: %s", e.Err.Error(), e.Attribute, e.Message)
}

func (e *SearchError) Unwrap() error {
	return e.Err
}

func New(sentinel error, attribute string, message string) *SearchError {
	return &SearchError{
		Err:       sentinel,
		Attribute: attribute,
		Message:   message,
	}
}

func Newf(sentinel error, attribute string, format string, args ...any) *SearchError {
	return &SearchError{
		Err:       sentinel,
		Attribute: attribute,
		Message:   fmt.Sprintf(format, args...),
	}
}

// Attribute returns the attribute recorded on err, or "" if none.
func Attribute(err error) string {
	var se *SearchError
	if errors.As(err, &se) {
		return se.Attribute
	}
	return ""
}

// IsRetryable reports whether err is worth retrying against an external
// dependency. Validation failures never are.
func IsRetryable(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, ErrInvalidQuery),
		errors.Is(err, ErrInvalidConfig),
		errors.Is(err, ErrUnknownAttribute),
		errors.Is(err, ErrDimensionMismatch),
		errors.Is(err, ErrEmptyIndex):
		return false
	default:
		return true
	}
}
