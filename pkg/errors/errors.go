// Package errors defines the error taxonomy shared by the repository index
// and its sub-indices. Sentinels are matched with errors.Is; IndexError adds
// the failing operation and a human readable message.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrConfiguration reports an index that cannot be opened as requested,
	// e.g. a missing file opened read-only or contradictory size parameters.
	ErrConfiguration = errors.New("configuration error")
	// ErrInvalidState reports a capacity or mode violation.
	ErrInvalidState = errors.New("invalid state")
	// ErrReadOnly reports a write attempted on a read-only index.
	ErrReadOnly = fmt.Errorf("%w: index is read-only", ErrInvalidState)
	// ErrInternalConsistency reports an entry that was assumed present but
	// could not be found. It signals corruption or a caller bug.
	ErrInternalConsistency = errors.New("internal consistency violation")
	// ErrNotFound is the expected outcome of a lookup for a missing key.
	ErrNotFound = errors.New("not found")
	// ErrBackend wraps any failure of the search backend.
	ErrBackend = errors.New("search backend error")
	// ErrInvalidInput reports malformed arguments.
	ErrInvalidInput = errors.New("invalid input")
	// ErrCorrupt reports an index file whose header or records cannot be decoded.
	ErrCorrupt = errors.New("corrupt index file")
)

// IndexError attaches the failing operation to one of the sentinels above.
type IndexError struct {
	Op      string
	Err     error
	Message string
}

func (e *IndexError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Err.Error())
	}
	return fmt.Sprintf("%s: %s: %s", e.Op, e.Err.Error(), e.Message)
}

func (e *IndexError) Unwrap() error {
	return e.Err
}

func New(sentinel error, op string, message string) *IndexError {
	return &IndexError{
		Op:      op,
		Err:     sentinel,
		Message: message,
	}
}

func Newf(sentinel error, op string, format string, args ...any) *IndexError {
	return &IndexError{
		Op:      op,
		Err:     sentinel,
		Message: fmt.Sprintf(format, args...),
	}
}

// Wrap classifies cause under sentinel. Both stay visible to errors.Is.
func Wrap(sentinel error, op string, cause error) *IndexError {
	return &IndexError{
		Op:  op,
		Err: fmt.Errorf("%w: %w", sentinel, cause),
	}
}

// Is reports whether err matches target. It is a convenience re-export so
// callers do not need to import both packages.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As is the re-exported errors.As.
func As(err error, target any) bool {
	return errors.As(err, target)
}

func HTTPStatusCode(err error) int {
	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, ErrReadOnly):
		return http.StatusForbidden
	case errors.Is(err, ErrInvalidState):
		return http.StatusConflict
	case errors.Is(err, ErrBackend):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
