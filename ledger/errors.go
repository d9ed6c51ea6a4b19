package ledger

import "fmt"

// ErrorKind is the error taxonomy returned to callers (§4.4, §7).
type ErrorKind string

const (
	ErrInvalidInput        ErrorKind = "InvalidInput"
	ErrInvalidAmount       ErrorKind = "InvalidAmount"
	ErrInvalidNonce        ErrorKind = "InvalidNonce"
	ErrInvalidSignature    ErrorKind = "InvalidSignature"
	ErrInsufficientBalance ErrorKind = "InsufficientBalance"
	ErrTransientConflict   ErrorKind = "TransientConflict"
	ErrNotFound            ErrorKind = "NotFound"
	ErrInternal            ErrorKind = "Internal"
)

// Error wraps an ErrorKind with a human-readable cause, matching the
// fmt.Errorf("...: %w", err) wrapping idiom used throughout the store
// and engine.
type Error struct {
	Kind ErrorKind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError builds an *Error of the given kind.
func NewError(kind ErrorKind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// WrapError builds an *Error of the given kind, carrying an underlying cause.
func WrapError(kind ErrorKind, msg string, err error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// KindOf extracts the ErrorKind from err, defaulting to Internal for
// errors that did not originate in this package.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var le *Error
	if ok := asError(err, &le); ok {
		return le.Kind
	}
	return ErrInternal
}

func asError(err error, target **Error) bool {
	for err != nil {
		if le, ok := err.(*Error); ok {
			*target = le
			return true
		}
		unwrapper, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = unwrapper.Unwrap()
	}
	return false
}
