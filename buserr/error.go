// Package buserr defines the shared error taxonomy used across the
// message bus, the queue, the router, and the transport. Every caller
// error surfaced by the public API carries one of these Kinds so callers
// can branch generically instead of matching on package-specific
// sentinels.
package buserr

import (
	"errors"
	"fmt"
)

// Kind is a closed taxonomy of error categories a public operation can
// return.
type Kind int

const (
	InvalidArgument Kind = iota
	NotFound
	Shutdown
	Overflow
	Timeout
	NetworkError
	ProtocolViolation
	ResourceError
	CallbackError
)

func (k Kind) String() string {
	switch k {
	case InvalidArgument:
		return "invalid_argument"
	case NotFound:
		return "not_found"
	case Shutdown:
		return "shutdown"
	case Overflow:
		return "overflow"
	case Timeout:
		return "timeout"
	case NetworkError:
		return "network_error"
	case ProtocolViolation:
		return "protocol_violation"
	case ResourceError:
		return "resource_error"
	case CallbackError:
		return "callback_error"
	default:
		return "unknown"
	}
}

// Error wraps an underlying cause with a Kind, so callers can both branch
// on the kind (via Is) and unwrap to the original cause (via errors.Unwrap).
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is lets errors.Is(err, buserr.ErrOverflow) match any *Error sharing
// that Kind, regardless of Op or wrapped cause.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// Is reports whether err (or anything it wraps) is a *Error of the given
// Kind.
func Is(err error, kind Kind) bool {
	var be *Error
	if errors.As(err, &be) {
		return be.Kind == kind
	}
	return false
}

// New constructs an *Error for op with the given kind, optionally
// wrapping cause.
func New(op string, kind Kind, cause error) *Error {
	return &Error{Kind: kind, Op: op, Err: cause}
}

// Sentinel instances for comparison with errors.Is where no extra context
// is needed.
var (
	ErrNotFound          = &Error{Kind: NotFound}
	ErrShutdown          = &Error{Kind: Shutdown}
	ErrOverflow          = &Error{Kind: Overflow}
	ErrTimeout           = &Error{Kind: Timeout}
	ErrInvalidArgument   = &Error{Kind: InvalidArgument}
	ErrNetworkError      = &Error{Kind: NetworkError}
	ErrProtocolViolation = &Error{Kind: ProtocolViolation}
	ErrResourceError     = &Error{Kind: ResourceError}
	ErrCallbackError     = &Error{Kind: CallbackError}
)
