package display

import (
	"errors"
	"fmt"
)

// Kind classifies display errors independently of the operation that failed.
type Kind int

const (
	KindUndefined Kind = iota + 1
	KindNotSupported
	KindParameters
	KindMemory
	KindResources
	KindHardware
)

func (k Kind) String() string {
	switch k {
	case KindUndefined:
		return "undefined"
	case KindNotSupported:
		return "not supported"
	case KindParameters:
		return "invalid parameters"
	case KindMemory:
		return "out of memory"
	case KindResources:
		return "resources unavailable"
	case KindHardware:
		return "hardware error"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Error is the error type returned by the display core and its variants.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the bare kind sentinels (ErrParameters, ErrMemory, ...) so
// callers can test with errors.Is regardless of Op or the wrapped cause.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Op == "" && t.Err == nil && t.Kind == e.Kind
}

var (
	ErrUndefined    = &Error{Kind: KindUndefined}
	ErrNotSupported = &Error{Kind: KindNotSupported}
	ErrParameters   = &Error{Kind: KindParameters}
	ErrMemory       = &Error{Kind: KindMemory}
	ErrResources    = &Error{Kind: KindResources}
	ErrHardware     = &Error{Kind: KindHardware}
)

// E builds an *Error of the given kind with a formatted cause.
func E(kind Kind, op string, format string, args ...any) error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// Wrap attaches a kind and operation to err. It returns nil for a nil err.
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the kind of the first *Error in err's chain, or
// KindUndefined when there is none.
func KindOf(err error) Kind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindUndefined
}
