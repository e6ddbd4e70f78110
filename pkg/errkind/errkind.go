// Package errkind defines the error taxonomy shared by every introspection
// operation. Callers branch on the kind, never on message text:
//
//	if errors.Is(err, errkind.ReadFailed) { ... }
package errkind

import (
	"errors"
	"fmt"
)

// Kind classifies a failure. A Kind is itself an error so it can be used
// directly as an errors.Is target.
type Kind int

const (
	// Unknown is reported by Of for errors outside the taxonomy.
	Unknown Kind = iota
	// SymbolNotFound means a symbol, type or global name did not resolve.
	SymbolNotFound
	// InvalidArgument means a length, pattern or granularity was malformed.
	InvalidArgument
	// ReadFailed means target memory at a validated range was inaccessible.
	ReadFailed
	// PatternNotFound means a search ran but found nothing where a match was required.
	PatternNotFound
	// InvalidFieldAccess means navigation was attempted on an incompatible kind
	// or an absent field name.
	InvalidFieldAccess
)

var kindNames = map[Kind]string{
	Unknown:            "unknown",
	SymbolNotFound:     "symbol not found",
	InvalidArgument:    "invalid argument",
	ReadFailed:         "read failed",
	PatternNotFound:    "pattern not found",
	InvalidFieldAccess: "invalid field access",
}

// String returns the human-readable kind name.
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Error implements error.
func (k Kind) Error() string {
	return k.String()
}

// Error is a classified failure of a single operation.
type Error struct {
	Kind Kind
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Msg != "" {
		msg += ": " + e.Msg
	}
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause, if any.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is this error's Kind.
func (e *Error) Is(target error) bool {
	k, ok := target.(Kind)
	return ok && k == e.Kind
}

// New creates a classified error with a formatted message.
func New(kind Kind, op, format string, args ...any) error {
	return &Error{Kind: kind, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// Wrap classifies err under kind. A nil err yields nil.
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// Of returns the kind carried by err, or Unknown.
func Of(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	var k Kind
	if errors.As(err, &k) {
		return k
	}
	return Unknown
}

// Is is shorthand for errors.Is(err, kind).
func Is(err error, kind Kind) bool {
	return errors.Is(err, kind)
}
