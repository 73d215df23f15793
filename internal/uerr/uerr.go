// Package uerr defines the tagged error kinds surfaced by the virtual
// memory kernel (spec §7). Transient kinds are recovered inside the
// component that produced them; callers of user-facing operations only
// ever observe AccessViolation, InsufficientCommit, InvalidRange, or a
// panic for Fatal.
package uerr

import "fmt"

// Kind enumerates the error categories the core reports.
type Kind int

const (
	// AccessViolation: VA outside any VAD, inside a deleting VAD,
	// insufficient permissions, or a decommitted PTE.
	AccessViolation Kind = iota
	// NoAvailablePages: transient, the caller retries after waiting on
	// a new-page event.
	NoAvailablePages
	// PageStateChange: transient, the caller re-snapshots and retries.
	PageStateChange
	// InsufficientCommit: would exceed memoryLimit.
	InsufficientCommit
	// InvalidRange: zero size, range straddles a VAD boundary, bad address.
	InvalidRange
	// Fatal invariant violation. Never returned, callers panic instead.
	Fatal
)

func (k Kind) String() string {
	switch k {
	case AccessViolation:
		return "access-violation"
	case NoAvailablePages:
		return "no-available-pages"
	case PageStateChange:
		return "page-state-change"
	case InsufficientCommit:
		return "insufficient-commit"
	case InvalidRange:
		return "invalid-range"
	case Fatal:
		return "fatal"
	default:
		return "unknown-error-kind"
	}
}

// Error is the concrete error value carrying a Kind and context.
type Error struct {
	Kind Kind
	Msg  string
}

func (e *Error) Error() string {
	if e.Msg == "" {
		return e.Kind.String()
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

// New constructs an *Error of the given kind.
func New(k Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: k, Msg: fmt.Sprintf(format, args...)}
}

// Is reports whether err carries kind k.
func Is(err error, k Kind) bool {
	e, ok := err.(*Error)
	return ok && e.Kind == k
}

// Transient reports whether err is recoverable by retrying the operation
// (NoAvailablePages or PageStateChange).
func Transient(err error) bool {
	e, ok := err.(*Error)
	if !ok {
		return false
	}
	return e.Kind == NoAvailablePages || e.Kind == PageStateChange
}

// Fatalf panics with a Fatal-kind error. Used at invariant violations that
// the spec declares unrecoverable (PFN/PTE mutual disagreement, double-set
// of a bitmap bit, list membership corruption).
func Fatalf(format string, args ...interface{}) {
	panic(New(Fatal, format, args...))
}

// Violation describes one invariant failure found by a debug scan
// (internal/system.System.DebugScan).
type Violation struct {
	Invariant string
	Detail    string
}

func (v Violation) String() string {
	return fmt.Sprintf("%s: %s", v.Invariant, v.Detail)
}
