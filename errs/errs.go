// Package errs defines the error taxonomy shared across the metarepo
// components. Every operation that can fail in a way callers need to
// branch on returns (or wraps) an *Error with one of the Kind values
// below, so a CLI shim or a calling program can map failures to exit
// codes without string-matching error text.
package errs

import (
	"errors"
	"fmt"
)

// Kind classifies why an operation failed.
type Kind int

const (
	// Unknown is the zero value; never returned deliberately.
	Unknown Kind = iota

	// Usage indicates bad arguments or an invalid combination of flags.
	Usage

	// Dirty indicates the working tree or index has uncommitted changes
	// where a clean state was required.
	Dirty

	// NotFound indicates a reference, commit, sub-repository, or path
	// does not exist.
	NotFound

	// NoMergeBase indicates two commits share no common ancestor.
	NoMergeBase

	// Conflict indicates a merge or rebase step produced conflicting
	// content that requires manual resolution.
	Conflict

	// SubUnresolved indicates a sub-repository that the meta-level
	// operation needs could not be resolved: the open policy forbids
	// opening it, or no resolver is configured.
	SubUnresolved

	// FetchFailed indicates a remote fetch or push could not complete.
	FetchFailed

	// IO indicates a filesystem or object-database failure unrelated to
	// the semantics of the requested operation.
	IO

	// Internal indicates a violated invariant; this should never surface
	// to a well-behaved caller and signals a bug.
	Internal

	// NotInSubmodule indicates destitch could not attribute a file path
	// to any sub-repository prefix in the registry at the commit being
	// reconstructed.
	NotInSubmodule
)

// String renders the Kind for logging and error messages.
func (k Kind) String() string {
	switch k {
	case Usage:
		return "usage"
	case Dirty:
		return "dirty"
	case NotFound:
		return "not_found"
	case NoMergeBase:
		return "no_merge_base"
	case Conflict:
		return "conflict"
	case SubUnresolved:
		return "sub_unresolved"
	case FetchFailed:
		return "fetch_failed"
	case IO:
		return "io"
	case Internal:
		return "internal"
	case NotInSubmodule:
		return "not_in_submodule"
	default:
		return "unknown"
	}
}

// Error is the concrete error type returned by metarepo components.
type Error struct {
	// Kind classifies the failure.
	Kind Kind

	// Op names the operation that failed, e.g. "merge.Run" or
	// "registry.Parse". Used to build a breadcrumb trail as errors
	// propagate up through layers.
	Op string

	// Path is the sub-repository or file path the error concerns, if
	// any.
	Path string

	// Err is the underlying error, if one exists. May be nil for
	// sentinel-style errors constructed directly from a Kind and
	// message.
	Err error

	// msg is an optional human-readable detail used when Err is nil.
	msg string
}

// Error implements the error interface.
func (e *Error) Error() string {
	var detail string
	switch {
	case e.Err != nil:
		detail = e.Err.Error()
	case e.msg != "":
		detail = e.msg
	default:
		detail = e.Kind.String()
	}

	if e.Op == "" && e.Path == "" {
		return detail
	}

	if e.Path == "" {
		return fmt.Sprintf("%s: %s", e.Op, detail)
	}

	if e.Op == "" {
		return fmt.Sprintf("%s: %s", e.Path, detail)
	}

	return fmt.Sprintf("%s(%s): %s", e.Op, e.Path, detail)
}

// Unwrap returns the wrapped error, enabling errors.Is/errors.As to see
// through an *Error to the cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// New constructs an *Error with a formatted message and no underlying
// cause.
func New(kind Kind, op string, format string, args ...any) *Error {
	return &Error{
		Kind: kind,
		Op:   op,
		msg:  fmt.Sprintf(format, args...),
	}
}

// Wrap attaches an operation name and Kind to an existing error. If err
// is nil, Wrap returns nil. If err is already an *Error, Op is only set
// when the existing one is empty, preserving the innermost operation
// name in the breadcrumb trail.
func Wrap(kind Kind, op string, err error) *Error {
	if err == nil {
		return nil
	}

	var existing *Error
	if errors.As(err, &existing) {
		if existing.Op == "" {
			existing.Op = op
		}

		return existing
	}

	return &Error{
		Kind: kind,
		Op:   op,
		Err:  err,
	}
}

// WithPath returns a copy of e with Path set, leaving e itself
// unmodified.
func (e *Error) WithPath(path string) *Error {
	cp := *e
	cp.Path = path

	return &cp
}

// KindOf returns the Kind carried by err, walking the Unwrap chain. It
// returns Internal if err is non-nil but carries no *Error, and
// Unknown if err is nil.
func KindOf(err error) Kind {
	if err == nil {
		return Unknown
	}

	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}

	return Internal
}

// Is reports whether err carries the given Kind anywhere in its chain.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}
