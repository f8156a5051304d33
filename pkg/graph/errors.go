package graph

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/sanonone/tagdb/pkg/kv"
)

// Sentinel errors. Every error returned by a Store is an *Error whose Kind is
// one of these (or a context error), so errors.Is works on the result.
var (
	// ErrClassification means a tagging target is neither an existing path
	// nor a web address. Nothing was written.
	ErrClassification = errors.New("neither a web address nor a path")

	// ErrNotFound means a referenced vertex does not exist.
	ErrNotFound = errors.New("vertex not found")

	// ErrAmbiguousMatch means a lookup that must resolve to one vertex
	// matched several. Error.IDs lists them.
	ErrAmbiguousMatch = errors.New("property matches more than one vertex")

	// ErrDuplicateRisk means the backend rejected a write because a
	// concurrent transaction touched the same keys. The write was not applied
	// and is not retried, since retrying blindly could create a duplicate.
	ErrDuplicateRisk = errors.New("concurrent write conflict")

	// ErrBackend wraps any other storage failure.
	ErrBackend = errors.New("storage backend failure")

	// ErrTraversalLimit means a traversal exceeded TraversalLimits.
	ErrTraversalLimit = errors.New("traversal limit exceeded")

	// ErrInvalidArgument means the caller passed a malformed argument.
	ErrInvalidArgument = errors.New("invalid argument")
)

// Error is the structured error returned by Store operations.
//
// It unwraps to both Kind and Err, so callers can match the category with
// errors.Is(err, graph.ErrNotFound) and still reach the backend cause.
type Error struct {
	// Op is the operation that failed, e.g. "TagItem".
	Op string

	// Kind is the sentinel describing the failure category.
	Kind error

	// Value is the offending input, when there is one.
	Value string

	// IDs lists the vertices involved, e.g. every match of an ambiguous lookup.
	IDs []uuid.UUID

	// Err is the underlying cause, nil for pure domain errors.
	Err error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString("graph: ")
	b.WriteString(e.Op)
	b.WriteString(": ")
	b.WriteString(e.Kind.Error())
	if e.Value != "" {
		fmt.Fprintf(&b, " (%q)", e.Value)
	}
	if len(e.IDs) > 0 {
		ids := make([]string, len(e.IDs))
		for i, id := range e.IDs {
			ids[i] = id.String()
		}
		fmt.Fprintf(&b, " [%s]", strings.Join(ids, ", "))
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap exposes both the category and the cause.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func newError(op string, kind error, value string) *Error {
	return &Error{Op: op, Kind: kind, Value: value}
}

// wrapError turns whatever came out of a backend transaction into an *Error.
func wrapError(op string, err error) error {
	if err == nil {
		return nil
	}

	var ge *Error
	if errors.As(err, &ge) {
		if ge.Op == "" {
			ge.Op = op
		}
		return ge
	}

	switch {
	case errors.Is(err, context.Canceled):
		return &Error{Op: op, Kind: context.Canceled, Err: unlessSame(err, context.Canceled)}
	case errors.Is(err, context.DeadlineExceeded):
		return &Error{Op: op, Kind: context.DeadlineExceeded, Err: unlessSame(err, context.DeadlineExceeded)}
	case errors.Is(err, kv.ErrConflict):
		return &Error{Op: op, Kind: ErrDuplicateRisk, Err: err}
	default:
		return &Error{Op: op, Kind: ErrBackend, Err: err}
	}
}

func unlessSame(err, kind error) error {
	if err == kind {
		return nil
	}
	return err
}

// isPermanent reports whether a failed read should not be retried.
func isPermanent(err error) bool {
	var ge *Error
	switch {
	case errors.As(err, &ge):
		return true
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return true
	case errors.Is(err, kv.ErrClosed), errors.Is(err, kv.ErrReadOnly):
		return true
	}
	return false
}

// statusLabel maps an error to the metrics status label.
func statusLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrClassification):
		return "classification"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrAmbiguousMatch):
		return "ambiguous"
	case errors.Is(err, ErrDuplicateRisk):
		return "conflict"
	case errors.Is(err, ErrTraversalLimit):
		return "limit"
	case errors.Is(err, ErrInvalidArgument):
		return "invalid"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	default:
		return "backend"
	}
}
