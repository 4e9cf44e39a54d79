package lattice

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Sentinel errors for the engine's failure classes. Typed errors below
// match them through errors.Is.
var (
	// ErrNotFound is returned when a row is truly absent. It carries no
	// policy implication.
	ErrNotFound = errors.New("lattice: not found")

	// ErrUnauthorized is returned when a row exists but the table policy
	// (or a post-mutation visibility check) rejects it. It is used even
	// where not-found might seem apt, so callers cannot distinguish
	// existence from permission.
	ErrUnauthorized = errors.New("lattice: unauthorized")

	// ErrValidation is returned for field-level validation failures.
	ErrValidation = errors.New("lattice: validation failed")

	// ErrComplexity is returned when a recursion-complexity budget is
	// exhausted. It matches ErrValidation as well, since it is a
	// specialization of a bad request.
	ErrComplexity = errors.New("lattice: complexity limit reached")

	// ErrTxStarted is returned when attempting to start a transaction
	// within an existing transaction.
	ErrTxStarted = errors.New("lattice: cannot start a transaction within a transaction")
)

// NotFoundError reports a row that does not exist.
type NotFoundError struct {
	label string
	id    any
}

// NewNotFoundError returns a NotFoundError for the given table label.
func NewNotFoundError(label string, id any) *NotFoundError {
	return &NotFoundError{label: label, id: id}
}

func (e *NotFoundError) Error() string {
	if e.id != nil {
		return fmt.Sprintf("lattice: %s not found (id=%v)", e.label, e.id)
	}
	return fmt.Sprintf("lattice: %s not found", e.label)
}

// Is reports whether the target matches ErrNotFound.
func (e *NotFoundError) Is(err error) bool { return err == ErrNotFound }

// Label returns the table label.
func (e *NotFoundError) Label() string { return e.label }

// IsNotFound reports whether err is a not-found failure.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// UnauthorizedError reports a policy rejection for an operation on a table.
// The row may or may not exist; the error deliberately does not say.
type UnauthorizedError struct {
	label string
	op    Op
}

// NewUnauthorizedError returns an UnauthorizedError for the given table
// label and operation.
func NewUnauthorizedError(label string, op Op) *UnauthorizedError {
	return &UnauthorizedError{label: label, op: op}
}

func (e *UnauthorizedError) Error() string {
	return fmt.Sprintf("lattice: unauthorized %s on %s", e.op, e.label)
}

// Is reports whether the target matches ErrUnauthorized.
func (e *UnauthorizedError) Is(err error) bool { return err == ErrUnauthorized }

// Label returns the table label.
func (e *UnauthorizedError) Label() string { return e.label }

// Op returns the rejected operation.
func (e *UnauthorizedError) Op() Op { return e.op }

// IsUnauthorized reports whether err is a policy rejection.
func IsUnauthorized(err error) bool {
	return errors.Is(err, ErrUnauthorized)
}

// ValidationError collects field-level failures for a whole input graph.
// Keys are field paths of the form "relation.index.column", mirroring the
// location of the offending value in the input.
type ValidationError struct {
	Fields map[string]string
}

// NewValidationError returns an empty ValidationError ready to collect
// field failures.
func NewValidationError() *ValidationError {
	return &ValidationError{Fields: make(map[string]string)}
}

// FieldError returns a ValidationError with a single field failure.
func FieldError(path, msg string) *ValidationError {
	return &ValidationError{Fields: map[string]string{path: msg}}
}

// Add records a failure for the given field path. The first recorded
// message for a path wins.
func (e *ValidationError) Add(path, msg string) {
	if e.Fields == nil {
		e.Fields = make(map[string]string)
	}
	if _, ok := e.Fields[path]; !ok {
		e.Fields[path] = msg
	}
}

// Merge folds the fields of other into e, prefixing every path of other
// with the given path segment.
func (e *ValidationError) Merge(prefix string, other *ValidationError) {
	if other == nil {
		return
	}
	for path, msg := range other.Fields {
		key := path
		if prefix != "" {
			if path == "" {
				key = prefix
			} else {
				key = prefix + "." + path
			}
		}
		e.Add(key, msg)
	}
}

// Empty reports whether no field failures were recorded.
func (e *ValidationError) Empty() bool { return e == nil || len(e.Fields) == 0 }

// OrNil returns e, or nil when no failures were recorded, so callers can
// return it directly from functions with an error result.
func (e *ValidationError) OrNil() error {
	if e.Empty() {
		return nil
	}
	return e
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return "lattice: validation failed"
	}
	paths := make([]string, 0, len(e.Fields))
	for path := range e.Fields {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	var sb strings.Builder
	sb.WriteString("lattice: validation failed:")
	for _, path := range paths {
		fmt.Fprintf(&sb, " %s: %s;", path, e.Fields[path])
	}
	return strings.TrimSuffix(sb.String(), ";")
}

// Is reports whether the target matches ErrValidation.
func (e *ValidationError) Is(err error) bool { return err == ErrValidation }

// IsValidation reports whether err is a validation failure. Complexity
// failures match as well.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation)
}

// ComplexityError reports an exhausted recursion-complexity budget. The
// offending subtree is never visited; validation and eager loading abort
// before any statement for it executes.
type ComplexityError struct {
	label  string
	budget int
}

// NewComplexityError returns a ComplexityError for the given table label
// and configured budget.
func NewComplexityError(label string, budget int) *ComplexityError {
	return &ComplexityError{label: label, budget: budget}
}

func (e *ComplexityError) Error() string {
	return fmt.Sprintf("lattice: %s: graph complexity exceeds budget %d", e.label, e.budget)
}

// Is reports whether the target matches ErrComplexity or ErrValidation.
func (e *ComplexityError) Is(err error) bool {
	return err == ErrComplexity || err == ErrValidation
}

// IsComplexity reports whether err is a complexity-budget failure.
func IsComplexity(err error) bool {
	return errors.Is(err, ErrComplexity)
}

// ConstraintError wraps a store-level constraint violation, typically a
// uniqueness conflict that validation could not see.
type ConstraintError struct {
	msg  string
	wrap error
}

// NewConstraintError returns a ConstraintError with the given message.
func NewConstraintError(msg string, wrap error) error {
	return &ConstraintError{msg: msg, wrap: wrap}
}

func (e *ConstraintError) Error() string {
	return fmt.Sprintf("lattice: constraint failed: %s", e.msg)
}

// Unwrap returns the underlying error.
func (e *ConstraintError) Unwrap() error { return e.wrap }

// IsConstraintError reports whether err is a constraint violation.
func IsConstraintError(err error) bool {
	var e *ConstraintError
	return errors.As(err, &e)
}

// RollbackError wraps an error that occurred while rolling back a write
// transaction, preserving the original cause.
type RollbackError struct {
	Err error
}

func (e *RollbackError) Error() string {
	return fmt.Sprintf("lattice: rollback failed: %v", e.Err)
}

// Unwrap returns the original error.
func (e *RollbackError) Unwrap() error { return e.Err }
