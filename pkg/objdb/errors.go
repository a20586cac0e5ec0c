package objdb

import (
	"errors"
	"strings"
)

// ErrNotFound indicates a required lookup matched no row.
var ErrNotFound = errors.New("not found")

// ErrTooManyResults indicates SelectOne matched more than one row.
var ErrTooManyResults = errors.New("more than one result")

// ErrUnknownAttribute indicates a write to a column name the schema does
// not define. Raised at write time, before any commit attempt.
var ErrUnknownAttribute = errors.New("unknown attribute")

// ErrNoKey indicates a primary-key attribute is missing or nil where a
// complete key is required.
var ErrNoKey = errors.New("no primary key")

// ErrDuplicateObject indicates a second live object for an already-mapped
// primary key was offered to a table. The identity map keeps the existing
// instance; receiving this error means caller code constructed a duplicate.
var ErrDuplicateObject = errors.New("duplicate object")

// ErrRollback, returned from an [Object.Update] callback, rolls buffered
// changes back without Update reporting an error.
var ErrRollback = errors.New("rollback")

// ErrNestedScope indicates an [Object.Update] (or Add/Delete) on an
// object whose scope lock the calling goroutine already holds. Nested
// scopes on the same object are not supported.
var ErrNestedScope = errors.New("nested scope on the same object")

// ErrClosed indicates an operation on a closed backend or manager.
var ErrClosed = errors.New("closed")

// Error is the structured error type attached at objdb API boundaries.
//
// It carries the table name and, when known, the encoded primary key of
// the object involved. The underlying error message appears first:
//
//	update row: disk I/O error (table=cars key=i:3)
//
// Use [errors.As] to extract the fields and [errors.Is] to test for
// sentinels such as [ErrNotFound]; backend errors are wrapped, never
// replaced, so driver-level sentinels keep working too.
type Error struct {
	// Table is the name of the table the operation targeted.
	Table string

	// Key is the encoded primary key of the object involved, if known.
	Key Key

	// Err is the underlying cause.
	Err error
}

// Error formats as "<cause> (table=X key=Y)".
func (e *Error) Error() string {
	if e == nil {
		return ""
	}

	var cause string
	if e.Err != nil {
		cause = e.Err.Error()
	}

	var parts []string

	if e.Table != "" {
		parts = append(parts, "table="+e.Table)
	}

	if e.Key != "" {
		parts = append(parts, "key="+string(e.Key))
	}

	if len(parts) == 0 {
		return cause
	}

	suffix := "(" + strings.Join(parts, " ") + ")"
	if cause == "" {
		return suffix
	}

	return cause + " " + suffix
}

// Unwrap returns the underlying error for [errors.Is] and [errors.As].
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}

	return e.Err
}

// withContext attaches table/key context and returns *Error.
// If err is already *Error, missing fields are filled in-place.
func withContext(err error, table string, key Key) error {
	if err == nil {
		return nil
	}

	existing := &Error{}
	if errors.As(err, &existing) {
		if existing.Table == "" && table != "" {
			existing.Table = table
		}

		if existing.Key == "" && key != "" {
			existing.Key = key
		}

		return existing
	}

	return &Error{Table: table, Key: key, Err: err}
}
