package objdb

import (
	"context"
	"errors"
	"fmt"
)

// Scope is the write handle passed to an [Object.Update] callback.
//
// Writes are buffered in the scope and invisible to other readers until
// the callback returns nil and the commit succeeds. Reads through the
// scope see the buffered values layered over committed state.
//
// A Scope is only valid for the duration of its callback.
type Scope struct {
	obj     *Object
	changes map[string]any
	sealed  bool
}

// Set buffers an attribute write. Column names the schema does not define
// fail immediately with [ErrUnknownAttribute], before any commit attempt.
func (s *Scope) Set(col string, v any) error {
	if s.sealed {
		return errors.New("scope used outside its Update callback")
	}

	if !s.obj.tbl.schema.HasColumn(col) {
		return withContext(fmt.Errorf("column %s: %w", col, ErrUnknownAttribute), s.obj.tbl.schema.Name, "")
	}

	s.changes[col] = normalizeValue(v)

	return nil
}

// Get returns the in-scope value of a column: buffered writes first, then
// committed state.
func (s *Scope) Get(col string) (any, bool) {
	if v, ok := s.changes[col]; ok {
		return v, true
	}

	return s.obj.Get(col)
}

// Int returns an in-scope column as int64.
func (s *Scope) Int(col string) (int64, bool) {
	v, ok := s.Get(col)
	if !ok {
		return 0, false
	}

	i, ok := normalizeValue(v).(int64)

	return i, ok
}

// Float returns an in-scope column as float64.
func (s *Scope) Float(col string) (float64, bool) {
	v, ok := s.Get(col)
	if !ok {
		return 0, false
	}

	switch x := normalizeValue(v).(type) {
	case float64:
		return x, true
	case int64:
		return float64(x), true
	default:
		return 0, false
	}
}

// Text returns an in-scope column as string.
func (s *Scope) Text(col string) (string, bool) {
	v, ok := s.Get(col)
	if !ok {
		return "", false
	}

	str, ok := v.(string)

	return str, ok
}

// Bytes returns an in-scope column as []byte.
func (s *Scope) Bytes(col string) ([]byte, bool) {
	v, ok := s.Get(col)
	if !ok {
		return nil, false
	}

	b, ok := v.([]byte)

	return b, ok
}

// Update runs fn inside a mutation scope on the object.
//
// The scope acquires the object's lock (blocking; acquisition honors ctx
// cancellation), so concurrent Updates on the same object are fully
// serialized and each scope observes the previous scope's committed
// result. Updates on different objects are independent.
//
// When fn returns nil and at least one attribute changed, the buffered
// writes are applied and committed to the backend as a single upsert. A
// backend failure restores the pre-scope attribute values exactly and
// propagates the backend error unchanged; the object never reflects
// unpersisted writes.
//
// When fn returns an error, buffered writes are discarded, the pre-scope
// state is restored exactly, and the error is propagated unchanged.
// Returning [ErrRollback] discards the writes without Update reporting an
// error.
//
// Nesting Updates on the same object is not supported: the inner call
// fails immediately with [ErrNestedScope] instead of deadlocking on the
// lock it already holds.
func (o *Object) Update(ctx context.Context, fn func(*Scope) error) error {
	if ctx == nil {
		return errors.New("update: context is nil")
	}

	err := o.acquire(ctx)
	if err != nil {
		return fmt.Errorf("update: %w", err)
	}

	defer o.release()

	snapshot := o.snapshotAttrs()
	sc := &Scope{obj: o, changes: make(map[string]any)}

	err = fn(sc)
	sc.sealed = true

	if err != nil {
		// Buffered writes were never applied; committed state is already
		// the pre-scope snapshot.
		if errors.Is(err, ErrRollback) {
			return nil
		}

		return err
	}

	if len(sc.changes) == 0 && !o.IsNew() {
		return nil
	}

	next := cloneAttrs(snapshot)

	for col, v := range sc.changes {
		next[col] = v
	}

	o.swapAttrs(next)

	err = o.tbl.persistLocked(ctx, o)
	if err != nil {
		o.swapAttrs(snapshot)

		return err
	}

	return nil
}
