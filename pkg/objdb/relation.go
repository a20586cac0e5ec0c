package objdb

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// Relation is a one-to-many collection: a [Selectable] view over the child
// table scoped to rows whose foreign-key column equals the parent's
// primary key.
//
// The parent's key is resolved lazily, at use time. Children added before
// the parent has a key are queued and persisted with the stamped key when
// the parent is first added; the relation never persists independently of
// its parent's lifecycle.
type Relation struct {
	parent *Object
	child  *Table
	fk     string

	mu       sync.Mutex
	deferred []*Object
}

var _ Selectable = (*Relation)(nil)

// NewRelation scopes child rows to the parent by the given foreign-key
// column. The parent's table must have a single-column primary key.
func NewRelation(parent *Object, child *Table, fk string) (*Relation, error) {
	if parent == nil {
		return nil, errors.New("relation: parent is nil")
	}

	if child == nil {
		return nil, errors.New("relation: child table is nil")
	}

	if !child.schema.HasColumn(fk) {
		return nil, withContext(fmt.Errorf("relation: foreign key %s: %w", fk, ErrUnknownAttribute), child.schema.Name, "")
	}

	if len(parent.tbl.schema.PrimaryKey) != 1 {
		return nil, fmt.Errorf("relation: parent table %s needs a single-column primary key", parent.tbl.schema.Name)
	}

	r := &Relation{parent: parent, child: child, fk: fk}
	parent.registerRelation(r)

	return r, nil
}

// Schema returns the child table's metadata.
func (r *Relation) Schema() *TableSchema { return r.child.schema }

// parentKey resolves the parent's primary-key value. resolved is false
// while the parent has not been assigned a key yet.
func (r *Relation) parentKey() (any, bool) {
	v, _ := r.parent.Get(r.parent.tbl.schema.PrimaryKey[0])

	return v, v != nil
}

// Select streams children matching where, scoped by the foreign key.
// While the parent key is unresolved only queued children are served;
// children still queued after a failed flush are appended to the
// persisted rows.
func (r *Relation) Select(ctx context.Context, where Where) (*Cursor, error) {
	r.mu.Lock()
	queued := make([]*Object, len(r.deferred))
	copy(queued, r.deferred)
	r.mu.Unlock()

	key, resolved := r.parentKey()
	if !resolved {
		return newSliceCursor(queued, where), nil
	}

	scoped := make(Where, len(where)+1)

	for col, v := range where {
		scoped[col] = v
	}

	scoped[r.fk] = key

	cur, err := r.child.Select(ctx, scoped)
	if err != nil {
		return nil, err
	}

	if len(queued) == 0 {
		return cur, nil
	}

	rest := newSliceCursor(queued, where)

	return newFuncCursor(func() (*Object, error) {
		if cur.Next() {
			return cur.Object(), nil
		}

		if curErr := cur.Err(); curErr != nil {
			return nil, curErr
		}

		if rest.Next() {
			return rest.Object(), nil
		}

		return nil, rest.Err()
	}, cur.Close), nil
}

// Add attaches a child to the parent, stamping the foreign key at call
// time. An unpersisted child is inserted through the child table; a
// persisted child is restamped inside its own mutation scope. While the
// parent key is unknown the child is queued for the parent's first
// persist.
func (r *Relation) Add(ctx context.Context, child *Object) error {
	if child == nil {
		return errors.New("relation add: child is nil")
	}

	if child.tbl != r.child {
		return fmt.Errorf("relation add: object belongs to table %s, not %s", child.tbl.schema.Name, r.child.schema.Name)
	}

	key, resolved := r.parentKey()
	if !resolved {
		r.mu.Lock()
		r.deferred = append(r.deferred, child)
		r.mu.Unlock()

		return nil
	}

	return r.link(ctx, child, key)
}

// link stamps the foreign key and persists the child.
func (r *Relation) link(ctx context.Context, child *Object, key any) error {
	if child.IsNew() {
		err := child.setAttr(r.fk, key)
		if err != nil {
			return fmt.Errorf("relation add: %w", err)
		}

		_, err = r.child.Add(ctx, child)
		if err != nil {
			return fmt.Errorf("relation add: %w", err)
		}

		return nil
	}

	return child.Update(ctx, func(s *Scope) error {
		return s.Set(r.fk, key)
	})
}

// flushDeferred persists children queued while the parent had no key.
// Runs under the parent's scope lock, right after its insert. A child
// leaves the queue only once its link is written, so a mid-flush failure
// keeps the remainder queued instead of dropping it.
func (r *Relation) flushDeferred(ctx context.Context) error {
	key, resolved := r.parentKey()
	if !resolved {
		return withContext(fmt.Errorf("relation flush: parent %s: %w", r.parent.tbl.schema.Name, ErrNoKey), r.child.schema.Name, "")
	}

	for {
		r.mu.Lock()
		if len(r.deferred) == 0 {
			r.mu.Unlock()

			return nil
		}
		child := r.deferred[0]
		r.mu.Unlock()

		err := r.link(ctx, child, key)
		if err != nil {
			return err
		}

		r.mu.Lock()
		if len(r.deferred) > 0 && r.deferred[0] == child {
			r.deferred = r.deferred[1:]
		}
		r.mu.Unlock()
	}
}

// Remove detaches a child: queued children are dropped, persisted ones
// are deleted through the child table.
func (r *Relation) Remove(ctx context.Context, child *Object) error {
	if child == nil {
		return errors.New("relation remove: child is nil")
	}

	r.mu.Lock()
	for i, queued := range r.deferred {
		if queued == child {
			r.deferred = append(r.deferred[:i], r.deferred[i+1:]...)
			r.mu.Unlock()

			return nil
		}
	}
	r.mu.Unlock()

	if child.IsNew() {
		return nil
	}

	err := r.child.Delete(ctx, child)
	if err != nil {
		return fmt.Errorf("relation remove: %w", err)
	}

	return nil
}
