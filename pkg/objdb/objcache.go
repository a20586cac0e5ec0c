package objdb

import (
	"context"
	"sync"
)

// ObjCache wraps a [Table] with strong, read-through caching.
//
// The first Select for a constraint set falls through to the table and
// the backend; the result set is then retained strongly and that
// constraint set recorded as known-complete, so identical selects stop
// touching the backend. Selecting with no constraints marks the whole
// table complete. This is the deliberate inverse of the table's weak
// identity map: full retention for read-heavy workloads instead of
// memory-bounded caching.
//
// Rows written to the backend behind the cache's back are invisible until
// [ObjCache.Reload] or [ObjCache.Invalidate].
type ObjCache struct {
	table *Table

	mu       sync.RWMutex
	objs     map[Key]*Object
	complete map[string]bool
	full     bool
}

var _ Selectable = (*ObjCache)(nil)

// NewObjCache wraps the table. The cache starts empty and fills as
// constraint sets are queried, or all at once via [ObjCache.Reload].
func NewObjCache(t *Table) *ObjCache {
	return &ObjCache{
		table:    t,
		objs:     make(map[Key]*Object),
		complete: make(map[string]bool),
	}
}

// Table returns the wrapped table.
func (c *ObjCache) Table() *Table { return c.table }

// Schema returns the wrapped table's metadata.
func (c *ObjCache) Schema() *TableSchema { return c.table.schema }

// Select serves from memory when the constraint set is known-complete,
// falling through to the table (and recording the set) otherwise.
func (c *ObjCache) Select(ctx context.Context, where Where) (*Cursor, error) {
	fp := whereFingerprint(where)

	c.mu.RLock()
	served := c.full || c.complete[fp]
	var cached []*Object
	if served {
		cached = make([]*Object, 0, len(c.objs))

		for _, o := range c.objs {
			cached = append(cached, o)
		}
	}
	c.mu.RUnlock()

	if served {
		return newSliceCursor(cached, where), nil
	}

	matched, err := All(ctx, selectableWhere{c.table, where})
	if err != nil {
		return nil, err
	}

	c.mu.Lock()

	for _, o := range matched {
		key, keyErr := o.PrimaryKey()
		if keyErr == nil {
			c.objs[key] = o
		}
	}

	if len(where) == 0 {
		c.full = true
	} else {
		c.complete[fp] = true
	}

	c.mu.Unlock()

	return newSliceCursor(matched, nil), nil
}

// selectableWhere pre-binds constraints so [All] can materialize a
// filtered table select.
type selectableWhere struct {
	t     *Table
	where Where
}

func (s selectableWhere) Select(ctx context.Context, where Where) (*Cursor, error) {
	merged := make(Where, len(s.where)+len(where))

	for col, v := range s.where {
		merged[col] = v
	}

	for col, v := range where {
		merged[col] = v
	}

	return s.t.Select(ctx, merged)
}

func (s selectableWhere) Schema() *TableSchema { return s.t.schema }

// Add persists through the wrapped table and retains the object.
func (c *ObjCache) Add(ctx context.Context, o *Object) (*Object, error) {
	added, err := c.table.Add(ctx, o)
	if err != nil {
		return nil, err
	}

	key, keyErr := added.PrimaryKey()
	if keyErr == nil {
		c.mu.Lock()
		c.objs[key] = added
		c.mu.Unlock()
	}

	return added, nil
}

// Reload discards completeness markers and the strong set, re-fetches the
// whole table and returns the number of rows now held.
func (c *ObjCache) Reload(ctx context.Context) (int, error) {
	matched, err := All(ctx, c.table)
	if err != nil {
		return 0, err
	}

	objs := make(map[Key]*Object, len(matched))

	for _, o := range matched {
		key, keyErr := o.PrimaryKey()
		if keyErr == nil {
			objs[key] = o
		}
	}

	c.mu.Lock()
	c.objs = objs
	c.complete = make(map[string]bool)
	c.full = true
	c.mu.Unlock()

	return len(objs), nil
}

// Invalidate drops everything without refetching. The next selects fall
// through to the table again.
func (c *ObjCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.objs = make(map[Key]*Object)
	c.complete = make(map[string]bool)
	c.full = false
}

// Count counts from memory when the constraint set is served by the
// cache. A miss populates the cache through [ObjCache.Select], so the
// constraint set is known-complete afterwards and later counts stay in
// memory.
func (c *ObjCache) Count(ctx context.Context, where Where) (int64, error) {
	fp := whereFingerprint(where)

	c.mu.RLock()
	served := c.full || c.complete[fp]

	var n int64

	if served {
		for _, o := range c.objs {
			if o.matches(where) {
				n++
			}
		}
	}
	c.mu.RUnlock()

	if served {
		return n, nil
	}

	cur, err := c.Select(ctx, where)
	if err != nil {
		return 0, err
	}

	for cur.Next() {
		n++
	}

	return n, cur.Err()
}
