package objdb

// Cursor is a lazy stream of objects produced by [Selectable.Select].
//
// Usage mirrors database/sql:
//
//	cur, err := table.Select(ctx, where)
//	if err != nil { ... }
//	defer cur.Close()
//	for cur.Next() {
//	    obj := cur.Object()
//	    ...
//	}
//	if err := cur.Err(); err != nil { ... }
//
// Cursors are single-use and bounded by their source; call Select again to
// restart. They are not safe for concurrent use.
type Cursor struct {
	next    func() (*Object, error)
	closefn func() error

	cur    *Object
	err    error
	closed bool
}

// newFuncCursor builds a cursor from a pull function. next returns
// (nil, nil) at end of stream.
func newFuncCursor(next func() (*Object, error), closefn func() error) *Cursor {
	return &Cursor{next: next, closefn: closefn}
}

// newSliceCursor serves pre-materialized objects, optionally filtered.
func newSliceCursor(objs []*Object, where Where) *Cursor {
	idx := 0

	return newFuncCursor(func() (*Object, error) {
		for idx < len(objs) {
			o := objs[idx]
			idx++

			if o.matches(where) {
				return o, nil
			}
		}

		return nil, nil
	}, nil)
}

// newRowsCursor hydrates backend rows through the given function.
func newRowsCursor(rows Rows, hydrate func(map[string]any) (*Object, error)) *Cursor {
	return newFuncCursor(func() (*Object, error) {
		for rows.Next() {
			o, err := hydrate(rows.Row())
			if err != nil {
				return nil, err
			}

			if o != nil {
				return o, nil
			}
		}

		return nil, rows.Err()
	}, rows.Close)
}

// Next advances to the next object. It returns false at end of stream or
// on error; check [Cursor.Err] afterwards.
func (c *Cursor) Next() bool {
	if c == nil || c.err != nil || c.closed {
		return false
	}

	o, err := c.next()
	if err != nil {
		c.err = err
		c.cur = nil

		return false
	}

	if o == nil {
		c.cur = nil

		return false
	}

	c.cur = o

	return true
}

// Object returns the current object. Valid only after Next returned true.
func (c *Cursor) Object() *Object {
	if c == nil {
		return nil
	}

	return c.cur
}

// Err returns the first error encountered while iterating.
func (c *Cursor) Err() error {
	if c == nil {
		return nil
	}

	return c.err
}

// Close releases the cursor's resources. Safe to call more than once.
func (c *Cursor) Close() error {
	if c == nil || c.closed {
		return nil
	}

	c.closed = true

	if c.closefn != nil {
		return c.closefn()
	}

	return nil
}
