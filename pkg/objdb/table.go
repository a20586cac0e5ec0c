package objdb

import (
	"context"
	"errors"
	"fmt"
)

// Hooks are per-table lifecycle callbacks.
type Hooks struct {
	// OnCreate runs when a fresh object is built by [Table.New], after
	// defaults and caller overrides are applied.
	OnCreate func(*Object) error

	// OnLoad runs when an object is hydrated from a backend row.
	// Defaults are not reapplied on hydration.
	OnLoad func(*Object) error
}

// Table owns the live objects backed by one database table. It implements
// [Selectable] by translating constraints into backend calls and
// deduplicating results through its identity map.
type Table struct {
	db     *DB
	schema *TableSchema
	hooks  Hooks
	cache  *weakCache
}

var _ Selectable = (*Table)(nil)

// Schema returns the table's static metadata.
func (t *Table) Schema() *TableSchema { return t.schema }

// Name returns the table name.
func (t *Table) Name() string { return t.schema.Name }

// New builds a fresh, not-yet-persisted object: defaults from the schema,
// then overrides, then the OnCreate hook. Pass the result to [Table.Add]
// to persist it.
func (t *Table) New(overrides map[string]any) (*Object, error) {
	attrs := t.schema.defaults()

	for col, v := range overrides {
		if !t.schema.HasColumn(col) {
			return nil, withContext(fmt.Errorf("new: column %s: %w", col, ErrUnknownAttribute), t.schema.Name, "")
		}

		attrs[col] = normalizeValue(v)
	}

	o := newObject(t, attrs, true)

	if t.hooks.OnCreate != nil {
		err := t.hooks.OnCreate(o)
		if err != nil {
			return nil, withContext(fmt.Errorf("new: create hook: %w", err), t.schema.Name, "")
		}
	}

	return o, nil
}

// Select streams objects matching where. Rows already represented by a
// live object yield that object unchanged; the freshly fetched attributes
// are ignored, the live entity is authoritative. Unmapped rows are
// hydrated and registered atomically, so concurrent selects for the same
// row never produce two live objects.
func (t *Table) Select(ctx context.Context, where Where) (*Cursor, error) {
	err := t.checkWhere(where)
	if err != nil {
		return nil, err
	}

	rows, err := t.db.backend.SelectRows(ctx, t.schema.Name, where)
	if err != nil {
		return nil, withContext(fmt.Errorf("select: %w", err), t.schema.Name, "")
	}

	return newRowsCursor(rows, t.adopt), nil
}

// checkWhere rejects constraints on columns the schema does not declare.
func (t *Table) checkWhere(where Where) error {
	for col := range where {
		if !t.schema.HasColumn(col) {
			return withContext(fmt.Errorf("where: column %s: %w", col, ErrUnknownAttribute), t.schema.Name, "")
		}
	}

	return nil
}

// adopt maps one fetched row onto its live object, hydrating on miss.
func (t *Table) adopt(row map[string]any) (*Object, error) {
	vals := make([]any, 0, len(t.schema.PrimaryKey))

	for _, col := range t.schema.PrimaryKey {
		vals = append(vals, row[col])
	}

	key, err := encodeKey(vals)
	if err != nil {
		return nil, withContext(fmt.Errorf("adopt row: %w", err), t.schema.Name, "")
	}

	return t.cache.lookupOrCreate(key, func() (*Object, error) {
		o := newObject(t, cloneAttrs(row), false)

		if t.hooks.OnLoad != nil {
			hookErr := t.hooks.OnLoad(o)
			if hookErr != nil {
				return nil, withContext(fmt.Errorf("load hook: %w", hookErr), t.schema.Name, key)
			}
		}

		t.db.log.Debug("hydrated object", "table", t.schema.Name, "key", string(key))

		return o, nil
	})
}

// Add persists a fresh object: inserts the row, adopts a backend-generated
// key when the table uses one, registers the object in the identity map
// and flushes children deferred by its relations. The same instance is
// returned, never a copy.
func (t *Table) Add(ctx context.Context, o *Object) (*Object, error) {
	if o == nil {
		return nil, errors.New("add: object is nil")
	}

	if o.tbl != t {
		return nil, fmt.Errorf("add: object belongs to table %s, not %s", o.tbl.schema.Name, t.schema.Name)
	}

	if !o.IsNew() {
		return nil, withContext(errors.New("add: object already persisted"), t.schema.Name, "")
	}

	err := o.acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("add: %w", err)
	}

	defer o.release()

	err = t.persistLocked(ctx, o)
	if err != nil {
		return nil, err
	}

	return o, nil
}

// persistLocked writes the object's current state through the backend.
// Caller holds the object's scope lock.
func (t *Table) persistLocked(ctx context.Context, o *Object) error {
	if o.IsNew() {
		return t.insertLocked(ctx, o)
	}

	return t.updateLocked(ctx, o)
}

func (t *Table) insertLocked(ctx context.Context, o *Object) error {
	generated, hasKey, err := t.db.backend.InsertRow(ctx, t.schema.Name, o.snapshotAttrs())
	if err != nil {
		return withContext(fmt.Errorf("insert: %w", err), t.schema.Name, "")
	}

	if hasKey {
		next := o.snapshotAttrs()
		next[t.schema.PrimaryKey[0]] = generated
		o.swapAttrs(next)
	}

	key, err := o.PrimaryKey()
	if err != nil {
		return fmt.Errorf("insert: %w", err)
	}

	if surviving := t.cache.put(key, o); surviving != o {
		return withContext(ErrDuplicateObject, t.schema.Name, key)
	}

	o.attrMu.Lock()
	o.isNew = false
	o.savedPK = o.currentPKLocked()
	o.attrMu.Unlock()

	t.db.log.Debug("inserted object", "table", t.schema.Name, "key", string(key))

	return o.flushRelations(ctx)
}

func (t *Table) updateLocked(ctx context.Context, o *Object) error {
	where, err := o.savedPKWhere()
	if err != nil {
		return fmt.Errorf("update: %w", err)
	}

	key, err := o.PrimaryKey()
	if err != nil {
		return fmt.Errorf("update: %w", err)
	}

	_, err = t.db.backend.UpdateRow(ctx, t.schema.Name, where, o.snapshotAttrs())
	if err != nil {
		return withContext(fmt.Errorf("update: %w", err), t.schema.Name, key)
	}

	// A scope may change key attributes; re-register under the new key.
	oldKey, keyErr := encodeKey(pkValuesInOrder(t.schema, where))
	if keyErr == nil && oldKey != key {
		t.cache.remove(oldKey)

		if surviving := t.cache.put(key, o); surviving != o {
			return withContext(ErrDuplicateObject, t.schema.Name, key)
		}
	}

	o.attrMu.Lock()
	o.savedPK = o.currentPKLocked()
	o.attrMu.Unlock()

	t.db.log.Debug("committed object", "table", t.schema.Name, "key", string(key))

	return nil
}

func pkValuesInOrder(ts *TableSchema, pk map[string]any) []any {
	vals := make([]any, 0, len(ts.PrimaryKey))

	for _, col := range ts.PrimaryKey {
		vals = append(vals, pk[col])
	}

	return vals
}

// Delete removes the object's row and evicts it from the identity map.
// The object reverts to the not-persisted state.
func (t *Table) Delete(ctx context.Context, o *Object) error {
	if o == nil {
		return errors.New("delete: object is nil")
	}

	if o.tbl != t {
		return fmt.Errorf("delete: object belongs to table %s, not %s", o.tbl.schema.Name, t.schema.Name)
	}

	err := o.acquire(ctx)
	if err != nil {
		return fmt.Errorf("delete: %w", err)
	}

	defer o.release()

	where, err := o.savedPKWhere()
	if err != nil {
		return fmt.Errorf("delete: %w", err)
	}

	key, keyErr := encodeKey(pkValuesInOrder(t.schema, where))

	_, err = t.db.backend.DeleteRow(ctx, t.schema.Name, where)
	if err != nil {
		return withContext(fmt.Errorf("delete: %w", err), t.schema.Name, key)
	}

	if keyErr == nil {
		t.cache.remove(key)
	}

	o.attrMu.Lock()
	o.isNew = true
	o.savedPK = nil
	o.attrMu.Unlock()

	t.db.log.Debug("deleted object", "table", t.schema.Name, "key", string(key))

	return nil
}

// Get returns the object with the given single-column primary key, or nil
// when absent. A live object is served from the identity map without
// touching the backend.
func (t *Table) Get(ctx context.Context, id any) (*Object, error) {
	if len(t.schema.PrimaryKey) == 1 {
		key, err := encodeKey([]any{normalizeValue(id)})
		if err == nil {
			if o := t.cache.get(key); o != nil {
				return o, nil
			}
		}
	}

	return Get(ctx, t, id)
}

// Count returns the number of matching rows. Backends implementing
// [RowCounter] count server-side; otherwise the rows are walked without
// hydrating objects.
func (t *Table) Count(ctx context.Context, where Where) (int64, error) {
	err := t.checkWhere(where)
	if err != nil {
		return 0, err
	}

	if rc, ok := t.db.backend.(RowCounter); ok {
		n, err := rc.CountRows(ctx, t.schema.Name, where)
		if err != nil {
			return 0, withContext(fmt.Errorf("count: %w", err), t.schema.Name, "")
		}

		return n, nil
	}

	rows, err := t.db.backend.SelectRows(ctx, t.schema.Name, where)
	if err != nil {
		return 0, withContext(fmt.Errorf("count: %w", err), t.schema.Name, "")
	}

	defer func() { _ = rows.Close() }()

	var n int64

	for rows.Next() {
		n++
	}

	if err := rows.Err(); err != nil {
		return 0, withContext(fmt.Errorf("count: %w", err), t.schema.Name, "")
	}

	return n, nil
}
