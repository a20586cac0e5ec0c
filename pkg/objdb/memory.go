package objdb

import (
	"context"
	"fmt"
	"sync"
)

// MemBackend is an in-memory [Backend] for tests and ephemeral stores.
//
// Rows live in plain maps guarded by one mutex; matching follows the same
// exact-equality rules as the rest of the package (int64(31) does not
// match "31", []byte never matches string). Auto keys are assigned from a
// per-table counter.
//
// SetWriteError injects a failure into the next write call, which is how
// the commit-rollback paths are exercised without a real engine.
type MemBackend struct {
	mu       sync.Mutex
	schema   *Schema
	tables   map[string][]map[string]any
	nextKeys map[string]int64

	writeErr  error
	writeSkip int
}

var _ Backend = (*MemBackend)(nil)
var _ RowCounter = (*MemBackend)(nil)

// NewMemBackend builds an empty in-memory backend for the given schema.
func NewMemBackend(schema *Schema) *MemBackend {
	return &MemBackend{
		schema:   schema,
		tables:   make(map[string][]map[string]any),
		nextKeys: make(map[string]int64),
	}
}

// SetWriteError arms a one-shot failure: the next Insert/Update/Delete
// returns err. Passing nil disarms.
func (m *MemBackend) SetWriteError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.writeErr = err
	m.writeSkip = 0
}

// SetWriteErrorAfter arms a one-shot failure that fires after n more
// writes succeed.
func (m *MemBackend) SetWriteErrorAfter(n int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.writeErr = err
	m.writeSkip = n
}

func (m *MemBackend) takeWriteErr() error {
	if m.writeErr == nil {
		return nil
	}

	if m.writeSkip > 0 {
		m.writeSkip--

		return nil
	}

	err := m.writeErr
	m.writeErr = nil

	return err
}

func (m *MemBackend) tableSchema(table string) (*TableSchema, error) {
	ts := m.schema.Table(table)
	if ts == nil {
		return nil, fmt.Errorf("unknown table %s", table)
	}

	return ts, nil
}

// SelectRows returns a snapshot cursor over matching rows.
func (m *MemBackend) SelectRows(ctx context.Context, table string, where Where) (Rows, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, err := m.tableSchema(table); err != nil {
		return nil, fmt.Errorf("select rows: %w", err)
	}

	var matched []map[string]any

	for _, row := range m.tables[table] {
		if matchWhere(row, where) {
			matched = append(matched, cloneAttrs(row))
		}
	}

	return &sliceRows{rows: matched}, nil
}

// CountRows counts matching rows without copying them.
func (m *MemBackend) CountRows(ctx context.Context, table string, where Where) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, err := m.tableSchema(table); err != nil {
		return 0, fmt.Errorf("count rows: %w", err)
	}

	var n int64

	for _, row := range m.tables[table] {
		if matchWhere(row, where) {
			n++
		}
	}

	return n, nil
}

// InsertRow stores a normalized copy of attrs, assigning the auto key
// when the schema declares one and the attribute is nil.
func (m *MemBackend) InsertRow(ctx context.Context, table string, attrs map[string]any) (int64, bool, error) {
	if err := ctx.Err(); err != nil {
		return 0, false, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.takeWriteErr(); err != nil {
		return 0, false, err
	}

	ts, err := m.tableSchema(table)
	if err != nil {
		return 0, false, fmt.Errorf("insert row: %w", err)
	}

	row := make(map[string]any, len(attrs))

	for col, v := range attrs {
		if !ts.HasColumn(col) {
			return 0, false, fmt.Errorf("insert row: table %s: %w: %s", table, ErrUnknownAttribute, col)
		}

		row[col] = coerceValue(ts, col, v)
	}

	var (
		generated int64
		hasKey    bool
	)

	if ts.AutoKey {
		pkCol := ts.PrimaryKey[0]
		if row[pkCol] == nil {
			m.nextKeys[table]++
			generated = m.nextKeys[table]
			row[pkCol] = generated
			hasKey = true
		} else if id, ok := row[pkCol].(int64); ok && id > m.nextKeys[table] {
			m.nextKeys[table] = id
		}
	}

	m.tables[table] = append(m.tables[table], row)

	return generated, hasKey, nil
}

// UpdateRow rewrites matching rows in place.
func (m *MemBackend) UpdateRow(ctx context.Context, table string, where Where, attrs map[string]any) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.takeWriteErr(); err != nil {
		return 0, err
	}

	ts, err := m.tableSchema(table)
	if err != nil {
		return 0, fmt.Errorf("update row: %w", err)
	}

	var affected int64

	for _, row := range m.tables[table] {
		if !matchWhere(row, where) {
			continue
		}

		for col, v := range attrs {
			if !ts.HasColumn(col) {
				return affected, fmt.Errorf("update row: table %s: %w: %s", table, ErrUnknownAttribute, col)
			}

			row[col] = coerceValue(ts, col, v)
		}

		affected++
	}

	return affected, nil
}

// DeleteRow removes matching rows.
func (m *MemBackend) DeleteRow(ctx context.Context, table string, where Where) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.takeWriteErr(); err != nil {
		return 0, err
	}

	if _, err := m.tableSchema(table); err != nil {
		return 0, fmt.Errorf("delete row: %w", err)
	}

	kept := m.tables[table][:0]

	var affected int64

	for _, row := range m.tables[table] {
		if matchWhere(row, where) {
			affected++

			continue
		}

		kept = append(kept, row)
	}

	m.tables[table] = kept

	return affected, nil
}

// cloneAttrs shallow-copies a row map. Values are scalars, so a shallow
// copy is a snapshot; []byte values are duplicated to keep callers from
// aliasing backend storage.
func cloneAttrs(attrs map[string]any) map[string]any {
	out := make(map[string]any, len(attrs))

	for k, v := range attrs {
		if b, ok := v.([]byte); ok {
			out[k] = append([]byte(nil), b...)

			continue
		}

		out[k] = v
	}

	return out
}

// coerceValue maps a value onto the column's storage class. This is the
// backend-side coercion the core relies on for round-trip fidelity.
func coerceValue(ts *TableSchema, col string, v any) any {
	v = normalizeValue(v)
	if v == nil {
		return nil
	}

	def, ok := ts.Column(col)
	if !ok {
		return v
	}

	switch def.Type {
	case ColInt:
		switch x := v.(type) {
		case int64:
			return x
		case float64:
			return int64(x)
		case bool:
			if x {
				return int64(1)
			}

			return int64(0)
		}
	case ColReal:
		switch x := v.(type) {
		case float64:
			return x
		case int64:
			return float64(x)
		}
	case ColText:
		switch x := v.(type) {
		case string:
			return x
		case []byte:
			return string(x)
		}
	case ColBlob:
		switch x := v.(type) {
		case []byte:
			return x
		case string:
			return []byte(x)
		}
	case ColAny:
		return v
	}

	return v
}
