package objdb

import "context"

// Rows is a lazy cursor over backend rows. It follows the database/sql
// iteration shape: Next advances, Row is valid until the next call, Err
// reports the first iteration error, Close releases resources.
type Rows interface {
	Next() bool
	Row() map[string]any
	Err() error
	Close() error
}

// Backend is the narrow port to the SQL execution engine. Implementations
// must be safe for concurrent use; if the underlying engine requires
// serialized access, that serialization belongs here, not in the core.
//
// Attribute and constraint values are already schema-typed. Coercing
// between storage classes (text vs blob vs numeric vs per-value-typed
// "any" columns) is the backend's job, and round-trips must preserve
// exact value kinds.
type Backend interface {
	// SelectRows streams rows matching where from table. An empty or nil
	// where matches every row. Order is unspecified.
	SelectRows(ctx context.Context, table string, where Where) (Rows, error)

	// InsertRow inserts one row. When the table generates its key, the
	// generated value is returned with ok=true.
	InsertRow(ctx context.Context, table string, attrs map[string]any) (generated int64, ok bool, err error)

	// UpdateRow updates matching rows and reports the affected count.
	UpdateRow(ctx context.Context, table string, where Where, attrs map[string]any) (int64, error)

	// DeleteRow deletes matching rows and reports the affected count.
	DeleteRow(ctx context.Context, table string, where Where) (int64, error)
}

// RowCounter is an optional backend extension. Backends that can count
// matching rows without streaming them should implement it; [Table.Count]
// uses it when present.
type RowCounter interface {
	CountRows(ctx context.Context, table string, where Where) (int64, error)
}

// sliceRows adapts a materialized row slice to the [Rows] interface.
type sliceRows struct {
	rows []map[string]any
	idx  int
}

func (r *sliceRows) Next() bool {
	if r.idx >= len(r.rows) {
		return false
	}

	r.idx++

	return true
}

func (r *sliceRows) Row() map[string]any { return r.rows[r.idx-1] }

func (r *sliceRows) Err() error { return nil }

func (r *sliceRows) Close() error { return nil }
