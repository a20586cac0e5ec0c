package objdb

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
)

// DB is the manager tying a [Schema] to a [Backend]: one identity-mapped
// [Table] per declared table, in declaration order.
type DB struct {
	backend Backend
	schema  *Schema
	log     *slog.Logger

	tables map[string]*Table
	order  []string
}

// Option configures a [DB] at open time.
type Option func(*DB)

// WithLogger routes objdb's debug logging to the given logger. The
// default discards everything.
func WithLogger(log *slog.Logger) Option {
	return func(db *DB) {
		if log != nil {
			db.log = log
		}
	}
}

// WithTableHooks installs lifecycle hooks for one table.
func WithTableHooks(table string, hooks Hooks) Option {
	return func(db *DB) {
		if t, ok := db.tables[table]; ok {
			t.hooks = hooks
		}
	}
}

// Open builds the table layer for schema over backend.
func Open(ctx context.Context, backend Backend, schema *Schema, opts ...Option) (*DB, error) {
	if ctx == nil {
		return nil, errors.New("open: context is nil")
	}

	if backend == nil {
		return nil, errors.New("open: backend is nil")
	}

	if schema == nil || len(schema.Tables) == 0 {
		return nil, errors.New("open: schema is empty")
	}

	db := &DB{
		backend: backend,
		schema:  schema,
		log:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		tables:  make(map[string]*Table, len(schema.Tables)),
	}

	for _, ts := range schema.Tables {
		db.tables[ts.Name] = &Table{
			db:     db,
			schema: ts,
			cache:  newWeakCache(),
		}
		db.order = append(db.order, ts.Name)
	}

	for _, opt := range opts {
		opt(db)
	}

	return db, nil
}

// Backend returns the backend port the manager was opened with.
func (db *DB) Backend() Backend { return db.backend }

// Schema returns the schema the manager was opened with.
func (db *DB) Schema() *Schema { return db.schema }

// Table returns the table by name, or nil when the schema does not
// declare it.
func (db *DB) Table(name string) *Table {
	if db == nil {
		return nil
	}

	return db.tables[name]
}

// Tables returns all tables in schema declaration order.
func (db *DB) Tables() []*Table {
	out := make([]*Table, 0, len(db.order))

	for _, name := range db.order {
		out = append(out, db.tables[name])
	}

	return out
}

// Dump is a bulk snapshot: per-table row slices, ordered by schema
// declaration so round-trips are stable.
type Dump struct {
	Tables []TableRows `json:"tables" yaml:"tables"`
}

// TableRows holds one table's rows as attribute mappings.
type TableRows struct {
	Name string           `json:"name" yaml:"name"`
	Rows []map[string]any `json:"rows" yaml:"rows"`
}

// Rows returns the row slice for a table name, or nil.
func (d *Dump) Rows(name string) []map[string]any {
	for _, t := range d.Tables {
		if t.Name == name {
			return t.Rows
		}
	}

	return nil
}

// DumpAll exports every table's rows straight from the backend, bypassing
// the identity map. Tables appear in schema declaration order.
func (db *DB) DumpAll(ctx context.Context) (*Dump, error) {
	dump := &Dump{Tables: make([]TableRows, 0, len(db.order))}

	for _, name := range db.order {
		rows, err := db.backend.SelectRows(ctx, name, nil)
		if err != nil {
			return nil, withContext(fmt.Errorf("dump: %w", err), name, "")
		}

		var out []map[string]any

		// Row is only valid until the next call; backends may reuse the map.
		for rows.Next() {
			out = append(out, maps.Clone(rows.Row()))
		}

		err = rows.Err()

		closeErr := rows.Close()
		if err == nil {
			err = closeErr
		}

		if err != nil {
			return nil, withContext(fmt.Errorf("dump: %w", err), name, "")
		}

		dump.Tables = append(dump.Tables, TableRows{Name: name, Rows: out})
	}

	return dump, nil
}

// LoadAll inserts rows table-by-table through the backend. Unknown table
// names fail; rows are raw attribute mappings and bypass hooks and the
// identity map.
func (db *DB) LoadAll(ctx context.Context, dump *Dump) error {
	if dump == nil {
		return errors.New("load: dump is nil")
	}

	for _, tr := range dump.Tables {
		if db.schema.Table(tr.Name) == nil {
			return fmt.Errorf("load: unknown table %s", tr.Name)
		}

		for _, row := range tr.Rows {
			_, _, err := db.backend.InsertRow(ctx, tr.Name, row)
			if err != nil {
				return withContext(fmt.Errorf("load: %w", err), tr.Name, "")
			}
		}
	}

	return nil
}
