package objdb

import (
	"errors"
	"fmt"
)

// ColumnType classifies a column's storage class.
type ColumnType uint8

// Column storage classes. ColAny columns carry per-value typing; the
// backend preserves whatever kind was written.
const (
	ColText ColumnType = iota
	ColInt
	ColReal
	ColBlob
	ColAny
)

func (t ColumnType) String() string {
	switch t {
	case ColInt:
		return "INTEGER"
	case ColReal:
		return "REAL"
	case ColBlob:
		return "BLOB"
	case ColAny:
		return ""
	default:
		return "TEXT"
	}
}

// Column describes a single table column.
type Column struct {
	Name    string     // Name is the column name as stored in the backend.
	Type    ColumnType // Type is the storage class used for coercion and DDL.
	NotNull bool       // NotNull adds a NOT NULL constraint in generated DDL.
	Default any        // Default seeds fresh objects; nil means no default.
}

// TableSchema is the static metadata for one table: the full column list
// in declaration order, the ordered primary-key column names, and whether
// the backend generates the key on insert.
//
// TableSchema is produced by schema tooling outside this package (see
// internal/schemafile for the file-based loader); objdb only consumes it.
type TableSchema struct {
	Name       string
	Columns    []Column
	PrimaryKey []string
	// AutoKey marks a single-column integer key the backend assigns on
	// insert when the attribute is nil.
	AutoKey bool

	byName map[string]int
}

// Column returns the column definition by name.
func (ts *TableSchema) Column(name string) (Column, bool) {
	idx, ok := ts.byName[name]
	if !ok {
		return Column{}, false
	}

	return ts.Columns[idx], true
}

// HasColumn reports whether name is a schema column.
func (ts *TableSchema) HasColumn(name string) bool {
	_, ok := ts.byName[name]

	return ok
}

// validate checks internal consistency and builds the name index.
func (ts *TableSchema) validate() error {
	if ts.Name == "" {
		return errors.New("table name is empty")
	}

	if len(ts.Columns) == 0 {
		return fmt.Errorf("table %s: no columns", ts.Name)
	}

	ts.byName = make(map[string]int, len(ts.Columns))

	for i, col := range ts.Columns {
		if col.Name == "" {
			return fmt.Errorf("table %s: column %d has no name", ts.Name, i)
		}

		if _, dup := ts.byName[col.Name]; dup {
			return fmt.Errorf("table %s: duplicate column %s", ts.Name, col.Name)
		}

		ts.byName[col.Name] = i
	}

	if len(ts.PrimaryKey) == 0 {
		return fmt.Errorf("table %s: no primary key", ts.Name)
	}

	for _, pk := range ts.PrimaryKey {
		if !ts.HasColumn(pk) {
			return fmt.Errorf("table %s: primary key column %s not defined", ts.Name, pk)
		}
	}

	if ts.AutoKey {
		if len(ts.PrimaryKey) != 1 {
			return fmt.Errorf("table %s: auto key requires a single-column primary key", ts.Name)
		}

		col, _ := ts.Column(ts.PrimaryKey[0])
		if col.Type != ColInt {
			return fmt.Errorf("table %s: auto key column %s must be INTEGER", ts.Name, col.Name)
		}
	}

	return nil
}

// defaults builds the attribute map for a fresh object: every column
// present, defaulted values normalized.
func (ts *TableSchema) defaults() map[string]any {
	attrs := make(map[string]any, len(ts.Columns))

	for _, col := range ts.Columns {
		if col.Default != nil {
			attrs[col.Name] = normalizeValue(col.Default)
		} else {
			attrs[col.Name] = nil
		}
	}

	return attrs
}

// Schema is an ordered collection of table definitions. Declaration order
// is significant: [DB.DumpAll] iterates tables in this order so fixture
// round-trips are stable.
type Schema struct {
	Tables []*TableSchema

	byName map[string]*TableSchema
}

// NewSchema validates the given table definitions and returns a Schema.
func NewSchema(tables ...*TableSchema) (*Schema, error) {
	s := &Schema{
		Tables: tables,
		byName: make(map[string]*TableSchema, len(tables)),
	}

	for _, ts := range tables {
		if ts == nil {
			return nil, errors.New("schema: nil table")
		}

		err := ts.validate()
		if err != nil {
			return nil, fmt.Errorf("schema: %w", err)
		}

		if _, dup := s.byName[ts.Name]; dup {
			return nil, fmt.Errorf("schema: duplicate table %s", ts.Name)
		}

		s.byName[ts.Name] = ts
	}

	return s, nil
}

// Table returns the definition for name, or nil when unknown.
func (s *Schema) Table(name string) *TableSchema {
	if s == nil {
		return nil
	}

	return s.byName[name]
}
