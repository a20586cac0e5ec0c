package objdb_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/calvinalkan/objdb/pkg/objdb"
)

// testSchema declares the tables shared by most tests: an auto-keyed cars
// table with defaults, a doors child table, a blob-keyed table and a
// dynamically-typed one.
func testSchema(t *testing.T) *objdb.Schema {
	t.Helper()

	cars := &objdb.TableSchema{
		Name: "cars",
		Columns: []objdb.Column{
			{Name: "id", Type: objdb.ColInt},
			{Name: "color", Type: objdb.ColText, Default: "black"},
			{Name: "gas_level", Type: objdb.ColReal, Default: 1.0},
		},
		PrimaryKey: []string{"id"},
		AutoKey:    true,
	}

	doors := &objdb.TableSchema{
		Name: "doors",
		Columns: []objdb.Column{
			{Name: "id", Type: objdb.ColInt},
			{Name: "carid", Type: objdb.ColInt},
			{Name: "type", Type: objdb.ColText},
		},
		PrimaryKey: []string{"id"},
		AutoKey:    true,
	}

	blobs := &objdb.TableSchema{
		Name: "blobs",
		Columns: []objdb.Column{
			{Name: "oid", Type: objdb.ColBlob},
			{Name: "data", Type: objdb.ColBlob},
			{Name: "num", Type: objdb.ColReal},
		},
		PrimaryKey: []string{"oid"},
	}

	whatever := &objdb.TableSchema{
		Name: "whatever",
		Columns: []objdb.Column{
			{Name: "id", Type: objdb.ColInt},
			{Name: "value", Type: objdb.ColAny},
		},
		PrimaryKey: []string{"id"},
		AutoKey:    true,
	}

	schema, err := objdb.NewSchema(cars, doors, blobs, whatever)
	if err != nil {
		t.Fatalf("build schema: %v", err)
	}

	return schema
}

// m2mSchema declares groups <- group_people -> people.
func m2mSchema(t *testing.T) *objdb.Schema {
	t.Helper()

	groups := &objdb.TableSchema{
		Name: "groups",
		Columns: []objdb.Column{
			{Name: "id", Type: objdb.ColInt},
			{Name: "name", Type: objdb.ColText},
		},
		PrimaryKey: []string{"id"},
		AutoKey:    true,
	}

	people := &objdb.TableSchema{
		Name: "people",
		Columns: []objdb.Column{
			{Name: "id", Type: objdb.ColInt},
			{Name: "name", Type: objdb.ColText},
		},
		PrimaryKey: []string{"id"},
		AutoKey:    true,
	}

	links := &objdb.TableSchema{
		Name: "group_people",
		Columns: []objdb.Column{
			{Name: "id", Type: objdb.ColInt},
			{Name: "group_id", Type: objdb.ColInt},
			{Name: "person_id", Type: objdb.ColInt},
			{Name: "role", Type: objdb.ColText},
		},
		PrimaryKey: []string{"id"},
		AutoKey:    true,
	}

	schema, err := objdb.NewSchema(groups, people, links)
	if err != nil {
		t.Fatalf("build schema: %v", err)
	}

	return schema
}

// newMemDB opens a manager over a fresh in-memory backend.
func newMemDB(t *testing.T, schema *objdb.Schema, opts ...objdb.Option) (*objdb.DB, *objdb.MemBackend) {
	t.Helper()

	backend := objdb.NewMemBackend(schema)

	db, err := objdb.Open(t.Context(), backend, schema, opts...)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}

	return db, backend
}

// newSQLiteDB opens a manager over a file-backed SQLite database in a
// temp directory, with tables created.
func newSQLiteDB(t *testing.T, schema *objdb.Schema, opts ...objdb.Option) (*objdb.DB, *objdb.SQLiteBackend) {
	t.Helper()

	backend, err := objdb.OpenSQLite(t.Context(), filepath.Join(t.TempDir(), "test.sqlite"), schema)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}

	t.Cleanup(func() { _ = backend.Close() })

	err = backend.CreateTables(t.Context())
	if err != nil {
		t.Fatalf("create tables: %v", err)
	}

	db, err := objdb.Open(t.Context(), backend, schema, opts...)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}

	return db, backend
}

// addCar creates and persists a car with the given overrides.
func addCar(ctx context.Context, t *testing.T, db *objdb.DB, overrides map[string]any) *objdb.Object {
	t.Helper()

	car, err := db.Table("cars").New(overrides)
	if err != nil {
		t.Fatalf("new car: %v", err)
	}

	_, err = db.Table("cars").Add(ctx, car)
	if err != nil {
		t.Fatalf("add car: %v", err)
	}

	return car
}

// mustFloat reads a float column or fails the test.
func mustFloat(t *testing.T, o *objdb.Object, col string) float64 {
	t.Helper()

	v, ok := o.Float(col)
	if !ok {
		t.Fatalf("column %s is not a float", col)
	}

	return v
}

// mustText reads a text column or fails the test.
func mustText(t *testing.T, o *objdb.Object, col string) string {
	t.Helper()

	v, ok := o.Text(col)
	if !ok {
		t.Fatalf("column %s is not text", col)
	}

	return v
}

// mustInt reads an integer column or fails the test.
func mustInt(t *testing.T, o *objdb.Object, col string) int64 {
	t.Helper()

	v, ok := o.Int(col)
	if !ok {
		t.Fatalf("column %s is not an integer", col)
	}

	return v
}

// collect drains a cursor into a slice, failing on iteration errors.
func collect(t *testing.T, cur *objdb.Cursor) []*objdb.Object {
	t.Helper()

	defer func() { _ = cur.Close() }()

	var objs []*objdb.Object

	for cur.Next() {
		objs = append(objs, cur.Object())
	}

	if err := cur.Err(); err != nil {
		t.Fatalf("cursor: %v", err)
	}

	return objs
}
