package objdb_test

import (
	"testing"

	"github.com/calvinalkan/objdb/pkg/objdb"
)

// insertCarRow writes a row directly through the backend, bypassing the
// table and any cache on top of it.
func insertCarRow(t *testing.T, backend objdb.Backend, attrs map[string]any) {
	t.Helper()

	_, _, err := backend.InsertRow(t.Context(), "cars", attrs)
	if err != nil {
		t.Fatalf("insert row: %v", err)
	}
}

// Contract: the first select for a constraint set falls through; once the
// set is known-complete, rows written behind the cache's back stay
// invisible until Reload.
func Test_ObjCache_Serves_Known_Constraint_Sets_From_Memory(t *testing.T) {
	t.Parallel()

	db, backend := newMemDB(t, testSchema(t))
	cache := objdb.NewObjCache(db.Table("cars"))

	addCar(t.Context(), t, db, map[string]any{"color": "red"})

	got, err := objdb.All(t.Context(), cache)
	if err != nil {
		t.Fatalf("first select: %v", err)
	}

	if len(got) != 1 {
		t.Fatalf("first select = %d rows, want 1", len(got))
	}

	insertCarRow(t, backend, map[string]any{"color": "blue", "gas_level": 1.0})

	got, err = objdb.All(t.Context(), cache)
	if err != nil {
		t.Fatalf("second select: %v", err)
	}

	if len(got) != 1 {
		t.Fatalf("cache served %d rows, want the 1 it retained", len(got))
	}

	n, err := cache.Reload(t.Context())
	if err != nil {
		t.Fatalf("reload: %v", err)
	}

	if n != 2 {
		t.Fatalf("reload = %d rows, want 2", n)
	}

	got, err = objdb.All(t.Context(), cache)
	if err != nil {
		t.Fatalf("after reload: %v", err)
	}

	if len(got) != 2 {
		t.Fatalf("after reload = %d rows, want 2", len(got))
	}
}

func Test_ObjCache_Falls_Through_For_Unknown_Constraint_Sets(t *testing.T) {
	t.Parallel()

	db, backend := newMemDB(t, testSchema(t))
	cache := objdb.NewObjCache(db.Table("cars"))

	addCar(t.Context(), t, db, map[string]any{"color": "red"})

	reds, err := objdb.Count(t.Context(), cache, objdb.Where{"color": "red"})
	if err != nil {
		t.Fatalf("count red: %v", err)
	}

	if reds != 1 {
		t.Fatalf("red = %d, want 1", reds)
	}

	insertCarRow(t, backend, map[string]any{"color": "red", "gas_level": 1.0})
	insertCarRow(t, backend, map[string]any{"color": "blue", "gas_level": 1.0})

	// Same constraint set: served from memory, new row invisible.
	reds, err = objdb.Count(t.Context(), cache, objdb.Where{"color": "red"})
	if err != nil {
		t.Fatalf("count red again: %v", err)
	}

	if reds != 1 {
		t.Fatalf("red = %d from memory, want 1", reds)
	}

	// Different constraint set: falls through and sees the backend.
	blues, err := objdb.Count(t.Context(), cache, objdb.Where{"color": "blue"})
	if err != nil {
		t.Fatalf("count blue: %v", err)
	}

	if blues != 1 {
		t.Fatalf("blue = %d, want 1", blues)
	}
}

func Test_ObjCache_Invalidate_Forces_Fall_Through(t *testing.T) {
	t.Parallel()

	db, backend := newMemDB(t, testSchema(t))
	cache := objdb.NewObjCache(db.Table("cars"))

	addCar(t.Context(), t, db, nil)

	_, err := objdb.All(t.Context(), cache)
	if err != nil {
		t.Fatalf("prime: %v", err)
	}

	insertCarRow(t, backend, map[string]any{"color": "blue", "gas_level": 1.0})

	cache.Invalidate()

	got, err := objdb.All(t.Context(), cache)
	if err != nil {
		t.Fatalf("after invalidate: %v", err)
	}

	if len(got) != 2 {
		t.Fatalf("after invalidate = %d rows, want 2", len(got))
	}
}

// Contract: the cache shares the table's identity map; it retains the
// same live instances the table would hand out.
func Test_ObjCache_Holds_Live_Instances(t *testing.T) {
	t.Parallel()

	db, _ := newMemDB(t, testSchema(t))
	cars := db.Table("cars")
	cache := objdb.NewObjCache(cars)

	car := addCar(t.Context(), t, db, nil)

	got, err := objdb.Get(t.Context(), cache, mustInt(t, car, "id"))
	if err != nil {
		t.Fatalf("get: %v", err)
	}

	if got != car {
		t.Fatal("cache handed out a different instance than the table")
	}
}

func Test_ObjCache_Add_Retains_The_Object(t *testing.T) {
	t.Parallel()

	db, _ := newMemDB(t, testSchema(t))
	cars := db.Table("cars")
	cache := objdb.NewObjCache(cars)

	// Mark the table complete while empty.
	_, err := objdb.All(t.Context(), cache)
	if err != nil {
		t.Fatalf("prime: %v", err)
	}

	car, err := cars.New(nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	_, err = cache.Add(t.Context(), car)
	if err != nil {
		t.Fatalf("add: %v", err)
	}

	// Served from memory, and the added object is there.
	got, err := objdb.All(t.Context(), cache)
	if err != nil {
		t.Fatalf("select: %v", err)
	}

	if len(got) != 1 || got[0] != car {
		t.Fatalf("cache serves %d objects, want the added one", len(got))
	}
}
