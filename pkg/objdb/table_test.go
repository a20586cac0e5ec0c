package objdb_test

import (
	"errors"
	"testing"

	"github.com/calvinalkan/objdb/pkg/objdb"
)

// Contract: selecting the same row twice without intervening mutation
// yields the same instance, not merely an equal value.
func Test_Select_Returns_Same_Instance_For_Same_Row(t *testing.T) {
	t.Parallel()

	db, _ := newMemDB(t, testSchema(t))
	car := addCar(t.Context(), t, db, map[string]any{"gas_level": 0.0})

	got, err := objdb.SelectOne(t.Context(), db.Table("cars"), objdb.Where{"gas_level": 0.0})
	if err != nil {
		t.Fatalf("select one: %v", err)
	}

	if got != car {
		t.Fatal("expected the identical live instance")
	}

	again, err := objdb.SelectOne(t.Context(), db.Table("cars"), objdb.Where{"gas_level": 0.0})
	if err != nil {
		t.Fatalf("select one: %v", err)
	}

	if again != car {
		t.Fatal("expected the identical live instance on repeat select")
	}
}

// Contract: a live entity is authoritative; fetched attributes for an
// already-mapped row are ignored.
func Test_Select_Ignores_Fetched_Attributes_For_Live_Entity(t *testing.T) {
	t.Parallel()

	db, backend := newMemDB(t, testSchema(t))
	car := addCar(t.Context(), t, db, map[string]any{"color": "red"})
	id := mustInt(t, car, "id")

	// Change the row behind the identity map's back.
	_, err := backend.UpdateRow(t.Context(), "cars", objdb.Where{"id": id}, map[string]any{"color": "blue"})
	if err != nil {
		t.Fatalf("update row: %v", err)
	}

	got, err := db.Table("cars").Get(t.Context(), id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}

	if got != car {
		t.Fatal("expected the live instance")
	}

	if color := mustText(t, got, "color"); color != "red" {
		t.Fatalf("color = %q, want the in-memory value %q", color, "red")
	}
}

func Test_Add_Assigns_Generated_Key(t *testing.T) {
	t.Parallel()

	db, _ := newMemDB(t, testSchema(t))
	car := addCar(t.Context(), t, db, nil)

	if id := mustInt(t, car, "id"); id == 0 {
		t.Fatal("expected a generated primary key")
	}

	if car.IsNew() {
		t.Fatal("object should be persisted after Add")
	}
}

func Test_Add_Rejects_Already_Persisted_Object(t *testing.T) {
	t.Parallel()

	db, _ := newMemDB(t, testSchema(t))
	car := addCar(t.Context(), t, db, nil)

	_, err := db.Table("cars").Add(t.Context(), car)
	if err == nil {
		t.Fatal("expected error adding a persisted object")
	}
}

func Test_New_Applies_Defaults_Then_Overrides(t *testing.T) {
	t.Parallel()

	db, _ := newMemDB(t, testSchema(t))

	car, err := db.Table("cars").New(map[string]any{"gas_level": 0.5})
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	if color := mustText(t, car, "color"); color != "black" {
		t.Fatalf("color = %q, want default %q", color, "black")
	}

	if gas := mustFloat(t, car, "gas_level"); gas != 0.5 {
		t.Fatalf("gas_level = %v, want override 0.5", gas)
	}
}

func Test_New_Rejects_Unknown_Override(t *testing.T) {
	t.Parallel()

	db, _ := newMemDB(t, testSchema(t))

	_, err := db.Table("cars").New(map[string]any{"gas": 0.3})
	if !errors.Is(err, objdb.ErrUnknownAttribute) {
		t.Fatalf("err = %v, want ErrUnknownAttribute", err)
	}
}

func Test_Create_Hook_Runs_For_New_But_Not_For_Hydrated(t *testing.T) {
	t.Parallel()

	schema := testSchema(t)

	var created, loaded int

	db, _ := newMemDB(t, schema, objdb.WithTableHooks("cars", objdb.Hooks{
		OnCreate: func(o *objdb.Object) error {
			created++

			return nil
		},
		OnLoad: func(o *objdb.Object) error {
			loaded++

			return nil
		},
	}))

	car := addCar(t.Context(), t, db, nil)

	if created != 1 || loaded != 0 {
		t.Fatalf("created=%d loaded=%d after New, want 1/0", created, loaded)
	}

	// Drop the instance from the identity map so the next select hydrates.
	id := mustInt(t, car, "id")
	car = nil
	_ = car

	waitForEviction(t, db.Table("cars"))

	got, err := db.Table("cars").Get(t.Context(), id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}

	if got == nil {
		t.Fatal("expected hydrated object")
	}

	if created != 1 || loaded != 1 {
		t.Fatalf("created=%d loaded=%d after hydration, want 1/1", created, loaded)
	}
}

func Test_Delete_Removes_Row_And_Evicts(t *testing.T) {
	t.Parallel()

	db, _ := newMemDB(t, testSchema(t))
	car := addCar(t.Context(), t, db, nil)
	id := mustInt(t, car, "id")

	err := db.Table("cars").Delete(t.Context(), car)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}

	got, err := db.Table("cars").Get(t.Context(), id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}

	if got != nil {
		t.Fatalf("expected no row after delete, got %v", got)
	}

	if !car.IsNew() {
		t.Fatal("deleted object should revert to not-persisted")
	}
}

// Scenario from the query contract: counts track inserts per value and
// select-one fails loudly once a constraint is ambiguous.
func Test_Count_And_SelectOne_Track_Duplicate_Values(t *testing.T) {
	t.Parallel()

	db, _ := newMemDB(t, testSchema(t))
	cars := db.Table("cars")

	addCar(t.Context(), t, db, map[string]any{"color": "red"})

	n, err := cars.Count(t.Context(), objdb.Where{"color": "red"})
	if err != nil {
		t.Fatalf("count: %v", err)
	}

	if n != 1 {
		t.Fatalf("count = %d, want 1", n)
	}

	addCar(t.Context(), t, db, map[string]any{"color": "green"})

	n, err = cars.Count(t.Context(), objdb.Where{"color": "red"})
	if err != nil {
		t.Fatalf("count: %v", err)
	}

	if n != 1 {
		t.Fatalf("count = %d after unrelated insert, want 1", n)
	}

	addCar(t.Context(), t, db, map[string]any{"color": "red"})

	n, err = cars.Count(t.Context(), objdb.Where{"color": "red"})
	if err != nil {
		t.Fatalf("count: %v", err)
	}

	if n != 2 {
		t.Fatalf("count = %d, want 2", n)
	}

	_, err = objdb.SelectOne(t.Context(), cars, objdb.Where{"color": "red"})
	if !errors.Is(err, objdb.ErrTooManyResults) {
		t.Fatalf("err = %v, want ErrTooManyResults", err)
	}
}

func Test_Select_Is_Restartable(t *testing.T) {
	t.Parallel()

	db, _ := newMemDB(t, testSchema(t))
	addCar(t.Context(), t, db, map[string]any{"color": "green"})
	addCar(t.Context(), t, db, map[string]any{"color": "green"})

	cars := db.Table("cars")

	first, err := cars.Select(t.Context(), objdb.Where{"color": "green"})
	if err != nil {
		t.Fatalf("select: %v", err)
	}

	if got := len(collect(t, first)); got != 2 {
		t.Fatalf("first pass yielded %d, want 2", got)
	}

	second, err := cars.Select(t.Context(), objdb.Where{"color": "green"})
	if err != nil {
		t.Fatalf("select: %v", err)
	}

	if got := len(collect(t, second)); got != 2 {
		t.Fatalf("second pass yielded %d, want 2", got)
	}
}

func Test_Objects_Sort_By_Primary_Key(t *testing.T) {
	t.Parallel()

	db, _ := newMemDB(t, testSchema(t))

	c3 := addCar(t.Context(), t, db, nil)
	c1 := addCar(t.Context(), t, db, nil)
	c2 := addCar(t.Context(), t, db, nil)

	objs := []*objdb.Object{c2, c3, c1}
	objdb.SortObjects(objs)

	prev := int64(0)

	for _, o := range objs {
		id := mustInt(t, o, "id")
		if id <= prev {
			t.Fatalf("ids not ascending: %d after %d", id, prev)
		}

		prev = id
	}
}
