package objdb_test

import (
	"errors"
	"testing"

	"github.com/calvinalkan/objdb/pkg/objdb"
)

func newDoor(t *testing.T, db *objdb.DB, doorType string) *objdb.Object {
	t.Helper()

	door, err := db.Table("doors").New(map[string]any{"type": doorType})
	if err != nil {
		t.Fatalf("new door: %v", err)
	}

	return door
}

// Contract: children attached while the parent has no key are persisted
// with the stamped foreign key when the parent is first added.
func Test_Relation_Defers_Children_Until_Parent_Keyed(t *testing.T) {
	t.Parallel()

	db, _ := newMemDB(t, testSchema(t))
	cars := db.Table("cars")

	car, err := cars.New(nil)
	if err != nil {
		t.Fatalf("new car: %v", err)
	}

	doors, err := objdb.NewRelation(car, db.Table("doors"), "carid")
	if err != nil {
		t.Fatalf("relation: %v", err)
	}

	for _, dt := range []string{"front", "rear"} {
		addErr := doors.Add(t.Context(), newDoor(t, db, dt))
		if addErr != nil {
			t.Fatalf("add door: %v", addErr)
		}
	}

	// Nothing persisted yet; the queue serves selects meanwhile.
	n, err := db.Table("doors").Count(t.Context(), nil)
	if err != nil {
		t.Fatalf("count: %v", err)
	}

	if n != 0 {
		t.Fatalf("doors table has %d rows before parent add, want 0", n)
	}

	queued, err := objdb.All(t.Context(), doors)
	if err != nil {
		t.Fatalf("all queued: %v", err)
	}

	if len(queued) != 2 {
		t.Fatalf("queued = %d, want 2", len(queued))
	}

	_, err = cars.Add(t.Context(), car)
	if err != nil {
		t.Fatalf("add car: %v", err)
	}

	carID := mustInt(t, car, "id")

	persisted, err := objdb.All(t.Context(), doors)
	if err != nil {
		t.Fatalf("all persisted: %v", err)
	}

	if len(persisted) != 2 {
		t.Fatalf("persisted = %d, want 2", len(persisted))
	}

	for _, door := range persisted {
		if got := mustInt(t, door, "carid"); got != carID {
			t.Fatalf("carid = %d, want %d", got, carID)
		}
	}
}

// Contract: the relation is a scoped view, not a copy; it only shows
// children whose foreign key matches the parent.
func Test_Relation_Select_Scopes_To_Parent(t *testing.T) {
	t.Parallel()

	db, _ := newMemDB(t, testSchema(t))

	carA := addCar(t.Context(), t, db, nil)
	carB := addCar(t.Context(), t, db, nil)

	doorsA, err := objdb.NewRelation(carA, db.Table("doors"), "carid")
	if err != nil {
		t.Fatalf("relation a: %v", err)
	}

	doorsB, err := objdb.NewRelation(carB, db.Table("doors"), "carid")
	if err != nil {
		t.Fatalf("relation b: %v", err)
	}

	for _, dt := range []string{"front", "rear"} {
		if addErr := doorsA.Add(t.Context(), newDoor(t, db, dt)); addErr != nil {
			t.Fatalf("add: %v", addErr)
		}
	}

	if addErr := doorsB.Add(t.Context(), newDoor(t, db, "front")); addErr != nil {
		t.Fatalf("add: %v", addErr)
	}

	nA, err := objdb.Count(t.Context(), doorsA, nil)
	if err != nil {
		t.Fatalf("count a: %v", err)
	}

	if nA != 2 {
		t.Fatalf("car a has %d doors, want 2", nA)
	}

	front, err := objdb.GetWhere(t.Context(), doorsB, objdb.Where{"type": "front"})
	if err != nil {
		t.Fatalf("get b front: %v", err)
	}

	if front == nil || mustInt(t, front, "carid") != mustInt(t, carB, "id") {
		t.Fatal("want car b's own front door")
	}
}

// Contract: attaching an already-persisted child restamps its foreign key
// through a mutation scope instead of inserting a second row.
func Test_Relation_Add_Restamps_Persisted_Child(t *testing.T) {
	t.Parallel()

	db, _ := newMemDB(t, testSchema(t))
	dtbl := db.Table("doors")

	carA := addCar(t.Context(), t, db, nil)
	carB := addCar(t.Context(), t, db, nil)

	doorsA, err := objdb.NewRelation(carA, dtbl, "carid")
	if err != nil {
		t.Fatalf("relation a: %v", err)
	}

	doorsB, err := objdb.NewRelation(carB, dtbl, "carid")
	if err != nil {
		t.Fatalf("relation b: %v", err)
	}

	door := newDoor(t, db, "front")

	if addErr := doorsA.Add(t.Context(), door); addErr != nil {
		t.Fatalf("add to a: %v", addErr)
	}

	if addErr := doorsB.Add(t.Context(), door); addErr != nil {
		t.Fatalf("move to b: %v", addErr)
	}

	if got := mustInt(t, door, "carid"); got != mustInt(t, carB, "id") {
		t.Fatalf("carid = %d, want car b", got)
	}

	total, err := dtbl.Count(t.Context(), nil)
	if err != nil {
		t.Fatalf("count: %v", err)
	}

	if total != 1 {
		t.Fatalf("doors rows = %d, want 1 (moved, not copied)", total)
	}
}

// Contract: a mid-flush insert failure keeps the unpersisted children
// queued and visible; nothing is dropped silently.
func Test_Relation_Keeps_Unflushed_Children_When_Flush_Fails(t *testing.T) {
	t.Parallel()

	db, backend := newMemDB(t, testSchema(t))
	cars := db.Table("cars")

	car, err := cars.New(nil)
	if err != nil {
		t.Fatalf("new car: %v", err)
	}

	doors, err := objdb.NewRelation(car, db.Table("doors"), "carid")
	if err != nil {
		t.Fatalf("relation: %v", err)
	}

	for _, dt := range []string{"front", "rear", "trunk"} {
		if addErr := doors.Add(t.Context(), newDoor(t, db, dt)); addErr != nil {
			t.Fatalf("add door: %v", addErr)
		}
	}

	// Parent insert and the first door succeed, the second door fails.
	backend.SetWriteErrorAfter(2, errors.New("disk full"))

	_, err = cars.Add(t.Context(), car)
	if err == nil {
		t.Fatal("want add error from the failed flush")
	}

	n, err := db.Table("doors").Count(t.Context(), nil)
	if err != nil {
		t.Fatalf("count rows: %v", err)
	}

	if n != 1 {
		t.Fatalf("doors rows = %d, want the 1 that was flushed", n)
	}

	got, err := objdb.All(t.Context(), doors)
	if err != nil {
		t.Fatalf("all: %v", err)
	}

	if len(got) != 3 {
		t.Fatalf("visible doors = %d, want all 3", len(got))
	}

	types := make(map[string]bool, len(got))

	for _, door := range got {
		types[mustText(t, door, "type")] = true
	}

	for _, dt := range []string{"front", "rear", "trunk"} {
		if !types[dt] {
			t.Fatalf("door %q missing after failed flush", dt)
		}
	}
}

func Test_Relation_Remove_Dequeues_Or_Deletes(t *testing.T) {
	t.Parallel()

	db, _ := newMemDB(t, testSchema(t))
	cars := db.Table("cars")

	car, err := cars.New(nil)
	if err != nil {
		t.Fatalf("new car: %v", err)
	}

	doors, err := objdb.NewRelation(car, db.Table("doors"), "carid")
	if err != nil {
		t.Fatalf("relation: %v", err)
	}

	queued := newDoor(t, db, "front")

	if addErr := doors.Add(t.Context(), queued); addErr != nil {
		t.Fatalf("add: %v", addErr)
	}

	if rmErr := doors.Remove(t.Context(), queued); rmErr != nil {
		t.Fatalf("remove queued: %v", rmErr)
	}

	_, err = cars.Add(t.Context(), car)
	if err != nil {
		t.Fatalf("add car: %v", err)
	}

	// The dequeued door never reached the backend.
	n, err := objdb.Count(t.Context(), doors, nil)
	if err != nil {
		t.Fatalf("count: %v", err)
	}

	if n != 0 {
		t.Fatalf("doors = %d after dequeue, want 0", n)
	}

	kept := newDoor(t, db, "rear")

	if addErr := doors.Add(t.Context(), kept); addErr != nil {
		t.Fatalf("add persisted: %v", addErr)
	}

	if rmErr := doors.Remove(t.Context(), kept); rmErr != nil {
		t.Fatalf("remove persisted: %v", rmErr)
	}

	n, err = db.Table("doors").Count(t.Context(), nil)
	if err != nil {
		t.Fatalf("count: %v", err)
	}

	if n != 0 {
		t.Fatalf("doors rows = %d after remove, want 0", n)
	}
}
