package objdb_test

import (
	"errors"
	"testing"

	"github.com/calvinalkan/objdb/pkg/objdb"
)

// The integer 1, the string "1" and the bytes "1" must map to distinct
// identity-map keys.
func Test_Key_Encoding_Separates_Value_Kinds(t *testing.T) {
	t.Parallel()

	schema := testSchema(t)
	db, _ := newMemDB(t, schema)
	whatever := db.Table("whatever")

	for _, v := range []any{int64(31), "31", []byte("31")} {
		o, err := whatever.New(map[string]any{"value": v})
		if err != nil {
			t.Fatalf("new: %v", err)
		}

		_, err = whatever.Add(t.Context(), o)
		if err != nil {
			t.Fatalf("add: %v", err)
		}
	}

	n, err := whatever.Count(t.Context(), objdb.Where{"value": int64(31)})
	if err != nil {
		t.Fatalf("count int: %v", err)
	}

	if n != 1 {
		t.Fatalf("int 31 matched %d rows, want 1", n)
	}

	n, err = whatever.Count(t.Context(), objdb.Where{"value": "31"})
	if err != nil {
		t.Fatalf("count text: %v", err)
	}

	if n != 1 {
		t.Fatalf("text 31 matched %d rows, want 1", n)
	}

	n, err = whatever.Count(t.Context(), objdb.Where{"value": []byte("31")})
	if err != nil {
		t.Fatalf("count bytes: %v", err)
	}

	if n != 1 {
		t.Fatalf("bytes 31 matched %d rows, want 1", n)
	}
}

// Integer kinds normalize to one representation so int, int32 and int64
// forms of the same number match the same rows.
func Test_Integer_Kinds_Normalize(t *testing.T) {
	t.Parallel()

	db, _ := newMemDB(t, testSchema(t))
	whatever := db.Table("whatever")

	o, err := whatever.New(map[string]any{"value": int(7)})
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	_, err = whatever.Add(t.Context(), o)
	if err != nil {
		t.Fatalf("add: %v", err)
	}

	stored, ok := o.Get("value")
	if !ok {
		t.Fatal("value attribute missing")
	}

	if _, ok := stored.(int64); !ok {
		t.Fatalf("stored as %T, want int64", stored)
	}

	for _, probe := range []any{int(7), int32(7), int64(7)} {
		n, countErr := whatever.Count(t.Context(), objdb.Where{"value": probe})
		if countErr != nil {
			t.Fatalf("count %T: %v", probe, countErr)
		}

		if n != 1 {
			t.Fatalf("%T(7) matched %d rows, want 1", probe, n)
		}
	}
}

func Test_Like_Pattern_Matching(t *testing.T) {
	t.Parallel()

	db, _ := newMemDB(t, testSchema(t))
	cars := db.Table("cars")

	for _, color := range []string{"red", "green", "grey", "GREEN"} {
		addCar(t.Context(), t, db, map[string]any{"color": color})
	}

	cases := []struct {
		pattern string
		want    int64
	}{
		{"gre%", 3},
		{"%een", 2},
		{"gr__n", 2},
		{"red", 1},
		{"%", 4},
		{"blue%", 0},
	}

	for _, tc := range cases {
		n, err := cars.Count(t.Context(), objdb.Where{"color": objdb.Like(tc.pattern)})
		if err != nil {
			t.Fatalf("pattern %q: %v", tc.pattern, err)
		}

		if n != tc.want {
			t.Fatalf("pattern %q matched %d, want %d", tc.pattern, n, tc.want)
		}
	}
}

// Fingerprints must be insensitive to map iteration order and sensitive
// to operators and value kinds.
func Test_Where_Fingerprint_Is_Canonical(t *testing.T) {
	t.Parallel()

	a := objdb.WhereFingerprint(objdb.Where{"color": "red", "gas_level": objdb.Gt(0.5)})
	b := objdb.WhereFingerprint(objdb.Where{"gas_level": objdb.Gt(0.5), "color": "red"})

	if a != b {
		t.Fatalf("order changed the fingerprint: %q vs %q", a, b)
	}

	c := objdb.WhereFingerprint(objdb.Where{"color": "red", "gas_level": objdb.Ge(0.5)})
	if a == c {
		t.Fatal("operator change did not change the fingerprint")
	}

	d := objdb.WhereFingerprint(objdb.Where{"value": int64(1)})
	e := objdb.WhereFingerprint(objdb.Where{"value": "1"})

	if d == e {
		t.Fatal("value kind did not change the fingerprint")
	}
}

func Test_Where_Rejects_Unknown_Columns(t *testing.T) {
	t.Parallel()

	db, _ := newMemDB(t, testSchema(t))

	_, err := db.Table("cars").Count(t.Context(), objdb.Where{"wheels": 4})
	if !errors.Is(err, objdb.ErrUnknownAttribute) {
		t.Fatalf("err = %v, want ErrUnknownAttribute", err)
	}
}
