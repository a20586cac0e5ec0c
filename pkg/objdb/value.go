package objdb

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Where is an unordered set of column constraints combined with AND.
//
// A plain value means equality. Wrap values with [Gt], [Lt], [Like] and
// friends for the other supported operators. Where is not an expression
// language; anything beyond simple column comparisons belongs in the
// backend, not here.
type Where map[string]any

// Op names a comparison operator usable in a [Cond].
type Op string

// Supported comparison operators.
const (
	OpEq   Op = "="
	OpNe   Op = "!="
	OpGt   Op = ">"
	OpGe   Op = ">="
	OpLt   Op = "<"
	OpLe   Op = "<="
	OpLike Op = "LIKE"
)

// Cond is an operator-tagged constraint value.
type Cond struct {
	Op    Op
	Value any
}

// Eq builds an explicit equality condition. Bare values in a [Where] mean
// the same thing; Eq exists for symmetry.
func Eq(v any) Cond { return Cond{Op: OpEq, Value: v} }

// Ne builds a not-equal condition.
func Ne(v any) Cond { return Cond{Op: OpNe, Value: v} }

// Gt builds a greater-than condition.
func Gt(v any) Cond { return Cond{Op: OpGt, Value: v} }

// Ge builds a greater-or-equal condition.
func Ge(v any) Cond { return Cond{Op: OpGe, Value: v} }

// Lt builds a less-than condition.
func Lt(v any) Cond { return Cond{Op: OpLt, Value: v} }

// Le builds a less-or-equal condition.
func Le(v any) Cond { return Cond{Op: OpLe, Value: v} }

// Like builds a SQL LIKE condition. The pattern syntax is the backend's.
func Like(pattern string) Cond { return Cond{Op: OpLike, Value: pattern} }

// Key is the canonical encoding of a primary-key tuple, usable as a map
// key. The encoding is type-tagged so int64(1), "1" and []byte("1") never
// collide, and ordered encodings of the same schema compare consistently.
type Key string

// normalizeValue collapses the Go integer and float families onto int64
// and float64 so values survive a backend round-trip unchanged.
func normalizeValue(v any) any {
	switch x := v.(type) {
	case int:
		return int64(x)
	case int8:
		return int64(x)
	case int16:
		return int64(x)
	case int32:
		return int64(x)
	case uint:
		return int64(x)
	case uint8:
		return int64(x)
	case uint16:
		return int64(x)
	case uint32:
		return int64(x)
	case uint64:
		return int64(x)
	case float32:
		return float64(x)
	default:
		return v
	}
}

// encodeValue renders one normalized value with a type tag.
func encodeValue(v any) (string, error) {
	switch x := normalizeValue(v).(type) {
	case nil:
		return "", ErrNoKey
	case int64:
		return "i:" + strconv.FormatInt(x, 10), nil
	case float64:
		return "f:" + strconv.FormatFloat(x, 'g', -1, 64), nil
	case bool:
		return "t:" + strconv.FormatBool(x), nil
	case string:
		return "s:" + x, nil
	case []byte:
		return "b:" + hex.EncodeToString(x), nil
	default:
		return "", fmt.Errorf("unsupported key value type %T", v)
	}
}

// encodeKey builds a [Key] from ordered primary-key values.
func encodeKey(vals []any) (Key, error) {
	parts := make([]string, 0, len(vals))

	for _, v := range vals {
		enc, err := encodeValue(v)
		if err != nil {
			return "", err
		}

		parts = append(parts, enc)
	}

	return Key(strings.Join(parts, "|")), nil
}

// valuesEqual reports exact equality for attribute values: no cross-type
// coercion, so int64(31) never equals "31" and []byte never equals string.
func valuesEqual(a, b any) bool {
	a = normalizeValue(a)
	b = normalizeValue(b)

	if ab, ok := a.([]byte); ok {
		bb, ok := b.([]byte)

		return ok && bytes.Equal(ab, bb)
	}

	if _, ok := b.([]byte); ok {
		return false
	}

	return a == b
}

// compareValues orders two normalized values of the same kind.
// Returns 0 on equality, and ok=false when the kinds are not comparable.
func compareValues(a, b any) (cmp int, ok bool) {
	a = normalizeValue(a)
	b = normalizeValue(b)

	switch x := a.(type) {
	case int64:
		switch y := b.(type) {
		case int64:
			return compareOrdered(x, y), true
		case float64:
			return compareOrdered(float64(x), y), true
		}
	case float64:
		switch y := b.(type) {
		case int64:
			return compareOrdered(x, float64(y)), true
		case float64:
			return compareOrdered(x, y), true
		}
	case string:
		if y, ok := b.(string); ok {
			return strings.Compare(x, y), true
		}
	case []byte:
		if y, ok := b.([]byte); ok {
			return bytes.Compare(x, y), true
		}
	}

	return 0, false
}

func compareOrdered[T int64 | float64](a, b T) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// condMatches evaluates one constraint value (plain or [Cond]) against an
// attribute value.
func condMatches(constraint, value any) bool {
	cond, ok := constraint.(Cond)
	if !ok {
		cond = Cond{Op: OpEq, Value: constraint}
	}

	switch cond.Op {
	case OpEq:
		return valuesEqual(cond.Value, value)
	case OpNe:
		return !valuesEqual(cond.Value, value)
	case OpGt, OpGe, OpLt, OpLe:
		cmp, ok := compareValues(value, cond.Value)
		if !ok {
			return false
		}

		switch cond.Op {
		case OpGt:
			return cmp > 0
		case OpGe:
			return cmp >= 0
		case OpLt:
			return cmp < 0
		default:
			return cmp <= 0
		}
	case OpLike:
		pattern, ok := cond.Value.(string)
		if !ok {
			return false
		}

		s, ok := value.(string)
		if !ok {
			return false
		}

		return likeMatch(pattern, s)
	default:
		return false
	}
}

// likeMatch implements SQL LIKE with % and _ wildcards, case-insensitive,
// for the in-memory paths (MemBackend, cached filtering).
func likeMatch(pattern, s string) bool {
	return likeMatchFold(strings.ToLower(pattern), strings.ToLower(s))
}

func likeMatchFold(pattern, s string) bool {
	for {
		if pattern == "" {
			return s == ""
		}

		switch pattern[0] {
		case '%':
			for i := 0; i <= len(s); i++ {
				if likeMatchFold(pattern[1:], s[i:]) {
					return true
				}
			}

			return false
		case '_':
			if s == "" {
				return false
			}

			pattern, s = pattern[1:], s[1:]
		default:
			if s == "" || pattern[0] != s[0] {
				return false
			}

			pattern, s = pattern[1:], s[1:]
		}
	}
}

// matchWhere reports whether a row's attributes satisfy every constraint.
func matchWhere(attrs map[string]any, where Where) bool {
	for col, constraint := range where {
		if !condMatches(constraint, attrs[col]) {
			return false
		}
	}

	return true
}

// whereFingerprint renders a Where deterministically so constraint sets
// can be recorded as known-complete by [ObjCache].
func whereFingerprint(where Where) string {
	if len(where) == 0 {
		return ""
	}

	parts := make([]string, 0, len(where))

	for col, constraint := range where {
		cond, ok := constraint.(Cond)
		if !ok {
			cond = Cond{Op: OpEq, Value: constraint}
		}

		enc, err := encodeValue(cond.Value)
		if err != nil {
			enc = fmt.Sprintf("?:%v", cond.Value)
		}

		parts = append(parts, col+string(cond.Op)+enc)
	}

	sort.Strings(parts)

	return strings.Join(parts, "&")
}
