package cli

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/calvinalkan/objdb/pkg/objdb"
)

var errBadConstraint = errors.New("bad constraint")

// constraint operators, longest first so ">=" wins over ">".
var constraintOps = []struct {
	token string
	build func(v any) any
}{
	{"!=", func(v any) any { return objdb.Ne(v) }},
	{">=", func(v any) any { return objdb.Ge(v) }},
	{"<=", func(v any) any { return objdb.Le(v) }},
	{"=", func(v any) any { return v }},
	{">", func(v any) any { return objdb.Gt(v) }},
	{"<", func(v any) any { return objdb.Lt(v) }},
	{"~", func(v any) any {
		s, _ := v.(string)

		return objdb.Like(s)
	}},
}

// parseWhere turns positional "col=value" style arguments into query
// constraints. Supported forms: col=v, col!=v, col>v, col>=v, col<v,
// col<=v and col~pattern. Values parse as integer, then float, with
// "null" mapping to nil; everything else stays a string.
func parseWhere(args []string) (objdb.Where, error) {
	if len(args) == 0 {
		return nil, nil
	}

	where := make(objdb.Where, len(args))

	for _, arg := range args {
		col, cond, err := parseConstraint(arg)
		if err != nil {
			return nil, err
		}

		where[col] = cond
	}

	return where, nil
}

func parseConstraint(arg string) (string, any, error) {
	for _, op := range constraintOps {
		idx := strings.Index(arg, op.token)
		if idx <= 0 {
			continue
		}

		col := arg[:idx]
		raw := arg[idx+len(op.token):]

		return col, op.build(parseValue(raw)), nil
	}

	return "", nil, fmt.Errorf("%w: %q (want col=value)", errBadConstraint, arg)
}

// parseValue maps a CLI token to a typed attribute value.
func parseValue(raw string) any {
	if raw == "null" {
		return nil
	}

	if unquoted, ok := strings.CutPrefix(raw, `"`); ok {
		return strings.TrimSuffix(unquoted, `"`)
	}

	if i, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return i
	}

	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		return f
	}

	return raw
}
