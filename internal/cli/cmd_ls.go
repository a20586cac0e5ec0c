package cli

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	flag "github.com/spf13/pflag"

	"github.com/calvinalkan/objdb/pkg/objdb"
)

var errTableRequired = errors.New("table name required")

func cmdLs() *Command {
	flags := flag.NewFlagSet("ls", flag.ContinueOnError)
	limit := flags.Int64P("limit", "n", 0, "stop after this many rows (0 = all)")

	return &Command{
		Flags: flags,
		Usage: "ls <table> [col=value ...]",
		Short: "List rows matching the constraints",
		Long: `List rows of a table, optionally filtered.

Constraints combine with AND. Supported forms:
  col=value    col!=value    col~pattern (SQL LIKE)
  col>value    col>=value    col<value     col<=value

Values parse as integer, then float; "null" matches NULL and anything
else is taken as text.`,
		Exec: func(ctx context.Context, o *IO, db *objdb.DB, args []string) error {
			if len(args) == 0 {
				return errTableRequired
			}

			table := db.Table(args[0])
			if table == nil {
				return fmt.Errorf("unknown table %s", args[0])
			}

			where, err := parseWhere(args[1:])
			if err != nil {
				return err
			}

			cur, err := table.Select(ctx, where)
			if err != nil {
				return err
			}

			defer func() { _ = cur.Close() }()

			var shown int64

			for cur.Next() {
				o.Println(formatObject(cur.Object()))

				shown++
				if *limit > 0 && shown >= *limit {
					break
				}
			}

			return cur.Err()
		},
	}
}

// formatObject renders one row as "table(col=value, ...)" with columns in
// name order.
func formatObject(obj *objdb.Object) string {
	attrs := obj.Attributes()

	cols := make([]string, 0, len(attrs))
	for col := range attrs {
		cols = append(cols, col)
	}

	sort.Strings(cols)

	parts := make([]string, 0, len(cols))
	for _, col := range cols {
		parts = append(parts, fmt.Sprintf("%s=%v", col, attrs[col]))
	}

	return fmt.Sprintf("%s(%s)", obj.Table().Name(), strings.Join(parts, ", "))
}
