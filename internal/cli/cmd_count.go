package cli

import (
	"context"
	"fmt"

	"github.com/calvinalkan/objdb/pkg/objdb"
)

func cmdCount() *Command {
	return &Command{
		Usage: "count <table> [col=value ...]",
		Short: "Count rows matching the constraints",
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

			n, err := table.Count(ctx, where)
			if err != nil {
				return err
			}

			o.Println(n)

			return nil
		},
	}
}

func cmdTables() *Command {
	return &Command{
		Usage: "tables",
		Short: "List declared tables with their row counts",
		Exec: func(ctx context.Context, o *IO, db *objdb.DB, _ []string) error {
			for _, table := range db.Tables() {
				n, err := table.Count(ctx, nil)
				if err != nil {
					return err
				}

				o.Printf("%-24s %d\n", table.Name(), n)
			}

			return nil
		},
	}
}
