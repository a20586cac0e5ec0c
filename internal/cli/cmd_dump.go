package cli

import (
	"context"
	"errors"

	"github.com/calvinalkan/objdb/internal/fixtures"
	"github.com/calvinalkan/objdb/pkg/objdb"
)

var errFileRequired = errors.New("fixture file required")

func cmdDump() *Command {
	return &Command{
		Usage: "dump <file>",
		Short: "Export every table to a fixture file",
		Long: `Export every table to a fixture file.

The format follows the file extension: .yaml/.yml or .json. YAML
round-trips every value kind including blobs; JSON renders blobs as
base64 text. The file is written atomically.`,
		Exec: func(ctx context.Context, o *IO, db *objdb.DB, args []string) error {
			if len(args) != 1 {
				return errFileRequired
			}

			err := fixtures.Save(ctx, db, args[0])
			if err != nil {
				return err
			}

			o.Println("dumped to", args[0])

			return nil
		},
	}
}

func cmdLoad() *Command {
	return &Command{
		Usage: "load <file>",
		Short: "Insert rows from a fixture file",
		Long: `Insert rows from a fixture file.

Rows are inserted as-is on top of whatever the database already holds;
load into a fresh database for an exact restore.`,
		Exec: func(ctx context.Context, o *IO, db *objdb.DB, args []string) error {
			if len(args) != 1 {
				return errFileRequired
			}

			err := fixtures.Load(ctx, db, args[0])
			if err != nil {
				return err
			}

			o.Println("loaded", args[0])

			return nil
		},
	}
}
