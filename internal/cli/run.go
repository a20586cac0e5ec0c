// Package cli implements the objdb command line tool.
//
// The tool operates on a SQLite database described by a JSONC schema
// file: inspect tables, run constrained queries, move fixture snapshots
// in and out, and poke at rows interactively.
package cli

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/lmittmann/tint"
	flag "github.com/spf13/pflag"

	"github.com/calvinalkan/objdb/internal/schemafile"
	"github.com/calvinalkan/objdb/pkg/objdb"
)

// globalFlags are options every command accepts before its own.
type globalFlags struct {
	schemaPath string
	dbPath     string
	verbose    bool
}

// Run is the main entry point. Returns exit code.
func Run(ctx context.Context, _ io.Reader, out, errOut io.Writer, args []string) int {
	if ctx == nil {
		ctx = context.Background()
	}

	o := NewIO(out, errOut)

	global := flag.NewFlagSet("objdb", flag.ContinueOnError)
	global.SetOutput(errOut)
	global.SetInterspersed(false)

	var flags globalFlags

	global.StringVarP(&flags.schemaPath, "schema", "s", "schema.jsonc", "path to the JSONC schema file")
	global.StringVarP(&flags.dbPath, "db", "d", "objdb.sqlite", "path to the SQLite database file")
	global.BoolVarP(&flags.verbose, "verbose", "v", false, "log every hydration and commit")

	err := global.Parse(args[1:])
	if err != nil {
		if err == flag.ErrHelp {
			printUsage(o)

			return 0
		}

		o.Errorln("error:", err)

		return 1
	}

	rest := global.Args()
	if len(rest) == 0 {
		printUsage(o)

		return 0
	}

	cmd := findCommand(rest[0])
	if cmd == nil {
		o.Errorln("error: unknown command:", rest[0])
		printUsage(o)

		return 1
	}

	cmdArgs := rest[1:]

	if cmd.Flags != nil {
		cmd.Flags.SetOutput(errOut)

		parseErr := cmd.Flags.Parse(cmdArgs)
		if parseErr != nil {
			if parseErr == flag.ErrHelp {
				cmd.PrintHelp(o)

				return 0
			}

			o.Errorln("error:", parseErr)

			return 1
		}

		cmdArgs = cmd.Flags.Args()
	}

	db, backend, err := openDatabase(ctx, flags, errOut)
	if err != nil {
		o.Errorln("error:", err)

		return 1
	}

	defer func() { _ = backend.Close() }()

	runErr := cmd.Exec(ctx, o, db, cmdArgs)
	if runErr != nil {
		o.Errorln("error:", runErr)

		return 1
	}

	return 0
}

// openDatabase loads the schema, opens the SQLite file, creates missing
// tables and builds the manager.
func openDatabase(ctx context.Context, flags globalFlags, errOut io.Writer) (*objdb.DB, *objdb.SQLiteBackend, error) {
	schema, err := schemafile.Load(flags.schemaPath)
	if err != nil {
		return nil, nil, err
	}

	backend, err := objdb.OpenSQLite(ctx, flags.dbPath, schema)
	if err != nil {
		return nil, nil, err
	}

	err = backend.CreateTables(ctx)
	if err != nil {
		_ = backend.Close()

		return nil, nil, err
	}

	opts := []objdb.Option{}

	if flags.verbose {
		logger := slog.New(tint.NewHandler(errOut, &tint.Options{
			Level:      slog.LevelDebug,
			TimeFormat: time.TimeOnly,
		}))
		opts = append(opts, objdb.WithLogger(logger))
	}

	db, err := objdb.Open(ctx, backend, schema, opts...)
	if err != nil {
		_ = backend.Close()

		return nil, nil, err
	}

	return db, backend, nil
}

// commands in help order. The shell command is registered in shell.go.
func commands() []*Command {
	return []*Command{
		cmdLs(),
		cmdCount(),
		cmdDump(),
		cmdLoad(),
		cmdTables(),
		cmdShell(),
	}
}

func findCommand(name string) *Command {
	for _, c := range commands() {
		if c.Name() == name {
			return c
		}
	}

	return nil
}

func printUsage(o *IO) {
	o.Println("Usage: objdb [flags] <command> [args]")
	o.Println()
	o.Println("Commands:")

	for _, c := range commands() {
		o.Println(c.HelpLine())
	}

	o.Println()
	o.Println("Global flags:")
	o.Println("  -s, --schema <file>   path to the JSONC schema file (default schema.jsonc)")
	o.Println("  -d, --db <file>       path to the SQLite database file (default objdb.sqlite)")
	o.Println("  -v, --verbose         log every hydration and commit")
}
