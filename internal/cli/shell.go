package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/peterh/liner"

	"github.com/calvinalkan/objdb/pkg/objdb"
)

func cmdShell() *Command {
	return &Command{
		Usage: "shell",
		Short: "Interactive query shell",
		Long: `Interactive query shell.

Commands:
  ls <table> [col=value ...]          List matching rows
  count <table> [col=value ...]       Count matching rows
  get <table> <id>                    Show one row by primary key
  add <table> col=value [...]         Insert a row
  set <table> <id> col=value [...]    Update a row inside a scope
  del <table> <id>                    Delete a row
  tables                              List tables with row counts
  help                                Show this help
  exit / quit / q                     Exit`,
		Exec: func(ctx context.Context, o *IO, db *objdb.DB, _ []string) error {
			r := &repl{db: db, io: o}

			return r.run(ctx)
		},
	}
}

// repl is the interactive command loop.
type repl struct {
	db    *objdb.DB
	io    *IO
	liner *liner.State
}

// historyFile returns the path to the history file.
func historyFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	return filepath.Join(home, ".objdb_history")
}

func (r *repl) run(ctx context.Context) error {
	r.liner = liner.NewLiner()
	defer r.liner.Close()

	r.liner.SetCtrlCAborts(true)
	r.liner.SetCompleter(r.completer)

	if f, err := os.Open(historyFile()); err == nil {
		_, _ = r.liner.ReadHistory(f)
		_ = f.Close()
	}

	r.io.Println("objdb shell. Type 'help' for available commands.")

	for {
		line, err := r.liner.Prompt("objdb> ")
		if err != nil {
			if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
				r.io.Println()

				break
			}

			return fmt.Errorf("reading input: %w", err)
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		r.liner.AppendHistory(line)

		parts := strings.Fields(line)
		cmd := strings.ToLower(parts[0])
		args := parts[1:]

		if cmd == "exit" || cmd == "quit" || cmd == "q" {
			break
		}

		cmdErr := r.dispatch(ctx, cmd, args)
		if cmdErr != nil {
			r.io.Errorln("error:", cmdErr)
		}
	}

	r.saveHistory()

	return nil
}

func (r *repl) dispatch(ctx context.Context, cmd string, args []string) error {
	switch cmd {
	case "help", "?":
		cmdShell().PrintHelp(r.io)

		return nil
	case "tables":
		return cmdTables().Exec(ctx, r.io, r.db, nil)
	case "ls", "list", "scan":
		return cmdLs().Exec(ctx, r.io, r.db, args)
	case "count":
		return cmdCount().Exec(ctx, r.io, r.db, args)
	case "get":
		return r.cmdGet(ctx, args)
	case "add":
		return r.cmdAdd(ctx, args)
	case "set":
		return r.cmdSet(ctx, args)
	case "del", "delete":
		return r.cmdDel(ctx, args)
	default:
		return fmt.Errorf("unknown command: %s (type 'help' for commands)", cmd)
	}
}

// table resolves a table argument.
func (r *repl) table(args []string) (*objdb.Table, []string, error) {
	if len(args) == 0 {
		return nil, nil, errTableRequired
	}

	t := r.db.Table(args[0])
	if t == nil {
		return nil, nil, fmt.Errorf("unknown table %s", args[0])
	}

	return t, args[1:], nil
}

// lookup fetches the object addressed by a positional id.
func (r *repl) lookup(ctx context.Context, t *objdb.Table, id string) (*objdb.Object, error) {
	return objdb.Lookup(ctx, t, parseValue(id))
}

func (r *repl) cmdGet(ctx context.Context, args []string) error {
	t, rest, err := r.table(args)
	if err != nil {
		return err
	}

	if len(rest) != 1 {
		return errors.New("usage: get <table> <id>")
	}

	obj, err := r.lookup(ctx, t, rest[0])
	if err != nil {
		return err
	}

	r.io.Println(formatObject(obj))

	return nil
}

func (r *repl) cmdAdd(ctx context.Context, args []string) error {
	t, rest, err := r.table(args)
	if err != nil {
		return err
	}

	overrides := make(map[string]any, len(rest))

	for _, arg := range rest {
		col, raw, ok := strings.Cut(arg, "=")
		if !ok {
			return fmt.Errorf("%w: %q (want col=value)", errBadConstraint, arg)
		}

		overrides[col] = parseValue(raw)
	}

	obj, err := t.New(overrides)
	if err != nil {
		return err
	}

	_, err = t.Add(ctx, obj)
	if err != nil {
		return err
	}

	r.io.Println(formatObject(obj))

	return nil
}

func (r *repl) cmdSet(ctx context.Context, args []string) error {
	t, rest, err := r.table(args)
	if err != nil {
		return err
	}

	if len(rest) < 2 {
		return errors.New("usage: set <table> <id> col=value [...]")
	}

	obj, err := r.lookup(ctx, t, rest[0])
	if err != nil {
		return err
	}

	err = obj.Update(ctx, func(s *objdb.Scope) error {
		for _, arg := range rest[1:] {
			col, raw, ok := strings.Cut(arg, "=")
			if !ok {
				return fmt.Errorf("%w: %q (want col=value)", errBadConstraint, arg)
			}

			setErr := s.Set(col, parseValue(raw))
			if setErr != nil {
				return setErr
			}
		}

		return nil
	})
	if err != nil {
		return err
	}

	r.io.Println(formatObject(obj))

	return nil
}

func (r *repl) cmdDel(ctx context.Context, args []string) error {
	t, rest, err := r.table(args)
	if err != nil {
		return err
	}

	if len(rest) != 1 {
		return errors.New("usage: del <table> <id>")
	}

	obj, err := r.lookup(ctx, t, rest[0])
	if err != nil {
		return err
	}

	err = t.Delete(ctx, obj)
	if err != nil {
		return err
	}

	r.io.Println("deleted")

	return nil
}

// saveHistory persists command history to disk.
func (r *repl) saveHistory() {
	if path := historyFile(); path != "" {
		if f, err := os.Create(path); err == nil {
			_, _ = r.liner.WriteHistory(f)
			_ = f.Close()
		}
	}
}

// completer provides tab completion for commands and table names.
func (r *repl) completer(line string) []string {
	words := []string{"ls", "count", "get", "add", "set", "del", "tables", "help", "exit", "quit"}

	for _, t := range r.db.Tables() {
		words = append(words, t.Name())
	}

	last := line
	prefix := ""

	if idx := strings.LastIndex(line, " "); idx >= 0 {
		prefix = line[:idx+1]
		last = line[idx+1:]
	}

	var out []string

	for _, w := range words {
		if strings.HasPrefix(w, strings.ToLower(last)) {
			out = append(out, prefix+w)
		}
	}

	return out
}
