package objdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	_ "github.com/mattn/go-sqlite3" // sqlite3 driver
)

// sqliteBusyTimeout is the time SQLite waits when the database is locked.
// After this, operations return SQLITE_BUSY.
const sqliteBusyTimeout = 10000 // milliseconds

// SQLiteBackend implements [Backend] on a SQLite database via database/sql.
//
// The schema is needed to map fetched values back onto exact Go kinds:
// the driver hands TEXT columns back as []byte, and per-value-typed "any"
// columns need typeof() probing to distinguish text from blob storage.
// database/sql's pooling makes the backend safe for concurrent use.
type SQLiteBackend struct {
	db     *sql.DB
	schema *Schema

	mu     sync.Mutex
	closed bool
}

var _ Backend = (*SQLiteBackend)(nil)
var _ RowCounter = (*SQLiteBackend)(nil)

// OpenSQLite opens (creating if needed) a SQLite database at path and
// applies the standard pragmas. Use ":memory:" for an in-memory database.
func OpenSQLite(ctx context.Context, path string, schema *Schema) (*SQLiteBackend, error) {
	if ctx == nil {
		return nil, errors.New("open sqlite: context is nil")
	}

	if path == "" {
		return nil, errors.New("open sqlite: path is empty")
	}

	if schema == nil {
		return nil, errors.New("open sqlite: schema is nil")
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	err = db.PingContext(ctx)
	if err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	_, err = db.ExecContext(ctx, fmt.Sprintf(`
		PRAGMA busy_timeout = %d;
		PRAGMA journal_mode = WAL;
		PRAGMA synchronous = FULL;
		PRAGMA foreign_keys = ON;
	`, sqliteBusyTimeout))
	if err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("apply pragmas: %w", err)
	}

	return &SQLiteBackend{db: db, schema: schema}, nil
}

// Close releases the database handle. Further operations fail with
// [ErrClosed]. Closing twice is a no-op.
func (b *SQLiteBackend) Close() error {
	if b == nil || b.db == nil {
		return nil
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()

		return nil
	}

	b.closed = true
	b.mu.Unlock()

	err := b.db.Close()
	if err != nil {
		return fmt.Errorf("close sqlite: %w", err)
	}

	return nil
}

// checkOpen guards operations against use after Close.
func (b *SQLiteBackend) checkOpen() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrClosed
	}

	return nil
}

// DB exposes the underlying handle for callers that need raw SQL access.
func (b *SQLiteBackend) DB() *sql.DB { return b.db }

// CreateTables issues CREATE TABLE IF NOT EXISTS for every table in the
// schema. It is a bootstrap convenience; versioned migration sequencing
// lives outside this package.
func (b *SQLiteBackend) CreateTables(ctx context.Context) error {
	for _, ts := range b.schema.Tables {
		ddl, err := tableDDL(ts)
		if err != nil {
			return fmt.Errorf("create tables: %w", err)
		}

		_, err = b.db.ExecContext(ctx, ddl)
		if err != nil {
			return fmt.Errorf("create tables: %s: %w", ts.Name, err)
		}
	}

	return nil
}

func tableDDL(ts *TableSchema) (string, error) {
	var cols []string

	for _, col := range ts.Columns {
		ident, err := quoteIdent(col.Name)
		if err != nil {
			return "", err
		}

		def := ident
		if typ := col.Type.String(); typ != "" {
			def += " " + typ
		}

		if ts.AutoKey && col.Name == ts.PrimaryKey[0] {
			def += " PRIMARY KEY"
		} else if col.NotNull {
			def += " NOT NULL"
		}

		cols = append(cols, def)
	}

	if !ts.AutoKey {
		var pks []string

		for _, pk := range ts.PrimaryKey {
			ident, err := quoteIdent(pk)
			if err != nil {
				return "", err
			}

			pks = append(pks, ident)
		}

		cols = append(cols, "PRIMARY KEY ("+strings.Join(pks, ", ")+")")
	}

	name, err := quoteIdent(ts.Name)
	if err != nil {
		return "", err
	}

	return "CREATE TABLE IF NOT EXISTS " + name + " (" + strings.Join(cols, ", ") + ")", nil
}

// SelectRows streams matching rows. For "any" columns the query also
// fetches typeof(col) so text and blob values decode to distinct kinds.
func (b *SQLiteBackend) SelectRows(ctx context.Context, table string, where Where) (Rows, error) {
	if err := b.checkOpen(); err != nil {
		return nil, fmt.Errorf("select rows: %w", err)
	}

	ts := b.schema.Table(table)
	if ts == nil {
		return nil, fmt.Errorf("select rows: unknown table %s", table)
	}

	tableIdent, err := quoteIdent(table)
	if err != nil {
		return nil, fmt.Errorf("select rows: %w", err)
	}

	selectList, anyCols, err := selectColumns(ts)
	if err != nil {
		return nil, fmt.Errorf("select rows: %w", err)
	}

	query := "SELECT " + selectList + " FROM " + tableIdent

	clause, args, err := whereClause(where)
	if err != nil {
		return nil, fmt.Errorf("select rows: %w", err)
	}

	query += clause

	rows, err := b.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select rows: %w", err)
	}

	return &sqliteRows{rows: rows, schema: ts, anyCols: anyCols}, nil
}

// CountRows counts matching rows backend-side.
func (b *SQLiteBackend) CountRows(ctx context.Context, table string, where Where) (int64, error) {
	if err := b.checkOpen(); err != nil {
		return 0, fmt.Errorf("count rows: %w", err)
	}

	tableIdent, err := quoteIdent(table)
	if err != nil {
		return 0, fmt.Errorf("count rows: %w", err)
	}

	clause, args, err := whereClause(where)
	if err != nil {
		return 0, fmt.Errorf("count rows: %w", err)
	}

	var n int64

	err = b.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+tableIdent+clause, args...).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count rows: %w", err)
	}

	return n, nil
}

// InsertRow inserts one row, reporting the rowid for auto-key tables when
// the key attribute was nil.
func (b *SQLiteBackend) InsertRow(ctx context.Context, table string, attrs map[string]any) (int64, bool, error) {
	if err := b.checkOpen(); err != nil {
		return 0, false, fmt.Errorf("insert row: %w", err)
	}

	ts := b.schema.Table(table)
	if ts == nil {
		return 0, false, fmt.Errorf("insert row: unknown table %s", table)
	}

	tableIdent, err := quoteIdent(table)
	if err != nil {
		return 0, false, fmt.Errorf("insert row: %w", err)
	}

	cols := sortedColumns(attrs)

	var (
		idents       []string
		placeholders []string
		args         []any
		needsKey     bool
	)

	for _, col := range cols {
		v := coerceValue(ts, col, attrs[col])
		if v == nil {
			if ts.AutoKey && col == ts.PrimaryKey[0] {
				needsKey = true
			}

			continue
		}

		ident, identErr := quoteIdent(col)
		if identErr != nil {
			return 0, false, fmt.Errorf("insert row: %w", identErr)
		}

		idents = append(idents, ident)
		placeholders = append(placeholders, "?")
		args = append(args, v)
	}

	if ts.AutoKey && !containsString(cols, ts.PrimaryKey[0]) {
		needsKey = true
	}

	query := "INSERT INTO " + tableIdent + " (" + strings.Join(idents, ", ") +
		") VALUES (" + strings.Join(placeholders, ", ") + ")"

	if len(idents) == 0 {
		query = "INSERT INTO " + tableIdent + " DEFAULT VALUES"
	}

	res, err := b.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, false, fmt.Errorf("insert row: %w", err)
	}

	if needsKey {
		id, idErr := res.LastInsertId()
		if idErr != nil {
			return 0, false, fmt.Errorf("insert row: last insert id: %w", idErr)
		}

		return id, true, nil
	}

	return 0, false, nil
}

// UpdateRow updates matching rows with the given attributes.
func (b *SQLiteBackend) UpdateRow(ctx context.Context, table string, where Where, attrs map[string]any) (int64, error) {
	if err := b.checkOpen(); err != nil {
		return 0, fmt.Errorf("update row: %w", err)
	}

	ts := b.schema.Table(table)
	if ts == nil {
		return 0, fmt.Errorf("update row: unknown table %s", table)
	}

	tableIdent, err := quoteIdent(table)
	if err != nil {
		return 0, fmt.Errorf("update row: %w", err)
	}

	var (
		sets []string
		args []any
	)

	for _, col := range sortedColumns(attrs) {
		ident, identErr := quoteIdent(col)
		if identErr != nil {
			return 0, fmt.Errorf("update row: %w", identErr)
		}

		sets = append(sets, ident+" = ?")
		args = append(args, coerceValue(ts, col, attrs[col]))
	}

	if len(sets) == 0 {
		return 0, nil
	}

	clause, whereArgs, err := whereClause(where)
	if err != nil {
		return 0, fmt.Errorf("update row: %w", err)
	}

	args = append(args, whereArgs...)

	res, err := b.db.ExecContext(ctx, "UPDATE "+tableIdent+" SET "+strings.Join(sets, ", ")+clause, args...)
	if err != nil {
		return 0, fmt.Errorf("update row: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("update row: rows affected: %w", err)
	}

	return affected, nil
}

// DeleteRow deletes matching rows.
func (b *SQLiteBackend) DeleteRow(ctx context.Context, table string, where Where) (int64, error) {
	if err := b.checkOpen(); err != nil {
		return 0, fmt.Errorf("delete row: %w", err)
	}

	tableIdent, err := quoteIdent(table)
	if err != nil {
		return 0, fmt.Errorf("delete row: %w", err)
	}

	clause, args, err := whereClause(where)
	if err != nil {
		return 0, fmt.Errorf("delete row: %w", err)
	}

	res, err := b.db.ExecContext(ctx, "DELETE FROM "+tableIdent+clause, args...)
	if err != nil {
		return 0, fmt.Errorf("delete row: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete row: rows affected: %w", err)
	}

	return affected, nil
}

// selectColumns builds the select list: every schema column, plus a
// typeof() probe per "any" column so the row decoder can tell text from
// blob storage.
func selectColumns(ts *TableSchema) (string, []string, error) {
	var (
		list    []string
		anyCols []string
	)

	for _, col := range ts.Columns {
		ident, err := quoteIdent(col.Name)
		if err != nil {
			return "", nil, err
		}

		list = append(list, ident)

		if col.Type == ColAny {
			anyCols = append(anyCols, col.Name)
			list = append(list, "typeof("+ident+")")
		}
	}

	return strings.Join(list, ", "), anyCols, nil
}

// whereClause renders a Where into " WHERE ..." plus bind args.
// Columns are sorted so generated SQL is deterministic.
func whereClause(where Where) (string, []any, error) {
	if len(where) == 0 {
		return "", nil, nil
	}

	var (
		conds []string
		args  []any
	)

	for _, col := range sortedColumns(where) {
		ident, err := quoteIdent(col)
		if err != nil {
			return "", nil, err
		}

		cond, ok := where[col].(Cond)
		if !ok {
			cond = Cond{Op: OpEq, Value: where[col]}
		}

		if cond.Value == nil {
			switch cond.Op {
			case OpEq:
				conds = append(conds, ident+" IS NULL")
			case OpNe:
				conds = append(conds, ident+" IS NOT NULL")
			default:
				return "", nil, fmt.Errorf("operator %s does not accept nil", cond.Op)
			}

			continue
		}

		switch cond.Op {
		case OpEq, OpNe, OpGt, OpGe, OpLt, OpLe, OpLike:
			conds = append(conds, ident+" "+string(cond.Op)+" ?")
			args = append(args, normalizeValue(cond.Value))
		default:
			return "", nil, fmt.Errorf("unsupported operator %q", cond.Op)
		}
	}

	return " WHERE " + strings.Join(conds, " AND "), args, nil
}

// quoteIdent validates and double-quotes a SQL identifier.
func quoteIdent(name string) (string, error) {
	if name == "" {
		return "", errors.New("empty identifier")
	}

	for i, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r == '_':
		case r >= '0' && r <= '9':
			if i == 0 {
				return "", fmt.Errorf("invalid identifier %q", name)
			}
		default:
			return "", fmt.Errorf("invalid identifier %q", name)
		}
	}

	return `"` + name + `"`, nil
}

func sortedColumns[V any](m map[string]V) []string {
	cols := make([]string, 0, len(m))

	for col := range m {
		cols = append(cols, col)
	}

	sort.Strings(cols)

	return cols
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}

	return false
}

// sqliteRows decodes driver values back onto exact attribute kinds.
type sqliteRows struct {
	rows    *sql.Rows
	schema  *TableSchema
	anyCols []string
	current map[string]any
	err     error
}

func (r *sqliteRows) Next() bool {
	if r.err != nil {
		return false
	}

	if !r.rows.Next() {
		return false
	}

	nCols := len(r.schema.Columns) + len(r.anyCols)
	raw := make([]any, nCols)
	ptrs := make([]any, nCols)

	for i := range raw {
		ptrs[i] = &raw[i]
	}

	err := r.rows.Scan(ptrs...)
	if err != nil {
		r.err = fmt.Errorf("scan row: %w", err)

		return false
	}

	row := make(map[string]any, len(r.schema.Columns))
	idx := 0

	for _, col := range r.schema.Columns {
		v := raw[idx]
		idx++

		if col.Type == ColAny {
			storage, _ := raw[idx].(string)
			idx++
			row[col.Name] = decodeAny(v, storage)

			continue
		}

		row[col.Name] = decodeTyped(v, col.Type)
	}

	r.current = row

	return true
}

func (r *sqliteRows) Row() map[string]any { return r.current }

func (r *sqliteRows) Err() error {
	if r.err != nil {
		return r.err
	}

	return r.rows.Err()
}

func (r *sqliteRows) Close() error { return r.rows.Close() }

// decodeTyped maps a driver value onto the column's storage class. The
// sqlite3 driver returns TEXT as []byte; declared types recover the kind.
func decodeTyped(v any, typ ColumnType) any {
	if v == nil {
		return nil
	}

	switch typ {
	case ColText:
		if b, ok := v.([]byte); ok {
			return string(b)
		}
	case ColBlob:
		if s, ok := v.(string); ok {
			return []byte(s)
		}
	case ColInt:
		if f, ok := v.(float64); ok {
			return int64(f)
		}
	case ColReal:
		if i, ok := v.(int64); ok {
			return float64(i)
		}
	}

	return v
}

// decodeAny uses the typeof() probe to recover the stored kind for
// dynamically-typed columns.
func decodeAny(v any, storage string) any {
	if v == nil {
		return nil
	}

	if b, ok := v.([]byte); ok && storage == "text" {
		return string(b)
	}

	return v
}
