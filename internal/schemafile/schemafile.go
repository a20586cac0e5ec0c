// Package schemafile loads database schemas from JSONC files.
//
// The file format mirrors the runtime schema one-to-one: a list of tables,
// each with columns, a primary key and an optional auto-key flag. Comments
// and trailing commas are allowed; files are standardized to plain JSON
// before parsing.
package schemafile

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/tailscale/hujson"

	"github.com/calvinalkan/objdb/pkg/objdb"
)

var (
	errSchemaFileRead = errors.New("cannot read schema file")
	errSchemaInvalid  = errors.New("invalid schema file")
)

// File is the on-disk schema document.
type File struct {
	Tables []TableDef `json:"tables"`
}

// TableDef declares one table.
type TableDef struct {
	Name       string      `json:"name"`
	Columns    []ColumnDef `json:"columns"`
	PrimaryKey []string    `json:"primary_key"` //nolint:tagliatelle // snake_case for config file
	AutoKey    bool        `json:"auto_key"`    //nolint:tagliatelle // snake_case for config file
}

// ColumnDef declares one column.
type ColumnDef struct {
	Name    string `json:"name"`
	Type    string `json:"type"`
	NotNull bool   `json:"not_null,omitempty"` //nolint:tagliatelle // snake_case for config file
	Default any    `json:"default,omitempty"`
}

// columnTypes maps file type names to runtime column types.
var columnTypes = map[string]objdb.ColumnType{
	"text": objdb.ColText,
	"int":  objdb.ColInt,
	"real": objdb.ColReal,
	"blob": objdb.ColBlob,
	"any":  objdb.ColAny,
}

// Load reads and parses the schema file at path.
func Load(path string) (*objdb.Schema, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path is intentionally user-controlled
	if err != nil {
		return nil, fmt.Errorf("%w: %s", errSchemaFileRead, path)
	}

	schema, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%w %s: %w", errSchemaInvalid, path, err)
	}

	return schema, nil
}

// Parse builds a validated schema from JSONC bytes.
func Parse(data []byte) (*objdb.Schema, error) {
	standardized, err := hujson.Standardize(data)
	if err != nil {
		return nil, fmt.Errorf("invalid JSONC: %w", err)
	}

	var file File

	decoder := json.NewDecoder(bytes.NewReader(standardized))
	decoder.DisallowUnknownFields()

	unmarshalErr := decoder.Decode(&file)
	if unmarshalErr != nil {
		return nil, fmt.Errorf("invalid JSON: %w", unmarshalErr)
	}

	if len(file.Tables) == 0 {
		return nil, errors.New("no tables declared")
	}

	tables := make([]*objdb.TableSchema, 0, len(file.Tables))

	for _, def := range file.Tables {
		ts, convErr := def.toSchema()
		if convErr != nil {
			return nil, convErr
		}

		tables = append(tables, ts)
	}

	schema, err := objdb.NewSchema(tables...)
	if err != nil {
		return nil, err
	}

	return schema, nil
}

func (d TableDef) toSchema() (*objdb.TableSchema, error) {
	cols := make([]objdb.Column, 0, len(d.Columns))

	for _, c := range d.Columns {
		typ, ok := columnTypes[c.Type]
		if !ok {
			return nil, fmt.Errorf("table %s: column %s: unknown type %q", d.Name, c.Name, c.Type)
		}

		cols = append(cols, objdb.Column{
			Name:    c.Name,
			Type:    typ,
			NotNull: c.NotNull,
			Default: normalizeDefault(typ, c.Default),
		})
	}

	return &objdb.TableSchema{
		Name:       d.Name,
		Columns:    cols,
		PrimaryKey: d.PrimaryKey,
		AutoKey:    d.AutoKey,
	}, nil
}

// normalizeDefault maps JSON number decoding onto the column's value
// kind: JSON numbers decode as float64, but defaults on integer columns
// must stay integral.
func normalizeDefault(typ objdb.ColumnType, v any) any {
	f, ok := v.(float64)
	if !ok {
		return v
	}

	if typ == objdb.ColInt && f == float64(int64(f)) {
		return int64(f)
	}

	return f
}
