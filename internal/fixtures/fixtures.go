// Package fixtures saves and restores whole-database snapshots.
//
// A snapshot is the bulk dump of every table, serialized as YAML or JSON
// depending on the file extension. Blob values are written as tagged
// "base64:" strings in both formats so binary round-trips exactly; the
// tag is stripped and decoded on load. Writes go through an atomic
// rename so a crashed export never leaves a truncated fixture behind.
package fixtures

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/natefinch/atomic"
	"gopkg.in/yaml.v3"

	"github.com/calvinalkan/objdb/pkg/objdb"
)

// binaryPrefix tags blob values rendered as base64 strings.
const binaryPrefix = "base64:"

var errUnknownFormat = errors.New("unknown fixture format")

// format picks the codec from the file extension.
func format(path string) (string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return "yaml", nil
	case ".json":
		return "json", nil
	default:
		return "", fmt.Errorf("%w: %s (want .yaml, .yml or .json)", errUnknownFormat, path)
	}
}

// Save dumps every table through the manager and writes the snapshot to
// path atomically.
func Save(ctx context.Context, db *objdb.DB, path string) error {
	dump, err := db.DumpAll(ctx)
	if err != nil {
		return fmt.Errorf("save fixture: %w", err)
	}

	data, err := Marshal(dump, path)
	if err != nil {
		return fmt.Errorf("save fixture: %w", err)
	}

	writeErr := atomic.WriteFile(path, bytes.NewReader(data))
	if writeErr != nil {
		return fmt.Errorf("save fixture: %w", writeErr)
	}

	return nil
}

// Load reads a snapshot file and inserts its rows through the manager's
// backend. The target database should be empty; rows are not merged.
func Load(ctx context.Context, db *objdb.DB, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // path is intentionally user-controlled
	if err != nil {
		return fmt.Errorf("load fixture: %w", err)
	}

	dump, err := Unmarshal(data, path)
	if err != nil {
		return fmt.Errorf("load fixture %s: %w", path, err)
	}

	err = db.LoadAll(ctx, dump)
	if err != nil {
		return fmt.Errorf("load fixture %s: %w", path, err)
	}

	return nil
}

// Marshal serializes a dump in the format implied by path's extension.
// Blob values become tagged base64 strings.
func Marshal(dump *objdb.Dump, path string) ([]byte, error) {
	f, err := format(path)
	if err != nil {
		return nil, err
	}

	encoded := encodeBinary(dump)

	if f == "json" {
		data, jsonErr := json.MarshalIndent(encoded, "", "  ")
		if jsonErr != nil {
			return nil, fmt.Errorf("encode json: %w", jsonErr)
		}

		return append(data, '\n'), nil
	}

	data, yamlErr := yaml.Marshal(encoded)
	if yamlErr != nil {
		return nil, fmt.Errorf("encode yaml: %w", yamlErr)
	}

	return data, nil
}

// encodeBinary copies the dump, replacing []byte values with tagged
// base64 strings so both codecs treat them as plain text.
func encodeBinary(dump *objdb.Dump) *objdb.Dump {
	out := &objdb.Dump{Tables: make([]objdb.TableRows, 0, len(dump.Tables))}

	for _, tr := range dump.Tables {
		rows := make([]map[string]any, 0, len(tr.Rows))

		for _, row := range tr.Rows {
			enc := make(map[string]any, len(row))

			for col, v := range row {
				if b, ok := v.([]byte); ok {
					enc[col] = binaryPrefix + base64.StdEncoding.EncodeToString(b)
				} else {
					enc[col] = v
				}
			}

			rows = append(rows, enc)
		}

		out.Tables = append(out.Tables, objdb.TableRows{Name: tr.Name, Rows: rows})
	}

	return out
}

// Unmarshal parses snapshot bytes in the format implied by path's
// extension. Numeric attribute values normalize to int64 and float64.
func Unmarshal(data []byte, path string) (*objdb.Dump, error) {
	f, err := format(path)
	if err != nil {
		return nil, err
	}

	var dump objdb.Dump

	if f == "json" {
		jsonErr := json.Unmarshal(data, &dump)
		if jsonErr != nil {
			return nil, fmt.Errorf("decode json: %w", jsonErr)
		}
	} else {
		yamlErr := yaml.Unmarshal(data, &dump)
		if yamlErr != nil {
			return nil, fmt.Errorf("decode yaml: %w", yamlErr)
		}
	}

	for _, tr := range dump.Tables {
		for _, row := range tr.Rows {
			normErr := normalizeRow(row)
			if normErr != nil {
				return nil, fmt.Errorf("table %s: %w", tr.Name, normErr)
			}
		}
	}

	return &dump, nil
}

// normalizeRow maps decoder-specific value kinds onto the package's
// canonical ones: JSON gives float64 for everything, YAML gives int for
// integers, and tagged base64 strings decode back to blobs.
func normalizeRow(row map[string]any) error {
	for col, v := range row {
		switch x := v.(type) {
		case int:
			row[col] = int64(x)
		case float64:
			if x == float64(int64(x)) {
				row[col] = int64(x)
			}
		case string:
			if strings.HasPrefix(x, binaryPrefix) {
				b, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(x, binaryPrefix))
				if err != nil {
					return fmt.Errorf("column %s: decode base64: %w", col, err)
				}

				row[col] = b
			}
		}
	}

	return nil
}
