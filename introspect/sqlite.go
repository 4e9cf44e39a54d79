package introspect

import (
	"context"
	"fmt"
	"strings"

	"github.com/graphtable/lattice/dialect"
	"github.com/graphtable/lattice/dialect/sql"
)

// sqlite extracts metadata through pragma functions. SQLite has a single
// unnamed namespace; the schema argument is recorded on the result but
// ignored for lookups, matching how "main" behaves.
type sqlite struct {
	drv dialect.Driver
}

func (s *sqlite) Tables(ctx context.Context, _ string) ([]string, error) {
	query := `
		SELECT name FROM sqlite_master
		WHERE type = 'table' AND name NOT LIKE 'sqlite_%'
		ORDER BY name`
	var rows sql.Rows
	if err := s.drv.Query(ctx, query, []any{}, &rows); err != nil {
		return nil, err
	}
	defer rows.Close()
	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		tables = append(tables, name)
	}
	return tables, rows.Err()
}

func (s *sqlite) Table(ctx context.Context, schema, name string) (*TableSchema, error) {
	if !sql.ValidIdentifier(name) {
		return nil, fmt.Errorf("introspect: invalid table name %q", name)
	}
	t := &TableSchema{Schema: schema, Name: name}
	if err := s.columns(ctx, t); err != nil {
		return nil, err
	}
	if err := s.uniqueSets(ctx, t); err != nil {
		return nil, err
	}
	if err := s.foreignKeys(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

func (s *sqlite) columns(ctx context.Context, t *TableSchema) error {
	// pragma functions cannot take bound parameters.
	query := fmt.Sprintf("SELECT name, type, `notnull`, dflt_value, pk FROM pragma_table_info('%s')", t.Name)
	var rows sql.Rows
	if err := s.drv.Query(ctx, query, []any{}, &rows); err != nil {
		return err
	}
	defer rows.Close()
	var pk []string
	for rows.Next() {
		var (
			col        Column
			declared   string
			notNull    int
			defaultVal *string
			pkPos      int
		)
		if err := rows.Scan(&col.Name, &declared, &notNull, &defaultVal, &pkPos); err != nil {
			return err
		}
		col.Nullable = notNull == 0 && pkPos == 0
		col.Default = defaultVal
		col.Type, col.Length = mapSQLiteType(declared)
		t.Columns = append(t.Columns, col)
		if pkPos > 0 {
			pk = append(pk, col.Name)
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}
	if len(pk) > 0 {
		t.UniqueSets = append(t.UniqueSets, pk)
	}
	return nil
}

func (s *sqlite) uniqueSets(ctx context.Context, t *TableSchema) error {
	query := fmt.Sprintf("SELECT name FROM pragma_index_list('%s') WHERE `unique` = 1", t.Name)
	var rows sql.Rows
	if err := s.drv.Query(ctx, query, []any{}, &rows); err != nil {
		return err
	}
	var indexes []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			rows.Close()
			return err
		}
		indexes = append(indexes, name)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	rows.Close()
	for _, index := range indexes {
		var cols []string
		q := fmt.Sprintf("SELECT name FROM pragma_index_info('%s') ORDER BY seqno", index)
		var irows sql.Rows
		if err := s.drv.Query(ctx, q, []any{}, &irows); err != nil {
			return err
		}
		for irows.Next() {
			var c string
			if err := irows.Scan(&c); err != nil {
				irows.Close()
				return err
			}
			cols = append(cols, c)
		}
		if err := irows.Err(); err != nil {
			irows.Close()
			return err
		}
		irows.Close()
		if len(cols) > 0 {
			t.UniqueSets = append(t.UniqueSets, cols)
		}
	}
	return nil
}

func (s *sqlite) foreignKeys(ctx context.Context, t *TableSchema) error {
	query := fmt.Sprintf("SELECT `from`, `table`, `to`, on_update, on_delete FROM pragma_foreign_key_list('%s')", t.Name)
	var rows sql.Rows
	if err := s.drv.Query(ctx, query, []any{}, &rows); err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var fk ForeignKey
		var to *string
		if err := rows.Scan(&fk.Column, &fk.RefTable, &to, &fk.OnUpdate, &fk.OnDelete); err != nil {
			return err
		}
		fk.RefSchema = t.Schema
		// A NULL "to" means the referenced table's primary key.
		if to != nil {
			fk.RefColumn = *to
		} else {
			fk.RefColumn = "id"
		}
		t.ForeignKeys = append(t.ForeignKeys, fk)
	}
	return rows.Err()
}

// mapSQLiteType applies the affinity rules to a declared column type.
func mapSQLiteType(declared string) (string, int) {
	d := strings.ToUpper(declared)
	length := 0
	if i := strings.Index(d, "("); i >= 0 {
		fmt.Sscanf(d[i:], "(%d)", &length)
		d = d[:i]
	}
	switch {
	case strings.Contains(d, "INT"):
		return "integer", 0
	case strings.Contains(d, "CHAR"), strings.Contains(d, "CLOB"), strings.Contains(d, "TEXT"):
		return "string", length
	case strings.Contains(d, "REAL"), strings.Contains(d, "FLOA"), strings.Contains(d, "DOUB"), strings.Contains(d, "NUMERIC"), strings.Contains(d, "DECIMAL"):
		return "number", 0
	case strings.Contains(d, "BOOL"):
		return "boolean", 0
	case strings.Contains(d, "DATETIME"), strings.Contains(d, "TIMESTAMP"):
		return "timestamp", 0
	case strings.Contains(d, "DATE"):
		return "date", 0
	case strings.Contains(d, "JSON"):
		return "json", 0
	default:
		return "string", length
	}
}

// splitList splits a comma-joined column list.
func splitList(s string) []string {
	parts := strings.Split(s, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}
