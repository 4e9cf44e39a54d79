package introspect

import (
	"context"

	"github.com/graphtable/lattice/dialect"
	"github.com/graphtable/lattice/dialect/sql"
)

// mysql extracts metadata from information_schema. The schema argument is
// the database name.
type mysql struct {
	drv dialect.Driver
}

func (m *mysql) Tables(ctx context.Context, schema string) ([]string, error) {
	query := `
		SELECT TABLE_NAME
		FROM INFORMATION_SCHEMA.TABLES
		WHERE TABLE_SCHEMA = ? AND TABLE_TYPE = 'BASE TABLE'
		ORDER BY TABLE_NAME`
	var rows sql.Rows
	if err := m.drv.Query(ctx, query, []any{schema}, &rows); err != nil {
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

func (m *mysql) Table(ctx context.Context, schema, name string) (*TableSchema, error) {
	t := &TableSchema{Schema: schema, Name: name}
	if err := m.columns(ctx, t); err != nil {
		return nil, err
	}
	if err := m.uniqueSets(ctx, t); err != nil {
		return nil, err
	}
	if err := m.foreignKeys(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

func (m *mysql) columns(ctx context.Context, t *TableSchema) error {
	query := `
		SELECT COLUMN_NAME, DATA_TYPE, IS_NULLABLE, COLUMN_DEFAULT, CHARACTER_MAXIMUM_LENGTH
		FROM INFORMATION_SCHEMA.COLUMNS
		WHERE TABLE_SCHEMA = ? AND TABLE_NAME = ?
		ORDER BY ORDINAL_POSITION`
	var rows sql.Rows
	if err := m.drv.Query(ctx, query, []any{t.Schema, t.Name}, &rows); err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			col        Column
			dataType   string
			nullable   string
			defaultVal *string
			maxLength  *int
		)
		if err := rows.Scan(&col.Name, &dataType, &nullable, &defaultVal, &maxLength); err != nil {
			return err
		}
		col.Nullable = nullable == "YES"
		col.Default = defaultVal
		if maxLength != nil {
			col.Length = *maxLength
		}
		col.Type = mapMySQLType(dataType)
		t.Columns = append(t.Columns, col)
	}
	return rows.Err()
}

func (m *mysql) uniqueSets(ctx context.Context, t *TableSchema) error {
	// GROUP_CONCAT keeps one row per constraint so compound keys stay
	// together.
	query := `
		SELECT GROUP_CONCAT(kcu.COLUMN_NAME ORDER BY kcu.ORDINAL_POSITION SEPARATOR ',')
		FROM INFORMATION_SCHEMA.TABLE_CONSTRAINTS tc
		JOIN INFORMATION_SCHEMA.KEY_COLUMN_USAGE kcu
			ON tc.CONSTRAINT_NAME = kcu.CONSTRAINT_NAME
			AND tc.TABLE_SCHEMA = kcu.TABLE_SCHEMA
			AND tc.TABLE_NAME = kcu.TABLE_NAME
		WHERE tc.TABLE_SCHEMA = ? AND tc.TABLE_NAME = ?
			AND tc.CONSTRAINT_TYPE IN ('UNIQUE', 'PRIMARY KEY')
		GROUP BY tc.CONSTRAINT_NAME`
	var rows sql.Rows
	if err := m.drv.Query(ctx, query, []any{t.Schema, t.Name}, &rows); err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var joined string
		if err := rows.Scan(&joined); err != nil {
			return err
		}
		t.UniqueSets = append(t.UniqueSets, splitList(joined))
	}
	return rows.Err()
}

func (m *mysql) foreignKeys(ctx context.Context, t *TableSchema) error {
	query := `
		SELECT
			kcu.COLUMN_NAME,
			kcu.REFERENCED_TABLE_SCHEMA,
			kcu.REFERENCED_TABLE_NAME,
			kcu.REFERENCED_COLUMN_NAME,
			rc.UPDATE_RULE,
			rc.DELETE_RULE
		FROM INFORMATION_SCHEMA.KEY_COLUMN_USAGE kcu
		JOIN INFORMATION_SCHEMA.REFERENTIAL_CONSTRAINTS rc
			ON kcu.CONSTRAINT_NAME = rc.CONSTRAINT_NAME
			AND kcu.TABLE_SCHEMA = rc.CONSTRAINT_SCHEMA
		WHERE kcu.TABLE_SCHEMA = ? AND kcu.TABLE_NAME = ?
			AND kcu.REFERENCED_TABLE_NAME IS NOT NULL`
	var rows sql.Rows
	if err := m.drv.Query(ctx, query, []any{t.Schema, t.Name}, &rows); err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var fk ForeignKey
		if err := rows.Scan(&fk.Column, &fk.RefSchema, &fk.RefTable, &fk.RefColumn, &fk.OnUpdate, &fk.OnDelete); err != nil {
			return err
		}
		t.ForeignKeys = append(t.ForeignKeys, fk)
	}
	return rows.Err()
}

func mapMySQLType(dataType string) string {
	switch dataType {
	case "varchar", "char", "text", "mediumtext", "longtext", "tinytext":
		return "string"
	case "tinyint", "smallint", "mediumint", "int", "bigint":
		return "integer"
	case "float", "double", "decimal":
		return "number"
	case "datetime", "timestamp":
		return "timestamp"
	case "json":
		return "json"
	case "date":
		return "date"
	default:
		return dataType
	}
}
