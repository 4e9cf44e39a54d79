package introspect

import (
	"context"
	"strings"

	"github.com/lib/pq"

	"github.com/graphtable/lattice/dialect"
	"github.com/graphtable/lattice/dialect/sql"
)

// postgres extracts metadata from information_schema.
type postgres struct {
	drv dialect.Driver
}

func (p *postgres) Tables(ctx context.Context, schema string) ([]string, error) {
	query := `
		SELECT table_name
		FROM information_schema.tables
		WHERE table_schema = $1 AND table_type = 'BASE TABLE'
		ORDER BY table_name`
	var rows sql.Rows
	if err := p.drv.Query(ctx, query, []any{schema}, &rows); err != nil {
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

func (p *postgres) Table(ctx context.Context, schema, name string) (*TableSchema, error) {
	t := &TableSchema{Schema: schema, Name: name}
	if err := p.columns(ctx, t); err != nil {
		return nil, err
	}
	if err := p.uniqueSets(ctx, t); err != nil {
		return nil, err
	}
	if err := p.foreignKeys(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

func (p *postgres) columns(ctx context.Context, t *TableSchema) error {
	query := `
		SELECT
			c.column_name,
			c.data_type,
			c.udt_name,
			c.is_nullable,
			c.column_default,
			c.character_maximum_length
		FROM information_schema.columns c
		WHERE c.table_schema = $1 AND c.table_name = $2
		ORDER BY c.ordinal_position`
	var rows sql.Rows
	if err := p.drv.Query(ctx, query, []any{t.Schema, t.Name}, &rows); err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			col        Column
			dataType   string
			udtName    string
			nullable   string
			defaultVal *string
			maxLength  *int
		)
		if err := rows.Scan(&col.Name, &dataType, &udtName, &nullable, &defaultVal, &maxLength); err != nil {
			return err
		}
		col.Nullable = nullable == "YES"
		col.Default = defaultVal
		if maxLength != nil {
			col.Length = *maxLength
		}
		col.Type, col.Array = normalizePostgresType(dataType, udtName)
		t.Columns = append(t.Columns, col)
	}
	return rows.Err()
}

// uniqueSets groups unique and primary-key constraints into column sets.
// Compound constraints come back as one set, which is what compound
// uniqueness validation needs.
func (p *postgres) uniqueSets(ctx context.Context, t *TableSchema) error {
	query := `
		SELECT array_agg(kcu.column_name ORDER BY kcu.ordinal_position)
		FROM information_schema.table_constraints tc
		JOIN information_schema.key_column_usage kcu
			ON tc.constraint_name = kcu.constraint_name
			AND tc.table_schema = kcu.table_schema
		WHERE tc.table_schema = $1
			AND tc.table_name = $2
			AND tc.constraint_type IN ('UNIQUE', 'PRIMARY KEY')
		GROUP BY tc.constraint_name`
	var rows sql.Rows
	if err := p.drv.Query(ctx, query, []any{t.Schema, t.Name}, &rows); err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var cols pq.StringArray
		if err := rows.Scan(&cols); err != nil {
			return err
		}
		t.UniqueSets = append(t.UniqueSets, []string(cols))
	}
	return rows.Err()
}

func (p *postgres) foreignKeys(ctx context.Context, t *TableSchema) error {
	query := `
		SELECT
			kcu.column_name,
			ccu.table_schema,
			ccu.table_name,
			ccu.column_name,
			rc.update_rule,
			rc.delete_rule
		FROM information_schema.table_constraints tc
		JOIN information_schema.key_column_usage kcu
			ON tc.constraint_name = kcu.constraint_name
			AND tc.table_schema = kcu.table_schema
		JOIN information_schema.constraint_column_usage ccu
			ON tc.constraint_name = ccu.constraint_name
			AND tc.table_schema = ccu.table_schema
		JOIN information_schema.referential_constraints rc
			ON tc.constraint_name = rc.constraint_name
			AND tc.table_schema = rc.constraint_schema
		WHERE tc.table_schema = $1
			AND tc.table_name = $2
			AND tc.constraint_type = 'FOREIGN KEY'`
	var rows sql.Rows
	if err := p.drv.Query(ctx, query, []any{t.Schema, t.Name}, &rows); err != nil {
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

// normalizePostgresType maps verbose catalog type names to the short forms
// the engine's type coercion understands. Arrays report their element type
// with the array flag set.
func normalizePostgresType(dataType, udtName string) (string, bool) {
	switch dataType {
	case "ARRAY":
		// udt_name carries an underscore prefix for arrays ("_text", "_int4").
		elem, _ := normalizePostgresType("USER-DEFINED", strings.TrimPrefix(udtName, "_"))
		return elem, true
	case "timestamp with time zone", "timestamp without time zone":
		return "timestamp", false
	case "character varying", "character":
		return "string", false
	case "USER-DEFINED":
		switch udtName {
		case "int2", "int4", "int8":
			return "integer", false
		case "float4", "float8", "numeric":
			return "number", false
		case "bool":
			return "boolean", false
		case "text", "varchar", "bpchar", "uuid":
			return mapPostgresScalar(udtName), false
		default:
			return udtName, false
		}
	default:
		return mapPostgresScalar(dataType), false
	}
}

func mapPostgresScalar(name string) string {
	switch name {
	case "text", "varchar", "bpchar":
		return "string"
	case "smallint", "integer", "bigint":
		return "integer"
	case "real", "double precision", "numeric":
		return "number"
	case "boolean":
		return "boolean"
	case "uuid":
		return "uuid"
	case "json", "jsonb":
		return "json"
	case "date":
		return "date"
	default:
		return name
	}
}
