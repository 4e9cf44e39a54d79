// Package introspect reads table metadata from the store's catalog:
// columns with nullability, defaults and lengths, unique-constraint column
// sets, and foreign-key edges. The table registry links definitions against
// this metadata at startup, or against a persisted snapshot of it.
package introspect

import (
	"context"
	"fmt"

	"github.com/graphtable/lattice/dialect"
)

// Column describes one table column.
type Column struct {
	Name     string  `yaml:"name"`
	Type     string  `yaml:"type"`
	Nullable bool    `yaml:"nullable"`
	Default  *string `yaml:"default,omitempty"`
	// Length is the character maximum length, or 0 when not applicable.
	Length int  `yaml:"length,omitempty"`
	Array  bool `yaml:"array,omitempty"`
}

// ForeignKey is a directed edge from a column of the owning table to a
// referenced table's column.
type ForeignKey struct {
	Column    string `yaml:"column"`
	RefSchema string `yaml:"refSchema"`
	RefTable  string `yaml:"refTable"`
	RefColumn string `yaml:"refColumn"`
	OnUpdate  string `yaml:"onUpdate,omitempty"`
	OnDelete  string `yaml:"onDelete,omitempty"`
}

// TableSchema is everything the registry needs to know about one table.
type TableSchema struct {
	Schema      string       `yaml:"schema"`
	Name        string       `yaml:"name"`
	Columns     []Column     `yaml:"columns"`
	UniqueSets  [][]string   `yaml:"uniqueColumns,omitempty"`
	ForeignKeys []ForeignKey `yaml:"relations,omitempty"`

	// LookupIDs carries the id values of small reference tables,
	// captured at snapshot time so links into them can be checked
	// without a round trip.
	LookupIDs []any `yaml:"lookupTableIds,omitempty"`
}

// Path returns the schema-qualified identity of the table.
func (t *TableSchema) Path() string { return t.Schema + "." + t.Name }

// Column returns the named column, or nil.
func (t *TableSchema) Column(name string) *Column {
	for i := range t.Columns {
		if t.Columns[i].Name == name {
			return &t.Columns[i]
		}
	}
	return nil
}

// Extractor reads table metadata from a live store.
type Extractor interface {
	// Tables lists the base tables of the given schema namespace.
	Tables(ctx context.Context, schema string) ([]string, error)
	// Table extracts the full metadata of one table.
	Table(ctx context.Context, schema, name string) (*TableSchema, error)
}

// New returns the Extractor for the driver's dialect.
func New(drv dialect.Driver) (Extractor, error) {
	switch drv.Dialect() {
	case dialect.Postgres:
		return &postgres{drv: drv}, nil
	case dialect.MySQL:
		return &mysql{drv: drv}, nil
	case dialect.SQLite:
		return &sqlite{drv: drv}, nil
	default:
		return nil, fmt.Errorf("introspect: unsupported dialect %q", drv.Dialect())
	}
}
