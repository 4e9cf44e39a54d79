// Package table implements the graph-aware table engine: a registry of
// table definitions linked against the live schema, a filter compiler, a
// recursive validation engine, a transactional graph-write engine, an
// eager-load subquery compiler and offset/cursor pagination.
//
// A Table is built once from a Definition plus introspected schema
// metadata and is immutable afterwards. Reads compile into a single
// statement (filters, policy scope, eager subqueries, pagination) and
// writes execute a whole nested object graph in one transaction.
package table

import (
	"context"
	"sort"

	"github.com/graphtable/lattice"
	"github.com/graphtable/lattice/dialect"
	"github.com/graphtable/lattice/dialect/sql"
	"github.com/graphtable/lattice/introspect"
	"github.com/graphtable/lattice/privacy"
)

// Default limits applied when a Definition leaves them zero.
const (
	DefaultComplexity = 1
	DefaultBudget     = 100
	DefaultEagerLimit = 100
	DefaultMaxBulk    = 100
	MaxLimit          = 250
)

// Rule validates and optionally rewrites a single column value. Rules run
// during deep validation after type coercion, so v already has the
// column's normalized Go type.
type Rule func(ctx context.Context, v any) (any, error)

// Getter resolves a virtual include name. Either Query produces a scalar
// subquery correlated against the outer statement, or Value computes the
// field in application code from the already-fetched row.
type Getter struct {
	Query func(ctx context.Context, outer *sql.Selector) *sql.Expr
	Value func(ctx context.Context, row map[string]any) (any, error)
}

// Setter consumes a virtual (non-column) write key after the owning row
// has been mutated. It runs inside the write transaction.
type Setter func(ctx context.Context, store dialect.ExecQuerier, row map[string]any, v any) error

// BeforeHook may rewrite the draft row before a mutation is applied.
// current is nil on insert.
type BeforeHook func(ctx context.Context, op lattice.Op, draft, current map[string]any) error

// AfterHook observes the post-mutation, policy-filtered row. It runs
// inside the write transaction; returning an error rolls the whole
// graph back.
type AfterHook func(ctx context.Context, op lattice.Op, row map[string]any) error

// ParamsFunc supplies default or enforced column values merged into every
// write of a given operation.
type ParamsFunc func(ctx context.Context, op lattice.Op) (map[string]any, error)

// QueryModifier rewrites every read statement of the table, after filters
// and before the policy runs.
type QueryModifier func(ctx context.Context, stmt *sql.Selector)

// IDModifier rewrites incoming id values before they are used in lookups,
// for tables whose external ids differ from stored ids.
type IDModifier func(ctx context.Context, id any) any

// Relation is a directed foreign-key edge owned by a table: Column on the
// owning table references RefColumn on RefSchema.RefTable. Immutable
// after linking.
type Relation struct {
	Column    string
	RefSchema string
	RefTable  string
	RefColumn string
	OnUpdate  string
	OnDelete  string
}

// RelatedTable is a resolved edge: the derived relationship name, the
// underlying relation, and the linked table at the far end. HasOne edges
// point from the owning table outward; HasMany edges are their inverses.
type RelatedTable struct {
	Name     string
	Relation Relation
	Table    *Table
}

// Definition declares a table to the registry. Schema metadata (columns,
// unique sets, relations) left empty is filled from the introspector at
// Init time; values given here override what introspection reports.
type Definition struct {
	// Schema and Name identify the table in the store. Alias, when set,
	// is the external path segment and type label instead of Name.
	Schema string
	Name   string
	Alias  string

	// IDColumn defaults to "id". TenantColumn, when set, makes its value
	// mandatory on every operation and scopes all statements and
	// correlated subqueries to it.
	IDColumn     string
	TenantColumn string

	// DeletedAtColumn is the soft-delete marker, defaulting to
	// "deleted_at" when Paranoid is set.
	DeletedAtColumn string

	Columns    map[string]introspect.Column
	UniqueSets [][]string

	// Hidden columns never appear in output or accept writes. ReadOnly
	// columns appear in output but reject writes.
	Hidden   []string
	ReadOnly []string

	// Relations maps the owning foreign-key column to its edge. Filled
	// from introspection when empty.
	Relations map[string]Relation

	// InverseNames disambiguates the hasMany name a foreign-key column
	// produces on the referenced table. Required when two distinct
	// foreign keys into the same table would derive the same name.
	InverseNames map[string]string

	// Policy scopes every statement and correlated subquery. An empty
	// policy makes all rows fully visible.
	Policy privacy.Policy

	// Rules run per column during validation, after type coercion.
	Rules map[string][]Rule

	Getters map[string]Getter
	Setters map[string]Setter

	BeforeUpdate BeforeHook
	AfterUpdate  AfterHook

	DefaultParams  ParamsFunc
	EnforcedParams ParamsFunc

	QueryModifier QueryModifier
	IDModifier    IDModifier

	// IDGenerator produces ids for inserts. Nil leaves id generation to
	// the store.
	IDGenerator func() any

	// Complexity is the weight subtracted from the request budget per
	// visit of this table during validation and eager loading.
	Complexity int
	// EagerLimit caps the rows a hasMany eager load returns.
	EagerLimit int
	// MaxBulk caps the rows a single WriteAll may touch.
	MaxBulk int

	// Paranoid tables soft-delete by setting DeletedAtColumn; deletes
	// cascade to hasMany children that are themselves paranoid.
	Paranoid bool
	// AllowUpserts enables unique-key conflict probing on id-less writes.
	AllowUpserts bool
	// Lookup marks small reference tables whose ids are snapshotted.
	Lookup bool

	// DefaultSort orders reads when the request has no sort param, in
	// "col"/"-col" form. The id column is appended as a tie-break.
	DefaultSort []string
}

// Path returns the schema-qualified identity, "schema.name".
func (d *Definition) Path() string { return d.Schema + "." + d.Name }

// Label returns the external name: the alias when set, else the name.
func (d *Definition) Label() string {
	if d.Alias != "" {
		return d.Alias
	}
	return d.Name
}

func (d *Definition) withDefaults() {
	if d.IDColumn == "" {
		d.IDColumn = "id"
	}
	if d.Paranoid && d.DeletedAtColumn == "" {
		d.DeletedAtColumn = "deleted_at"
	}
	if d.Complexity <= 0 {
		d.Complexity = DefaultComplexity
	}
	if d.EagerLimit <= 0 {
		d.EagerLimit = DefaultEagerLimit
	}
	if d.MaxBulk <= 0 {
		d.MaxBulk = DefaultMaxBulk
	}
}

// Column returns the metadata for a store column name.
func (d *Definition) Column(name string) (introspect.Column, bool) {
	c, ok := d.Columns[name]
	return c, ok
}

func contains(list []string, s string) bool {
	for _, e := range list {
		if e == s {
			return true
		}
	}
	return false
}

// readColumns returns the store columns exposed on reads, sorted.
func (d *Definition) readColumns() []string {
	out := make([]string, 0, len(d.Columns))
	for name := range d.Columns {
		if contains(d.Hidden, name) {
			continue
		}
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// writable reports whether a column accepts writes.
func (d *Definition) writable(column string) bool {
	if _, ok := d.Columns[column]; !ok {
		return false
	}
	return !contains(d.Hidden, column) && !contains(d.ReadOnly, column)
}
