package table

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/graphtable/lattice"
	"github.com/graphtable/lattice/dialect"
	"github.com/graphtable/lattice/dialect/sql"
	"github.com/graphtable/lattice/introspect"
)

// Registry owns the set of linked tables. It is single-writer during
// initialization (Add, Init) and frozen afterwards; all read and write
// operations go through the tables it returns.
type Registry struct {
	drv        dialect.Driver
	convention introspect.Convention
	budget     int
	baseURL    string
	cache      lattice.Cache
	emitter    *Emitter

	tables map[string]*Table
	linked bool
}

// Option configures a Registry.
type Option func(*Registry)

// WithConvention sets the external naming convention. The default keeps
// store column names as-is.
func WithConvention(c introspect.Convention) Option {
	return func(r *Registry) { r.convention = c }
}

// WithBudget sets the complexity budget granted to each request's
// validation and eager-load recursion.
func WithBudget(n int) Option {
	return func(r *Registry) { r.budget = n }
}

// WithBaseURL sets the prefix of the _url and _links values in shaped
// output.
func WithBaseURL(u string) Option {
	return func(r *Registry) { r.baseURL = u }
}

// WithCache attaches a read-through cache for collection and item reads.
func WithCache(c lattice.Cache) Option {
	return func(r *Registry) { r.cache = c }
}

// NewRegistry creates an empty registry over a driver.
func NewRegistry(drv dialect.Driver, opts ...Option) *Registry {
	r := &Registry{
		drv:     drv,
		budget:  DefaultBudget,
		tables:  make(map[string]*Table),
		emitter: NewEmitter(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Driver returns the underlying driver.
func (r *Registry) Driver() dialect.Driver { return r.drv }

// Emitter returns the change-event broadcaster shared by all tables.
func (r *Registry) Emitter() *Emitter { return r.emitter }

// Add registers a table definition. The same schema-qualified identity
// cannot be registered twice.
func (r *Registry) Add(def Definition) (*Table, error) {
	if def.Name == "" {
		return nil, fmt.Errorf("table: definition without a name")
	}
	if def.Schema == "" {
		def.Schema = "public"
	}
	def.withDefaults()
	if _, ok := r.tables[def.Path()]; ok {
		return nil, fmt.Errorf("table: %s registered twice", def.Path())
	}
	t := &Table{
		Definition: def,
		registry:   r,
		HasOne:     make(map[string]*RelatedTable),
		HasMany:    make(map[string]*RelatedTable),
	}
	r.tables[def.Path()] = t
	return t, nil
}

// MustAdd is Add, panicking on error. Intended for static registration
// at startup.
func (r *Registry) MustAdd(def Definition) *Table {
	t, err := r.Add(def)
	if err != nil {
		panic(err)
	}
	return t
}

// Table returns the registered table for a schema-qualified path.
func (r *Registry) Table(path string) (*Table, bool) {
	t, ok := r.tables[path]
	return t, ok
}

// Tables returns all registered tables sorted by path.
func (r *Registry) Tables() []*Table {
	out := make([]*Table, 0, len(r.tables))
	for _, t := range r.tables {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Path() < out[j].Path()
	})
	return out
}

// Init introspects the schema of every registered table that has no
// explicit column metadata, then links the relationship graph. It must
// run once, before any operation.
func (r *Registry) Init(ctx context.Context) error {
	ex, err := introspect.New(r.drv)
	if err != nil {
		return err
	}
	for _, t := range r.tables {
		if len(t.Columns) > 0 {
			continue
		}
		ts, err := ex.Table(ctx, t.Schema, t.Name)
		if err != nil {
			return fmt.Errorf("table: introspect %s: %w", t.Path(), err)
		}
		t.applySchema(ts)
	}
	return r.Link()
}

// Snapshot serializes the schema metadata of every registered table,
// including the id lists of lookup tables, for a later boot to load
// through InitFromSnapshot instead of introspecting live.
func (r *Registry) Snapshot(ctx context.Context) (*introspect.Snapshot, error) {
	snap := &introspect.Snapshot{GeneratedAt: time.Now().UTC(), Dialect: r.drv.Dialect()}
	for _, t := range r.Tables() {
		ts := t.schema()
		if t.Lookup {
			ids, err := t.lookupTableIDs(ctx)
			if err != nil {
				return nil, fmt.Errorf("table: snapshot %s ids: %w", t.Path(), err)
			}
			ts.LookupIDs = ids
		}
		snap.Tables = append(snap.Tables, *ts)
	}
	return snap, nil
}

// lookupTableIDs reads the full id list of a lookup table. Reference
// data is not tenant- or policy-scoped; soft-deleted rows stay out.
func (t *Table) lookupTableIDs(ctx context.Context) ([]any, error) {
	sc := t.newStmtCtx(ctx, lattice.OpRead, t.registry.drv)
	stmt := sql.Dialect(t.dialect()).
		Select().
		From(sql.Table(t.storeName()).As(sc.alias(t.Name)))
	stmt.Select(stmt.C(t.IDColumn))
	if t.Paranoid {
		stmt.Where(sql.IsNull(stmt.C(t.DeletedAtColumn)))
	}
	stmt.OrderBy(stmt.C(t.IDColumn)).Limit(MaxIDLimit)
	rows, err := t.queryMaps(sc, stmt)
	if err != nil {
		return nil, err
	}
	ids := make([]any, len(rows))
	for i, row := range rows {
		ids[i] = row[t.IDColumn]
	}
	return ids, nil
}

// InitFromSnapshot fills schema metadata from a previously persisted
// snapshot instead of live introspection, then links.
func (r *Registry) InitFromSnapshot(snap *introspect.Snapshot) error {
	for _, t := range r.tables {
		ts := snap.Table(t.Schema, t.Name)
		if len(t.Columns) > 0 {
			if ts != nil && len(ts.LookupIDs) > 0 {
				t.lookupIDs = ts.LookupIDs
			}
			continue
		}
		if ts == nil {
			return fmt.Errorf("table: %s missing from snapshot", t.Path())
		}
		t.applySchema(ts)
	}
	return r.Link()
}

// Link derives the HasOne and HasMany edges of every registered table
// from their relations. Relations referencing unregistered tables are
// skipped: they stay plain columns. A hasMany name collision between two
// distinct foreign keys into the same table fails linking unless the
// owning definitions carry explicit inverse names.
func (r *Registry) Link() error {
	if r.linked {
		return fmt.Errorf("table: registry linked twice")
	}
	for _, t := range r.tables {
		columns := make([]string, 0, len(t.Relations))
		for c := range t.Relations {
			columns = append(columns, c)
		}
		sort.Strings(columns)
		for _, column := range columns {
			rel := t.Relations[column]
			target, ok := r.tables[rel.RefSchema+"."+rel.RefTable]
			if !ok {
				continue
			}
			name := introspect.HasOneName(column, "")
			if prev, ok := t.HasOne[name]; ok && prev.Relation.Column != column {
				return fmt.Errorf("table: %s derives relationship %q from both %s and %s",
					t.Path(), name, prev.Relation.Column, column)
			}
			t.HasOne[name] = &RelatedTable{Name: name, Relation: rel, Table: target}

			inverse := t.InverseNames[column]
			if inverse == "" {
				inverse = introspect.HasManyName(t.Label())
			}
			if prev, ok := target.HasMany[inverse]; ok {
				if prev.Table != t || prev.Relation.Column != column {
					return fmt.Errorf("table: %s relationship %q is ambiguous between %s.%s and %s.%s; set inverse names",
						target.Path(), inverse,
						prev.Table.Path(), prev.Relation.Column, t.Path(), column)
				}
			}
			target.HasMany[inverse] = &RelatedTable{Name: inverse, Relation: rel, Table: t}
		}
	}
	r.linked = true
	return nil
}

// Table is a linked, immutable table: its definition completed with
// introspected metadata plus the derived relationship maps.
type Table struct {
	Definition
	registry *Registry

	// HasOne maps derived names to this table's own foreign-key edges;
	// HasMany maps names to other tables' foreign keys pointing here.
	HasOne  map[string]*RelatedTable
	HasMany map[string]*RelatedTable

	// lookupIDs is the snapshotted id list of a Lookup table. When
	// loaded, foreign keys into the table validate against it instead
	// of reaching the store.
	lookupIDs []any
}

// LookupIDs returns the snapshotted id list of a lookup table, or nil.
func (t *Table) LookupIDs() []any { return t.lookupIDs }

func (t *Table) applySchema(ts *introspect.TableSchema) {
	if t.Columns == nil {
		t.Columns = make(map[string]introspect.Column, len(ts.Columns))
	}
	for _, c := range ts.Columns {
		if _, ok := t.Columns[c.Name]; !ok {
			t.Columns[c.Name] = c
		}
	}
	if len(t.UniqueSets) == 0 {
		t.UniqueSets = ts.UniqueSets
	}
	if t.Relations == nil {
		t.Relations = make(map[string]Relation, len(ts.ForeignKeys))
	}
	for _, fk := range ts.ForeignKeys {
		if _, ok := t.Relations[fk.Column]; ok {
			continue
		}
		t.Relations[fk.Column] = Relation{
			Column:    fk.Column,
			RefSchema: fk.RefSchema,
			RefTable:  fk.RefTable,
			RefColumn: fk.RefColumn,
			OnUpdate:  fk.OnUpdate,
			OnDelete:  fk.OnDelete,
		}
	}
	if len(ts.LookupIDs) > 0 {
		t.lookupIDs = ts.LookupIDs
	}
}

// schema converts the table's metadata back into its serializable
// form, sorted for stable output.
func (t *Table) schema() *introspect.TableSchema {
	ts := &introspect.TableSchema{Schema: t.Schema, Name: t.Name, UniqueSets: t.UniqueSets}
	names := make([]string, 0, len(t.Columns))
	for name := range t.Columns {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		ts.Columns = append(ts.Columns, t.Columns[name])
	}
	columns := make([]string, 0, len(t.Relations))
	for c := range t.Relations {
		columns = append(columns, c)
	}
	sort.Strings(columns)
	for _, column := range columns {
		rel := t.Relations[column]
		ts.ForeignKeys = append(ts.ForeignKeys, introspect.ForeignKey{
			Column:    rel.Column,
			RefSchema: rel.RefSchema,
			RefTable:  rel.RefTable,
			RefColumn: rel.RefColumn,
			OnUpdate:  rel.OnUpdate,
			OnDelete:  rel.OnDelete,
		})
	}
	return ts
}

// Registry returns the owning registry.
func (t *Table) Registry() *Registry { return t.registry }

func (t *Table) dialect() string { return t.registry.drv.Dialect() }

// external converts a store column name to its external key under the
// registry convention; internal is the inverse.
func (t *Table) external(column string) string {
	return t.registry.convention.External(column)
}

func (t *Table) internal(key string) string {
	return t.registry.convention.Internal(key)
}

// Related resolves a relationship name against both edge maps, hasOne
// first.
func (t *Table) Related(name string) (*RelatedTable, bool) {
	if rt, ok := t.HasOne[name]; ok {
		return rt, true
	}
	if rt, ok := t.HasMany[name]; ok {
		return rt, true
	}
	return nil, false
}
