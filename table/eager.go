package table

import (
	"sort"
	"strings"

	"github.com/graphtable/lattice/dialect/sql"
)

// The eager-load compiler turns an include request (string, array or
// nested object of relation names, "<name>Count" keys and registered
// getters) into correlated subqueries appended to the statement's
// select list: a limit-1 JSON object for hasOne, a capped JSON array
// for hasMany, a COUNT for count keys. Each visited table spends
// complexity budget exactly like validation, and every occurrence of a
// related table gets a fresh alias so self-references never collide.
// Unknown names are silently ignored.

type includeKind int

const (
	includeObject includeKind = iota
	includeArray
	includeScalar
	includeComputed
)

// includeSpec tells the shaping layer how to decode an eagerly loaded
// output column.
type includeSpec struct {
	key    string
	kind   includeKind
	getter *Getter
}

// normalizeInclude flattens the accepted include forms into a name →
// nested-include map.
func normalizeInclude(v any) map[string]any {
	out := make(map[string]any)
	switch vv := v.(type) {
	case nil:
	case string:
		out[vv] = nil
	case []any:
		for _, e := range vv {
			for k, nested := range normalizeInclude(e) {
				out[k] = nested
			}
		}
	case []string:
		for _, e := range vv {
			out[e] = nil
		}
	case map[string]any:
		for k, nested := range vv {
			if b, ok := nested.(bool); ok && !b {
				continue
			}
			out[k] = nested
		}
	}
	return out
}

// applyIncludes compiles the include request against stmt and returns
// the shaping specs for the appended columns.
func (t *Table) applyIncludes(sc *stmtCtx, stmt *sql.Selector, include any) ([]includeSpec, error) {
	names := normalizeInclude(include)
	if len(names) == 0 {
		return nil, nil
	}
	keys := make([]string, 0, len(names))
	for k := range names {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var specs []includeSpec
	for _, name := range keys {
		nested := names[name]
		if base, ok := strings.CutSuffix(name, "Count"); ok && base != "" {
			if rt, isMany := t.HasMany[base]; isMany {
				if err := t.includeCount(sc, stmt, name, rt); err != nil {
					return nil, err
				}
				specs = append(specs, includeSpec{key: name, kind: includeScalar})
				continue
			}
		}
		if rt, ok := t.HasOne[name]; ok {
			if err := t.includeOne(sc, stmt, name, rt, nested); err != nil {
				return nil, err
			}
			specs = append(specs, includeSpec{key: name, kind: includeObject})
			continue
		}
		if rt, ok := t.HasMany[name]; ok {
			if err := t.includeMany(sc, stmt, name, rt, nested); err != nil {
				return nil, err
			}
			specs = append(specs, includeSpec{key: name, kind: includeArray})
			continue
		}
		if g, ok := t.Getters[name]; ok {
			if g.Query != nil {
				stmt.AppendSelectExprAs(g.Query(sc.ctx, stmt), name)
				specs = append(specs, includeSpec{key: name, kind: includeScalar})
			} else if g.Value != nil {
				specs = append(specs, includeSpec{key: name, kind: includeComputed, getter: &g})
			}
			continue
		}
		// Unknown include names are not errors.
	}
	return specs, nil
}

// correlate constrains the child view to rows related to the outer
// statement's current row, propagating the tenant column when both
// sides carry one so cross-tenant rows can never be attached.
func (t *Table) correlate(sc *stmtCtx, outer *sql.Selector, view *sql.SelectTable, child *Table, rel Relation, owns bool) *sql.Predicate {
	var p *sql.Predicate
	if owns {
		p = sql.ColumnsEQ(view.C(rel.RefColumn), outer.C(rel.Column))
	} else {
		p = sql.ColumnsEQ(view.C(rel.Column), outer.C(rel.RefColumn))
	}
	if t.TenantColumn != "" && child.TenantColumn != "" {
		p = sql.And(p, sql.ColumnsEQ(view.C(child.TenantColumn), outer.C(t.TenantColumn)))
	}
	return p
}

// childSelect builds the inner correlated select over the related
// table: plain columns plus any nested eager columns, scoped by tenant,
// soft-delete and policy.
func (t *Table) childSelect(sc *stmtCtx, outer *sql.Selector, rt *RelatedTable, owns bool, nested any) (*sql.Selector, []string, error) {
	child := rt.Table
	if err := sc.spend(child); err != nil {
		return nil, nil, err
	}
	view := sql.Table(child.storeName()).As(sc.alias(child.Name))
	inner := sql.Dialect(t.dialect()).Select().From(view)
	columns := child.readColumns()
	for _, c := range columns {
		inner.AppendSelect(view.C(c))
	}
	inner.Where(t.correlate(sc, outer, view, child, rt.Relation, owns))
	if err := child.scopeStmt(sc, inner); err != nil {
		return nil, nil, err
	}
	nestedSpecs, err := child.applyIncludes(sc, inner, nested)
	if err != nil {
		return nil, nil, err
	}
	for _, spec := range nestedSpecs {
		if spec.kind != includeComputed {
			columns = append(columns, spec.key)
		}
	}
	return inner, columns, nil
}

// includeOne appends a correlated limit-1 subquery shaped as a single
// JSON object.
func (t *Table) includeOne(sc *stmtCtx, stmt *sql.Selector, name string, rt *RelatedTable, nested any) error {
	inner, columns, err := t.childSelect(sc, stmt, rt, true, nested)
	if err != nil {
		return err
	}
	inner.Limit(1)
	derived := sc.alias(rt.Table.Name)
	derivedView := sql.Table(derived)
	outer := sql.Dialect(t.dialect()).
		SelectExpr(sql.JSONObject(t.dialect(), derivedView, columns)).
		FromSelect(inner, derived)
	stmt.AppendSelectAs(outer, name)
	return nil
}

// includeMany appends a correlated subquery shaped as a JSON array,
// capped at the child's eager-load limit.
func (t *Table) includeMany(sc *stmtCtx, stmt *sql.Selector, name string, rt *RelatedTable, nested any) error {
	child := rt.Table
	inner, columns, err := t.childSelect(sc, stmt, rt, false, nested)
	if err != nil {
		return err
	}
	keys, verr := child.resolveSort(nil)
	if verr.Empty() {
		applySort(inner, keys)
	}
	inner.Limit(child.EagerLimit)
	derived := sc.alias(child.Name)
	derivedView := sql.Table(derived)
	object := sql.JSONObject(t.dialect(), derivedView, columns)
	outer := sql.Dialect(t.dialect()).
		SelectExpr(sql.JSONArrayAgg(t.dialect(), object)).
		FromSelect(inner, derived)
	stmt.AppendSelectAs(outer, name)
	return nil
}

// includeCount appends a correlated COUNT subquery for a hasMany edge.
func (t *Table) includeCount(sc *stmtCtx, stmt *sql.Selector, name string, rt *RelatedTable) error {
	child := rt.Table
	if err := sc.spend(child); err != nil {
		return err
	}
	view := sql.Table(child.storeName()).As(sc.alias(child.Name))
	count := sql.Dialect(t.dialect()).
		SelectExpr(sql.ExprFunc("COUNT(*)")).
		From(view)
	count.Where(t.correlate(sc, stmt, view, child, rt.Relation, false))
	if err := child.scopeStmt(sc, count); err != nil {
		return err
	}
	stmt.AppendSelectAs(count, name)
	return nil
}
