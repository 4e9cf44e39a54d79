package table

import (
	"sort"
	"strconv"
	"strings"

	"golang.org/x/text/cases"

	"github.com/graphtable/lattice"
	"github.com/graphtable/lattice/dialect/sql"
	"github.com/graphtable/lattice/introspect"
)

// The filter compiler turns a flat/nested parameter object into a
// predicate tree over the statement. Keys are "column" or "column.op"
// (op one of eq, neq, lt, lte, gt, gte, fts, optionally prefixed with
// "not"), relation names carrying nested filter objects compiled into
// correlated EXISTS subqueries, and "and"/"or" groups. Keys resolving
// to neither a column nor a relation are ignored.

var foldCaser = cases.Fold()

// compileFilter builds the AND-combined predicate for filters against
// stmt. Coercion failures are collected field-keyed, not raised.
func (t *Table) compileFilter(sc *stmtCtx, stmt *sql.Selector, filters Params) (*sql.Predicate, *lattice.ValidationError) {
	verr := lattice.NewValidationError()
	keys := make([]string, 0, len(filters))
	for k := range filters {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var preds []*sql.Predicate
	for _, key := range keys {
		v := filters[key]
		switch {
		case key == "and" || key == "or":
			p, sub := t.compileGroup(sc, stmt, key, v)
			verr.Merge(key, sub)
			if p != nil {
				preds = append(preds, p)
			}
		default:
			p, sub := t.compileTerm(sc, stmt, key, v)
			verr.Merge("", sub)
			if p != nil {
				preds = append(preds, p)
			}
		}
	}
	return sql.And(preds...), verr
}

// compileGroup compiles an "and"/"or" value: an array of sub-filters, or
// a bare object treated as a single AND-group.
func (t *Table) compileGroup(sc *stmtCtx, stmt *sql.Selector, connective string, v any) (*sql.Predicate, *lattice.ValidationError) {
	verr := lattice.NewValidationError()
	var children []Params
	switch vv := v.(type) {
	case []any:
		for i, e := range vv {
			m, ok := e.(map[string]any)
			if !ok {
				verr.Add(strconv.Itoa(i), "must be an object")
				continue
			}
			children = append(children, Params(m))
		}
	case map[string]any:
		children = append(children, Params(vv))
	case Params:
		children = append(children, vv)
	default:
		verr.Add("", "must be an object or array of objects")
		return nil, verr
	}

	var preds []*sql.Predicate
	for i, child := range children {
		p, sub := t.compileFilter(sc, stmt, child)
		verr.Merge(strconv.Itoa(i), sub)
		if p != nil {
			preds = append(preds, p)
		}
	}
	if connective == "or" {
		return sql.Or(preds...), verr
	}
	return sql.And(preds...), verr
}

// compileTerm compiles a single non-group key: a column comparison or a
// relation sub-filter.
func (t *Table) compileTerm(sc *stmtCtx, stmt *sql.Selector, key string, v any) (*sql.Predicate, *lattice.ValidationError) {
	name, ops, _ := strings.Cut(key, ".")
	column := t.internal(name)
	if col, ok := t.Columns[column]; ok {
		return t.columnPredicate(stmt, key, col, column, ops, v)
	}
	if rt, ok := t.Related(name); ok && ops == "" {
		return t.relationPredicate(sc, stmt, name, rt, v)
	}
	return nil, nil
}

func (t *Table) columnPredicate(stmt *sql.Selector, key string, col introspect.Column, column, ops string, v any) (*sql.Predicate, *lattice.ValidationError) {
	verr := lattice.NewValidationError()
	negate := false
	op := "eq"
	if ops != "" {
		parts := strings.Split(ops, ".")
		if parts[0] == "not" {
			negate = true
			parts = parts[1:]
		}
		if len(parts) > 1 {
			verr.Add(key, "is not a valid filter")
			return nil, verr
		}
		if len(parts) == 1 && parts[0] != "" {
			op = parts[0]
		}
	}

	qualified := stmt.C(column)
	if op == "fts" {
		terms, ok := v.(string)
		if !ok {
			verr.Add(key, "must be a string")
			return nil, verr
		}
		p := sql.Match(qualified, foldCaser.String(terms))
		if negate {
			p = sql.Not(p)
		}
		return p, verr
	}

	// Array values become membership tests under eq/neq.
	if vs, ok := v.([]any); ok && (op == "eq" || op == "neq") {
		coerced := make([]any, len(vs))
		for i, e := range vs {
			cv, err := coerceValue(col, e)
			if err != nil {
				verr.Add(key, err.Error())
				return nil, verr
			}
			coerced[i] = cv
		}
		if negate != (op == "neq") {
			return sql.NotIn(qualified, coerced...), verr
		}
		return sql.In(qualified, coerced...), verr
	}

	cv, err := coerceValue(col, v)
	if err != nil {
		verr.Add(key, err.Error())
		return nil, verr
	}
	var p *sql.Predicate
	switch op {
	case "eq":
		p = sql.EQ(qualified, cv)
	case "neq":
		p = sql.NEQ(qualified, cv)
	case "lt":
		p = sql.LT(qualified, cv)
	case "lte":
		p = sql.LTE(qualified, cv)
	case "gt":
		p = sql.GT(qualified, cv)
	case "gte":
		p = sql.GTE(qualified, cv)
	default:
		verr.Add(key, "has an unknown operator")
		return nil, verr
	}
	if negate {
		p = sql.Not(p)
	}
	return p, verr
}

// relationPredicate compiles a nested filter object into a correlated
// EXISTS subquery over the related table, itself tenant-scoped and
// policy-filtered.
func (t *Table) relationPredicate(sc *stmtCtx, stmt *sql.Selector, name string, rt *RelatedTable, v any) (*sql.Predicate, *lattice.ValidationError) {
	verr := lattice.NewValidationError()
	sub, ok := v.(map[string]any)
	if !ok {
		if p, ok := v.(Params); ok {
			sub = map[string]any(p)
		} else {
			verr.Add(name, "must be an object")
			return nil, verr
		}
	}

	child := rt.Table
	childView := sql.Table(child.storeName()).As(sc.alias(child.Name))
	subStmt := sql.Dialect(t.dialect()).
		Select(childView.C(child.IDColumn)).
		From(childView)

	// Correlate by the foreign key. For a hasOne edge this table owns
	// the key; for hasMany the child owns it.
	if _, owns := t.HasOne[name]; owns {
		subStmt.Where(sql.ColumnsEQ(childView.C(rt.Relation.RefColumn), stmt.C(rt.Relation.Column)))
	} else {
		subStmt.Where(sql.ColumnsEQ(childView.C(rt.Relation.Column), stmt.C(rt.Relation.RefColumn)))
	}

	p, cerr := child.compileFilter(sc, subStmt, Params(sub))
	verr.Merge(name, cerr)
	if p != nil {
		subStmt.Where(p)
	}
	if err := child.scopeStmt(sc, subStmt); err != nil {
		verr.Add(name, err.Error())
		return nil, verr
	}
	return sql.Exists(subStmt), verr
}
