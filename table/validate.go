package table

import (
	"strconv"

	"golang.org/x/sync/errgroup"

	"github.com/graphtable/lattice"
	"github.com/graphtable/lattice/dialect"
	"github.com/graphtable/lattice/dialect/sql"
)

// deleteKey marks a node of a write graph for deletion.
const deleteKey = "_delete"

// node is one validated row of a write graph: the coerced flat row,
// virtual setter inputs, the resolved mode, and the child subtrees. The
// write engine executes nodes parent-first so foreign keys resolve.
type node struct {
	table   *Table
	mode    lattice.Op
	row     map[string]any // internal column -> coerced value
	virtual map[string]any // setter name -> raw value
	current map[string]any // policy-visible target row on update/delete
	hasOne  map[string]*node
	hasMany map[string][]*node
}

func (n *node) id() any { return n.row[n.table.IDColumn] }

// validateDeep validates one input object and its nested graph.
// Validation failures accumulate in the returned field-path-keyed
// errors; authorization and complexity failures abort through the error
// return.
func (t *Table) validateDeep(sc *stmtCtx, input map[string]any) (*node, *lattice.ValidationError, error) {
	if err := sc.spend(t); err != nil {
		return nil, nil, err
	}
	verr := lattice.NewValidationError()
	n := &node{
		table:   t,
		row:     make(map[string]any),
		virtual: make(map[string]any),
		hasOne:  make(map[string]*node),
		hasMany: make(map[string][]*node),
	}

	// A _delete marker short-circuits: only the tenant value matters,
	// everything else in the object is ignored.
	if del, _ := input[deleteKey].(bool); del {
		n.mode = lattice.OpDelete
		t.coerceInto(n, input, t.IDColumn, verr)
		if t.TenantColumn != "" {
			t.coerceInto(n, input, t.TenantColumn, verr)
			if n.row[t.TenantColumn] == nil {
				verr.Add(t.external(t.TenantColumn), "is required")
			}
		}
		return n, verr, nil
	}

	n.mode = lattice.OpInsert
	if v, ok := input[t.external(t.IDColumn)]; ok && v != nil {
		n.mode = lattice.OpUpdate
	}

	if err := t.validateHasOne(sc, n, input, verr); err != nil {
		return nil, nil, err
	}
	if err := t.validateRow(sc, n, input, verr); err != nil {
		return nil, nil, err
	}
	if err := t.validateHasMany(sc, n, input, verr); err != nil {
		return nil, nil, err
	}
	return n, verr, nil
}

func (t *Table) coerceInto(n *node, input map[string]any, column string, verr *lattice.ValidationError) {
	key := t.external(column)
	v, ok := input[key]
	if !ok {
		return
	}
	col, ok := t.Columns[column]
	if !ok {
		return
	}
	cv, err := coerceValue(col, v)
	if err != nil {
		verr.Add(key, err.Error())
		return
	}
	n.row[column] = cv
}

// validateHasOne recurses into nested parent objects. A child without
// an id gets a typed placeholder so the foreign key passes type checks
// before the real id exists.
func (t *Table) validateHasOne(sc *stmtCtx, n *node, input map[string]any, verr *lattice.ValidationError) error {
	for name, rt := range t.HasOne {
		v, ok := input[name]
		if !ok || v == nil {
			continue
		}
		sub, ok := v.(map[string]any)
		if !ok {
			verr.Add(name, "must be an object")
			continue
		}
		child, cerr, err := rt.Table.validateDeep(sc, sub)
		if err != nil {
			return err
		}
		verr.Merge(name, cerr)
		n.hasOne[name] = child

		fk := child.id()
		if fk == nil || isPlaceholder(fk) {
			if col, ok := rt.Table.Columns[rt.Relation.RefColumn]; ok {
				fk = placeholderFor(col)
			}
		}
		n.row[rt.Relation.Column] = fk
	}
	return nil
}

// validateRow validates the flat row: merged default and enforced
// params, column coercion, nullability, per-column rules, uniqueness
// and, on update, policy visibility of the target.
func (t *Table) validateRow(sc *stmtCtx, n *node, input map[string]any, verr *lattice.ValidationError) error {
	merged := make(map[string]any, len(input))
	if t.DefaultParams != nil {
		defaults, err := t.DefaultParams(sc.ctx, n.mode)
		if err != nil {
			return err
		}
		for k, v := range defaults {
			merged[t.external(k)] = v
		}
	}
	for k, v := range input {
		merged[k] = v
	}
	if t.EnforcedParams != nil {
		enforced, err := t.EnforcedParams(sc.ctx, n.mode)
		if err != nil {
			return err
		}
		for k, v := range enforced {
			merged[t.external(k)] = v
		}
	}

	for key, v := range merged {
		if key == deleteKey {
			continue
		}
		column := t.internal(key)
		if _, isRel := t.Related(key); isRel {
			continue
		}
		col, isCol := t.Columns[column]
		if !isCol {
			if _, isSetter := t.Setters[key]; isSetter {
				n.virtual[key] = v
			}
			continue
		}
		if _, fromRelation := n.row[column]; fromRelation && v == nil {
			continue
		}
		cv, err := coerceValue(col, v)
		if err != nil {
			verr.Add(key, err.Error())
			continue
		}
		for _, rule := range t.Rules[column] {
			cv, err = rule(sc.ctx, cv)
			if err != nil {
				verr.Add(key, err.Error())
				break
			}
		}
		if err == nil {
			n.row[column] = cv
		}
	}

	if n.mode == lattice.OpInsert {
		for column, col := range t.Columns {
			if col.Nullable || col.Default != nil || column == t.IDColumn {
				continue
			}
			if v, ok := n.row[column]; !ok || v == nil {
				verr.Add(t.external(column), "is required")
			}
		}
	}
	if t.TenantColumn != "" && n.row[t.TenantColumn] == nil {
		verr.Add(t.external(t.TenantColumn), "is required")
	}

	t.checkLookups(n, verr)
	if err := t.checkUnique(sc, n, verr); err != nil {
		return err
	}
	if n.mode == lattice.OpUpdate {
		current, err := t.visibleRow(sc, n.id(), lattice.OpUpdate)
		if err != nil {
			return err
		}
		n.current = current
	}
	return nil
}

// checkLookups validates foreign keys into lookup tables against their
// snapshotted id lists, saving a round trip for reference data.
func (t *Table) checkLookups(n *node, verr *lattice.ValidationError) {
	for _, edge := range t.HasOne {
		target := edge.Table
		if !target.Lookup || len(target.lookupIDs) == 0 {
			continue
		}
		v, ok := n.row[edge.Relation.Column]
		if !ok || v == nil || isPlaceholder(v) {
			continue
		}
		found := false
		for _, id := range target.lookupIDs {
			if valueEqual(id, v) {
				found = true
				break
			}
		}
		if !found {
			verr.Add(t.external(edge.Relation.Column), "is not a valid reference")
		}
	}
}

// checkUnique probes simple and compound unique sets for conflicting
// rows. The probe deliberately bypasses policy: a conflicting row must
// be rejected even when it is invisible to the caller, otherwise the
// insert would die on the store's constraint instead.
func (t *Table) checkUnique(sc *stmtCtx, n *node, verr *lattice.ValidationError) error {
	for _, set := range t.UniqueSets {
		if len(set) == 1 && set[0] == t.IDColumn {
			continue
		}
		complete := len(set) > 0
		for _, column := range set {
			if v, ok := n.row[column]; !ok || v == nil || isPlaceholder(v) {
				complete = false
				break
			}
		}
		if !complete {
			continue
		}
		stmt := sql.Dialect(t.dialect()).
			Select().
			From(sql.Table(t.storeName()).As(sc.alias(t.Name)))
		stmt.Select(stmt.C(t.IDColumn))
		for _, column := range set {
			stmt.Where(sql.EQ(stmt.C(column), n.row[column]))
		}
		if t.TenantColumn != "" && n.row[t.TenantColumn] != nil {
			stmt.Where(sql.EQ(stmt.C(t.TenantColumn), n.row[t.TenantColumn]))
		}
		if t.Paranoid {
			stmt.Where(sql.IsNull(stmt.C(t.DeletedAtColumn)))
		}
		if n.mode == lattice.OpUpdate {
			stmt.Where(sql.NEQ(stmt.C(t.IDColumn), n.id()))
		}
		stmt.Limit(1)
		rows, err := t.queryMaps(sc, stmt)
		if err != nil {
			return err
		}
		if len(rows) > 0 {
			verr.Add(t.external(set[0]), "is already in use")
		}
	}
	return nil
}

// visibleRow reads a row by id through the table's full scoping
// pipeline. An absent result on a mutation target is an authorization
// failure, not a not-found, so existence never leaks.
func (t *Table) visibleRow(sc *stmtCtx, id any, op lattice.Op) (map[string]any, error) {
	if t.IDModifier != nil {
		id = t.IDModifier(sc.ctx, id)
	}
	stmt := sql.Dialect(t.dialect()).
		Select().
		From(sql.Table(t.storeName()).As(sc.alias(t.Name)))
	for _, c := range t.readColumns() {
		stmt.AppendSelect(stmt.C(c))
	}
	stmt.Where(sql.EQ(stmt.C(t.IDColumn), id)).Limit(1)
	if err := t.scopeStmtOp(sc, stmt, op); err != nil {
		return nil, err
	}
	rows, err := t.queryMaps(sc, stmt)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, lattice.NewUnauthorizedError(t.Label(), op)
	}
	return rows[0], nil
}

// validateHasMany recurses per element of nested child arrays, with the
// parent's not-yet-known id injected as the foreign key. Sibling
// elements validate concurrently when the store allows it; errors stay
// addressed per index.
func (t *Table) validateHasMany(sc *stmtCtx, n *node, input map[string]any, verr *lattice.ValidationError) error {
	for name, rt := range t.HasMany {
		v, ok := input[name]
		if !ok || v == nil {
			continue
		}
		items, ok := v.([]any)
		if !ok {
			verr.Add(name, "must be an array")
			continue
		}

		parentID := n.id()
		if parentID == nil || isPlaceholder(parentID) {
			if col, ok := t.Columns[rt.Relation.RefColumn]; ok {
				parentID = placeholderFor(col)
			}
		}

		children := make([]*node, len(items))
		cerrs := make([]*lattice.ValidationError, len(items))
		var g errgroup.Group
		if _, ok := sc.store.(dialect.Tx); ok {
			// A transaction owns one connection; uniqueness and
			// visibility probes issued from sibling goroutines would
			// race it. Keep the per-index addressing, drop the fan-out.
			g.SetLimit(1)
		}
		for i, e := range items {
			g.Go(func() error {
				sub, ok := e.(map[string]any)
				if !ok {
					cerrs[i] = lattice.FieldError("", "must be an object")
					return nil
				}
				child := make(map[string]any, len(sub)+1)
				for k, cv := range sub {
					child[k] = cv
				}
				child[rt.Table.external(rt.Relation.Column)] = parentID
				cn, cerr, err := rt.Table.validateDeep(sc, child)
				if err != nil {
					return err
				}
				children[i], cerrs[i] = cn, cerr
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}
		for i, cerr := range cerrs {
			verr.Merge(name+"."+strconv.Itoa(i), cerr)
		}
		n.hasMany[name] = children
	}
	return nil
}
