package table

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/graphtable/lattice"
	"github.com/graphtable/lattice/dialect"
	"github.com/graphtable/lattice/dialect/sql"
)

// The graph write engine executes a validated nested graph as a single
// transaction, in dependency order: hasOne parents first, then the row
// itself, then hasMany children with the parent's real id substituted
// for placeholders. Every physical mutation re-reads the row through
// the table's policy afterwards, because a policy predicate may
// legitimately evaluate differently before and after the mutation.

// writeCtx accumulates the transaction-wide side effects of one write
// call.
type writeCtx struct {
	sc           *stmtCtx
	tx           dialect.Tx
	changes      []Change
	beforeCommit []func(ctx context.Context) error
	touched      map[*Table]bool
}

func (wc *writeCtx) record(mode string, path string, row Item, t *Table) {
	wc.changes = append(wc.changes, Change{Mode: mode, Path: path, Row: row})
	wc.touched[t] = true
}

type writeCtxKey struct{}

// QueueBeforeCommit defers fn to run inside the surrounding write
// transaction, after the whole graph is written and before commit. It
// is a no-op outside a write.
func QueueBeforeCommit(ctx context.Context, fn func(context.Context) error) {
	if wc, ok := ctx.Value(writeCtxKey{}).(*writeCtx); ok {
		wc.beforeCommit = append(wc.beforeCommit, fn)
	}
}

func rollback(tx dialect.Tx, err error) error {
	if rerr := tx.Rollback(); rerr != nil {
		return &lattice.RollbackError{Err: rerr}
	}
	return err
}

// Write executes one nested object graph (or an array of graphs)
// transactionally. Presence of the id column selects update, absence
// insert; a _delete marker selects delete. The result carries the
// shaped written item(s) and one change entry per physical mutation,
// under a single change id.
func (t *Table) Write(ctx context.Context, payload any) (*ChangeSet, error) {
	var inputs []map[string]any
	single := true
	switch p := payload.(type) {
	case map[string]any:
		inputs = []map[string]any{p}
	case []map[string]any:
		inputs, single = p, false
	case []any:
		single = false
		for i, e := range p {
			m, ok := e.(map[string]any)
			if !ok {
				return nil, lattice.FieldError(strconv.Itoa(i), "must be an object").OrNil()
			}
			inputs = append(inputs, m)
		}
	default:
		return nil, lattice.FieldError("", "must be an object or array of objects").OrNil()
	}

	tx, err := t.registry.drv.Tx(ctx)
	if err != nil {
		return nil, err
	}
	sc := t.newStmtCtx(ctx, lattice.OpWrite, tx)
	wc := &writeCtx{sc: sc, tx: tx, touched: make(map[*Table]bool)}
	sc.ctx = context.WithValue(ctx, writeCtxKey{}, wc)

	// Validate the whole graph before mutating anything.
	verr := lattice.NewValidationError()
	nodes := make([]*node, len(inputs))
	for i, input := range inputs {
		if t.TenantColumn != "" {
			if v := input[t.external(t.TenantColumn)]; v != nil {
				sc.tenant = v
			}
		}
		input, err := t.resolveUpsert(sc, input)
		if err != nil {
			return nil, rollback(tx, err)
		}
		n, nerr, err := t.validateDeep(sc, input)
		if err != nil {
			return nil, rollback(tx, err)
		}
		if single {
			verr.Merge("", nerr)
		} else {
			verr.Merge(strconv.Itoa(i), nerr)
		}
		nodes[i] = n
	}
	if !verr.Empty() {
		return nil, rollback(tx, verr)
	}

	result := &ChangeSet{ChangeID: uuid.NewString()}
	for i, n := range nodes {
		path := t.Label()
		if !single {
			path += "." + strconv.Itoa(i)
		}
		item, err := t.executeNode(wc, n, path)
		if err != nil {
			return nil, rollback(tx, err)
		}
		if single {
			result.Item = item
		} else {
			result.Items = append(result.Items, item)
		}
	}

	for _, fn := range wc.beforeCommit {
		if err := fn(sc.ctx); err != nil {
			return nil, rollback(tx, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	result.Changes = wc.changes
	for touched := range wc.touched {
		touched.invalidate(ctx)
	}
	t.registry.emitter.Emit(result)
	return result, nil
}

// resolveUpsert probes for a policy-visible row conflicting with the
// input's unique keys and, when found, merges the input onto it by
// injecting its id. An invisible conflict falls through to a plain
// insert, which uniqueness validation then rejects with a generic
// message revealing no row data.
func (t *Table) resolveUpsert(sc *stmtCtx, input map[string]any) (map[string]any, error) {
	if !t.AllowUpserts {
		return input, nil
	}
	if v, ok := input[t.external(t.IDColumn)]; ok && v != nil {
		return input, nil
	}
	if del, _ := input[deleteKey].(bool); del {
		return input, nil
	}
	for _, set := range t.UniqueSets {
		if len(set) == 0 || len(set) == 1 && set[0] == t.IDColumn {
			continue
		}
		values := make(map[string]any, len(set))
		complete := true
		for _, column := range set {
			col, ok := t.Columns[column]
			if !ok {
				complete = false
				break
			}
			v, ok := input[t.external(column)]
			if !ok || v == nil {
				complete = false
				break
			}
			cv, err := coerceValue(col, v)
			if err != nil {
				complete = false
				break
			}
			values[column] = cv
		}
		if !complete {
			continue
		}
		stmt := sql.Dialect(t.dialect()).
			Select().
			From(sql.Table(t.storeName()).As(sc.alias(t.Name)))
		stmt.Select(stmt.C(t.IDColumn))
		for _, column := range set {
			stmt.Where(sql.EQ(stmt.C(column), values[column]))
		}
		stmt.Limit(1)
		if err := t.scopeStmtOp(sc, stmt, lattice.OpUpdate); err != nil {
			return nil, err
		}
		rows, err := t.queryMaps(sc, stmt)
		if err != nil {
			return nil, err
		}
		if len(rows) > 0 {
			merged := make(map[string]any, len(input)+1)
			for k, v := range input {
				merged[k] = v
			}
			merged[t.external(t.IDColumn)] = rows[0][t.IDColumn]
			return merged, nil
		}
	}
	return input, nil
}

// executeNode writes one node and its subtrees in dependency order and
// returns the shaped post-mutation row.
func (t *Table) executeNode(wc *writeCtx, n *node, path string) (Item, error) {
	// Parents first, so the real foreign keys exist.
	names := make([]string, 0, len(n.hasOne))
	for name := range n.hasOne {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		child := n.hasOne[name]
		rt := t.HasOne[name]
		if _, err := rt.Table.executeNode(wc, child, path+"."+name); err != nil {
			return nil, err
		}
		n.row[rt.Relation.Column] = child.row[rt.Table.IDColumn]
	}

	var (
		row map[string]any
		err error
	)
	switch n.mode {
	case lattice.OpInsert:
		row, err = t.executeInsert(wc, n, path)
	case lattice.OpUpdate:
		row, err = t.executeUpdate(wc, n, path)
	case lattice.OpDelete:
		row, err = t.executeDelete(wc, n, path)
	default:
		err = fmt.Errorf("table: %s: unknown write mode", t.Label())
	}
	if err != nil {
		return nil, err
	}
	if row != nil {
		n.row[t.IDColumn] = row[t.IDColumn]
	}

	// Children last, with the parent id substituted for placeholders.
	names = names[:0]
	for name := range n.hasMany {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		rt := t.HasMany[name]
		for i, child := range n.hasMany[name] {
			parentKey := n.row[rt.Relation.RefColumn]
			if row != nil && row[rt.Relation.RefColumn] != nil {
				parentKey = row[rt.Relation.RefColumn]
			}
			child.row[rt.Relation.Column] = parentKey
			childPath := path + "." + name + "." + strconv.Itoa(i)
			if _, err := rt.Table.executeNode(wc, child, childPath); err != nil {
				return nil, err
			}
		}
	}

	return t.shapeRow(wc.sc, row, nil)
}

// writableRow filters a node's row down to the columns the write may
// touch, in sorted order.
func (t *Table) writableRow(n *node) ([]string, []any) {
	columns := make([]string, 0, len(n.row))
	for column := range n.row {
		if t.writable(column) || column == t.IDColumn {
			columns = append(columns, column)
		}
	}
	sort.Strings(columns)
	values := make([]any, len(columns))
	for i, c := range columns {
		values[i] = n.row[c]
	}
	return columns, values
}

func (t *Table) executeInsert(wc *writeCtx, n *node, path string) (map[string]any, error) {
	sc := wc.sc
	if n.row[t.IDColumn] == nil || isPlaceholder(n.row[t.IDColumn]) {
		if t.IDGenerator != nil {
			n.row[t.IDColumn] = t.IDGenerator()
		} else {
			delete(n.row, t.IDColumn)
		}
	}
	columns, values := t.writableRow(n)
	ib := sql.Dialect(t.dialect()).
		Insert(t.storeName()).
		Columns(columns...).
		Values(values...)

	id := n.row[t.IDColumn]
	if t.dialect() == dialect.Postgres {
		ib.Returning(t.IDColumn)
		query, args := ib.Query()
		var rows sql.Rows
		if err := sc.store.Query(sc.ctx, query, args, &rows); err != nil {
			return nil, constraintError(t, err)
		}
		returned, err := sql.ScanMaps(&rows)
		rows.Close()
		if err != nil {
			return nil, err
		}
		if len(returned) > 0 {
			id = returned[0][t.IDColumn]
		}
	} else {
		query, args := ib.Query()
		var res sql.Result
		if err := sc.store.Exec(sc.ctx, query, args, &res); err != nil {
			return nil, constraintError(t, err)
		}
		if id == nil {
			last, err := res.LastInsertId()
			if err != nil {
				return nil, err
			}
			id = last
		}
	}
	n.row[t.IDColumn] = id

	// The insert is only authorized if the inserted row is visible to
	// the caller's policy, even though the caller just created it.
	row, err := t.visibleRow(sc, id, lattice.OpInsert)
	if err != nil {
		return nil, err
	}
	if t.AfterUpdate != nil {
		if err := t.AfterUpdate(sc.ctx, lattice.OpInsert, row); err != nil {
			return nil, err
		}
	}
	if err := t.runSetters(wc, n, row); err != nil {
		return nil, err
	}
	item, err := t.shapeRow(sc, row, nil)
	if err != nil {
		return nil, err
	}
	wc.record("insert", path, item, t)
	return row, nil
}

func (t *Table) executeUpdate(wc *writeCtx, n *node, path string) (map[string]any, error) {
	sc := wc.sc
	current := n.current
	if current == nil {
		// Validation ran against a different statement context; re-read
		// defensively through the policy.
		var err error
		current, err = t.visibleRow(sc, n.id(), lattice.OpUpdate)
		if err != nil {
			return nil, err
		}
	}

	draft := make(map[string]any, len(current)+len(n.row))
	for k, v := range current {
		draft[k] = v
	}
	for k, v := range n.row {
		draft[k] = v
	}
	if t.BeforeUpdate != nil {
		if err := t.BeforeUpdate(sc.ctx, lattice.OpUpdate, draft, current); err != nil {
			return nil, err
		}
	}

	delta := make(map[string]any)
	for column, v := range draft {
		if column == t.IDColumn || !t.writable(column) {
			continue
		}
		if !valueEqual(current[column], v) {
			delta[column] = v
		}
	}
	row := current
	if len(delta) > 0 {
		ub := sql.Dialect(t.dialect()).Update(t.storeName())
		columns := make([]string, 0, len(delta))
		for column := range delta {
			columns = append(columns, column)
		}
		sort.Strings(columns)
		for _, column := range columns {
			if delta[column] == nil {
				ub.SetNull(column)
			} else {
				ub.Set(column, delta[column])
			}
		}
		where := sql.EQ(t.IDColumn, n.id())
		if t.TenantColumn != "" && n.row[t.TenantColumn] != nil {
			where = sql.And(where, sql.EQ(t.TenantColumn, n.row[t.TenantColumn]))
		}
		ub.Where(where)
		query, args := ub.Query()
		if err := sc.store.Exec(sc.ctx, query, args, nil); err != nil {
			return nil, constraintError(t, err)
		}

		// Re-read after the update: the policy may depend on the very
		// columns just changed.
		var err error
		row, err = t.visibleRow(sc, n.id(), lattice.OpUpdate)
		if err != nil {
			return nil, err
		}
		if t.AfterUpdate != nil {
			if err := t.AfterUpdate(sc.ctx, lattice.OpUpdate, row); err != nil {
				return nil, err
			}
		}
		item, err := t.shapeRow(sc, row, nil)
		if err != nil {
			return nil, err
		}
		wc.record("update", path, item, t)
	}
	if err := t.runSetters(wc, n, row); err != nil {
		return nil, err
	}
	return row, nil
}

// executeDelete deletes a policy-visible row: paranoid tables set their
// soft-delete marker and cascade to paranoid hasMany children only;
// everything else is hard-deleted. Children that are not soft-deletable
// are never touched by cascade.
func (t *Table) executeDelete(wc *writeCtx, n *node, path string) (map[string]any, error) {
	sc := wc.sc
	row, err := t.visibleRow(sc, n.id(), lattice.OpDelete)
	if err != nil {
		return nil, err
	}
	if t.Paranoid {
		return t.softDelete(wc, row, path)
	}
	db := sql.Dialect(t.dialect()).Delete(t.storeName())
	db.Where(sql.EQ(t.IDColumn, n.id()))
	query, args := db.Query()
	if err := sc.store.Exec(sc.ctx, query, args, nil); err != nil {
		return nil, constraintError(t, err)
	}
	item, err := t.shapeRow(sc, row, nil)
	if err != nil {
		return nil, err
	}
	wc.record("delete", path, item, t)
	return row, nil
}

// softDelete marks one row deleted and recursively cascades to hasMany
// children that are themselves paranoid. Every marked row produces its
// own change entry.
func (t *Table) softDelete(wc *writeCtx, row map[string]any, path string) (map[string]any, error) {
	sc := wc.sc
	id := row[t.IDColumn]
	now := time.Now().UTC()
	ub := sql.Dialect(t.dialect()).
		Update(t.storeName()).
		Set(t.DeletedAtColumn, now)
	ub.Where(sql.EQ(t.IDColumn, id))
	query, args := ub.Query()
	if err := sc.store.Exec(sc.ctx, query, args, nil); err != nil {
		return nil, constraintError(t, err)
	}
	row[t.DeletedAtColumn] = now
	item, err := t.shapeRow(sc, row, nil)
	if err != nil {
		return nil, err
	}
	wc.record("delete", path, item, t)

	names := make([]string, 0, len(t.HasMany))
	for name := range t.HasMany {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		rt := t.HasMany[name]
		child := rt.Table
		if !child.Paranoid {
			continue
		}
		stmt := sql.Dialect(child.dialect()).
			Select().
			From(sql.Table(child.storeName()).As(sc.alias(child.Name)))
		for _, c := range child.readColumns() {
			stmt.AppendSelect(stmt.C(c))
		}
		stmt.Where(sql.EQ(stmt.C(rt.Relation.Column), row[rt.Relation.RefColumn]))
		if err := child.scopeStmtOp(sc, stmt, lattice.OpDelete); err != nil {
			return nil, err
		}
		children, err := child.queryMaps(sc, stmt)
		if err != nil {
			return nil, err
		}
		for i, crow := range children {
			childPath := path + "." + name + "." + strconv.Itoa(i)
			if _, err := child.softDelete(wc, crow, childPath); err != nil {
				return nil, err
			}
		}
	}
	return row, nil
}

func (t *Table) runSetters(wc *writeCtx, n *node, row map[string]any) error {
	keys := make([]string, 0, len(n.virtual))
	for k := range n.virtual {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		setter := t.Setters[k]
		if setter == nil {
			continue
		}
		if err := setter(wc.sc.ctx, wc.sc.store, row, n.virtual[k]); err != nil {
			return err
		}
	}
	return nil
}

// constraintError classifies a store-level write failure by its driver
// error code before wrapping it.
func constraintError(t *Table, err error) error {
	msg := t.Label()
	switch {
	case sql.IsUniqueConstraintError(err):
		msg += ": unique constraint"
	case sql.IsForeignKeyConstraintError(err):
		msg += ": foreign key constraint"
	case sql.IsCheckConstraintError(err):
		msg += ": check constraint"
	}
	return lattice.NewConstraintError(msg, err)
}

func valueEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if at, ok := a.(time.Time); ok {
		if bt, ok := b.(time.Time); ok {
			return at.Equal(bt)
		}
	}
	return fmt.Sprint(a) == fmt.Sprint(b)
}

// WriteAll applies one patch to every row matching the filters, inside
// one transaction: the patch validates once, the affected row count is
// checked against the table's bulk cap before anything mutates, and the
// mutated rows must all remain policy-visible afterwards.
func (t *Table) WriteAll(ctx context.Context, params Params, patch map[string]any) (*ChangeSet, error) {
	filters, opts, verr := t.parseParams(params)
	if !verr.Empty() {
		return nil, verr.OrNil()
	}

	tx, err := t.registry.drv.Tx(ctx)
	if err != nil {
		return nil, err
	}
	sc := t.newStmtCtx(ctx, lattice.OpUpdate, tx)
	sc.tenant, sc.withDeleted = opts.tenant, opts.withDeleted
	wc := &writeCtx{sc: sc, tx: tx, touched: make(map[*Table]bool)}
	sc.ctx = context.WithValue(ctx, writeCtxKey{}, wc)

	// Validate the patch schema once.
	perr := lattice.NewValidationError()
	patchRow := make(map[string]any, len(patch))
	for key, v := range patch {
		column := t.internal(key)
		col, ok := t.Columns[column]
		if !ok || column == t.IDColumn || !t.writable(column) {
			perr.Add(key, "is not updatable")
			continue
		}
		cv, cerr := coerceValue(col, v)
		if cerr != nil {
			perr.Add(key, cerr.Error())
			continue
		}
		for _, rule := range t.Rules[column] {
			cv, cerr = rule(ctx, cv)
			if cerr != nil {
				perr.Add(key, cerr.Error())
				break
			}
		}
		if cerr == nil {
			patchRow[column] = cv
		}
	}
	if !perr.Empty() {
		return nil, rollback(tx, perr)
	}

	stmt, err := t.buildRead(sc, filters)
	if err != nil {
		return nil, rollback(tx, err)
	}
	// One row past the cap is enough to reject; an unbounded filter must
	// not pull the whole table first.
	stmt.Limit(t.MaxBulk + 1)
	rows, err := t.queryMaps(sc, stmt)
	if err != nil {
		return nil, rollback(tx, err)
	}
	if len(rows) > t.MaxBulk {
		return nil, rollback(tx, lattice.NewComplexityError(t.Label(), t.MaxBulk))
	}

	result := &ChangeSet{ChangeID: uuid.NewString()}
	ids := make([]any, 0, len(rows))
	for i, current := range rows {
		n := &node{table: t, mode: lattice.OpUpdate, current: current, virtual: map[string]any{}}
		n.row = map[string]any{t.IDColumn: current[t.IDColumn]}
		for column, v := range patchRow {
			n.row[column] = v
		}
		if t.TenantColumn != "" {
			n.row[t.TenantColumn] = current[t.TenantColumn]
		}
		row, err := t.executeUpdate(wc, n, t.Label()+"."+strconv.Itoa(i))
		if err != nil {
			return nil, rollback(tx, err)
		}
		ids = append(ids, current[t.IDColumn])
		item, err := t.shapeRow(sc, row, nil)
		if err != nil {
			return nil, rollback(tx, err)
		}
		result.Items = append(result.Items, item)
	}

	// The whole batch must still be visible after mutation.
	if len(ids) > 0 {
		check := sql.Dialect(t.dialect()).
			Select().
			From(sql.Table(t.storeName()).As(sc.alias(t.Name)))
		check.Select(check.C(t.IDColumn))
		check.Where(sql.In(check.C(t.IDColumn), ids...))
		if err := t.scopeStmtOp(sc, check, lattice.OpUpdate); err != nil {
			return nil, rollback(tx, err)
		}
		visible, err := t.queryMaps(sc, check)
		if err != nil {
			return nil, rollback(tx, err)
		}
		if len(visible) != len(ids) {
			return nil, rollback(tx, lattice.NewUnauthorizedError(t.Label(), lattice.OpUpdate))
		}
	}

	for _, fn := range wc.beforeCommit {
		if err := fn(sc.ctx); err != nil {
			return nil, rollback(tx, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	result.Changes = wc.changes
	for touched := range wc.touched {
		touched.invalidate(ctx)
	}
	t.registry.emitter.Emit(result)
	return result, nil
}
