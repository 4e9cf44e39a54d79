package table

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/graphtable/lattice"
	"github.com/graphtable/lattice/dialect/sql"
	"github.com/graphtable/lattice/privacy"
)

// MaxIDLimit caps an IDs listing, which returns far lighter rows than a
// collection read.
const MaxIDLimit = 1000

// buildRead compiles the shared part of every read: the aliased root
// view with its exposed columns, the filter predicate, and the scoping
// pipeline.
func (t *Table) buildRead(sc *stmtCtx, filters Params) (*sql.Selector, error) {
	stmt := sql.Dialect(t.dialect()).
		Select().
		From(sql.Table(t.storeName()).As(sc.alias(t.Name)))
	for _, c := range t.readColumns() {
		stmt.AppendSelect(stmt.C(c))
	}
	pred, verr := t.compileFilter(sc, stmt, filters)
	if !verr.Empty() {
		return nil, verr.OrNil()
	}
	if pred != nil {
		stmt.Where(pred)
	}
	if err := t.scopeStmt(sc, stmt); err != nil {
		return nil, err
	}
	return stmt, nil
}

func (t *Table) queryMaps(sc *stmtCtx, stmt *sql.Selector) ([]map[string]any, error) {
	query, args := stmt.Query()
	if err := stmt.Err(); err != nil {
		return nil, err
	}
	var rows sql.Rows
	if err := sc.store.Query(sc.ctx, query, args, &rows); err != nil {
		return nil, err
	}
	defer rows.Close()
	return sql.ScanMaps(&rows)
}

// Collection reads a filtered, eagerly-loaded, paginated page of rows.
func (t *Table) Collection(ctx context.Context, params Params) (*CollectionResult, error) {
	filters, opts, verr := t.parseParams(params)
	if !verr.Empty() {
		return nil, verr.OrNil()
	}
	sc := t.newStmtCtx(ctx, lattice.OpRead, t.registry.drv)
	sc.tenant, sc.withDeleted = opts.tenant, opts.withDeleted
	if err := sc.spend(t); err != nil {
		return nil, err
	}

	if cached, ok := t.cachedCollection(sc, filters, opts); ok {
		return cached, nil
	}

	stmt, err := t.buildRead(sc, filters)
	if err != nil {
		return nil, err
	}
	specs, err := t.applyIncludes(sc, stmt, opts.include)
	if err != nil {
		return nil, err
	}
	keys, perr := t.applyPagination(stmt, opts)
	if !perr.Empty() {
		return nil, perr.OrNil()
	}
	rows, err := t.queryMaps(sc, stmt)
	if err != nil {
		return nil, err
	}

	limit := clampLimit(opts.limit)
	hasMore := limit > 0 && len(rows) >= limit
	items := make([]Item, len(rows))
	for i, row := range rows {
		item, err := t.shapeRow(sc, row, specs)
		if err != nil {
			return nil, err
		}
		items[i] = item
	}
	links, err := t.collectionLinks(filters, opts, keys, rows, hasMore)
	if err != nil {
		return nil, err
	}
	result := &CollectionResult{
		Items:   items,
		Page:    opts.page,
		Limit:   limit,
		HasMore: hasMore,
		URL:     t.baseURL(),
		Type:    t.Label() + "Collection",
		Links:   links,
	}
	t.storeCollection(sc, filters, opts, result)
	return result, nil
}

// Item reads a single row by id with eager loading. A row that does not
// exist, is soft-deleted, or falls outside the caller's policy reads as
// absent.
func (t *Table) Item(ctx context.Context, id any, params Params) (Item, error) {
	filters, opts, verr := t.parseParams(params)
	if !verr.Empty() {
		return nil, verr.OrNil()
	}
	sc := t.newStmtCtx(ctx, lattice.OpRead, t.registry.drv)
	sc.tenant, sc.withDeleted = opts.tenant, opts.withDeleted
	if err := sc.spend(t); err != nil {
		return nil, err
	}
	if t.IDModifier != nil {
		id = t.IDModifier(ctx, id)
	}
	stmt, err := t.buildRead(sc, filters)
	if err != nil {
		return nil, err
	}
	stmt.Where(sql.EQ(stmt.C(t.IDColumn), id)).Limit(1)
	specs, err := t.applyIncludes(sc, stmt, opts.include)
	if err != nil {
		return nil, err
	}
	rows, err := t.queryMaps(sc, stmt)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, lattice.NewNotFoundError(t.Label(), id)
	}
	return t.shapeRow(sc, rows[0], specs)
}

// Count returns the number of rows matching the filters under the
// caller's policy.
func (t *Table) Count(ctx context.Context, params Params) (int64, error) {
	filters, opts, verr := t.parseParams(params)
	if !verr.Empty() {
		return 0, verr.OrNil()
	}
	sc := t.newStmtCtx(ctx, lattice.OpRead, t.registry.drv)
	sc.tenant, sc.withDeleted = opts.tenant, opts.withDeleted
	if err := sc.spend(t); err != nil {
		return 0, err
	}
	stmt, err := t.buildRead(sc, filters)
	if err != nil {
		return 0, err
	}
	rows, err := t.queryMaps(sc, stmt.Count())
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, nil
	}
	return countValue(rows[0])
}

func countValue(row map[string]any) (int64, error) {
	for _, v := range row {
		n, err := coerceInt(v)
		if err != nil {
			return 0, fmt.Errorf("table: unexpected count value %v", v)
		}
		return n.(int64), nil
	}
	return 0, nil
}

// IDs lists the ids of rows matching the filters, capped independently
// of the collection limit.
func (t *Table) IDs(ctx context.Context, params Params) ([]any, error) {
	filters, opts, verr := t.parseParams(params)
	if !verr.Empty() {
		return nil, verr.OrNil()
	}
	sc := t.newStmtCtx(ctx, lattice.OpRead, t.registry.drv)
	sc.tenant, sc.withDeleted = opts.tenant, opts.withDeleted
	if err := sc.spend(t); err != nil {
		return nil, err
	}
	stmt, err := t.buildRead(sc, filters)
	if err != nil {
		return nil, err
	}
	stmt.Select(stmt.C(t.IDColumn))
	keys, perr := t.resolveSort(opts.sort)
	if !perr.Empty() {
		return nil, perr.OrNil()
	}
	applySort(stmt, keys)
	limit := opts.limit
	if limit <= 0 || limit > MaxIDLimit {
		limit = MaxIDLimit
	}
	stmt.Limit(limit)
	if opts.page > 0 {
		stmt.Offset(opts.page * limit)
	}
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

// Read-through cache. Collections are the only cached shape; every
// committed write invalidates the whole table prefix.

const cacheTTL = time.Minute

func (t *Table) cacheKey(sc *stmtCtx, filters Params, opts *readOptions) string {
	viewer := ""
	if len(t.Policy) > 0 || t.QueryModifier != nil {
		// The statement depends on the caller, so the entry must be
		// keyed per viewer. Without an identity to key by there is no
		// way to share it safely.
		v := privacy.ViewerFromContext(sc.ctx)
		if v == nil {
			return ""
		}
		viewer = v.GetID()
	}
	params, err := json.Marshal(map[string]any{
		"filters": filters,
		"include": opts.include,
		"sort":    opts.sort,
		"cursor":  opts.cursor,
		"keyset":  opts.keyset,
		"deleted": opts.withDeleted,
		"viewer":  viewer,
	})
	if err != nil {
		return ""
	}
	key := lattice.CacheKey{
		Table:  t.Path(),
		Op:     "collection",
		Params: string(params),
		Tenant: fmt.Sprint(opts.tenant),
		Limit:  opts.limit,
		Offset: opts.page,
	}
	return key.String()
}

func (t *Table) cachedCollection(sc *stmtCtx, filters Params, opts *readOptions) (*CollectionResult, bool) {
	cache := t.registry.cache
	if cache == nil {
		return nil, false
	}
	key := t.cacheKey(sc, filters, opts)
	if key == "" {
		return nil, false
	}
	data, err := cache.Get(sc.ctx, key)
	if err != nil || data == nil {
		return nil, false
	}
	var result CollectionResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, false
	}
	return &result, true
}

func (t *Table) storeCollection(sc *stmtCtx, filters Params, opts *readOptions, result *CollectionResult) {
	cache := t.registry.cache
	if cache == nil {
		return
	}
	key := t.cacheKey(sc, filters, opts)
	if key == "" {
		return
	}
	if data, err := json.Marshal(result); err == nil {
		_ = cache.Set(sc.ctx, key, data, cacheTTL)
	}
}

// invalidate drops every cached read of the table.
func (t *Table) invalidate(ctx context.Context) {
	if t.registry.cache == nil {
		return
	}
	key := lattice.CacheKey{Table: t.Path()}
	_ = t.registry.cache.DeletePrefix(ctx, key.TablePrefix())
}
