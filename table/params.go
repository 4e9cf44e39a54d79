package table

import (
	"context"
	"fmt"
	"sync"

	"github.com/graphtable/lattice"
	"github.com/graphtable/lattice/dialect"
)

// Params is the decoded query-parameter object of a read request. Keys
// are external (convention-converted) column names with optional
// operator suffixes, relation names carrying nested filter objects,
// "and"/"or" groups, and the reserved read options below.
type Params map[string]any

// Reserved parameter keys consumed by the engine rather than the filter
// compiler.
const (
	paramInclude     = "include"
	paramSort        = "sort"
	paramPage        = "page"
	paramLimit       = "limit"
	paramCursor      = "cursor"
	paramWithDeleted = "withDeleted"
)

// readOptions are the non-filter parts of a request.
type readOptions struct {
	include     any
	sort        []string
	page        int
	limit       int
	cursor      string
	keyset      bool
	withDeleted bool
	tenant      any
}

// parseParams splits params into filters and read options, validating
// option values and enforcing tenant-id presence. Validation failures
// come back field-keyed; a non-empty result means the request is bad.
func (t *Table) parseParams(params Params) (Params, *readOptions, *lattice.ValidationError) {
	verr := lattice.NewValidationError()
	opts := &readOptions{limit: MaxLimit}
	filters := make(Params, len(params))
	for k, v := range params {
		switch k {
		case paramInclude:
			opts.include = v
		case paramSort:
			sorts, err := stringList(v)
			if err != nil {
				verr.Add(paramSort, err.Error())
				continue
			}
			opts.sort = sorts
		case paramPage:
			n, err := coerceInt(v)
			if err != nil {
				verr.Add(paramPage, err.Error())
				continue
			}
			opts.page = int(n.(int64))
			if opts.page < 0 {
				verr.Add(paramPage, "must not be negative")
			}
		case paramLimit:
			n, err := coerceInt(v)
			if err != nil {
				verr.Add(paramLimit, err.Error())
				continue
			}
			opts.limit = clampLimit(int(n.(int64)))
		case paramCursor:
			s, ok := v.(string)
			if !ok {
				verr.Add(paramCursor, "must be a string")
				continue
			}
			// An empty cursor starts a keyset walk at the first page.
			opts.cursor, opts.keyset = s, true
		case paramWithDeleted:
			b, err := coerceBool(v)
			if err != nil {
				verr.Add(paramWithDeleted, err.Error())
				continue
			}
			opts.withDeleted = b.(bool)
		default:
			filters[k] = v
		}
	}
	if t.TenantColumn != "" {
		key := t.external(t.TenantColumn)
		v, ok := filters[key]
		if !ok || v == nil {
			verr.Add(key, "is required")
		} else {
			opts.tenant = v
		}
	}
	return filters, opts, verr
}

func clampLimit(n int) int {
	if n < 0 {
		return 0
	}
	if n > MaxLimit {
		return MaxLimit
	}
	return n
}

func stringList(v any) ([]string, error) {
	switch vv := v.(type) {
	case string:
		return []string{vv}, nil
	case []string:
		return vv, nil
	case []any:
		out := make([]string, len(vv))
		for i, e := range vv {
			s, ok := e.(string)
			if !ok {
				return nil, fmt.Errorf("must be a string or array of strings")
			}
			out[i] = s
		}
		return out, nil
	default:
		return nil, fmt.Errorf("must be a string or array of strings")
	}
}

// stmtCtx threads per-request compile state through filter, eager-load
// and validation recursion: the operation mode, the store the statement
// will run against, the shrinking complexity budget, the tenant value
// and a counter for unique subquery aliases.
type stmtCtx struct {
	ctx         context.Context
	op          lattice.Op
	store       dialect.ExecQuerier
	tenant      any
	withDeleted bool

	// mu guards budget and aliases: sibling subtrees may validate
	// concurrently against the same shrinking budget.
	mu      sync.Mutex
	budget  int
	aliases map[string]int
}

func (t *Table) newStmtCtx(ctx context.Context, op lattice.Op, store dialect.ExecQuerier) *stmtCtx {
	return &stmtCtx{
		ctx:     ctx,
		op:      op,
		store:   store,
		budget:  t.registry.budget,
		aliases: make(map[string]int),
	}
}

// spend subtracts the table's complexity weight from the remaining
// budget. Exhaustion aborts the request before any statement for the
// offending subtree executes.
func (sc *stmtCtx) spend(t *Table) error {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.budget -= t.Complexity
	if sc.budget <= 0 {
		return lattice.NewComplexityError(t.Label(), t.registry.budget)
	}
	return nil
}

// alias returns a fresh statement-unique alias for a table name, so
// self-referencing and repeated subqueries never collide.
func (sc *stmtCtx) alias(name string) string {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.aliases[name]++
	return fmt.Sprintf("%s_%d", name, sc.aliases[name])
}

// storeName is the name the table goes by in statements.
func (t *Table) storeName() string {
	if t.Schema == "" || t.Schema == "public" || t.dialect() == dialect.SQLite {
		return t.Name
	}
	return t.Schema + "." + t.Name
}
