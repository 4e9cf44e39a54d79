package table

import (
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/graphtable/lattice"
	"github.com/graphtable/lattice/dialect/sql"
)

// Pagination supports two modes. Offset mode orders, limits and offsets
// the statement by page number. Keyset mode decodes an opaque cursor
// into the last-seen sort-key tuple and compiles a "strictly after the
// cursor" predicate, generalized to N sort columns; an empty cursor
// selects keyset mode with no lower bound. Both modes share
// the same sort resolution, which always ends in the id column so the
// ordering is total.

type sortKey struct {
	column string
	desc   bool
}

// resolveSort parses explicit sort params ("col"/"-col") or falls back
// to the table's default sort, validating columns and appending the id
// tie-break when absent.
func (t *Table) resolveSort(params []string) ([]sortKey, *lattice.ValidationError) {
	verr := lattice.NewValidationError()
	if len(params) == 0 {
		params = t.DefaultSort
	}
	var keys []sortKey
	seenID := false
	for _, p := range params {
		desc := strings.HasPrefix(p, "-")
		name := strings.TrimPrefix(p, "-")
		column := t.internal(name)
		if _, ok := t.Columns[column]; !ok {
			verr.Add(paramSort, fmt.Sprintf("%s is not sortable", name))
			continue
		}
		if column == t.IDColumn {
			seenID = true
		}
		keys = append(keys, sortKey{column: column, desc: desc})
	}
	if !seenID {
		keys = append(keys, sortKey{column: t.IDColumn})
	}
	return keys, verr
}

func applySort(stmt *sql.Selector, keys []sortKey) {
	columns := make([]string, len(keys))
	for i, k := range keys {
		c := stmt.C(k.column)
		if k.desc {
			c = "-" + c
		}
		columns[i] = c
	}
	stmt.OrderBy(columns...)
}

// cursorPayload carries the sort-key tuple of the last row of a page.
// Columns keep their order so the keyset comparison reconstructs the
// exact same ordering.
type cursorPayload struct {
	Columns []string `msgpack:"c"`
	Values  []any    `msgpack:"v"`
}

// encodeCursor derives the next-page cursor from the last row of the
// current page under the given sort.
func encodeCursor(keys []sortKey, row map[string]any) (string, error) {
	payload := cursorPayload{
		Columns: make([]string, len(keys)),
		Values:  make([]any, len(keys)),
	}
	for i, k := range keys {
		payload.Columns[i] = k.column
		payload.Values[i] = row[k.column]
	}
	data, err := msgpack.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("table: encode cursor: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(data), nil
}

func decodeCursor(cursor string) (*cursorPayload, error) {
	data, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return nil, fmt.Errorf("is not a valid cursor")
	}
	var payload cursorPayload
	if err := msgpack.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("is not a valid cursor")
	}
	if len(payload.Columns) != len(payload.Values) {
		return nil, fmt.Errorf("is not a valid cursor")
	}
	return &payload, nil
}

// keysetPredicate compiles "row is strictly after the cursor under this
// ordering": a disjunction over prefixes, equal on all higher-priority
// columns and strictly ordered on the next.
func keysetPredicate(stmt *sql.Selector, keys []sortKey, payload *cursorPayload) (*sql.Predicate, error) {
	if len(payload.Columns) != len(keys) {
		return nil, fmt.Errorf("does not match the requested sort")
	}
	values := make(map[string]any, len(payload.Columns))
	for i, c := range payload.Columns {
		values[c] = payload.Values[i]
	}
	var alternatives []*sql.Predicate
	for i, k := range keys {
		v, ok := values[k.column]
		if !ok {
			return nil, fmt.Errorf("does not match the requested sort")
		}
		var clauses []*sql.Predicate
		for _, prev := range keys[:i] {
			clauses = append(clauses, sql.EQ(stmt.C(prev.column), values[prev.column]))
		}
		if k.desc {
			clauses = append(clauses, sql.LT(stmt.C(k.column), v))
		} else {
			clauses = append(clauses, sql.GT(stmt.C(k.column), v))
		}
		alternatives = append(alternatives, sql.And(clauses...))
	}
	return sql.Or(alternatives...), nil
}

// applyPagination finalizes the statement for the requested mode and
// returns the resolved sort keys. Cursor mode never offsets; offset
// mode computes offset = page * limit.
func (t *Table) applyPagination(stmt *sql.Selector, opts *readOptions) ([]sortKey, *lattice.ValidationError) {
	keys, verr := t.resolveSort(opts.sort)
	if !verr.Empty() {
		return nil, verr
	}
	applySort(stmt, keys)
	limit := clampLimit(opts.limit)
	stmt.Limit(limit)
	if opts.cursor != "" {
		payload, err := decodeCursor(opts.cursor)
		if err != nil {
			verr.Add(paramCursor, err.Error())
			return nil, verr
		}
		p, err := keysetPredicate(stmt, keys, payload)
		if err != nil {
			verr.Add(paramCursor, err.Error())
			return nil, verr
		}
		if p != nil {
			stmt.Where(p)
		}
		return keys, verr
	}
	if !opts.keyset && opts.page > 0 {
		stmt.Offset(opts.page * limit)
	}
	return keys, verr
}
