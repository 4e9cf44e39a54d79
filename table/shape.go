package table

import (
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// Shaping converts raw store rows into API envelopes: convention-cased
// keys, decoded eager-load JSON columns, computed getter fields, and
// the _url/_type/_links metadata.

// Item is a shaped single-row envelope.
type Item map[string]any

// Links maps link names to URLs.
type Links map[string]string

// CollectionResult is the shaped envelope of a collection read.
type CollectionResult struct {
	Items   []Item `json:"items"`
	Page    int    `json:"page"`
	Limit   int    `json:"limit"`
	HasMore bool   `json:"hasMore"`
	URL     string `json:"_url"`
	Type    string `json:"_type"`
	Links   Links  `json:"_links"`
}

func (t *Table) baseURL() string {
	return strings.TrimSuffix(t.registry.baseURL, "/") + "/" + url.PathEscape(t.Label())
}

func (t *Table) itemURL(id any) string {
	return t.baseURL() + "/" + url.PathEscape(fmt.Sprint(id))
}

// shapeRow builds the single-item envelope for a raw store row.
func (t *Table) shapeRow(sc *stmtCtx, row map[string]any, specs []includeSpec) (Item, error) {
	item := make(Item, len(row)+3)
	for column, v := range row {
		item[t.external(column)] = v
	}
	for _, spec := range specs {
		switch spec.kind {
		case includeObject:
			v, err := decodeJSONColumn(item[spec.key], false)
			if err != nil {
				return nil, fmt.Errorf("table: decode %s.%s: %w", t.Label(), spec.key, err)
			}
			item[spec.key] = t.reshapeNested(v)
		case includeArray:
			v, err := decodeJSONColumn(item[spec.key], true)
			if err != nil {
				return nil, fmt.Errorf("table: decode %s.%s: %w", t.Label(), spec.key, err)
			}
			item[spec.key] = t.reshapeNested(v)
		case includeComputed:
			v, err := spec.getter.Value(sc.ctx, row)
			if err != nil {
				return nil, err
			}
			item[spec.key] = v
		}
	}
	id := row[t.IDColumn]
	item["_url"] = t.itemURL(id)
	item["_type"] = t.Label()
	item["_links"] = t.rowLinks(row, specs)
	return item, nil
}

// rowLinks builds per-row links for related rows that were not eagerly
// included.
func (t *Table) rowLinks(row map[string]any, specs []includeSpec) Links {
	included := make(map[string]bool, len(specs))
	for _, s := range specs {
		included[s.key] = true
	}
	links := make(Links)
	names := make([]string, 0, len(t.HasOne)+len(t.HasMany))
	for name := range t.HasOne {
		names = append(names, name)
	}
	for name := range t.HasMany {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if included[name] {
			continue
		}
		if rt, ok := t.HasOne[name]; ok {
			fk := row[rt.Relation.Column]
			if fk == nil {
				continue
			}
			links[name] = rt.Table.itemURL(fk)
			continue
		}
		rt := t.HasMany[name]
		id := row[rt.Relation.RefColumn]
		if id == nil {
			continue
		}
		q := url.Values{}
		q.Set(rt.Table.external(rt.Relation.Column), fmt.Sprint(id))
		links[name] = rt.Table.baseURL() + "?" + q.Encode()
	}
	return links
}

// decodeJSONColumn parses a JSON-shaped eager column. Drivers hand the
// aggregate back as a string; a SQL NULL means no related row.
func decodeJSONColumn(v any, array bool) (any, error) {
	if v == nil {
		if array {
			return []any{}, nil
		}
		return nil, nil
	}
	s, ok := v.(string)
	if !ok {
		return v, nil
	}
	if array {
		var out []any
		if err := json.Unmarshal([]byte(s), &out); err != nil {
			return nil, err
		}
		return out, nil
	}
	var out map[string]any
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return nil, err
	}
	return out, nil
}

// reshapeNested applies the naming convention to the keys of decoded
// nested rows, recursively.
func (t *Table) reshapeNested(v any) any {
	switch vv := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(vv))
		for k, e := range vv {
			out[t.external(k)] = t.reshapeNested(e)
		}
		return out
	case []any:
		for i, e := range vv {
			vv[i] = t.reshapeNested(e)
		}
		return vv
	default:
		return v
	}
}

// collectionLinks builds the _links block of a collection envelope.
func (t *Table) collectionLinks(filters Params, opts *readOptions, keys []sortKey, rows []map[string]any, hasMore bool) (Links, error) {
	links := make(Links)
	base := t.baseURL()
	q := url.Values{}
	fkeys := make([]string, 0, len(filters))
	for k := range filters {
		fkeys = append(fkeys, k)
	}
	sort.Strings(fkeys)
	for _, k := range fkeys {
		q.Set(k, fmt.Sprint(filters[k]))
	}
	q.Set(paramLimit, fmt.Sprint(opts.limit))

	links["count"] = base + "/count?" + q.Encode()
	links["ids"] = base + "/ids?" + q.Encode()

	if hasMore && len(rows) > 0 {
		next := cloneValues(q)
		if opts.keyset {
			cursor, err := encodeCursor(keys, rows[len(rows)-1])
			if err != nil {
				return nil, err
			}
			next.Set(paramCursor, cursor)
		} else {
			next.Set(paramPage, fmt.Sprint(opts.page+1))
		}
		links["nextPage"] = base + "?" + next.Encode()
	}
	if !opts.keyset && opts.page > 0 {
		prev := cloneValues(q)
		prev.Set(paramPage, fmt.Sprint(opts.page-1))
		links["previousPage"] = base + "?" + prev.Encode()
	}
	return links, nil
}

func cloneValues(q url.Values) url.Values {
	out := make(url.Values, len(q))
	for k, vs := range q {
		out[k] = append([]string(nil), vs...)
	}
	return out
}
