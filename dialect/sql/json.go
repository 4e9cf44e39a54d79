package sql

import (
	"strings"

	"github.com/graphtable/lattice/dialect"
)

// JSON shaping expressions. Eager-loaded related rows come back as JSON
// objects and arrays computed by the store inside correlated subqueries,
// so a single statement returns the whole nested shape.

// jsonObjectFunc returns the dialect's row→object constructor.
func jsonObjectFunc(dialectName string) string {
	switch dialectName {
	case dialect.Postgres:
		return "json_build_object"
	default: // MySQL and SQLite share the name
		return "json_object"
	}
}

// JSONObject returns an expression building a JSON object from the given
// alias-qualified columns of sel's table. Keys are the bare column names.
func JSONObject(dialectName string, t *SelectTable, columns []string) *Expr {
	var sb strings.Builder
	sb.WriteString(jsonObjectFunc(dialectName))
	sb.WriteByte('(')
	for i, c := range columns {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteByte('\'')
		sb.WriteString(c)
		sb.WriteString("', ")
		sb.WriteString(quoteIdent(dialectName, t.C(c)))
	}
	sb.WriteByte(')')
	return ExprFunc(sb.String())
}

// JSONArrayAgg wraps a JSON object expression in the dialect's array
// aggregate, coalesced to an empty array so absent children shape as [].
func JSONArrayAgg(dialectName string, object *Expr) *Expr {
	expr, args := object.Query()
	var agg string
	switch dialectName {
	case dialect.Postgres:
		agg = "COALESCE(json_agg(" + expr + "), '[]'::json)"
	case dialect.MySQL:
		agg = "COALESCE(JSON_ARRAYAGG(" + expr + "), JSON_ARRAY())"
	default:
		agg = "COALESCE(json_group_array(" + expr + "), json_array())"
	}
	return ExprFunc(agg, args...)
}

// quoteIdent quotes a possibly dotted identifier for the dialect, outside
// of a Builder context.
func quoteIdent(dialectName, ident string) string {
	b := Builder{dialect: dialectName}
	return b.Quote(ident)
}
