package sql

import (
	"strings"

	"github.com/graphtable/lattice/dialect"
)

// Predicate is a composable boolean expression over a statement. Predicates
// render lazily against the owning builder so dialect and placeholder
// numbering are resolved at Query time.
type Predicate struct {
	Builder
	fns []func(*Builder)
}

// P returns an empty predicate to append raw fragments to.
func P(fns ...func(*Builder)) *Predicate {
	return &Predicate{fns: fns}
}

// clone returns a structural copy of the predicate.
func (p *Predicate) clone() *Predicate {
	if p == nil {
		return nil
	}
	return &Predicate{fns: append(p.fns[:0:0], p.fns...)}
}

// Append adds a rendering step to the predicate.
func (p *Predicate) Append(fn func(*Builder)) *Predicate {
	p.fns = append(p.fns, fn)
	return p
}

// Query implements Querier.
func (p *Predicate) Query() (string, []any) {
	b := p.clone()
	out := p.Builder.clone()
	for _, fn := range b.fns {
		fn(&out)
	}
	p.errs = append(p.errs, out.errs...)
	return out.String(), out.args
}

// And combines the given predicates with AND, wrapped in parentheses when
// more than one is given.
func And(preds ...*Predicate) *Predicate {
	preds = nonNil(preds)
	switch len(preds) {
	case 0:
		return nil
	case 1:
		return preds[0]
	}
	return P(func(b *Builder) {
		for i, p := range preds {
			if i > 0 {
				b.WriteString(" AND ")
			}
			b.Wrap(func(b *Builder) { b.Join(p) })
		}
	})
}

// Or combines the given predicates with OR, wrapped in parentheses.
func Or(preds ...*Predicate) *Predicate {
	preds = nonNil(preds)
	switch len(preds) {
	case 0:
		return nil
	case 1:
		return preds[0]
	}
	return P(func(b *Builder) {
		for i, p := range preds {
			if i > 0 {
				b.WriteString(" OR ")
			}
			b.Wrap(func(b *Builder) { b.Join(p) })
		}
	})
}

// Not negates the given predicate.
func Not(p *Predicate) *Predicate {
	if p == nil {
		return nil
	}
	return P(func(b *Builder) {
		b.WriteString("NOT ")
		b.Wrap(func(b *Builder) { b.Join(p) })
	})
}

func nonNil(preds []*Predicate) []*Predicate {
	out := preds[:0]
	for _, p := range preds {
		if p != nil {
			out = append(out, p)
		}
	}
	return out
}

func compare(op, column string, v any) *Predicate {
	return P(func(b *Builder) {
		b.Ident(column).Pad().WriteString(op).Pad().Arg(v)
	})
}

// EQ returns a column = value predicate. A nil value renders IS NULL.
func EQ(column string, v any) *Predicate {
	if v == nil {
		return IsNull(column)
	}
	return compare("=", column, v)
}

// NEQ returns a column <> value predicate. A nil value renders IS NOT NULL.
func NEQ(column string, v any) *Predicate {
	if v == nil {
		return NotNull(column)
	}
	return compare("<>", column, v)
}

// GT returns a column > value predicate.
func GT(column string, v any) *Predicate { return compare(">", column, v) }

// GTE returns a column >= value predicate.
func GTE(column string, v any) *Predicate { return compare(">=", column, v) }

// LT returns a column < value predicate.
func LT(column string, v any) *Predicate { return compare("<", column, v) }

// LTE returns a column <= value predicate.
func LTE(column string, v any) *Predicate { return compare("<=", column, v) }

// In returns a column IN (...) membership predicate. An empty list renders
// FALSE so the statement stays valid.
func In(column string, vs ...any) *Predicate {
	return P(func(b *Builder) {
		if len(vs) == 0 {
			b.WriteString("FALSE")
			return
		}
		b.Ident(column).WriteString(" IN ")
		b.Wrap(func(b *Builder) { b.Args(vs...) })
	})
}

// NotIn returns a column NOT IN (...) predicate. An empty list renders TRUE.
func NotIn(column string, vs ...any) *Predicate {
	return P(func(b *Builder) {
		if len(vs) == 0 {
			b.WriteString("TRUE")
			return
		}
		b.Ident(column).WriteString(" NOT IN ")
		b.Wrap(func(b *Builder) { b.Args(vs...) })
	})
}

// InSelect returns a column IN (subquery) membership predicate.
func InSelect(column string, sel *Selector) *Predicate {
	return P(func(b *Builder) {
		b.Ident(column).WriteString(" IN ")
		b.Nested(sel)
	})
}

// IsNull returns a column IS NULL predicate.
func IsNull(column string) *Predicate {
	return P(func(b *Builder) { b.Ident(column).WriteString(" IS NULL") })
}

// NotNull returns a column IS NOT NULL predicate.
func NotNull(column string) *Predicate {
	return P(func(b *Builder) { b.Ident(column).WriteString(" IS NOT NULL") })
}

// ColumnsEQ returns a column = column predicate, used for join and
// correlation conditions.
func ColumnsEQ(c1, c2 string) *Predicate {
	return P(func(b *Builder) {
		b.Ident(c1).WriteString(" = ").Ident(c2)
	})
}

// Exists returns an EXISTS (subquery) predicate.
func Exists(sel *Selector) *Predicate {
	return P(func(b *Builder) {
		b.WriteString("EXISTS ")
		b.Nested(sel)
	})
}

// NotExists returns a NOT EXISTS (subquery) predicate.
func NotExists(sel *Selector) *Predicate {
	return P(func(b *Builder) {
		b.WriteString("NOT EXISTS ")
		b.Nested(sel)
	})
}

// Like returns a column LIKE pattern predicate.
func Like(column, pattern string) *Predicate {
	return compare("LIKE", column, pattern)
}

// Contains returns a substring-match predicate.
func Contains(column, sub string) *Predicate {
	return Like(column, "%"+escapeLike(sub)+"%")
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, "%", `\%`, "_", `\_`)
	return r.Replace(s)
}

// Match returns a full-text search predicate for the given column and
// search terms. Postgres uses tsvector matching, MySQL a boolean-mode
// MATCH, and SQLite falls back to a case-insensitive LIKE.
func Match(column, terms string) *Predicate {
	return P(func(b *Builder) {
		switch b.dialect {
		case dialect.Postgres:
			b.WriteString("to_tsvector('simple', ").Ident(column).WriteString(") @@ plainto_tsquery('simple', ").Arg(terms).WriteString(")")
		case dialect.MySQL:
			b.WriteString("MATCH (").Ident(column).WriteString(") AGAINST (").Arg(terms).WriteString(" IN BOOLEAN MODE)")
		default:
			b.WriteString("LOWER(").Ident(column).WriteString(") LIKE ").Arg("%" + strings.ToLower(escapeLike(terms)) + "%")
		}
	})
}

// ExprP returns a predicate from a raw expression and bound arguments.
func ExprP(expr string, args ...any) *Predicate {
	return P(func(b *Builder) {
		b.Join(ExprFunc(expr, args...))
	})
}
