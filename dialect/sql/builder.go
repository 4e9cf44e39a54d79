package sql

import (
	"strconv"
	"strings"

	"github.com/graphtable/lattice/dialect"
)

// Querier is the interface implemented by all statement builders.
type Querier interface {
	// Query returns the query representation of the element
	// and its arguments (if any).
	Query() (string, []any)
}

// Builder is the base for all statement builders. It holds the output
// buffer, the bound arguments, and the dialect used for quoting and
// placeholder rendering.
type Builder struct {
	sb      strings.Builder
	dialect string
	args    []any
	total   int // total placeholders; shared across nested builders
	errs    []error
}

// Dialect configures the dialect of the builder.
func (b *Builder) Dialect(d string) *Builder {
	b.dialect = d
	return b
}

func (b *Builder) postgres() bool { return b.dialect == dialect.Postgres }

// clone returns an empty builder that shares dialect and placeholder
// numbering with b, for rendering nested statements.
func (b *Builder) clone() Builder {
	return Builder{dialect: b.dialect, total: b.total}
}

// AddError records an error that occurred while building the statement.
// The first recorded error is returned by Err.
func (b *Builder) AddError(err error) *Builder {
	b.errs = append(b.errs, err)
	return b
}

// Err returns the first error recorded during building, if any.
func (b *Builder) Err() error {
	if len(b.errs) == 0 {
		return nil
	}
	return b.errs[0]
}

// WriteString appends a raw string to the buffer.
func (b *Builder) WriteString(s string) *Builder {
	b.sb.WriteString(s)
	return b
}

// WriteByte appends a raw byte to the buffer.
func (b *Builder) WriteByte(c byte) *Builder {
	b.sb.WriteByte(c)
	return b
}

// Comma appends a comma separator.
func (b *Builder) Comma() *Builder { return b.WriteString(", ") }

// Pad appends a single space.
func (b *Builder) Pad() *Builder { return b.WriteByte(' ') }

// Quote quotes the given identifier for the configured dialect. Dotted
// identifiers are quoted per segment so schema-qualified names survive.
func (b *Builder) Quote(ident string) string {
	quote := "`"
	if b.postgres() || b.dialect == dialect.SQLite {
		quote = `"`
	}
	parts := strings.Split(ident, ".")
	for i, p := range parts {
		if p != "*" {
			parts[i] = quote + strings.ReplaceAll(p, quote, "") + quote
		}
	}
	return strings.Join(parts, ".")
}

// Ident appends the quoted identifier to the buffer.
func (b *Builder) Ident(ident string) *Builder {
	return b.WriteString(b.Quote(ident))
}

// IdentComma appends the given identifiers quoted and comma-separated.
func (b *Builder) IdentComma(idents ...string) *Builder {
	for i, ident := range idents {
		if i > 0 {
			b.Comma()
		}
		b.Ident(ident)
	}
	return b
}

// Arg binds an argument and appends its placeholder.
func (b *Builder) Arg(v any) *Builder {
	if raw, ok := v.(*raw); ok {
		return b.WriteString(raw.s)
	}
	b.total++
	b.args = append(b.args, v)
	if b.postgres() {
		return b.WriteString("$" + strconv.Itoa(b.total))
	}
	return b.WriteByte('?')
}

// Args binds multiple arguments, comma-separated.
func (b *Builder) Args(vs ...any) *Builder {
	for i, v := range vs {
		if i > 0 {
			b.Comma()
		}
		b.Arg(v)
	}
	return b
}

// Wrap wraps the output of fn in parentheses.
func (b *Builder) Wrap(fn func(*Builder)) *Builder {
	b.WriteByte('(')
	fn(b)
	return b.WriteByte(')')
}

// Nested renders the given querier in parentheses, carrying over its
// arguments and placeholder numbering.
func (b *Builder) Nested(q Querier) *Builder {
	if base, ok := q.(interface{ SetDialect(string) }); ok {
		base.SetDialect(b.dialect)
	}
	if base, ok := q.(interface{ SetTotal(int) }); ok {
		base.SetTotal(b.total)
	}
	query, args := q.Query()
	b.WriteByte('(').WriteString(query).WriteByte(')')
	b.args = append(b.args, args...)
	b.total += len(args)
	return b
}

// Join renders the given querier inline (no parentheses), carrying over
// its arguments.
func (b *Builder) Join(q Querier) *Builder {
	if base, ok := q.(interface{ SetDialect(string) }); ok {
		base.SetDialect(b.dialect)
	}
	if base, ok := q.(interface{ SetTotal(int) }); ok {
		base.SetTotal(b.total)
	}
	query, args := q.Query()
	b.WriteString(query)
	b.args = append(b.args, args...)
	b.total += len(args)
	if errer, ok := q.(interface{ Err() error }); ok {
		if err := errer.Err(); err != nil {
			b.AddError(err)
		}
	}
	return b
}

// SetDialect sets the dialect (used when nesting builders).
func (b *Builder) SetDialect(d string) { b.dialect = d }

// SetTotal sets the starting placeholder index (used when nesting builders).
func (b *Builder) SetTotal(total int) { b.total = total }

// String returns the accumulated statement.
func (b *Builder) String() string { return b.sb.String() }

type raw struct{ s string }

// Raw returns a value that is rendered verbatim instead of being bound
// as a placeholder argument.
func Raw(s string) any { return &raw{s} }

// Expr is a raw expression with optional bound arguments.
type Expr struct {
	expr string
	args []any
}

// ExprFunc returns an expression from the given format-free SQL fragment
// and arguments.
func ExprFunc(expr string, args ...any) *Expr {
	return &Expr{expr: expr, args: args}
}

// Query implements Querier.
func (e *Expr) Query() (string, []any) { return e.expr, e.args }

// TableView is either a real table or a derived one (a wrapped Selector).
type TableView interface {
	view() string
	// C returns the column qualified by the view's alias or name.
	C(column string) string
}

// SelectTable is a secondary table or the primary table of a Selector.
type SelectTable struct {
	name   string
	as     string
	quoted bool
}

// Table returns a new table view with the given name. The name may be
// schema-qualified ("public.users").
func Table(name string) *SelectTable {
	return &SelectTable{name: name, quoted: true}
}

// As sets the alias of the table.
func (t *SelectTable) As(alias string) *SelectTable {
	t.as = alias
	return t
}

// C returns the column qualified by the table alias (or name).
func (t *SelectTable) C(column string) string {
	name := t.name
	if t.as != "" {
		name = t.as
	}
	return name + "." + column
}

// Name returns the table name.
func (t *SelectTable) Name() string { return t.name }

// Alias returns the table alias, or its name when no alias is set.
func (t *SelectTable) Alias() string {
	if t.as != "" {
		return t.as
	}
	return t.name
}

func (t *SelectTable) view() string { return t.name }

// ref renders the table reference including its alias.
func (t *SelectTable) ref(b *Builder) {
	b.Ident(t.name)
	if t.as != "" {
		b.WriteString(" AS ").Ident(t.as)
	}
}

// Selector builds a SELECT statement.
type Selector struct {
	Builder
	distinct bool
	columns  []selection
	from     *SelectTable
	fromSel  *Selector // derived table
	joins    []join
	where    *Predicate
	groupBy  []string
	having   *Predicate
	order    []orderTerm
	limit    *int
	offset   *int
	forUpdate bool
}

type selection struct {
	column string    // quoted identifier selection
	expr   *Expr     // raw expression selection
	sub    *Selector // parenthesized scalar subquery selection
	as     string
}

type join struct {
	kind  string
	table *SelectTable
	on    *Predicate
}

type orderTerm struct {
	column string
	expr   *Expr
	desc   bool
}

// Select returns a Selector for the given columns.
func Select(columns ...string) *Selector {
	s := &Selector{}
	return s.Select(columns...)
}

// SelectExpr returns a Selector selecting raw expressions.
func SelectExpr(exprs ...*Expr) *Selector {
	s := &Selector{}
	return s.SelectExpr(exprs...)
}

// Select replaces the selected columns.
func (s *Selector) Select(columns ...string) *Selector {
	s.columns = nil
	return s.AppendSelect(columns...)
}

// AppendSelect appends additional columns to the selection.
func (s *Selector) AppendSelect(columns ...string) *Selector {
	for _, c := range columns {
		s.columns = append(s.columns, selection{column: c})
	}
	return s
}

// SelectExpr replaces the selection with raw expressions.
func (s *Selector) SelectExpr(exprs ...*Expr) *Selector {
	s.columns = nil
	return s.AppendSelectExpr(exprs...)
}

// AppendSelectExpr appends raw expressions to the selection.
func (s *Selector) AppendSelectExpr(exprs ...*Expr) *Selector {
	for _, e := range exprs {
		s.columns = append(s.columns, selection{expr: e})
	}
	return s
}

// AppendSelectExprAs appends a raw expression with an alias.
func (s *Selector) AppendSelectExprAs(expr *Expr, as string) *Selector {
	s.columns = append(s.columns, selection{expr: expr, as: as})
	return s
}

// AppendSelectAs appends a parenthesized scalar subquery with an alias.
// The subquery's arguments and placeholder numbering carry over into
// the outer statement.
func (s *Selector) AppendSelectAs(sub *Selector, as string) *Selector {
	s.columns = append(s.columns, selection{sub: sub, as: as})
	return s
}

// SelectedColumns returns the plain column names in the selection.
func (s *Selector) SelectedColumns() []string {
	var cols []string
	for _, c := range s.columns {
		if c.column != "" {
			cols = append(cols, c.column)
		}
	}
	return cols
}

// Distinct marks the selection as DISTINCT.
func (s *Selector) Distinct() *Selector {
	s.distinct = true
	return s
}

// From sets the primary table of the selection.
func (s *Selector) From(t *SelectTable) *Selector {
	s.from = t
	s.fromSel = nil
	return s
}

// FromSelect selects from the given derived statement.
func (s *Selector) FromSelect(sel *Selector, alias string) *Selector {
	s.fromSel = sel
	s.from = Table(alias)
	return s
}

// Table returns the primary table view of the selector.
func (s *Selector) Table() *SelectTable { return s.from }

// C returns the given column qualified by the primary table.
func (s *Selector) C(column string) string {
	if s.from == nil {
		return column
	}
	return s.from.C(column)
}

// Join appends an INNER JOIN to the statement.
func (s *Selector) Join(t *SelectTable) *Selector { return s.join("JOIN", t) }

// LeftJoin appends a LEFT JOIN to the statement.
func (s *Selector) LeftJoin(t *SelectTable) *Selector { return s.join("LEFT JOIN", t) }

func (s *Selector) join(kind string, t *SelectTable) *Selector {
	s.joins = append(s.joins, join{kind: kind, table: t})
	return s
}

// On sets the join condition of the last appended join.
func (s *Selector) On(c1, c2 string) *Selector {
	if len(s.joins) > 0 {
		j := &s.joins[len(s.joins)-1]
		j.on = ColumnsEQ(c1, c2)
	}
	return s
}

// OnP sets a predicate join condition on the last appended join.
func (s *Selector) OnP(p *Predicate) *Selector {
	if len(s.joins) > 0 {
		s.joins[len(s.joins)-1].on = p
	}
	return s
}

// Where ANDs the given predicate into the statement.
func (s *Selector) Where(p *Predicate) *Selector {
	if p == nil {
		return s
	}
	if s.where == nil {
		s.where = p
	} else {
		s.where = And(s.where, p)
	}
	return s
}

// P returns the current WHERE predicate.
func (s *Selector) P() *Predicate { return s.where }

// GroupBy appends GROUP BY terms.
func (s *Selector) GroupBy(columns ...string) *Selector {
	s.groupBy = append(s.groupBy, columns...)
	return s
}

// Having sets the HAVING predicate.
func (s *Selector) Having(p *Predicate) *Selector {
	s.having = p
	return s
}

// OrderBy appends order terms. A term prefixed with "-" orders descending,
// matching the engine's external sort syntax.
func (s *Selector) OrderBy(columns ...string) *Selector {
	for _, c := range columns {
		term := orderTerm{column: c}
		if strings.HasPrefix(c, "-") {
			term.column = strings.TrimPrefix(c, "-")
			term.desc = true
		}
		s.order = append(s.order, term)
	}
	return s
}

// OrderExpr appends a raw order expression.
func (s *Selector) OrderExpr(e *Expr) *Selector {
	s.order = append(s.order, orderTerm{expr: e})
	return s
}

// ClearOrder removes all order terms.
func (s *Selector) ClearOrder() *Selector {
	s.order = nil
	return s
}

// OrderColumns returns the ordered column names with their direction
// prefix preserved.
func (s *Selector) OrderColumns() []string {
	cols := make([]string, 0, len(s.order))
	for _, o := range s.order {
		if o.expr != nil {
			continue
		}
		c := o.column
		if o.desc {
			c = "-" + c
		}
		cols = append(cols, c)
	}
	return cols
}

// Limit sets the LIMIT clause.
func (s *Selector) Limit(n int) *Selector {
	s.limit = &n
	return s
}

// Offset sets the OFFSET clause.
func (s *Selector) Offset(n int) *Selector {
	s.offset = &n
	return s
}

// ForUpdate appends FOR UPDATE row locking (ignored on SQLite).
func (s *Selector) ForUpdate() *Selector {
	s.forUpdate = true
	return s
}

// Clone returns a duplicate of the selector. The WHERE predicate is
// shared structurally; appending to the clone does not affect the source.
func (s *Selector) Clone() *Selector {
	if s == nil {
		return nil
	}
	c := *s
	c.Builder = Builder{dialect: s.dialect}
	c.columns = append([]selection(nil), s.columns...)
	c.joins = append([]join(nil), s.joins...)
	c.order = append([]orderTerm(nil), s.order...)
	c.groupBy = append([]string(nil), s.groupBy...)
	if s.where != nil {
		c.where = s.where.clone()
	}
	return &c
}

// Count returns a selector counting rows of s as a derived table.
func (s *Selector) Count() *Selector {
	c := s.Clone()
	c.ClearOrder()
	c.limit, c.offset = nil, nil
	c.columns = []selection{{expr: ExprFunc("COUNT(*)")}}
	return c
}

// Query implements Querier.
func (s *Selector) Query() (string, []any) {
	b := s.clone()
	b.WriteString("SELECT ")
	if s.distinct {
		b.WriteString("DISTINCT ")
	}
	if len(s.columns) == 0 {
		b.WriteByte('*')
	}
	for i, c := range s.columns {
		if i > 0 {
			b.Comma()
		}
		switch {
		case c.sub != nil:
			b.Nested(c.sub)
		case c.expr != nil:
			b.Join(c.expr)
		default:
			b.Ident(c.column)
		}
		if c.as != "" {
			b.WriteString(" AS ").Ident(c.as)
		}
	}
	if s.from != nil || s.fromSel != nil {
		b.WriteString(" FROM ")
		switch {
		case s.fromSel != nil:
			b.Nested(s.fromSel)
			b.WriteString(" AS ").Ident(s.from.Alias())
		default:
			s.from.ref(&b)
		}
	}
	for _, j := range s.joins {
		b.Pad().WriteString(j.kind).Pad()
		j.table.ref(&b)
		if j.on != nil {
			b.WriteString(" ON ")
			b.Join(j.on)
		}
	}
	if s.where != nil {
		b.WriteString(" WHERE ")
		b.Join(s.where)
	}
	if len(s.groupBy) > 0 {
		b.WriteString(" GROUP BY ")
		b.IdentComma(s.groupBy...)
	}
	if s.having != nil {
		b.WriteString(" HAVING ")
		b.Join(s.having)
	}
	if len(s.order) > 0 {
		b.WriteString(" ORDER BY ")
		for i, o := range s.order {
			if i > 0 {
				b.Comma()
			}
			switch {
			case o.expr != nil:
				b.Join(o.expr)
			default:
				b.Ident(o.column)
				if o.desc {
					b.WriteString(" DESC")
				}
			}
		}
	}
	if s.limit != nil {
		b.WriteString(" LIMIT ").WriteString(strconv.Itoa(*s.limit))
	}
	if s.offset != nil {
		b.WriteString(" OFFSET ").WriteString(strconv.Itoa(*s.offset))
	}
	if s.forUpdate && s.dialect != dialect.SQLite {
		b.WriteString(" FOR UPDATE")
	}
	s.errs = append(s.errs, b.errs...)
	return b.String(), b.args
}

// InsertBuilder builds an INSERT statement.
type InsertBuilder struct {
	Builder
	table     string
	columns   []string
	values    [][]any
	returning []string
	defaults  bool
}

// Insert returns an InsertBuilder for the given table.
func Insert(table string) *InsertBuilder {
	return &InsertBuilder{table: table}
}

// Columns sets the insert columns.
func (i *InsertBuilder) Columns(columns ...string) *InsertBuilder {
	i.columns = append(i.columns, columns...)
	return i
}

// Values appends one row of values.
func (i *InsertBuilder) Values(values ...any) *InsertBuilder {
	i.values = append(i.values, values)
	return i
}

// Default marks the statement to insert default values only.
func (i *InsertBuilder) Default() *InsertBuilder {
	i.defaults = true
	return i
}

// Returning appends a RETURNING clause (Postgres and SQLite).
func (i *InsertBuilder) Returning(columns ...string) *InsertBuilder {
	i.returning = append(i.returning, columns...)
	return i
}

// Query implements Querier.
func (i *InsertBuilder) Query() (string, []any) {
	b := i.clone()
	b.WriteString("INSERT INTO ").Ident(i.table)
	if i.defaults && len(i.columns) == 0 {
		b.WriteString(" DEFAULT VALUES")
	} else {
		b.WriteString(" (").IdentComma(i.columns...).WriteString(") VALUES ")
		for j, v := range i.values {
			if j > 0 {
				b.Comma()
			}
			b.WriteByte('(').Args(v...).WriteByte(')')
		}
	}
	if len(i.returning) > 0 && b.dialect != dialect.MySQL {
		b.WriteString(" RETURNING ")
		b.IdentComma(i.returning...)
	}
	i.errs = append(i.errs, b.errs...)
	return b.String(), b.args
}

// UpdateBuilder builds an UPDATE statement.
type UpdateBuilder struct {
	Builder
	table   string
	columns []string
	values  []any
	nulls   []string
	where   *Predicate
}

// Update returns an UpdateBuilder for the given table.
func Update(table string) *UpdateBuilder {
	return &UpdateBuilder{table: table}
}

// Set assigns a column value.
func (u *UpdateBuilder) Set(column string, v any) *UpdateBuilder {
	u.columns = append(u.columns, column)
	u.values = append(u.values, v)
	return u
}

// SetNull assigns NULL to a column.
func (u *UpdateBuilder) SetNull(column string) *UpdateBuilder {
	u.nulls = append(u.nulls, column)
	return u
}

// Where ANDs the given predicate into the statement.
func (u *UpdateBuilder) Where(p *Predicate) *UpdateBuilder {
	if p == nil {
		return u
	}
	if u.where == nil {
		u.where = p
	} else {
		u.where = And(u.where, p)
	}
	return u
}

// Empty reports whether the update assigns nothing.
func (u *UpdateBuilder) Empty() bool {
	return len(u.columns) == 0 && len(u.nulls) == 0
}

// Query implements Querier.
func (u *UpdateBuilder) Query() (string, []any) {
	b := u.clone()
	b.WriteString("UPDATE ").Ident(u.table).WriteString(" SET ")
	for i, c := range u.nulls {
		if i > 0 {
			b.Comma()
		}
		b.Ident(c).WriteString(" = NULL")
	}
	if len(u.nulls) > 0 && len(u.columns) > 0 {
		b.Comma()
	}
	for i, c := range u.columns {
		if i > 0 {
			b.Comma()
		}
		b.Ident(c).WriteString(" = ").Arg(u.values[i])
	}
	if u.where != nil {
		b.WriteString(" WHERE ")
		b.Join(u.where)
	}
	u.errs = append(u.errs, b.errs...)
	return b.String(), b.args
}

// DeleteBuilder builds a DELETE statement.
type DeleteBuilder struct {
	Builder
	table string
	where *Predicate
}

// Delete returns a DeleteBuilder for the given table.
func Delete(table string) *DeleteBuilder {
	return &DeleteBuilder{table: table}
}

// Where ANDs the given predicate into the statement.
func (d *DeleteBuilder) Where(p *Predicate) *DeleteBuilder {
	if p == nil {
		return d
	}
	if d.where == nil {
		d.where = p
	} else {
		d.where = And(d.where, p)
	}
	return d
}

// Query implements Querier.
func (d *DeleteBuilder) Query() (string, []any) {
	b := d.clone()
	b.WriteString("DELETE FROM ").Ident(d.table)
	if d.where != nil {
		b.WriteString(" WHERE ")
		b.Join(d.where)
	}
	d.errs = append(d.errs, b.errs...)
	return b.String(), b.args
}

// DialectBuilder opens dialect-configured builder chains, the way
// statements are started throughout the engine:
//
//	sql.Dialect(dialect.Postgres).Select("id").From(sql.Table("users"))
type DialectBuilder struct {
	dialect string
}

// Dialect returns a DialectBuilder for the given dialect.
func Dialect(name string) *DialectBuilder {
	return &DialectBuilder{dialect: name}
}

// Select starts a Selector.
func (d *DialectBuilder) Select(columns ...string) *Selector {
	s := Select(columns...)
	s.SetDialect(d.dialect)
	return s
}

// SelectExpr starts a Selector over raw expressions.
func (d *DialectBuilder) SelectExpr(exprs ...*Expr) *Selector {
	s := SelectExpr(exprs...)
	s.SetDialect(d.dialect)
	return s
}

// Insert starts an InsertBuilder.
func (d *DialectBuilder) Insert(table string) *InsertBuilder {
	i := Insert(table)
	i.SetDialect(d.dialect)
	return i
}

// Update starts an UpdateBuilder.
func (d *DialectBuilder) Update(table string) *UpdateBuilder {
	u := Update(table)
	u.SetDialect(d.dialect)
	return u
}

// Delete starts a DeleteBuilder.
func (d *DialectBuilder) Delete(table string) *DeleteBuilder {
	dl := Delete(table)
	dl.SetDialect(d.dialect)
	return dl
}
