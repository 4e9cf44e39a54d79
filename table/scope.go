package table

import (
	"errors"

	"github.com/graphtable/lattice"
	"github.com/graphtable/lattice/dialect/sql"
	"github.com/graphtable/lattice/privacy"
)

// Statement scoping order is fixed: tenant and soft-delete filters,
// then the table's query modifier, then the policy. The policy always
// sees an already tenant-scoped statement, and nothing executes a
// statement for a table's rows without passing through here — with the
// single exception of uniqueness conflict probing during validation.

func (t *Table) scopeBase(sc *stmtCtx, stmt *sql.Selector) {
	if t.TenantColumn != "" && sc.tenant != nil {
		stmt.Where(sql.EQ(stmt.C(t.TenantColumn), sc.tenant))
	}
	if t.Paranoid && !sc.withDeleted {
		stmt.Where(sql.IsNull(stmt.C(t.DeletedAtColumn)))
	}
}

// applyPolicy evaluates the table's policy chain against a statement
// under the given operation mode. A Deny decision surfaces as an
// authorization failure.
func (t *Table) applyPolicy(sc *stmtCtx, stmt *sql.Selector, op lattice.Op) error {
	scope := &privacy.Scope{
		Table: t.Path(),
		Op:    op,
		Stmt:  stmt,
		Store: sc.store,
	}
	if err := t.Policy.Eval(sc.ctx, scope); err != nil {
		if errors.Is(err, privacy.Deny) {
			return lattice.NewUnauthorizedError(t.Label(), op)
		}
		return err
	}
	return nil
}

// scopeStmt applies the full scoping pipeline to a statement or
// correlated subquery under the request's operation mode.
func (t *Table) scopeStmt(sc *stmtCtx, stmt *sql.Selector) error {
	return t.scopeStmtOp(sc, stmt, sc.op)
}

func (t *Table) scopeStmtOp(sc *stmtCtx, stmt *sql.Selector, op lattice.Op) error {
	t.scopeBase(sc, stmt)
	if t.QueryModifier != nil {
		t.QueryModifier(sc.ctx, stmt)
	}
	return t.applyPolicy(sc, stmt, op)
}
