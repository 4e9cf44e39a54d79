// Package privacy provides the rule types the lattice engine evaluates to
// scope every statement touching a table's rows. A table's policy runs once
// per statement against its own rows and once per correlated subquery for
// every related table reached through filters or eager loads, always after
// column and tenant filters are applied and before the statement executes.
package privacy

import (
	"context"
	"errors"
	"fmt"

	"github.com/graphtable/lattice"
	"github.com/graphtable/lattice/dialect"
	"github.com/graphtable/lattice/dialect/sql"
)

// Policy decision sentinel errors.
//
// Rules return these values to steer evaluation. Check them with
// errors.Is:
//
//	if errors.Is(err, privacy.Allow) { ... }
//	if errors.Is(err, privacy.Deny) { ... }
//	if errors.Is(err, privacy.Skip) { ... }
var (
	// Allow may be returned by rules to indicate that the policy
	// evaluation should terminate with an allow decision.
	Allow = errors.New("lattice/privacy: allow rule")

	// Deny may be returned by rules to indicate that the policy
	// evaluation should terminate with a deny decision.
	Deny = errors.New("lattice/privacy: deny rule")

	// Skip may be returned by rules to indicate that the policy
	// evaluation should continue to the next rule in the chain.
	Skip = errors.New("lattice/privacy: skip rule")
)

// Allowf returns a formatted wrapped Allow decision.
func Allowf(format string, a ...any) error {
	return fmt.Errorf(format+": %w", append(a, Allow)...)
}

// Denyf returns a formatted wrapped Deny decision.
func Denyf(format string, a ...any) error {
	return fmt.Errorf(format+": %w", append(a, Deny)...)
}

// Skipf returns a formatted wrapped Skip decision.
func Skipf(format string, a ...any) error {
	return fmt.Errorf(format+": %w", append(a, Skip)...)
}

// Scope is what a rule evaluates against: the statement being built for a
// table, the operation mode, and the store for auxiliary lookups. Filter
// rules narrow the visible row set by appending predicates to the
// statement; decision rules allow or deny the operation outright.
type Scope struct {
	// Table is the schema-qualified table path the statement targets.
	Table string
	// Op is the operation mode of the statement.
	Op lattice.Op
	// Stmt is the statement (or correlated subquery) being scoped.
	Stmt *sql.Selector
	// Store executes auxiliary lookups a rule may need. During a write it
	// is the live transaction.
	Store dialect.ExecQuerier
}

// Rule decides whether an operation on a scope is allowed, and may narrow
// the scope's statement.
type Rule interface {
	Eval(ctx context.Context, s *Scope) error
}

// RuleFunc is a function adapter for Rule.
type RuleFunc func(context.Context, *Scope) error

// Eval returns f(ctx, s).
func (f RuleFunc) Eval(ctx context.Context, s *Scope) error { return f(ctx, s) }

// Policy is an ordered rule chain. Evaluation walks the chain: nil and
// Skip continue, Allow terminates with success, Deny or any other error
// terminates with failure. An empty policy allows everything; the engine's
// default policy is empty.
type Policy []Rule

// Eval evaluates the policy chain against the scope.
func (p Policy) Eval(ctx context.Context, s *Scope) error {
	if decision, ok := DecisionFromContext(ctx); ok {
		return decision
	}
	for _, rule := range p {
		switch decision := rule.Eval(ctx, s); {
		case decision == nil || errors.Is(decision, Skip):
		case errors.Is(decision, Allow):
			return nil
		default:
			return decision
		}
	}
	return nil
}

// FilterFunc produces a predicate narrowing the visible rows of a scope.
// A nil predicate leaves the statement untouched.
type FilterFunc func(ctx context.Context, s *Scope) *sql.Predicate

// FilterRule returns a rule that appends the produced predicate to the
// scoped statement and continues the chain.
func FilterRule(f FilterFunc) Rule {
	return RuleFunc(func(ctx context.Context, s *Scope) error {
		if p := f(ctx, s); p != nil {
			s.Stmt.Where(p)
		}
		return Skip
	})
}

// ContextRule creates a rule from a context evaluation function. Returning
// nil is equivalent to returning Skip.
func ContextRule(eval func(context.Context) error) Rule {
	return RuleFunc(func(ctx context.Context, _ *Scope) error {
		return eval(ctx)
	})
}

// AlwaysAllowRule returns a rule that always allows.
func AlwaysAllowRule() Rule {
	return RuleFunc(func(context.Context, *Scope) error { return Allow })
}

// AlwaysDenyRule returns a rule that always denies.
func AlwaysDenyRule() Rule {
	return RuleFunc(func(context.Context, *Scope) error { return Deny })
}

// OnOp evaluates the given rule only for the given operation modes,
// skipping otherwise.
func OnOp(rule Rule, op lattice.Op) Rule {
	return RuleFunc(func(ctx context.Context, s *Scope) error {
		if s.Op.Is(op) {
			return rule.Eval(ctx, s)
		}
		return Skip
	})
}

// DenyOpRule returns a rule denying the given operation modes.
func DenyOpRule(op lattice.Op) Rule {
	rule := RuleFunc(func(_ context.Context, s *Scope) error {
		return Denyf("lattice/privacy: operation %s is not allowed", s.Op)
	})
	return OnOp(rule, op)
}

type decisionCtxKey struct{}

// DecisionContext creates a new context from the given parent context with
// a policy decision attached to it, pre-empting rule evaluation.
func DecisionContext(parent context.Context, decision error) context.Context {
	if decision == nil || errors.Is(decision, Skip) {
		return parent
	}
	return context.WithValue(parent, decisionCtxKey{}, decision)
}

// DecisionFromContext retrieves the policy decision from the context.
func DecisionFromContext(ctx context.Context) (error, bool) {
	decision, ok := ctx.Value(decisionCtxKey{}).(error)
	if ok && errors.Is(decision, Allow) {
		decision = nil
	}
	return decision, ok
}
