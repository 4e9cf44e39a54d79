package privacy

import (
	"context"
	"slices"

	"github.com/graphtable/lattice"
	"github.com/graphtable/lattice/dialect/sql"
)

// Viewer represents the authenticated caller a request runs as. The engine
// never inspects it; rules do.
type Viewer interface {
	// GetID returns the viewer's unique identifier.
	GetID() string
	// GetRoles returns the viewer's roles.
	GetRoles() []string
	// GetTenantID returns the viewer's tenant identifier for multi-tenancy.
	// Returns empty string if not applicable.
	GetTenantID() string
}

// viewerCtxKey is the context key for storing the viewer.
type viewerCtxKey struct{}

// WithViewer returns a new context with the viewer attached.
func WithViewer(ctx context.Context, viewer Viewer) context.Context {
	return context.WithValue(ctx, viewerCtxKey{}, viewer)
}

// ViewerFromContext retrieves the viewer from the context.
// Returns nil if no viewer is present.
func ViewerFromContext(ctx context.Context) Viewer {
	v, _ := ctx.Value(viewerCtxKey{}).(Viewer)
	return v
}

// SimpleViewer is a basic implementation of the Viewer interface.
// Use this for testing or simple use cases.
type SimpleViewer struct {
	UserID   string
	Roles    []string
	TenantID string
}

// GetID returns the user ID.
func (v *SimpleViewer) GetID() string { return v.UserID }

// GetRoles returns the user's roles.
func (v *SimpleViewer) GetRoles() []string { return v.Roles }

// GetTenantID returns the tenant ID.
func (v *SimpleViewer) GetTenantID() string { return v.TenantID }

// DenyIfNoViewer returns a rule that denies access if no viewer is present
// in the context. Typically the first rule in a policy.
//
// Example:
//
//	privacy.Policy{
//	    privacy.DenyIfNoViewer(),
//	    privacy.HasRole("admin"),
//	    privacy.AlwaysDenyRule(),
//	}
func DenyIfNoViewer() Rule {
	return ContextRule(func(ctx context.Context) error {
		if ViewerFromContext(ctx) == nil {
			return Denyf("lattice/privacy: viewer required")
		}
		return Skip
	})
}

// HasRole returns a rule that allows access if the viewer has the
// specified role. Skips otherwise so the next rule can evaluate.
func HasRole(role string) Rule {
	return ContextRule(func(ctx context.Context) error {
		viewer := ViewerFromContext(ctx)
		if viewer == nil {
			return Skip
		}
		if slices.Contains(viewer.GetRoles(), role) {
			return Allow
		}
		return Skip
	})
}

// HasAnyRole returns a rule that allows access if the viewer has any of
// the specified roles.
func HasAnyRole(roles ...string) Rule {
	return ContextRule(func(ctx context.Context) error {
		viewer := ViewerFromContext(ctx)
		if viewer == nil {
			return Skip
		}
		viewerRoles := viewer.GetRoles()
		for _, role := range roles {
			if slices.Contains(viewerRoles, role) {
				return Allow
			}
		}
		return Skip
	})
}

// FilterOwnerRule returns a rule narrowing every statement to rows whose
// owner column matches the viewer's id. Statements run with no viewer see
// no rows.
func FilterOwnerRule(column string) Rule {
	return FilterRule(func(ctx context.Context, s *Scope) *sql.Predicate {
		viewer := ViewerFromContext(ctx)
		if viewer == nil {
			return sql.ExprP("FALSE")
		}
		return sql.EQ(s.Stmt.C(column), viewer.GetID())
	})
}

// FilterTenantRule narrows every statement to the viewer's tenant. Note
// that tables declaring a tenant column are already tenant-filtered by the
// engine before the policy runs; this rule is for policy-only tenancy.
func FilterTenantRule(column string) Rule {
	return FilterRule(func(ctx context.Context, s *Scope) *sql.Predicate {
		viewer := ViewerFromContext(ctx)
		if viewer == nil || viewer.GetTenantID() == "" {
			return sql.ExprP("FALSE")
		}
		return sql.EQ(s.Stmt.C(column), viewer.GetTenantID())
	})
}

// DenyWriteRule denies all mutating operations, leaving reads to the rest
// of the chain. Useful for lookup tables.
func DenyWriteRule() Rule {
	return DenyOpRule(lattice.OpWrite)
}
