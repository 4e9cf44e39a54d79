package privacy_test

import (
	"context"
	"testing"

	"github.com/graphtable/lattice"
	"github.com/graphtable/lattice/privacy"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestSimpleViewer tests the SimpleViewer implementation.
func TestSimpleViewer(t *testing.T) {
	viewer := &privacy.SimpleViewer{
		UserID:   "user-123",
		Roles:    []string{"admin", "user"},
		TenantID: "tenant-abc",
	}

	assert.Equal(t, "user-123", viewer.GetID())
	assert.Equal(t, []string{"admin", "user"}, viewer.GetRoles())
	assert.Equal(t, "tenant-abc", viewer.GetTenantID())
}

// TestViewerContext tests viewer context functions.
func TestViewerContext(t *testing.T) {
	t.Run("round trip", func(t *testing.T) {
		viewer := &privacy.SimpleViewer{UserID: "user-123"}
		ctx := privacy.WithViewer(context.Background(), viewer)

		retrieved := privacy.ViewerFromContext(ctx)
		require.NotNil(t, retrieved)
		assert.Equal(t, "user-123", retrieved.GetID())
	})

	t.Run("nil without viewer", func(t *testing.T) {
		assert.Nil(t, privacy.ViewerFromContext(context.Background()))
	})
}

// TestDenyIfNoViewer tests the viewer-required rule.
func TestDenyIfNoViewer(t *testing.T) {
	rule := privacy.DenyIfNoViewer()

	t.Run("denies without viewer", func(t *testing.T) {
		err := rule.Eval(context.Background(), scope(lattice.OpRead))
		assert.ErrorIs(t, err, privacy.Deny)
		assert.Contains(t, err.Error(), "viewer required")
	})

	t.Run("skips with viewer", func(t *testing.T) {
		ctx := privacy.WithViewer(context.Background(), &privacy.SimpleViewer{UserID: "u1"})
		assert.ErrorIs(t, rule.Eval(ctx, scope(lattice.OpRead)), privacy.Skip)
	})
}

// TestHasRole tests role-based rules.
func TestHasRole(t *testing.T) {
	admin := privacy.WithViewer(context.Background(), &privacy.SimpleViewer{
		UserID: "u1",
		Roles:  []string{"admin"},
	})
	member := privacy.WithViewer(context.Background(), &privacy.SimpleViewer{
		UserID: "u2",
		Roles:  []string{"member"},
	})

	t.Run("allows with role", func(t *testing.T) {
		rule := privacy.HasRole("admin")
		assert.ErrorIs(t, rule.Eval(admin, scope(lattice.OpRead)), privacy.Allow)
	})

	t.Run("skips without role", func(t *testing.T) {
		rule := privacy.HasRole("admin")
		assert.ErrorIs(t, rule.Eval(member, scope(lattice.OpRead)), privacy.Skip)
		assert.ErrorIs(t, rule.Eval(context.Background(), scope(lattice.OpRead)), privacy.Skip)
	})

	t.Run("any role", func(t *testing.T) {
		rule := privacy.HasAnyRole("admin", "member")
		assert.ErrorIs(t, rule.Eval(admin, scope(lattice.OpRead)), privacy.Allow)
		assert.ErrorIs(t, rule.Eval(member, scope(lattice.OpRead)), privacy.Allow)
		assert.ErrorIs(t, rule.Eval(context.Background(), scope(lattice.OpRead)), privacy.Skip)
	})

	t.Run("role gate in a policy", func(t *testing.T) {
		policy := privacy.Policy{
			privacy.HasRole("admin"),
			privacy.AlwaysDenyRule(),
		}
		assert.NoError(t, policy.Eval(admin, scope(lattice.OpRead)))
		assert.ErrorIs(t, policy.Eval(member, scope(lattice.OpRead)), privacy.Deny)
	})
}

// TestFilterOwnerRule tests owner-column narrowing.
func TestFilterOwnerRule(t *testing.T) {
	rule := privacy.FilterOwnerRule("owner_id")

	t.Run("narrows to viewer rows", func(t *testing.T) {
		ctx := privacy.WithViewer(context.Background(), &privacy.SimpleViewer{UserID: "u1"})
		sc := scope(lattice.OpRead)
		assert.ErrorIs(t, rule.Eval(ctx, sc), privacy.Skip)

		query, args := sc.Stmt.Query()
		assert.Equal(t, `SELECT "id" FROM "users" AS "u" WHERE "u"."owner_id" = $1`, query)
		assert.Equal(t, []any{"u1"}, args)
	})

	t.Run("no viewer sees no rows", func(t *testing.T) {
		sc := scope(lattice.OpRead)
		assert.ErrorIs(t, rule.Eval(context.Background(), sc), privacy.Skip)

		query, _ := sc.Stmt.Query()
		assert.Equal(t, `SELECT "id" FROM "users" AS "u" WHERE FALSE`, query)
	})
}

// TestFilterTenantRule tests tenant-column narrowing.
func TestFilterTenantRule(t *testing.T) {
	rule := privacy.FilterTenantRule("tenant_id")

	t.Run("narrows to viewer tenant", func(t *testing.T) {
		ctx := privacy.WithViewer(context.Background(), &privacy.SimpleViewer{
			UserID:   "u1",
			TenantID: "t9",
		})
		sc := scope(lattice.OpRead)
		assert.ErrorIs(t, rule.Eval(ctx, sc), privacy.Skip)

		query, args := sc.Stmt.Query()
		assert.Equal(t, `SELECT "id" FROM "users" AS "u" WHERE "u"."tenant_id" = $1`, query)
		assert.Equal(t, []any{"t9"}, args)
	})

	t.Run("viewer without tenant sees no rows", func(t *testing.T) {
		ctx := privacy.WithViewer(context.Background(), &privacy.SimpleViewer{UserID: "u1"})
		sc := scope(lattice.OpRead)
		assert.ErrorIs(t, rule.Eval(ctx, sc), privacy.Skip)

		query, _ := sc.Stmt.Query()
		assert.Equal(t, `SELECT "id" FROM "users" AS "u" WHERE FALSE`, query)
	})
}

// TestDenyWriteRule tests that mutations are denied while reads pass.
func TestDenyWriteRule(t *testing.T) {
	ctx := context.Background()
	rule := privacy.DenyWriteRule()

	for _, op := range []lattice.Op{lattice.OpInsert, lattice.OpUpdate, lattice.OpDelete} {
		assert.ErrorIs(t, rule.Eval(ctx, scope(op)), privacy.Deny, op.String())
	}
	assert.ErrorIs(t, rule.Eval(ctx, scope(lattice.OpRead)), privacy.Skip)
}

// A realistic policy: admins see everything, members see their own rows,
// anonymous calls are rejected.
func TestPolicyComposition(t *testing.T) {
	policy := privacy.Policy{
		privacy.DenyIfNoViewer(),
		privacy.HasRole("admin"),
		privacy.FilterOwnerRule("owner_id"),
	}

	t.Run("anonymous denied", func(t *testing.T) {
		err := policy.Eval(context.Background(), scope(lattice.OpRead))
		assert.ErrorIs(t, err, privacy.Deny)
	})

	t.Run("admin unfiltered", func(t *testing.T) {
		ctx := privacy.WithViewer(context.Background(), &privacy.SimpleViewer{
			UserID: "a1",
			Roles:  []string{"admin"},
		})
		sc := scope(lattice.OpRead)
		require.NoError(t, policy.Eval(ctx, sc))

		query, _ := sc.Stmt.Query()
		assert.Equal(t, `SELECT "id" FROM "users" AS "u"`, query)
	})

	t.Run("member filtered to own rows", func(t *testing.T) {
		ctx := privacy.WithViewer(context.Background(), &privacy.SimpleViewer{
			UserID: "m1",
			Roles:  []string{"member"},
		})
		sc := scope(lattice.OpRead)
		require.NoError(t, policy.Eval(ctx, sc))

		query, args := sc.Stmt.Query()
		assert.Equal(t, `SELECT "id" FROM "users" AS "u" WHERE "u"."owner_id" = $1`, query)
		assert.Equal(t, []any{"m1"}, args)
	})
}
