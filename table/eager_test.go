package table

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/graphtable/lattice"
	"github.com/graphtable/lattice/dialect/sql"
)

func TestNormalizeInclude(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		in   any
		want map[string]any
	}{
		{"nil", nil, map[string]any{}},
		{"string", "posts", map[string]any{"posts": nil}},
		{"string slice", []string{"posts", "user"}, map[string]any{"posts": nil, "user": nil}},
		{"mixed array", []any{"posts", map[string]any{"user": "posts"}}, map[string]any{"posts": nil, "user": "posts"}},
		{"false drops the key", map[string]any{"posts": true, "user": false}, map[string]any{"posts": true}},
		{"scalar garbage", 42, map[string]any{}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, normalizeInclude(tt.in))
		})
	}
}

func TestIncludeCount(t *testing.T) {
	t.Parallel()
	r, _ := newLinkedRegistry(t)
	users, _ := r.Table("public.users")
	sc := users.newStmtCtx(context.Background(), lattice.OpRead, r.Driver())

	stmt, err := users.buildRead(sc, Params{})
	require.NoError(t, err)
	specs, err := users.applyIncludes(sc, stmt, "postsCount")
	require.NoError(t, err)
	require.Len(t, specs, 1)
	assert.Equal(t, "postsCount", specs[0].key)
	assert.Equal(t, includeScalar, specs[0].kind)

	query, args := stmt.Query()
	assert.Empty(t, args)
	assert.Contains(t, query,
		`(SELECT COUNT(*) FROM "posts" AS "posts_1"`+
			` WHERE (("posts_1"."user_id" = "users_1"."id") AND ("posts_1"."tenant_id" = "users_1"."tenant_id"))`+
			` AND ("posts_1"."deleted_at" IS NULL)) AS "postsCount"`)
}

func TestIncludeOne(t *testing.T) {
	t.Parallel()
	r, _ := newLinkedRegistry(t)
	posts, _ := r.Table("public.posts")
	sc := posts.newStmtCtx(context.Background(), lattice.OpRead, r.Driver())

	stmt, err := posts.buildRead(sc, Params{})
	require.NoError(t, err)
	specs, err := posts.applyIncludes(sc, stmt, "user")
	require.NoError(t, err)
	require.Len(t, specs, 1)
	assert.Equal(t, includeObject, specs[0].kind)

	query, _ := stmt.Query()
	assert.Contains(t, query,
		`(SELECT json_build_object(`+
			`'age', "users_2"."age", 'email', "users_2"."email", 'id', "users_2"."id",`+
			` 'status', "users_2"."status", 'tenant_id', "users_2"."tenant_id")`+
			` FROM (SELECT "users_1"."age", "users_1"."email", "users_1"."id", "users_1"."status", "users_1"."tenant_id"`+
			` FROM "users" AS "users_1"`+
			` WHERE ("users_1"."id" = "posts_1"."user_id") AND ("users_1"."tenant_id" = "posts_1"."tenant_id")`+
			` LIMIT 1) AS "users_2") AS "user"`)
}

func TestIncludeMany(t *testing.T) {
	t.Parallel()
	r, _ := newLinkedRegistry(t)
	users, _ := r.Table("public.users")
	sc := users.newStmtCtx(context.Background(), lattice.OpRead, r.Driver())

	stmt, err := users.buildRead(sc, Params{})
	require.NoError(t, err)
	specs, err := users.applyIncludes(sc, stmt, "posts")
	require.NoError(t, err)
	require.Len(t, specs, 1)
	assert.Equal(t, includeArray, specs[0].kind)

	query, _ := stmt.Query()
	// The hidden secret column never leaks into the JSON object, absent
	// children aggregate to an empty array, and the subquery is capped at
	// the eager-load limit with a deterministic order.
	assert.Contains(t, query,
		`(SELECT COALESCE(json_agg(json_build_object(`+
			`'deleted_at', "posts_2"."deleted_at", 'id', "posts_2"."id", 'tenant_id', "posts_2"."tenant_id",`+
			` 'title', "posts_2"."title", 'user_id', "posts_2"."user_id")), '[]'::json)`+
			` FROM (SELECT "posts_1"."deleted_at", "posts_1"."id", "posts_1"."tenant_id", "posts_1"."title", "posts_1"."user_id"`+
			` FROM "posts" AS "posts_1"`+
			` WHERE (("posts_1"."user_id" = "users_1"."id") AND ("posts_1"."tenant_id" = "users_1"."tenant_id"))`+
			` AND ("posts_1"."deleted_at" IS NULL)`+
			` ORDER BY "posts_1"."id" LIMIT 100) AS "posts_2") AS "posts"`)
}

func TestIncludeNested(t *testing.T) {
	t.Parallel()
	r, _ := newLinkedRegistry(t)
	users, _ := r.Table("public.users")
	sc := users.newStmtCtx(context.Background(), lattice.OpRead, r.Driver())

	stmt, err := users.buildRead(sc, Params{})
	require.NoError(t, err)
	_, err = users.applyIncludes(sc, stmt, map[string]any{"posts": "user"})
	require.NoError(t, err)

	query, _ := stmt.Query()
	// The nested user object rides along inside the posts subquery and
	// surfaces as a key of the outer JSON object.
	assert.Contains(t, query, `FROM "users" AS "users_2"`)
	assert.Contains(t, query, `'user', "posts_2"."user"`)
}

func TestIncludeGetters(t *testing.T) {
	t.Parallel()
	drv, _ := testDriver(t)
	r := NewRegistry(drv)
	users := r.MustAdd(Definition{
		Name:    "users",
		Columns: userColumns(),
		Getters: map[string]Getter{
			"loginCount": {Query: func(_ context.Context, _ *sql.Selector) *sql.Expr {
				return sql.ExprFunc("(SELECT COUNT(*) FROM logins)")
			}},
			"displayName": {Value: func(_ context.Context, row map[string]any) (any, error) {
				return row["email"], nil
			}},
		},
	})
	require.NoError(t, r.Link())
	sc := users.newStmtCtx(context.Background(), lattice.OpRead, r.Driver())

	stmt, err := users.buildRead(sc, Params{})
	require.NoError(t, err)
	specs, err := users.applyIncludes(sc, stmt, []string{"loginCount", "displayName"})
	require.NoError(t, err)
	require.Len(t, specs, 2)

	query, _ := stmt.Query()
	assert.Contains(t, query, `(SELECT COUNT(*) FROM logins) AS "loginCount"`)
	assert.NotContains(t, query, "displayName", "value getters compute in application code")

	byKey := map[string]includeSpec{}
	for _, s := range specs {
		byKey[s.key] = s
	}
	assert.Equal(t, includeScalar, byKey["loginCount"].kind)
	assert.Equal(t, includeComputed, byKey["displayName"].kind)
	require.NotNil(t, byKey["displayName"].getter)
}

func TestIncludeUnknownIgnored(t *testing.T) {
	t.Parallel()
	r, _ := newLinkedRegistry(t)
	users, _ := r.Table("public.users")
	sc := users.newStmtCtx(context.Background(), lattice.OpRead, r.Driver())

	stmt, err := users.buildRead(sc, Params{})
	require.NoError(t, err)
	before, _ := stmt.Query()
	specs, err := users.applyIncludes(sc, stmt, []string{"nope", "alsoNope"})
	require.NoError(t, err)
	assert.Empty(t, specs)
	after, _ := stmt.Query()
	assert.Equal(t, before, after)
}

func TestIncludeBudget(t *testing.T) {
	t.Parallel()
	r, _ := newLinkedRegistry(t, WithBudget(1))
	users, _ := r.Table("public.users")
	sc := users.newStmtCtx(context.Background(), lattice.OpRead, r.Driver())

	stmt, err := users.buildRead(sc, Params{})
	require.NoError(t, err)
	_, err = users.applyIncludes(sc, stmt, "posts")
	require.Error(t, err)
	assert.True(t, lattice.IsComplexity(err))
}
