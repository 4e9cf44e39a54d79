package table

import (
	"context"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/graphtable/lattice/dialect"
	"github.com/graphtable/lattice/dialect/sql"
	"github.com/graphtable/lattice/introspect"
)

func testDriver(t *testing.T) (dialect.Driver, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return sql.OpenDB(dialect.Postgres, db), mock
}

func col(name, typ string) introspect.Column {
	return introspect.Column{Name: name, Type: typ}
}

func nullable(c introspect.Column) introspect.Column {
	c.Nullable = true
	return c
}

func userColumns() map[string]introspect.Column {
	return map[string]introspect.Column{
		"id":        col("id", "integer"),
		"tenant_id": col("tenant_id", "integer"),
		"email":     {Name: "email", Type: "string", Length: 255},
		"status":    col("status", "string"),
		"age":       nullable(col("age", "integer")),
		"secret":    nullable(col("secret", "string")),
	}
}

func postColumns() map[string]introspect.Column {
	return map[string]introspect.Column{
		"id":         col("id", "integer"),
		"tenant_id":  col("tenant_id", "integer"),
		"user_id":    col("user_id", "integer"),
		"title":      {Name: "title", Type: "string", Length: 120},
		"deleted_at": nullable(col("deleted_at", "timestamp")),
	}
}

// newLinkedRegistry builds the shared users/posts fixture: a tenant-scoped
// users table and a paranoid posts table owning a foreign key into it.
func newLinkedRegistry(t *testing.T, opts ...Option) (*Registry, sqlmock.Sqlmock) {
	t.Helper()
	drv, mock := testDriver(t)
	r := NewRegistry(drv, opts...)
	r.MustAdd(Definition{
		Name:         "users",
		TenantColumn: "tenant_id",
		Columns:      userColumns(),
		UniqueSets:   [][]string{{"tenant_id", "email"}},
		Hidden:       []string{"secret"},
	})
	r.MustAdd(Definition{
		Name:         "posts",
		TenantColumn: "tenant_id",
		Columns:      postColumns(),
		Relations: map[string]Relation{
			"user_id": {Column: "user_id", RefSchema: "public", RefTable: "users", RefColumn: "id"},
		},
		Paranoid: true,
	})
	require.NoError(t, r.Link())
	return r, mock
}

func TestRegistryAdd(t *testing.T) {
	t.Parallel()
	drv, _ := testDriver(t)
	r := NewRegistry(drv)

	_, err := r.Add(Definition{})
	assert.EqualError(t, err, "table: definition without a name")

	tbl, err := r.Add(Definition{Name: "users", Columns: userColumns()})
	require.NoError(t, err)
	assert.Equal(t, "public.users", tbl.Path())
	assert.Equal(t, "users", tbl.Label())

	_, err = r.Add(Definition{Name: "users"})
	assert.EqualError(t, err, "table: public.users registered twice")

	got, ok := r.Table("public.users")
	assert.True(t, ok)
	assert.Same(t, tbl, got)
	_, ok = r.Table("public.missing")
	assert.False(t, ok)
}

func TestDefinitionDefaults(t *testing.T) {
	t.Parallel()
	drv, _ := testDriver(t)
	r := NewRegistry(drv)

	tbl := r.MustAdd(Definition{Name: "projects", Paranoid: true})
	assert.Equal(t, "id", tbl.IDColumn)
	assert.Equal(t, "deleted_at", tbl.DeletedAtColumn)
	assert.Equal(t, DefaultComplexity, tbl.Complexity)
	assert.Equal(t, DefaultEagerLimit, tbl.EagerLimit)
	assert.Equal(t, DefaultMaxBulk, tbl.MaxBulk)

	aliased := r.MustAdd(Definition{Name: "auth_users", Alias: "members"})
	assert.Equal(t, "members", aliased.Label())
	assert.Equal(t, "public.auth_users", aliased.Path())
}

func TestReadColumnsAndWritable(t *testing.T) {
	t.Parallel()
	drv, _ := testDriver(t)
	r := NewRegistry(drv)
	tbl := r.MustAdd(Definition{
		Name:     "users",
		Columns:  userColumns(),
		Hidden:   []string{"secret"},
		ReadOnly: []string{"tenant_id"},
	})

	assert.Equal(t, []string{"age", "email", "id", "status", "tenant_id"}, tbl.readColumns())

	assert.True(t, tbl.writable("email"))
	assert.False(t, tbl.writable("secret"), "hidden columns reject writes")
	assert.False(t, tbl.writable("tenant_id"), "read-only columns reject writes")
	assert.False(t, tbl.writable("missing"))
}

func TestRegistryTablesSorted(t *testing.T) {
	t.Parallel()
	drv, _ := testDriver(t)
	r := NewRegistry(drv)
	r.MustAdd(Definition{Name: "zebras"})
	r.MustAdd(Definition{Name: "apples"})
	r.MustAdd(Definition{Name: "mangos", Schema: "audit"})

	var paths []string
	for _, tbl := range r.Tables() {
		paths = append(paths, tbl.Path())
	}
	assert.Equal(t, []string{"audit.mangos", "public.apples", "public.zebras"}, paths)
}

func TestLink(t *testing.T) {
	t.Parallel()
	r, _ := newLinkedRegistry(t)
	users, _ := r.Table("public.users")
	posts, _ := r.Table("public.posts")

	one, ok := posts.HasOne["user"]
	require.True(t, ok)
	assert.Equal(t, "user_id", one.Relation.Column)
	assert.Same(t, users, one.Table)

	many, ok := users.HasMany["posts"]
	require.True(t, ok)
	assert.Equal(t, "user_id", many.Relation.Column)
	assert.Same(t, posts, many.Table)

	rt, ok := posts.Related("user")
	assert.True(t, ok)
	assert.Same(t, one, rt)
	rt, ok = users.Related("posts")
	assert.True(t, ok)
	assert.Same(t, many, rt)
	_, ok = users.Related("comments")
	assert.False(t, ok)

	assert.EqualError(t, r.Link(), "table: registry linked twice")
}

func TestLinkSkipsUnregisteredTargets(t *testing.T) {
	t.Parallel()
	drv, _ := testDriver(t)
	r := NewRegistry(drv)
	tbl := r.MustAdd(Definition{
		Name:    "posts",
		Columns: postColumns(),
		Relations: map[string]Relation{
			"user_id": {Column: "user_id", RefSchema: "public", RefTable: "users", RefColumn: "id"},
		},
	})
	require.NoError(t, r.Link())
	assert.Empty(t, tbl.HasOne, "relations into unregistered tables stay plain columns")
}

func TestLinkNameCollision(t *testing.T) {
	t.Parallel()
	drv, _ := testDriver(t)
	r := NewRegistry(drv)
	r.MustAdd(Definition{Name: "users", Columns: userColumns()})
	r.MustAdd(Definition{
		Name:    "posts",
		Columns: postColumns(),
		Relations: map[string]Relation{
			// Both columns derive the hasOne name "author".
			"author":    {Column: "author", RefSchema: "public", RefTable: "users", RefColumn: "id"},
			"author_id": {Column: "author_id", RefSchema: "public", RefTable: "users", RefColumn: "id"},
		},
	})
	err := r.Link()
	require.Error(t, err)
	assert.Contains(t, err.Error(), `derives relationship "author" from both`)
}

func TestLinkAmbiguousInverse(t *testing.T) {
	t.Parallel()
	relations := map[string]Relation{
		"author_id":   {Column: "author_id", RefSchema: "public", RefTable: "users", RefColumn: "id"},
		"reviewer_id": {Column: "reviewer_id", RefSchema: "public", RefTable: "users", RefColumn: "id"},
	}

	drv, _ := testDriver(t)
	r := NewRegistry(drv)
	r.MustAdd(Definition{Name: "users", Columns: userColumns()})
	r.MustAdd(Definition{Name: "posts", Columns: postColumns(), Relations: relations})
	err := r.Link()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "set inverse names")

	// Explicit inverse names disambiguate the two edges.
	drv2, _ := testDriver(t)
	r2 := NewRegistry(drv2)
	users := r2.MustAdd(Definition{Name: "users", Columns: userColumns()})
	r2.MustAdd(Definition{
		Name:      "posts",
		Columns:   postColumns(),
		Relations: relations,
		InverseNames: map[string]string{
			"author_id":   "authoredPosts",
			"reviewer_id": "reviewedPosts",
		},
	})
	require.NoError(t, r2.Link())
	assert.Contains(t, users.HasMany, "authoredPosts")
	assert.Contains(t, users.HasMany, "reviewedPosts")
}

func TestInitFromSnapshot(t *testing.T) {
	t.Parallel()
	drv, _ := testDriver(t)
	r := NewRegistry(drv)
	users := r.MustAdd(Definition{Name: "users"})
	posts := r.MustAdd(Definition{Name: "posts"})

	snap := &introspect.Snapshot{
		Dialect: dialect.Postgres,
		Tables: []introspect.TableSchema{
			{
				Schema: "public", Name: "users",
				Columns: []introspect.Column{
					{Name: "id", Type: "integer"},
					{Name: "email", Type: "string", Length: 255},
				},
				UniqueSets: [][]string{{"email"}},
			},
			{
				Schema: "public", Name: "posts",
				Columns: []introspect.Column{
					{Name: "id", Type: "integer"},
					{Name: "user_id", Type: "integer"},
				},
				ForeignKeys: []introspect.ForeignKey{
					{Column: "user_id", RefSchema: "public", RefTable: "users", RefColumn: "id"},
				},
			},
		},
	}
	require.NoError(t, r.InitFromSnapshot(snap))

	assert.Len(t, users.Columns, 2)
	assert.Equal(t, [][]string{{"email"}}, users.UniqueSets)
	assert.Contains(t, posts.Relations, "user_id")
	assert.Contains(t, posts.HasOne, "user")
	assert.Contains(t, users.HasMany, "posts")
}

func TestRegistrySnapshot(t *testing.T) {
	t.Parallel()
	drv, mock := testDriver(t)
	r := NewRegistry(drv)
	r.MustAdd(Definition{
		Name: "statuses",
		Columns: map[string]introspect.Column{
			"id":   col("id", "integer"),
			"name": col("name", "string"),
		},
		Lookup: true,
	})
	r.MustAdd(Definition{
		Name:    "users",
		Columns: userColumns(),
		Relations: map[string]Relation{
			"status_id": {Column: "status_id", RefSchema: "public", RefTable: "statuses", RefColumn: "id"},
		},
	})
	require.NoError(t, r.Link())

	// Lookup tables get their id list captured alongside the metadata.
	mock.ExpectQuery(regexp.QuoteMeta(
		`SELECT "statuses_1"."id" FROM "statuses" AS "statuses_1" ORDER BY "statuses_1"."id" LIMIT 1000`)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1).AddRow(2))
	snap, err := r.Snapshot(context.Background())
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())

	require.Len(t, snap.Tables, 2)
	assert.Equal(t, dialect.Postgres, snap.Dialect)
	statuses := snap.Table("public", "statuses")
	require.NotNil(t, statuses)
	assert.Equal(t, []any{int64(1), int64(2)}, statuses.LookupIDs)

	users := snap.Table("public", "users")
	require.NotNil(t, users)
	assert.Nil(t, users.LookupIDs)
	assert.Equal(t, 255, users.Column("email").Length)
	require.Len(t, users.ForeignKeys, 1)
	assert.Equal(t, "status_id", users.ForeignKeys[0].Column)

	// Loading the snapshot into a fresh registry restores the id list
	// even for tables that carry explicit columns.
	drv2, _ := testDriver(t)
	r2 := NewRegistry(drv2)
	loaded := r2.MustAdd(Definition{
		Name: "statuses",
		Columns: map[string]introspect.Column{
			"id":   col("id", "integer"),
			"name": col("name", "string"),
		},
		Lookup: true,
	})
	require.NoError(t, r2.InitFromSnapshot(snap))
	assert.Equal(t, []any{int64(1), int64(2)}, loaded.LookupIDs())
}

func TestInitFromSnapshotMissingTable(t *testing.T) {
	t.Parallel()
	drv, _ := testDriver(t)
	r := NewRegistry(drv)
	r.MustAdd(Definition{Name: "users"})

	err := r.InitFromSnapshot(&introspect.Snapshot{})
	assert.EqualError(t, err, "table: public.users missing from snapshot")
}

func TestApplySchemaKeepsOverrides(t *testing.T) {
	t.Parallel()
	drv, _ := testDriver(t)
	r := NewRegistry(drv)
	tbl := r.MustAdd(Definition{
		Name: "users",
		Columns: map[string]introspect.Column{
			"email": {Name: "email", Type: "string", Length: 64},
		},
		UniqueSets: [][]string{{"email"}},
	})

	snap := &introspect.Snapshot{Tables: []introspect.TableSchema{{
		Schema: "public", Name: "users",
		Columns: []introspect.Column{
			{Name: "email", Type: "string", Length: 255},
			{Name: "id", Type: "integer"},
		},
		UniqueSets: [][]string{{"id"}},
	}}}
	// The table already carries columns, so the snapshot contributes
	// nothing to it beyond lookup ids.
	require.NoError(t, r.InitFromSnapshot(snap))
	assert.Equal(t, 64, tbl.Columns["email"].Length)
	assert.Equal(t, [][]string{{"email"}}, tbl.UniqueSets)
}
