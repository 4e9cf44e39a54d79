package sql

import (
	"testing"

	"github.com/graphtable/lattice/dialect"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSelector(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name      string
		input     Querier
		wantQuery string
		wantArgs  []any
	}{
		{
			name: "columns",
			input: Dialect(dialect.Postgres).
				Select("id", "name").
				From(Table("users")),
			wantQuery: `SELECT "id", "name" FROM "users"`,
		},
		{
			name: "columns mysql",
			input: Dialect(dialect.MySQL).
				Select("id", "name").
				From(Table("users")),
			wantQuery: "SELECT `id`, `name` FROM `users`",
		},
		{
			name: "schema qualified alias",
			input: Dialect(dialect.Postgres).
				Select("u.id").
				From(Table("public.users").As("u")),
			wantQuery: `SELECT "u"."id" FROM "public"."users" AS "u"`,
		},
		{
			name: "star",
			input: Dialect(dialect.Postgres).
				Select("*").
				From(Table("users")),
			wantQuery: `SELECT * FROM "users"`,
		},
		{
			name: "where and or",
			input: Dialect(dialect.Postgres).
				Select("id").
				From(Table("users")).
				Where(And(
					EQ("status", "active"),
					Or(GT("age", 18), EQ("role", "admin")),
				)),
			wantQuery: `SELECT "id" FROM "users" WHERE ("status" = $1) AND (("age" > $2) OR ("role" = $3))`,
			wantArgs:  []any{"active", 18, "admin"},
		},
		{
			name: "where mysql placeholders",
			input: Dialect(dialect.MySQL).
				Select("id").
				From(Table("users")).
				Where(And(EQ("status", "active"), LT("age", 30))),
			wantQuery: "SELECT `id` FROM `users` WHERE (`status` = ?) AND (`age` < ?)",
			wantArgs:  []any{"active", 30},
		},
		{
			name: "order limit offset",
			input: Dialect(dialect.Postgres).
				Select("id").
				From(Table("users")).
				OrderBy("-created_at", "id").
				Limit(10).
				Offset(20),
			wantQuery: `SELECT "id" FROM "users" ORDER BY "created_at" DESC, "id" LIMIT 10 OFFSET 20`,
		},
		{
			name: "join",
			input: func() Querier {
				users := Table("users").As("u")
				posts := Table("posts").As("p")
				return Dialect(dialect.Postgres).
					Select("u.id", "p.title").
					From(users).
					Join(posts).On(users.C("id"), posts.C("user_id"))
			}(),
			wantQuery: `SELECT "u"."id", "p"."title" FROM "users" AS "u" JOIN "posts" AS "p" ON "u"."id" = "p"."user_id"`,
		},
		{
			name: "left join",
			input: Dialect(dialect.Postgres).
				Select("id").
				From(Table("users").As("u")).
				LeftJoin(Table("profiles").As("pr")).
				On("u.id", "pr.user_id"),
			wantQuery: `SELECT "id" FROM "users" AS "u" LEFT JOIN "profiles" AS "pr" ON "u"."id" = "pr"."user_id"`,
		},
		{
			name: "group by having",
			input: Dialect(dialect.Postgres).
				Select("tenant_id").
				From(Table("users")).
				GroupBy("tenant_id").
				Having(ExprP("COUNT(*) > 1")),
			wantQuery: `SELECT "tenant_id" FROM "users" GROUP BY "tenant_id" HAVING COUNT(*) > 1`,
		},
		{
			name: "derived table",
			input: Dialect(dialect.Postgres).
				Select("name").
				FromSelect(Select("name", "id").From(Table("users")), "t"),
			wantQuery: `SELECT "name" FROM (SELECT "name", "id" FROM "users") AS "t"`,
		},
		{
			name: "for update",
			input: Dialect(dialect.Postgres).
				Select("id").
				From(Table("users")).
				Where(EQ("id", 1)).
				ForUpdate(),
			wantQuery: `SELECT "id" FROM "users" WHERE "id" = $1 FOR UPDATE`,
			wantArgs:  []any{1},
		},
		{
			name: "for update ignored on sqlite",
			input: Dialect(dialect.SQLite).
				Select("id").
				From(Table("users")).
				ForUpdate(),
			wantQuery: `SELECT "id" FROM "users"`,
		},
		{
			name: "distinct",
			input: Dialect(dialect.Postgres).
				Select("tenant_id").
				From(Table("users")).
				Distinct(),
			wantQuery: `SELECT DISTINCT "tenant_id" FROM "users"`,
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			query, args := tt.input.Query()
			assert.Equal(t, tt.wantQuery, query)
			if tt.wantArgs == nil {
				assert.Empty(t, args)
			} else {
				assert.Equal(t, tt.wantArgs, args)
			}
		})
	}
}

// TestSelectorSubquery covers correlated subqueries in WHERE and in the
// select list. Placeholder numbering must stay sequential across the
// nesting on Postgres.
func TestSelectorSubquery(t *testing.T) {
	t.Parallel()

	t.Run("exists", func(t *testing.T) {
		t.Parallel()
		sub := Select("id").
			From(Table("posts").As("p")).
			Where(And(
				ColumnsEQ("p.user_id", "u.id"),
				EQ("p.tenant_id", 7),
			))
		query, args := Dialect(dialect.Postgres).
			Select("id").
			From(Table("users").As("u")).
			Where(And(EQ("u.tenant_id", 7), Exists(sub))).
			Query()
		assert.Equal(t,
			`SELECT "id" FROM "users" AS "u" WHERE ("u"."tenant_id" = $1) AND (EXISTS (SELECT "id" FROM "posts" AS "p" WHERE ("p"."user_id" = "u"."id") AND ("p"."tenant_id" = $2)))`,
			query)
		assert.Equal(t, []any{7, 7}, args)
	})

	t.Run("scalar select", func(t *testing.T) {
		t.Parallel()
		sub := Select("name").
			From(Table("profiles").As("pr")).
			Where(ColumnsEQ("pr.user_id", "u.id")).
			Where(EQ("pr.kind", "main")).
			Limit(1)
		query, args := Dialect(dialect.Postgres).
			Select("id").
			From(Table("users").As("u")).
			AppendSelectAs(sub, "profile").
			Where(EQ("u.tenant_id", 9)).
			Query()
		assert.Equal(t,
			`SELECT "id", (SELECT "name" FROM "profiles" AS "pr" WHERE ("pr"."user_id" = "u"."id") AND ("pr"."kind" = $1) LIMIT 1) AS "profile" FROM "users" AS "u" WHERE "u"."tenant_id" = $2`,
			query)
		assert.Equal(t, []any{"main", 9}, args)
	})

	t.Run("in select", func(t *testing.T) {
		t.Parallel()
		sub := Select("user_id").From(Table("posts")).Where(EQ("tenant_id", 1))
		query, args := Dialect(dialect.Postgres).
			Select("id").
			From(Table("users")).
			Where(InSelect("id", sub)).
			Query()
		assert.Equal(t,
			`SELECT "id" FROM "users" WHERE "id" IN (SELECT "user_id" FROM "posts" WHERE "tenant_id" = $1)`,
			query)
		assert.Equal(t, []any{1}, args)
	})
}

func TestSelectorClone(t *testing.T) {
	t.Parallel()
	s := Dialect(dialect.Postgres).
		Select("id").
		From(Table("users")).
		Where(EQ("tenant_id", 1))
	c := s.Clone().Where(EQ("status", "active"))

	query, args := s.Query()
	assert.Equal(t, `SELECT "id" FROM "users" WHERE "tenant_id" = $1`, query)
	assert.Equal(t, []any{1}, args)

	query, args = c.Query()
	assert.Equal(t, `SELECT "id" FROM "users" WHERE ("tenant_id" = $1) AND ("status" = $2)`, query)
	assert.Equal(t, []any{1, "active"}, args)
}

func TestSelectorCount(t *testing.T) {
	t.Parallel()
	s := Dialect(dialect.Postgres).
		Select("id").
		From(Table("users")).
		Where(EQ("tenant_id", 3)).
		OrderBy("-created_at").
		Limit(10).
		Offset(20)

	query, args := s.Count().Query()
	assert.Equal(t, `SELECT COUNT(*) FROM "users" WHERE "tenant_id" = $1`, query)
	assert.Equal(t, []any{3}, args)

	// The source selector keeps its pagination.
	query, _ = s.Query()
	assert.Contains(t, query, "ORDER BY")
	assert.Contains(t, query, "LIMIT 10")
}

func TestInsertBuilder(t *testing.T) {
	t.Parallel()

	t.Run("postgres returning", func(t *testing.T) {
		t.Parallel()
		query, args := Dialect(dialect.Postgres).
			Insert("users").
			Columns("name", "age").
			Values("Ada", 36).
			Values("Alan", 41).
			Returning("id").
			Query()
		assert.Equal(t, `INSERT INTO "users" ("name", "age") VALUES ($1, $2), ($3, $4) RETURNING "id"`, query)
		assert.Equal(t, []any{"Ada", 36, "Alan", 41}, args)
	})

	t.Run("mysql drops returning", func(t *testing.T) {
		t.Parallel()
		query, args := Dialect(dialect.MySQL).
			Insert("users").
			Columns("name").
			Values("Ada").
			Returning("id").
			Query()
		assert.Equal(t, "INSERT INTO `users` (`name`) VALUES (?)", query)
		assert.Equal(t, []any{"Ada"}, args)
	})

	t.Run("default values", func(t *testing.T) {
		t.Parallel()
		query, args := Dialect(dialect.Postgres).
			Insert("users").
			Default().
			Query()
		assert.Equal(t, `INSERT INTO "users" DEFAULT VALUES`, query)
		assert.Empty(t, args)
	})
}

func TestUpdateBuilder(t *testing.T) {
	t.Parallel()

	u := Dialect(dialect.Postgres).
		Update("users").
		SetNull("deleted_at").
		Set("name", "Ada").
		Where(EQ("id", 5))
	require.False(t, u.Empty())

	query, args := u.Query()
	assert.Equal(t, `UPDATE "users" SET "deleted_at" = NULL, "name" = $1 WHERE "id" = $2`, query)
	assert.Equal(t, []any{"Ada", 5}, args)

	assert.True(t, Dialect(dialect.Postgres).Update("users").Empty())
}

func TestDeleteBuilder(t *testing.T) {
	t.Parallel()
	query, args := Dialect(dialect.Postgres).
		Delete("users").
		Where(EQ("tenant_id", 1)).
		Where(In("id", 2, 3)).
		Query()
	assert.Equal(t, `DELETE FROM "users" WHERE ("tenant_id" = $1) AND ("id" IN ($2, $3))`, query)
	assert.Equal(t, []any{1, 2, 3}, args)
}

func TestRawArg(t *testing.T) {
	t.Parallel()
	query, args := Dialect(dialect.Postgres).
		Update("users").
		Set("updated_at", Raw("NOW()")).
		Where(EQ("id", 1)).
		Query()
	assert.Equal(t, `UPDATE "users" SET "updated_at" = NOW() WHERE "id" = $1`, query)
	assert.Equal(t, []any{1}, args)
}

func TestBuilderErr(t *testing.T) {
	t.Parallel()
	s := Dialect(dialect.Postgres).Select("id").From(Table("users"))
	require.NoError(t, s.Err())
	s.AddError(assert.AnError)
	assert.ErrorIs(t, s.Err(), assert.AnError)
}
