package introspect

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/graphtable/lattice/dialect"
	"github.com/graphtable/lattice/dialect/sql"
)

func pgExtractor(t *testing.T) (Extractor, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	ex, err := New(sql.OpenDB(dialect.Postgres, db))
	require.NoError(t, err)
	return ex, mock
}

func TestPostgresTables(t *testing.T) {
	t.Parallel()
	ex, mock := pgExtractor(t)
	mock.ExpectQuery(`SELECT table_name\s+FROM information_schema\.tables`).
		WithArgs("public").
		WillReturnRows(sqlmock.NewRows([]string{"table_name"}).
			AddRow("posts").
			AddRow("users"))

	tables, err := ex.Tables(context.Background(), "public")
	require.NoError(t, err)
	assert.Equal(t, []string{"posts", "users"}, tables)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresTable(t *testing.T) {
	t.Parallel()
	ex, mock := pgExtractor(t)
	def := "nextval('users_id_seq'::regclass)"

	mock.ExpectQuery(`FROM information_schema\.columns`).
		WithArgs("public", "users").
		WillReturnRows(sqlmock.NewRows([]string{
			"column_name", "data_type", "udt_name", "is_nullable", "column_default", "character_maximum_length",
		}).
			AddRow("id", "integer", "int4", "NO", def, nil).
			AddRow("email", "character varying", "varchar", "NO", nil, 255).
			AddRow("tags", "ARRAY", "_text", "YES", nil, nil))
	mock.ExpectQuery(`constraint_type IN \('UNIQUE', 'PRIMARY KEY'\)`).
		WithArgs("public", "users").
		WillReturnRows(sqlmock.NewRows([]string{"array_agg"}).
			AddRow("{id}").
			AddRow("{tenant_id,email}"))
	mock.ExpectQuery(`constraint_type = 'FOREIGN KEY'`).
		WithArgs("public", "users").
		WillReturnRows(sqlmock.NewRows([]string{
			"column_name", "table_schema", "table_name", "column_name", "update_rule", "delete_rule",
		}).AddRow("tenant_id", "public", "tenants", "id", "NO ACTION", "CASCADE"))

	ts, err := ex.Table(context.Background(), "public", "users")
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())

	require.Len(t, ts.Columns, 3)
	id := ts.Column("id")
	require.NotNil(t, id)
	assert.Equal(t, "integer", id.Type)
	assert.False(t, id.Nullable)
	require.NotNil(t, id.Default)
	assert.Equal(t, def, *id.Default)

	email := ts.Column("email")
	assert.Equal(t, "string", email.Type)
	assert.Equal(t, 255, email.Length)

	tags := ts.Column("tags")
	assert.Equal(t, "string", tags.Type)
	assert.True(t, tags.Array)
	assert.True(t, tags.Nullable)

	assert.Equal(t, [][]string{{"id"}, {"tenant_id", "email"}}, ts.UniqueSets)
	require.Len(t, ts.ForeignKeys, 1)
	fk := ts.ForeignKeys[0]
	assert.Equal(t, "tenant_id", fk.Column)
	assert.Equal(t, "public.tenants", fk.RefSchema+"."+fk.RefTable)
	assert.Equal(t, "CASCADE", fk.OnDelete)
}

func TestNewUnsupportedDialect(t *testing.T) {
	t.Parallel()
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	_, err = New(sql.OpenDB("oracle", db))
	assert.Error(t, err)
}
