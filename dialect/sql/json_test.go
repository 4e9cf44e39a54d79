package sql

import (
	"testing"

	"github.com/graphtable/lattice/dialect"

	"github.com/stretchr/testify/assert"
)

func TestJSONObject(t *testing.T) {
	t.Parallel()
	p := Table("posts").As("p")

	expr, args := JSONObject(dialect.Postgres, p, []string{"id", "title"}).Query()
	assert.Equal(t, `json_build_object('id', "p"."id", 'title', "p"."title")`, expr)
	assert.Empty(t, args)

	expr, _ = JSONObject(dialect.MySQL, p, []string{"id"}).Query()
	assert.Equal(t, "json_object('id', `p`.`id`)", expr)

	expr, _ = JSONObject(dialect.SQLite, p, []string{"id"}).Query()
	assert.Equal(t, `json_object('id', "p"."id")`, expr)
}

func TestJSONArrayAgg(t *testing.T) {
	t.Parallel()
	obj := JSONObject(dialect.Postgres, Table("posts").As("p"), []string{"id"})

	expr, args := JSONArrayAgg(dialect.Postgres, obj).Query()
	assert.Equal(t, `COALESCE(json_agg(json_build_object('id', "p"."id")), '[]'::json)`, expr)
	assert.Empty(t, args)

	obj = JSONObject(dialect.MySQL, Table("posts").As("p"), []string{"id"})
	expr, _ = JSONArrayAgg(dialect.MySQL, obj).Query()
	assert.Equal(t, "COALESCE(JSON_ARRAYAGG(json_object('id', `p`.`id`)), JSON_ARRAY())", expr)

	obj = JSONObject(dialect.SQLite, Table("posts").As("p"), []string{"id"})
	expr, _ = JSONArrayAgg(dialect.SQLite, obj).Query()
	assert.Equal(t, `COALESCE(json_group_array(json_object('id', "p"."id")), json_array())`, expr)
}
