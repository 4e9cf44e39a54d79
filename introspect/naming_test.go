package introspect

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConvention(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "tenant_id", Snake.External("tenant_id"))
	assert.Equal(t, "tenant_id", Snake.Internal("tenant_id"))

	assert.Equal(t, "tenantId", Camel.External("tenant_id"))
	assert.Equal(t, "tenant_id", Camel.Internal("tenantId"))
	assert.Equal(t, "id", Camel.External("id"))
}

func TestHasOneName(t *testing.T) {
	t.Parallel()
	tests := []struct {
		column, idColumn, want string
	}{
		{"user_id", "id", "user"},
		{"author_id", "", "author"},
		{"parent_uuid", "uuid", "parent"},
		{"owner", "id", "owner"},
		{"userId", "", "user"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, HasOneName(tt.column, tt.idColumn), tt.column)
	}
}

func TestHasManyName(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "comments", HasManyName("comment"))
	assert.Equal(t, "statuses", HasManyName("status"))
	assert.Equal(t, "people", HasManyName("person"))
}

func TestNormalizePostgresType(t *testing.T) {
	t.Parallel()
	tests := []struct {
		dataType, udtName string
		want              string
		array             bool
	}{
		{"character varying", "varchar", "string", false},
		{"text", "text", "string", false},
		{"integer", "int4", "integer", false},
		{"timestamp with time zone", "timestamptz", "timestamp", false},
		{"timestamp without time zone", "timestamp", "timestamp", false},
		{"jsonb", "jsonb", "json", false},
		{"uuid", "uuid", "uuid", false},
		{"boolean", "bool", "boolean", false},
		{"ARRAY", "_text", "string", true},
		{"ARRAY", "_int4", "integer", true},
		{"USER-DEFINED", "citext", "citext", false},
	}
	for _, tt := range tests {
		typ, array := normalizePostgresType(tt.dataType, tt.udtName)
		assert.Equal(t, tt.want, typ, tt.dataType+"/"+tt.udtName)
		assert.Equal(t, tt.array, array, tt.dataType+"/"+tt.udtName)
	}
}
