package introspect

import (
	"strings"

	"github.com/go-openapi/inflect"
)

// Convention is the naming convention of a registry's external surface.
// Stores conventionally use snake_case while API payloads use camelCase;
// the engine converts at the boundary.
type Convention int

const (
	// Snake leaves store column names untouched.
	Snake Convention = iota
	// Camel exposes camelCase keys over snake_case columns.
	Camel
)

// External converts a store column name to its external key.
func (c Convention) External(column string) string {
	if c == Camel {
		return inflect.CamelizeDownFirst(column)
	}
	return column
}

// Internal converts an external key back to the store column name.
func (c Convention) Internal(key string) string {
	if c == Camel {
		return inflect.Underscore(key)
	}
	return key
}

// HasOneName derives the relationship name of a foreign-key column:
// "user_id" becomes "user", a bare "user" stays "user".
func HasOneName(column, idColumn string) string {
	name := column
	suffix := "_" + idColumn
	if idColumn != "" && strings.HasSuffix(name, suffix) {
		name = strings.TrimSuffix(name, suffix)
	} else if strings.HasSuffix(name, "_id") {
		name = strings.TrimSuffix(name, "_id")
	} else if strings.HasSuffix(name, "Id") {
		name = strings.TrimSuffix(name, "Id")
	}
	return name
}

// HasManyName derives the inverse relationship name from the owning
// table's name, pluralized: table "comment" yields "comments".
func HasManyName(table string) string {
	return inflect.Pluralize(table)
}
