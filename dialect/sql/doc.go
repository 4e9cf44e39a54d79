// Package sql provides the statement builders and the database/sql driver
// implementation the lattice engine executes against.
//
// # Builders
//
// Statements are assembled from small composable builders:
//
//   - Builder: low-level buffer with dialect-aware quoting and placeholders
//   - Selector: SELECT with joins, derived tables, and scalar subqueries
//   - InsertBuilder: INSERT with multi-row VALUES and RETURNING
//   - UpdateBuilder: UPDATE with SET, SET NULL, and WHERE
//   - DeleteBuilder: DELETE with WHERE
//
// Builders are started through Dialect so quoting and placeholder style
// follow the target database:
//
//	sql.Dialect(dialect.Postgres).
//		Select("id", "name").
//		From(sql.Table("users")).
//		Where(sql.EQ("status", "active"))
//
// Postgres renders $n placeholders; MySQL and SQLite render ?. Nesting a
// builder with Nested or AppendSelectAs carries the placeholder numbering
// into the outer statement, which is what keeps correlated subqueries
// correct on Postgres.
//
// # Predicates
//
// Predicates are lazy boolean expressions combined with And, Or, and Not:
//
//	sql.EQ("name", "ada")          // "name" = $1
//	sql.In("status", "a", "b")     // "status" IN ($1, $2)
//	sql.IsNull("deleted_at")       // "deleted_at" IS NULL
//	sql.ColumnsEQ("u.id", "p.uid") // correlation and join conditions
//	sql.Exists(sub)                // EXISTS (subquery)
//
// A nil predicate is ignored by Where, And, and Or, so optional filters
// compose without nil checks at every call site.
//
// # Driver
//
// Driver adapts a database/sql connection to the dialect.Driver interface
// used by the engine. Exec and Query take untyped destinations the way the
// dialect package defines them, and ScanMaps reads result sets into
// column→value maps for shaping.
package sql
