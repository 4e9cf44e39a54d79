// Package lattice turns a relational schema into a graph-aware read/write
// engine. Table definitions are linked against the live schema and exposed
// as filtered, paginated, eagerly-loadable reads and transactional nested
// writes, scoped by per-row policies and tenant isolation.
package lattice

import "strings"

// Op is a bit-set of engine operation modes. Policies and hooks receive
// the mode of the statement they are scoping.
type Op uint

const (
	// OpRead is any select, count, or id-listing statement.
	OpRead Op = 1 << iota
	// OpInsert is a row insertion.
	OpInsert
	// OpUpdate is a row update.
	OpUpdate
	// OpDelete is a row deletion, soft or hard.
	OpDelete

	// OpWrite groups all mutating modes.
	OpWrite = OpInsert | OpUpdate | OpDelete
	// OpAll groups every mode.
	OpAll = OpRead | OpWrite
)

// Is reports whether op contains any of the modes in o.
func (op Op) Is(o Op) bool { return op&o != 0 }

func (op Op) String() string {
	var names []string
	for _, o := range []struct {
		op   Op
		name string
	}{
		{OpRead, "read"},
		{OpInsert, "insert"},
		{OpUpdate, "update"},
		{OpDelete, "delete"},
	} {
		if op.Is(o.op) {
			names = append(names, o.name)
		}
	}
	if len(names) == 0 {
		return "unknown"
	}
	return strings.Join(names, "|")
}
