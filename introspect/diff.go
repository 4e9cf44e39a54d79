package introspect

import (
	"fmt"
	"strings"
)

// Snapshot drift detection. A registry initialized from a snapshot trusts
// the snapshot to describe the live catalog; Diff classifies how far two
// snapshots have drifted apart so deployments can refuse to start on
// breaking changes instead of failing mid-request.

// DiffError describes one incompatibility between two snapshots.
type DiffError struct {
	Table   string
	Column  string
	Message string
	// Breaking marks a change that can fail queries or lose data.
	Breaking bool
}

func (e *DiffError) Error() string {
	if e.Column != "" {
		return fmt.Sprintf("%s.%s: %s", e.Table, e.Column, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Table, e.Message)
}

// DiffResult holds the outcome of comparing two snapshots.
type DiffResult struct {
	Errors   []*DiffError
	Warnings []*DiffError
}

// HasErrors reports whether any errors were found.
func (r *DiffResult) HasErrors() bool { return len(r.Errors) > 0 }

// HasWarnings reports whether any warnings were found.
func (r *DiffResult) HasWarnings() bool { return len(r.Warnings) > 0 }

// HasBreakingChanges reports whether any change was classified as breaking.
func (r *DiffResult) HasBreakingChanges() bool {
	for _, e := range r.Errors {
		if e.Breaking {
			return true
		}
	}
	for _, w := range r.Warnings {
		if w.Breaking {
			return true
		}
	}
	return false
}

// String returns a human-readable summary of the result.
func (r *DiffResult) String() string {
	var sb strings.Builder
	if len(r.Errors) > 0 {
		sb.WriteString("Errors:\n")
		for _, e := range r.Errors {
			sb.WriteString("  - ")
			sb.WriteString(e.Error())
			if e.Breaking {
				sb.WriteString(" [BREAKING]")
			}
			sb.WriteString("\n")
		}
	}
	if len(r.Warnings) > 0 {
		sb.WriteString("Warnings:\n")
		for _, w := range r.Warnings {
			sb.WriteString("  - ")
			sb.WriteString(w.Error())
			if w.Breaking {
				sb.WriteString(" [BREAKING]")
			}
			sb.WriteString("\n")
		}
	}
	if !r.HasErrors() && !r.HasWarnings() {
		sb.WriteString("No issues found")
	}
	return sb.String()
}

// DiffOption configures snapshot comparison.
type DiffOption func(*diffConfig)

type diffConfig struct {
	allowDropColumn    bool
	allowDropTable     bool
	allowNullToNotNull bool
}

// AllowDropColumn downgrades dropped columns from errors to warnings.
func AllowDropColumn() DiffOption {
	return func(c *diffConfig) { c.allowDropColumn = true }
}

// AllowDropTable downgrades dropped tables from errors to warnings.
func AllowDropTable() DiffOption {
	return func(c *diffConfig) { c.allowDropTable = true }
}

// AllowNullToNotNull downgrades NULL→NOT NULL changes from errors to
// warnings.
func AllowNullToNotNull() DiffOption {
	return func(c *diffConfig) { c.allowNullToNotNull = true }
}

// Diff compares the current snapshot against the desired one and reports
// incompatibilities. Current is what the registry was built from, desired
// is what the live catalog now looks like.
func Diff(current, desired *Snapshot, opts ...DiffOption) *DiffResult {
	cfg := &diffConfig{}
	for _, opt := range opts {
		opt(cfg)
	}

	result := &DiffResult{}
	currentMap := make(map[string]*TableSchema, len(current.Tables))
	for i := range current.Tables {
		currentMap[current.Tables[i].Path()] = &current.Tables[i]
	}
	desiredMap := make(map[string]*TableSchema, len(desired.Tables))
	for i := range desired.Tables {
		desiredMap[desired.Tables[i].Path()] = &desired.Tables[i]
	}

	for path := range currentMap {
		if _, ok := desiredMap[path]; !ok {
			err := &DiffError{
				Table:    path,
				Message:  "table was dropped",
				Breaking: true,
			}
			if cfg.allowDropTable {
				result.Warnings = append(result.Warnings, err)
			} else {
				result.Errors = append(result.Errors, err)
			}
		}
	}

	for path, want := range desiredMap {
		have, exists := currentMap[path]
		if !exists {
			// New table, nothing to compare against.
			continue
		}
		diffTable(have, want, cfg, result)
	}
	return result
}

func diffTable(current, desired *TableSchema, cfg *diffConfig, result *DiffResult) {
	for i := range current.Columns {
		name := current.Columns[i].Name
		if desired.Column(name) == nil {
			err := &DiffError{
				Table:    current.Path(),
				Column:   name,
				Message:  "column was dropped",
				Breaking: true,
			}
			if cfg.allowDropColumn {
				result.Warnings = append(result.Warnings, err)
			} else {
				result.Errors = append(result.Errors, err)
			}
		}
	}

	for i := range desired.Columns {
		want := &desired.Columns[i]
		have := current.Column(want.Name)
		if have == nil {
			if !want.Nullable && want.Default == nil {
				result.Warnings = append(result.Warnings, &DiffError{
					Table:   current.Path(),
					Column:  want.Name,
					Message: "new NOT NULL column without default value may fail if table has data",
				})
			}
			continue
		}
		if have.Type != want.Type {
			result.Warnings = append(result.Warnings, &DiffError{
				Table:   current.Path(),
				Column:  want.Name,
				Message: fmt.Sprintf("column type changed from %s to %s", have.Type, want.Type),
			})
		}
		if have.Nullable && !want.Nullable {
			err := &DiffError{
				Table:    current.Path(),
				Column:   want.Name,
				Message:  "column changed from NULL to NOT NULL and may fail on existing NULL values",
				Breaking: true,
			}
			if cfg.allowNullToNotNull {
				result.Warnings = append(result.Warnings, err)
			} else {
				result.Errors = append(result.Errors, err)
			}
		}
		if have.Length > 0 && want.Length > 0 && want.Length < have.Length {
			result.Warnings = append(result.Warnings, &DiffError{
				Table:   current.Path(),
				Column:  want.Name,
				Message: fmt.Sprintf("column length reduced from %d to %d and may truncate data", have.Length, want.Length),
			})
		}
	}

	// A unique set that disappeared means the uniqueness probes no longer
	// have a store constraint behind them.
	for _, set := range current.UniqueSets {
		if !hasUniqueSet(desired.UniqueSets, set) {
			result.Warnings = append(result.Warnings, &DiffError{
				Table:    current.Path(),
				Message:  fmt.Sprintf("unique constraint on (%s) was dropped", strings.Join(set, ", ")),
				Breaking: true,
			})
		}
	}
}

func hasUniqueSet(sets [][]string, want []string) bool {
	for _, set := range sets {
		if len(set) != len(want) {
			continue
		}
		match := true
		for i := range set {
			if set[i] != want[i] {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}

// Validate checks the internal consistency of a single snapshot: duplicate
// tables or columns, and foreign keys referencing unknown tables or
// columns.
func Validate(s *Snapshot) *DiffResult {
	result := &DiffResult{}

	paths := make(map[string]bool, len(s.Tables))
	for i := range s.Tables {
		t := &s.Tables[i]
		if paths[t.Path()] {
			result.Errors = append(result.Errors, &DiffError{
				Table:   t.Path(),
				Message: "duplicate table",
			})
		}
		paths[t.Path()] = true

		cols := make(map[string]bool, len(t.Columns))
		for j := range t.Columns {
			name := t.Columns[j].Name
			if cols[name] {
				result.Errors = append(result.Errors, &DiffError{
					Table:   t.Path(),
					Column:  name,
					Message: "duplicate column",
				})
			}
			cols[name] = true
		}
		for _, set := range t.UniqueSets {
			for _, c := range set {
				if !cols[c] {
					result.Errors = append(result.Errors, &DiffError{
						Table:   t.Path(),
						Message: fmt.Sprintf("unique constraint references unknown column %q", c),
					})
				}
			}
		}
		for _, fk := range t.ForeignKeys {
			if !cols[fk.Column] {
				result.Errors = append(result.Errors, &DiffError{
					Table:   t.Path(),
					Message: fmt.Sprintf("foreign key references unknown column %q", fk.Column),
				})
			}
		}
	}

	// Foreign-key targets must exist in the snapshot.
	for i := range s.Tables {
		t := &s.Tables[i]
		for _, fk := range t.ForeignKeys {
			target := s.Table(fk.RefSchema, fk.RefTable)
			if target == nil {
				result.Errors = append(result.Errors, &DiffError{
					Table:   t.Path(),
					Message: fmt.Sprintf("foreign key references unknown table %q", fk.RefSchema+"."+fk.RefTable),
				})
				continue
			}
			if target.Column(fk.RefColumn) == nil {
				result.Errors = append(result.Errors, &DiffError{
					Table:   t.Path(),
					Message: fmt.Sprintf("foreign key references unknown column %q", fk.RefTable+"."+fk.RefColumn),
				})
			}
		}
	}
	return result
}
