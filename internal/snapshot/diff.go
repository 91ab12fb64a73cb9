// internal/snapshot/diff.go
//
// Pure snapshot comparison.
//
// Context
// -------
// Compare works only on the two snapshot values; it never touches storage.
// Tables and columns are diffed as sets over their names.  Common columns
// are compared field by field over a fixed attribute list, and each change
// is classified:
//
//	ADDED     old value null, new value set
//	REMOVED   old value set, new value null
//	MODIFIED  anything else
//
// Every list in a Diff is sorted by name so output is stable.
package snapshot

import (
	"fmt"
	"sort"
)

// Field change classes.
const (
	ChangeAdded    = "ADDED"
	ChangeRemoved  = "REMOVED"
	ChangeModified = "MODIFIED"
)

// Compared column attributes, in report order.
const (
	FieldType          = "type"
	FieldNullable      = "nullable"
	FieldPrimaryKey    = "primary_key"
	FieldDefaultValue  = "default_value"
	FieldComment       = "comment"
	FieldMaxLength     = "max_length"
	FieldAutoIncrement = "auto_increment"
)

// FieldChange is one attribute that differs between two column versions.
// A nil OldValue or NewValue means the attribute was null on that side.
type FieldChange struct {
	Field      string `json:"field"`
	ChangeType string `json:"change_type"`
	OldValue   any    `json:"old_value"`
	NewValue   any    `json:"new_value"`
}

// ColumnDiff lists the field changes of one common column.
type ColumnDiff struct {
	Name    string        `json:"column_name"`
	Before  ColumnVersion `json:"before"`
	After   ColumnVersion `json:"after"`
	Changes []FieldChange `json:"changes"`
}

// Has reports whether field is among the changes.
func (d ColumnDiff) Has(field string) bool {
	for _, c := range d.Changes {
		if c.Field == field {
			return true
		}
	}
	return false
}

// TableDiff is the column-level diff of one table present on both sides.
type TableDiff struct {
	Name            string          `json:"table_name"`
	ColumnsAdded    []ColumnVersion `json:"columns_added"`
	ColumnsRemoved  []ColumnVersion `json:"columns_removed"`
	ColumnsModified []ColumnDiff    `json:"columns_modified"`
}

// Empty reports whether no column was added, removed, or modified.
func (t TableDiff) Empty() bool {
	return len(t.ColumnsAdded) == 0 && len(t.ColumnsRemoved) == 0 && len(t.ColumnsModified) == 0
}

// Diff is the result of comparing two snapshots.
type Diff struct {
	FromID          string         `json:"from_snapshot_id"`
	ToID            string         `json:"to_snapshot_id"`
	FromVersion     string         `json:"from_version"`
	ToVersion       string         `json:"to_version"`
	TablesAdded     []TableVersion `json:"tables_added"`
	TablesRemoved   []TableVersion `json:"tables_removed"`
	TablesModified  []TableDiff    `json:"tables_modified"`
	TablesUnchanged []string       `json:"tables_unchanged"`
	Summary         string         `json:"summary"`
}

// HasChanges reports whether any table was added, removed, or modified.
func (d *Diff) HasChanges() bool {
	return len(d.TablesAdded) > 0 || len(d.TablesRemoved) > 0 || len(d.TablesModified) > 0
}

// AddedNames returns the names of added tables.
func (d *Diff) AddedNames() []string { return tableNames(d.TablesAdded) }

// RemovedNames returns the names of removed tables.
func (d *Diff) RemovedNames() []string { return tableNames(d.TablesRemoved) }

// Compare diffs two snapshots.  Neither argument is modified.
func Compare(from, to *Snapshot) *Diff {
	d := &Diff{
		FromID:          from.ID,
		ToID:            to.ID,
		FromVersion:     from.Version,
		ToVersion:       to.Version,
		TablesAdded:     []TableVersion{},
		TablesRemoved:   []TableVersion{},
		TablesModified:  []TableDiff{},
		TablesUnchanged: []string{},
	}

	for _, name := range sortedTables(to.Tables) {
		if _, ok := from.Tables[name]; !ok {
			d.TablesAdded = append(d.TablesAdded, to.Tables[name])
		}
	}
	for _, name := range sortedTables(from.Tables) {
		newT, ok := to.Tables[name]
		if !ok {
			d.TablesRemoved = append(d.TablesRemoved, from.Tables[name])
			continue
		}
		td := compareTable(from.Tables[name], newT)
		if td.Empty() {
			d.TablesUnchanged = append(d.TablesUnchanged, name)
			continue
		}
		d.TablesModified = append(d.TablesModified, td)
	}

	d.Summary = summarize(d)
	return d
}

func compareTable(before, after TableVersion) TableDiff {
	td := TableDiff{
		Name:            before.Name,
		ColumnsAdded:    []ColumnVersion{},
		ColumnsRemoved:  []ColumnVersion{},
		ColumnsModified: []ColumnDiff{},
	}
	if td.Name == "" {
		td.Name = after.Name
	}

	for _, name := range sortedColumns(after.Columns) {
		if _, ok := before.Columns[name]; !ok {
			td.ColumnsAdded = append(td.ColumnsAdded, after.Columns[name])
		}
	}
	for _, name := range sortedColumns(before.Columns) {
		oldC := before.Columns[name]
		newC, ok := after.Columns[name]
		if !ok {
			td.ColumnsRemoved = append(td.ColumnsRemoved, oldC)
			continue
		}
		if changes := compareColumn(oldC, newC); len(changes) > 0 {
			td.ColumnsModified = append(td.ColumnsModified, ColumnDiff{
				Name: name, Before: oldC, After: newC, Changes: changes,
			})
		}
	}
	return td
}

// compareColumn runs the field-level comparison.  Empty strings count as
// null so a comment that disappears is REMOVED rather than MODIFIED.
func compareColumn(before, after ColumnVersion) []FieldChange {
	fields := []struct {
		name     string
		old, new any
	}{
		{FieldType, nullString(before.Type), nullString(after.Type)},
		{FieldNullable, before.Nullable, after.Nullable},
		{FieldPrimaryKey, before.PrimaryKey, after.PrimaryKey},
		{FieldDefaultValue, derefString(before.DefaultValue), derefString(after.DefaultValue)},
		{FieldComment, nullString(before.Comment), nullString(after.Comment)},
		{FieldMaxLength, derefInt(before.MaxLength), derefInt(after.MaxLength)},
		{FieldAutoIncrement, before.AutoIncrement, after.AutoIncrement},
	}

	var out []FieldChange
	for _, f := range fields {
		if f.old == f.new {
			continue
		}
		kind := ChangeModified
		switch {
		case f.new == nil:
			kind = ChangeRemoved
		case f.old == nil:
			kind = ChangeAdded
		}
		out = append(out, FieldChange{Field: f.name, ChangeType: kind, OldValue: f.old, NewValue: f.new})
	}
	return out
}

func summarize(d *Diff) string {
	var added, removed, modified int
	for _, t := range d.TablesModified {
		added += len(t.ColumnsAdded)
		removed += len(t.ColumnsRemoved)
		modified += len(t.ColumnsModified)
	}
	return fmt.Sprintf(
		"Tables: %d added, %d removed, %d modified, %d unchanged. Columns: %d added, %d removed, %d modified.",
		len(d.TablesAdded), len(d.TablesRemoved), len(d.TablesModified), len(d.TablesUnchanged),
		added, removed, modified,
	)
}

//
// helpers
//

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func derefString(p *string) any {
	if p == nil {
		return nil
	}
	return *p
}

func derefInt(p *int64) any {
	if p == nil {
		return nil
	}
	return *p
}

func sortedTables(m Tables) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func sortedColumns(m map[string]ColumnVersion) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func tableNames(ts []TableVersion) []string {
	out := make([]string, len(ts))
	for i, t := range ts {
		out[i] = t.Name
	}
	return out
}
