package version

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// ColumnState is the persisted shape of one catalog column.
type ColumnState struct {
	Name       string  `json:"name"`
	Type       string  `json:"type"`
	Nullable   bool    `json:"nullable"`
	PrimaryKey bool    `json:"primary_key"`
	Comment    string  `json:"comment,omitempty"`
	Default    *string `json:"default,omitempty"`
}

// State is the persisted metadata of one catalog table.
type State struct {
	TableName   string        `json:"table_name"`
	Comment     string        `json:"comment,omitempty"`
	Description string        `json:"description,omitempty"`
	Columns     []ColumnState `json:"columns"`
}

// Value implements driver.Valuer so State can be stored in a JSON column.
func (s State) Value() (driver.Value, error) {
	b, err := json.Marshal(s)
	return string(b), err
}

// Scan implements sql.Scanner.
func (s *State) Scan(src any) error { return scanJSON(src, s) }

// Details is the structured change description stored with a version.
type Details map[string]any

// Value implements driver.Valuer.
func (d Details) Value() (driver.Value, error) {
	b, err := json.Marshal(d)
	return string(b), err
}

// Scan implements sql.Scanner.
func (d *Details) Scan(src any) error { return scanJSON(src, d) }

func scanJSON(src, dst any) error {
	switch v := src.(type) {
	case nil:
		return nil
	case []byte:
		return json.Unmarshal(v, dst)
	case string:
		return json.Unmarshal([]byte(v), dst)
	default:
		return fmt.Errorf("unsupported JSON column type %T", src)
	}
}

// FieldChange is an old/new pair.
type FieldChange struct {
	Old any `json:"old"`
	New any `json:"new"`
}

// Delta is the difference between two States.
type Delta struct {
	Added    []string                          `json:"added_columns,omitempty"`
	Removed  []string                          `json:"removed_columns,omitempty"`
	Modified map[string]map[string]FieldChange `json:"modified_columns,omitempty"`
	Fields   map[string]FieldChange            `json:"field_changes,omitempty"`
}

// Empty reports whether the states were identical.
func (d Delta) Empty() bool {
	return len(d.Added) == 0 && len(d.Removed) == 0 && len(d.Modified) == 0 && len(d.Fields) == 0
}

// Structural reports whether columns were added or removed.
func (d Delta) Structural() bool { return len(d.Added) > 0 || len(d.Removed) > 0 }

// Summary renders a one-line description.
func (d Delta) Summary() string {
	var parts []string
	if len(d.Added) > 0 {
		parts = append(parts, "added columns: "+strings.Join(d.Added, ", "))
	}
	if len(d.Removed) > 0 {
		parts = append(parts, "removed columns: "+strings.Join(d.Removed, ", "))
	}
	if len(d.Modified) > 0 {
		parts = append(parts, "modified columns: "+strings.Join(sortedKeys(d.Modified), ", "))
	}
	if len(d.Fields) > 0 {
		parts = append(parts, "updated fields: "+strings.Join(sortedKeys(d.Fields), ", "))
	}
	return strings.Join(parts, "; ")
}

// Details converts d into the stored detail map.
func (d Delta) Details() Details {
	out := Details{}
	if len(d.Added) > 0 {
		out["added_columns"] = d.Added
	}
	if len(d.Removed) > 0 {
		out["removed_columns"] = d.Removed
	}
	if len(d.Modified) > 0 {
		out["modified_columns"] = d.Modified
	}
	if len(d.Fields) > 0 {
		out["field_changes"] = d.Fields
	}
	return out
}

// Compare diffs before against after.
func Compare(before, after State) Delta {
	d := Delta{
		Modified: map[string]map[string]FieldChange{},
		Fields:   map[string]FieldChange{},
	}
	if before.Comment != after.Comment {
		d.Fields["comment"] = FieldChange{before.Comment, after.Comment}
	}
	if before.Description != after.Description {
		d.Fields["description"] = FieldChange{before.Description, after.Description}
	}

	oldCols := index(before.Columns)
	newCols := index(after.Columns)
	for _, name := range sortedKeys(newCols) {
		nc := newCols[name]
		oc, ok := oldCols[name]
		if !ok {
			d.Added = append(d.Added, name)
			continue
		}
		if f := compareColumn(oc, nc); len(f) > 0 {
			d.Modified[name] = f
		}
	}
	for _, name := range sortedKeys(oldCols) {
		if _, ok := newCols[name]; !ok {
			d.Removed = append(d.Removed, name)
		}
	}
	if len(d.Modified) == 0 {
		d.Modified = nil
	}
	if len(d.Fields) == 0 {
		d.Fields = nil
	}
	return d
}

func compareColumn(o, n ColumnState) map[string]FieldChange {
	f := map[string]FieldChange{}
	if o.Type != n.Type {
		f["type"] = FieldChange{o.Type, n.Type}
	}
	if o.Nullable != n.Nullable {
		f["nullable"] = FieldChange{o.Nullable, n.Nullable}
	}
	if o.PrimaryKey != n.PrimaryKey {
		f["primary_key"] = FieldChange{o.PrimaryKey, n.PrimaryKey}
	}
	if o.Comment != n.Comment {
		f["comment"] = FieldChange{o.Comment, n.Comment}
	}
	if deref(o.Default) != deref(n.Default) || (o.Default == nil) != (n.Default == nil) {
		f["default"] = FieldChange{o.Default, n.Default}
	}
	return f
}

func index(cols []ColumnState) map[string]ColumnState {
	m := make(map[string]ColumnState, len(cols))
	for _, c := range cols {
		m[c.Name] = c
	}
	return m
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
