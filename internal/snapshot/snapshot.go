// internal/snapshot/snapshot.go
//
// Immutable schema snapshots.
//
// Context
// -------
// A Snapshot is a full capture of one database's tables and columns at a
// point in time.  Snapshots are created by operators (or by Capture from a
// live source), never updated, and compared pairwise by Compare.
//
// Notes
// -----
//   - Column equality covers name, type, nullability, primary key, default,
//     and comment.  Size, scale, and auto-increment are carried for the
//     differ and for migration SQL but do not affect Equal.
//   - An empty comment is the same as no comment.
package snapshot

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/yanizio/catalog/internal/discovery"
)

// ErrNotFound is returned for an unknown snapshot id.
var ErrNotFound = errors.New("snapshot not found")

// DiffError reports a comparison that references an unknown snapshot.
type DiffError struct {
	ID  string
	Err error
}

func (e *DiffError) Error() string { return fmt.Sprintf("snapshot %s: %v", e.ID, e.Err) }

func (e *DiffError) Unwrap() error { return e.Err }

// ColumnVersion is one column inside a snapshot.
type ColumnVersion struct {
	Name          string  `json:"name"`
	Type          string  `json:"type"`
	Nullable      bool    `json:"nullable"`
	PrimaryKey    bool    `json:"primary_key"`
	DefaultValue  *string `json:"default_value,omitempty"`
	Comment       string  `json:"comment,omitempty"`
	MaxLength     *int64  `json:"max_length,omitempty"`
	DecimalPlaces *int64  `json:"decimal_places,omitempty"`
	AutoIncrement bool    `json:"auto_increment,omitempty"`
	Position      int     `json:"position,omitempty"`
}

// Equal compares the identity fields of two columns.
func (c ColumnVersion) Equal(o ColumnVersion) bool {
	return c.Name == o.Name &&
		c.Type == o.Type &&
		c.Nullable == o.Nullable &&
		c.PrimaryKey == o.PrimaryKey &&
		equalPtr(c.DefaultValue, o.DefaultValue) &&
		c.Comment == o.Comment
}

// TableVersion is one table inside a snapshot.
type TableVersion struct {
	Name    string                   `json:"name"`
	Comment string                   `json:"comment,omitempty"`
	Columns map[string]ColumnVersion `json:"columns"`
}

// Tables is the snapshot body, keyed by table name.  It is stored as JSON.
type Tables map[string]TableVersion

// Value implements driver.Valuer.
func (t Tables) Value() (driver.Value, error) {
	b, err := json.Marshal(t)
	return string(b), err
}

// Scan implements sql.Scanner.
func (t *Tables) Scan(src any) error { return scanJSON(src, t) }

// Tags is a JSON-stored label list.
type Tags []string

// Value implements driver.Valuer.
func (t Tags) Value() (driver.Value, error) {
	if t == nil {
		return "[]", nil
	}
	b, err := json.Marshal(t)
	return string(b), err
}

// Scan implements sql.Scanner.
func (t *Tags) Scan(src any) error { return scanJSON(src, t) }

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

// Snapshot is immutable once stored.
type Snapshot struct {
	ID          string    `json:"snapshot_id"  db:"id"`
	Version     string    `json:"version"      db:"version"`
	Database    string    `json:"database"     db:"database_name"`
	Tables      Tables    `json:"tables"       db:"tables"`
	CreatedAt   time.Time `json:"created_at"   db:"created_at"`
	CreatedBy   string    `json:"created_by"   db:"created_by"`
	Description string    `json:"description"  db:"description"`
	Tags        Tags      `json:"tags"         db:"tags"`
}

// TableFromDiscovery converts discovery output into a TableVersion.
func TableFromDiscovery(t discovery.TableInfo, cols []discovery.ColumnInfo) TableVersion {
	tv := TableVersion{Name: t.Name, Comment: t.Comment, Columns: make(map[string]ColumnVersion, len(cols))}
	for _, c := range cols {
		tv.Columns[c.Name] = ColumnVersion{
			Name:          c.Name,
			Type:          c.Type,
			Nullable:      c.Nullable,
			PrimaryKey:    c.IsPrimaryKey(),
			DefaultValue:  c.Default,
			Comment:       c.Comment,
			MaxLength:     c.MaxLength,
			DecimalPlaces: c.NumericScale,
			AutoIncrement: c.AutoIncrement,
			Position:      c.Position,
		}
	}
	return tv
}

func equalPtr[T comparable](a, b *T) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
