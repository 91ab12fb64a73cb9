// internal/discovery/discovery.go
//
// Schema discovery contract.
//
// Context
// -------
// Every other catalog package reads source structure through the Adapter
// interface defined here.  Adapters are read-only and repeatable: calling
// DiscoverTables twice against an unchanged source yields the same rows in
// the same order.  The SQL implementation lives in adapter.go; connection
// pools are owned by Pool (pool.go).
//
// Notes
// -----
//   - A Connection is referenced by Name everywhere outside this package.
//     Driver and DSN are only read when a pool is opened.
//   - For PostgreSQL sources the `database` argument names the schema to
//     inspect (default `public`); the database itself is part of the DSN.
//   - All adapter failures are wrapped in *Error.
package discovery

import (
	"context"
	"fmt"
	"time"
)

// Connection identifies one relational source.
type Connection struct {
	Name   string `json:"name"`
	Driver string `json:"driver"` // mysql | postgres
	DSN    string `json:"-"`
}

// TableInfo is one table as reported by the source.
type TableInfo struct {
	Name         string     `json:"name"          db:"name"`
	Type         string     `json:"type"          db:"type"`
	Comment      string     `json:"comment"       db:"comment"`
	RowCount     int64      `json:"row_count"     db:"row_count"`
	LastModified *time.Time `json:"last_modified" db:"last_modified"`
}

// ColumnInfo is one column as reported by the source.  KeyRole follows the
// MySQL convention: PRI, UNI, MUL, or empty.
type ColumnInfo struct {
	Name             string  `json:"name"`
	Type             string  `json:"type"`
	Nullable         bool    `json:"nullable"`
	KeyRole          string  `json:"key_role,omitempty"`
	Comment          string  `json:"comment,omitempty"`
	Position         int     `json:"position"`
	MaxLength        *int64  `json:"max_length,omitempty"`
	NumericPrecision *int64  `json:"numeric_precision,omitempty"`
	NumericScale     *int64  `json:"numeric_scale,omitempty"`
	Default          *string `json:"default,omitempty"`
	AutoIncrement    bool    `json:"auto_increment,omitempty"`
}

// IsPrimaryKey reports whether the column takes part in the primary key.
func (c ColumnInfo) IsPrimaryKey() bool { return c.KeyRole == "PRI" }

// Adapter lists tables and columns of a source database.
type Adapter interface {
	DiscoverTables(ctx context.Context, conn Connection, database string) ([]TableInfo, error)
	DiscoverColumns(ctx context.Context, conn Connection, database, table string) ([]ColumnInfo, error)
}

// Sampler is implemented by adapters that can return example values for a
// column.  The annotator uses samples as extra prompt context.
type Sampler interface {
	SampleValues(ctx context.Context, conn Connection, database, table, column string, limit int) ([]string, error)
}

// Error wraps any failure raised while talking to a source.
type Error struct {
	Op       string // open | tables | columns | sample
	Database string
	Table    string
	Err      error
}

func (e *Error) Error() string {
	if e.Table != "" {
		return fmt.Sprintf("discovery %s %s.%s: %v", e.Op, e.Database, e.Table, e.Err)
	}
	return fmt.Sprintf("discovery %s %s: %v", e.Op, e.Database, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }
