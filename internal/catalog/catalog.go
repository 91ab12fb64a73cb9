// internal/catalog/catalog.go
//
// Catalog persistence.
//
// Context
// -------
// The catalog database holds one `catalog_table` row per scanned source
// table and one `catalog_column` row per column.  Store opens sessions
// (transactions) on it; Syncer writes discovery results into a session and
// reports what the table looked like before and after, so the caller can
// decide whether a version has to be appended.
//
// Notes
// -----
//   - Column upserts never touch the annotation columns, so descriptions
//     survive re-scans.  Only SaveAnnotation writes them.
//   - Schema: migrations/001_catalog.sql.
package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/yanizio/catalog/internal/annotate"
	"github.com/yanizio/catalog/internal/discovery"
	"github.com/yanizio/catalog/internal/fingerprint"
	"github.com/yanizio/catalog/internal/version"
)

// Sync results.
const (
	Created = "created"
	Updated = "updated"
)

// Store wraps the catalog database.
type Store struct {
	db *sqlx.DB
}

// NewStore wraps db.
func NewStore(db *sqlx.DB) *Store { return &Store{db: db} }

// DB exposes the pool for read-only queries.
func (s *Store) DB() *sqlx.DB { return s.db }

// Begin opens a session.  The caller commits or rolls back.
func (s *Store) Begin(ctx context.Context) (*sqlx.Tx, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin catalog session: %w", err)
	}
	return tx, nil
}

// SyncError wraps a persistence failure for one table.
type SyncError struct {
	Database string
	Table    string
	Err      error
}

func (e *SyncError) Error() string {
	return fmt.Sprintf("sync %s.%s: %v", e.Database, e.Table, e.Err)
}

func (e *SyncError) Unwrap() error { return e.Err }

// SyncOutcome reports one Sync call.  Before is nil for new tables.
type SyncOutcome struct {
	TableID int64
	Result  string
	Before  *version.State
	After   version.State
}

// Syncer persists discovery output.
type Syncer struct {
	now func() time.Time
}

// NewSyncer returns a Syncer.
func NewSyncer() *Syncer {
	return &Syncer{now: func() time.Time { return time.Now().UTC() }}
}

type tableRow struct {
	ID          int64          `db:"id"`
	Comment     sql.NullString `db:"comment"`
	Description sql.NullString `db:"description"`
}

type columnRow struct {
	Name       string         `db:"column_name"`
	Type       string         `db:"data_type"`
	Nullable   bool           `db:"nullable"`
	PrimaryKey bool           `db:"primary_key"`
	Comment    sql.NullString `db:"comment"`
	Default    sql.NullString `db:"default_value"`
}

const (
	selectTable = `
		SELECT id, comment, description
		FROM catalog_table
		WHERE database_name = ? AND table_name = ?`
	insertTable = `
		INSERT INTO catalog_table
		  (database_name, table_name, table_type, comment, row_count, column_hash, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	updateTable = `
		UPDATE catalog_table
		SET table_type = ?, comment = ?, row_count = ?, column_hash = ?, updated_at = ?
		WHERE id = ?`
	selectColumns = `
		SELECT column_name, data_type, nullable, primary_key, comment, default_value
		FROM catalog_column
		WHERE table_id = ?
		ORDER BY position`
	upsertColumn = `
		INSERT INTO catalog_column
		  (table_id, column_name, data_type, nullable, key_role, primary_key, comment,
		   default_value, position, max_length, numeric_precision, numeric_scale, auto_increment)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
		  data_type = VALUES(data_type), nullable = VALUES(nullable), key_role = VALUES(key_role),
		  primary_key = VALUES(primary_key), comment = VALUES(comment),
		  default_value = VALUES(default_value), position = VALUES(position),
		  max_length = VALUES(max_length), numeric_precision = VALUES(numeric_precision),
		  numeric_scale = VALUES(numeric_scale), auto_increment = VALUES(auto_increment)`
	deleteColumns = `DELETE FROM catalog_column WHERE table_id = ? AND column_name IN (?)`
	saveAnnotation = `
		UPDATE catalog_column
		SET ai_description = ?, business_term = ?, tags = ?, quality_hint = ?, annotation_source = ?
		WHERE table_id = ? AND column_name = ?`
)

// Sync upserts table and replaces its columns inside ext.
func (s *Syncer) Sync(ctx context.Context, ext sqlx.ExtContext, database string, table discovery.TableInfo, cols []discovery.ColumnInfo) (SyncOutcome, error) {
	out, err := s.sync(ctx, ext, database, table, cols)
	if err != nil {
		return SyncOutcome{}, &SyncError{Database: database, Table: table.Name, Err: err}
	}
	return out, nil
}

func (s *Syncer) sync(ctx context.Context, ext sqlx.ExtContext, database string, table discovery.TableInfo, cols []discovery.ColumnInfo) (SyncOutcome, error) {
	now := s.now()
	hash := fingerprint.Hash(cols)
	after := StateOf(table, cols)

	var row tableRow
	err := sqlx.GetContext(ctx, ext, &row, selectTable, database, table.Name)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		res, err := ext.ExecContext(ctx, insertTable,
			database, table.Name, table.Type, table.Comment, table.RowCount, hash, now, now)
		if err != nil {
			return SyncOutcome{}, fmt.Errorf("insert table: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return SyncOutcome{}, fmt.Errorf("table id: %w", err)
		}
		if err := upsertColumns(ctx, ext, id, cols); err != nil {
			return SyncOutcome{}, err
		}
		return SyncOutcome{TableID: id, Result: Created, After: after}, nil

	case err != nil:
		return SyncOutcome{}, fmt.Errorf("load table: %w", err)
	}

	var existing []columnRow
	if err := sqlx.SelectContext(ctx, ext, &existing, selectColumns, row.ID); err != nil {
		return SyncOutcome{}, fmt.Errorf("load columns: %w", err)
	}
	before := version.State{
		TableName:   table.Name,
		Comment:     row.Comment.String,
		Description: row.Description.String,
		Columns:     make([]version.ColumnState, 0, len(existing)),
	}
	for _, c := range existing {
		cs := version.ColumnState{Name: c.Name, Type: c.Type, Nullable: c.Nullable, PrimaryKey: c.PrimaryKey, Comment: c.Comment.String}
		if c.Default.Valid {
			d := c.Default.String
			cs.Default = &d
		}
		before.Columns = append(before.Columns, cs)
	}
	after.Description = before.Description

	if _, err := ext.ExecContext(ctx, updateTable,
		table.Type, table.Comment, table.RowCount, hash, now, row.ID); err != nil {
		return SyncOutcome{}, fmt.Errorf("update table: %w", err)
	}
	if err := upsertColumns(ctx, ext, row.ID, cols); err != nil {
		return SyncOutcome{}, err
	}

	current := make(map[string]struct{}, len(cols))
	for _, c := range cols {
		current[c.Name] = struct{}{}
	}
	var removed []string
	for _, c := range existing {
		if _, ok := current[c.Name]; !ok {
			removed = append(removed, c.Name)
		}
	}
	if len(removed) > 0 {
		q, args, err := sqlx.In(deleteColumns, row.ID, removed)
		if err != nil {
			return SyncOutcome{}, fmt.Errorf("build column delete: %w", err)
		}
		if _, err := ext.ExecContext(ctx, ext.Rebind(q), args...); err != nil {
			return SyncOutcome{}, fmt.Errorf("delete columns: %w", err)
		}
	}

	return SyncOutcome{TableID: row.ID, Result: Updated, Before: &before, After: after}, nil
}

func upsertColumns(ctx context.Context, ext sqlx.ExtContext, tableID int64, cols []discovery.ColumnInfo) error {
	for _, c := range cols {
		if _, err := ext.ExecContext(ctx, upsertColumn,
			tableID, c.Name, c.Type, c.Nullable, c.KeyRole, c.IsPrimaryKey(), c.Comment,
			c.Default, c.Position, c.MaxLength, c.NumericPrecision, c.NumericScale, c.AutoIncrement); err != nil {
			return fmt.Errorf("upsert column %s: %w", c.Name, err)
		}
	}
	return nil
}

// SaveAnnotation stores d on one column.
func (s *Syncer) SaveAnnotation(ctx context.Context, ext sqlx.ExtContext, tableID int64, column string, d annotate.Description) error {
	tags, err := json.Marshal(d.Tags)
	if err != nil {
		return err
	}
	if _, err := ext.ExecContext(ctx, saveAnnotation,
		d.Description, d.BusinessTerm, string(tags), d.QualityHint, d.Source, tableID, column); err != nil {
		return fmt.Errorf("save annotation %s: %w", column, err)
	}
	return nil
}

// StateOf converts discovery output into a version State.
func StateOf(table discovery.TableInfo, cols []discovery.ColumnInfo) version.State {
	st := version.State{
		TableName: table.Name,
		Comment:   table.Comment,
		Columns:   make([]version.ColumnState, 0, len(cols)),
	}
	for _, c := range cols {
		st.Columns = append(st.Columns, version.ColumnState{
			Name:       c.Name,
			Type:       c.Type,
			Nullable:   c.Nullable,
			PrimaryKey: c.IsPrimaryKey(),
			Comment:    c.Comment,
			Default:    c.Default,
		})
	}
	return st
}
