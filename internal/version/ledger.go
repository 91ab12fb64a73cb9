// internal/version/ledger.go
//
// Version ledger.
//
// Context
// -------
// Each catalog table owns an append-only chain of `metadata_version` rows.
// A row is written only when a table's persisted metadata actually
// changed; it carries the new state, a summary, the structured delta, the
// next version number, and a foreign key to the row before it.
//
// Notes
// -----
//   - The ledger never updates or deletes rows.
//   - All calls take a sqlx.ExtContext so they join the caller's
//     transaction.
package version

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/yanizio/catalog/internal/logger"
	"github.com/yanizio/catalog/internal/metrics"
)

// Change types.
const (
	SchemaChange = "SCHEMA_CHANGE"
	Update       = "UPDATE"
)

// Model is one ledger row.
type Model struct {
	ID                int64     `json:"id"                            db:"id"`
	TableID           int64     `json:"table_id"                      db:"table_id"`
	ChangeType        string    `json:"change_type"                   db:"change_type"`
	ChangeSummary     string    `json:"change_summary"                db:"change_summary"`
	ChangeDetails     Details   `json:"change_details"                db:"change_details"`
	SchemaSnapshot    State     `json:"schema_snapshot"               db:"schema_snapshot"`
	PreviousVersionID *int64    `json:"previous_version_id,omitempty" db:"previous_version_id"`
	ChangedBy         string    `json:"changed_by"                    db:"changed_by"`
	ChangeSource      string    `json:"change_source"                 db:"change_source"`
	VersionNumber     int       `json:"version_number"                db:"version_number"`
	CreatedAt         time.Time `json:"created_at"                    db:"created_at"`
}

// Ledger appends and reads versions.
type Ledger struct {
	log *zap.SugaredLogger
	now func() time.Time
}

// NewLedger returns a Ledger.
func NewLedger(log *zap.SugaredLogger) *Ledger {
	return &Ledger{log: logger.OrNop(log), now: func() time.Time { return time.Now().UTC() }}
}

const (
	latestVersion = `
		SELECT id, version_number
		FROM metadata_version
		WHERE table_id = ?
		ORDER BY version_number DESC
		LIMIT 1`
	countVersions = `SELECT COUNT(*) FROM metadata_version WHERE table_id = ?`
	insertVersion = `
		INSERT INTO metadata_version
		  (table_id, change_type, change_summary, change_details, schema_snapshot,
		   previous_version_id, changed_by, change_source, version_number, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	versionColumns = `
		v.id, v.table_id, v.change_type, v.change_summary, v.change_details,
		v.schema_snapshot, v.previous_version_id, v.changed_by, v.change_source,
		v.version_number, v.created_at`
)

var errNoTable = errors.New("table id is required")

// CreateVersionFromDiff appends a version when before and after differ.
// It returns nil, nil when they are identical.
func (l *Ledger) CreateVersionFromDiff(ctx context.Context, ext sqlx.ExtContext, tableID int64, before, after State, changedBy, changeSource string) (*Model, error) {
	if tableID == 0 {
		return nil, errNoTable
	}
	delta := Compare(before, after)
	if delta.Empty() {
		return nil, nil
	}

	changeType := Update
	if delta.Structural() {
		changeType = SchemaChange
	}

	var latest struct {
		ID            int64 `db:"id"`
		VersionNumber int   `db:"version_number"`
	}
	var prev *int64
	err := sqlx.GetContext(ctx, ext, &latest, latestVersion, tableID)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return nil, fmt.Errorf("latest version of table %d: %w", tableID, err)
	default:
		prev = &latest.ID
	}

	var count int
	if err := sqlx.GetContext(ctx, ext, &count, countVersions, tableID); err != nil {
		return nil, fmt.Errorf("count versions of table %d: %w", tableID, err)
	}

	m := &Model{
		TableID:           tableID,
		ChangeType:        changeType,
		ChangeSummary:     delta.Summary(),
		ChangeDetails:     delta.Details(),
		SchemaSnapshot:    after,
		PreviousVersionID: prev,
		ChangedBy:         changedBy,
		ChangeSource:      changeSource,
		VersionNumber:     count + 1,
		CreatedAt:         l.now(),
	}

	res, err := ext.ExecContext(ctx, insertVersion,
		m.TableID, m.ChangeType, m.ChangeSummary, m.ChangeDetails, m.SchemaSnapshot,
		m.PreviousVersionID, m.ChangedBy, m.ChangeSource, m.VersionNumber, m.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert version of table %d: %w", tableID, err)
	}
	if m.ID, err = res.LastInsertId(); err != nil {
		return nil, fmt.Errorf("version id of table %d: %w", tableID, err)
	}

	metrics.VersionsCreatedTotal.Inc()
	l.log.Infow("version appended",
		"table", after.TableName,
		"table_id", tableID,
		"version", m.VersionNumber,
		"change_type", m.ChangeType,
		"summary", m.ChangeSummary,
	)
	return m, nil
}

// History lists versions for database (and table, when non-empty), newest
// first.  limit <= 0 means 50.
func (l *Ledger) History(ctx context.Context, q sqlx.QueryerContext, database, table string, limit int) ([]Model, error) {
	if limit <= 0 {
		limit = 50
	}
	var b strings.Builder
	args := []any{database}
	b.WriteString("SELECT " + versionColumns + `
		FROM metadata_version v
		JOIN catalog_table t ON t.id = v.table_id
		WHERE t.database_name = ?`)
	if table != "" {
		b.WriteString(" AND t.table_name = ?")
		args = append(args, table)
	}
	b.WriteString(" ORDER BY v.created_at DESC, v.id DESC LIMIT ?")
	args = append(args, limit)

	var out []Model
	if err := sqlx.SelectContext(ctx, q, &out, b.String(), args...); err != nil {
		return nil, fmt.Errorf("version history %s: %w", database, err)
	}
	return out, nil
}
