// internal/detect/detector.go
//
// Change Detector.
//
// Context
// -------
// DetectChanges discovers the current tables of a database, drops excluded
// ones, fingerprints the rest, and classifies each against the stored
// baseline:
//
//   - present now, absent from the baseline  → added
//   - in the baseline, absent now            → deleted
//   - in both with a different column hash   → modified
//
// The baseline is then replaced with the fresh set and the report is
// appended to a bounded in-memory history.
//
// A table whose columns can not be read is listed in TablesFailed and is
// neither added, deleted, nor modified.  Its previous fingerprint stays in
// the baseline so the next pass compares against it again.
//
// Notes
// -----
//   - Row count and last-modified time are recorded on TableChange for
//     display only.  They never cause a table to be reported.
//   - The discovered TableInfo list travels on the report so an
//     incremental scan can sync affected tables without listing them again.
package detect

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/yanizio/catalog/internal/discovery"
	"github.com/yanizio/catalog/internal/exclude"
	"github.com/yanizio/catalog/internal/fingerprint"
	"github.com/yanizio/catalog/internal/logger"
	"github.com/yanizio/catalog/internal/metrics"
)

// DefaultHistoryLimit bounds the in-memory report history.
const DefaultHistoryLimit = 100

// Change types.
const (
	Added    = "ADDED"
	Deleted  = "DELETED"
	Modified = "MODIFIED"
)

// TableChange describes one modified table.
type TableChange struct {
	TableName   string `json:"table_name"`
	ChangeType  string `json:"change_type"`
	OldHash     string `json:"old_hash"`
	NewHash     string `json:"new_hash"`
	OldRowCount int64  `json:"old_row_count"`
	NewRowCount int64  `json:"new_row_count"`
}

// TableError is one table whose columns could not be discovered.
type TableError struct {
	TableName string `json:"table_name"`
	Error     string `json:"error"`
}

// Report is the outcome of one detection pass.
type Report struct {
	ID             string        `json:"id"`
	Database       string        `json:"database"`
	ScanTime       time.Time     `json:"scan_time"`
	TablesAdded    []string      `json:"tables_added"`
	TablesDeleted  []string      `json:"tables_deleted"`
	TablesModified []TableChange `json:"tables_modified"`
	TablesFailed   []TableError  `json:"tables_failed"`
	TotalTables    int           `json:"total_tables"`
	DurationMS     int64         `json:"duration_ms"`

	Tables []discovery.TableInfo `json:"-"`
}

// HasChanges reports whether anything was added, deleted, or modified.
func (r *Report) HasChanges() bool {
	return len(r.TablesAdded) > 0 || len(r.TablesDeleted) > 0 || len(r.TablesModified) > 0
}

// ModifiedNames lists the names of modified tables.
func (r *Report) ModifiedNames() []string {
	out := make([]string, len(r.TablesModified))
	for i, c := range r.TablesModified {
		out[i] = c.TableName
	}
	return out
}

// Affected returns added then modified table names.  Both lists are
// already sorted.
func (r *Report) Affected() []string {
	out := make([]string, 0, len(r.TablesAdded)+len(r.TablesModified))
	out = append(out, r.TablesAdded...)
	return append(out, r.ModifiedNames()...)
}

// Table returns the discovered TableInfo for name.
func (r *Report) Table(name string) (discovery.TableInfo, bool) {
	for _, t := range r.Tables {
		if t.Name == name {
			return t, true
		}
	}
	return discovery.TableInfo{}, false
}

// Detector owns the fingerprint baseline through its Store.  Safe for
// concurrent use; passes for the same database are serialised.
type Detector struct {
	adapter      discovery.Adapter
	store        Store
	log          *zap.SugaredLogger
	historyLimit int

	mu      sync.Mutex
	dbLocks map[string]*sync.Mutex
	history []*Report
}

// Option customises New.
type Option func(*Detector)

// WithHistoryLimit overrides DefaultHistoryLimit.
func WithHistoryLimit(n int) Option {
	return func(d *Detector) {
		if n > 0 {
			d.historyLimit = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(log *zap.SugaredLogger) Option {
	return func(d *Detector) { d.log = logger.OrNop(log) }
}

// New returns a Detector.  A nil store means a fresh MemoryStore.
func New(adapter discovery.Adapter, store Store, opts ...Option) *Detector {
	if store == nil {
		store = NewMemoryStore()
	}
	d := &Detector{
		adapter:      adapter,
		store:        store,
		log:          zap.NewNop().Sugar(),
		historyLimit: DefaultHistoryLimit,
		dbLocks:      make(map[string]*sync.Mutex),
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// DetectChanges runs one detection pass.
func (d *Detector) DetectChanges(ctx context.Context, conn discovery.Connection, database string, policy exclude.Policy) (*Report, error) {
	lock := d.lockFor(database)
	lock.Lock()
	defer lock.Unlock()

	start := time.Now()

	tables, err := d.adapter.DiscoverTables(ctx, conn, database)
	if err != nil {
		return nil, err
	}
	tables = policy.Filter(tables)

	previous, err := d.store.Load(ctx, database)
	if err != nil {
		return nil, fmt.Errorf("detect %s: %w", database, err)
	}

	rep := &Report{
		ID:             uuid.NewString(),
		Database:       database,
		ScanTime:       start.UTC(),
		TablesAdded:    []string{},
		TablesDeleted:  []string{},
		TablesModified: []TableChange{},
		TablesFailed:   []TableError{},
		TotalTables:    len(tables),
		Tables:         tables,
	}

	current := make(map[string]fingerprint.Fingerprint, len(tables))
	failed := make(map[string]struct{})
	for _, t := range tables {
		cols, err := d.adapter.DiscoverColumns(ctx, conn, database, t.Name)
		if err != nil {
			if ctx.Err() != nil {
				return nil, err
			}
			failed[t.Name] = struct{}{}
			rep.TablesFailed = append(rep.TablesFailed, TableError{TableName: t.Name, Error: err.Error()})
			d.log.Warnw("column discovery failed, keeping previous fingerprint",
				"database", database, "table", t.Name, "err", err)
			continue
		}
		current[t.Name] = fingerprint.Compute(t, cols)
	}

	for _, name := range sortedKeys(current) {
		fp := current[name]
		old, ok := previous[name]
		switch {
		case !ok:
			rep.TablesAdded = append(rep.TablesAdded, name)
		case old.ColumnHash != fp.ColumnHash:
			rep.TablesModified = append(rep.TablesModified, TableChange{
				TableName:   name,
				ChangeType:  Modified,
				OldHash:     old.ColumnHash,
				NewHash:     fp.ColumnHash,
				OldRowCount: old.RowCount,
				NewRowCount: fp.RowCount,
			})
		}
	}
	for _, name := range sortedKeys(previous) {
		_, now := current[name]
		_, skipped := failed[name]
		if !now && !skipped {
			rep.TablesDeleted = append(rep.TablesDeleted, name)
		}
	}

	baseline := make(map[string]fingerprint.Fingerprint, len(current)+len(failed))
	for name, fp := range current {
		baseline[name] = fp
	}
	for name := range failed {
		if old, ok := previous[name]; ok {
			baseline[name] = old
		}
	}

	if err := d.store.Replace(ctx, database, baseline); err != nil {
		return nil, fmt.Errorf("detect %s: %w", database, err)
	}

	rep.DurationMS = time.Since(start).Milliseconds()
	d.record(rep)

	metrics.FingerprintTables.WithLabelValues(database).Set(float64(len(baseline)))
	metrics.ChangeDetectionsTotal.WithLabelValues(fmt.Sprint(rep.HasChanges())).Inc()
	d.log.Infow("change detection finished",
		"database", database,
		"total", rep.TotalTables,
		"added", len(rep.TablesAdded),
		"deleted", len(rep.TablesDeleted),
		"modified", len(rep.TablesModified),
		"failed", len(rep.TablesFailed),
		"duration_ms", rep.DurationMS,
	)
	return rep, nil
}

// History returns up to limit reports, newest first.  limit <= 0 returns
// every retained report.
func (d *Detector) History(limit int) []*Report {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := len(d.history)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]*Report, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, d.history[i])
	}
	return out
}

func (d *Detector) record(rep *Report) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.history = append(d.history, rep)
	if over := len(d.history) - d.historyLimit; over > 0 {
		d.history = append([]*Report(nil), d.history[over:]...)
	}
}

func (d *Detector) lockFor(database string) *sync.Mutex {
	d.mu.Lock()
	defer d.mu.Unlock()
	l, ok := d.dbLocks[database]
	if !ok {
		l = &sync.Mutex{}
		d.dbLocks[database] = l
	}
	return l
}

func sortedKeys(m map[string]fingerprint.Fingerprint) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
