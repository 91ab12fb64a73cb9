// internal/scan/scan.go
//
// Scan Orchestrator.
//
// Context
// -------
// Two entry points push source structure into the catalog:
//
//   - ScanDatabase walks every non-excluded table.  The run is one unit of
//     work: the first table that fails stops the run and the session is
//     rolled back.
//   - IncrementalScan asks the Detector what changed and only walks added
//     and modified tables.  A failing table is recorded as
//     "<table>: <error>" and the run moves on.  One commit at the end keeps
//     whatever succeeded.
//
// Per table the orchestrator discovers columns, syncs them, appends a
// version when an existing table changed, and, when requested, runs the
// annotation chain and stores its output.
//
// Notes
// -----
//   - Annotation never fails a table.  Storing an annotation can.
//   - With savepoints enabled, each incremental table runs inside
//     SAVEPOINT / ROLLBACK TO so a half-written table is undone before the
//     trailing commit.
//   - Every run, failed or not, is appended to the bounded history.
package scan

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/yanizio/catalog/internal/annotate"
	"github.com/yanizio/catalog/internal/catalog"
	"github.com/yanizio/catalog/internal/detect"
	"github.com/yanizio/catalog/internal/discovery"
	"github.com/yanizio/catalog/internal/exclude"
	"github.com/yanizio/catalog/internal/logger"
	"github.com/yanizio/catalog/internal/metrics"
	"github.com/yanizio/catalog/internal/version"
)

// Modes, statuses, and change sources.
const (
	ModeFull        = "full"
	ModeIncremental = "incremental"

	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusNoChanges = "no_changes"

	SourceFullScan        = "full_scan"
	SourceIncrementalScan = "incremental_scan"

	ChangedBySystem = "system"

	DefaultHistoryLimit = 100
)

// Session is the persistence unit of work handed in by the caller.
// *sqlx.Tx satisfies it.
type Session interface {
	sqlx.ExtContext
	Commit() error
	Rollback() error
}

// Syncer persists tables and annotations.  *catalog.Syncer satisfies it.
type Syncer interface {
	Sync(ctx context.Context, ext sqlx.ExtContext, database string, table discovery.TableInfo, cols []discovery.ColumnInfo) (catalog.SyncOutcome, error)
	SaveAnnotation(ctx context.Context, ext sqlx.ExtContext, tableID int64, column string, d annotate.Description) error
}

// Ledger appends versions.  *version.Ledger satisfies it.
type Ledger interface {
	CreateVersionFromDiff(ctx context.Context, ext sqlx.ExtContext, tableID int64, before, after version.State, changedBy, changeSource string) (*version.Model, error)
}

// Request names what to scan.  AIAnnotate runs the annotation chain.
type Request struct {
	Connection    discovery.Connection `json:"-"`
	Database      string               `json:"database"`
	ExcludeTables []string             `json:"exclude_tables,omitempty"`
	AIAnnotate    bool                 `json:"ai_annotate"`
}

// Result summarises one run.
type Result struct {
	RunID             string         `json:"run_id"`
	Mode              string         `json:"mode"`
	Database          string         `json:"database"`
	Status            string         `json:"status"`
	StartedAt         time.Time      `json:"started_at"`
	TablesDiscovered  int            `json:"tables_discovered"`
	TablesCreated     int            `json:"tables_created"`
	TablesUpdated     int            `json:"tables_updated"`
	TablesScanned     int            `json:"tables_scanned"`
	TablesSkipped     int            `json:"tables_skipped"`
	ColumnsDiscovered int            `json:"columns_discovered"`
	ColumnsAnnotated  int            `json:"columns_annotated"`
	VersionsCreated   int            `json:"versions_created"`
	Errors            []string       `json:"errors"`
	DurationMS        int64          `json:"duration_ms"`
	Changes           *detect.Report `json:"changes,omitempty"`
}

// tableStats is merged into Result only when a table succeeds.
type tableStats struct {
	created, updated, columns, annotated, versions int
}

func (r *Result) merge(s tableStats) {
	r.TablesCreated += s.created
	r.TablesUpdated += s.updated
	r.ColumnsDiscovered += s.columns
	r.ColumnsAnnotated += s.annotated
	r.VersionsCreated += s.versions
}

// Orchestrator drives scans.  Safe for concurrent use; history is shared.
type Orchestrator struct {
	adapter     discovery.Adapter
	sampler     discovery.Sampler
	detector    *detect.Detector
	syncer      Syncer
	ledger      Ledger
	annotator   annotate.Annotator
	policy      exclude.Policy
	sampleLimit int
	savepoints  bool
	log         *zap.SugaredLogger

	mu           sync.Mutex
	history      []*Result
	historyLimit int
}

// Option customises New.
type Option func(*Orchestrator)

// WithAnnotator sets the annotation chain.
func WithAnnotator(a annotate.Annotator) Option { return func(o *Orchestrator) { o.annotator = a } }

// WithExclusions sets the base exclusion policy.
func WithExclusions(p exclude.Policy) Option { return func(o *Orchestrator) { o.policy = p } }

// WithSampling passes up to limit sample values per column to the
// annotator when the adapter can sample and a stage reads samples.
func WithSampling(limit int) Option { return func(o *Orchestrator) { o.sampleLimit = limit } }

// WithSavepoints wraps each incremental table in a savepoint.
func WithSavepoints(on bool) Option { return func(o *Orchestrator) { o.savepoints = on } }

// WithHistoryLimit bounds the scan history.
func WithHistoryLimit(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.historyLimit = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(log *zap.SugaredLogger) Option { return func(o *Orchestrator) { o.log = logger.OrNop(log) } }

// New wires an Orchestrator.
func New(adapter discovery.Adapter, detector *detect.Detector, syncer Syncer, ledger Ledger, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		adapter:      adapter,
		detector:     detector,
		syncer:       syncer,
		ledger:       ledger,
		policy:       exclude.New(nil),
		log:          zap.NewNop().Sugar(),
		historyLimit: DefaultHistoryLimit,
	}
	if s, ok := adapter.(discovery.Sampler); ok {
		o.sampler = s
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func newResult(mode, database string) *Result {
	return &Result{
		RunID:     uuid.NewString(),
		Mode:      mode,
		Database:  database,
		StartedAt: time.Now().UTC(),
		Errors:    []string{},
	}
}

//
// Full scan
//

// ScanDatabase syncs every non-excluded table in one unit of work.  On
// error the session is rolled back and the returned Result has status
// failed.
func (o *Orchestrator) ScanDatabase(ctx context.Context, req Request, sess Session) (*Result, error) {
	res := newResult(ModeFull, req.Database)
	o.log.Infow("full scan started", "run_id", res.RunID, "database", req.Database, "source", req.Connection.Name)

	tables, err := o.adapter.DiscoverTables(ctx, req.Connection, req.Database)
	if err != nil {
		return o.abort(res, sess, err)
	}
	tables = o.policy.With(req.ExcludeTables).Filter(tables)
	res.TablesDiscovered = len(tables)

	for _, t := range tables {
		stats, err := o.processTable(ctx, req, sess, t, SourceFullScan)
		if err != nil {
			metrics.ScanErrorsTotal.WithLabelValues(ModeFull).Inc()
			return o.abort(res, sess, fmt.Errorf("%s: %w", t.Name, err))
		}
		res.merge(stats)
		res.TablesScanned++
	}

	if err := sess.Commit(); err != nil {
		return o.abort(res, nil, fmt.Errorf("commit: %w", err))
	}
	res.Status = StatusCompleted
	o.finish(res)
	return res, nil
}

// abort rolls back sess (when non-nil), records err, and finishes res.
func (o *Orchestrator) abort(res *Result, sess Session, err error) (*Result, error) {
	if sess != nil {
		if rbErr := sess.Rollback(); rbErr != nil {
			o.log.Errorw("rollback failed", "run_id", res.RunID, "err", rbErr)
		}
	}
	res.Status = StatusFailed
	res.Errors = append(res.Errors, err.Error())
	o.log.Errorw("scan aborted", "run_id", res.RunID, "mode", res.Mode, "database", res.Database, "err", err)
	o.finish(res)
	return res, err
}

//
// Incremental scan
//

// IncrementalScan syncs only added and modified tables.  Table failures,
// including tables the detector could not read, are collected in
// Result.Errors; the returned error is non-nil only when change detection
// or the final commit fails.
func (o *Orchestrator) IncrementalScan(ctx context.Context, req Request, sess Session) (*Result, error) {
	res := newResult(ModeIncremental, req.Database)
	o.log.Infow("incremental scan started", "run_id", res.RunID, "database", req.Database, "source", req.Connection.Name)

	rep, err := o.detector.DetectChanges(ctx, req.Connection, req.Database, o.policy.With(req.ExcludeTables))
	if err != nil {
		return o.abort(res, sess, err)
	}
	res.Changes = rep
	res.TablesDiscovered = rep.TotalTables
	for _, f := range rep.TablesFailed {
		metrics.ScanErrorsTotal.WithLabelValues(ModeIncremental).Inc()
		res.Errors = append(res.Errors, fmt.Sprintf("%s: %s", f.TableName, f.Error))
	}

	if !rep.HasChanges() {
		_ = sess.Rollback()
		res.Status = StatusNoChanges
		res.TablesSkipped = rep.TotalTables
		o.finish(res)
		return res, nil
	}

	affected := rep.Affected()
	res.TablesScanned = len(affected)
	res.TablesSkipped = rep.TotalTables - len(affected)

	for _, name := range affected {
		t, _ := rep.Table(name)
		stats, err := o.isolated(ctx, sess, func() (tableStats, error) {
			return o.processTable(ctx, req, sess, t, SourceIncrementalScan)
		})
		if err != nil {
			metrics.ScanErrorsTotal.WithLabelValues(ModeIncremental).Inc()
			res.Errors = append(res.Errors, fmt.Sprintf("%s: %v", name, err))
			o.log.Warnw("table failed, continuing", "run_id", res.RunID, "table", name, "err", err)
			continue
		}
		res.merge(stats)
	}

	if err := sess.Commit(); err != nil {
		return o.abort(res, nil, fmt.Errorf("commit: %w", err))
	}
	res.Status = StatusCompleted
	o.finish(res)
	return res, nil
}

const savepoint = "catalog_table"

func (o *Orchestrator) isolated(ctx context.Context, sess Session, fn func() (tableStats, error)) (tableStats, error) {
	if !o.savepoints {
		return fn()
	}
	if _, err := sess.ExecContext(ctx, "SAVEPOINT "+savepoint); err != nil {
		return tableStats{}, fmt.Errorf("savepoint: %w", err)
	}
	stats, err := fn()
	if err != nil {
		if _, rbErr := sess.ExecContext(ctx, "ROLLBACK TO SAVEPOINT "+savepoint); rbErr != nil {
			o.log.Errorw("rollback to savepoint failed", "err", rbErr)
		}
		return tableStats{}, err
	}
	if _, err := sess.ExecContext(ctx, "RELEASE SAVEPOINT "+savepoint); err != nil {
		return tableStats{}, fmt.Errorf("release savepoint: %w", err)
	}
	return stats, nil
}

//
// Per-table pipeline
//

func (o *Orchestrator) processTable(ctx context.Context, req Request, sess Session, t discovery.TableInfo, source string) (tableStats, error) {
	var st tableStats

	cols, err := o.adapter.DiscoverColumns(ctx, req.Connection, req.Database, t.Name)
	if err != nil {
		return st, err
	}
	st.columns = len(cols)

	out, err := o.syncer.Sync(ctx, sess, req.Database, t, cols)
	if err != nil {
		return st, err
	}
	if out.Result == catalog.Created {
		st.created++
	} else {
		st.updated++
		if out.Before != nil {
			v, err := o.ledger.CreateVersionFromDiff(ctx, sess, out.TableID, *out.Before, out.After, ChangedBySystem, source)
			if err != nil {
				return st, err
			}
			if v != nil {
				st.versions++
			}
		}
	}

	if req.AIAnnotate && o.annotator != nil {
		n, err := o.annotateTable(ctx, req, sess, out.TableID, t, cols)
		if err != nil {
			return st, err
		}
		st.annotated = n
	}

	metrics.TablesProcessedTotal.WithLabelValues(modeOf(source)).Inc()
	return st, nil
}

func (o *Orchestrator) annotateTable(ctx context.Context, req Request, sess Session, tableID int64, t discovery.TableInfo, cols []discovery.ColumnInfo) (int, error) {
	sample := o.sampler != nil && o.sampleLimit > 0 && annotate.UsesSamples(o.annotator)
	in := make([]annotate.Column, 0, len(cols))
	for _, c := range cols {
		ac := annotate.Column{Name: c.Name, Type: c.Type, Table: t.Name, Comment: c.Comment}
		if sample {
			samples, err := o.sampler.SampleValues(ctx, req.Connection, req.Database, t.Name, c.Name, o.sampleLimit)
			if err != nil {
				o.log.Debugw("sampling failed", "table", t.Name, "column", c.Name, "err", err)
			}
			ac.Samples = samples
		}
		in = append(in, ac)
	}

	descs := make(map[string]annotate.Description, len(in))
	if b, ok := o.annotator.(annotate.BatchAnnotator); ok {
		got, _ := b.AnnotateBatch(ctx, in)
		descs = got
	} else {
		for _, c := range in {
			d, _ := o.annotator.Annotate(ctx, c)
			descs[c.Name] = d
		}
	}

	n := 0
	for _, c := range in {
		d, ok := descs[c.Name]
		if !ok || d.Empty() {
			continue
		}
		if err := o.syncer.SaveAnnotation(ctx, sess, tableID, c.Name, d); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

//
// Detection passthrough and history
//

// DetectChanges runs change detection with the orchestrator's exclusions.
func (o *Orchestrator) DetectChanges(ctx context.Context, conn discovery.Connection, database string, excludeTables []string) (*detect.Report, error) {
	return o.detector.DetectChanges(ctx, conn, database, o.policy.With(excludeTables))
}

// GetScanHistory returns up to limit results, newest first.  limit <= 0
// returns all retained results.
func (o *Orchestrator) GetScanHistory(limit int) []*Result {
	o.mu.Lock()
	defer o.mu.Unlock()
	n := len(o.history)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]*Result, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, o.history[i])
	}
	return out
}

func (o *Orchestrator) finish(res *Result) {
	res.DurationMS = time.Since(res.StartedAt).Milliseconds()

	metrics.ScansTotal.WithLabelValues(res.Mode, res.Status).Inc()
	metrics.ScanDuration.WithLabelValues(res.Mode).Observe(float64(res.DurationMS) / 1000)

	o.mu.Lock()
	o.history = append(o.history, res)
	if over := len(o.history) - o.historyLimit; over > 0 {
		o.history = append([]*Result(nil), o.history[over:]...)
	}
	o.mu.Unlock()

	o.log.Infow("scan finished",
		"run_id", res.RunID,
		"mode", res.Mode,
		"database", res.Database,
		"status", res.Status,
		"scanned", res.TablesScanned,
		"skipped", res.TablesSkipped,
		"created", res.TablesCreated,
		"updated", res.TablesUpdated,
		"versions", res.VersionsCreated,
		"errors", len(res.Errors),
		"duration_ms", res.DurationMS,
	)
}

func modeOf(source string) string {
	if source == SourceIncrementalScan {
		return ModeIncremental
	}
	return ModeFull
}
