// internal/api/api.go
//
// HTTP surface of the catalog.
//
// Context
// -------
// Server exposes the scan, detection, snapshot, and version operations as
// JSON endpoints on a chi router.  Sources are always referenced by the
// name configured under `sources:`; raw DSNs never cross the API.
//
// Routes
// ------
//
//	POST /scans/full            full scan (one unit of work)
//	POST /scans/incremental     detect, then sync added and modified tables
//	POST /scans/detect          change detection only
//	GET  /scans/history         recent scan results, newest first
//	POST /snapshots             capture a live source
//	GET  /snapshots             list snapshots
//	GET  /snapshots/compare     ?from=&to=
//	GET  /snapshots/migration   ?from=&to=&dialect=
//	GET  /snapshots/{id}        one snapshot
//	GET  /versions              ?database=&table=&limit=
//	GET  /metrics               Prometheus
//
// Errors are JSON `{"error": "..."}`.  Unknown snapshot ids map to 404,
// malformed input and unknown sources to 400, everything else to 500.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/yanizio/catalog/internal/detect"
	"github.com/yanizio/catalog/internal/discovery"
	"github.com/yanizio/catalog/internal/exclude"
	"github.com/yanizio/catalog/internal/logger"
	"github.com/yanizio/catalog/internal/scan"
	"github.com/yanizio/catalog/internal/snapshot"
	"github.com/yanizio/catalog/internal/version"
)

// maxBody caps request bodies.
const maxBody = 1 << 20

/*────────────────────────── collaborators ──────────────────────────────────*/

// Scanner runs scans.  *scan.Orchestrator satisfies it.
type Scanner interface {
	ScanDatabase(ctx context.Context, req scan.Request, sess scan.Session) (*scan.Result, error)
	IncrementalScan(ctx context.Context, req scan.Request, sess scan.Session) (*scan.Result, error)
	DetectChanges(ctx context.Context, conn discovery.Connection, database string, excludeTables []string) (*detect.Report, error)
	GetScanHistory(limit int) []*scan.Result
}

// Snapshots manages snapshots.  *snapshot.Service satisfies it.
type Snapshots interface {
	Capture(ctx context.Context, adapter discovery.Adapter, conn discovery.Connection, database string,
		policy exclude.Policy, version string, opts snapshot.CreateOptions) (*snapshot.Snapshot, error)
	ListSnapshots(ctx context.Context, database string, limit int) ([]*snapshot.Snapshot, error)
	GetSnapshot(ctx context.Context, id string) (*snapshot.Snapshot, error)
	CompareSnapshots(ctx context.Context, fromID, toID string) (*snapshot.Diff, error)
	MigrationSQLFor(ctx context.Context, fromID, toID string, dialect snapshot.Dialect) (map[string][]string, error)
}

// SessionFunc opens a catalog unit of work for one scan.
type SessionFunc func(ctx context.Context) (scan.Session, error)

// VersionFunc reads version history.
type VersionFunc func(ctx context.Context, database, table string, limit int) ([]version.Model, error)

// Deps wires a Server.
type Deps struct {
	Scanner   Scanner
	Begin     SessionFunc
	Snapshots Snapshots
	Adapter   discovery.Adapter
	Versions  VersionFunc
	Sources   map[string]discovery.Connection
	Policy    exclude.Policy
	Dialect   snapshot.Dialect
	Logger    *zap.SugaredLogger
}

// Server holds the handlers.
type Server struct {
	Deps
	log      *zap.SugaredLogger
	validate *validator.Validate
}

// New returns a Server.
func New(d Deps) *Server {
	if d.Dialect == "" {
		d.Dialect = snapshot.DialectMySQL
	}
	return &Server{Deps: d, log: logger.OrNop(d.Logger), validate: validator.New()}
}

// Routes builds the router.
func (s *Server) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)
	r.Use(apiHeaders)

	r.Route("/scans", func(r chi.Router) {
		r.Post("/full", s.handleFullScan)
		r.Post("/incremental", s.handleIncrementalScan)
		r.Post("/detect", s.handleDetect)
		r.Get("/history", s.handleScanHistory)
	})
	r.Route("/snapshots", func(r chi.Router) {
		r.Post("/", s.handleCreateSnapshot)
		r.Get("/", s.handleListSnapshots)
		r.Get("/compare", s.handleCompare)
		r.Get("/migration", s.handleMigration)
		r.Get("/{id}", s.handleGetSnapshot)
	})
	r.Get("/versions", s.handleVersions)
	r.Handle("/metrics", promhttp.Handler())
	return r
}

/*────────────────────────── requests ───────────────────────────────────────*/

type scanRequest struct {
	Source        string   `json:"source"         validate:"required"`
	Database      string   `json:"database"       validate:"required"`
	ExcludeTables []string `json:"exclude_tables"`
	AIAnnotate    bool     `json:"ai_annotate"`
}

type snapshotRequest struct {
	Source      string   `json:"source"      validate:"required"`
	Database    string   `json:"database"    validate:"required"`
	Version     string   `json:"version"     validate:"max=64"`
	CreatedBy   string   `json:"created_by"  validate:"max=128"`
	Description string   `json:"description"`
	Tags        []string `json:"tags"`
}

// badRequest marks errors that map to 400.
type badRequest struct{ err error }

func (b badRequest) Error() string { return b.err.Error() }

func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return badRequest{fmt.Errorf("invalid JSON body: %w", err)}
	}
	if err := s.validate.Struct(dst); err != nil {
		return badRequest{err}
	}
	return nil
}

func (s *Server) connection(name string) (discovery.Connection, error) {
	c, ok := s.Sources[name]
	if !ok {
		return discovery.Connection{}, badRequest{fmt.Errorf("unknown source %q", name)}
	}
	return c, nil
}

func (s *Server) scanRequest(w http.ResponseWriter, r *http.Request) (scan.Request, error) {
	var in scanRequest
	if err := s.decode(w, r, &in); err != nil {
		return scan.Request{}, err
	}
	conn, err := s.connection(in.Source)
	if err != nil {
		return scan.Request{}, err
	}
	return scan.Request{
		Connection:    conn,
		Database:      in.Database,
		ExcludeTables: in.ExcludeTables,
		AIAnnotate:    in.AIAnnotate,
	}, nil
}

/*────────────────────────── scans ──────────────────────────────────────────*/

type scanFn func(ctx context.Context, req scan.Request, sess scan.Session) (*scan.Result, error)

func (s *Server) runScan(w http.ResponseWriter, r *http.Request, run scanFn) {
	req, err := s.scanRequest(w, r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	sess, err := s.Begin(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	res, err := run(r.Context(), req, sess)
	if err != nil {
		s.log.Errorw("scan failed", "source", req.Connection.Name, "database", req.Database, "err", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error(), "result": res})
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleFullScan(w http.ResponseWriter, r *http.Request) {
	s.runScan(w, r, s.Scanner.ScanDatabase)
}

func (s *Server) handleIncrementalScan(w http.ResponseWriter, r *http.Request) {
	s.runScan(w, r, s.Scanner.IncrementalScan)
}

func (s *Server) handleDetect(w http.ResponseWriter, r *http.Request) {
	req, err := s.scanRequest(w, r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	rep, err := s.Scanner.DetectChanges(r.Context(), req.Connection, req.Database, req.ExcludeTables)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"report":      rep,
		"has_changes": rep.HasChanges(),
	})
}

func (s *Server) handleScanHistory(w http.ResponseWriter, r *http.Request) {
	limit, err := intParam(r, "limit", 10)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.Scanner.GetScanHistory(limit))
}

/*────────────────────────── snapshots ──────────────────────────────────────*/

func (s *Server) handleCreateSnapshot(w http.ResponseWriter, r *http.Request) {
	var in snapshotRequest
	if err := s.decode(w, r, &in); err != nil {
		s.fail(w, r, err)
		return
	}
	conn, err := s.connection(in.Source)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	snap, err := s.Snapshots.Capture(r.Context(), s.Adapter, conn, in.Database, s.Policy, in.Version,
		snapshot.CreateOptions{CreatedBy: in.CreatedBy, Description: in.Description, Tags: in.Tags})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, snap)
}

func (s *Server) handleListSnapshots(w http.ResponseWriter, r *http.Request) {
	limit, err := intParam(r, "limit", snapshot.DefaultListLimit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	list, err := s.Snapshots.ListSnapshots(r.Context(), r.URL.Query().Get("database"), limit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if list == nil {
		list = []*snapshot.Snapshot{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleGetSnapshot(w http.ResponseWriter, r *http.Request) {
	snap, err := s.Snapshots.GetSnapshot(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func pair(r *http.Request) (from, to string, err error) {
	q := r.URL.Query()
	from, to = q.Get("from"), q.Get("to")
	if from == "" || to == "" {
		return "", "", badRequest{errors.New("from and to are required")}
	}
	return from, to, nil
}

func (s *Server) handleCompare(w http.ResponseWriter, r *http.Request) {
	from, to, err := pair(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	d, err := s.Snapshots.CompareSnapshots(r.Context(), from, to)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) handleMigration(w http.ResponseWriter, r *http.Request) {
	from, to, err := pair(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	dialect := s.Dialect
	if raw := r.URL.Query().Get("dialect"); raw != "" {
		if dialect, err = snapshot.ParseDialect(raw); err != nil {
			s.fail(w, r, badRequest{err})
			return
		}
	}
	stmts, err := s.Snapshots.MigrationSQLFor(r.Context(), from, to, dialect)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"from_snapshot_id": from,
		"to_snapshot_id":   to,
		"dialect":          dialect,
		"statements":       stmts,
	})
}

/*────────────────────────── versions ───────────────────────────────────────*/

func (s *Server) handleVersions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	database := q.Get("database")
	if database == "" {
		s.fail(w, r, badRequest{errors.New("database is required")})
		return
	}
	limit, err := intParam(r, "limit", 50)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	list, err := s.Versions(r.Context(), database, q.Get("table"), limit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if list == nil {
		list = []version.Model{}
	}
	writeJSON(w, http.StatusOK, list)
}

/*────────────────────────── helpers ────────────────────────────────────────*/

func intParam(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, badRequest{fmt.Errorf("%s must be a non-negative integer", name)}
	}
	return n, nil
}

// fail maps err to a status code and writes it.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	var bad badRequest
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, snapshot.ErrNotFound):
		status = http.StatusNotFound
	case errors.As(err, &bad):
		status = http.StatusBadRequest
	default:
		s.log.Errorw("request failed", "path", r.URL.Path, "request_id", middleware.GetReqID(r.Context()), "err", err)
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
