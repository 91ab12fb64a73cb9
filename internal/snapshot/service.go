// internal/snapshot/service.go
//
// Snapshot operations used by the API and CLI.
//
// Context
// -------
// Service stamps new snapshots (uuid, time, default version label) and
// resolves ids for comparison and migration.  Comparing against an unknown
// id returns *DiffError; there is no sensible default for an ambiguous
// request.
package snapshot

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/yanizio/catalog/internal/discovery"
	"github.com/yanizio/catalog/internal/exclude"
	"github.com/yanizio/catalog/internal/logger"
	"github.com/yanizio/catalog/internal/metrics"
)

// DefaultListLimit caps ListSnapshots when no limit is given.
const DefaultListLimit = 50

// CreateOptions carries the optional snapshot fields.
type CreateOptions struct {
	CreatedBy   string
	Description string
	Tags        []string
}

// Service creates, lists, and compares snapshots.
type Service struct {
	store   Store
	dialect Dialect
	log     *zap.SugaredLogger
	now     func() time.Time
	newID   func() string
}

// Option configures a Service.
type Option func(*Service)

// WithDialect sets the default migration dialect.
func WithDialect(d Dialect) Option { return func(s *Service) { s.dialect = d } }

// WithLogger attaches a logger.
func WithLogger(log *zap.SugaredLogger) Option { return func(s *Service) { s.log = logger.OrNop(log) } }

// NewService wraps store.
func NewService(store Store, opts ...Option) *Service {
	s := &Service{
		store:   store,
		dialect: DialectMySQL,
		log:     zap.NewNop().Sugar(),
		now:     func() time.Time { return time.Now().UTC() },
		newID:   func() string { return uuid.NewString() },
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// CreateSnapshot stores a new snapshot of tables.  An empty version label
// defaults to the creation time.
func (s *Service) CreateSnapshot(ctx context.Context, version, database string, tables Tables, opts CreateOptions) (*Snapshot, error) {
	if database == "" {
		return nil, errors.New("snapshot database is required")
	}
	now := s.now()
	if version == "" {
		version = now.Format("20060102T150405Z")
	}
	if opts.CreatedBy == "" {
		opts.CreatedBy = "system"
	}
	if tables == nil {
		tables = Tables{}
	}

	snap := &Snapshot{
		ID:          s.newID(),
		Version:     version,
		Database:    database,
		Tables:      tables,
		CreatedAt:   now,
		CreatedBy:   opts.CreatedBy,
		Description: opts.Description,
		Tags:        append(Tags(nil), opts.Tags...),
	}
	if err := s.store.Save(ctx, snap); err != nil {
		return nil, err
	}
	metrics.SnapshotsCreatedTotal.Inc()
	s.log.Infow("snapshot created", "id", snap.ID, "version", version, "database", database, "tables", len(tables))
	return snap, nil
}

// Capture discovers every non-excluded table of database and snapshots it.
func (s *Service) Capture(ctx context.Context, adapter discovery.Adapter, conn discovery.Connection,
	database string, policy exclude.Policy, version string, opts CreateOptions) (*Snapshot, error) {

	tables, err := adapter.DiscoverTables(ctx, conn, database)
	if err != nil {
		return nil, err
	}
	out := make(Tables)
	for _, t := range policy.Filter(tables) {
		cols, err := adapter.DiscoverColumns(ctx, conn, database, t.Name)
		if err != nil {
			return nil, err
		}
		out[t.Name] = TableFromDiscovery(t, cols)
	}
	return s.CreateSnapshot(ctx, version, database, out, opts)
}

// ListSnapshots returns snapshots newest first.  An empty database lists
// all databases.
func (s *Service) ListSnapshots(ctx context.Context, database string, limit int) ([]*Snapshot, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	return s.store.List(ctx, database, limit)
}

// GetSnapshot returns one snapshot or an error wrapping ErrNotFound.
func (s *Service) GetSnapshot(ctx context.Context, id string) (*Snapshot, error) {
	snap, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, &DiffError{ID: id, Err: err}
	}
	return snap, nil
}

// CompareSnapshots diffs fromID against toID.
func (s *Service) CompareSnapshots(ctx context.Context, fromID, toID string) (*Diff, error) {
	from, err := s.GetSnapshot(ctx, fromID)
	if err != nil {
		return nil, err
	}
	to, err := s.GetSnapshot(ctx, toID)
	if err != nil {
		return nil, err
	}
	return Compare(from, to), nil
}

// GenerateMigrationSQL renders migration statements in the default dialect.
func (s *Service) GenerateMigrationSQL(ctx context.Context, fromID, toID string) (map[string][]string, error) {
	return s.MigrationSQLFor(ctx, fromID, toID, s.dialect)
}

// MigrationSQLFor renders migration statements in dialect.
func (s *Service) MigrationSQLFor(ctx context.Context, fromID, toID string, dialect Dialect) (map[string][]string, error) {
	d, err := s.CompareSnapshots(ctx, fromID, toID)
	if err != nil {
		return nil, fmt.Errorf("migration %s..%s: %w", fromID, toID, err)
	}
	return MigrationSQL(d, dialect), nil
}
