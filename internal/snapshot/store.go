// internal/snapshot/store.go
//
// Snapshot persistence.
//
// Context
// -------
// Snapshots are write-once.  Store has no update or delete path, and both
// implementations hand out copies so callers cannot mutate what is stored.
//
//   - MemoryStore backs tests and single-process runs.
//   - SQLStore writes `metadata_snapshot`, with the table map and tags held
//     in JSON columns.
package snapshot

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/jmoiron/sqlx"
)

// Store persists snapshots.  List returns newest first; an empty database
// matches every database.  Get returns ErrNotFound for unknown ids.
type Store interface {
	Save(ctx context.Context, s *Snapshot) error
	Get(ctx context.Context, id string) (*Snapshot, error)
	List(ctx context.Context, database string, limit int) ([]*Snapshot, error)
}

//
// MemoryStore
//

// MemoryStore is an in-process Store.  Safe for concurrent use.
type MemoryStore struct {
	mu    sync.RWMutex
	byID  map[string]*Snapshot
	order []string
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byID: make(map[string]*Snapshot)}
}

// Save stores a copy of s.  Saving an existing id is an error.
func (m *MemoryStore) Save(_ context.Context, s *Snapshot) error {
	cp, err := clone(s)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byID[s.ID]; ok {
		return fmt.Errorf("snapshot %s already exists", s.ID)
	}
	m.byID[s.ID] = cp
	m.order = append(m.order, s.ID)
	return nil
}

// Get returns a copy of the snapshot with id.
func (m *MemoryStore) Get(_ context.Context, id string) (*Snapshot, error) {
	m.mu.RLock()
	s, ok := m.byID[id]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return clone(s)
}

// List returns up to limit snapshots, newest first.  limit <= 0 means all.
func (m *MemoryStore) List(_ context.Context, database string, limit int) ([]*Snapshot, error) {
	m.mu.RLock()
	var out []*Snapshot
	for _, id := range m.order {
		s := m.byID[id]
		if database == "" || s.Database == database {
			out = append(out, s)
		}
	}
	m.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	for i, s := range out {
		cp, err := clone(s)
		if err != nil {
			return nil, err
		}
		out[i] = cp
	}
	return out, nil
}

// clone deep-copies through JSON, which is also the stored form.
func clone(s *Snapshot) (*Snapshot, error) {
	b, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("copy snapshot %s: %w", s.ID, err)
	}
	var out Snapshot
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, fmt.Errorf("copy snapshot %s: %w", s.ID, err)
	}
	return &out, nil
}

//
// SQLStore
//

// SQLStore keeps snapshots in the catalog database.
type SQLStore struct {
	db *sqlx.DB
}

// NewSQLStore wraps db.  The `metadata_snapshot` table must exist.
func NewSQLStore(db *sqlx.DB) *SQLStore { return &SQLStore{db: db} }

const (
	insertSnapshot = `
		INSERT INTO metadata_snapshot
		  (id, version, database_name, tables, created_at, created_by, description, tags)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	snapshotColumns = `
		id, version, database_name, tables, created_at, created_by,
		COALESCE(description, '') AS description, tags`
	selectSnapshot = `SELECT ` + snapshotColumns + ` FROM metadata_snapshot WHERE id = ?`
)

// Save inserts s.
func (st *SQLStore) Save(ctx context.Context, s *Snapshot) error {
	if _, err := st.db.ExecContext(ctx, insertSnapshot,
		s.ID, s.Version, s.Database, s.Tables, s.CreatedAt, s.CreatedBy, s.Description, s.Tags); err != nil {
		return fmt.Errorf("insert snapshot %s: %w", s.ID, err)
	}
	return nil
}

// Get reads one snapshot.
func (st *SQLStore) Get(ctx context.Context, id string) (*Snapshot, error) {
	var s Snapshot
	err := st.db.GetContext(ctx, &s, selectSnapshot, id)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, ErrNotFound
	case err != nil:
		return nil, fmt.Errorf("get snapshot %s: %w", id, err)
	}
	return &s, nil
}

// List reads snapshots newest first.
func (st *SQLStore) List(ctx context.Context, database string, limit int) ([]*Snapshot, error) {
	q := `SELECT ` + snapshotColumns + ` FROM metadata_snapshot`
	var args []any
	if database != "" {
		q += ` WHERE database_name = ?`
		args = append(args, database)
	}
	q += ` ORDER BY created_at DESC`
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}

	var rows []*Snapshot
	if err := st.db.SelectContext(ctx, &rows, st.db.Rebind(q), args...); err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	return rows, nil
}
