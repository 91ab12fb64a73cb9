// internal/detect/store.go
//
// Fingerprint baseline storage.
//
// Context
// -------
// The Detector compares each pass against the fingerprints recorded by the
// previous pass for the same database.  Where those live is a deployment
// choice:
//
//   - MemoryStore keeps them in process.  A restart empties it, so the next
//     pass re-baselines and reports every table as added.
//   - SQLStore keeps them in `catalog_fingerprint` so several catalog
//     processes share one baseline and restarts do not re-baseline.
//
// Notes
// -----
//   - Replace swaps the whole set for a database.  Fingerprints of tables
//     that disappeared are dropped with it.
package detect

import (
	"context"
	"fmt"
	"sync"

	"github.com/jmoiron/sqlx"

	"github.com/yanizio/catalog/internal/fingerprint"
)

// Store persists the per-database fingerprint baseline.
type Store interface {
	Load(ctx context.Context, database string) (map[string]fingerprint.Fingerprint, error)
	Replace(ctx context.Context, database string, fps map[string]fingerprint.Fingerprint) error
}

//
// MemoryStore
//

// MemoryStore is the process-local Store.  Safe for concurrent use.
type MemoryStore struct {
	mu sync.RWMutex
	m  map[string]map[string]fingerprint.Fingerprint
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{m: make(map[string]map[string]fingerprint.Fingerprint)}
}

// Load returns a copy of the baseline for database (empty when unseen).
func (s *MemoryStore) Load(_ context.Context, database string) (map[string]fingerprint.Fingerprint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copyMap(s.m[database]), nil
}

// Replace stores a copy of fps as the baseline for database.
func (s *MemoryStore) Replace(_ context.Context, database string, fps map[string]fingerprint.Fingerprint) error {
	s.mu.Lock()
	s.m[database] = copyMap(fps)
	s.mu.Unlock()
	return nil
}

func copyMap(in map[string]fingerprint.Fingerprint) map[string]fingerprint.Fingerprint {
	out := make(map[string]fingerprint.Fingerprint, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

//
// SQLStore
//

// SQLStore keeps baselines in the catalog database.
type SQLStore struct {
	db *sqlx.DB
}

// NewSQLStore wraps db.  The `catalog_fingerprint` table must exist.
func NewSQLStore(db *sqlx.DB) *SQLStore { return &SQLStore{db: db} }

const (
	selectFingerprints = `
		SELECT table_name, column_hash, row_count, last_modified
		FROM catalog_fingerprint
		WHERE database_name = ?`
	deleteFingerprints = `DELETE FROM catalog_fingerprint WHERE database_name = ?`
	insertFingerprint  = `
		INSERT INTO catalog_fingerprint
		  (database_name, table_name, column_hash, row_count, last_modified)
		VALUES (?, ?, ?, ?, ?)`
)

// Load reads the baseline for database.
func (s *SQLStore) Load(ctx context.Context, database string) (map[string]fingerprint.Fingerprint, error) {
	var rows []fingerprint.Fingerprint
	if err := s.db.SelectContext(ctx, &rows, selectFingerprints, database); err != nil {
		return nil, fmt.Errorf("load fingerprints for %s: %w", database, err)
	}
	out := make(map[string]fingerprint.Fingerprint, len(rows))
	for _, fp := range rows {
		out[fp.TableName] = fp
	}
	return out, nil
}

// Replace deletes and re-inserts the baseline inside one transaction.
func (s *SQLStore) Replace(ctx context.Context, database string, fps map[string]fingerprint.Fingerprint) (err error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin fingerprint replace: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, deleteFingerprints, database); err != nil {
		return fmt.Errorf("clear fingerprints for %s: %w", database, err)
	}
	for _, name := range sortedKeys(fps) {
		fp := fps[name]
		if _, err = tx.ExecContext(ctx, insertFingerprint,
			database, fp.TableName, fp.ColumnHash, fp.RowCount, fp.LastModified); err != nil {
			return fmt.Errorf("store fingerprint %s.%s: %w", database, name, err)
		}
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit fingerprints for %s: %w", database, err)
	}
	return nil
}
