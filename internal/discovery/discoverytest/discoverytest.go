// Package discoverytest provides an in-memory discovery.Adapter for tests
// of packages that consume schema discovery.
package discoverytest

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/yanizio/catalog/internal/discovery"
)

// Source is a mutable fake database.  Safe for concurrent use.
type Source struct {
	mu       sync.Mutex
	tables   map[string][]discovery.ColumnInfo
	rows     map[string]int64
	failCols map[string]error
	failAll  error
	samples  map[string][]string

	ColumnCalls int
	SampleCalls int
}

// New returns an empty Source.
func New() *Source {
	return &Source{
		tables:   make(map[string][]discovery.ColumnInfo),
		rows:     make(map[string]int64),
		failCols: make(map[string]error),
		samples:  make(map[string][]string),
	}
}

// Col is shorthand for a column definition.
func Col(name, typ string, nullable bool) discovery.ColumnInfo {
	return discovery.ColumnInfo{Name: name, Type: typ, Nullable: nullable}
}

// PK is shorthand for a primary-key column.
func PK(name, typ string) discovery.ColumnInfo {
	return discovery.ColumnInfo{Name: name, Type: typ, KeyRole: "PRI"}
}

// SetTable creates or replaces a table.
func (s *Source) SetTable(name string, cols ...discovery.ColumnInfo) *Source {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range cols {
		cols[i].Position = i + 1
	}
	s.tables[name] = cols
	return s
}

// SetRows sets a table's reported row count.
func (s *Source) SetRows(name string, n int64) {
	s.mu.Lock()
	s.rows[name] = n
	s.mu.Unlock()
}

// DropTable removes a table.
func (s *Source) DropTable(name string) {
	s.mu.Lock()
	delete(s.tables, name)
	s.mu.Unlock()
}

// FailColumns makes DiscoverColumns fail for table.
func (s *Source) FailColumns(table string, err error) {
	s.mu.Lock()
	s.failCols[table] = err
	s.mu.Unlock()
}

// FailTables makes DiscoverTables fail.
func (s *Source) FailTables(err error) {
	s.mu.Lock()
	s.failAll = err
	s.mu.Unlock()
}

// SetSamples registers sample values for table.column.
func (s *Source) SetSamples(table, column string, values ...string) {
	s.mu.Lock()
	s.samples[table+"."+column] = values
	s.mu.Unlock()
}

// DiscoverTables implements discovery.Adapter.
func (s *Source) DiscoverTables(_ context.Context, _ discovery.Connection, database string) ([]discovery.TableInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failAll != nil {
		return nil, &discovery.Error{Op: "tables", Database: database, Err: s.failAll}
	}
	names := make([]string, 0, len(s.tables))
	for n := range s.tables {
		names = append(names, n)
	}
	sort.Strings(names)
	out := make([]discovery.TableInfo, 0, len(names))
	for _, n := range names {
		out = append(out, discovery.TableInfo{Name: n, Type: "BASE TABLE", RowCount: s.rows[n]})
	}
	return out, nil
}

// DiscoverColumns implements discovery.Adapter.
func (s *Source) DiscoverColumns(_ context.Context, _ discovery.Connection, database, table string) ([]discovery.ColumnInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ColumnCalls++
	if err := s.failCols[table]; err != nil {
		return nil, &discovery.Error{Op: "columns", Database: database, Table: table, Err: err}
	}
	cols, ok := s.tables[table]
	if !ok {
		return nil, &discovery.Error{Op: "columns", Database: database, Table: table, Err: errors.New("no such table")}
	}
	return append([]discovery.ColumnInfo(nil), cols...), nil
}

// SampleValues implements discovery.Sampler.
func (s *Source) SampleValues(_ context.Context, _ discovery.Connection, _, table, column string, limit int) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.SampleCalls++
	v := s.samples[table+"."+column]
	if len(v) > limit {
		v = v[:limit]
	}
	return append([]string(nil), v...), nil
}
