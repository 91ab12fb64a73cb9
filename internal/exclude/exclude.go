// Package exclude decides which source tables a scan or change-detection
// pass must skip.  A Policy is an explicit deny-list of exact table names
// plus case-insensitive glob patterns.  The default patterns cover scratch
// and backup tables.
package exclude

import (
	"path"
	"strings"

	"github.com/yanizio/catalog/internal/discovery"
)

// DefaultPatterns are applied to every scan.
var DefaultPatterns = []string{"tmp_*", "temp_*", "backup_*"}

// Policy is immutable once built.
type Policy struct {
	deny     map[string]struct{}
	patterns []string
}

// New returns a Policy with DefaultPatterns and the given deny-list.
func New(deny []string) Policy {
	p := Policy{
		deny:     make(map[string]struct{}, len(deny)),
		patterns: append([]string(nil), DefaultPatterns...),
	}
	for _, name := range deny {
		p.deny[name] = struct{}{}
	}
	return p
}

// With returns a copy of p whose deny-list also holds extra.
func (p Policy) With(extra []string) Policy {
	out := Policy{
		deny:     make(map[string]struct{}, len(p.deny)+len(extra)),
		patterns: p.patterns,
	}
	for name := range p.deny {
		out.deny[name] = struct{}{}
	}
	for _, name := range extra {
		out.deny[name] = struct{}{}
	}
	return out
}

// Excluded reports whether table must be skipped.
func (p Policy) Excluded(table string) bool {
	if _, ok := p.deny[table]; ok {
		return true
	}
	lower := strings.ToLower(table)
	for _, pat := range p.patterns {
		if ok, _ := path.Match(pat, lower); ok {
			return true
		}
	}
	return false
}

// Filter drops excluded tables, keeping the input order.
func (p Policy) Filter(tables []discovery.TableInfo) []discovery.TableInfo {
	out := make([]discovery.TableInfo, 0, len(tables))
	for _, t := range tables {
		if !p.Excluded(t.Name) {
			out = append(out, t)
		}
	}
	return out
}
