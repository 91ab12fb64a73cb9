// Package fingerprint condenses a table's column structure into a short
// hash so structural drift can be detected without comparing column lists.
//
// The hash covers only column names, declared types, and nullability.  It
// is insensitive to column order and ignores comments, defaults, and key
// roles.  Row count and last-modified time are carried alongside but never
// take part in change classification.
package fingerprint

import (
	"crypto/md5"
	"encoding/hex"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/yanizio/catalog/internal/discovery"
)

// HashLen is the number of hex characters kept from the digest.
const HashLen = 16

// Fingerprint is the structural summary of one table.
type Fingerprint struct {
	TableName    string     `json:"table_name"    db:"table_name"`
	ColumnHash   string     `json:"column_hash"   db:"column_hash"`
	RowCount     int64      `json:"row_count"     db:"row_count"`
	LastModified *time.Time `json:"last_modified" db:"last_modified"`
}

// Compute fingerprints table from its columns.  columns is not modified.
func Compute(table discovery.TableInfo, columns []discovery.ColumnInfo) Fingerprint {
	return Fingerprint{
		TableName:    table.Name,
		ColumnHash:   Hash(columns),
		RowCount:     table.RowCount,
		LastModified: table.LastModified,
	}
}

// Hash returns the column hash alone.
func Hash(columns []discovery.ColumnInfo) string {
	sorted := append([]discovery.ColumnInfo(nil), columns...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Name != sorted[j].Name {
			return sorted[i].Name < sorted[j].Name
		}
		return segment(sorted[i]) < segment(sorted[j])
	})

	segs := make([]string, len(sorted))
	for i, c := range sorted {
		segs[i] = segment(c)
	}
	sum := md5.Sum([]byte(strings.Join(segs, "|")))
	return hex.EncodeToString(sum[:])[:HashLen]
}

func segment(c discovery.ColumnInfo) string {
	return c.Name + ":" + c.Type + ":" + strconv.FormatBool(c.Nullable)
}
