// internal/snapshot/migration.go
//
// Migration SQL derived from a Diff.
//
// Context
// -------
// MigrationSQL turns a Diff into DDL that moves a database from the "from"
// snapshot to the "to" snapshot.  It reads nothing but the Diff.  Output is
// keyed by table name; a table that needs no statements is absent, so a
// diff with no changes yields an empty map.
//
// Statement rules
// ---------------
//   - table added             CREATE TABLE with every column and the primary key
//   - table removed           DROP TABLE
//   - column added / removed  ADD COLUMN / DROP COLUMN
//   - type, nullability, or comment change on a common column produce one
//     statement each.  Other field changes (default, size, primary key,
//     auto-increment) are reported by the differ but emit no DDL.
//
// Dialects differ in quoting and in how a column is altered.  MySQL
// restates the whole column with a single MODIFY COLUMN however many of
// those fields changed; PostgreSQL alters one property at a time and sets
// comments with COMMENT ON.
package snapshot

import (
	"fmt"
	"sort"
	"strings"
)

// Dialect names a target SQL dialect.
type Dialect string

const (
	DialectMySQL    Dialect = "mysql"
	DialectPostgres Dialect = "postgres"
)

// ParseDialect maps a config or query value to a Dialect.  Empty selects
// MySQL.
func ParseDialect(s string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "mysql":
		return DialectMySQL, nil
	case "postgres", "postgresql":
		return DialectPostgres, nil
	default:
		return "", fmt.Errorf("unsupported dialect %q", s)
	}
}

// DialectConfig describes SQL formatting for one dialect.
type DialectConfig struct {
	Name               Dialect
	Quote              string
	AddColumnTemplate  string
	DropColumnTemplate string
	DropTableTemplate  string
	AutoIncrement      string
	InlineComments     bool

	// alter renders the statement for one changed field of a column.
	alter func(dc DialectConfig, table string, c ColumnVersion, field string) string
}

// DialectConfigFor returns the formatting rules for d.  Unknown values get
// MySQL.
func DialectConfigFor(d Dialect) DialectConfig {
	switch d {
	case DialectPostgres:
		return DialectConfig{
			Name:               DialectPostgres,
			Quote:              `"`,
			AddColumnTemplate:  "ALTER TABLE %s ADD COLUMN %s",
			DropColumnTemplate: "ALTER TABLE %s DROP COLUMN %s",
			DropTableTemplate:  "DROP TABLE %s",
			alter:              alterPostgres,
		}
	default:
		return DialectConfig{
			Name:               DialectMySQL,
			Quote:              "`",
			AddColumnTemplate:  "ALTER TABLE %s ADD COLUMN %s",
			DropColumnTemplate: "ALTER TABLE %s DROP COLUMN %s",
			DropTableTemplate:  "DROP TABLE %s",
			AutoIncrement:      "AUTO_INCREMENT",
			InlineComments:     true,
			alter:              alterMySQL,
		}
	}
}

// MigrationSQL renders the statements for d in dialect.
func MigrationSQL(d *Diff, dialect Dialect) map[string][]string {
	dc := DialectConfigFor(dialect)
	out := make(map[string][]string)

	for _, t := range d.TablesAdded {
		out[t.Name] = dc.createTable(t)
	}
	for _, t := range d.TablesRemoved {
		out[t.Name] = []string{fmt.Sprintf(dc.DropTableTemplate, dc.quote(t.Name))}
	}
	for _, t := range d.TablesModified {
		if stmts := dc.alterTable(t); len(stmts) > 0 {
			out[t.Name] = stmts
		}
	}
	return out
}

func (dc DialectConfig) createTable(t TableVersion) []string {
	cols := orderedColumns(t.Columns)

	defs := make([]string, 0, len(cols)+1)
	var pk []string
	for _, c := range cols {
		defs = append(defs, "  "+dc.columnDef(c))
		if c.PrimaryKey {
			pk = append(pk, dc.quote(c.Name))
		}
	}
	if len(pk) > 0 {
		defs = append(defs, "  PRIMARY KEY ("+strings.Join(pk, ", ")+")")
	}

	stmt := fmt.Sprintf("CREATE TABLE %s (\n%s\n)", dc.quote(t.Name), strings.Join(defs, ",\n"))
	if dc.InlineComments && t.Comment != "" {
		stmt += " COMMENT=" + literal(t.Comment)
	}
	stmts := []string{stmt}

	if !dc.InlineComments {
		if t.Comment != "" {
			stmts = append(stmts, fmt.Sprintf("COMMENT ON TABLE %s IS %s", dc.quote(t.Name), literal(t.Comment)))
		}
		for _, c := range cols {
			if c.Comment != "" {
				stmts = append(stmts, dc.commentOn(t.Name, c))
			}
		}
	}
	return stmts
}

func (dc DialectConfig) alterTable(t TableDiff) []string {
	var stmts []string
	table := dc.quote(t.Name)

	for _, c := range orderedColumnList(t.ColumnsAdded) {
		stmts = append(stmts, fmt.Sprintf(dc.AddColumnTemplate, table, dc.columnDef(c)))
		if !dc.InlineComments && c.Comment != "" {
			stmts = append(stmts, dc.commentOn(t.Name, c))
		}
	}
	for _, c := range t.ColumnsRemoved {
		stmts = append(stmts, fmt.Sprintf(dc.DropColumnTemplate, table, dc.quote(c.Name)))
	}
	for _, cd := range t.ColumnsModified {
		var last string
		for _, field := range []string{FieldType, FieldNullable, FieldComment} {
			if !cd.Has(field) {
				continue
			}
			if s := dc.alter(dc, t.Name, cd.After, field); s != last {
				stmts = append(stmts, s)
				last = s
			}
		}
	}
	return stmts
}

// columnDef renders `name type [NOT NULL] [DEFAULT x] [AUTO_INCREMENT] [COMMENT 'x']`.
func (dc DialectConfig) columnDef(c ColumnVersion) string {
	var b strings.Builder
	b.WriteString(dc.quote(c.Name))
	b.WriteByte(' ')
	b.WriteString(c.Type)
	if c.Nullable {
		b.WriteString(" NULL")
	} else {
		b.WriteString(" NOT NULL")
	}
	if c.DefaultValue != nil {
		b.WriteString(" DEFAULT ")
		b.WriteString(defaultLiteral(*c.DefaultValue))
	}
	if c.AutoIncrement && dc.AutoIncrement != "" {
		b.WriteByte(' ')
		b.WriteString(dc.AutoIncrement)
	}
	if dc.InlineComments && c.Comment != "" {
		b.WriteString(" COMMENT ")
		b.WriteString(literal(c.Comment))
	}
	return b.String()
}

func (dc DialectConfig) commentOn(table string, c ColumnVersion) string {
	val := "NULL"
	if c.Comment != "" {
		val = literal(c.Comment)
	}
	return fmt.Sprintf("COMMENT ON COLUMN %s.%s IS %s", dc.quote(table), dc.quote(c.Name), val)
}

func (dc DialectConfig) quote(ident string) string {
	return dc.Quote + strings.ReplaceAll(ident, dc.Quote, dc.Quote+dc.Quote) + dc.Quote
}

func alterMySQL(dc DialectConfig, table string, c ColumnVersion, _ string) string {
	return fmt.Sprintf("ALTER TABLE %s MODIFY COLUMN %s", dc.quote(table), dc.columnDef(c))
}

func alterPostgres(dc DialectConfig, table string, c ColumnVersion, field string) string {
	t, col := dc.quote(table), dc.quote(c.Name)
	switch field {
	case FieldType:
		return fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s TYPE %s", t, col, c.Type)
	case FieldNullable:
		if c.Nullable {
			return fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s DROP NOT NULL", t, col)
		}
		return fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s SET NOT NULL", t, col)
	default:
		return dc.commentOn(table, c)
	}
}

// literal renders s as a single-quoted SQL string.
func literal(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// defaultLiteral keeps bare keywords, numbers, and already quoted values as
// the source reported them and quotes everything else.
func defaultLiteral(v string) string {
	switch {
	case v == "":
		return "''"
	case strings.HasPrefix(v, "'"), strings.HasSuffix(v, ")"):
		return v
	case strings.EqualFold(v, "NULL"), strings.EqualFold(v, "CURRENT_TIMESTAMP"),
		strings.EqualFold(v, "TRUE"), strings.EqualFold(v, "FALSE"):
		return v
	case isNumeric(v):
		return v
	default:
		return literal(v)
	}
}

func isNumeric(s string) bool {
	seenDigit := false
	for i, r := range s {
		switch {
		case r >= '0' && r <= '9':
			seenDigit = true
		case r == '.':
		case (r == '-' || r == '+') && i == 0:
		default:
			return false
		}
	}
	return seenDigit
}

// orderedColumns sorts by ordinal position, then name.
func orderedColumns(m map[string]ColumnVersion) []ColumnVersion {
	cols := make([]ColumnVersion, 0, len(m))
	for _, c := range m {
		cols = append(cols, c)
	}
	return orderedColumnList(cols)
}

func orderedColumnList(cols []ColumnVersion) []ColumnVersion {
	out := append([]ColumnVersion(nil), cols...)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Position != out[j].Position {
			return out[i].Position < out[j].Position
		}
		return out[i].Name < out[j].Name
	})
	return out
}
