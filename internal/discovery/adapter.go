package discovery

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
)

// DBSource hands out a ready connection pool for a Connection.  *Pool is
// the production implementation.
type DBSource interface {
	DB(ctx context.Context, conn Connection) (*sqlx.DB, error)
}

// SQLAdapter discovers structure through information_schema on MySQL and
// PostgreSQL sources.  It implements Adapter and Sampler.
type SQLAdapter struct {
	src DBSource
}

// NewSQLAdapter returns an adapter backed by src.
func NewSQLAdapter(src DBSource) *SQLAdapter { return &SQLAdapter{src: src} }

type columnRow struct {
	Name             string         `db:"name"`
	Type             string         `db:"type"`
	IsNullable       string         `db:"is_nullable"`
	KeyRole          string         `db:"key_role"`
	Comment          string         `db:"comment"`
	Position         int            `db:"position"`
	MaxLength        sql.NullInt64  `db:"max_length"`
	NumericPrecision sql.NullInt64  `db:"numeric_precision"`
	NumericScale     sql.NullInt64  `db:"numeric_scale"`
	Default          sql.NullString `db:"column_default"`
	Extra            string         `db:"extra"`
}

func (r columnRow) info() ColumnInfo {
	return ColumnInfo{
		Name:             r.Name,
		Type:             r.Type,
		Nullable:         strings.EqualFold(r.IsNullable, "YES"),
		KeyRole:          r.KeyRole,
		Comment:          r.Comment,
		Position:         r.Position,
		MaxLength:        nullInt(r.MaxLength),
		NumericPrecision: nullInt(r.NumericPrecision),
		NumericScale:     nullInt(r.NumericScale),
		Default:          nullString(r.Default),
		AutoIncrement:    strings.Contains(strings.ToLower(r.Extra), "auto_increment"),
	}
}

// DiscoverTables lists tables and views in database, ordered by name.
func (a *SQLAdapter) DiscoverTables(ctx context.Context, conn Connection, database string) ([]TableInfo, error) {
	d, db, err := a.open(ctx, conn, database)
	if err != nil {
		return nil, err
	}
	var tables []TableInfo
	if err := db.SelectContext(ctx, &tables, d.tables, schemaName(conn.Driver, database)); err != nil {
		return nil, &Error{Op: "tables", Database: database, Err: err}
	}
	return tables, nil
}

// DiscoverColumns lists the columns of one table in ordinal order.
func (a *SQLAdapter) DiscoverColumns(ctx context.Context, conn Connection, database, table string) ([]ColumnInfo, error) {
	d, db, err := a.open(ctx, conn, database)
	if err != nil {
		return nil, err
	}
	var rows []columnRow
	if err := db.SelectContext(ctx, &rows, d.columns, schemaName(conn.Driver, database), table); err != nil {
		return nil, &Error{Op: "columns", Database: database, Table: table, Err: err}
	}
	cols := make([]ColumnInfo, 0, len(rows))
	for _, r := range rows {
		cols = append(cols, r.info())
	}
	return cols, nil
}

// SampleValues returns up to limit distinct non-null values of column,
// rendered as strings.
func (a *SQLAdapter) SampleValues(ctx context.Context, conn Connection, database, table, column string, limit int) ([]string, error) {
	if limit <= 0 {
		return nil, nil
	}
	d, db, err := a.open(ctx, conn, database)
	if err != nil {
		return nil, err
	}

	target := d.quote(table)
	if database != "" {
		target = d.quote(schemaName(conn.Driver, database)) + "." + target
	}
	col := d.quote(column)
	q := fmt.Sprintf("SELECT DISTINCT %s FROM %s WHERE %s IS NOT NULL %s", col, target, col, d.limit(limit))

	var raw []sql.NullString
	if err := db.SelectContext(ctx, &raw, q); err != nil {
		return nil, &Error{Op: "sample", Database: database, Table: table, Err: err}
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if v.Valid {
			out = append(out, v.String)
		}
	}
	return out, nil
}

func (a *SQLAdapter) open(ctx context.Context, conn Connection, database string) (dialect, *sqlx.DB, error) {
	d, err := dialectFor(conn.Driver)
	if err != nil {
		return dialect{}, nil, &Error{Op: "open", Database: database, Err: err}
	}
	db, err := a.src.DB(ctx, conn)
	if err != nil {
		return dialect{}, nil, &Error{Op: "open", Database: database, Err: err}
	}
	return d, db, nil
}

func nullInt(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	n := v.Int64
	return &n
}

func nullString(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}
