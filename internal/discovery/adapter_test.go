package discovery

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
)

type staticSource struct{ db *sqlx.DB }

func (s staticSource) DB(context.Context, Connection) (*sqlx.DB, error) { return s.db, nil }

func newMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock) {
	t.Helper()
	raw, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { raw.Close() })
	return sqlx.NewDb(raw, "sqlmock"), mock
}

var mysqlConn = Connection{Name: "warehouse", Driver: "mysql"}

func TestDiscoverTables_MySQL(t *testing.T) {
	db, mock := newMock(t)
	mod := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta("FROM information_schema.TABLES")).
		WithArgs("shop").
		WillReturnRows(sqlmock.NewRows([]string{"name", "type", "comment", "row_count", "last_modified"}).
			AddRow("orders", "BASE TABLE", "customer orders", int64(120), mod).
			AddRow("users", "BASE TABLE", "", int64(8), nil))

	tables, err := NewSQLAdapter(staticSource{db}).DiscoverTables(context.Background(), mysqlConn, "shop")
	if err != nil {
		t.Fatalf("DiscoverTables: %v", err)
	}
	if len(tables) != 2 || tables[0].Name != "orders" || tables[0].RowCount != 120 {
		t.Fatalf("tables = %+v", tables)
	}
	if tables[0].LastModified == nil || !tables[0].LastModified.Equal(mod) {
		t.Fatalf("last_modified = %v", tables[0].LastModified)
	}
	if tables[1].LastModified != nil {
		t.Fatalf("expected nil last_modified for users")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestDiscoverColumns_MySQL(t *testing.T) {
	db, mock := newMock(t)
	cols := []string{"name", "type", "is_nullable", "key_role", "comment", "position",
		"max_length", "numeric_precision", "numeric_scale", "column_default", "extra"}

	mock.ExpectQuery(regexp.QuoteMeta("FROM information_schema.COLUMNS")).
		WithArgs("shop", "orders").
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow("id", "bigint", "NO", "PRI", "", 1, nil, int64(19), int64(0), nil, "auto_increment").
			AddRow("email", "varchar(255)", "YES", "UNI", "contact", 2, int64(255), nil, nil, "n/a", ""))

	got, err := NewSQLAdapter(staticSource{db}).DiscoverColumns(context.Background(), mysqlConn, "shop", "orders")
	if err != nil {
		t.Fatalf("DiscoverColumns: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d", len(got))
	}
	id, email := got[0], got[1]
	if !id.IsPrimaryKey() || !id.AutoIncrement || id.Nullable || id.Default != nil {
		t.Fatalf("id = %+v", id)
	}
	if !email.Nullable || email.MaxLength == nil || *email.MaxLength != 255 || email.Default == nil || *email.Default != "n/a" {
		t.Fatalf("email = %+v", email)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestDiscoverColumns_PostgresDefaultsSchema(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectQuery(regexp.QuoteMeta("FROM information_schema.columns c")).
		WithArgs("public", "events").
		WillReturnRows(sqlmock.NewRows([]string{"name", "type", "is_nullable", "key_role", "comment", "position",
			"max_length", "numeric_precision", "numeric_scale", "column_default", "extra"}).
			AddRow("id", "int8", "NO", "PRI", "", 1, nil, int64(64), int64(0), "nextval('events_id_seq')", "auto_increment"))

	pg := Connection{Name: "events", Driver: "postgres"}
	got, err := NewSQLAdapter(staticSource{db}).DiscoverColumns(context.Background(), pg, "", "events")
	if err != nil {
		t.Fatalf("DiscoverColumns: %v", err)
	}
	if len(got) != 1 || !got[0].AutoIncrement || !got[0].IsPrimaryKey() {
		t.Fatalf("got %+v", got)
	}
}

func TestDiscover_WrapsErrors(t *testing.T) {
	db, mock := newMock(t)
	boom := errors.New("connection reset")
	mock.ExpectQuery("information_schema").WillReturnError(boom)

	_, err := NewSQLAdapter(staticSource{db}).DiscoverColumns(context.Background(), mysqlConn, "shop", "orders")
	var de *Error
	if !errors.As(err, &de) || de.Op != "columns" || de.Table != "orders" || !errors.Is(err, boom) {
		t.Fatalf("err = %v", err)
	}

	_, err = NewSQLAdapter(staticSource{db}).DiscoverTables(context.Background(), Connection{Driver: "oracle"}, "x")
	if !errors.As(err, &de) || de.Op != "open" {
		t.Fatalf("unsupported driver err = %v", err)
	}
}

func TestSampleValues_QuotesIdentifiers(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT DISTINCT `status` FROM `shop`.`orders` WHERE `status` IS NOT NULL LIMIT 3")).
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("paid").AddRow("shipped"))

	got, err := NewSQLAdapter(staticSource{db}).SampleValues(context.Background(), mysqlConn, "shop", "orders", "status", 3)
	if err != nil {
		t.Fatalf("SampleValues: %v", err)
	}
	if len(got) != 2 || got[0] != "paid" {
		t.Fatalf("got %v", got)
	}
}
