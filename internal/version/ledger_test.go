package version

import (
	"context"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
)

func newLedger(t *testing.T) (*Ledger, *sqlx.DB, sqlmock.Sqlmock) {
	t.Helper()
	raw, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { raw.Close() })
	l := NewLedger(nil)
	l.now = func() time.Time { return time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC) }
	return l, sqlx.NewDb(raw, "mysql"), mock
}

func ordersState(cols ...ColumnState) State {
	return State{TableName: "orders", Columns: cols}
}

var (
	colID     = ColumnState{Name: "id", Type: "bigint", PrimaryKey: true}
	colTotal  = ColumnState{Name: "total", Type: "decimal(10,2)"}
	colUserID = ColumnState{Name: "user_id", Type: "bigint"}
)

func TestCompare(t *testing.T) {
	before := ordersState(colID, colTotal)
	if !Compare(before, ordersState(colTotal, colID)).Empty() {
		t.Fatalf("column order must not matter")
	}

	widened := colTotal
	widened.Type = "decimal(12,2)"
	d := Compare(before, ordersState(colID, widened, colUserID))
	if d.Structural() != true || d.Added[0] != "user_id" || d.Modified["total"]["type"].New != "decimal(12,2)" {
		t.Fatalf("delta = %+v", d)
	}
	if !strings.Contains(d.Summary(), "added columns: user_id") || !strings.Contains(d.Summary(), "modified columns: total") {
		t.Fatalf("summary = %q", d.Summary())
	}

	commented := ordersState(colID, colTotal)
	commented.Comment = "customer orders"
	d = Compare(before, commented)
	if d.Structural() || d.Fields["comment"].New != "customer orders" {
		t.Fatalf("delta = %+v", d)
	}
}

func TestCreateVersionFromDiff_NoChangeIsNoop(t *testing.T) {
	l, db, mock := newLedger(t)
	s := ordersState(colID, colTotal)
	v, err := l.CreateVersionFromDiff(context.Background(), db, 7, s, s, "system", "full_scan")
	if err != nil || v != nil {
		t.Fatalf("got %v, %v", v, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("no SQL expected: %v", err)
	}
}

func TestCreateVersionFromDiff_FirstVersion(t *testing.T) {
	l, db, mock := newLedger(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, version_number")).WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "version_number"}))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*)")).WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO metadata_version")).
		WithArgs(int64(7), SchemaChange, sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(),
			nil, "system", "incremental_scan", 1, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(41, 1))

	v, err := l.CreateVersionFromDiff(context.Background(), db, 7,
		ordersState(colID, colTotal), ordersState(colID, colTotal, colUserID), "system", "incremental_scan")
	if err != nil {
		t.Fatalf("CreateVersionFromDiff: %v", err)
	}
	if v.ID != 41 || v.VersionNumber != 1 || v.PreviousVersionID != nil || v.ChangeType != SchemaChange {
		t.Fatalf("v = %+v", v)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestCreateVersionFromDiff_ChainsToLatest(t *testing.T) {
	l, db, mock := newLedger(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, version_number")).WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "version_number"}).AddRow(int64(41), 3))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*)")).WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO metadata_version")).
		WithArgs(int64(7), Update, sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(),
			int64(41), "system", "full_scan", 4, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(42, 1))

	after := ordersState(colID, colTotal)
	after.Columns[1].Comment = "gross total"
	v, err := l.CreateVersionFromDiff(context.Background(), db, 7, ordersState(colID, colTotal), after, "system", "full_scan")
	if err != nil {
		t.Fatalf("CreateVersionFromDiff: %v", err)
	}
	if v.VersionNumber != 4 || v.PreviousVersionID == nil || *v.PreviousVersionID != 41 || v.ChangeType != Update {
		t.Fatalf("v = %+v", v)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestHistory_FiltersByTable(t *testing.T) {
	l, db, mock := newLedger(t)
	cols := []string{"id", "table_id", "change_type", "change_summary", "change_details",
		"schema_snapshot", "previous_version_id", "changed_by", "change_source", "version_number", "created_at"}

	mock.ExpectQuery(regexp.QuoteMeta("WHERE t.database_name = ? AND t.table_name = ? ORDER BY v.created_at DESC, v.id DESC LIMIT ?")).
		WithArgs("shop", "orders", 5).
		WillReturnRows(sqlmock.NewRows(cols).AddRow(int64(42), int64(7), Update, "updated fields: comment",
			[]byte(`{"field_changes":{}}`), []byte(`{"table_name":"orders","columns":[]}`), int64(41),
			"system", "full_scan", 2, time.Now()))

	got, err := l.History(context.Background(), db, "shop", "orders", 5)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(got) != 1 || got[0].SchemaSnapshot.TableName != "orders" || *got[0].PreviousVersionID != 41 {
		t.Fatalf("got %+v", got)
	}
}
