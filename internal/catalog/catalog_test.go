package catalog

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"

	"github.com/yanizio/catalog/internal/annotate"
	"github.com/yanizio/catalog/internal/discovery"
)

func newSyncer(t *testing.T) (*Syncer, *sqlx.DB, sqlmock.Sqlmock) {
	t.Helper()
	raw, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { raw.Close() })
	s := NewSyncer()
	s.now = func() time.Time { return time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC) }
	return s, sqlx.NewDb(raw, "mysql"), mock
}

var (
	orders = discovery.TableInfo{Name: "orders", Type: "BASE TABLE", RowCount: 10}
	cols   = []discovery.ColumnInfo{
		{Name: "id", Type: "bigint", KeyRole: "PRI", Position: 1},
		{Name: "total", Type: "decimal(10,2)", Position: 2},
	}
)

func TestSync_CreatesNewTable(t *testing.T) {
	s, db, mock := newSyncer(t)

	mock.ExpectQuery(regexp.QuoteMeta("FROM catalog_table")).WithArgs("shop", "orders").
		WillReturnRows(sqlmock.NewRows([]string{"id", "comment", "description"}))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO catalog_table")).
		WillReturnResult(sqlmock.NewResult(9, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO catalog_column")).
		WithArgs(int64(9), "id", "bigint", false, "PRI", true, "", nil, 1, nil, nil, nil, false).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO catalog_column")).
		WillReturnResult(sqlmock.NewResult(2, 1))

	out, err := s.Sync(context.Background(), db, "shop", orders, cols)
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if out.Result != Created || out.TableID != 9 || out.Before != nil || len(out.After.Columns) != 2 {
		t.Fatalf("out = %+v", out)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestSync_UpdatesAndDropsRemovedColumns(t *testing.T) {
	s, db, mock := newSyncer(t)

	mock.ExpectQuery(regexp.QuoteMeta("FROM catalog_table")).WithArgs("shop", "orders").
		WillReturnRows(sqlmock.NewRows([]string{"id", "comment", "description"}).AddRow(int64(9), nil, "Customer orders"))
	mock.ExpectQuery(regexp.QuoteMeta("FROM catalog_column")).WithArgs(int64(9)).
		WillReturnRows(sqlmock.NewRows([]string{"column_name", "data_type", "nullable", "primary_key", "comment", "default_value"}).
			AddRow("id", "bigint", false, true, nil, nil).
			AddRow("legacy_code", "varchar(8)", true, false, nil, nil))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE catalog_table")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO catalog_column")).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO catalog_column")).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM catalog_column WHERE table_id = ? AND column_name IN (?)")).
		WithArgs(int64(9), "legacy_code").
		WillReturnResult(sqlmock.NewResult(0, 1))

	out, err := s.Sync(context.Background(), db, "shop", orders, cols)
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if out.Result != Updated || out.Before == nil || len(out.Before.Columns) != 2 {
		t.Fatalf("out = %+v", out)
	}
	if out.After.Description != "Customer orders" {
		t.Fatalf("description not carried: %+v", out.After)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestSync_WrapsFailures(t *testing.T) {
	s, db, mock := newSyncer(t)
	mock.ExpectQuery("FROM catalog_table").WillReturnError(errors.New("deadlock"))

	_, err := s.Sync(context.Background(), db, "shop", orders, cols)
	var se *SyncError
	if !errors.As(err, &se) || se.Table != "orders" {
		t.Fatalf("err = %v", err)
	}
}

func TestSaveAnnotation(t *testing.T) {
	s, db, mock := newSyncer(t)
	mock.ExpectExec(regexp.QuoteMeta("UPDATE catalog_column")).
		WithArgs("Primary key", "Identifier", `["identifier"]`, "", annotate.SourceRule, int64(9), "id").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := s.SaveAnnotation(context.Background(), db, 9, "id", annotate.Description{
		Description: "Primary key", BusinessTerm: "Identifier", Tags: []string{"identifier"}, Source: annotate.SourceRule,
	})
	if err != nil {
		t.Fatalf("SaveAnnotation: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestStateOf(t *testing.T) {
	st := StateOf(orders, cols)
	if st.TableName != "orders" || !st.Columns[0].PrimaryKey || st.Columns[1].PrimaryKey {
		t.Fatalf("st = %+v", st)
	}
}
