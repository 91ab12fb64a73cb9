package detect

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/yanizio/catalog/internal/discovery"
	"github.com/yanizio/catalog/internal/discovery/discoverytest"
	"github.com/yanizio/catalog/internal/exclude"
)

var conn = discovery.Connection{Name: "shop", Driver: "mysql"}

func shop() *discoverytest.Source {
	src := discoverytest.New()
	src.SetTable("users", discoverytest.PK("id", "bigint"), discoverytest.Col("name", "varchar(64)", true))
	src.SetTable("orders", discoverytest.PK("id", "bigint"), discoverytest.Col("user_id", "bigint", false),
		discoverytest.Col("total", "decimal(10,2)", false))
	src.SetTable("tmp_import", discoverytest.Col("x", "int", true))
	return src
}

func TestDetectChanges_FirstRunReportsEverythingAdded(t *testing.T) {
	d := New(shop(), nil)
	rep, err := d.DetectChanges(context.Background(), conn, "shop", exclude.New(nil))
	if err != nil {
		t.Fatalf("DetectChanges: %v", err)
	}
	if !reflect.DeepEqual(rep.TablesAdded, []string{"orders", "users"}) {
		t.Fatalf("added = %v", rep.TablesAdded)
	}
	if len(rep.TablesDeleted) != 0 || len(rep.TablesModified) != 0 {
		t.Fatalf("unexpected deleted/modified: %+v", rep)
	}
	if rep.TotalTables != 2 || !rep.HasChanges() {
		t.Fatalf("total = %d", rep.TotalTables)
	}
	if _, ok := rep.Table("orders"); !ok {
		t.Fatalf("tables not carried on report")
	}
}

func TestDetectChanges_SecondRunIsQuiet(t *testing.T) {
	d := New(shop(), nil)
	ctx := context.Background()
	if _, err := d.DetectChanges(ctx, conn, "shop", exclude.New(nil)); err != nil {
		t.Fatal(err)
	}
	rep, err := d.DetectChanges(ctx, conn, "shop", exclude.New(nil))
	if err != nil {
		t.Fatal(err)
	}
	if rep.HasChanges() {
		t.Fatalf("second pass reported changes: %+v", rep)
	}
}

func TestDetectChanges_ModifiedAndDeleted(t *testing.T) {
	src := shop()
	d := New(src, nil)
	ctx := context.Background()
	if _, err := d.DetectChanges(ctx, conn, "shop", exclude.New(nil)); err != nil {
		t.Fatal(err)
	}

	src.SetTable("orders", discoverytest.PK("id", "bigint"), discoverytest.Col("user_id", "bigint", false),
		discoverytest.Col("total", "decimal(10,2)", false), discoverytest.Col("discount", "decimal(10,2)", true))
	src.SetRows("users", 500) // row growth alone is not drift
	src.DropTable("users")
	src.SetTable("invoices", discoverytest.PK("id", "bigint"))

	rep, err := d.DetectChanges(ctx, conn, "shop", exclude.New(nil))
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(rep.ModifiedNames(), []string{"orders"}) {
		t.Fatalf("modified = %v", rep.ModifiedNames())
	}
	if rep.TablesModified[0].ChangeType != Modified || rep.TablesModified[0].OldHash == rep.TablesModified[0].NewHash {
		t.Fatalf("change = %+v", rep.TablesModified[0])
	}
	if !reflect.DeepEqual(rep.TablesDeleted, []string{"users"}) {
		t.Fatalf("deleted = %v", rep.TablesDeleted)
	}
	if !reflect.DeepEqual(rep.Affected(), []string{"invoices", "orders"}) {
		t.Fatalf("affected = %v", rep.Affected())
	}

	// The deleted table's fingerprint is gone from the baseline.
	src.SetTable("users", discoverytest.PK("id", "bigint"), discoverytest.Col("name", "varchar(64)", true))
	rep, _ = d.DetectChanges(ctx, conn, "shop", exclude.New(nil))
	if !reflect.DeepEqual(rep.TablesAdded, []string{"users"}) {
		t.Fatalf("re-created table should be added, got %v", rep.TablesAdded)
	}
}

func TestDetectChanges_RowCountOnlyIsNotDrift(t *testing.T) {
	src := shop()
	d := New(src, nil)
	ctx := context.Background()
	_, _ = d.DetectChanges(ctx, conn, "shop", exclude.New(nil))
	src.SetRows("orders", 9999)
	rep, _ := d.DetectChanges(ctx, conn, "shop", exclude.New(nil))
	if rep.HasChanges() {
		t.Fatalf("row count change reported as drift")
	}
}

func TestDetectChanges_ExclusionSkipsColumnDiscovery(t *testing.T) {
	src := shop()
	d := New(src, nil)
	rep, err := d.DetectChanges(context.Background(), conn, "shop", exclude.New([]string{"users"}))
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(rep.TablesAdded, []string{"orders"}) {
		t.Fatalf("added = %v", rep.TablesAdded)
	}
	if src.ColumnCalls != 1 {
		t.Fatalf("column discovery ran %d times, want 1", src.ColumnCalls)
	}
}

func TestDetectChanges_TableListingErrorIsFatal(t *testing.T) {
	src := shop()
	src.FailTables(errors.New("timeout"))
	d := New(src, nil)
	_, err := d.DetectChanges(context.Background(), conn, "shop", exclude.New(nil))
	var de *discovery.Error
	if !errors.As(err, &de) || de.Op != "tables" {
		t.Fatalf("err = %v", err)
	}
	if len(d.History(0)) != 0 {
		t.Fatalf("failed pass must not be recorded")
	}
}

func TestDetectChanges_ColumnErrorKeepsPreviousFingerprint(t *testing.T) {
	src := shop()
	d := New(src, nil)
	ctx := context.Background()
	if _, err := d.DetectChanges(ctx, conn, "shop", exclude.New(nil)); err != nil {
		t.Fatal(err)
	}

	src.SetTable("orders", discoverytest.PK("id", "bigint"), discoverytest.Col("user_id", "int", false),
		discoverytest.Col("total", "decimal(10,2)", false))
	src.FailColumns("orders", errors.New("lock wait timeout"))

	rep, err := d.DetectChanges(ctx, conn, "shop", exclude.New(nil))
	if err != nil {
		t.Fatalf("DetectChanges: %v", err)
	}
	if len(rep.TablesFailed) != 1 || rep.TablesFailed[0].TableName != "orders" {
		t.Fatalf("failed = %+v", rep.TablesFailed)
	}
	if rep.HasChanges() {
		t.Fatalf("unreadable table reported as a change: %+v", rep)
	}

	// Once readable again, the table is compared against the old baseline.
	src.FailColumns("orders", nil)
	rep, err = d.DetectChanges(ctx, conn, "shop", exclude.New(nil))
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(rep.ModifiedNames(), []string{"orders"}) || len(rep.TablesFailed) != 0 {
		t.Fatalf("modified = %v failed = %v", rep.ModifiedNames(), rep.TablesFailed)
	}
}

func TestDetectChanges_UnreadableNewTableIsAddedLater(t *testing.T) {
	src := shop()
	src.FailColumns("users", errors.New("permission denied"))
	d := New(src, nil)
	ctx := context.Background()

	rep, err := d.DetectChanges(ctx, conn, "shop", exclude.New(nil))
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(rep.TablesAdded, []string{"orders"}) || len(rep.TablesFailed) != 1 {
		t.Fatalf("added = %v failed = %v", rep.TablesAdded, rep.TablesFailed)
	}

	src.FailColumns("users", nil)
	rep, _ = d.DetectChanges(ctx, conn, "shop", exclude.New(nil))
	if !reflect.DeepEqual(rep.TablesAdded, []string{"users"}) {
		t.Fatalf("added = %v", rep.TablesAdded)
	}
}

func TestHistory_BoundedNewestFirst(t *testing.T) {
	d := New(shop(), nil, WithHistoryLimit(3))
	ctx := context.Background()
	var ids []string
	for i := 0; i < 5; i++ {
		rep, err := d.DetectChanges(ctx, conn, "shop", exclude.New(nil))
		if err != nil {
			t.Fatal(err)
		}
		ids = append(ids, rep.ID)
	}
	h := d.History(0)
	if len(h) != 3 || h[0].ID != ids[4] || h[2].ID != ids[2] {
		t.Fatalf("history order wrong")
	}
	if len(d.History(1)) != 1 {
		t.Fatalf("limit ignored")
	}
}
