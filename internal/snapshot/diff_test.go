package snapshot

import (
	"reflect"
	"testing"

	"pgregory.net/rapid"
)

func strp(s string) *string { return &s }
func intp(n int64) *int64   { return &n }

func snap(id string, tables ...TableVersion) *Snapshot {
	s := &Snapshot{ID: id, Version: id, Database: "shop", Tables: Tables{}}
	for _, t := range tables {
		s.Tables[t.Name] = t
	}
	return s
}

func table(name string, cols ...ColumnVersion) TableVersion {
	t := TableVersion{Name: name, Columns: map[string]ColumnVersion{}}
	for i, c := range cols {
		c.Position = i + 1
		t.Columns[c.Name] = c
	}
	return t
}

func TestColumnVersion_EqualIgnoresSizeAndAutoIncrement(t *testing.T) {
	a := ColumnVersion{Name: "id", Type: "int", PrimaryKey: true, MaxLength: intp(10)}
	b := ColumnVersion{Name: "id", Type: "int", PrimaryKey: true, AutoIncrement: true}
	if !a.Equal(b) {
		t.Fatalf("size and auto-increment must not affect Equal")
	}
	b.DefaultValue = strp("0")
	if a.Equal(b) {
		t.Fatalf("default value must affect Equal")
	}
}

func TestCompare_TablesAndColumns(t *testing.T) {
	from := snap("v1",
		table("users", ColumnVersion{Name: "id", Type: "int", PrimaryKey: true}, ColumnVersion{Name: "name", Type: "varchar(64)", Nullable: true}),
		table("orders", ColumnVersion{Name: "id", Type: "int"}, ColumnVersion{Name: "total", Type: "int", Comment: "gross"}),
		table("legacy", ColumnVersion{Name: "id", Type: "int"}),
	)
	to := snap("v2",
		table("users", ColumnVersion{Name: "id", Type: "int", PrimaryKey: true}, ColumnVersion{Name: "name", Type: "varchar(64)", Nullable: true}),
		table("orders", ColumnVersion{Name: "id", Type: "int"}, ColumnVersion{Name: "total", Type: "bigint"},
			ColumnVersion{Name: "discount", Type: "decimal(10,2)", Nullable: true}),
		table("payments", ColumnVersion{Name: "id", Type: "int"}),
	)

	d := Compare(from, to)

	if !reflect.DeepEqual(d.AddedNames(), []string{"payments"}) {
		t.Fatalf("added = %v", d.AddedNames())
	}
	if !reflect.DeepEqual(d.RemovedNames(), []string{"legacy"}) {
		t.Fatalf("removed = %v", d.RemovedNames())
	}
	if !reflect.DeepEqual(d.TablesUnchanged, []string{"users"}) {
		t.Fatalf("unchanged = %v", d.TablesUnchanged)
	}
	if len(d.TablesModified) != 1 || d.TablesModified[0].Name != "orders" {
		t.Fatalf("modified = %+v", d.TablesModified)
	}

	orders := d.TablesModified[0]
	if len(orders.ColumnsAdded) != 1 || orders.ColumnsAdded[0].Name != "discount" {
		t.Fatalf("columns added = %+v", orders.ColumnsAdded)
	}
	if len(orders.ColumnsModified) != 1 {
		t.Fatalf("columns modified = %+v", orders.ColumnsModified)
	}
	want := []FieldChange{
		{Field: FieldType, ChangeType: ChangeModified, OldValue: "int", NewValue: "bigint"},
		{Field: FieldComment, ChangeType: ChangeRemoved, OldValue: "gross", NewValue: nil},
	}
	if got := orders.ColumnsModified[0].Changes; !reflect.DeepEqual(got, want) {
		t.Fatalf("changes = %+v, want %+v", got, want)
	}

	wantSummary := "Tables: 1 added, 1 removed, 1 modified, 1 unchanged. Columns: 1 added, 0 removed, 1 modified."
	if d.Summary != wantSummary {
		t.Fatalf("summary = %q", d.Summary)
	}
}

func TestCompare_NullTransitions(t *testing.T) {
	from := snap("a", table("t", ColumnVersion{Name: "c", Type: "varchar", MaxLength: intp(10)}))
	to := snap("b", table("t", ColumnVersion{Name: "c", Type: "varchar", DefaultValue: strp("x")}))

	changes := Compare(from, to).TablesModified[0].ColumnsModified[0].Changes
	want := []FieldChange{
		{Field: FieldDefaultValue, ChangeType: ChangeAdded, OldValue: nil, NewValue: "x"},
		{Field: FieldMaxLength, ChangeType: ChangeRemoved, OldValue: int64(10), NewValue: nil},
	}
	if !reflect.DeepEqual(changes, want) {
		t.Fatalf("changes = %+v", changes)
	}
}

func TestCompare_SizeOnlyChangeIsModified(t *testing.T) {
	from := snap("a", table("t", ColumnVersion{Name: "c", Type: "varchar", MaxLength: intp(10)}))
	to := snap("b", table("t", ColumnVersion{Name: "c", Type: "varchar", MaxLength: intp(20)}))

	d := Compare(from, to)
	if len(d.TablesModified) != 1 || len(d.TablesUnchanged) != 0 {
		t.Fatalf("diff = %+v", d)
	}
	if len(MigrationSQL(d, DialectMySQL)) != 0 {
		t.Fatalf("size changes emit no DDL")
	}
}

func snapshotGen(id string) *rapid.Generator[*Snapshot] {
	names := []string{"users", "orders", "items", "payments", "audit"}
	types := []string{"int", "bigint", "text"}
	return rapid.Custom(func(t *rapid.T) *Snapshot {
		s := snap(id)
		picked := rapid.SliceOfDistinct(rapid.SampledFrom(names), func(s string) string { return s }).Draw(t, id+"-tables")
		for _, name := range picked {
			s.Tables[name] = table(name,
				ColumnVersion{Name: "id", Type: rapid.SampledFrom(types).Draw(t, name+"-type")},
				ColumnVersion{Name: "note", Type: "text", Nullable: rapid.Bool().Draw(t, name+"-null")},
			)
		}
		return s
	})
}

func TestCompare_AntiSymmetric(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		a := snapshotGen("a").Draw(t, "a")
		b := snapshotGen("b").Draw(t, "b")

		ab, ba := Compare(a, b), Compare(b, a)
		if !reflect.DeepEqual(ab.AddedNames(), ba.RemovedNames()) {
			t.Fatalf("added(a,b)=%v removed(b,a)=%v", ab.AddedNames(), ba.RemovedNames())
		}
		if !reflect.DeepEqual(ab.RemovedNames(), ba.AddedNames()) {
			t.Fatalf("removed(a,b)=%v added(b,a)=%v", ab.RemovedNames(), ba.AddedNames())
		}
		if len(ab.TablesModified) != len(ba.TablesModified) {
			t.Fatalf("modified counts differ")
		}
	})
}

func TestCompare_SelfHasNoChanges(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		a := snapshotGen("a").Draw(t, "a")
		d := Compare(a, a)
		if d.HasChanges() {
			t.Fatalf("self-compare reported changes: %+v", d)
		}
		if len(d.TablesUnchanged) != len(a.Tables) {
			t.Fatalf("unchanged = %v", d.TablesUnchanged)
		}
		if sql := MigrationSQL(d, DialectPostgres); len(sql) != 0 {
			t.Fatalf("migration for zero-change diff = %v", sql)
		}
	})
}
