package fingerprint

import (
	"crypto/md5"
	"encoding/hex"
	"testing"

	"pgregory.net/rapid"

	"github.com/yanizio/catalog/internal/discovery"
)

func TestHash_KnownValue(t *testing.T) {
	cols := []discovery.ColumnInfo{
		{Name: "name", Type: "varchar(64)", Nullable: true},
		{Name: "id", Type: "bigint", Nullable: false},
	}
	sum := md5.Sum([]byte("id:bigint:false|name:varchar(64):true"))
	want := hex.EncodeToString(sum[:])[:16]

	if got := Hash(cols); got != want {
		t.Fatalf("Hash = %s, want %s", got, want)
	}
	if cols[0].Name != "name" {
		t.Fatalf("input slice was reordered")
	}
}

func TestHash_SortsByNameNotSegment(t *testing.T) {
	// "a0:" sorts before "a:" bytewise, but names order "a" first.
	cols := []discovery.ColumnInfo{{Name: "a0", Type: "int"}, {Name: "a", Type: "int"}}
	sum := md5.Sum([]byte("a:int:false|a0:int:false"))
	if got := Hash(cols); got != hex.EncodeToString(sum[:])[:16] {
		t.Fatalf("Hash = %s", got)
	}
}

func TestHash_IgnoresNonStructuralFields(t *testing.T) {
	def := "0"
	a := []discovery.ColumnInfo{{Name: "id", Type: "int", KeyRole: "PRI", Comment: "pk"}}
	b := []discovery.ColumnInfo{{Name: "id", Type: "int", Default: &def, Position: 9}}
	if Hash(a) != Hash(b) {
		t.Fatalf("comment/default/key role must not affect the hash")
	}
	c := []discovery.ColumnInfo{{Name: "id", Type: "int", Nullable: true}}
	if Hash(a) == Hash(c) {
		t.Fatalf("nullability must affect the hash")
	}
}

func TestCompute_CarriesRowStats(t *testing.T) {
	fp := Compute(discovery.TableInfo{Name: "orders", RowCount: 42}, nil)
	if fp.TableName != "orders" || fp.RowCount != 42 || len(fp.ColumnHash) != HashLen {
		t.Fatalf("fp = %+v", fp)
	}
}

func columnGen() *rapid.Generator[discovery.ColumnInfo] {
	return rapid.Custom(func(t *rapid.T) discovery.ColumnInfo {
		return discovery.ColumnInfo{
			Name:     rapid.StringMatching(`[a-z][a-z0-9_]{0,8}`).Draw(t, "name"),
			Type:     rapid.SampledFrom([]string{"int", "bigint", "varchar(32)", "text", "datetime"}).Draw(t, "type"),
			Nullable: rapid.Bool().Draw(t, "nullable"),
		}
	})
}

func TestHash_PermutationInvariant(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		cols := rapid.SliceOf(columnGen()).Draw(t, "cols")
		perm := rapid.Permutation(cols).Draw(t, "perm")
		if Hash(cols) != Hash(perm) {
			t.Fatalf("hash changed under permutation")
		}
	})
}

func TestHash_Deterministic(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		cols := rapid.SliceOf(columnGen()).Draw(t, "cols")
		h := Hash(cols)
		if len(h) != HashLen || h != Hash(cols) {
			t.Fatalf("hash %q not stable", h)
		}
	})
}

func TestHash_TypeChangeChangesHash(t *testing.T) {
	cases := []struct{ from, to string }{
		{"int", "bigint"},
		{"varchar(32)", "varchar(64)"},
		{"decimal(10,2)", "decimal(12,2)"},
	}
	for _, c := range cases {
		a := []discovery.ColumnInfo{{Name: "id", Type: c.from}}
		b := []discovery.ColumnInfo{{Name: "id", Type: c.to}}
		if Hash(a) == Hash(b) {
			t.Errorf("%s -> %s kept the hash", c.from, c.to)
		}
	}
}

func TestHash_StructuralMutationChangesHash(t *testing.T) {
	types := []string{"int", "bigint", "varchar(32)", "text", "datetime"}
	rapid.Check(t, func(t *rapid.T) {
		cols := rapid.SliceOfNDistinct(columnGen(), 1, 6, func(c discovery.ColumnInfo) string { return c.Name }).Draw(t, "cols")
		i := rapid.IntRange(0, len(cols)-1).Draw(t, "i")

		mutated := append([]discovery.ColumnInfo(nil), cols...)
		if rapid.Bool().Draw(t, "flipNullable") {
			mutated[i].Nullable = !mutated[i].Nullable
		} else {
			others := make([]string, 0, len(types)-1)
			for _, ty := range types {
				if ty != cols[i].Type {
					others = append(others, ty)
				}
			}
			mutated[i].Type = rapid.SampledFrom(others).Draw(t, "type")
		}

		if Hash(cols) == Hash(mutated) {
			t.Fatalf("mutating %q did not change the hash", cols[i].Name)
		}
	})
}
