package exclude

import (
	"testing"

	"github.com/yanizio/catalog/internal/discovery"
)

func TestExcluded(t *testing.T) {
	p := New([]string{"audit_log"})

	cases := []struct {
		name string
		want bool
	}{
		{"audit_log", true},
		{"AUDIT_LOG", false}, // deny-list is exact
		{"tmp_orders", true},
		{"TMP_Orders", true},
		{"temp_x", true},
		{"backup_2024", true},
		{"orders_tmp", false},
		{"orders", false},
	}
	for _, c := range cases {
		if got := p.Excluded(c.name); got != c.want {
			t.Errorf("Excluded(%q) = %v, want %v", c.name, got, c.want)
		}
	}
}

func TestWithDoesNotMutate(t *testing.T) {
	base := New(nil)
	ext := base.With([]string{"sessions"})
	if base.Excluded("sessions") {
		t.Fatalf("With mutated the base policy")
	}
	if !ext.Excluded("sessions") {
		t.Fatalf("With did not add the extra name")
	}
}

func TestFilter(t *testing.T) {
	in := []discovery.TableInfo{{Name: "users"}, {Name: "tmp_users"}, {Name: "orders"}}
	out := New(nil).Filter(in)
	if len(out) != 2 || out[0].Name != "users" || out[1].Name != "orders" {
		t.Fatalf("Filter = %+v", out)
	}
}
