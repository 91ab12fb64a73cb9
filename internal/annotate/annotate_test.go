package annotate

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"unicode/utf8"

	"pgregory.net/rapid"

	"github.com/yanizio/catalog/internal/llm"
)

// scriptedChat replays canned replies in order.
type scriptedChat struct {
	mu      sync.Mutex
	replies []string
	errs    []error
	prompts []string
}

func (s *scriptedChat) Chat(_ context.Context, msgs []llm.Message, _ int, _ float64) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prompts = append(s.prompts, msgs[len(msgs)-1].Content)
	i := len(s.prompts) - 1
	var err error
	if i < len(s.errs) {
		err = s.errs[i]
	}
	if err != nil {
		return "", err
	}
	if i < len(s.replies) {
		return s.replies[i], nil
	}
	return "", errors.New("no reply scripted")
}

func TestRuleAnnotator_Passes(t *testing.T) {
	r := NewRuleAnnotator()
	cases := []struct {
		name, want string
	}{
		{"id", "Primary key"},
		{"ID", "Primary key"},
		{"created_at", "Creation time"},
		{"email", "Email address"},
		{"user_name", "User name"},
		{"order_status", "Order status"},
		{"user_id", "User identifier"},
		{"shipping_address", "Shipping address"},
		{"warehouse_id", "Related identifier"},
		{"paid_time", "Timestamp field"},
		{"ship_date", "Timestamp field"},
		{"is_active", "Boolean flag"},
		{"vip_flag", "Boolean flag"},
		{"avatar_url", "Path or link"},
		{"zzqx", ""},
	}
	for _, c := range cases {
		d, err := r.Annotate(context.Background(), Column{Name: c.name})
		if err != nil {
			t.Fatalf("%s: unexpected error %v", c.name, err)
		}
		if d.Description != c.want {
			t.Errorf("%s: got %q, want %q", c.name, d.Description, c.want)
		}
		if c.want != "" && d.Source != SourceRule {
			t.Errorf("%s: source = %q", c.name, d.Source)
		}
	}
}

func TestRuleAnnotator_NeverFails(t *testing.T) {
	r := NewRuleAnnotator()
	rapid.Check(t, func(t *rapid.T) {
		name := rapid.String().Draw(t, "name")
		if _, err := r.Annotate(context.Background(), Column{Name: name}); err != nil {
			t.Fatalf("rule stage returned error for %q", name)
		}
	})
}

func TestLoadDictionary_Overrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dict.yaml")
	body := `
terms:
  sku: {description: Stock keeping unit, business_term: SKU, tags: [product]}
prefixes:
  wh: Warehouse
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	d, err := LoadDictionary(path)
	if err != nil {
		t.Fatalf("LoadDictionary: %v", err)
	}
	r := NewRuleAnnotator(d)
	if got := r.Describe("SKU").Description; got != "Stock keeping unit" {
		t.Fatalf("sku = %q", got)
	}
	if got := r.Describe("wh_code").Description; got != "Warehouse code" {
		t.Fatalf("wh_code = %q", got)
	}
	if got := r.Describe("id").Description; got != "Primary key" {
		t.Fatalf("defaults lost: %q", got)
	}
}

func TestRuleAnnotator_NonASCIINames(t *testing.T) {
	r := NewRuleAnnotator(Dictionary{
		Suffixes: map[string]Term{"jine": {Description: "金额", BusinessTerm: "金额"}},
		Prefixes: map[string]string{"dd": "订单"},
	})
	cases := []struct {
		name, want string
	}{
		{"名称_amount", "名称 monetary amount"},
		{"order_jine", "Order 金额"},
		{"dd_status", "订单 status"},
		{"élan_code", "Élan code"},
	}
	for _, c := range cases {
		got := r.Describe(c.name).Description
		if got != c.want {
			t.Errorf("%s: got %q, want %q", c.name, got, c.want)
		}
		if !utf8.ValidString(got) {
			t.Errorf("%s: invalid UTF-8 %q", c.name, got)
		}
	}
}

func TestRuleAnnotator_OutputIsValidUTF8(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		desc := rapid.StringMatching(`[\p{Han}\p{Greek}a-zA-Z ]{1,6}`).Draw(t, "desc")
		stem := rapid.StringMatching(`[\p{Han}\p{Cyrillic}a-z]{1,4}`).Draw(t, "stem")
		r := NewRuleAnnotator(Dictionary{Suffixes: map[string]Term{"xq": {Description: desc}}})

		for _, name := range []string{stem + "_xq", stem + "_amount", "order_xq"} {
			d := r.Describe(name)
			if !utf8.ValidString(d.Description) || !utf8.ValidString(d.BusinessTerm) {
				t.Fatalf("%q produced invalid UTF-8 %q", name, d.Description)
			}
		}
	})
}

func TestModelAnnotator_ParsesFencedJSON(t *testing.T) {
	chat := &scriptedChat{replies: []string{"```json\n{\"description\":\"Customer e-mail\",\"business_term\":\"Email\",\"tags\":[\"pii\"]}\n```"}}
	m := NewModelAnnotator(chat, ModelOptions{})

	col := Column{Name: "email", Type: "varchar(255)", Table: "users", Samples: []string{"a@b.c"}}
	d, err := m.Annotate(context.Background(), col)
	if err != nil {
		t.Fatalf("Annotate: %v", err)
	}
	if d.Description != "Customer e-mail" || d.Source != SourceAI || len(d.Tags) != 1 {
		t.Fatalf("d = %+v", d)
	}
	if !strings.Contains(chat.prompts[0], "Sample values: a@b.c") {
		t.Fatalf("prompt missing samples: %s", chat.prompts[0])
	}

	// Cached: no second call.
	if _, err := m.Annotate(context.Background(), col); err != nil || len(chat.prompts) != 1 {
		t.Fatalf("cache miss, prompts = %d", len(chat.prompts))
	}
}

func TestModelAnnotator_MalformedReply(t *testing.T) {
	m := NewModelAnnotator(&scriptedChat{replies: []string{"I think it is an email"}}, ModelOptions{})
	_, err := m.Annotate(context.Background(), Column{Name: "email"})
	var ae *Error
	if !errors.As(err, &ae) || ae.Stage != SourceAI {
		t.Fatalf("err = %v", err)
	}
}

func TestModelAnnotator_BatchChunksAndMapsByName(t *testing.T) {
	chat := &scriptedChat{replies: []string{
		`[{"column_name":"A","description":"first"},{"column_name":"b","description":"second"}]`,
		`[{"column_name":"zzz","description":"stray"}]`,
	}}
	m := NewModelAnnotator(chat, ModelOptions{BatchSize: 2})

	got, err := m.AnnotateBatch(context.Background(), []Column{{Name: "a"}, {Name: "b"}, {Name: "c"}})
	if err != nil {
		t.Fatalf("AnnotateBatch: %v", err)
	}
	if len(chat.prompts) != 2 {
		t.Fatalf("chunks = %d, want 2", len(chat.prompts))
	}
	if got["a"].Description != "first" || got["b"].Description != "second" {
		t.Fatalf("got = %+v", got)
	}
	if _, ok := got["c"]; ok {
		t.Fatalf("c should be absent")
	}
}

func TestChain_FallsBackToRules(t *testing.T) {
	chat := &scriptedChat{errs: []error{errors.New("503")}}
	c := NewChain(nil, NewModelAnnotator(chat, ModelOptions{}), NewRuleAnnotator())

	d, err := c.Annotate(context.Background(), Column{Name: "created_at"})
	if err != nil {
		t.Fatalf("chain returned error: %v", err)
	}
	if d.Source != SourceRule || d.Description != "Creation time" {
		t.Fatalf("d = %+v", d)
	}

	d, err = c.Annotate(context.Background(), Column{Name: "qwzx"})
	if err != nil || d.Source != SourceNone || !d.Empty() {
		t.Fatalf("unknown column: %+v, %v", d, err)
	}
}

func TestChain_BatchFallsThroughPerColumn(t *testing.T) {
	chat := &scriptedChat{replies: []string{`[{"column_name":"total","description":"Order total incl. tax"}]`}}
	c := NewChain(nil, NewModelAnnotator(chat, ModelOptions{}), NewRuleAnnotator())

	got, err := c.AnnotateBatch(context.Background(), []Column{{Name: "total"}, {Name: "id"}, {Name: "qwzx"}})
	if err != nil {
		t.Fatalf("AnnotateBatch: %v", err)
	}
	if got["total"].Source != SourceAI {
		t.Fatalf("total = %+v", got["total"])
	}
	if got["id"].Source != SourceRule || got["id"].Description != "Primary key" {
		t.Fatalf("id = %+v", got["id"])
	}
	if got["qwzx"].Source != SourceNone {
		t.Fatalf("qwzx = %+v", got["qwzx"])
	}
}

func TestChain_RulesOnly(t *testing.T) {
	c := NewChain(nil, nil, NewRuleAnnotator())
	d, _ := c.Annotate(context.Background(), Column{Name: "id"})
	if d.Description != "Primary key" {
		t.Fatalf("d = %+v", d)
	}
	if c.UsesSamples() {
		t.Fatalf("rule-only chain must not ask for samples")
	}
	if !NewChain(nil, NewModelAnnotator(&scriptedChat{}, ModelOptions{}), NewRuleAnnotator()).UsesSamples() {
		t.Fatalf("model chain must ask for samples")
	}
}
