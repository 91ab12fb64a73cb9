// internal/annotate/rules.go
//
// Rule stage.
//
// Context
// -------
// RuleAnnotator matches a column name against a curated dictionary in four
// passes, stopping at the first hit:
//
//  1. exact term            (`email`, `created_at`)
//  2. domain prefix + term  (`user_name`, `order_status`)
//  3. trailing term         (`shipping_address`)
//  4. structural heuristics (`*_id`, `*_time`, `is_*`, `*_url`)
//
// Matching is case-insensitive.  A name that matches nothing yields an
// empty Description and a nil error.
package annotate

import (
	"context"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Term is one dictionary entry.
type Term struct {
	Description  string   `yaml:"description"`
	BusinessTerm string   `yaml:"business_term"`
	Tags         []string `yaml:"tags"`
}

// Dictionary is the rule stage's vocabulary.  Keys are lower case.
type Dictionary struct {
	Terms    map[string]Term   `yaml:"terms"`    // whole-name matches
	Suffixes map[string]Term   `yaml:"suffixes"` // terms valid after a prefix or stem
	Prefixes map[string]string `yaml:"prefixes"` // business domain → label
}

// DefaultDictionary returns the built-in vocabulary.  Callers may modify
// the returned value.
func DefaultDictionary() Dictionary {
	return Dictionary{
		Terms: map[string]Term{
			"id":          {"Primary key", "Identifier", []string{"identifier", "primary_key"}},
			"uuid":        {"Universally unique identifier", "UUID", []string{"identifier"}},
			"name":        {"Name", "Name", []string{"descriptive"}},
			"title":       {"Title", "Title", []string{"descriptive"}},
			"description": {"Free-text description", "Description", []string{"descriptive"}},
			"remark":      {"Remark", "Remark", []string{"descriptive"}},
			"note":        {"Note", "Note", []string{"descriptive"}},
			"status":      {"Status", "Status", []string{"state"}},
			"state":       {"State", "State", []string{"state"}},
			"type":        {"Type or category", "Type", []string{"category"}},
			"category":    {"Category", "Category", []string{"category"}},
			"code":        {"Code", "Code", []string{"identifier"}},
			"email":       {"Email address", "Email", []string{"contact", "pii"}},
			"phone":       {"Phone number", "Phone", []string{"contact", "pii"}},
			"mobile":      {"Mobile phone number", "Mobile", []string{"contact", "pii"}},
			"address":     {"Postal address", "Address", []string{"contact", "pii"}},
			"password":    {"Password hash", "Password", []string{"sensitive"}},
			"gender":      {"Gender", "Gender", []string{"demographic", "pii"}},
			"age":         {"Age in years", "Age", []string{"demographic"}},
			"birthday":    {"Date of birth", "Birthday", []string{"demographic", "pii"}},
			"amount":      {"Monetary amount", "Amount", []string{"financial"}},
			"price":       {"Unit price", "Price", []string{"financial"}},
			"total":       {"Total amount", "Total", []string{"financial"}},
			"currency":    {"Currency code", "Currency", []string{"financial"}},
			"quantity":    {"Quantity", "Quantity", []string{"measure"}},
			"qty":         {"Quantity", "Quantity", []string{"measure"}},
			"count":       {"Count", "Count", []string{"measure"}},
			"version":     {"Row version", "Version", []string{"audit"}},
			"sort_order":  {"Display sort order", "Sort order", []string{"presentation"}},
			"created_at":  {"Creation time", "Created at", []string{"audit", "timestamp"}},
			"updated_at":  {"Last update time", "Updated at", []string{"audit", "timestamp"}},
			"deleted_at":  {"Deletion time", "Deleted at", []string{"audit", "timestamp"}},
			"created_by":  {"Creator", "Created by", []string{"audit"}},
			"updated_by":  {"Last modifier", "Updated by", []string{"audit"}},
			"is_deleted":  {"Soft-delete flag", "Deleted", []string{"audit", "flag"}},
			"enabled":     {"Enabled flag", "Enabled", []string{"flag"}},
		},
		Suffixes: map[string]Term{
			"id":       {"Identifier", "ID", []string{"identifier"}},
			"no":       {"Number", "Number", []string{"identifier"}},
			"number":   {"Number", "Number", []string{"identifier"}},
			"code":     {"Code", "Code", []string{"identifier"}},
			"name":     {"Name", "Name", []string{"descriptive"}},
			"status":   {"Status", "Status", []string{"state"}},
			"type":     {"Type", "Type", []string{"category"}},
			"amount":   {"Monetary amount", "Amount", []string{"financial"}},
			"price":    {"Price", "Price", []string{"financial"}},
			"total":    {"Total", "Total", []string{"financial"}},
			"count":    {"Count", "Count", []string{"measure"}},
			"email":    {"Email address", "Email", []string{"contact", "pii"}},
			"phone":    {"Phone number", "Phone", []string{"contact", "pii"}},
			"address":  {"Address", "Address", []string{"contact", "pii"}},
			"level":    {"Level", "Level", []string{"category"}},
			"score":    {"Score", "Score", []string{"measure"}},
			"rate":     {"Rate", "Rate", []string{"measure"}},
			"quantity": {"Quantity", "Quantity", []string{"measure"}},
		},
		Prefixes: map[string]string{
			"user":     "User",
			"customer": "Customer",
			"member":   "Member",
			"order":    "Order",
			"product":  "Product",
			"item":     "Item",
			"account":  "Account",
			"payment":  "Payment",
			"invoice":  "Invoice",
			"employee": "Employee",
			"dept":     "Department",
			"shop":     "Shop",
			"supplier": "Supplier",
		},
	}
}

// merge overlays o onto d.
func (d *Dictionary) merge(o Dictionary) {
	for k, v := range o.Terms {
		d.Terms[strings.ToLower(k)] = v
	}
	for k, v := range o.Suffixes {
		d.Suffixes[strings.ToLower(k)] = v
	}
	for k, v := range o.Prefixes {
		d.Prefixes[strings.ToLower(k)] = v
	}
}

// RuleAnnotator is the rule stage.  Immutable after construction.
type RuleAnnotator struct {
	dict     Dictionary
	prefixes []string // longest first
	suffixes []string // longest first, excludes "id"
}

// NewRuleAnnotator builds a rule stage from the default dictionary plus
// any overrides, applied in order.
func NewRuleAnnotator(overrides ...Dictionary) *RuleAnnotator {
	d := DefaultDictionary()
	for _, o := range overrides {
		d.merge(o)
	}
	r := &RuleAnnotator{dict: d}
	for p := range d.Prefixes {
		r.prefixes = append(r.prefixes, p)
	}
	for s := range d.Suffixes {
		if s != "id" { // *_id is a related identifier, handled by heuristics
			r.suffixes = append(r.suffixes, s)
		}
	}
	byLength(r.prefixes)
	byLength(r.suffixes)
	return r
}

func byLength(s []string) {
	sort.Slice(s, func(i, j int) bool {
		if len(s[i]) != len(s[j]) {
			return len(s[i]) > len(s[j])
		}
		return s[i] < s[j]
	})
}

// Annotate never returns an error.
func (r *RuleAnnotator) Annotate(_ context.Context, col Column) (Description, error) {
	return r.Describe(col.Name), nil
}

// Describe runs the four passes against name.
func (r *RuleAnnotator) Describe(name string) Description {
	n := strings.ToLower(strings.TrimSpace(name))
	if n == "" {
		return Description{}
	}

	if t, ok := r.dict.Terms[n]; ok {
		return fromTerm(t, t.Description, t.BusinessTerm)
	}

	for _, p := range r.prefixes {
		rest, ok := strings.CutPrefix(n, p+"_")
		if !ok || rest == "" {
			continue
		}
		label := r.dict.Prefixes[p]
		if t, ok := r.dict.Suffixes[rest]; ok {
			return fromTerm(t, label+" "+lowerFirst(t.Description), label+" "+t.BusinessTerm)
		}
		if t, ok := r.dict.Terms[rest]; ok && rest != "id" {
			return fromTerm(t, label+" "+lowerFirst(t.Description), label+" "+t.BusinessTerm)
		}
	}

	for _, s := range r.suffixes {
		stem, ok := strings.CutSuffix(n, "_"+s)
		if !ok || stem == "" {
			continue
		}
		t := r.dict.Suffixes[s]
		return fromTerm(t, humanize(stem)+" "+lowerFirst(t.Description), t.BusinessTerm)
	}

	return heuristic(n)
}

func heuristic(n string) Description {
	switch {
	case strings.HasSuffix(n, "_id"):
		return Description{Description: "Related identifier", BusinessTerm: "Reference", Tags: []string{"identifier", "reference"}, Source: SourceRule}
	case strings.HasSuffix(n, "_time"), strings.HasSuffix(n, "_date"), strings.HasSuffix(n, "_at"):
		return Description{Description: "Timestamp field", BusinessTerm: "Timestamp", Tags: []string{"timestamp"}, Source: SourceRule}
	case strings.HasPrefix(n, "is_"), strings.HasPrefix(n, "has_"), strings.HasSuffix(n, "_flag"):
		return Description{Description: "Boolean flag", BusinessTerm: "Flag", Tags: []string{"flag"}, Source: SourceRule}
	case strings.HasSuffix(n, "_url"), strings.HasSuffix(n, "_path"):
		return Description{Description: "Path or link", BusinessTerm: "Link", Tags: []string{"link"}, Source: SourceRule}
	}
	return Description{}
}

func fromTerm(t Term, desc, business string) Description {
	return Description{
		Description:  desc,
		BusinessTerm: business,
		Tags:         append([]string(nil), t.Tags...),
		Source:       SourceRule,
	}
}

func lowerFirst(s string) string {
	return mapFirst(s, unicode.ToLower)
}

func humanize(stem string) string {
	return mapFirst(strings.ReplaceAll(stem, "_", " "), unicode.ToUpper)
}

// mapFirst applies f to the first rune of s.  Invalid leading bytes are
// left as they are.
func mapFirst(s string, f func(rune) rune) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(f(r)) + s[size:]
}
