// Package partition splits the merged export table by provider and writes
// one CSV per provider into its destination folder.
package partition

import (
	"path/filepath"
	"sort"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/sells-group/o2c-export/internal/frame"
)

// Columns the filter rules read.
const (
	ColVendorGroup   = "vendor_group"
	ColPaymentSystem = "payment_system"
	ColOrderVendor   = "order_vendor"
)

// RuleColumns must be present on the table being partitioned.
var RuleColumns = []string{ColVendorGroup, ColPaymentSystem, ColOrderVendor}

// Rule decides whether a merged row belongs to a provider.
type Rule func(frame.Row) bool

// Provider is one export destination.
type Provider struct {
	Key     string
	Display string
	Folder  string
	Rule    Rule
}

// DisplayName is the provider key with its first letter capitalised.
func DisplayName(key string) string {
	return cases.Title(language.English).String(key)
}

// equalFold compares exactly, up to case. A Caser holds state, so each call
// builds its own.
func equalFold(a, b string) bool {
	fold := cases.Fold()
	return fold.String(a) == fold.String(b)
}

// ColumnIs matches rows whose col equals any of values, case-insensitively.
func ColumnIs(col string, values ...string) Rule {
	return func(r frame.Row) bool {
		v := r.String(col)
		for _, want := range values {
			if equalFold(v, want) {
				return true
			}
		}
		return false
	}
}

// Not negates a rule.
func Not(r Rule) Rule {
	return func(row frame.Row) bool { return !r(row) }
}

// All matches when every rule matches.
func All(rules ...Rule) Rule {
	return func(row frame.Row) bool {
		for _, r := range rules {
			if !r(row) {
				return false
			}
		}
		return true
	}
}

// Registry is the ordered set of providers.
type Registry []Provider

// DefaultRegistry returns the six providers with their numbered folders.
func DefaultRegistry() Registry {
	dtc := ColumnIs(ColVendorGroup, "dtc")
	paypal := ColumnIs(ColPaymentSystem, "paypal")

	reg := Registry{
		{Key: "braintree", Folder: "01 Braintree", Rule: All(dtc, Not(paypal))},
		{Key: "paypal", Folder: "02 Paypal", Rule: All(dtc, paypal)},
		{Key: "uber", Folder: "03 Uber Eats", Rule: ColumnIs(ColOrderVendor, "uber")},
		{Key: "deliveroo", Folder: "04 Deliveroo", Rule: ColumnIs(ColOrderVendor, "deliveroo")},
		{Key: "justeat", Folder: "05 Just Eat", Rule: ColumnIs(ColOrderVendor, "just eat", "justeat")},
		{Key: "amazon", Folder: "06 Amazon", Rule: ColumnIs(ColOrderVendor, "amazon uk")},
	}
	for i := range reg {
		reg[i].Display = DisplayName(reg[i].Key)
	}
	return reg
}

// Lookup finds a provider by key.
func (r Registry) Lookup(key string) (Provider, bool) {
	for _, p := range r {
		if p.Key == key {
			return p, true
		}
	}
	return Provider{}, false
}

// Keys lists provider keys in registry order.
func (r Registry) Keys() []string {
	keys := make([]string, len(r))
	for i, p := range r {
		keys[i] = p.Key
	}
	return keys
}

// WithFolders returns a copy with folder names replaced for the given keys.
// Unknown keys are ignored.
func (r Registry) WithFolders(overrides map[string]string) Registry {
	out := append(Registry(nil), r...)
	for i := range out {
		if f, ok := overrides[out[i].Key]; ok && f != "" {
			out[i].Folder = f
		}
	}
	return out
}

// DWHSubfolder is the leaf folder under every provider folder.
const DWHSubfolder = "03 DWH"

// Folders maps each provider to <root>/<sharedRoot>/<folder>/03 DWH.
func Folders(root, sharedRoot string, reg Registry) map[string]string {
	out := make(map[string]string, len(reg))
	for _, p := range reg {
		out[p.Key] = filepath.Join(root, sharedRoot, p.Folder, DWHSubfolder)
	}
	return out
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
