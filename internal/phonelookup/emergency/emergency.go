// Package emergency detects emergency service numbers from a per-region
// table.
package emergency

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/armon/go-radix"
	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/annotated-calllog/internal/model"
	"github.com/sells-group/annotated-calllog/internal/phonelookup"
)

// Table lists emergency numbers per region. Regions in PrefixRegions also
// match any number that starts with a listed entry.
type Table struct {
	Numbers       map[string][]string `yaml:"numbers" mapstructure:"numbers"`
	PrefixRegions []string            `yaml:"prefix_regions" mapstructure:"prefix_regions"`
}

// DefaultTable returns the built-in emergency numbers.
func DefaultTable() Table {
	return Table{
		Numbers: map[string][]string{
			"US": {"911", "112"},
			"CA": {"911", "112"},
			"MX": {"911", "066", "112"},
			"GB": {"999", "112"},
			"IE": {"999", "112"},
			"AU": {"000", "112", "106"},
			"NZ": {"111", "112"},
			"IN": {"112", "100", "101", "102", "108"},
			"JP": {"110", "118", "119"},
			"BR": {"190", "192", "193", "199"},
			"DE": {"110", "112"},
			"FR": {"15", "17", "18", "112", "114"},
		},
		PrefixRegions: []string{"BR"},
	}
}

// LoadTable reads a YAML emergency number table.
func LoadTable(path string) (Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Table{}, eris.Wrapf(err, "emergency: read table %s", path)
	}
	var t Table
	if err := yaml.Unmarshal(data, &t); err != nil {
		return Table{}, eris.Wrapf(err, "emergency: parse table %s", path)
	}
	return t, nil
}

// Lookup is the emergency number lookup. Results depend only on the table,
// so IsDirty is always false.
type Lookup struct {
	tree          *radix.Tree
	prefixRegions map[string]bool
}

var _ phonelookup.PhoneLookup = (*Lookup)(nil)

// New builds a lookup over t.
func New(t Table) *Lookup {
	tree := radix.New()
	for region, numbers := range t.Numbers {
		for _, n := range numbers {
			tree.Insert(key(region, n), struct{}{})
		}
	}
	prefix := make(map[string]bool, len(t.PrefixRegions))
	for _, r := range t.PrefixRegions {
		prefix[strings.ToUpper(r)] = true
	}
	return &Lookup{tree: tree, prefixRegions: prefix}
}

func key(region, number string) string {
	return strings.ToUpper(region) + ":" + number
}

// IsEmergency reports whether number is an emergency number in its region.
func (l *Lookup) IsEmergency(number model.DialerPhoneNumber) bool {
	if number.IsEmpty() || number.CountryISO == "" {
		return false
	}
	k := key(number.CountryISO, number.NormalizedNumber)
	if _, ok := l.tree.Get(k); ok {
		return true
	}
	if !l.prefixRegions[strings.ToUpper(number.CountryISO)] {
		return false
	}
	_, _, ok := l.tree.LongestPrefix(k)
	return ok
}

func (l *Lookup) LoggingName() string        { return "EmergencyPhoneLookup" }
func (l *Lookup) Source() model.LookupSource { return model.SourceEmergency }

func (l *Lookup) Lookup(_ context.Context, number model.DialerPhoneNumber) (model.PhoneLookupInfo, error) {
	return model.PhoneLookupInfo{Emergency: &model.EmergencyInfo{IsEmergencyNumber: l.IsEmergency(number)}}, nil
}

func (l *Lookup) IsDirty(context.Context, []model.DialerPhoneNumber, time.Time) (bool, error) {
	return false, nil
}

// BulkUpdate recomputes every number and returns the changed entries.
func (l *Lookup) BulkUpdate(_ context.Context, existing map[model.DialerPhoneNumber]model.PhoneLookupInfo, _ time.Time) (map[model.DialerPhoneNumber]model.PhoneLookupInfo, error) {
	out := make(map[model.DialerPhoneNumber]model.PhoneLookupInfo)
	for n, info := range existing {
		next := &model.EmergencyInfo{IsEmergencyNumber: l.IsEmergency(n)}
		if info.Emergency == nil || *info.Emergency != *next {
			out[n] = model.PhoneLookupInfo{Emergency: next}
		}
	}
	return out, nil
}

func (l *Lookup) OnSuccessfulBulkUpdate(context.Context) error                  { return nil }
func (l *Lookup) ClearData(context.Context) error                               { return nil }
func (l *Lookup) RegisterContentObservers(phonelookup.ContentObserverCallbacks) {}
func (l *Lookup) UnregisterContentObservers()                                   {}
