package phonenumber

import (
	"slices"

	"github.com/sells-group/annotated-calllog/internal/model"
)

// Partitioned groups numbers by whether they can be queried by E.164 value.
type Partitioned struct {
	// ValidE164 maps each valid E.164 string to the numbers that normalize to it.
	ValidE164 map[string][]model.DialerPhoneNumber
	// Invalid maps each remaining normalized string to its numbers.
	Invalid map[string][]model.DialerPhoneNumber
}

// Partition splits numbers into valid E.164 and invalid groups. Empty numbers
// are dropped.
func Partition(numbers []model.DialerPhoneNumber) Partitioned {
	p := Partitioned{
		ValidE164: make(map[string][]model.DialerPhoneNumber),
		Invalid:   make(map[string][]model.DialerPhoneNumber),
	}
	for _, n := range numbers {
		if n.IsEmpty() {
			continue
		}
		if IsValidE164(n) {
			p.ValidE164[n.NormalizedNumber] = append(p.ValidE164[n.NormalizedNumber], n)
		} else {
			p.Invalid[n.NormalizedNumber] = append(p.Invalid[n.NormalizedNumber], n)
		}
	}
	return p
}

// ValidKeys returns the distinct valid E.164 strings in sorted order.
func (p Partitioned) ValidKeys() []string {
	return keys(p.ValidE164)
}

// InvalidKeys returns the distinct invalid normalized strings.
func (p Partitioned) InvalidKeys() []string {
	return keys(p.Invalid)
}

func keys(m map[string][]model.DialerPhoneNumber) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}
