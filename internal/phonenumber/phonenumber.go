// Package phonenumber normalizes raw dialed or received numbers into
// model.DialerPhoneNumber keys.
package phonenumber

import (
	"strings"

	"github.com/nyaruka/phonenumbers"
	"golang.org/x/text/width"

	"github.com/sells-group/annotated-calllog/internal/model"
)

// Parse normalizes raw as dialed or received in region countryISO.
//
// Service numbers (containing '#' or starting with '*') are kept as dialed.
// Valid numbers become E.164 with any post-dial digits appended; invalid
// numbers keep their dialable digits.
func Parse(raw, countryISO string) model.DialerPhoneNumber {
	region := strings.ToUpper(strings.TrimSpace(countryISO))
	raw = strings.TrimSpace(width.Narrow.String(raw))
	if raw == "" {
		return model.DialerPhoneNumber{CountryISO: region}
	}
	if IsServiceNumber(raw) {
		return model.DialerPhoneNumber{NormalizedNumber: raw, CountryISO: region}
	}

	network, postDial := split(raw)
	if network == "" {
		return model.DialerPhoneNumber{NormalizedNumber: postDial, CountryISO: region}
	}

	pn, err := phonenumbers.Parse(network, region)
	if err != nil || !phonenumbers.IsValidNumber(pn) {
		return model.DialerPhoneNumber{NormalizedNumber: network + postDial, CountryISO: region}
	}
	return model.DialerPhoneNumber{
		NormalizedNumber: phonenumbers.Format(pn, phonenumbers.E164) + postDial,
		CountryISO:       region,
	}
}

// FormatNational renders raw for display in its home region, falling back to
// the dialable digits when the number cannot be parsed.
func FormatNational(raw, countryISO string) string {
	raw = strings.TrimSpace(width.Narrow.String(raw))
	if raw == "" || IsServiceNumber(raw) {
		return raw
	}
	network, postDial := split(raw)
	pn, err := phonenumbers.Parse(network, strings.ToUpper(countryISO))
	if err != nil || !phonenumbers.IsValidNumber(pn) {
		return network + postDial
	}
	return phonenumbers.Format(pn, phonenumbers.NATIONAL) + postDial
}

// IsServiceNumber reports whether raw is a carrier service code such as *67 or #31#.
func IsServiceNumber(raw string) bool {
	return strings.Contains(raw, "#") || strings.HasPrefix(raw, "*")
}

// IsMatch reports whether a and b refer to the same line. Empty numbers never
// match, numbers from different regions never match, and service or
// unparseable numbers only match textually.
func IsMatch(a, b model.DialerPhoneNumber) bool {
	if a.IsEmpty() || b.IsEmpty() {
		return false
	}
	if a.CountryISO != b.CountryISO {
		return false
	}
	if IsServiceNumber(a.NormalizedNumber) || IsServiceNumber(b.NormalizedNumber) {
		return a.NormalizedNumber == b.NormalizedNumber
	}

	aNet, aPost := split(a.NormalizedNumber)
	bNet, bPost := split(b.NormalizedNumber)
	if aPost != bPost {
		return false
	}

	pa, errA := phonenumbers.Parse(aNet, a.CountryISO)
	pb, errB := phonenumbers.Parse(bNet, b.CountryISO)
	if errA != nil || errB != nil {
		return aNet == bNet
	}
	switch phonenumbers.IsNumberMatchWithNumbers(pa, pb) {
	case phonenumbers.EXACT_MATCH, phonenumbers.NSN_MATCH, phonenumbers.SHORT_NSN_MATCH:
		return true
	default:
		return false
	}
}

// IsValidE164 reports whether n is a valid E.164 number with no post-dial digits.
func IsValidE164(n model.DialerPhoneNumber) bool {
	s := n.NormalizedNumber
	if !strings.HasPrefix(s, "+") {
		return false
	}
	network, postDial := split(s)
	if postDial != "" {
		return false
	}
	pn, err := phonenumbers.Parse(network, "")
	return err == nil && phonenumbers.IsValidNumber(pn)
}

// split separates the dialable network portion of raw from the post-dial
// portion that starts at the first pause (',') or wait (';').
func split(raw string) (network, postDial string) {
	var nb, pb strings.Builder
	inPost := false
	for _, r := range raw {
		switch {
		case r == ',' || r == ';':
			inPost = true
			pb.WriteRune(r)
		case isDialable(r):
			if inPost {
				pb.WriteRune(r)
			} else {
				nb.WriteRune(r)
			}
		}
	}
	return nb.String(), pb.String()
}

func isDialable(r rune) bool {
	return (r >= '0' && r <= '9') || r == '+' || r == '*' || r == '#'
}
