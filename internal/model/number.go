package model

// DialerPhoneNumber is the normalized identity of a phone number. Two raw
// numbers that refer to the same line collapse to the same value, so it is
// used directly as a map key.
type DialerPhoneNumber struct {
	// NormalizedNumber is E.164 plus any post-dial digits for valid numbers,
	// the raw dialable digits for invalid or service numbers, and empty for
	// unknown or private callers.
	NormalizedNumber string `json:"normalized_number" yaml:"normalized_number"`
	// CountryISO is the upper-case region the raw number was parsed against.
	CountryISO string `json:"country_iso" yaml:"country_iso"`
}

// IsEmpty reports whether the number carries no digits (e.g. a private caller).
func (n DialerPhoneNumber) IsEmpty() bool {
	return n.NormalizedNumber == ""
}

// String returns the normalized number.
func (n DialerPhoneNumber) String() string {
	return n.NormalizedNumber
}

// Redacted returns the number with all but the last two characters masked,
// suitable for log fields.
func (n DialerPhoneNumber) Redacted() string {
	s := n.NormalizedNumber
	if len(s) <= 2 {
		return s
	}
	masked := make([]byte, len(s))
	for i := range s {
		if i < len(s)-2 {
			masked[i] = '*'
		} else {
			masked[i] = s[i]
		}
	}
	return string(masked)
}

// NumberSet returns the distinct numbers in nums, preserving first-seen order.
func NumberSet(nums ...DialerPhoneNumber) []DialerPhoneNumber {
	seen := make(map[DialerPhoneNumber]struct{}, len(nums))
	out := make([]DialerPhoneNumber, 0, len(nums))
	for _, n := range nums {
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out
}
