package phonenumber

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sells-group/annotated-calllog/internal/model"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		country string
		want    string
	}{
		{"national US", "650-253-0000", "US", "+16502530000"},
		{"already E164", "+1 650 253 0000", "us", "+16502530000"},
		{"UK national", "020 7031 3000", "GB", "+442070313000"},
		{"full width digits", "６５０２５３００００", "US", "+16502530000"},
		{"post dial digits", "650-253-0000,1234", "US", "+16502530000,1234"},
		{"service star code", "*67", "US", "*67"},
		{"service hash code", "#31#", "US", "#31#"},
		{"invalid keeps digits", "12-3", "US", "123"},
		{"empty", "", "US", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Parse(tt.raw, tt.country)
			assert.Equal(t, tt.want, got.NormalizedNumber)
		})
	}
}

func TestParse_UppercasesRegion(t *testing.T) {
	assert.Equal(t, "US", Parse("6502530000", "us").CountryISO)
}

func TestFormatNational(t *testing.T) {
	assert.Equal(t, "(650) 253-0000", FormatNational("6502530000", "US"))
	assert.Equal(t, "*67", FormatNational("*67", "US"))
	assert.Equal(t, "123", FormatNational("123", "US"))
}

func TestIsMatch(t *testing.T) {
	a := Parse("650 253 0000", "US")
	b := Parse("+1 (650) 253-0000", "US")
	assert.True(t, IsMatch(a, b))

	assert.False(t, IsMatch(a, Parse("650 253 0001", "US")))
	assert.False(t, IsMatch(a, model.DialerPhoneNumber{NormalizedNumber: a.NormalizedNumber, CountryISO: "CA"}))
	assert.False(t, IsMatch(model.DialerPhoneNumber{}, model.DialerPhoneNumber{}))

	// Post-dial digits must agree.
	assert.False(t, IsMatch(Parse("6502530000,1", "US"), Parse("6502530000,2", "US")))

	// Service numbers only match textually.
	assert.True(t, IsMatch(Parse("*67", "US"), Parse("*67", "US")))
	assert.False(t, IsMatch(Parse("*67", "US"), Parse("*68", "US")))
}

func TestIsValidE164(t *testing.T) {
	assert.True(t, IsValidE164(Parse("6502530000", "US")))
	assert.False(t, IsValidE164(Parse("6502530000,1", "US")))
	assert.False(t, IsValidE164(Parse("123", "US")))
	assert.False(t, IsValidE164(Parse("*67", "US")))
}

func TestPartition(t *testing.T) {
	valid := Parse("6502530000", "US")
	validCA := model.DialerPhoneNumber{NormalizedNumber: valid.NormalizedNumber, CountryISO: "CA"}
	invalid := Parse("123", "US")

	p := Partition([]model.DialerPhoneNumber{valid, validCA, invalid, {}})

	assert.ElementsMatch(t, []string{"+16502530000"}, p.ValidKeys())
	assert.ElementsMatch(t, []model.DialerPhoneNumber{valid, validCA}, p.ValidE164["+16502530000"])
	assert.ElementsMatch(t, []string{"123"}, p.InvalidKeys())
}
