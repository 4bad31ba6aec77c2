package phonelookup

import "github.com/sells-group/annotated-calllog/internal/model"

// nameEntry is one row of the name priority table.
type nameEntry struct {
	source model.LookupSource
	name   func(info model.PhoneLookupInfo) string
}

// namePriority is the single ordering of name-providing sources, highest
// priority first. SelectName walks it to pick the display name and the
// Composite derives its short-circuit stages from it, so a source is only
// skipped for a number when a higher entry already yields a name.
var namePriority = []nameEntry{
	{source: model.SourceDefaultCp2, name: cp2Name},
	{source: model.SourcePeopleAPI, name: peopleAPIName},
}

// NamePriority returns the name-providing sources in priority order.
func NamePriority() []model.LookupSource {
	out := make([]model.LookupSource, len(namePriority))
	for i, e := range namePriority {
		out[i] = e.source
	}
	return out
}

// nameRank returns the position of src in the name priority table. Sources
// that never provide a name report ok=false.
func nameRank(src model.LookupSource) (rank int, ok bool) {
	for i, e := range namePriority {
		if e.source == src {
			return i, true
		}
	}
	return 0, false
}

// resolvedAbove reports whether a source ranked above rank already yields a
// name for info, which makes sources at rank redundant.
func resolvedAbove(info model.PhoneLookupInfo, rank int) bool {
	for i := 0; i < rank && i < len(namePriority); i++ {
		if namePriority[i].name(info) != "" {
			return true
		}
	}
	return false
}

// First local contact only; multiple matches are not disambiguated.
func cp2Name(info model.PhoneLookupInfo) string {
	if first, ok := firstContact(info); ok {
		return first.Name
	}
	return ""
}

func peopleAPIName(info model.PhoneLookupInfo) string {
	if info.PeopleAPI == nil {
		return ""
	}
	return info.PeopleAPI.DisplayName
}

func firstContact(info model.PhoneLookupInfo) (model.Cp2ContactInfo, bool) {
	if info.DefaultCp2 == nil || len(info.DefaultCp2.Contacts) == 0 {
		return model.Cp2ContactInfo{}, false
	}
	return info.DefaultCp2.Contacts[0], true
}
