package phonelookup

import "github.com/sells-group/annotated-calllog/internal/model"

// SelectName returns the display name for a number: the first local
// contact's name when non-empty, else the remote caller-ID name, else "".
func SelectName(info model.PhoneLookupInfo) string {
	name, _ := selectNameWithSource(info)
	return name
}

// NameSource returns the source that supplied SelectName's result, or false
// when no source has a name.
func NameSource(info model.PhoneLookupInfo) (model.LookupSource, bool) {
	name, src := selectNameWithSource(info)
	return src, name != ""
}

func selectNameWithSource(info model.PhoneLookupInfo) (string, model.LookupSource) {
	for _, e := range namePriority {
		if name := e.name(info); name != "" {
			return name, e.source
		}
	}
	return "", ""
}

// SelectPhotoURI returns the photo URI of the first local contact, preferring
// the thumbnail.
func SelectPhotoURI(info model.PhoneLookupInfo) string {
	c, ok := firstContact(info)
	if !ok {
		return ""
	}
	if c.PhotoThumbnailURI != "" {
		return c.PhotoThumbnailURI
	}
	return c.PhotoURI
}

// SelectPhotoID returns the photo ID of the first local contact, never negative.
func SelectPhotoID(info model.PhoneLookupInfo) int64 {
	c, ok := firstContact(info)
	if !ok {
		return 0
	}
	return max(c.PhotoID, 0)
}

// SelectLookupURI returns the lookup URI of the first local contact.
func SelectLookupURI(info model.PhoneLookupInfo) string {
	c, _ := firstContact(info)
	return c.LookupURI
}

// SelectNumberLabel returns the number type label of the first local contact.
func SelectNumberLabel(info model.PhoneLookupInfo) string {
	c, _ := firstContact(info)
	return c.Label
}

// CanSupportCarrierVideoCall reports the carrier video capability of the
// first local contact.
func CanSupportCarrierVideoCall(info model.PhoneLookupInfo) bool {
	c, _ := firstContact(info)
	return c.CanSupportCarrierVideoCall
}

// IsBusiness reports whether the selected name is a remote business listing.
func IsBusiness(info model.PhoneLookupInfo) bool {
	src, ok := NameSource(info)
	return ok && src == model.SourcePeopleAPI && info.PeopleAPI.InfoType == model.PeopleAPINearbyBusiness
}

// IsBlocked reports whether the number is on the blocked list.
func IsBlocked(info model.PhoneLookupInfo) bool {
	return info.BlockedNumber != nil && info.BlockedNumber.State == model.BlockedBlocked
}

// IsEmergencyNumber reports whether the number is an emergency number.
func IsEmergencyNumber(info model.PhoneLookupInfo) bool {
	return info.Emergency != nil && info.Emergency.IsEmergencyNumber
}

// IsDefaultCp2InfoIncomplete reports whether the local contact lookup could
// not be completed for the number.
func IsDefaultCp2InfoIncomplete(info model.PhoneLookupInfo) bool {
	return info.DefaultCp2 != nil && info.DefaultCp2.IsIncomplete
}

// RowValues projects info onto the lookup-derived annotated call log columns.
func RowValues(info model.PhoneLookupInfo) model.RowValues {
	return model.RowValues{
		Name:              model.Ptr(SelectName(info)),
		PhotoURI:          model.Ptr(SelectPhotoURI(info)),
		PhotoID:           model.Ptr(SelectPhotoID(info)),
		LookupURI:         model.Ptr(SelectLookupURI(info)),
		NumberTypeLabel:   model.Ptr(SelectNumberLabel(info)),
		IsBusiness:        model.Ptr(IsBusiness(info)),
		IsBlocked:         model.Ptr(IsBlocked(info)),
		IsEmergencyNumber: model.Ptr(IsEmergencyNumber(info)),
	}
}
