package model

import (
	"encoding/json"

	"github.com/rotisserie/eris"
)

// LookupSource identifies the provider that owns a sub-record of PhoneLookupInfo.
type LookupSource string

// Lookup sources, one per sub-record slot.
const (
	SourceDefaultCp2    LookupSource = "default_cp2"
	SourcePeopleAPI     LookupSource = "people_api"
	SourceBlockedNumber LookupSource = "blocked_number"
	SourceEmergency     LookupSource = "emergency"
)

// PhoneLookupInfo is the merged result of every lookup for one number. Each
// source owns exactly one slot; a nil slot means the source reported nothing.
// Values are treated as immutable: every mutator returns a copy.
type PhoneLookupInfo struct {
	DefaultCp2    *Cp2Info           `json:"default_cp2,omitempty"`
	PeopleAPI     *PeopleAPIInfo     `json:"people_api,omitempty"`
	BlockedNumber *BlockedNumberInfo `json:"blocked_number,omitempty"`
	Emergency     *EmergencyInfo     `json:"emergency,omitempty"`
}

// Cp2Info holds the local contacts matching a number.
type Cp2Info struct {
	Contacts []Cp2ContactInfo `json:"contacts,omitempty"`
	// IsIncomplete is set when the lookup could not query every contact
	// for the number and kept the previous contacts instead.
	IsIncomplete bool `json:"is_incomplete,omitempty"`
}

// Cp2ContactInfo is one local contact attached to a number.
type Cp2ContactInfo struct {
	Name                       string `json:"name,omitempty" yaml:"name"`
	PhotoThumbnailURI          string `json:"photo_thumbnail_uri,omitempty" yaml:"photo_thumbnail_uri"`
	PhotoURI                   string `json:"photo_uri,omitempty" yaml:"photo_uri"`
	PhotoID                    int64  `json:"photo_id,omitempty" yaml:"photo_id"`
	Label                      string `json:"label,omitempty" yaml:"label"`
	LookupURI                  string `json:"lookup_uri,omitempty" yaml:"lookup_uri"`
	ContactID                  int64  `json:"contact_id,omitempty" yaml:"contact_id"`
	CanSupportCarrierVideoCall bool   `json:"can_support_carrier_video_call,omitempty" yaml:"can_support_carrier_video_call"`
}

// PeopleAPIInfoType classifies a remote caller-ID match.
type PeopleAPIInfoType string

// Remote caller-ID match types.
const (
	PeopleAPIUnknown        PeopleAPIInfoType = "UNKNOWN"
	PeopleAPIContact        PeopleAPIInfoType = "CONTACT"
	PeopleAPINearbyBusiness PeopleAPIInfoType = "NEARBY_BUSINESS"
)

// PeopleAPIInfo is the remote caller-ID result for a number.
type PeopleAPIInfo struct {
	DisplayName string            `json:"display_name,omitempty"`
	LookupURI   string            `json:"lookup_uri,omitempty"`
	PersonID    string            `json:"person_id,omitempty"`
	InfoType    PeopleAPIInfoType `json:"info_type,omitempty"`
	// FetchedAt is the unix millisecond time of the remote query.
	FetchedAt int64 `json:"fetched_at,omitempty"`
}

// BlockedState is the blocked-number status of a number.
type BlockedState string

// Blocked states.
const (
	BlockedUnknown    BlockedState = "UNKNOWN"
	BlockedBlocked    BlockedState = "BLOCKED"
	BlockedNotBlocked BlockedState = "NOT_BLOCKED"
)

// BlockedNumberInfo holds the blocked-number status of a number.
type BlockedNumberInfo struct {
	State BlockedState `json:"state"`
}

// EmergencyInfo reports whether a number is an emergency number in its region.
type EmergencyInfo struct {
	IsEmergencyNumber bool `json:"is_emergency_number"`
}

// IsEmpty reports whether no source has contributed a slot.
func (i PhoneLookupInfo) IsEmpty() bool {
	return i.DefaultCp2 == nil && i.PeopleAPI == nil && i.BlockedNumber == nil && i.Emergency == nil
}

// HasSlot reports whether the slot owned by src is populated.
func (i PhoneLookupInfo) HasSlot(src LookupSource) bool {
	switch src {
	case SourceDefaultCp2:
		return i.DefaultCp2 != nil
	case SourcePeopleAPI:
		return i.PeopleAPI != nil
	case SourceBlockedNumber:
		return i.BlockedNumber != nil
	case SourceEmergency:
		return i.Emergency != nil
	}
	return false
}

// WithSlot returns a copy of i whose src slot is replaced by the one in from.
// An empty slot in from clears the slot in the result.
func (i PhoneLookupInfo) WithSlot(src LookupSource, from PhoneLookupInfo) PhoneLookupInfo {
	out := i
	switch src {
	case SourceDefaultCp2:
		out.DefaultCp2 = from.DefaultCp2.clone()
	case SourcePeopleAPI:
		if from.PeopleAPI != nil {
			v := *from.PeopleAPI
			out.PeopleAPI = &v
		} else {
			out.PeopleAPI = nil
		}
	case SourceBlockedNumber:
		if from.BlockedNumber != nil {
			v := *from.BlockedNumber
			out.BlockedNumber = &v
		} else {
			out.BlockedNumber = nil
		}
	case SourceEmergency:
		if from.Emergency != nil {
			v := *from.Emergency
			out.Emergency = &v
		} else {
			out.Emergency = nil
		}
	}
	return out
}

// Equal reports whether two infos carry the same data in every slot.
func (i PhoneLookupInfo) Equal(o PhoneLookupInfo) bool {
	return i.DefaultCp2.Equal(o.DefaultCp2) &&
		ptrEqual(i.PeopleAPI, o.PeopleAPI) &&
		ptrEqual(i.BlockedNumber, o.BlockedNumber) &&
		ptrEqual(i.Emergency, o.Emergency)
}

// Equal compares two contact sub-records. A nil record equals an empty one.
func (c *Cp2Info) Equal(o *Cp2Info) bool {
	if c == nil || o == nil {
		return c.isZero() && o.isZero()
	}
	if c.IsIncomplete != o.IsIncomplete || len(c.Contacts) != len(o.Contacts) {
		return false
	}
	for idx := range c.Contacts {
		if c.Contacts[idx] != o.Contacts[idx] {
			return false
		}
	}
	return true
}

func (c *Cp2Info) isZero() bool {
	return c == nil || (len(c.Contacts) == 0 && !c.IsIncomplete)
}

func (c *Cp2Info) clone() *Cp2Info {
	if c == nil {
		return nil
	}
	out := &Cp2Info{IsIncomplete: c.IsIncomplete}
	if len(c.Contacts) > 0 {
		out.Contacts = append([]Cp2ContactInfo(nil), c.Contacts...)
	}
	return out
}

func ptrEqual[T comparable](a, b *T) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// MarshalLookupInfo encodes info for persistence in the lookup history.
func MarshalLookupInfo(info PhoneLookupInfo) ([]byte, error) {
	b, err := json.Marshal(info)
	if err != nil {
		return nil, eris.Wrap(err, "model: marshal lookup info")
	}
	return b, nil
}

// UnmarshalLookupInfo decodes a persisted info. Empty input yields an empty info.
func UnmarshalLookupInfo(b []byte) (PhoneLookupInfo, error) {
	var info PhoneLookupInfo
	if len(b) == 0 {
		return info, nil
	}
	if err := json.Unmarshal(b, &info); err != nil {
		return PhoneLookupInfo{}, eris.Wrap(err, "model: unmarshal lookup info")
	}
	return info, nil
}
