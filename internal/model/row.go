package model

import "time"

// CallType mirrors the system call log call types.
type CallType int

// Call types.
const (
	CallTypeIncoming  CallType = 1
	CallTypeOutgoing  CallType = 2
	CallTypeMissed    CallType = 3
	CallTypeVoicemail CallType = 4
	CallTypeRejected  CallType = 5
	CallTypeBlocked   CallType = 6
)

func (t CallType) String() string {
	switch t {
	case CallTypeIncoming:
		return "incoming"
	case CallTypeOutgoing:
		return "outgoing"
	case CallTypeMissed:
		return "missed"
	case CallTypeVoicemail:
		return "voicemail"
	case CallTypeRejected:
		return "rejected"
	case CallTypeBlocked:
		return "blocked"
	default:
		return "unknown"
	}
}

// RowValues is a partial set of annotated call log columns. A nil field is
// not set; merging copies only set fields.
type RowValues struct {
	Timestamp       *time.Time         `json:"timestamp,omitempty"`
	Number          *DialerPhoneNumber `json:"number,omitempty"`
	FormattedNumber *string            `json:"formatted_number,omitempty"`
	Duration        *time.Duration     `json:"duration,omitempty"`
	CallType        *CallType          `json:"call_type,omitempty"`
	IsRead          *bool              `json:"is_read,omitempty"`
	New             *bool              `json:"new,omitempty"`
	IsVoicemailCall *bool              `json:"is_voicemail_call,omitempty"`

	// Columns derived from phone lookups.
	Name              *string `json:"name,omitempty"`
	PhotoURI          *string `json:"photo_uri,omitempty"`
	PhotoID           *int64  `json:"photo_id,omitempty"`
	LookupURI         *string `json:"lookup_uri,omitempty"`
	NumberTypeLabel   *string `json:"number_type_label,omitempty"`
	IsBusiness        *bool   `json:"is_business,omitempty"`
	IsBlocked         *bool   `json:"is_blocked,omitempty"`
	IsEmergencyNumber *bool   `json:"is_emergency_number,omitempty"`
}

// Merge returns r with every field set in o copied over it.
func (r RowValues) Merge(o RowValues) RowValues {
	r.Timestamp = pick(r.Timestamp, o.Timestamp)
	r.Number = pick(r.Number, o.Number)
	r.FormattedNumber = pick(r.FormattedNumber, o.FormattedNumber)
	r.Duration = pick(r.Duration, o.Duration)
	r.CallType = pick(r.CallType, o.CallType)
	r.IsRead = pick(r.IsRead, o.IsRead)
	r.New = pick(r.New, o.New)
	r.IsVoicemailCall = pick(r.IsVoicemailCall, o.IsVoicemailCall)
	r.Name = pick(r.Name, o.Name)
	r.PhotoURI = pick(r.PhotoURI, o.PhotoURI)
	r.PhotoID = pick(r.PhotoID, o.PhotoID)
	r.LookupURI = pick(r.LookupURI, o.LookupURI)
	r.NumberTypeLabel = pick(r.NumberTypeLabel, o.NumberTypeLabel)
	r.IsBusiness = pick(r.IsBusiness, o.IsBusiness)
	r.IsBlocked = pick(r.IsBlocked, o.IsBlocked)
	r.IsEmergencyNumber = pick(r.IsEmergencyNumber, o.IsEmergencyNumber)
	return r
}

// IsEmpty reports whether no field is set.
func (r RowValues) IsEmpty() bool {
	return r == RowValues{}
}

func pick[T any](cur, next *T) *T {
	if next != nil {
		v := *next
		return &v
	}
	return cur
}

// Ptr returns a pointer to v.
func Ptr[T any](v T) *T {
	return &v
}

// AnnotatedRow is a stored annotated call log row.
type AnnotatedRow struct {
	ID int64 `json:"id"`
	RowValues
}

// Value returns the pointed-to value or the zero value when p is nil.
func Value[T any](p *T) T {
	if p == nil {
		var zero T
		return zero
	}
	return *p
}
