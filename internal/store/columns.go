package store

import (
	"fmt"
	"strings"
	"time"

	"github.com/sells-group/annotated-calllog/internal/model"
)

// rowColumns is the annotated_call_log column order shared by inserts,
// copies and scans. id is always first.
var rowColumns = []string{
	"id",
	"timestamp",
	"number",
	"number_country_iso",
	"formatted_number",
	"duration_ms",
	"call_type",
	"is_read",
	"new",
	"is_voicemail_call",
	"name",
	"photo_uri",
	"photo_id",
	"lookup_uri",
	"number_type_label",
	"is_business",
	"is_blocked",
	"is_emergency_number",
}

type setColumn struct {
	name  string
	value any
}

// setColumns lists the columns rv sets with their storage values.
func setColumns(rv model.RowValues) []setColumn {
	var cols []setColumn
	add := func(name string, set bool, v func() any) {
		if set {
			cols = append(cols, setColumn{name: name, value: v()})
		}
	}
	add("timestamp", rv.Timestamp != nil, func() any { return rv.Timestamp.UnixMilli() })
	if rv.Number != nil {
		cols = append(cols,
			setColumn{"number", nullString(rv.Number.NormalizedNumber)},
			setColumn{"number_country_iso", nullString(rv.Number.CountryISO)},
		)
	}
	add("formatted_number", rv.FormattedNumber != nil, func() any { return *rv.FormattedNumber })
	add("duration_ms", rv.Duration != nil, func() any { return rv.Duration.Milliseconds() })
	add("call_type", rv.CallType != nil, func() any { return int64(*rv.CallType) })
	add("is_read", rv.IsRead != nil, func() any { return *rv.IsRead })
	add("new", rv.New != nil, func() any { return *rv.New })
	add("is_voicemail_call", rv.IsVoicemailCall != nil, func() any { return *rv.IsVoicemailCall })
	add("name", rv.Name != nil, func() any { return *rv.Name })
	add("photo_uri", rv.PhotoURI != nil, func() any { return *rv.PhotoURI })
	add("photo_id", rv.PhotoID != nil, func() any { return *rv.PhotoID })
	add("lookup_uri", rv.LookupURI != nil, func() any { return *rv.LookupURI })
	add("number_type_label", rv.NumberTypeLabel != nil, func() any { return *rv.NumberTypeLabel })
	add("is_business", rv.IsBusiness != nil, func() any { return *rv.IsBusiness })
	add("is_blocked", rv.IsBlocked != nil, func() any { return *rv.IsBlocked })
	add("is_emergency_number", rv.IsEmergencyNumber != nil, func() any { return *rv.IsEmergencyNumber })
	return cols
}

// insertValues returns one value per rowColumns entry, nil for unset fields.
func insertValues(id int64, rv model.RowValues) []any {
	byName := make(map[string]any)
	for _, c := range setColumns(rv) {
		byName[c.name] = c.value
	}
	vals := make([]any, len(rowColumns))
	vals[0] = id
	for i, name := range rowColumns[1:] {
		vals[i+1] = byName[name]
	}
	return vals
}

// updateStatement builds an UPDATE for the set columns of rv. placeholder
// renders the n-th (1-based) bind parameter.
func updateStatement(id int64, rv model.RowValues, placeholder func(n int) string) (string, []any) {
	cols := setColumns(rv)
	if len(cols) == 0 {
		return "", nil
	}
	sets := make([]string, len(cols))
	args := make([]any, 0, len(cols)+1)
	for i, c := range cols {
		sets[i] = fmt.Sprintf("%s = %s", c.name, placeholder(i+1))
		args = append(args, c.value)
	}
	args = append(args, id)
	return fmt.Sprintf("UPDATE annotated_call_log SET %s WHERE id = %s",
		strings.Join(sets, ", "), placeholder(len(cols)+1)), args
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// scannedRow receives one annotated_call_log row in rowColumns order.
type scannedRow struct {
	id                             int64
	timestampMs                    *int64
	number, countryISO, formatted  *string
	durationMs, callType           *int64
	isRead, isNew, isVoicemail     *bool
	name, photoURI                 *string
	photoID                        *int64
	lookupURI, label               *string
	isBusiness, isBlocked, isEmerg *bool
}

func (r *scannedRow) dest() []any {
	return []any{
		&r.id, &r.timestampMs, &r.number, &r.countryISO, &r.formatted, &r.durationMs, &r.callType,
		&r.isRead, &r.isNew, &r.isVoicemail, &r.name, &r.photoURI, &r.photoID, &r.lookupURI,
		&r.label, &r.isBusiness, &r.isBlocked, &r.isEmerg,
	}
}

func (r *scannedRow) row() model.AnnotatedRow {
	out := model.AnnotatedRow{ID: r.id}
	v := &out.RowValues
	if r.timestampMs != nil {
		v.Timestamp = model.Ptr(time.UnixMilli(*r.timestampMs).UTC())
	}
	if r.number != nil {
		v.Number = &model.DialerPhoneNumber{NormalizedNumber: *r.number, CountryISO: model.Value(r.countryISO)}
	}
	v.FormattedNumber = r.formatted
	if r.durationMs != nil {
		v.Duration = model.Ptr(time.Duration(*r.durationMs) * time.Millisecond)
	}
	if r.callType != nil {
		v.CallType = model.Ptr(model.CallType(*r.callType))
	}
	v.IsRead, v.New, v.IsVoicemailCall = r.isRead, r.isNew, r.isVoicemail
	v.Name, v.PhotoURI, v.PhotoID = r.name, r.photoURI, r.photoID
	v.LookupURI, v.NumberTypeLabel = r.lookupURI, r.label
	v.IsBusiness, v.IsBlocked, v.IsEmergencyNumber = r.isBusiness, r.isBlocked, r.isEmerg
	return out
}

func selectRowsSQL() string {
	return "SELECT " + strings.Join(rowColumns, ", ") + " FROM annotated_call_log ORDER BY timestamp DESC, id DESC"
}

// Preference keys.
const (
	PrefForceRebuild           = "force_rebuild"
	PrefIsBuilt                = "is_built"
	PrefSystemCallLogLastSeen  = "system_call_log_last_timestamp_processed"
	PrefLookupHistoryWatermark = "phone_lookup_history_last_timestamp_processed"
)
