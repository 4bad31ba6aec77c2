package model

import "time"

// SystemCall is one entry of the system call log as read from the device.
type SystemCall struct {
	ID              int64
	Date            time.Time
	LastModified    time.Time
	Number          string
	CountryISO      string
	FormattedNumber string
	Duration        time.Duration
	Type            CallType
	IsRead          bool
	New             bool
}

// Call identifies a single call to look up outside of a bulk refresh, e.g.
// for an incoming call screen.
type Call struct {
	Number     string
	CountryISO string
}
