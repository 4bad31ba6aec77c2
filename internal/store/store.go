// Package store persists the annotated call log, the phone lookup history
// and the refresh preferences.
package store

import (
	"context"

	"github.com/RoaringBitmap/roaring/roaring64"

	"github.com/sells-group/annotated-calllog/internal/model"
)

// Store defines the persistence interface for the annotated call log.
type Store interface {
	// Annotated call log
	ApplyMutations(ctx context.Context, inserts, updates map[int64]model.RowValues, deletes []int64) error
	AnnotatedIDs(ctx context.Context) (*roaring64.Bitmap, error)
	NumbersByID(ctx context.Context) (map[int64]model.DialerPhoneNumber, error)
	DistinctNumbers(ctx context.Context) ([]model.DialerPhoneNumber, error)
	ListRows(ctx context.Context, limit int) ([]model.AnnotatedRow, error)
	ClearAnnotatedCallLog(ctx context.Context) error

	// Phone lookup history
	GetLookupHistory(ctx context.Context, numbers []model.DialerPhoneNumber) (map[model.DialerPhoneNumber]model.PhoneLookupInfo, error)
	ApplyLookupHistory(ctx context.Context, updates map[model.DialerPhoneNumber]model.PhoneLookupInfo, deletes []model.DialerPhoneNumber) error
	ClearLookupHistory(ctx context.Context) error

	// Preferences
	GetInt64(ctx context.Context, key string, def int64) (int64, error)
	SetInt64(ctx context.Context, key string, v int64) error
	GetBool(ctx context.Context, key string, def bool) (bool, error)
	SetBool(ctx context.Context, key string, v bool) error
	DeletePref(ctx context.Context, key string) error

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// Options configures either backend.
type Options struct {
	// MaxRows caps the non-voicemail rows kept in the annotated call log,
	// evicting the oldest. 0 disables the cap.
	MaxRows int
}
