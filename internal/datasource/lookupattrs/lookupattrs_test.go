package lookupattrs

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/annotated-calllog/internal/calllog"
	"github.com/sells-group/annotated-calllog/internal/model"
	"github.com/sells-group/annotated-calllog/internal/phonelookup"
	"github.com/sells-group/annotated-calllog/internal/store"
)

type fakeLookups struct {
	names map[string]string
	dirty bool

	gotNumbers []model.DialerPhoneNumber
	gotSince   time.Time
	bulkInput  map[model.DialerPhoneNumber]model.PhoneLookupInfo
	successes  int
	clears     int
	observer   phonelookup.ContentObserverCallbacks
}

func (f *fakeLookups) IsDirty(_ context.Context, numbers []model.DialerPhoneNumber, since time.Time) (bool, error) {
	f.gotNumbers, f.gotSince = numbers, since
	return f.dirty, nil
}

func (f *fakeLookups) BulkUpdate(_ context.Context, existing map[model.DialerPhoneNumber]model.PhoneLookupInfo, _ time.Time) (map[model.DialerPhoneNumber]model.PhoneLookupInfo, error) {
	f.bulkInput = existing
	out := make(map[model.DialerPhoneNumber]model.PhoneLookupInfo, len(existing))
	for n := range existing {
		cp2 := &model.Cp2Info{}
		if name, ok := f.names[n.NormalizedNumber]; ok {
			cp2.Contacts = []model.Cp2ContactInfo{{Name: name}}
		}
		out[n] = model.PhoneLookupInfo{DefaultCp2: cp2}
	}
	return out, nil
}

func (f *fakeLookups) OnSuccessfulBulkUpdate(context.Context) error { f.successes++; return nil }
func (f *fakeLookups) ClearData(context.Context) error              { f.clears++; return nil }

func (f *fakeLookups) RegisterContentObservers(cb phonelookup.ContentObserverCallbacks) {
	f.observer = cb
}
func (f *fakeLookups) UnregisterContentObservers() { f.observer = nil }

func newStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	s, err := store.NewSQLite(filepath.Join(t.TempDir(), "calllog.db"), store.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func num(n string) model.DialerPhoneNumber {
	return model.DialerPhoneNumber{NormalizedNumber: n, CountryISO: "US"}
}

func call(n string) model.RowValues {
	number := num(n)
	return model.RowValues{Timestamp: model.Ptr(time.Now()), Number: &number}
}

func cycle(t *testing.T, src *Source, s *store.SQLiteStore, m *calllog.Mutations) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, src.Fill(ctx, m))
	require.NoError(t, s.ApplyMutations(ctx, m.Inserts(), m.Updates(), m.Deletes()))
	require.NoError(t, src.OnSuccessfulFill(ctx))
}

func TestFill_AnnotatesNewRows(t *testing.T) {
	s := newStore(t)
	lookups := &fakeLookups{names: map[string]string{"+16502530000": "Jane Doe"}}
	src := New(lookups, s)
	ctx := context.Background()

	m := calllog.NewMutations()
	require.NoError(t, m.Insert(1, call("+16502530000")))
	require.NoError(t, m.Insert(2, call("+16502530001")))
	require.NoError(t, m.Insert(3, model.RowValues{Number: &model.DialerPhoneNumber{}}))
	cycle(t, src, s, m)

	inserts := m.Inserts()
	assert.Equal(t, "Jane Doe", model.Value(inserts[1].Name))
	assert.Equal(t, "", model.Value(inserts[2].Name))
	assert.NotNil(t, inserts[2].IsBlocked, "every lookup column is set")
	assert.Nil(t, inserts[3].Name, "private numbers are not looked up")
	assert.Len(t, lookups.bulkInput, 2)

	history, err := s.GetLookupHistory(ctx, []model.DialerPhoneNumber{num("+16502530000"), num("+16502530001")})
	require.NoError(t, err)
	assert.Len(t, history, 2)
	assert.Equal(t, 1, lookups.successes)

	watermark, err := s.GetInt64(ctx, store.PrefLookupHistoryWatermark, 0)
	require.NoError(t, err)
	assert.NotZero(t, watermark)
}

func TestFill_NewRowsStartFromHistory(t *testing.T) {
	s := newStore(t)
	lookups := &fakeLookups{names: map[string]string{"+16502530000": "Jane Doe"}}
	src := New(lookups, s)

	first := calllog.NewMutations()
	require.NoError(t, first.Insert(1, call("+16502530000")))
	cycle(t, src, s, first)

	// A second call from the same number: the lookup result is unchanged,
	// so the insert is annotated from the history alone.
	second := calllog.NewMutations()
	require.NoError(t, second.Insert(2, call("+16502530000")))
	cycle(t, src, s, second)

	assert.Equal(t, "Jane Doe", model.Value(second.Inserts()[2].Name))
	assert.Empty(t, second.Updates())
}

func TestFill_UpdatesChangedRows(t *testing.T) {
	s := newStore(t)
	lookups := &fakeLookups{names: map[string]string{}}
	src := New(lookups, s)

	first := calllog.NewMutations()
	require.NoError(t, first.Insert(1, call("+16502530000")))
	require.NoError(t, first.Insert(2, call("+16502530000")))
	cycle(t, src, s, first)

	lookups.names["+16502530000"] = "Jane Doe"
	next := calllog.NewMutations()
	cycle(t, src, s, next)

	updates := next.Updates()
	require.Len(t, updates, 2)
	assert.Equal(t, "Jane Doe", model.Value(updates[1].Name))
	assert.Equal(t, "Jane Doe", model.Value(updates[2].Name))

	rows, err := s.ListRows(context.Background(), 0)
	require.NoError(t, err)
	for _, r := range rows {
		assert.Equal(t, "Jane Doe", model.Value(r.Name))
	}

	unchanged := calllog.NewMutations()
	cycle(t, src, s, unchanged)
	assert.True(t, unchanged.IsEmpty())
}

func TestFill_RenumberedRowTakesNewAttributes(t *testing.T) {
	s := newStore(t)
	lookups := &fakeLookups{names: map[string]string{"+16502530000": "Jane Doe", "+16502530001": "John Roe"}}
	src := New(lookups, s)

	first := calllog.NewMutations()
	require.NoError(t, first.Insert(1, call("+16502530000")))
	require.NoError(t, first.Insert(2, call("+16502530001")))
	cycle(t, src, s, first)

	// Row 1 now carries John's number, whose info is already in the history.
	john := num("+16502530001")
	next := calllog.NewMutations()
	require.NoError(t, next.Update(1, model.RowValues{Number: &john}))
	cycle(t, src, s, next)

	assert.Equal(t, "John Roe", model.Value(next.Updates()[1].Name))
	_, touched := next.Updates()[2]
	assert.False(t, touched)

	history, err := s.GetLookupHistory(context.Background(), []model.DialerPhoneNumber{num("+16502530000")})
	require.NoError(t, err)
	assert.Empty(t, history, "no row references the old number")
}

func TestFill_DeletesHistoryOfRemovedNumbers(t *testing.T) {
	s := newStore(t)
	lookups := &fakeLookups{names: map[string]string{}}
	src := New(lookups, s)
	ctx := context.Background()

	first := calllog.NewMutations()
	require.NoError(t, first.Insert(1, call("+16502530000")))
	require.NoError(t, first.Insert(2, call("+16502530001")))
	require.NoError(t, first.Insert(3, call("+16502530001")))
	cycle(t, src, s, first)

	next := calllog.NewMutations()
	require.NoError(t, next.Delete(1))
	require.NoError(t, next.Delete(2))
	cycle(t, src, s, next)

	history, err := s.GetLookupHistory(ctx, []model.DialerPhoneNumber{num("+16502530000"), num("+16502530001")})
	require.NoError(t, err)
	assert.NotContains(t, history, num("+16502530000"), "no row references it anymore")
	assert.Contains(t, history, num("+16502530001"), "row 3 still references it")
}

func TestFill_HistoryHeldUntilSuccess(t *testing.T) {
	s := newStore(t)
	lookups := &fakeLookups{names: map[string]string{"+16502530000": "Jane Doe"}}
	src := New(lookups, s)
	ctx := context.Background()

	m := calllog.NewMutations()
	require.NoError(t, m.Insert(1, call("+16502530000")))
	require.NoError(t, src.Fill(ctx, m))

	history, err := s.GetLookupHistory(ctx, []model.DialerPhoneNumber{num("+16502530000")})
	require.NoError(t, err)
	assert.Empty(t, history)
	assert.Zero(t, lookups.successes)

	watermark, err := s.GetInt64(ctx, store.PrefLookupHistoryWatermark, 0)
	require.NoError(t, err)
	assert.Zero(t, watermark)
}

func TestIsDirty(t *testing.T) {
	s := newStore(t)
	lookups := &fakeLookups{names: map[string]string{}}
	src := New(lookups, s)
	ctx := context.Background()

	dirty, err := src.IsDirty(ctx)
	require.NoError(t, err)
	assert.False(t, dirty, "an empty call log is never dirty")
	assert.Nil(t, lookups.gotNumbers)

	m := calllog.NewMutations()
	require.NoError(t, m.Insert(1, call("+16502530000")))
	cycle(t, src, s, m)

	lookups.dirty = true
	dirty, err = src.IsDirty(ctx)
	require.NoError(t, err)
	assert.True(t, dirty)
	assert.Equal(t, []model.DialerPhoneNumber{num("+16502530000")}, lookups.gotNumbers)
	assert.False(t, lookups.gotSince.IsZero())
}

func TestClearData(t *testing.T) {
	s := newStore(t)
	lookups := &fakeLookups{names: map[string]string{}}
	src := New(lookups, s)
	ctx := context.Background()

	m := calllog.NewMutations()
	require.NoError(t, m.Insert(1, call("+16502530000")))
	cycle(t, src, s, m)

	require.NoError(t, src.ClearData(ctx))
	history, err := s.GetLookupHistory(ctx, []model.DialerPhoneNumber{num("+16502530000")})
	require.NoError(t, err)
	assert.Empty(t, history)
	assert.Equal(t, 1, lookups.clears)
}

type counter struct{ n int }

func (c *counter) MarkDirtyAndNotify() { c.n++ }

func TestContentObserversDelegate(t *testing.T) {
	lookups := &fakeLookups{}
	src := New(lookups, newStore(t))
	cb := &counter{}

	src.RegisterContentObservers(cb)
	require.NotNil(t, lookups.observer)
	lookups.observer.MarkDirtyAndNotify()
	assert.Equal(t, 1, cb.n)

	src.UnregisterContentObservers()
	assert.Nil(t, lookups.observer)
}
