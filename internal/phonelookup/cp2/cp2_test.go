package cp2

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/annotated-calllog/internal/device"
	"github.com/sells-group/annotated-calllog/internal/model"
	"github.com/sells-group/annotated-calllog/internal/phonenumber"
)

var (
	past   = time.Now().Add(-time.Hour)
	future = time.Now().Add(time.Hour)
)

func newDevice(t *testing.T) *device.DB {
	t.Helper()
	d, err := device.Open(filepath.Join(t.TempDir(), "device.db"), "US")
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })
	require.NoError(t, d.Migrate(context.Background()))
	return d
}

func addContact(t *testing.T, d *device.DB, name string, numbers ...string) int64 {
	t.Helper()
	c := device.Contact{DisplayName: name}
	for _, n := range numbers {
		c.Phones = append(c.Phones, device.ContactPhone{Number: n, Label: "Mobile"})
	}
	id, err := d.UpsertContact(context.Background(), c)
	require.NoError(t, err)
	return id
}

func TestLookup(t *testing.T) {
	d := newDevice(t)
	addContact(t, d, "Jane Doe", "650-253-0000")
	l := New(d)

	info, err := l.Lookup(context.Background(), phonenumber.Parse("6502530000", "US"))
	require.NoError(t, err)
	require.NotNil(t, info.DefaultCp2)
	require.Len(t, info.DefaultCp2.Contacts, 1)
	assert.Equal(t, "Jane Doe", info.DefaultCp2.Contacts[0].Name)
	assert.Nil(t, info.PeopleAPI)

	info, err = l.Lookup(context.Background(), phonenumber.Parse("6502530001", "US"))
	require.NoError(t, err)
	require.NotNil(t, info.DefaultCp2)
	assert.Empty(t, info.DefaultCp2.Contacts)
}

func TestBulkUpdate_NewNumbersAlwaysQueried(t *testing.T) {
	d := newDevice(t)
	addContact(t, d, "Jane Doe", "650-253-0000")
	l := New(d)

	jane := phonenumber.Parse("6502530000", "US")
	stranger := phonenumber.Parse("6502530001", "US")
	got, err := l.BulkUpdate(context.Background(), map[model.DialerPhoneNumber]model.PhoneLookupInfo{
		jane:     {},
		stranger: {},
	}, future)
	require.NoError(t, err)

	require.Contains(t, got, jane)
	assert.Equal(t, "Jane Doe", got[jane].DefaultCp2.Contacts[0].Name)
	require.Contains(t, got, stranger, "a never-looked-up number gets an empty record")
	assert.NotNil(t, got[stranger].DefaultCp2)
	assert.Empty(t, got[stranger].DefaultCp2.Contacts)
}

func TestBulkUpdate_UnchangedOmitted(t *testing.T) {
	d := newDevice(t)
	addContact(t, d, "Jane Doe", "650-253-0000")
	l := New(d)
	ctx := context.Background()

	jane := phonenumber.Parse("6502530000", "US")
	first, err := l.BulkUpdate(ctx, map[model.DialerPhoneNumber]model.PhoneLookupInfo{jane: {}}, past)
	require.NoError(t, err)

	// Contacts changed after past, so jane is re-queried but matches.
	second, err := l.BulkUpdate(ctx, first, past)
	require.NoError(t, err)
	assert.Empty(t, second)

	third, err := l.BulkUpdate(ctx, first, future)
	require.NoError(t, err)
	assert.Empty(t, third)
}

func TestBulkUpdate_ContactRenamed(t *testing.T) {
	d := newDevice(t)
	id := addContact(t, d, "Jane Doe", "650-253-0000")
	l := New(d)
	ctx := context.Background()

	jane := phonenumber.Parse("6502530000", "US")
	existing, err := l.BulkUpdate(ctx, map[model.DialerPhoneNumber]model.PhoneLookupInfo{jane: {}}, past)
	require.NoError(t, err)

	_, err = d.UpsertContact(ctx, device.Contact{ID: id, DisplayName: "Jane Smith", Phones: []device.ContactPhone{{Number: "6502530000"}}})
	require.NoError(t, err)

	got, err := l.BulkUpdate(ctx, existing, past)
	require.NoError(t, err)
	require.Contains(t, got, jane)
	assert.Equal(t, "Jane Smith", got[jane].DefaultCp2.Contacts[0].Name)
}

func TestBulkUpdate_InvalidNumbersCapped(t *testing.T) {
	d := newDevice(t)
	addContact(t, d, "Short Code", "123")
	l := New(d, WithMaxInvalidNumbers(1))

	a := phonenumber.Parse("123", "US")
	b := phonenumber.Parse("456", "US")
	prior := &model.Cp2Info{Contacts: []model.Cp2ContactInfo{{Name: "Old"}}}
	got, err := l.BulkUpdate(context.Background(), map[model.DialerPhoneNumber]model.PhoneLookupInfo{
		a: {},
		b: {DefaultCp2: prior},
	}, past)
	require.NoError(t, err)

	require.Contains(t, got, a)
	assert.Equal(t, "Short Code", got[a].DefaultCp2.Contacts[0].Name)
	require.Contains(t, got, b)
	assert.True(t, got[b].DefaultCp2.IsIncomplete)
	assert.Equal(t, "Old", got[b].DefaultCp2.Contacts[0].Name, "existing contacts are kept")
}

func TestBulkUpdate_IncompleteRequeried(t *testing.T) {
	d := newDevice(t)
	addContact(t, d, "Pizza Place", "456")
	l := New(d, WithMaxInvalidNumbers(5))

	b := phonenumber.Parse("456", "US")
	jane := phonenumber.Parse("6502530000", "US")
	got, err := l.BulkUpdate(context.Background(), map[model.DialerPhoneNumber]model.PhoneLookupInfo{
		b:    {DefaultCp2: &model.Cp2Info{IsIncomplete: true}},
		jane: {DefaultCp2: &model.Cp2Info{}},
	}, future)
	require.NoError(t, err)

	require.Contains(t, got, b, "no contact changed, yet the incomplete entry is finished")
	assert.False(t, got[b].DefaultCp2.IsIncomplete)
	require.Len(t, got[b].DefaultCp2.Contacts, 1)
	assert.Equal(t, "Pizza Place", got[b].DefaultCp2.Contacts[0].Name)
	assert.NotContains(t, got, jane)
}

func TestIsDirty(t *testing.T) {
	d := newDevice(t)
	id := addContact(t, d, "Jane Doe", "650-253-0000")
	l := New(d)
	ctx := context.Background()

	jane := phonenumber.Parse("6502530000", "US")
	stranger := phonenumber.Parse("6502530001", "US")

	dirty, err := l.IsDirty(ctx, []model.DialerPhoneNumber{stranger}, future)
	require.NoError(t, err)
	assert.False(t, dirty, "nothing changed after the watermark")

	dirty, err = l.IsDirty(ctx, []model.DialerPhoneNumber{stranger}, past)
	require.NoError(t, err)
	assert.True(t, dirty, "no bulk update has been recorded yet")

	_, err = l.BulkUpdate(ctx, map[model.DialerPhoneNumber]model.PhoneLookupInfo{stranger: {}}, past)
	require.NoError(t, err)
	require.NoError(t, l.OnSuccessfulBulkUpdate(ctx))

	dirty, err = l.IsDirty(ctx, []model.DialerPhoneNumber{stranger}, past)
	require.NoError(t, err)
	assert.False(t, dirty, "the modified contact is unrelated")

	dirty, err = l.IsDirty(ctx, []model.DialerPhoneNumber{jane, stranger}, past)
	require.NoError(t, err)
	assert.True(t, dirty)

	require.NoError(t, d.DeleteContact(ctx, id))
	dirty, err = l.IsDirty(ctx, []model.DialerPhoneNumber{stranger}, past)
	require.NoError(t, err)
	assert.True(t, dirty, "any deletion is dirty")
}

type counter struct{ n int }

func (c *counter) MarkDirtyAndNotify() { c.n++ }

func TestContentObservers(t *testing.T) {
	d := newDevice(t)
	l := New(d)
	cb := &counter{}

	l.RegisterContentObservers(cb)
	addContact(t, d, "Jane Doe", "650-253-0000")
	assert.Equal(t, 1, cb.n)

	l.UnregisterContentObservers()
	addContact(t, d, "John Roe", "650-253-0001")
	assert.Equal(t, 1, cb.n)
}
