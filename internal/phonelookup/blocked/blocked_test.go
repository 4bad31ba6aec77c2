package blocked

import (
	"context"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/annotated-calllog/internal/device"
	"github.com/sells-group/annotated-calllog/internal/model"
)

type fakeProvider struct {
	blocked map[string]bool
	err     error
	subs    map[device.Topic]func()
}

func (f *fakeProvider) BlockedAmong(_ context.Context, normalized []string) (map[string]bool, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make(map[string]bool)
	for _, n := range normalized {
		if f.blocked[n] {
			out[n] = true
		}
	}
	return out, nil
}

func (f *fakeProvider) Subscribe(topic device.Topic, fn func()) func() {
	if f.subs == nil {
		f.subs = make(map[device.Topic]func())
	}
	f.subs[topic] = fn
	return func() { delete(f.subs, topic) }
}

var (
	numA = model.DialerPhoneNumber{NormalizedNumber: "+16502530001", CountryISO: "US"}
	numB = model.DialerPhoneNumber{NormalizedNumber: "+16502530002", CountryISO: "US"}
)

func TestBulkUpdate(t *testing.T) {
	p := &fakeProvider{blocked: map[string]bool{numA.NormalizedNumber: true}}
	l := New(p)

	got, err := l.BulkUpdate(context.Background(), map[model.DialerPhoneNumber]model.PhoneLookupInfo{
		numA: {},
		numB: {BlockedNumber: &model.BlockedNumberInfo{State: model.BlockedNotBlocked}},
	}, time.Time{})
	require.NoError(t, err)

	require.Len(t, got, 1, "unchanged numbers are omitted")
	assert.Equal(t, model.BlockedBlocked, got[numA].BlockedNumber.State)
}

func TestBulkUpdate_Unblocked(t *testing.T) {
	l := New(&fakeProvider{})

	got, err := l.BulkUpdate(context.Background(), map[model.DialerPhoneNumber]model.PhoneLookupInfo{
		numA: {BlockedNumber: &model.BlockedNumberInfo{State: model.BlockedBlocked}},
	}, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, model.BlockedNotBlocked, got[numA].BlockedNumber.State)
}

func TestBulkUpdate_Error(t *testing.T) {
	l := New(&fakeProvider{err: eris.New("disk gone")})

	_, err := l.BulkUpdate(context.Background(), map[model.DialerPhoneNumber]model.PhoneLookupInfo{numA: {}}, time.Time{})
	assert.Error(t, err)
}

func TestLookup(t *testing.T) {
	l := New(&fakeProvider{blocked: map[string]bool{numA.NormalizedNumber: true}})

	info, err := l.Lookup(context.Background(), numA)
	require.NoError(t, err)
	assert.Equal(t, model.BlockedBlocked, info.BlockedNumber.State)

	info, err = l.Lookup(context.Background(), model.DialerPhoneNumber{})
	require.NoError(t, err)
	assert.Equal(t, model.BlockedNotBlocked, info.BlockedNumber.State)
}

type counter struct{ n int }

func (c *counter) MarkDirtyAndNotify() { c.n++ }

func TestContentObservers(t *testing.T) {
	p := &fakeProvider{}
	l := New(p)
	cb := &counter{}

	l.RegisterContentObservers(cb)
	require.Contains(t, p.subs, device.TopicBlocked)
	p.subs[device.TopicBlocked]()
	assert.Equal(t, 1, cb.n)

	l.UnregisterContentObservers()
	assert.NotContains(t, p.subs, device.TopicBlocked)

	dirty, err := l.IsDirty(context.Background(), []model.DialerPhoneNumber{numA}, time.Time{})
	require.NoError(t, err)
	assert.False(t, dirty)
}
