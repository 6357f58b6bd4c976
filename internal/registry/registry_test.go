package registry

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	mu       sync.Mutex
	devices  []Device
	maxKeys  int
	queries  [][]string
	loggedIn int
}

func (s *fakeSource) LoggedInDevices(ctx context.Context) ([]Device, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loggedIn++
	var out []Device
	for _, d := range s.devices {
		if d.LoggedIn {
			out = append(out, d)
		}
	}
	return out, nil
}

func (s *fakeSource) DevicesByOwners(ctx context.Context, ownerIDs []string) ([]Device, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.maxKeys > 0 && len(ownerIDs) > s.maxKeys {
		return nil, fmt.Errorf("query with %d keys exceeds cap %d", len(ownerIDs), s.maxKeys)
	}
	s.queries = append(s.queries, ownerIDs)
	want := make(map[string]bool, len(ownerIDs))
	for _, id := range ownerIDs {
		want[id] = true
	}
	var out []Device
	for _, d := range s.devices {
		if want[d.OwnerID] {
			out = append(out, d)
		}
	}
	return out, nil
}

func token(i int) string { return fmt.Sprintf("ExponentPushToken[%03d]", i) }

func TestResolve_AllLoggedInDedupesSharedAddress(t *testing.T) {
	src := &fakeSource{devices: []Device{
		{Address: token(1), OwnerID: "u1", LoggedIn: true},
		{Address: token(1), OwnerID: "u2", LoggedIn: true},
		{Address: token(1), LoggedIn: true},
		{Address: token(2), OwnerID: "u3", LoggedIn: false},
	}}
	r := New(src, Config{}, nil)

	devs, err := r.Resolve(context.Background(), AllLoggedIn())
	require.NoError(t, err)
	require.Len(t, devs, 1)
	assert.Equal(t, token(1), devs[0].Address)
	assert.Equal(t, "u1", devs[0].OwnerID, "first seen wins")
}

func TestResolve_DropsMalformedAddressesSilently(t *testing.T) {
	src := &fakeSource{devices: []Device{
		{Address: "not-a-token", LoggedIn: true},
		{Address: "", LoggedIn: true},
		{Address: token(7), LoggedIn: true},
	}}
	devs, err := New(src, Config{}, nil).Resolve(context.Background(), AllLoggedIn())
	require.NoError(t, err)
	assert.Equal(t, []string{token(7)}, Addresses(devs))
}

func TestResolve_OwnedByPagesAroundKeyCap(t *testing.T) {
	src := &fakeSource{maxKeys: 10}
	var uids []string
	for i := 0; i < 21; i++ {
		uid := fmt.Sprintf("u%02d", i)
		uids = append(uids, uid)
		src.devices = append(src.devices, Device{Address: token(i), OwnerID: uid, LoggedIn: true})
	}
	// Two devices share one address across owners in different pages.
	src.devices = append(src.devices, Device{Address: token(3), OwnerID: "u20", LoggedIn: true})

	devs, err := New(src, Config{MaxKeysPerQuery: 10}, nil).Resolve(context.Background(), OwnedBy(uids...))
	require.NoError(t, err)

	require.Len(t, src.queries, 3)
	assert.Len(t, src.queries[0], 10)
	assert.Len(t, src.queries[1], 10)
	assert.Len(t, src.queries[2], 1)

	got := Addresses(devs)
	assert.Len(t, got, 21, "no omissions")
	for i := 0; i < 21; i++ {
		assert.Contains(t, got, token(i))
	}
}

func TestResolve_OwnedByCollapsesDuplicateUIDs(t *testing.T) {
	src := &fakeSource{devices: []Device{{Address: token(1), OwnerID: "a"}}}
	devs, err := New(src, Config{MaxKeysPerQuery: 10}, nil).Resolve(context.Background(), OwnedBy("a", "a", "", "a"))
	require.NoError(t, err)
	require.Len(t, src.queries, 1)
	assert.Equal(t, []string{"a"}, src.queries[0])
	assert.Len(t, devs, 1)
}

func TestResolve_Single(t *testing.T) {
	r := New(&fakeSource{}, Config{}, nil)

	devs, err := r.Resolve(context.Background(), Single(token(9)))
	require.NoError(t, err)
	assert.Equal(t, []string{token(9)}, Addresses(devs))

	devs, err = r.Resolve(context.Background(), Single("garbage"))
	require.NoError(t, err)
	assert.Empty(t, devs)
}

func TestResolve_InvalidSelector(t *testing.T) {
	r := New(&fakeSource{}, Config{}, nil)
	_, err := r.Resolve(context.Background(), OwnedBy())
	assert.Error(t, err)
	_, err = r.Resolve(context.Background(), Selector{Kind: "everyone"})
	assert.Error(t, err)
}

func TestResolve_CacheServesRepeatedSelectors(t *testing.T) {
	src := &fakeSource{devices: []Device{{Address: token(1), LoggedIn: true}}}
	r := New(src, Config{CacheTTL: time.Minute}, nil)

	for i := 0; i < 3; i++ {
		_, err := r.Resolve(context.Background(), AllLoggedIn())
		require.NoError(t, err)
	}
	assert.Equal(t, 1, src.loggedIn)
}

func TestPartition(t *testing.T) {
	devs := []Device{
		{Address: token(1), OwnerID: "leader"},
		{Address: token(2), OwnerID: "other"},
		{Address: token(3)},
		{Address: token(4), OwnerID: "leader"},
	}
	owned, others := Partition(devs, "leader")
	assert.Equal(t, []string{token(1), token(4)}, Addresses(owned))
	assert.Equal(t, []string{token(2), token(3)}, Addresses(others))

	owned, others = Partition(devs, "")
	assert.Empty(t, owned)
	assert.Len(t, others, 4)
}

func TestSelector_Empty(t *testing.T) {
	assert.True(t, OwnedBy().Empty())
	assert.False(t, OwnedBy("u1").Empty())
	assert.False(t, AllLoggedIn().Empty())
	assert.False(t, Single(token(1)).Empty())
}
