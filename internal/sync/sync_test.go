package sync

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/0xfell/ditox/internal/clip"
	"github.com/0xfell/ditox/internal/clipstore"
)

type fakeRemote struct {
	mu   sync.Mutex
	rows map[string]*clip.Clip
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{rows: map[string]*clip.Clip{}}
}

func (r *fakeRemote) PullSince(ctx context.Context, since time.Time, limit int) ([]*clip.Clip, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*clip.Clip
	for _, c := range r.rows {
		if c.UpdatedAt.After(since) {
			out = append(out, c)
		}
	}
	return out, nil
}

func (r *fakeRemote) Upsert(ctx context.Context, c *clip.Clip) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	existing, ok := r.rows[c.ID]
	if ok && !LWWLess(existing, c) {
		return false, nil
	}
	cp := *c
	r.rows[c.ID] = &cp
	return true, nil
}

func (r *fakeRemote) Close() error { return nil }

type fakeSyncStore struct {
	mu         sync.Mutex
	localRows  []*clip.Clip
	ingested   []*clip.Clip
	state      clip.SyncState
}

func (f *fakeSyncStore) ListTextUpdatedSince(ctx context.Context, since int64, limit int) ([]*clip.Clip, error) {
	var out []*clip.Clip
	for _, c := range f.localRows {
		if c.UpdatedAt.UnixNano() > since {
			out = append(out, c)
		}
	}
	return out, nil
}

func (f *fakeSyncStore) IngestRemote(ctx context.Context, remote *clip.Clip) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ingested = append(f.ingested, remote)
	return true, nil
}

func (f *fakeSyncStore) SyncState(ctx context.Context) (clip.SyncState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state, nil
}

func (f *fakeSyncStore) SetSyncState(ctx context.Context, state clip.SyncState) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state = state
	return nil
}

// The remaining ClipStore methods are unused by the sync engine.
func (f *fakeSyncStore) AddText(ctx context.Context, body string, allowEmpty bool) (*clip.Clip, error) {
	return nil, nil
}
func (f *fakeSyncStore) AddImage(ctx context.Context, input clip.CreateImageInput) (*clip.Clip, error) {
	return nil, nil
}
func (f *fakeSyncStore) Get(ctx context.Context, id string) (*clip.Clip, error) { return nil, nil }
func (f *fakeSyncStore) List(ctx context.Context, filter clip.ListFilter) ([]*clip.Clip, error) {
	return nil, nil
}
func (f *fakeSyncStore) Search(ctx context.Context, filter clip.SearchFilter) ([]*clip.Clip, error) {
	return nil, nil
}
func (f *fakeSyncStore) Favorite(ctx context.Context, id string, value bool) error { return nil }
func (f *fakeSyncStore) TouchLastUsed(ctx context.Context, id string) error        { return nil }
func (f *fakeSyncStore) Delete(ctx context.Context, id string) error               { return nil }
func (f *fakeSyncStore) ClearAll(ctx context.Context) error                        { return nil }
func (f *fakeSyncStore) Prune(ctx context.Context, opts clip.PruneOptions) (int, error) {
	return 0, nil
}
func (f *fakeSyncStore) SetTags(ctx context.Context, id string, names []string) error { return nil }
func (f *fakeSyncStore) GetTags(ctx context.Context, id string) ([]string, error)     { return nil, nil }
func (f *fakeSyncStore) ListTags(ctx context.Context) ([]string, error)              { return nil, nil }
func (f *fakeSyncStore) Export(ctx context.Context, dir string, filter clip.ExportFilter) error {
	return nil
}
func (f *fakeSyncStore) Import(ctx context.Context, dirOrFile string, opts clip.ImportOptions) (int, error) {
	return 0, nil
}
func (f *fakeSyncStore) SelfCheck(ctx context.Context) (clipstore.SelfCheckReport, error) {
	return clipstore.SelfCheckReport{}, nil
}
func (f *fakeSyncStore) Close() error { return nil }

var _ clipstore.ClipStore = (*fakeSyncStore)(nil)

func TestEngine_PushAdvancesCheckpointToMaxUpdatedAt(t *testing.T) {
	now := time.Now()
	store := &fakeSyncStore{localRows: []*clip.Clip{
		{ID: "a", UpdatedAt: now, Lamport: 1, DeviceID: "dev1"},
		{ID: "b", UpdatedAt: now.Add(time.Second), Lamport: 1, DeviceID: "dev1"},
	}}
	remote := newFakeRemote()
	e := New(store, remote, nil, Options{})

	require.NoError(t, e.Run(context.Background(), ModePushOnly))

	require.True(t, store.state.LastPushUpdatedAt.Equal(now.Add(time.Second)))
	require.Len(t, remote.rows, 2)
}

func TestEngine_PullIngestsNewerRemoteRows(t *testing.T) {
	now := time.Now()
	store := &fakeSyncStore{}
	remote := newFakeRemote()
	remote.rows["x"] = &clip.Clip{ID: "x", UpdatedAt: now, Lamport: 1, DeviceID: "dev2"}
	e := New(store, remote, nil, Options{})

	require.NoError(t, e.Run(context.Background(), ModePullOnly))

	require.Len(t, store.ingested, 1)
	require.Equal(t, "x", store.ingested[0].ID)
	require.True(t, store.state.LastPullUpdatedAt.Equal(now))
}

func TestLWWLess_OrdersByLamportThenTimeThenDevice(t *testing.T) {
	a := &clip.Clip{Lamport: 1, DeviceID: "a"}
	b := &clip.Clip{Lamport: 2, DeviceID: "a"}
	require.True(t, LWWLess(a, b))
	require.False(t, LWWLess(b, a))

	earlier := &clip.Clip{Lamport: 1, UpdatedAt: time.Unix(10, 0), DeviceID: "a"}
	later := &clip.Clip{Lamport: 1, UpdatedAt: time.Unix(20, 0), DeviceID: "a"}
	require.True(t, LWWLess(earlier, later))
	require.False(t, LWWLess(later, earlier))

	otherDevice := &clip.Clip{Lamport: 1, UpdatedAt: time.Unix(10, 0), DeviceID: "b"}
	require.True(t, LWWLess(earlier, otherDevice))
	require.False(t, LWWLess(otherDevice, earlier))
}

func TestEngine_NextBackoffDoublesAndCaps(t *testing.T) {
	e := New(&fakeSyncStore{}, newFakeRemote(), nil, Options{})
	first := e.NextBackoff()
	require.Equal(t, minBackoff, first)
	second := e.NextBackoff()
	require.Equal(t, 2*minBackoff, second)
}
