package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/0xfell/ditox/internal/clip"
	"github.com/0xfell/ditox/internal/ditoxerr"
)

func intPtr(v int) *int { return &v }

func open(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	st, err := Open(filepath.Join(dir, "ditox.db"), filepath.Join(dir, "objects"), "device-a")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func TestAddText_PersistsAndRoundTrips(t *testing.T) {
	st := open(t)
	ctx := context.Background()

	c, err := st.AddText(ctx, "hello world", false)
	require.NoError(t, err)
	require.NotEmpty(t, c.ID)

	got, err := st.Get(ctx, c.ID)
	require.NoError(t, err)
	require.Equal(t, "hello world", got.Text)
	require.Equal(t, clip.KindText, got.Kind)
}

func TestAddText_RejectsEmptyUnlessAllowed(t *testing.T) {
	st := open(t)
	ctx := context.Background()

	_, err := st.AddText(ctx, "", false)
	require.Error(t, err)
	require.True(t, ditoxerr.Is(err, ditoxerr.InvalidInput))

	_, err = st.AddText(ctx, "", true)
	require.NoError(t, err)
}

func TestAddImage_StoresBlobAndMetadata(t *testing.T) {
	st := open(t)
	ctx := context.Background()

	rgba := make([]byte, 4*4*4)
	c, err := st.AddImage(ctx, clip.CreateImageInput{RGBA: rgba, Width: 4, Height: 4})
	require.NoError(t, err)
	require.True(t, c.IsImage)
	require.NotNil(t, c.Image)
	require.NotEmpty(t, c.Image.SHA256)

	got, err := st.Get(ctx, c.ID)
	require.NoError(t, err)
	require.True(t, got.IsImage)
}

func TestGet_NotFound(t *testing.T) {
	st := open(t)
	_, err := st.Get(context.Background(), "missing")
	require.Error(t, err)
	require.True(t, ditoxerr.Is(err, ditoxerr.NotFound))
}

func TestList_OrdersByRecencyAndRespectsFilters(t *testing.T) {
	st := open(t)
	ctx := context.Background()

	a, err := st.AddText(ctx, "first", false)
	require.NoError(t, err)
	_, err = st.AddText(ctx, "second", false)
	require.NoError(t, err)

	require.NoError(t, st.Favorite(ctx, a.ID, true))

	favs, err := st.List(ctx, clip.ListFilter{Favorites: true})
	require.NoError(t, err)
	require.Len(t, favs, 1)
	require.Equal(t, a.ID, favs[0].ID)

	all, err := st.List(ctx, clip.ListFilter{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	require.Equal(t, "second", all[0].Text) // most recently created first
}

func TestSearch_FallsBackToLikeAndHonorsEmptyQueryRule(t *testing.T) {
	st := open(t)
	ctx := context.Background()
	st.fts = false // force the LIKE fallback path regardless of build FTS5 support

	_, err := st.AddText(ctx, "the quick brown fox", false)
	require.NoError(t, err)
	_, err = st.AddText(ctx, "lazy dog", false)
	require.NoError(t, err)

	results, err := st.Search(ctx, clip.SearchFilter{Query: "fox"})
	require.NoError(t, err)
	require.Len(t, results, 1)

	empty, err := st.Search(ctx, clip.SearchFilter{Query: ""})
	require.NoError(t, err)
	require.Empty(t, empty)
}

func TestSearch_IsFavoriteFilterToken(t *testing.T) {
	st := open(t)
	ctx := context.Background()
	st.fts = false

	c, err := st.AddText(ctx, "keep me", false)
	require.NoError(t, err)
	require.NoError(t, st.Favorite(ctx, c.ID, true))
	_, err = st.AddText(ctx, "also keep", false)
	require.NoError(t, err)

	results, err := st.Search(ctx, clip.SearchFilter{Query: "is:fav"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, c.ID, results[0].ID)
}

func TestFavorite_NotFoundWhenMissing(t *testing.T) {
	st := open(t)
	err := st.Favorite(context.Background(), "missing", true)
	require.True(t, ditoxerr.Is(err, ditoxerr.NotFound))
}

func TestDelete_SoftDeletesAndExcludesFromList(t *testing.T) {
	st := open(t)
	ctx := context.Background()

	c, err := st.AddText(ctx, "gone soon", false)
	require.NoError(t, err)
	require.NoError(t, st.Delete(ctx, c.ID))

	list, err := st.List(ctx, clip.ListFilter{})
	require.NoError(t, err)
	require.Empty(t, list)

	err = st.Delete(ctx, c.ID)
	require.True(t, ditoxerr.Is(err, ditoxerr.NotFound))
}

func TestPrune_KeepsFavoritesAndRespectsMaxItems(t *testing.T) {
	st := open(t)
	ctx := context.Background()

	var ids []string
	for i := 0; i < 3; i++ {
		c, err := st.AddText(ctx, "clip", false)
		require.NoError(t, err)
		ids = append(ids, c.ID)
		time.Sleep(time.Millisecond)
	}
	require.NoError(t, st.Favorite(ctx, ids[0], true))

	removed, err := st.Prune(ctx, clip.PruneOptions{MaxItems: intPtr(1), KeepFavorites: true})
	require.NoError(t, err)
	require.Equal(t, 1, removed)

	remaining, err := st.List(ctx, clip.ListFilter{})
	require.NoError(t, err)
	require.Len(t, remaining, 2) // the favorite plus the most recent non-favorite
}

func TestPrune_MaxItemsZeroKeepsOnlyFavorites(t *testing.T) {
	st := open(t)
	ctx := context.Background()

	fav, err := st.AddText(ctx, "keep me", false)
	require.NoError(t, err)
	require.NoError(t, st.Favorite(ctx, fav.ID, true))
	_, err = st.AddText(ctx, "drop me", false)
	require.NoError(t, err)

	removed, err := st.Prune(ctx, clip.PruneOptions{MaxItems: intPtr(0), KeepFavorites: true})
	require.NoError(t, err)
	require.Equal(t, 1, removed)

	remaining, err := st.List(ctx, clip.ListFilter{})
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	require.Equal(t, fav.ID, remaining[0].ID)
}

func TestSetTagsAndGetTags_RoundTrip(t *testing.T) {
	st := open(t)
	ctx := context.Background()

	c, err := st.AddText(ctx, "tagged", false)
	require.NoError(t, err)

	require.NoError(t, st.SetTags(ctx, c.ID, []string{"work", "todo"}))
	tags, err := st.GetTags(ctx, c.ID)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"work", "todo"}, tags)

	all, err := st.ListTags(ctx)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"work", "todo"}, all)

	require.NoError(t, st.SetTags(ctx, c.ID, []string{"work"}))
	tags, err = st.GetTags(ctx, c.ID)
	require.NoError(t, err)
	require.Equal(t, []string{"work"}, tags)
}

func TestExportImport_RoundTripsClipsAndTags(t *testing.T) {
	src := open(t)
	ctx := context.Background()

	c, err := src.AddText(ctx, "exported clip", false)
	require.NoError(t, err)
	require.NoError(t, src.SetTags(ctx, c.ID, []string{"archive"}))

	dir := t.TempDir()
	require.NoError(t, src.Export(ctx, dir, clip.ExportFilter{}))

	dst := open(t)
	imported, err := dst.Import(ctx, dir, clip.ImportOptions{})
	require.NoError(t, err)
	require.Equal(t, 1, imported)

	list, err := dst.List(ctx, clip.ListFilter{})
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, "exported clip", list[0].Text)

	tags, err := dst.GetTags(ctx, list[0].ID)
	require.NoError(t, err)
	require.Equal(t, []string{"archive"}, tags)
}

func TestImport_DedupeByIDSkipsExisting(t *testing.T) {
	src := open(t)
	ctx := context.Background()
	_, err := src.AddText(ctx, "dupe me", false)
	require.NoError(t, err)

	dir := t.TempDir()
	require.NoError(t, src.Export(ctx, dir, clip.ExportFilter{}))

	dst := open(t)
	first, err := dst.Import(ctx, dir, clip.ImportOptions{KeepIDs: true})
	require.NoError(t, err)
	require.Equal(t, 1, first)

	second, err := dst.Import(ctx, dir, clip.ImportOptions{KeepIDs: true, Dedupe: clip.DedupeByID})
	require.NoError(t, err)
	require.Equal(t, 0, second)
}

func TestListTextUpdatedSinceAndIngestRemote_ApplyLWW(t *testing.T) {
	st := open(t)
	ctx := context.Background()

	c, err := st.AddText(ctx, "local body", false)
	require.NoError(t, err)

	rows, err := st.ListTextUpdatedSince(ctx, 0, 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)

	older := &clip.Clip{ID: c.ID, Text: "stale remote", Lamport: c.Lamport - 1, UpdatedAt: c.CreatedAt.Add(-time.Hour), DeviceID: "device-b"}
	applied, err := st.IngestRemote(ctx, older)
	require.NoError(t, err)
	require.False(t, applied)

	newer := &clip.Clip{ID: c.ID, Text: "fresher remote", Lamport: c.Lamport + 1, UpdatedAt: c.CreatedAt.Add(time.Hour), DeviceID: "device-b"}
	applied, err = st.IngestRemote(ctx, newer)
	require.NoError(t, err)
	require.True(t, applied)

	got, err := st.Get(ctx, c.ID)
	require.NoError(t, err)
	require.Equal(t, "fresher remote", got.Text)
}

func TestSyncState_RoundTrips(t *testing.T) {
	st := open(t)
	ctx := context.Background()

	want := clip.SyncState{
		LastPushUpdatedAt: time.Now().Add(-time.Minute).UTC().Truncate(time.Second),
		LastPullUpdatedAt: time.Now().UTC().Truncate(time.Second),
		LastError:         "",
		LastPushOp:        "push",
	}
	require.NoError(t, st.SetSyncState(ctx, want))

	got, err := st.SyncState(ctx)
	require.NoError(t, err)
	require.True(t, want.LastPushUpdatedAt.Equal(got.LastPushUpdatedAt))
	require.True(t, want.LastPullUpdatedAt.Equal(got.LastPullUpdatedAt))
	require.Equal(t, want.LastPushOp, got.LastPushOp)
}

func TestOpen_SeedsLamportFromExistingRowsAcrossRestart(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "ditox.db")
	objectsDir := filepath.Join(dir, "objects")
	ctx := context.Background()

	first, err := Open(dbPath, objectsDir, "device-a")
	require.NoError(t, err)
	c, err := first.AddText(ctx, "one", false)
	require.NoError(t, err)
	// Push the row's lamport well past what a freshly zeroed counter would produce.
	for i := 0; i < 5; i++ {
		require.NoError(t, first.Favorite(ctx, c.ID, i%2 == 0))
	}
	before, err := first.Get(ctx, c.ID)
	require.NoError(t, err)
	require.NoError(t, first.Close())

	reopened, err := Open(dbPath, objectsDir, "device-a")
	require.NoError(t, err)
	t.Cleanup(func() { reopened.Close() })

	require.NoError(t, reopened.Favorite(ctx, c.ID, true))
	after, err := reopened.Get(ctx, c.ID)
	require.NoError(t, err)
	require.Greater(t, after.Lamport, before.Lamport)
}

func TestSelfCheck_ReportsDeviceAndSchemaVersion(t *testing.T) {
	st := open(t)
	report, err := st.SelfCheck(context.Background())
	require.NoError(t, err)
	require.Equal(t, "device-a", report.DeviceID)
	require.Greater(t, report.SchemaVersion, 0)
}

func TestClearAll_TombstonesEveryClip(t *testing.T) {
	st := open(t)
	ctx := context.Background()

	_, err := st.AddText(ctx, "one", false)
	require.NoError(t, err)
	_, err = st.AddText(ctx, "two", false)
	require.NoError(t, err)

	require.NoError(t, st.ClearAll(ctx))

	list, err := st.List(ctx, clip.ListFilter{})
	require.NoError(t, err)
	require.Empty(t, list)
}
