package blobstore

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPut_IsIdempotentAndContentAddressed(t *testing.T) {
	store, err := New(t.TempDir())
	require.NoError(t, err)

	data := []byte("hello image bytes")
	digest1, err := store.Put(data)
	require.NoError(t, err)

	digest2, err := store.Put(data)
	require.NoError(t, err)
	require.Equal(t, digest1, digest2)

	require.True(t, store.Exists(digest1))
	require.NoError(t, store.Verify(digest1))
}

func TestPath_ShardsByFirstTwoHexBytes(t *testing.T) {
	store, err := New(t.TempDir())
	require.NoError(t, err)

	digest, err := store.Put([]byte("x"))
	require.NoError(t, err)

	path := store.Path(digest)
	require.Contains(t, path, "/"+digest[0:2]+"/"+digest[2:4]+"/"+digest)
}

func TestOpen_NotFound(t *testing.T) {
	store, err := New(t.TempDir())
	require.NoError(t, err)

	_, err = store.Open("deadbeef")
	require.Error(t, err)
}
