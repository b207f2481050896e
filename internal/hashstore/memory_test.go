package hashstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryBackendDetectsDuplicatesWithinRun(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	backend := NewMemoryBackend()

	store, err := Open(ctx, backend, Options{FlushThreshold: MinFlushThreshold})
	require.NoError(t, err)
	require.NoError(t, store.Insert(ctx, fileHash("d1", "/a")))

	got, ok := store.Lookup("d1")
	require.True(t, ok)
	assert.Equal(t, "/a", got.Location)

	require.NoError(t, store.Close(ctx))
	snap, exists, err := backend.Load(ctx)
	require.NoError(t, err)
	assert.True(t, exists)
	assert.Equal(t, 1, snap.Len())
}
