package hashstore

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/submission-downloader/internal/downloader"
)

func TestFlatRoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	dir := t.TempDir()

	store, err := Open(ctx, NewFlatBackend(dir, downloader.AlgorithmMD5), Options{})
	require.NoError(t, err)
	require.NoError(t, store.Insert(ctx, fileHash("aaa", "/data/a.jpg")))
	require.NoError(t, store.Insert(ctx, fileHash("aaa", "/data/a-copy.jpg")))
	require.NoError(t, store.Insert(ctx, fileHash("bbb", "/data/b.png")))
	require.NoError(t, store.Insert(ctx, downloader.ResourceHash{
		Digest:    "bbb",
		Algorithm: downloader.AlgorithmMD5,
		Location:  "https://i.redd.it/b.png",
		Kind:      downloader.SourceURL,
	}))
	before := store.Snapshot()
	require.NoError(t, store.Close(ctx))

	for _, name := range []string{CombinedFile, FileHashFile, URLHashFile} {
		assert.FileExists(t, filepath.Join(dir, name))
	}

	reopened, err := Open(ctx, NewFlatBackend(dir, downloader.AlgorithmMD5), Options{})
	require.NoError(t, err)
	assert.Equal(t, before, reopened.Snapshot())
	assert.True(t, reopened.HasLocation("/data/a-copy.jpg"))
}

func TestFlatLoadMissingReportsNotExisting(t *testing.T) {
	t.Parallel()

	snap, exists, err := NewFlatBackend(t.TempDir(), "").Load(context.Background())
	require.NoError(t, err)
	assert.False(t, exists)
	assert.Zero(t, snap.Len())
}

func TestFlatCorruptCombinedFile(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, CombinedFile), []byte("{not json"), 0o600))

	_, err := Open(context.Background(), NewFlatBackend(dir, ""), Options{})
	require.Error(t, err)
	assert.ErrorIs(t, err, downloader.ErrCorruptHashStore)
	assert.Equal(t, "corrupt_hash_store", downloader.Classify(err))
}

func TestFlatLoadsSplitFilesWithoutCombined(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, FileHashFile),
		[]byte(`{"aaa": "/data/a.jpg", "bbb": "/data/b.jpg"}`), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, URLHashFile),
		[]byte(`{"https://example.com/a.jpg": "aaa"}`), 0o600))

	store, err := Open(context.Background(), NewFlatBackend(dir, downloader.AlgorithmMD5), Options{})
	require.NoError(t, err)

	got, ok := store.Lookup("bbb")
	require.True(t, ok)
	assert.Equal(t, "/data/b.jpg", got.Location)
	assert.Equal(t, downloader.AlgorithmMD5, got.Algorithm)

	url, ok := store.LookupURL("https://example.com/a.jpg")
	require.True(t, ok)
	assert.Equal(t, "aaa", url.Digest)
}

func TestFlatCombinedFileWins(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	dir := t.TempDir()
	backend := NewFlatBackend(dir, downloader.AlgorithmMD5)

	require.NoError(t, backend.Save(ctx, Snapshot{Records: []Record{
		{Digest: "aaa", Algorithm: downloader.AlgorithmMD5, Location: "/data/a.jpg", Kind: downloader.SourceFile},
	}}))
	// A split file left newer than the combined one by an interrupted save is ignored.
	require.NoError(t, os.WriteFile(filepath.Join(dir, FileHashFile), []byte(`{"zzz": "/data/z.jpg"}`), 0o600))

	snap, exists, err := backend.Load(ctx)
	require.NoError(t, err)
	require.True(t, exists)
	require.Len(t, snap.Records, 1)
	assert.Equal(t, "aaa", snap.Records[0].Digest)
}

func TestFlatRetireAndBackingFiles(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	dir := t.TempDir()
	backend := NewFlatBackend(dir, "")
	require.NoError(t, backend.Save(ctx, Snapshot{}))

	assert.True(t, backend.IsBackingFile(filepath.Join(dir, CombinedFile)))
	assert.False(t, backend.IsBackingFile(filepath.Join(dir, "photo.jpg")))

	require.NoError(t, backend.Retire())
	assert.NoFileExists(t, filepath.Join(dir, CombinedFile))
	assert.FileExists(t, filepath.Join(dir, CombinedFile+migratedSuffix))
	assert.True(t, backend.IsBackingFile(filepath.Join(dir, CombinedFile+migratedSuffix)))

	_, exists, err := backend.Load(ctx)
	require.NoError(t, err)
	assert.False(t, exists)
}
