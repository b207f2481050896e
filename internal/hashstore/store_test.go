package hashstore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/submission-downloader/internal/downloader"
)

type fakeBackend struct {
	mu      sync.Mutex
	snap    Snapshot
	exists  bool
	saves   []Snapshot
	loadErr error
	saveErr error
	closed  bool
}

func (f *fakeBackend) Name() string { return "fake" }

func (f *fakeBackend) Load(context.Context) (Snapshot, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snap, f.exists, f.loadErr
}

func (f *fakeBackend) Save(_ context.Context, snap Snapshot) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveErr != nil {
		return f.saveErr
	}
	f.saves = append(f.saves, snap)
	f.snap = snap
	f.exists = true
	return nil
}

func (f *fakeBackend) Close() error {
	f.closed = true
	return nil
}

func (f *fakeBackend) saveCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.saves)
}

func fileHash(digest, location string) downloader.ResourceHash {
	return downloader.ResourceHash{
		Digest:    digest,
		Algorithm: downloader.AlgorithmMD5,
		Location:  location,
		Size:      int64(len(digest)),
		Kind:      downloader.SourceFile,
	}
}

func seededBackend(n int) *fakeBackend {
	b := &fakeBackend{exists: n > 0}
	for i := 0; i < n; i++ {
		b.snap.Records = append(b.snap.Records, Record{
			Digest:    fmt.Sprintf("seed-%02d", i),
			Algorithm: downloader.AlgorithmMD5,
			Location:  fmt.Sprintf("/data/seed-%02d.jpg", i),
			Kind:      downloader.SourceFile,
		})
	}
	return b
}

func TestClampThreshold(t *testing.T) {
	t.Parallel()

	cases := map[int]int{
		-5:   DefaultFlushThreshold,
		0:    DefaultFlushThreshold,
		1:    MinFlushThreshold,
		10:   10,
		250:  250,
		1000: 1000,
		5000: MaxFlushThreshold,
	}
	for in, want := range cases {
		assert.Equal(t, want, ClampThreshold(in), "ClampThreshold(%d)", in)
	}
}

func TestInsertFlushesOnceAtThreshold(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	backend := seededBackend(37)
	store, err := Open(ctx, backend, Options{FlushThreshold: 10})
	require.NoError(t, err)
	require.Equal(t, 37, store.Len())

	for i := 0; i < 9; i++ {
		require.NoError(t, store.Insert(ctx, fileHash(fmt.Sprintf("new-%02d", i), fmt.Sprintf("/data/new-%02d.jpg", i))))
	}
	assert.Equal(t, 0, backend.saveCount())
	assert.Equal(t, 9, store.Dirty())

	require.NoError(t, store.Insert(ctx, fileHash("new-09", "/data/new-09.jpg")))
	assert.Equal(t, 1, backend.saveCount(), "the tenth insert flushes exactly once")
	assert.Equal(t, 0, store.Dirty())
	assert.Len(t, backend.saves[0].Files(), 47)

	for i := 10; i < 19; i++ {
		require.NoError(t, store.Insert(ctx, fileHash(fmt.Sprintf("new-%02d", i), fmt.Sprintf("/data/new-%02d.jpg", i))))
	}
	assert.Equal(t, 1, backend.saveCount(), "inserts after the flush count toward the next threshold")
	assert.Equal(t, 9, store.Dirty())
}

func TestInsertIgnoresExactDuplicates(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	store, err := Open(ctx, &fakeBackend{}, Options{FlushThreshold: 10})
	require.NoError(t, err)

	h := fileHash("abc", "/data/a.jpg")
	require.NoError(t, store.Insert(ctx, h))
	require.NoError(t, store.Insert(ctx, h))
	assert.Equal(t, 1, store.Dirty())
}

func TestInsertRecordsAliasForKnownDigest(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	store, err := Open(ctx, &fakeBackend{}, Options{})
	require.NoError(t, err)

	require.NoError(t, store.Insert(ctx, fileHash("abc", "/data/a.jpg")))
	require.NoError(t, store.Insert(ctx, fileHash("abc", "/data/b.jpg")))

	primary, ok := store.Lookup("abc")
	require.True(t, ok)
	assert.Equal(t, "/data/a.jpg", primary.Location)
	assert.True(t, store.HasLocation("/data/b.jpg"))
	assert.Equal(t, 1, store.Len())

	snap := store.Snapshot()
	require.Len(t, snap.Files(), 2)
	assert.False(t, snap.Files()[0].Alias)
	assert.True(t, snap.Files()[1].Alias)
}

func TestRemovePromotesAlias(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	store, err := Open(ctx, &fakeBackend{}, Options{})
	require.NoError(t, err)
	require.NoError(t, store.Insert(ctx, fileHash("abc", "/data/a.jpg")))
	require.NoError(t, store.Insert(ctx, fileHash("abc", "/data/b.jpg")))

	require.NoError(t, store.Remove(ctx, "/data/a.jpg"))

	primary, ok := store.Lookup("abc")
	require.True(t, ok)
	assert.Equal(t, "/data/b.jpg", primary.Location)
	assert.False(t, store.HasLocation("/data/a.jpg"))

	require.NoError(t, store.Remove(ctx, "/data/b.jpg"))
	_, ok = store.Lookup("abc")
	assert.False(t, ok)
}

func TestURLEntriesAreSeparateFromFiles(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	store, err := Open(ctx, &fakeBackend{}, Options{})
	require.NoError(t, err)
	require.NoError(t, store.Insert(ctx, downloader.ResourceHash{
		Digest:   "abc",
		Location: "https://i.redd.it/a.jpg",
		Kind:     downloader.SourceURL,
	}))

	got, ok := store.LookupURL("https://i.redd.it/a.jpg")
	require.True(t, ok)
	assert.Equal(t, "abc", got.Digest)
	_, ok = store.Lookup("abc")
	assert.False(t, ok, "url entries do not make a digest known on disk")
}

func TestOpenWrapsLoadFailure(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{loadErr: fmt.Errorf("%w: bad json", downloader.ErrCorruptHashStore)}
	_, err := Open(context.Background(), backend, Options{})
	require.Error(t, err)
	assert.ErrorIs(t, err, downloader.ErrCorruptHashStore)
}

func TestFlushFailureIsTyped(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	backend := &fakeBackend{saveErr: errors.New("disk full")}
	store, err := Open(ctx, backend, Options{})
	require.NoError(t, err)
	require.NoError(t, store.Insert(ctx, fileHash("abc", "/data/a.jpg")))

	err = store.Flush(ctx)
	var flushErr *downloader.FlushError
	require.ErrorAs(t, err, &flushErr)
	assert.Equal(t, "fake", flushErr.Backend)
	assert.Equal(t, "flush_failure", downloader.Classify(err))
	assert.Equal(t, 0, store.Flushes())
}

func TestCloseFlushesAndClosesBackend(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	backend := &fakeBackend{}
	store, err := Open(ctx, backend, Options{})
	require.NoError(t, err)
	require.NoError(t, store.Insert(ctx, fileHash("abc", "/data/a.jpg")))

	require.NoError(t, store.Close(ctx))
	assert.True(t, backend.closed)
	assert.Equal(t, 1, backend.saveCount())
	assert.Len(t, backend.snap.Records, 1)
}

func TestConcurrentInsertsAndLookups(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	backend := &fakeBackend{}
	store, err := Open(ctx, backend, Options{FlushThreshold: 10})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 25; i++ {
				digest := fmt.Sprintf("w%d-%d", w, i)
				assert.NoError(t, store.Insert(ctx, fileHash(digest, "/data/"+digest)))
				_, ok := store.Lookup(digest)
				assert.True(t, ok)
			}
		}(w)
	}
	wg.Wait()

	assert.Equal(t, 200, store.Len())
	assert.Equal(t, 20, backend.saveCount())
	require.NoError(t, store.Flush(ctx))
	assert.Len(t, backend.snap.Records, 200)
}
