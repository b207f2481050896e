// Package hashstore persists content digests and the locations they were stored at.
//
// The Store is the only shared mutable state in a run. Lookups take a read lock
// and never touch disk; inserts are serialized, and flushes are serialized
// against each other and write a consistent snapshot through the Backend.
package hashstore

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/submission-downloader/internal/downloader"
	"github.com/JakeFAU/submission-downloader/internal/metrics"
)

// Flush threshold bounds.
const (
	MinFlushThreshold     = 10
	MaxFlushThreshold     = 1000
	DefaultFlushThreshold = 100
)

// Options configures a Store.
type Options struct {
	FlushThreshold int
	Logger         *zap.Logger
}

// ClampThreshold forces a threshold into [MinFlushThreshold, MaxFlushThreshold].
func ClampThreshold(n int) int {
	switch {
	case n <= 0:
		return DefaultFlushThreshold
	case n < MinFlushThreshold:
		return MinFlushThreshold
	case n > MaxFlushThreshold:
		return MaxFlushThreshold
	default:
		return n
	}
}

// Store maps digests to known file locations and URLs to digests.
type Store struct {
	mu        sync.RWMutex
	flushMu   sync.Mutex
	backend   Backend
	logger    *zap.Logger
	threshold int

	entries   map[string]downloader.ResourceHash // digest -> primary file location
	locations map[string]Record                  // file location -> record (primary or alias)
	urls      map[string]downloader.ResourceHash // url -> digest record
	dirty     int
	flushes   int
}

// Open loads the backend's snapshot into a new Store.
func Open(ctx context.Context, backend Backend, opts Options) (*Store, error) {
	if backend == nil {
		return nil, fmt.Errorf("hash store backend is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Store{
		backend:   backend,
		logger:    logger,
		threshold: ClampThreshold(opts.FlushThreshold),
		entries:   make(map[string]downloader.ResourceHash),
		locations: make(map[string]Record),
		urls:      make(map[string]downloader.ResourceHash),
	}
	snap, exists, err := backend.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load %s hash store: %w", backend.Name(), err)
	}
	s.apply(snap)
	metrics.SetHashStoreEntries(len(s.entries))
	logger.Info("hash store loaded",
		zap.String("backend", backend.Name()),
		zap.Bool("existing", exists),
		zap.Int("digests", len(s.entries)),
		zap.Int("urls", len(s.urls)),
		zap.Int("flush_threshold", s.threshold),
	)
	return s, nil
}

func (s *Store) apply(snap Snapshot) {
	records := append([]Record(nil), snap.Records...)
	sortRecords(records)
	for _, r := range records {
		switch r.Kind {
		case downloader.SourceURL:
			s.urls[r.Location] = toHash(r)
		default:
			r.Kind = downloader.SourceFile
			if _, known := s.entries[r.Digest]; !known && !r.Alias {
				s.entries[r.Digest] = toHash(r)
			} else {
				r.Alias = true
			}
			s.locations[r.Location] = r
		}
	}
	// Aliases whose primary was lost are promoted so every digest keeps a location.
	for loc, r := range s.locations {
		if _, known := s.entries[r.Digest]; !known {
			r.Alias = false
			s.locations[loc] = r
			s.entries[r.Digest] = toHash(r)
		}
	}
}

func toHash(r Record) downloader.ResourceHash {
	return downloader.ResourceHash{
		Digest:    r.Digest,
		Algorithm: r.Algorithm,
		Location:  r.Location,
		Size:      r.Size,
		Kind:      r.Kind,
	}
}

func toRecord(h downloader.ResourceHash, alias bool) Record {
	return Record{
		Digest:    h.Digest,
		Algorithm: h.Algorithm,
		Location:  h.Location,
		Size:      h.Size,
		Kind:      h.Kind,
		Alias:     alias,
	}
}

// Threshold returns the effective flush threshold.
func (s *Store) Threshold() int {
	return s.threshold
}

// Lookup returns the primary file record for digest.
func (s *Store) Lookup(digest string) (downloader.ResourceHash, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, ok := s.entries[digest]
	return h, ok
}

// LookupURL returns the digest record for a previously downloaded URL.
func (s *Store) LookupURL(url string) (downloader.ResourceHash, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, ok := s.urls[url]
	return h, ok
}

// HasLocation reports whether path is already recorded under any digest.
func (s *Store) HasLocation(path string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.locations[filepath.Clean(path)]
	return ok
}

// Len returns the number of distinct file digests.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Dirty returns inserts not yet covered by a flush.
func (s *Store) Dirty() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dirty
}

// Flushes returns how many flushes have completed successfully.
func (s *Store) Flushes() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.flushes
}

// Insert records h. File records for an already-known digest at a new location
// become aliases. Reaching the flush threshold triggers one flush and resets
// the counter before Insert returns.
func (s *Store) Insert(ctx context.Context, h downloader.ResourceHash) error {
	if h.Digest == "" || h.Location == "" {
		return fmt.Errorf("insert requires digest and location")
	}
	if h.Kind == "" {
		h.Kind = downloader.SourceFile
	}

	s.mu.Lock()
	changed := s.insertLocked(h)
	if changed {
		s.dirty++
	}
	shouldFlush := s.dirty >= s.threshold
	if shouldFlush {
		s.dirty = 0
	}
	entries := len(s.entries)
	s.mu.Unlock()

	if !changed {
		return nil
	}
	metrics.SetHashStoreEntries(entries)
	if shouldFlush {
		return s.flush(ctx, false)
	}
	return nil
}

func (s *Store) insertLocked(h downloader.ResourceHash) bool {
	if h.Kind == downloader.SourceURL {
		if existing, ok := s.urls[h.Location]; ok && existing.Digest == h.Digest {
			return false
		}
		s.urls[h.Location] = h
		return true
	}

	h.Location = filepath.Clean(h.Location)
	if existing, ok := s.locations[h.Location]; ok {
		if existing.Digest == h.Digest {
			return false
		}
		s.dropLocationLocked(h.Location)
	}
	if _, known := s.entries[h.Digest]; known {
		s.locations[h.Location] = toRecord(h, true)
		return true
	}
	s.entries[h.Digest] = h
	s.locations[h.Location] = toRecord(h, false)
	return true
}

// Remove forgets a file location, promoting an alias if it was the primary.
func (s *Store) Remove(ctx context.Context, location string) error {
	s.mu.Lock()
	removed := s.dropLocationLocked(filepath.Clean(location))
	if removed {
		s.dirty++
	}
	shouldFlush := s.dirty >= s.threshold
	if shouldFlush {
		s.dirty = 0
	}
	s.mu.Unlock()

	if shouldFlush {
		return s.flush(ctx, false)
	}
	return nil
}

func (s *Store) dropLocationLocked(location string) bool {
	rec, ok := s.locations[location]
	if !ok {
		return false
	}
	delete(s.locations, location)
	if rec.Alias {
		return true
	}
	delete(s.entries, rec.Digest)
	for loc, other := range s.locations {
		if other.Digest == rec.Digest {
			other.Alias = false
			s.locations[loc] = other
			s.entries[rec.Digest] = toHash(other)
			break
		}
	}
	return true
}

// Snapshot returns a consistent copy of the current contents.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

func (s *Store) snapshotLocked() Snapshot {
	records := make([]Record, 0, len(s.locations)+len(s.urls))
	for _, r := range s.locations {
		records = append(records, r)
	}
	for _, h := range s.urls {
		records = append(records, toRecord(h, false))
	}
	sortRecords(records)
	return Snapshot{Records: records}
}

// Flush writes the full current mapping to the backend.
func (s *Store) Flush(ctx context.Context) error {
	return s.flush(ctx, true)
}

func (s *Store) flush(ctx context.Context, resetDirty bool) error {
	s.flushMu.Lock()
	defer s.flushMu.Unlock()

	s.mu.Lock()
	snap := s.snapshotLocked()
	if resetDirty {
		s.dirty = 0
	}
	s.mu.Unlock()

	err := s.backend.Save(ctx, snap)
	metrics.ObserveFlush(s.backend.Name(), err)
	if err != nil {
		s.logger.Error("hash store flush failed", zap.String("backend", s.backend.Name()), zap.Error(err))
		return &downloader.FlushError{Backend: s.backend.Name(), Err: err}
	}

	s.mu.Lock()
	s.flushes++
	s.mu.Unlock()
	s.logger.Debug("hash store flushed", zap.String("backend", s.backend.Name()), zap.Int("records", snap.Len()))
	return nil
}

// Close performs a final flush and releases the backend.
func (s *Store) Close(ctx context.Context) error {
	flushErr := s.Flush(ctx)
	if err := s.backend.Close(); err != nil && flushErr == nil {
		return fmt.Errorf("close %s hash store: %w", s.backend.Name(), err)
	}
	return flushErr
}
