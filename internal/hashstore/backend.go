package hashstore

import (
	"context"
	"sort"

	"github.com/JakeFAU/submission-downloader/internal/downloader"
)

// Record is the persisted form of one digest location.
type Record struct {
	Digest    string                `json:"digest"`
	Algorithm downloader.Algorithm  `json:"algorithm"`
	Location  string                `json:"location"`
	Size      int64                 `json:"size"`
	Kind      downloader.SourceKind `json:"source_kind"`
	// Alias marks an additional file location for an already-known digest.
	Alias bool `json:"alias,omitempty"`
}

// Snapshot is a complete, self-consistent copy of the store's contents.
type Snapshot struct {
	Records []Record
}

// Len returns the number of records in the snapshot.
func (s Snapshot) Len() int {
	return len(s.Records)
}

// Files returns only the file-kind records.
func (s Snapshot) Files() []Record {
	return s.filter(downloader.SourceFile)
}

// URLs returns only the url-kind records.
func (s Snapshot) URLs() []Record {
	return s.filter(downloader.SourceURL)
}

func (s Snapshot) filter(kind downloader.SourceKind) []Record {
	out := make([]Record, 0, len(s.Records))
	for _, r := range s.Records {
		if r.Kind == kind {
			out = append(out, r)
		}
	}
	return out
}

// sortRecords orders records deterministically: kind, primaries before aliases, digest, location.
func sortRecords(records []Record) {
	sort.Slice(records, func(i, j int) bool {
		a, b := records[i], records[j]
		if a.Kind != b.Kind {
			return a.Kind < b.Kind
		}
		if a.Alias != b.Alias {
			return !a.Alias
		}
		if a.Digest != b.Digest {
			return a.Digest < b.Digest
		}
		return a.Location < b.Location
	})
}

// Backend durably stores snapshots. Save must be atomic: a crash mid-save leaves
// the previous snapshot readable.
type Backend interface {
	Name() string
	// Load returns the persisted snapshot. exists is false when nothing has been persisted yet.
	// A backing that exists but cannot be parsed yields an error wrapping downloader.ErrCorruptHashStore.
	Load(ctx context.Context) (snap Snapshot, exists bool, err error)
	Save(ctx context.Context, snap Snapshot) error
	Close() error
}
