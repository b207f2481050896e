package hashstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/JakeFAU/submission-downloader/internal/downloader"
	"github.com/JakeFAU/submission-downloader/internal/fsutil"
)

// Flat store file names.
const (
	CombinedFile = "hashes.json"
	FileHashFile = "file_hashes.json"
	URLHashFile  = "url_hashes.json"

	migratedSuffix = ".migrated"
	flatVersion    = 1
)

type combinedDocument struct {
	Version int      `json:"version"`
	Records []Record `json:"records"`
}

// FlatBackend keeps the store in three JSON files inside Dir.
//
// hashes.json is authoritative and is always written last, so a crash between
// the split files and the combined file still loads the previous snapshot.
// file_hashes.json maps digest to primary location and url_hashes.json maps url
// to digest; both are readable by older tooling and are used on load only when
// hashes.json is absent.
type FlatBackend struct {
	Dir string
	// Algorithm is assumed for split-file entries, which do not carry one.
	Algorithm downloader.Algorithm
}

// NewFlatBackend returns a flat backend rooted at dir.
func NewFlatBackend(dir string, algorithm downloader.Algorithm) *FlatBackend {
	if algorithm == "" {
		algorithm = downloader.AlgorithmMD5
	}
	return &FlatBackend{Dir: dir, Algorithm: algorithm}
}

// Name implements Backend.
func (b *FlatBackend) Name() string { return "flat" }

// Paths returns the three backing files.
func (b *FlatBackend) Paths() []string {
	return []string{
		filepath.Join(b.Dir, CombinedFile),
		filepath.Join(b.Dir, FileHashFile),
		filepath.Join(b.Dir, URLHashFile),
	}
}

// Load implements Backend.
func (b *FlatBackend) Load(_ context.Context) (Snapshot, bool, error) {
	combined, ok, err := readJSON[combinedDocument](filepath.Join(b.Dir, CombinedFile))
	if err != nil {
		return Snapshot{}, true, err
	}
	if ok {
		return Snapshot{Records: combined.Records}, true, nil
	}

	files, filesOK, err := readJSON[map[string]string](filepath.Join(b.Dir, FileHashFile))
	if err != nil {
		return Snapshot{}, true, err
	}
	urls, urlsOK, err := readJSON[map[string]string](filepath.Join(b.Dir, URLHashFile))
	if err != nil {
		return Snapshot{}, true, err
	}
	if !filesOK && !urlsOK {
		return Snapshot{}, false, nil
	}

	snap := Snapshot{Records: make([]Record, 0, len(files)+len(urls))}
	for digest, location := range files {
		snap.Records = append(snap.Records, Record{
			Digest:    digest,
			Algorithm: b.Algorithm,
			Location:  location,
			Kind:      downloader.SourceFile,
		})
	}
	for url, digest := range urls {
		snap.Records = append(snap.Records, Record{
			Digest:    digest,
			Algorithm: b.Algorithm,
			Location:  url,
			Kind:      downloader.SourceURL,
		})
	}
	sortRecords(snap.Records)
	return snap, true, nil
}

// Save implements Backend.
func (b *FlatBackend) Save(ctx context.Context, snap Snapshot) error {
	files := make(map[string]string)
	urls := make(map[string]string)
	for _, r := range snap.Records {
		switch {
		case r.Kind == downloader.SourceURL:
			urls[r.Location] = r.Digest
		case !r.Alias:
			files[r.Digest] = r.Location
		}
	}

	records := append([]Record(nil), snap.Records...)
	sortRecords(records)
	writes := []struct {
		name string
		doc  any
	}{
		{FileHashFile, files},
		{URLHashFile, urls},
		{CombinedFile, combinedDocument{Version: flatVersion, Records: records}},
	}
	for _, w := range writes {
		if err := ctx.Err(); err != nil {
			return err
		}
		data, err := json.MarshalIndent(w.doc, "", "  ")
		if err != nil {
			return fmt.Errorf("encode %s: %w", w.name, err)
		}
		if err := fsutil.WriteFileAtomic(filepath.Join(b.Dir, w.name), data, fsutil.FileModeDefault); err != nil {
			return err
		}
	}
	return nil
}

// Close implements Backend.
func (b *FlatBackend) Close() error { return nil }

// Retire renames the backing files so they are no longer loaded.
func (b *FlatBackend) Retire() error {
	var errs []error
	for _, p := range b.Paths() {
		if err := os.Rename(p, p+migratedSuffix); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, fmt.Errorf("retire %s: %w", p, err))
		}
	}
	return errors.Join(errs...)
}

// IsBackingFile reports whether path is one of the store's own files, so a
// directory scan can skip them.
func (b *FlatBackend) IsBackingFile(path string) bool {
	clean := filepath.Clean(path)
	for _, p := range b.Paths() {
		if clean == p || clean == p+migratedSuffix {
			return true
		}
	}
	return false
}

func readJSON[T any](path string) (T, bool, error) {
	var out T
	data, err := os.ReadFile(path) // #nosec G304 -- path is inside the configured hash directory.
	if errors.Is(err, os.ErrNotExist) {
		return out, false, nil
	}
	if err != nil {
		return out, false, fmt.Errorf("read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return out, true, fmt.Errorf("%w: parse %s: %v", downloader.ErrCorruptHashStore, path, err)
	}
	return out, true, nil
}

