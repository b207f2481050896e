package hashstore

import (
	"context"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/submission-downloader/internal/downloader"
)

// FileHasher digests a file on disk.
type FileHasher interface {
	Algorithm() downloader.Algorithm
	HashFile(path string) (string, int64, error)
}

type backingFiles interface {
	IsBackingFile(path string) bool
}

// ScanResult summarizes a ScanExisting pass.
type ScanResult struct {
	Seen    int
	Hashed  int
	Skipped int
}

// ScanExisting walks dir and inserts a file record for every regular file whose
// path is not already known. Known paths are never re-hashed.
func (s *Store) ScanExisting(ctx context.Context, dir string, hasher FileHasher) (ScanResult, error) {
	var res ScanResult
	backing, _ := s.backend.(backingFiles)

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		res.Seen++
		if isTempFile(d.Name()) || (backing != nil && backing.IsBackingFile(path)) || s.HasLocation(path) {
			res.Skipped++
			return nil
		}
		digest, size, err := hasher.HashFile(path)
		if err != nil {
			return err
		}
		res.Hashed++
		return s.Insert(ctx, downloader.ResourceHash{
			Digest:    digest,
			Algorithm: hasher.Algorithm(),
			Location:  path,
			Size:      size,
			Kind:      downloader.SourceFile,
		})
	})
	if err != nil {
		return res, fmt.Errorf("scan %s: %w", dir, err)
	}
	s.logger.Info("existing files scanned",
		zap.String("path", dir),
		zap.Int("seen", res.Seen),
		zap.Int("hashed", res.Hashed),
		zap.Int("skipped", res.Skipped),
	)
	return res, nil
}

// isTempFile matches the names fsutil.WriteAtomic uses for in-flight writes.
func isTempFile(name string) bool {
	return strings.HasPrefix(name, ".") && strings.Contains(name, ".tmp.")
}
