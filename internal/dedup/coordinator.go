// Package dedup decides whether downloaded content is written, hard-linked, or skipped.
package dedup

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/submission-downloader/internal/downloader"
	"github.com/JakeFAU/submission-downloader/internal/fsutil"
	"github.com/JakeFAU/submission-downloader/internal/metrics"
)

const lockStripes = 64

// Store is the slice of the hash store the coordinator needs.
type Store interface {
	Lookup(digest string) (downloader.ResourceHash, bool)
	Insert(ctx context.Context, h downloader.ResourceHash) error
	Remove(ctx context.Context, location string) error
}

// Item is one piece of content headed for the target directory.
type Item struct {
	Path    string
	Content []byte
	// Modified becomes the file's mtime and atime; zero leaves the write time.
	Modified time.Time
	// SourceURL, when set, is recorded so later runs can skip the fetch.
	SourceURL string
	// Digest may carry a precomputed digest of Content.
	Digest string
}

// Outcome describes what Commit did.
type Outcome struct {
	Decision downloader.Decision
	Digest   string
	Path     string
	// Existing is the primary location of an already-known digest.
	Existing string
	Written  int64
}

// Coordinator commits content through the hash store. Work on the same digest
// is serialized so concurrent duplicates resolve the same way in any order.
type Coordinator struct {
	store  Store
	hasher downloader.Hasher
	logger *zap.Logger
	locks  [lockStripes]sync.Mutex
}

// New returns a Coordinator.
func New(store Store, hasher downloader.Hasher, logger *zap.Logger) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{store: store, hasher: hasher, logger: logger}
}

func (c *Coordinator) lockFor(digest string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(digest))
	return &c.locks[h.Sum32()%lockStripes]
}

// Commit stores item according to policy. When the content was committed but a
// threshold flush of the store failed, the outcome is returned together with
// the *downloader.FlushError.
func (c *Coordinator) Commit(ctx context.Context, item Item, policy downloader.DedupPolicy) (Outcome, error) {
	digest := item.Digest
	if digest == "" {
		var err error
		if digest, err = c.hasher.Hash(item.Content); err != nil {
			return Outcome{}, fmt.Errorf("hash %s: %w", item.Path, err)
		}
	}
	target := filepath.Clean(item.Path)
	out := Outcome{Digest: digest, Path: target}
	var pending error

	mu := c.lockFor(digest)
	mu.Lock()
	defer mu.Unlock()

	if err := ctx.Err(); err != nil {
		return out, err
	}

	for out.Decision == "" {
		existing, known, err := c.primary(ctx, digest, &pending)
		if err != nil {
			return out, err
		}
		if !known {
			out.Existing = ""
			break
		}
		out.Existing = existing.Location
		if existing.Location == target || (policy.NoDupes && !policy.HardLink) {
			out.Decision = downloader.DecisionDuplicate
			break
		}
		if !policy.HardLink {
			break
		}
		linked, err := c.link(ctx, existing, target, item, &pending)
		if errors.Is(err, errPrimaryGone) {
			continue
		}
		if err != nil {
			return out, err
		}
		if linked {
			out.Decision = downloader.DecisionLinked
		}
		break
	}

	if out.Decision == "" {
		if err := c.write(ctx, target, digest, item, &pending); err != nil {
			return out, err
		}
		out.Decision = downloader.DecisionWritten
		out.Written = int64(len(item.Content))
	}

	if err := c.recordURL(ctx, digest, item, &pending); err != nil {
		return out, err
	}
	metrics.ObserveDedup(string(out.Decision), out.Written)
	c.logger.Debug("content committed",
		zap.String("path", target),
		zap.String("digest", digest),
		zap.String("decision", string(out.Decision)),
		zap.String("existing", out.Existing),
	)
	return out, pending
}

// insert records h. A failed threshold flush leaves h in memory, so it is
// reported through pending instead of aborting the commit.
func (c *Coordinator) insert(ctx context.Context, h downloader.ResourceHash, pending *error) error {
	err := c.store.Insert(ctx, h)
	var flushErr *downloader.FlushError
	if errors.As(err, &flushErr) {
		*pending = err
		return nil
	}
	return err
}

// primary returns the stored primary for digest. Recorded files that are no
// longer on disk are forgotten first, which lets a surviving alias take over.
func (c *Coordinator) primary(ctx context.Context, digest string, pending *error) (downloader.ResourceHash, bool, error) {
	var forgotten map[string]struct{}
	for {
		existing, known := c.store.Lookup(digest)
		if !known {
			return downloader.ResourceHash{}, false, nil
		}
		_, err := os.Stat(existing.Location)
		if err == nil {
			return existing, true, nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return downloader.ResourceHash{}, false, fmt.Errorf("stat %s: %w", existing.Location, err)
		}
		if _, again := forgotten[existing.Location]; again {
			return downloader.ResourceHash{}, false, fmt.Errorf("hash store still lists missing file %s", existing.Location)
		}
		if forgotten == nil {
			forgotten = make(map[string]struct{})
		}
		forgotten[existing.Location] = struct{}{}
		if err := c.forget(ctx, existing, pending); err != nil {
			return downloader.ResourceHash{}, false, err
		}
	}
}

func (c *Coordinator) forget(ctx context.Context, existing downloader.ResourceHash, pending *error) error {
	c.logger.Warn("known file missing, forgetting it",
		zap.String("path", existing.Location),
		zap.String("digest", existing.Digest),
	)
	err := c.store.Remove(ctx, existing.Location)
	var flushErr *downloader.FlushError
	if errors.As(err, &flushErr) {
		*pending = err
		return nil
	}
	return err
}

// errPrimaryGone means the primary disappeared between the lookup and the link.
var errPrimaryGone = errors.New("primary file vanished")

// link hard-links target to the existing primary. It returns false when the
// primary lives on another device, in which case the caller writes a copy.
func (c *Coordinator) link(ctx context.Context, existing downloader.ResourceHash, target string, item Item, pending *error) (bool, error) {
	if err := os.MkdirAll(filepath.Dir(target), fsutil.DirModeDefault); err != nil {
		return false, fmt.Errorf("create directory for %s: %w", target, err)
	}
	err := os.Link(existing.Location, target)
	switch {
	case err == nil:
	case errors.Is(err, fs.ErrNotExist):
		if err := c.forget(ctx, existing, pending); err != nil {
			return false, err
		}
		return false, errPrimaryGone
	case errors.Is(err, syscall.EXDEV):
		c.logger.Warn("cannot hard link across devices, writing a copy",
			zap.String("path", target),
			zap.String("existing", existing.Location),
		)
		return false, nil
	default:
		return false, fmt.Errorf("link %s to %s: %w", target, existing.Location, err)
	}
	if err := c.insert(ctx, downloader.ResourceHash{
		Digest:    existing.Digest,
		Algorithm: c.hasher.Algorithm(),
		Location:  target,
		Size:      int64(len(item.Content)),
		Kind:      downloader.SourceFile,
	}, pending); err != nil {
		return true, err
	}
	return true, nil
}

func (c *Coordinator) write(ctx context.Context, target, digest string, item Item, pending *error) error {
	if err := fsutil.WriteFileAtomic(target, item.Content, fsutil.FileModeDefault); err != nil {
		return err
	}
	if !item.Modified.IsZero() {
		if err := os.Chtimes(target, item.Modified, item.Modified); err != nil {
			return fmt.Errorf("set times on %s: %w", target, err)
		}
	}
	return c.insert(ctx, downloader.ResourceHash{
		Digest:    digest,
		Algorithm: c.hasher.Algorithm(),
		Location:  target,
		Size:      int64(len(item.Content)),
		Kind:      downloader.SourceFile,
	}, pending)
}

func (c *Coordinator) recordURL(ctx context.Context, digest string, item Item, pending *error) error {
	if item.SourceURL == "" {
		return nil
	}
	return c.insert(ctx, downloader.ResourceHash{
		Digest:    digest,
		Algorithm: c.hasher.Algorithm(),
		Location:  item.SourceURL,
		Size:      int64(len(item.Content)),
		Kind:      downloader.SourceURL,
	}, pending)
}
