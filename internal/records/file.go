package records

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/JakeFAU/submission-downloader/internal/downloader"
	"github.com/JakeFAU/submission-downloader/internal/fsutil"
)

// File appends records as JSON lines.
type File struct {
	mu     sync.Mutex
	f      *os.File
	w      *bufio.Writer
	closed bool
}

// OpenFile opens path for appending, creating parent directories.
func OpenFile(path string) (*File, error) {
	if path == "" {
		return nil, errors.New("file record sink needs a path")
	}
	if err := os.MkdirAll(filepath.Dir(path), fsutil.DirModeDefault); err != nil {
		return nil, fmt.Errorf("create record directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, fsutil.FileModeDefault)
	if err != nil {
		return nil, fmt.Errorf("open record file %s: %w", path, err)
	}
	return &File{f: f, w: bufio.NewWriter(f)}, nil
}

// Write encodes record on its own line.
func (s *File) Write(ctx context.Context, record downloader.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal record %s: %w", record.Submission.ID, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if _, err := s.w.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write record %s: %w", record.Submission.ID, err)
	}
	return nil
}

// Close flushes buffered lines and closes the file.
func (s *File) Close(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	flushErr := s.w.Flush()
	closeErr := s.f.Close()
	if flushErr != nil {
		return fmt.Errorf("flush record file: %w", flushErr)
	}
	return closeErr
}
