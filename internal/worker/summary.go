package worker

import (
	"fmt"
	"io"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/JakeFAU/submission-downloader/internal/downloader"
)

// Summary aggregates the outcome of a run.
type Summary struct {
	RunID          string         `json:"run_id" yaml:"run_id"`
	Done           int            `json:"done" yaml:"done"`
	Skipped        int            `json:"skipped" yaml:"skipped"`
	Filtered       int            `json:"filtered" yaml:"filtered"`
	Failed         int            `json:"failed" yaml:"failed"`
	Abandoned      int            `json:"abandoned" yaml:"abandoned"`
	FailuresByKind map[string]int `json:"failures_by_kind,omitempty" yaml:"failures_by_kind,omitempty"`
	FilesWritten   int            `json:"files_written" yaml:"files_written"`
	HardLinks      int            `json:"hard_links" yaml:"hard_links"`
	Duplicates     int            `json:"duplicates" yaml:"duplicates"`
	BytesWritten   int64          `json:"bytes_written" yaml:"bytes_written"`
	FlushFailures  int            `json:"flush_failures" yaml:"flush_failures"`
	StartedAt      time.Time      `json:"started_at" yaml:"started_at"`
	FinishedAt     time.Time      `json:"finished_at,omitempty" yaml:"finished_at,omitempty"`
}

// WriteYAML encodes s as a YAML document.
func (s Summary) WriteYAML(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(s); err != nil {
		return fmt.Errorf("encode summary: %w", err)
	}
	return enc.Close()
}

// Tally is a Summary shared by concurrent workers.
type Tally struct {
	mu sync.Mutex
	s  Summary
}

// NewTally starts an empty summary for runID.
func NewTally(runID string, started time.Time) *Tally {
	return &Tally{s: Summary{RunID: runID, StartedAt: started, FailuresByKind: map[string]int{}}}
}

func (t *Tally) task(task downloader.Task, kind string, bytes int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch task.State {
	case downloader.StateDone:
		t.s.Done++
	case downloader.StateSkipped:
		t.s.Skipped++
	case downloader.StateFiltered:
		t.s.Filtered++
	case downloader.StateFailed:
		t.s.Failed++
		t.s.FailuresByKind[kind]++
	}
	t.s.FilesWritten += len(task.Written)
	t.s.HardLinks += len(task.Linked)
	t.s.Duplicates += len(task.Duplicates)
	t.s.BytesWritten += bytes
}

func (t *Tally) abandoned() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.s.Abandoned++
}

func (t *Tally) flushFailed() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.s.FlushFailures++
	t.s.FailuresByKind["flush_failure"]++
}

// Finish stamps the end time.
func (t *Tally) Finish(at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.s.FinishedAt = at
}

// Snapshot returns a copy of the current summary.
func (t *Tally) Snapshot() Summary {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := t.s
	out.FailuresByKind = make(map[string]int, len(t.s.FailuresByKind))
	for k, v := range t.s.FailuresByKind {
		out.FailuresByKind[k] = v
	}
	return out
}
