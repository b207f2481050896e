// Package downloader defines core types shared across subsystems.
package downloader

import (
	"time"
)

// Submission is a single platform-originated content descriptor.
type Submission struct {
	ID          string    `json:"id" yaml:"id"`
	URL         string    `json:"url" yaml:"url"`
	Domain      string    `json:"domain" yaml:"domain"`
	Author      string    `json:"author,omitempty" yaml:"author,omitempty"`
	Container   string    `json:"subreddit" yaml:"subreddit"`
	Score       int       `json:"score" yaml:"score"`
	UpvoteRatio float64   `json:"upvote_ratio" yaml:"upvote_ratio"`
	Title       string    `json:"title" yaml:"title"`
	Flair       string    `json:"link_flair_text,omitempty" yaml:"flair,omitempty"`
	Created     time.Time `json:"created_utc" yaml:"created_utc"`
	IsSelf      bool      `json:"is_self,omitempty" yaml:"is_self,omitempty"`
	SelfText    string    `json:"selftext,omitempty" yaml:"selftext,omitempty"`
	GalleryURLs []string  `json:"gallery_urls,omitempty" yaml:"gallery_urls,omitempty"`
	Comments    []Comment `json:"comments,omitempty" yaml:"comments,omitempty"`
}

// Comment is one node of a submission's comment tree.
type Comment struct {
	ID      string    `json:"id" yaml:"id"`
	Author  string    `json:"author,omitempty" yaml:"author,omitempty"`
	Body    string    `json:"body" yaml:"body"`
	Score   int       `json:"score" yaml:"score"`
	Created time.Time `json:"created_utc" yaml:"created_utc"`
	Replies []Comment `json:"replies,omitempty" yaml:"replies,omitempty"`
}

// Resource is one downloadable item produced by an extractor.
type Resource struct {
	URL       string
	Extension string
	// Inline carries content that needs no network fetch (self posts).
	Inline []byte
}

// Algorithm names a digest function.
type Algorithm string

// Supported digest algorithms.
const (
	AlgorithmMD5    Algorithm = "md5"
	AlgorithmSHA256 Algorithm = "sha256"
)

// SourceKind distinguishes hash entries recorded for files from those for URLs.
type SourceKind string

// Hash entry kinds.
const (
	SourceFile SourceKind = "file"
	SourceURL  SourceKind = "url"
)

// ResourceHash is a persisted digest record.
type ResourceHash struct {
	Digest    string     `json:"digest"`
	Algorithm Algorithm  `json:"algorithm"`
	Location  string     `json:"location"`
	Size      int64      `json:"size"`
	Kind      SourceKind `json:"source_kind"`
}

// State is a step of the per-submission state machine.
type State string

// Task lifecycle states.
const (
	StatePending     State = "pending"
	StateFiltered    State = "filtered"
	StateResolving   State = "resolving"
	StateDownloading State = "downloading"
	StateHashing     State = "hashing"
	StateDeduping    State = "deduping"
	StateDone        State = "done"
	StateSkipped     State = "skipped"
	StateFailed      State = "failed"
)

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	switch s {
	case StateDone, StateSkipped, StateFailed, StateFiltered:
		return true
	default:
		return false
	}
}

// Task is the ephemeral per-run record for a single submission.
type Task struct {
	Submission Submission
	State      State
	Resources  []Resource
	Errors     []error
	Written    []string
	Linked     []string
	Duplicates []string
	// Skipped holds destinations not fetched because they already existed,
	// were downloaded by an earlier run, or were rejected by a resource filter.
	Skipped []string
}

// DedupPolicy controls what happens when a digest is already known.
type DedupPolicy struct {
	NoDupes  bool
	HardLink bool
}

// Decision is the action taken by the dedup coordinator.
type Decision string

// Dedup outcomes.
const (
	DecisionWritten   Decision = "written"
	DecisionLinked    Decision = "linked"
	DecisionDuplicate Decision = "duplicate"
)

// Record is the archived form of a finished submission handed to record sinks.
type Record struct {
	RunID      string     `json:"run_id" yaml:"run_id"`
	Submission Submission `json:"submission" yaml:"submission"`
	State      State      `json:"state" yaml:"state"`
	Files      []string   `json:"files,omitempty" yaml:"files,omitempty"`
	Finished   time.Time  `json:"finished_at" yaml:"finished_at"`
}
