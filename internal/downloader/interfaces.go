package downloader

import (
	"context"
	"net/http"
	"time"
)

// SubmissionSource yields submissions in order. Next returns io.EOF once exhausted.
type SubmissionSource interface {
	Next(ctx context.Context) (Submission, error)
}

// Authenticator supplies an opaque credential to a submission source.
type Authenticator interface {
	Token(ctx context.Context) (string, error)
}

// Fetcher retrieves the raw bytes behind a resource URL.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// FetchRequest captures everything needed to fetch a URL.
type FetchRequest struct {
	SubmissionID string
	URL          string
	Headers      http.Header
}

// FetchResponse is the result returned by a Fetcher implementation.
type FetchResponse struct {
	URL        string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
}

// Hasher computes digests for deduplication.
type Hasher interface {
	Algorithm() Algorithm
	Hash(data []byte) (string, error)
}

// PathSanitizer maps a desired name onto a valid path element for a filesystem profile.
type PathSanitizer interface {
	Sanitize(name string, profile string) string
}

// RecordSink accepts archived submission records.
type RecordSink interface {
	Write(ctx context.Context, record Record) error
	Close(ctx context.Context) error
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run IDs.
type IDGenerator interface {
	NewID() (string, error)
}

// Sleeper suspends the calling goroutine. It returns early with an error if ctx ends.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}
