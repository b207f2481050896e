package downloader

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrNotSupportedSource means no extractor matched a submission or every candidate declined.
	ErrNotSupportedSource = errors.New("not a supported source")
	// ErrNotSupported is returned by a single extractor that declines a submission.
	ErrNotSupported = errors.New("extractor does not support submission")
	// ErrCorruptHashStore means a hash store backing exists but cannot be parsed.
	ErrCorruptHashStore = errors.New("corrupt hash store")
)

// ErrorKind classifies a network failure.
type ErrorKind string

// Known network error kinds.
const (
	KindNameResolution    ErrorKind = "name_resolution"
	KindConnectionRefused ErrorKind = "connection_refused"
	KindHTTPNotRetryable  ErrorKind = "http_not_retryable"
	KindRateLimited       ErrorKind = "rate_limited"
	KindTimeout           ErrorKind = "timeout"
	KindHTTPServer        ErrorKind = "http_server"
	KindNetwork           ErrorKind = "network"
	KindCanceled          ErrorKind = "canceled"
)

// DefaultFatalKinds are never retried.
func DefaultFatalKinds() map[ErrorKind]struct{} {
	return map[ErrorKind]struct{}{
		KindNameResolution:    {},
		KindConnectionRefused: {},
		KindHTTPNotRetryable:  {},
	}
}

// NetworkError wraps a fetch failure with its classification.
type NetworkError struct {
	Kind       ErrorKind
	StatusCode int
	URL        string
	Err        error
}

func (e *NetworkError) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, " (status %d)", e.StatusCode)
	}
	if e.URL != "" {
		b.WriteString(" fetching ")
		b.WriteString(e.URL)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// AttemptRecord is one entry of a retried operation's history.
type AttemptRecord struct {
	Attempt int
	Err     error
	Kind    ErrorKind
	Wait    time.Duration
}

// DownloadFailedError is raised when the retry budget is exhausted or a fatal error occurs.
type DownloadFailedError struct {
	Attempts []AttemptRecord
	Fatal    bool
}

func (e *DownloadFailedError) Error() string {
	if len(e.Attempts) == 0 {
		return "download failed"
	}
	last := e.Attempts[len(e.Attempts)-1]
	return fmt.Sprintf("download failed after %d attempt(s): %v", len(e.Attempts), last.Err)
}

// Unwrap exposes the last attempt's error.
func (e *DownloadFailedError) Unwrap() error {
	if len(e.Attempts) == 0 {
		return nil
	}
	return e.Attempts[len(e.Attempts)-1].Err
}

// Waits returns the wait sequence recorded across attempts.
func (e *DownloadFailedError) Waits() []time.Duration {
	out := make([]time.Duration, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		if a.Wait > 0 {
			out = append(out, a.Wait)
		}
	}
	return out
}

// FlushError reports a failed durable write of the hash store.
type FlushError struct {
	Backend string
	Err     error
}

func (e *FlushError) Error() string {
	return fmt.Sprintf("flush %s hash store: %v", e.Backend, e.Err)
}

func (e *FlushError) Unwrap() error {
	return e.Err
}

// Classify returns the summary bucket for a task failure.
func Classify(err error) string {
	if err == nil {
		return ""
	}
	var failed *DownloadFailedError
	var netErr *NetworkError
	var flushErr *FlushError
	switch {
	case errors.Is(err, ErrNotSupportedSource):
		return "not_supported_source"
	case errors.As(err, &failed):
		if failed.Fatal {
			return "fatal_network"
		}
		return "download_failed"
	case errors.As(err, &netErr):
		return string(netErr.Kind)
	case errors.As(err, &flushErr):
		return "flush_failure"
	case errors.Is(err, ErrCorruptHashStore):
		return "corrupt_hash_store"
	default:
		return "other"
	}
}

// IsFatal reports whether the error belongs to a fatal network class.
func IsFatal(err error) bool {
	var failed *DownloadFailedError
	return errors.As(err, &failed) && failed.Fatal
}
