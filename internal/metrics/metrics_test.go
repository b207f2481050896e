package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestSanitizeSite(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{"standard http", "http://example.com/path", "example.com"},
		{"standard https", "https://I.Imgur.com/abc.jpg", "i.imgur.com"},
		{"no scheme", "example.com/path", "example.com"},
		{"host with port", "example.com:8080", "example.com"},
		{"invalid url", "http://%", "unknown"},
		{"empty string", "", "unknown"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := SanitizeSite(tc.input); got != tc.expected {
				t.Errorf("SanitizeSite(%q) = %q; want %q", tc.input, got, tc.expected)
			}
		})
	}
}

func TestInitIsIdempotent(t *testing.T) {
	Init()
	Init()

	if tasksTotal == nil || failuresTotal == nil || retryWaitSeconds == nil || hashStoreFlushesTotal == nil {
		t.Fatal("Init() did not initialize metrics collectors")
	}
}

func TestObserversUpdateCollectors(t *testing.T) {
	Init()
	before := testutil.ToFloat64(tasksTotal.WithLabelValues("done"))
	ObserveTask("done")
	if got := testutil.ToFloat64(tasksTotal.WithLabelValues("done")); got != before+1 {
		t.Errorf("expected tasks done to grow by 1, got %f -> %f", before, got)
	}

	flushErrBefore := testutil.ToFloat64(hashStoreFlushesTotal.WithLabelValues("flat", "error"))
	ObserveFlush("flat", errors.New("disk full"))
	if got := testutil.ToFloat64(hashStoreFlushesTotal.WithLabelValues("flat", "error")); got != flushErrBefore+1 {
		t.Errorf("expected flush error count to grow by 1, got %f", got)
	}

	ObserveRetryWait("timeout", 60*time.Second)
	if n := testutil.CollectAndCount(retryWaitSeconds); n == 0 {
		t.Error("expected retry wait histogram to be observed")
	}

	SetHashStoreEntries(42)
	if got := testutil.ToFloat64(hashStoreEntries); got != 42 {
		t.Errorf("expected 42 entries, got %f", got)
	}
}

// Fuzz test for SanitizeSite.
func FuzzSanitizeSite(f *testing.F) {
	testcases := []string{"http://example.com", "https://i.redd.it/x.png", "ftp://example.com"}
	for _, tc := range testcases {
		f.Add(tc)
	}
	f.Fuzz(func(t *testing.T, orig string) {
		sanitized := SanitizeSite(orig)
		if sanitized == "" {
			t.Errorf("SanitizeSite(%q) returned an empty string", orig)
		}
	})
}
