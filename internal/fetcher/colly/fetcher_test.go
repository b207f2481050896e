package collyfetcher

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/submission-downloader/internal/downloader"
)

type recordingLimiter struct {
	mu       sync.Mutex
	waits    []string
	statuses []int
}

func (l *recordingLimiter) Wait(_ context.Context, url string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.waits = append(l.waits, url)
	return nil
}

func (l *recordingLimiter) ReportResult(_ string, status int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.statuses = append(l.statuses, status)
}

func TestFetcherCollectorUsesConfig(t *testing.T) {
	t.Parallel()

	f := New(Config{UserAgent: "bulkdl-test"}, nil)
	collector := f.Collector()
	assert.Equal(t, "bulkdl-test", collector.UserAgent)
	assert.True(t, collector.AllowURLRevisit)
	assert.Zero(t, collector.MaxBodySize)
}

func TestConfigureCollectorHooks(t *testing.T) {
	t.Parallel()

	f := New(Config{}, nil)
	req := downloader.FetchRequest{
		URL:     "https://example.com/a.jpg",
		Headers: http.Header{"X-Trace": {"yes"}},
	}
	var result downloader.FetchResponse
	var failure fetchFailure

	hooks := &stubHooks{}
	f.configureCollectorHooks(hooks, req, time.Unix(0, 0), &result, &failure)
	require.NotNil(t, hooks.onRequest)
	require.NotNil(t, hooks.onResponse)
	require.NotNil(t, hooks.onError)

	collyReq := &colly.Request{Headers: &http.Header{}}
	hooks.onRequest(collyReq)
	assert.Equal(t, "yes", collyReq.Headers.Get("X-Trace"))

	hooks.onResponse(&colly.Response{
		StatusCode: http.StatusOK,
		Body:       []byte("body"),
		Headers:    &http.Header{"Content-Type": {"image/jpeg"}},
		Request:    &colly.Request{URL: mustParseURL(t, "https://example.com/a.jpg")},
	})
	assert.Equal(t, http.StatusOK, result.StatusCode)
	assert.Equal(t, "body", string(result.Body))
	assert.Equal(t, "image/jpeg", result.Headers.Get("Content-Type"))

	hooks.onError(&colly.Response{StatusCode: http.StatusNotFound}, errors.New("Not Found"))
	assert.EqualError(t, failure.err, "Not Found")
	assert.Equal(t, http.StatusNotFound, failure.status)
}

func TestFetchReturnsBody(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "abc", r.Header.Get("X-Token"))
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write([]byte("png-bytes"))
	}))
	defer srv.Close()

	limiter := &recordingLimiter{}
	f := New(Config{Timeout: 5 * time.Second}, limiter)
	resp, err := f.Fetch(context.Background(), downloader.FetchRequest{
		URL:     srv.URL + "/img.png",
		Headers: http.Header{"X-Token": {"abc"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "png-bytes", string(resp.Body))
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []string{srv.URL + "/img.png"}, limiter.waits)
	assert.Equal(t, []int{http.StatusOK}, limiter.statuses)

	// The same URL can be fetched again (retries and later runs).
	_, err = f.Fetch(context.Background(), downloader.FetchRequest{URL: srv.URL + "/img.png"})
	require.NoError(t, err)
}

func TestFetchClassifiesStatus(t *testing.T) {
	t.Parallel()

	cases := []struct {
		status int
		kind   downloader.ErrorKind
	}{
		{http.StatusNotFound, downloader.KindHTTPNotRetryable},
		{http.StatusForbidden, downloader.KindHTTPNotRetryable},
		{http.StatusTooManyRequests, downloader.KindRateLimited},
		{http.StatusBadGateway, downloader.KindHTTPServer},
	}
	for _, tc := range cases {
		t.Run(http.StatusText(tc.status), func(t *testing.T) {
			t.Parallel()
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tc.status)
			}))
			defer srv.Close()

			limiter := &recordingLimiter{}
			f := New(Config{Timeout: 5 * time.Second}, limiter)
			_, err := f.Fetch(context.Background(), downloader.FetchRequest{URL: srv.URL})
			var netErr *downloader.NetworkError
			require.ErrorAs(t, err, &netErr)
			assert.Equal(t, tc.kind, netErr.Kind)
			assert.Equal(t, tc.status, netErr.StatusCode)
			assert.Equal(t, []int{tc.status}, limiter.statuses)
		})
	}
}

func TestFetchConnectionRefused(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()

	f := New(Config{Timeout: 5 * time.Second}, nil)
	_, err := f.Fetch(context.Background(), downloader.FetchRequest{URL: addr + "/gone.jpg"})
	var netErr *downloader.NetworkError
	require.ErrorAs(t, err, &netErr)
	assert.Equal(t, downloader.KindConnectionRefused, netErr.Kind)
}

func TestFetchHonorsCancellation(t *testing.T) {
	t.Parallel()

	aborted := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
		close(aborted)
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	f := New(Config{Timeout: 30 * time.Second}, nil)
	start := time.Now()
	_, err := f.Fetch(ctx, downloader.FetchRequest{URL: srv.URL})
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 5*time.Second)

	select {
	case <-aborted:
	case <-time.After(5 * time.Second):
		t.Fatal("server request was not aborted after cancellation")
	}
}

func mustParseURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u
}

type stubHooks struct {
	onRequest  colly.RequestCallback
	onResponse colly.ResponseCallback
	onError    colly.ErrorCallback
}

func (s *stubHooks) OnRequest(cb colly.RequestCallback) {
	s.onRequest = cb
}

func (s *stubHooks) OnResponse(cb colly.ResponseCallback) {
	s.onResponse = cb
}

func (s *stubHooks) OnError(cb colly.ErrorCallback) {
	s.onError = cb
}
