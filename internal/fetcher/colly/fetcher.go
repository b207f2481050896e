// Package collyfetcher implements the resource Fetcher using gocolly.
package collyfetcher

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/JakeFAU/submission-downloader/internal/downloader"
	"github.com/JakeFAU/submission-downloader/internal/metrics"
	"github.com/JakeFAU/submission-downloader/internal/retry"
)

// Config controls collector behavior.
type Config struct {
	UserAgent string
	Timeout   time.Duration
}

// Limiter paces requests per domain and learns from responses.
type Limiter interface {
	Wait(ctx context.Context, url string) error
	ReportResult(url string, statusCode int)
}

// Fetcher implements downloader.Fetcher using the Colly collector.
type Fetcher struct {
	cfg           Config
	limiter       Limiter
	baseCollector *colly.Collector
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Fetcher. limiter may be nil.
func New(cfg Config, limiter Limiter) *Fetcher {
	// Media is re-fetched across retries and runs, and bodies can be large videos.
	c := colly.NewCollector(
		colly.Async(false),
		colly.AllowURLRevisit(),
		colly.MaxBodySize(0),
	)
	c.WithTransport(newHTTPTransport())

	return &Fetcher{
		cfg:           cfg,
		limiter:       limiter,
		baseCollector: c,
	}
}

// Collector returns a configured collector clone for page scraping.
func (f *Fetcher) Collector() *colly.Collector {
	collector := f.baseCollector.Clone()
	if f.cfg.UserAgent != "" {
		collector.UserAgent = f.cfg.UserAgent
	}
	collector.SetRequestTimeout(f.timeout())
	return collector
}

// Wait applies the per-domain rate limit for url.
func (f *Fetcher) Wait(ctx context.Context, url string) error {
	if f.limiter == nil {
		return nil
	}
	if err := f.limiter.Wait(ctx, url); err != nil {
		return fmt.Errorf("wait for %s: %w", url, err)
	}
	return nil
}

// Fetch executes a single HTTP GET using Colly. Failures are returned as
// *downloader.NetworkError carrying a structured kind.
func (f *Fetcher) Fetch(ctx context.Context, request downloader.FetchRequest) (downloader.FetchResponse, error) {
	if err := f.Wait(ctx, request.URL); err != nil {
		return downloader.FetchResponse{}, err
	}

	var (
		result  downloader.FetchResponse
		failure fetchFailure
	)
	collector := f.Collector()
	collector.Context = ctx
	f.configureCollectorHooks(collector, request, time.Now(), &result, &failure)

	if err := f.runCollector(ctx, collector, request.URL, &failure); err != nil {
		if f.limiter != nil && ctx.Err() == nil && failure.status != 0 {
			f.limiter.ReportResult(request.URL, failure.status)
		}
		return downloader.FetchResponse{}, err
	}
	if f.limiter != nil {
		f.limiter.ReportResult(request.URL, result.StatusCode)
	}
	metrics.ObserveFetch(request.URL, len(result.Body))
	return result, nil
}

type fetchFailure struct {
	err    error
	status int
}

func (f *Fetcher) configureCollectorHooks(
	hooks collectorHooks,
	request downloader.FetchRequest,
	start time.Time,
	result *downloader.FetchResponse,
	failure *fetchFailure,
) {
	hooks.OnRequest(func(r *colly.Request) {
		copyHeaders(request, r)
	})

	hooks.OnResponse(func(r *colly.Response) {
		*result = downloader.FetchResponse{
			URL:        r.Request.URL.String(),
			StatusCode: r.StatusCode,
			Headers:    r.Headers.Clone(),
			Body:       append([]byte(nil), r.Body...),
			Duration:   time.Since(start),
		}
	})

	hooks.OnError(func(r *colly.Response, err error) {
		failure.err = err
		if r != nil {
			failure.status = r.StatusCode
		}
	})
}

func (f *Fetcher) runCollector(ctx context.Context, collector *colly.Collector, url string, failure *fetchFailure) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		// The request carries ctx, so the visit unwinds promptly.
		<-done
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if failure.err == nil && err == nil {
			return nil
		}
		return classifyFailure(url, failure, err)
	}
}

func classifyFailure(url string, failure *fetchFailure, visitErr error) error {
	cause := failure.err
	if cause == nil {
		cause = visitErr
	}
	kind := retry.ClassifyStatus(failure.status)
	if failure.status == 0 || kind == "" {
		kind = retry.Classify(cause)
	}
	return &downloader.NetworkError{
		Kind:       kind,
		StatusCode: failure.status,
		URL:        url,
		Err:        cause,
	}
}

func copyHeaders(request downloader.FetchRequest, r *colly.Request) {
	if request.Headers == nil {
		return
	}
	for key, values := range request.Headers {
		for _, v := range values {
			r.Headers.Add(key, v)
		}
	}
}

func (f *Fetcher) timeout() time.Duration {
	if f.cfg.Timeout > 0 {
		return f.cfg.Timeout
	}
	return 60 * time.Second
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
