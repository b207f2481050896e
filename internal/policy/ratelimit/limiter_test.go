package ratelimit

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

func TestLimiterWaitDelaysSecondRequest(t *testing.T) {
	t.Parallel()

	// 10 RPS with burst 1 gives one token every 100ms.
	l := New(Config{DefaultRPS: 10, DefaultBurst: 1})
	ctx := context.Background()

	require.NoError(t, l.Wait(ctx, "https://i.redd.it/a.jpg"))

	start := time.Now()
	require.NoError(t, l.Wait(ctx, "https://i.redd.it/b.jpg"))
	assert.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)
}

func TestLimiterDomainsAreIndependent(t *testing.T) {
	t.Parallel()

	l := New(Config{DefaultRPS: 1, DefaultBurst: 1})
	ctx := context.Background()
	require.NoError(t, l.Wait(ctx, "https://i.imgur.com/a.jpg"))

	start := time.Now()
	require.NoError(t, l.Wait(ctx, "https://i.redd.it/a.jpg"))
	assert.Less(t, time.Since(start), 50*time.Millisecond)
}

func TestLimiterWaitHonorsContext(t *testing.T) {
	t.Parallel()

	l := New(Config{DefaultRPS: 0.001, DefaultBurst: 1})
	require.NoError(t, l.Wait(context.Background(), "https://example.com"))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	require.Error(t, l.Wait(ctx, "https://example.com"))
}

func TestReportResultBacksOffOn429(t *testing.T) {
	t.Parallel()

	l := New(Config{DefaultRPS: 4})
	url := "https://i.imgur.com/a.jpg"

	l.ReportResult(url, http.StatusOK)
	assert.Equal(t, rate.Limit(4), l.Rate(url))

	l.ReportResult(url, http.StatusTooManyRequests)
	assert.Equal(t, rate.Limit(2), l.Rate(url))

	for i := 0; i < 20; i++ {
		l.ReportResult(url, http.StatusTooManyRequests)
	}
	assert.Equal(t, minBackoffRate, l.Rate(url))
}

func TestReportResultPinsUnlimitedDomain(t *testing.T) {
	t.Parallel()

	l := New(Config{})
	url := "https://example.com"
	assert.Equal(t, rate.Inf, l.Rate(url))

	l.ReportResult(url, http.StatusTooManyRequests)
	assert.Equal(t, rate.Limit(1), l.Rate(url))
}
