package retry

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/JakeFAU/submission-downloader/internal/downloader"
)

func TestClassify(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want downloader.ErrorKind
	}{
		{
			name: "dns not found",
			err:  &url.Error{Op: "Get", URL: "https://nowhere.invalid", Err: &net.DNSError{Err: "no such host", Name: "nowhere.invalid", IsNotFound: true}},
			want: downloader.KindNameResolution,
		},
		{
			name: "dns timeout",
			err:  &net.DNSError{Err: "i/o timeout", Name: "slow.example", IsTimeout: true},
			want: downloader.KindTimeout,
		},
		{
			name: "connection refused",
			err:  &net.OpError{Op: "dial", Net: "tcp", Err: os.NewSyscallError("connect", syscall.ECONNREFUSED)},
			want: downloader.KindConnectionRefused,
		},
		{
			name: "typed network error",
			err:  fmt.Errorf("wrapped: %w", &downloader.NetworkError{Kind: downloader.KindRateLimited, StatusCode: 429}),
			want: downloader.KindRateLimited,
		},
		{
			name: "generic network error defers to cause",
			err:  &downloader.NetworkError{Kind: downloader.KindNetwork, Err: errors.New("dial tcp: lookup host: no such host")},
			want: downloader.KindNameResolution,
		},
		{
			name: "deadline",
			err:  fmt.Errorf("fetch: %w", context.DeadlineExceeded),
			want: downloader.KindTimeout,
		},
		{
			name: "canceled",
			err:  fmt.Errorf("fetch: %w", context.Canceled),
			want: downloader.KindCanceled,
		},
		{
			name: "unstructured refusal",
			err:  errors.New("Connection refused by upstream"),
			want: downloader.KindConnectionRefused,
		},
		{
			name: "unknown",
			err:  errors.New("unexpected EOF"),
			want: downloader.KindNetwork,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
	assert.Equal(t, downloader.ErrorKind(""), Classify(nil))
}

func TestClassifyStatus(t *testing.T) {
	t.Parallel()

	cases := map[int]downloader.ErrorKind{
		200: "",
		204: "",
		301: downloader.KindHTTPNotRetryable,
		401: downloader.KindHTTPNotRetryable,
		403: downloader.KindHTTPNotRetryable,
		404: downloader.KindHTTPNotRetryable,
		429: downloader.KindRateLimited,
		500: downloader.KindHTTPServer,
		503: downloader.KindHTTPServer,
		418: downloader.KindNetwork,
	}
	for code, want := range cases {
		assert.Equal(t, want, ClassifyStatus(code), "status %d", code)
	}
}
