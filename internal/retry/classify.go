package retry

import (
	"context"
	"errors"
	"net"
	"strings"
	"syscall"

	"github.com/JakeFAU/submission-downloader/internal/downloader"
)

// unstructuredMarkers catches failures whose structure was lost before they reached us.
// TODO: validate this list against failures captured from real runs; it mirrors the
// resolver strings the previous downloader matched and is not assumed complete.
var unstructuredMarkers = []struct {
	text string
	kind downloader.ErrorKind
}{
	{"no such host", downloader.KindNameResolution},
	{"name or service not known", downloader.KindNameResolution},
	{"temporary failure in name resolution", downloader.KindNameResolution},
	{"failed to resolve", downloader.KindNameResolution},
	{"connection refused", downloader.KindConnectionRefused},
}

// Classify maps an error onto a structured kind.
func Classify(err error) downloader.ErrorKind {
	if err == nil {
		return ""
	}
	var netErr *downloader.NetworkError
	if errors.As(err, &netErr) && netErr.Kind != "" && netErr.Kind != downloader.KindNetwork {
		return netErr.Kind
	}
	if errors.Is(err, context.Canceled) {
		return downloader.KindCanceled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return downloader.KindTimeout
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		if dnsErr.IsTimeout {
			return downloader.KindTimeout
		}
		return downloader.KindNameResolution
	}
	if errors.Is(err, syscall.ECONNREFUSED) {
		return downloader.KindConnectionRefused
	}
	var timeoutErr net.Error
	if errors.As(err, &timeoutErr) && timeoutErr.Timeout() {
		return downloader.KindTimeout
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range unstructuredMarkers {
		if strings.Contains(msg, marker.text) {
			return marker.kind
		}
	}
	return downloader.KindNetwork
}

// ClassifyStatus maps an HTTP status code onto a kind. Zero means success.
func ClassifyStatus(code int) downloader.ErrorKind {
	switch {
	case code >= 200 && code < 300:
		return ""
	case code == 301 || code == 401 || code == 403 || code == 404:
		return downloader.KindHTTPNotRetryable
	case code == 429:
		return downloader.KindRateLimited
	case code >= 500:
		return downloader.KindHTTPServer
	default:
		return downloader.KindNetwork
	}
}
