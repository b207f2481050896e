package extractor

import (
	"regexp"

	"go.uber.org/zap"

	"github.com/JakeFAU/submission-downloader/internal/fetcher/headless"
)

// Options selects the optional strategies of the default registry.
type Options struct {
	Pages    PageCollector
	Renderer headless.Renderer
	// HeadlessEnabled registers the browser fallback as enabled.
	HeadlessEnabled bool
	Disabled        []string
	Logger          *zap.Logger
}

var (
	selfPostPattern = regexp.MustCompile(`(?i)^https?://(www\.|old\.|new\.)?reddit\.com/r/[^/]+/comments/`)
	galleryPattern  = regexp.MustCompile(`(?i)^https?://(www\.|old\.|new\.)?reddit\.com/(gallery/|r/[^/]+/comments/)`)
	imgurPattern    = regexp.MustCompile(`(?i)^https?://([im]\.)?imgur\.com/`)
	directPattern   = regexp.MustCompile(`(?i)^https?://[^?#]+\.(jpe?g|png|gif|webp|bmp|mp4|webm|mov|mkv|m4v|mp3|m4a|ogg|wav)([?#].*)?$`)
	anyHTTPPattern  = regexp.MustCompile(`(?i)^https?://`)
)

// NewDefault builds the registry with every shipped strategy, then applies opts.Disabled.
func NewDefault(opts Options) (*Registry, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	reg := NewRegistry(logger.Named("extractor"))

	descs := []Descriptor{
		{Name: "SelfPost", Pattern: selfPostPattern, Specificity: 40, Extractor: SelfPost(), Enabled: true},
		{Name: "Gallery", Pattern: galleryPattern, Specificity: 30, Extractor: Gallery(), Enabled: true},
		{Name: "Imgur", Pattern: imgurPattern, Specificity: 20, Extractor: Imgur(), Enabled: true},
		{Name: "Direct", Pattern: directPattern, Specificity: 10, Extractor: Direct(), Enabled: true},
	}
	if opts.Pages != nil {
		descs = append(descs, Descriptor{
			Name: "Generic", Pattern: anyHTTPPattern, Fallback: true, Extractor: Generic(opts.Pages), Enabled: true,
		})
	}
	if opts.Renderer != nil {
		descs = append(descs, Descriptor{
			Name: "Headless", Pattern: anyHTTPPattern, Fallback: true, Extractor: Headless(opts.Renderer), Enabled: opts.HeadlessEnabled,
		})
	}
	for _, d := range descs {
		if err := reg.Register(d); err != nil {
			return nil, err
		}
	}
	for _, name := range opts.Disabled {
		if !reg.Disable(name) {
			logger.Warn("unknown extractor in disabled list", zap.String("extractor", name))
		}
	}
	return reg, nil
}
