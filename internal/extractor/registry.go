// Package extractor turns submissions into downloadable resources.
//
// Site support is data: each Descriptor pairs a URL pattern with an Extractor.
// The Registry picks candidates for a URL, most specific first with fallbacks
// last, and the first candidate that yields resources wins.
package extractor

import (
	"context"
	"errors"
	"fmt"
	"path"
	"regexp"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/submission-downloader/internal/downloader"
)

// Extractor maps a submission onto zero or more resources, or downloader.ErrNotSupported.
type Extractor interface {
	Extract(ctx context.Context, sub downloader.Submission) ([]downloader.Resource, error)
}

// Func adapts a plain function to Extractor.
type Func func(ctx context.Context, sub downloader.Submission) ([]downloader.Resource, error)

// Extract implements Extractor.
func (f Func) Extract(ctx context.Context, sub downloader.Submission) ([]downloader.Resource, error) {
	return f(ctx, sub)
}

// Descriptor registers one strategy.
type Descriptor struct {
	Name    string
	Pattern *regexp.Regexp
	// Specificity orders matching candidates; higher runs first.
	Specificity int
	// Fallback candidates run after every specific match regardless of Specificity.
	Fallback  bool
	Extractor Extractor
	Enabled   bool
}

// Registry holds descriptors in registration order.
type Registry struct {
	mu          sync.RWMutex
	descriptors []Descriptor
	logger      *zap.Logger
}

// NewRegistry returns an empty registry.
func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{logger: logger}
}

// Register adds a descriptor. Names must be unique, case-insensitively.
func (r *Registry) Register(desc Descriptor) error {
	if desc.Name == "" || desc.Pattern == nil || desc.Extractor == nil {
		return fmt.Errorf("descriptor requires name, pattern and extractor")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.descriptors {
		if strings.EqualFold(existing.Name, desc.Name) {
			return fmt.Errorf("extractor %q already registered", desc.Name)
		}
	}
	r.descriptors = append(r.descriptors, desc)
	return nil
}

// Disable turns off the named extractor for the rest of the run. It reports
// whether a descriptor with that name exists.
func (r *Registry) Disable(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.descriptors {
		if strings.EqualFold(r.descriptors[i].Name, name) {
			r.descriptors[i].Enabled = false
			return true
		}
	}
	return false
}

// Names lists registered descriptors with their enabled state.
func (r *Registry) Names() map[string]bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]bool, len(r.descriptors))
	for _, d := range r.descriptors {
		out[d.Name] = d.Enabled
	}
	return out
}

// Resolve returns the enabled descriptors matching url, most specific first and fallbacks last.
func (r *Registry) Resolve(url string) []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Descriptor
	for _, d := range r.descriptors {
		if d.Enabled && d.Pattern.MatchString(url) {
			out = append(out, d)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Fallback != out[j].Fallback {
			return !out[i].Fallback
		}
		return out[i].Specificity > out[j].Specificity
	})
	return out
}

// Dispatch tries each candidate for the submission in order. The first
// non-empty result wins. When no candidate matches or every candidate
// declines or fails, the error wraps downloader.ErrNotSupportedSource.
func (r *Registry) Dispatch(ctx context.Context, sub downloader.Submission) ([]downloader.Resource, error) {
	candidates := r.Resolve(sub.URL)
	var errs []error
	for _, d := range candidates {
		resources, err := d.Extractor.Extract(ctx, sub)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		switch {
		case err == nil && len(resources) > 0:
			r.logger.Debug("extractor matched",
				zap.String("submission_id", sub.ID),
				zap.String("extractor", d.Name),
				zap.Int("resources", len(resources)),
			)
			return resources, nil
		case err != nil && !errors.Is(err, downloader.ErrNotSupported):
			r.logger.Debug("extractor failed",
				zap.String("submission_id", sub.ID),
				zap.String("extractor", d.Name),
				zap.Error(err),
			)
			errs = append(errs, fmt.Errorf("%s: %w", d.Name, err))
		}
	}
	if len(errs) == 0 {
		return nil, fmt.Errorf("%w: %s", downloader.ErrNotSupportedSource, sub.URL)
	}
	return nil, fmt.Errorf("%w: %s: %w", downloader.ErrNotSupportedSource, sub.URL, errors.Join(errs...))
}

var mediaExtensions = map[string]struct{}{
	"jpg": {}, "jpeg": {}, "png": {}, "gif": {}, "webp": {}, "bmp": {},
	"mp4": {}, "webm": {}, "mov": {}, "mkv": {}, "m4v": {},
	"mp3": {}, "m4a": {}, "ogg": {}, "wav": {},
}

// extensionOf returns the lowercase extension of a URL's path without the dot.
func extensionOf(rawURL string) string {
	if i := strings.IndexAny(rawURL, "?#"); i >= 0 {
		rawURL = rawURL[:i]
	}
	return strings.TrimPrefix(strings.ToLower(path.Ext(rawURL)), ".")
}

func isMediaURL(rawURL string) bool {
	_, ok := mediaExtensions[extensionOf(rawURL)]
	return ok
}

func resource(rawURL string) downloader.Resource {
	return downloader.Resource{URL: rawURL, Extension: extensionOf(rawURL)}
}
