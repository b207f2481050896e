package extractor

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly/v2"

	"github.com/JakeFAU/submission-downloader/internal/downloader"
	"github.com/JakeFAU/submission-downloader/internal/fetcher/headless"
)

// PageCollector supplies configured collectors and applies per-domain pacing.
type PageCollector interface {
	Collector() *colly.Collector
	Wait(ctx context.Context, url string) error
}

// Generic scrapes the linked page for embedded media.
func Generic(pages PageCollector) Extractor {
	return Func(func(ctx context.Context, sub downloader.Submission) ([]downloader.Resource, error) {
		if err := pages.Wait(ctx, sub.URL); err != nil {
			return nil, err
		}
		collector := pages.Collector()
		collector.Context = ctx

		var (
			found    []string
			visitErr error
		)
		collector.OnHTML("html", func(e *colly.HTMLElement) {
			found = mediaFromSelection(e.DOM, e.Request.AbsoluteURL)
		})
		collector.OnError(func(_ *colly.Response, err error) {
			visitErr = err
		})

		done := make(chan error, 1)
		go func() {
			done <- collector.Visit(sub.URL)
		}()
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("scrape %s canceled: %w", sub.URL, ctx.Err())
		case err := <-done:
			if visitErr != nil {
				return nil, fmt.Errorf("scrape %s: %w", sub.URL, visitErr)
			}
			if err != nil {
				return nil, fmt.Errorf("scrape %s: %w", sub.URL, err)
			}
		}
		return toResources(found)
	})
}

// Headless renders the linked page in a browser before looking for media.
// When the DOM names nothing, the media the page loaded over the network is
// used instead.
func Headless(renderer headless.Renderer) Extractor {
	return Func(func(ctx context.Context, sub downloader.Submission) ([]downloader.Resource, error) {
		page, err := renderer.Render(ctx, sub.URL)
		if errors.Is(err, headless.ErrDisabled) {
			return nil, fmt.Errorf("%w: %w", downloader.ErrNotSupported, err)
		}
		if err != nil {
			return nil, err
		}
		doc, err := goquery.NewDocumentFromReader(strings.NewReader(page.HTML))
		if err != nil {
			return nil, fmt.Errorf("parse rendered %s: %w", sub.URL, err)
		}
		base, err := url.Parse(page.URL)
		if err != nil {
			return nil, fmt.Errorf("parse page url %s: %w", page.URL, err)
		}
		found := mediaFromSelection(doc.Selection, func(ref string) string {
			u, err := base.Parse(ref)
			if err != nil {
				return ""
			}
			return u.String()
		})
		if len(found) == 0 {
			found = absolutize(page.Media, func(ref string) string { return ref })
		}
		return toResources(found)
	})
}

func toResources(urls []string) ([]downloader.Resource, error) {
	if len(urls) == 0 {
		return nil, downloader.ErrNotSupported
	}
	out := make([]downloader.Resource, 0, len(urls))
	for _, u := range urls {
		out = append(out, resource(u))
	}
	return out, nil
}

// mediaFromSelection prefers video over images: og:video, then <video>
// sources, then og:image, then <img> tags pointing at media files.
func mediaFromSelection(sel *goquery.Selection, absolute func(string) string) []string {
	tiers := []func() []string{
		func() []string { return attrs(sel, `meta[property="og:video"], meta[property="og:video:url"]`, "content") },
		func() []string { return attrs(sel, `video[src], video source[src]`, "src") },
		func() []string { return attrs(sel, `meta[property="og:image"]`, "content") },
		func() []string {
			var media []string
			for _, src := range attrs(sel, `img[src]`, "src") {
				if isMediaURL(src) {
					media = append(media, src)
				}
			}
			return media
		},
	}
	for _, tier := range tiers {
		if urls := absolutize(tier(), absolute); len(urls) > 0 {
			return urls
		}
	}
	return nil
}

func attrs(sel *goquery.Selection, selector, attr string) []string {
	var out []string
	sel.Find(selector).Each(func(_ int, s *goquery.Selection) {
		if v, ok := s.Attr(attr); ok && strings.TrimSpace(v) != "" {
			out = append(out, strings.TrimSpace(v))
		}
	})
	return out
}

func absolutize(refs []string, absolute func(string) string) []string {
	seen := make(map[string]struct{}, len(refs))
	var out []string
	for _, ref := range refs {
		abs := absolute(ref)
		if abs == "" || (!strings.HasPrefix(abs, "http://") && !strings.HasPrefix(abs, "https://")) {
			continue
		}
		if _, dup := seen[abs]; dup {
			continue
		}
		seen[abs] = struct{}{}
		out = append(out, abs)
	}
	return out
}
