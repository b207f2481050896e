package extractor

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/JakeFAU/submission-downloader/internal/downloader"
)

// Direct handles URLs that already point at a media file.
func Direct() Extractor {
	return Func(func(_ context.Context, sub downloader.Submission) ([]downloader.Resource, error) {
		if !isMediaURL(sub.URL) {
			return nil, downloader.ErrNotSupported
		}
		return []downloader.Resource{resource(sub.URL)}, nil
	})
}

// Imgur rewrites imgur links onto direct media URLs.
func Imgur() Extractor {
	return Func(func(_ context.Context, sub downloader.Submission) ([]downloader.Resource, error) {
		u, err := url.Parse(sub.URL)
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", sub.URL, err)
		}
		segments := strings.Split(strings.Trim(u.Path, "/"), "/")
		if len(segments) != 1 || segments[0] == "" {
			// Albums and galleries need the imgur API.
			return nil, downloader.ErrNotSupported
		}
		name := segments[0]
		ext := extensionOf(name)
		id := strings.TrimSuffix(name, "."+ext)
		if ext == "" {
			id = name
		}
		switch ext {
		case "gifv":
			ext = "mp4"
		case "":
			ext = "jpg"
		}
		if _, ok := mediaExtensions[ext]; !ok {
			return nil, downloader.ErrNotSupported
		}
		direct := fmt.Sprintf("https://i.imgur.com/%s.%s", id, ext)
		return []downloader.Resource{{URL: direct, Extension: ext}}, nil
	})
}

// Gallery yields the media URLs attached to a platform gallery submission.
func Gallery() Extractor {
	return Func(func(_ context.Context, sub downloader.Submission) ([]downloader.Resource, error) {
		if len(sub.GalleryURLs) == 0 {
			return nil, downloader.ErrNotSupported
		}
		out := make([]downloader.Resource, 0, len(sub.GalleryURLs))
		for _, u := range sub.GalleryURLs {
			out = append(out, resource(u))
		}
		return out, nil
	})
}

// SelfPost renders a text submission into an inline resource.
func SelfPost() Extractor {
	return Func(func(_ context.Context, sub downloader.Submission) ([]downloader.Resource, error) {
		if !sub.IsSelf {
			return nil, downloader.ErrNotSupported
		}
		var b strings.Builder
		fmt.Fprintf(&b, "## [%s](%s)\n", sub.Title, sub.URL)
		author := sub.Author
		if author == "" {
			author = "DELETED"
		}
		fmt.Fprintf(&b, "Written by u/%s\n\n", author)
		b.WriteString(sub.SelfText)
		b.WriteString("\n")
		return []downloader.Resource{{
			URL:       sub.URL,
			Extension: "txt",
			Inline:    []byte(b.String()),
		}}, nil
	})
}
