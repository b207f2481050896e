// Package headless renders pages in headless Chrome so media injected by
// JavaScript can be extracted.
package headless

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
)

// DefaultNavigationTimeout bounds a single render when none is configured.
const DefaultNavigationTimeout = 45 * time.Second

// ErrDisabled is returned by renderers that never start a browser.
var ErrDisabled = errors.New("headless rendering disabled")

// Config controls the behavior of the headless renderer.
type Config struct {
	MaxParallel       int
	UserAgent         string
	NavigationTimeout time.Duration
	// Settle is how long to wait after the body is ready for players to attach
	// their sources.
	Settle time.Duration
}

// Page is a rendered submission page.
type Page struct {
	URL    string
	Status int
	HTML   string
	// Media lists image and video responses the browser loaded, in arrival order.
	Media []string
}

// Renderer turns a page URL into its rendered DOM.
type Renderer interface {
	Render(ctx context.Context, pageURL string) (Page, error)
}

// Fetcher renders pages with chromedp. Browser tabs share one allocator and
// at most MaxParallel render at once.
type Fetcher struct {
	cfg         Config
	slots       chan struct{}
	allocator   context.Context
	allocCancel context.CancelFunc
}

// NewChromedp creates a chromedp renderer. Chrome starts lazily on the first
// Render.
func NewChromedp(cfg Config) (*Fetcher, error) {
	if cfg.MaxParallel <= 0 {
		return nil, fmt.Errorf("max parallel must be > 0, got %d", cfg.MaxParallel)
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = DefaultNavigationTimeout
	}
	if cfg.Settle <= 0 {
		cfg.Settle = 500 * time.Millisecond
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("mute-audio", true),
		chromedp.Flag("autoplay-policy", "no-user-gesture-required"),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	return &Fetcher{
		cfg:         cfg,
		slots:       make(chan struct{}, cfg.MaxParallel),
		allocator:   allocCtx,
		allocCancel: allocCancel,
	}, nil
}

// Close shuts the browser down.
func (f *Fetcher) Close() {
	f.allocCancel()
}

// Render loads pageURL in a fresh tab and returns its DOM along with every
// media response observed while it loaded.
func (f *Fetcher) Render(ctx context.Context, pageURL string) (Page, error) {
	select {
	case f.slots <- struct{}{}:
	case <-ctx.Done():
		return Page{}, fmt.Errorf("wait for render slot: %w", ctx.Err())
	}
	defer func() { <-f.slots }()

	tab, closeTab := chromedp.NewContext(f.allocator)
	defer closeTab()
	stop := context.AfterFunc(ctx, closeTab)
	defer stop()
	tab, cancel := context.WithTimeout(tab, f.cfg.NavigationTimeout)
	defer cancel()

	obs := &observer{}
	chromedp.ListenTarget(tab, obs.onEvent)

	var html, location string
	err := chromedp.Run(tab,
		f.prepare(),
		chromedp.Navigate(pageURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(f.cfg.Settle),
		chromedp.Location(&location),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err != nil {
		if ctx.Err() != nil {
			return Page{}, fmt.Errorf("render %s: %w", pageURL, ctx.Err())
		}
		return Page{}, fmt.Errorf("render %s: %w", pageURL, err)
	}
	return obs.page(pageURL, location, html), nil
}

func (f *Fetcher) prepare() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network events: %w", err)
		}
		if f.cfg.UserAgent == "" {
			return nil
		}
		if err := emulation.SetUserAgentOverride(f.cfg.UserAgent).Do(ctx); err != nil {
			return fmt.Errorf("set user agent: %w", err)
		}
		return nil
	})
}

// observer collects the document status and media responses of one tab.
type observer struct {
	mu     sync.Mutex
	status int
	docURL string
	media  []string
	seen   map[string]struct{}
}

func (o *observer) onEvent(ev any) {
	resp, ok := ev.(*network.EventResponseReceived)
	if !ok || resp.Response == nil {
		return
	}
	o.record(resp.Type, resp.Response)
}

func (o *observer) record(kind network.ResourceType, resp *network.Response) {
	o.mu.Lock()
	defer o.mu.Unlock()
	switch {
	case kind == network.ResourceTypeDocument:
		if o.docURL == "" {
			o.status = int(resp.Status)
			o.docURL = resp.URL
		}
	case isMediaResponse(kind, resp):
		if o.seen == nil {
			o.seen = make(map[string]struct{})
		}
		if _, dup := o.seen[resp.URL]; dup {
			return
		}
		o.seen[resp.URL] = struct{}{}
		o.media = append(o.media, resp.URL)
	}
}

func (o *observer) page(requested, location, html string) Page {
	o.mu.Lock()
	defer o.mu.Unlock()
	p := Page{URL: location, Status: o.status, HTML: html, Media: append([]string(nil), o.media...)}
	if p.URL == "" {
		p.URL = o.docURL
	}
	if p.URL == "" {
		p.URL = requested
	}
	if p.Status == 0 {
		p.Status = http.StatusOK
	}
	return p
}

func isMediaResponse(kind network.ResourceType, resp *network.Response) bool {
	if resp.Status < 200 || resp.Status >= 300 {
		return false
	}
	if !strings.HasPrefix(resp.URL, "http://") && !strings.HasPrefix(resp.URL, "https://") {
		return false
	}
	if kind == network.ResourceTypeMedia {
		return true
	}
	mime := strings.ToLower(resp.MimeType)
	return kind == network.ResourceTypeImage && strings.HasPrefix(mime, "image/") && mime != "image/svg+xml"
}
