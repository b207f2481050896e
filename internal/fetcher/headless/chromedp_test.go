package headless

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/chromedp/cdproto/network"
)

func TestNewChromedpValidation(t *testing.T) {
	t.Parallel()

	if _, err := NewChromedp(Config{}); err == nil {
		t.Fatal("expected error for zero max parallel")
	}
	f, err := NewChromedp(Config{MaxParallel: 2})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer f.Close()
	if cap(f.slots) != 2 {
		t.Fatalf("expected 2 render slots, got %d", cap(f.slots))
	}
	if f.cfg.NavigationTimeout != DefaultNavigationTimeout {
		t.Fatalf("expected default navigation timeout, got %v", f.cfg.NavigationTimeout)
	}
	if f.cfg.Settle != 500*time.Millisecond {
		t.Fatalf("expected default settle, got %v", f.cfg.Settle)
	}
}

func TestObserverCollectsMedia(t *testing.T) {
	t.Parallel()

	obs := &observer{}
	events := []*network.EventResponseReceived{
		{Type: network.ResourceTypeDocument, Response: &network.Response{Status: 200, URL: "https://site.example/p/1"}},
		{Type: network.ResourceTypeDocument, Response: &network.Response{Status: 200, URL: "https://site.example/frame"}},
		{Type: network.ResourceTypeImage, Response: &network.Response{Status: 200, URL: "https://cdn.example/a.jpg", MimeType: "image/jpeg"}},
		{Type: network.ResourceTypeImage, Response: &network.Response{Status: 200, URL: "https://cdn.example/a.jpg", MimeType: "image/jpeg"}},
		{Type: network.ResourceTypeImage, Response: &network.Response{Status: 200, URL: "https://cdn.example/logo.svg", MimeType: "image/svg+xml"}},
		{Type: network.ResourceTypeImage, Response: &network.Response{Status: 404, URL: "https://cdn.example/gone.png", MimeType: "image/png"}},
		{Type: network.ResourceTypeImage, Response: &network.Response{Status: 200, URL: "data:image/png;base64,AAAA", MimeType: "image/png"}},
		{Type: network.ResourceTypeMedia, Response: &network.Response{Status: 206, URL: "https://cdn.example/v.mp4", MimeType: "video/mp4"}},
		{Type: network.ResourceTypeScript, Response: &network.Response{Status: 200, URL: "https://cdn.example/app.js"}},
	}
	for _, ev := range events {
		obs.onEvent(ev)
	}
	obs.onEvent("not a response")

	p := obs.page("https://site.example/p/1", "", "<html></html>")
	if p.URL != "https://site.example/p/1" || p.Status != 200 {
		t.Fatalf("unexpected document: %+v", p)
	}
	want := []string{"https://cdn.example/a.jpg", "https://cdn.example/v.mp4"}
	if len(p.Media) != len(want) || p.Media[0] != want[0] || p.Media[1] != want[1] {
		t.Fatalf("expected media %v, got %v", want, p.Media)
	}
}

func TestObserverPageFallbacks(t *testing.T) {
	t.Parallel()

	p := (&observer{}).page("https://req", "https://final", "")
	if p.URL != "https://final" || p.Status != http.StatusOK {
		t.Fatalf("expected location fallback, got %+v", p)
	}
	p = (&observer{}).page("https://req", "", "")
	if p.URL != "https://req" {
		t.Fatalf("expected requested url fallback, got %+v", p)
	}
}

func TestNoopRendererDeclines(t *testing.T) {
	t.Parallel()

	_, err := NewNoop().Render(context.Background(), "https://example.com")
	if !errors.Is(err, ErrDisabled) {
		t.Fatalf("expected ErrDisabled, got %v", err)
	}
}

func TestRenderCanceledWaitingForSlot(t *testing.T) {
	t.Parallel()

	f, err := NewChromedp(Config{MaxParallel: 1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer f.Close()
	f.slots <- struct{}{}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := f.Render(ctx, "https://example.com"); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
