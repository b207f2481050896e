package headless

import (
	"context"
	"fmt"
)

// Noop is the Renderer used when headless rendering is disabled.
type Noop struct{}

// NewNoop creates a new Noop renderer.
func NewNoop() *Noop {
	return &Noop{}
}

// Render always declines.
func (Noop) Render(_ context.Context, pageURL string) (Page, error) {
	return Page{}, fmt.Errorf("%s: %w", pageURL, ErrDisabled)
}
