// Package browser wraps the page-rendering backend behind a capability
// interface so the session manager and action engine never touch chromedp
// directly. The concrete backend is selected once at startup from config.
package browser

import (
	"context"

	"github.com/xkilldash9x/spyglass/api/schemas"
	"github.com/xkilldash9x/spyglass/internal/viewport"
)

// Backend owns the browser process and mints pages.
type Backend interface {
	// NewPage opens a fresh rendering surface with the given canonical
	// viewport. The page stays live until Close.
	NewPage(ctx context.Context, vp viewport.Size) (Page, error)

	// Shutdown terminates the browser process and all pages.
	Shutdown(ctx context.Context) error
}

// CaptureOptions selects the snapshot encoding.
type CaptureOptions struct {
	Format  string // "png" or "jpeg"
	Quality int    // jpeg only
	Clip    *schemas.Rect
}

// ProbedElement is the raw hit-test result for a point: the element's markup
// plus geometry, before server-side parsing into an ElementDescriptor.
type ProbedElement struct {
	OuterHTML string       `json:"html"`
	Href      string       `json:"href"`
	Title     string       `json:"title"`
	Rect      schemas.Rect `json:"rect"`
}

// Page is one live rendering surface. Implementations are not safe for
// concurrent use; the session layer serializes access.
type Page interface {
	// Navigate loads url. A context deadline bounds the load; the page keeps
	// whatever partial state it reached when the deadline fires.
	Navigate(ctx context.Context, url string) error

	// Screenshot rasterizes the current surface, mid-navigation included.
	Screenshot(ctx context.Context, opts CaptureOptions) (*schemas.ImageArtifact, error)

	// Click dispatches a full press/release cycle at a viewport point.
	Click(ctx context.Context, p viewport.Point) error

	// MouseMove positions the pointer without pressing any button.
	MouseMove(ctx context.Context, x, y float64) error

	// ScrollBy scrolls the page vertically by deltaY pixels.
	ScrollBy(ctx context.Context, deltaY int) error

	// TypeText sends the literal text as key events to whatever element holds
	// focus. With no focused element the characters are discarded by the page,
	// which is the expected behavior.
	TypeText(ctx context.Context, text string) error

	// ElementFromPoint hit-tests the point without mutating page state.
	// Returns nil when nothing is there.
	ElementFromPoint(ctx context.Context, p viewport.Point) (*ProbedElement, error)

	// Alive reports whether the underlying surface still responds.
	Alive(ctx context.Context) bool

	// Close tears the page down.
	Close() error
}
