// Package action executes interaction primitives against a leased session
// surface and produces the follow-up artifact: a fresh snapshot for mutating
// actions, an element descriptor for hover probes.
package action

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/spyglass/api/schemas"
	"github.com/xkilldash9x/spyglass/internal/browser"
	"github.com/xkilldash9x/spyglass/internal/config"
	"github.com/xkilldash9x/spyglass/internal/humanoid"
	"github.com/xkilldash9x/spyglass/internal/viewport"
)

// Surface is the slice of a leased session the engine needs. Satisfied by
// *session.Session.
type Surface interface {
	Page() browser.Page
	Mover() *humanoid.Mover
	RequestedURL() string
}

// Engine performs actions. Stateless; per-session serialization is the
// session manager's job and the engine assumes the caller holds the lease.
type Engine struct {
	logger  *zap.Logger
	timing  config.SessionConfig
	capture config.CaptureConfig
}

// NewEngine creates an action engine with the configured settle delays and
// snapshot encoding.
func NewEngine(logger *zap.Logger, timing config.SessionConfig, capture config.CaptureConfig) *Engine {
	return &Engine{
		logger:  logger.Named("action_engine"),
		timing:  timing,
		capture: capture,
	}
}

// Perform executes one action and returns its result.
//
// Mutating actions (click, scroll, type) tolerate mid-action backend failures:
// whatever screenshot is still obtainable is returned instead of the error,
// and only a failed capture escalates (as ErrRenderFailed). Hover probes never
// escalate at all; any failure degrades to a "no element" result so a
// pointer-tracking client sees silence rather than error flicker.
func (e *Engine) Perform(ctx context.Context, s Surface, req schemas.ActionRequest) (*schemas.ActionResult, error) {
	switch req.Kind {
	case schemas.ActionRender:
		return e.snapshot(ctx, s)

	case schemas.ActionClick:
		point := viewport.Point{X: req.X, Y: req.Y}
		if err := e.click(ctx, s, point); err != nil {
			e.logger.Warn("Click failed, returning best-effort snapshot",
				zap.Int("x", point.X), zap.Int("y", point.Y), zap.Error(err))
		}
		e.settle(ctx, e.timing.ClickSettle)
		return e.snapshot(ctx, s)

	case schemas.ActionScroll:
		if err := s.Page().ScrollBy(ctx, req.DeltaY); err != nil {
			e.logger.Warn("Scroll failed, returning best-effort snapshot",
				zap.Int("delta_y", req.DeltaY), zap.Error(err))
		}
		e.settle(ctx, e.timing.ScrollSettle)
		return e.snapshot(ctx, s)

	case schemas.ActionType:
		if err := s.Page().TypeText(ctx, req.Text); err != nil {
			e.logger.Warn("Type failed, returning best-effort snapshot", zap.Error(err))
		}
		e.settle(ctx, e.timing.TypeSettle)
		return e.snapshot(ctx, s)

	case schemas.ActionHoverProbe:
		return e.hoverProbe(ctx, s, viewport.Point{X: req.X, Y: req.Y}), nil

	default:
		return nil, fmt.Errorf("%w: unsupported action %q", schemas.ErrInvalidInput, req.Kind)
	}
}

// click optionally walks the pointer to the target first, then dispatches the
// press/release pair.
func (e *Engine) click(ctx context.Context, s Surface, p viewport.Point) error {
	if mover := s.Mover(); mover != nil {
		target := humanoid.Vector2D{X: float64(p.X), Y: float64(p.Y)}
		if err := mover.MoveTo(ctx, s.Page(), target); err != nil {
			e.logger.Debug("Pointer movement aborted, clicking directly", zap.Error(err))
		}
	}
	return s.Page().Click(ctx, p)
}

// hoverProbe answers "what is under this point" without mutating page state.
func (e *Engine) hoverProbe(ctx context.Context, s Surface, p viewport.Point) *schemas.ActionResult {
	probed, err := s.Page().ElementFromPoint(ctx, p)
	if err != nil {
		e.logger.Debug("Hover probe failed, reporting no element",
			zap.Int("x", p.X), zap.Int("y", p.Y), zap.Error(err))
		return &schemas.ActionResult{}
	}
	return &schemas.ActionResult{Element: browser.Describe(probed, s.RequestedURL())}
}

// snapshot captures the full canonical viewport.
func (e *Engine) snapshot(ctx context.Context, s Surface) (*schemas.ActionResult, error) {
	opts := browser.CaptureOptions{
		Format:  e.capture.Format,
		Quality: e.capture.Quality,
	}
	img, err := s.Page().Screenshot(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", schemas.ErrRenderFailed, err)
	}
	return &schemas.ActionResult{Image: img}, nil
}

// settle waits out the configured delay so asynchronous page reactions
// (navigation, animation) manifest before the capture.
func (e *Engine) settle(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}
