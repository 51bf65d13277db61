package browser

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/input"
	cdppage "github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/spyglass/api/schemas"
	"github.com/xkilldash9x/spyglass/internal/config"
	"github.com/xkilldash9x/spyglass/internal/viewport"
)

// probeScript hit-tests a point and returns the element's markup plus
// geometry. It only reads from the DOM; no pointer event is dispatched and no
// navigation can result from it.
const probeScript = `(() => {
	const el = document.elementFromPoint(%d, %d);
	if (!el) return null;
	const r = el.getBoundingClientRect();
	const link = el.closest('a[href]');
	return {
		html: el.outerHTML.slice(0, 8192),
		href: link ? link.href : '',
		title: el.title || el.getAttribute('aria-label') || '',
		rect: {x: r.x, y: r.y, w: r.width, h: r.height},
	};
})()`

// ChromeBackend implements Backend on a chromedp exec allocator. One browser
// process is shared by all pages minted from it.
type ChromeBackend struct {
	logger *zap.Logger
	cfg    config.BrowserConfig

	allocatorCtx    context.Context
	allocatorCancel context.CancelFunc
}

var _ Backend = (*ChromeBackend)(nil)

// NewChromeBackend configures the allocator. The browser executable itself is
// launched lazily on the first page; a missing executable surfaces there as
// ErrBackendUnavailable.
func NewChromeBackend(ctx context.Context, logger *zap.Logger, cfg config.BrowserConfig) *ChromeBackend {
	b := &ChromeBackend{
		logger: logger.Named("chrome_backend"),
		cfg:    cfg,
	}
	b.allocatorCtx, b.allocatorCancel = chromedp.NewExecAllocator(ctx, b.allocatorOptions()...)
	b.logger.Info("Browser backend initialized",
		zap.Bool("headless", cfg.Headless),
		zap.String("exec_path", cfg.ExecPath),
	)
	return b
}

// allocatorOptions configures the flags for the browser executable.
func (b *ChromeBackend) allocatorOptions() []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)

	if b.cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(b.cfg.ExecPath))
	}
	if b.cfg.Headless {
		opts = append(opts, chromedp.Headless)
	}
	if b.cfg.NoSandbox {
		opts = append(opts, chromedp.NoSandbox, chromedp.Flag("disable-dev-shm-usage", true))
	}

	opts = append(opts,
		chromedp.Flag("disable-background-networking", true),
		chromedp.Flag("disable-sync", true),
		chromedp.Flag("disable-default-apps", true),
		chromedp.Flag("no-first-run", true),
		chromedp.Flag("disable-hang-monitor", true),
		chromedp.Flag("disable-prompt-on-repost", true),
		chromedp.Flag("disable-extensions", true),
		chromedp.Flag("disable-gpu", b.cfg.Headless),
		chromedp.Flag("ignore-certificate-errors", b.cfg.IgnoreTLSErrors),
	)

	return opts
}

// NewPage opens an isolated browser tab with the canonical viewport applied.
func (b *ChromeBackend) NewPage(ctx context.Context, vp viewport.Size) (Page, error) {
	pageCtx, cancel := chromedp.NewContext(b.allocatorCtx,
		chromedp.WithLogf(b.logger.Sugar().Debugf),
		chromedp.WithErrorf(b.logger.Sugar().Errorf),
	)

	init := chromedp.Tasks{
		chromedp.EmulateViewport(int64(vp.Width), int64(vp.Height)),
		chromedp.Navigate("about:blank"),
	}
	if err := chromedp.Run(pageCtx, init); err != nil {
		cancel()
		return nil, fmt.Errorf("%w: %v", schemas.ErrBackendUnavailable, err)
	}

	return &chromePage{
		ctx:    pageCtx,
		cancel: cancel,
		logger: b.logger.Named("page"),
		vp:     vp,
	}, nil
}

// Shutdown terminates the browser process.
func (b *ChromeBackend) Shutdown(ctx context.Context) error {
	b.logger.Info("Shutting down browser backend")
	if b.allocatorCancel != nil {
		b.allocatorCancel()
	}
	return nil
}

// chromePage drives a single tab. Access is serialized by the session layer.
type chromePage struct {
	ctx    context.Context
	cancel context.CancelFunc
	logger *zap.Logger
	vp     viewport.Size
}

var _ Page = (*chromePage)(nil)

// run executes tasks against the tab while honoring the caller's deadline.
// The tab context itself has no deadline, so a per-call context tied to both
// lifetimes is derived, in the createActionContext style.
func (p *chromePage) run(opCtx context.Context, tasks ...chromedp.Action) error {
	runCtx, cancel := context.WithCancel(p.ctx)
	defer cancel()
	stop := context.AfterFunc(opCtx, cancel)
	defer stop()
	if err := chromedp.Run(runCtx, tasks...); err != nil {
		if opCtx.Err() != nil {
			return opCtx.Err()
		}
		return err
	}
	return nil
}

func (p *chromePage) Navigate(ctx context.Context, url string) error {
	p.logger.Debug("Navigating", zap.String("url", url))
	err := p.run(ctx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s", schemas.ErrNavigationTimeout, url)
	}
	return err
}

func (p *chromePage) Screenshot(ctx context.Context, opts CaptureOptions) (*schemas.ImageArtifact, error) {
	format := cdppage.CaptureScreenshotFormatPng
	mime := "image/png"
	if opts.Format == "jpeg" {
		format = cdppage.CaptureScreenshotFormatJpeg
		mime = "image/jpeg"
	}

	var buf []byte
	capture := chromedp.ActionFunc(func(ctx context.Context) error {
		params := cdppage.CaptureScreenshot().WithFormat(format)
		if format == cdppage.CaptureScreenshotFormatJpeg {
			params = params.WithQuality(int64(opts.Quality))
		}
		if opts.Clip != nil {
			params = params.WithClip(&cdppage.Viewport{
				X:      opts.Clip.X,
				Y:      opts.Clip.Y,
				Width:  opts.Clip.Width,
				Height: opts.Clip.Height,
				Scale:  1,
			})
		}
		var err error
		buf, err = params.Do(ctx)
		return err
	})

	if err := p.run(ctx, capture); err != nil {
		return nil, fmt.Errorf("%w: screenshot: %v", schemas.ErrRenderFailed, err)
	}
	return &schemas.ImageArtifact{Data: buf, MimeType: mime}, nil
}

// mouseClickParams builds the move, press, release event sequence for a left
// click at a viewport point.
func mouseClickParams(x, y float64) []*input.DispatchMouseEventParams {
	return []*input.DispatchMouseEventParams{
		input.DispatchMouseEvent(input.MouseMoved, x, y),
		input.DispatchMouseEvent(input.MousePressed, x, y).
			WithButton(input.Left).
			WithButtons(1).
			WithClickCount(1),
		input.DispatchMouseEvent(input.MouseReleased, x, y).
			WithButton(input.Left).
			WithClickCount(1),
	}
}

func (p *chromePage) Click(ctx context.Context, pt viewport.Point) error {
	p.logger.Debug("Clicking", zap.Int("x", pt.X), zap.Int("y", pt.Y))
	return p.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		for _, ev := range mouseClickParams(float64(pt.X), float64(pt.Y)) {
			if err := ev.Do(ctx); err != nil {
				return err
			}
		}
		return nil
	}))
}

func (p *chromePage) MouseMove(ctx context.Context, x, y float64) error {
	return p.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		return input.DispatchMouseEvent(input.MouseMoved, x, y).Do(ctx)
	}))
}

func (p *chromePage) ScrollBy(ctx context.Context, deltaY int) error {
	p.logger.Debug("Scrolling", zap.Int("delta_y", deltaY))
	return p.run(ctx, chromedp.Evaluate(fmt.Sprintf("window.scrollBy(0, %d);", deltaY), nil))
}

func (p *chromePage) TypeText(ctx context.Context, text string) error {
	p.logger.Debug("Typing", zap.Int("length", len(text)))
	// KeyEvent targets whatever holds focus; with nothing focused the page
	// discards the characters.
	return p.run(ctx, chromedp.KeyEvent(text))
}

func (p *chromePage) ElementFromPoint(ctx context.Context, pt viewport.Point) (*ProbedElement, error) {
	var probed *ProbedElement
	script := fmt.Sprintf(probeScript, pt.X, pt.Y)
	if err := p.run(ctx, chromedp.Evaluate(script, &probed)); err != nil {
		return nil, fmt.Errorf("element probe at (%d,%d): %w", pt.X, pt.Y, err)
	}
	return probed, nil
}

func (p *chromePage) Alive(ctx context.Context) bool {
	checkCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return p.run(checkCtx, chromedp.Evaluate("1", nil)) == nil
}

func (p *chromePage) Close() error {
	p.cancel()
	return nil
}
