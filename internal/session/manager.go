// Package session owns the lifecycle of keyed browsing sessions: one live
// page per key, exclusive per-session leases, and transparent recreation when
// a page dies underneath a client.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/spyglass/api/schemas"
	"github.com/xkilldash9x/spyglass/internal/browser"
	"github.com/xkilldash9x/spyglass/internal/config"
	"github.com/xkilldash9x/spyglass/internal/humanoid"
	"github.com/xkilldash9x/spyglass/internal/viewport"
)

// DefaultKey is used when a client does not name a session.
const DefaultKey = "default"

// Session is one live remote-browsing surface. It is handed out by Acquire
// with its exclusive lease already held; callers interact with the page and
// then Release. Never retained across requests by callers.
type Session struct {
	key      string
	id       string
	logger   *zap.Logger
	viewport viewport.Size
	page     browser.Page
	mover    *humanoid.Mover

	// requestedURL is the last URL a client asked this session to show. The
	// page's own location may drift from it (a click can navigate); only a
	// changed request triggers re-navigation.
	requestedURL string

	// mu serializes all actions against this session's page. Requests are
	// applied in the order they acquire the lease.
	mu sync.Mutex
}

// Key returns the session's client-facing key.
func (s *Session) Key() string { return s.key }

// Page returns the live rendering surface. Only valid while the lease is held.
func (s *Session) Page() browser.Page { return s.page }

// Viewport returns the session's canonical viewport. Fixed for the lifetime
// of the underlying page; changing it recreates the page.
func (s *Session) Viewport() viewport.Size { return s.viewport }

// Mover returns the session's pointer mover, or nil when humanized motion is
// disabled.
func (s *Session) Mover() *humanoid.Mover { return s.mover }

// RequestedURL returns the last client-requested URL.
func (s *Session) RequestedURL() string { return s.requestedURL }

// Release returns the exclusive lease. Must be called exactly once per
// successful Acquire.
func (s *Session) Release() { s.mu.Unlock() }

// Manager maps session keys to live sessions.
type Manager struct {
	logger  *zap.Logger
	cfg     *config.Config
	backend browser.Backend

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewManager creates the session manager on top of a rendering backend.
func NewManager(logger *zap.Logger, cfg *config.Config, backend browser.Backend) *Manager {
	return &Manager{
		logger:   logger.Named("session_manager"),
		cfg:      cfg,
		backend:  backend,
		sessions: make(map[string]*Session),
	}
}

// Acquire returns the session for key with its exclusive lease held, its page
// live with the given viewport, and url loaded (best-effort). The caller must
// Release it. A dead page is discarded and recreated transparently; a failed
// backend launch surfaces as ErrBackendUnavailable with no partial session
// left registered.
func (m *Manager) Acquire(ctx context.Context, key, url string, vp viewport.Size) (*Session, error) {
	if key == "" {
		key = DefaultKey
	}

	for {
		m.mu.Lock()
		s, ok := m.sessions[key]
		if !ok {
			s = &Session{
				key:    key,
				id:     uuid.NewString(),
				logger: m.logger.With(zap.String("session_key", key)),
			}
			m.sessions[key] = s
		}
		m.mu.Unlock()

		// Lease acquisition is the serialization point: actions apply in the
		// order their requests get here.
		s.mu.Lock()

		// A failed launch unregisters the session while later acquirers may
		// still be queued on its lease. Proceeding on an unregistered session
		// would fork a second live page for the key, so look the key up again
		// instead.
		m.mu.Lock()
		registered := m.sessions[key] == s
		m.mu.Unlock()
		if !registered {
			s.mu.Unlock()
			continue
		}

		if err := m.ensurePage(ctx, s, vp); err != nil {
			m.discardIfEmpty(s)
			s.mu.Unlock()
			return nil, err
		}

		m.navigate(ctx, s, url)
		return s, nil
	}
}

// ensurePage makes s hold a live page with the wanted viewport, recreating as
// needed. Assumes the session lease is held.
func (m *Manager) ensurePage(ctx context.Context, s *Session, vp viewport.Size) error {
	if s.page != nil {
		if s.viewport == vp && s.page.Alive(ctx) {
			return nil
		}
		reason := "viewport change"
		if s.viewport == vp {
			reason = "dead page"
		}
		s.logger.Info("Recreating session page", zap.String("reason", reason))
		_ = s.page.Close()
		s.page = nil
		s.requestedURL = ""
	}

	page, err := m.backend.NewPage(ctx, vp)
	if err != nil {
		if errors.Is(err, schemas.ErrBackendUnavailable) {
			return err
		}
		return fmt.Errorf("%w: %v", schemas.ErrBackendUnavailable, err)
	}

	s.page = page
	s.viewport = vp
	if m.cfg.Browser.Humanoid.Enabled {
		s.mover = humanoid.New(m.cfg.Browser.Humanoid, s.logger, vp)
	}
	s.logger.Info("Session page created",
		zap.Int("width", vp.Width),
		zap.Int("height", vp.Height),
	)
	return nil
}

// navigate loads url when it differs from the session's last requested URL.
// Navigation errors and timeouts are absorbed: a partial or error-page render
// is still a usable surface, so the request proceeds with whatever state the
// page reached. Assumes the session lease is held.
func (m *Manager) navigate(ctx context.Context, s *Session, url string) {
	if url == "" || url == s.requestedURL {
		return
	}

	navCtx, cancel := context.WithTimeout(ctx, m.cfg.Session.NavigationTimeout)
	defer cancel()

	start := time.Now()
	err := s.page.Navigate(navCtx, url)
	switch {
	case err == nil:
		s.logger.Debug("Navigation complete",
			zap.String("url", url),
			zap.Duration("elapsed", time.Since(start)),
		)
	case errors.Is(err, schemas.ErrNavigationTimeout), errors.Is(err, context.DeadlineExceeded):
		s.logger.Warn("Navigation timed out, proceeding with partial render",
			zap.String("url", url),
			zap.Duration("timeout", m.cfg.Session.NavigationTimeout),
		)
	default:
		s.logger.Warn("Navigation failed, proceeding with current surface",
			zap.String("url", url),
			zap.Error(err),
		)
	}

	s.requestedURL = url
}

// discardIfEmpty unregisters a session that never got a page, so a failed
// launch leaves nothing behind. Assumes the session lease is held.
func (m *Manager) discardIfEmpty(s *Session) {
	if s.page != nil {
		return
	}
	m.mu.Lock()
	if cur, ok := m.sessions[s.key]; ok && cur == s {
		delete(m.sessions, s.key)
	}
	m.mu.Unlock()
}

// Shutdown closes all sessions concurrently, then the backend.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.logger.Info("Shutting down session manager")

	m.mu.Lock()
	toClose := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		toClose = append(toClose, s)
	}
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, s := range toClose {
		wg.Add(1)
		go func(s *Session) {
			defer wg.Done()
			// Bound the wait for in-flight actions so an unresponsive page
			// cannot hang shutdown.
			done := make(chan struct{})
			go func() {
				s.mu.Lock()
				defer s.mu.Unlock()
				if s.page != nil {
					_ = s.page.Close()
					s.page = nil
				}
				close(done)
			}()
			select {
			case <-done:
			case <-time.After(10 * time.Second):
				s.logger.Warn("Timed out waiting for session to close")
			case <-ctx.Done():
			}
		}(s)
	}
	wg.Wait()

	return m.backend.Shutdown(ctx)
}
