package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/spyglass/api/schemas"
	"github.com/xkilldash9x/spyglass/internal/browser"
	"github.com/xkilldash9x/spyglass/internal/config"
	"github.com/xkilldash9x/spyglass/internal/viewport"
)

// -- Fake backend --

type fakePage struct {
	mu          sync.Mutex
	alive       bool
	closed      bool
	navigations []string
	navErr      error
}

func (p *fakePage) Navigate(_ context.Context, url string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.navigations = append(p.navigations, url)
	return p.navErr
}

func (p *fakePage) Screenshot(context.Context, browser.CaptureOptions) (*schemas.ImageArtifact, error) {
	return &schemas.ImageArtifact{Data: []byte("img"), MimeType: "image/png"}, nil
}

func (p *fakePage) Click(context.Context, viewport.Point) error       { return nil }
func (p *fakePage) MouseMove(context.Context, float64, float64) error { return nil }
func (p *fakePage) ScrollBy(context.Context, int) error               { return nil }
func (p *fakePage) TypeText(context.Context, string) error            { return nil }

func (p *fakePage) ElementFromPoint(context.Context, viewport.Point) (*browser.ProbedElement, error) {
	return nil, nil
}

func (p *fakePage) Alive(context.Context) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.alive
}

func (p *fakePage) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	p.alive = false
	return nil
}

func (p *fakePage) navCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.navigations)
}

type fakeBackend struct {
	mu        sync.Mutex
	pages     []*fakePage
	launchErr error

	// newPageHook, when set, runs mid-launch (after the error outcome is
	// decided, before returning) so tests can hold a launch open.
	newPageHook func()
}

func (b *fakeBackend) NewPage(context.Context, viewport.Size) (browser.Page, error) {
	b.mu.Lock()
	hook := b.newPageHook
	err := b.launchErr
	b.mu.Unlock()

	if hook != nil {
		hook()
	}
	if err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	p := &fakePage{alive: true}
	b.pages = append(b.pages, p)
	return p, nil
}

func (b *fakeBackend) Shutdown(context.Context) error { return nil }

func (b *fakeBackend) pageCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pages)
}

// -- Helpers --

func testManager(t *testing.T, backend browser.Backend) *Manager {
	cfg := &config.Config{}
	cfg.Session.NavigationTimeout = 5 * time.Second
	return NewManager(zaptest.NewLogger(t), cfg, backend)
}

var testVP = viewport.Size{Width: 800, Height: 600}

// -- Tests --

func TestAcquireCreatesAndNavigates(t *testing.T) {
	backend := &fakeBackend{}
	m := testManager(t, backend)

	s, err := m.Acquire(context.Background(), "k", "https://example.com", testVP)
	require.NoError(t, err)
	defer s.Release()

	assert.Equal(t, 1, backend.pageCount())
	assert.Equal(t, []string{"https://example.com"}, backend.pages[0].navigations)
	assert.Equal(t, testVP, s.Viewport())
	assert.Equal(t, "https://example.com", s.RequestedURL())
}

func TestAcquireReusesLiveSession(t *testing.T) {
	backend := &fakeBackend{}
	m := testManager(t, backend)

	s1, err := m.Acquire(context.Background(), "k", "https://example.com", testVP)
	require.NoError(t, err)
	s1.Release()

	s2, err := m.Acquire(context.Background(), "k", "https://example.com", testVP)
	require.NoError(t, err)
	s2.Release()

	assert.Same(t, s1, s2, "same key must reuse the session")
	assert.Equal(t, 1, backend.pageCount(), "no second page may be created")
	assert.Equal(t, 1, backend.pages[0].navCount(), "unchanged URL must not re-navigate")
}

func TestAcquireRenavigatesOnNewURL(t *testing.T) {
	backend := &fakeBackend{}
	m := testManager(t, backend)

	s, err := m.Acquire(context.Background(), "k", "https://example.com", testVP)
	require.NoError(t, err)
	s.Release()

	s, err = m.Acquire(context.Background(), "k", "https://example.org", testVP)
	require.NoError(t, err)
	s.Release()

	assert.Equal(t, 1, backend.pageCount(), "re-navigation reuses the page")
	assert.Equal(t, []string{"https://example.com", "https://example.org"}, backend.pages[0].navigations)
}

func TestAcquireRecreatesDeadPage(t *testing.T) {
	backend := &fakeBackend{}
	m := testManager(t, backend)

	s, err := m.Acquire(context.Background(), "k", "https://example.com", testVP)
	require.NoError(t, err)
	s.Release()

	backend.pages[0].mu.Lock()
	backend.pages[0].alive = false
	backend.pages[0].mu.Unlock()

	s, err = m.Acquire(context.Background(), "k", "https://example.com", testVP)
	require.NoError(t, err)
	s.Release()

	assert.Equal(t, 2, backend.pageCount(), "dead page must be replaced")
	assert.True(t, backend.pages[0].closed)
	assert.Equal(t, 1, backend.pages[1].navCount(), "fresh page must navigate again")
}

func TestAcquireRecreatesOnViewportChange(t *testing.T) {
	backend := &fakeBackend{}
	m := testManager(t, backend)

	s, err := m.Acquire(context.Background(), "k", "https://example.com", testVP)
	require.NoError(t, err)
	s.Release()

	other := viewport.Size{Width: 1024, Height: 768}
	s, err = m.Acquire(context.Background(), "k", "https://example.com", other)
	require.NoError(t, err)
	s.Release()

	assert.Equal(t, 2, backend.pageCount())
	assert.Equal(t, other, s.Viewport())
}

func TestAcquireLaunchFailureLeavesNothingRegistered(t *testing.T) {
	backend := &fakeBackend{launchErr: errors.New("no chrome binary")}
	m := testManager(t, backend)

	_, err := m.Acquire(context.Background(), "k", "https://example.com", testVP)
	require.Error(t, err)
	assert.ErrorIs(t, err, schemas.ErrBackendUnavailable)

	// The failed attempt must not poison the key: once the backend works,
	// acquiring the same key succeeds from scratch.
	backend.mu.Lock()
	backend.launchErr = nil
	backend.mu.Unlock()

	s, err := m.Acquire(context.Background(), "k", "https://example.com", testVP)
	require.NoError(t, err)
	s.Release()
	assert.Equal(t, 1, backend.pageCount())
}

func TestAcquirerQueuedBehindFailedLaunchGetsFreshSession(t *testing.T) {
	backend := &fakeBackend{launchErr: errors.New("no chrome binary")}
	gate := make(chan struct{})
	backend.newPageHook = func() { <-gate }
	m := testManager(t, backend)

	firstErr := make(chan error, 1)
	go func() {
		_, err := m.Acquire(context.Background(), "k", "https://example.com", testVP)
		firstErr <- err
	}()

	// Let the first acquirer reach the backend and hold its lease, then queue
	// a second acquirer for the same key behind it.
	time.Sleep(50 * time.Millisecond)

	type outcome struct {
		s   *Session
		err error
	}
	second := make(chan outcome, 1)
	go func() {
		s, err := m.Acquire(context.Background(), "k", "https://example.com", testVP)
		second <- outcome{s, err}
	}()
	time.Sleep(50 * time.Millisecond)

	// The backend recovers while the first launch is still failing in flight.
	backend.mu.Lock()
	backend.launchErr = nil
	backend.mu.Unlock()
	close(gate)

	require.ErrorIs(t, <-firstErr, schemas.ErrBackendUnavailable)

	// The queued acquirer must not proceed on the session the failure
	// unregistered; it looks the key up again and ends with the only live
	// page for the key.
	got := <-second
	require.NoError(t, got.err)
	got.s.Release()
	assert.Equal(t, 1, backend.pageCount())

	s, err := m.Acquire(context.Background(), "k", "https://example.com", testVP)
	require.NoError(t, err)
	assert.Same(t, got.s, s)
	s.Release()
	assert.Equal(t, 1, backend.pageCount())

	require.NoError(t, m.Shutdown(context.Background()))
	for i, p := range backend.pages {
		p.mu.Lock()
		closed := p.closed
		p.mu.Unlock()
		assert.True(t, closed, "page %d still open after shutdown", i)
	}
}

func TestNavigationTimeoutIsAbsorbed(t *testing.T) {
	backend := &fakeBackend{}
	m := testManager(t, backend)

	s, err := m.Acquire(context.Background(), "k", "https://example.com", testVP)
	require.NoError(t, err)
	s.Release()

	backend.pages[0].mu.Lock()
	backend.pages[0].navErr = fmt.Errorf("%w: https://slow.example", schemas.ErrNavigationTimeout)
	backend.pages[0].mu.Unlock()

	// A page that ran out of time mid-load is still served; whatever rendered
	// before the deadline is the snapshot the caller gets.
	s, err = m.Acquire(context.Background(), "k", "https://slow.example", testVP)
	require.NoError(t, err)
	assert.Equal(t, "https://slow.example", s.RequestedURL())
	s.Release()
}

func TestNavigationErrorIsAbsorbed(t *testing.T) {
	backend := &fakeBackend{}
	m := testManager(t, backend)

	s, err := m.Acquire(context.Background(), "k", "https://example.com", testVP)
	require.NoError(t, err)
	s.Release()

	backend.pages[0].mu.Lock()
	backend.pages[0].navErr = errors.New("net::ERR_NAME_NOT_RESOLVED")
	backend.pages[0].mu.Unlock()

	// An unreachable URL still yields a usable session; the error page that
	// the browser rendered is acceptable output.
	s, err = m.Acquire(context.Background(), "k", "https://unreachable.invalid", testVP)
	require.NoError(t, err)
	assert.Equal(t, "https://unreachable.invalid", s.RequestedURL())
	s.Release()
}

func TestAcquireSerializesActionsInOrder(t *testing.T) {
	backend := &fakeBackend{}
	m := testManager(t, backend)

	var (
		mu    sync.Mutex
		order []string
	)

	first, err := m.Acquire(context.Background(), "k", "https://example.com", testVP)
	require.NoError(t, err)

	released := make(chan struct{})
	go func() {
		s, err := m.Acquire(context.Background(), "k", "https://example.com", testVP)
		require.NoError(t, err)
		mu.Lock()
		order = append(order, "second")
		mu.Unlock()
		s.Release()
		close(released)
	}()

	// Give the second acquirer time to block on the lease.
	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	order = append(order, "first")
	mu.Unlock()
	first.Release()

	select {
	case <-released:
	case <-time.After(2 * time.Second):
		t.Fatal("second acquirer never got the lease")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"first", "second"}, order)
}

func TestDistinctKeysGetDistinctPages(t *testing.T) {
	backend := &fakeBackend{}
	m := testManager(t, backend)

	a, err := m.Acquire(context.Background(), "a", "https://example.com", testVP)
	require.NoError(t, err)
	a.Release()
	b, err := m.Acquire(context.Background(), "b", "https://example.com", testVP)
	require.NoError(t, err)
	b.Release()

	assert.Equal(t, 2, backend.pageCount())
}

func TestShutdownClosesAllPages(t *testing.T) {
	backend := &fakeBackend{}
	m := testManager(t, backend)

	s, err := m.Acquire(context.Background(), "k", "https://example.com", testVP)
	require.NoError(t, err)
	s.Release()

	require.NoError(t, m.Shutdown(context.Background()))
	assert.True(t, backend.pages[0].closed)
}
