package schemas

import "errors"

// Error taxonomy for the browse pipeline. Handlers use errors.Is against these
// sentinels to pick a response shape; everything else is wrapped detail.
var (
	// ErrBackendUnavailable means no rendering surface could be started or
	// obtained at all. Fatal for the request, never retried automatically.
	ErrBackendUnavailable = errors.New("render backend unavailable")

	// ErrRenderFailed means an action failed and no best-effort screenshot
	// could be produced either.
	ErrRenderFailed = errors.New("render failed")

	// ErrNavigationTimeout marks a navigation that exceeded its deadline.
	// Degraded, not fatal: whatever is on screen is still captured.
	ErrNavigationTimeout = errors.New("navigation timed out")

	// ErrInvalidInput rejects a request before any session is touched.
	ErrInvalidInput = errors.New("invalid input")
)
