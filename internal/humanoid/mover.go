// Package humanoid generates human-like pointer trajectories toward viewport
// points: a Bezier path with Perlin-noise drift, Fitts's-Law timing, and an
// ease-in-out velocity profile. It is optional and sits in front of clicks
// only; hover probes never move the pointer.
package humanoid

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/aquilax/go-perlin"
	"go.uber.org/zap"

	"github.com/xkilldash9x/spyglass/internal/config"
	"github.com/xkilldash9x/spyglass/internal/viewport"
)

// Dispatcher is the single capability the mover needs from a page.
type Dispatcher interface {
	MouseMove(ctx context.Context, x, y float64) error
}

// Fitts's-Law coefficients (milliseconds) and assumed target width.
const (
	fittsA      = 120.0
	fittsB      = 110.0
	fittsWidth  = 30.0
	maxStepRate = 200
)

// Mover tracks one session's cursor and walks it to targets. Not safe for
// concurrent use beyond its own locking; the session layer serializes actions
// anyway.
type Mover struct {
	cfg    config.HumanoidConfig
	logger *zap.Logger
	rng    *rand.Rand
	noiseX *perlin.Perlin
	noiseY *perlin.Perlin

	mu  sync.Mutex
	pos Vector2D
}

// New seeds a mover with a center-biased starting position inside the
// viewport.
func New(cfg config.HumanoidConfig, logger *zap.Logger, vp viewport.Size) *Mover {
	seed := time.Now().UnixNano()
	rng := rand.New(rand.NewSource(seed))

	alpha, beta, n := 2.0, 2.0, int32(3)
	m := &Mover{
		cfg:    cfg,
		logger: logger.Named("humanoid"),
		rng:    rng,
		noiseX: perlin.NewPerlin(alpha, beta, n, seed),
		noiseY: perlin.NewPerlin(alpha, beta, n, seed+1),
	}

	w, h := float64(vp.Width), float64(vp.Height)
	m.pos = Vector2D{
		X: clamp(w/2+rng.NormFloat64()*(w/8), 1, w-1),
		Y: clamp(h/2+rng.NormFloat64()*(h/8), 1, h-1),
	}
	return m
}

// MoveTo dispatches a stream of mouse-move events from the current position
// to target. The final dispatched point is exactly target so the click that
// follows lands where the caller asked.
func (m *Mover) MoveTo(ctx context.Context, page Dispatcher, target Vector2D) error {
	m.mu.Lock()
	start := m.pos
	m.mu.Unlock()

	dist := start.Dist(target)
	if dist < 1.5 {
		return nil
	}

	duration := m.movementDuration(dist)
	rate := m.cfg.StepsPerSecond
	if rate <= 0 || rate > maxStepRate {
		rate = 90
	}
	steps := int(duration.Seconds() * float64(rate))
	if steps < 2 {
		steps = 2
	}

	path := m.bezierPath(start, target, steps)
	startTime := time.Now()

	for i, ideal := range path {
		t := float64(i) / float64(len(path)-1)
		eased := easeInOutCubic(t)

		if err := sleepContext(ctx, time.Until(startTime.Add(time.Duration(eased*float64(duration))))); err != nil {
			return err
		}

		point := ideal
		if i < len(path)-1 {
			// Perlin drift plus a touch of Gaussian tremor, never on the
			// final point.
			elapsed := time.Since(startTime).Seconds()
			point = point.Add(Vector2D{
				X: m.noiseX.Noise1D(elapsed*0.8) * m.cfg.PerlinAmplitude,
				Y: m.noiseY.Noise1D(elapsed*0.8) * m.cfg.PerlinAmplitude,
			})
			point = point.Add(Vector2D{m.rng.NormFloat64() * 0.4, m.rng.NormFloat64() * 0.4})
		}

		if err := page.MouseMove(ctx, point.X, point.Y); err != nil {
			m.logger.Warn("Failed to dispatch pointer move", zap.Error(err))
			return err
		}

		m.mu.Lock()
		m.pos = point
		m.mu.Unlock()
	}

	m.logger.Debug("Pointer movement complete",
		zap.Float64("distance", dist),
		zap.Duration("duration", duration),
	)
	return nil
}

// Pos returns the mover's current cursor position.
func (m *Mover) Pos() Vector2D {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pos
}

// movementDuration applies Fitts's Law with +/-15% jitter.
func (m *Mover) movementDuration(dist float64) time.Duration {
	id := math.Log2(1.0 + dist/fittsWidth)
	ms := fittsA + fittsB*id
	ms += ms * (m.rng.Float64()*0.3 - 0.15)
	return time.Duration(ms) * time.Millisecond
}

// bezierPath samples a cubic Bezier whose control points bow the path
// perpendicular to the direct line.
func (m *Mover) bezierPath(start, end Vector2D, steps int) []Vector2D {
	main := end.Sub(start)
	dist := main.Mag()
	dir := main.Normalize()
	perp := Vector2D{-dir.Y, dir.X}

	bow1 := (m.rng.Float64() - 0.5) * dist * 0.25
	bow2 := (m.rng.Float64() - 0.5) * dist * 0.25
	p0 := start
	p1 := start.Add(dir.Mul(dist / 3)).Add(perp.Mul(bow1))
	p2 := start.Add(dir.Mul(dist * 2 / 3)).Add(perp.Mul(bow2))
	p3 := end

	path := make([]Vector2D, steps)
	for i := 0; i < steps; i++ {
		t := float64(i) / float64(steps-1)
		omt := 1 - t
		path[i] = p0.Mul(omt * omt * omt).
			Add(p1.Mul(3 * omt * omt * t)).
			Add(p2.Mul(3 * omt * t * t)).
			Add(p3.Mul(t * t * t))
	}
	path[steps-1] = end
	return path
}

func easeInOutCubic(t float64) float64 {
	if t < 0.5 {
		return 4 * t * t * t
	}
	return 1 - math.Pow(-2*t+2, 3)/2
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
