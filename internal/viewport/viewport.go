// Package viewport defines the canonical coordinate space and the pure
// translation from client-reported pointer positions into it.
//
// All action execution happens in canonical viewport pixels. Clients may
// report positions in three spaces: raw viewport pixels, normalized [0,1]
// fractions, or pixels of the image as displayed to the end user (which can
// differ from the canonical viewport when the client scales the image).
package viewport

import "math"

// Space identifies the coordinate system a client used when reporting a
// pointer position.
type Space int

const (
	// RawPixel positions are already canonical viewport pixels.
	RawPixel Space = iota
	// Normalized positions are fractions of the viewport in [0,1].
	Normalized
	// DisplayPixel positions are pixels of the client-side displayed image
	// and require the display size to rescale.
	DisplayPixel
)

func (s Space) String() string {
	switch s {
	case Normalized:
		return "normalized"
	case DisplayPixel:
		return "display"
	default:
		return "raw"
	}
}

// Size is a viewport or display dimension in pixels.
type Size struct {
	Width  int
	Height int
}

// Point is an (x, y) position. After Translate it is guaranteed to lie inside
// [0, width) x [0, height) of the viewport it was translated against.
type Point struct {
	X int
	Y int
}

// Reported is a raw client-supplied position, prior to translation. Float64
// because normalized fractions and form-decoded values are not integral.
type Reported struct {
	X float64
	Y float64
}

// Translate maps a reported position into canonical viewport pixels. display
// is only consulted for DisplayPixel space; a nil or degenerate display size
// falls back to the identity scale. The result is always clamped into the
// viewport bounds, so no input can escape them.
func Translate(rep Reported, space Space, vp Size, display *Size) Point {
	var x, y float64

	switch space {
	case Normalized:
		fx := clampFloat(rep.X, 0, 1)
		fy := clampFloat(rep.Y, 0, 1)
		x = math.Round(fx * float64(vp.Width))
		y = math.Round(fy * float64(vp.Height))
	case DisplayPixel:
		sx, sy := 1.0, 1.0
		if display != nil && display.Width > 0 && display.Height > 0 {
			sx = float64(vp.Width) / float64(display.Width)
			sy = float64(vp.Height) / float64(display.Height)
		}
		x = math.Round(rep.X * sx)
		y = math.Round(rep.Y * sy)
	default: // RawPixel
		x = math.Round(rep.X)
		y = math.Round(rep.Y)
	}

	return Point{
		X: clampInt(int(x), 0, vp.Width-1),
		Y: clampInt(int(y), 0, vp.Height-1),
	}
}

func clampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampInt(v, lo, hi int) int {
	if hi < lo {
		hi = lo
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
