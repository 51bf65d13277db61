package server

import (
	"encoding/json"
	"fmt"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/xkilldash9x/spyglass/api/schemas"
	"github.com/xkilldash9x/spyglass/internal/viewport"
)

// browseParams is one flattened view of a request, regardless of whether the
// client sent a query string, a JSON body, or a form-encoded image submit.
type browseParams struct {
	SessionKey string
	URL        string
	Mode       string
	Text       string
	DeltaY     int

	Viewport viewport.Size
	Point    viewport.Point
}

// values holds every key/value pair we could extract from the request, with
// body fields taking precedence over the query string.
type values map[string]string

func (v values) get(keys ...string) (string, bool) {
	for _, k := range keys {
		if s, ok := v[k]; ok && s != "" {
			return s, true
		}
	}
	return "", false
}

func (v values) has(keys ...string) bool {
	_, ok := v.get(keys...)
	return ok
}

// collectValues merges the query string with the request body. JSON bodies are
// decoded shallowly; form bodies (including multipart image submits) go
// through ParseForm so browser-generated `image.x` style fields come along.
func collectValues(r *http.Request) (values, error) {
	out := values{}
	for k, vs := range r.URL.Query() {
		if len(vs) > 0 {
			out[k] = vs[0]
		}
	}

	if r.Method != http.MethodPost {
		return out, nil
	}

	ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch {
	case ct == "application/json":
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			return nil, fmt.Errorf("%w: malformed JSON body: %v", schemas.ErrInvalidInput, err)
		}
		for k, val := range body {
			switch t := val.(type) {
			case string:
				out[k] = t
			case float64:
				out[k] = strconv.FormatFloat(t, 'f', -1, 64)
			case bool:
				out[k] = strconv.FormatBool(t)
			}
		}
	default:
		// ParseMultipartForm falls back to ParseForm for urlencoded bodies.
		if err := r.ParseMultipartForm(1 << 20); err != nil && err != http.ErrNotMultipart {
			return nil, fmt.Errorf("%w: unparseable form body: %v", schemas.ErrInvalidInput, err)
		}
		for k, vs := range r.Form {
			if len(vs) > 0 {
				out[k] = vs[0]
			}
		}
	}
	return out, nil
}

// parseBrowseParams normalizes a request into browseParams. needURL and
// needPoint express what the route requires; violations surface as
// ErrInvalidInput before any session is touched.
func parseBrowseParams(r *http.Request, defaults viewport.Size, needURL, needPoint bool) (browseParams, error) {
	var p browseParams

	vals, err := collectValues(r)
	if err != nil {
		return p, err
	}

	p.SessionKey = sessionKey(r, vals)
	p.Mode, _ = vals.get("mode")
	p.Text, _ = vals.get("text")

	p.URL, _ = vals.get("url")
	if needURL && p.URL == "" {
		return p, fmt.Errorf("%w: missing url parameter", schemas.ErrInvalidInput)
	}
	if p.URL != "" && !strings.Contains(p.URL, "://") {
		p.URL = "https://" + p.URL
	}

	p.Viewport = defaults
	if w, ok := intValue(vals, "width"); ok && w > 0 {
		p.Viewport.Width = w
	}
	if h, ok := intValue(vals, "height"); ok && h > 0 {
		p.Viewport.Height = h
	}

	if d, ok := intValue(vals, "deltaY"); ok {
		p.DeltaY = d
	}

	point, found, err := parsePoint(vals, p.Viewport)
	if err != nil {
		return p, err
	}
	if needPoint && !found {
		return p, fmt.Errorf("%w: missing coordinates", schemas.ErrInvalidInput)
	}
	p.Point = point

	return p, nil
}

// parsePoint resolves the reported position and its reporting space.
// Normalized fractions win when relX/relY are present, a declared display
// size switches to display-pixel rescaling, anything else is taken as raw
// viewport pixels. Image-submit field aliases are folded in here.
func parsePoint(vals values, vp viewport.Size) (viewport.Point, bool, error) {
	if vals.has("relX") || vals.has("relY") {
		x, err1 := floatValue(vals, "relX")
		y, err2 := floatValue(vals, "relY")
		if err1 != nil || err2 != nil {
			return viewport.Point{}, false, fmt.Errorf("%w: relX/relY must be numeric", schemas.ErrInvalidInput)
		}
		return viewport.Translate(viewport.Reported{X: x, Y: y}, viewport.Normalized, vp, nil), true, nil
	}

	xs, okX := vals.get("x", "image.x", "0.x")
	ys, okY := vals.get("y", "image.y", "0.y")
	if !okX || !okY {
		return viewport.Point{}, false, nil
	}

	x, err1 := strconv.ParseFloat(xs, 64)
	y, err2 := strconv.ParseFloat(ys, 64)
	if err1 != nil || err2 != nil {
		return viewport.Point{}, false, fmt.Errorf("%w: coordinates must be numeric", schemas.ErrInvalidInput)
	}

	if vals.has("displayWidth") && vals.has("displayHeight") {
		dw, err1 := strictInt(vals, "displayWidth")
		dh, err2 := strictInt(vals, "displayHeight")
		if err1 != nil || err2 != nil || dw <= 0 || dh <= 0 {
			return viewport.Point{}, false, fmt.Errorf("%w: displayWidth/displayHeight must be positive integers", schemas.ErrInvalidInput)
		}
		display := viewport.Size{Width: dw, Height: dh}
		return viewport.Translate(viewport.Reported{X: x, Y: y}, viewport.DisplayPixel, vp, &display), true, nil
	}

	return viewport.Translate(viewport.Reported{X: x, Y: y}, viewport.RawPixel, vp, nil), true, nil
}

func sessionKey(r *http.Request, vals values) string {
	if key, ok := vals.get("session"); ok {
		return key
	}
	if key := r.Header.Get("X-Session"); key != "" {
		return key
	}
	return ""
}

func intValue(vals values, key string) (int, bool) {
	s, ok := vals.get(key)
	if !ok {
		return 0, false
	}
	// Some clients send integral values as floats ("800.0").
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return int(f), true
}

func strictInt(vals values, key string) (int, error) {
	s, _ := vals.get(key)
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	return int(f), nil
}

func floatValue(vals values, key string) (float64, error) {
	s, ok := vals.get(key)
	if !ok {
		return 0, nil
	}
	return strconv.ParseFloat(s, 64)
}
