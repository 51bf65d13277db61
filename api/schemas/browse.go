// Package schemas holds the wire-level and cross-package types shared by the
// session manager, the action engine, and the HTTP surface.
package schemas

import "time"

// ActionKind identifies one interaction primitive.
type ActionKind string

const (
	ActionRender     ActionKind = "render"
	ActionClick      ActionKind = "click"
	ActionScroll     ActionKind = "scroll"
	ActionType       ActionKind = "type"
	ActionHoverProbe ActionKind = "hover"
)

// ActionRequest describes one interaction against a session's page. Point is
// already translated into canonical viewport pixels by the time the action
// engine sees it.
type ActionRequest struct {
	Kind   ActionKind
	URL    string
	X      int
	Y      int
	DeltaY int
	Text   string
}

// Rect is a bounding rectangle in canonical viewport pixels.
type Rect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"w"`
	Height float64 `json:"h"`
}

// ElementDescriptor describes the UI element under a probed point. A nil
// descriptor (or Tag == "") means no element was found, which is a valid
// result, not an error.
type ElementDescriptor struct {
	Tag   string `json:"tag"`
	Text  string `json:"text,omitempty"`
	Title string `json:"title,omitempty"`
	Href  string `json:"href,omitempty"`
	Rect  *Rect  `json:"rect,omitempty"`
}

// ImageArtifact is an encoded snapshot of the page surface.
type ImageArtifact struct {
	Data     []byte
	MimeType string
}

// ActionResult carries either a fresh snapshot or an element descriptor,
// depending on the action kind.
type ActionResult struct {
	Image   *ImageArtifact
	Element *ElementDescriptor
}

// Interaction is one persisted action record, as stored in and read back from
// the interaction log.
type Interaction struct {
	ID         string     `json:"id"`
	SessionKey string     `json:"session"`
	Kind       ActionKind `json:"kind"`
	URL        string     `json:"url"`
	X          int        `json:"x"`
	Y          int        `json:"y"`
	DeltaY     int        `json:"deltaY"`
	TextLen    int        `json:"textLen"`
	Duration   int64      `json:"durationMs"`
	OccurredAt time.Time  `json:"occurredAt"`
}
