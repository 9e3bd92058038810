// Package annotation owns the live stroke list of one image: gesture capture,
// erasing, region capture, rendering and undo/redo history.
package annotation

import (
	"encoding/json"
	"errors"
	"fmt"

	"seg-annotator/pkg/geometry"
)

// ErrInvalidMode is returned when a mode name is not object, background or eraser.
var ErrInvalidMode = errors.New("invalid brush mode")

// Mode is the brush mode of a stroke or the active tool.
type Mode int

const (
	ModeObject Mode = iota
	ModeBackground
	ModeEraser
)

func (m Mode) String() string {
	switch m {
	case ModeObject:
		return "object"
	case ModeBackground:
		return "background"
	case ModeEraser:
		return "eraser"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// Valid reports whether m is one of the three defined modes.
func (m Mode) Valid() bool {
	return m >= ModeObject && m <= ModeEraser
}

// ParseMode parses the wire name of a mode.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "object":
		return ModeObject, nil
	case "background":
		return ModeBackground, nil
	case "eraser":
		return ModeEraser, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidMode, s)
}

func (m Mode) MarshalJSON() ([]byte, error) {
	if !m.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidMode, int(m))
	}
	return json.Marshal(m.String())
}

func (m *Mode) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidMode, data)
	}
	parsed, err := ParseMode(s)
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// Stroke is a single recorded brush dab in canvas-logical coordinates.
type Stroke struct {
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Size  float64 `json:"size"`
	Color string  `json:"color"`
	Mode  Mode    `json:"mode"`
}

// Center returns the dab center.
func (s Stroke) Center() geometry.Point2D {
	return geometry.Point2D{X: s.X, Y: s.Y}
}

// Region is the polyline traced by one completed object or background gesture.
type Region struct {
	Type   Mode               `json:"type"`
	Points []geometry.Point2D `json:"points"`
	Color  string             `json:"color"`
}

// Bounds returns the axis-aligned bounds of the region's points.
func (r Region) Bounds() geometry.Rect {
	return geometry.BoundingBox(r.Points)
}

func (r Region) clone() Region {
	pts := make([]geometry.Point2D, len(r.Points))
	copy(pts, r.Points)
	return Region{Type: r.Type, Points: pts, Color: r.Color}
}

// CountModes returns how many strokes there are of each mode.
func CountModes(strokes []Stroke) (object, background int) {
	for _, s := range strokes {
		switch s.Mode {
		case ModeObject:
			object++
		case ModeBackground:
			background++
		}
	}
	return object, background
}

// HasMarkers reports whether strokes contain at least one object and one
// background stroke, the precondition for segmentation.
func HasMarkers(strokes []Stroke) bool {
	var obj, bg bool
	for _, s := range strokes {
		switch s.Mode {
		case ModeObject:
			obj = true
		case ModeBackground:
			bg = true
		}
		if obj && bg {
			return true
		}
	}
	return false
}
