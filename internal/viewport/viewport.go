// Package viewport maps pointer positions on the drawing surface into
// canvas-logical pixel space under zoom and pan.
//
// Screen coordinates are widget-local. The widget may be displayed at a size
// different from the logical canvas; they are first rescaled to unscaled
// canvas pixels and then run through
//
//	logical = (screen - center - pan) / zoom + center
//
// where center is half the logical canvas size.
package viewport

import (
	"math"

	"seg-annotator/pkg/geometry"
)

// Cursor is the pointer affordance the host should show.
type Cursor int

const (
	CursorCrosshair Cursor = iota // drawing
	CursorGrab                    // pan available (zoomed in)
	CursorGrabbing                // pan in progress
)

func (c Cursor) String() string {
	switch c {
	case CursorGrab:
		return "grab"
	case CursorGrabbing:
		return "grabbing"
	default:
		return "crosshair"
	}
}

// Options configures zoom limits.
type Options struct {
	MinZoom  float64
	MaxZoom  float64
	ZoomStep float64
}

// DefaultOptions mirrors the configuration defaults.
func DefaultOptions() Options {
	return Options{MinZoom: 1, MaxZoom: 3, ZoomStep: 0.1}
}

// Transform holds the zoom and pan state of one canvas.
type Transform struct {
	opts Options

	logical geometry.Size
	display geometry.Size

	zoom float64
	pan  geometry.Point2D

	panning     bool
	panAnchor   geometry.Point2D // canvas-pixel position where the pan drag began
	panAtAnchor geometry.Point2D
}

// New creates a transform for a canvas of the given logical size, displayed
// at the same size, with zoom 1 and no pan.
func New(logical geometry.Size, opts Options) *Transform {
	if opts.ZoomStep <= 0 {
		opts.ZoomStep = DefaultOptions().ZoomStep
	}
	if opts.MaxZoom < opts.MinZoom {
		opts.MaxZoom = opts.MinZoom
	}
	t := &Transform{
		opts:    opts,
		logical: logical,
		display: logical,
		zoom:    1,
	}
	t.zoom = t.clampZoom(1)
	return t
}

// Zoom returns the current zoom level.
func (t *Transform) Zoom() float64 { return t.zoom }

// Pan returns the current pan offset in canvas pixels.
func (t *Transform) Pan() geometry.Point2D { return t.pan }

// LogicalSize returns the canvas size in logical pixels.
func (t *Transform) LogicalSize() geometry.Size { return t.logical }

// DisplaySize returns the size the canvas is drawn at.
func (t *Transform) DisplaySize() geometry.Size { return t.display }

// Resize records a new display size. Logical coordinates are unaffected;
// callers redraw to reconcile the two.
func (t *Transform) Resize(display geometry.Size) {
	if display.Width <= 0 || display.Height <= 0 {
		return
	}
	t.display = display
}

// SetLogicalSize changes the logical canvas size and resets the view.
func (t *Transform) SetLogicalSize(logical geometry.Size) {
	t.logical = logical
	t.display = logical
	t.Reset()
}

// Reset returns to the minimum zoom with no pan.
func (t *Transform) Reset() {
	t.zoom = t.clampZoom(1)
	t.pan = geometry.Point2D{}
	t.panning = false
}

// SetZoom clamps z to the configured range and rounds it to two decimals.
// Leaving the zoomed-in range drops any pan.
func (t *Transform) SetZoom(z float64) {
	t.zoom = t.clampZoom(z)
	if !t.CanPan() {
		t.pan = geometry.Point2D{}
		t.panning = false
	}
}

// ZoomIn steps the zoom up. It reports whether the level changed.
func (t *Transform) ZoomIn() bool {
	if !t.CanZoomIn() {
		return false
	}
	before := t.zoom
	t.SetZoom(t.zoom + t.opts.ZoomStep)
	return t.zoom != before
}

// ZoomOut steps the zoom down. It reports whether the level changed.
func (t *Transform) ZoomOut() bool {
	if !t.CanZoomOut() {
		return false
	}
	before := t.zoom
	t.SetZoom(t.zoom - t.opts.ZoomStep)
	return t.zoom != before
}

func (t *Transform) CanZoomIn() bool  { return t.zoom < t.opts.MaxZoom }
func (t *Transform) CanZoomOut() bool { return t.zoom > t.opts.MinZoom }

// CanPan reports whether panning is enabled, which is only while zoomed in.
func (t *Transform) CanPan() bool { return t.zoom > 1 }

// Panning reports whether a pan drag is in progress.
func (t *Transform) Panning() bool { return t.panning }

// BeginPan starts a pan drag at a widget-local position. It returns false
// when panning is not enabled at the current zoom.
func (t *Transform) BeginPan(screen geometry.Point2D) bool {
	if !t.CanPan() {
		return false
	}
	t.panning = true
	t.panAnchor = t.toCanvasPixels(screen)
	t.panAtAnchor = t.pan
	return true
}

// PanTo moves the view so the content under the pan anchor follows the pointer.
func (t *Transform) PanTo(screen geometry.Point2D) {
	if !t.panning {
		return
	}
	delta := t.toCanvasPixels(screen).Sub(t.panAnchor)
	t.pan = t.panAtAnchor.Add(delta)
}

// EndPan finishes a pan drag.
func (t *Transform) EndPan() {
	t.panning = false
}

// Cursor returns the pointer affordance for the current state.
func (t *Transform) Cursor() Cursor {
	switch {
	case t.panning:
		return CursorGrabbing
	case t.CanPan():
		return CursorGrab
	default:
		return CursorCrosshair
	}
}

// ToLogical converts a widget-local position to canvas-logical coordinates.
func (t *Transform) ToLogical(screen geometry.Point2D) geometry.Point2D {
	inv, ok := t.view().Inverse()
	if !ok {
		return screen
	}
	return inv.Apply(t.toCanvasPixels(screen))
}

// ToScreen converts a canvas-logical position to widget-local coordinates.
func (t *Transform) ToScreen(logical geometry.Point2D) geometry.Point2D {
	return t.displayScale().Apply(t.view().Apply(logical))
}

// View returns the logical-to-canvas-pixel transform, for renderers.
func (t *Transform) View() geometry.AffineTransform {
	return t.view()
}

// ScreenTransform maps logical points to widget-local positions.
func (t *Transform) ScreenTransform() geometry.AffineTransform {
	return t.displayScale().Compose(t.view())
}

// view maps logical points to unscaled canvas pixels:
// p' = (p - center) * zoom + center + pan.
func (t *Transform) view() geometry.AffineTransform {
	c := t.logical.Center()
	return geometry.Translation(c.X+t.pan.X, c.Y+t.pan.Y).
		Compose(geometry.Scale(t.zoom, t.zoom)).
		Compose(geometry.Translation(-c.X, -c.Y))
}

// displayScale maps unscaled canvas pixels to widget-local positions. The
// canvas is scaled uniformly to fit the display and centered, leaving
// letterbox bands along the slack axis.
func (t *Transform) displayScale() geometry.AffineTransform {
	if t.logical.Width <= 0 || t.logical.Height <= 0 {
		return geometry.Identity()
	}
	s := math.Min(t.display.Width/t.logical.Width, t.display.Height/t.logical.Height)
	dx := (t.display.Width - t.logical.Width*s) / 2
	dy := (t.display.Height - t.logical.Height*s) / 2
	return geometry.Translation(dx, dy).Compose(geometry.Scale(s, s))
}

func (t *Transform) toCanvasPixels(screen geometry.Point2D) geometry.Point2D {
	inv, ok := t.displayScale().Inverse()
	if !ok {
		return screen
	}
	return inv.Apply(screen)
}

func (t *Transform) clampZoom(z float64) float64 {
	z = math.Round(z*100) / 100
	return geometry.Clamp(z, t.opts.MinZoom, t.opts.MaxZoom)
}
