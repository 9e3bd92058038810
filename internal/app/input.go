package app

import (
	"seg-annotator/internal/annotation"
	"seg-annotator/internal/viewport"
	"seg-annotator/pkg/geometry"
)

// PointerDown starts a gesture at a widget-local position. With pan set and
// the view zoomed in, it starts a pan drag instead.
func (a *Annotator) PointerDown(screen geometry.Point2D, pan bool) error {
	return a.with(func(d *document) error {
		if pan && d.view.BeginPan(screen) {
			a.emit(EventViewChanged, nil)
			return nil
		}
		d.engine.BeginGesture(d.view.ToLogical(screen))
		return nil
	})
}

// PointerMove extends the active gesture or pan drag.
func (a *Annotator) PointerMove(screen geometry.Point2D) error {
	return a.with(func(d *document) error {
		switch {
		case d.view.Panning():
			d.view.PanTo(screen)
			a.emit(EventViewChanged, nil)
		case d.engine.Drawing():
			d.engine.ExtendGesture(d.view.ToLogical(screen))
		}
		return nil
	})
}

// PointerUp ends the active gesture or pan drag.
func (a *Annotator) PointerUp() error {
	return a.with(func(d *document) error {
		switch {
		case d.view.Panning():
			d.view.EndPan()
			a.emit(EventViewChanged, nil)
		case d.engine.Drawing():
			d.engine.EndGesture()
		}
		return nil
	})
}

// ZoomIn steps the zoom up and reports whether it changed.
func (a *Annotator) ZoomIn() bool { return a.zoom((*viewport.Transform).ZoomIn) }

// ZoomOut steps the zoom down and reports whether it changed.
func (a *Annotator) ZoomOut() bool { return a.zoom((*viewport.Transform).ZoomOut) }

func (a *Annotator) zoom(step func(*viewport.Transform) bool) bool {
	changed := false
	_ = a.with(func(d *document) error {
		if changed = step(d.view); changed {
			a.emit(EventViewChanged, nil)
		}
		return nil
	})
	return changed
}

// SetZoom sets a clamped zoom level.
func (a *Annotator) SetZoom(z float64) {
	_ = a.with(func(d *document) error {
		d.view.SetZoom(z)
		a.emit(EventViewChanged, nil)
		return nil
	})
}

// ResetView returns to zoom 1 with no pan.
func (a *Annotator) ResetView() {
	_ = a.with(func(d *document) error {
		d.view.Reset()
		a.emit(EventViewChanged, nil)
		return nil
	})
}

// Resize records the widget size the canvas is displayed at.
func (a *Annotator) Resize(display geometry.Size) {
	_ = a.with(func(d *document) error {
		d.view.Resize(display)
		return nil
	})
}

// Zoom returns the current zoom level.
func (a *Annotator) Zoom() float64 {
	z := 1.0
	_ = a.with(func(d *document) error {
		z = d.view.Zoom()
		return nil
	})
	return z
}

// Cursor returns the pointer affordance for the current view state.
func (a *Annotator) Cursor() viewport.Cursor {
	c := viewport.CursorCrosshair
	_ = a.with(func(d *document) error {
		c = d.view.Cursor()
		return nil
	})
	return c
}

// Brush returns the brush applied to the current and future images.
func (a *Annotator) Brush() annotation.Brush {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.brush
}

// SetMode selects the active tool.
func (a *Annotator) SetMode(m annotation.Mode) error {
	return a.updateBrush(func(e *annotation.Engine) error { return e.SetMode(m) })
}

// SetBrushSize sets the brush diameter, clamped to 1..100.
func (a *Annotator) SetBrushSize(size float64) {
	_ = a.updateBrush(func(e *annotation.Engine) error {
		e.SetBrushSize(size)
		return nil
	})
}

// SetObjectColor sets the hex color of later object strokes.
func (a *Annotator) SetObjectColor(hex string) error {
	return a.updateBrush(func(e *annotation.Engine) error { return e.SetObjectColor(hex) })
}

// SetBackgroundColor sets the hex color of later background strokes.
func (a *Annotator) SetBackgroundColor(hex string) error {
	return a.updateBrush(func(e *annotation.Engine) error { return e.SetBackgroundColor(hex) })
}

// updateBrush applies fn to the loaded engine, or to a scratch engine when
// nothing is loaded, and keeps the result for later images.
func (a *Annotator) updateBrush(fn func(e *annotation.Engine) error) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	var e *annotation.Engine
	if a.doc != nil {
		e = a.doc.engine
	} else {
		e = annotation.New(1, 1, annotation.Options{Brush: a.brush})
	}
	if err := fn(e); err != nil {
		return err
	}
	a.brush = e.Brush()
	return nil
}

// Undo restores the previous snapshot.
func (a *Annotator) Undo() bool {
	ok := false
	_ = a.with(func(d *document) error {
		ok = d.engine.Undo()
		return nil
	})
	return ok
}

// Redo reapplies the last undone snapshot.
func (a *Annotator) Redo() bool {
	ok := false
	_ = a.with(func(d *document) error {
		ok = d.engine.Redo()
		return nil
	})
	return ok
}

// CanUndo reports whether Undo would change anything.
func (a *Annotator) CanUndo() bool {
	ok := false
	_ = a.with(func(d *document) error {
		ok = d.engine.CanUndo()
		return nil
	})
	return ok
}

// CanRedo reports whether Redo would change anything.
func (a *Annotator) CanRedo() bool {
	ok := false
	_ = a.with(func(d *document) error {
		ok = d.engine.CanRedo()
		return nil
	})
	return ok
}

// Clear removes every stroke and region.
func (a *Annotator) Clear() error {
	return a.with(func(d *document) error {
		d.engine.Clear()
		return nil
	})
}

// HasMarkers reports whether segmentation may be requested.
func (a *Annotator) HasMarkers() bool {
	ok := false
	_ = a.with(func(d *document) error {
		ok = d.engine.HasMarkers()
		return nil
	})
	return ok
}

// Strokes returns a copy of the stroke list.
func (a *Annotator) Strokes() []annotation.Stroke {
	var s []annotation.Stroke
	_ = a.with(func(d *document) error {
		s = d.engine.Strokes()
		return nil
	})
	return s
}

// Regions returns a copy of the captured regions.
func (a *Annotator) Regions() []annotation.Region {
	var r []annotation.Region
	_ = a.with(func(d *document) error {
		r = d.engine.Regions()
		return nil
	})
	return r
}
