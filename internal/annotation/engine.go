package annotation

import (
	"fmt"
	"image"

	"go.uber.org/zap"

	"seg-annotator/internal/logging"
	"seg-annotator/pkg/colorutil"
	"seg-annotator/pkg/geometry"
)

// Brush size limits.
const (
	MinBrushSize = 1
	MaxBrushSize = 100
)

// Brush is the active tool configuration.
type Brush struct {
	Size            float64
	ObjectColor     string
	BackgroundColor string
	Mode            Mode
}

// DefaultBrush returns a 10px object brush with canonical marker colors.
func DefaultBrush() Brush {
	return Brush{
		Size:            10,
		ObjectColor:     colorutil.Hex(colorutil.ObjectGreen),
		BackgroundColor: colorutil.Hex(colorutil.BackgroundRed),
		Mode:            ModeObject,
	}
}

// Color returns the color strokes of mode m are painted with.
func (b Brush) Color(m Mode) string {
	if m == ModeBackground {
		return b.BackgroundColor
	}
	return b.ObjectColor
}

// Options configures an Engine.
type Options struct {
	Brush        Brush
	HistoryLimit int
}

// Engine is the drawing surface of one image. It is not safe for concurrent
// use; the owner serializes input events.
type Engine struct {
	width, height int

	brush   Brush
	strokes []Stroke
	regions []Region

	// active gesture
	drawing     bool
	gestureMode Mode
	gesture     []geometry.Point2D

	history *History
	raster  *Raster

	onChange func()
}

// New creates an empty engine for a canvas of the given logical size.
func New(width, height int, opts Options) *Engine {
	b := opts.Brush
	if b.Size == 0 && b.ObjectColor == "" && b.BackgroundColor == "" {
		b = DefaultBrush()
	}
	b.Size = geometry.Clamp(b.Size, MinBrushSize, MaxBrushSize)
	return &Engine{
		width:   width,
		height:  height,
		brush:   b,
		history: NewHistory(opts.HistoryLimit),
		raster:  NewRaster(width, height),
	}
}

// OnChange registers a callback run after every mutation that should be
// persisted: gesture end, clear, undo, redo and populate.
func (e *Engine) OnChange(fn func()) {
	e.onChange = fn
}

func (e *Engine) changed() {
	if e.onChange != nil {
		e.onChange()
	}
}

// Size returns the logical canvas size.
func (e *Engine) Size() (width, height int) { return e.width, e.height }

// Brush returns the active brush.
func (e *Engine) Brush() Brush { return e.brush }

// SetMode selects the active tool.
func (e *Engine) SetMode(m Mode) error {
	if !m.Valid() {
		return fmt.Errorf("%w: %d", ErrInvalidMode, int(m))
	}
	e.brush.Mode = m
	return nil
}

// SetBrushSize sets the dab diameter, clamped to [MinBrushSize, MaxBrushSize].
func (e *Engine) SetBrushSize(size float64) {
	e.brush.Size = geometry.Clamp(size, MinBrushSize, MaxBrushSize)
}

// SetObjectColor changes the color of object strokes painted from now on.
func (e *Engine) SetObjectColor(hex string) error {
	c, err := colorutil.ParseHex(hex)
	if err != nil {
		return err
	}
	e.brush.ObjectColor = colorutil.Hex(c)
	return nil
}

// SetBackgroundColor changes the color of background strokes painted from now on.
func (e *Engine) SetBackgroundColor(hex string) error {
	c, err := colorutil.ParseHex(hex)
	if err != nil {
		return err
	}
	e.brush.BackgroundColor = colorutil.Hex(c)
	return nil
}

// Drawing reports whether a gesture is open.
func (e *Engine) Drawing() bool { return e.drawing }

// BeginGesture opens a gesture at p, snapshots the current state and paints
// the first dab (or erases under it).
func (e *Engine) BeginGesture(p geometry.Point2D) {
	if e.drawing {
		e.EndGesture()
	}
	e.history.Push(e.Snapshot())

	e.drawing = true
	e.gestureMode = e.brush.Mode
	e.gesture = e.gesture[:0]

	e.paintAt(p)
}

// ExtendGesture paints a dab at p, or erases under it. It is ignored when no
// gesture is open.
func (e *Engine) ExtendGesture(p geometry.Point2D) {
	if !e.drawing {
		return
	}
	e.paintAt(p)
}

// EndGesture closes the gesture. A Region is recorded and returned when the
// gesture traced more than one point in object or background mode.
func (e *Engine) EndGesture() (Region, bool) {
	if !e.drawing {
		return Region{}, false
	}
	e.drawing = false

	var (
		region Region
		ok     bool
	)
	if len(e.gesture) > 1 && e.gestureMode != ModeEraser {
		pts := make([]geometry.Point2D, len(e.gesture))
		copy(pts, e.gesture)
		region = Region{Type: e.gestureMode, Points: pts, Color: e.brush.Color(e.gestureMode)}
		e.regions = append(e.regions, region)
		ok = true
	}
	e.gesture = e.gesture[:0]

	logging.Logger.Debug("gesture ended",
		zap.Stringer("mode", e.gestureMode),
		zap.Int("strokes", len(e.strokes)),
		zap.Bool("region", ok),
	)
	e.changed()
	return region, ok
}

// paintAt keeps the surfaces equal to what Redraw would paint: one dab per
// stroke, repainted from the list whenever the eraser removes strokes.
func (e *Engine) paintAt(p geometry.Point2D) {
	mode := e.gestureMode
	if mode == ModeEraser {
		if e.eraseAt(p) > 0 {
			e.Redraw()
		}
		return
	}

	s := Stroke{
		X:     p.X,
		Y:     p.Y,
		Size:  e.brush.Size,
		Color: e.brush.Color(mode),
		Mode:  mode,
	}
	e.strokes = append(e.strokes, s)
	e.gesture = append(e.gesture, p)
	e.raster.Dab(s)
}

// eraseAt removes every stroke whose center is within the erase radius plus
// half its own size of p.
func (e *Engine) eraseAt(p geometry.Point2D) int {
	radius := e.brush.Size / 2
	kept := e.strokes[:0]
	removed := 0
	for _, s := range e.strokes {
		if s.Center().Distance(p) <= radius+s.Size/2 {
			removed++
			continue
		}
		kept = append(kept, s)
	}
	e.strokes = kept
	return removed
}

// Clear removes every stroke and region. The previous state stays undoable.
func (e *Engine) Clear() {
	e.history.Push(e.Snapshot())
	e.strokes = nil
	e.regions = nil
	e.gesture = e.gesture[:0]
	e.drawing = false
	e.raster.Clear()
	e.changed()
}

// Redraw repaints both surfaces from the stroke list in creation order.
func (e *Engine) Redraw() {
	e.raster.Paint(e.strokes)
}

// MarkerImage renders the stroke list onto a fresh marker surface. It is
// what segmentation encodes.
func (e *Engine) MarkerImage() *image.RGBA {
	r := NewRaster(e.width, e.height)
	r.Paint(e.strokes)
	return r.Markers()
}

// Populate replaces the stroke list in bulk, e.g. from decoded markers. The
// previous state is pushed as one undo snapshot and regions are dropped.
func (e *Engine) Populate(strokes []Stroke) {
	e.replace(strokes)
	e.changed()
}

// Load is Populate without change notification, for state that was just
// read from storage.
func (e *Engine) Load(strokes []Stroke) {
	e.replace(strokes)
}

func (e *Engine) replace(strokes []Stroke) {
	e.history.Push(e.Snapshot())
	e.strokes = make([]Stroke, len(strokes))
	copy(e.strokes, strokes)
	e.regions = nil
	e.gesture = e.gesture[:0]
	e.drawing = false
	e.Redraw()
}

// Undo restores the previous snapshot. It reports false when there is none.
func (e *Engine) Undo() bool {
	if e.drawing {
		return false
	}
	prev, ok := e.history.Undo(e.Snapshot())
	if !ok {
		return false
	}
	e.restore(prev)
	e.changed()
	return true
}

// Redo re-applies the most recently undone snapshot.
func (e *Engine) Redo() bool {
	if e.drawing {
		return false
	}
	next, ok := e.history.Redo(e.Snapshot())
	if !ok {
		return false
	}
	e.restore(next)
	e.changed()
	return true
}

func (e *Engine) restore(s Snapshot) {
	e.strokes = s.Strokes
	e.regions = s.Regions
	e.Redraw()
}

func (e *Engine) CanUndo() bool { return e.history.CanUndo() }
func (e *Engine) CanRedo() bool { return e.history.CanRedo() }

// HasMarkers reports whether segmentation may be requested.
func (e *Engine) HasMarkers() bool { return HasMarkers(e.strokes) }

// Snapshot returns a deep copy of the current strokes and regions.
func (e *Engine) Snapshot() Snapshot {
	return Snapshot{Strokes: e.strokes, Regions: e.regions}.Clone()
}

// Strokes returns a copy of the stroke list.
func (e *Engine) Strokes() []Stroke {
	out := make([]Stroke, len(e.strokes))
	copy(out, e.strokes)
	return out
}

// Regions returns a deep copy of the captured regions.
func (e *Engine) Regions() []Region {
	return e.Snapshot().Regions
}

// StrokeCount returns the number of live strokes.
func (e *Engine) StrokeCount() int { return len(e.strokes) }

// Raster exposes the paint surfaces for display and mask encoding.
func (e *Engine) Raster() *Raster { return e.raster }
