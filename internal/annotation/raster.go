package annotation

import (
	"image"
	"image/color"
	"math"

	"github.com/fogleman/gg"

	"seg-annotator/pkg/colorutil"
	"seg-annotator/pkg/geometry"
)

// Raster holds the two paint surfaces of a canvas. The display surface uses
// each stroke's own color. The marker surface paints object strokes pure
// green and background strokes pure red, independent of display colors, and
// is what the mask encoder reads.
type Raster struct {
	display *image.RGBA
	markers *image.RGBA
	dc      *gg.Context
	mc      *gg.Context
}

// NewRaster allocates transparent surfaces of the given logical size.
func NewRaster(width, height int) *Raster {
	if width < 1 {
		width = 1
	}
	if height < 1 {
		height = 1
	}
	r := &Raster{
		display: image.NewRGBA(image.Rect(0, 0, width, height)),
		markers: image.NewRGBA(image.Rect(0, 0, width, height)),
	}
	r.dc = gg.NewContextForRGBA(r.display)
	r.mc = gg.NewContextForRGBA(r.markers)
	for _, c := range []*gg.Context{r.dc, r.mc} {
		c.SetLineCapRound()
		c.SetLineJoinRound()
	}
	return r
}

// Display returns the colored stroke surface. Callers must not modify it.
func (r *Raster) Display() *image.RGBA { return r.display }

// Markers returns the canonical green/red surface. Callers must not modify it.
func (r *Raster) Markers() *image.RGBA { return r.markers }

// Bounds returns the surface bounds.
func (r *Raster) Bounds() image.Rectangle { return r.display.Bounds() }

// Clear makes both surfaces fully transparent.
func (r *Raster) Clear() {
	clear(r.display.Pix)
	clear(r.markers.Pix)
}

// Dab paints a filled circle of diameter s.Size at the stroke center. An
// eraser dab clears the circle on both surfaces.
func (r *Raster) Dab(s Stroke) {
	radius := s.Size / 2
	if s.Mode == ModeEraser {
		r.erase(s.Center(), radius)
		return
	}
	r.dc.SetColor(displayColor(s))
	r.dc.DrawCircle(s.X, s.Y, radius)
	r.dc.Fill()

	r.mc.SetColor(markerColor(s.Mode))
	r.mc.DrawCircle(s.X, s.Y, radius)
	r.mc.Fill()
}

// Paint clears both surfaces and dabs strokes in order.
func (r *Raster) Paint(strokes []Stroke) {
	r.Clear()
	for _, s := range strokes {
		r.Dab(s)
	}
}

// erase clears every pixel whose center lies within radius of c.
func (r *Raster) erase(c geometry.Point2D, radius float64) {
	rect := image.Rect(
		int(math.Floor(c.X-radius)), int(math.Floor(c.Y-radius)),
		int(math.Ceil(c.X+radius))+1, int(math.Ceil(c.Y+radius))+1,
	).Intersect(r.display.Bounds())

	for y := rect.Min.Y; y < rect.Max.Y; y++ {
		for x := rect.Min.X; x < rect.Max.X; x++ {
			p := geometry.Point2D{X: float64(x) + 0.5, Y: float64(y) + 0.5}
			if p.Distance(c) <= radius {
				r.display.SetRGBA(x, y, colorutil.Transparent)
				r.markers.SetRGBA(x, y, colorutil.Transparent)
			}
		}
	}
}

func displayColor(s Stroke) color.Color {
	if c, err := colorutil.ParseHex(s.Color); err == nil {
		return c
	}
	return markerColor(s.Mode)
}

func markerColor(m Mode) color.Color {
	if m == ModeBackground {
		return colorutil.BackgroundRed
	}
	return colorutil.ObjectGreen
}
