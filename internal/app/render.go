package app

import (
	goimage "image"
	"image/color"

	"golang.org/x/image/draw"
	"golang.org/x/image/math/f64"

	"seg-annotator/internal/image"
	"seg-annotator/pkg/geometry"
)

// Render draws the loaded image and its strokes at the given widget size
// under the current zoom and pan. It returns nil when nothing is loaded.
func (a *Annotator) Render(width, height int) *goimage.RGBA {
	if width <= 0 || height <= 0 {
		return nil
	}
	var (
		frame *goimage.RGBA
		s2d   geometry.AffineTransform
	)
	err := a.with(func(d *document) error {
		d.view.Resize(geometry.NewSize(float64(width), float64(height)))
		s2d = d.view.ScreenTransform()

		w, h := d.engine.Size()
		comp := image.NewComposite(w, h)
		comp.BackColor = color.White
		comp.AddLayer(d.base(), 1, false)
		comp.AddLayer(d.engine.Raster().Display(), 1, false)
		frame = comp.Render()
		return nil
	})
	if err != nil {
		return nil
	}

	dst := goimage.NewRGBA(goimage.Rect(0, 0, width, height))
	draw.Draw(dst, dst.Bounds(), goimage.NewUniform(color.Gray{Y: 0x30}), goimage.Point{}, draw.Src)
	m := f64.Aff3{s2d.A, s2d.B, s2d.TX, s2d.C, s2d.D, s2d.TY}
	draw.NearestNeighbor.Transform(dst, m, frame, frame.Bounds(), draw.Over, nil)
	return dst
}

// base returns the image scaled to the logical canvas, computed once.
func (d *document) base() *goimage.RGBA {
	if d.baseCache == nil {
		w, h := d.engine.Size()
		comp := image.NewComposite(w, h)
		comp.AddLayer(d.asset.Image, 1, true)
		d.baseCache = comp.Render()
	}
	return d.baseCache
}

// SegmentedImage returns the last segmentation result, if loaded.
func (a *Annotator) SegmentedImage() goimage.Image {
	var img goimage.Image
	_ = a.with(func(d *document) error {
		if d.segmented != nil {
			img = d.segmented.Image
		}
		return nil
	})
	return img
}

// ScreenToLogical maps a widget-local position to canvas coordinates.
func (a *Annotator) ScreenToLogical(screen geometry.Point2D) geometry.Point2D {
	p := screen
	_ = a.with(func(d *document) error {
		p = d.view.ToLogical(screen)
		return nil
	})
	return p
}
