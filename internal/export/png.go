package export

import (
	"image"
	"image/png"
	"io"

	"github.com/fogleman/gg"
)

// AnnotatedImage composes the stroke overlay, scaled, over the base image
// at the base image's natural size.
func AnnotatedImage(base, overlay image.Image) *image.RGBA {
	b := base.Bounds()
	dc := gg.NewContext(b.Dx(), b.Dy())
	dc.DrawImage(base, -b.Min.X, -b.Min.Y)
	if overlay != nil && !overlay.Bounds().Empty() {
		o := overlay.Bounds()
		dc.Push()
		dc.Scale(float64(b.Dx())/float64(o.Dx()), float64(b.Dy())/float64(o.Dy()))
		dc.DrawImage(overlay, -o.Min.X, -o.Min.Y)
		dc.Pop()
	}
	return dc.Image().(*image.RGBA)
}

// WriteAnnotatedPNG encodes AnnotatedImage as PNG.
func WriteAnnotatedPNG(w io.Writer, base, overlay image.Image) error {
	return png.Encode(w, AnnotatedImage(base, overlay))
}
