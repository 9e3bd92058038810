// Package mask converts between stroke rasters and the binary marker images
// exchanged with the segmentation service.
package mask

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"

	"golang.org/x/image/draw"

	"seg-annotator/internal/annotation"
	"seg-annotator/pkg/colorutil"
)

// Classification thresholds on straight-alpha 8-bit channels.
const (
	highChannel = 200
	lowChannel  = 50
	minAlpha    = 128
)

// IsObject reports whether c is green-dominant enough to be an object marker.
func IsObject(c color.Color) bool {
	r, g, b, a := colorutil.Unpremultiply(c)
	return a > minAlpha && g > highChannel && r < lowChannel && b < lowChannel
}

// IsBackground reports whether c is red-dominant enough to be a background marker.
func IsBackground(c color.Color) bool {
	r, g, b, a := colorutil.Unpremultiply(c)
	return a > minAlpha && r > highChannel && g < lowChannel && b < lowChannel
}

// Encode scales src to width x height and classifies every pixel: object
// pixels become opaque green, background pixels opaque red, the rest
// transparent black.
func Encode(src image.Image, width, height int) *image.RGBA {
	if width < 1 || height < 1 {
		b := src.Bounds()
		width, height = b.Dx(), b.Dy()
	}
	scaled := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.NearestNeighbor.Scale(scaled, scaled.Bounds(), src, src.Bounds(), draw.Src, nil)

	out := image.NewRGBA(scaled.Bounds())
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			c := scaled.RGBAAt(x, y)
			switch {
			case IsObject(c):
				out.SetRGBA(x, y, colorutil.ObjectGreen)
			case IsBackground(c):
				out.SetRGBA(x, y, colorutil.BackgroundRed)
			}
		}
	}
	return out
}

// EncodePNG encodes src at width x height and writes it as PNG.
func EncodePNG(w io.Writer, src image.Image, width, height int) error {
	if err := png.Encode(w, Encode(src, width, height)); err != nil {
		return fmt.Errorf("encode mask: %w", err)
	}
	return nil
}

// EncodeBytes is EncodePNG into a buffer.
func EncodeBytes(src image.Image, width, height int) ([]byte, error) {
	var buf bytes.Buffer
	if err := EncodePNG(&buf, src, width, height); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Stats counts classified pixels in a mask.
type Stats struct {
	Object     int
	Background int
	Total      int
}

// Count classifies every pixel of img.
func Count(img image.Image) Stats {
	b := img.Bounds()
	st := Stats{Total: b.Dx() * b.Dy()}
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			c := img.At(x, y)
			if IsObject(c) {
				st.Object++
			} else if IsBackground(c) {
				st.Background++
			}
		}
	}
	return st
}

// DecodeOptions controls marker ingestion.
type DecodeOptions struct {
	Stride          int
	CanvasWidth     int
	CanvasHeight    int
	ObjectSize      float64
	BackgroundSize  float64
	ObjectColor     string
	BackgroundColor string
}

// DefaultDecodeOptions samples every second pixel and sizes object dabs 6
// and background dabs 4.
func DefaultDecodeOptions(canvasWidth, canvasHeight int) DecodeOptions {
	b := annotation.DefaultBrush()
	return DecodeOptions{
		Stride:          2,
		CanvasWidth:     canvasWidth,
		CanvasHeight:    canvasHeight,
		ObjectSize:      6,
		BackgroundSize:  4,
		ObjectColor:     b.ObjectColor,
		BackgroundColor: b.BackgroundColor,
	}
}

// Decode samples img every Stride pixels in each axis and turns accepted
// samples into strokes in canvas-logical coordinates, in row-major order.
func Decode(img image.Image, opts DecodeOptions) []annotation.Stroke {
	b := img.Bounds()
	if b.Empty() {
		return nil
	}
	stride := opts.Stride
	if stride < 1 {
		stride = 1
	}
	cw, ch := opts.CanvasWidth, opts.CanvasHeight
	if cw < 1 || ch < 1 {
		cw, ch = b.Dx(), b.Dy()
	}
	sx := float64(cw) / float64(b.Dx())
	sy := float64(ch) / float64(b.Dy())

	var strokes []annotation.Stroke
	for y := 0; y < b.Dy(); y += stride {
		for x := 0; x < b.Dx(); x += stride {
			c := img.At(b.Min.X+x, b.Min.Y+y)
			var s annotation.Stroke
			switch {
			case IsObject(c):
				s = annotation.Stroke{Size: opts.ObjectSize, Color: opts.ObjectColor, Mode: annotation.ModeObject}
			case IsBackground(c):
				s = annotation.Stroke{Size: opts.BackgroundSize, Color: opts.BackgroundColor, Mode: annotation.ModeBackground}
			default:
				continue
			}
			s.X = float64(x) * sx
			s.Y = float64(y) * sy
			strokes = append(strokes, s)
		}
	}
	return strokes
}
