package export

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"seg-annotator/internal/annotation"
	"seg-annotator/pkg/geometry"
)

func line(n int) []geometry.Point2D {
	pts := make([]geometry.Point2D, n)
	for i := range pts {
		pts[i] = geometry.Point2D{X: float64(i), Y: float64(2 * i)}
	}
	return pts
}

func testMeta() Meta {
	return Meta{
		ImageID:      12,
		At:           time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC),
		ImageWidth:   2048,
		ImageHeight:  1536,
		CanvasWidth:  1024,
		CanvasHeight: 768,
	}
}

func TestSummarizeEmpty(t *testing.T) {
	_, err := Summarize(testMeta(), nil, nil)
	assert.ErrorIs(t, err, ErrEmpty)
}

func TestSummarizeRegion(t *testing.T) {
	regions := []annotation.Region{
		{Type: annotation.ModeObject, Color: "#00ff00", Points: line(12)},
		{Type: annotation.ModeBackground, Color: "#ff0000", Points: line(3)},
	}
	r, err := Summarize(testMeta(), regions, make([]annotation.Stroke, 15))
	require.NoError(t, err)
	require.Len(t, r.Objects, 1)
	require.Len(t, r.Backgrounds, 1)

	obj := r.Objects[0]
	assert.Equal(t, geometry.Rect{X: 0, Y: 0, Width: 11, Height: 22}, obj.Bounds)
	assert.InDelta(t, 5.5, obj.Mean.X, 1e-9)
	assert.Len(t, obj.Head, 5)
	assert.Len(t, obj.Tail, 5)
	assert.Equal(t, 2, obj.Omitted)
	assert.Equal(t, 8, obj.Tail[0].N)

	bg := r.Backgrounds[0]
	assert.Len(t, bg.Head, 3)
	assert.Empty(t, bg.Tail)
}

func TestSummarizeEnclosedArea(t *testing.T) {
	loop := []geometry.Point2D{{X: 10, Y: 10}, {X: 30, Y: 10}, {X: 30, Y: 30}, {X: 20, Y: 25}, {X: 10, Y: 30}, {X: 10, Y: 10}}
	strokes := []annotation.Stroke{
		{X: 20, Y: 15, Size: 4},
		{X: 12, Y: 28, Size: 4},
		{X: 50, Y: 50, Size: 4},
	}
	r, err := Summarize(testMeta(), []annotation.Region{{Type: annotation.ModeObject, Color: "#00ff00", Points: loop}}, strokes)
	require.NoError(t, err)
	require.Len(t, r.Objects, 1)

	obj := r.Objects[0]
	assert.InDelta(t, 400, obj.HullArea, 1e-9)
	assert.Equal(t, 2, obj.Covered)

	var buf bytes.Buffer
	require.NoError(t, WriteTXT(&buf, r))
	assert.Contains(t, buf.String(), "Enclosed area: 400.00 square pixels\n  Strokes enclosed: 2\n")
}

func TestWriteTXT(t *testing.T) {
	regions := []annotation.Region{
		{Type: annotation.ModeObject, Color: "#00ff00", Points: line(12)},
		{Type: annotation.ModeBackground, Color: "#ff0000", Points: line(2)},
	}
	r, err := Summarize(testMeta(), regions, make([]annotation.Stroke, 14))
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, WriteTXT(&buf, r))
	out := buf.String()

	assert.True(t, strings.HasPrefix(out, "Image annotations - ID: 12\n"))
	assert.Contains(t, out, "Image size: 2048 x 1536")
	assert.Contains(t, out, "Location: X=5.50, Y=11.00")
	assert.Contains(t, out, "Point 5: X=4.00, Y=8.00")
	assert.Contains(t, out, "... (2 points omitted) ...")
	assert.Contains(t, out, "Point 12: X=11.00, Y=22.00")
	assert.Contains(t, out, "Background 1:")
	assert.Contains(t, out, "Regions: 2\nStrokes: 14\n")
}

func TestWritePDF(t *testing.T) {
	regions := []annotation.Region{{Type: annotation.ModeObject, Color: "#00ff00", Points: line(4)}}
	r, err := Summarize(testMeta(), regions, nil)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, WritePDF(&buf, r, regions))
	assert.True(t, bytes.HasPrefix(buf.Bytes(), []byte("%PDF-")))
}

func TestAnnotatedImage(t *testing.T) {
	base := image.NewRGBA(image.Rect(0, 0, 8, 6))
	overlay := image.NewRGBA(image.Rect(0, 0, 4, 3))
	overlay.SetRGBA(0, 0, color.RGBA{G: 255, A: 255})

	out := AnnotatedImage(base, overlay)
	assert.Equal(t, base.Bounds(), out.Bounds())
	assert.Greater(t, out.RGBAAt(0, 0).G, uint8(200), "overlay is scaled up over the base")
	assert.Equal(t, uint8(0), out.RGBAAt(7, 5).G)

	var buf bytes.Buffer
	require.NoError(t, WriteAnnotatedPNG(&buf, base, overlay))
	img, err := png.Decode(&buf)
	require.NoError(t, err)
	assert.Equal(t, 8, img.Bounds().Dx())
}

func TestAnnotatedImageKeepsBaseUnderClearOverlay(t *testing.T) {
	base := image.NewRGBA(image.Rect(0, 0, 10, 10))
	for y := 0; y < 10; y++ {
		for x := 0; x < 10; x++ {
			base.SetRGBA(x, y, color.RGBA{R: 200, G: 100, B: 50, A: 255})
		}
	}
	overlay := image.NewRGBA(image.Rect(0, 0, 5, 5))
	overlay.SetRGBA(4, 4, color.RGBA{B: 255, A: 255})

	out := AnnotatedImage(base, overlay)
	assert.Equal(t, color.RGBA{R: 200, G: 100, B: 50, A: 255}, out.RGBAAt(1, 1))
	assert.Equal(t, color.RGBA{B: 255, A: 255}, out.RGBAAt(9, 9))
	assert.Equal(t, base.Pix, AnnotatedImage(base, nil).Pix)
}

func TestFileName(t *testing.T) {
	at := time.UnixMilli(1717232400000)
	assert.Equal(t, "annotations_image_12_1717232400000.txt", FileName("annotations", 12, at, "txt"))
}
