package annotation

import (
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPaintReplaysStrokesInOrder(t *testing.T) {
	r := NewRaster(40, 20)
	strokes := []Stroke{
		{X: 10, Y: 10, Size: 8, Color: "#0000ff", Mode: ModeObject},
		{X: 10, Y: 10, Size: 4, Mode: ModeEraser},
		{X: 30, Y: 10, Size: 8, Color: "#ff00ff", Mode: ModeBackground},
	}
	r.Paint(strokes)

	assert.Equal(t, color.RGBA{}, r.Markers().RGBAAt(10, 10), "eraser dab clears the center")
	assert.Equal(t, color.RGBA{}, r.Display().RGBAAt(10, 10))
	assert.Equal(t, color.RGBA{G: 255, A: 255}, r.Markers().RGBAAt(7, 10))
	assert.Equal(t, color.RGBA{B: 255, A: 255}, r.Display().RGBAAt(7, 10))
	assert.Equal(t, color.RGBA{R: 255, A: 255}, r.Markers().RGBAAt(30, 10))

	r.Paint(strokes[:1])
	assert.Equal(t, color.RGBA{G: 255, A: 255}, r.Markers().RGBAAt(10, 10), "Paint starts from a clear surface")
	assert.Equal(t, color.RGBA{}, r.Markers().RGBAAt(30, 10))
}
