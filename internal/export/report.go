// Package export renders annotations as text and PDF reports and as an
// annotated image.
package export

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"seg-annotator/internal/annotation"
	"seg-annotator/pkg/geometry"
)

// ErrEmpty is returned when there is nothing to export.
var ErrEmpty = errors.New("no annotations to export; draw on the image first")

// sampleHead and sampleTail bound the point listing of long regions.
const (
	sampleHead = 5
	sampleTail = 5
)

// Meta describes the annotated image.
type Meta struct {
	ImageID      int64
	At           time.Time
	ImageWidth   int
	ImageHeight  int
	CanvasWidth  int
	CanvasHeight int
}

// IndexedPoint is a region point with its 1-based position in the region.
type IndexedPoint struct {
	N int
	geometry.Point2D
}

// RegionSummary describes one captured region.
type RegionSummary struct {
	Type   annotation.Mode
	Color  string
	Bounds geometry.Rect
	Mean   geometry.Point2D
	Points int
	// HullArea is the area of the convex hull of the traced points.
	HullArea float64
	// Covered counts the strokes whose centers fall inside the hull.
	Covered int
	Head   []IndexedPoint
	Tail   []IndexedPoint
	// Omitted is the number of points between Head and Tail.
	Omitted int
}

// Report is the computed content shared by every report format.
type Report struct {
	Meta
	Objects     []RegionSummary
	Backgrounds []RegionSummary
	Regions     int
	Strokes     int
}

// Summarize builds a report. It fails with ErrEmpty when there are neither
// regions nor strokes.
func Summarize(meta Meta, regions []annotation.Region, strokes []annotation.Stroke) (*Report, error) {
	if len(regions) == 0 && len(strokes) == 0 {
		return nil, ErrEmpty
	}
	r := &Report{Meta: meta, Regions: len(regions), Strokes: len(strokes)}
	for _, reg := range regions {
		s := summarize(reg, strokes)
		if reg.Type == annotation.ModeObject {
			r.Objects = append(r.Objects, s)
		} else {
			r.Backgrounds = append(r.Backgrounds, s)
		}
	}
	return r, nil
}

func summarize(reg annotation.Region, strokes []annotation.Stroke) RegionSummary {
	s := RegionSummary{Type: reg.Type, Color: reg.Color, Points: len(reg.Points)}
	if len(reg.Points) == 0 {
		return s
	}

	xs := make([]float64, len(reg.Points))
	ys := make([]float64, len(reg.Points))
	for i, p := range reg.Points {
		xs[i], ys[i] = p.X, p.Y
	}
	minX, maxX := floats.Min(xs), floats.Max(xs)
	minY, maxY := floats.Min(ys), floats.Max(ys)
	s.Bounds = geometry.Rect{X: minX, Y: minY, Width: maxX - minX, Height: maxY - minY}
	s.Mean = geometry.Point2D{X: stat.Mean(xs, nil), Y: stat.Mean(ys, nil)}

	hull := geometry.ConvexHull(reg.Points)
	s.HullArea = geometry.PolygonArea(hull)
	for _, st := range strokes {
		if geometry.PointInPolygon(st.Center(), hull) {
			s.Covered++
		}
	}

	n := len(reg.Points)
	if n > sampleHead+sampleTail {
		s.Head = indexed(reg.Points[:sampleHead], 1)
		s.Tail = indexed(reg.Points[n-sampleTail:], n-sampleTail+1)
		s.Omitted = n - sampleHead - sampleTail
	} else {
		s.Head = indexed(reg.Points, 1)
	}
	return s
}

func indexed(pts []geometry.Point2D, first int) []IndexedPoint {
	out := make([]IndexedPoint, len(pts))
	for i, p := range pts {
		out[i] = IndexedPoint{N: first + i, Point2D: p}
	}
	return out
}

// FileName returns the conventional download name for an export.
func FileName(prefix string, imageID int64, at time.Time, ext string) string {
	return fmt.Sprintf("%s_image_%d_%d.%s", prefix, imageID, at.UnixMilli(), ext)
}

// WriteTXT writes the plain text report.
func WriteTXT(w io.Writer, r *Report) error {
	var b strings.Builder

	fmt.Fprintf(&b, "Image annotations - ID: %d\n", r.ImageID)
	fmt.Fprintf(&b, "Date: %s\n", r.At.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(&b, "Image size: %d x %d\n", r.ImageWidth, r.ImageHeight)
	fmt.Fprintf(&b, "Canvas size: %d x %d\n", r.CanvasWidth, r.CanvasHeight)
	b.WriteString(strings.Repeat("=", 50) + "\n\n")

	if len(r.Objects) > 0 {
		b.WriteString("OBJECTS:\n")
		b.WriteString(strings.Repeat("-", 30) + "\n")
		for i, s := range r.Objects {
			fmt.Fprintf(&b, "Object %d:\n", i+1)
			writeSummary(&b, s)
			b.WriteString("  Points:\n")
			for _, p := range s.Head {
				fmt.Fprintf(&b, "    Point %d: X=%.2f, Y=%.2f\n", p.N, p.X, p.Y)
			}
			if s.Omitted > 0 {
				fmt.Fprintf(&b, "    ... (%d points omitted) ...\n", s.Omitted)
			}
			for _, p := range s.Tail {
				fmt.Fprintf(&b, "    Point %d: X=%.2f, Y=%.2f\n", p.N, p.X, p.Y)
			}
			b.WriteString("\n")
		}
	}

	if len(r.Backgrounds) > 0 {
		b.WriteString("BACKGROUND AREAS:\n")
		b.WriteString(strings.Repeat("-", 40) + "\n")
		for i, s := range r.Backgrounds {
			fmt.Fprintf(&b, "Background %d:\n", i+1)
			writeSummary(&b, s)
			b.WriteString("\n")
		}
	}

	b.WriteString("STATISTICS:\n")
	b.WriteString(strings.Repeat("-", 20) + "\n")
	fmt.Fprintf(&b, "Objects: %d\n", len(r.Objects))
	fmt.Fprintf(&b, "Background areas: %d\n", len(r.Backgrounds))
	fmt.Fprintf(&b, "Regions: %d\n", r.Regions)
	fmt.Fprintf(&b, "Strokes: %d\n", r.Strokes)

	_, err := io.WriteString(w, b.String())
	return err
}

func writeSummary(b *strings.Builder, s RegionSummary) {
	c := s.Bounds.Center()
	fmt.Fprintf(b, "  Type: %s\n", s.Type)
	fmt.Fprintf(b, "  Color: %s\n", s.Color)
	fmt.Fprintf(b, "  Location: X=%.2f, Y=%.2f\n", c.X, c.Y)
	fmt.Fprintf(b, "  Approximate size: %.2f x %.2f pixels\n", s.Bounds.Width, s.Bounds.Height)
	fmt.Fprintf(b, "  Contour points: %d\n", s.Points)
	fmt.Fprintf(b, "  Enclosed area: %.2f square pixels\n", s.HullArea)
	fmt.Fprintf(b, "  Strokes enclosed: %d\n", s.Covered)
}
