package export

import (
	"fmt"
	"io"

	"github.com/jung-kurt/gofpdf"

	"seg-annotator/internal/annotation"
	"seg-annotator/pkg/colorutil"
)

// plot area on an A4 portrait page, in mm
const (
	plotLeft  = 15.0
	plotWidth = 180.0
	plotMaxH  = 120.0
)

// WritePDF writes the report with a plot of the region polylines.
func WritePDF(w io.Writer, r *Report, regions []annotation.Region) error {
	p := gofpdf.New("P", "mm", "A4", "")
	p.SetTitle(fmt.Sprintf("Annotations for image %d", r.ImageID), false)
	p.AddPage()

	p.SetFont("Helvetica", "B", 14)
	p.Cell(0, 8, fmt.Sprintf("Image annotations - ID: %d", r.ImageID))
	p.Ln(9)

	p.SetFont("Helvetica", "", 10)
	for _, line := range []string{
		"Date: " + r.At.Format("2006-01-02 15:04:05"),
		fmt.Sprintf("Image size: %d x %d", r.ImageWidth, r.ImageHeight),
		fmt.Sprintf("Canvas size: %d x %d", r.CanvasWidth, r.CanvasHeight),
	} {
		p.Cell(0, 5, line)
		p.Ln(5)
	}
	p.Ln(3)

	plotRegions(p, r, regions)

	p.SetFont("Helvetica", "B", 11)
	p.Cell(0, 6, "Regions")
	p.Ln(7)
	p.SetFont("Helvetica", "", 9)
	for i, s := range r.Objects {
		regionLine(p, fmt.Sprintf("Object %d", i+1), s)
	}
	for i, s := range r.Backgrounds {
		regionLine(p, fmt.Sprintf("Background %d", i+1), s)
	}
	p.Ln(3)

	p.SetFont("Helvetica", "B", 11)
	p.Cell(0, 6, "Statistics")
	p.Ln(7)
	p.SetFont("Helvetica", "", 10)
	for _, line := range []string{
		fmt.Sprintf("Objects: %d", len(r.Objects)),
		fmt.Sprintf("Background areas: %d", len(r.Backgrounds)),
		fmt.Sprintf("Regions: %d", r.Regions),
		fmt.Sprintf("Strokes: %d", r.Strokes),
	} {
		p.Cell(0, 5, line)
		p.Ln(5)
	}

	if err := p.Error(); err != nil {
		return err
	}
	return p.Output(w)
}

func regionLine(p *gofpdf.Fpdf, label string, s RegionSummary) {
	c := s.Bounds.Center()
	p.Cell(0, 5, fmt.Sprintf("%s  %s  center (%.1f, %.1f)  %.1f x %.1f px  %d points  area %.1f px2",
		label, s.Color, c.X, c.Y, s.Bounds.Width, s.Bounds.Height, s.Points, s.HullArea))
	p.Ln(5)
}

// plotRegions draws every region polyline inside a frame scaled from canvas
// coordinates.
func plotRegions(p *gofpdf.Fpdf, r *Report, regions []annotation.Region) {
	if r.CanvasWidth <= 0 || r.CanvasHeight <= 0 {
		return
	}
	scale := plotWidth / float64(r.CanvasWidth)
	if h := float64(r.CanvasHeight) * scale; h > plotMaxH {
		scale = plotMaxH / float64(r.CanvasHeight)
	}
	top := p.GetY()
	frameW := float64(r.CanvasWidth) * scale
	frameH := float64(r.CanvasHeight) * scale

	p.SetDrawColor(160, 160, 160)
	p.SetLineWidth(0.2)
	p.Rect(plotLeft, top, frameW, frameH, "D")

	p.SetLineWidth(0.5)
	p.SetLineCapStyle("round")
	for _, reg := range regions {
		c, err := colorutil.ParseHex(reg.Color)
		if err != nil {
			c = colorutil.Black
		}
		p.SetDrawColor(int(c.R), int(c.G), int(c.B))
		for i := 1; i < len(reg.Points); i++ {
			a, b := reg.Points[i-1], reg.Points[i]
			p.Line(plotLeft+a.X*scale, top+a.Y*scale, plotLeft+b.X*scale, top+b.Y*scale)
		}
	}
	p.SetDrawColor(0, 0, 0)
	p.SetY(top + frameH + 4)
}
