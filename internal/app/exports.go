package app

import (
	"fmt"
	"io"

	"go.uber.org/zap"

	"seg-annotator/internal/annotation"
	"seg-annotator/internal/export"
	"seg-annotator/internal/logging"
	"seg-annotator/internal/record"
)

// report gathers what every export format needs.
func (a *Annotator) report() (*export.Report, []annotation.Region, error) {
	var (
		meta    export.Meta
		regions []annotation.Region
		strokes []annotation.Stroke
	)
	if err := a.with(func(d *document) error {
		w, h := d.engine.Size()
		meta = export.Meta{
			ImageID:      d.session.ImageID(),
			At:           a.opts.Now(),
			ImageWidth:   d.asset.Width(),
			ImageHeight:  d.asset.Height(),
			CanvasWidth:  w,
			CanvasHeight: h,
		}
		regions = d.engine.Regions()
		strokes = d.engine.Strokes()
		return nil
	}); err != nil {
		return nil, nil, err
	}
	r, err := export.Summarize(meta, regions, strokes)
	return r, regions, err
}

// ExportTXT writes the plain text annotation report.
func (a *Annotator) ExportTXT(w io.Writer) error {
	r, _, err := a.report()
	if err != nil {
		return err
	}
	return export.WriteTXT(w, r)
}

// ExportPDF writes the PDF annotation report.
func (a *Annotator) ExportPDF(w io.Writer) error {
	r, regions, err := a.report()
	if err != nil {
		return err
	}
	return export.WritePDF(w, r, regions)
}

// ExportPNG writes the image at natural size with the strokes drawn over it.
func (a *Annotator) ExportPNG(w io.Writer) error {
	var err error
	werr := a.with(func(d *document) error {
		err = export.WriteAnnotatedPNG(w, d.asset.Image, d.engine.Raster().Display())
		return nil
	})
	if werr != nil {
		return werr
	}
	return err
}

// ExportName returns the suggested file name for an export kind.
func (a *Annotator) ExportName(prefix, ext string) string {
	return export.FileName(prefix, a.ImageID(), a.opts.Now(), ext)
}

// ExportRecord writes the current annotation to a local JSON file.
func (a *Annotator) ExportRecord(path string) error {
	var rec record.Record
	if err := a.with(func(d *document) error {
		id := d.session.ImageID()
		data := record.NewData(id, d.engine.Strokes(), a.opts.Now(), false)
		rec = record.Record{ImageID: id, AnnotationData: &data, FilePath: d.info.FilePath}
		return nil
	}); err != nil {
		return err
	}
	if err := rec.Save(path); err != nil {
		return fmt.Errorf("export record: %w", err)
	}
	logging.Logger.Info("record exported", zap.String("path", path))
	return nil
}

// ImportRecord replaces the strokes with those of a local JSON file. The
// replacement is undoable and autosaved.
func (a *Annotator) ImportRecord(path string) error {
	rec, err := record.Load(path)
	if err != nil {
		return fmt.Errorf("import record: %w", err)
	}
	return a.with(func(d *document) error {
		if rec.ImageID != 0 && rec.ImageID != d.session.ImageID() {
			logging.Logger.Warn("importing record of another image",
				zap.Int64("record_image_id", rec.ImageID), zap.Int64("image_id", d.session.ImageID()))
		}
		d.engine.Populate(rec.Strokes())
		return nil
	})
}
