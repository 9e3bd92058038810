// Command masktool converts between marker masks and annotation records
// offline, using the same code paths as the annotator.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"seg-annotator/internal/annotation"
	"seg-annotator/internal/config"
	segimage "seg-annotator/internal/image"
	"seg-annotator/internal/mask"
	"seg-annotator/internal/record"
)

func main() {
	decodePath := flag.String("decode", "", "Marker image to turn into a record")
	encodePath := flag.String("encode", "", "Record to turn into a marker mask")
	imagePath := flag.String("image", "", "Annotated image; sets the canvas and mask size")
	out := flag.String("o", "", "Output file (record JSON for -decode, PNG for -encode)")
	imageID := flag.Int64("id", 0, "Image id written into decoded records")
	flag.Parse()

	if (*decodePath == "") == (*encodePath == "") || *imagePath == "" || *out == "" {
		fmt.Println("Usage: masktool -image <img> (-decode <markers.png> | -encode <record.json>) -o <out>")
		os.Exit(1)
	}

	cfg := config.New()
	img, err := segimage.Load(*imagePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load image: %v\n", err)
		os.Exit(1)
	}
	cw, ch := segimage.FitSize(img.Width(), img.Height(), cfg.Canvas.MaxWidth, cfg.Canvas.MaxHeight)
	fmt.Printf("Loaded %s image: %dx%d pixels, canvas %dx%d\n", img.Format, img.Width(), img.Height(), cw, ch)

	if *decodePath != "" {
		err = decode(cfg, *decodePath, *out, *imageID, cw, ch)
	} else {
		err = encode(*encodePath, *out, img, cw, ch)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

func decode(cfg *config.Config, path, out string, imageID int64, cw, ch int) error {
	markers, err := segimage.Load(path)
	if err != nil {
		return fmt.Errorf("failed to load markers: %w", err)
	}
	st := mask.Count(markers.Image)
	fmt.Printf("Marker pixels: %d object, %d background of %d\n", st.Object, st.Background, st.Total)

	strokes := mask.Decode(markers.Image, mask.DecodeOptions{
		Stride:          cfg.Markers.Stride,
		CanvasWidth:     cw,
		CanvasHeight:    ch,
		ObjectSize:      cfg.Markers.ObjectSize,
		BackgroundSize:  cfg.Markers.BackgroundSize,
		ObjectColor:     cfg.Brush.ObjectColor,
		BackgroundColor: cfg.Brush.BackgroundColor,
	})
	data := record.NewData(imageID, strokes, time.Now(), false)
	rec := &record.Record{ImageID: imageID, AnnotationData: &data}
	if err := rec.Save(out); err != nil {
		return fmt.Errorf("failed to write record: %w", err)
	}
	fmt.Printf("Decoded %d strokes (%d object, %d background) -> %s\n",
		data.TotalStrokes, data.ObjectCount, data.BackgroundCount, out)
	return nil
}

func encode(path, out string, img *segimage.Asset, cw, ch int) error {
	rec, err := record.Load(path)
	if err != nil {
		return fmt.Errorf("failed to load record: %w", err)
	}
	e := annotation.New(cw, ch, annotation.Options{Brush: annotation.DefaultBrush()})
	e.Load(rec.Strokes())
	if !e.HasMarkers() {
		fmt.Println("Warning: record lacks object or background strokes")
	}

	f, err := os.Create(out)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := mask.EncodePNG(f, e.MarkerImage(), img.Width(), img.Height()); err != nil {
		return fmt.Errorf("failed to encode mask: %w", err)
	}
	fmt.Printf("Encoded %d strokes into %dx%d mask -> %s\n", e.StrokeCount(), img.Width(), img.Height(), out)
	return nil
}
