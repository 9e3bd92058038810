// Package image provides image loading, fetching and compositing.
package image

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"strings"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"seg-annotator/pkg/geometry"
)

// ErrLoad is returned when an image cannot be loaded, after any retry.
var ErrLoad = errors.New("image load failed")

// Asset is a decoded image together with its encoded bytes, which are sent
// unchanged to the segmentation service.
type Asset struct {
	Source string      // path or URL it was loaded from
	Name   string      // file name used in uploads
	Format string      // decoder name: png, jpeg, webp...
	Image  image.Image // decoded pixels
	Data   []byte      // original encoded bytes
}

// Decode decodes data with any registered format.
func Decode(data []byte, source string) (*Asset, error) {
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}
	return &Asset{
		Source: source,
		Name:   nameFor(source, format),
		Format: format,
		Image:  img,
		Data:   data,
	}, nil
}

// Load reads and decodes an image file.
func Load(path string) (*Asset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open image: %w", err)
	}
	return Decode(data, path)
}

// Width returns the image width in pixels.
func (a *Asset) Width() int {
	if a == nil || a.Image == nil {
		return 0
	}
	return a.Image.Bounds().Dx()
}

// Height returns the image height in pixels.
func (a *Asset) Height() int {
	if a == nil || a.Image == nil {
		return 0
	}
	return a.Image.Bounds().Dy()
}

// Size returns the image dimensions.
func (a *Asset) Size() geometry.Size {
	return geometry.Size{
		Width:  float64(a.Width()),
		Height: float64(a.Height()),
	}
}

// FitSize scales w x h down to fit within maxW x maxH, keeping the aspect
// ratio. Images that already fit are returned unchanged.
func FitSize(w, h, maxW, maxH int) (int, int) {
	if w <= 0 || h <= 0 {
		return 0, 0
	}
	if (maxW <= 0 || w <= maxW) && (maxH <= 0 || h <= maxH) {
		return w, h
	}
	scale := 1.0
	if maxW > 0 {
		scale = min(scale, float64(maxW)/float64(w))
	}
	if maxH > 0 {
		scale = min(scale, float64(maxH)/float64(h))
	}
	fw := max(1, int(float64(w)*scale+0.5))
	fh := max(1, int(float64(h)*scale+0.5))
	return fw, fh
}

func nameFor(source, format string) string {
	base := source
	if i := strings.IndexAny(base, "?#"); i >= 0 {
		base = base[:i]
	}
	base = filepath.Base(filepath.ToSlash(base))
	if base == "." || base == "/" || base == "" {
		base = "image"
	}
	if filepath.Ext(base) == "" && format != "" {
		base += "." + format
	}
	return base
}

// SupportedFormats returns the list of supported image formats.
func SupportedFormats() []string {
	return []string{".png", ".jpg", ".jpeg", ".gif", ".bmp", ".webp", ".tiff", ".tif"}
}

// IsSupportedFormat checks if the given path has a supported image format.
func IsSupportedFormat(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, format := range SupportedFormats() {
		if ext == format {
			return true
		}
	}
	return false
}
