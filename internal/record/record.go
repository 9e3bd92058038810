// Package record provides the persisted annotation record and local file handling.
package record

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"seg-annotator/internal/annotation"
)

// ErrNoStrokes is returned by Parse when a document carries no stroke list
// in either supported shape.
var ErrNoStrokes = errors.New("record has no brushStrokes")

// TimeLayout is the layout of timestamps written by the annotator.
const TimeLayout = "2006-01-02T15:04:05"

// Data is the annotationData object stored for an image.
type Data struct {
	ImageID         int64               `json:"imageId,omitempty"`
	BrushStrokes    []annotation.Stroke `json:"brushStrokes"`
	ObjectCount     int                 `json:"objectCount"`
	BackgroundCount int                 `json:"backgroundCount"`
	TotalStrokes    int                 `json:"totalStrokes"`
	Timestamp       Stamp               `json:"timestamp,omitempty"`
	IsFinal         bool                `json:"isFinal,omitempty"`
}

// NewData builds a record body with counts filled in.
func NewData(imageID int64, strokes []annotation.Stroke, at time.Time, final bool) Data {
	obj, bg := annotation.CountModes(strokes)
	if strokes == nil {
		strokes = []annotation.Stroke{}
	}
	return Data{
		ImageID:         imageID,
		BrushStrokes:    strokes,
		ObjectCount:     obj,
		BackgroundCount: bg,
		TotalStrokes:    len(strokes),
		Timestamp:       StampOf(at),
		IsFinal:         final,
	}
}

// Record is an annotation as returned by storage. Only the stroke list is
// required; everything else may be absent or null.
type Record struct {
	ID             int64  `json:"id,omitempty"`
	ImageID        int64  `json:"imageId,omitempty"`
	AnnotationData *Data  `json:"annotationData,omitempty"`
	FilePath       string `json:"filePath,omitempty"`
	CreatedAt      Stamp  `json:"createdAt,omitempty"`
	UpdatedAt      Stamp  `json:"updatedAt,omitempty"`
}

// Strokes returns the stored stroke list, or nil.
func (r *Record) Strokes() []annotation.Stroke {
	if r == nil || r.AnnotationData == nil {
		return nil
	}
	return r.AnnotationData.BrushStrokes
}

// Parse decodes a record. Both the envelope shape
// {"annotationData":{"brushStrokes":[...]}} and a bare {"brushStrokes":[...]}
// are accepted.
func Parse(data []byte) (*Record, error) {
	var doc struct {
		Record
		BrushStrokes *[]annotation.Stroke `json:"brushStrokes"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}

	rec := doc.Record
	switch {
	case rec.AnnotationData != nil && rec.AnnotationData.BrushStrokes != nil:
	case doc.BrushStrokes != nil:
		var d Data
		if err := json.Unmarshal(data, &d); err != nil {
			return nil, err
		}
		rec.AnnotationData = &d
	case rec.AnnotationData != nil:
		rec.AnnotationData.BrushStrokes = []annotation.Stroke{}
	default:
		return nil, ErrNoStrokes
	}
	return &rec, nil
}

// Load reads a record exported to a local JSON file.
func Load(path string) (*Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	rec, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return rec, nil
}

// Save writes the record as indented JSON.
func (r *Record) Save(path string) error {
	r.UpdatedAt = StampOf(time.Now())
	if r.CreatedAt == "" {
		r.CreatedAt = r.UpdatedAt
	}

	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return err
	}

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	return os.WriteFile(path, data, 0644)
}

// Stamp is a zone-less timestamp. It decodes from a string, null, or the
// [year, month, day, hour, minute, second, nanos] array some servers emit.
type Stamp string

// StampOf formats t in TimeLayout.
func StampOf(t time.Time) Stamp {
	return Stamp(t.Format(TimeLayout))
}

// Time parses the stamp. The zero time is returned when it is empty or
// unparseable.
func (s Stamp) Time() time.Time {
	for _, layout := range []string{TimeLayout, time.RFC3339Nano, "2006-01-02T15:04:05.999999999"} {
		if t, err := time.Parse(layout, string(s)); err == nil {
			return t
		}
	}
	return time.Time{}
}

func (s *Stamp) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*s = ""
		return nil
	}
	if len(data) > 0 && data[0] == '[' {
		var parts []int
		if err := json.Unmarshal(data, &parts); err != nil {
			return fmt.Errorf("timestamp: %w", err)
		}
		for len(parts) < 7 {
			parts = append(parts, 0)
		}
		t := time.Date(parts[0], time.Month(parts[1]), parts[2], parts[3], parts[4], parts[5], parts[6], time.UTC)
		*s = StampOf(t)
		return nil
	}
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return fmt.Errorf("timestamp: %w", err)
	}
	*s = Stamp(str)
	return nil
}
