package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	goimage "image"

	"go.uber.org/zap"

	"seg-annotator/internal/backend"
	"seg-annotator/internal/image"
	"seg-annotator/internal/logging"
	"seg-annotator/internal/mask"
	"seg-annotator/internal/session"
)

// Result is the completion of a background request.
type Result struct {
	Op  session.Op
	URL string
	// Strokes is the number of decoded markers, for OpMarkers.
	Strokes int
	Stats   json.RawMessage
	Err     error
}

// GenerateMarkers asks the service for initial markers and replaces the
// stroke list with them. Precondition failures are returned directly; the
// outcome of the request arrives on the channel.
func (a *Annotator) GenerateMarkers(ctx context.Context) (<-chan Result, error) {
	d := a.current()
	if d == nil {
		return nil, ErrNoImage
	}
	t, err := d.session.BeginMarkers()
	if err != nil {
		return nil, err
	}

	out := make(chan Result, 1)
	go func() {
		defer close(out)
		res := a.runMarkers(ctx, d, t)
		if res.Err != nil {
			a.fail(d, t, res.Err)
		}
		out <- res
	}()
	return out, nil
}

func (a *Annotator) runMarkers(ctx context.Context, d *document, t session.Ticket) Result {
	res := Result{Op: session.OpMarkers}
	id := d.session.ImageID()
	upload := backend.Upload{Name: d.asset.Name, Data: d.asset.Data}

	reply, err := a.backend.GenerateMarkers(ctx, id, upload, func(sent, total int64) {
		a.bus.Emit(EventProgress, Progress{Sent: sent, Total: total})
	})
	if err != nil {
		res.Err = fmt.Errorf("generate markers: %w", err)
		return res
	}
	res.URL, res.Stats = reply.MarkersURL, reply.Stats

	markers, err := a.fetcher.Fetch(ctx, image.CacheBust(a.backend.Resolve(reply.MarkersURL), a.opts.Now()))
	if err != nil {
		res.Err = fmt.Errorf("load markers: %w", err)
		return res
	}

	err = a.apply(d, t, func() {
		w, h := d.engine.Size()
		brush := d.engine.Brush()
		strokes := mask.Decode(markers.Image, mask.DecodeOptions{
			Stride:          a.cfg.Markers.Stride,
			CanvasWidth:     w,
			CanvasHeight:    h,
			ObjectSize:      a.cfg.Markers.ObjectSize,
			BackgroundSize:  a.cfg.Markers.BackgroundSize,
			ObjectColor:     brush.ObjectColor,
			BackgroundColor: brush.BackgroundColor,
		})
		d.engine.Populate(strokes)
		res.Strokes = len(strokes)
	})
	if err != nil {
		res.Err = err
		return res
	}
	if err := d.session.CompleteMarkers(t, reply.MarkersURL); err != nil {
		res.Err = err
		return res
	}
	logging.Logger.Info("markers generated",
		zap.Int64("image_id", id), zap.Int("strokes", res.Strokes), zap.String("url", reply.MarkersURL))
	return res
}

// Segment sends the image and its marker mask for segmentation. Without
// both marker kinds it fails with session.ErrNoMarkers and makes no call.
func (a *Annotator) Segment(ctx context.Context) (<-chan Result, error) {
	var (
		d       *document
		has     bool
		markers *goimage.RGBA
	)
	if err := a.with(func(doc *document) error {
		d = doc
		has = doc.engine.HasMarkers()
		markers = doc.engine.MarkerImage()
		return nil
	}); err != nil {
		return nil, err
	}

	t, err := d.session.BeginSegmentation(has)
	if err != nil {
		return nil, err
	}

	out := make(chan Result, 1)
	go func() {
		defer close(out)
		res := a.runSegment(ctx, d, t, markers)
		if res.Err != nil {
			a.fail(d, t, res.Err)
		}
		out <- res
	}()
	return out, nil
}

func (a *Annotator) runSegment(ctx context.Context, d *document, t session.Ticket, markers goimage.Image) Result {
	res := Result{Op: session.OpSegment}
	id := d.session.ImageID()

	data, err := mask.EncodeBytes(markers, d.asset.Width(), d.asset.Height())
	if err != nil {
		res.Err = fmt.Errorf("encode mask: %w", err)
		return res
	}
	reply, err := a.backend.Segment(ctx, id,
		backend.Upload{Name: d.asset.Name, Data: d.asset.Data},
		backend.Upload{Name: "markers.png", Data: data},
	)
	if err != nil {
		res.Err = fmt.Errorf("segment: %w", err)
		return res
	}
	res.URL = reply.SegmentedImageURL

	seg, err := a.fetcher.Fetch(ctx, image.CacheBust(a.backend.Resolve(reply.SegmentedImageURL), a.opts.Now()))
	if err != nil {
		res.Err = fmt.Errorf("load segmentation: %w", err)
		return res
	}

	if err := a.apply(d, t, func() { d.segmented = seg }); err != nil {
		res.Err = err
		return res
	}
	if err := d.session.CompleteSegmentation(t, reply.SegmentedImageURL); err != nil {
		res.Err = err
		return res
	}
	logging.Logger.Info("segmentation complete", zap.Int64("image_id", id), zap.String("url", res.URL))
	a.bus.Emit(EventSegmentedLoaded, seg)
	return res
}

// apply runs fn under the lock if d is still loaded and t is still the
// request the session expects.
func (a *Annotator) apply(d *document, t session.Ticket, fn func()) error {
	a.mu.Lock()
	if a.doc != d || !d.session.Current(t) {
		a.mu.Unlock()
		logging.Logger.Debug("dropping stale response", zap.Stringer("op", t.Op))
		return session.ErrStale
	}
	fn()
	events := a.queue
	a.queue = nil
	a.mu.Unlock()

	a.bus.emitAll(events)
	return nil
}

// fail settles the session after a failed request and reports the error
// unless the response was stale.
func (a *Annotator) fail(d *document, t session.Ticket, err error) {
	var serr error
	switch t.Op {
	case session.OpMarkers:
		serr = d.session.FailMarkers(t, err)
	case session.OpSegment:
		serr = d.session.FailSegmentation(t, err)
	}
	if errors.Is(err, session.ErrStale) || serr != nil {
		return
	}
	logging.Logger.Error("request failed",
		zap.Int64("image_id", d.session.ImageID()), zap.Stringer("op", t.Op), zap.Error(err))
	if a.current() == d {
		a.bus.Emit(EventError, err)
	}
}
