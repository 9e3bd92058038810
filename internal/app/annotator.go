package app

import (
	"context"
	"errors"
	"fmt"
	goimage "image"
	"sync"
	"time"

	"go.uber.org/zap"

	"seg-annotator/internal/annotation"
	"seg-annotator/internal/autosave"
	"seg-annotator/internal/backend"
	"seg-annotator/internal/config"
	"seg-annotator/internal/image"
	"seg-annotator/internal/logging"
	"seg-annotator/internal/record"
	"seg-annotator/internal/session"
	"seg-annotator/internal/viewport"
	"seg-annotator/pkg/geometry"
)

// ErrNoImage rejects operations that need a loaded image.
var ErrNoImage = errors.New("no image loaded")

// Backend is the subset of backend.Client the annotator uses.
type Backend interface {
	FindImage(ctx context.Context, imageID int64) (*backend.ImageInfo, error)
	GetAnnotation(ctx context.Context, imageID int64) (*record.Record, error)
	SegmentedImage(ctx context.Context, imageID int64) (string, error)
	AutoSave(ctx context.Context, imageID int64, data record.Data) (*backend.SaveResult, error)
	Save(ctx context.Context, imageID int64, data record.Data) (*backend.SaveResult, error)
	Segment(ctx context.Context, imageID int64, img, markers backend.Upload) (*backend.SegmentResult, error)
	GenerateMarkers(ctx context.Context, imageID int64, img backend.Upload, progress backend.Progress) (*backend.MarkersResult, error)
	Resolve(path string) string
}

// ImageFetcher loads remote images.
type ImageFetcher interface {
	Fetch(ctx context.Context, url string) (*image.Asset, error)
}

// Options wires an Annotator.
type Options struct {
	Config  *config.Config
	Backend Backend
	Fetcher ImageFetcher
	// AfterFunc overrides the autosave timer factory.
	AfterFunc func(d time.Duration, f func()) (stop func() bool)
	Now       func() time.Time
}

// document is everything bound to one loaded image.
type document struct {
	info      *backend.ImageInfo
	asset     *image.Asset
	engine    *annotation.Engine
	view      *viewport.Transform
	session   *session.Session
	saver     *autosave.Controller
	segmented *image.Asset
	baseCache *goimage.RGBA
}

// Annotator owns the document of the currently loaded image. Input methods
// are meant to be called from the UI goroutine; network work runs in
// background goroutines that revalidate before applying results.
type Annotator struct {
	cfg     *config.Config
	backend Backend
	fetcher ImageFetcher
	opts    Options
	bus     *Bus

	mu    sync.Mutex
	doc   *document
	brush annotation.Brush
	queue []event
}

// New creates an annotator with no image loaded.
func New(opts Options) *Annotator {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	brush := annotation.DefaultBrush()
	brush.Size = cfg.Brush.Size
	if cfg.Brush.ObjectColor != "" {
		brush.ObjectColor = cfg.Brush.ObjectColor
	}
	if cfg.Brush.BackgroundColor != "" {
		brush.BackgroundColor = cfg.Brush.BackgroundColor
	}
	return &Annotator{
		cfg:     cfg,
		backend: opts.Backend,
		fetcher: opts.Fetcher,
		opts:    opts,
		bus:     NewBus(),
		brush:   brush,
	}
}

// On registers an event listener. Listeners run without the annotator lock
// held and may call back into the annotator.
func (a *Annotator) On(ev EventType, listener EventListener) {
	a.bus.On(ev, listener)
}

// emit queues an event; it is delivered when the current operation unlocks.
func (a *Annotator) emit(typ EventType, data interface{}) {
	a.queue = append(a.queue, event{typ: typ, data: data})
}

// with runs fn on the current document under the lock, then delivers queued
// events.
func (a *Annotator) with(fn func(d *document) error) error {
	a.mu.Lock()
	d := a.doc
	if d == nil {
		a.mu.Unlock()
		return ErrNoImage
	}
	err := fn(d)
	events := a.queue
	a.queue = nil
	a.mu.Unlock()

	a.bus.emitAll(events)
	return err
}

func (a *Annotator) current() *document {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.doc
}

// Init loads imageID: the image itself, its stored annotation and its last
// segmentation result. The previous image, if any, is flushed and disposed
// first.
func (a *Annotator) Init(ctx context.Context, imageID int64) error {
	if err := a.Dispose(ctx); err != nil && !errors.Is(err, ErrNoImage) {
		logging.Logger.Warn("final save of previous image failed", zap.Error(err))
	}

	info, err := a.backend.FindImage(ctx, imageID)
	if err != nil {
		return fmt.Errorf("find image %d: %w", imageID, err)
	}
	asset, err := a.fetcher.Fetch(ctx, a.backend.Resolve(info.FilePath))
	if err != nil {
		return fmt.Errorf("load image %d: %w", imageID, err)
	}

	d := a.newDocument(imageID, info, asset)

	rec, err := a.backend.GetAnnotation(ctx, imageID)
	switch {
	case err != nil:
		logging.Logger.Warn("annotation fetch failed, starting empty",
			zap.Int64("image_id", imageID), zap.Error(err))
	case len(rec.Strokes()) > 0:
		d.engine.Load(rec.Strokes())
	}

	a.restoreSegmented(ctx, d)

	a.mu.Lock()
	a.doc = d
	a.mu.Unlock()

	logging.Logger.Info("image loaded",
		zap.Int64("image_id", imageID),
		zap.String("file", asset.Name),
		zap.Int("strokes", d.engine.StrokeCount()),
		zap.Stringer("session", d.session.ID()),
	)
	a.bus.Emit(EventImageLoaded, info)
	a.bus.Emit(EventStrokesChanged, d.engine.StrokeCount())
	a.bus.Emit(EventViewChanged, nil)
	if d.segmented != nil {
		a.bus.Emit(EventSegmentedLoaded, d.segmented)
	}
	return nil
}

func (a *Annotator) newDocument(imageID int64, info *backend.ImageInfo, asset *image.Asset) *document {
	w, h := image.FitSize(asset.Width(), asset.Height(), a.cfg.Canvas.MaxWidth, a.cfg.Canvas.MaxHeight)

	a.mu.Lock()
	brush := a.brush
	a.mu.Unlock()

	d := &document{
		info:  info,
		asset: asset,
		engine: annotation.New(w, h, annotation.Options{
			Brush:        brush,
			HistoryLimit: a.cfg.History.Limit,
		}),
		view: viewport.New(geometry.NewSize(float64(w), float64(h)), viewport.Options{
			MinZoom:  a.cfg.Zoom.Min,
			MaxZoom:  a.cfg.Zoom.Max,
			ZoomStep: a.cfg.Zoom.Step,
		}),
		session: session.New(imageID),
	}
	d.session.OnTransition(func(tr session.Transition) {
		a.bus.Emit(EventSessionChanged, tr)
	})

	engine := d.engine
	d.saver = autosave.New(
		autosave.SaverFunc(func(ctx context.Context, p autosave.Payload) error {
			_, err := a.backend.AutoSave(ctx, imageID, record.NewData(imageID, p.Strokes, p.Timestamp, p.IsFinal))
			return err
		}),
		func() []annotation.Stroke {
			a.mu.Lock()
			defer a.mu.Unlock()
			return engine.Strokes()
		},
		a.autosaveOptions(),
	)
	// Engine mutations always run under a.mu.
	engine.OnChange(func() {
		a.emit(EventStrokesChanged, engine.StrokeCount())
		d.saver.Schedule()
	})
	return d
}

func (a *Annotator) autosaveOptions() autosave.Options {
	opts := autosave.DefaultOptions()
	if c := a.cfg.Autosave; c.Debounce > 0 {
		opts.Debounce = c.Debounce
	}
	if c := a.cfg.Autosave; c.RetryBackoff > 0 {
		opts.RetryBackoff = c.RetryBackoff
	}
	if c := a.cfg.Autosave; c.FlushTimeout > 0 {
		opts.FlushTimeout = c.FlushTimeout
	}
	opts.AfterFunc = a.opts.AfterFunc
	opts.Now = a.opts.Now
	opts.OnResult = func(p autosave.Payload, err error) {
		if err != nil {
			a.bus.Emit(EventSaveFailed, err)
			return
		}
		a.bus.Emit(EventSaved, p)
	}
	return opts
}

// restoreSegmented looks up the last segmentation result. Failures only log;
// the image is usable without it.
func (a *Annotator) restoreSegmented(ctx context.Context, d *document) {
	id := d.session.ImageID()
	url, err := a.backend.SegmentedImage(ctx, id)
	if err != nil {
		logging.Logger.Warn("segmented image lookup failed", zap.Int64("image_id", id), zap.Error(err))
		return
	}
	if url == "" {
		return
	}
	d.session.RestoreSegmented(url)
	seg, err := a.fetcher.Fetch(ctx, image.CacheBust(a.backend.Resolve(url), a.opts.Now()))
	if err != nil {
		logging.Logger.Warn("segmented image load failed", zap.String("url", url), zap.Error(err))
		return
	}
	d.segmented = seg
}

// Dispose performs the final best-effort save of the current image and
// releases it. It returns ErrNoImage when nothing is loaded.
func (a *Annotator) Dispose(ctx context.Context) error {
	a.mu.Lock()
	d := a.doc
	a.doc = nil
	a.mu.Unlock()
	if d == nil {
		return ErrNoImage
	}

	err := d.flush(ctx)
	d.saver.Stop()
	logging.Logger.Debug("image disposed", zap.Int64("image_id", d.session.ImageID()))
	return err
}

// flush runs the final save against this document's engine. The autosave
// source locks a.mu, so callers must not hold it.
func (d *document) flush(ctx context.Context) error {
	return d.saver.Flush(ctx)
}

// ImageID returns the loaded image id, or 0.
func (a *Annotator) ImageID() int64 {
	if d := a.current(); d != nil {
		return d.session.ImageID()
	}
	return 0
}

// Loaded reports whether an image is loaded.
func (a *Annotator) Loaded() bool { return a.current() != nil }

// Save writes the current strokes with the replacing save endpoint.
func (a *Annotator) Save(ctx context.Context) error {
	var (
		id      int64
		strokes []annotation.Stroke
	)
	if err := a.with(func(d *document) error {
		id = d.session.ImageID()
		strokes = d.engine.Strokes()
		return nil
	}); err != nil {
		return err
	}

	data := record.NewData(id, strokes, a.opts.Now(), true)
	if _, err := a.backend.Save(ctx, id, data); err != nil {
		logging.Logger.Error("save failed", zap.Int64("image_id", id), zap.Error(err))
		a.bus.Emit(EventSaveFailed, err)
		return fmt.Errorf("save annotation %d: %w", id, err)
	}
	logging.Logger.Info("annotation saved", zap.Int64("image_id", id), zap.Int("strokes", len(strokes)))
	a.bus.Emit(EventSaved, autosave.Payload{Strokes: strokes, Timestamp: data.Timestamp.Time(), IsFinal: true})
	return nil
}

// Status returns the segmentation session status.
func (a *Annotator) Status() session.Status {
	if d := a.current(); d != nil {
		return d.session.Status()
	}
	return session.Idle
}
