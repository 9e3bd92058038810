package app

import (
	"bytes"
	"context"
	"errors"
	goimage "image"
	"image/color"
	"image/png"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"seg-annotator/internal/annotation"
	"seg-annotator/internal/autosave"
	"seg-annotator/internal/backend"
	"seg-annotator/internal/config"
	"seg-annotator/internal/image"
	"seg-annotator/internal/record"
	"seg-annotator/internal/session"
	"seg-annotator/pkg/geometry"
)

const testWidth, testHeight = 120, 90

func pngOf(t *testing.T, w, h int, paint func(img *goimage.RGBA)) []byte {
	t.Helper()
	img := goimage.NewRGBA(goimage.Rect(0, 0, w, h))
	if paint != nil {
		paint(img)
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

// fakeBackend answers every endpoint from fields set by the test.
type fakeBackend struct {
	mu sync.Mutex

	strokes      []annotation.Stroke
	annotErr     error
	segmentedURL string

	autosaves []record.Data
	saves     []record.Data
	masks     [][]byte

	segmentErr error
	markersErr error
	// gate, if set, blocks GenerateMarkers until closed.
	gate chan struct{}
}

func (f *fakeBackend) FindImage(_ context.Context, id int64) (*backend.ImageInfo, error) {
	return &backend.ImageInfo{ID: id, FilePath: "/uploads/img.png"}, nil
}

func (f *fakeBackend) GetAnnotation(_ context.Context, id int64) (*record.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.annotErr != nil {
		return nil, f.annotErr
	}
	data := record.NewData(id, f.strokes, time.Time{}, false)
	return &record.Record{ImageID: id, AnnotationData: &data}, nil
}

func (f *fakeBackend) SegmentedImage(context.Context, int64) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.segmentedURL, nil
}

func (f *fakeBackend) AutoSave(_ context.Context, _ int64, data record.Data) (*backend.SaveResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.autosaves = append(f.autosaves, data)
	return &backend.SaveResult{Status: "success"}, nil
}

func (f *fakeBackend) Save(_ context.Context, _ int64, data record.Data) (*backend.SaveResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saves = append(f.saves, data)
	return &backend.SaveResult{Status: "success"}, nil
}

func (f *fakeBackend) Segment(_ context.Context, _ int64, _, markers backend.Upload) (*backend.SegmentResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.masks = append(f.masks, markers.Data)
	if f.segmentErr != nil {
		return nil, f.segmentErr
	}
	return &backend.SegmentResult{SegmentedImageURL: "/uploads/seg.png"}, nil
}

func (f *fakeBackend) GenerateMarkers(_ context.Context, _ int64, img backend.Upload, progress backend.Progress) (*backend.MarkersResult, error) {
	if f.gate != nil {
		<-f.gate
	}
	progress(int64(len(img.Data)), int64(len(img.Data)))
	if f.markersErr != nil {
		return nil, f.markersErr
	}
	return &backend.MarkersResult{MarkersURL: "/uploads/markers.png"}, nil
}

func (f *fakeBackend) Resolve(path string) string { return "http://backend" + path }

func (f *fakeBackend) autosaveCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.autosaves)
}

// fakeFetcher serves assets by URL, ignoring query strings.
type fakeFetcher struct {
	assets map[string][]byte
}

func (f *fakeFetcher) Fetch(_ context.Context, url string) (*image.Asset, error) {
	data, ok := f.assets[image.StripQuery(url)]
	if !ok {
		return nil, image.ErrLoad
	}
	return image.Decode(data, url)
}

type fakeTimers struct {
	mu    sync.Mutex
	fired []func()
}

func (ft *fakeTimers) AfterFunc(_ time.Duration, f func()) func() bool {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	idx := len(ft.fired)
	ft.fired = append(ft.fired, f)
	return func() bool {
		ft.mu.Lock()
		defer ft.mu.Unlock()
		was := ft.fired[idx] != nil
		ft.fired[idx] = nil
		return was
	}
}

// fireAll runs every live timer.
func (ft *fakeTimers) fireAll() {
	ft.mu.Lock()
	var live []func()
	for i, f := range ft.fired {
		if f != nil {
			live = append(live, f)
			ft.fired[i] = nil
		}
	}
	ft.mu.Unlock()
	for _, f := range live {
		f()
	}
}

type fixture struct {
	a       *Annotator
	backend *fakeBackend
	fetcher *fakeFetcher
	timers  *fakeTimers
	events  map[EventType][]interface{}
	evMu    sync.Mutex
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	markers := pngOf(t, testWidth, testHeight, func(img *goimage.RGBA) {
		for x := 0; x < 10; x++ {
			img.Set(x, 0, color.RGBA{G: 255, A: 255})
			img.Set(x, 10, color.RGBA{R: 255, A: 255})
		}
	})
	fx := &fixture{
		backend: &fakeBackend{},
		fetcher: &fakeFetcher{assets: map[string][]byte{
			"http://backend/uploads/img.png":     pngOf(t, testWidth, testHeight, nil),
			"http://backend/uploads/seg.png":     pngOf(t, testWidth, testHeight, nil),
			"http://backend/uploads/markers.png": markers,
		}},
		timers: &fakeTimers{},
		events: make(map[EventType][]interface{}),
	}
	fx.a = New(Options{
		Config:    config.Default(),
		Backend:   fx.backend,
		Fetcher:   fx.fetcher,
		AfterFunc: fx.timers.AfterFunc,
		Now:       func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) },
	})
	for _, ev := range []EventType{EventImageLoaded, EventStrokesChanged, EventSessionChanged,
		EventSaved, EventSaveFailed, EventProgress, EventError, EventSegmentedLoaded} {
		ev := ev
		fx.a.On(ev, func(data interface{}) {
			fx.evMu.Lock()
			defer fx.evMu.Unlock()
			fx.events[ev] = append(fx.events[ev], data)
		})
	}
	return fx
}

func (fx *fixture) count(ev EventType) int {
	fx.evMu.Lock()
	defer fx.evMu.Unlock()
	return len(fx.events[ev])
}

func (fx *fixture) tap(t *testing.T, x, y float64) {
	t.Helper()
	p := geometry.NewPoint2D(x, y)
	require.NoError(t, fx.a.PointerDown(p, false))
	require.NoError(t, fx.a.PointerUp())
}

func await(t *testing.T, ch <-chan Result) Result {
	t.Helper()
	select {
	case res := <-ch:
		return res
	case <-time.After(5 * time.Second):
		t.Fatal("request did not complete")
		return Result{}
	}
}

func TestOperationsNeedImage(t *testing.T) {
	fx := newFixture(t)
	assert.ErrorIs(t, fx.a.PointerDown(geometry.Point2D{}, false), ErrNoImage)
	_, err := fx.a.Segment(context.Background())
	assert.ErrorIs(t, err, ErrNoImage)
	_, err = fx.a.GenerateMarkers(context.Background())
	assert.ErrorIs(t, err, ErrNoImage)
	assert.ErrorIs(t, fx.a.Dispose(context.Background()), ErrNoImage)
	assert.Nil(t, fx.a.Render(10, 10))
}

func TestInitLoadsStoredStrokes(t *testing.T) {
	fx := newFixture(t)
	fx.backend.strokes = []annotation.Stroke{
		{X: 1, Y: 1, Size: 5, Color: "#00ff00", Mode: annotation.ModeObject},
		{X: 2, Y: 2, Size: 5, Color: "#ff0000", Mode: annotation.ModeBackground},
		{X: 3, Y: 3, Size: 5, Color: "#00ff00", Mode: annotation.ModeObject},
	}

	require.NoError(t, fx.a.Init(context.Background(), 7))

	assert.Equal(t, fx.backend.strokes, fx.a.Strokes())
	assert.True(t, fx.a.CanUndo())
	assert.False(t, fx.a.CanRedo())
	assert.Equal(t, int64(7), fx.a.ImageID())
	assert.Equal(t, 1, fx.count(EventImageLoaded))
	assert.Zero(t, fx.backend.autosaveCount(), "loading must not schedule a save")
}

func TestInitToleratesMissingAnnotation(t *testing.T) {
	fx := newFixture(t)
	fx.backend.annotErr = &backend.StatusError{Code: 500}

	require.NoError(t, fx.a.Init(context.Background(), 7))
	assert.Empty(t, fx.a.Strokes())
	assert.False(t, fx.a.CanUndo())
}

func TestInitRestoresSegmentedResult(t *testing.T) {
	fx := newFixture(t)
	fx.backend.segmentedURL = "/uploads/seg.png"

	require.NoError(t, fx.a.Init(context.Background(), 7))
	assert.NotNil(t, fx.a.SegmentedImage())
	assert.Equal(t, session.Idle, fx.a.Status())
	assert.Equal(t, 1, fx.count(EventSegmentedLoaded))
}

func TestDrawingSchedulesAutosave(t *testing.T) {
	fx := newFixture(t)
	require.NoError(t, fx.a.Init(context.Background(), 7))

	fx.tap(t, 50, 50)
	require.NoError(t, fx.a.SetMode(annotation.ModeBackground))
	fx.tap(t, 80, 80)
	require.True(t, fx.a.HasMarkers())

	fx.timers.fireAll()

	require.Equal(t, 1, fx.backend.autosaveCount())
	saved := fx.backend.autosaves[0]
	assert.Len(t, saved.BrushStrokes, 2)
	assert.Equal(t, 1, saved.ObjectCount)
	assert.Equal(t, 1, saved.BackgroundCount)
	assert.False(t, saved.IsFinal)
	assert.Equal(t, 1, fx.count(EventSaved))
	assert.Equal(t, 2, fx.count(EventStrokesChanged)-1, "one change per gesture after load")
}

func TestUndoRedoThroughAnnotator(t *testing.T) {
	fx := newFixture(t)
	require.NoError(t, fx.a.Init(context.Background(), 7))

	fx.tap(t, 50, 50)
	fx.tap(t, 60, 60)
	before := fx.a.Strokes()

	require.True(t, fx.a.Undo())
	assert.Len(t, fx.a.Strokes(), 1)
	require.True(t, fx.a.Redo())
	assert.Equal(t, before, fx.a.Strokes())
}

func TestPanDragDoesNotDraw(t *testing.T) {
	fx := newFixture(t)
	require.NoError(t, fx.a.Init(context.Background(), 7))

	require.True(t, fx.a.ZoomIn())
	require.NoError(t, fx.a.PointerDown(geometry.NewPoint2D(10, 10), true))
	require.NoError(t, fx.a.PointerMove(geometry.NewPoint2D(20, 15)))
	require.NoError(t, fx.a.PointerUp())

	assert.Empty(t, fx.a.Strokes())

	// Screen center maps to logical center shifted back by the pan.
	p := fx.a.ScreenToLogical(geometry.NewPoint2D(testWidth/2, testHeight/2))
	assert.InDelta(t, testWidth/2-10/1.1, p.X, 1e-9)
	assert.InDelta(t, testHeight/2-5/1.1, p.Y, 1e-9)
}

func TestSegmentWithoutMarkersMakesNoCall(t *testing.T) {
	fx := newFixture(t)
	require.NoError(t, fx.a.Init(context.Background(), 7))
	fx.tap(t, 50, 50)

	_, err := fx.a.Segment(context.Background())
	assert.ErrorIs(t, err, session.ErrNoMarkers)
	assert.Empty(t, fx.backend.masks)
	assert.Equal(t, session.Idle, fx.a.Status())
}

func TestSegmentSuccess(t *testing.T) {
	fx := newFixture(t)
	require.NoError(t, fx.a.Init(context.Background(), 7))
	fx.tap(t, 50, 50)
	require.NoError(t, fx.a.SetMode(annotation.ModeBackground))
	fx.tap(t, 80, 80)

	ch, err := fx.a.Segment(context.Background())
	require.NoError(t, err)
	res := await(t, ch)

	require.NoError(t, res.Err)
	assert.Equal(t, "/uploads/seg.png", res.URL)
	assert.Equal(t, session.Segmented, fx.a.Status())
	assert.NotNil(t, fx.a.SegmentedImage())

	require.Len(t, fx.backend.masks, 1)
	m, err := png.Decode(bytes.NewReader(fx.backend.masks[0]))
	require.NoError(t, err)
	assert.Equal(t, testWidth, m.Bounds().Dx())
	assert.Equal(t, color.RGBAModel.Convert(color.RGBA{G: 255, A: 255}), color.RGBAModel.Convert(m.At(50, 50)))
	assert.Equal(t, color.RGBAModel.Convert(color.RGBA{R: 255, A: 255}), color.RGBAModel.Convert(m.At(80, 80)))
}

func TestSegmentMaskFollowsErasedStrokes(t *testing.T) {
	fx := newFixture(t)
	require.NoError(t, fx.a.Init(context.Background(), 7))
	fx.tap(t, 30, 30)
	fx.tap(t, 60, 60)
	require.NoError(t, fx.a.SetMode(annotation.ModeBackground))
	fx.tap(t, 90, 70)
	require.NoError(t, fx.a.SetMode(annotation.ModeEraser))
	fx.tap(t, 60, 60)
	require.Len(t, fx.a.Strokes(), 2)

	ch, err := fx.a.Segment(context.Background())
	require.NoError(t, err)
	require.NoError(t, await(t, ch).Err)

	require.Len(t, fx.backend.masks, 1)
	m, err := png.Decode(bytes.NewReader(fx.backend.masks[0]))
	require.NoError(t, err)
	assert.Equal(t, color.RGBA{}, color.RGBAModel.Convert(m.At(60, 60)))
	assert.Equal(t, color.RGBA{G: 255, A: 255}, color.RGBAModel.Convert(m.At(30, 30)))
	assert.Equal(t, color.RGBA{R: 255, A: 255}, color.RGBAModel.Convert(m.At(90, 70)))
}

func TestSegmentFailureReturnsToIdle(t *testing.T) {
	fx := newFixture(t)
	require.NoError(t, fx.a.Init(context.Background(), 7))
	fx.tap(t, 50, 50)
	require.NoError(t, fx.a.SetMode(annotation.ModeBackground))
	fx.tap(t, 80, 80)
	fx.backend.segmentErr = errors.New("connection refused")

	ch, err := fx.a.Segment(context.Background())
	require.NoError(t, err)
	res := await(t, ch)

	assert.Error(t, res.Err)
	assert.Equal(t, session.Idle, fx.a.Status())
	assert.Equal(t, 1, fx.count(EventError))
	assert.Len(t, fx.a.Strokes(), 2, "strokes survive a failed request")
}

func TestGenerateMarkersPopulatesStrokes(t *testing.T) {
	fx := newFixture(t)
	require.NoError(t, fx.a.Init(context.Background(), 7))
	fx.tap(t, 5, 5)

	ch, err := fx.a.GenerateMarkers(context.Background())
	require.NoError(t, err)
	res := await(t, ch)

	require.NoError(t, res.Err)
	// Ten pixels per row sampled every second pixel.
	assert.Equal(t, 10, res.Strokes)
	assert.Equal(t, session.MarkersReady, fx.a.Status())
	assert.True(t, fx.a.HasMarkers())
	assert.Equal(t, 1, fx.count(EventProgress))

	obj, bg := annotation.CountModes(fx.a.Strokes())
	assert.Equal(t, 5, obj)
	assert.Equal(t, 5, bg)

	require.True(t, fx.a.Undo())
	assert.Len(t, fx.a.Strokes(), 1, "undo restores the hand-drawn stroke")
}

func TestGenerateMarkersFailure(t *testing.T) {
	fx := newFixture(t)
	require.NoError(t, fx.a.Init(context.Background(), 7))
	fx.backend.markersErr = backend.ErrRemote

	ch, err := fx.a.GenerateMarkers(context.Background())
	require.NoError(t, err)
	res := await(t, ch)

	assert.ErrorIs(t, res.Err, backend.ErrRemote)
	assert.Equal(t, session.Idle, fx.a.Status())
	assert.Equal(t, 1, fx.count(EventError))
}

func TestSecondRequestWhileBusyIsRejected(t *testing.T) {
	fx := newFixture(t)
	fx.backend.gate = make(chan struct{})
	require.NoError(t, fx.a.Init(context.Background(), 7))

	ch, err := fx.a.GenerateMarkers(context.Background())
	require.NoError(t, err)

	_, err = fx.a.GenerateMarkers(context.Background())
	assert.ErrorIs(t, err, session.ErrBusy)

	close(fx.backend.gate)
	require.NoError(t, await(t, ch).Err)
}

func TestResponseForReplacedImageIsDropped(t *testing.T) {
	fx := newFixture(t)
	fx.backend.gate = make(chan struct{})
	require.NoError(t, fx.a.Init(context.Background(), 7))

	ch, err := fx.a.GenerateMarkers(context.Background())
	require.NoError(t, err)

	require.NoError(t, fx.a.Init(context.Background(), 8))
	close(fx.backend.gate)
	res := await(t, ch)

	assert.ErrorIs(t, res.Err, session.ErrStale)
	assert.Empty(t, fx.a.Strokes())
	assert.Equal(t, int64(8), fx.a.ImageID())
	assert.Zero(t, fx.count(EventError))
}

func TestDisposeFlushesFinalSave(t *testing.T) {
	fx := newFixture(t)
	require.NoError(t, fx.a.Init(context.Background(), 7))
	fx.tap(t, 50, 50)

	require.NoError(t, fx.a.Dispose(context.Background()))

	require.Equal(t, 1, fx.backend.autosaveCount())
	assert.True(t, fx.backend.autosaves[0].IsFinal)
	assert.False(t, fx.a.Loaded())

	fx.timers.fireAll()
	assert.Equal(t, 1, fx.backend.autosaveCount(), "no save after dispose")
}

func TestManualSave(t *testing.T) {
	fx := newFixture(t)
	require.NoError(t, fx.a.Init(context.Background(), 7))
	fx.tap(t, 50, 50)

	require.NoError(t, fx.a.Save(context.Background()))
	require.Len(t, fx.backend.saves, 1)
	assert.Len(t, fx.backend.saves[0].BrushStrokes, 1)
	saved := fx.events[EventSaved]
	require.NotEmpty(t, saved)
	assert.True(t, saved[len(saved)-1].(autosave.Payload).IsFinal)
}

func TestBrushCarriesAcrossImages(t *testing.T) {
	fx := newFixture(t)
	fx.a.SetBrushSize(500)
	require.NoError(t, fx.a.SetObjectColor("#0000ff"))
	assert.Error(t, fx.a.SetObjectColor("blue"))

	require.NoError(t, fx.a.Init(context.Background(), 7))
	fx.tap(t, 50, 50)

	s := fx.a.Strokes()
	require.Len(t, s, 1)
	assert.Equal(t, float64(annotation.MaxBrushSize), s[0].Size)
	assert.Equal(t, "#0000ff", s[0].Color)
}

func TestRenderFillsWidget(t *testing.T) {
	fx := newFixture(t)
	require.NoError(t, fx.a.Init(context.Background(), 7))
	fx.tap(t, 50, 50)

	img := fx.a.Render(testWidth*2, testHeight*2)
	require.NotNil(t, img)
	assert.Equal(t, testWidth*2, img.Bounds().Dx())
	r, g, b, _ := img.At(100, 100).RGBA()
	assert.Greater(t, g, r)
	assert.Greater(t, g, b)
}

func TestRecordRoundTripThroughFile(t *testing.T) {
	fx := newFixture(t)
	require.NoError(t, fx.a.Init(context.Background(), 7))
	fx.tap(t, 50, 50)
	path := t.TempDir() + "/annotation.json"

	require.NoError(t, fx.a.ExportRecord(path))
	require.NoError(t, fx.a.Clear())
	require.Empty(t, fx.a.Strokes())

	require.NoError(t, fx.a.ImportRecord(path))
	assert.Len(t, fx.a.Strokes(), 1)
}

func TestExportTXTRequiresAnnotations(t *testing.T) {
	fx := newFixture(t)
	require.NoError(t, fx.a.Init(context.Background(), 7))

	var buf bytes.Buffer
	assert.Error(t, fx.a.ExportTXT(&buf))

	require.NoError(t, fx.a.PointerDown(geometry.NewPoint2D(10, 10), false))
	require.NoError(t, fx.a.PointerMove(geometry.NewPoint2D(30, 10)))
	require.NoError(t, fx.a.PointerUp())

	require.NoError(t, fx.a.ExportTXT(&buf))
	assert.Contains(t, buf.String(), "ID: 7")
}
