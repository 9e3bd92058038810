// Package autosave persists the stroke list after a quiet period.
package autosave

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"seg-annotator/internal/annotation"
	"seg-annotator/internal/logging"
)

// Payload is what gets sent to annotation storage.
type Payload struct {
	Strokes   []annotation.Stroke
	Timestamp time.Time
	IsFinal   bool
}

// Saver writes a payload to annotation storage.
type Saver interface {
	SaveAnnotation(ctx context.Context, p Payload) error
}

// SaverFunc adapts a function to Saver.
type SaverFunc func(ctx context.Context, p Payload) error

func (f SaverFunc) SaveAnnotation(ctx context.Context, p Payload) error { return f(ctx, p) }

// Source returns the current stroke list. It is called when a save fires,
// never when it is scheduled.
type Source func() []annotation.Stroke

// Options configures a Controller.
type Options struct {
	Debounce     time.Duration
	RetryBackoff time.Duration
	// SaveTimeout bounds each background save. Zero means no timeout.
	SaveTimeout  time.Duration
	FlushTimeout time.Duration

	// AfterFunc schedules f after d and returns its stop function. If nil,
	// time.AfterFunc is used. Inject a fake for deterministic tests.
	AfterFunc func(d time.Duration, f func()) (stop func() bool)
	// Now defaults to time.Now.
	Now func() time.Time
	// OnResult, if set, observes every save attempt.
	OnResult func(p Payload, err error)
}

// DefaultOptions uses a 1.5s debounce and a single retry after 5s.
func DefaultOptions() Options {
	return Options{
		Debounce:     1500 * time.Millisecond,
		RetryBackoff: 5 * time.Second,
		SaveTimeout:  30 * time.Second,
		FlushTimeout: 3 * time.Second,
	}
}

// Controller owns at most one pending timer. Every Schedule replaces it.
type Controller struct {
	saver  Saver
	source Source
	opts   Options

	mu      sync.Mutex
	stop    func() bool
	gen     uint64
	stopped bool
}

// New creates a controller. Nothing is saved until Schedule or Flush.
func New(saver Saver, source Source, opts Options) *Controller {
	if opts.AfterFunc == nil {
		opts.AfterFunc = func(d time.Duration, f func()) func() bool {
			return time.AfterFunc(d, f).Stop
		}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Controller{saver: saver, source: source, opts: opts}
}

// Schedule (re)starts the debounce window. A pending retry is superseded.
func (c *Controller) Schedule() {
	c.arm(c.opts.Debounce, false)
}

// Pending reports whether a save or retry is waiting to fire.
func (c *Controller) Pending() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stop != nil
}

func (c *Controller) arm(d time.Duration, retry bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return
	}
	if c.stop != nil {
		c.stop()
	}
	c.gen++
	gen := c.gen
	c.stop = c.opts.AfterFunc(d, func() { c.fire(gen, retry) })
}

func (c *Controller) fire(gen uint64, retry bool) {
	c.mu.Lock()
	if c.stopped || gen != c.gen {
		c.mu.Unlock()
		return
	}
	c.stop = nil
	c.mu.Unlock()

	p := Payload{Strokes: c.source(), Timestamp: c.opts.Now()}

	ctx := context.Background()
	if c.opts.SaveTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.SaveTimeout)
		defer cancel()
	}
	err := c.saver.SaveAnnotation(ctx, p)
	c.report(p, err)
	if err == nil {
		logging.Logger.Debug("autosave complete", zap.Int("strokes", len(p.Strokes)))
		return
	}

	if retry {
		logging.Logger.Warn("autosave retry failed, giving up", zap.Error(err))
		return
	}
	logging.Logger.Warn("autosave failed, retrying",
		zap.Duration("backoff", c.opts.RetryBackoff), zap.Error(err))

	// A mutation since this save started already armed a newer timer.
	c.mu.Lock()
	superseded := c.gen != gen
	c.mu.Unlock()
	if !superseded {
		c.arm(c.opts.RetryBackoff, true)
	}
}

// Flush cancels any pending timer and, when there are strokes, saves them
// synchronously as the final payload. It is best effort.
func (c *Controller) Flush(ctx context.Context) error {
	c.mu.Lock()
	if c.stop != nil {
		c.stop()
		c.stop = nil
	}
	c.gen++
	c.mu.Unlock()

	strokes := c.source()
	if len(strokes) == 0 {
		return nil
	}

	if c.opts.FlushTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.FlushTimeout)
		defer cancel()
	}
	p := Payload{Strokes: strokes, Timestamp: c.opts.Now(), IsFinal: true}
	err := c.saver.SaveAnnotation(ctx, p)
	c.report(p, err)
	if err != nil {
		logging.Logger.Warn("final save failed", zap.Error(err))
	}
	return err
}

// Stop cancels pending work. Later Schedule calls are ignored.
func (c *Controller) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stop != nil {
		c.stop()
		c.stop = nil
	}
	c.stopped = true
}

func (c *Controller) report(p Payload, err error) {
	if c.opts.OnResult != nil {
		c.opts.OnResult(p, err)
	}
}
