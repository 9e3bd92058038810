// Package session tracks marker generation and segmentation for one image.
package session

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"seg-annotator/internal/logging"
)

var (
	// ErrBusy is returned when an operation is already in flight. The
	// request is dropped, not queued.
	ErrBusy = errors.New("another request is already in progress")

	// ErrNoMarkers rejects segmentation before any network call.
	ErrNoMarkers = errors.New("mark at least one object and one background area before segmenting")

	// ErrStale is returned when a completion does not match the pending request.
	ErrStale = errors.New("stale response")
)

// Status is the session state.
type Status int

const (
	Idle Status = iota
	GeneratingMarkers
	MarkersReady
	Segmenting
	Segmented
	Failed
)

func (s Status) String() string {
	switch s {
	case Idle:
		return "idle"
	case GeneratingMarkers:
		return "generating_markers"
	case MarkersReady:
		return "markers_ready"
	case Segmenting:
		return "segmenting"
	case Segmented:
		return "segmented"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// Pending reports whether s has a request in flight.
func (s Status) Pending() bool {
	return s == GeneratingMarkers || s == Segmenting
}

// Op identifies the kind of request a ticket was issued for.
type Op int

const (
	OpMarkers Op = iota + 1
	OpSegment
)

func (o Op) String() string {
	switch o {
	case OpMarkers:
		return "markers"
	case OpSegment:
		return "segment"
	default:
		return "unknown"
	}
}

// Ticket identifies one in-flight request. Completions must present the
// ticket they were issued; anything else is stale.
type Ticket struct {
	Session uuid.UUID
	Seq     uint64
	Op      Op
}

// Transition is delivered to listeners after every state change.
type Transition struct {
	From, To Status
	Err      error
}

// Listener observes transitions. It is called without the session lock held.
type Listener func(Transition)

// Session is the state machine for one loaded image. It is safe for
// concurrent use: completions may arrive from network goroutines.
type Session struct {
	mu sync.Mutex

	id      uuid.UUID
	imageID int64

	status       Status
	markersURL   string
	segmentedURL string
	lastErr      error

	seq     uint64
	pending *Ticket

	listener Listener
}

// New creates an idle session for imageID.
func New(imageID int64) *Session {
	return &Session{
		id:      uuid.New(),
		imageID: imageID,
	}
}

// OnTransition registers the transition listener.
func (s *Session) OnTransition(fn Listener) {
	s.mu.Lock()
	s.listener = fn
	s.mu.Unlock()
}

func (s *Session) ID() uuid.UUID  { return s.id }
func (s *Session) ImageID() int64 { return s.imageID }

func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *Session) MarkersURL() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.markersURL
}

func (s *Session) SegmentedURL() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.segmentedURL
}

// LastError returns the error of the most recent failed request.
func (s *Session) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// RestoreSegmented records a segmentation result fetched from storage
// without changing the status.
func (s *Session) RestoreSegmented(url string) {
	s.mu.Lock()
	s.segmentedURL = url
	s.mu.Unlock()
}

// BeginMarkers moves to GeneratingMarkers.
func (s *Session) BeginMarkers() (Ticket, error) {
	return s.begin(OpMarkers, GeneratingMarkers, true)
}

// BeginSegmentation moves to Segmenting when hasMarkers holds.
func (s *Session) BeginSegmentation(hasMarkers bool) (Ticket, error) {
	return s.begin(OpSegment, Segmenting, hasMarkers)
}

func (s *Session) begin(op Op, to Status, precondition bool) (Ticket, error) {
	s.mu.Lock()
	if s.pending != nil {
		logging.Logger.Debug("request ignored, session busy",
			zap.Stringer("op", op), zap.Stringer("status", s.status))
		s.mu.Unlock()
		return Ticket{}, ErrBusy
	}
	if !precondition {
		s.mu.Unlock()
		return Ticket{}, ErrNoMarkers
	}
	s.seq++
	t := Ticket{Session: s.id, Seq: s.seq, Op: op}
	s.pending = &t
	tr := s.move(to, nil)
	fn := s.listener
	s.mu.Unlock()

	notify(fn, tr)
	return t, nil
}

// CompleteMarkers records the marker image URL and moves to MarkersReady.
func (s *Session) CompleteMarkers(t Ticket, markersURL string) error {
	return s.complete(t, OpMarkers, MarkersReady, func() { s.markersURL = markersURL })
}

// CompleteSegmentation records the result URL and moves to Segmented.
func (s *Session) CompleteSegmentation(t Ticket, segmentedURL string) error {
	return s.complete(t, OpSegment, Segmented, func() { s.segmentedURL = segmentedURL })
}

func (s *Session) complete(t Ticket, op Op, to Status, apply func()) error {
	s.mu.Lock()
	if !s.matches(t, op) {
		s.mu.Unlock()
		return ErrStale
	}
	s.pending = nil
	s.lastErr = nil
	apply()
	tr := s.move(to, nil)
	fn := s.listener
	s.mu.Unlock()

	notify(fn, tr)
	return nil
}

// FailMarkers returns the session to Idle.
func (s *Session) FailMarkers(t Ticket, cause error) error {
	s.mu.Lock()
	if !s.matches(t, OpMarkers) {
		s.mu.Unlock()
		return ErrStale
	}
	s.pending = nil
	s.lastErr = cause
	tr := s.move(Idle, cause)
	fn := s.listener
	s.mu.Unlock()

	notify(fn, tr)
	return nil
}

// FailSegmentation passes through Failed and settles in Idle so the user
// can retry.
func (s *Session) FailSegmentation(t Ticket, cause error) error {
	s.mu.Lock()
	if !s.matches(t, OpSegment) {
		s.mu.Unlock()
		return ErrStale
	}
	s.pending = nil
	s.lastErr = cause
	failed := s.move(Failed, cause)
	idle := s.move(Idle, cause)
	fn := s.listener
	s.mu.Unlock()

	notify(fn, failed)
	notify(fn, idle)
	return nil
}

// Current reports whether t is the ticket of the request in flight.
func (s *Session) Current(t Ticket) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.matches(t, t.Op)
}

func (s *Session) matches(t Ticket, op Op) bool {
	return s.pending != nil && t.Op == op && *s.pending == t
}

func (s *Session) move(to Status, err error) Transition {
	tr := Transition{From: s.status, To: to, Err: err}
	s.status = to
	logging.Logger.Debug("session transition",
		zap.Int64("image_id", s.imageID),
		zap.Stringer("from", tr.From),
		zap.Stringer("to", tr.To),
		zap.Error(err),
	)
	return tr
}

func notify(fn Listener, tr Transition) {
	if fn != nil {
		fn(tr)
	}
}
