// Package app coordinates one annotation session: the drawing engine, view
// transform, segmentation workflow, autosave and backend I/O.
package app

import "sync"

// EventType identifies different application events.
type EventType int

const (
	EventImageLoaded    EventType = iota // *ImageInfo
	EventStrokesChanged                  // int stroke count
	EventSessionChanged                  // session.Transition
	EventSaved                           // autosave.Payload
	EventSaveFailed                      // error
	EventProgress                        // Progress
	EventError                           // error shown to the user
	EventViewChanged                     // nil
	EventSegmentedLoaded                 // *image.Asset
)

func (e EventType) String() string {
	switch e {
	case EventImageLoaded:
		return "image_loaded"
	case EventStrokesChanged:
		return "strokes_changed"
	case EventSessionChanged:
		return "session_changed"
	case EventSaved:
		return "saved"
	case EventSaveFailed:
		return "save_failed"
	case EventProgress:
		return "progress"
	case EventError:
		return "error"
	case EventViewChanged:
		return "view_changed"
	case EventSegmentedLoaded:
		return "segmented_loaded"
	default:
		return "unknown"
	}
}

// EventListener is called when an event occurs.
type EventListener func(data interface{})

// Progress is the payload of EventProgress.
type Progress struct {
	Sent  int64
	Total int64
}

// Fraction returns progress in [0, 1].
func (p Progress) Fraction() float64 {
	if p.Total <= 0 {
		return 0
	}
	return float64(p.Sent) / float64(p.Total)
}

type event struct {
	typ  EventType
	data interface{}
}

// Bus fans events out to registered listeners.
type Bus struct {
	mu        sync.RWMutex
	listeners map[EventType][]EventListener
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{listeners: make(map[EventType][]EventListener)}
}

// On registers an event listener for the specified event type.
func (b *Bus) On(event EventType, listener EventListener) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listeners[event] = append(b.listeners[event], listener)
}

// Emit triggers all listeners for the specified event type.
func (b *Bus) Emit(event EventType, data interface{}) {
	b.mu.RLock()
	listeners := b.listeners[event]
	b.mu.RUnlock()

	for _, listener := range listeners {
		listener(data)
	}
}

func (b *Bus) emitAll(events []event) {
	for _, ev := range events {
		b.Emit(ev.typ, ev.data)
	}
}
