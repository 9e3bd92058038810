package annotation

// Snapshot is a deep copy of the stroke and region lists.
type Snapshot struct {
	Strokes []Stroke
	Regions []Region
}

// Clone returns a deep copy that shares no backing arrays with s.
func (s Snapshot) Clone() Snapshot {
	out := Snapshot{
		Strokes: make([]Stroke, len(s.Strokes)),
		Regions: make([]Region, len(s.Regions)),
	}
	copy(out.Strokes, s.Strokes)
	for i, r := range s.Regions {
		out.Regions[i] = r.clone()
	}
	return out
}

// History is an undo/redo stack of snapshots. A limit of zero keeps every
// snapshot; otherwise the oldest undo entries are dropped.
type History struct {
	undo  []Snapshot
	redo  []Snapshot
	limit int
}

// NewHistory creates an empty history.
func NewHistory(limit int) *History {
	if limit < 0 {
		limit = 0
	}
	return &History{limit: limit}
}

// Push records the state before a fresh edit and discards redo history.
func (h *History) Push(s Snapshot) {
	h.undo = append(h.undo, s.Clone())
	if h.limit > 0 && len(h.undo) > h.limit {
		h.undo = h.undo[len(h.undo)-h.limit:]
	}
	h.redo = nil
}

// Undo moves current onto the redo stack and returns the most recent undo
// snapshot. It returns false and leaves both stacks untouched when there is
// nothing to undo.
func (h *History) Undo(current Snapshot) (Snapshot, bool) {
	if len(h.undo) == 0 {
		return Snapshot{}, false
	}
	h.redo = append(h.redo, current.Clone())
	last := h.undo[len(h.undo)-1]
	h.undo = h.undo[:len(h.undo)-1]
	return last.Clone(), true
}

// Redo is the mirror of Undo.
func (h *History) Redo(current Snapshot) (Snapshot, bool) {
	if len(h.redo) == 0 {
		return Snapshot{}, false
	}
	h.undo = append(h.undo, current.Clone())
	last := h.redo[len(h.redo)-1]
	h.redo = h.redo[:len(h.redo)-1]
	return last.Clone(), true
}

func (h *History) CanUndo() bool { return len(h.undo) > 0 }
func (h *History) CanRedo() bool { return len(h.redo) > 0 }

// Depth returns the sizes of the undo and redo stacks.
func (h *History) Depth() (undo, redo int) {
	return len(h.undo), len(h.redo)
}

// Reset drops both stacks.
func (h *History) Reset() {
	h.undo = nil
	h.redo = nil
}
