package cursor

// maxPending bounds the prediction queue. A host that stops reporting
// selections would otherwise grow it without limit.
const maxPending = 64

// Tracker is the prediction ledger for one input session.
//
// Every edit the session sends to the host is followed by a Predict call
// carrying the selection the host should report once it applies the edit.
// Host reports are matched with Consume strictly against the oldest
// prediction. Any mismatch means the host moved the selection on its own,
// so every pending prediction is dropped.
//
// A Tracker is not safe for concurrent use; it belongs to the goroutine
// that reconciles the session.
type Tracker struct {
	confirmed Range
	pending   []Range
}

// NewTracker returns a tracker whose confirmed selection is the caret at 0.
func NewTracker() *Tracker {
	return &Tracker{}
}

// Predict appends the caret at pos to the prediction queue.
func (t *Tracker) Predict(pos int) {
	t.PredictRange(At(pos))
}

// PredictRange appends r to the prediction queue.
func (t *Tracker) PredictRange(r Range) {
	r = Span(r.Start, r.End)
	if len(t.pending) == maxPending {
		copy(t.pending, t.pending[1:])
		t.pending = t.pending[:maxPending-1]
	}
	t.pending = append(t.pending, r)
}

// PredictOffset predicts a selection relative to Latest, clamped at zero.
func (t *Tracker) PredictOffset(dStart, dEnd int) {
	t.PredictRange(t.Latest().Offset(dStart, dEnd))
}

// Consume matches a selection reported by the host against the oldest
// prediction. On a match the prediction becomes the confirmed selection and
// Consume returns true. Otherwise all predictions are discarded and false is
// returned; the confirmed selection is left for the caller to reset.
func (t *Tracker) Consume(start, end int) bool {
	if len(t.pending) == 0 {
		return false
	}
	reported := Range{Start: start, End: end}
	if t.pending[0] != reported {
		t.pending = t.pending[:0]
		return false
	}
	t.confirmed = reported
	t.pending = t.pending[1:]
	return true
}

// ResetTo drops every prediction and confirms [start, end] directly.
func (t *Tracker) ResetTo(start, end int) {
	t.pending = t.pending[:0]
	t.confirmed = Span(start, end)
}

// Latest returns the newest prediction, or the confirmed selection when
// nothing is pending.
func (t *Tracker) Latest() Range {
	if n := len(t.pending); n > 0 {
		return t.pending[n-1]
	}
	return t.confirmed
}

// Current returns the confirmed selection.
func (t *Tracker) Current() Range {
	return t.confirmed
}

// Pending returns a copy of the outstanding predictions, oldest first, or
// nil when there are none.
func (t *Tracker) Pending() []Range {
	if len(t.pending) == 0 {
		return nil
	}
	out := make([]Range, len(t.pending))
	copy(out, t.pending)
	return out
}
