package ime

import (
	"context"

	"imebridge/internal/composing"
	"imebridge/internal/cursor"
)

// CommitText commits text into the field, replacing the preedit if there
// is one and the selection otherwise. caret is the caret position relative
// to the start of text, or composing.NoCursor to leave it after the text.
func (r *Reconciler) CommitText(text string, caret int) {
	f := r.host.Field()
	if f == nil {
		return
	}
	n := composing.UTF16Len(text)

	// The preedit already shows exactly this text: keep it and only place
	// the caret.
	if !r.composing.IsEmpty() && r.composingText.String() == text {
		c := caret
		if c == composing.NoCursor {
			c = n
		}
		target := r.composing.Start + c
		r.resetComposing()
		withBatchEdit(f, func() {
			if r.selection.Current().Start != target {
				r.selection.Predict(target)
				f.SetSelection(target, target)
			}
			f.FinishComposingText()
		})
		return
	}

	start := r.selection.Latest().Start
	if !r.composing.IsEmpty() {
		start = r.composing.Start
	}
	r.resetComposing()
	if caret == composing.NoCursor {
		r.selection.Predict(start + n)
		f.CommitText(text, 1)
		return
	}
	target := start + caret
	r.selection.Predict(target)
	withBatchEdit(f, func() {
		f.CommitText(text, 1)
		f.SetSelection(target, target)
	})
}

// FinishComposing commits the preedit as displayed. It does nothing when
// there is no preedit.
func (r *Reconciler) FinishComposing() {
	f := r.host.Field()
	if f == nil || r.composing.IsEmpty() {
		return
	}
	r.resetComposing()
	f.FinishComposingText()
}

func (r *Reconciler) updateComposingText(text composing.Text) {
	f := r.host.Field()
	if f == nil {
		return
	}
	last := r.selection.Latest()
	withBatchEdit(f, func() {
		defer func() { r.composingText = text }()

		if r.composingText.SpanEqual(text) {
			// Same content: only follow the engine cursor.
			if text.Len() > 0 && text.Cursor >= 0 {
				p := r.composing.Start + text.Cursor
				if p != last.Start {
					f.SetSelection(p, p)
					r.selection.Predict(p)
				}
			}
			return
		}

		if text.IsEmpty() {
			if r.composing.IsEmpty() {
				// region start is undefined here, keep the caret
				r.selection.Predict(last.Start)
			} else {
				r.selection.Predict(r.composing.Start)
				r.composing.Clear()
			}
			f.SetComposingText(composing.Empty, 1)
			return
		}

		start := last.Start
		if !r.composing.IsEmpty() {
			start = r.composing.Start
		}
		n := text.Len()
		r.composing.Update(start, start+n)
		if text.Cursor == n || text.Cursor < 0 {
			r.selection.Predict(r.composing.End)
			f.SetComposingText(text, 1)
			return
		}
		p := r.composing.Start + text.Cursor
		r.selection.Predict(p)
		f.SetComposingText(text, 1)
		f.SetSelection(p, p)
	})
}

func (r *Reconciler) handleCursorUpdate(start, end int, idx int64) {
	if r.selection.Consume(start, end) {
		r.obs.PredictionConfirmed()
		return
	}
	// Not one of ours: the user or the application moved the selection.
	r.obs.PredictionMissed()
	r.selection.ResetTo(start, end)
	if start != end {
		return
	}

	if r.composing.IsEmpty() {
		r.d.post("reset-if-busy", func(ctx context.Context, e Engine) error {
			empty, err := e.IsEmpty(ctx)
			if err != nil {
				return err
			}
			if empty {
				return nil
			}
			r.obs.EngineReset()
			return e.Reset(ctx)
		})
		return
	}

	if r.composing.Contains(start) {
		if r.ignoreSystemCursor {
			return
		}
		pos := start - r.composing.Start
		if pos == r.composingText.Cursor {
			return
		}
		cp := r.composingText.CodePointCountUntil(pos)
		r.d.post("move-cursor", func(ctx context.Context, e Engine) error {
			if idx != r.cursorUpdateIndex.Load() {
				r.logger.Debug("stale cursor move skipped", "index", idx)
				return nil
			}
			return e.MoveCursor(ctx, cp)
		})
		return
	}

	// Caret left the preedit. Keep the preedit as typed and restart the
	// engine's composition: focus-out commits it on the engine side and
	// focus-in starts clean. Both calls share one job.
	r.logger.Debug("cursor left preedit, resyncing engine")
	r.resetComposing()
	if f := r.host.Field(); f != nil {
		f.FinishComposingText()
	}
	r.obs.Resync()
	r.d.post("resync", func(ctx context.Context, e Engine) error {
		if err := e.Focus(ctx, false); err != nil {
			return err
		}
		return e.Focus(ctx, true)
	})
}

func (r *Reconciler) handleDeleteSurrounding(before, after int) {
	f := r.host.Field()
	if f == nil {
		return
	}
	if before > 0 {
		r.selection.PredictOffset(-before, -before)
	}
	deleteSurrounding(f, before, after)
}

// DeleteSelection deletes the selected text, if any.
func (r *Reconciler) DeleteSelection() {
	f := r.host.Field()
	last := r.selection.Latest()
	if f == nil || last.IsEmpty() {
		return
	}
	r.selection.Predict(last.Start)
	f.CommitText("", 1)
}

// ApplySelectionOffset moves the selection bounds by the given offsets.
func (r *Reconciler) ApplySelectionOffset(offStart, offEnd int) {
	f := r.host.Field()
	if f == nil {
		return
	}
	last := r.selection.Latest()
	start := max(last.Start+offStart, 0)
	end := max(last.End+offEnd, 0)
	if start > end {
		return
	}
	r.selection.PredictRange(cursor.Range{Start: start, End: end})
	f.SetSelection(start, end)
}

// CancelSelection collapses the selection to its end.
func (r *Reconciler) CancelSelection() {
	f := r.host.Field()
	last := r.selection.Latest()
	if f == nil || last.IsEmpty() {
		return
	}
	r.selection.Predict(last.End)
	f.SetSelection(last.End, last.End)
}
