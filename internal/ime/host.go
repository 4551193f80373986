package ime

import "imebridge/internal/composing"

// Field is the edit surface of the focused host text field. Methods return
// false when the field rejected the call or is gone.
type Field interface {
	SetSelection(start, end int) bool
	SetComposingText(text composing.Text, newCursor int) bool
	FinishComposingText() bool
	CommitText(text string, newCursor int) bool
	DeleteSurroundingText(before, after int) bool
	BeginBatchEdit() bool
	EndBatchEdit() bool
	SendKeyEvent(ev KeyEvent) bool
	PerformEditorAction(action int) bool
}

// CodePointDeleter is implemented by fields that can delete surrounding
// text counted in codepoints rather than code units.
type CodePointDeleter interface {
	DeleteSurroundingTextInCodePoints(before, after int) bool
}

// Host is the input method host shell.
type Host interface {
	// Field returns the focused field, or nil when there is none.
	Field() Field
	// Uptime returns the host clock in milliseconds, used to stamp
	// synthesized key events.
	Uptime() int64
	// HasSubtype reports whether the host has a subtype for an input method.
	HasSubtype(id string) bool
	// SwitchSubtype tells the host the active subtype changed.
	SwitchSubtype(id string)
	// CurrentSubtype returns the input method of the host's current subtype.
	CurrentSubtype() (string, bool)
}

// SubtypeSyncer is implemented by hosts that mirror the engine's enabled
// input methods as their own subtypes. It is called from the job goroutine.
type SubtypeSyncer interface {
	SyncSubtypes(methods []InputMethod)
}

func withBatchEdit(f Field, fn func()) {
	f.BeginBatchEdit()
	defer f.EndBatchEdit()
	fn()
}

// deleteSurrounding deletes by codepoint when the field supports it and by
// code unit otherwise.
func deleteSurrounding(f Field, before, after int) bool {
	if d, ok := f.(CodePointDeleter); ok {
		return d.DeleteSurroundingTextInCodePoints(before, after)
	}
	return f.DeleteSurroundingText(before, after)
}
