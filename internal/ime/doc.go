// Package ime keeps an input method session consistent across three
// parties: the host text field, the text engine and the session's own
// expectations about where the selection will land.
//
// # Architecture Overview
//
// Host callbacks and engine events arrive on two independent streams. A
// Session funnels both into one goroutine that owns the Reconciler, so the
// selection tracker and the composing region are never touched
// concurrently. Work that needs the engine is posted to a jobs.Sequencer
// and executes strictly in order on a second goroutine:
//
//	host callbacks ─┐                        ┌─► host field (edits)
//	                ├─► Session ─► Reconciler ┤
//	engine events ──┘                        └─► Sequencer ─► Engine
//
// # Predictions
//
// Every edit the reconciler makes is recorded as a predicted selection.
// When the host reports a selection that matches the oldest prediction it
// is consumed silently. Anything else is an external move: the engine is
// reset, its cursor is moved inside the preedit, or the preedit is
// committed and the engine resynced with a focus-out/focus-in pair.
//
// # Session States
//
//	┌──────────────┬────────────────────┬─────────────┐
//	│ From         │ Host call          │ To          │
//	├──────────────┼────────────────────┼─────────────┤
//	│ Unbound      │ Bind               │ Bound       │
//	│ Bound        │ StartInputView     │ Focused     │
//	│ Focused      │ FinishInputView    │ Unfocused   │
//	│ Unfocused    │ StartInputView     │ Focused     │
//	│ any          │ Unbind             │ Unbound     │
//	└──────────────┴────────────────────┴─────────────┘
//
// # Positions
//
// Host positions are UTF-16 code units. The engine counts codepoints, so
// positions handed to Engine.MoveCursor are converted first.
//
// # Failure Handling
//
// Nothing here returns reconciliation failures to the host. A missing field
// turns an edit into a no-op, an unavailable engine drops the command, and a
// stale cursor move is skipped when it finally runs.
package ime
