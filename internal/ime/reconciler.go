package ime

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"imebridge/internal/composing"
	"imebridge/internal/cursor"
	"imebridge/internal/logging"
)

// State is the lifecycle state of an input session.
type State int

// Session states.
const (
	StateUnbound State = iota
	StateBound
	StateFocused
	StateUnfocused
)

func (s State) String() string {
	switch s {
	case StateUnbound:
		return "unbound"
	case StateBound:
		return "bound"
	case StateFocused:
		return "focused"
	case StateUnfocused:
		return "unfocused"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Options configures a Reconciler.
type Options struct {
	// IgnoreSystemCursor stops host cursor moves inside the preedit from
	// moving the engine cursor.
	IgnoreSystemCursor bool
	// KeyCacheCapacity bounds the forwarded key cache. Zero means
	// keycache.DefaultCapacity.
	KeyCacheCapacity int
	Logger           *slog.Logger
	Observer         Observer
}

// Reconciler keeps the engine, the host field and the session's own
// selection predictions consistent.
//
// A Reconciler is owned by a single goroutine and every method, including
// Keys().Forward, must be called from it. Engine work is handed to the job
// queue and never runs on the owning goroutine.
type Reconciler struct {
	host   Host
	d      *dispatcher
	keys   *KeyForwarder
	logger *slog.Logger
	obs    Observer

	state         State
	selection     *cursor.Tracker
	composing     composing.Region
	composingText composing.Text
	editor        EditorInfo
	caps          CapabilityFlags

	ignoreSystemCursor bool
	skipSubtype        string
	boundOnce          bool

	// read by move-cursor jobs on the job goroutine
	cursorUpdateIndex atomic.Int64
}

// NewReconciler creates a reconciler in the unbound state.
func NewReconciler(host Host, conn Connection, queue JobQueue, opts Options) (*Reconciler, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("component", "reconciler"))
	obs := opts.Observer
	if obs == nil {
		obs = nopObserver{}
	}
	d := &dispatcher{conn: conn, queue: queue, logger: logger, observer: obs}
	keys, err := newKeyForwarder(opts.KeyCacheCapacity, d)
	if err != nil {
		return nil, err
	}
	return &Reconciler{
		host:               host,
		d:                  d,
		keys:               keys,
		logger:             logger,
		obs:                obs,
		selection:          cursor.NewTracker(),
		composingText:      composing.Empty,
		caps:               DefaultCapabilityFlags,
		ignoreSystemCursor: opts.IgnoreSystemCursor,
	}, nil
}

// State returns the lifecycle state.
func (r *Reconciler) State() State {
	return r.state
}

// Composing reports whether a preedit is displayed in the field.
func (r *Reconciler) Composing() bool {
	return !r.composing.IsEmpty()
}

// Selection returns the newest expected selection of the field.
func (r *Reconciler) Selection() cursor.Range {
	return r.selection.Latest()
}

// Tracker exposes the prediction ledger.
func (r *Reconciler) Tracker() *cursor.Tracker {
	return r.selection
}

// ComposingRegion returns the range under composition and its text.
func (r *Reconciler) ComposingRegion() (composing.Region, composing.Text) {
	return r.composing, r.composingText
}

// CapabilityFlags returns the flags derived from the current field.
func (r *Reconciler) CapabilityFlags() CapabilityFlags {
	return r.caps
}

// Keys returns the key forwarder. Its methods are safe to call from any
// goroutine.
func (r *Reconciler) Keys() *KeyForwarder {
	return r.keys
}

// SetIgnoreSystemCursor changes the ignore-system-cursor option.
func (r *Reconciler) SetIgnoreSystemCursor(v bool) {
	r.ignoreSystemCursor = v
}

func (r *Reconciler) resetComposing() {
	r.composing.Clear()
	r.composingText = composing.Empty
}

func (r *Reconciler) transition(to State) {
	if r.state == to {
		return
	}
	r.logger.Debug("state change", "from", r.state, "to", to)
	r.state = to
}

// Bind attaches the session to a client application.
func (r *Reconciler) Bind(uid int, pkg string) {
	r.logger.Debug("bind input", "uid", uid, "pkg", pkg)
	r.transition(StateBound)
	r.d.post("activate", func(ctx context.Context, e Engine) error {
		return e.Activate(ctx, uid, pkg)
	})
	if r.boundOnce {
		return
	}
	r.boundOnce = true
	// Only the first bind adopts the host subtype, later binds keep
	// whatever input method the engine chose per application.
	im, ok := r.host.CurrentSubtype()
	if !ok {
		return
	}
	r.d.post("activate-ime", func(ctx context.Context, e Engine) error {
		return e.ActivateIME(ctx, im)
	})
}

// StartInput starts editing a field. The selection and composing state are
// reset and the field's capabilities are sent to the engine.
func (r *Reconciler) StartInput(info EditorInfo, restarting bool) {
	r.selection.ResetTo(info.InitialSelStart, info.InitialSelEnd)
	r.resetComposing()
	r.editor = info
	flags := CapabilityFlagsFor(info)
	r.caps = flags
	if r.state == StateUnbound {
		r.transition(StateBound)
	}
	r.logger.Debug("start input", "selection", r.selection.Current(), "restarting", restarting, "caps", flags)
	r.d.post("start-input", func(ctx context.Context, e Engine) error {
		if restarting {
			// clear the previous field's state before the flags change
			if err := e.Focus(ctx, false); err != nil {
				return err
			}
		}
		return e.SetCapabilityFlags(ctx, flags)
	})
}

// StartInputView focuses the engine on the field.
func (r *Reconciler) StartInputView(info EditorInfo, restarting bool) {
	r.logger.Debug("start input view", "restarting", restarting)
	r.transition(StateFocused)
	r.d.post("focus-in", func(ctx context.Context, e Engine) error {
		return e.Focus(ctx, true)
	})
}

// UpdateSelection handles a selection report from the host.
func (r *Reconciler) UpdateSelection(oldStart, oldEnd, newStart, newEnd, candStart, candEnd int) {
	idx := r.cursorUpdateIndex.Add(1)
	r.logger.Debug("update selection",
		"old", cursor.Range{Start: oldStart, End: oldEnd},
		"new", cursor.Range{Start: newStart, End: newEnd},
		"candidates", cursor.Range{Start: candStart, End: candEnd})
	r.handleCursorUpdate(newStart, newEnd, idx)
}

// FinishInputView finishes any composition as displayed and unfocuses the
// engine.
func (r *Reconciler) FinishInputView() {
	if f := r.host.Field(); f != nil {
		f.FinishComposingText()
	}
	r.resetComposing()
	r.transition(StateUnfocused)
	r.d.post("focus-out", func(ctx context.Context, e Engine) error {
		return e.Focus(ctx, false)
	})
}

// FinishInput drops the field's capabilities.
func (r *Reconciler) FinishInput() {
	r.caps = DefaultCapabilityFlags
}

// Unbind detaches the session from the client application. Engine work
// that has not started is discarded.
func (r *Reconciler) Unbind(uid int) {
	if n := r.d.discard(); n > 0 {
		r.logger.Debug("unbind discarded pending jobs", "count", n)
	}
	r.cursorUpdateIndex.Store(0)
	r.keys.Reset()
	r.resetComposing()
	r.transition(StateUnbound)
	r.d.post("deactivate", func(ctx context.Context, e Engine) error {
		return e.Deactivate(ctx, uid)
	})
}

// ConfigurationChanged resets the engine after a host configuration change.
func (r *Reconciler) ConfigurationChanged() {
	r.d.post("reset", func(ctx context.Context, e Engine) error {
		return e.Reset(ctx)
	})
}

// SubtypeChanged handles a subtype switch reported by the host. The echo
// of a switch the session requested itself is swallowed.
func (r *Reconciler) SubtypeChanged(id string) {
	if r.skipSubtype != "" && r.skipSubtype == id {
		r.skipSubtype = ""
		return
	}
	r.logger.Debug("subtype changed", "im", id)
	r.d.post("activate-ime", func(ctx context.Context, e Engine) error {
		return e.ActivateIME(ctx, id)
	})
}

// SyncSubtypes asks the host to mirror the engine's enabled input methods.
// Hosts that do not implement SubtypeSyncer are left alone.
func (r *Reconciler) SyncSubtypes() {
	syncer, ok := r.host.(SubtypeSyncer)
	if !ok {
		return
	}
	r.d.post("sync-subtypes", func(ctx context.Context, e Engine) error {
		methods, err := e.EnabledInputMethods(ctx)
		if err != nil {
			return err
		}
		syncer.SyncSubtypes(methods)
		return nil
	})
}

// HandleEvent applies an engine event.
func (r *Reconciler) HandleEvent(ev Event) {
	switch ev := ev.(type) {
	case CommitEvent:
		r.logger.Debug("engine commit", logging.Text("text", ev.Text, r.editor.Sensitive()))
		r.CommitText(ev.Text, ev.Cursor)
	case EngineKeyEvent:
		r.handleEngineKey(ev)
	case PreeditEvent:
		r.logger.Debug("engine preedit", logging.Text("text", ev.Text.String(), r.editor.Sensitive()))
		r.updateComposingText(ev.Text)
	case DeleteSurroundingEvent:
		r.handleDeleteSurrounding(ev.Before, ev.After)
	case InputMethodEvent:
		r.handleInputMethodChanged(ev.ID)
	default:
		r.logger.Debug("ignoring engine event", "event", ev.eventName())
	}
}

func (r *Reconciler) handleInputMethodChanged(id string) {
	if !r.host.HasSubtype(id) {
		return
	}
	r.skipSubtype = id
	r.host.SwitchSubtype(id)
}
