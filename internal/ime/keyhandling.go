package ime

import "imebridge/internal/composing"

func (r *Reconciler) handleEngineKey(ev EngineKeyEvent) {
	if ev.Virtual() {
		switch ev.Unicode {
		case '\b':
			r.handleBackspace()
		case '\r':
			r.handleReturn()
		default:
			if ev.Unicode > 0 {
				r.CommitText(string(ev.Unicode), composing.NoCursor)
			}
		}
		return
	}

	f := r.host.Field()
	if f == nil {
		return
	}
	// The engine passed a forwarded key back untouched.
	if cached, ok := r.keys.Replay(ev.SequenceID); ok {
		f.SendKeyEvent(cached)
		return
	}
	if code := ev.Sym.KeyCode(); code != KeyCodeUnknown {
		r.sendKeyEvent(f, code, ev.States.MetaState(), ev.Up, r.host.Uptime())
		return
	}
	if !ev.Up && ev.Unicode > 0 {
		r.CommitText(string(ev.Unicode), composing.NoCursor)
		return
	}
	r.logger.Debug("unhandled engine key", "key", ev)
}

func (r *Reconciler) handleBackspace() {
	f := r.host.Field()
	if f == nil {
		return
	}
	last := r.selection.Latest()
	if !last.IsEmpty() {
		r.selection.Predict(last.Start)
	} else if last.Start > 0 {
		r.selection.PredictOffset(-1, -1)
	}

	if !r.editor.WantsDeleteSurrounding() {
		r.sendDownUpKeyEvents(f, KeyCodeDel, 0)
		return
	}
	if !last.IsEmpty() {
		f.CommitText("", 0)
		return
	}
	if last.Start <= 0 {
		r.sendDownUpKeyEvents(f, KeyCodeDel, 0)
		return
	}
	deleteSurrounding(f, 1, 0)
}

func (r *Reconciler) handleReturn() {
	f := r.host.Field()
	if f == nil {
		return
	}
	info := r.editor
	switch {
	case info.Class() == TypeNull:
		r.sendDownUpKeyEvents(f, KeyCodeEnter, 0)
	case info.ImeOptions&FlagNoEnterAction != 0:
		r.CommitText("\n", composing.NoCursor)
	case info.ActionLabel != "" && info.ActionID != ActionUnspecified:
		f.PerformEditorAction(info.ActionID)
	default:
		switch action := info.Action(); action {
		case ActionUnspecified, ActionNone:
			r.CommitText("\n", composing.NoCursor)
		default:
			f.PerformEditorAction(action)
		}
	}
}

// SendCombinationKey sends a key chord: modifier downs, the key, then
// modifier ups in reverse order.
func (r *Reconciler) SendCombinationKey(code int, alt, ctrl, shift bool) {
	f := r.host.Field()
	if f == nil {
		return
	}
	meta := 0
	if alt {
		meta |= MetaAltOn | MetaAltLeftOn
	}
	if ctrl {
		meta |= MetaCtrlOn | MetaCtrlLeftOn
	}
	if shift {
		meta |= MetaShiftOn | MetaShiftLeftOn
	}
	t := r.host.Uptime()
	if alt {
		r.sendKeyEvent(f, KeyCodeAltLeft, 0, false, t)
	}
	if ctrl {
		r.sendKeyEvent(f, KeyCodeCtrlLeft, 0, false, t)
	}
	if shift {
		r.sendKeyEvent(f, KeyCodeShiftLeft, 0, false, t)
	}
	r.sendKeyEvent(f, code, meta, false, t)
	r.sendKeyEvent(f, code, meta, true, t)
	if shift {
		r.sendKeyEvent(f, KeyCodeShiftLeft, 0, true, t)
	}
	if ctrl {
		r.sendKeyEvent(f, KeyCodeCtrlLeft, 0, true, t)
	}
	if alt {
		r.sendKeyEvent(f, KeyCodeAltLeft, 0, true, t)
	}
}

// SendDownUpKey sends a key press and release to the field.
func (r *Reconciler) SendDownUpKey(code int) {
	if f := r.host.Field(); f != nil {
		r.sendDownUpKeyEvents(f, code, 0)
	}
}

func (r *Reconciler) sendDownUpKeyEvents(f Field, code, meta int) {
	t := r.host.Uptime()
	r.sendKeyEvent(f, code, meta, false, t)
	r.sendKeyEvent(f, code, meta, true, t)
}

func (r *Reconciler) sendKeyEvent(f Field, code, meta int, up bool, t int64) {
	f.SendKeyEvent(KeyEvent{Code: code, Meta: meta, Up: up, Time: t})
}
