package ime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"imebridge/internal/cursor"
	"imebridge/internal/jobs"
)

const callBacklog = 64

// Session runs a Reconciler on its own goroutine. Host callbacks and engine
// events are funneled through it one at a time, while engine work runs on
// the session's job sequencer.
type Session struct {
	id     string
	r      *Reconciler
	conn   Connection
	seq    *jobs.Sequencer
	logger *slog.Logger

	calls chan func(*Reconciler)
	quit  chan struct{}
	done  chan struct{}

	cancel    context.CancelFunc
	started   atomic.Bool
	wg        sync.WaitGroup
	startOnce sync.Once
	closeOnce sync.Once
}

// NewSession creates a session. Call Start to begin processing; host calls
// made before Start are dropped.
func NewSession(host Host, conn Connection, opts Options, jobOpts ...jobs.Option) (*Session, error) {
	if host == nil || conn == nil {
		return nil, errors.New("ime: session needs a host and an engine connection")
	}
	id := uuid.NewString()
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("session", id))
	opts.Logger = logger

	seq := jobs.New(append([]jobs.Option{jobs.WithLogger(logger)}, jobOpts...)...)
	r, err := NewReconciler(host, conn, seq, opts)
	if err != nil {
		return nil, err
	}
	return &Session{
		id:     id,
		r:      r,
		conn:   conn,
		seq:    seq,
		logger: logger.With(slog.String("component", "session")),
		calls:  make(chan func(*Reconciler), callBacklog),
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
	}, nil
}

// ID returns the session id attached to every log record of the session.
func (s *Session) ID() string {
	return s.id
}

// Keys returns the session's key forwarder.
func (s *Session) Keys() *KeyForwarder {
	return s.r.Keys()
}

// Start launches the reconciliation loop and the job runner.
func (s *Session) Start(ctx context.Context) {
	s.startOnce.Do(func() {
		ctx, s.cancel = context.WithCancel(ctx)
		s.wg.Add(2)
		go func() {
			defer s.wg.Done()
			if err := s.seq.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				s.logger.Warn("job runner stopped", "error", err)
			}
		}()
		go func() {
			defer s.wg.Done()
			defer close(s.done)
			s.loop(ctx)
		}()
		s.started.Store(true)
		s.logger.Debug("session started")
	})
}

func (s *Session) loop(ctx context.Context) {
	events := s.conn.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.quit:
			return
		case fn := <-s.calls:
			s.safely("host call", func() { fn(s.r) })
		case ev, ok := <-events:
			if !ok {
				s.logger.Debug("engine event stream closed")
				events = nil
				continue
			}
			s.safely("engine event", func() { s.r.HandleEvent(ev) })
		}
	}
}

// safely runs fn, logging a panic from a host or engine collaborator
// instead of letting it end the session.
func (s *Session) safely(what string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("recovered from panic", "in", what, "panic", fmt.Sprint(r))
		}
	}()
	fn()
}

// Close stops the session. Pending engine work is discarded and an
// executing job is cancelled and waited for.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		close(s.quit)
		s.seq.Close()
		if s.cancel != nil {
			s.cancel()
		}
		s.wg.Wait()
		s.logger.Debug("session closed")
	})
	return nil
}

func (s *Session) do(fn func(*Reconciler)) error {
	select {
	case <-s.quit:
		return ErrSessionClosed
	default:
	}
	if !s.started.Load() {
		return ErrSessionNotStarted
	}
	select {
	case s.calls <- fn:
		return nil
	case <-s.quit:
		return ErrSessionClosed
	}
}

// post runs fn on the session goroutine, logging instead of failing when
// the session is gone.
func (s *Session) post(name string, fn func(*Reconciler)) {
	if err := s.do(fn); err != nil {
		s.logger.Debug("host call ignored", "call", name, "error", err)
	}
}

// Bind attaches the client application uid, owned by package pkg.
func (s *Session) Bind(uid int, pkg string) {
	s.post("bind", func(r *Reconciler) { r.Bind(uid, pkg) })
}

// StartInput starts editing a field described by info.
func (s *Session) StartInput(info EditorInfo, restarting bool) {
	s.post("start-input", func(r *Reconciler) { r.StartInput(info, restarting) })
}

// StartInputView focuses the engine on the current field.
func (s *Session) StartInputView(info EditorInfo, restarting bool) {
	s.post("start-input-view", func(r *Reconciler) { r.StartInputView(info, restarting) })
}

// UpdateSelection reports a selection change in the field.
func (s *Session) UpdateSelection(oldStart, oldEnd, newStart, newEnd, candStart, candEnd int) {
	s.post("update-selection", func(r *Reconciler) {
		r.UpdateSelection(oldStart, oldEnd, newStart, newEnd, candStart, candEnd)
	})
}

// FinishInputView finishes composing and unfocuses the engine.
func (s *Session) FinishInputView() {
	s.post("finish-input-view", func(r *Reconciler) { r.FinishInputView() })
}

// FinishInput reverts the capability flags to their defaults.
func (s *Session) FinishInput() {
	s.post("finish-input", func(r *Reconciler) { r.FinishInput() })
}

// Unbind detaches the client application uid and drops pending work.
func (s *Session) Unbind(uid int) {
	s.post("unbind", func(r *Reconciler) { r.Unbind(uid) })
}

// ConfigurationChanged resets the engine.
func (s *Session) ConfigurationChanged() {
	s.post("configuration-changed", func(r *Reconciler) { r.ConfigurationChanged() })
}

// SubtypeChanged reports that the host switched subtype to id.
func (s *Session) SubtypeChanged(id string) {
	s.post("subtype-changed", func(r *Reconciler) { r.SubtypeChanged(id) })
}

// SyncSubtypes mirrors the engine's input methods into the host.
func (s *Session) SyncSubtypes() {
	s.post("sync-subtypes", func(r *Reconciler) { r.SyncSubtypes() })
}

// SetIgnoreSystemCursor stops host cursor moves inside the preedit from
// moving the engine cursor.
func (s *Session) SetIgnoreSystemCursor(v bool) {
	s.post("set-ignore-system-cursor", func(r *Reconciler) { r.SetIgnoreSystemCursor(v) })
}

// Keyboard actions from the on-screen keyboard.

// CommitText commits text. A caret of composing.NoCursor places the caret
// after the text.
func (s *Session) CommitText(text string, caret int) {
	s.post("commit-text", func(r *Reconciler) { r.CommitText(text, caret) })
}

// FinishComposing keeps the preedit as typed.
func (s *Session) FinishComposing() {
	s.post("finish-composing", func(r *Reconciler) { r.FinishComposing() })
}

// DeleteSelection deletes the selected range, if any.
func (s *Session) DeleteSelection() {
	s.post("delete-selection", func(r *Reconciler) { r.DeleteSelection() })
}

// ApplySelectionOffset moves both ends of the selection.
func (s *Session) ApplySelectionOffset(offStart, offEnd int) {
	s.post("apply-selection-offset", func(r *Reconciler) { r.ApplySelectionOffset(offStart, offEnd) })
}

// CancelSelection collapses the selection to its end.
func (s *Session) CancelSelection() {
	s.post("cancel-selection", func(r *Reconciler) { r.CancelSelection() })
}

// SendCombinationKey sends code to the field with the given modifiers held.
func (s *Session) SendCombinationKey(code int, alt, ctrl, shift bool) {
	s.post("send-combination-key", func(r *Reconciler) { r.SendCombinationKey(code, alt, ctrl, shift) })
}

// SendDownUpKey sends a key press and release to the field.
func (s *Session) SendDownUpKey(code int) {
	s.post("send-down-up-key", func(r *Reconciler) { r.SendDownUpKey(code) })
}

// ForwardKey hands a physical host key to the engine and reports whether
// the engine takes it. It may be called from any goroutine. The key is
// queued behind every earlier host call, so it reaches the engine after the
// work those calls started.
func (s *Session) ForwardKey(ev KeyEvent) bool {
	in, ok := TranslateKey(ev)
	if !ok {
		return false
	}
	err := s.do(func(r *Reconciler) {
		if !r.Keys().send(ev, in) {
			s.logger.Debug("key not queued", "code", ev.Code, "up", ev.Up)
		}
	})
	return err == nil
}

// Snapshot is a point-in-time view of the reconciler state.
type Snapshot struct {
	State     State
	Selection cursor.Range
	Pending   []cursor.Range
	Composing bool
	Caps      CapabilityFlags
}

// Snapshot returns the reconciler state once every earlier host call has
// been applied.
func (s *Session) Snapshot(ctx context.Context) (Snapshot, error) {
	reply := make(chan Snapshot, 1)
	err := s.do(func(r *Reconciler) {
		reply <- Snapshot{
			State:     r.State(),
			Selection: r.Selection(),
			Pending:   r.Tracker().Pending(),
			Composing: r.Composing(),
			Caps:      r.CapabilityFlags(),
		}
	})
	if err != nil {
		return Snapshot{}, err
	}
	select {
	case snap := <-reply:
		return snap, nil
	case <-s.done:
		return Snapshot{}, ErrSessionClosed
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	}
}

// Flush waits until every earlier host call has been applied and the
// engine work it queued has executed.
func (s *Session) Flush(ctx context.Context) error {
	if _, err := s.Snapshot(ctx); err != nil {
		return err
	}
	if err := s.seq.Sync(ctx); err != nil {
		if errors.Is(err, jobs.ErrClosed) {
			return ErrSessionClosed
		}
		return err
	}
	return nil
}
