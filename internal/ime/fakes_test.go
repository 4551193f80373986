package ime

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"imebridge/internal/composing"
	"imebridge/internal/jobs"
)

// callLog is a goroutine-safe list of recorded calls.
type callLog struct {
	mu    sync.Mutex
	calls []string
	hook  func(call string)
}

func (l *callLog) add(format string, args ...any) {
	call := fmt.Sprintf(format, args...)
	l.mu.Lock()
	l.calls = append(l.calls, call)
	hook := l.hook
	l.mu.Unlock()
	if hook != nil {
		hook(call)
	}
}

func (l *callLog) take() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := l.calls
	l.calls = nil
	return out
}

type fakeField struct {
	callLog
}

func (f *fakeField) SetSelection(start, end int) bool {
	f.add("SetSelection(%d,%d)", start, end)
	return true
}

func (f *fakeField) SetComposingText(text composing.Text, newCursor int) bool {
	f.add("SetComposingText(%s,%d)", text.String(), newCursor)
	return true
}

func (f *fakeField) FinishComposingText() bool {
	f.add("FinishComposingText")
	return true
}

func (f *fakeField) CommitText(text string, newCursor int) bool {
	f.add("CommitText(%s,%d)", text, newCursor)
	return true
}

func (f *fakeField) DeleteSurroundingText(before, after int) bool {
	f.add("DeleteSurroundingText(%d,%d)", before, after)
	return true
}

func (f *fakeField) BeginBatchEdit() bool {
	f.add("BeginBatchEdit")
	return true
}

func (f *fakeField) EndBatchEdit() bool {
	f.add("EndBatchEdit")
	return true
}

func (f *fakeField) SendKeyEvent(ev KeyEvent) bool {
	dir := "down"
	if ev.Up {
		dir = "up"
	}
	f.add("SendKeyEvent(%d,%s,meta=%#x,t=%d)", ev.Code, dir, ev.Meta, ev.Time)
	return true
}

func (f *fakeField) PerformEditorAction(action int) bool {
	f.add("PerformEditorAction(%d)", action)
	return true
}

// codePointField also deletes by codepoint.
type codePointField struct {
	fakeField
}

func (f *codePointField) DeleteSurroundingTextInCodePoints(before, after int) bool {
	f.add("DeleteSurroundingTextInCodePoints(%d,%d)", before, after)
	return true
}

type fakeHost struct {
	mu       sync.Mutex
	field    Field
	uptime   int64
	subtypes map[string]bool
	current  string
	switched []string
	synced   [][]InputMethod
}

func (h *fakeHost) Field() Field {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.field
}

func (h *fakeHost) Uptime() int64 { return h.uptime }

func (h *fakeHost) HasSubtype(id string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.subtypes[id]
}

func (h *fakeHost) SwitchSubtype(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.switched = append(h.switched, id)
}

func (h *fakeHost) CurrentSubtype() (string, bool) {
	return h.current, h.current != ""
}

// syncingHost mirrors the engine's input methods.
type syncingHost struct {
	*fakeHost
}

func (h syncingHost) SyncSubtypes(methods []InputMethod) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.synced = append(h.synced, methods)
}

type fakeEngine struct {
	callLog
	empty   bool
	methods []InputMethod
}

func (e *fakeEngine) SendKey(_ context.Context, k KeyInput) error {
	e.add("SendKey(sym=%s,unicode=%q,states=%#x,up=%t,seq=%d)", k.Sym, k.Unicode, uint32(k.States), k.Up, k.SequenceID)
	return nil
}

func (e *fakeEngine) MoveCursor(_ context.Context, pos int) error {
	e.add("MoveCursor(%d)", pos)
	return nil
}

func (e *fakeEngine) Focus(_ context.Context, focused bool) error {
	e.add("Focus(%t)", focused)
	return nil
}

func (e *fakeEngine) Reset(context.Context) error {
	e.add("Reset")
	return nil
}

func (e *fakeEngine) IsEmpty(context.Context) (bool, error) {
	e.add("IsEmpty")
	return e.empty, nil
}

func (e *fakeEngine) Activate(_ context.Context, uid int, pkg string) error {
	e.add("Activate(%d,%s)", uid, pkg)
	return nil
}

func (e *fakeEngine) ActivateIME(_ context.Context, id string) error {
	e.add("ActivateIME(%s)", id)
	return nil
}

func (e *fakeEngine) Deactivate(_ context.Context, uid int) error {
	e.add("Deactivate(%d)", uid)
	return nil
}

func (e *fakeEngine) SetCapabilityFlags(_ context.Context, flags CapabilityFlags) error {
	e.add("SetCapabilityFlags(%s)", flags)
	return nil
}

func (e *fakeEngine) EnabledInputMethods(context.Context) ([]InputMethod, error) {
	e.add("EnabledInputMethods")
	return e.methods, nil
}

type fakeConn struct {
	engine *fakeEngine
	err    error
	events chan Event
}

func newFakeConn() *fakeConn {
	return &fakeConn{engine: &fakeEngine{}, events: make(chan Event, 16)}
}

func (c *fakeConn) Ready(context.Context) (Engine, error) {
	if c.err != nil {
		return nil, c.err
	}
	return c.engine, nil
}

func (c *fakeConn) Events() <-chan Event { return c.events }

// manualQueue holds jobs until the test runs them.
type manualQueue struct {
	names []string
	jobs  []jobs.Job
}

func (q *manualQueue) Submit(name string, job jobs.Job) error {
	q.names = append(q.names, name)
	q.jobs = append(q.jobs, job)
	return nil
}

func (q *manualQueue) Discard() int {
	n := len(q.jobs)
	q.names, q.jobs = nil, nil
	return n
}

func (q *manualQueue) drain() {
	for len(q.jobs) > 0 {
		job := q.jobs[0]
		q.names, q.jobs = q.names[1:], q.jobs[1:]
		job(context.Background())
	}
}

type countingObserver struct {
	mu        sync.Mutex
	confirmed int
	missed    int
	resets    int
	resyncs   int
	dropped   []string
	hits      int
	misses    int
}

func (o *countingObserver) PredictionConfirmed() { o.mu.Lock(); o.confirmed++; o.mu.Unlock() }
func (o *countingObserver) PredictionMissed()    { o.mu.Lock(); o.missed++; o.mu.Unlock() }
func (o *countingObserver) EngineReset()         { o.mu.Lock(); o.resets++; o.mu.Unlock() }
func (o *countingObserver) Resync()              { o.mu.Lock(); o.resyncs++; o.mu.Unlock() }

func (o *countingObserver) EngineCommandDropped(name string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.dropped = append(o.dropped, name)
}

func (o *countingObserver) KeyReplay(hit bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if hit {
		o.hits++
	} else {
		o.misses++
	}
}

type harness struct {
	r     *Reconciler
	host  *fakeHost
	field *fakeField
	conn  *fakeConn
	queue *manualQueue
	obs   *countingObserver
}

func newHarness(t *testing.T, opts Options) *harness {
	t.Helper()
	field := &fakeField{}
	host := &fakeHost{field: field, uptime: 1000, subtypes: map[string]bool{}}
	return newHarnessWith(t, host, field, opts)
}

func newHarnessWith(t *testing.T, host *fakeHost, field *fakeField, opts Options) *harness {
	t.Helper()
	conn := newFakeConn()
	queue := &manualQueue{}
	obs := &countingObserver{}
	opts.Observer = obs
	r, err := NewReconciler(host, conn, queue, opts)
	if err != nil {
		t.Fatalf("NewReconciler: %v", err)
	}
	return &harness{r: r, host: host, field: field, conn: conn, queue: queue, obs: obs}
}

// start focuses a text field with the given selection and clears every
// recorded call.
func (h *harness) start(info EditorInfo) {
	h.r.StartInput(info, false)
	h.r.StartInputView(info, false)
	h.queue.drain()
	h.field.take()
	h.conn.engine.take()
}

// engineCalls runs queued jobs and returns what reached the engine.
func (h *harness) engineCalls() []string {
	h.queue.drain()
	return h.conn.engine.take()
}

func textField(selStart, selEnd int) EditorInfo {
	return EditorInfo{InputType: TypeClassText, InitialSelStart: selStart, InitialSelEnd: selEnd}
}
