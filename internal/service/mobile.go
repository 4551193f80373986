package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"imebridge/internal/composing"
	"imebridge/internal/config"
	"imebridge/internal/ime"
	"imebridge/internal/logging"
	"imebridge/internal/metrics"
	"imebridge/internal/store"
	"imebridge/internal/xrdisplay"
)

// Mobile platform support via gomobile.
//
// The platform input method service implements MobileHost, MobileEngine and
// MobileView and drives a Mobile from its lifecycle callbacks. Engine output
// is fed back through the On* methods.
//
// Build:
//   gomobile bind -target=android -o imebridge.aar ./internal/service

// MobileHost is the platform input method service and its current field.
type MobileHost interface {
	Uptime() int64
	HasSubtype(id string) bool
	SwitchSubtype(id string)
	// CurrentSubtype returns "" when there is no current subtype.
	CurrentSubtype() string
	// PackageName returns "" for an unknown uid.
	PackageName(uid int) string

	// HasField reports whether an input connection is available.
	HasField() bool
	SetSelection(start, end int) bool
	SetComposingText(text string, newCursor int) bool
	FinishComposingText() bool
	CommitText(text string, newCursor int) bool
	DeleteSurroundingText(before, after int) bool
	BeginBatchEdit() bool
	EndBatchEdit() bool
	SendKeyEvent(code, meta int, up bool, unicode int32, eventTime int64) bool
	PerformEditorAction(action int) bool
}

// MobileEngine is the engine running in the platform process.
type MobileEngine interface {
	SendKey(sym int, unicode int32, states int, up bool, seq int) error
	MoveCursor(pos int) error
	Focus(focused bool) error
	Reset() error
	IsEmpty() bool
	Activate(uid int, pkg string) error
	ActivateIME(id string) error
	Deactivate(uid int) error
	SetCapabilityFlags(flags int64) error
	// EnabledInputMethods returns a JSON array of
	// {"id","name","language","icon"} objects.
	EnabledInputMethods() (string, error)
}

// MobileView is the platform keyboard view.
type MobileView interface {
	Show(displayID int)
	Remove()
	Recreate()
	ApplyTheme(name string)
}

// Mobile wraps Service for gomobile export.
type Mobile struct {
	svc      *Service
	conn     *mobileConn
	packages *store.Store
	loader   *config.Loader
	logger   *logging.Logger
	registry *prometheus.Registry
	cancel   context.CancelFunc

	mu          sync.Mutex
	metricsSrv  *http.Server
	metricsAddr string
}

// NewMobile creates the service for a platform. configPath may be empty to
// use the default preferences; otherwise the file is watched for changes
// once the service is created.
func NewMobile(host MobileHost, engine MobileEngine, view MobileView, configPath string) (*Mobile, error) {
	cfg := config.DefaultConfig()
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	logger, err := cfg.Logging.NewLogger()
	if err != nil {
		return nil, fmt.Errorf("service: logger: %w", err)
	}

	m := &Mobile{logger: logger, registry: prometheus.NewRegistry()}
	if configPath != "" {
		m.loader = config.NewLoader(configPath, logger.Logger)
		if cfg, err = m.loader.Load(); err != nil {
			m.close()
			return nil, err
		}
	}

	rec, err := metrics.NewReconciler(m.registry)
	if err != nil {
		m.close()
		return nil, err
	}
	m.conn = &mobileConn{engine: engine, events: make(chan ime.Event, 64), done: make(chan struct{})}
	deps := Deps{
		Host:    mobileHost{host},
		Engine:  m.conn,
		View:    view,
		Loader:  m.loader,
		Metrics: rec,
		Logger:  logger.Logger,
	}
	if !cfg.Input.SystemInput && cfg.Display.SocketPath != "" {
		deps.Display = xrdisplay.NewClient(DisplayClientConfig(cfg, logger.Logger))
	}
	if cfg.Store.Path != "" {
		st, err := store.Open(cfg.Store.Path)
		if err != nil {
			m.close()
			return nil, err
		}
		m.packages = st
		deps.Packages = st
	}

	if m.svc, err = New(cfg, deps); err != nil {
		m.close()
		return nil, err
	}
	return m, nil
}

// close releases what NewMobile opened.
func (m *Mobile) close() {
	if m.loader != nil {
		m.loader.Close()
	}
	if m.packages != nil {
		m.packages.Close()
	}
	m.logger.Close()
}

// OnCreate starts the session and watches the preferences file.
func (m *Mobile) OnCreate() {
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.svc.Create(ctx)
	if m.loader != nil {
		if err := m.loader.Watch(); err != nil {
			m.logger.Warn("preferences are not watched", "path", m.loader.Path(), "error", err)
		}
	}
}

// OnDestroy stops the metrics server and the service and releases what
// NewMobile opened.
func (m *Mobile) OnDestroy() {
	m.mu.Lock()
	srv := m.metricsSrv
	m.metricsSrv = nil
	m.mu.Unlock()
	if srv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		srv.Shutdown(ctx)
		cancel()
	}

	m.svc.Destroy()
	if m.cancel != nil {
		m.cancel()
	}
	m.close()
}

// ApplyConfig reloads the preferences file now instead of waiting for the
// file watcher.
func (m *Mobile) ApplyConfig() error {
	if m.loader == nil {
		return errors.New("service: no preferences file")
	}
	return m.loader.Reload()
}

// ServeMetrics exposes the session metrics in the Prometheus text format on
// addr until OnDestroy.
func (m *Mobile) ServeMetrics(addr string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.metricsSrv != nil {
		return errors.New("service: metrics already served")
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("service: metrics listener: %w", err)
	}
	srv := &http.Server{Handler: metrics.Handler(m.registry), ReadHeaderTimeout: 5 * time.Second}
	m.metricsSrv = srv
	m.metricsAddr = ln.Addr().String()
	go func() {
		if err := srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			m.logger.Warn("metrics server stopped", "error", err)
		}
	}()
	return nil
}

// MetricsAddr returns the address ServeMetrics listens on, or "".
func (m *Mobile) MetricsAddr() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.metricsSrv == nil {
		return ""
	}
	return m.metricsAddr
}

// OnBindInput and OnUnbindInput attach and detach the client uid.
func (m *Mobile) OnBindInput(uid int)   { m.svc.Bind(uid) }
func (m *Mobile) OnUnbindInput(uid int) { m.svc.Unbind(uid) }

// OnStartInput starts a field. The arguments are the platform EditorInfo.
func (m *Mobile) OnStartInput(inputType int, imeOptions int64, privateOptions, actionLabel string, actionID, selStart, selEnd int, restarting bool) {
	m.svc.StartInput(editorInfo(inputType, imeOptions, privateOptions, actionLabel, actionID, selStart, selEnd), restarting)
}

// OnStartInputView takes the same arguments as OnStartInput.
func (m *Mobile) OnStartInputView(inputType int, imeOptions int64, privateOptions, actionLabel string, actionID, selStart, selEnd int, restarting bool) {
	m.svc.StartInputView(editorInfo(inputType, imeOptions, privateOptions, actionLabel, actionID, selStart, selEnd), restarting)
}

// OnUpdateSelection forwards the platform selection update.
func (m *Mobile) OnUpdateSelection(oldStart, oldEnd, newStart, newEnd, candStart, candEnd int) {
	m.svc.UpdateSelection(oldStart, oldEnd, newStart, newEnd, candStart, candEnd)
}

// The remaining hooks map one to one onto Service and Session.

func (m *Mobile) OnFinishInputView()         { m.svc.FinishInputView() }
func (m *Mobile) OnFinishInput()             { m.svc.FinishInput() }
func (m *Mobile) OnConfigurationChanged()    { m.svc.ConfigurationChanged() }
func (m *Mobile) OnSubtypeChanged(id string) { m.svc.SubtypeChanged(id) }
func (m *Mobile) DisplayID() int             { return m.svc.DisplayID() }
func (m *Mobile) WindowShowing() bool        { return m.svc.WindowShowing() }
func (m *Mobile) CommitText(text string)     { m.svc.Session().CommitText(text, composing.NoCursor) }
func (m *Mobile) DeleteSelection()           { m.svc.Session().DeleteSelection() }
func (m *Mobile) CancelSelection()           { m.svc.Session().CancelSelection() }
func (m *Mobile) FinishComposing()           { m.svc.Session().FinishComposing() }

func (m *Mobile) ApplySelectionOffset(start, end int) {
	m.svc.Session().ApplySelectionOffset(start, end)
}

// OnKey forwards a physical key and reports whether it was queued for the
// engine.
func (m *Mobile) OnKey(code, meta int, up bool, unicode int32, eventTime int64) bool {
	return m.svc.ForwardKey(ime.KeyEvent{Code: code, Meta: meta, Up: up, Unicode: rune(unicode), Time: eventTime})
}

// Engine output.

func (m *Mobile) OnEngineCommit(text string, cursor int) {
	m.conn.emit(ime.CommitEvent{Text: text, Cursor: cursor})
}

func (m *Mobile) OnEnginePreedit(text string, cursor int) {
	t := composing.Plain(text)
	if text != "" {
		t.Cursor = cursor
	}
	m.conn.emit(ime.PreeditEvent{Text: t})
}

func (m *Mobile) OnEngineKey(sym int, unicode int32, states int, up bool, seq int) {
	m.conn.emit(ime.EngineKeyEvent{
		Sym:        ime.KeySym(sym),
		Unicode:    rune(unicode),
		States:     ime.KeyStates(states),
		Up:         up,
		SequenceID: seq,
	})
}

func (m *Mobile) OnEngineDeleteSurrounding(before, after int) {
	m.conn.emit(ime.DeleteSurroundingEvent{Before: before, After: after})
}

func (m *Mobile) OnEngineInputMethod(id string) {
	m.conn.emit(ime.InputMethodEvent{ID: id})
}

func editorInfo(inputType int, imeOptions int64, privateOptions, actionLabel string, actionID, selStart, selEnd int) ime.EditorInfo {
	return ime.EditorInfo{
		InputType:         inputType,
		ImeOptions:        uint32(imeOptions),
		PrivateImeOptions: privateOptions,
		ActionLabel:       actionLabel,
		ActionID:          actionID,
		InitialSelStart:   selStart,
		InitialSelEnd:     selEnd,
	}
}

// mobileHost adapts MobileHost to Host and ime.Field.
type mobileHost struct {
	h MobileHost
}

func (m mobileHost) Field() ime.Field {
	if !m.h.HasField() {
		return nil
	}
	return m
}

func (m mobileHost) Uptime() int64              { return m.h.Uptime() }
func (m mobileHost) HasSubtype(id string) bool  { return m.h.HasSubtype(id) }
func (m mobileHost) SwitchSubtype(id string)    { m.h.SwitchSubtype(id) }
func (m mobileHost) SetSelection(s, e int) bool { return m.h.SetSelection(s, e) }
func (m mobileHost) FinishComposingText() bool  { return m.h.FinishComposingText() }
func (m mobileHost) BeginBatchEdit() bool       { return m.h.BeginBatchEdit() }
func (m mobileHost) EndBatchEdit() bool         { return m.h.EndBatchEdit() }
func (m mobileHost) PerformEditorAction(a int) bool {
	return m.h.PerformEditorAction(a)
}

func (m mobileHost) CurrentSubtype() (string, bool) {
	id := m.h.CurrentSubtype()
	return id, id != ""
}

func (m mobileHost) PackageName(uid int) (string, bool) {
	name := m.h.PackageName(uid)
	return name, name != ""
}

func (m mobileHost) SetComposingText(text composing.Text, newCursor int) bool {
	return m.h.SetComposingText(text.String(), newCursor)
}

func (m mobileHost) CommitText(text string, newCursor int) bool {
	return m.h.CommitText(text, newCursor)
}

func (m mobileHost) DeleteSurroundingText(before, after int) bool {
	return m.h.DeleteSurroundingText(before, after)
}

func (m mobileHost) SendKeyEvent(ev ime.KeyEvent) bool {
	return m.h.SendKeyEvent(ev.Code, ev.Meta, ev.Up, int32(ev.Unicode), ev.Time)
}

// mobileConn adapts MobileEngine to ime.Connection and ime.Engine.
type mobileConn struct {
	engine MobileEngine
	events chan ime.Event

	mu       sync.RWMutex
	closed   bool
	done     chan struct{}
	doneOnce sync.Once
}

func (c *mobileConn) Ready(ctx context.Context) (ime.Engine, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return nil, ime.ErrEngineUnavailable
	}
	return c, nil
}

func (c *mobileConn) Events() <-chan ime.Event {
	return c.events
}

func (c *mobileConn) emit(ev ime.Event) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return
	}
	select {
	case c.events <- ev:
	case <-c.done:
	}
}

// Close stops event delivery. Service.Destroy calls it.
func (c *mobileConn) Close() error {
	c.doneOnce.Do(func() { close(c.done) })
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.events)
	}
	return nil
}

func (c *mobileConn) SendKey(_ context.Context, k ime.KeyInput) error {
	return c.engine.SendKey(int(k.Sym), int32(k.Unicode), int(k.States), k.Up, k.SequenceID)
}

func (c *mobileConn) MoveCursor(_ context.Context, pos int) error {
	return c.engine.MoveCursor(pos)
}

func (c *mobileConn) Focus(_ context.Context, focused bool) error {
	return c.engine.Focus(focused)
}

func (c *mobileConn) Reset(context.Context) error {
	return c.engine.Reset()
}

func (c *mobileConn) IsEmpty(context.Context) (bool, error) {
	return c.engine.IsEmpty(), nil
}

func (c *mobileConn) Activate(_ context.Context, uid int, pkg string) error {
	return c.engine.Activate(uid, pkg)
}

func (c *mobileConn) ActivateIME(_ context.Context, id string) error {
	return c.engine.ActivateIME(id)
}

func (c *mobileConn) Deactivate(_ context.Context, uid int) error {
	return c.engine.Deactivate(uid)
}

func (c *mobileConn) SetCapabilityFlags(_ context.Context, flags ime.CapabilityFlags) error {
	return c.engine.SetCapabilityFlags(int64(flags))
}

func (c *mobileConn) EnabledInputMethods(context.Context) ([]ime.InputMethod, error) {
	raw, err := c.engine.EnabledInputMethods()
	if err != nil {
		return nil, err
	}
	var entries []struct {
		ID       string `json:"id"`
		Name     string `json:"name"`
		Language string `json:"language"`
		Icon     string `json:"icon"`
	}
	if err := json.Unmarshal([]byte(raw), &entries); err != nil {
		return nil, fmt.Errorf("service: decode input methods: %w", err)
	}
	methods := make([]ime.InputMethod, 0, len(entries))
	for _, e := range entries {
		methods = append(methods, ime.InputMethod{ID: e.ID, Name: e.Name, Language: e.Language, Icon: e.Icon})
	}
	return methods, nil
}
