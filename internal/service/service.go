// Package service is the facade an input method host shell drives. It owns
// one ime.Session and the collaborators around it: the secondary display
// service that hosts the keyboard window, the package name cache used when
// binding clients, and the session's preference subscriptions.
//
// Every lifecycle hook is safe to call in any order and never fails; problems
// with collaborators are logged and the hook degrades to a no-op.
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"imebridge/internal/config"
	"imebridge/internal/ime"
	"imebridge/internal/jobs"
	"imebridge/internal/metrics"
	"imebridge/internal/store"
	"imebridge/internal/xrdisplay"
)

// Host is the input method host shell.
type Host interface {
	ime.Host
	// PackageName returns the package that owns uid.
	PackageName(uid int) (string, bool)
}

// InputView is the keyboard view of the host shell.
type InputView interface {
	// Show attaches the view to a secondary display.
	Show(displayID int)
	// Remove detaches the view from the secondary display.
	Remove()
	// Recreate rebuilds the view after a layout preference changed.
	Recreate()
	// ApplyTheme switches the view to a theme.
	ApplyTheme(name string)
}

// Deps are the collaborators of a Service. Host and Engine are required.
type Deps struct {
	Host   Host
	Engine ime.Connection
	// View defaults to a view that does nothing.
	View InputView
	// Display is the secondary display service. It is ignored when
	// input.system_input is set.
	Display  xrdisplay.Service
	Packages *store.Store
	Loader   *config.Loader
	Metrics  *metrics.Reconciler
	Logger   *slog.Logger
}

// Service drives one input session on behalf of the host shell.
type Service struct {
	cfg      *config.Config
	host     Host
	view     InputView
	engine   ime.Connection
	display  xrdisplay.Service
	packages *store.Store
	loader   *config.Loader
	metrics  *metrics.Reconciler
	logger   *slog.Logger
	timeout  time.Duration

	session  *ime.Session
	registry *config.Registry
	unsubs   []func()

	mu             sync.Mutex
	displayID      int
	windowShowing  bool
	displayShowing bool

	createOnce  sync.Once
	destroyOnce sync.Once
}

// New builds a service. Create must be called before the lifecycle hooks.
func New(cfg *config.Config, deps Deps) (*Service, error) {
	if deps.Host == nil || deps.Engine == nil {
		return nil, errors.New("service: host and engine are required")
	}
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	view := deps.View
	if view == nil {
		view = nopView{}
	}

	opts := ime.Options{
		IgnoreSystemCursor: cfg.Input.IgnoreSystemCursor,
		KeyCacheCapacity:   cfg.Input.KeyCacheCapacity,
		Logger:             logger,
	}
	var jobOpts []jobs.Option
	if deps.Metrics != nil {
		opts.Observer = deps.Metrics
		jobOpts = append(jobOpts, jobs.WithObserver(deps.Metrics))
	}
	session, err := ime.NewSession(deps.Host, deps.Engine, opts, jobOpts...)
	if err != nil {
		return nil, fmt.Errorf("service: %w", err)
	}

	s := &Service{
		cfg:       cfg.Clone(),
		host:      deps.Host,
		view:      view,
		engine:    deps.Engine,
		packages:  deps.Packages,
		loader:    deps.Loader,
		metrics:   deps.Metrics,
		logger:    logger.With(slog.String("component", "service"), slog.String("session", session.ID())),
		timeout:   time.Duration(cfg.Display.RequestTimeoutMs) * time.Millisecond,
		session:   session,
		registry:  config.NewRegistry(),
		displayID: xrdisplay.InvalidDisplay,
	}
	if !cfg.Input.SystemInput {
		s.display = deps.Display
	}
	if s.timeout <= 0 {
		s.timeout = 5 * time.Second
	}
	return s, nil
}

// Session returns the input session.
func (s *Service) Session() *ime.Session {
	return s.session
}

// Registry returns the session's preference registry.
func (s *Service) Registry() *config.Registry {
	return s.registry
}

// Create starts the session, connects the secondary display service and
// subscribes to preference changes.
func (s *Service) Create(ctx context.Context) {
	s.createOnce.Do(func() {
		s.session.Start(ctx)
		s.subscribe()
		if s.loader != nil {
			s.loader.Attach(s.registry)
		}
		if s.display != nil {
			s.connectDisplay(ctx)
		}
		if _, ok := s.host.(ime.SubtypeSyncer); ok {
			s.session.SyncSubtypes()
		}
		s.metrics.SessionCreated()
		s.logger.Info("input service created", "system_input", s.display == nil)
	})
}

// Destroy drops the preference subscriptions, disconnects the display
// service, stops the session and closes the engine connection.
func (s *Service) Destroy() {
	s.destroyOnce.Do(func() {
		if s.loader != nil {
			s.loader.Detach(s.registry)
		}
		for _, unsub := range s.unsubs {
			unsub()
		}
		s.registry.Close()

		if s.display != nil {
			if err := s.display.Disconnect(); err != nil {
				s.logger.Debug("display disconnect", "error", err)
			}
		}
		s.mu.Lock()
		s.displayID = xrdisplay.InvalidDisplay
		s.windowShowing = false
		s.mu.Unlock()

		if err := s.session.Close(); err != nil {
			s.logger.Debug("session close", "error", err)
		}
		if c, ok := s.engine.(io.Closer); ok {
			if err := c.Close(); err != nil {
				s.logger.Warn("engine close", "error", err)
			}
		}
		s.metrics.SessionDestroyed()
		s.logger.Info("input service destroyed")
	})
}

// ApplyConfig notifies the session's subscribers of a new preference set.
// It is used when preferences are not watched through a Loader.
func (s *Service) ApplyConfig(cfg *config.Config) {
	s.mu.Lock()
	old := s.cfg
	s.cfg = cfg.Clone()
	s.mu.Unlock()
	s.registry.Notify(old, cfg)
}

func (s *Service) subscribe() {
	s.unsubs = append(s.unsubs,
		s.registry.Subscribe(config.KeyIgnoreSystemCursor, func(_, new *config.Config) {
			s.session.SetIgnoreSystemCursor(new.Input.IgnoreSystemCursor)
		}),
		s.registry.Subscribe(config.KeyExpandKeypressArea, s.recreateView),
		s.registry.Subscribe(config.KeyDisableAnimation, s.recreateView),
		s.registry.Subscribe(config.KeyTheme, func(_, new *config.Config) {
			s.view.ApplyTheme(new.Theme.Name)
		}),
	)
}

func (s *Service) recreateView(_, _ *config.Config) {
	s.view.Recreate()
}

// Bind attaches a client application.
func (s *Service) Bind(uid int) {
	s.session.Bind(uid, s.packageName(uid))
}

// Unbind detaches the client application uid.
func (s *Service) Unbind(uid int) {
	s.session.Unbind(uid)
}

// StartInput begins a new input field, or a restart of the current one.
func (s *Service) StartInput(info ime.EditorInfo, restarting bool) {
	s.session.StartInput(info, restarting)
}

// StartInputView focuses the engine and, outside system input mode, shows
// the keyboard on the secondary display.
func (s *Service) StartInputView(info ime.EditorInfo, restarting bool) {
	s.session.StartInputView(info, restarting)
	if s.display != nil {
		s.showWindow()
	}
}

// UpdateSelection reports the field's selection and composing span as the
// host sees them.
func (s *Service) UpdateSelection(oldStart, oldEnd, newStart, newEnd, candStart, candEnd int) {
	s.session.UpdateSelection(oldStart, oldEnd, newStart, newEnd, candStart, candEnd)
}

// FinishInputView unfocuses the engine and removes the keyboard window.
func (s *Service) FinishInputView() {
	s.session.FinishInputView()
	if s.display != nil {
		s.hideWindow()
	}
}

// FinishInput ends the current input field.
func (s *Service) FinishInput() {
	s.session.FinishInput()
}

// ConfigurationChanged tells the session the host configuration changed.
func (s *Service) ConfigurationChanged() {
	s.session.ConfigurationChanged()
}

// SubtypeChanged switches the engine to the host's new subtype id.
func (s *Service) SubtypeChanged(id string) {
	s.session.SubtypeChanged(id)
}

// ForwardKey hands a physical key to the engine and reports whether it was
// queued.
func (s *Service) ForwardKey(ev ime.KeyEvent) bool {
	return s.session.ForwardKey(ev)
}

type nopView struct{}

func (nopView) Show(int)          {}
func (nopView) Remove()           {}
func (nopView) Recreate()         {}
func (nopView) ApplyTheme(string) {}
