// Package fcitx connects the input session to a running fcitx5 instance over
// its D-Bus frontend. A Conn implements ime.Connection: engine commands are
// method calls on the current input context and engine output arrives as
// input context signals translated into ime events.
package fcitx

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/godbus/dbus/v5"

	"imebridge/internal/ime"
)

// fcitx5 D-Bus names.
const (
	Service               = "org.fcitx.Fcitx5"
	InputMethodPath       = "/org/freedesktop/portal/inputmethod"
	InputMethodInterface  = "org.fcitx.Fcitx.InputMethod1"
	InputContextInterface = "org.fcitx.Fcitx.InputContext1"
	ControllerPath        = "/controller"
	ControllerInterface   = "org.fcitx.Fcitx.Controller1"
)

const eventBacklog = 256

var errNoInputContext = errors.New("fcitx: no active input context")

// Config selects the bus and identifies the client to fcitx.
type Config struct {
	// Bus is "session", "system" or a D-Bus address.
	Bus string
	// ProgramName is reported to fcitx when no package name is known.
	ProgramName string
	Logger      *slog.Logger
}

// inputContext is one fcitx input context, created per client uid.
type inputContext struct {
	uid  int
	pkg  string
	path dbus.ObjectPath
}

// Conn is a connection to fcitx5.
type Conn struct {
	cfg    Config
	bus    *dbus.Conn
	logger *slog.Logger

	mu       sync.Mutex
	contexts map[int]*inputContext
	active   *inputContext
	closed   bool

	preeditEmpty atomic.Bool

	signals   chan *dbus.Signal
	events    chan ime.Event
	emitMu    sync.RWMutex
	drained   bool
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// Dial connects to the configured bus and starts translating fcitx signals.
func Dial(ctx context.Context, cfg Config) (*Conn, error) {
	bus, err := connectBus(ctx, cfg.Bus)
	if err != nil {
		return nil, fmt.Errorf("fcitx: connect %s bus: %w", busName(cfg.Bus), err)
	}
	c := newConn(bus, cfg)
	if err := bus.AddMatchSignalContext(ctx,
		dbus.WithMatchSender(Service),
		dbus.WithMatchInterface(InputContextInterface),
	); err != nil {
		bus.Close()
		return nil, fmt.Errorf("fcitx: subscribe to input context signals: %w", err)
	}
	bus.Signal(c.signals)
	c.wg.Add(1)
	go c.signalLoop()
	c.logger.Info("connected to fcitx", "bus", busName(cfg.Bus))
	return c, nil
}

func newConn(bus *dbus.Conn, cfg Config) *Conn {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ProgramName == "" {
		cfg.ProgramName = "imebridge"
	}
	c := &Conn{
		cfg:      cfg,
		bus:      bus,
		logger:   logger.With(slog.String("component", "fcitx")),
		contexts: make(map[int]*inputContext),
		signals:  make(chan *dbus.Signal, eventBacklog),
		events:   make(chan ime.Event, eventBacklog),
		done:     make(chan struct{}),
	}
	c.preeditEmpty.Store(true)
	return c
}

func connectBus(ctx context.Context, bus string) (*dbus.Conn, error) {
	switch bus {
	case "", "session":
		return dbus.ConnectSessionBus(dbus.WithContext(ctx))
	case "system":
		return dbus.ConnectSystemBus(dbus.WithContext(ctx))
	default:
		return dbus.Connect(bus, dbus.WithContext(ctx))
	}
}

func busName(bus string) string {
	if bus == "" {
		return "session"
	}
	return bus
}

// Ready returns the engine. Calls fail with ime.ErrEngineUnavailable once
// the connection is closed or lost.
func (c *Conn) Ready(ctx context.Context) (ime.Engine, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed || (c.bus != nil && !c.bus.Connected()) {
		return nil, ime.ErrEngineUnavailable
	}
	return c, nil
}

// Events returns engine events. The channel is closed by Close.
func (c *Conn) Events() <-chan ime.Event {
	return c.events
}

// Close destroys every input context and disconnects.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		contexts := c.contexts
		c.contexts = make(map[int]*inputContext)
		c.active = nil
		c.mu.Unlock()

		ctx := context.Background()
		for _, ic := range contexts {
			if c.bus == nil {
				break
			}
			if cerr := c.callIC(ctx, ic.path, "DestroyIC"); cerr != nil {
				c.logger.Debug("destroy input context", "uid", ic.uid, "error", cerr)
			}
		}
		close(c.done)
		if c.bus != nil {
			c.bus.RemoveSignal(c.signals)
			err = c.bus.Close()
		}
		c.wg.Wait()
		c.emitMu.Lock()
		c.drained = true
		close(c.events)
		c.emitMu.Unlock()
	})
	return err
}

func (c *Conn) signalLoop() {
	defer c.wg.Done()
	for {
		select {
		case <-c.done:
			return
		case sig, ok := <-c.signals:
			if !ok {
				return
			}
			if !c.ownsPath(sig.Path) {
				continue
			}
			ev, err := decodeSignal(sig)
			if err != nil {
				c.logger.Warn("bad fcitx signal", "signal", sig.Name, "error", err)
				continue
			}
			if ev == nil {
				continue
			}
			if p, ok := ev.(ime.PreeditEvent); ok {
				c.preeditEmpty.Store(p.Text.IsEmpty())
			}
			c.emit(ev)
		}
	}
}

func (c *Conn) emit(ev ime.Event) {
	c.emitMu.RLock()
	defer c.emitMu.RUnlock()
	if c.drained {
		return
	}
	select {
	case c.events <- ev:
	case <-c.done:
	}
}

// ownsPath reports whether path is the active input context. Signals from
// contexts of other clients are dropped.
func (c *Conn) ownsPath(path dbus.ObjectPath) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active != nil && c.active.path == path
}

func (c *Conn) activeContext() (*inputContext, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active == nil {
		return nil, errNoInputContext
	}
	return c.active, nil
}

func (c *Conn) callIC(ctx context.Context, path dbus.ObjectPath, method string, args ...any) error {
	obj := c.bus.Object(Service, path)
	return obj.CallWithContext(ctx, InputContextInterface+"."+method, 0, args...).Err
}

func (c *Conn) callActive(ctx context.Context, method string, args ...any) error {
	ic, err := c.activeContext()
	if err != nil {
		return err
	}
	if err := c.callIC(ctx, ic.path, method, args...); err != nil {
		return fmt.Errorf("fcitx: %s: %w", method, err)
	}
	return nil
}

func (c *Conn) controller() dbus.BusObject {
	return c.bus.Object(Service, ControllerPath)
}
