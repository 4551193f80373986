package service

import (
	"context"
	"log/slog"
	"time"

	"imebridge/internal/config"
	"imebridge/internal/xrdisplay"
)

func (s *Service) connectDisplay(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if err := s.display.RegisterCallback(displayHandler{s}); err != nil {
		s.logger.Debug("display callback not registered", "error", err)
	}
	if err := s.display.Connect(ctx); err != nil {
		s.logger.Warn("display service unavailable", "error", err)
	}
}

// showWindow shows the keyboard on the input display, asking the display
// service for one when none is known.
func (s *Service) showWindow() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.displayID == xrdisplay.InvalidDisplay {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		id, err := s.display.DisplayID(ctx)
		cancel()
		if err != nil {
			s.logger.Debug("no input display", "error", err)
			return
		}
		s.displayID = id
		if id == xrdisplay.InvalidDisplay {
			return
		}
	}

	s.logger.Debug("showing input view", "display", s.displayID)
	s.view.Show(s.displayID)
	s.windowShowing = true
	s.sendWindowStatus(true)
}

func (s *Service) hideWindow() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.windowShowing {
		return
	}
	s.view.Remove()
	s.windowShowing = false
	s.sendWindowStatus(false)
}

// sendWindowStatus must be called with mu held.
func (s *Service) sendWindowStatus(show bool) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	if err := s.display.SendWindowStatus(ctx, show); err != nil {
		s.logger.Debug("window status not sent", "show", show, "error", err)
	}
}

// DisplayID returns the known input display, or xrdisplay.InvalidDisplay.
func (s *Service) DisplayID() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.displayID
}

// WindowShowing reports whether the keyboard window is on the input display.
func (s *Service) WindowShowing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.windowShowing
}

// DisplayShowing reports the last visibility the display service pushed.
func (s *Service) DisplayShowing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.displayShowing
}

// displayHandler receives display service callbacks.
type displayHandler struct {
	s *Service
}

// DisplayRemoved drops the keyboard window from a display that is gone.
func (h displayHandler) DisplayRemoved() {
	s := h.s
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logger.Info("input display removed", "display", s.displayID)
	if s.windowShowing {
		s.view.Remove()
		s.windowShowing = false
	}
}

func (h displayHandler) DisplayChanged(id int) {
	s := h.s
	s.mu.Lock()
	defer s.mu.Unlock()
	s.displayID = id
}

func (h displayHandler) DisplayStatusChanged(show bool) {
	s := h.s
	s.mu.Lock()
	defer s.mu.Unlock()
	s.displayShowing = show
}

// DisplayClientConfig maps the [display] preferences to a display client
// configuration.
func DisplayClientConfig(cfg *config.Config, logger *slog.Logger) xrdisplay.ClientConfig {
	cc := xrdisplay.DefaultClientConfig(cfg.Display.SocketPath)
	if cfg.Display.RequestTimeoutMs > 0 {
		cc.RequestTimeout = time.Duration(cfg.Display.RequestTimeoutMs) * time.Millisecond
	}
	cc.AutoReconnect = cfg.Display.AutoReconnect
	cc.MaxReconnect = cfg.Display.MaxReconnect
	cc.ClientName = cfg.Engine.ProgramName
	cc.Logger = logger
	return cc
}
