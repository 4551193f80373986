package xrdisplay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// ServerConfig configures the reference display service.
type ServerConfig struct {
	SocketPath string
	Version    string
	// AllowedUIDs restricts peers by SO_PEERCRED uid. Empty allows any
	// peer that can open the socket.
	AllowedUIDs    []int
	MaxConnections int
	Logger         *slog.Logger
}

// peer is one connected client.
type peer struct {
	id          string
	conn        net.Conn
	uid         int
	name        string
	registered  atomic.Bool
	windowShown atomic.Bool
	writeMu     sync.Mutex
}

func (p *peer) send(msg *Message) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	p.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return msg.Write(p.conn)
}

// Server is a reference implementation of the display service. It tracks
// the current display and pushes changes to clients that registered for
// callbacks.
type Server struct {
	cfg    ServerConfig
	logger *slog.Logger

	mu       sync.RWMutex
	listener net.Listener
	clients  map[string]*peer
	display  int
	shown    bool

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running atomic.Bool
}

// NewServer creates a stopped server with no display.
func NewServer(cfg ServerConfig) *Server {
	if cfg.MaxConnections <= 0 {
		cfg.MaxConnections = 64
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		cfg:     cfg,
		logger:  logger.With(slog.String("component", "xrdisplay-server")),
		clients: make(map[string]*peer),
		display: InvalidDisplay,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start begins listening for connections
func (s *Server) Start() error {
	socketDir := filepath.Dir(s.cfg.SocketPath)
	if err := os.MkdirAll(socketDir, 0700); err != nil {
		return fmt.Errorf("create socket directory: %w", err)
	}
	if err := CleanupSocket(s.cfg.SocketPath); err != nil {
		return fmt.Errorf("remove stale socket: %w", err)
	}

	listener, err := net.Listen("unix", s.cfg.SocketPath)
	if err != nil {
		return fmt.Errorf("listen on socket: %w", err)
	}
	// owner only
	if err := os.Chmod(s.cfg.SocketPath, 0600); err != nil {
		listener.Close()
		return fmt.Errorf("set socket permissions: %w", err)
	}

	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()
	s.running.Store(true)

	s.wg.Add(1)
	go s.acceptLoop(listener)

	s.logger.Info("display service listening", "socket", s.cfg.SocketPath)
	return nil
}

// Stop closes the listener and every client connection and waits for
// their goroutines.
func (s *Server) Stop() error {
	if !s.running.CompareAndSwap(true, false) {
		return nil
	}
	s.cancel()

	s.mu.Lock()
	if s.listener != nil {
		s.listener.Close()
	}
	for _, p := range s.clients {
		p.conn.Close()
	}
	s.mu.Unlock()

	s.wg.Wait()
	if err := os.Remove(s.cfg.SocketPath); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// SocketPath returns the socket path
func (s *Server) SocketPath() string {
	return s.cfg.SocketPath
}

// ClientCount returns the number of connected clients
func (s *Server) ClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

// Display returns the current display id.
func (s *Server) Display() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.display
}

// DisplayShown returns the visibility last set with SetDisplayStatus.
func (s *Server) DisplayShown() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.shown
}

// WindowShown reports the window status a client last sent.
func (s *Server) WindowShown(clientID string) (shown, ok bool) {
	s.mu.RLock()
	p, ok := s.clients[clientID]
	s.mu.RUnlock()
	if !ok {
		return false, false
	}
	return p.windowShown.Load(), true
}

// AnyWindowShown reports whether some client shows its input window.
func (s *Server) AnyWindowShown() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.clients {
		if p.windowShown.Load() {
			return true
		}
	}
	return false
}

// SetDisplay changes the display id and notifies registered clients.
func (s *Server) SetDisplay(id int) {
	s.mu.Lock()
	s.display = id
	s.mu.Unlock()
	s.push(MsgSetImeDisplay, &DisplayPayload{DisplayID: id})
}

// SetDisplayStatus changes display visibility and notifies registered
// clients.
func (s *Server) SetDisplayStatus(show bool) {
	s.mu.Lock()
	s.shown = show
	s.mu.Unlock()
	s.push(MsgSetImeDisplayStatus, &DisplayStatusPayload{Show: show})
}

func (s *Server) push(msgType MessageType, payload any) {
	msg, err := NewResponse(msgType, 0, payload)
	if err != nil {
		s.logger.Error("encode callback", "type", msgType, "error", err)
		return
	}

	s.mu.RLock()
	targets := make([]*peer, 0, len(s.clients))
	for _, p := range s.clients {
		if p.registered.Load() {
			targets = append(targets, p)
		}
	}
	s.mu.RUnlock()

	for _, p := range targets {
		if err := p.send(msg); err != nil {
			s.logger.Debug("push callback", "client_id", p.id, "type", msgType, "error", err)
		}
	}
}

func (s *Server) acceptLoop(listener net.Listener) {
	defer s.wg.Done()

	for {
		conn, err := listener.Accept()
		if err != nil {
			if s.ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			s.logger.Warn("accept", "error", err)
			continue
		}

		p, err := s.admit(conn)
		if err != nil {
			s.logger.Warn("rejected client", "error", err)
			reply := NewErrorMessage(0, ErrCodePermissionDenied, err.Error())
			conn.SetWriteDeadline(time.Now().Add(time.Second))
			reply.Write(conn)
			conn.Close()
			continue
		}

		s.wg.Add(1)
		go s.handleConnection(p)
	}
}

// admit checks peer credentials and the connection limit and records the
// client.
func (s *Server) admit(conn net.Conn) (*peer, error) {
	p := &peer{id: uuid.NewString(), conn: conn, uid: -1}

	if cred, err := PeerCredentials(conn); err == nil {
		p.uid = cred.UID
	} else if len(s.cfg.AllowedUIDs) > 0 {
		return nil, fmt.Errorf("peer credentials: %w", err)
	}
	if len(s.cfg.AllowedUIDs) > 0 && !slices.Contains(s.cfg.AllowedUIDs, p.uid) {
		return nil, fmt.Errorf("uid %d not allowed", p.uid)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.clients) >= s.cfg.MaxConnections {
		return nil, fmt.Errorf("connection limit %d reached", s.cfg.MaxConnections)
	}
	s.clients[p.id] = p
	return p, nil
}

func (s *Server) handleConnection(p *peer) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.clients, p.id)
		s.mu.Unlock()
		p.conn.Close()
		s.logger.Debug("client disconnected", "client_id", p.id)
	}()

	handshaken := false
	for {
		msg, err := ReadMessage(p.conn)
		if err != nil {
			if err != io.EOF && !errors.Is(err, net.ErrClosed) && s.ctx.Err() == nil {
				s.logger.Debug("read message", "client_id", p.id, "error", err)
			}
			return
		}

		if !handshaken && msg.Header.Type != MsgHandshake {
			p.send(NewErrorMessage(msg.Header.RequestID, ErrCodeInvalidRequest, "handshake required"))
			return
		}

		resp := s.processMessage(p, msg)
		if msg.Header.Type == MsgHandshake && resp.Header.Type == MsgHandshakeAck {
			handshaken = true
		}
		if err := p.send(resp); err != nil {
			s.logger.Debug("write response", "client_id", p.id, "error", err)
			return
		}
	}
}

func (s *Server) processMessage(p *peer, msg *Message) *Message {
	reqID := msg.Header.RequestID

	if err := ValidatePayload(msg.Header.Type, msg.Payload); err != nil {
		return NewErrorMessage(reqID, ErrCodeInvalidRequest, err.Error())
	}

	switch msg.Header.Type {
	case MsgPing:
		return NewMessage(MsgPong, reqID, nil)

	case MsgHandshake:
		var req HandshakeRequest
		if err := Decode(msg.Payload, &req); err != nil {
			return NewErrorMessage(reqID, ErrCodeInvalidRequest, err.Error())
		}
		if req.ProtocolVersion > ProtocolVersion {
			return NewErrorMessage(reqID, ErrCodeInvalidRequest,
				fmt.Sprintf("unsupported protocol version %d", req.ProtocolVersion))
		}
		p.name = req.ClientName
		s.logger.Info("client connected", "client_id", p.id, "name", req.ClientName, "uid", p.uid)
		return s.reply(MsgHandshakeAck, reqID, &HandshakeResponse{
			ServerVersion:   s.cfg.Version,
			ProtocolVersion: ProtocolVersion,
			ClientID:        p.id,
		})

	case MsgRegisterCallback:
		p.registered.Store(true)
		return NewMessage(MsgAck, reqID, nil)

	case MsgSendClientWindowStatus:
		var req WindowStatusRequest
		if err := Decode(msg.Payload, &req); err != nil {
			return NewErrorMessage(reqID, ErrCodeInvalidRequest, err.Error())
		}
		p.windowShown.Store(req.Show)
		s.logger.Debug("client window status", "client_id", p.id, "show", req.Show)
		return NewMessage(MsgAck, reqID, nil)

	case MsgGetImeDisplay:
		return s.reply(MsgImeDisplay, reqID, &DisplayPayload{DisplayID: s.Display()})

	default:
		return NewErrorMessage(reqID, ErrCodeInvalidRequest,
			fmt.Sprintf("unsupported message type %s", msg.Header.Type))
	}
}

func (s *Server) reply(msgType MessageType, reqID uint32, payload any) *Message {
	msg, err := NewResponse(msgType, reqID, payload)
	if err != nil {
		return NewErrorMessage(reqID, ErrCodeInternal, err.Error())
	}
	return msg
}
