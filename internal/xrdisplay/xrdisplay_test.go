package xrdisplay

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestHeaderRoundTrip(t *testing.T) {
	msg := NewMessage(MsgGetImeDisplay, 42, []byte(`{"display_id":3}`))
	var buf bytes.Buffer
	require.NoError(t, msg.Write(&buf))
	assert.Equal(t, HeaderSize+len(msg.Payload), buf.Len())

	got, err := ReadMessage(&buf)
	require.NoError(t, err)
	assert.Equal(t, msg.Header, got.Header)
	assert.Equal(t, msg.Payload, got.Payload)
}

func TestReadMessageRejects(t *testing.T) {
	t.Run("bad magic", func(t *testing.T) {
		h := Header{Magic: 0xdeadbeef, Version: ProtocolVersion, Type: MsgPing}
		var buf bytes.Buffer
		require.NoError(t, h.Write(&buf))
		_, err := ReadMessage(&buf)
		assert.ErrorContains(t, err, "invalid magic")
	})

	t.Run("newer version", func(t *testing.T) {
		h := Header{Magic: ProtocolMagic, Version: ProtocolVersion + 1, Type: MsgPing}
		var buf bytes.Buffer
		require.NoError(t, h.Write(&buf))
		_, err := ReadMessage(&buf)
		assert.ErrorContains(t, err, "unsupported protocol version")
	})

	t.Run("oversized payload", func(t *testing.T) {
		h := Header{Magic: ProtocolMagic, Version: ProtocolVersion, Type: MsgPing, Length: MaxPayload + 1}
		var buf bytes.Buffer
		require.NoError(t, h.Write(&buf))
		_, err := ReadMessage(&buf)
		assert.ErrorContains(t, err, "payload too large")
	})
}

func TestValidatePayload(t *testing.T) {
	tests := []struct {
		typ     MessageType
		payload string
		ok      bool
	}{
		{MsgHandshake, `{"client_name":"imebridge","protocol_version":1}`, true},
		{MsgHandshake, `{"client_name":"","protocol_version":1}`, false},
		{MsgSendClientWindowStatus, `{"show":true}`, true},
		{MsgSendClientWindowStatus, `{"show":"yes"}`, false},
		{MsgSendClientWindowStatus, `{"show":true,"extra":1}`, false},
		{MsgSetImeDisplay, `{"display_id":-1}`, true},
		{MsgSetImeDisplay, `{"display_id":-2}`, false},
		{MsgImeDisplay, `{}`, false},
		{MsgSetImeDisplayStatus, `{"show":false}`, true},
		{MsgError, `{"code":2,"message":"bad"}`, true},
		{MsgPing, ``, true},
	}
	for _, tc := range tests {
		t.Run(fmt.Sprintf("%s %s", tc.typ, tc.payload), func(t *testing.T) {
			err := ValidatePayload(tc.typ, []byte(tc.payload))
			if tc.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

// recorder is a Handler that logs callbacks with the client's display id
// at the time of the call.
type recorder struct {
	client *Client
	mu     sync.Mutex
	events []string
}

func (r *recorder) DisplayRemoved() {
	r.add("removed(%d)", r.client.CurrentDisplay())
}

func (r *recorder) DisplayChanged(id int) {
	r.add("changed(%d)", id)
}

func (r *recorder) DisplayStatusChanged(show bool) {
	r.add("status(%t)", show)
}

func (r *recorder) add(format string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, fmt.Sprintf(format, args...))
}

func (r *recorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func startServer(t *testing.T, cfg ServerConfig) *Server {
	t.Helper()
	if cfg.SocketPath == "" {
		cfg.SocketPath = filepath.Join(t.TempDir(), "xr.sock")
	}
	cfg.Version = "test"
	s := NewServer(cfg)
	require.NoError(t, s.Start())
	t.Cleanup(func() { _ = s.Stop() })
	return s
}

func newTestClient(t *testing.T, s *Server) *Client {
	t.Helper()
	cfg := DefaultClientConfig(s.SocketPath())
	cfg.AutoReconnect = false
	cfg.RequestTimeout = 2 * time.Second
	c := NewClient(cfg)
	t.Cleanup(func() { _ = c.Disconnect() })
	return c
}

func TestClientRequests(t *testing.T) {
	s := startServer(t, ServerConfig{})
	c := newTestClient(t, s)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := c.DisplayID(ctx)
	assert.ErrorIs(t, err, ErrNotConnected)

	require.NoError(t, c.Connect(ctx))
	require.NoError(t, c.Connect(ctx))
	assert.True(t, c.IsConnected())
	assert.NotEmpty(t, c.ClientID())
	assert.Equal(t, 1, s.ClientCount())

	id, err := c.DisplayID(ctx)
	require.NoError(t, err)
	assert.Equal(t, InvalidDisplay, id)

	s.SetDisplay(3)
	id, err = c.DisplayID(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, id)
	assert.Equal(t, 3, c.CurrentDisplay())

	require.NoError(t, c.SendWindowStatus(ctx, true))
	shown, ok := s.WindowShown(c.ClientID())
	assert.True(t, ok)
	assert.True(t, shown)
	assert.True(t, s.AnyWindowShown())

	require.NoError(t, c.SendWindowStatus(ctx, false))
	assert.False(t, s.AnyWindowShown())
}

func TestCallbacks(t *testing.T) {
	s := startServer(t, ServerConfig{})
	c := newTestClient(t, s)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	rec := &recorder{client: c}
	require.NoError(t, c.RegisterCallback(rec))
	require.NoError(t, c.Connect(ctx))

	s.SetDisplay(5)
	s.SetDisplayStatus(true)
	s.SetDisplay(InvalidDisplay)

	want := []string{"changed(5)", "status(true)", "removed(5)", "changed(-1)"}
	require.Eventually(t, func() bool {
		return len(rec.snapshot()) == len(want)
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, want, rec.snapshot())
	assert.Equal(t, InvalidDisplay, c.CurrentDisplay())
	assert.True(t, c.DisplayShown())
}

func TestRegisterAfterConnect(t *testing.T) {
	s := startServer(t, ServerConfig{})
	c := newTestClient(t, s)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, c.Connect(ctx))
	rec := &recorder{client: c}
	require.NoError(t, c.RegisterCallback(rec))

	s.SetDisplay(7)
	require.Eventually(t, func() bool {
		return c.CurrentDisplay() == 7
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"changed(7)"}, rec.snapshot())
}

func TestUnregisteredClientGetsNoCallbacks(t *testing.T) {
	s := startServer(t, ServerConfig{})
	c := newTestClient(t, s)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, c.Connect(ctx))
	rec := &recorder{client: c}
	c.mu.Lock()
	c.handler = rec
	c.mu.Unlock()

	s.SetDisplay(9)
	// a pushed callback would arrive before this reply
	require.NoError(t, c.SendWindowStatus(ctx, true))
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, rec.snapshot())
	assert.Equal(t, InvalidDisplay, c.CurrentDisplay())
}

func TestDisconnectInvalidatesDisplay(t *testing.T) {
	s := startServer(t, ServerConfig{})
	c := newTestClient(t, s)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	s.SetDisplay(2)
	require.NoError(t, c.Connect(ctx))
	_, err := c.DisplayID(ctx)
	require.NoError(t, err)

	require.NoError(t, c.Disconnect())
	assert.False(t, c.IsConnected())
	assert.Equal(t, InvalidDisplay, c.CurrentDisplay())
	_, err = c.DisplayID(ctx)
	assert.ErrorIs(t, err, ErrNotConnected)

	require.NoError(t, c.Connect(ctx))
	id, err := c.DisplayID(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, id)
}

func TestServerStopInvalidatesDisplay(t *testing.T) {
	s := startServer(t, ServerConfig{})
	c := newTestClient(t, s)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	rec := &recorder{client: c}
	require.NoError(t, c.RegisterCallback(rec))
	require.NoError(t, c.Connect(ctx))
	s.SetDisplay(4)
	require.Eventually(t, func() bool { return c.CurrentDisplay() == 4 }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, s.Stop())
	require.Eventually(t, func() bool { return !c.IsConnected() }, 2*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return c.CurrentDisplay() == InvalidDisplay }, 2*time.Second, 5*time.Millisecond)
	assert.Contains(t, rec.snapshot(), "removed(4)")
}

func TestConnectWithoutService(t *testing.T) {
	c := NewClient(DefaultClientConfig(filepath.Join(t.TempDir(), "missing.sock")))
	err := c.Connect(context.Background())
	assert.ErrorIs(t, err, ErrServiceNotRunning)
}

func TestPeerAllowList(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("peer credentials are linux only")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	t.Run("allowed", func(t *testing.T) {
		s := startServer(t, ServerConfig{AllowedUIDs: []int{os.Getuid()}})
		c := newTestClient(t, s)
		require.NoError(t, c.Connect(ctx))
	})

	t.Run("rejected", func(t *testing.T) {
		s := startServer(t, ServerConfig{AllowedUIDs: []int{os.Getuid() + 1}})
		c := newTestClient(t, s)
		err := c.Connect(ctx)
		var remote *RemoteError
		require.ErrorAs(t, err, &remote)
		assert.Equal(t, ErrCodePermissionDenied, remote.Code)
		assert.False(t, c.IsConnected())
	})
}

func TestServerRequiresHandshake(t *testing.T) {
	s := startServer(t, ServerConfig{})
	conn, err := net.Dial("unix", s.SocketPath())
	require.NoError(t, err)
	defer conn.Close()

	c := NewClient(DefaultClientConfig(s.SocketPath()))
	resp, err := c.exchange(conn, MsgGetImeDisplay, nil)
	var remote *RemoteError
	require.ErrorAs(t, err, &remote)
	assert.Equal(t, ErrCodeInvalidRequest, remote.Code)
	assert.Equal(t, MsgError, resp.Header.Type)
}
