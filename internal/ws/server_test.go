package ws

import (
	"context"
	"io"
	"net"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starapp/chat-server/internal/chat"
	"github.com/starapp/chat-server/internal/protocol"
)

func startTestServer(t *testing.T) (*Server, *chat.Hub, string) {
	t.Helper()
	hub := chat.NewHub(chat.DefaultConfig())
	d := NewMessageDispatcher(hub, DefaultDispatcherConfig())

	cfg := DefaultServerConfig()
	cfg.WorkerPoolSize = 8
	cfg.ReadTimeout = time.Second
	cfg.Heartbeat = HeartbeatConfig{}
	cfg.MaxFrameBytes = 1 << 16
	srv := NewServer(cfg, hub, d.Dispatch)
	require.NoError(t, srv.Start())

	ts := httptest.NewServer(srv)
	t.Cleanup(func() {
		srv.Shutdown()
		ts.Close()
		hub.Close()
	})
	return srv, hub, "ws" + strings.TrimPrefix(ts.URL, "http")
}

func dial(t *testing.T, url string) net.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	conn, br, _, err := ws.Dial(ctx, url)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	if br != nil {
		// Frames sent right after the handshake may already be buffered.
		return bufferedConn{Conn: conn, r: io.MultiReader(br, conn)}
	}
	return conn
}

type bufferedConn struct {
	net.Conn
	r io.Reader
}

func (c bufferedConn) Read(p []byte) (int, error) { return c.r.Read(p) }

func send(t *testing.T, conn net.Conn, data string) {
	t.Helper()
	require.NoError(t, wsutil.WriteClientText(conn, []byte(data)))
}

// expect reads frames until one of type typ arrives.
func expect(t *testing.T, conn net.Conn, typ string) interface{} {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	defer conn.SetReadDeadline(time.Time{})
	for {
		data, err := wsutil.ReadServerText(conn)
		require.NoError(t, err, "waiting for %s", typ)
		got, msg, err := protocol.ParseServerMessage(data)
		require.NoError(t, err)
		if got == typ {
			return msg
		}
	}
}

func TestServerSessionLifecycle(t *testing.T) {
	srv, hub, url := startTestServer(t)

	alice := dial(t, url)
	created := expect(t, alice, protocol.TypeSessionCreated).(protocol.SessionCreatedMsg)
	require.NotEmpty(t, created.SessionID)

	send(t, alice, `{"type":"join","display_name":"alice"}`)
	expect(t, alice, protocol.TypePresenceList)

	bob := dial(t, url)
	bobID := expect(t, bob, protocol.TypeSessionCreated).(protocol.SessionCreatedMsg).SessionID
	send(t, bob, `{"type":"join","display_name":"bob"}`)
	presence := expect(t, alice, protocol.TypePresenceList).(chat.PresencePayload)
	assert.Len(t, presence.Sessions, 2)

	send(t, alice, `{"type":"send_private","recipient_id":"`+bobID+`","body":{"kind":"encrypted","ciphertext":"abc"}}`)
	pm := expect(t, bob, protocol.TypePrivateMessage).(chat.MessagePayload)
	assert.Equal(t, chat.EncryptedBlob{Ciphertext: "abc"}, pm.Message.Body)
	expect(t, alice, protocol.TypeDeliveryAck)

	send(t, bob, `{"type":"ping"}`)
	expect(t, bob, protocol.TypePong)

	bob.Close()
	require.Eventually(t, func() bool { return len(hub.Presence()) == 1 }, 3*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool { return srv.Connections().Count() == 1 }, 3*time.Second, 10*time.Millisecond)

	left := false
	for _, m := range hub.History() {
		if m.Kind == chat.KindSystem && chat.Preview(m.Body) == "bob left" {
			left = true
		}
	}
	assert.True(t, left, "leave announcement missing")
}

func TestServerRejectsOversizedFrames(t *testing.T) {
	srv, _, url := startTestServer(t)
	conn := dial(t, url)
	expect(t, conn, protocol.TypeSessionCreated)

	big := `{"type":"join","display_name":"` + strings.Repeat("x", 1<<17) + `"}`
	_ = wsutil.WriteClientText(conn, []byte(big)) // the server may reset mid-write
	require.Eventually(t, func() bool { return srv.Connections().Count() == 0 }, 3*time.Second, 10*time.Millisecond)
}

func writeClientFrame(t *testing.T, conn net.Conn, f ws.Frame) {
	t.Helper()
	require.NoError(t, ws.WriteFrame(conn, ws.MaskFrameInPlace(f)))
}

func TestServerDrainsControlFramePayloads(t *testing.T) {
	srv, hub, url := startTestServer(t)
	conn := dial(t, url)
	expect(t, conn, protocol.TypeSessionCreated)

	writeClientFrame(t, conn, ws.NewPingFrame([]byte("are you there")))
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	pong, err := ws.ReadFrame(conn)
	require.NoError(t, err)
	_ = conn.SetReadDeadline(time.Time{})
	assert.Equal(t, ws.OpPong, pong.Header.OpCode)
	assert.Equal(t, "are you there", string(pong.Payload))

	writeClientFrame(t, conn, ws.NewPongFrame([]byte("unsolicited")))
	send(t, conn, `{"type":"join","display_name":"alice"}`)
	presence := expect(t, conn, protocol.TypePresenceList).(chat.PresencePayload)
	require.Len(t, presence.Sessions, 1)
	assert.Equal(t, "alice", presence.Sessions[0].DisplayName)
	assert.Equal(t, 1, srv.Connections().Count())
	assert.Len(t, hub.Presence(), 1)
}

func TestServerReassemblesFragmentedMessages(t *testing.T) {
	_, hub, url := startTestServer(t)
	conn := dial(t, url)
	expect(t, conn, protocol.TypeSessionCreated)

	msg := []byte(`{"type":"join","display_name":"alice"}`)
	writeClientFrame(t, conn, ws.NewFrame(ws.OpText, false, msg[:10]))
	writeClientFrame(t, conn, ws.NewPingFrame([]byte("mid")))
	writeClientFrame(t, conn, ws.NewFrame(ws.OpContinuation, false, msg[10:20]))
	writeClientFrame(t, conn, ws.NewFrame(ws.OpContinuation, true, msg[20:]))

	presence := expect(t, conn, protocol.TypePresenceList).(chat.PresencePayload)
	require.Len(t, presence.Sessions, 1)
	assert.Equal(t, "alice", presence.Sessions[0].DisplayName)
	assert.Len(t, hub.Presence(), 1)
}

func TestServerRejectsOversizedFragmentedMessages(t *testing.T) {
	srv, _, url := startTestServer(t)
	conn := dial(t, url)
	expect(t, conn, protocol.TypeSessionCreated)

	// Each fragment fits the limit; the message does not.
	writeClientFrame(t, conn, ws.NewFrame(ws.OpText, false, []byte(`{"type":"join","display_name":"`)))
	for i := 0; i < 3; i++ {
		chunk := []byte(strings.Repeat("x", 1<<15))
		_ = ws.WriteFrame(conn, ws.MaskFrameInPlace(ws.NewFrame(ws.OpContinuation, false, chunk)))
	}
	_ = ws.WriteFrame(conn, ws.MaskFrameInPlace(ws.NewFrame(ws.OpContinuation, true, []byte(`"}`))))
	require.Eventually(t, func() bool { return srv.Connections().Count() == 0 }, 3*time.Second, 10*time.Millisecond)
}

func TestServerMaxConnections(t *testing.T) {
	hub := chat.NewHub(chat.DefaultConfig())
	defer hub.Close()
	cfg := DefaultServerConfig()
	cfg.MaxConnections = 1
	cfg.Heartbeat = HeartbeatConfig{}
	srv := NewServer(cfg, hub, nil)
	require.NoError(t, srv.Start())
	defer srv.Shutdown()
	ts := httptest.NewServer(srv)
	defer ts.Close()
	url := "ws" + strings.TrimPrefix(ts.URL, "http")

	first := dial(t, url)
	expect(t, first, protocol.TypeSessionCreated)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, _, _, err := ws.Dial(ctx, url)
	assert.Error(t, err)
}

func TestHeartbeatSweep(t *testing.T) {
	srv, _, url := startTestServer(t)
	conn := dial(t, url)
	expect(t, conn, protocol.TypeSessionCreated)
	require.Eventually(t, func() bool { return srv.Connections().Count() == 1 }, time.Second, 10*time.Millisecond)

	cfg := HeartbeatConfig{Interval: time.Minute, Timeout: 10 * time.Second}
	now := time.Now()

	assert.Equal(t, sweepResult{skipped: 1}, srv.sweep(now, cfg))
	assert.Equal(t, sweepResult{pinged: 1}, srv.sweep(now.Add(45*time.Second), cfg))

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	frame, err := ws.ReadFrame(conn)
	require.NoError(t, err)
	assert.Equal(t, ws.OpPing, frame.Header.OpCode)

	assert.Equal(t, sweepResult{expired: 1}, srv.sweep(now.Add(2*time.Minute), cfg))
	assert.Zero(t, srv.Connections().Count())
}
