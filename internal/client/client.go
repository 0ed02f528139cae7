// Package client is a WebSocket client for the chat server. It uses gobwas/ws
// like the server, decodes every server frame with package protocol and
// hands it to handlers registered per message type.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/starapp/chat-server/internal/chat"
	"github.com/starapp/chat-server/internal/protocol"
)

// Handler receives a decoded server message, e.g. chat.MessagePayload for
// global_message.
type Handler func(msg interface{})

// Metrics tracks per-connection counters.
type Metrics struct {
	ConnectLatency   time.Duration
	MessagesReceived int
	MessagesSent     int
	Errors           int
}

// Client is one connection to the chat server.
type Client struct {
	conn net.Conn
	r    io.Reader

	writeMu sync.Mutex

	mu        sync.Mutex
	handlers  map[string]Handler
	sessionID string
	metrics   Metrics
	err       error

	session   chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// Dial connects to url, e.g. ws://localhost:8080/ws, and starts reading.
func Dial(ctx context.Context, url string) (*Client, error) {
	start := time.Now()
	conn, br, _, err := ws.Dial(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("client: dial %s: %w", url, err)
	}

	c := &Client{
		conn:     conn,
		r:        conn,
		handlers: make(map[string]Handler),
		session:  make(chan struct{}),
		done:     make(chan struct{}),
	}
	if br != nil {
		// The server may have written frames right after the handshake.
		c.r = io.MultiReader(br, conn)
	}
	c.metrics.ConnectLatency = time.Since(start)

	go c.readLoop()
	return c, nil
}

// On registers handler for msgType, replacing any previous one. Handlers run
// on the read goroutine.
func (c *Client) On(msgType string, handler Handler) {
	c.mu.Lock()
	c.handlers[msgType] = handler
	c.mu.Unlock()
}

// Send marshals msg and writes it as one text frame.
func (c *Client) Send(msg interface{}) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("client: marshal: %w", err)
	}
	c.writeMu.Lock()
	err = wsutil.WriteClientMessage(c.conn, ws.OpText, data)
	c.writeMu.Unlock()

	c.mu.Lock()
	if err != nil {
		c.metrics.Errors++
	} else {
		c.metrics.MessagesSent++
	}
	c.mu.Unlock()
	return err
}

// Join registers under name.
func (c *Client) Join(name string) error {
	return c.Send(protocol.JoinMsg{Type: protocol.TypeJoin, DisplayName: name})
}

// SendGlobal publishes body to the global room.
func (c *Client) SendGlobal(body chat.Body, replyTo *chat.ReplyRef) error {
	wire := chat.EncodeBody(body)
	return c.Send(protocol.SendGlobalMsg{Type: protocol.TypeSendGlobal, Body: &wire, ReplyTo: replyTo})
}

// SendPrivate routes body to recipientID.
func (c *Client) SendPrivate(recipientID string, body chat.Body, replyTo *chat.ReplyRef) error {
	wire := chat.EncodeBody(body)
	return c.Send(protocol.SendPrivateMsg{
		Type:        protocol.TypeSendPrivate,
		RecipientID: recipientID,
		Body:        &wire,
		ReplyTo:     replyTo,
	})
}

// SetTyping updates the typing state, globally when peerID is empty.
func (c *Client) SetTyping(peerID string, typing bool) error {
	if peerID == "" {
		return c.Send(protocol.SetTypingGlobalMsg{Type: protocol.TypeSetTypingGlobal, IsTyping: typing})
	}
	return c.Send(protocol.SetTypingPrivateMsg{Type: protocol.TypeSetTypingPrivate, PeerID: peerID, IsTyping: typing})
}

// React adds emoji to a message; peerID is set for private messages.
func (c *Client) React(id chat.MessageID, emoji, peerID string) error {
	return c.Send(protocol.ReactMsg{Type: protocol.TypeReact, MessageID: id, Emoji: emoji, PeerID: peerID})
}

// Delete removes one of this client's messages.
func (c *Client) Delete(id chat.MessageID) error {
	return c.Send(protocol.DeleteMessageMsg{Type: protocol.TypeDeleteMessage, MessageID: id})
}

// MarkRead acknowledges peerID's messages up to id.
func (c *Client) MarkRead(peerID string, id chat.MessageID) error {
	return c.Send(protocol.MarkReadMsg{Type: protocol.TypeMarkRead, PeerID: peerID, MessageID: id})
}

// Ping sends an application-level ping; the server answers with pong.
func (c *Client) Ping() error {
	return c.Send(protocol.PingMsg{Type: protocol.TypePing})
}

// WaitForSession blocks until session_created arrives and returns the id.
func (c *Client) WaitForSession(ctx context.Context) (string, error) {
	select {
	case <-c.session:
		return c.SessionID(), nil
	case <-c.done:
		if err := c.Err(); err != nil {
			return "", err
		}
		return "", errors.New("client: connection closed before session was created")
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// SessionID returns the id assigned by the server, or "".
func (c *Client) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// Metrics returns a copy of the counters.
func (c *Client) Metrics() Metrics {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.metrics
}

// Done is closed when the connection ends.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Err returns the read error that ended the connection, if any.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Close ends the connection. Safe to call more than once.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		err = c.conn.Close()
	})
	return err
}

func (c *Client) readLoop() {
	defer c.Close()
	for {
		data, err := wsutil.ReadServerText(readerConn{c.conn, c.r})
		if err != nil {
			select {
			case <-c.done:
			default:
				c.mu.Lock()
				c.err = err
				c.metrics.Errors++
				c.mu.Unlock()
			}
			return
		}

		msgType, msg, err := protocol.ParseServerMessage(data)
		c.mu.Lock()
		c.metrics.MessagesReceived++
		if err != nil {
			c.metrics.Errors++
			c.mu.Unlock()
			continue
		}
		if m, ok := msg.(protocol.SessionCreatedMsg); ok && c.sessionID == "" {
			c.sessionID = m.SessionID
			close(c.session)
		}
		handler := c.handlers[msgType]
		c.mu.Unlock()

		if handler != nil {
			handler(msg)
		}
	}
}

// readerConn reads through r while writing control replies to the conn.
type readerConn struct {
	net.Conn
	r io.Reader
}

func (c readerConn) Read(p []byte) (int, error) { return c.r.Read(p) }
