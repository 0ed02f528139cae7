package ws

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"go.uber.org/zap"

	"github.com/starapp/chat-server/internal/chat"
	"github.com/starapp/chat-server/internal/metrics"
	"github.com/starapp/chat-server/internal/protocol"
	"github.com/starapp/chat-server/internal/ratelimit"
	"github.com/starapp/chat-server/internal/session"
)

// MessageHandler handles one parsed client message. The msg parameter is the
// struct returned by protocol.ParseClientMessage. A returned error is
// reported to the client as an error event.
type MessageHandler func(conn *Connection, msg interface{}) error

// MuteChecker reports how long a session is still barred from sending.
type MuteChecker interface {
	Muted(ctx context.Context, sessionID string) (time.Duration, error)
}

// DispatcherConfig wires the dispatcher to the hub and the rate limiter.
type DispatcherConfig struct {
	Limiter      ratelimit.Limiter // nil disables rate limiting
	Mutes        MuteChecker       // nil disables mutes
	MessageRule  ratelimit.Rule
	ReactionRule ratelimit.Rule
	LimitTimeout time.Duration // budget for one limiter call
}

// DefaultDispatcherConfig uses the default rules with no limiter.
func DefaultDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{
		MessageRule:  ratelimit.RuleMessage,
		ReactionRule: ratelimit.RuleReaction,
		LimitTimeout: 500 * time.Millisecond,
	}
}

// MessageDispatcher routes client messages to handlers by type. Chat
// handlers are registered by NewMessageDispatcher; others can be added with
// Register.
type MessageDispatcher struct {
	hub      *chat.Hub
	config   DispatcherConfig
	handlers map[string]MessageHandler
	limited  map[string]ratelimit.Rule
	muted    map[string]bool // actions refused while muted
}

// NewMessageDispatcher creates a dispatcher for hub.
func NewMessageDispatcher(hub *chat.Hub, config DispatcherConfig) *MessageDispatcher {
	if config.LimitTimeout <= 0 {
		config.LimitTimeout = 500 * time.Millisecond
	}
	d := &MessageDispatcher{
		hub:      hub,
		config:   config,
		handlers: make(map[string]MessageHandler),
		limited: map[string]ratelimit.Rule{
			protocol.TypeSendGlobal:  config.MessageRule,
			protocol.TypeSendPrivate: config.MessageRule,
			protocol.TypeReact:       config.ReactionRule,
		},
		muted: map[string]bool{
			protocol.TypeSendGlobal:  true,
			protocol.TypeSendPrivate: true,
		},
	}
	d.registerChatHandlers()
	return d
}

// Register associates a handler with a message type, replacing any
// existing one.
func (d *MessageDispatcher) Register(msgType string, handler MessageHandler) {
	d.handlers[msgType] = handler
}

// Dispatch parses data and runs the matching handler. Panics are recovered
// so one bad message cannot take down the worker.
func (d *MessageDispatcher) Dispatch(conn *Connection, data []byte) {
	defer func() {
		if p := recover(); p != nil {
			zap.L().Error("ws: handler panic",
				zap.String("session", conn.ID),
				zap.Any("panic", p),
				zap.ByteString("stack", debug.Stack()),
			)
			d.sendError(conn, protocol.CodeInternal, "internal error")
		}
	}()

	msgType, msg, err := protocol.ParseClientMessage(data)
	if err != nil {
		zap.L().Debug("ws: bad client message", zap.String("session", conn.ID), zap.Error(err))
		if errors.Is(err, protocol.ErrUnknownType) {
			d.sendError(conn, protocol.CodeUnknownType, "unsupported message type")
			return
		}
		d.sendError(conn, protocol.CodeInvalidPayload, "invalid message format")
		return
	}

	if msgType == protocol.TypePing {
		conn.Touch()
		d.reply(conn, protocol.TypePong, protocol.PongMsg{})
		return
	}

	handler, ok := d.handlers[msgType]
	if !ok {
		d.sendError(conn, protocol.CodeUnknownType, "unsupported message type")
		return
	}

	if rule, ok := d.limited[msgType]; ok && !d.allow(conn.ID, msgType, rule) {
		metrics.RateLimitedTotal.WithLabelValues(msgType).Inc()
		d.reply(conn, protocol.TypeRateLimited, protocol.RateLimitedMsg{
			Action:     msgType,
			RetryAfter: rule.RetryAfter(),
		})
		return
	}

	if d.muted[msgType] {
		if left := d.mutedFor(conn.ID); left > 0 {
			d.sendError(conn, protocol.CodeMuted, fmt.Sprintf("muted for %s", left.Round(time.Second)))
			return
		}
	}

	if err := handler(conn, msg); err != nil {
		code, text := errorCode(err)
		if code == protocol.CodeInternal {
			zap.L().Error("ws: handler failed", zap.String("session", conn.ID), zap.String("type", msgType), zap.Error(err))
		}
		d.sendError(conn, code, text)
	}
}

func (d *MessageDispatcher) allow(id, action string, rule ratelimit.Rule) bool {
	if d.config.Limiter == nil {
		return true
	}
	ctx, cancel := context.WithTimeout(context.Background(), d.config.LimitTimeout)
	defer cancel()
	ok, err := d.config.Limiter.Allow(ctx, id, rule)
	if err != nil {
		zap.L().Warn("ws: rate limiter error", zap.String("session", id), zap.String("action", action), zap.Error(err))
	}
	return ok
}

// mutedFor fails open: a store error lets the message through.
func (d *MessageDispatcher) mutedFor(id string) time.Duration {
	if d.config.Mutes == nil {
		return 0
	}
	ctx, cancel := context.WithTimeout(context.Background(), d.config.LimitTimeout)
	defer cancel()
	left, err := d.config.Mutes.Muted(ctx, id)
	if err != nil {
		zap.L().Warn("ws: mute check failed", zap.String("session", id), zap.Error(err))
		return 0
	}
	return left
}

// errorCode maps hub errors onto protocol error codes.
func errorCode(err error) (code, message string) {
	switch {
	case errors.Is(err, chat.ErrNotJoined):
		return protocol.CodeNotJoined, "join first"
	case errors.Is(err, session.ErrInvalidName):
		return protocol.CodeInvalidName, err.Error()
	case errors.Is(err, chat.ErrInvalidBody):
		return protocol.CodeInvalidBody, err.Error()
	case errors.Is(err, chat.ErrInvalidRecipient):
		return protocol.CodeInvalidRecipient, err.Error()
	case errors.Is(err, chat.ErrInvalidReaction):
		return protocol.CodeInvalidReaction, err.Error()
	case errors.Is(err, chat.ErrNotOwner):
		return protocol.CodeNotOwner, "only the sender can delete a message"
	default:
		return protocol.CodeInternal, "internal error"
	}
}

func (d *MessageDispatcher) reply(conn *Connection, msgType string, payload interface{}) {
	data, err := protocol.NewServerMessage(msgType, payload)
	if err != nil {
		zap.L().Error("ws: build reply", zap.String("session", conn.ID), zap.String("type", msgType), zap.Error(err))
		return
	}
	conn.Enqueue(data)
}

func (d *MessageDispatcher) sendError(conn *Connection, code, message string) {
	d.reply(conn, protocol.TypeError, protocol.ErrorMsg{Code: code, Message: message})
}

// registerChatHandlers binds every client action to its hub operation.
func (d *MessageDispatcher) registerChatHandlers() {
	d.Register(protocol.TypeJoin, func(conn *Connection, msg interface{}) error {
		m := msg.(protocol.JoinMsg)
		_, err := d.hub.Join(conn.ID, m.DisplayName)
		return err
	})

	d.Register(protocol.TypeSendGlobal, func(conn *Connection, msg interface{}) error {
		m := msg.(protocol.SendGlobalMsg)
		body, err := m.Body.Decode()
		if err != nil {
			return fmt.Errorf("send_global: %w", err)
		}
		_, err = d.hub.PublishGlobal(conn.ID, body, m.ReplyTo)
		return err
	})

	d.Register(protocol.TypeSendPrivate, func(conn *Connection, msg interface{}) error {
		m := msg.(protocol.SendPrivateMsg)
		body, err := m.Body.Decode()
		if err != nil {
			return fmt.Errorf("send_private: %w", err)
		}
		_, err = d.hub.RoutePrivate(conn.ID, m.RecipientID, body, m.ReplyTo)
		return err
	})

	d.Register(protocol.TypeSetTypingGlobal, func(conn *Connection, msg interface{}) error {
		m := msg.(protocol.SetTypingGlobalMsg)
		d.hub.SetTypingGlobal(conn.ID, m.IsTyping)
		return nil
	})

	d.Register(protocol.TypeSetTypingPrivate, func(conn *Connection, msg interface{}) error {
		m := msg.(protocol.SetTypingPrivateMsg)
		d.hub.SetTypingPrivate(conn.ID, m.PeerID, m.IsTyping)
		return nil
	})

	d.Register(protocol.TypeReact, func(conn *Connection, msg interface{}) error {
		m := msg.(protocol.ReactMsg)
		return d.hub.React(m.MessageID, m.Emoji, conn.ID, m.PeerID)
	})

	d.Register(protocol.TypeDeleteMessage, func(conn *Connection, msg interface{}) error {
		m := msg.(protocol.DeleteMessageMsg)
		return d.hub.Delete(m.MessageID, conn.ID)
	})

	d.Register(protocol.TypeMarkRead, func(conn *Connection, msg interface{}) error {
		m := msg.(protocol.MarkReadMsg)
		return d.hub.MarkRead(conn.ID, m.PeerID, m.MessageID)
	})
}
