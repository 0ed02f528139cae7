// Package messaging carries moderation traffic between the chat server and
// the moderator service over NATS.
//
//	chat server --moderation.check-->  moderator (queue group)
//	chat server <--moderation.result-- moderator
package messaging

import (
	"encoding/json"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// Subjects on the moderation bus.
const (
	SubjectModeration       = "moderation.check"
	SubjectModerationResult = "moderation.result"
)

// NATSConfig holds connection settings. MaxReconnects of -1 retries forever.
type NATSConfig struct {
	URL           string
	Name          string
	ReconnectWait time.Duration
	MaxReconnects int
	FlushTimeout  time.Duration
}

// DefaultNATSConfig targets a local server and reconnects forever.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:           nats.DefaultURL,
		Name:          "chat-server",
		ReconnectWait: 2 * time.Second,
		MaxReconnects: -1,
		FlushTimeout:  2 * time.Second,
	}
}

// Handler receives the raw payload of one bus message.
type Handler func(data []byte)

// NATSClient is a connection to the moderation bus.
type NATSClient struct {
	conn *nats.Conn

	mu   sync.Mutex
	subs []*nats.Subscription
}

// NewNATSClient connects and verifies the connection with a flush round trip.
func NewNATSClient(config NATSConfig) (*NATSClient, error) {
	nc, err := nats.Connect(config.URL,
		nats.Name(config.Name),
		nats.ReconnectWait(config.ReconnectWait),
		nats.MaxReconnects(config.MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			zap.L().Warn("nats: disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			zap.L().Info("nats: reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
		nats.ErrorHandler(func(_ *nats.Conn, sub *nats.Subscription, err error) {
			subject := ""
			if sub != nil {
				subject = sub.Subject
			}
			zap.L().Warn("nats: async error", zap.String("subject", subject), zap.Error(err))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("messaging: connect %s: %w", config.URL, err)
	}
	if config.FlushTimeout > 0 {
		if err := nc.FlushTimeout(config.FlushTimeout); err != nil {
			nc.Close()
			return nil, fmt.Errorf("messaging: flush %s: %w", config.URL, err)
		}
	}
	zap.L().Info("nats: connected", zap.String("url", nc.ConnectedUrl()), zap.String("name", config.Name))
	return &NATSClient{conn: nc}, nil
}

// PublishModerationRequest sends an encoded request to the moderators.
func (c *NATSClient) PublishModerationRequest(data []byte) error {
	return c.publish(SubjectModeration, data)
}

// PublishJSON encodes v and publishes it on subject.
func (c *NATSClient) PublishJSON(subject string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("messaging: encode %s: %w", subject, err)
	}
	return c.publish(subject, data)
}

// SubscribeModerationCheck spreads requests across every moderator in queue.
func (c *NATSClient) SubscribeModerationCheck(queue string, h Handler) error {
	sub, err := c.conn.QueueSubscribe(SubjectModeration, queue, c.wrap(SubjectModeration, h))
	return c.track(SubjectModeration, sub, err)
}

// SubscribeModerationResult delivers every verdict to this chat server.
func (c *NATSClient) SubscribeModerationResult(h Handler) error {
	sub, err := c.conn.Subscribe(SubjectModerationResult, c.wrap(SubjectModerationResult, h))
	return c.track(SubjectModerationResult, sub, err)
}

// Close drains subscriptions so in-flight handlers finish, then closes the
// connection.
func (c *NATSClient) Close() {
	c.mu.Lock()
	subs := c.subs
	c.subs = nil
	c.mu.Unlock()

	for _, sub := range subs {
		if err := sub.Drain(); err != nil {
			zap.L().Warn("nats: drain subscription", zap.String("subject", sub.Subject), zap.Error(err))
		}
	}
	if err := c.conn.Drain(); err != nil {
		zap.L().Warn("nats: drain connection", zap.Error(err))
		c.conn.Close()
	}
	zap.L().Info("nats: closed")
}

func (c *NATSClient) publish(subject string, data []byte) error {
	if err := c.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("messaging: publish %s: %w", subject, err)
	}
	return nil
}

func (c *NATSClient) track(subject string, sub *nats.Subscription, err error) error {
	if err != nil {
		return fmt.Errorf("messaging: subscribe %s: %w", subject, err)
	}
	c.mu.Lock()
	c.subs = append(c.subs, sub)
	c.mu.Unlock()
	return nil
}

// wrap keeps a panicking handler from killing the NATS dispatch goroutine.
func (c *NATSClient) wrap(subject string, h Handler) nats.MsgHandler {
	return func(msg *nats.Msg) {
		defer func() {
			if r := recover(); r != nil {
				zap.L().Error("nats: handler panic",
					zap.String("subject", subject),
					zap.Any("panic", r),
					zap.ByteString("stack", debug.Stack()),
				)
			}
		}()
		h(msg.Data)
	}
}
