package moderation

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/starapp/chat-server/internal/chat"
	"github.com/starapp/chat-server/internal/metrics"
)

// Publisher sends encoded moderation requests.
type Publisher interface {
	PublishModerationRequest(data []byte) error
}

// Retractor removes a flagged message from the global log.
type Retractor interface {
	Retract(id chat.MessageID, reason string) bool
}

// Bridge connects the chat hub to the moderation bus. It observes the global
// log, queues plain-text messages for review without blocking the hub, and
// applies verdicts coming back from the moderator.
type Bridge struct {
	pub   Publisher
	queue chan ModerationRequest
}

// NewBridge creates a bridge with a bounded request queue.
func NewBridge(pub Publisher, queueSize int) *Bridge {
	if queueSize <= 0 {
		queueSize = 1024
	}
	return &Bridge{pub: pub, queue: make(chan ModerationRequest, queueSize)}
}

// MessagePublished queues global plain-text messages. A full queue drops the
// request.
func (b *Bridge) MessagePublished(msg chat.Message) {
	if msg.Kind != chat.KindGlobal {
		return
	}
	text, ok := msg.Body.(chat.PlainText)
	if !ok {
		return
	}
	req := ModerationRequest{
		SessionID: msg.SenderID,
		MessageID: uint64(msg.ID),
		Text:      text.Text,
		Ts:        msg.CreatedAt.Unix(),
	}
	select {
	case b.queue <- req:
	default:
		zap.L().Warn("moderation: queue full, skipping review", zap.Uint64("message_id", req.MessageID))
	}
}

// MessageRemoved is a no-op; removed messages need no review.
func (b *Bridge) MessageRemoved(chat.MessageID, string) {}

// Run publishes queued requests until ctx is done.
func (b *Bridge) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case req := <-b.queue:
			data, err := json.Marshal(req)
			if err != nil {
				zap.L().Error("moderation: marshal request", zap.Error(err))
				continue
			}
			if err := b.pub.PublishModerationRequest(data); err != nil {
				zap.L().Warn("moderation: publish request", zap.Uint64("message_id", req.MessageID), zap.Error(err))
			}
		}
	}
}

// ResultHandler returns a callback for moderation.result messages that
// retracts flagged messages through r.
func ResultHandler(r Retractor) func(data []byte) {
	return func(data []byte) {
		var res ModerationResult
		if err := json.Unmarshal(data, &res); err != nil {
			zap.L().Warn("moderation: bad result", zap.Error(err))
			return
		}
		if !res.Blocked {
			return
		}
		metrics.ModerationFlagsTotal.WithLabelValues(res.Reason).Inc()
		removed := r.Retract(chat.MessageID(res.MessageID), res.Reason)
		zap.L().Info("moderation: message flagged",
			zap.String("session", res.SessionID),
			zap.Uint64("message_id", res.MessageID),
			zap.String("reason", res.Reason),
			zap.String("term", res.Term),
			zap.Int64("strikes", res.Strikes),
			zap.Int64("muted_for", res.MutedFor),
			zap.Bool("removed", removed),
		)
	}
}

// Review runs filter over a request and builds the verdict. It is the core of
// the moderator service.
func Review(f *Filter, req ModerationRequest) ModerationResult {
	r := f.Check(req.Text)
	return ModerationResult{
		SessionID: req.SessionID,
		MessageID: req.MessageID,
		Blocked:   r.Blocked,
		Reason:    r.Reason,
		Term:      r.Term,
	}
}
