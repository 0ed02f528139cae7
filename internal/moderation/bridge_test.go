package moderation

import (
	"context"
	"encoding/json"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starapp/chat-server/internal/chat"
)

type fakePublisher struct {
	mu   sync.Mutex
	sent [][]byte
}

func (p *fakePublisher) PublishModerationRequest(data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sent = append(p.sent, data)
	return nil
}

func (p *fakePublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.sent)
}

type fakeRetractor struct {
	ids     []chat.MessageID
	reasons []string
}

func (r *fakeRetractor) Retract(id chat.MessageID, reason string) bool {
	r.ids = append(r.ids, id)
	r.reasons = append(r.reasons, reason)
	return true
}

func TestBridgeQueuesOnlyGlobalText(t *testing.T) {
	pub := &fakePublisher{}
	b := NewBridge(pub, 8)

	b.MessagePublished(chat.Message{ID: 1, Kind: chat.KindGlobal, SenderID: "s1", Body: chat.PlainText{Text: "visit http://evil.com"}})
	b.MessagePublished(chat.Message{ID: 2, Kind: chat.KindSystem, Body: chat.PlainText{Text: "alice joined"}})
	b.MessagePublished(chat.Message{ID: 3, Kind: chat.KindGlobal, Body: chat.FileAttachment{Name: "a", MimeType: "b", Content: []byte{1}}})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		b.Run(ctx)
		close(done)
	}()
	require.Eventually(t, func() bool { return pub.count() == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	<-done

	var req ModerationRequest
	require.NoError(t, json.Unmarshal(pub.sent[0], &req))
	assert.Equal(t, uint64(1), req.MessageID)
	assert.Equal(t, "s1", req.SessionID)
}

func TestBridgeDropsWhenFull(t *testing.T) {
	b := NewBridge(&fakePublisher{}, 1)
	msg := chat.Message{Kind: chat.KindGlobal, Body: chat.PlainText{Text: "x"}}
	b.MessagePublished(msg)
	b.MessagePublished(msg) // must not block
	assert.Len(t, b.queue, 1)
}

func TestResultHandlerRetractsFlagged(t *testing.T) {
	r := &fakeRetractor{}
	handle := ResultHandler(r)

	clean, _ := json.Marshal(ModerationResult{MessageID: 4})
	handle(clean)
	handle([]byte("not json"))
	assert.Empty(t, r.ids)

	flagged, _ := json.Marshal(ModerationResult{MessageID: 5, Blocked: true, Reason: "spam_pattern", Term: "url"})
	handle(flagged)
	assert.Equal(t, []chat.MessageID{5}, r.ids)
	assert.Equal(t, []string{"spam_pattern"}, r.reasons)
}

func TestBridgeReview(t *testing.T) {
	f := NewFilterWithTerms([]string{"badword"})
	res := Review(f, ModerationRequest{SessionID: "s", MessageID: 9, Text: "such a badword"})
	assert.True(t, res.Blocked)
	assert.Equal(t, uint64(9), res.MessageID)
	assert.Equal(t, "blocked_keyword", res.Reason)

	assert.False(t, Review(f, ModerationRequest{Text: "hello"}).Blocked)
}

// End to end through a real hub: a flagged message disappears from the log.
func TestRetractThroughHub(t *testing.T) {
	h := chat.NewHub(chat.DefaultConfig())
	defer h.Close()
	bridge := NewBridge(&fakePublisher{}, 4)
	h.AddObserver(bridge)

	h.Connect("c1", sinkFunc(func(chat.Event) bool { return true }))
	_, err := h.Join("c1", "spammer")
	require.NoError(t, err)
	msg, err := h.PublishGlobal("c1", chat.PlainText{Text: "buy buy buy"}, nil)
	require.NoError(t, err)

	req := <-bridge.queue
	res := Review(NewFilterWithTerms(nil), req)
	require.True(t, res.Blocked)
	data, _ := json.Marshal(res)
	ResultHandler(h)(data)

	for _, m := range h.History() {
		assert.NotEqual(t, msg.ID, m.ID)
	}
}

type sinkFunc func(chat.Event) bool

func (f sinkFunc) Deliver(ev chat.Event) bool { return f(ev) }

func TestStrikesWithRedis(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("redis not available at %s: %v", addr, err)
	}

	s := NewStrikes(client, time.Minute)
	id := uuid.NewString()
	t.Cleanup(func() { client.Del(context.Background(), StrikePrefix+id) })

	n, err := s.Add(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	n, err = s.Add(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	got, err := s.Count(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, int64(2), got)
}
