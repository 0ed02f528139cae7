package archive

import (
	"context"
	"errors"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starapp/chat-server/internal/chat"
)

type memBackend struct {
	mu      sync.Mutex
	rows    map[int64]Record
	removed map[int64]string
	fail    bool
}

func newMemBackend() *memBackend {
	return &memBackend{rows: map[int64]Record{}, removed: map[int64]string{}}
}

func (b *memBackend) Insert(_ context.Context, r Record) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.fail {
		return errors.New("down")
	}
	b.rows[r.MessageID] = r
	return nil
}

func (b *memBackend) MarkRemoved(_ context.Context, id int64, reason string, _ time.Time) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.removed[id] = reason
	return nil
}

func (b *memBackend) snapshot() (int, map[int64]string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[int64]string, len(b.removed))
	for k, v := range b.removed {
		out[k] = v
	}
	return len(b.rows), out
}

func TestNewRecord(t *testing.T) {
	msg := chat.Message{
		ID:         7,
		Kind:       chat.KindGlobal,
		SenderID:   "c1",
		SenderName: "alice",
		Body:       chat.PlainText{Text: "hi"},
		ReplyTo:    &chat.ReplyRef{MessageID: 3, SenderName: "bob", Body: chat.PlainText{Text: "yo"}},
		CreatedAt:  time.Unix(100, 0).UTC(),
	}
	r, err := NewRecord(msg)
	require.NoError(t, err)
	assert.Equal(t, int64(7), r.MessageID)
	assert.Equal(t, "text", r.BodyKind)
	assert.JSONEq(t, `{"kind":"text","text":"hi"}`, string(r.Body))
	assert.True(t, r.ReplyTo.Valid)
	assert.Equal(t, int64(3), r.ReplyTo.Int64)
}

func TestWriterSkipsPrivate(t *testing.T) {
	w := NewWriter(newMemBackend(), 4)
	w.MessagePublished(chat.Message{ID: 1, Kind: chat.KindPrivate, Body: chat.EncryptedBlob{Ciphertext: "x"}})
	assert.Equal(t, 0, w.Pending())
}

func TestWriterDropsWhenFull(t *testing.T) {
	w := NewWriter(newMemBackend(), 2)
	for i := 1; i <= 5; i++ {
		w.MessagePublished(chat.Message{ID: chat.MessageID(i), Kind: chat.KindGlobal, Body: chat.PlainText{Text: "x"}})
	}
	assert.Equal(t, 2, w.Pending())
}

func TestWriterPersistsHubTraffic(t *testing.T) {
	backend := newMemBackend()
	w := NewWriter(backend, 64)
	h := chat.NewHub(chat.DefaultConfig(), w)
	defer h.Close()

	h.Connect("c1", sinkFunc(func(chat.Event) bool { return true }))
	_, err := h.Join("c1", "alice")
	require.NoError(t, err)
	msg, err := h.PublishGlobal("c1", chat.PlainText{Text: "hello"}, nil)
	require.NoError(t, err)
	require.NoError(t, h.Delete(msg.ID, "c1"))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()
	require.Eventually(t, func() bool { return w.Pending() == 0 }, time.Second, 5*time.Millisecond)
	cancel()
	<-done

	rows, removed := backend.snapshot()
	assert.Equal(t, 2, rows) // join announcement and the message
	assert.Equal(t, chat.ReasonSender, removed[int64(msg.ID)])
}

func TestWriterSurvivesBackendErrors(t *testing.T) {
	backend := newMemBackend()
	backend.fail = true
	w := NewWriter(backend, 4)
	w.MessagePublished(chat.Message{ID: 1, Kind: chat.KindGlobal, Body: chat.PlainText{Text: "x"}})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	w.Run(ctx) // flushes and returns
	assert.Equal(t, 0, w.Pending())
}

func TestWriterKeepsLeaveAnnouncementsMadeDuringShutdown(t *testing.T) {
	backend := newMemBackend()
	w := NewWriter(backend, 64)
	h := chat.NewHub(chat.DefaultConfig(), w)
	defer h.Close()

	stop := w.Start()
	h.Connect("c1", sinkFunc(func(chat.Event) bool { return true }))
	_, err := h.Join("c1", "alice")
	require.NoError(t, err)

	// Transport shutdown disconnects everyone after the signal fired.
	h.Disconnect("c1")
	stop()

	backend.mu.Lock()
	defer backend.mu.Unlock()
	require.Len(t, backend.rows, 2)
	left := false
	for _, r := range backend.rows {
		left = left || strings.Contains(string(r.Body), "alice left")
	}
	assert.True(t, left, "leave announcement archived")
}

type sinkFunc func(chat.Event) bool

func (f sinkFunc) Deliver(ev chat.Event) bool { return f(ev) }

func TestStoreWithPostgres(t *testing.T) {
	dsn := os.Getenv("ARCHIVE_TEST_DSN")
	if dsn == "" {
		t.Skip("ARCHIVE_TEST_DSN not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	s, err := Open(ctx, dsn)
	if err != nil {
		t.Skipf("postgres not available: %v", err)
	}
	defer s.Close()

	id := time.Now().UnixNano() & (1<<52 - 1)
	r, err := NewRecord(chat.Message{
		ID:         chat.MessageID(id),
		Kind:       chat.KindGlobal,
		SenderID:   "c1",
		SenderName: "alice",
		Body:       chat.PlainText{Text: "archived"},
		CreatedAt:  time.Now().UTC(),
	})
	require.NoError(t, err)
	require.NoError(t, s.Insert(ctx, r))
	require.NoError(t, s.Insert(ctx, r)) // duplicate is ignored
	require.NoError(t, s.MarkRemoved(ctx, id, chat.ReasonModeration, time.Now()))

	got, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "alice", got.SenderName)
	assert.True(t, got.RemovedAt.Valid)
	assert.Equal(t, chat.ReasonModeration, got.RemovedReason.String)

	_, err = s.Get(ctx, -1)
	assert.ErrorIs(t, err, ErrNotFound)
}
