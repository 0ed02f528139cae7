package archive

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/starapp/chat-server/internal/chat"
	"github.com/starapp/chat-server/internal/metrics"
)

// Backend is what the Writer persists to. *Store implements it.
type Backend interface {
	Insert(ctx context.Context, r Record) error
	MarkRemoved(ctx context.Context, id int64, reason string, at time.Time) error
}

type opKind int

const (
	opInsert opKind = iota
	opRemove
)

type op struct {
	kind   opKind
	record Record
	id     int64
	reason string
	at     time.Time
}

// Writer is a chat.Observer that queues log changes and persists them from a
// single background goroutine. A full queue drops the change.
type Writer struct {
	backend Backend
	queue   chan op
	timeout time.Duration
	now     func() time.Time
}

// NewWriter creates a writer with room for queueSize pending changes.
func NewWriter(backend Backend, queueSize int) *Writer {
	if queueSize <= 0 {
		queueSize = 4096
	}
	return &Writer{
		backend: backend,
		queue:   make(chan op, queueSize),
		timeout: 5 * time.Second,
		now:     time.Now,
	}
}

// MessagePublished queues global and system messages. Private messages never
// reach the global log and are not archived.
func (w *Writer) MessagePublished(msg chat.Message) {
	if msg.Kind == chat.KindPrivate {
		return
	}
	r, err := NewRecord(msg)
	if err != nil {
		zap.L().Error("archive: skip message", zap.Error(err))
		metrics.ArchiveDropsTotal.Inc()
		return
	}
	w.enqueue(op{kind: opInsert, record: r})
}

// MessageRemoved queues a removal stamp.
func (w *Writer) MessageRemoved(id chat.MessageID, reason string) {
	w.enqueue(op{kind: opRemove, id: int64(id), reason: reason, at: w.now()})
}

func (w *Writer) enqueue(o op) {
	select {
	case w.queue <- o:
	default:
		metrics.ArchiveDropsTotal.Inc()
	}
}

// Run persists queued changes until ctx is done, then flushes what is left.
func (w *Writer) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			w.flush()
			return
		case o := <-w.queue:
			w.apply(context.Background(), o)
		}
	}
}

// Start runs the writer on its own context so it outlives the signal that
// begins shutdown. stop persists everything queued so far and waits for the
// writer to exit; call it once the hub has stopped producing changes.
func (w *Writer) Start() (stop func()) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()
	return func() {
		cancel()
		<-done
	}
}

func (w *Writer) flush() {
	for {
		select {
		case o := <-w.queue:
			w.apply(context.Background(), o)
		default:
			return
		}
	}
}

func (w *Writer) apply(parent context.Context, o op) {
	ctx, cancel := context.WithTimeout(parent, w.timeout)
	defer cancel()

	var err error
	switch o.kind {
	case opInsert:
		err = w.backend.Insert(ctx, o.record)
	case opRemove:
		err = w.backend.MarkRemoved(ctx, o.id, o.reason, o.at)
	}
	if err != nil {
		metrics.ArchiveDropsTotal.Inc()
		zap.L().Warn("archive: write failed", zap.Error(err))
	}
}

// Pending reports the number of queued changes.
func (w *Writer) Pending() int {
	return len(w.queue)
}
