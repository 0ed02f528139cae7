package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/starapp/chat-server/internal/chat"
	"github.com/starapp/chat-server/internal/client"
	"github.com/starapp/chat-server/internal/loadtest"
	"github.com/starapp/chat-server/internal/protocol"
)

// stampPrefix marks load test messages; the rest of the text is the send
// time in unix nanoseconds followed by padding.
const stampPrefix = "lt:"

// runBroadcast joins many sessions, lets a subset post to the global room at
// a fixed interval and records how long each message takes to reach every
// other session.
func runBroadcast(args []string) {
	fs := flag.NewFlagSet("broadcast", flag.ExitOnError)
	url := fs.String("url", "ws://localhost:5000/ws", "WebSocket server URL")
	sessions := fs.Int("sessions", 200, "number of joined sessions")
	senders := fs.Int("senders", 10, "how many sessions post messages")
	ramp := fs.Duration("ramp", 10*time.Second, "ramp-up duration")
	duration := fs.Duration("duration", 30*time.Second, "how long senders post")
	interval := fs.Duration("interval", time.Second, "delay between posts per sender")
	size := fs.Int("msg-size", 128, "message text size in bytes")
	concurrency := fs.Int("concurrency", 50, "maximum simultaneous connection attempts")
	metricsURL := fs.String("metrics-url", "http://localhost:5000/metrics", "server /metrics URL, empty to skip scraping")
	fs.Parse(args)

	if *senders > *sessions {
		*senders = *sessions
	}
	fmt.Printf("Broadcast: %d sessions (%d senders) to %s (ramp=%s, duration=%s, interval=%s, size=%d)\n",
		*sessions, *senders, *url, *ramp, *duration, *interval, *size)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	collector := loadtest.NewCollector()
	var scraper *loadtest.Scraper
	if *metricsURL != "" {
		scraper = loadtest.NewScraper(*metricsURL, 2*time.Second)
		collector.SetScraper(scraper)
		scraper.Start(ctx)
	}

	var limited sync.Map // session name -> struct{}, senders that hit the rate limit

	fmt.Println("\n--- Join ---")
	clients, interrupted := rampUp(ctx, rampConfig{
		url:         *url,
		count:       *sessions,
		ramp:        *ramp,
		concurrency: *concurrency,
		setup: func(ctx context.Context, i int, c *client.Client) error {
			name := "lt-" + strconv.Itoa(i)
			c.On(protocol.TypeGlobalMessage, func(msg interface{}) {
				m := msg.(chat.MessagePayload).Message
				if m.SenderName == name {
					return
				}
				if sent, ok := parseStamp(m.Body); ok {
					collector.AddMsgLatency(time.Since(sent))
				}
			})
			c.On(protocol.TypeRateLimited, func(interface{}) {
				limited.Store(name, struct{}{})
				collector.AddError()
			})
			return joinAndWait(ctx, c, name)
		},
	}, collector)
	fmt.Printf("\nJoined %d/%d sessions (%d errors)\n", len(clients), *sessions, collector.ErrorCount())

	if !interrupted && len(clients) > 0 {
		fmt.Println("\n--- Chat ---")
		postCtx, cancel := context.WithTimeout(ctx, *duration)
		var wg sync.WaitGroup
		n := *senders
		if n > len(clients) {
			n = len(clients)
		}
		for _, c := range clients[:n] {
			wg.Add(1)
			go func(c *client.Client) {
				defer wg.Done()
				post(postCtx, c, *interval, *size, collector)
			}(c)
		}
		wg.Wait()
		cancel()

		// Let the last fan-outs arrive.
		select {
		case <-ctx.Done():
		case <-time.After(2 * time.Second):
		}
	}

	closeAll(clients)
	count := 0
	limited.Range(func(any, any) bool { count++; return true })
	if count > 0 {
		fmt.Printf("Senders rate limited: %d\n", count)
	}
	if scraper != nil {
		scraper.Stop()
	}
	collector.Report(os.Stdout)
}

// joinAndWait joins as name and waits until the session shows up in a
// presence list, so that it receives every later broadcast.
func joinAndWait(ctx context.Context, c *client.Client, name string) error {
	id := c.SessionID()
	joined := make(chan struct{})
	var once sync.Once
	c.On(protocol.TypePresenceList, func(msg interface{}) {
		for _, s := range msg.(chat.PresencePayload).Sessions {
			if s.ID == id {
				once.Do(func() { close(joined) })
				return
			}
		}
	})
	if err := c.Join(name); err != nil {
		return err
	}
	select {
	case <-joined:
		return nil
	case <-c.Done():
		return errors.New("connection closed before join")
	case <-ctx.Done():
		return ctx.Err()
	}
}

func post(ctx context.Context, c *client.Client, interval time.Duration, size int, collector *loadtest.Collector) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.Done():
			return
		case <-ticker.C:
			if err := c.SendGlobal(chat.PlainText{Text: stamp(time.Now(), size)}, nil); err != nil {
				collector.AddError()
				return
			}
			collector.AddSent()
		}
	}
}

// stamp builds a message text of roughly size bytes carrying t.
func stamp(t time.Time, size int) string {
	s := stampPrefix + strconv.FormatInt(t.UnixNano(), 10)
	if pad := size - len(s) - 1; pad > 0 {
		s += " " + strings.Repeat("x", pad)
	}
	return s
}

func parseStamp(b chat.Body) (time.Time, bool) {
	text, ok := b.(chat.PlainText)
	if !ok || !strings.HasPrefix(text.Text, stampPrefix) {
		return time.Time{}, false
	}
	raw, _, _ := strings.Cut(strings.TrimPrefix(text.Text, stampPrefix), " ")
	ns, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	return time.Unix(0, ns), true
}
