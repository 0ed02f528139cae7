// Command loadtest drives a chat server with many concurrent clients.
//
//	loadtest saturate [options]   open N idle sessions and hold them
//	loadtest broadcast [options]  N joined sessions, S of them chatting globally
package main

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/starapp/chat-server/internal/client"
	"github.com/starapp/chat-server/internal/loadtest"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	switch os.Args[1] {
	case "saturate":
		runSaturate(os.Args[2:])
	case "broadcast":
		runBroadcast(os.Args[2:])
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Usage: loadtest <command> [options]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  saturate    open N idle connections and hold them")
	fmt.Println("  broadcast   join N sessions and measure global fan-out latency")
	fmt.Println()
	fmt.Println("Run 'loadtest <command> -h' for command-specific options.")
}

// rampConfig controls how connections are opened.
type rampConfig struct {
	url         string
	count       int
	ramp        time.Duration
	concurrency int
	// setup runs on each connected client before it is counted; i is the
	// client's index. A nil setup only waits for the session.
	setup func(ctx context.Context, i int, c *client.Client) error
}

// rampUp opens cfg.count clients spread over cfg.ramp. It returns the clients
// that connected, in no particular order, and whether ctx interrupted it.
func rampUp(ctx context.Context, cfg rampConfig, collector *loadtest.Collector) ([]*client.Client, bool) {
	interval := cfg.ramp / time.Duration(cfg.count)
	if interval <= 0 {
		interval = time.Millisecond
	}
	if cfg.concurrency <= 0 {
		cfg.concurrency = 1
	}

	var (
		mu      sync.Mutex
		clients = make([]*client.Client, 0, cfg.count)
		wg      sync.WaitGroup
		sem     = make(chan struct{}, cfg.concurrency)
	)

	progressDone := make(chan struct{})
	go func() {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		last, lastAt := 0, time.Now()
		for {
			select {
			case <-ticker.C:
				now, n := time.Now(), collector.ConnectionCount()
				fmt.Printf("  [ramp] connections: %d/%d  errors: %d  rate: %.1f conn/s\n",
					n, cfg.count, collector.ErrorCount(), float64(n-last)/now.Sub(lastAt).Seconds())
				last, lastAt = n, now
			case <-progressDone:
				return
			}
		}
	}()
	defer close(progressDone)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for i := 0; i < cfg.count; i++ {
		select {
		case <-ctx.Done():
			wg.Wait()
			return clients, true
		case <-ticker.C:
		}

		sem <- struct{}{}
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			defer func() { <-sem }()

			connCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			c, err := client.Dial(connCtx, cfg.url)
			if err != nil {
				collector.AddError()
				return
			}
			if _, err := c.WaitForSession(connCtx); err != nil {
				collector.AddError()
				c.Close()
				return
			}
			if cfg.setup != nil {
				if err := cfg.setup(connCtx, i, c); err != nil {
					collector.AddError()
					c.Close()
					return
				}
			}
			collector.AddConnect(c.Metrics().ConnectLatency)

			mu.Lock()
			clients = append(clients, c)
			mu.Unlock()
		}(i)
	}
	wg.Wait()
	return clients, false
}

// closeAll closes every client.
func closeAll(clients []*client.Client) {
	fmt.Printf("\nClosing %d connections...\n", len(clients))
	for _, c := range clients {
		c.Close()
	}
}

// alive counts clients whose connection is still open.
func alive(clients []*client.Client) int {
	n := 0
	for _, c := range clients {
		select {
		case <-c.Done():
		default:
			n++
		}
	}
	return n
}
