package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/starapp/chat-server/internal/loadtest"
)

// runSaturate opens many idle connections, then holds them while reporting
// drops. It finds the capacity at which the server starts refusing or
// shedding connections.
func runSaturate(args []string) {
	fs := flag.NewFlagSet("saturate", flag.ExitOnError)
	url := fs.String("url", "ws://localhost:5000/ws", "WebSocket server URL")
	connections := fs.Int("connections", 1000, "number of connections to open")
	ramp := fs.Duration("ramp", 10*time.Second, "ramp-up duration")
	hold := fs.Duration("hold", 30*time.Second, "hold duration once all connections are open")
	concurrency := fs.Int("concurrency", 50, "maximum simultaneous connection attempts")
	metricsURL := fs.String("metrics-url", "", "server /metrics URL, empty to skip scraping")
	fs.Parse(args)

	fmt.Printf("Saturate: %d connections to %s (ramp=%s, hold=%s, concurrency=%d)\n",
		*connections, *url, *ramp, *hold, *concurrency)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	collector := loadtest.NewCollector()
	var scraper *loadtest.Scraper
	if *metricsURL != "" {
		scraper = loadtest.NewScraper(*metricsURL, 2*time.Second)
		collector.SetScraper(scraper)
		scraper.Start(ctx)
	}

	fmt.Println("\n--- Ramp-up ---")
	start := time.Now()
	clients, interrupted := rampUp(ctx, rampConfig{
		url:         *url,
		count:       *connections,
		ramp:        *ramp,
		concurrency: *concurrency,
	}, collector)
	fmt.Printf("\nRamp-up complete: %d/%d connections in %s (%d errors)\n",
		len(clients), *connections, time.Since(start).Round(time.Millisecond), collector.ErrorCount())

	if !interrupted {
		fmt.Println("\n--- Hold ---")
		initial := len(clients)
		holdTimer := time.NewTimer(*hold)
		status := time.NewTicker(5 * time.Second)
	holdLoop:
		for {
			select {
			case <-ctx.Done():
				fmt.Println("\nInterrupted during hold.")
				break holdLoop
			case <-holdTimer.C:
				break holdLoop
			case <-status.C:
				n := alive(clients)
				fmt.Printf("  [hold] alive: %d/%d  dropped: %d\n", n, initial, initial-n)
			}
		}
		holdTimer.Stop()
		status.Stop()
		if d := initial - alive(clients); d > 0 {
			fmt.Printf("\nConnections dropped during hold: %d\n", d)
		}
	}

	closeAll(clients)
	if scraper != nil {
		scraper.Stop()
	}
	collector.Report(os.Stdout)
}
