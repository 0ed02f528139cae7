package loadtest

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Snapshot holds the chat server metrics at one point in time. Labelled
// series are summed.
type Snapshot struct {
	Time          time.Time
	Connections   float64
	Joined        float64
	Messages      float64
	SlowConsumers float64
	RateLimited   float64
	FanoutSum     float64
	FanoutCount   float64
}

// Scraper periodically fetches the server's /metrics endpoint.
type Scraper struct {
	metricsURL string
	interval   time.Duration
	client     *http.Client

	mu        sync.Mutex
	snapshots []Snapshot

	cancel context.CancelFunc
	done   chan struct{}
}

// NewScraper creates a scraper for metricsURL.
func NewScraper(metricsURL string, interval time.Duration) *Scraper {
	return &Scraper{
		metricsURL: metricsURL,
		interval:   interval,
		client:     &http.Client{Timeout: 5 * time.Second},
		done:       make(chan struct{}),
	}
}

// Start takes a snapshot now and then every interval until ctx ends or Stop
// is called.
func (s *Scraper) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.scrapeOnce(ctx)

	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				// Final snapshot for the report.
				s.scrapeOnce(context.Background())
				return
			case <-ticker.C:
				s.scrapeOnce(ctx)
			}
		}
	}()
}

// Stop ends scraping and waits for the final snapshot.
func (s *Scraper) Stop() {
	if s.cancel != nil {
		s.cancel()
		<-s.done
	}
}

// Snapshots returns a copy of the recorded snapshots.
func (s *Scraper) Snapshots() []Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Snapshot, len(s.snapshots))
	copy(out, s.snapshots)
	return out
}

func (s *Scraper) scrapeOnce(ctx context.Context) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.metricsURL, nil)
	if err != nil {
		return
	}
	resp, err := s.client.Do(req)
	if err != nil {
		// The server may not be up yet.
		return
	}
	defer resp.Body.Close()

	snap, err := ParseSnapshot(resp.Body)
	if err != nil {
		return
	}
	s.mu.Lock()
	s.snapshots = append(s.snapshots, snap)
	s.mu.Unlock()
}

// ParseSnapshot reads the Prometheus text format and keeps the chat series.
func ParseSnapshot(r io.Reader) (Snapshot, error) {
	snap := Snapshot{Time: time.Now()}
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" || line[0] == '#' {
			continue
		}
		name, value, ok := parseMetricLine(line)
		if !ok {
			continue
		}
		switch name {
		case "chat_connections_total":
			snap.Connections = value
		case "chat_sessions_joined":
			snap.Joined = value
		case "chat_messages_total":
			snap.Messages += value
		case "chat_slow_consumers_total":
			snap.SlowConsumers = value
		case "chat_rate_limited_total":
			snap.RateLimited += value
		case "chat_fanout_duration_seconds_sum":
			snap.FanoutSum = value
		case "chat_fanout_duration_seconds_count":
			snap.FanoutCount = value
		}
	}
	return snap, scanner.Err()
}

// parseMetricLine splits "name{labels} value" into the bare name and value.
func parseMetricLine(line string) (string, float64, bool) {
	name := line
	rest := ""
	if i := strings.IndexAny(line, "{ "); i >= 0 {
		name = line[:i]
		rest = line[i:]
	}
	if strings.HasPrefix(rest, "{") {
		end := strings.LastIndexByte(rest, '}')
		if end < 0 {
			return "", 0, false
		}
		rest = rest[end+1:]
	}
	fields := strings.Fields(rest)
	if name == "" || len(fields) == 0 {
		return "", 0, false
	}
	v, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return "", 0, false
	}
	return name, v, true
}

// Report writes the first, last, delta and peak of each series to w.
func (s *Scraper) Report(w io.Writer) {
	snaps := s.Snapshots()
	if len(snaps) == 0 {
		fmt.Fprintln(w, "\n--- Server Metrics (no data collected) ---")
		return
	}
	first, last := snaps[0], snaps[len(snaps)-1]

	fmt.Fprintln(w, "\n--- Server Metrics (Prometheus) ---")
	fmt.Fprintf(w, "  %d snapshots over %s\n\n", len(snaps), last.Time.Sub(first.Time).Round(time.Second))

	rows := []struct {
		label string
		get   func(Snapshot) float64
	}{
		{"Connections", func(s Snapshot) float64 { return s.Connections }},
		{"Joined", func(s Snapshot) float64 { return s.Joined }},
		{"Messages", func(s Snapshot) float64 { return s.Messages }},
		{"Slow consumers", func(s Snapshot) float64 { return s.SlowConsumers }},
		{"Rate limited", func(s Snapshot) float64 { return s.RateLimited }},
	}
	fmt.Fprintf(w, "  %-16s %10s %10s %10s %10s\n", "Metric", "Initial", "Final", "Delta", "Peak")
	for _, row := range rows {
		a, b := row.get(first), row.get(last)
		fmt.Fprintf(w, "  %-16s %10.0f %10.0f %10.0f %10.0f\n", row.label, a, b, b-a, peak(snaps, row.get))
	}

	if n := last.FanoutCount - first.FanoutCount; n > 0 {
		fmt.Fprintf(w, "\n  %-16s avg: %.6fs  (%.0f observations)\n", "Fan-out", (last.FanoutSum-first.FanoutSum)/n, n)
	}
}

func peak(snaps []Snapshot, get func(Snapshot) float64) float64 {
	p := math.Inf(-1)
	for _, s := range snaps {
		p = math.Max(p, get(s))
	}
	return p
}
