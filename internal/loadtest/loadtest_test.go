package loadtest

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const exposition = `# HELP chat_connections_total Live connections.
# TYPE chat_connections_total gauge
chat_connections_total 42
chat_sessions_joined 40
chat_messages_total{kind="global"} 100
chat_messages_total{kind="private"} 25
chat_rate_limited_total{action="send_global"} 3
chat_slow_consumers_total 1
chat_fanout_duration_seconds_bucket{le="0.001"} 90
chat_fanout_duration_seconds_sum 0.25
chat_fanout_duration_seconds_count 125
go_goroutines 17
`

func TestParseSnapshot(t *testing.T) {
	snap, err := ParseSnapshot(strings.NewReader(exposition))
	require.NoError(t, err)
	assert.Equal(t, 42.0, snap.Connections)
	assert.Equal(t, 40.0, snap.Joined)
	assert.Equal(t, 125.0, snap.Messages)
	assert.Equal(t, 3.0, snap.RateLimited)
	assert.Equal(t, 1.0, snap.SlowConsumers)
	assert.Equal(t, 0.25, snap.FanoutSum)
	assert.Equal(t, 125.0, snap.FanoutCount)
}

func TestParseMetricLine(t *testing.T) {
	tests := []struct {
		line  string
		name  string
		value float64
		ok    bool
	}{
		{"up 1", "up", 1, true},
		{`m{a="x y",b="}"} 2.5`, "m", 2.5, true},
		{"m 3 1700000000000", "m", 3, true},
		{"m{broken 1", "", 0, false},
		{"novalue", "", 0, false},
		{"m NaNish", "", 0, false},
	}
	for _, tc := range tests {
		name, v, ok := parseMetricLine(tc.line)
		assert.Equal(t, tc.ok, ok, tc.line)
		if tc.ok {
			assert.Equal(t, tc.name, name, tc.line)
			assert.Equal(t, tc.value, v, tc.line)
		}
	}
}

func TestSummarize(t *testing.T) {
	assert.Equal(t, Summary{}, Summarize(nil))

	var ds []time.Duration
	for i := 100; i >= 1; i-- {
		ds = append(ds, time.Duration(i)*time.Millisecond)
	}
	s := Summarize(ds)
	assert.Equal(t, 100, s.N)
	assert.Equal(t, 51*time.Millisecond, s.P50)
	assert.Equal(t, 95*time.Millisecond, s.P95)
	assert.Equal(t, 99*time.Millisecond, s.P99)
	assert.Equal(t, 100*time.Millisecond, s.Max)
	assert.Equal(t, 50500*time.Microsecond, s.Avg)
	assert.Equal(t, 100*time.Millisecond, ds[0], "input must stay unsorted")
}

func TestCollectorReportWithScraper(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(exposition))
	}))
	defer ts.Close()

	c := NewCollector()
	s := NewScraper(ts.URL, time.Hour)
	c.SetScraper(s)
	s.Start(context.Background())
	s.Stop()
	require.Len(t, s.Snapshots(), 2)

	c.AddConnect(5 * time.Millisecond)
	c.AddConnect(7 * time.Millisecond)
	c.AddSent()
	c.AddMsgLatency(2 * time.Millisecond)
	c.AddError()
	assert.Equal(t, 2, c.ConnectionCount())
	assert.Equal(t, 1, c.ErrorCount())

	var buf bytes.Buffer
	c.Report(&buf)
	out := buf.String()
	assert.Contains(t, out, "Connections:  2")
	assert.Contains(t, out, "Error rate:   50.00%")
	assert.Contains(t, out, "Delivery Latency")
	assert.Contains(t, out, "Server Metrics (Prometheus)")
}
