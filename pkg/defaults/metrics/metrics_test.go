package metrics

import (
	"bytes"
	"log"
	"strings"
	"testing"
	"time"
)

func TestLogMetrics(t *testing.T) {
	var buf bytes.Buffer
	m := NewLogMetrics(log.New(&buf, "[metrics] ", 0))

	m.Counter("rows", 3, map[string]string{"step": "s", "codec": "csv"})
	m.Counter("rows", 2, nil)
	m.Timer("took", 1500*time.Millisecond, nil)

	if got := m.Total("rows"); got != 5 {
		t.Errorf("Total(rows) = %d, want 5", got)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("got %d lines, want 3", len(lines))
	}
	if want := "[metrics] counter rows=3 {codec=csv, step=s}"; lines[0] != want {
		t.Errorf("got %q, want %q", lines[0], want)
	}
	if want := "[metrics] timer took=1.5s"; lines[2] != want {
		t.Errorf("got %q, want %q", lines[2], want)
	}
}

func TestLogMetricsFlushTotals(t *testing.T) {
	var buf bytes.Buffer
	m := NewLogMetrics(log.New(&buf, "", 0))

	if err := m.Flush(); err != nil {
		t.Fatalf("Flush() error: %v", err)
	}
	if buf.Len() != 0 {
		t.Errorf("Flush() without counters wrote %q", buf.String())
	}

	m.Counter("written", 4, nil)
	m.Counter("read", 7, nil)
	m.Gauge("rate", 2, nil)
	buf.Reset()
	if err := m.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}
	if want := "totals {read=7, written=4}\n"; buf.String() != want {
		t.Errorf("got %q, want %q", buf.String(), want)
	}
}
