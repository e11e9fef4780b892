package metrics

import (
	"fmt"
	"log"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/logflow/recsplit/pkg/interfaces"
)

// LogMetrics writes each metric as one log line and keeps running
// counter totals, which Flush reports.
type LogMetrics struct {
	logger *log.Logger

	mu       sync.Mutex
	counters map[string]int64
}

// NewLogMetrics creates a log-based exporter. A nil logger writes to
// stderr with a "[metrics] " prefix.
func NewLogMetrics(l *log.Logger) *LogMetrics {
	if l == nil {
		l = log.New(os.Stderr, "[metrics] ", log.LstdFlags)
	}
	return &LogMetrics{logger: l, counters: make(map[string]int64)}
}

func (m *LogMetrics) Counter(name string, value int64, tags map[string]string) {
	m.mu.Lock()
	m.counters[name] += value
	m.mu.Unlock()
	m.log("counter", name, fmt.Sprintf("%d", value), tags)
}

func (m *LogMetrics) Gauge(name string, value float64, tags map[string]string) {
	m.log("gauge", name, fmt.Sprintf("%.4f", value), tags)
}

func (m *LogMetrics) Histogram(name string, value float64, tags map[string]string) {
	m.log("histogram", name, fmt.Sprintf("%.4f", value), tags)
}

func (m *LogMetrics) Timer(name string, duration time.Duration, tags map[string]string) {
	m.log("timer", name, duration.String(), tags)
}

// Total returns the running sum of a counter.
func (m *LogMetrics) Total(name string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counters[name]
}

// Flush logs every counter total on one line.
func (m *LogMetrics) Flush() error {
	m.mu.Lock()
	totals := make(map[string]string, len(m.counters))
	for k, v := range m.counters {
		totals[k] = fmt.Sprintf("%d", v)
	}
	m.mu.Unlock()

	if len(totals) > 0 {
		m.logger.Println("totals" + formatTags(totals))
	}
	return nil
}

func (m *LogMetrics) Close() error {
	return m.Flush()
}

func (m *LogMetrics) log(kind, name, value string, tags map[string]string) {
	m.logger.Printf("%s %s=%s%s", kind, name, value, formatTags(tags))
}

// formatTags renders tags in key order.
func formatTags(tags map[string]string) string {
	if len(tags) == 0 {
		return ""
	}
	keys := make([]string, 0, len(tags))
	for k := range tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + "=" + tags[k]
	}
	return " {" + strings.Join(parts, ", ") + "}"
}

var _ interfaces.MetricsExporter = (*LogMetrics)(nil)
