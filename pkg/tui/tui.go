// Package tui renders step results and progress for the terminal.
// Plain streaming output, no full-screen UI.
package tui

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/schollz/progressbar/v3"

	"github.com/logflow/recsplit/pkg/checkpoint"
)

// Colors (Swiss minimal)
var (
	accent  = lipgloss.Color("#FF0000")
	muted   = lipgloss.Color("#666666")
	success = lipgloss.Color("#00CC66")
	white   = lipgloss.Color("#FFFFFF")
)

// Styles
var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(white)
	accentStyle  = lipgloss.NewStyle().Foreground(accent).Bold(true)
	mutedStyle   = lipgloss.NewStyle().Foreground(muted)
	successStyle = lipgloss.NewStyle().Foreground(success).Bold(true)
	codeStyle    = lipgloss.NewStyle().Background(lipgloss.Color("#1a1a1a")).Foreground(white).Padding(0, 1)
)

const rule = "  ─────────────────────────────────────"

// Header prints the tool banner.
func Header(w io.Writer, version string) {
	fmt.Fprintln(w)
	fmt.Fprintln(w, titleStyle.Render("  RECSPLIT")+mutedStyle.Render(" "+version))
	fmt.Fprintln(w, mutedStyle.Render("  Parallel record splitting and parsing"))
	fmt.Fprintln(w)
}

func field(w io.Writer, label, value string) {
	fmt.Fprintf(w, "  %s %s\n", mutedStyle.Render(label+":"), titleStyle.Render(value))
}

// PrintSummary prints the outcome of a step execution.
func PrintSummary(w io.Writer, exec *checkpoint.StepExecution) {
	fmt.Fprintln(w)
	if exec.Status == checkpoint.StatusCompleted {
		fmt.Fprintln(w, successStyle.Render("  ✓ STEP COMPLETE"))
	} else {
		fmt.Fprintln(w, accentStyle.Render("  ✗ STEP "+strings.ToUpper(string(exec.Status))))
	}
	fmt.Fprintln(w)

	field(w, "Step", exec.Step)
	fmt.Fprintf(w, "  %s %s\n", mutedStyle.Render("Execution:"), codeStyle.Render(exec.ID))
	if exec.Input != "" {
		fmt.Fprintf(w, "  %s %s → %s\n", mutedStyle.Render("Files:"), exec.Input, exec.Output)
	}
	if mode, ok := exec.Metadata["mode"]; ok {
		field(w, "Mode", mode)
	}

	fmt.Fprintln(w, mutedStyle.Render(rule))
	field(w, "Read", FormatNumber(exec.ReadCount))
	field(w, "Written", FormatNumber(exec.WriteCount))
	if exec.SkipCount > 0 {
		fmt.Fprintf(w, "  %s %s\n", mutedStyle.Render("Skipped:"), accentStyle.Render(FormatNumber(exec.SkipCount)))
	}

	if d := exec.Duration(); d > 0 {
		throughput := float64(exec.ReadCount) / d.Seconds()
		fmt.Fprintf(w, "  %s %s %s\n",
			mutedStyle.Render("Time:"),
			titleStyle.Render(FormatDuration(d)),
			mutedStyle.Render(fmt.Sprintf("(%s records/sec)", FormatNumber(int64(throughput)))))
	}
	if exec.ExitMessage != "" {
		fmt.Fprintln(w, mutedStyle.Render(rule))
		fmt.Fprintf(w, "  %s\n", accentStyle.Render(exec.ExitMessage))
	}
	fmt.Fprintln(w)
}

// Entry is one stream listed by Inspect.
type Entry struct {
	Name string
	Size int64
}

// Column is one column of a tabular output.
type Column struct {
	Name string
	Type string
}

// Inspection is what the inspect command reports about an input or
// output.
type Inspection struct {
	Location string
	Kind     string
	Entries  []Entry
	Shared   bool
	Columns  []Column
	Rows     int64
}

// PrintInspection prints an Inspection.
func PrintInspection(w io.Writer, in *Inspection) {
	fmt.Fprintln(w)
	fmt.Fprintln(w, accentStyle.Render("▸ "+in.Location))
	fmt.Fprintln(w, mutedStyle.Render(rule))
	field(w, "Kind", in.Kind)

	if len(in.Entries) > 0 {
		var total int64
		for _, e := range in.Entries {
			if e.Size > 0 {
				total += e.Size
			}
		}
		field(w, "Entries", fmt.Sprintf("%d (%s)", len(in.Entries), FormatBytes(total)))
		for _, e := range in.Entries {
			size := "unknown"
			if e.Size >= 0 {
				size = FormatBytes(e.Size)
			}
			fmt.Fprintf(w, "    %s %s\n", e.Name, mutedStyle.Render(size))
		}
		hint := "one stream per worker"
		if in.Shared {
			hint = "shared stream"
		}
		field(w, "Concurrency", hint)
	}

	if len(in.Columns) > 0 {
		field(w, "Rows", FormatNumber(in.Rows))
		for _, c := range in.Columns {
			fmt.Fprintf(w, "    %s %s\n", c.Name, mutedStyle.Render(c.Type))
		}
	}
	fmt.Fprintln(w, mutedStyle.Render(rule))
	fmt.Fprintln(w)
}

// PrintExecutions prints stored step executions as a table.
func PrintExecutions(w io.Writer, execs []*checkpoint.StepExecution) {
	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(mutedStyle).
		Headers("ID", "STEP", "STATUS", "READ", "WRITTEN", "SKIPPED", "STARTED", "INPUT").
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return titleStyle.Padding(0, 1)
			}
			return lipgloss.NewStyle().Padding(0, 1)
		})
	for _, e := range execs {
		t.Row(e.ID, e.Step, string(e.Status),
			FormatNumber(e.ReadCount), FormatNumber(e.WriteCount), FormatNumber(e.SkipCount),
			e.StartedAt.Format(time.DateTime), e.Input)
	}
	fmt.Fprintln(w, t.Render())
}

// Errorf prints a failure line.
func Errorf(w io.Writer, format string, args ...any) {
	fmt.Fprintln(w, accentStyle.Render("  ✗ "+fmt.Sprintf(format, args...)))
}

// Infof prints a muted status line.
func Infof(w io.Writer, format string, args ...any) {
	fmt.Fprintln(w, mutedStyle.Render("  "+fmt.Sprintf(format, args...)))
}

// Counter shows a live record count while a step runs. The total is
// unknown, so the bar renders as a spinner with a count.
type Counter struct {
	mu   sync.Mutex
	bar  *progressbar.ProgressBar
	last int64
}

// NewCounter creates a counter writing to w.
func NewCounter(w io.Writer, description string) *Counter {
	bar := progressbar.NewOptions64(-1,
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("records"),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionClearOnFinish(),
	)
	return &Counter{bar: bar}
}

// Update matches job.Step.OnProgress. Calls may come from several
// workers; counts only move forward.
func (c *Counter) Update(read, written, skipped int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if read <= c.last {
		return
	}
	c.last = read
	c.bar.Set64(read)
	if skipped > 0 {
		c.bar.Describe(fmt.Sprintf("reading (%s skipped)", FormatNumber(skipped)))
	}
}

// Finish clears the counter.
func (c *Counter) Finish() error {
	return c.bar.Finish()
}

// FormatDuration formats a duration in a human-readable way.
func FormatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
}

// FormatNumber abbreviates large counts.
func FormatNumber(n int64) string {
	if n < 1000 {
		return fmt.Sprintf("%d", n)
	}
	if n < 1000000 {
		return fmt.Sprintf("%.1fK", float64(n)/1000)
	}
	return fmt.Sprintf("%.1fM", float64(n)/1000000)
}

// FormatBytes formats a byte size with binary units.
func FormatBytes(b int64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}
	div, exp := int64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(b)/float64(div), "KMGTPE"[exp])
}
