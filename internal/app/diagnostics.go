package app

import (
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/tunez/scrobbled/internal/tracker"
)

// DiagnosticsState holds diagnostic metrics for the debug overlay.
type DiagnosticsState struct {
	Submissions      int
	LastSubmissionAt time.Time

	Errors      int
	LastError   string
	LastErrorAt time.Time

	StartTime      time.Time
	LastUpdate     time.Time
	MemoryUsage    uint64
	GoroutineCount int
}

// NewDiagnosticsState creates a new diagnostics state.
func NewDiagnosticsState() *DiagnosticsState {
	return &DiagnosticsState{StartTime: time.Now()}
}

// RecordSubmission counts a listen the primary sink accepted.
func (d *DiagnosticsState) RecordSubmission() {
	d.Submissions++
	d.LastSubmissionAt = time.Now()
}

// RecordError records a persistence error surfaced by the tracker.
func (d *DiagnosticsState) RecordError(err string) {
	d.Errors++
	d.LastError = err
	d.LastErrorAt = time.Now()
}

// Update refreshes runtime stats.
func (d *DiagnosticsState) Update() {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	d.MemoryUsage = m.Alloc
	d.GoroutineCount = runtime.NumGoroutine()
	d.LastUpdate = time.Now()
}

// Uptime returns the application uptime.
func (d *DiagnosticsState) Uptime() time.Duration {
	return time.Since(d.StartTime)
}

// Render renders the diagnostics overlay.
func (d *DiagnosticsState) Render(m *Model) string {
	d.Update()
	t := m.opts.Theme

	var b strings.Builder

	b.WriteString(t.Title.Render(" ═══ Diagnostics ═══ "))
	b.WriteString("\n\n")

	b.WriteString(t.Dim.Render("Uptime: "))
	b.WriteString(t.Text.Render(d.Uptime().Round(time.Second).String()))
	b.WriteString("\n\n")

	b.WriteString(t.Accent.Render("Runtime"))
	b.WriteString("\n")
	b.WriteString(fmt.Sprintf("  Memory: %s\n", humanize.Bytes(d.MemoryUsage)))
	b.WriteString(fmt.Sprintf("  Goroutines: %d\n", d.GoroutineCount))
	b.WriteString("\n")

	b.WriteString(t.Accent.Render("Poll loop"))
	b.WriteString("\n")
	if m.status.State == tracker.StateActive {
		b.WriteString(t.Success.Render("  ● Active"))
	} else {
		b.WriteString(t.Dim.Render("  ○ Idle"))
	}
	b.WriteString("\n")
	b.WriteString(fmt.Sprintf("  Source: %s\n", m.status.Source))
	if !m.status.LastTickAt.IsZero() {
		b.WriteString(fmt.Sprintf("  Last tick: %s\n", humanize.Time(m.status.LastTickAt)))
	}
	b.WriteString("\n")

	b.WriteString(t.Accent.Render("Submissions"))
	b.WriteString("\n")
	b.WriteString(fmt.Sprintf("  Saved this session: %d\n", d.Submissions))
	if !d.LastSubmissionAt.IsZero() {
		b.WriteString(fmt.Sprintf("  Last: %s\n", humanize.Time(d.LastSubmissionAt)))
	}
	for _, s := range append([]tracker.SinkStatus{m.status.Primary}, m.status.Secondary...) {
		if s.Name == "" {
			continue
		}
		b.WriteString(fmt.Sprintf("  %s: %s\n", s.Name, s.Text))
	}
	b.WriteString("\n")

	if d.LastError != "" && time.Since(d.LastErrorAt) < 5*time.Minute {
		b.WriteString(t.Error.Render(fmt.Sprintf("Last error (%d total): %s", d.Errors, d.LastError)))
		b.WriteString("\n\n")
	}

	b.WriteString(t.Dim.Render("Press Ctrl+D to close"))

	diagBox := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		Padding(1, 2).
		Width(48).
		Render(b.String())

	return lipgloss.Place(m.width, m.height, lipgloss.Right, lipgloss.Top, diagBox)
}
