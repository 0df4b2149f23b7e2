// Package ui renders erpsync command output for the terminal.
package ui

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"golang.org/x/term"

	"github.com/nikolaj20/erp-phonetech/internal/replica/schema"
	replicasync "github.com/nikolaj20/erp-phonetech/internal/replica/sync"
)

// Printer writes styled output to one writer.
type Printer struct {
	w        io.Writer
	renderer *lipgloss.Renderer

	header lipgloss.Style
	ok     lipgloss.Style
	warn   lipgloss.Style
	bad    lipgloss.Style
	dim    lipgloss.Style
}

// NewPrinter creates a printer for w. Colors are disabled when color is
// false.
func NewPrinter(w io.Writer, color bool) *Printer {
	r := lipgloss.NewRenderer(w)
	if !color {
		r.SetColorProfile(termenv.Ascii)
	}

	return &Printer{
		w:        w,
		renderer: r,
		header:   r.NewStyle().Bold(true).Foreground(lipgloss.Color("12")),
		ok:       r.NewStyle().Foreground(lipgloss.Color("10")),
		warn:     r.NewStyle().Foreground(lipgloss.Color("11")),
		bad:      r.NewStyle().Foreground(lipgloss.Color("9")).Bold(true),
		dim:      r.NewStyle().Foreground(lipgloss.Color("8")),
	}
}

// Stdout returns a printer for os.Stdout, colored when it is a terminal
// and NO_COLOR is unset.
func Stdout() *Printer {
	color := term.IsTerminal(int(os.Stdout.Fd())) && os.Getenv("NO_COLOR") == ""
	return NewPrinter(os.Stdout, color)
}

// Success prints a confirmation line.
func (p *Printer) Success(format string, args ...any) {
	fmt.Fprintln(p.w, p.ok.Render("✓ "+fmt.Sprintf(format, args...)))
}

// Warn prints a warning line.
func (p *Printer) Warn(format string, args ...any) {
	fmt.Fprintln(p.w, p.warn.Render("! "+fmt.Sprintf(format, args...)))
}

// Info prints a plain line.
func (p *Printer) Info(format string, args ...any) {
	fmt.Fprintf(p.w, format+"\n", args...)
}

// table is a fixed-column text table.
type table struct {
	headers []string
	rows    [][]string
}

func (p *Printer) renderTable(t table) string {
	widths := make([]int, len(t.headers))
	for i, h := range t.headers {
		widths[i] = lipgloss.Width(h)
	}
	for _, row := range t.rows {
		for i, cell := range row {
			if w := lipgloss.Width(cell); w > widths[i] {
				widths[i] = w
			}
		}
	}

	var b strings.Builder
	cells := make([]string, len(t.headers))
	for i, h := range t.headers {
		cells[i] = p.header.Width(widths[i] + 2).Render(h)
	}
	b.WriteString(strings.TrimRight(strings.Join(cells, ""), " "))
	b.WriteByte('\n')

	for _, row := range t.rows {
		for i, cell := range row {
			cells[i] = p.renderer.NewStyle().Width(widths[i] + 2).Render(cell)
		}
		b.WriteString(strings.TrimRight(strings.Join(cells, ""), " "))
		b.WriteByte('\n')
	}
	return b.String()
}

// Statuses prints one row per collection.
func (p *Printer) Statuses(statuses []replicasync.Status) {
	t := table{headers: []string{"COLLECTION", "VERSION", "RECORDS", "PENDING", "STATE", "LAST PULL"}}
	for _, st := range statuses {
		t.rows = append(t.rows, []string{
			st.Collection,
			versionString(st.Version),
			fmt.Sprint(st.Records),
			fmt.Sprint(st.Pending),
			p.stateString(st),
			timeString(st.LastPull),
		})
	}
	fmt.Fprint(p.w, p.renderTable(t))

	for _, st := range statuses {
		if st.LastError != "" {
			fmt.Fprintln(p.w, p.bad.Render(st.Collection+": "+st.LastError))
		}
	}
}

func (p *Printer) stateString(st replicasync.Status) string {
	switch {
	case st.Expired:
		return p.bad.Render("session expired")
	case st.Degraded:
		return p.warn.Render("degraded")
	case st.Stopped:
		return p.dim.Render("stopped")
	case st.State == replicasync.StateAwaitingRetry:
		return p.warn.Render(st.State.String())
	default:
		return p.ok.Render(st.State.String())
	}
}

// Operations prints queued operations in submission order.
func (p *Printer) Operations(collection string, ops []schema.Operation) {
	if len(ops) == 0 {
		fmt.Fprintln(p.w, p.dim.Render(collection+": no pending operations"))
		return
	}

	fmt.Fprintln(p.w, p.header.Render(fmt.Sprintf("%s (%d pending)", collection, len(ops))))
	t := table{headers: []string{"ID", "ACTION", "METHOD", "RESOURCE", "ATTEMPTS", "ENQUEUED"}}
	for _, op := range ops {
		t.rows = append(t.rows, []string{
			shortID(op.ID),
			string(op.Action),
			op.Method,
			op.Resource,
			fmt.Sprint(op.Attempts),
			timeString(op.EnqueuedAt),
		})
	}
	fmt.Fprint(p.w, p.renderTable(t))
}

func versionString(m schema.Marker) string {
	if m.IsZero() {
		return "-"
	}
	return m.String()
}

func timeString(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
