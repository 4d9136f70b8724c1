// Package ui renders results and status lines for the terminal.
package ui

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
)

// IsTerminal reports whether f is an interactive terminal.
func IsTerminal(f *os.File) bool {
	fd := f.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// Printer writes results to out and everything else to errOut.
type Printer struct {
	out     io.Writer
	errOut  io.Writer
	color   bool
	spinner bool

	faint   *color.Color
	info    *color.Color
	errorP  *color.Color
	warning *color.Color
	success *color.Color
	header  *color.Color
}

func NewPrinter(out, errOut io.Writer, colorEnabled, spinnerEnabled bool) *Printer {
	p := &Printer{
		out:     out,
		errOut:  errOut,
		color:   colorEnabled,
		spinner: spinnerEnabled,
		faint:   color.New(color.Faint),
		info:    color.New(color.FgCyan, color.Bold),
		errorP:  color.New(color.FgRed, color.Bold),
		warning: color.New(color.FgYellow, color.Bold),
		success: color.New(color.FgGreen, color.Bold),
		header:  color.New(color.FgHiCyan, color.Bold),
	}
	for _, c := range []*color.Color{p.faint, p.info, p.errorP, p.warning, p.success, p.header} {
		if colorEnabled {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}
	return p
}

func (p *Printer) Out() io.Writer { return p.out }

func (p *Printer) Err() io.Writer { return p.errOut }

func (p *Printer) Success(format string, args ...any) {
	fmt.Fprintf(p.errOut, "%s %s\n", p.success.Sprint("✓"), p.success.Sprintf(format, args...))
}

func (p *Printer) Error(format string, args ...any) {
	fmt.Fprintf(p.errOut, "%s %s\n", p.errorP.Sprint("✗"), p.errorP.Sprintf(format, args...))
}

func (p *Printer) Warning(format string, args ...any) {
	fmt.Fprintf(p.errOut, "%s %s\n", p.warning.Sprint("⚠"), p.warning.Sprintf(format, args...))
}

func (p *Printer) Info(format string, args ...any) {
	fmt.Fprintf(p.errOut, "%s %s\n", p.info.Sprint("ℹ"), fmt.Sprintf(format, args...))
}

func (p *Printer) Status(format string, args ...any) {
	fmt.Fprintf(p.errOut, "%s\n", p.faint.Sprintf("→ "+format, args...))
}

func (p *Printer) Header(title string) {
	fmt.Fprintf(p.errOut, "\n%s\n%s\n", p.header.Sprint(title), p.faint.Sprint(strings.Repeat("─", lipgloss.Width(title))))
}

// KV prints an indented key/value line.
func (p *Printer) KV(key, value string) {
	fmt.Fprintf(p.errOut, "  %s %s\n", p.faint.Sprint(key+":"), value)
}

// Boxed prints content inside a rounded border with an optional title.
func (p *Printer) Boxed(content, title string) {
	fmt.Fprintln(p.errOut, p.box(content, title))
}

func (p *Printer) box(content, title string) string {
	body := content
	if title != "" {
		head := lipgloss.NewStyle().Bold(true)
		if p.color {
			head = head.Foreground(lipgloss.Color("#5B8DEF"))
		}
		body = head.Render(title) + "\n" + content
	}
	style := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		Padding(0, 1)
	if p.color {
		style = style.BorderForeground(lipgloss.Color("#444444"))
	}
	return style.Render(body)
}

var spinnerFrames = []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}

// Spin shows message with an animated frame until the returned stop func is called.
// With spinners disabled it prints message once as a status line.
func (p *Printer) Spin(message string) (stop func()) {
	if !p.spinner {
		p.Status("%s", message)
		return func() {}
	}

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(80 * time.Millisecond)
		defer ticker.Stop()
		for i := 0; ; i++ {
			fmt.Fprintf(p.errOut, "\r%s %s", p.info.Sprint(spinnerFrames[i%len(spinnerFrames)]), message)
			select {
			case <-done:
				fmt.Fprintf(p.errOut, "\r\033[K")
				return
			case <-ticker.C:
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			close(done)
			wg.Wait()
		})
	}
}
