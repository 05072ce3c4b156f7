// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package termstyle

import (
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"
	"github.com/muesli/termenv"
	"golang.org/x/term"
)

// Writer renders styled text to an underlying io.Writer, falling back
// to plain text when the destination is not a terminal (§4.4 step 8
// is cosmetic — it must never corrupt a redirected build log).
type Writer struct {
	out      io.Writer
	colorize bool
	renderer *lipgloss.Renderer
}

// New wraps out. Colorization is attempted only when out is *os.File
// and golang.org/x/term reports it as a terminal.
func New(out *os.File) *Writer {
	colorize := term.IsTerminal(int(out.Fd()))
	w := &Writer{out: out, colorize: colorize}
	if colorize {
		w.renderer = lipgloss.NewRenderer(out, termenv.WithProfile(termenv.ANSI256))
		w.renderer.SetColorProfile(termenv.ANSI256)
	}
	return w
}

var (
	hostColor   = lipgloss.Color("39")  // blue: which compile server
	errorColor  = lipgloss.Color("203") // red: failure lines
	statusColor = lipgloss.Color("214") // amber: STATUS_TEXT from the daemon
)

// AnnounceHost renders "host: message" in the host accent color, used
// before a remote session's STATUS_TEXT or failure is surfaced so the
// user can tell replicas apart in redundant mode.
func (w *Writer) AnnounceHost(hostname, message string) {
	if !w.colorize {
		io.WriteString(w.out, hostname+": "+message+"\n")
		return
	}
	style := w.renderer.NewStyle().Foreground(hostColor).Bold(true)
	io.WriteString(w.out, style.Render(hostname+":")+" "+message+"\n")
}

// StatusText renders a STATUS_TEXT line from the compile server or
// broker in the status accent color.
func (w *Writer) StatusText(text string) {
	if !w.colorize {
		io.WriteString(w.out, text+"\n")
		return
	}
	style := w.renderer.NewStyle().Foreground(statusColor)
	io.WriteString(w.out, style.Render(text)+"\n")
}

// Error renders a build-driver error message in the error accent
// color, stripping any ANSI the underlying error text may already
// carry (e.g. from a relayed remote stderr line) before restyling it.
func (w *Writer) Error(message string) {
	clean := ansi.Strip(message)
	if !w.colorize {
		io.WriteString(w.out, clean+"\n")
		return
	}
	style := w.renderer.NewStyle().Foreground(errorColor).Bold(true)
	io.WriteString(w.out, style.Render(clean)+"\n")
}

// Plain writes raw bytes unstyled, used for the compiled program's
// own stdout/stderr passthrough where no restyling is wanted.
func (w *Writer) Plain(data []byte) {
	w.out.Write(data)
}
