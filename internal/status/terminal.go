// Package status renders poll progress for humans.
package status

import (
	"fmt"
	"io"
	"os"
	"sync"

	"golang.org/x/term"

	"github.com/ecairns22/deploywait/internal/health"
)

const (
	ansiReset     = "\033[0m"
	ansiDim       = "\033[2m"
	ansiBlue      = "\033[34m"
	ansiOrange    = "\033[38;5;208m"
	ansiClearLine = "\r\033[K"
)

var spinnerFrames = []string{"◐", "◓", "◑", "◒"}

// Terminal is a health.Reporter that writes to w. On a terminal it redraws a
// single styled spinner line; otherwise it prints one plain line per message
// and skips consecutive duplicates so CI logs stay short.
type Terminal struct {
	mu       sync.Mutex
	w        io.Writer
	tty      bool
	frame    int
	active   bool
	lastLine string
}

// New creates a Terminal, enabling redraw and colors when w is a terminal.
func New(w io.Writer) *Terminal {
	tty := false
	if f, ok := w.(*os.File); ok {
		tty = term.IsTerminal(int(f.Fd()))
	}
	return &Terminal{w: w, tty: tty}
}

// NewPlain creates a Terminal that never redraws or colors, whatever w is.
func NewPlain(w io.Writer) *Terminal {
	return &Terminal{w: w}
}

func (t *Terminal) Start(msg string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.active = true
	t.progress(msg)
}

func (t *Terminal) Update(msg string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.progress(msg)
}

func (t *Terminal) Ready(url string) {
	t.stop(fmt.Sprintf("%s %s %s", t.brand("deployment"), t.dim("is ready at:"), t.blue(url)))
}

func (t *Terminal) TimedOut(url string) {
	t.stop(fmt.Sprintf("%s timed out waiting for %s.", t.brand("deployment"), url))
}

func (t *Terminal) progress(msg string) {
	if t.tty {
		frame := spinnerFrames[t.frame%len(spinnerFrames)]
		t.frame++
		fmt.Fprintf(t.w, "%s%s %s", ansiClearLine, t.brand(frame), msg)
		return
	}
	if msg == t.lastLine {
		return
	}
	t.lastLine = msg
	fmt.Fprintln(t.w, msg)
}

func (t *Terminal) stop(msg string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.tty && t.active {
		fmt.Fprint(t.w, ansiClearLine)
	}
	t.active = false
	t.lastLine = ""
	fmt.Fprintln(t.w, msg)
}

func (t *Terminal) style(code, s string) string {
	if !t.tty {
		return s
	}
	return code + s + ansiReset
}

func (t *Terminal) brand(s string) string { return t.style(ansiOrange, s) }
func (t *Terminal) dim(s string) string   { return t.style(ansiDim, s) }
func (t *Terminal) blue(s string) string  { return t.style(ansiBlue, s) }

var _ health.Reporter = (*Terminal)(nil)
