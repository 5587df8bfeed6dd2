// Package render draws import progress, notifications, and catalog listings
// on a terminal.
package render

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/fatih/color"
	"golang.org/x/term"

	"github.com/JakeFAU/catalog-importer/internal/reconcile"
)

const barWidth = 30

// IsTerminal reports whether f is attached to a terminal.
func IsTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

// Terminal implements reconcile.Presenter and reconcile.Notifier. On a TTY it
// redraws the progress bar in place; otherwise it prints one line per change.
type Terminal struct {
	out io.Writer
	tty bool

	green  *color.Color
	red    *color.Color
	yellow *color.Color
	faint  *color.Color

	mu         sync.Mutex
	taskID     string
	lastLine   string
	errorsSeen int
	resultSeen bool
	drawn      bool
}

// NewTerminal writes to out. Colour and in-place redraws are enabled only
// when tty is true.
func NewTerminal(out io.Writer, tty bool) *Terminal {
	t := &Terminal{
		out:    out,
		tty:    tty,
		green:  color.New(color.FgGreen, color.Bold),
		red:    color.New(color.FgRed, color.Bold),
		yellow: color.New(color.FgYellow),
		faint:  color.New(color.Faint),
	}
	if !tty {
		for _, c := range []*color.Color{t.green, t.red, t.yellow, t.faint} {
			c.DisableColor()
		}
	}
	return t
}

// Render implements reconcile.Presenter.
func (t *Terminal) Render(v reconcile.View) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if v.TaskID != t.taskID {
		t.endLine()
		t.taskID = v.TaskID
		t.lastLine = ""
		t.errorsSeen = 0
		t.resultSeen = false
		fmt.Fprintf(t.out, "Importing %s (task %s)\n", v.Filename, v.TaskID)
	}

	for _, msg := range v.Errors[min(t.errorsSeen, len(v.Errors)):] {
		t.endLine()
		fmt.Fprintf(t.out, "%s %s\n", t.yellow.Sprint("!"), msg)
	}
	t.errorsSeen = len(v.Errors)

	line := fmt.Sprintf("%s %5.1f%%  %s", bar(v.Percentage), v.Percentage, v.StatusLine)
	if line != t.lastLine {
		t.lastLine = line
		if t.tty {
			fmt.Fprintf(t.out, "\r\033[K%s", line)
			t.drawn = true
		} else {
			fmt.Fprintln(t.out, line)
		}
	}

	if v.Result != "" && !t.resultSeen {
		t.resultSeen = true
		t.endLine()
		c := t.green
		if v.ResultLevel == reconcile.LevelError {
			c = t.red
		}
		fmt.Fprintln(t.out, c.Sprint(v.Result))
	}
}

// Notify implements reconcile.Notifier.
func (t *Terminal) Notify(n reconcile.Notification) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.endLine()
	mark, c := "✔", t.green
	if n.Level == reconcile.LevelError {
		mark, c = "✖", t.red
	}
	fmt.Fprintf(t.out, "%s %s\n", c.Sprint(mark+" "+n.Title), t.faint.Sprint(n.Message))
}

// endLine terminates an in-place progress line before other output.
func (t *Terminal) endLine() {
	if t.drawn {
		fmt.Fprintln(t.out)
		t.drawn = false
	}
}

func bar(pct float64) string {
	filled := int(pct / 100 * barWidth)
	filled = max(0, min(filled, barWidth))
	return "[" + strings.Repeat("#", filled) + strings.Repeat(".", barWidth-filled) + "]"
}
