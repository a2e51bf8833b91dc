// Package display implementation for terminal-based output.
package display

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
)

// consoleDisplay implements the Display interface for standard terminal output.
type consoleDisplay struct {
	mu      sync.Mutex
	out     io.Writer
	verbose bool
}

// NewConsole creates a Display that writes to standard error.
func NewConsole() Display {
	return &consoleDisplay{
		out: os.Stderr,
	}
}

// NewWriterDisplay creates a Display that writes to the provided io.Writer.
func NewWriterDisplay(w io.Writer) Display {
	return &consoleDisplay{
		out: w,
	}
}

// StartTask creates a new console-based task tracker and prints its opening line.
func (d *consoleDisplay) StartTask(name string) Task {
	t := &consoleTask{name: name, disp: d}
	d.mu.Lock()
	fmt.Fprintf(d.out, "[%s] starting\n", name)
	d.mu.Unlock()
	return t
}

// Log writes a message to slog at Debug level.
func (d *consoleDisplay) Log(msg string) {
	slog.Debug(msg)
}

// Print writes a message directly to the output writer.
func (d *consoleDisplay) Print(msg string) {
	d.mu.Lock()
	out := d.out
	d.mu.Unlock()
	fmt.Fprint(out, msg)
}

// SetVerbose toggles verbose output mode.
func (d *consoleDisplay) SetVerbose(v bool) {
	d.mu.Lock()
	d.verbose = v
	d.mu.Unlock()
}

// Close is a no-op for the console display.
func (d *consoleDisplay) Close() {
	// no-op
}

// consoleTask implements the Task interface for terminal tracking. Each
// update clears the previously printed status line (cursor up + clear line)
// before rendering the next one, so the task occupies a single moving line.
type consoleTask struct {
	name    string
	disp    *consoleDisplay
	stage   string
	target  string
	percent int
	printed bool
}

func (t *consoleTask) statusLine() string {
	if t.stage == "" {
		return fmt.Sprintf("[%s] %d%%", t.name, t.percent)
	}
	return fmt.Sprintf("[%s] %s %s %d%%", t.name, t.stage, t.target, t.percent)
}

func (t *consoleTask) clearLocked() {
	if t.printed {
		fmt.Fprint(t.disp.out, "\x1b[1A\x1b[2K")
	}
}

func (t *consoleTask) renderLocked() {
	fmt.Fprintln(t.disp.out, t.statusLine())
	t.printed = true
}

// Log writes a task-specific debug message and, when the display is verbose,
// interleaves it above the status line.
func (t *consoleTask) Log(msg string) {
	slog.Debug(msg, "task", t.name)
	t.disp.mu.Lock()
	defer t.disp.mu.Unlock()
	if !t.disp.verbose {
		return
	}
	t.clearLocked()
	fmt.Fprintln(t.disp.out, msg)
	t.renderLocked()
}

// SetStage records and redraws a new processing stage for the task.
func (t *consoleTask) SetStage(name string, target string) {
	slog.Debug("task stage", "task", t.name, "stage", name, "target", target)
	t.disp.mu.Lock()
	defer t.disp.mu.Unlock()
	t.clearLocked()
	t.stage, t.target = name, target
	t.renderLocked()
}

// Progress redraws the numerical progress of the task.
func (t *consoleTask) Progress(percent int, message string) {
	slog.Debug("task progress", "task", t.name, "percent", percent, "message", message)
	t.disp.mu.Lock()
	defer t.disp.mu.Unlock()
	t.clearLocked()
	t.percent = percent
	t.renderLocked()
}

// Done clears the status line and logs a final completion line.
func (t *consoleTask) Done() {
	slog.Debug("task done", "task", t.name)
	t.disp.mu.Lock()
	defer t.disp.mu.Unlock()
	t.clearLocked()
	fmt.Fprintf(t.disp.out, "[%s] Done\n", t.name)
	t.printed = false
}
