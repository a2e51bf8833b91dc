// Package display is the reconciler's narrow view of its own user-facing
// output: plan summaries, per-package install/uninstall progress, and the
// repodata/tarball download tracking described in §5 and §6. Nothing in
// pkg/reconcile, pkg/channel, or pkg/pkgcache writes to stdout/stderr
// directly — they all go through a Display, so tests can swap in a buffer
// and the CLI can swap in whatever rendering (plain lines, themed via
// pkg/cli/theme.go) fits the terminal.
package display

// Task tracks one long-running unit of work handed to a Display — a
// channel's repodata fetch, or a package's tarball download — through its
// stages and completion.
type Task interface {
	// Log attaches a message to this task specifically (e.g. a retry note).
	Log(msg string)
	// SetStage records the task's current activity, e.g. ("download",
	// "numpy-1.18.1-py37h7241aed_0.tar.bz2").
	SetStage(name string, target string)
	// Progress reports completion percent (0-100) with a status message.
	Progress(percent int, message string)
	// Done marks the task finished and releases any display resources tied
	// to it (e.g. its status line).
	Done()
}

// Display is the reconciler's sole output sink: direct log lines, final
// plan/result output, and tracked per-package Tasks.
type Display interface {
	// StartTask begins tracking a new unit of work (a download, an
	// extraction) and returns a handle for reporting its progress.
	StartTask(name string) Task
	// Log records a message outside the context of any specific task.
	Log(msg string)
	// Print writes primary output — a diff plan, an info/clean report — that
	// the user should see regardless of verbosity.
	Print(msg string)
	// SetVerbose toggles whether task-level Log calls surface to the user.
	SetVerbose(v bool)
	// Close flushes and releases any resources the Display holds open.
	Close()
}
