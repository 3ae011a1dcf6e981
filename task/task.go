// Package task defines the capability contract the Manager drives every
// running unit of work through. The Manager depends only on this interface;
// it never inspects a concrete task's child-process handle or its command
// line directly.
package task

import "github.com/gopssh/pssh/iomux"

// Exit status sentinels a Task reports from ExitStatus when it never
// produced a normal exit code from its child process. Chosen to be negative, so they
// can never collide with a real process exit status (which is non-negative
// on every platform this package targets).
const (
	// StatusTimedOut marks a task force-terminated by the per-task deadline.
	StatusTimedOut = -1
	// StatusCancelled marks a pending task dropped before it ever started,
	// because the operator interrupted the run while it was still queued.
	StatusCancelled = -2
	// StatusInterrupted marks a running task stopped by operator interrupt.
	StatusInterrupted = -3
	// StatusStartFailed marks a task whose Start returned an error before
	// its child ever ran — e.g. the command was not found, or a pipe
	// couldn't be created. Distinct from a zero-value exit status so a
	// task that never ran is never mistaken for one that ran and exited 0.
	StatusStartFailed = -4
)

// Writer is the subset of writer.Writer a Task needs: enqueueing output
// records without depending on the writer package's concrete queue type.
type Writer interface {
	OpenFiles(host string) (outPath, errPath string)
	Enqueue(path string, payload []byte)
	Close(path string)
}

// Task is the capability set the Manager requires from every unit of work
// it schedules. Concrete implementations (see package exectask) own the
// child process handle; the Manager never sees it.
type Task interface {
	// Start spawns the task's child process (or otherwise begins work),
	// registers any descriptors it needs serviced with mux, and retains
	// whatever state it needs to answer the rest of this interface. Start
	// must not block past the point of registering descriptors.
	Start(nodenum, numnodes int, mux *iomux.IOMux, w Writer, askpassSocket string) error

	// Running reports whether the underlying child has not yet exited.
	Running() bool

	// Elapsed reports monotonic seconds since Start.
	Elapsed() float64

	// TimedOut force-terminates the task's child on deadline expiry and
	// transitions it towards Finished. The Manager still waits for a
	// subsequent Running() == false before reaping it.
	TimedOut()

	// Interrupted signals a running task's child on operator interrupt.
	Interrupted()

	// Cancel marks a never-started (still Pending) task as done without
	// spawning anything.
	Cancel()

	// Report writes a human-readable completion line for position ordinal
	// in the completion order.
	Report(ordinal int)

	// ExitStatus returns the task's final status. Only meaningful once the
	// task has reached Finished (Running() == false after a Start call, or
	// after Cancel).
	ExitStatus() int
}
