// Package exectask implements task.Task by spawning a real child process
// with os/exec, registering its stdout/stderr with an iomux.IOMux, and
// forwarding output chunks to a writer.Writer. It is the concrete task the
// Manager actually schedules in cmd/gopssh; the manager package's own tests
// drive a fake task instead.
package exectask

import (
	"fmt"
	"os"
	"os/exec"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/gopssh/pssh/iomux"
	"github.com/gopssh/pssh/internal/logging"
	"github.com/gopssh/pssh/task"
)

const (
	askpassEnvVar = "SSH_ASKPASS"
	readChunkSize = 1 << 16
)

// Spec describes the child process a Task spawns: the host it targets
// (used for the writer's per-host filename policy and for Report output)
// and the argv/environment of the command to run.
type Spec struct {
	Host string
	Argv []string
	Env  []string // appended to os.Environ(); empty means inherit only
}

// Task is the exectask.Spec-driven task.Task implementation.
type Task struct {
	spec   Spec
	logger *logging.Logger

	nodenum, numnodes int
	start             time.Time

	mux           *iomux.IOMux
	writer        task.Writer
	outPath       string
	errPath       string
	stdoutReadFD  int
	stderrReadFD  int
	stdoutWriteFD int
	stderrWriteFD int

	cmd  *exec.Cmd
	pid  int
	pgid bool // true once Setpgid succeeded, enabling group-kill

	finished    bool
	exitStatus  int
	timedOut    bool
	interrupted bool
	cancelled   bool
	startFailed bool
	startErr    error
}

// New returns a Task that has not yet been started.
func New(spec Spec, logger *logging.Logger) *Task {
	return &Task{spec: spec, logger: logger}
}

// Start implements task.Task.
func (t *Task) Start(nodenum, numnodes int, mux *iomux.IOMux, w task.Writer, askpassSocket string) error {
	t.nodenum, t.numnodes = nodenum, numnodes
	t.mux = mux
	t.writer = w
	t.start = time.Now()

	if w != nil {
		t.outPath, t.errPath = w.OpenFiles(t.spec.Host)
	}

	outR, outW, err := pipe2CloExec()
	if err != nil {
		return t.failStart(fmt.Errorf("exectask: creating stdout pipe: %w", err))
	}
	errR, errW, err := pipe2CloExec()
	if err != nil {
		unix.Close(outR)
		unix.Close(outW)
		return t.failStart(fmt.Errorf("exectask: creating stderr pipe: %w", err))
	}
	if err := unix.SetNonblock(outR, true); err != nil {
		t.closeRawPipes(outR, outW, errR, errW)
		return t.failStart(fmt.Errorf("exectask: setting stdout pipe non-blocking: %w", err))
	}
	if err := unix.SetNonblock(errR, true); err != nil {
		t.closeRawPipes(outR, outW, errR, errW)
		return t.failStart(fmt.Errorf("exectask: setting stderr pipe non-blocking: %w", err))
	}

	t.stdoutReadFD, t.stdoutWriteFD = outR, outW
	t.stderrReadFD, t.stderrWriteFD = errR, errW

	if len(t.spec.Argv) == 0 {
		t.closeRawPipes(outR, outW, errR, errW)
		return t.failStart(fmt.Errorf("exectask: empty argv for host %s", t.spec.Host))
	}

	cmd := exec.Command(t.spec.Argv[0], t.spec.Argv[1:]...)
	cmd.Env = os.Environ()
	cmd.Env = append(cmd.Env, t.spec.Env...)
	if askpassSocket != "" {
		cmd.Env = append(cmd.Env, askpassEnvVar+"_SOCKET="+askpassSocket)
	}
	cmd.Stdout = os.NewFile(uintptr(outW), "exectask-stdout-w")
	cmd.Stderr = os.NewFile(uintptr(errW), "exectask-stderr-w")
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	t.cmd = cmd

	if err := cmd.Start(); err != nil {
		t.closeRawPipes(outR, outW, errR, errW)
		err = fmt.Errorf("exectask: starting %s: %w", t.spec.Host, err)
		if t.logger != nil {
			t.logger.Err().Err(err).Str("host", t.spec.Host).Log("exectask: start failed")
		}
		return t.failStart(err)
	}
	t.pid = cmd.Process.Pid
	t.pgid = true

	// The parent's copy of the write ends must close, or the child's exit
	// never produces EOF on the read ends we kept.
	cmd.Stdout.(*os.File).Close()
	cmd.Stderr.(*os.File).Close()

	mux.RegisterRead(t.stdoutReadFD, t.onStdout)
	mux.RegisterRead(t.stderrReadFD, t.onStderr)
	return nil
}

// failStart records err as the reason Start never produced a running child,
// marking the task finished with StatusStartFailed so the Manager reaps it
// immediately instead of waiting on a wait4 that will never succeed, and so
// Report never mistakes a task that never ran for one that exited 0.
func (t *Task) failStart(err error) error {
	t.startErr = err
	t.startFailed = true
	t.finished = true
	t.exitStatus = task.StatusStartFailed
	return err
}

// pipe2CloExec creates a close-on-exec pipe; the child's write end is
// explicitly closed in the parent after cmd.Start rather than relying on
// CLOEXEC, since the write end is deliberately duplicated into the child.
func pipe2CloExec() (r, w int, err error) {
	var fds [2]int
	if err := unix.Pipe2(fds[:], unix.O_CLOEXEC); err != nil {
		return -1, -1, err
	}
	return fds[0], fds[1], nil
}

func (t *Task) closeRawPipes(fds ...int) {
	for _, fd := range fds {
		unix.Close(fd)
	}
}

func (t *Task) onStdout(fd int) { t.drain(fd, t.outPath, &t.stdoutReadFD) }
func (t *Task) onStderr(fd int) { t.drain(fd, t.errPath, &t.stderrReadFD) }

// drain reads all currently available bytes from fd, forwarding them to the
// writer's queue for path, and unregisters fd once the child closes its end
// (read returns 0) or a non-transient error occurs.
func (t *Task) drain(fd int, path string, slot *int) {
	var buf [readChunkSize]byte
	for {
		n, err := unix.Read(fd, buf[:])
		if n > 0 && t.writer != nil {
			t.writer.Enqueue(path, buf[:n])
		}
		if err != nil {
			if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
				return
			}
			if err != unix.EINTR && t.logger != nil {
				t.logger.Err().Err(err).Str("host", t.spec.Host).Log("exectask: reading child output failed")
			}
			t.closeStream(fd, path, slot)
			return
		}
		if n == 0 {
			t.closeStream(fd, path, slot)
			return
		}
	}
}

func (t *Task) closeStream(fd int, path string, slot *int) {
	t.mux.Unregister(fd)
	unix.Close(fd)
	*slot = -1
	if t.writer != nil {
		t.writer.Close(path)
	}
}

// Running implements task.Task: a non-blocking reap attempt via wait4,
// mirroring the original driver's proc.poll() at the syscall level instead
// of racing a background cmd.Wait goroutine against our own event loop.
func (t *Task) Running() bool {
	if t.finished || t.cmd == nil {
		return false
	}
	var ws unix.WaitStatus
	pid, err := unix.Wait4(t.pid, &ws, unix.WNOHANG, nil)
	if err != nil || pid == 0 {
		return true
	}
	t.finish(ws)
	return false
}

func (t *Task) finish(ws unix.WaitStatus) {
	t.finished = true
	switch {
	case t.timedOut:
		t.exitStatus = task.StatusTimedOut
	case t.interrupted:
		t.exitStatus = task.StatusInterrupted
	case ws.Exited():
		t.exitStatus = ws.ExitStatus()
	case ws.Signaled():
		t.exitStatus = 128 + int(ws.Signal())
	default:
		t.exitStatus = -1
	}
}

// Elapsed implements task.Task.
func (t *Task) Elapsed() float64 { return time.Since(t.start).Seconds() }

// TimedOut implements task.Task: kills the whole process group so any
// grandchildren (e.g. ssh's own forked mux process) die too.
func (t *Task) TimedOut() {
	t.timedOut = true
	t.killGroup(syscall.SIGKILL)
}

// Interrupted implements task.Task. The status is set here because the
// Manager moves an interrupted task to done without reaping it again.
func (t *Task) Interrupted() {
	t.interrupted = true
	t.exitStatus = task.StatusInterrupted
	t.killGroup(syscall.SIGTERM)
}

func (t *Task) killGroup(sig syscall.Signal) {
	if t.cmd == nil || t.cmd.Process == nil {
		return
	}
	pid := t.pid
	if t.pgid {
		pid = -pid
	}
	if err := syscall.Kill(pid, sig); err != nil && t.logger != nil {
		t.logger.Warning().Err(err).Str("host", t.spec.Host).Log("exectask: signalling child failed")
	}
}

// Cancel implements task.Task for a task that never started.
func (t *Task) Cancel() {
	t.cancelled = true
	t.finished = true
	t.exitStatus = task.StatusCancelled
}

// Report implements task.Task, writing a one-line completion summary in the
// style of the original driver's per-host status line.
func (t *Task) Report(ordinal int) {
	status := "FAILURE"
	switch {
	case t.startFailed:
		status = "START FAILED"
	case t.cancelled:
		status = "CANCELLED"
	case t.timedOut:
		status = "TIMEOUT"
	case t.interrupted:
		status = "INTERRUPTED"
	case t.exitStatus == 0:
		status = "SUCCESS"
	}
	fmt.Printf("[%d] %s %s %s\n", ordinal, time.Now().Format(time.RFC3339), status, t.spec.Host)
}

// ExitStatus implements task.Task.
func (t *Task) ExitStatus() int { return t.exitStatus }
