// Package manager implements the scheduler: admission control, reaping,
// timeout enforcement, interrupt handling, and result collection over a
// set of task.Task instances driven through an iomux.IOMux.
package manager

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/gopssh/pssh/internal/logging"
	"github.com/gopssh/pssh/iomux"
	"github.com/gopssh/pssh/signalbridge"
	"github.com/gopssh/pssh/task"
	"github.com/gopssh/pssh/writer"
)

// minPollWait is the deliberate floor on the IOMux.Poll wait: SIGCHLD
// already wakes the loop the instant a child exits, so a sub-second wait
// buys no correctness and only burns CPU on a busy poll. This is a design
// choice carried over unchanged, not a portability workaround.
const minPollWait = time.Second

// Config holds the parameters a Manager is constructed with.
type Config struct {
	// Limit is the maximum number of tasks running concurrently. Zero or
	// negative means unlimited (bounded only by len(tasks)).
	Limit int
	// Timeout is the per-task wall-clock deadline. Zero or negative
	// disables timeouts entirely.
	Timeout time.Duration
	// OutDir and ErrDir configure the Writer's output directories; either
	// may be empty.
	OutDir, ErrDir string
	// Append selects append-mode over truncate-mode for output files.
	Append bool
	// AskpassSocket is passed verbatim to every task's Start call.
	AskpassSocket string
	// Logger receives structured diagnostics; nil is a valid no-op logger.
	Logger *logging.Logger
}

// Manager is the scheduler proper.
type Manager struct {
	cfg Config

	mux    *iomux.IOMux
	bridge *signalbridge.Bridge
	wr     *writer.Writer

	tasks   []task.Task
	running []task.Task
	done    []task.Task

	nextNodenum int
	numnodes    int
}

// New constructs a Manager. Callers add tasks with AddTask, then call Run.
func New(cfg Config) (*Manager, error) {
	mux, err := iomux.New(cfg.Logger)
	if err != nil {
		return nil, fmt.Errorf("manager: creating iomux: %w", err)
	}
	bridge, err := signalbridge.New(mux, cfg.Logger)
	if err != nil {
		mux.Close()
		return nil, fmt.Errorf("manager: creating signal bridge: %w", err)
	}
	return &Manager{
		cfg:    cfg,
		mux:    mux,
		bridge: bridge,
	}, nil
}

// AddTask queues t to run once admitted.
func (m *Manager) AddTask(t task.Task) {
	m.tasks = append(m.tasks, t)
	m.numnodes++
}

// Run processes all queued tasks until none remain pending or running, or
// ctx is cancelled (operator interrupt), and returns the exit statuses of
// every task in completion order. Run is not safe to call more than once.
//
// abort signals a second operator interrupt arriving while the first is
// still being processed: the cleanup pass triggered by ctx's cancellation
// interrupts or cancels every task in turn, one kill(2) at a time, which on
// a large host list is itself an operation an impatient operator may want
// to cut short rather than wait out. abort may be nil, in which case the
// cleanup pass always runs to completion once started.
func (m *Manager) Run(ctx context.Context, abort <-chan struct{}) []int {
	if m.cfg.OutDir != "" || m.cfg.ErrDir != "" {
		m.wr = writer.New(m.cfg.OutDir, m.cfg.ErrDir, m.cfg.Append, m.cfg.Logger)
	}
	m.bridge.Start()
	defer m.bridge.Stop()

	m.updateTasks()
	wait := minPollWait

	for len(m.running) > 0 || len(m.tasks) > 0 {
		select {
		case <-ctx.Done():
			m.interrupt(abort)
			m.shutdownWriter()
			return m.collectStatuses()
		default:
		}

		if wait < minPollWait {
			wait = minPollWait
		}
		if err := m.mux.Poll(wait); err != nil {
			if m.cfg.Logger != nil {
				m.cfg.Logger.Err().Err(err).Log("manager: poll failed")
			}
			break
		}
		m.updateTasks()
		wait = m.checkTimeout()
	}

	m.shutdownWriter()
	return m.collectStatuses()
}

func (m *Manager) shutdownWriter() {
	if m.wr != nil {
		m.wr.Quit()
		m.wr.Join()
	}
}

func (m *Manager) collectStatuses() []int {
	statuses := make([]int, len(m.done))
	for i, t := range m.done {
		statuses[i] = t.ExitStatus()
	}
	return statuses
}

// updateTasks repeats admit-then-reap until a full pass reaps nothing,
// matching the source's "admit to saturation, reap before sleeping" loop:
// admissions can themselves produce immediately-finishable tasks (e.g. a
// task that fails to start), so the system must reach quiescence in both
// directions before the caller sleeps in Poll.
func (m *Manager) updateTasks() {
	for {
		m.admitOnce()
		if m.reapOnce() == 0 {
			return
		}
	}
}

func (m *Manager) admitOnce() {
	for len(m.tasks) > 0 && (m.cfg.Limit <= 0 || len(m.running) < m.cfg.Limit) {
		t := m.tasks[0]
		m.tasks = m.tasks[1:]
		m.running = append(m.running, t)

		var wr task.Writer
		if m.wr != nil {
			wr = m.wr
		}
		if err := t.Start(m.nextNodenum, m.numnodes, m.mux, wr, m.cfg.AskpassSocket); err != nil && m.cfg.Logger != nil {
			m.cfg.Logger.Err().Err(err).Int("nodenum", m.nextNodenum).Log("manager: task start failed")
		}
		m.nextNodenum++
	}
}

func (m *Manager) reapOnce() int {
	stillRunning := make([]task.Task, 0, len(m.running))
	finished := 0
	for _, t := range m.running {
		if t.Running() {
			stillRunning = append(stillRunning, t)
		} else {
			m.finish(t)
			finished++
		}
	}
	m.running = stillRunning
	return finished
}

// checkTimeout force-terminates any running task past its deadline and
// returns the minimum positive time-left across survivors, floored at
// zero. A non-positive Timeout disables the mechanism, returning a wait
// large enough that the caller's own minPollWait floor governs instead.
func (m *Manager) checkTimeout() time.Duration {
	if m.cfg.Timeout <= 0 {
		return minPollWait
	}

	minLeft := time.Duration(math.MaxInt64)
	any := false
	for _, t := range m.running {
		left := m.cfg.Timeout - time.Duration(t.Elapsed()*float64(time.Second))
		if left <= 0 {
			t.TimedOut()
			continue
		}
		any = true
		if left < minLeft {
			minLeft = left
		}
	}
	if !any {
		return 0
	}
	return minLeft
}

// interrupt runs the cleanup pass: every running task is interrupted, every
// pending task is cancelled, all moved to done. If abort fires partway
// through, the pass stops immediately rather than working through whatever
// tasks remain — a second operator interrupt means "stop now", not "finish
// cleaning up first".
func (m *Manager) interrupt(abort <-chan struct{}) {
	for _, t := range m.running {
		select {
		case <-abort:
			return
		default:
		}
		t.Interrupted()
		m.finish(t)
	}
	m.running = nil

	for _, t := range m.tasks {
		select {
		case <-abort:
			return
		default:
		}
		t.Cancel()
		m.finish(t)
	}
	m.tasks = nil
}

func (m *Manager) finish(t task.Task) {
	m.done = append(m.done, t)
	t.Report(len(m.done))
}
