package manager

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gopssh/pssh/iomux"
	"github.com/gopssh/pssh/task"
)

// fakeTask is a task.Task test double that "runs" for a configured
// duration without spawning any real process, so Manager's admission,
// reaping, timeout and interrupt logic can be exercised deterministically.
type fakeTask struct {
	mu          sync.Mutex
	sleep       time.Duration
	startedAt   time.Time
	started     bool
	cancelled   bool
	timedOut    bool
	interrupted bool
	exitStatus  int
	reported    int

	// interruptHook, if set, runs synchronously inside Interrupted, letting
	// a test observe or react to exactly when the cleanup pass reaches it.
	interruptHook func()
}

func (f *fakeTask) Start(nodenum, numnodes int, mux *iomux.IOMux, w task.Writer, askpassSocket string) error {
	f.mu.Lock()
	f.started = true
	f.startedAt = time.Now()
	f.mu.Unlock()
	return nil
}

func (f *fakeTask) Running() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.started || f.cancelled || f.timedOut || f.interrupted {
		return false
	}
	return time.Since(f.startedAt) < f.sleep
}

func (f *fakeTask) Elapsed() float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.started {
		return 0
	}
	return time.Since(f.startedAt).Seconds()
}

func (f *fakeTask) TimedOut() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.timedOut = true
	f.exitStatus = task.StatusTimedOut
}

func (f *fakeTask) Interrupted() {
	f.mu.Lock()
	f.interrupted = true
	f.exitStatus = task.StatusInterrupted
	hook := f.interruptHook
	f.mu.Unlock()
	if hook != nil {
		hook()
	}
}

func (f *fakeTask) Cancel() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = true
	f.exitStatus = task.StatusCancelled
}

func (f *fakeTask) Report(ordinal int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reported = ordinal
}

func (f *fakeTask) ExitStatus() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.exitStatus
}

func TestManager_Saturation(t *testing.T) {
	mgr, err := New(Config{Limit: 2})
	require.NoError(t, err)

	tasks := make([]*fakeTask, 4)
	for i := range tasks {
		tasks[i] = &fakeTask{sleep: 200 * time.Millisecond}
		mgr.AddTask(tasks[i])
	}

	start := time.Now()
	statuses := mgr.Run(context.Background(), nil)
	elapsed := time.Since(start)

	require.Len(t, statuses, 4)
	for _, s := range statuses {
		assert.Equal(t, 0, s)
	}
	// With limit=2 there are two waves of 200ms tasks, so wall clock is at
	// least one wave's worth. Fake tasks raise no SIGCHLD, so each wave is
	// only reaped when the one-second poll floor expires.
	assert.GreaterOrEqual(t, elapsed, 200*time.Millisecond)
}

func TestManager_Timeout(t *testing.T) {
	mgr, err := New(Config{Limit: 4, Timeout: 100 * time.Millisecond})
	require.NoError(t, err)

	tasks := make([]*fakeTask, 4)
	for i := range tasks {
		tasks[i] = &fakeTask{sleep: 10 * time.Second}
		mgr.AddTask(tasks[i])
	}

	statuses := mgr.Run(context.Background(), nil)
	require.Len(t, statuses, 4)
	for _, s := range statuses {
		assert.Equal(t, task.StatusTimedOut, s)
	}
}

func TestManager_Interrupt(t *testing.T) {
	mgr, err := New(Config{Limit: 2})
	require.NoError(t, err)

	tasks := make([]*fakeTask, 10)
	for i := range tasks {
		tasks[i] = &fakeTask{sleep: 10 * time.Second}
		mgr.AddTask(tasks[i])
	}

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	statuses := mgr.Run(ctx, nil)
	require.Len(t, statuses, 10)

	running, cancelled := 0, 0
	for _, s := range statuses {
		switch s {
		case task.StatusInterrupted:
			running++
		case task.StatusCancelled:
			cancelled++
		}
	}
	assert.Equal(t, 2, running)
	assert.Equal(t, 8, cancelled)
}

// TestManager_InterruptAbort verifies that a second interrupt (abort) cuts
// the cleanup pass short: once it fires, no further task gets Interrupted
// or Cancel called, and Run returns only the statuses of tasks the pass
// had already reached.
func TestManager_InterruptAbort(t *testing.T) {
	mgr, err := New(Config{Limit: 10})
	require.NoError(t, err)

	abort := make(chan struct{})

	tasks := make([]*fakeTask, 5)
	for i := range tasks {
		tasks[i] = &fakeTask{sleep: 10 * time.Second}
		mgr.AddTask(tasks[i])
	}
	// The first running task to be interrupted closes abort, so the
	// cleanup pass should stop immediately after handling it.
	tasks[0].interruptHook = func() { close(abort) }

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	statuses := mgr.Run(ctx, abort)

	require.Len(t, statuses, 1)
	assert.Equal(t, task.StatusInterrupted, statuses[0])
}
