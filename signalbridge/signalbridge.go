//go:build unix

// Package signalbridge converts asynchronous SIGCHLD delivery into a
// readable wakeup descriptor registered on an iomux.IOMux, so the
// scheduler's poll loop never sleeps through a child exit.
//
// Go's runtime, not this package, is the actual OS signal handler:
// signal.Notify hands deliveries to us on an ordinary channel, received by
// an ordinary goroutine. That goroutine's only job is to write one byte to
// the wakeup pipe — it never touches scheduler state directly, which is
// the strictly safer variant of the bridge the design notes call for in
// languages without signal-safety guarantees over shared containers.
package signalbridge

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/gopssh/pssh/internal/logging"
	"github.com/gopssh/pssh/iomux"
)

// Bridge owns the wakeup pipe and the SIGCHLD notification channel.
type Bridge struct {
	mux     *iomux.IOMux
	logger  *logging.Logger
	sigCh   chan os.Signal
	readFD  int
	writeFD int
	done    chan struct{}
	stopped chan struct{}
}

// pipe2CloExec creates a non-blocking-capable pipe with both ends marked
// close-on-exec, so a forked ssh child never inherits the wakeup pipe.
func pipe2CloExec() (r, w int, err error) {
	var fds [2]int
	if err := unix.Pipe2(fds[:], unix.O_CLOEXEC); err != nil {
		return -1, -1, err
	}
	return fds[0], fds[1], nil
}

// New creates the wakeup pipe and registers its read end with mux under a
// drain handler. It neither installs the signal.Notify registration nor
// starts the relay goroutine; Start does both, so tests can construct a
// Bridge without touching process-wide signal disposition.
func New(mux *iomux.IOMux, logger *logging.Logger) (*Bridge, error) {
	r, w, err := pipe2CloExec()
	if err != nil {
		return nil, fmt.Errorf("signalbridge: creating wakeup pipe: %w", err)
	}
	if err := unix.SetNonblock(r, true); err != nil {
		unix.Close(r)
		unix.Close(w)
		return nil, fmt.Errorf("signalbridge: setting wakeup pipe read end non-blocking: %w", err)
	}
	if err := unix.SetNonblock(w, true); err != nil {
		unix.Close(r)
		unix.Close(w)
		return nil, fmt.Errorf("signalbridge: setting wakeup pipe write end non-blocking: %w", err)
	}

	b := &Bridge{
		mux:     mux,
		logger:  logger,
		readFD:  r,
		writeFD: w,
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	mux.RegisterRead(r, b.drain)
	return b, nil
}

// Start installs the SIGCHLD handler and begins relaying deliveries to the
// wakeup pipe. Safe to call once per Bridge.
func (b *Bridge) Start() {
	b.sigCh = make(chan os.Signal, 64)
	signal.Notify(b.sigCh, syscall.SIGCHLD)
	go b.relay()
}

// Stop restores the default SIGCHLD disposition, stops the relay
// goroutine, unregisters and closes the wakeup pipe.
func (b *Bridge) Stop() {
	if b.sigCh != nil {
		signal.Stop(b.sigCh)
		close(b.done)
		<-b.stopped
	}
	b.mux.Unregister(b.readFD)
	unix.Close(b.readFD)
	unix.Close(b.writeFD)
}

func (b *Bridge) relay() {
	defer close(b.stopped)
	for {
		select {
		case <-b.sigCh:
			b.wake()
		case <-b.done:
			return
		}
	}
}

// wake writes a single byte to the wakeup pipe, tolerating EAGAIN (the
// pipe is non-blocking and a pending byte already guarantees a wakeup).
func (b *Bridge) wake() {
	_, err := unix.Write(b.writeFD, []byte{0})
	if err != nil && err != unix.EAGAIN && err != unix.EWOULDBLOCK {
		if b.logger != nil {
			b.logger.Err().Err(err).Log("signalbridge: writing wakeup byte failed")
		}
	}
}

// drain reads and discards all available bytes from the wakeup pipe. It
// tolerates spurious wakeups (zero bytes available). A read error other
// than EAGAIN, EWOULDBLOCK or EINTR is logged and ends the drain; it is not
// returned to the caller and does not stop the scheduler.
func (b *Bridge) drain(fd int) {
	var buf [4096]byte
	for {
		n, err := unix.Read(fd, buf[:])
		if err != nil {
			if err != unix.EAGAIN && err != unix.EWOULDBLOCK && err != unix.EINTR {
				if b.logger != nil {
					b.logger.Err().Err(err).Log("signalbridge: draining wakeup pipe failed")
				}
			}
			return
		}
		if n == 0 {
			return
		}
	}
}
