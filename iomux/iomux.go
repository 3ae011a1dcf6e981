// Package iomux implements the scheduler's readiness-polling primitive: a
// descriptor-to-handler registry dispatched against a single blocking
// poll call per loop iteration.
//
// Two backends share the same contract (see backend in backend.go, and
// its implementations in poll_unix.go and select_unix.go): a scalable
// poll(2)-based implementation, preferred whenever the platform supports
// it, and a select(2)-based fallback for platforms that don't. The choice
// is made once, in New, by a capability probe — never per call.
package iomux

import (
	"errors"
	"fmt"
	"time"

	"github.com/gopssh/pssh/internal/logging"
)

// Standard errors returned by IOMux operations.
var (
	// ErrClosed is returned by Poll once the IOMux has been closed.
	ErrClosed = errors.New("iomux: closed")
)

// ReadHandler is invoked when a registered descriptor becomes readable, or
// the peer hangs up.
type ReadHandler func(fd int)

// WriteHandler is invoked when a registered descriptor becomes writable,
// or enters an error state.
type WriteHandler func(fd int)

// IOMux owns the descriptor→handler tables and the readiness-polling
// primitive. It is not safe for concurrent use: handlers run synchronously
// on whichever goroutine calls Poll, by design, so a handler may freely
// mutate the tables (e.g. unregister itself on EOF) without locking.
type IOMux struct {
	readmap  map[int]ReadHandler
	writemap map[int]WriteHandler
	backend  backend
	logger   *logging.Logger
	closed   bool
}

// New creates an IOMux, probing the platform for the best available
// readiness facility.
func New(logger *logging.Logger) (*IOMux, error) {
	b, err := newBackend()
	if err != nil {
		return nil, fmt.Errorf("iomux: selecting backend: %w", err)
	}
	return &IOMux{
		readmap:  make(map[int]ReadHandler),
		writemap: make(map[int]WriteHandler),
		backend:  b,
		logger:   logger,
	}, nil
}

// RegisterRead registers (or replaces) the read-interest handler for fd.
func (m *IOMux) RegisterRead(fd int, h ReadHandler) {
	m.readmap[fd] = h
}

// RegisterWrite registers (or replaces) the write-interest handler for fd.
func (m *IOMux) RegisterWrite(fd int, h WriteHandler) {
	m.writemap[fd] = h
}

// Unregister removes fd from both tables. Tolerates fd being present in
// only one of them, or in neither.
func (m *IOMux) Unregister(fd int) {
	delete(m.readmap, fd)
	delete(m.writemap, fd)
}

// NumRegistered reports how many distinct descriptors currently have at
// least one registered handler. Used by callers deciding whether it's safe
// to shut the mux down.
func (m *IOMux) NumRegistered() int {
	seen := make(map[int]struct{}, len(m.readmap)+len(m.writemap))
	for fd := range m.readmap {
		seen[fd] = struct{}{}
	}
	for fd := range m.writemap {
		seen[fd] = struct{}{}
	}
	return len(seen)
}

// Poll blocks for at most timeout waiting for readiness on any registered
// descriptor, then dispatches ready-read handlers before ready-write
// handlers. If both tables are empty, it returns immediately without a
// syscall. An interrupted poll is reported as a nil error so the caller
// simply loops again on its own schedule.
func (m *IOMux) Poll(timeout time.Duration) error {
	if m.closed {
		return ErrClosed
	}
	if len(m.readmap) == 0 && len(m.writemap) == 0 {
		return nil
	}

	readFDs := make([]int, 0, len(m.readmap))
	for fd := range m.readmap {
		readFDs = append(readFDs, fd)
	}
	writeFDs := make([]int, 0, len(m.writemap))
	for fd := range m.writemap {
		writeFDs = append(writeFDs, fd)
	}

	readyRead, readyWrite, err := m.backend.wait(readFDs, writeFDs, timeout)
	if err != nil {
		if errors.Is(err, errInterrupted) {
			return nil
		}
		return fmt.Errorf("iomux: poll: %w", err)
	}

	// readyRead/readyWrite are already snapshots independent of the maps,
	// so handlers mutating readmap/writemap mid-dispatch (e.g. unregistering
	// themselves) cannot corrupt this iteration.
	for _, fd := range readyRead {
		if h, ok := m.readmap[fd]; ok {
			h(fd)
		}
	}
	for _, fd := range readyWrite {
		if h, ok := m.writemap[fd]; ok {
			h(fd)
		}
	}
	return nil
}

// Close releases the backend's kernel resources. Poll returns ErrClosed
// after Close has been called.
func (m *IOMux) Close() error {
	if m.closed {
		return nil
	}
	m.closed = true
	return m.backend.close()
}
