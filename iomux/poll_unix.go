//go:build unix

package iomux

import (
	"errors"
	"time"

	"golang.org/x/sys/unix"
)

// errInterrupted is the sentinel wait implementations return to mean
// "an in-flight syscall was interrupted by a signal; try again later",
// matching psshlib's EINTR handling.
var errInterrupted = unix.EINTR

// pollBackend is the preferred readiness facility: it wraps the poll(2)
// syscall via golang.org/x/sys/unix, which is available uniformly across
// linux, darwin and the BSDs — the "scalable readiness facility" the
// scheduler wants, without needing separate epoll/kqueue implementations.
type pollBackend struct {
	fds []unix.PollFd // reused across calls to avoid per-poll allocation
}

func newPollBackend() (*pollBackend, error) {
	// Capability probe: a zero-timeout poll on an empty set either
	// succeeds trivially or reports ENOSYS on platforms that lack poll(2).
	if _, err := unix.Poll(nil, 0); err != nil && errors.Is(err, unix.ENOSYS) {
		return nil, err
	}
	return &pollBackend{}, nil
}

func (b *pollBackend) wait(readFDs, writeFDs []int, timeout time.Duration) (readyRead, readyWrite []int, err error) {
	events := make(map[int]int16, len(readFDs)+len(writeFDs))
	for _, fd := range readFDs {
		events[fd] |= unix.POLLIN
	}
	for _, fd := range writeFDs {
		events[fd] |= unix.POLLOUT
	}

	b.fds = b.fds[:0]
	for fd, ev := range events {
		b.fds = append(b.fds, unix.PollFd{Fd: int32(fd), Events: ev})
	}

	_, err = unix.Poll(b.fds, pollTimeoutMs(timeout))
	if err != nil {
		return nil, nil, err
	}

	for _, pfd := range b.fds {
		if pfd.Revents&(unix.POLLIN|unix.POLLHUP) != 0 {
			readyRead = append(readyRead, int(pfd.Fd))
		}
		if pfd.Revents&(unix.POLLOUT|unix.POLLERR) != 0 {
			readyWrite = append(readyWrite, int(pfd.Fd))
		}
	}
	return readyRead, readyWrite, nil
}

func (b *pollBackend) close() error { return nil }

// pollTimeoutMs converts a Go duration to poll(2)'s millisecond timeout,
// with -1 meaning "block indefinitely" (never produced by Manager, which
// always floors its wait at one second, but supported for completeness).
func pollTimeoutMs(timeout time.Duration) int {
	if timeout < 0 {
		return -1
	}
	ms := timeout.Milliseconds()
	if ms < 0 {
		return 0
	}
	return int(ms)
}
