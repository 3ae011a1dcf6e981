//go:build unix

package iomux

import (
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

// selectBackend is the portable fallback used on platforms whose poll(2)
// is unavailable. It rebuilds its descriptor sets from the caller-supplied
// slices on every call, exactly as psshlib's plain IOMap does with
// select.select.
type selectBackend struct{}

func newSelectBackend() *selectBackend { return &selectBackend{} }

func (b *selectBackend) wait(readFDs, writeFDs []int, timeout time.Duration) (readyRead, readyWrite []int, err error) {
	var rset, wset unix.FdSet
	maxFD := -1
	for _, fd := range readFDs {
		fdSetAdd(&rset, fd)
		if fd > maxFD {
			maxFD = fd
		}
	}
	for _, fd := range writeFDs {
		fdSetAdd(&wset, fd)
		if fd > maxFD {
			maxFD = fd
		}
	}

	tv := unix.NsecToTimeval(timeout.Nanoseconds())
	_, err = unix.Select(maxFD+1, &rset, &wset, nil, &tv)
	if err != nil {
		return nil, nil, err
	}

	for _, fd := range readFDs {
		if fdSetHas(&rset, fd) {
			readyRead = append(readyRead, fd)
		}
	}
	for _, fd := range writeFDs {
		if fdSetHas(&wset, fd) {
			readyWrite = append(readyWrite, fd)
		}
	}
	return readyRead, readyWrite, nil
}

func (b *selectBackend) close() error { return nil }

// fdSetBytes views an FdSet's word array as bytes so bit indexing doesn't
// need to special-case the word width (int32 on some platforms, int64 on
// others). This relies on the little-endian byte order of every platform
// this package targets, matching the standard fd_set bit layout.
func fdSetBytes(set *unix.FdSet) []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(&set.Bits[0])), len(set.Bits)*int(unsafe.Sizeof(set.Bits[0])))
}

func fdSetAdd(set *unix.FdSet, fd int) {
	b := fdSetBytes(set)
	b[fd/8] |= 1 << (uint(fd) % 8)
}

func fdSetHas(set *unix.FdSet, fd int) bool {
	b := fdSetBytes(set)
	return b[fd/8]&(1<<(uint(fd)%8)) != 0
}

// newBackend performs the platform capability probe described in the
// design: prefer poll(2) and fall back to select(2) only when poll is
// genuinely unavailable.
func newBackend() (backend, error) {
	if b, err := newPollBackend(); err == nil {
		return b, nil
	}
	return newSelectBackend(), nil
}
