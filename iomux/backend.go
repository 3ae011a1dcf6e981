package iomux

import "time"

// backend abstracts the underlying readiness-polling syscall. wait blocks
// for at most timeout, returning the subset of readFDs ready for reading
// (or hung up) and the subset of writeFDs ready for writing (or in an
// error state).
type backend interface {
	wait(readFDs, writeFDs []int, timeout time.Duration) (readyRead, readyWrite []int, err error)
	close() error
}
