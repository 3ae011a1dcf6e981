// Package writer implements the scheduler's off-loop file-writing thread.
// Ordinary files do not integrate with a readiness poller — a write can
// block on disk I/O — so every file write for task output is funnelled
// through one goroutine that owns the file handles and drains an ordered
// queue, letting the scheduler goroutine enqueue and return immediately.
package writer

import (
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"

	"github.com/gopssh/pssh/internal/logging"
)

// recordKind distinguishes the three control records a Writer understands
// from an ordinary data payload.
type recordKind int

const (
	kindData recordKind = iota
	kindOpen
	kindEOF
	kindAbort
)

type record struct {
	path    string
	kind    recordKind
	payload []byte
}

// Writer owns the per-path file handles and runs its consume loop on a
// dedicated goroutine, started by New.
type Writer struct {
	outDir, errDir string
	append         bool
	logger         *logging.Logger

	queue chan record
	done  chan struct{}

	// hostCounts is mutated only from the scheduler goroutine that calls
	// OpenFiles, never from the consume loop, so it needs no lock.
	hostCounts map[string]int
}

// New creates a Writer and starts its background consume goroutine. outDir
// and/or errDir may be empty, in which case OpenFiles returns no paths for
// that stream and no files are ever created. append selects append-mode
// (O_APPEND) over truncate-mode (O_TRUNC) for every file the Writer opens.
func New(outDir, errDir string, append bool, logger *logging.Logger) *Writer {
	w := &Writer{
		outDir:     outDir,
		errDir:     errDir,
		append:     append,
		logger:     logger,
		queue:      make(chan record, 64),
		done:       make(chan struct{}),
		hostCounts: make(map[string]int),
	}
	go w.run()
	return w
}

// OpenFiles reserves the next output/error paths for host, applying the
// "h, h.1, h.2, ..." disambiguation policy, and enqueues an OPEN record for
// each configured directory. Actual file creation is deferred until the
// first data record arrives for that path. Must only be called from the
// scheduler goroutine: host counters are unsynchronized by design.
func (w *Writer) OpenFiles(host string) (outPath, errPath string) {
	if w.outDir == "" && w.errDir == "" {
		return "", ""
	}
	count := w.hostCounts[host]
	w.hostCounts[host] = count + 1

	name := host
	if count > 0 {
		name = fmt.Sprintf("%s.%d", host, count)
	}

	if w.outDir != "" {
		outPath = filepath.Join(w.outDir, name)
		w.enqueue(record{path: outPath, kind: kindOpen})
	}
	if w.errDir != "" {
		errPath = filepath.Join(w.errDir, name)
		w.enqueue(record{path: errPath, kind: kindOpen})
	}
	return outPath, errPath
}

// Enqueue appends a data record for path. A no-op if path is empty, so
// callers need not guard every write against an unconfigured stream.
func (w *Writer) Enqueue(path string, payload []byte) {
	if path == "" {
		return
	}
	// The queue consumer owns payload from here on; copy so the caller's
	// buffer (often a reused read buffer) can't be mutated underneath it.
	buf := make([]byte, len(payload))
	copy(buf, payload)
	w.enqueue(record{path: path, kind: kindData, payload: buf})
}

// Close enqueues an EOF record for path, closing the handle if one was ever
// opened. A no-op if path is empty or nothing was ever written to it.
func (w *Writer) Close(path string) {
	if path == "" {
		return
	}
	w.enqueue(record{path: path, kind: kindEOF})
}

// Quit enqueues an ABORT record, terminating the consume loop once all
// previously enqueued records have been processed. It does not wait for the
// loop to exit; call Join for that.
func (w *Writer) Quit() {
	w.enqueue(record{kind: kindAbort})
}

// Join blocks until the consume goroutine has exited. Callers should
// enqueue Quit first; otherwise Join blocks forever.
func (w *Writer) Join() {
	<-w.done
}

func (w *Writer) enqueue(r record) {
	w.queue <- r
}

func (w *Writer) run() {
	defer close(w.done)

	files := make(map[string]*os.File)
	defer func() {
		for _, f := range files {
			if f != nil {
				f.Close()
			}
		}
	}()

	for r := range w.queue {
		switch r.kind {
		case kindAbort:
			return

		case kindOpen:
			files[r.path] = nil

		case kindEOF:
			if f, ok := files[r.path]; ok && f != nil {
				if err := f.Close(); err != nil && w.logger != nil {
					w.logger.Err().Err(err).Str("path", r.path).Log("writer: closing file failed")
				}
			}
			delete(files, r.path)

		case kindData:
			f, ok := files[r.path]
			if !ok || f == nil {
				var err error
				f, err = w.openFile(r.path)
				if err != nil {
					if w.logger != nil {
						w.logger.Err().Err(err).Str("path", r.path).Log("writer: opening file failed")
					}
					continue
				}
				files[r.path] = f
			}
			if _, err := f.Write(r.payload); err != nil && w.logger != nil {
				w.logger.Err().Err(err).Str("path", r.path).Log("writer: write failed")
			}
		}
	}
}

// openFile creates or appends to path, marking the handle close-on-exec so
// a forked ssh child never inherits it — mirroring set_cloexec in the
// original driver's writer thread.
func (w *Writer) openFile(path string) (*os.File, error) {
	flags := os.O_CREATE | os.O_WRONLY
	if w.append {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}
	f, err := os.OpenFile(path, flags, 0644)
	if err != nil {
		return nil, err
	}
	if _, err := unix.FcntlInt(f.Fd(), unix.F_SETFD, unix.FD_CLOEXEC); err != nil {
		f.Close()
		return nil, err
	}
	return f, nil
}
