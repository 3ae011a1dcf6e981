// Package logging provides the structured logger type shared by every
// component of gopssh. It wires github.com/joeycumines/logiface to the
// stumpy JSON backend, the same combination the teacher's monorepo uses
// for its own low-overhead structured logging.
package logging

import (
	"io"
	"os"

	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"
)

// Logger is the structured logger type threaded through every component.
// A nil *Logger is a valid, fully inert "no-op" logger — every logiface
// method tolerates a nil receiver, so callers never need to branch on
// whether logging was configured.
type Logger = logiface.Logger[*stumpy.Event]

// New returns a Logger writing newline-delimited JSON to w at minLevel.
func New(w io.Writer, minLevel logiface.Level) *Logger {
	return stumpy.L.New(
		stumpy.L.WithStumpy(stumpy.WithWriter(w)),
		stumpy.L.WithLevel(minLevel),
	)
}

// Default returns a Logger writing to stderr at informational level,
// matching the verbosity the original pssh driver defaults to.
func Default() *Logger {
	return New(os.Stderr, logiface.LevelInformational)
}
