// Command gopssh is a thin CLI wiring hostlist, exectask and manager into a
// runnable parallel remote-execution driver.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joeycumines/logiface"

	"github.com/gopssh/pssh/exectask"
	"github.com/gopssh/pssh/hostlist"
	"github.com/gopssh/pssh/internal/logging"
	"github.com/gopssh/pssh/manager"
	"github.com/gopssh/pssh/task"
)

func main() {
	var (
		hostFile = flag.String("h", "", "host file, one [user@]host[:port] per line")
		limit    = flag.Int("p", 32, "maximum number of concurrent connections")
		timeout  = flag.Int("t", 0, "per-host timeout in seconds (0 disables)")
		outDir   = flag.String("o", "", "directory to write per-host stdout")
		errDir   = flag.String("e", "", "directory to write per-host stderr")
		appendF  = flag.Bool("append", false, "append to output files instead of truncating")
		user     = flag.String("l", "", "default remote user")
		port     = flag.String("port", "", "default remote port")
		verbose  = flag.Bool("v", false, "verbose logging")
	)
	flag.Parse()

	args := flag.Args()
	if *hostFile == "" || len(args) == 0 {
		fmt.Fprintln(os.Stderr, "usage: gopssh -h hostfile [options] -- command [args...]")
		os.Exit(2)
	}

	level := logiface.LevelWarning
	if *verbose {
		level = logiface.LevelDebug
	}
	logger := logging.New(os.Stderr, level)

	entries, diags, err := hostlist.ReadHostFile(*hostFile, "", *user, *port)
	if err != nil {
		fmt.Fprintln(os.Stderr, "gopssh:", err)
		os.Exit(1)
	}
	for _, d := range diags {
		fmt.Fprintln(os.Stderr, "gopssh:", d.Error())
	}

	mgr, err := manager.New(manager.Config{
		Limit:   *limit,
		Timeout: time.Duration(*timeout) * time.Second,
		OutDir:  *outDir,
		ErrDir:  *errDir,
		Append:  *appendF,
		Logger:  logger,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "gopssh:", err)
		os.Exit(1)
	}

	for _, e := range entries {
		mgr.AddTask(buildTask(e, args, logger))
	}

	ctx, abort := interruptSignals(syscall.SIGINT, syscall.SIGTERM)

	statuses := mgr.Run(ctx, abort)

	failures := 0
	for _, s := range statuses {
		if s != 0 {
			failures++
		}
	}
	if failures > 0 {
		os.Exit(1)
	}
}

// interruptSignals cancels ctx on the first delivery of any of sig and
// closes abort on the second, so a second Ctrl-C during the manager's
// cleanup pass cuts it short instead of waiting for every task to be
// individually interrupted or cancelled. Unlike signal.NotifyContext, which
// stops intercepting after the first delivery, this keeps listening so the
// second signal is observed rather than falling through to the OS default
// (an unconditional process kill that would skip flushing output files).
func interruptSignals(sig ...os.Signal) (context.Context, <-chan struct{}) {
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, sig...)

	ctx, cancel := context.WithCancel(context.Background())
	abort := make(chan struct{})
	go func() {
		<-ch
		cancel()
		<-ch
		close(abort)
	}()

	return ctx, abort
}

func buildTask(e hostlist.Entry, command []string, logger *logging.Logger) task.Task {
	argv := append([]string{"ssh"}, sshArgs(e)...)
	argv = append(argv, command...)
	return exectask.New(exectask.Spec{Host: e.Host, Argv: argv}, logger)
}

func sshArgs(e hostlist.Entry) []string {
	var args []string
	if e.Port != "" {
		args = append(args, "-p", e.Port)
	}
	target := e.Host
	if e.User != "" {
		target = e.User + "@" + e.Host
	}
	return append(args, target)
}
