package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"archivist/internal/runlock"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd := newRootCommand()
	if err := cmd.ExecuteContext(ctx); err != nil {
		if !errors.Is(err, context.Canceled) {
			if kind := errorKind(err); kind != "" {
				fmt.Fprintf(os.Stderr, "%v (%s)\n", err, kind)
			} else {
				fmt.Fprintln(os.Stderr, err)
			}
		}
		stop()
		os.Exit(exitCode(err))
	}
}

// exitCode maps a command error onto the process status the scheduler sees.
func exitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errorKind(err) == runlock.ErrorKindContention:
		return 2
	default:
		return 1
	}
}

// errorKind returns the class reported by the first error in the chain that
// carries one.
func errorKind(err error) string {
	var classified interface{ ErrorKind() string }
	if errors.As(err, &classified) {
		return classified.ErrorKind()
	}
	return ""
}
