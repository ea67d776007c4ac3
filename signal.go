package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
)

// exitInterrupted is the exit status after a forced stop (128 + SIGINT).
const exitInterrupted = 130

// forceExit ends the process on a second signal. Tests replace it.
var forceExit = os.Exit

// interruptible derives a context for a long-running command such as
// timeline --watch. The first SIGINT or SIGTERM cancels it so the loop can
// finish its current refresh; a second one exits immediately. The returned
// stop func releases the signal handler and must be called.
func interruptible(parent context.Context, logger *slog.Logger) (context.Context, func()) {
	ctx, cancel := context.WithCancel(parent)
	done := make(chan struct{})

	sigs := make(chan os.Signal, 2)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)

	go func() {
		defer signal.Stop(sigs)

		interrupted := false

		for {
			select {
			case <-done:
				return
			case <-parent.Done():
				return
			case sig := <-sigs:
				if interrupted {
					logger.Warn("second signal, exiting now", slog.String("signal", sig.String()))
					forceExit(exitInterrupted)

					return
				}

				interrupted = true

				logger.Debug("signal received, stopping", slog.String("signal", sig.String()))
				cancel()
			}
		}
	}()

	var once sync.Once

	return ctx, func() {
		once.Do(func() {
			close(done)
			cancel()
		})
	}
}
