package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/tonimelisma/timeline-go/internal/api"
)

// Exit codes.
const (
	exitError            = 1
	exitNotAuthenticated = 2
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		exitOnError(err)
	}
}

// exitOnError prints a user-friendly error message to stderr and exits.
// The full error chain is shown with --verbose.
func exitOnError(err error) {
	fmt.Fprintf(os.Stderr, "Error: %s\n", api.UserMessage(err))

	if flagVerbose {
		fmt.Fprintf(os.Stderr, "  %v\n", err)
	}

	if errors.Is(err, api.ErrNotAuthenticated) {
		fmt.Fprintln(os.Stderr, "Run 'timeline-go login' first.")
		os.Exit(exitNotAuthenticated)
	}

	os.Exit(exitError)
}
