package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

const (
	exitOK    = 0
	exitFatal = 1
	exitUsage = 2
)

// exitError carries the process exit code for a failed command.
type exitError struct {
	code int
	err  error
	// logged is set when the failure was already reported through the logger.
	logged bool
}

func (e *exitError) Error() string { return e.err.Error() }

func (e *exitError) Unwrap() error { return e.err }

func usageError(err error) error {
	return &exitError{code: exitUsage, err: err}
}

func fatalError(err error) error {
	return &exitError{code: exitFatal, err: err}
}

func loggedFatalError(err error) error {
	return &exitError{code: exitFatal, err: err, logged: true}
}

func exitCode(err error) int {
	if err == nil {
		return exitOK
	}
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	// cobra argument and flag errors
	return exitUsage
}

func newRootCmd() *cobra.Command {
	root := composeCmd()
	root.AddCommand(feedCmd())
	return root
}

func main() {
	rootCmd := newRootCmd()
	if err := rootCmd.Execute(); err != nil {
		var ee *exitError
		if !errors.As(err, &ee) || !ee.logged {
			fmt.Fprintf(os.Stderr, "markdown-composer: %s\n", err)
		}
		os.Exit(exitCode(err))
	}
}
