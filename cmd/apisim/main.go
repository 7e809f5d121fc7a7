// Command apisim synthesizes traffic against a REST API described by an
// OpenAPI or Swagger document.
//
// Usage:
//
//	apisim run -c run.yaml [flags]
//	apisim status|stop|pause|resume <run-id> [--control-dir dir] [--backend file|sqlite]
//	apisim list [--control-dir dir] [--backend file|sqlite]
//	apisim report <file> [--field path]
//
// Exit codes: 0 success, 1 thresholds failed, 2 error.
package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

const (
	ExitSuccess         = 0
	ExitThresholdFailed = 1
	ExitError           = 2
)

var version = "0.1.0"

// exitError carries a specific exit code out of a command.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }

func (e *exitError) Unwrap() error { return e.err }

func main() {
	os.Exit(execute(os.Args[1:], os.Stdout, os.Stderr))
}

// execute runs the command line and maps its outcome to an exit code.
func execute(args []string, stdout, stderr io.Writer) int {
	root := newRootCmd()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	err := root.Execute()
	if err == nil {
		return ExitSuccess
	}
	var ee *exitError
	if errors.As(err, &ee) {
		if ee.code != ExitThresholdFailed {
			fmt.Fprintf(stderr, "error: %v\n", ee.err)
		}
		return ee.code
	}
	fmt.Fprintf(stderr, "error: %v\n", err)
	return ExitError
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "apisim",
		Short: "apisim - REST API traffic simulator",
		Long: `apisim reads an OpenAPI/Swagger document, generates plausible requests for
its endpoints and dispatches them concurrently, collecting latency, status and
error metrics.

Examples:
  apisim run -c petstore.yaml              # Run a simulation
  apisim run -c petstore.yaml --dry-run    # Show endpoints and generated fields
  apisim status 3f1c...                    # Inspect a run from another terminal
  apisim pause 3f1c...                     # Pause it, then 'apisim resume'
  apisim report data/metrics/simulation_3f1c_20240101_120000.json`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newRunCmd())
	root.AddCommand(newControlCmds()...)
	root.AddCommand(newListCmd())
	root.AddCommand(newReportCmd())
	return root
}

// newLogger writes human-readable lifecycle logs to stderr.
func newLogger(verbose, quiet bool) zerolog.Logger {
	level := zerolog.InfoLevel
	switch {
	case verbose:
		level = zerolog.DebugLevel
	case quiet:
		level = zerolog.WarnLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}).
		Level(level).
		With().Timestamp().Logger()
}
