// Package cli wires the engine into a command-line tool.
package cli

import (
	"errors"

	"github.com/spf13/cobra"

	"stagerunner/internal/pipeline"
)

// Exit codes reported by the binary.
const (
	ExitSuccess    = 0
	ExitRunFailed  = 1
	ExitUsageError = 2
	ExitSpecError  = 3
)

// ErrRunFailed marks a completed run whose overall status is failed; the
// report was still produced.
var ErrRunFailed = errors.New("run failed")

// NewRootCommand builds the command tree.
func NewRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "stagerunner",
		Short:         "Execute a declarative multi-stage pipeline for one triggering event",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.AddCommand(NewRunCommand(), NewValidateCommand())
	return cmd
}

// ExitCode maps an error returned from command execution to the process
// exit code.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitSuccess
	case errors.Is(err, ErrRunFailed):
		return ExitRunFailed
	case errors.Is(err, pipeline.ErrSpec):
		return ExitSpecError
	default:
		return ExitUsageError
	}
}
