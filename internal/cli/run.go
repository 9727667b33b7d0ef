package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"stagerunner/internal/artifact"
	"stagerunner/internal/dag"
	"stagerunner/internal/event"
	"stagerunner/internal/exec"
	"stagerunner/internal/logging"
	"stagerunner/internal/metrics"
	"stagerunner/internal/pipeline"
	"stagerunner/internal/runner"
)

var (
	runPipelinePath string
	runEventKind    string
	runRef          string
	runRefKind      string
	runActor        string
	runWorkDir      string
	runReportPath   string
	runLogFile      string
	runConcurrency  int
	runVerbose      bool
)

// NewRunCommand creates the run command: one triggering event in, one run
// report out.
func NewRunCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Execute the pipeline for a triggering event",
		RunE:  runRun,
	}

	cmd.Flags().StringVarP(&runPipelinePath, "pipeline", "p", "", "Path to the pipeline YAML file (required)")
	cmd.Flags().StringVar(&runEventKind, "event", "push", "Event kind: push or pull_request")
	cmd.Flags().StringVar(&runRef, "ref", "", "Ref name of the event, e.g. main or v1.2.3 (required)")
	cmd.Flags().StringVar(&runRefKind, "ref-kind", "branch", "Ref kind: branch or tag")
	cmd.Flags().StringVar(&runActor, "actor", "", "Actor that caused the event")
	cmd.Flags().StringVar(&runWorkDir, "workdir", ".", "Working directory for step execution")
	cmd.Flags().StringVar(&runReportPath, "report", "", "Write the run report JSON to this path")
	cmd.Flags().StringVar(&runLogFile, "log-file", "", "Also write logs to this rotated file")
	cmd.Flags().IntVar(&runConcurrency, "concurrency", 0, "Worker pool size (0 = number of CPUs)")
	cmd.Flags().BoolVarP(&runVerbose, "verbose", "v", false, "Enable debug logging")
	cmd.MarkFlagRequired("pipeline")
	cmd.MarkFlagRequired("ref")

	return cmd
}

func runRun(cmd *cobra.Command, args []string) error {
	log := logging.New(logging.Options{Verbose: runVerbose, FilePath: runLogFile})
	defer log.Sync()

	doc, err := pipeline.Load(runPipelinePath)
	if err != nil {
		return err
	}

	rc := event.RunContext{
		Event:   event.Kind(runEventKind),
		Ref:     runRef,
		RefKind: event.RefKind(runRefKind),
		Actor:   runActor,
	}

	ctrl := &runner.Controller{
		Steps:       exec.NewLocal(runWorkDir),
		Store:       artifact.NewMemStore(),
		Concurrency: runConcurrency,
		Log:         log,
		Metrics:     metrics.New(prometheus.NewRegistry()),
	}

	report, err := ctrl.Run(cmd.Context(), doc, rc)
	if err != nil {
		return err
	}

	if runReportPath != "" {
		if err := report.Write(runReportPath); err != nil {
			return err
		}
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		return err
	}

	if report.Fired && report.Status == dag.RunFailed {
		return fmt.Errorf("%w: pipeline %q", ErrRunFailed, report.Pipeline)
	}
	return nil
}
