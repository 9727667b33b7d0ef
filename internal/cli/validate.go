package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"stagerunner/internal/dag"
	"stagerunner/internal/pipeline"
)

var validatePipelinePath string

// NewValidateCommand creates the validate command: static checks only, no
// trigger evaluation and no execution.
func NewValidateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate a pipeline file without running it",
		RunE:  runValidate,
	}
	cmd.Flags().StringVarP(&validatePipelinePath, "pipeline", "p", "", "Path to the pipeline YAML file (required)")
	cmd.MarkFlagRequired("pipeline")
	return cmd
}

func runValidate(cmd *cobra.Command, args []string) error {
	doc, err := pipeline.Load(validatePipelinePath)
	if err != nil {
		return err
	}
	if err := pipeline.Validate(doc); err != nil {
		return err
	}
	rg, err := dag.NewRunGraph(doc.Stages)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "pipeline %q is valid: %d stages, %d job instances\n",
		doc.Name, len(doc.Stages), len(rg.Jobs()))
	return nil
}
