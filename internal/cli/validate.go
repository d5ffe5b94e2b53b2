package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

// ValidationReport holds validation results for a dataset.
type ValidationReport struct {
	Valid  bool     `json:"valid"`
	People int      `json:"people"`
	Teams  int      `json:"teams"`
	Errors []string `json:"errors,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <dataset.yaml>",
		Short: "Validate a dataset without running queries",
		Long: `Validate a YAML dataset against the built-in CUE schema without
running any queries. Collects every schema violation rather than
stopping at the first.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, path string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(), // Verbose logs go to stderr to avoid corrupting JSON
		Verbose:   opts.Verbose,
	}

	ds, loadErrors := LoadDataset(path, LoadModeCollectAll)
	if len(loadErrors) > 0 {
		return outputValidateErrors(formatter, loadErrors)
	}

	formatter.VerboseLog("loaded %d people and %d teams from %s", len(ds.People), len(ds.Teams), path)

	if opts.Format == "json" {
		return formatter.Success(ValidationReport{
			Valid:  true,
			People: len(ds.People),
			Teams:  len(ds.Teams),
		})
	}
	fmt.Fprintf(cmd.OutOrStdout(), "✓ dataset valid (%d people, %d teams)\n", len(ds.People), len(ds.Teams))
	return nil
}

func outputValidateErrors(f *OutputFormatter, loadErrors []error) error {
	msgs := make([]string, len(loadErrors))
	for i, e := range loadErrors {
		msgs[i] = e.Error()
	}

	code := ErrCodeGeneric
	var loadErr *LoadError
	if errors.As(loadErrors[0], &loadErr) {
		code = loadErr.Code
	}

	if f.Format == "json" {
		_ = f.Error(code, "dataset validation failed", msgs)
	} else {
		fmt.Fprintln(f.Writer, "✗ dataset invalid")
		for _, m := range msgs {
			fmt.Fprintf(f.Writer, "  %s\n", m)
		}
	}
	return NewExitError(ExitFailure, "dataset validation failed: "+msgs[0])
}
