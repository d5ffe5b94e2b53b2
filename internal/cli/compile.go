package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/entityql/eql/internal/compile"
	"github.com/entityql/eql/internal/eql"
)

// CompileOptions holds flags for the compile command.
type CompileOptions struct {
	*RootOptions
	Query string
}

// CompileResult is the lowering outcome for one demo query.
type CompileResult struct {
	Name   string `json:"name"`
	Source string `json:"source,omitempty"`
	Error  string `json:"error,omitempty"`
}

// NewCompileCommand creates the compile command.
func NewCompileCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CompileOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "compile <dataset.yaml>",
		Short: "Lower the bundled queries and print their source",
		Long: `Lower each bundled demo query to a standalone procedure and print
the generated source text.

Queries using constructs the compiler does not lower (disjunctions,
universal quantifiers, negated projections) are reported with the
reason instead of source.

Example:
  eqlc compile ./dataset.yaml
  eqlc compile --query adults ./dataset.yaml`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCompile(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Query, "query", "", "compile only the named demo query")

	return cmd
}

func runCompile(opts *CompileOptions, path string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	ds, loadErrors := LoadDataset(path, LoadModeFailFast)
	if len(loadErrors) > 0 {
		return WrapExitError(ExitCommandError, "failed to load dataset", loadErrors[0])
	}
	formatter.VerboseLog("loaded %d people and %d teams from %s", len(ds.People), len(ds.Teams), path)

	demos := Demos()
	if opts.Query != "" {
		d, ok := findDemo(opts.Query)
		if !ok {
			return NewExitError(ExitCommandError, fmt.Sprintf("unknown query %q", opts.Query))
		}
		demos = []Demo{d}
	}

	reg := ds.Registry()
	results := make([]CompileResult, 0, len(demos))
	failed := 0
	for _, d := range demos {
		q := d.Build(eql.NewBuilder(reg))
		res := CompileResult{Name: d.Name}
		if compiled, err := compile.Query(q); err != nil {
			res.Error = err.Error()
			failed++
		} else {
			res.Source = compiled.Source
		}
		results = append(results, res)
	}

	if opts.Format == "json" {
		if err := formatter.Success(results); err != nil {
			return err
		}
	} else {
		out := cmd.OutOrStdout()
		for _, r := range results {
			if r.Error != "" {
				fmt.Fprintf(out, "✗ %s: %s\n", r.Name, r.Error)
				continue
			}
			fmt.Fprintf(out, "✓ %s\n%s\n", r.Name, r.Source)
		}
	}

	// A named query that fails to lower is an error; across the full set
	// some queries are expected to stay evaluator-only.
	if opts.Query != "" && failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("query %q cannot be compiled", opts.Query))
	}
	return nil
}
