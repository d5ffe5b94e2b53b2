package cli

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/entityql/eql/internal/compile"
	"github.com/entityql/eql/internal/eql"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Query    string
	Compiled bool
}

// QueryResult is the outcome of one demo query over the dataset.
type QueryResult struct {
	Name    string   `json:"name"`
	Count   int      `json:"count"`
	Rows    []string `json:"rows,omitempty"`
	Skipped string   `json:"skipped,omitempty"`
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run <dataset.yaml>",
		Short: "Run the bundled queries over a dataset",
		Long: `Load a YAML dataset, build the bundled demo queries against it,
and stream their solutions.

By default queries run through the tree evaluator. With --compiled each
query is first lowered to a standalone procedure; queries the compiler
cannot lower are reported as skipped.

Example:
  eqlc run ./dataset.yaml
  eqlc run --compiled --query adults ./dataset.yaml`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQueries(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Query, "query", "", "run only the named demo query")
	cmd.Flags().BoolVar(&opts.Compiled, "compiled", false, "execute through the query compiler")

	return cmd
}

func runQueries(opts *RunOptions, path string, cmd *cobra.Command) error {
	logLevel := slog.LevelInfo
	if opts.Verbose {
		logLevel = slog.LevelDebug
	}
	handler := slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{
		Level: logLevel,
	})
	slog.SetDefault(slog.New(handler))

	runID := uuid.Must(uuid.NewV7()).String()
	slog.Debug("run starting", "run_id", runID, "dataset", path)

	ds, loadErrors := LoadDataset(path, LoadModeFailFast)
	if len(loadErrors) > 0 {
		return WrapExitError(ExitCommandError, "failed to load dataset", loadErrors[0])
	}
	slog.Debug("dataset loaded", "run_id", runID, "people", len(ds.People), "teams", len(ds.Teams))

	demos := Demos()
	if opts.Query != "" {
		d, ok := findDemo(opts.Query)
		if !ok {
			return NewExitError(ExitCommandError, fmt.Sprintf("unknown query %q", opts.Query))
		}
		demos = []Demo{d}
	}

	reg := ds.Registry()
	results := make([]QueryResult, 0, len(demos))
	for _, d := range demos {
		q := d.Build(eql.NewBuilder(reg))
		if err := q.Err(); err != nil {
			return WrapExitError(ExitFailure, fmt.Sprintf("building query %s", d.Name), err)
		}

		res := QueryResult{Name: d.Name}
		if opts.Compiled {
			compiled, err := compile.Query(q)
			if err != nil {
				res.Skipped = err.Error()
				results = append(results, res)
				slog.Debug("query skipped", "run_id", runID, "query", d.Name, "reason", err)
				continue
			}
			for r := range compiled.Run() {
				res.Rows = append(res.Rows, describe(r))
			}
		} else {
			for r := range q.Evaluate() {
				res.Rows = append(res.Rows, describe(r))
			}
			enters, searches, matches := cacheStats(q.Descriptor())
			slog.Debug("comparator caches", "run_id", runID, "query", d.Name,
				"enters", enters, "searches", searches, "matches", matches)
		}
		res.Count = len(res.Rows)
		slog.Debug("query finished", "run_id", runID, "query", d.Name, "rows", res.Count)
		results = append(results, res)
	}

	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
		RunID:     runID,
	}
	if opts.Format == "json" {
		return formatter.Success(results)
	}

	out := cmd.OutOrStdout()
	for _, r := range results {
		if r.Skipped != "" {
			fmt.Fprintf(out, "✗ %s: skipped (%s)\n", r.Name, r.Skipped)
			continue
		}
		fmt.Fprintf(out, "✓ %s (%d rows)\n", r.Name, r.Count)
		for _, row := range r.Rows {
			fmt.Fprintf(out, "    %s\n", row)
		}
	}
	return nil
}

// cacheStats sums the comparator memo counters under e.
func cacheStats(e eql.Expr) (enters, searches, matches int) {
	if cmp, ok := e.(*eql.Comparator); ok {
		c := cmp.Cache()
		enters += c.Enters
		searches += c.Searches
		matches += c.Matches
	}
	for _, ch := range e.Children() {
		en, se, ma := cacheStats(ch)
		enters += en
		searches += se
		matches += ma
	}
	return enters, searches, matches
}

// describe renders a solution row for display.
func describe(r any) string {
	switch x := r.(type) {
	case *Person:
		return "person:" + x.Name
	case *Team:
		return "team:" + x.Name
	case []any:
		parts := make([]string, len(x))
		for i, v := range x {
			parts[i] = describe(v)
		}
		return strings.Join(parts, "|")
	}
	return fmt.Sprintf("%v", r)
}
