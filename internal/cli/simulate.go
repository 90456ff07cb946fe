package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/saros-project/saros-sub040/internal/harness"
	"github.com/saros-project/saros-sub040/internal/store"
)

// SimulateOptions holds flags for the simulate command.
type SimulateOptions struct {
	*RootOptions
	DBPath string // journal database, optional
	Seed   uint64 // randomized delivery seed, 0 = ordered
}

// NewSimulateCommand creates the simulate command.
func NewSimulateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SimulateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "simulate <scenario.yaml>",
		Short: "Run one scenario against an in-process server",
		Long: `Run a scenario file against an in-process server and print the trace.

Clients and the server exchange requests over simulated FIFO links.
With --seed, flush steps deliver messages in a randomized order
derived from the seed. With --db, the session is journaled and can
later be verified with 'jupiter replay'.

Exit codes:
  0 - All expectations held
  1 - Divergence or failed expectation
  2 - Command error (invalid file, step error, etc.)

Examples:
  jupiter simulate ./scenarios/coffee.yaml
  jupiter simulate ./scenarios/coffee.yaml --seed 42
  jupiter simulate ./scenarios/coffee.yaml --db ./session.db --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSimulate(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.DBPath, "db", "", "journal the session to this SQLite database")
	cmd.Flags().Uint64Var(&opts.Seed, "seed", 0, "randomize delivery order with this seed")

	return cmd
}

func runSimulate(opts *SimulateOptions, path string, cmd *cobra.Command) error {
	out := newFormatter(opts.RootOptions, cmd)
	logger := newLogger(opts.RootOptions, cmd.ErrOrStderr())

	scenario, err := harness.LoadScenario(path)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load scenario", err)
	}

	hopts := []harness.Option{harness.WithLogger(logger)}
	if opts.DBPath != "" {
		st, err := store.Open(opts.DBPath)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to open database", err)
		}
		defer st.Close()
		hopts = append(hopts, harness.WithJournal(st))
	}

	var result *harness.Result
	if opts.Seed != 0 {
		out.VerboseLog("randomized delivery, seed %d", opts.Seed)
		result, err = harness.RunRandomized(cmd.Context(), scenario, opts.Seed, hopts...)
	} else {
		result, err = harness.Run(cmd.Context(), scenario, hopts...)
	}
	if err != nil {
		return WrapExitError(ExitCommandError, "simulation failed", err)
	}
	out.Dump("result", result)

	if out.JSON() {
		if result.Pass {
			if err := out.Success(result); err != nil {
				return err
			}
		} else if err := out.Failure(failureCode(result), strings.Join(result.Errors, "; "), result); err != nil {
			return err
		}
	} else {
		printResult(cmd, result)
	}

	if !result.Pass {
		return NewExitError(ExitFailure, fmt.Sprintf("scenario %s failed", result.Scenario))
	}
	return nil
}

// failureCode picks the error code for a failed result.
func failureCode(r *harness.Result) string {
	if !r.Converged {
		return "E_DIVERGED"
	}
	return "E_EXPECTATION"
}

// printResult writes the trace and a summary in text form.
func printResult(cmd *cobra.Command, r *harness.Result) {
	w := cmd.OutOrStdout()

	fmt.Fprintf(w, "Scenario: %s\n", r.Scenario)
	fmt.Fprintf(w, "Session: %s\n\n", r.SessionID)
	w.Write(r.TraceText())
	fmt.Fprintln(w)

	fmt.Fprintf(w, "Server: %q\n", r.Server)
	for _, id := range sortedIDs(r.Texts) {
		fmt.Fprintf(w, "  %s: %q\n", id, r.Texts[id])
	}
	fmt.Fprintf(w, "Resyncs: %d\n", r.Resyncs)

	if r.Converged {
		fmt.Fprintln(w, "Converged: yes")
	} else {
		fmt.Fprintf(w, "Converged: no (%d distinct documents)\n", len(r.Distinct))
	}

	if r.Pass {
		fmt.Fprintf(w, "✓ %s\n", r.Scenario)
		return
	}
	fmt.Fprintf(w, "✗ %s\n", r.Scenario)
	for _, e := range r.Errors {
		fmt.Fprintf(w, "  %s\n", e)
	}
}
