package cli

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/saros-project/saros-sub040/internal/harness"
)

// ValidationResult holds the validation outcome of one scenario file.
type ValidationResult struct {
	File  string `json:"file"`
	Name  string `json:"name,omitempty"`
	Steps int    `json:"steps"`
	Valid bool   `json:"valid"`
	Error string `json:"error,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <scenario.yaml>...",
		Short: "Check scenario files without running them",
		Long: `Parse scenario files and check them against the scenario schema.

Exit codes:
  0 - All files are valid
  1 - One or more files are invalid

Examples:
  jupiter validate ./scenarios/*.yaml`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args, cmd)
		},
	}
	return cmd
}

func runValidate(opts *RootOptions, files []string, cmd *cobra.Command) error {
	out := newFormatter(opts, cmd)
	w := cmd.OutOrStdout()

	results := make([]ValidationResult, 0, len(files))
	invalid := 0
	for _, f := range files {
		r := ValidationResult{File: f}
		s, err := harness.LoadScenario(f)
		if err != nil {
			r.Error = err.Error()
			invalid++
		} else {
			r.Valid = true
			r.Name = s.Name
			r.Steps = len(s.Steps)
		}
		results = append(results, r)

		if out.JSON() {
			continue
		}
		if r.Valid {
			fmt.Fprintf(w, "✓ %s (%s, %d steps)\n", r.File, r.Name, r.Steps)
		} else {
			fmt.Fprintf(w, "✗ %s\n  %s\n", r.File, r.Error)
		}
	}

	if out.JSON() {
		if invalid > 0 {
			if err := out.Failure("E_INVALID", fmt.Sprintf("%d invalid file(s)", invalid), results); err != nil {
				return err
			}
		} else if err := out.Success(results); err != nil {
			return err
		}
	}

	if invalid > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d invalid file(s)", invalid))
	}
	return nil
}

func sortedIDs(m map[string]string) []string {
	ids := make([]string, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
