package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/saros-project/saros-sub040/internal/store"
)

// ReplayOptions holds flags for the replay command.
type ReplayOptions struct {
	*RootOptions
	Database string
	Session  string // optional - specific session only
}

// ReplaySessionResult holds the replay result for a single session.
type ReplaySessionResult struct {
	Session  string `json:"session"`
	Requests int    `json:"requests"`
	Text     string `json:"text"`
	Verified bool   `json:"verified"`
	Error    string `json:"error,omitempty"`
}

// ReplayResult holds the overall replay result.
type ReplayResult struct {
	Sessions      []ReplaySessionResult `json:"sessions"`
	TotalSessions int                   `json:"total_sessions"`
	AllVerified   bool                  `json:"all_verified"`
}

// NewReplayCommand creates the replay command.
func NewReplayCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReplayOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Replay journaled sessions and verify checksums",
		Long: `Rebuild each journaled session from its initial text and its applied
requests, checking the recorded document checksum after every request.

Exit codes:
  0 - Every replayed document matches its recorded checksums
  1 - Checksum mismatch (the journal and the replay disagree)
  2 - Command error (database not found, unknown session, etc.)

Examples:
  jupiter replay --db ./session.db
  jupiter replay --db ./session.db --session 0192...
  jupiter replay --db ./session.db --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.Session, "session", "", "replay specific session only")

	return cmd
}

func runReplay(opts *ReplayOptions, cmd *cobra.Command) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	st, err := openExisting(opts.Database)
	if err != nil {
		return err
	}
	defer st.Close()

	var sessions []store.Session
	if opts.Session != "" {
		sess, err := st.ReadSession(ctx, opts.Session)
		if errors.Is(err, store.ErrSessionNotFound) {
			return NewExitError(ExitCommandError, fmt.Sprintf("session not found: %s", opts.Session))
		}
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to read session", err)
		}
		sessions = []store.Session{sess}
	} else {
		sessions, err = st.Sessions(ctx)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to list sessions", err)
		}
	}

	result := ReplayResult{
		Sessions:      make([]ReplaySessionResult, 0, len(sessions)),
		TotalSessions: len(sessions),
		AllVerified:   true,
	}

	for _, sess := range sessions {
		sr := ReplaySessionResult{Session: sess.ID, Requests: sess.Requests}
		text, err := st.Replay(ctx, sess.ID)
		switch {
		case err == nil:
			sr.Text = text
			sr.Verified = true
		case store.IsChecksumMismatch(err):
			sr.Error = err.Error()
			result.AllVerified = false
		default:
			return WrapExitError(ExitCommandError, fmt.Sprintf("failed to replay session %s", sess.ID), err)
		}
		result.Sessions = append(result.Sessions, sr)
	}

	if opts.Format == "json" {
		if err := outputReplayJSON(cmd, result); err != nil {
			return err
		}
	} else {
		outputReplayText(cmd, result, opts.Verbose)
	}

	if !result.AllVerified {
		return NewExitError(ExitFailure, "checksum verification failed")
	}
	return nil
}

// openExisting opens a journal that must already exist.
func openExisting(path string) (*store.Store, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, NewExitError(ExitCommandError, fmt.Sprintf("database not found: %s", path))
	}
	st, err := store.Open(path)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}
	return st, nil
}

// outputReplayJSON outputs the replay result as JSON.
func outputReplayJSON(cmd *cobra.Command, result ReplayResult) error {
	response := CLIResponse{Status: "ok", Data: result}
	if !result.AllVerified {
		response.Status = "error"
		response.Error = &CLIError{Code: "E_CHECKSUM", Message: "checksum verification failed"}
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(response)
}

// outputReplayText outputs the replay result as human-readable text.
func outputReplayText(cmd *cobra.Command, result ReplayResult, verbose bool) {
	w := cmd.OutOrStdout()

	if result.TotalSessions == 0 {
		fmt.Fprintln(w, "No sessions found in database.")
		return
	}

	for _, s := range result.Sessions {
		if s.Verified {
			fmt.Fprintf(w, "✓ %s (%d requests)\n", s.Session, s.Requests)
			if verbose {
				fmt.Fprintf(w, "  text: %q\n", s.Text)
			}
			continue
		}
		fmt.Fprintf(w, "✗ %s (%d requests)\n", s.Session, s.Requests)
		fmt.Fprintf(w, "  %s\n", s.Error)
	}

	fmt.Fprintln(w)
	if result.AllVerified {
		fmt.Fprintf(w, "Replay Summary: %d session(s) verified\n", result.TotalSessions)
	} else {
		fmt.Fprintln(w, "Replay Summary: checksum verification FAILED")
	}
}
