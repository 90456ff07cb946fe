package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/saros-project/saros-sub040/internal/jupiter"
	"github.com/saros-project/saros-sub040/internal/store"
)

// TraceOptions holds flags for the trace command.
type TraceOptions struct {
	*RootOptions
	Database    string
	Session     string
	Participant string // optional - filter to one participant
}

// TraceEvent represents a single entry in the session timeline.
type TraceEvent struct {
	Seq         int64  `json:"seq"`
	Type        string `json:"type"` // "applied", "joined", "left" or "resync"
	Participant string `json:"participant"`
	Timestamp   string `json:"timestamp,omitempty"`
	Op          string `json:"op,omitempty"`
	Checksum    string `json:"checksum,omitempty"`
	Reason      string `json:"reason,omitempty"`
}

// TraceResult holds the complete trace output.
type TraceResult struct {
	Session     string       `json:"session"`
	InitialText string       `json:"initial_text"`
	Timeline    []TraceEvent `json:"timeline"`
	Stats       TraceStats   `json:"stats"`
}

// TraceStats holds summary statistics for the trace.
type TraceStats struct {
	TotalEvents  int `json:"total_events"`
	Applied      int `json:"applied"`
	Lifecycle    int `json:"lifecycle"`
	Participants int `json:"participants"`
}

// NewTraceCommand creates the trace command.
func NewTraceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TraceOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "trace",
		Short: "Show the timeline of a journaled session",
		Long: `Show every applied request and proxy lifecycle change of a session,
in server sequence order.

Examples:
  jupiter trace --db ./session.db --session 0192...
  jupiter trace --db ./session.db --session 0192... --participant alice
  jupiter trace --db ./session.db --session 0192... --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrace(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.Session, "session", "", "session id (required)")
	_ = cmd.MarkFlagRequired("session")
	cmd.Flags().StringVar(&opts.Participant, "participant", "", "filter to a specific participant")

	return cmd
}

func runTrace(opts *TraceOptions, cmd *cobra.Command) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	st, err := openExisting(opts.Database)
	if err != nil {
		return err
	}
	defer st.Close()

	result, err := buildTrace(ctx, st, opts.Session, jupiter.ParticipantID(opts.Participant))
	if errors.Is(err, store.ErrSessionNotFound) {
		return NewExitError(ExitCommandError, fmt.Sprintf("session not found: %s", opts.Session))
	}
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to build trace", err)
	}

	if opts.Format == "json" {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(CLIResponse{Status: "ok", Data: result})
	}
	outputTraceText(cmd, result)
	return nil
}

// buildTrace merges the applied requests and lifecycle entries of a session
// into one timeline ordered by seq.
func buildTrace(ctx context.Context, st *store.Store, sessionID string, participant jupiter.ParticipantID) (TraceResult, error) {
	sess, err := st.ReadSession(ctx, sessionID)
	if err != nil {
		return TraceResult{}, err
	}

	var requests []store.AppliedRequest
	if participant != "" {
		requests, err = st.ReadParticipant(ctx, sessionID, participant)
	} else {
		requests, err = st.ReadRequests(ctx, sessionID)
	}
	if err != nil {
		return TraceResult{}, err
	}

	lifecycle, err := st.ReadLifecycle(ctx, sessionID)
	if err != nil {
		return TraceResult{}, err
	}

	result := TraceResult{
		Session:     sess.ID,
		InitialText: sess.InitialText,
		Timeline:    make([]TraceEvent, 0, len(requests)+len(lifecycle)),
	}
	participants := make(map[jupiter.ParticipantID]struct{})

	for _, r := range requests {
		result.Timeline = append(result.Timeline, TraceEvent{
			Seq:         r.Seq,
			Type:        "applied",
			Participant: string(r.Participant),
			Timestamp:   r.Timestamp.String(),
			Op:          r.Op.String(),
			Checksum:    r.Checksum,
		})
		result.Stats.Applied++
		participants[r.Participant] = struct{}{}
	}
	for _, l := range lifecycle {
		if participant != "" && l.Participant != participant {
			continue
		}
		result.Timeline = append(result.Timeline, TraceEvent{
			Seq:         l.Seq,
			Type:        l.Kind,
			Participant: string(l.Participant),
			Reason:      l.Reason,
		})
		result.Stats.Lifecycle++
		participants[l.Participant] = struct{}{}
	}

	sort.SliceStable(result.Timeline, func(i, j int) bool {
		return result.Timeline[i].Seq < result.Timeline[j].Seq
	})
	result.Stats.TotalEvents = len(result.Timeline)
	result.Stats.Participants = len(participants)
	return result, nil
}

// outputTraceText outputs the trace as human-readable text.
func outputTraceText(cmd *cobra.Command, result TraceResult) {
	w := cmd.OutOrStdout()

	fmt.Fprintf(w, "Session: %s\n", result.Session)
	fmt.Fprintf(w, "Initial: %q\n\n", result.InitialText)

	if len(result.Timeline) == 0 {
		fmt.Fprintln(w, "No events recorded.")
		return
	}

	fmt.Fprintln(w, "Timeline:")
	for _, ev := range result.Timeline {
		switch ev.Type {
		case "applied":
			fmt.Fprintf(w, "  [%d] %s %s %s\n", ev.Seq, ev.Participant, ev.Timestamp, ev.Op)
		case "resync":
			fmt.Fprintf(w, "  [%d] %s resync (%s)\n", ev.Seq, ev.Participant, ev.Reason)
		default:
			fmt.Fprintf(w, "  [%d] %s %s\n", ev.Seq, ev.Participant, ev.Type)
		}
	}

	fmt.Fprintln(w)
	fmt.Fprintf(w, "Stats: %d events, %d applied, %d lifecycle, %d participant(s)\n",
		result.Stats.TotalEvents, result.Stats.Applied, result.Stats.Lifecycle, result.Stats.Participants)
}
