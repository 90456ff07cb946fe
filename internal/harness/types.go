package harness

import "strings"

// Result is the outcome of a scenario run.
type Result struct {
	// Scenario is the name of the scenario that ran.
	Scenario string `json:"scenario"`

	// SessionID is the id of the simulated server session.
	SessionID string `json:"session_id"`

	// Pass is true if every expectation held.
	Pass bool `json:"pass"`

	// Server is the final server document.
	Server string `json:"server"`

	// Texts are the final client documents, keyed by participant.
	Texts map[string]string `json:"texts"`

	// Converged is true if the server and every client hold the same document.
	Converged bool `json:"converged"`

	// Distinct lists the different final documents, sorted.
	Distinct []string `json:"distinct"`

	// Resyncs counts proxy resets performed by the server.
	Resyncs int `json:"resyncs"`

	// Trace records every step and server event in order.
	Trace []string `json:"trace"`

	// Errors contains failed expectations. Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult(scenario string) *Result {
	return &Result{
		Scenario: scenario,
		Pass:     true,
		Texts:    make(map[string]string),
		Trace:    []string{},
		Errors:   []string{},
	}
}

// AddError adds a failed expectation and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// TraceText renders the trace one line per entry.
func (r *Result) TraceText() []byte {
	if len(r.Trace) == 0 {
		return nil
	}
	return []byte(strings.Join(r.Trace, "\n") + "\n")
}
