package harness

import (
	"context"
	"fmt"
	"slices"

	mapset "github.com/deckarep/golang-set/v2"
)

// Exploration is the outcome of running one scenario under many delivery
// schedules.
type Exploration struct {
	Scenario string `json:"scenario"`
	Runs     int    `json:"runs"`

	// Diverged lists the seeds whose run ended with unequal replicas.
	Diverged []uint64 `json:"diverged,omitempty"`

	// Failed lists the seeds whose run broke an expectation.
	Failed []uint64 `json:"failed,omitempty"`

	// Outcomes lists the distinct final server documents, sorted.
	Outcomes []string `json:"outcomes"`
}

// Pass is true if every run converged and met its expectations.
func (e *Exploration) Pass() bool {
	return len(e.Diverged) == 0 && len(e.Failed) == 0
}

// Explore runs s once per seed in [first, first+runs) with randomized flushes.
// Every run must converge; different seeds may reach different documents
// when the server sees requests in a different order.
func Explore(ctx context.Context, s *Scenario, first uint64, runs int, opts ...Option) (*Exploration, error) {
	if runs <= 0 {
		return nil, fmt.Errorf("runs must be positive, got %d", runs)
	}

	exp := &Exploration{Scenario: s.Name, Runs: runs}
	outcomes := mapset.NewThreadUnsafeSet[string]()

	for i := 0; i < runs; i++ {
		seed := first + uint64(i)
		res, err := RunRandomized(ctx, s, seed, opts...)
		if err != nil {
			return nil, fmt.Errorf("seed %d: %w", seed, err)
		}
		if !res.Converged {
			exp.Diverged = append(exp.Diverged, seed)
		}
		if !res.Pass {
			exp.Failed = append(exp.Failed, seed)
		}
		outcomes.Add(res.Server)
	}

	exp.Outcomes = outcomes.ToSlice()
	slices.Sort(exp.Outcomes)
	return exp, nil
}
