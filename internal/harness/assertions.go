package harness

import (
	"fmt"
	"slices"
	"strings"
)

// ExpectationError describes one failed expectation.
type ExpectationError struct {
	Check    string // expectation name, e.g. "text" or "texts.alice"
	Expected string
	Actual   string
}

// Error implements the error interface.
func (e *ExpectationError) Error() string {
	return fmt.Sprintf("expectation %s failed: expected %s, got %s", e.Check, e.Expected, e.Actual)
}

// checkExpect records every failed expectation in res.
func checkExpect(exp Expect, res *Result) {
	for _, err := range expectationErrors(exp, res) {
		res.AddError(err.Error())
	}
}

func expectationErrors(exp Expect, res *Result) []*ExpectationError {
	var errs []*ExpectationError

	wantConverged := exp.Converged == nil || *exp.Converged
	if res.Converged != wantConverged {
		errs = append(errs, &ExpectationError{
			Check:    "converged",
			Expected: fmt.Sprint(wantConverged),
			Actual:   fmt.Sprintf("%v (%s)", res.Converged, quoteAll(res.Distinct)),
		})
	}

	if exp.Text != nil {
		if res.Server != *exp.Text {
			errs = append(errs, &ExpectationError{Check: "text.server", Expected: fmt.Sprintf("%q", *exp.Text), Actual: fmt.Sprintf("%q", res.Server)})
		}
		for _, id := range sortedKeys(res.Texts) {
			if got := res.Texts[id]; got != *exp.Text {
				errs = append(errs, &ExpectationError{Check: "text." + id, Expected: fmt.Sprintf("%q", *exp.Text), Actual: fmt.Sprintf("%q", got)})
			}
		}
	}

	for _, id := range sortedKeys(exp.Texts) {
		want := exp.Texts[id]
		got, ok := res.Texts[id]
		if !ok {
			errs = append(errs, &ExpectationError{Check: "texts." + id, Expected: fmt.Sprintf("%q", want), Actual: "no such client"})
			continue
		}
		if got != want {
			errs = append(errs, &ExpectationError{Check: "texts." + id, Expected: fmt.Sprintf("%q", want), Actual: fmt.Sprintf("%q", got)})
		}
	}

	if exp.Resyncs != nil && res.Resyncs != *exp.Resyncs {
		errs = append(errs, &ExpectationError{Check: "resyncs", Expected: fmt.Sprint(*exp.Resyncs), Actual: fmt.Sprint(res.Resyncs)})
	}
	return errs
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

func quoteAll(texts []string) string {
	quoted := make([]string, len(texts))
	for i, t := range texts {
		quoted[i] = fmt.Sprintf("%q", t)
	}
	return strings.Join(quoted, ", ")
}
