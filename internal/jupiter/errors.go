package jupiter

import (
	"errors"
	"fmt"
)

// InvalidTimestampError reports timestamp components of the wrong shape.
type InvalidTimestampError struct {
	Components []int
	Reason     string
}

func (e *InvalidTimestampError) Error() string {
	return fmt.Sprintf("invalid timestamp %v: %s", e.Components, e.Reason)
}

// CausalGapError reports an incoming request whose timestamp is inconsistent
// with the receiving pairing. The pairing state is left untouched.
type CausalGapError struct {
	// Timestamp is the one carried by the rejected request.
	Timestamp Timestamp

	// State is the receiver's generation pair when the request arrived.
	State Timestamp

	// Oldest is the generation of the oldest unacknowledged local operation,
	// or -1 if none were outstanding.
	Oldest int

	Reason string
}

func (e *CausalGapError) Error() string {
	return fmt.Sprintf("causal gap: request %s at state %s: %s", e.Timestamp, e.State, e.Reason)
}

// StaleEpochError reports a request generated before the pairing was last
// reset, or one from a pairing not yet adopted.
type StaleEpochError struct {
	Epoch   int
	Current int
}

func (e *StaleEpochError) Error() string {
	return fmt.Sprintf("stale request: epoch %d, pairing is at epoch %d", e.Epoch, e.Current)
}

// IsInvalidTimestamp returns true if err is (or wraps) an InvalidTimestampError.
func IsInvalidTimestamp(err error) bool {
	var te *InvalidTimestampError
	return errors.As(err, &te)
}

// IsCausalGap returns true if err is (or wraps) a CausalGapError.
func IsCausalGap(err error) bool {
	var ce *CausalGapError
	return errors.As(err, &ce)
}

// IsStaleEpoch returns true if err is (or wraps) a StaleEpochError.
func IsStaleEpoch(err error) bool {
	var se *StaleEpochError
	return errors.As(err, &se)
}
