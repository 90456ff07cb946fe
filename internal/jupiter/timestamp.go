package jupiter

import "fmt"

// ParticipantID identifies one party of a session.
type ParticipantID string

// Timestamp is the generation pair of one pairing at the moment a request was
// generated: Local operations generated by the sender, Remote operations the
// sender had received from the peer.
type Timestamp struct {
	Local  int
	Remote int
}

// NewTimestamp builds a Timestamp from its serialized components.
// Exactly two non-negative components are accepted.
func NewTimestamp(components ...int) (Timestamp, error) {
	if len(components) != 2 {
		return Timestamp{}, &InvalidTimestampError{
			Components: components,
			Reason:     fmt.Sprintf("want 2 components, got %d", len(components)),
		}
	}
	for _, c := range components {
		if c < 0 {
			return Timestamp{}, &InvalidTimestampError{Components: components, Reason: "negative component"}
		}
	}
	return Timestamp{Local: components[0], Remote: components[1]}, nil
}

// Components returns the serialized form [Local, Remote].
func (t Timestamp) Components() []int {
	return []int{t.Local, t.Remote}
}

func (t Timestamp) String() string {
	return fmt.Sprintf("[%d,%d]", t.Local, t.Remote)
}
