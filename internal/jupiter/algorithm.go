package jupiter

import (
	"github.com/saros-project/saros-sub040/internal/op"
)

// Side selects which end of a pairing an Algorithm runs on.
type Side int

const (
	// ClientSide runs in a participant, paired with its proxy on the server.
	ClientSide Side = iota + 1
	// ServerSide runs in the server as a participant's proxy.
	ServerSide
)

func (s Side) String() string {
	switch s {
	case ClientSide:
		return "client"
	case ServerSide:
		return "server"
	default:
		return "unknown"
	}
}

// State is the lifecycle state of an Algorithm.
type State int

const (
	// Active is normal operation.
	Active State = iota
	// Resetting is held while generations and outstanding operations are cleared.
	Resetting
)

func (s State) String() string {
	if s == Resetting {
		return "resetting"
	}
	return "active"
}

// pending is a generated operation the peer has not acknowledged yet.
type pending struct {
	op  op.Operation
	gen int // local generation at the time it was generated
}

// Algorithm is the Jupiter state of one end of a pairing.
type Algorithm struct {
	side        Side
	local       int
	remote      int
	outstanding []pending
	state       State

	// epoch counts resets of the pairing. Requests carry the epoch they
	// were generated in; requests from an earlier pairing are stale.
	epoch int
}

// NewAlgorithm creates an Algorithm at generation zero.
func NewAlgorithm(side Side) *Algorithm {
	return &Algorithm{side: side}
}

// Side returns the end this Algorithm runs on.
func (a *Algorithm) Side() Side { return a.side }

// State returns the lifecycle state.
func (a *Algorithm) State() State { return a.state }

// Timestamp returns the current generation pair.
func (a *Algorithm) Timestamp() Timestamp {
	return Timestamp{Local: a.local, Remote: a.remote}
}

// Epoch returns the number of the current pairing.
func (a *Algorithm) Epoch() int { return a.epoch }

// Outstanding returns the number of unacknowledged local operations.
func (a *Algorithm) Outstanding() int { return len(a.outstanding) }

// Generate wraps a locally applied operation for transmission to the peer.
func (a *Algorithm) Generate(o op.Operation, origin ParticipantID) Request {
	req := Request{Operation: o, Timestamp: a.Timestamp(), Origin: origin, Epoch: a.epoch}
	a.outstanding = append(a.outstanding, pending{op: o, gen: a.local})
	a.local++
	return req
}

// Receive transforms an operation received from the peer so that it can be
// applied to the local document.
//
// Returns a StaleEpochError if the request belongs to another epoch, and a
// CausalGapError if it skips or repeats a remote generation, acknowledges a
// local generation that was never generated, or acknowledges less than an
// earlier request did. State is unchanged on error.
func (a *Algorithm) Receive(req Request) (op.Operation, error) {
	if req.Epoch != a.epoch {
		return nil, &StaleEpochError{Epoch: req.Epoch, Current: a.epoch}
	}
	if err := a.check(req.Timestamp); err != nil {
		return nil, err
	}

	a.discard(req.Timestamp.Remote)

	// The server's operations win ties on both ends of the pairing.
	privileged := a.side == ClientSide

	incoming := req.Operation
	for i := range a.outstanding {
		existing := a.outstanding[i].op
		transformed := op.Transform(incoming, existing, privileged)
		a.outstanding[i].op = op.Transform(existing, incoming, !privileged)
		incoming = transformed
	}

	a.remote++
	return op.Simplify(incoming), nil
}

func (a *Algorithm) check(ts Timestamp) error {
	gap := func(reason string) error {
		oldest := -1
		if len(a.outstanding) > 0 {
			oldest = a.outstanding[0].gen
		}
		return &CausalGapError{Timestamp: ts, State: a.Timestamp(), Oldest: oldest, Reason: reason}
	}

	switch {
	case ts.Local != a.remote:
		return gap("remote generation out of sequence")
	case ts.Remote > a.local:
		return gap("acknowledges unsent local operations")
	case len(a.outstanding) > 0 && ts.Remote < a.outstanding[0].gen:
		return gap("acknowledges fewer operations than an earlier request")
	}
	return nil
}

// discard drops outstanding operations generated before generation ack.
func (a *Algorithm) discard(ack int) {
	n := 0
	for n < len(a.outstanding) && a.outstanding[n].gen < ack {
		n++
	}
	if n == 0 {
		return
	}
	clear(a.outstanding[:n])
	a.outstanding = a.outstanding[n:]
}

// Reset clears outstanding operations, zeroes both generations and starts
// epoch. The server picks the next epoch; clients adopt the one it sends.
func (a *Algorithm) Reset(epoch int) {
	a.state = Resetting
	a.epoch = epoch
	a.outstanding = nil
	a.local = 0
	a.remote = 0
	a.state = Active
}
