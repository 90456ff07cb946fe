package server

import (
	"fmt"

	"github.com/saros-project/saros-sub040/internal/jupiter"
	"github.com/saros-project/saros-sub040/internal/op"
)

// EventKind distinguishes server events.
type EventKind int

const (
	// EventApplied reports a request applied to the server document.
	EventApplied EventKind = iota + 1
	// EventJoined reports a proxy added.
	EventJoined
	// EventLeft reports a proxy removed.
	EventLeft
	// EventResync reports a proxy reset; Text holds the snapshot sent to it.
	EventResync
)

func (k EventKind) String() string {
	switch k {
	case EventApplied:
		return "applied"
	case EventJoined:
		return "joined"
	case EventLeft:
		return "left"
	case EventResync:
		return "resync"
	default:
		return fmt.Sprintf("EventKind(%d)", int(k))
	}
}

// Event is published to subscribers for every change of server state.
type Event struct {
	Kind EventKind
	Seq  int64

	// Participant is the origin of an applied request, or the proxy a
	// lifecycle event concerns.
	Participant jupiter.ParticipantID

	// Op is the operation applied to the server document (EventApplied).
	Op op.Operation

	// Timestamp is the timestamp of the request as received (EventApplied).
	Timestamp jupiter.Timestamp

	// Text is the document snapshot (EventJoined, EventResync).
	Text string

	// Checksum is the server document checksum after the event.
	Checksum string

	// Reason explains a resync.
	Reason string
}

// Message is one item of a participant's outgoing stream: either a request
// to transform and apply, or a resync carrying the snapshot to restart from.
type Message struct {
	Request  jupiter.Request
	Resync   bool
	Snapshot string

	// Epoch is the epoch the participant must restart its pairing at (resync).
	Epoch int
}

func (m Message) String() string {
	if m.Resync {
		return fmt.Sprintf("resync %q epoch=%d", m.Snapshot, m.Epoch)
	}
	return m.Request.String()
}
