package transport

import (
	"github.com/saros-project/saros-sub040/internal/jupiter"
	"github.com/saros-project/saros-sub040/internal/server"
)

// Envelope types.
const (
	TypeHello    = "hello"    // client → server: first message, names the participant
	TypeSnapshot = "snapshot" // server → client: document to start from
	TypeRequest  = "request"  // both directions: a Jupiter request
	TypeResync   = "resync"   // server → client: restart from the enclosed document; client → server: send one
	TypeError    = "error"    // server → client: handshake refused, connection closes
)

// Envelope is one websocket message.
type Envelope struct {
	Type    string                `json:"type"`
	ID      jupiter.ParticipantID `json:"id,omitempty"`
	Session string                `json:"session,omitempty"`
	Text    string                `json:"text,omitempty"`
	Request *jupiter.Request      `json:"request,omitempty"`
	Error   string                `json:"error,omitempty"`

	// Epoch is the pairing epoch a resync restarts at.
	Epoch int `json:"epoch,omitempty"`
}

// envelopeFor wraps an outgoing server message.
func envelopeFor(msg server.Message) Envelope {
	if msg.Resync {
		return Envelope{Type: TypeResync, Text: msg.Snapshot, Epoch: msg.Epoch}
	}
	req := msg.Request
	return Envelope{Type: TypeRequest, Request: &req}
}
