package jupiter

import (
	"encoding/json"
	"fmt"

	"github.com/saros-project/saros-sub040/internal/op"
)

// Request is the unit exchanged between an Algorithm and its peer.
type Request struct {
	Operation op.Operation
	Timestamp Timestamp

	// Origin is the participant whose edit this request carries. Requests
	// broadcast by the server keep the origin of the edit they were derived from.
	Origin ParticipantID

	// Epoch is the reset count of the pairing the request was generated in.
	Epoch int
}

func (r Request) String() string {
	return fmt.Sprintf("%s %s from %s", r.Timestamp, r.Operation, r.Origin)
}

type requestJSON struct {
	Op        json.RawMessage `json:"op"`
	Timestamp []int           `json:"timestamp"`
	Origin    ParticipantID   `json:"origin"`
	Epoch     int             `json:"epoch,omitempty"`
}

// MarshalJSON encodes the request as
// {"op":{...},"timestamp":[local,remote],"origin":"id","epoch":n}.
// The epoch is omitted while zero.
func (r Request) MarshalJSON() ([]byte, error) {
	if r.Operation == nil {
		return nil, fmt.Errorf("marshal request: nil operation")
	}
	data, err := op.Marshal(r.Operation)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	return json.Marshal(requestJSON{Op: data, Timestamp: r.Timestamp.Components(), Origin: r.Origin, Epoch: r.Epoch})
}

// UnmarshalJSON decodes a request, validating the timestamp shape.
func (r *Request) UnmarshalJSON(data []byte) error {
	var raw requestJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("unmarshal request: %w", err)
	}
	if len(raw.Op) == 0 {
		return fmt.Errorf("unmarshal request: missing op")
	}
	o, err := op.Unmarshal(raw.Op)
	if err != nil {
		return fmt.Errorf("unmarshal request: %w", err)
	}
	ts, err := NewTimestamp(raw.Timestamp...)
	if err != nil {
		return fmt.Errorf("unmarshal request: %w", err)
	}
	if raw.Epoch < 0 {
		return fmt.Errorf("unmarshal request: negative epoch %d", raw.Epoch)
	}
	*r = Request{Operation: o, Timestamp: ts, Origin: raw.Origin, Epoch: raw.Epoch}
	return nil
}
