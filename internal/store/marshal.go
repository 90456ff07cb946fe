package store

import (
	"encoding/json"
	"fmt"

	"github.com/saros-project/saros-sub040/internal/jupiter"
	"github.com/saros-project/saros-sub040/internal/op"
)

func marshalOp(o op.Operation) (string, error) {
	data, err := op.Marshal(o)
	if err != nil {
		return "", fmt.Errorf("marshal op: %w", err)
	}
	return string(data), nil
}

func unmarshalOp(data string) (op.Operation, error) {
	o, err := op.Unmarshal([]byte(data))
	if err != nil {
		return nil, fmt.Errorf("unmarshal op: %w", err)
	}
	return o, nil
}

func marshalTimestamp(ts jupiter.Timestamp) (string, error) {
	data, err := json.Marshal(ts.Components())
	if err != nil {
		return "", fmt.Errorf("marshal timestamp: %w", err)
	}
	return string(data), nil
}

func unmarshalTimestamp(data string) (jupiter.Timestamp, error) {
	var components []int
	if err := json.Unmarshal([]byte(data), &components); err != nil {
		return jupiter.Timestamp{}, fmt.Errorf("unmarshal timestamp: %w", err)
	}
	ts, err := jupiter.NewTimestamp(components...)
	if err != nil {
		return jupiter.Timestamp{}, fmt.Errorf("unmarshal timestamp: %w", err)
	}
	return ts, nil
}
