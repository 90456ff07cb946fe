package op

import (
	"encoding/json"
	"fmt"
	"unicode/utf8"
)

// Wire type tags.
const (
	TypeInsert    = "insert"
	TypeDelete    = "delete"
	TypeNoOp      = "noop"
	TypeComposite = "composite"
)

// envelope is the tagged JSON form of an Operation.
type envelope struct {
	Type   string            `json:"type"`
	Pos    *int              `json:"pos,omitempty"`
	Origin *int              `json:"origin,omitempty"`
	Text   *string           `json:"text,omitempty"`
	Ops    []json.RawMessage `json:"ops,omitempty"`
}

// Marshal encodes o as tagged JSON:
//
//	{"type":"insert","pos":3,"origin":3,"text":"f"}
//	{"type":"delete","pos":2,"text":"r"}
//	{"type":"noop"}
//	{"type":"composite","ops":[...]}
func Marshal(o Operation) ([]byte, error) {
	env, err := toEnvelope(o)
	if err != nil {
		return nil, err
	}
	return json.Marshal(env)
}

func toEnvelope(o Operation) (envelope, error) {
	switch o := o.(type) {
	case Insert:
		if !utf8.ValidString(o.Text) {
			return envelope{}, fmt.Errorf("encode %s: text is not valid UTF-8", o)
		}
		pos, origin, text := o.Pos, o.Origin, o.Text
		return envelope{Type: TypeInsert, Pos: &pos, Origin: &origin, Text: &text}, nil
	case Delete:
		if !utf8.ValidString(o.Text) {
			return envelope{}, fmt.Errorf("encode %s: text is not valid UTF-8", o)
		}
		pos, text := o.Pos, o.Text
		return envelope{Type: TypeDelete, Pos: &pos, Text: &text}, nil
	case NoOp:
		return envelope{Type: TypeNoOp}, nil
	case Composite:
		env := envelope{Type: TypeComposite, Ops: make([]json.RawMessage, len(o.Ops))}
		for i, child := range o.Ops {
			data, err := Marshal(child)
			if err != nil {
				return envelope{}, fmt.Errorf("composite[%d]: %w", i, err)
			}
			env.Ops[i] = data
		}
		return env, nil
	default:
		return envelope{}, fmt.Errorf("unsupported operation type %T", o)
	}
}

// Unmarshal decodes an operation produced by Marshal.
// Input that is not valid UTF-8 is rejected rather than decoded with
// replacement characters.
func Unmarshal(data []byte) (Operation, error) {
	if !utf8.Valid(data) {
		return nil, fmt.Errorf("decode operation: input is not valid UTF-8")
	}
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode operation: %w", err)
	}

	switch env.Type {
	case TypeInsert:
		if env.Pos == nil || env.Text == nil || *env.Pos < 0 {
			return nil, fmt.Errorf("decode operation: insert requires non-negative pos and text")
		}
		ins := NewInsert(*env.Pos, *env.Text)
		if env.Origin != nil {
			ins.Origin = *env.Origin
		}
		return ins, nil

	case TypeDelete:
		if env.Pos == nil || env.Text == nil || *env.Pos < 0 {
			return nil, fmt.Errorf("decode operation: delete requires non-negative pos and text")
		}
		return NewDelete(*env.Pos, *env.Text), nil

	case TypeNoOp:
		return NoOp{}, nil

	case TypeComposite:
		ops := make([]Operation, len(env.Ops))
		for i, raw := range env.Ops {
			child, err := Unmarshal(raw)
			if err != nil {
				return nil, fmt.Errorf("composite[%d]: %w", i, err)
			}
			ops[i] = child
		}
		return Composite{Ops: ops}, nil

	default:
		return nil, fmt.Errorf("decode operation: unknown type %q", env.Type)
	}
}
