package harness

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"gopkg.in/yaml.v3"

	"github.com/saros-project/saros-sub040/internal/document"
	"github.com/saros-project/saros-sub040/internal/op"
)

//go:embed schema.cue
var schemaCUE string

// Scenario is a scripted editing session.
// Participants edit their local copies and the network between them and the
// server is stepped explicitly, so every interleaving is reproducible.
type Scenario struct {
	// Name uniquely identifies this scenario. Golden traces are keyed by it.
	Name string `yaml:"name"`

	// Description explains what this scenario exercises.
	Description string `yaml:"description"`

	// Initial is the document every participant starts from.
	Initial string `yaml:"initial,omitempty"`

	// Clients join the session, in order, before the first step.
	Clients []string `yaml:"clients"`

	// Steps run in order. Each step sets exactly one field.
	Steps []Step `yaml:"steps"`

	// Expect is checked once every step has run.
	Expect Expect `yaml:"expect,omitempty"`
}

// Step is one action of a scenario.
type Step struct {
	// Edit applies an operation to a client's document and queues the request
	// on the client's uplink.
	Edit *EditStep `yaml:"edit,omitempty"`

	// Send hands the oldest request on a client's uplink to the server.
	Send string `yaml:"send,omitempty"`

	// Deliver hands the oldest message the server queued for a client to it.
	Deliver string `yaml:"deliver,omitempty"`

	// Flush sends and delivers until every channel is empty.
	Flush bool `yaml:"flush,omitempty"`

	// Join adds a participant, starting from the server's current document.
	Join string `yaml:"join,omitempty"`

	// Leave removes a participant. Its undelivered messages are lost.
	Leave string `yaml:"leave,omitempty"`

	// Reset restarts a participant's pairing. The server queues a resync for
	// it; requests still on its uplink stay there and are dropped by the
	// server when they arrive.
	Reset string `yaml:"reset,omitempty"`

	// Undo reverts a client's most recent local edit and queues the request
	// on its uplink.
	Undo string `yaml:"undo,omitempty"`
}

// Kind names the action a step performs.
func (s Step) Kind() string {
	switch {
	case s.Edit != nil:
		return "edit"
	case s.Send != "":
		return "send"
	case s.Deliver != "":
		return "deliver"
	case s.Flush:
		return "flush"
	case s.Join != "":
		return "join"
	case s.Leave != "":
		return "leave"
	case s.Reset != "":
		return "reset"
	case s.Undo != "":
		return "undo"
	default:
		return "empty"
	}
}

// EditStep is a local edit by one client.
type EditStep struct {
	Client string `yaml:"client"`
	Op     OpSpec `yaml:"op"`
}

// OpSpec describes an operation in scenario files.
//
// A delete may give len instead of text; the text is then read from the
// editing client's document. Composite children apply in order, each against
// the result of the previous one.
type OpSpec struct {
	Type string   `yaml:"type"`
	Pos  int      `yaml:"pos,omitempty"`
	Text string   `yaml:"text,omitempty"`
	Len  int      `yaml:"len,omitempty"`
	Ops  []OpSpec `yaml:"ops,omitempty"`
}

// Build resolves o into an operation against doc. Text given in the
// scenario is normalised, the way an editor would before generating an edit.
func (o OpSpec) Build(doc string) (op.Operation, error) {
	switch o.Type {
	case op.TypeInsert:
		if o.Text == "" {
			return nil, fmt.Errorf("insert requires text")
		}
		return op.NewInsert(o.Pos, document.Normalize(o.Text)), nil

	case op.TypeDelete:
		text := document.Normalize(o.Text)
		if text == "" {
			runes := []rune(doc)
			if o.Len <= 0 || o.Pos+o.Len > len(runes) {
				return nil, fmt.Errorf("delete at %d of %d runes is out of range for document of length %d", o.Pos, o.Len, len(runes))
			}
			text = string(runes[o.Pos : o.Pos+o.Len])
		}
		return op.NewDelete(o.Pos, text), nil

	case op.TypeNoOp:
		return op.NoOp{}, nil

	case op.TypeComposite:
		ops := make([]op.Operation, 0, len(o.Ops))
		cur := doc
		for i, child := range o.Ops {
			c, err := child.Build(cur)
			if err != nil {
				return nil, fmt.Errorf("ops[%d]: %w", i, err)
			}
			if cur, err = op.Apply(cur, c); err != nil {
				return nil, fmt.Errorf("ops[%d]: %w", i, err)
			}
			ops = append(ops, c)
		}
		return op.NewComposite(ops...), nil

	default:
		return nil, fmt.Errorf("unknown operation type %q", o.Type)
	}
}

// Expect holds the checks run at the end of a scenario.
type Expect struct {
	// Text is the document the server and every client must hold.
	Text *string `yaml:"text,omitempty"`

	// Texts are per-client documents.
	Texts map[string]string `yaml:"texts,omitempty"`

	// Converged requires every replica to be equal. Default: true.
	Converged *bool `yaml:"converged,omitempty"`

	// Resyncs is the number of proxy resets the server performed.
	Resyncs *int `yaml:"resyncs,omitempty"`
}

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed, contains unknown
// fields (typos), or does not match the scenario schema.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses a scenario from YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // Reject unknown fields
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateSchema(data); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	scenario.Initial = document.Normalize(scenario.Initial)
	return &scenario, nil
}

// validateSchema checks the raw document against #Scenario in schema.cue.
func validateSchema(data []byte) error {
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("failed to parse YAML: %w", err)
	}

	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaCUE).LookupPath(cue.ParsePath("#Scenario"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compile schema: %w", err)
	}

	value := schema.Unify(ctx.Encode(raw))
	if err := value.Validate(cue.Concrete(true)); err != nil {
		return err
	}
	return nil
}

// validateScenario checks what the schema cannot: unique client ids and
// well-formed operations.
func validateScenario(s *Scenario) error {
	seen := make(map[string]bool, len(s.Clients))
	for _, id := range s.Clients {
		if seen[id] {
			return fmt.Errorf("duplicate client %q", id)
		}
		seen[id] = true
	}

	for i, step := range s.Steps {
		if step.Edit == nil {
			continue
		}
		if err := validateOp(step.Edit.Op); err != nil {
			return fmt.Errorf("steps[%d].edit.op: %w", i, err)
		}
	}
	return nil
}

func validateOp(o OpSpec) error {
	switch o.Type {
	case op.TypeInsert:
		if o.Text == "" {
			return fmt.Errorf("insert requires text")
		}
	case op.TypeDelete:
		if o.Text == "" && o.Len == 0 {
			return fmt.Errorf("delete requires text or len")
		}
	case op.TypeComposite:
		for i, child := range o.Ops {
			if err := validateOp(child); err != nil {
				return fmt.Errorf("ops[%d]: %w", i, err)
			}
		}
	}
	return nil
}
