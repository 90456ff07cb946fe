package jupiter

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/saros-project/saros-sub040/internal/document"
	"github.com/saros-project/saros-sub040/internal/op"
	"github.com/saros-project/saros-sub040/internal/queue"
)

// maxUndo bounds the undo history of a Client.
const maxUndo = 100

// ErrNothingToUndo is returned by Undo when no local edit can be undone.
var ErrNothingToUndo = errors.New("nothing to undo")

// Applied is emitted by a Client for every operation it applied to its document.
type Applied struct {
	Op op.Operation

	// Remote is true for operations received from the server.
	Remote bool
}

// Client is one participant's endpoint: the client side of its pairing with
// the server, the document it edits and its caret. Safe for concurrent use.
type Client struct {
	id ParticipantID

	mu    sync.Mutex
	algo  *Algorithm
	doc   document.Document
	caret int

	// undo holds the inverses of local edits, newest last, each transformed
	// to apply to the current document.
	undo []op.Operation

	applied *queue.Queue[Applied]
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithClientDocument makes the client edit doc instead of an in-memory buffer.
func WithClientDocument(doc document.Document) ClientOption {
	return func(c *Client) {
		c.doc = doc
	}
}

// NewClient creates a client whose document starts as text, normalised.
// text must be the server document at the moment the proxy was added.
func NewClient(id ParticipantID, text string, opts ...ClientOption) *Client {
	c := &Client{
		id:      id,
		algo:    NewAlgorithm(ClientSide),
		applied: queue.New[Applied](),
	}
	for _, opt := range opts {
		opt(c)
	}
	text = document.Normalize(text)
	if c.doc == nil {
		c.doc = document.NewBuffer(text)
	} else {
		c.doc.Reset(text)
	}
	return c
}

// ID returns the participant id.
func (c *Client) ID() ParticipantID { return c.id }

// Generate applies a local edit to the document and returns the request to
// send to the server. Inserted text is normalised first. Invalid edits are
// rejected before any state changes.
func (c *Client) Generate(o op.Operation) (Request, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	req, err := c.generateLocked(document.NormalizeOp(op.Simplify(o)))
	if err != nil {
		return Request{}, err
	}
	c.pushUndo(op.Invert(req.Operation))
	return req, nil
}

// Undo reverts the most recent local edit that has not been undone yet,
// as transformed by every edit applied since, and returns the request to
// send to the server. Returns ErrNothingToUndo if the history is empty.
func (c *Client) Undo() (Request, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.undo) == 0 {
		return Request{}, ErrNothingToUndo
	}
	last := len(c.undo) - 1
	inv := c.undo[last]
	c.undo = c.undo[:last]
	req, err := c.generateLocked(inv)
	if err != nil {
		c.undo = append(c.undo, inv)
		return Request{}, fmt.Errorf("undo: %w", err)
	}
	return req, nil
}

func (c *Client) generateLocked(o op.Operation) (Request, error) {
	if err := c.doc.Apply(o); err != nil {
		return Request{}, fmt.Errorf("local edit: %w", err)
	}
	c.caret = op.TransformIndex(c.caret, o, false)
	c.transformUndo(o)
	c.applied.Push(Applied{Op: o})
	return c.algo.Generate(o, c.id), nil
}

// pushUndo records inv, dropping the oldest entry once the history is full.
func (c *Client) pushUndo(inv op.Operation) {
	if _, ok := inv.(op.NoOp); ok {
		return
	}
	if len(c.undo) == maxUndo {
		c.undo = slices.Delete(c.undo, 0, 1)
	}
	c.undo = append(c.undo, inv)
}

// transformUndo moves the undo history past o, just applied.
func (c *Client) transformUndo(o op.Operation) {
	for i, inv := range c.undo {
		c.undo[i] = op.Simplify(op.Transform(inv, o, false))
	}
}

// Receive transforms a request from the server and applies it.
// Returns the operation that was applied.
//
// A request from another epoch is rejected with a StaleEpochError and
// changes nothing.
func (c *Client) Receive(req Request) (op.Operation, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	o, err := c.algo.Receive(req)
	if err != nil {
		return nil, err
	}
	if err := c.doc.Apply(o); err != nil {
		// The transformation contract was broken; the replica has diverged.
		return nil, fmt.Errorf("apply %s from %s: %w", o, req.Origin, err)
	}
	c.caret = op.TransformIndex(c.caret, o, true)
	c.transformUndo(o)
	c.applied.Push(Applied{Op: o, Remote: true})
	return o, nil
}

// Reset restarts the pairing at epoch from a server snapshot.
// Local edits the server had not acknowledged are lost, and so is the
// undo history.
func (c *Client) Reset(text string, epoch int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.algo.Reset(epoch)
	c.doc.Reset(document.Normalize(text))
	c.caret = min(c.caret, c.doc.Len())
	c.undo = nil
}

// Epoch returns the epoch of the client's pairing.
func (c *Client) Epoch() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.algo.Epoch()
}

// Text returns the current document content.
func (c *Client) Text() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.doc.Text()
}

// Caret returns the caret position.
func (c *Client) Caret() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.caret
}

// SetCaret moves the caret, clamped to the document.
func (c *Client) SetCaret(pos int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.caret = max(0, min(pos, c.doc.Len()))
}

// Timestamp returns the generation pair of the client's pairing.
func (c *Client) Timestamp() Timestamp {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.algo.Timestamp()
}

// Outstanding returns the number of edits not yet acknowledged by the server.
func (c *Client) Outstanding() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.algo.Outstanding()
}

// Applied returns the stream of applied operations, local edits included.
// The queue is unbounded; long-lived clients should drain it.
func (c *Client) Applied() *queue.Queue[Applied] {
	return c.applied
}
