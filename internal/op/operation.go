package op

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// Operation is an atomic document edit.
// Implemented only by Insert, Delete, NoOp and Composite.
type Operation interface {
	// String renders the operation for logs and traces, e.g. insert(3,"f").
	String() string

	operation()
}

// Insert inserts Text at Pos.
type Insert struct {
	Pos  int
	Text string

	// Origin is the position the insert was generated at. Transformations
	// carry it unchanged; it orders concurrent inserts at the same position.
	Origin int
}

// NewInsert creates an insert whose origin is its own position.
func NewInsert(pos int, text string) Insert {
	return Insert{Pos: pos, Text: text, Origin: pos}
}

// Len returns the number of inserted runes.
func (i Insert) Len() int { return utf8.RuneCountInString(i.Text) }

func (i Insert) String() string { return fmt.Sprintf("insert(%d,%q)", i.Pos, i.Text) }

func (Insert) operation() {}

// Delete deletes len(Text) runes starting at Pos.
// Text is kept for transformation and for producing the inverse.
type Delete struct {
	Pos  int
	Text string
}

// NewDelete creates a delete of text at pos.
func NewDelete(pos int, text string) Delete {
	return Delete{Pos: pos, Text: text}
}

// Len returns the number of deleted runes.
func (d Delete) Len() int { return utf8.RuneCountInString(d.Text) }

func (d Delete) String() string { return fmt.Sprintf("delete(%d,%q)", d.Pos, d.Text) }

func (Delete) operation() {}

// NoOp leaves the document unchanged.
type NoOp struct{}

func (NoOp) String() string { return "noop" }

func (NoOp) operation() {}

// Composite applies Ops in order, each against the result of the previous.
type Composite struct {
	Ops []Operation
}

// NewComposite bundles ops into one operation.
func NewComposite(ops ...Operation) Composite {
	return Composite{Ops: ops}
}

func (c Composite) String() string {
	parts := make([]string, len(c.Ops))
	for i, o := range c.Ops {
		parts[i] = o.String()
	}
	return "composite[" + strings.Join(parts, ", ") + "]"
}

func (Composite) operation() {}

// ApplyError reports an operation that is not valid against a document.
type ApplyError struct {
	Op     Operation
	DocLen int
	Reason string
}

func (e *ApplyError) Error() string {
	return fmt.Sprintf("cannot apply %s to document of length %d: %s", e.Op, e.DocLen, e.Reason)
}

// IsApplyError returns true if err is (or wraps) an ApplyError.
func IsApplyError(err error) bool {
	var ae *ApplyError
	return errors.As(err, &ae)
}

// Apply returns text with o applied.
// Returns an ApplyError if a position is out of range, a delete's recorded
// text differs from the document, or the document or o's text is not valid
// UTF-8.
func Apply(text string, o Operation) (string, error) {
	if !utf8.ValidString(text) {
		return "", &ApplyError{Op: o, DocLen: utf8.RuneCountInString(text), Reason: "document is not valid UTF-8"}
	}
	out, err := apply([]rune(text), o)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

func apply(doc []rune, o Operation) ([]rune, error) {
	switch o := o.(type) {
	case Insert:
		if o.Pos < 0 || o.Pos > len(doc) {
			return nil, &ApplyError{Op: o, DocLen: len(doc), Reason: "position out of range"}
		}
		if !utf8.ValidString(o.Text) {
			return nil, &ApplyError{Op: o, DocLen: len(doc), Reason: "text is not valid UTF-8"}
		}
		ins := []rune(o.Text)
		out := make([]rune, 0, len(doc)+len(ins))
		out = append(out, doc[:o.Pos]...)
		out = append(out, ins...)
		return append(out, doc[o.Pos:]...), nil

	case Delete:
		if !utf8.ValidString(o.Text) {
			return nil, &ApplyError{Op: o, DocLen: len(doc), Reason: "text is not valid UTF-8"}
		}
		n := o.Len()
		if o.Pos < 0 || o.Pos+n > len(doc) {
			return nil, &ApplyError{Op: o, DocLen: len(doc), Reason: "range out of bounds"}
		}
		if string(doc[o.Pos:o.Pos+n]) != o.Text {
			return nil, &ApplyError{Op: o, DocLen: len(doc), Reason: fmt.Sprintf("document holds %q", string(doc[o.Pos:o.Pos+n]))}
		}
		out := make([]rune, 0, len(doc)-n)
		out = append(out, doc[:o.Pos]...)
		return append(out, doc[o.Pos+n:]...), nil

	case NoOp:
		return doc, nil

	case Composite:
		var err error
		for _, child := range o.Ops {
			if doc, err = apply(doc, child); err != nil {
				return nil, err
			}
		}
		return doc, nil

	default:
		return nil, &ApplyError{Op: o, DocLen: len(doc), Reason: fmt.Sprintf("unknown operation type %T", o)}
	}
}

// Simplify flattens nested composites and drops no-ops and empty edits.
// A composite of one element collapses to that element; an empty result
// is NoOp.
func Simplify(o Operation) Operation {
	flat := flatten(nil, o)
	switch len(flat) {
	case 0:
		return NoOp{}
	case 1:
		return flat[0]
	default:
		return Composite{Ops: flat}
	}
}

func flatten(dst []Operation, o Operation) []Operation {
	switch o := o.(type) {
	case Insert:
		if o.Text == "" {
			return dst
		}
	case Delete:
		if o.Text == "" {
			return dst
		}
	case NoOp:
		return dst
	case Composite:
		for _, child := range o.Ops {
			dst = flatten(dst, child)
		}
		return dst
	}
	return append(dst, o)
}

// Invert returns the operation that undoes o.
func Invert(o Operation) Operation {
	switch o := o.(type) {
	case Insert:
		return Delete{Pos: o.Pos, Text: o.Text}
	case Delete:
		return NewInsert(o.Pos, o.Text)
	case Composite:
		inv := make([]Operation, len(o.Ops))
		for i, child := range o.Ops {
			inv[len(o.Ops)-1-i] = Invert(child)
		}
		return Composite{Ops: inv}
	default:
		return NoOp{}
	}
}

// runeSlice returns runes [i, j) of s.
func runeSlice(s string, i, j int) string {
	r := []rune(s)
	return string(r[i:j])
}
