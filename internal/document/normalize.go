package document

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/saros-project/saros-sub040/internal/op"
)

// Checksum domain. The version suffix leaves room for a new digest.
const DomainChecksum = "jupiter/document/v1"

// Normalize converts line delimiters to "\n" and applies Unicode NFC.
//
// Editors must normalise text before generating an edit so that every
// replica counts the same runes for the same visible characters.
func Normalize(s string) string {
	if strings.IndexByte(s, '\r') >= 0 {
		s = strings.ReplaceAll(s, "\r\n", "\n")
		s = strings.ReplaceAll(s, "\r", "\n")
	}
	return norm.NFC.String(s)
}

// IsNormalized reports whether Normalize(s) == s.
func IsNormalized(s string) bool {
	return strings.IndexByte(s, '\r') < 0 && norm.NFC.IsNormalString(s)
}

// Checksum returns the hex SHA-256 of text with domain separation:
// SHA256(domain + 0x00 + text).
func Checksum(text string) string {
	h := sha256.New()
	h.Write([]byte(DomainChecksum))
	h.Write([]byte{0x00})
	h.Write([]byte(text))
	return hex.EncodeToString(h.Sum(nil))
}

// NormalizeOp returns o with the text of every insert normalised.
//
// Delete text must match the document rune for rune and is left alone.
// Inside a composite, later children are positioned against the runes of
// earlier ones, so an insert is only normalised there if its length stays
// the same. Composites built from normalised text need no rewriting.
func NormalizeOp(o op.Operation) op.Operation {
	switch o := o.(type) {
	case op.Insert:
		o.Text = Normalize(o.Text)
		return o
	case op.Composite:
		ops := make([]op.Operation, len(o.Ops))
		for i, child := range o.Ops {
			ops[i] = normalizeChild(child)
		}
		return op.Composite{Ops: ops}
	default:
		return o
	}
}

func normalizeChild(o op.Operation) op.Operation {
	switch o := o.(type) {
	case op.Insert:
		n := o
		n.Text = Normalize(o.Text)
		if n.Len() != o.Len() {
			return o
		}
		return n
	case op.Composite:
		ops := make([]op.Operation, len(o.Ops))
		for i, child := range o.Ops {
			ops[i] = normalizeChild(child)
		}
		return op.Composite{Ops: ops}
	default:
		return o
	}
}
