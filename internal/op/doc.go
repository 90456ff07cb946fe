// Package op defines the text operations exchanged between Jupiter peers and
// the inclusion transformation that rewrites one operation to account for
// another, concurrently applied one.
//
// # Operation Model
//
// Operation is a closed sum type with four variants:
//
//   - Insert: inserts Text at Pos
//   - Delete: deletes len(Text) characters starting at Pos
//   - NoOp: the identity, produced when a transformation cancels an edit
//   - Composite: an ordered bundle; each element applies to the result of
//     the previous one
//
// Positions and lengths are counted in runes, never bytes, so multi-byte
// characters occupy exactly one position on every replica.
//
// # Transformation
//
// Transform(a, b, privileged) returns a' such that applying b then a' yields
// the same document as applying a then Transform(b, a, !privileged). The
// function is pure: replicas given the same inputs compute identical results.
//
// Same-position inserts are ordered by Origin (the position the insert was
// generated at) and then by the privileged flag, which the Jupiter pairing
// fixes per side (the server's operations win).
package op
