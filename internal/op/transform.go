package op

// Transform rewrites a so that it can be applied after b, where a and b were
// generated against the same document state.
//
// privileged breaks ties between inserts at the same position and origin:
// the privileged side keeps its position. Transform(b, a, !privileged) is the
// matching other half of the diamond.
func Transform(a, b Operation, privileged bool) Operation {
	switch av := a.(type) {
	case NoOp:
		return av

	case Composite:
		out := make([]Operation, len(av.Ops))
		cur := b
		for i, child := range av.Ops {
			out[i] = Transform(child, cur, privileged)
			cur = Transform(cur, child, !privileged)
		}
		return Composite{Ops: out}
	}

	switch bv := b.(type) {
	case NoOp:
		return a

	case Composite:
		for _, child := range bv.Ops {
			a = Transform(a, child, privileged)
		}
		return a

	case Insert:
		switch av := a.(type) {
		case Insert:
			return transformInsertInsert(av, bv, privileged)
		case Delete:
			return transformDeleteInsert(av, bv)
		}

	case Delete:
		switch av := a.(type) {
		case Insert:
			return transformInsertDelete(av, bv)
		case Delete:
			return transformDeleteDelete(av, bv)
		}
	}

	// Unreachable for the closed set of variants.
	return a
}

func transformInsertInsert(a, b Insert, privileged bool) Operation {
	switch {
	case a.Pos < b.Pos,
		a.Pos == b.Pos && a.Origin < b.Origin,
		a.Pos == b.Pos && a.Origin == b.Origin && privileged:
		return a
	default:
		return Insert{Pos: a.Pos + b.Len(), Text: a.Text, Origin: a.Origin}
	}
}

func transformInsertDelete(a Insert, b Delete) Operation {
	switch {
	case a.Pos <= b.Pos:
		return a
	case a.Pos > b.Pos+b.Len():
		return Insert{Pos: a.Pos - b.Len(), Text: a.Text, Origin: a.Origin}
	default:
		// Insert point was inside the deleted range.
		return Insert{Pos: b.Pos, Text: a.Text, Origin: a.Origin}
	}
}

func transformDeleteInsert(a Delete, b Insert) Operation {
	lenA := a.Len()
	switch {
	case b.Pos >= a.Pos+lenA:
		return a
	case a.Pos >= b.Pos:
		return Delete{Pos: a.Pos + b.Len(), Text: a.Text}
	default:
		// Insert landed inside the range: delete around it.
		cut := b.Pos - a.Pos
		return Composite{Ops: []Operation{
			Delete{Pos: a.Pos, Text: runeSlice(a.Text, 0, cut)},
			Delete{Pos: a.Pos + b.Len(), Text: runeSlice(a.Text, cut, lenA)},
		}}
	}
}

func transformDeleteDelete(a, b Delete) Operation {
	posA, lenA := a.Pos, a.Len()
	posB, lenB := b.Pos, b.Len()
	endA, endB := posA+lenA, posB+lenB

	switch {
	case posB >= endA:
		return a
	case posA >= endB:
		return Delete{Pos: posA - lenB, Text: a.Text}
	case posB <= posA && endA <= endB:
		// b already removed everything a wanted to.
		return NoOp{}
	case posB <= posA:
		return Delete{Pos: posB, Text: runeSlice(a.Text, endB-posA, lenA)}
	case endB >= endA:
		return Delete{Pos: posA, Text: runeSlice(a.Text, 0, posB-posA)}
	default:
		// b lies strictly inside a.
		return Delete{Pos: posA, Text: runeSlice(a.Text, 0, posB-posA) + runeSlice(a.Text, endB-posA, lenA)}
	}
}

// TransformIndex moves a position marker (caret, selection bound) past o.
//
// An insert exactly at index pushes the marker right unless privileged.
// A delete covering the index clamps it to the start of the deleted range.
func TransformIndex(index int, o Operation, privileged bool) int {
	switch o := o.(type) {
	case Insert:
		if o.Pos < index || (o.Pos == index && !privileged) {
			return index + o.Len()
		}
		return index
	case Delete:
		switch {
		case index <= o.Pos:
			return index
		case index > o.Pos+o.Len():
			return index - o.Len()
		default:
			return o.Pos
		}
	case Composite:
		for _, child := range o.Ops {
			index = TransformIndex(index, child, privileged)
		}
		return index
	default:
		return index
	}
}
