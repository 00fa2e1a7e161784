package ot

import "fmt"

// Apply splices the operation into content and returns the new content. The
// content is addressed in codepoints, so multi-byte runes count as one unit.
// Returns ErrPositionOutOfBounds when the operation's range does not fit the
// current content length.
func Apply(content string, op Operation) (string, error) {
	if err := op.Validate(); err != nil {
		return "", err
	}

	if op.Kind == Retain {
		return content, nil
	}

	runes := []rune(content)
	switch op.Kind {
	case Insert:
		if op.Position > len(runes) {
			boundsRejections.Inc()
			return "", fmt.Errorf("%w: insert at %d exceeds content length %d", ErrPositionOutOfBounds, op.Position, len(runes))
		}
		out := make([]rune, 0, len(runes)+op.TextLen())
		out = append(out, runes[:op.Position]...)
		out = append(out, []rune(op.Text)...)
		out = append(out, runes[op.Position:]...)
		return string(out), nil

	case Delete:
		// Split comparison: the additive form op.Position+op.Length wraps
		// negative for positions near math.MaxInt and passes the check.
		if op.Position > len(runes) || op.Length > len(runes)-op.Position {
			boundsRejections.Inc()
			return "", fmt.Errorf("%w: delete of %d at %d exceeds content length %d", ErrPositionOutOfBounds, op.Length, op.Position, len(runes))
		}
		out := make([]rune, 0, len(runes)-op.Length)
		out = append(out, runes[:op.Position]...)
		out = append(out, runes[op.Position+op.Length:]...)
		return string(out), nil

	case Replace:
		if op.Position > len(runes) || op.DeletedLength > len(runes)-op.Position {
			boundsRejections.Inc()
			return "", fmt.Errorf("%w: replace of %d at %d exceeds content length %d", ErrPositionOutOfBounds, op.DeletedLength, op.Position, len(runes))
		}
		out := make([]rune, 0, len(runes)+op.Delta())
		out = append(out, runes[:op.Position]...)
		out = append(out, []rune(op.Text)...)
		out = append(out, runes[op.Position+op.DeletedLength:]...)
		return string(out), nil
	}

	return content, nil
}

// Transform rewrites a so it can be applied after b has already landed on the
// same base content. It is one-sided: to reconcile two concurrent operations,
// each side transforms the other against its own. Equal-position inserts are
// ordered by timestamp, earlier first; exact timestamp collisions fall back
// to comparing the inserted text so the ordering stays total. A transform
// that cancels a entirely collapses it to a retain.
func Transform(a, b Operation) Operation {
	if a.Kind == Retain || b.Kind == Retain {
		return a
	}
	transformsTotal.WithLabelValues(string(a.Kind), string(b.Kind)).Inc()

	switch b.Kind {
	case Insert:
		return transformAgainstInsert(a, b)
	case Delete:
		return transformAgainstDelete(a, b)
	case Replace:
		return transformAgainstReplace(a, b)
	}
	return a
}

func transformAgainstInsert(a, b Operation) Operation {
	grow := b.TextLen()

	if a.Kind == Insert {
		switch {
		case a.Position < b.Position:
			return a
		case a.Position > b.Position:
			a.Position += grow
			return a
		default:
			if landsFirst(b, a) {
				a.Position += grow
			}
			return a
		}
	}

	// Delete and Replace treat the insert relative to their removal span.
	switch {
	case b.Position <= a.Position:
		a.Position += grow
	case b.Position >= a.spanEnd():
		// Insert lands at or past the end of the span; untouched.
	default:
		// Insert lands inside the span; the span grows to cover it.
		if a.Kind == Delete {
			a.Length += grow
		} else {
			a.DeletedLength += grow
		}
	}
	return a
}

func transformAgainstDelete(a, b Operation) Operation {
	bEnd := b.spanEnd()

	if a.Kind == Insert {
		switch {
		case a.Position <= b.Position:
			return a
		case a.Position >= bEnd:
			a.Position -= b.Length
			return a
		default:
			// Inside the deleted range: pin to its start, keep the text.
			a.Position = b.Position
			return a
		}
	}

	aEnd := a.spanEnd()
	switch {
	case aEnd <= b.Position:
		return a
	case a.Position >= bEnd:
		a.Position -= b.Length
		return a
	case a.Position < b.Position:
		// Overlap with a starting first: leftmost wins, span unchanged.
		return a
	default:
		// Overlap with b starting at or before a: a is cut down to the
		// remainder past b's end.
		a.Position = b.Position
		remainder := max(0, aEnd-bEnd)
		if a.Kind == Delete {
			a.Length = remainder
		} else {
			a.DeletedLength = remainder
		}
		return collapse(a)
	}
}

func transformAgainstReplace(a, b Operation) Operation {
	// Operations entirely past the replaced region shift by its net length
	// delta; anything before or touching the region keeps its position.
	if a.Position >= b.spanEnd() {
		a.Position += b.Delta()
	}
	return a
}

// landsFirst reports whether x takes precedence over y when both insert at
// the same position.
func landsFirst(x, y Operation) bool {
	if !x.Timestamp.Equal(y.Timestamp) {
		return x.Timestamp.Before(y.Timestamp)
	}
	if x.Text != y.Text {
		return x.Text < y.Text
	}
	return false
}

// collapse rewrites an operation whose span shrank to nothing into its
// simplest equivalent form.
func collapse(op Operation) Operation {
	switch op.Kind {
	case Delete:
		if op.Length == 0 {
			return Operation{Kind: Retain, Timestamp: op.Timestamp}
		}
	case Replace:
		if op.DeletedLength == 0 {
			if op.Text == "" {
				return Operation{Kind: Retain, Timestamp: op.Timestamp}
			}
			return Operation{Kind: Insert, Position: op.Position, Text: op.Text, Timestamp: op.Timestamp}
		}
	}
	return op
}

// AdjustCursor remaps a cursor position so it points at the same logical spot
// after op has been applied. An insert moves a cursor only when it sits
// strictly after the insertion point; a cursor exactly at the insertion point
// stays put. A cursor inside a deleted range collapses to the range start; a
// cursor inside a replaced range lands just past the replacement text.
func AdjustCursor(pos int, op Operation) int {
	switch op.Kind {
	case Insert:
		if pos > op.Position {
			return pos + op.TextLen()
		}
		return pos

	case Delete:
		switch {
		case pos <= op.Position:
			return pos
		case pos <= op.Position+op.Length:
			return op.Position
		default:
			return pos - op.Length
		}

	case Replace:
		switch {
		case pos <= op.Position:
			return pos
		case pos <= op.Position+op.DeletedLength:
			return op.Position + op.TextLen()
		default:
			return pos + op.Delta()
		}
	}
	return pos
}

// AdjustSelection remaps both endpoints of a selection range.
func AdjustSelection(start, end int, op Operation) (int, int) {
	return AdjustCursor(start, op), AdjustCursor(end, op)
}
