package ot

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"
	"unicode/utf8"
)

// Kind discriminates the supported edit operations. The set is closed: apply,
// transform and cursor adjustment all switch over it exhaustively, so a new
// kind forces an audit of each.
type Kind string

const (
	Insert  Kind = "insert"
	Delete  Kind = "delete"
	Replace Kind = "replace"
	Retain  Kind = "retain"
)

var (
	// ErrInvalidOperation marks a malformed payload or an unsupported kind.
	// Callers must not retry the same payload.
	ErrInvalidOperation = errors.New("invalid operation")

	// ErrPositionOutOfBounds marks an operation whose range does not fit the
	// current content, usually because the sender computed it against a stale
	// view. Callers recover by resyncing state, not by retrying.
	ErrPositionOutOfBounds = errors.New("position out of bounds")
)

// Operation is a single positional edit. Position, Length and DeletedLength
// count Unicode codepoints, never bytes. The timestamp breaks ties between
// concurrent inserts at the same position; it is wall-clock time supplied by
// the originating client, stamped on receipt when absent.
type Operation struct {
	Kind          Kind      `json:"type"`
	Position      int       `json:"position"`
	Text          string    `json:"content"`
	Length        int       `json:"length"`
	DeletedLength int       `json:"deletedLength,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

// NewInsert builds an insert of text at position.
func NewInsert(position int, text string) Operation {
	return Operation{Kind: Insert, Position: position, Text: text, Timestamp: time.Now().UTC()}
}

// NewDelete builds a delete of length codepoints starting at position.
func NewDelete(position, length int) Operation {
	return Operation{Kind: Delete, Position: position, Length: length, Timestamp: time.Now().UTC()}
}

// NewReplace builds an operation that removes deletedLength codepoints at
// position and splices text in their place.
func NewReplace(position int, text string, deletedLength int) Operation {
	return Operation{Kind: Replace, Position: position, Text: text, DeletedLength: deletedLength, Timestamp: time.Now().UTC()}
}

// NewRetain builds the no-op operation. Retain is the identity under apply,
// transform and cursor adjustment; transforms that cancel an operation
// entirely collapse it to a retain.
func NewRetain() Operation {
	return Operation{Kind: Retain, Timestamp: time.Now().UTC()}
}

// Validate checks the structural invariants that do not depend on the live
// content: known kind, non-negative position, positive spans where the kind
// removes text. Bounds against the current content are enforced by Apply.
func (op Operation) Validate() error {
	if op.Position < 0 {
		return fmt.Errorf("%w: negative position %d", ErrInvalidOperation, op.Position)
	}
	switch op.Kind {
	case Insert, Retain:
		return nil
	case Delete:
		if op.Length <= 0 {
			return fmt.Errorf("%w: delete length %d must be positive", ErrInvalidOperation, op.Length)
		}
	case Replace:
		if op.DeletedLength <= 0 {
			return fmt.Errorf("%w: replace deleted length %d must be positive", ErrInvalidOperation, op.DeletedLength)
		}
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidOperation, op.Kind)
	}
	return nil
}

// TextLen returns the codepoint length of the operation's text payload.
func (op Operation) TextLen() int {
	return utf8.RuneCountInString(op.Text)
}

// Delta returns the net change in content length caused by the operation.
func (op Operation) Delta() int {
	switch op.Kind {
	case Insert:
		return op.TextLen()
	case Delete:
		return -op.Length
	case Replace:
		return op.TextLen() - op.DeletedLength
	}
	return 0
}

// spanEnd returns the exclusive end of the codepoint range the operation
// removes. Inserts and retains have a zero-width span at their position.
// The end saturates at math.MaxInt instead of wrapping negative.
func (op Operation) spanEnd() int {
	span := 0
	switch op.Kind {
	case Delete:
		span = op.Length
	case Replace:
		span = op.DeletedLength
	}
	if op.Position > math.MaxInt-span {
		return math.MaxInt
	}
	return op.Position + span
}

// DecodeOperation parses a wire operation and validates its structure. The
// wire form is JSON with the fields type, position, content, length,
// deletedLength and timestamp.
func DecodeOperation(data []byte) (Operation, error) {
	var op Operation
	if err := json.Unmarshal(data, &op); err != nil {
		return Operation{}, fmt.Errorf("%w: %v", ErrInvalidOperation, err)
	}
	if err := op.Validate(); err != nil {
		return Operation{}, err
	}
	return op, nil
}

// EncodeOperation serializes an operation to its wire form.
func EncodeOperation(op Operation) ([]byte, error) {
	return json.Marshal(op)
}
