package ot

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestValidate(t *testing.T) {
	cases := []struct {
		name string
		op   Operation
		ok   bool
	}{
		{"insert", NewInsert(0, "hi"), true},
		{"insert empty text", NewInsert(3, ""), true},
		{"insert negative position", NewInsert(-1, "hi"), false},
		{"delete", NewDelete(2, 4), true},
		{"delete zero length", NewDelete(2, 0), false},
		{"delete negative length", NewDelete(2, -3), false},
		{"replace", NewReplace(1, "x", 2), true},
		{"replace zero span", NewReplace(1, "x", 0), false},
		{"retain", NewRetain(), true},
		{"unknown kind", Operation{Kind: Kind("jump"), Position: 0}, false},
	}

	for _, tc := range cases {
		err := tc.op.Validate()
		if tc.ok && err != nil {
			t.Fatalf("%s: unexpected error: %v", tc.name, err)
		}
		if !tc.ok {
			if !errors.Is(err, ErrInvalidOperation) {
				t.Fatalf("%s: expected ErrInvalidOperation, got %v", tc.name, err)
			}
		}
	}
}

func TestDecodeOperation(t *testing.T) {
	raw := []byte(`{"type":"insert","position":3,"content":"héllo","length":0,"timestamp":"2026-01-02T15:04:05Z"}`)
	op, err := DecodeOperation(raw)
	if err != nil {
		t.Fatalf("decode err: %v", err)
	}
	if op.Kind != Insert || op.Position != 3 || op.Text != "héllo" {
		t.Fatalf("unexpected operation: %+v", op)
	}
	want := time.Date(2026, 1, 2, 15, 4, 5, 0, time.UTC)
	if !op.Timestamp.Equal(want) {
		t.Fatalf("timestamp: got %v, want %v", op.Timestamp, want)
	}

	if _, err := DecodeOperation([]byte(`{"type":"jump","position":0}`)); !errors.Is(err, ErrInvalidOperation) {
		t.Fatalf("unknown kind: expected ErrInvalidOperation, got %v", err)
	}
	if _, err := DecodeOperation([]byte(`{"type":"delete","position":2}`)); !errors.Is(err, ErrInvalidOperation) {
		t.Fatalf("lengthless delete: expected ErrInvalidOperation, got %v", err)
	}
	if _, err := DecodeOperation([]byte(`not json`)); !errors.Is(err, ErrInvalidOperation) {
		t.Fatalf("garbage: expected ErrInvalidOperation, got %v", err)
	}
}

func TestEncodeOperationWireFields(t *testing.T) {
	op := NewReplace(4, "go", 5)
	data, err := EncodeOperation(op)
	if err != nil {
		t.Fatalf("encode err: %v", err)
	}
	for _, field := range []string{`"type":"replace"`, `"position":4`, `"content":"go"`, `"deletedLength":5`} {
		if !strings.Contains(string(data), field) {
			t.Fatalf("wire form %s missing %s", data, field)
		}
	}

	decoded, err := DecodeOperation(data)
	if err != nil {
		t.Fatalf("decode err: %v", err)
	}
	if decoded.Kind != Replace || decoded.Position != 4 || decoded.Text != "go" || decoded.DeletedLength != 5 {
		t.Fatalf("roundtrip mismatch: %+v", decoded)
	}
}

func TestTextLenCountsCodepoints(t *testing.T) {
	op := NewInsert(0, "héllo 日本")
	if got := op.TextLen(); got != 8 {
		t.Fatalf("expected 8 codepoints, got %d", got)
	}
	if got := len(op.Text); got == op.TextLen() {
		t.Fatalf("byte length %d should differ from codepoint length for multi-byte text", got)
	}
}

func TestDelta(t *testing.T) {
	if d := NewInsert(0, "abc").Delta(); d != 3 {
		t.Fatalf("insert delta: got %d", d)
	}
	if d := NewDelete(0, 2).Delta(); d != -2 {
		t.Fatalf("delete delta: got %d", d)
	}
	if d := NewReplace(0, "abc", 5).Delta(); d != -2 {
		t.Fatalf("replace delta: got %d", d)
	}
	if d := NewRetain().Delta(); d != 0 {
		t.Fatalf("retain delta: got %d", d)
	}
}
