package ot

import (
	"errors"
	"math"
	"testing"
	"time"
)

var (
	tsEarly = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	tsLate  = tsEarly.Add(25 * time.Millisecond)
)

func insAt(pos int, text string, ts time.Time) Operation {
	return Operation{Kind: Insert, Position: pos, Text: text, Timestamp: ts}
}

func delAt(pos, length int) Operation {
	return Operation{Kind: Delete, Position: pos, Length: length, Timestamp: tsEarly}
}

func repAt(pos int, text string, deleted int) Operation {
	return Operation{Kind: Replace, Position: pos, Text: text, DeletedLength: deleted, Timestamp: tsEarly}
}

func TestApply(t *testing.T) {
	cases := []struct {
		name    string
		content string
		op      Operation
		want    string
	}{
		{"insert middle", "Hello", insAt(5, " World", tsEarly), "Hello World"},
		{"insert front", "ab", insAt(0, "X", tsEarly), "Xab"},
		{"insert multibyte position", "héllo", insAt(1, "ε", tsEarly), "hεéllo"},
		{"delete", "Hello World", delAt(0, 5), " World"},
		{"delete multibyte", "héllo", delAt(1, 2), "hlo"},
		{"delete cjk", "日本語", delAt(1, 1), "日語"},
		{"replace", "Hello World", repAt(6, "Go", 5), "Hello Go"},
		{"replace shrinking", "aaaa", repAt(1, "b", 3), "ab"},
		{"retain", "unchanged", NewRetain(), "unchanged"},
	}

	for _, tc := range cases {
		got, err := Apply(tc.content, tc.op)
		if err != nil {
			t.Fatalf("%s: apply err: %v", tc.name, err)
		}
		if got != tc.want {
			t.Fatalf("%s: got %q, want %q", tc.name, got, tc.want)
		}
	}
}

func TestApplyBounds(t *testing.T) {
	if _, err := Apply("Hello", insAt(6, "!", tsEarly)); !errors.Is(err, ErrPositionOutOfBounds) {
		t.Fatalf("insert past end: expected ErrPositionOutOfBounds, got %v", err)
	}
	if _, err := Apply("Hello", insAt(5, "!", tsEarly)); err != nil {
		t.Fatalf("insert at end should be valid: %v", err)
	}
	if _, err := Apply("Hello", delAt(10, 2)); !errors.Is(err, ErrPositionOutOfBounds) {
		t.Fatalf("stale delete: expected ErrPositionOutOfBounds, got %v", err)
	}
	if _, err := Apply("Hello", delAt(3, 3)); !errors.Is(err, ErrPositionOutOfBounds) {
		t.Fatalf("delete running past end: expected ErrPositionOutOfBounds, got %v", err)
	}
	if _, err := Apply("Hello", repAt(4, "x", 2)); !errors.Is(err, ErrPositionOutOfBounds) {
		t.Fatalf("replace running past end: expected ErrPositionOutOfBounds, got %v", err)
	}
	if _, err := Apply("Hello", delAt(0, 0)); !errors.Is(err, ErrInvalidOperation) {
		t.Fatalf("zero-length delete: expected ErrInvalidOperation, got %v", err)
	}
}

// Positions near math.MaxInt wrap an additive bounds check negative and
// slice out of range. Every range kind must reject them instead.
func TestApplyBoundsOverflow(t *testing.T) {
	cases := []struct {
		name string
		op   Operation
	}{
		{"insert at maxint", insAt(math.MaxInt, "!", tsEarly)},
		{"delete at maxint", delAt(math.MaxInt, 2)},
		{"delete wrapping sum", delAt(1, math.MaxInt)},
		{"replace near maxint", repAt(math.MaxInt-1, "x", 2)},
		{"replace wrapping sum", repAt(2, "x", math.MaxInt)},
	}

	for _, tc := range cases {
		if _, err := Apply("Hello", tc.op); !errors.Is(err, ErrPositionOutOfBounds) {
			t.Fatalf("%s: expected ErrPositionOutOfBounds, got %v", tc.name, err)
		}
	}
}

// The wire path must reject the same payloads: DecodeOperation accepts a
// structurally valid frame and Apply refuses its range cleanly.
func TestDecodeThenApplyHugePosition(t *testing.T) {
	raw := []byte(`{"type":"delete","position":9223372036854775807,"length":2}`)
	op, err := DecodeOperation(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if _, err := Apply("Hello", op); !errors.Is(err, ErrPositionOutOfBounds) {
		t.Fatalf("expected ErrPositionOutOfBounds, got %v", err)
	}
}

func TestTransform(t *testing.T) {
	run := func(name string, a, b, want Operation) {
		got := Transform(a, b)
		if got.Kind != want.Kind || got.Position != want.Position || got.Text != want.Text ||
			got.Length != want.Length || got.DeletedLength != want.DeletedLength {
			t.Fatalf("%s: got %+v, want %+v", name, got, want)
		}
	}

	// Insert against insert.
	run("insert before insert", insAt(1, "f", tsLate), insAt(4, "bar", tsEarly), insAt(1, "f", tsLate))
	run("insert after insert", insAt(4, "f", tsLate), insAt(1, "bar", tsEarly), insAt(7, "f", tsLate))
	run("same position, other landed first", insAt(2, "x", tsLate), insAt(2, "y", tsEarly), insAt(3, "x", tsLate))
	run("same position, ours landed first", insAt(2, "x", tsEarly), insAt(2, "y", tsLate), insAt(2, "x", tsEarly))

	// Insert against delete.
	run("insert before deleted range", insAt(2, "foo", tsEarly), delAt(3, 2), insAt(2, "foo", tsEarly))
	run("insert at delete start", insAt(3, "foo", tsEarly), delAt(3, 2), insAt(3, "foo", tsEarly))
	run("insert after deleted range", insAt(5, "foo", tsEarly), delAt(1, 2), insAt(3, "foo", tsEarly))
	run("insert inside deleted range pins to start", insAt(2, "foo", tsEarly), delAt(1, 3), insAt(1, "foo", tsEarly))

	// Delete against insert.
	run("delete after insert", delAt(3, 2), insAt(1, "xy", tsEarly), delAt(5, 2))
	run("delete before insert", delAt(1, 2), insAt(3, "xy", tsEarly), delAt(1, 2))
	run("insert inside delete grows span", delAt(1, 4), insAt(3, "xy", tsEarly), delAt(1, 6))

	// Delete against delete.
	run("disjoint, ours first", delAt(0, 2), delAt(5, 2), delAt(0, 2))
	run("disjoint, ours second", delAt(5, 2), delAt(0, 2), delAt(3, 2))
	run("overlap, ours starts first keeps span", delAt(1, 4), delAt(3, 4), delAt(1, 4))
	run("overlap, theirs starts first leaves remainder", delAt(3, 4), delAt(1, 4), delAt(1, 2))
	run("fully covered collapses to retain", delAt(3, 2), delAt(1, 6), Operation{Kind: Retain, Timestamp: tsEarly})
	run("same start, theirs longer", delAt(2, 3), delAt(2, 5), Operation{Kind: Retain, Timestamp: tsEarly})
	run("same start, ours longer", delAt(2, 5), delAt(2, 3), delAt(2, 2))

	// Replace interactions.
	run("insert before replaced region", insAt(1, "x", tsEarly), repAt(3, "long", 2), insAt(1, "x", tsEarly))
	run("insert after replaced region shifts by delta", insAt(6, "x", tsEarly), repAt(3, "long", 2), insAt(8, "x", tsEarly))
	run("insert inside replaced region stays put", insAt(4, "x", tsEarly), repAt(3, "lo", 2), insAt(4, "x", tsEarly))
	run("replace after insert", repAt(5, "aa", 2), insAt(1, "xy", tsEarly), repAt(7, "aa", 2))
	run("replace before insert", repAt(1, "aa", 2), insAt(5, "xy", tsEarly), repAt(1, "aa", 2))
	run("insert inside replace region grows span", repAt(1, "aa", 4), insAt(3, "xy", tsEarly), repAt(1, "aa", 6))
	run("replace after delete", repAt(3, "zz", 2), delAt(0, 2), repAt(1, "zz", 2))
	run("replace overlap starting first keeps span", repAt(2, "zz", 4), delAt(4, 4), repAt(2, "zz", 4))
	run("replace swallowed by delete keeps its text", repAt(4, "zz", 2), delAt(2, 6), insAt(2, "zz", tsEarly))

	// Retain is the identity on both sides.
	run("retain against delete", NewRetain(), delAt(0, 3), NewRetain())
	run("insert against retain", insAt(2, "x", tsEarly), NewRetain(), insAt(2, "x", tsEarly))

	// Multibyte payloads shift by codepoints, not bytes.
	run("insert after multibyte insert", insAt(4, "f", tsLate), insAt(1, "héllo", tsEarly), insAt(9, "f", tsLate))
}

// Non-overlapping concurrent operations must converge regardless of which
// side is applied first.
func TestTransformConvergence(t *testing.T) {
	const base = "Hello World"

	cases := []struct {
		name string
		opA  Operation
		opB  Operation
		want string
	}{
		{"insert and delete", insAt(5, ",", tsEarly), delAt(6, 5), "Hello, "},
		{"two inserts", insAt(0, ">", tsEarly), insAt(11, "!", tsLate), ">Hello World!"},
		{"adjacent deletes", delAt(0, 6), delAt(6, 5), ""},
		{"replace and insert", repAt(0, "Howdy", 5), insAt(11, "!", tsLate), "Howdy World!"},
	}

	for _, tc := range cases {
		first, err := Apply(base, tc.opA)
		if err != nil {
			t.Fatalf("%s: apply opA: %v", tc.name, err)
		}
		first, err = Apply(first, Transform(tc.opB, tc.opA))
		if err != nil {
			t.Fatalf("%s: apply transformed opB: %v", tc.name, err)
		}

		second, err := Apply(base, tc.opB)
		if err != nil {
			t.Fatalf("%s: apply opB: %v", tc.name, err)
		}
		second, err = Apply(second, Transform(tc.opA, tc.opB))
		if err != nil {
			t.Fatalf("%s: apply transformed opA: %v", tc.name, err)
		}

		if first != second {
			t.Fatalf("%s: diverged: %q vs %q", tc.name, first, second)
		}
		if first != tc.want {
			t.Fatalf("%s: got %q, want %q", tc.name, first, tc.want)
		}
	}
}

// Two sessions concurrently insert at positions 0 and 2 of "ab"; both
// application orders must produce the identical document.
func TestTransformConcurrentInserts(t *testing.T) {
	opX := insAt(0, "X", tsEarly)
	opY := insAt(2, "Y", tsLate)

	one, err := Apply("ab", opX)
	if err != nil {
		t.Fatalf("apply X: %v", err)
	}
	one, err = Apply(one, Transform(opY, opX))
	if err != nil {
		t.Fatalf("apply Y': %v", err)
	}

	two, err := Apply("ab", opY)
	if err != nil {
		t.Fatalf("apply Y: %v", err)
	}
	two, err = Apply(two, Transform(opX, opY))
	if err != nil {
		t.Fatalf("apply X': %v", err)
	}

	if one != "XabY" || two != "XabY" {
		t.Fatalf("expected XabY on both sides, got %q and %q", one, two)
	}
}

// Same-position inserts are ordered by timestamp no matter which side
// computes the transform first; exact collisions fall back to the text.
func TestTransformTieBreakDeterminism(t *testing.T) {
	check := func(name string, opX, opY Operation, want string) {
		one, _ := Apply("ab", opX)
		one, err := Apply(one, Transform(opY, opX))
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		two, _ := Apply("ab", opY)
		two, err = Apply(two, Transform(opX, opY))
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		if one != want || two != want {
			t.Fatalf("%s: want %q, got %q and %q", name, want, one, two)
		}
	}

	check("earlier timestamp lands first", insAt(1, "X", tsEarly), insAt(1, "Y", tsLate), "aXYb")
	check("reversed roles", insAt(1, "Y", tsLate), insAt(1, "X", tsEarly), "aXYb")
	check("equal timestamps fall back to text", insAt(1, "X", tsEarly), insAt(1, "Y", tsEarly), "aXYb")
}

func TestAdjustCursor(t *testing.T) {
	cases := []struct {
		name string
		pos  int
		op   Operation
		want int
	}{
		{"before insert", 2, insAt(5, " World", tsEarly), 2},
		{"at insert position stays", 5, insAt(5, " World", tsEarly), 5},
		{"after insert shifts", 7, insAt(5, "xy", tsEarly), 9},
		{"after multibyte insert shifts by codepoints", 3, insAt(1, "日本", tsEarly), 5},

		{"at delete start", 2, delAt(2, 3), 2},
		{"inside delete collapses", 4, delAt(2, 3), 2},
		{"at delete end collapses", 5, delAt(2, 3), 2},
		{"after delete shifts left", 6, delAt(2, 3), 3},
		{"before delete", 0, delAt(2, 3), 0},

		{"before replace", 2, repAt(2, "abcd", 3), 2},
		{"inside replace lands after text", 4, repAt(2, "abcd", 3), 6},
		{"at replace end lands after text", 5, repAt(2, "abcd", 3), 6},
		{"after replace shifts by delta", 6, repAt(2, "abcd", 3), 7},

		{"retain leaves cursor", 4, NewRetain(), 4},
	}

	for _, tc := range cases {
		if got := AdjustCursor(tc.pos, tc.op); got != tc.want {
			t.Fatalf("%s: got %d, want %d", tc.name, got, tc.want)
		}
	}
}

// Deleting the first five characters of "Hello World" moves a cursor at 7
// down to 2, mirroring how a session trailing an edit is remapped.
func TestAdjustCursorAfterLeadingDelete(t *testing.T) {
	content, err := Apply("Hello World", delAt(0, 5))
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if content != " World" {
		t.Fatalf("content: got %q", content)
	}
	if got := AdjustCursor(7, delAt(0, 5)); got != 2 {
		t.Fatalf("cursor: got %d, want 2", got)
	}
}

func TestAdjustSelection(t *testing.T) {
	start, end := AdjustSelection(3, 8, delAt(0, 2))
	if start != 1 || end != 6 {
		t.Fatalf("got (%d,%d), want (1,6)", start, end)
	}
	start, end = AdjustSelection(1, 4, insAt(2, "zz", tsEarly))
	if start != 1 || end != 6 {
		t.Fatalf("got (%d,%d), want (1,6)", start, end)
	}
}
