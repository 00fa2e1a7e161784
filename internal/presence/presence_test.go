package presence

import (
	"testing"
	"time"
)

func TestPaletteAssignsFirstUnused(t *testing.T) {
	inUse := map[string]bool{}
	for i := 0; i < len(DefaultPalette); i++ {
		color := DefaultPalette.Assign(inUse)
		if color != DefaultPalette[i] {
			t.Fatalf("joiner %d: got %q, want %q", i+1, color, DefaultPalette[i])
		}
		if inUse[color] {
			t.Fatalf("joiner %d: color %q handed out twice before exhaustion", i+1, color)
		}
		inUse[color] = true
	}
}

func TestPaletteExhaustionReusesMember(t *testing.T) {
	inUse := map[string]bool{}
	for _, color := range DefaultPalette {
		inUse[color] = true
	}

	// The ninth joiner gets a reused color, but always one from the palette.
	for i := 0; i < 20; i++ {
		color := DefaultPalette.Assign(inUse)
		found := false
		for _, member := range DefaultPalette {
			if member == color {
				found = true
				break
			}
		}
		if !found {
			t.Fatalf("reused color %q is not a palette member", color)
		}
	}
}

func TestPaletteSkipsReleasedColors(t *testing.T) {
	inUse := map[string]bool{DefaultPalette[0]: true, DefaultPalette[2]: true}
	if color := DefaultPalette.Assign(inUse); color != DefaultPalette[1] {
		t.Fatalf("got %q, want first gap %q", color, DefaultPalette[1])
	}
}

func TestSessionClone(t *testing.T) {
	s := Session{
		ID:        "s-1",
		Name:      "ada",
		Color:     DefaultPalette[0],
		Cursor:    4,
		Selection: &Selection{Start: 1, End: 3},
	}

	clone := s.Clone()
	clone.Selection.Start = 9
	clone.Cursor = 0

	if s.Selection.Start != 1 || s.Cursor != 4 {
		t.Fatalf("clone mutated the original: %+v", s)
	}
}

func TestSortSessionsByJoinOrder(t *testing.T) {
	base := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	sessions := []Session{
		{ID: "c", JoinedAt: base.Add(2 * time.Second)},
		{ID: "a", JoinedAt: base},
		{ID: "b", JoinedAt: base.Add(time.Second)},
		{ID: "d", JoinedAt: base.Add(2 * time.Second)},
	}

	SortSessions(sessions)

	want := []string{"a", "b", "c", "d"}
	for i, id := range want {
		if sessions[i].ID != id {
			t.Fatalf("position %d: got %q, want %q", i, sessions[i].ID, id)
		}
	}
}
