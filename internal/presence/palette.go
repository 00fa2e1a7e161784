package presence

import "math/rand/v2"

// DefaultPalette is the ordered set of cursor colors handed to joining
// sessions.
var DefaultPalette = Palette{
	"#e6194b", "#3cb44b", "#ffe119", "#4363d8",
	"#f58231", "#911eb4", "#46f0f0", "#f032e6",
}

// Palette is an ordered list of distinct cursor colors.
type Palette []string

// Assign picks the first color not already in use. Once every color is
// taken, later sessions reuse a random one.
func (p Palette) Assign(inUse map[string]bool) string {
	if len(p) == 0 {
		return ""
	}
	for _, color := range p {
		if !inUse[color] {
			return color
		}
	}
	return p[rand.IntN(len(p))]
}
