package presence

import (
	"sort"
	"time"
)

// Selection is a highlighted range in codepoint offsets.
type Selection struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Session is one connected user's presence state on a document: cursor,
// selection, typing flag and liveness timestamp. Sessions are plain data;
// every mutation happens inside the owning document actor, so there is no
// internal locking.
type Session struct {
	ID           string     `json:"sessionId"`
	Name         string     `json:"name"`
	Color        string     `json:"color"`
	Cursor       int        `json:"cursorPosition"`
	Selection    *Selection `json:"selection,omitempty"`
	Typing       bool       `json:"typing"`
	LastActivity time.Time  `json:"lastActivity"`
	JoinedAt     time.Time  `json:"joinedAt"`
}

// Clone returns a copy safe to hand outside the owning actor.
func (s *Session) Clone() Session {
	out := *s
	if s.Selection != nil {
		sel := *s.Selection
		out.Selection = &sel
	}
	return out
}

// SortSessions orders a roster by join time so state snapshots are stable.
func SortSessions(sessions []Session) {
	sort.Slice(sessions, func(i, j int) bool {
		if sessions[i].JoinedAt.Equal(sessions[j].JoinedAt) {
			return sessions[i].ID < sessions[j].ID
		}
		return sessions[i].JoinedAt.Before(sessions[j].JoinedAt)
	})
}
