// Package conversation holds the dialogue history carried between
// exchanges. History is owned by a single goroutine (the orchestrator) and
// is deliberately not synchronized.
package conversation

import "time"

// Role identifies the author of a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one utterance or response in the dialogue.
type Turn struct {
	Role    Role
	Content string
	At      time.Time
}

// Policy controls how history evolves across exchanges.
type Policy struct {
	// ResetAfterResponse clears history once an exchange completes, so
	// every exchange starts fresh.
	ResetAfterResponse bool

	// MaxTurns bounds the retained history. Oldest turns are evicted
	// first. Zero means unbounded.
	MaxTurns int
}

// History accumulates turns for model context.
type History struct {
	policy Policy
	turns  []Turn
}

// NewHistory creates an empty history with the given policy.
func NewHistory(policy Policy) *History {
	return &History{policy: policy}
}

// Append records a turn, evicting the oldest if the cap is exceeded.
func (h *History) Append(role Role, content string) {
	h.turns = append(h.turns, Turn{Role: role, Content: content, At: time.Now()})
	if h.policy.MaxTurns > 0 && len(h.turns) > h.policy.MaxTurns {
		h.turns = h.turns[len(h.turns)-h.policy.MaxTurns:]
	}
}

// Snapshot returns a copy of the current turns.
func (h *History) Snapshot() []Turn {
	out := make([]Turn, len(h.turns))
	copy(out, h.turns)
	return out
}

// CompleteExchange applies the reset policy at the end of an exchange.
func (h *History) CompleteExchange() {
	if h.policy.ResetAfterResponse {
		h.Clear()
	}
}

// Clear drops all retained turns.
func (h *History) Clear() {
	h.turns = h.turns[:0]
}

// Len reports the number of retained turns.
func (h *History) Len() int {
	return len(h.turns)
}

// SetPolicy replaces the policy. A newly enabled reset takes effect at the
// next exchange completion.
func (h *History) SetPolicy(policy Policy) {
	h.policy = policy
	if policy.MaxTurns > 0 && len(h.turns) > policy.MaxTurns {
		h.turns = h.turns[len(h.turns)-policy.MaxTurns:]
	}
}
