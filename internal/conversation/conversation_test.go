package conversation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHistory_AppendAndSnapshot(t *testing.T) {
	h := NewHistory(Policy{})
	h.Append(RoleUser, "what time is it")
	h.Append(RoleAssistant, "ten past nine")

	turns := h.Snapshot()
	require.Len(t, turns, 2)
	assert.Equal(t, RoleUser, turns[0].Role)
	assert.Equal(t, "what time is it", turns[0].Content)
	assert.Equal(t, RoleAssistant, turns[1].Role)

	// Snapshot is a copy.
	turns[0].Content = "mutated"
	assert.Equal(t, "what time is it", h.Snapshot()[0].Content)
}

func TestHistory_MaxTurnsEvictsOldest(t *testing.T) {
	h := NewHistory(Policy{MaxTurns: 2})
	h.Append(RoleUser, "one")
	h.Append(RoleAssistant, "two")
	h.Append(RoleUser, "three")

	turns := h.Snapshot()
	require.Len(t, turns, 2)
	assert.Equal(t, "two", turns[0].Content)
	assert.Equal(t, "three", turns[1].Content)
}

func TestHistory_ResetAfterResponse(t *testing.T) {
	h := NewHistory(Policy{ResetAfterResponse: true})
	h.Append(RoleUser, "hello")
	h.Append(RoleAssistant, "hi")
	h.CompleteExchange()
	assert.Zero(t, h.Len())

	h.SetPolicy(Policy{ResetAfterResponse: false})
	h.Append(RoleUser, "hello again")
	h.CompleteExchange()
	assert.Equal(t, 1, h.Len())
}

func TestHistory_SetPolicyTrimsExisting(t *testing.T) {
	h := NewHistory(Policy{})
	for _, c := range []string{"a", "b", "c", "d"} {
		h.Append(RoleUser, c)
	}
	h.SetPolicy(Policy{MaxTurns: 2})
	turns := h.Snapshot()
	require.Len(t, turns, 2)
	assert.Equal(t, "c", turns[0].Content)
}
