package llm

import (
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/voiced/internal/conversation"
)

const planSystemPrompt = `You are a voice assistant planner. Decide whether the user's request can be answered directly or needs tools.

Respond with ONLY a JSON object, no prose, in one of two shapes:

Direct answer:
{"action":"answer","answer":"<spoken-style answer>"}

Tool plan:
{"action":"tools","steps":[{"operation":"<name>","arguments":{...},"depends_on_previous":false}]}

Rules:
- Use only the operations listed below. If none apply, answer directly.
- Set depends_on_previous to true only when a step needs the result of the step before it.
- Keep answers short and suitable for speaking aloud.`

const respondSystemPrompt = `You are a voice assistant. Phrase a short spoken-style response to the user's request using the tool results below. If a tool failed or timed out, say so plainly instead of inventing a result. Respond with plain text only.`

const correctivePrompt = `Your previous reply was not a valid JSON envelope. Respond again with ONLY the JSON object, no code fences, no commentary.`

// buildPlanPrompt renders the user-side prompt for a planning call.
func buildPlanPrompt(req PlanRequest) string {
	var b strings.Builder
	if len(req.Capabilities) > 0 {
		b.WriteString("Available operations:\n")
		for _, c := range req.Capabilities {
			fmt.Fprintf(&b, "- %s (%s): %s\n", c.Operation, c.ProviderID, c.Description)
		}
	} else {
		b.WriteString("No operations are available; answer directly.\n")
	}
	writeHistory(&b, req.History)
	fmt.Fprintf(&b, "\nUser request: %s\n", req.Utterance)
	return b.String()
}

// buildRespondPrompt renders the user-side prompt for the phrasing call.
func buildRespondPrompt(req PlanRequest, outcomes []StepOutcome) string {
	var b strings.Builder
	writeHistory(&b, req.History)
	fmt.Fprintf(&b, "\nUser request: %s\n", req.Utterance)
	if len(outcomes) > 0 {
		b.WriteString("\nTool results:\n")
		for _, o := range outcomes {
			fmt.Fprintf(&b, "- %s [%s]: %s\n", o.Hint, o.Status, o.Output)
		}
	}
	return b.String()
}

func writeHistory(b *strings.Builder, turns []conversation.Turn) {
	if len(turns) == 0 {
		return
	}
	b.WriteString("\nConversation so far:\n")
	for _, t := range turns {
		fmt.Fprintf(b, "%s: %s\n", t.Role, t.Content)
	}
}
