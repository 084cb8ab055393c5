package llm

import (
	"encoding/json"
	"fmt"
	"strings"
)

// envelope is the wire shape the model is instructed to emit.
type envelope struct {
	Action string         `json:"action"`
	Answer string         `json:"answer,omitempty"`
	Steps  []envelopeStep `json:"steps,omitempty"`
}

type envelopeStep struct {
	Operation         string          `json:"operation"`
	Arguments         json.RawMessage `json:"arguments,omitempty"`
	DependsOnPrevious bool            `json:"depends_on_previous,omitempty"`
}

const (
	actionAnswer = "answer"
	actionTools  = "tools"
)

// parseEnvelope extracts and validates the model's JSON envelope. Models
// often wrap JSON in code fences or prose, so we locate the outermost
// object before decoding.
func parseEnvelope(raw string) (*PlanResult, error) {
	body, err := extractJSON(raw)
	if err != nil {
		return nil, err
	}

	var env envelope
	if err := json.Unmarshal([]byte(body), &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}

	switch env.Action {
	case actionAnswer:
		if strings.TrimSpace(env.Answer) == "" {
			return nil, fmt.Errorf("answer action with empty answer")
		}
		return &PlanResult{Answer: env.Answer}, nil
	case actionTools:
		if len(env.Steps) == 0 {
			return nil, fmt.Errorf("tools action with no steps")
		}
		steps := make([]Step, 0, len(env.Steps))
		for i, es := range env.Steps {
			if strings.TrimSpace(es.Operation) == "" {
				return nil, fmt.Errorf("step %d missing operation", i)
			}
			args := es.Arguments
			if len(args) == 0 {
				args = json.RawMessage(`{}`)
			}
			steps = append(steps, Step{
				Hint:              es.Operation,
				Arguments:         args,
				DependsOnPrevious: es.DependsOnPrevious,
			})
		}
		return &PlanResult{Steps: steps}, nil
	default:
		return nil, fmt.Errorf("unknown action %q", env.Action)
	}
}

// extractJSON returns the first balanced top-level JSON object in raw.
func extractJSON(raw string) (string, error) {
	start := strings.IndexByte(raw, '{')
	if start < 0 {
		return "", fmt.Errorf("no JSON object in model output")
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(raw); i++ {
		c := raw[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return raw[start : i+1], nil
			}
		}
	}
	return "", fmt.Errorf("unterminated JSON object in model output")
}
