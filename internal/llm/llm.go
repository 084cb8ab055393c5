// Package llm plans and phrases exchanges with the language model. The
// model speaks a small JSON envelope: either a direct answer or a list of
// tool steps to execute before answering.
package llm

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/fyrsmithlabs/voiced/internal/conversation"
)

// ErrModelUnavailable reports that the model endpoint could not be reached
// or kept returning unusable output.
var ErrModelUnavailable = errors.New("llm: model unavailable")

// CapabilitySummary is the planner's view of one discovered operation.
type CapabilitySummary struct {
	ProviderID  string `json:"provider"`
	Operation   string `json:"operation"`
	Description string `json:"description"`
}

// Step is one planned tool invocation.
type Step struct {
	// Hint names the operation to run, as the model wrote it.
	Hint string

	// Arguments is the JSON object passed to the operation.
	Arguments json.RawMessage

	// DependsOnPrevious forces this step to wait for the one before it.
	DependsOnPrevious bool
}

// PlanRequest carries everything the model needs to decide on an exchange.
type PlanRequest struct {
	Utterance    string
	History      []conversation.Turn
	Capabilities []CapabilitySummary
}

// PlanResult is the model's decision: a direct answer, or steps to run.
type PlanResult struct {
	Answer string
	Steps  []Step
}

// StepOutcome reports one executed step back to the model for phrasing.
type StepOutcome struct {
	Hint   string
	Status string
	Output string
}

// Planner decides what an utterance needs and phrases the final response.
type Planner interface {
	// Plan asks the model whether the utterance can be answered directly
	// or needs tool invocations.
	Plan(ctx context.Context, req PlanRequest) (*PlanResult, error)

	// Respond phrases a final response from the utterance and the
	// outcomes of any tool steps, including failed ones.
	Respond(ctx context.Context, req PlanRequest, outcomes []StepOutcome) (string, error)
}
