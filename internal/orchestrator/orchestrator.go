// Package orchestrator runs one exchange end to end: plan, dispatch tool
// steps, and phrase the final response.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/voiced/internal/capability"
	"github.com/fyrsmithlabs/voiced/internal/conversation"
	"github.com/fyrsmithlabs/voiced/internal/llm"
	"github.com/fyrsmithlabs/voiced/internal/metrics"
)

// modelUnavailableReply is spoken when the model cannot be reached at all.
const modelUnavailableReply = "Sorry, I can't reach my language model right now. Please try again in a moment."

// ToolRegistry is the orchestrator's view of discovered capabilities. Find
// returns matches best first; the orchestrator dispatches the top one.
type ToolRegistry interface {
	Capabilities() []capability.Capability
	Find(hint string) ([]capability.Capability, error)
	Invoke(ctx context.Context, c capability.Capability, args json.RawMessage) *capability.Invocation
}

// Orchestrator owns the conversation history. It must be driven from a
// single goroutine; the session controller serializes exchanges.
type Orchestrator struct {
	planner llm.Planner
	tools   ToolRegistry
	history *conversation.History
	logger  *zap.Logger
}

// New creates an orchestrator around a planner and tool registry.
func New(planner llm.Planner, tools ToolRegistry, history *conversation.History, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{planner: planner, tools: tools, history: history, logger: logger}
}

// History exposes the owned history for policy updates between exchanges.
func (o *Orchestrator) History() *conversation.History {
	return o.history
}

// HandleUtterance runs a full exchange for one user utterance and returns
// the response text. Model unavailability yields a canned apology rather
// than an error so the session can still respond; a cancelled context
// propagates so a stopped exchange is discarded, not apologized for.
func (o *Orchestrator) HandleUtterance(ctx context.Context, utterance string) (string, error) {
	start := time.Now()
	timer := prometheus.NewTimer(metrics.ExchangeDuration)
	defer timer.ObserveDuration()

	req := llm.PlanRequest{
		Utterance:    utterance,
		History:      o.history.Snapshot(),
		Capabilities: o.capabilitySummaries(),
	}

	plan, err := o.planner.Plan(ctx, req)
	if err != nil {
		if ctx.Err() != nil {
			metrics.Exchanges.WithLabelValues("cancelled").Inc()
			return "", ctx.Err()
		}
		if errors.Is(err, llm.ErrModelUnavailable) {
			o.logger.Error("model unavailable during planning", zap.Error(err))
			metrics.Exchanges.WithLabelValues("model_unavailable").Inc()
			return modelUnavailableReply, nil
		}
		metrics.Exchanges.WithLabelValues("error").Inc()
		return "", err
	}

	var response string
	switch {
	case len(plan.Steps) == 0:
		response = plan.Answer
	default:
		outcomes := o.runSteps(ctx, plan.Steps)
		response, err = o.planner.Respond(ctx, req, outcomes)
		if err != nil {
			if ctx.Err() != nil {
				metrics.Exchanges.WithLabelValues("cancelled").Inc()
				return "", ctx.Err()
			}
			if errors.Is(err, llm.ErrModelUnavailable) {
				o.logger.Error("model unavailable during phrasing", zap.Error(err))
				metrics.Exchanges.WithLabelValues("model_unavailable").Inc()
				return modelUnavailableReply, nil
			}
			metrics.Exchanges.WithLabelValues("error").Inc()
			return "", err
		}
	}

	o.history.Append(conversation.RoleUser, utterance)
	o.history.Append(conversation.RoleAssistant, response)
	o.history.CompleteExchange()

	o.logger.Info("exchange complete",
		zap.Int("steps", len(plan.Steps)),
		zap.Duration("elapsed", time.Since(start)))
	metrics.Exchanges.WithLabelValues("answered").Inc()
	return response, nil
}

// runSteps resolves and executes planned steps. Consecutive independent
// steps run concurrently; a step marked dependent waits for everything
// before it. Every step produces an outcome, including unresolvable hints
// and failed invocations, so the model can phrase around them.
func (o *Orchestrator) runSteps(ctx context.Context, steps []llm.Step) []llm.StepOutcome {
	resolved := make([]capability.Capability, len(steps))
	resolvable := make([]bool, len(steps))
	anyResolvable := false
	for i, step := range steps {
		matches, err := o.tools.Find(step.Hint)
		if err != nil {
			o.logger.Warn("unresolvable step hint", zap.String("hint", step.Hint))
			continue
		}
		resolved[i] = matches[0]
		resolvable[i] = true
		anyResolvable = true
	}

	outcomes := make([]llm.StepOutcome, len(steps))
	for i, step := range steps {
		outcomes[i] = llm.StepOutcome{
			Hint:   step.Hint,
			Status: "failed",
			Output: "no matching operation",
		}
	}

	// Nothing resolvable: respond without dispatching anything.
	if !anyResolvable {
		return outcomes
	}

	var wg sync.WaitGroup
	flush := func() { wg.Wait() }

	for i, step := range steps {
		if step.DependsOnPrevious {
			flush()
		}
		if !resolvable[i] {
			continue
		}
		wg.Add(1)
		go func(i int, c capability.Capability, args json.RawMessage) {
			defer wg.Done()
			inv := o.tools.Invoke(ctx, c, args)
			out := llm.StepOutcome{Hint: steps[i].Hint, Status: inv.Status.String()}
			if inv.Status == capability.InvocationSucceeded {
				out.Output = inv.Output
			} else {
				out.Output = inv.Err
			}
			outcomes[i] = out
		}(i, resolved[i], step.Arguments)
	}
	flush()
	return outcomes
}

func (o *Orchestrator) capabilitySummaries() []llm.CapabilitySummary {
	caps := o.tools.Capabilities()
	out := make([]llm.CapabilitySummary, 0, len(caps))
	for _, c := range caps {
		out = append(out, llm.CapabilitySummary{
			ProviderID:  c.ProviderID,
			Operation:   c.Operation,
			Description: c.Description,
		})
	}
	return out
}
