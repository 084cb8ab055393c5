package capability

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/voiced/internal/config"
	"github.com/fyrsmithlabs/voiced/internal/metrics"
)

// Session is a live connection to one provider.
type Session interface {
	ListTools(ctx context.Context) ([]Capability, error)
	CallTool(ctx context.Context, operation string, args json.RawMessage) (string, error)
	Close() error
}

// Dialer establishes provider sessions. The default implementation speaks
// MCP over stdio or streamable HTTP.
type Dialer interface {
	Dial(ctx context.Context, provider config.ProviderConfig) (Session, error)
}

// handle is the registry's per-provider state.
type handle struct {
	cfg         config.ProviderConfig
	session     Session
	caps        []Capability
	status      ProviderStatus
	lastSuccess time.Time
	lastError   string
}

// Registry holds discovered capabilities and routes invocations. All state
// behind mu; sessions are used concurrently by in-flight invocations.
type Registry struct {
	dialer Dialer
	logger *zap.Logger

	invocationTimeout time.Duration

	mu           sync.RWMutex
	providers    map[string]*handle
	order        []string
	capabilities []Capability
}

// NewRegistry creates an empty registry. Call Discover before Find or Invoke.
func NewRegistry(dialer Dialer, invocationTimeout time.Duration, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	if invocationTimeout <= 0 {
		invocationTimeout = 10 * time.Second
	}
	return &Registry{
		dialer:            dialer,
		logger:            logger,
		invocationTimeout: invocationTimeout,
		providers:         make(map[string]*handle),
	}
}

// Discover connects to every configured provider and enumerates its
// operations. Unreachable providers are recorded and skipped; discovery
// fails only when no provider at all is reachable.
func (r *Registry) Discover(ctx context.Context, providers []config.ProviderConfig) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.order = r.order[:0]
	for _, pc := range providers {
		r.order = append(r.order, pc.ID)
		if h, ok := r.providers[pc.ID]; ok && h.session != nil {
			h.session.Close()
		}
		r.providers[pc.ID] = &handle{cfg: pc, status: StatusUnknown}
	}

	reachable := 0
	for _, id := range r.order {
		if err := r.connectLocked(ctx, r.providers[id]); err != nil {
			r.logger.Warn("provider unreachable",
				zap.String("provider", id), zap.Error(err))
			continue
		}
		reachable++
	}
	r.rebuildLocked()

	if len(r.order) > 0 && reachable == 0 {
		return ErrNoProviders
	}
	return nil
}

// Refresh re-runs discovery for a single provider, replacing its previous
// capability set. Other providers are untouched.
func (r *Registry) Refresh(ctx context.Context, providerID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	h, ok := r.providers[providerID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownProvider, providerID)
	}
	if h.session != nil {
		h.session.Close()
		h.session = nil
	}
	err := r.connectLocked(ctx, h)
	r.rebuildLocked()
	return err
}

// connectLocked dials one provider and loads its capabilities.
func (r *Registry) connectLocked(ctx context.Context, h *handle) error {
	sess, err := r.dialer.Dial(ctx, h.cfg)
	if err != nil {
		h.status = StatusUnreachable
		h.lastError = err.Error()
		return err
	}
	caps, err := sess.ListTools(ctx)
	if err != nil {
		sess.Close()
		h.status = StatusUnreachable
		h.lastError = err.Error()
		return err
	}
	for i := range caps {
		caps[i].ProviderID = h.cfg.ID
	}
	h.session = sess
	h.status = StatusReachable
	h.lastError = ""
	h.caps = caps
	r.logger.Info("provider discovered",
		zap.String("provider", h.cfg.ID), zap.Int("operations", len(caps)))
	metrics.Capabilities.WithLabelValues(h.cfg.ID).Set(float64(len(caps)))
	return nil
}

// rebuildLocked recomputes the merged capability list in provider order.
func (r *Registry) rebuildLocked() {
	merged := make([]Capability, 0, len(r.capabilities))
	for _, id := range r.order {
		h := r.providers[id]
		if h.status == StatusReachable {
			merged = append(merged, h.caps...)
		}
	}
	r.capabilities = merged
}

// Capabilities returns a snapshot of all discovered operations.
func (r *Registry) Capabilities() []Capability {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Capability, len(r.capabilities))
	copy(out, r.capabilities)
	return out
}

// Providers returns a status snapshot for every configured provider.
func (r *Registry) Providers() []ProviderInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ProviderInfo, 0, len(r.order))
	for _, id := range r.order {
		h := r.providers[id]
		out = append(out, ProviderInfo{
			ID:           id,
			Status:       h.status,
			Capabilities: len(h.caps),
			LastSuccess:  h.lastSuccess,
			LastError:    h.lastError,
		})
	}
	return out
}

// Find returns capabilities matching an operation hint, best first. Exact
// operation matches score highest, then substring matches, then description
// keyword matches. Ties break toward the provider with the most recent
// successful invocation, then lexicographic provider ID, so resolution is
// deterministic.
func (r *Registry) Find(hint string) ([]Capability, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	needle := strings.ToLower(strings.TrimSpace(hint))
	if needle == "" {
		return nil, fmt.Errorf("%w: empty hint", ErrNotFound)
	}

	type candidate struct {
		cap   Capability
		score int
	}
	var matched []candidate
	for _, c := range r.capabilities {
		if score := matchCapability(c, needle); score > 0 {
			matched = append(matched, candidate{c, score})
		}
	}
	if len(matched) == 0 {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, hint)
	}

	sort.SliceStable(matched, func(i, j int) bool {
		if matched[i].score != matched[j].score {
			return matched[i].score > matched[j].score
		}
		li := r.providers[matched[i].cap.ProviderID].lastSuccess
		lj := r.providers[matched[j].cap.ProviderID].lastSuccess
		if !li.Equal(lj) {
			return li.After(lj)
		}
		return matched[i].cap.ProviderID < matched[j].cap.ProviderID
	})

	out := make([]Capability, len(matched))
	for i, m := range matched {
		out[i] = m.cap
	}
	return out, nil
}

func matchCapability(c Capability, needle string) int {
	op := strings.ToLower(c.Operation)
	if op == needle {
		return 3
	}
	if strings.Contains(op, needle) || strings.Contains(needle, op) {
		return 2
	}
	desc := strings.ToLower(c.Description)
	for _, word := range strings.Fields(needle) {
		if strings.Contains(desc, word) {
			return 1
		}
	}
	return 0
}

// Invoke runs one operation against its provider with the configured
// timeout. There are no retries: a timeout or transport failure is returned
// as a finished invocation record for the model to phrase around.
func (r *Registry) Invoke(ctx context.Context, c Capability, args json.RawMessage) *Invocation {
	inv := newInvocation(c, args)

	r.mu.RLock()
	h, ok := r.providers[c.ProviderID]
	var sess Session
	if ok {
		sess = h.session
	}
	r.mu.RUnlock()

	if sess == nil {
		inv.Status = InvocationFailed
		inv.Err = fmt.Sprintf("provider %s not connected", c.ProviderID)
		inv.Finished = time.Now()
		metrics.ToolInvocations.WithLabelValues(c.ProviderID, inv.Status.String()).Inc()
		return inv
	}

	callCtx, cancel := context.WithTimeout(ctx, r.invocationTimeout)
	defer cancel()

	output, err := sess.CallTool(callCtx, c.Operation, args)
	inv.Finished = time.Now()
	switch {
	case err == nil:
		inv.Status = InvocationSucceeded
		inv.Output = output
		r.recordSuccess(c.ProviderID, inv.Finished)
	case errors.Is(err, context.DeadlineExceeded):
		inv.Status = InvocationTimedOut
		inv.Err = fmt.Sprintf("timed out after %s", r.invocationTimeout)
	case errors.Is(err, context.Canceled):
		// Caller cancellation abandons the call; the provider stays healthy.
		inv.Status = InvocationFailed
		inv.Err = err.Error()
	default:
		inv.Status = InvocationFailed
		inv.Err = err.Error()
		r.markUnreachable(c.ProviderID, err)
	}

	r.logger.Debug("tool invocation finished",
		zap.String("id", inv.ID),
		zap.String("provider", inv.ProviderID),
		zap.String("operation", inv.Operation),
		zap.String("status", inv.Status.String()),
		zap.Duration("elapsed", inv.Finished.Sub(inv.Started)))
	metrics.ToolInvocations.WithLabelValues(c.ProviderID, inv.Status.String()).Inc()
	return inv
}

func (r *Registry) recordSuccess(providerID string, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if h, ok := r.providers[providerID]; ok {
		h.lastSuccess = at
	}
}

// markUnreachable downgrades a provider after a transport failure so later
// resolution prefers healthy providers. Capabilities stay registered; a
// refresh restores the provider.
func (r *Registry) markUnreachable(providerID string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if h, ok := r.providers[providerID]; ok {
		h.status = StatusUnreachable
		h.lastError = err.Error()
	}
}

// Close shuts down all provider sessions.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var errs []error
	for _, h := range r.providers {
		if h.session != nil {
			if err := h.session.Close(); err != nil {
				errs = append(errs, err)
			}
			h.session = nil
		}
	}
	return errors.Join(errs...)
}
