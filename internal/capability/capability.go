// Package capability discovers tool operations from configured providers
// and dispatches invocations against them.
package capability

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNoProviders reports that discovery found no reachable provider.
	ErrNoProviders = errors.New("capability: no reachable providers")

	// ErrUnknownProvider reports a refresh against an unconfigured provider.
	ErrUnknownProvider = errors.New("capability: unknown provider")

	// ErrNotFound reports that no discovered operation matches a hint.
	ErrNotFound = errors.New("capability: no matching operation")
)

// Capability is one operation a provider exposes.
type Capability struct {
	ProviderID  string
	Operation   string
	Description string
	InputSchema json.RawMessage
}

// ProviderStatus tracks reachability of a configured provider.
type ProviderStatus int

const (
	StatusUnknown ProviderStatus = iota
	StatusReachable
	StatusUnreachable
)

func (s ProviderStatus) String() string {
	switch s {
	case StatusReachable:
		return "reachable"
	case StatusUnreachable:
		return "unreachable"
	default:
		return "unknown"
	}
}

// ProviderInfo is a read-only snapshot of a provider's state.
type ProviderInfo struct {
	ID           string
	Status       ProviderStatus
	Capabilities int
	LastSuccess  time.Time
	LastError    string
}

// InvocationStatus is the lifecycle state of one tool invocation.
type InvocationStatus int

const (
	InvocationPending InvocationStatus = iota
	InvocationSucceeded
	InvocationFailed
	InvocationTimedOut
)

func (s InvocationStatus) String() string {
	switch s {
	case InvocationSucceeded:
		return "succeeded"
	case InvocationFailed:
		return "failed"
	case InvocationTimedOut:
		return "timed_out"
	default:
		return "pending"
	}
}

// Invocation is the record of one tool call, success or failure.
type Invocation struct {
	ID         string
	ProviderID string
	Operation  string
	Arguments  json.RawMessage
	Status     InvocationStatus
	Output     string
	Err        string
	Started    time.Time
	Finished   time.Time
}

func newInvocation(c Capability, args json.RawMessage) *Invocation {
	return &Invocation{
		ID:         uuid.NewString(),
		ProviderID: c.ProviderID,
		Operation:  c.Operation,
		Arguments:  args,
		Status:     InvocationPending,
		Started:    time.Now(),
	}
}
