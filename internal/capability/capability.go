// Package capability provides the named external services a pipeline stage
// invokes, behind a single Invoke contract.
package capability

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/cuongbtq/case-pipeline/internal/orchestrator/domain"
)

// ErrUnknownCapability is returned when invoking a name that was never registered.
var ErrUnknownCapability = errors.New("unknown capability")

// Capability is one external service. Implementations must honour ctx
// cancellation where they can.
type Capability interface {
	Invoke(ctx context.Context, input domain.Payload) (domain.Payload, error)
}

// Func adapts a plain function to the Capability interface.
type Func func(ctx context.Context, input domain.Payload) (domain.Payload, error)

// Invoke calls f.
func (f Func) Invoke(ctx context.Context, input domain.Payload) (domain.Payload, error) {
	return f(ctx, input)
}

// StateReporter is implemented by capabilities that expose a circuit state.
type StateReporter interface {
	State() string
}

// Registry maps capability names to their implementations.
type Registry struct {
	mu   sync.RWMutex
	caps map[string]Capability
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{caps: make(map[string]Capability)}
}

// Register adds or replaces a capability.
func (r *Registry) Register(name string, c Capability) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.caps[name] = c
}

// Get returns the capability registered under name.
func (r *Registry) Get(name string) (Capability, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.caps[name]
	return c, ok
}

// Names returns every registered name, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.caps))
	for name := range r.caps {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Invoke calls the named capability. A nil result from a successful call is
// returned as an empty payload.
func (r *Registry) Invoke(ctx context.Context, name string, input domain.Payload) (domain.Payload, error) {
	c, ok := r.Get(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCapability, name)
	}
	out, err := c.Invoke(ctx, input)
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = domain.Payload{}
	}
	return out, nil
}

// States returns the circuit state of every capability that reports one.
func (r *Registry) States() map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	states := make(map[string]string)
	for name, c := range r.caps {
		if sr, ok := c.(StateReporter); ok {
			states[name] = sr.State()
		}
	}
	return states
}
