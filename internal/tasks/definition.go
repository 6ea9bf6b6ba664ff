package tasks

import (
	"context"
	"fmt"
)

// Definition is one registered action: a gate, a starter and a stepper,
// instantiated once per chain where its preconditions hold.
type Definition interface {
	// Name is the stable identifier, unique per instance.
	Name() string

	// LockResources returns the static set of resource tags this action
	// consumes. Pure.
	LockResources() []string

	// ShouldStart is the cheap gate. May read chain state, must be
	// side-effect free.
	ShouldStart(ctx context.Context, active []Task) (bool, error)

	// Start snapshots current state into a new pre-start task when force
	// or the gate holds. Returns a nil task and a reason when it
	// declines. Must not submit transactions.
	Start(ctx context.Context, active []Task, force bool) (*Task, string, error)

	// Update advances the task one step: the first call submits the
	// on-chain transaction, later calls poll the receipt.
	Update(ctx context.Context, t Task) (Task, error)

	// Stop is best-effort teardown; may be a no-op.
	Stop(ctx context.Context, t Task) (Task, error)
}

// Registry holds definitions in registration order. Start candidates are
// considered in this order, so registration order is a scheduling policy.
type Registry struct {
	defs   []Definition
	byName map[string]Definition
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]Definition)}
}

// Register appends a definition. Duplicate names are an error.
func (r *Registry) Register(d Definition) error {
	if _, exists := r.byName[d.Name()]; exists {
		return fmt.Errorf("duplicate definition name %q", d.Name())
	}
	r.defs = append(r.defs, d)
	r.byName[d.Name()] = d
	return nil
}

// Get returns the definition by name, or nil.
func (r *Registry) Get(name string) Definition {
	return r.byName[name]
}

// All returns definitions in registration order.
func (r *Registry) All() []Definition {
	return r.defs
}
