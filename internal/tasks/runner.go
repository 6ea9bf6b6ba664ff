package tasks

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

// Runner drives one scheduler tick: advance everything active, then start
// whatever the free resources and gates allow.
type Runner struct {
	store    *Store
	registry *Registry
	log      zerolog.Logger

	// OnTransition, when set, is called after a task is persisted in a new
	// status. Used to fan task updates out to websocket subscribers.
	OnTransition func(Task)
}

// NewRunner creates a runner over a store and a registry.
func NewRunner(store *Store, registry *Registry, log zerolog.Logger) *Runner {
	return &Runner{
		store:    store,
		registry: registry,
		log:      log.With().Str("component", "runner").Logger(),
	}
}

// Tick runs one scheduling pass. A single task's failure never aborts the
// tick; the returned error covers store-level failures only.
func (r *Runner) Tick(ctx context.Context) error {
	active, err := r.store.GetActiveTasks()
	if err != nil {
		return fmt.Errorf("failed to load active tasks: %w", err)
	}

	remaining, err := r.updateAll(ctx, active)
	if err != nil {
		return err
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	held := make(map[string]bool)
	for _, t := range remaining {
		for _, tag := range t.ResourcesTaken {
			held[tag] = true
		}
	}

	// Starts are sequential so resources acquired by an earlier candidate
	// block later ones within the same tick.
	for _, def := range r.registry.All() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if overlaps(held, def.LockResources()) {
			continue
		}

		ok, err := def.ShouldStart(ctx, remaining)
		if err != nil {
			r.log.Warn().Err(err).
				Str("definition", def.Name()).
				Msg("Gate check failed")
			continue
		}
		if !ok {
			continue
		}

		task, reason, err := def.Start(ctx, remaining, false)
		if err != nil {
			r.log.Warn().Err(err).
				Str("definition", def.Name()).
				Msg("Start failed")
			continue
		}
		if task == nil {
			r.log.Debug().
				Str("definition", def.Name()).
				Str("reason", reason).
				Msg("Start declined")
			continue
		}

		if err := r.store.AddTask(*task); err != nil {
			return fmt.Errorf("failed to persist new task: %w", err)
		}
		for _, tag := range task.ResourcesTaken {
			held[tag] = true
		}
		r.notify(*task)

		r.log.Info().
			Str("definition", def.Name()).
			Str("task", task.ID).
			Msg("Task started")

		// First update runs on the same tick so the transaction goes
		// out without waiting a full interval.
		updated := r.updateOne(ctx, def, *task)
		if err := r.persist(updated); err != nil {
			return err
		}
		if updated.Status.Active() {
			remaining = append(remaining, updated)
		}
	}

	return nil
}

// ForceStart starts a definition by name regardless of its gate, as long
// as its resources are free. Used by the HTTP surface.
func (r *Runner) ForceStart(ctx context.Context, name string) (*Task, error) {
	def := r.registry.Get(name)
	if def == nil {
		return nil, fmt.Errorf("unknown definition %q", name)
	}

	active, err := r.store.GetActiveTasks()
	if err != nil {
		return nil, fmt.Errorf("failed to load active tasks: %w", err)
	}

	held := make(map[string]bool)
	for _, t := range active {
		for _, tag := range t.ResourcesTaken {
			held[tag] = true
		}
	}
	if overlaps(held, def.LockResources()) {
		return nil, fmt.Errorf("resources for %q are held by an active task", name)
	}

	task, reason, err := def.Start(ctx, active, true)
	if err != nil {
		return nil, fmt.Errorf("failed to start %q: %w", name, err)
	}
	if task == nil {
		return nil, fmt.Errorf("%q declined to start: %s", name, reason)
	}

	if err := r.store.AddTask(*task); err != nil {
		return nil, fmt.Errorf("failed to persist new task: %w", err)
	}
	r.notify(*task)

	return task, nil
}

// updateAll advances all active tasks in parallel and persists the
// results, returning those still active afterwards. A store-write
// failure ends the tick; the next tick retries from the stored state.
func (r *Runner) updateAll(ctx context.Context, active []Task) ([]Task, error) {
	updated := make([]Task, len(active))

	var wg sync.WaitGroup
	for i, t := range active {
		wg.Add(1)
		go func(i int, t Task) {
			defer wg.Done()
			def := r.registry.Get(t.DefinitionName)
			if def == nil {
				updated[i] = t.Finished(StatusError,
					fmt.Sprintf("Unknown definition %q", t.DefinitionName))
				return
			}
			updated[i] = r.updateOne(ctx, def, t)
		}(i, t)
	}
	wg.Wait()

	var remaining []Task
	for i := range updated {
		if err := r.persist(updated[i]); err != nil {
			return nil, err
		}
		if updated[i].Status.Active() {
			remaining = append(remaining, updated[i])
		}
	}
	return remaining, nil
}

// updateOne advances one task. A cancelled tick leaves the task in its
// prior status; any other failure is terminal.
func (r *Runner) updateOne(ctx context.Context, def Definition, t Task) Task {
	next, err := def.Update(ctx, t)
	if err != nil {
		if ctx.Err() != nil {
			return t
		}
		r.log.Warn().Err(err).
			Str("task", t.ID).
			Str("definition", t.DefinitionName).
			Msg("Task update failed")
		return t.Finished(StatusError, err.Error())
	}
	return next
}

func (r *Runner) persist(t Task) error {
	if err := r.store.UpdateTask(t); err != nil {
		return fmt.Errorf("failed to persist task %s: %w", t.ID, err)
	}
	r.notify(t)
	return nil
}

func (r *Runner) notify(t Task) {
	if r.OnTransition != nil {
		r.OnTransition(t)
	}
}

func overlaps(held map[string]bool, tags []string) bool {
	for _, tag := range tags {
		if held[tag] {
			return true
		}
	}
	return false
}
