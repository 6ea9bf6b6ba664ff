package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// actionTickDeadline bounds one action tick. An overrunning tick is
// cancelled rather than allowed to pile up behind the next one.
const actionTickDeadline = 30 * time.Second

// StatsJob runs the collection pass. Overlapping runs are skipped, not
// queued.
type StatsJob struct {
	collect func(ctx context.Context)
	log     zerolog.Logger
	running atomic.Bool
}

// NewStatsJob wraps a collection function as a scheduler job.
func NewStatsJob(collect func(ctx context.Context), log zerolog.Logger) *StatsJob {
	return &StatsJob{
		collect: collect,
		log:     log.With().Str("job", "stats").Logger(),
	}
}

func (j *StatsJob) Name() string { return "stats" }

func (j *StatsJob) Run() error {
	if !j.running.CompareAndSwap(false, true) {
		j.log.Warn().Msg("Previous stats run still in progress, skipping")
		return nil
	}
	defer j.running.Store(false)

	j.collect(context.Background())
	return nil
}

// ActionJob runs one runner tick under a deadline, with a single-shot
// guard against overlapping ticks.
type ActionJob struct {
	tick    func(ctx context.Context) error
	log     zerolog.Logger
	running atomic.Bool
}

// NewActionJob wraps the runner's tick as a scheduler job.
func NewActionJob(tick func(ctx context.Context) error, log zerolog.Logger) *ActionJob {
	return &ActionJob{
		tick: tick,
		log:  log.With().Str("job", "actions").Logger(),
	}
}

func (j *ActionJob) Name() string { return "actions" }

func (j *ActionJob) Run() error {
	if !j.running.CompareAndSwap(false, true) {
		j.log.Warn().Msg("Previous action tick still in progress, skipping")
		return nil
	}
	defer j.running.Store(false)

	ctx, cancel := context.WithTimeout(context.Background(), actionTickDeadline)
	defer cancel()

	if err := j.tick(ctx); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			j.log.Warn().Msg("Action tick cancelled before completion")
			return nil
		}
		return err
	}
	return nil
}
