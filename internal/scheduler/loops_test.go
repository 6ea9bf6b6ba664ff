package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatsJobSkipsOverlappingRuns(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})

	var calls int
	var mu sync.Mutex
	job := NewStatsJob(func(ctx context.Context) {
		mu.Lock()
		calls++
		mu.Unlock()
		close(started)
		<-release
	}, zerolog.Nop())

	go job.Run()
	<-started

	// Second fire while the first is still collecting.
	require.NoError(t, job.Run())
	close(release)

	time.Sleep(10 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, calls)
}

func TestActionJobPropagatesTickError(t *testing.T) {
	sentinel := errors.New("store broken")
	job := NewActionJob(func(ctx context.Context) error {
		return sentinel
	}, zerolog.Nop())

	assert.ErrorIs(t, job.Run(), sentinel)
}

func TestActionJobCancellationIsNotAnError(t *testing.T) {
	// Simulate a tick aborted by its deadline.
	job := NewActionJob(func(ctx context.Context) error {
		return context.DeadlineExceeded
	}, zerolog.Nop())

	assert.NoError(t, job.Run())
}

func TestActionJobReceivesDeadline(t *testing.T) {
	job := NewActionJob(func(ctx context.Context) error {
		deadline, ok := ctx.Deadline()
		require.True(t, ok)
		assert.WithinDuration(t, time.Now().Add(actionTickDeadline), deadline, time.Second)
		return nil
	}, zerolog.Nop())

	require.NoError(t, job.Run())
}
