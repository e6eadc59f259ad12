package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/magicformula/pkg/logger"
)

func TestEvery(t *testing.T) {
	assert.Equal(t, "@every 5m0s", Every(5*time.Minute))
}

func TestAddRemoveJob(t *testing.T) {
	s := New(logger.Nop())
	defer s.Stop()

	job := FuncJob{JobName: "token-refresh", Spec: Every(time.Minute), Fn: func(ctx context.Context) error { return nil }}

	require.NoError(t, s.AddJob(job))
	assert.True(t, s.HasJob("token-refresh"))
	assert.Error(t, s.AddJob(job), "duplicate job names are rejected")

	require.NoError(t, s.RemoveJob("token-refresh"))
	assert.False(t, s.HasJob("token-refresh"))
	assert.Error(t, s.RemoveJob("token-refresh"))

	// re-adding after removal is allowed
	require.NoError(t, s.AddJob(job))
}

func TestAddJobInvalidSchedule(t *testing.T) {
	s := New(logger.Nop())
	defer s.Stop()

	err := s.AddJob(FuncJob{JobName: "bad", Spec: "not a schedule", Fn: func(ctx context.Context) error { return nil }})
	assert.Error(t, err)
	assert.False(t, s.HasJob("bad"))
}

func TestRunJobRecordsHistory(t *testing.T) {
	s := New(logger.Nop())
	defer s.Stop()

	fail := errors.New("refresh rejected")
	calls := 0
	require.NoError(t, s.AddJob(FuncJob{
		JobName: "flaky",
		Spec:    Every(time.Hour),
		Fn: func(ctx context.Context) error {
			calls++
			if calls == 2 {
				return fail
			}
			return nil
		},
	}))

	require.NoError(t, s.RunJob(context.Background(), "flaky"))
	assert.ErrorIs(t, s.RunJob(context.Background(), "flaky"), fail)
	assert.ErrorIs(t, s.RunJob(context.Background(), "missing"), ErrJobNotFound)

	stats, ok := s.Stats("flaky")
	require.True(t, ok)
	assert.True(t, stats.Active)
	assert.Equal(t, 2, stats.TotalRuns)
	assert.Equal(t, 0.5, stats.SuccessRate)
	assert.Equal(t, "refresh rejected", stats.LastError)
	require.NotNil(t, stats.LastRun)

	require.NoError(t, s.RemoveJob("flaky"))
	stats, ok = s.Stats("flaky")
	require.True(t, ok, "history survives removal")
	assert.False(t, stats.Active)
}

func TestScheduledExecution(t *testing.T) {
	if testing.Short() {
		t.Skip("waits for the cron tick")
	}

	s := New(logger.Nop())
	ran := make(chan struct{}, 1)
	require.NoError(t, s.AddJob(FuncJob{
		JobName: "tick",
		Spec:    Every(time.Second),
		Fn: func(ctx context.Context) error {
			select {
			case ran <- struct{}{}:
			default:
			}
			return nil
		},
	}))
	s.Start()
	defer s.Stop()

	select {
	case <-ran:
	case <-time.After(3 * time.Second):
		t.Fatal("job did not run on schedule")
	}
}

func TestRunJobHonoursCallerContext(t *testing.T) {
	s := New(logger.Nop())
	require.NoError(t, s.AddJob(FuncJob{
		JobName: "blocking",
		Spec:    Every(time.Hour),
		Fn: func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		},
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	assert.ErrorIs(t, s.RunJob(ctx, "blocking"), context.DeadlineExceeded)

	stats, ok := s.Stats("blocking")
	require.True(t, ok)
	assert.Equal(t, 1, stats.TotalRuns)
	assert.Contains(t, stats.LastError, "deadline")
}

func TestStopCancelsRunningJob(t *testing.T) {
	s := New(logger.Nop())
	started := make(chan struct{})
	done := make(chan error, 1)

	require.NoError(t, s.AddJob(FuncJob{
		JobName: "blocking",
		Spec:    Every(time.Hour),
		Fn: func(ctx context.Context) error {
			close(started)
			<-ctx.Done()
			return ctx.Err()
		},
	}))

	go func() { done <- s.RunJob(context.Background(), "blocking") }()
	<-started
	s.Stop()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("job was not cancelled by Stop")
	}
}
