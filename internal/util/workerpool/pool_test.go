package workerpool

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestPool_RunsJobs(t *testing.T) {
	p := New(Config{Name: "test", Workers: 2, QueueSize: 8, Logger: zap.NewNop()})

	var ran int32
	for i := 0; i < 5; i++ {
		require.NoError(t, p.Submit(context.Background(), Job{
			Name: "inc",
			Run: func(ctx context.Context) error {
				atomic.AddInt32(&ran, 1)
				return nil
			},
		}))
	}
	require.NoError(t, p.Stop(time.Second))

	assert.Equal(t, int32(5), atomic.LoadInt32(&ran))
	stats := p.Stats()
	assert.Equal(t, uint64(5), stats.Accepted)
	assert.Equal(t, uint64(5), stats.Completed)
	assert.Equal(t, 100.0, stats.SuccessRate())
}

func TestPool_StopDrainsQueuedJobs(t *testing.T) {
	p := New(Config{Name: "drain", Workers: 1, QueueSize: 4})

	release := make(chan struct{})
	var finished int32
	for i := 0; i < 3; i++ {
		require.True(t, p.TrySubmit(Job{Name: "slow", Run: func(ctx context.Context) error {
			<-release
			atomic.AddInt32(&finished, 1)
			return nil
		}}))
	}

	go func() {
		time.Sleep(20 * time.Millisecond)
		close(release)
	}()
	require.NoError(t, p.Stop(time.Second))
	assert.Equal(t, int32(3), atomic.LoadInt32(&finished))
}

func TestPool_RejectsAfterStop(t *testing.T) {
	p := New(Config{Name: "stopped", Workers: 1})
	require.NoError(t, p.Stop(time.Second))

	err := p.Submit(context.Background(), Job{Name: "late", Run: func(context.Context) error { return nil }})
	assert.Error(t, err)
	assert.False(t, p.TrySubmit(Job{Name: "late", Run: func(context.Context) error { return nil }}))
	assert.Equal(t, uint64(2), p.Stats().Rejected)

	// second stop is a no-op
	assert.NoError(t, p.Stop(time.Second))
}

func TestPool_RecoversPanicsAndCountsFailures(t *testing.T) {
	var panicked string
	p := New(Config{
		Name:    "panics",
		Workers: 1,
		OnPanic: func(job string, _ interface{}) { panicked = job },
	})

	require.True(t, p.TrySubmit(Job{Name: "boom", Run: func(context.Context) error { panic("boom") }}))
	require.True(t, p.TrySubmit(Job{Name: "err", Run: func(context.Context) error { return errors.New("failed") }}))
	require.True(t, p.TrySubmit(Job{Name: "ok", Run: func(context.Context) error { return nil }}))
	require.NoError(t, p.Stop(time.Second))

	stats := p.Stats()
	assert.Equal(t, uint64(2), stats.Failed)
	assert.Equal(t, uint64(1), stats.Completed)
	assert.Equal(t, "boom", panicked)
}

func TestPool_StopTimeoutCancelsJobContext(t *testing.T) {
	p := New(Config{Name: "timeout", Workers: 1})

	cancelled := make(chan struct{})
	require.True(t, p.TrySubmit(Job{Name: "stuck", Run: func(ctx context.Context) error {
		<-ctx.Done()
		close(cancelled)
		return ctx.Err()
	}}))

	err := p.Stop(10 * time.Millisecond)
	assert.Error(t, err)

	select {
	case <-cancelled:
	case <-time.After(time.Second):
		t.Fatal("job context was not cancelled")
	}
}
