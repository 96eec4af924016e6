package engine

import (
	"context"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTaskRunOnce(t *testing.T) {
	var runs atomic.Int32
	task := NewTask("test", time.Hour, func(ctx context.Context) {
		runs.Add(1)
	}, slog.Default())

	assert.True(t, task.RunOnce(context.Background()))
	assert.True(t, task.RunOnce(context.Background()))
	assert.Equal(t, int32(2), runs.Load())
}

func TestTaskSkipsOverlappingRun(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	task := NewTask("test", time.Hour, func(ctx context.Context) {
		close(started)
		<-release
	}, slog.Default())

	go task.RunOnce(context.Background())
	<-started

	assert.False(t, task.RunOnce(context.Background()), "an in-flight run must not overlap")
	close(release)
}

func TestTaskStartTicksAndStops(t *testing.T) {
	var runs atomic.Int32
	task := NewTask("test", 5*time.Millisecond, func(ctx context.Context) {
		runs.Add(1)
	}, slog.Default())

	task.Start(context.Background())
	require.Eventually(t, func() bool { return runs.Load() >= 2 }, time.Second, time.Millisecond)

	task.Stop()
	after := runs.Load()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, after, runs.Load(), "no ticks after Stop")
}

func TestTaskStopIdempotent(t *testing.T) {
	task := NewTask("test", time.Hour, func(ctx context.Context) {}, slog.Default())
	task.Start(context.Background())
	task.Stop()
	task.Stop()
}

func TestTaskDoubleStartNoop(t *testing.T) {
	var runs atomic.Int32
	task := NewTask("test", 5*time.Millisecond, func(ctx context.Context) {
		runs.Add(1)
		time.Sleep(time.Millisecond)
	}, slog.Default())

	ctx := context.Background()
	task.Start(ctx)
	task.Start(ctx)
	defer task.Stop()

	require.Eventually(t, func() bool { return runs.Load() >= 1 }, time.Second, time.Millisecond)
}
