package workerpool

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkerPool_RunsTasks(t *testing.T) {
	pool := NewWorkerPool(&Config{Name: "test", MaxWorkers: 2, QueueSize: 8})
	defer pool.Stop(time.Second)

	var ran atomic.Int32
	done := make(chan struct{}, 3)
	for i := 0; i < 3; i++ {
		require.NoError(t, pool.Submit(Task{
			ID: "ok",
			Fn: func(context.Context) error {
				ran.Add(1)
				done <- struct{}{}
				return nil
			},
		}))
	}
	for i := 0; i < 3; i++ {
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Fatal("task did not run")
		}
	}
	assert.Equal(t, int32(3), ran.Load())
}

func TestWorkerPool_FailuresAndPanics(t *testing.T) {
	pool := NewWorkerPool(&Config{Name: "test", MaxWorkers: 1, QueueSize: 4})

	require.NoError(t, pool.Submit(Task{ID: "fail", Fn: func(context.Context) error { return errors.New("boom") }}))
	require.NoError(t, pool.Submit(Task{ID: "panic", Fn: func(context.Context) error { panic("boom") }}))

	assert.Eventually(t, func() bool {
		return pool.Stats().FailedTasks == 2
	}, 5*time.Second, 5*time.Millisecond)

	require.NoError(t, pool.Stop(time.Second))
	assert.Error(t, pool.Submit(Task{ID: "late", Fn: func(context.Context) error { return nil }}))
	assert.Equal(t, uint64(1), pool.Stats().RejectedTasks)
}

func TestWorkerPool_QueueFull(t *testing.T) {
	pool := NewWorkerPool(&Config{Name: "test", MaxWorkers: 1, QueueSize: 1})
	defer pool.Stop(time.Second)

	release := make(chan struct{})
	started := make(chan struct{})
	block := Task{ID: "block", Fn: func(context.Context) error {
		close(started)
		<-release
		return nil
	}}
	require.NoError(t, pool.Submit(block))
	<-started

	require.True(t, pool.TrySubmit(Task{ID: "queued", Fn: func(context.Context) error { return nil }}))
	assert.False(t, pool.TrySubmit(Task{ID: "rejected", Fn: func(context.Context) error { return nil }}))
	close(release)
}

func TestWorkerPool_StopCancelsRunningTask(t *testing.T) {
	pool := NewWorkerPool(&Config{Name: "test", MaxWorkers: 1, QueueSize: 1})

	started := make(chan struct{})
	var cancelled atomic.Bool
	require.NoError(t, pool.Submit(Task{ID: "wait", Fn: func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		cancelled.Store(true)
		return ctx.Err()
	}}))
	<-started

	require.NoError(t, pool.Stop(5*time.Second))
	assert.True(t, cancelled.Load())
}

func TestWorkerPool_SkipsCancelledTask(t *testing.T) {
	pool := NewWorkerPool(&Config{Name: "test", MaxWorkers: 1, QueueSize: 2})
	defer pool.Stop(time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var ran atomic.Bool
	require.NoError(t, pool.Submit(Task{ID: "cancelled", Context: ctx, Fn: func(context.Context) error {
		ran.Store(true)
		return nil
	}}))

	assert.Eventually(t, func() bool {
		return pool.Stats().FailedTasks == 1
	}, 5*time.Second, 5*time.Millisecond)
	assert.False(t, ran.Load())
}

func TestCollector_ExportsStats(t *testing.T) {
	pool := NewWorkerPool(&Config{Name: "gmu-tasks", MaxWorkers: 1, QueueSize: 2})
	defer pool.Stop(time.Second)

	require.NoError(t, pool.Submit(Task{ID: "ok", Fn: func(context.Context) error { return nil }}))
	require.NoError(t, pool.Submit(Task{ID: "fail", Fn: func(context.Context) error { return errors.New("boom") }}))
	assert.Eventually(t, func() bool {
		s := pool.Stats()
		return s.CompletedTasks == 1 && s.FailedTasks == 1
	}, 5*time.Second, 5*time.Millisecond)

	reg := prometheus.NewRegistry()
	reg.MustRegister(NewCollector("node-a", pool))

	families, err := reg.Gather()
	require.NoError(t, err)

	byOutcome := map[string]float64{}
	for _, mf := range families {
		if mf.GetName() != "pairdb_workerpool_tasks_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			labels := map[string]string{}
			for _, lp := range m.GetLabel() {
				labels[lp.GetName()] = lp.GetValue()
			}
			assert.Equal(t, "gmu-tasks", labels["pool"])
			assert.Equal(t, "node-a", labels["node_id"])
			byOutcome[labels["outcome"]] = m.GetCounter().GetValue()
		}
	}
	assert.Equal(t, map[string]float64{"completed": 1, "failed": 1, "rejected": 0}, byOutcome)
}
