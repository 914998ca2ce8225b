package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"amm-swap/pkg/logging"
	"amm-swap/pkg/metrics"
)

func newScheduler(t *testing.T) (*Scheduler, *metrics.Metrics) {
	t.Helper()
	m := metrics.Noop()
	s := New(m, logging.Discard())
	t.Cleanup(s.StopAll)
	return s, m
}

func TestScheduler_RunsImmediatelyAndPeriodically(t *testing.T) {
	s, m := newScheduler(t)
	var runs atomic.Int32

	require.NoError(t, s.Start(PoolKey("eth", "usdc"), "pool", 20*time.Millisecond, func(context.Context) error {
		runs.Add(1)
		return nil
	}))

	assert.Eventually(t, func() bool { return runs.Load() >= 1 }, time.Second, time.Millisecond)
	assert.Eventually(t, func() bool { return runs.Load() >= 3 }, time.Second, time.Millisecond)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ActiveTasks))
	assert.GreaterOrEqual(t, testutil.ToFloat64(m.TaskRunsTotal.WithLabelValues("pool")), 3.0)
}

func TestScheduler_DuplicateKeyRejected(t *testing.T) {
	s, _ := newScheduler(t)
	noop := func(context.Context) error { return nil }

	require.NoError(t, s.Start("pool:A/B", "pool", time.Hour, noop))
	err := s.Start("pool:A/B", "pool", time.Hour, noop)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already running")
}

func TestScheduler_StopCancelsInFlightRun(t *testing.T) {
	s, m := newScheduler(t)
	started := make(chan struct{})
	var cancelled atomic.Bool

	require.NoError(t, s.Start("pool:A/B", "pool", time.Hour, func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		cancelled.Store(true)
		return ctx.Err()
	}))
	<-started

	require.NoError(t, s.Stop("pool:A/B"))
	assert.True(t, cancelled.Load(), "Stop returns only after the goroutine exits")
	assert.False(t, s.IsRunning("pool:A/B"))
	assert.Zero(t, testutil.ToFloat64(m.ActiveTasks))

	assert.Error(t, s.Stop("pool:A/B"))
}

func TestScheduler_NoRunsAfterStop(t *testing.T) {
	s, _ := newScheduler(t)
	var runs atomic.Int32

	require.NoError(t, s.Start("k", "pool", 5*time.Millisecond, func(context.Context) error {
		runs.Add(1)
		return nil
	}))
	require.Eventually(t, func() bool { return runs.Load() >= 2 }, time.Second, time.Millisecond)
	require.NoError(t, s.Stop("k"))

	after := runs.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, after, runs.Load())
}

func TestScheduler_Trigger(t *testing.T) {
	s, _ := newScheduler(t)
	var runs atomic.Int32

	require.NoError(t, s.Start(AccountKey("0xABC"), "account", time.Hour, func(context.Context) error {
		runs.Add(1)
		return nil
	}))
	require.Eventually(t, func() bool { return runs.Load() == 1 }, time.Second, time.Millisecond)

	assert.True(t, s.Trigger("account:0xabc"))
	assert.Eventually(t, func() bool { return runs.Load() == 2 }, time.Second, time.Millisecond)
	assert.False(t, s.Trigger("account:0xdef"))
}

func TestScheduler_TriggerKind(t *testing.T) {
	s, _ := newScheduler(t)
	var pools, accounts atomic.Int32
	countPool := func(context.Context) error { pools.Add(1); return nil }

	require.NoError(t, s.Start(PoolKey("a", "b"), "pool", time.Hour, countPool))
	require.NoError(t, s.Start(PoolKey("c", "d"), "pool", time.Hour, countPool))
	require.NoError(t, s.Start(AccountKey("0x1"), "account", time.Hour, func(context.Context) error {
		accounts.Add(1)
		return nil
	}))
	require.Eventually(t, func() bool { return pools.Load() == 2 && accounts.Load() == 1 }, time.Second, time.Millisecond)

	assert.Equal(t, 2, s.TriggerKind("pool"))
	assert.Eventually(t, func() bool { return pools.Load() == 4 }, time.Second, time.Millisecond)
	assert.Equal(t, int32(1), accounts.Load())
	assert.Equal(t, []string{"account:0x1", "pool:A/B", "pool:C/D"}, s.Keys())
}

func TestScheduler_FailingTaskKeepsRunning(t *testing.T) {
	s, _ := newScheduler(t)
	var runs atomic.Int32

	require.NoError(t, s.Start("k", "price", 5*time.Millisecond, func(context.Context) error {
		runs.Add(1)
		return errors.New("rate limited")
	}))
	assert.Eventually(t, func() bool { return runs.Load() >= 3 }, time.Second, time.Millisecond)
	assert.True(t, s.IsRunning("k"))
}
