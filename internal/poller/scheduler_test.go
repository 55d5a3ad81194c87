package poller

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingRunner struct {
	cycles atomic.Int32
	panics bool
}

func (r *countingRunner) RunCycle(ctx context.Context) {
	r.cycles.Add(1)
	if r.panics {
		panic("cycle exploded")
	}
}

func TestScheduler_StartOnce(t *testing.T) {
	runner := &countingRunner{}
	s := NewScheduler(runner, time.Hour, nil)

	require.True(t, s.Start(context.Background()))
	assert.False(t, s.Start(context.Background()))

	// The first cycle runs without waiting for the interval.
	require.Eventually(t, func() bool { return runner.cycles.Load() == 1 }, time.Second, 5*time.Millisecond)
	assert.True(t, s.Running())

	require.NoError(t, s.Stop(context.Background()))
	assert.False(t, s.Running())
	assert.Equal(t, int32(1), runner.cycles.Load())

	// A stopped scheduler stays stopped.
	assert.False(t, s.Start(context.Background()))
}

func TestScheduler_RunsOnInterval(t *testing.T) {
	runner := &countingRunner{}
	s := NewScheduler(runner, 10*time.Millisecond, nil)

	require.True(t, s.Start(context.Background()))
	require.Eventually(t, func() bool { return runner.cycles.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, s.Stop(context.Background()))
}

// timedRunner records when each cycle starts and ends.
type timedRunner struct {
	work time.Duration

	mu     sync.Mutex
	starts []time.Time
	ends   []time.Time
}

func (r *timedRunner) RunCycle(context.Context) {
	r.mu.Lock()
	r.starts = append(r.starts, time.Now())
	r.mu.Unlock()

	time.Sleep(r.work)

	r.mu.Lock()
	r.ends = append(r.ends, time.Now())
	r.mu.Unlock()
}

func (r *timedRunner) Cycles() (starts, ends []time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]time.Time(nil), r.starts...), append([]time.Time(nil), r.ends...)
}

func TestScheduler_WaitsFullIntervalAfterSlowCycle(t *testing.T) {
	const interval = 30 * time.Millisecond
	runner := &timedRunner{work: 2 * interval}
	s := NewScheduler(runner, interval, nil)

	require.True(t, s.Start(context.Background()))
	require.Eventually(t, func() bool {
		starts, _ := runner.Cycles()
		return len(starts) >= 3
	}, 5*time.Second, 5*time.Millisecond)
	require.NoError(t, s.Stop(context.Background()))

	starts, ends := runner.Cycles()
	require.GreaterOrEqual(t, len(ends), 2)
	for i := 1; i < len(ends); i++ {
		gap := starts[i].Sub(ends[i-1])
		assert.GreaterOrEqual(t, gap, interval, "cycle %d started %s after the previous one ended", i+1, gap)
	}
}

func TestScheduler_SurvivesPanickingCycle(t *testing.T) {
	runner := &countingRunner{panics: true}
	s := NewScheduler(runner, 10*time.Millisecond, nil)

	require.True(t, s.Start(context.Background()))
	require.Eventually(t, func() bool { return runner.cycles.Load() >= 2 }, 2*time.Second, 5*time.Millisecond)
	assert.True(t, s.Running())
	require.NoError(t, s.Stop(context.Background()))
}

func TestScheduler_StopsWithParentContext(t *testing.T) {
	runner := &countingRunner{}
	s := NewScheduler(runner, time.Hour, nil)

	ctx, cancel := context.WithCancel(context.Background())
	require.True(t, s.Start(ctx))
	require.Eventually(t, func() bool { return runner.cycles.Load() == 1 }, time.Second, 5*time.Millisecond)

	cancel()
	require.Eventually(t, func() bool { return !s.Running() }, time.Second, 5*time.Millisecond)
}

func TestScheduler_StopBeforeStart(t *testing.T) {
	s := NewScheduler(&countingRunner{}, 0, nil)
	assert.NoError(t, s.Stop(context.Background()))
	assert.False(t, s.Running())
}
