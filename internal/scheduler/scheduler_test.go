package scheduler

import (
	"testing"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridian-dex/rpm/internal/queue"
	"github.com/meridian-dex/rpm/internal/types"
)

type stubRegistration struct {
	registered bool
}

func (s *stubRegistration) Registered() bool { return s.registered }

type schedulerFixture struct {
	scheduler *Scheduler
	queue     *queue.UpdateQueue
	reg       *stubRegistration
	now       *time.Time
}

func newSchedulerFixture(t *testing.T, interval time.Duration) *schedulerFixture {
	t.Helper()

	q := queue.NewUpdateQueue()
	reg := &stubRegistration{registered: true}
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	f := &schedulerFixture{queue: q, reg: reg, now: &now}
	s, err := NewScheduler(Config{
		Queue:        q,
		Registration: reg,
		Interval:     interval,
		Now:          func() time.Time { return *f.now },
	})
	require.NoError(t, err)
	f.scheduler = s
	return f
}

func (f *schedulerFixture) enqueue() {
	f.queue.Enqueue(types.ActivityRecord{
		User:  "meridian1alice",
		Trade: types.TradeInfo{TradeAmount: sdkmath.NewInt(1), SpecifiedAmount: sdkmath.NewInt(1)},
	})
}

func TestCheckReadyNotRegisteredIsLoud(t *testing.T) {
	f := newSchedulerFixture(t, time.Minute)
	f.reg.registered = false
	f.enqueue()

	ready, err := f.scheduler.CheckReady()
	assert.False(t, ready)
	assert.ErrorIs(t, err, ErrNotRegistered)
}

func TestCheckReadyEmptyQueueIsSilent(t *testing.T) {
	f := newSchedulerFixture(t, time.Minute)

	ready, err := f.scheduler.CheckReady()
	assert.False(t, ready)
	assert.NoError(t, err)
}

func TestCheckReadyIntervalGate(t *testing.T) {
	f := newSchedulerFixture(t, time.Minute)
	f.enqueue()

	// Never executed: immediately ready.
	ready, err := f.scheduler.CheckReady()
	require.NoError(t, err)
	assert.True(t, ready)

	f.scheduler.MarkExecuted()

	ready, err = f.scheduler.CheckReady()
	require.NoError(t, err)
	assert.False(t, ready)

	*f.now = f.now.Add(59 * time.Second)
	ready, _ = f.scheduler.CheckReady()
	assert.False(t, ready)

	*f.now = f.now.Add(time.Second)
	ready, err = f.scheduler.CheckReady()
	require.NoError(t, err)
	assert.True(t, ready)
}

func TestCheckReadyIsPure(t *testing.T) {
	f := newSchedulerFixture(t, time.Minute)
	f.enqueue()

	for i := 0; i < 5; i++ {
		ready, err := f.scheduler.CheckReady()
		require.NoError(t, err)
		assert.True(t, ready)
	}
	assert.Equal(t, 1, f.queue.Len())
	assert.True(t, f.scheduler.LastAutomatedUpdate().IsZero())
}

func TestStateMachine(t *testing.T) {
	f := newSchedulerFixture(t, time.Minute)

	assert.Equal(t, StateIdle, f.scheduler.State())

	f.enqueue()
	assert.Equal(t, StateReadyToFlush, f.scheduler.State())

	f.scheduler.MarkExecuted()
	assert.Equal(t, StateIdle, f.scheduler.State())

	// A not-registered scheduler reads as idle, never ready.
	f.reg.registered = false
	*f.now = f.now.Add(2 * time.Minute)
	assert.Equal(t, StateIdle, f.scheduler.State())
}

func TestMarkExecutedResetsUnconditionally(t *testing.T) {
	f := newSchedulerFixture(t, time.Minute)

	// Even with an empty queue a mark counts as an automation cycle.
	f.scheduler.MarkExecuted()
	assert.Equal(t, *f.now, f.scheduler.LastAutomatedUpdate())

	*f.now = f.now.Add(30 * time.Second)
	f.scheduler.MarkExecuted()
	assert.Equal(t, *f.now, f.scheduler.LastAutomatedUpdate())
}
