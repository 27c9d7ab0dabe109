package recorder

import (
	"testing"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridian-dex/rpm/internal/config"
	"github.com/meridian-dex/rpm/internal/queue"
	"github.com/meridian-dex/rpm/internal/types"
)

type stubRegistration struct {
	registered bool
}

func (s *stubRegistration) Registered() bool { return s.registered }

type recorderFixture struct {
	recorder *Recorder
	queue    *queue.UpdateQueue
	reg      *stubRegistration
	now      *time.Time
}

func newRecorderFixture(t *testing.T) *recorderFixture {
	t.Helper()

	q := queue.NewUpdateQueue()
	reg := &stubRegistration{registered: true}
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	f := &recorderFixture{queue: q, reg: reg, now: &now}
	r, err := NewRecorder(Config{
		Queue:        q,
		Params:       config.DefaultPipelineParameters,
		Registration: reg,
		Now:          func() time.Time { return *f.now },
	})
	require.NoError(t, err)
	f.recorder = r
	return f
}

func swapContext(user string, direction types.Direction) types.HookContext {
	return types.HookContext{
		Kind: types.HookSwap,
		Pool: types.PoolState{
			PoolID:          3,
			Token0:          "uatom",
			Token1:          "uusdc",
			CurrentTick:     50,
			ActiveLiquidity: sdkmath.NewInt(5_000_000),
		},
		Payload: types.HookPayload{
			User:      types.UserID(user),
			TickLower: -500,
			TickUpper: 500,
		},
		TradeAmount:     sdkmath.NewInt(25_000),
		SpecifiedAmount: sdkmath.NewInt(25_000),
		Direction:       direction,
	}
}

func TestRecordActivityAccepted(t *testing.T) {
	f := newRecorderFixture(t)

	result := f.recorder.RecordActivity(swapContext("meridian1alice", types.DirectionZeroForOne))

	require.True(t, result.Accepted)
	require.NotNil(t, result.Record)
	assert.Equal(t, types.UserID("meridian1alice"), result.Record.User)
	assert.Equal(t, types.PoolID(3), result.Record.PoolID)
	assert.True(t, result.Record.Metrics.ActivityScore.IsPositive())
	assert.Equal(t, *f.now, result.Record.RecordedAt)
	assert.Equal(t, 1, f.queue.Len())
}

func TestRecordActivityRejectedWhenNotRegistered(t *testing.T) {
	f := newRecorderFixture(t)
	f.reg.registered = false

	result := f.recorder.RecordActivity(swapContext("meridian1alice", types.DirectionZeroForOne))

	assert.False(t, result.Accepted)
	assert.Equal(t, types.RejectNotRegistered, result.Reason)
	assert.Equal(t, 0, f.queue.Len())
}

func TestRecordActivityRejectedWithoutUser(t *testing.T) {
	f := newRecorderFixture(t)

	ctx := swapContext("", types.DirectionZeroForOne)
	result := f.recorder.RecordActivity(ctx)

	assert.False(t, result.Accepted)
	assert.Equal(t, types.RejectNoUser, result.Reason)
	assert.Equal(t, 0, f.queue.Len())
}

func TestCooldownAllowsAtMostOnePerWindow(t *testing.T) {
	f := newRecorderFixture(t)

	first := f.recorder.RecordActivity(swapContext("meridian1alice", types.DirectionZeroForOne))
	require.True(t, first.Accepted)

	// Same user, same direction, inside the window.
	second := f.recorder.RecordActivity(swapContext("meridian1alice", types.DirectionZeroForOne))
	assert.False(t, second.Accepted)
	assert.Equal(t, types.RejectCooldown, second.Reason)
	assert.Equal(t, 1, f.queue.Len())

	// The opposite direction cools down independently.
	opposite := f.recorder.RecordActivity(swapContext("meridian1alice", types.DirectionOneForZero))
	assert.True(t, opposite.Accepted)

	// Another user is unaffected.
	other := f.recorder.RecordActivity(swapContext("meridian1bob", types.DirectionZeroForOne))
	assert.True(t, other.Accepted)
	assert.Equal(t, 3, f.queue.Len())
}

func TestCooldownExpires(t *testing.T) {
	f := newRecorderFixture(t)
	period := config.DefaultPipelineParameters.CooldownPeriod

	require.True(t, f.recorder.RecordActivity(swapContext("meridian1alice", types.DirectionZeroForOne)).Accepted)

	// One second short of the window still rejects.
	*f.now = f.now.Add(period - time.Second)
	assert.False(t, f.recorder.RecordActivity(swapContext("meridian1alice", types.DirectionZeroForOne)).Accepted)

	// At exactly the boundary the pair is ready again.
	*f.now = f.now.Add(time.Second)
	assert.True(t, f.recorder.RecordActivity(swapContext("meridian1alice", types.DirectionZeroForOne)).Accepted)
	assert.Equal(t, 2, f.queue.Len())
}

func TestRecordActivityRejectedOnBadPoolState(t *testing.T) {
	f := newRecorderFixture(t)

	ctx := swapContext("meridian1alice", types.DirectionZeroForOne)
	ctx.Pool.ActiveLiquidity = sdkmath.Int{}

	result := f.recorder.RecordActivity(ctx)
	assert.False(t, result.Accepted)
	assert.Equal(t, types.RejectBadPoolState, result.Reason)
	assert.Equal(t, 0, f.queue.Len())

	// A failed recording does not consume the cooldown.
	good := f.recorder.RecordActivity(swapContext("meridian1alice", types.DirectionZeroForOne))
	assert.True(t, good.Accepted)
}

func TestCooldownTrackerLast(t *testing.T) {
	f := newRecorderFixture(t)

	assert.True(t, f.recorder.Cooldowns().Last("meridian1alice", types.DirectionZeroForOne).IsZero())

	require.True(t, f.recorder.RecordActivity(swapContext("meridian1alice", types.DirectionZeroForOne)).Accepted)
	assert.Equal(t, *f.now, f.recorder.Cooldowns().Last("meridian1alice", types.DirectionZeroForOne))
}
