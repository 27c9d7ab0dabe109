package hooks

import (
	"testing"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridian-dex/rpm/internal/config"
	"github.com/meridian-dex/rpm/internal/queue"
	"github.com/meridian-dex/rpm/internal/recorder"
	"github.com/meridian-dex/rpm/internal/types"
)

type stubRegistration struct{}

func (stubRegistration) Registered() bool { return true }

type panickingExtension struct{}

func (panickingExtension) Name() string                               { return "panicking" }
func (panickingExtension) BeforeSwap(ctx *types.HookContext) Decision { panic("boom") }
func (panickingExtension) AfterSwap(ctx *types.HookContext)           { panic("boom") }

func newHooksFixture(t *testing.T, extensions ...Extension) (*Hooks, *queue.UpdateQueue) {
	t.Helper()

	q := queue.NewUpdateQueue()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	rec, err := recorder.NewRecorder(recorder.Config{
		Queue:        q,
		Params:       config.DefaultPipelineParameters,
		Registration: stubRegistration{},
		Now:          func() time.Time { return now },
	})
	require.NoError(t, err)

	h, err := NewHooks(Config{Recorder: rec, Extensions: extensions})
	require.NoError(t, err)
	return h, q
}

func swapContext(user string, tick int32) types.HookContext {
	return types.HookContext{
		Kind: types.HookSwap,
		Pool: types.PoolState{
			PoolID:          7,
			Token0:          "uatom",
			Token1:          "uusdc",
			CurrentTick:     tick,
			ActiveLiquidity: sdkmath.NewInt(5_000_000),
		},
		Payload: types.HookPayload{
			User:      types.UserID(user),
			TickLower: -500,
			TickUpper: 500,
		},
		TradeAmount:     sdkmath.NewInt(25_000),
		SpecifiedAmount: sdkmath.NewInt(25_000),
		Direction:       types.DirectionZeroForOne,
		FeeBps:          30,
	}
}

func TestBeforeSwapRegionVeto(t *testing.T) {
	h, _ := newHooksFixture(t, RegionFilter{Label: "core_region", MinTick: -100, MaxTick: 100})

	ctx := swapContext("meridian1alice", 250)
	outcome := h.BeforeSwap(&ctx)

	assert.True(t, outcome.Vetoed)
	assert.Equal(t, "core_region", outcome.VetoedBy)
	assert.Equal(t, "tick outside permitted region", outcome.Reason)

	ctx = swapContext("meridian1alice", 50)
	outcome = h.BeforeSwap(&ctx)
	assert.False(t, outcome.Vetoed)
	assert.Equal(t, 30, outcome.FeeBps)
}

func TestBeforeSwapFeeAdjustment(t *testing.T) {
	h, _ := newHooksFixture(t, ConditionalFilter{
		Label: "large_trade_surcharge",
		Condition: func(ctx *types.HookContext) Decision {
			if ctx.TradeAmount.GT(sdkmath.NewInt(10_000)) {
				return Decision{AdjustFeeBps: 45}
			}
			return Decision{}
		},
	})

	ctx := swapContext("meridian1alice", 0)
	outcome := h.BeforeSwap(&ctx)

	assert.False(t, outcome.Vetoed)
	assert.Equal(t, 45, outcome.FeeBps)
	assert.Equal(t, 45, ctx.FeeBps)
}

func TestBeforeSwapChainStopsAtFirstVeto(t *testing.T) {
	var secondRan bool
	h, _ := newHooksFixture(t, ChainedFilter{
		Label: "stack",
		Inner: []Extension{
			ConditionalFilter{Label: "veto_all", Condition: func(*types.HookContext) Decision {
				return Decision{Veto: true, Reason: "blocked"}
			}},
			ConditionalFilter{Label: "never_reached", Condition: func(*types.HookContext) Decision {
				secondRan = true
				return Decision{}
			}},
		},
	})

	ctx := swapContext("meridian1alice", 0)
	outcome := h.BeforeSwap(&ctx)

	assert.True(t, outcome.Vetoed)
	assert.Equal(t, "stack", outcome.VetoedBy)
	assert.Equal(t, "blocked", outcome.Reason)
	assert.False(t, secondRan)
}

func TestExtensionPanicIsContained(t *testing.T) {
	h, q := newHooksFixture(t, panickingExtension{})

	ctx := swapContext("meridian1alice", 0)
	outcome := h.BeforeSwap(&ctx)
	assert.False(t, outcome.Vetoed)

	// Recording proceeds even though the extension panics in AfterSwap too.
	result := h.AfterSwap(swapContext("meridian1alice", 0))
	require.True(t, result.Accepted)
	assert.Equal(t, 1, q.Len())
}

func TestAfterSwapRecordsActivity(t *testing.T) {
	h, q := newHooksFixture(t)

	result := h.AfterSwap(swapContext("meridian1alice", 0))

	require.True(t, result.Accepted)
	require.NotNil(t, result.Record)
	assert.Equal(t, types.UserID("meridian1alice"), result.Record.User)
	assert.Equal(t, 1, q.Len())
}

func TestAfterLiquidityHooksRecord(t *testing.T) {
	h, q := newHooksFixture(t)

	add := h.AfterAddLiquidity(swapContext("meridian1alice", 0))
	require.True(t, add.Accepted)

	remove := h.AfterRemoveLiquidity(swapContext("meridian1bob", 0))
	require.True(t, remove.Accepted)

	assert.Equal(t, 2, q.Len())
}

func TestAfterPoolCreateRecordsNothing(t *testing.T) {
	h, q := newHooksFixture(t)

	h.AfterPoolCreate(swapContext("", 0))
	assert.Equal(t, 0, q.Len())
}

func TestDecodePayload(t *testing.T) {
	payload, err := DecodePayload(nil)
	require.NoError(t, err)
	assert.Empty(t, payload.User)

	payload, err = DecodePayload([]byte(`{"user":"meridian1alice","tick_lower":-10,"tick_upper":20}`))
	require.NoError(t, err)
	assert.Equal(t, types.UserID("meridian1alice"), payload.User)
	assert.Equal(t, int32(-10), payload.TickLower)
	assert.Equal(t, int32(20), payload.TickUpper)

	_, err = DecodePayload([]byte("not json"))
	assert.Error(t, err)
}
