/*

This file contains the pool-engine callback surface: before/after hooks for pool
creation, liquidity changes and swaps. The hooks decode an opaque per-call
payload (tolerating an absent one), run the declared extension chain, and feed
qualifying interactions into the activity recorder. Extensions may veto an
operation or adjust its fee; they can never block reputation recording.

*/

package hooks

import (
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/meridian-dex/rpm/internal/logger"
	"github.com/meridian-dex/rpm/internal/recorder"
	"github.com/meridian-dex/rpm/internal/types"
)

// Hooks is the callback surface the pool engine invokes around its operations.
type Hooks struct {
	logger     zerolog.Logger
	recorder   *recorder.Recorder
	extensions []Extension
}

// Config holds the configuration for creating a new Hooks instance
type Config struct {
	Recorder *recorder.Recorder

	// Extensions run in declared order on every swap.
	Extensions []Extension
}

// NewHooks creates a new Hooks instance with dependency injection
func NewHooks(cfg Config) (*Hooks, error) {
	if cfg.Recorder == nil {
		return nil, fmt.Errorf("recorder cannot be nil")
	}
	return &Hooks{
		logger:     logger.GetForComponent("pool_hooks"),
		recorder:   cfg.Recorder,
		extensions: cfg.Extensions,
	}, nil
}

// DecodePayload decodes the opaque per-call payload the pool engine attaches to a
// hook invocation. An empty payload is legal and means "no attributable user";
// the caller then skips recording.
func DecodePayload(raw []byte) (types.HookPayload, error) {
	if len(raw) == 0 {
		return types.HookPayload{}, nil
	}
	var payload types.HookPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return types.HookPayload{}, fmt.Errorf("failed to decode hook payload: %w", err)
	}
	return payload, nil
}

// BeforeSwap runs the extension chain ahead of a swap. The returned outcome says
// whether any extension vetoed the swap and what fee the swap should charge.
func (h *Hooks) BeforeSwap(ctx *types.HookContext) Outcome {
	outcome := Outcome{FeeBps: ctx.FeeBps}
	for _, ext := range h.extensions {
		decision := h.runBefore(ext, ctx)
		if decision.AdjustFeeBps > 0 {
			outcome.FeeBps = decision.AdjustFeeBps
			ctx.FeeBps = decision.AdjustFeeBps
		}
		if decision.Veto {
			outcome.Vetoed = true
			outcome.VetoedBy = ext.Name()
			outcome.Reason = decision.Reason
			h.logger.Info().
				Str("extension", ext.Name()).
				Str("reason", decision.Reason).
				Msg("Swap vetoed by extension")
			return outcome
		}
	}
	return outcome
}

// AfterSwap runs the extension after-callbacks and records the swap as activity.
// Extension failures are contained: a panicking extension is logged and skipped,
// and recording proceeds regardless.
func (h *Hooks) AfterSwap(ctx types.HookContext) types.RecordResult {
	for _, ext := range h.extensions {
		h.runAfter(ext, &ctx)
	}
	ctx.Kind = types.HookSwap
	return h.recorder.RecordActivity(ctx)
}

// AfterAddLiquidity records a liquidity deposit as activity.
func (h *Hooks) AfterAddLiquidity(ctx types.HookContext) types.RecordResult {
	ctx.Kind = types.HookLiquidityAdd
	return h.recorder.RecordActivity(ctx)
}

// AfterRemoveLiquidity records a liquidity withdrawal as activity.
func (h *Hooks) AfterRemoveLiquidity(ctx types.HookContext) types.RecordResult {
	ctx.Kind = types.HookLiquidityRemove
	return h.recorder.RecordActivity(ctx)
}

// AfterPoolCreate observes pool creation. Nothing is recorded; there is no user
// activity to score yet.
func (h *Hooks) AfterPoolCreate(ctx types.HookContext) {
	h.logger.Info().
		Uint64("poolID", uint64(ctx.Pool.PoolID)).
		Str("token0", ctx.Pool.Token0).
		Str("token1", ctx.Pool.Token1).
		Msg("Pool created")
}

// runBefore invokes one extension's BeforeSwap with panic containment.
func (h *Hooks) runBefore(ext Extension, ctx *types.HookContext) (decision Decision) {
	defer func() {
		if rec := recover(); rec != nil {
			h.logger.Error().
				Str("extension", ext.Name()).
				Interface("panic", rec).
				Msg("Extension panicked in BeforeSwap, skipping")
			decision = Decision{}
		}
	}()
	return ext.BeforeSwap(ctx)
}

// runAfter invokes one extension's AfterSwap with panic containment.
func (h *Hooks) runAfter(ext Extension, ctx *types.HookContext) {
	defer func() {
		if rec := recover(); rec != nil {
			h.logger.Error().
				Str("extension", ext.Name()).
				Interface("panic", rec).
				Msg("Extension panicked in AfterSwap, skipping")
		}
	}()
	ext.AfterSwap(ctx)
}
